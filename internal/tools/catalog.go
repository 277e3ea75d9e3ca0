package tools

import (
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// Argument shapes for the field-service tool catalog. Schemas are derived
// from these structs so the catalog and the wire contract cannot drift.

type searchTicketsArgs struct {
	Query    string `json:"query,omitempty" jsonschema:"free-text search over ticket titles and descriptions"`
	Status   string `json:"status,omitempty" jsonschema:"filter by status: open, in_progress, done, cancelled"`
	Province string `json:"province,omitempty" jsonschema:"filter by Thai province name"`
	SiteID   string `json:"siteId,omitempty" jsonschema:"filter by site id"`
}

type getTicketArgs struct {
	TicketID string `json:"ticketId" jsonschema:"ticket id or ticket number"`
}

type createTicketArgs struct {
	Title    string `json:"title" jsonschema:"short ticket title"`
	SiteID   string `json:"siteId" jsonschema:"site the work happens at"`
	WorkType string `json:"workType,omitempty" jsonschema:"work type: install, repair, survey, pm"`
	Detail   string `json:"detail,omitempty" jsonschema:"longer description of the work"`
}

type updateTicketArgs struct {
	TicketID string `json:"ticketId" jsonschema:"ticket id to update"`
	Status   string `json:"status,omitempty" jsonschema:"new status"`
	Assignee string `json:"assignee,omitempty" jsonschema:"employee id to assign"`
	Note     string `json:"note,omitempty" jsonschema:"progress note to append"`
}

type searchSitesArgs struct {
	Query    string `json:"query,omitempty" jsonschema:"free-text search over site names"`
	Province string `json:"province,omitempty" jsonschema:"filter by Thai province name"`
}

type getSiteArgs struct {
	SiteID string `json:"siteId" jsonschema:"site id"`
}

type searchCompaniesArgs struct {
	Query string `json:"query" jsonschema:"free-text search over company names"`
}

type getCompanyArgs struct {
	CompanyID string `json:"companyId" jsonschema:"company id"`
}

type searchEmployeesArgs struct {
	Query string `json:"query,omitempty" jsonschema:"free-text search over employee names"`
	Role  string `json:"role,omitempty" jsonschema:"filter by role: technician, supervisor, driver"`
}

type getEmployeeArgs struct {
	EmployeeID string `json:"employeeId" jsonschema:"employee id"`
}

type searchLocationsArgs struct {
	Query string `json:"query" jsonschema:"location name or code"`
}

type planRouteArgs struct {
	SiteIDs []string `json:"siteIds" jsonschema:"site ids to visit, in any order"`
	Date    string   `json:"date,omitempty" jsonschema:"service date, YYYY-MM-DD"`
}

// DefaultRegistry builds the registry with the full field-service catalog.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.Register(Definition{
		Name:        "search_tickets",
		Description: "Search work tickets by text, status, province, or site",
		Parameters:  mustSchema[searchTicketsArgs](),
		Describe: func(args map[string]any) string {
			return fmt.Sprintf("Search tickets matching %q", str(args, "query"))
		},
	})
	r.Register(Definition{
		Name:        "get_ticket",
		Description: "Get one ticket by id or ticket number",
		Parameters:  mustSchema[getTicketArgs](),
		Describe: func(args map[string]any) string {
			return fmt.Sprintf("Look up ticket %s", str(args, "ticketId"))
		},
	})
	r.Register(Definition{
		Name:                 "create_ticket",
		Description:          "Create a new work ticket",
		Parameters:           mustSchema[createTicketArgs](),
		RequiresConfirmation: true,
		Describe: func(args map[string]any) string {
			return fmt.Sprintf("Create ticket %q at site %s", str(args, "title"), str(args, "siteId"))
		},
	})
	r.Register(Definition{
		Name:                 "update_ticket",
		Description:          "Update a ticket's status, assignee, or notes",
		Parameters:           mustSchema[updateTicketArgs](),
		RequiresConfirmation: true,
		Describe: func(args map[string]any) string {
			desc := fmt.Sprintf("Update ticket %s", str(args, "ticketId"))
			if status := str(args, "status"); status != "" {
				desc += fmt.Sprintf(" to status %s", status)
			}
			return desc
		},
	})
	r.Register(Definition{
		Name:        "search_sites",
		Description: "Search service sites by name or province",
		Parameters:  mustSchema[searchSitesArgs](),
		Describe: func(args map[string]any) string {
			return fmt.Sprintf("Search sites matching %q", str(args, "query"))
		},
	})
	r.Register(Definition{
		Name:        "get_site",
		Description: "Get one site by id",
		Parameters:  mustSchema[getSiteArgs](),
		Describe: func(args map[string]any) string {
			return fmt.Sprintf("Look up site %s", str(args, "siteId"))
		},
	})
	r.Register(Definition{
		Name:        "search_companies",
		Description: "Search customer companies by name",
		Parameters:  mustSchema[searchCompaniesArgs](),
		Describe: func(args map[string]any) string {
			return fmt.Sprintf("Search companies matching %q", str(args, "query"))
		},
	})
	r.Register(Definition{
		Name:        "get_company",
		Description: "Get one company by id",
		Parameters:  mustSchema[getCompanyArgs](),
		Describe: func(args map[string]any) string {
			return fmt.Sprintf("Look up company %s", str(args, "companyId"))
		},
	})
	r.Register(Definition{
		Name:        "search_employees",
		Description: "Search field employees by name or role",
		Parameters:  mustSchema[searchEmployeesArgs](),
		Describe: func(args map[string]any) string {
			return fmt.Sprintf("Search employees matching %q", str(args, "query"))
		},
	})
	r.Register(Definition{
		Name:        "get_employee",
		Description: "Get one employee by id",
		Parameters:  mustSchema[getEmployeeArgs](),
		Describe: func(args map[string]any) string {
			return fmt.Sprintf("Look up employee %s", str(args, "employeeId"))
		},
	})
	r.Register(Definition{
		Name:        "search_locations",
		Description: "Search known locations by name or code",
		Parameters:  mustSchema[searchLocationsArgs](),
		Describe: func(args map[string]any) string {
			return fmt.Sprintf("Search locations matching %q", str(args, "query"))
		},
	})
	r.Register(Definition{
		Name:        "plan_route",
		Description: "Plan a service route visiting the given sites",
		Parameters:  mustSchema[planRouteArgs](),
		Describe: func(args map[string]any) string {
			if stops, ok := args["siteIds"].([]any); ok {
				return fmt.Sprintf("Plan a route over %d sites", len(stops))
			}
			return "Plan a service route"
		},
	})

	return r
}

// IDArgumentFields lists argument keys that carry entity ids the model may
// have truncated; the orchestrator resolves them through a Directory before
// execution.
var IDArgumentFields = []string{"siteId", "companyId", "employeeId", "ticketId"}

func mustSchema[T any]() *jsonschema.Schema {
	schema, err := jsonschema.For[T](nil)
	if err != nil {
		panic(err)
	}
	return schema
}

func str(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}
