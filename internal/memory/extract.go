package memory

import (
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Extract projects a tool result into entity memory. Each known tool has a
// dedicated projection rule; unknown tools and malformed payloads are
// ignored silently. Merge policy is last write wins per key.
func (m *Memory) Extract(toolName string, result []byte) {
	if len(result) == 0 {
		return
	}
	m.ensure()

	records := resultRecords(result)
	if len(records) == 0 {
		return
	}

	touched := false
	for _, rec := range records {
		switch toolName {
		case "search_sites", "get_site":
			touched = m.extractSite(rec) || touched
		case "search_companies", "get_company":
			touched = m.extractCompany(rec) || touched
		case "search_employees", "get_employee":
			touched = m.extractEmployee(rec) || touched
		case "search_tickets", "get_ticket", "create_ticket", "update_ticket":
			touched = m.extractTicket(rec) || touched
		case "search_locations", "plan_route":
			touched = m.extractLocation(rec) || touched
		}
	}

	if touched {
		m.UpdatedAt = time.Now()
	}
}

// resultRecords normalizes a tool payload into record values. Payloads come
// as {success, data: [...]}, {data: {...}}, a bare array, or a bare object.
func resultRecords(result []byte) []gjson.Result {
	root := gjson.ParseBytes(result)
	if !root.Exists() || root.Type == gjson.Null {
		return nil
	}

	value := root.Get("data")
	if !value.Exists() {
		value = root
	}

	switch {
	case value.IsArray():
		return value.Array()
	case value.IsObject():
		// plan_route nests its result under stops.
		if stops := value.Get("stops"); stops.IsArray() {
			return stops.Array()
		}
		return []gjson.Result{value}
	default:
		return nil
	}
}

func (m *Memory) extractSite(rec gjson.Result) bool {
	id := rec.Get("id").String()
	if id == "" {
		return false
	}
	site := Site{
		ID:       id,
		Name:     rec.Get("name").String(),
		Province: rec.Get("province").String(),
	}
	if company := rec.Get("company"); company.IsObject() {
		site.CompanyID = company.Get("id").String()
		site.CompanyName = company.Get("name").String()
	} else {
		site.CompanyID = rec.Get("company_id").String()
		site.CompanyName = rec.Get("company_name").String()
	}
	m.Sites[id] = site

	// A site result that names its company tracks the company too.
	if site.CompanyID != "" {
		m.Companies[site.CompanyID] = Company{ID: site.CompanyID, Name: site.CompanyName}
	}
	return true
}

func (m *Memory) extractCompany(rec gjson.Result) bool {
	id := rec.Get("id").String()
	if id == "" {
		return false
	}
	m.Companies[id] = Company{
		ID:   id,
		Name: rec.Get("name").String(),
	}
	return true
}

func (m *Memory) extractEmployee(rec gjson.Result) bool {
	id := rec.Get("id").String()
	if id == "" {
		return false
	}
	role := rec.Get("role").String()
	if role == "" {
		role = rec.Get("position").String()
	}
	m.Employees[id] = Employee{
		ID:   id,
		Name: rec.Get("name").String(),
		Role: role,
	}
	return true
}

func (m *Memory) extractTicket(rec gjson.Result) bool {
	id := rec.Get("id").String()
	if id == "" {
		return false
	}
	number := rec.Get("ticket_number").String()
	if number == "" {
		number = rec.Get("number").String()
	}
	m.Tickets[id] = Ticket{
		ID:       id,
		Number:   number,
		Title:    rec.Get("title").String(),
		Status:   rec.Get("status").String(),
		WorkType: rec.Get("work_type").String(),
		Province: rec.Get("province").String(),
		SiteID:   rec.Get("site_id").String(),
	}
	return true
}

func (m *Memory) extractLocation(rec gjson.Result) bool {
	code := rec.Get("code").String()
	if code == "" {
		code = rec.Get("location_code").String()
	}
	if code == "" {
		return false
	}
	m.Locations[code] = Location{
		Code:     code,
		Name:     rec.Get("name").String(),
		Province: rec.Get("province").String(),
	}
	return true
}

// preferenceMarkers map a phrase that signals a durable user preference to
// the key it is stored under. Thai first, English mixed in, matching how
// technicians actually type.
var preferenceMarkers = []struct {
	marker string
	key    string
}{
	{"ชอบ", "likes"},
	{"ไม่ชอบ", "dislikes"},
	{"ปกติ", "habit"},
	{"เรียกฉันว่า", "preferred_name"},
	{"เรียกผมว่า", "preferred_name"},
	{"i prefer", "likes"},
	{"i like", "likes"},
	{"i don't like", "dislikes"},
	{"call me", "preferred_name"},
	{"usually", "habit"},
	{"always", "habit"},
}

// maxPreferenceLength bounds how much of a sentence is kept per preference.
const maxPreferenceLength = 120

// ExtractFromUserText scans free text for preference statements and records
// them. Last write wins per key; text without a marker is a no-op.
func (m *Memory) ExtractFromUserText(text string) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return
	}
	m.ensure()

	lower := strings.ToLower(trimmed)
	touched := false
	for _, pm := range preferenceMarkers {
		// "ไม่ชอบ" contains "ชอบ"; match the negation first.
		if pm.key == "likes" && strings.Contains(lower, "ไม่ชอบ") {
			continue
		}
		if !strings.Contains(lower, pm.marker) {
			continue
		}
		value := trimmed
		if runes := []rune(value); len(runes) > maxPreferenceLength {
			value = string(runes[:maxPreferenceLength])
		}
		m.Preferences[pm.key] = value
		touched = true
	}

	if touched {
		m.UpdatedAt = time.Now()
	}
}
