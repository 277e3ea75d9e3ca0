// Package memory implements the cross-turn entity memory: typed maps of
// domain objects (sites, companies, employees, tickets, locations)
// referenced during a conversation, plus free-form user preferences.
//
// Entity memory lets the model reference truncated ids and avoids redundant
// tool calls. It is owned by a session: snapshots persisted with the session
// must be cloned, never aliased, so compression of a historical snapshot
// cannot mutate the live conversation.
package memory

import (
	"time"
)

// Site is a denormalized projection of a customer site.
type Site struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	CompanyID   string `json:"companyId,omitempty"`
	CompanyName string `json:"companyName,omitempty"`
	Province    string `json:"province,omitempty"`
}

// Company is a denormalized projection of a customer company.
type Company struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Employee is a denormalized projection of a field employee.
type Employee struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
}

// Ticket is a denormalized projection of a service ticket.
type Ticket struct {
	ID       string `json:"id"`
	Number   string `json:"number,omitempty"`
	Title    string `json:"title,omitempty"`
	Status   string `json:"status,omitempty"`
	WorkType string `json:"workType,omitempty"`
	Province string `json:"province,omitempty"`
	SiteID   string `json:"siteId,omitempty"`
}

// Location is a denormalized projection of a service location, keyed by its
// numeric location code (kept as a string key for JSON round-trips).
type Location struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Province string `json:"province,omitempty"`
}

// Memory is the per-session entity memory. Keys are unique per map; merges
// overwrite rather than duplicate, and no history of prior values is kept.
type Memory struct {
	Sites       map[string]Site     `json:"sites"`
	Companies   map[string]Company  `json:"companies"`
	Employees   map[string]Employee `json:"employees"`
	Tickets     map[string]Ticket   `json:"tickets"`
	Locations   map[string]Location `json:"locations"`
	Preferences map[string]string   `json:"preferences"`
	UpdatedAt   time.Time           `json:"updatedAt"`
}

// New returns an empty entity memory with all maps allocated.
func New() *Memory {
	return &Memory{
		Sites:       make(map[string]Site),
		Companies:   make(map[string]Company),
		Employees:   make(map[string]Employee),
		Tickets:     make(map[string]Ticket),
		Locations:   make(map[string]Location),
		Preferences: make(map[string]string),
	}
}

// ensure allocates any nil maps. Memory deserialized from JSON may omit
// empty maps; ensure keeps the write paths nil-safe.
func (m *Memory) ensure() {
	if m.Sites == nil {
		m.Sites = make(map[string]Site)
	}
	if m.Companies == nil {
		m.Companies = make(map[string]Company)
	}
	if m.Employees == nil {
		m.Employees = make(map[string]Employee)
	}
	if m.Tickets == nil {
		m.Tickets = make(map[string]Ticket)
	}
	if m.Locations == nil {
		m.Locations = make(map[string]Location)
	}
	if m.Preferences == nil {
		m.Preferences = make(map[string]string)
	}
}

// Clone returns a deep copy. Used at compression and persistence boundaries
// so a snapshot never shares map storage with the live session.
func (m *Memory) Clone() *Memory {
	if m == nil {
		return New()
	}
	out := New()
	for k, v := range m.Sites {
		out.Sites[k] = v
	}
	for k, v := range m.Companies {
		out.Companies[k] = v
	}
	for k, v := range m.Employees {
		out.Employees[k] = v
	}
	for k, v := range m.Tickets {
		out.Tickets[k] = v
	}
	for k, v := range m.Locations {
		out.Locations[k] = v
	}
	for k, v := range m.Preferences {
		out.Preferences[k] = v
	}
	out.UpdatedAt = m.UpdatedAt
	return out
}

// Count returns the number of tracked entities across all maps,
// excluding preferences.
func (m *Memory) Count() int {
	if m == nil {
		return 0
	}
	return len(m.Sites) + len(m.Companies) + len(m.Employees) +
		len(m.Tickets) + len(m.Locations)
}

// Merge folds other into m, last write winning per key.
func (m *Memory) Merge(other *Memory) {
	if other == nil {
		return
	}
	m.ensure()
	for k, v := range other.Sites {
		m.Sites[k] = v
	}
	for k, v := range other.Companies {
		m.Companies[k] = v
	}
	for k, v := range other.Employees {
		m.Employees[k] = v
	}
	for k, v := range other.Tickets {
		m.Tickets[k] = v
	}
	for k, v := range other.Locations {
		m.Locations[k] = v
	}
	for k, v := range other.Preferences {
		m.Preferences[k] = v
	}
	if other.UpdatedAt.After(m.UpdatedAt) {
		m.UpdatedAt = other.UpdatedAt
	}
}
