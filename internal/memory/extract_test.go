package memory

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractSiteRecordsCompanyToo(t *testing.T) {
	m := New()
	m.Extract("get_site", []byte(`{
		"success": true,
		"data": {
			"id": "site-1",
			"name": "Bangna DC",
			"province": "Samut Prakan",
			"company": {"id": "co-1", "name": "Acme Logistics"}
		}
	}`))

	require.Contains(t, m.Sites, "site-1")
	site := m.Sites["site-1"]
	assert.Equal(t, "Bangna DC", site.Name)
	assert.Equal(t, "co-1", site.CompanyID)
	assert.Equal(t, "Acme Logistics", site.CompanyName)

	require.Contains(t, m.Companies, "co-1")
	assert.Equal(t, "Acme Logistics", m.Companies["co-1"].Name)
	assert.False(t, m.UpdatedAt.IsZero())
}

func TestExtractSiteFlatCompanyFields(t *testing.T) {
	m := New()
	m.Extract("search_sites", []byte(`{"data": [
		{"id": "site-2", "name": "Rayong Plant", "company_id": "co-2", "company_name": "PTT"}
	]}`))

	assert.Equal(t, "co-2", m.Sites["site-2"].CompanyID)
	assert.Contains(t, m.Companies, "co-2")
}

func TestExtractTicketSearchResults(t *testing.T) {
	m := New()
	m.Extract("search_tickets", []byte(`{"success": true, "data": [
		{"id": "t-1", "ticket_number": "TK-1001", "title": "AC repair", "status": "open", "work_type": "PM", "province": "Chonburi", "site_id": "site-1"},
		{"id": "t-2", "number": "TK-1002", "status": "closed"}
	]}`))

	require.Len(t, m.Tickets, 2)
	assert.Equal(t, "TK-1001", m.Tickets["t-1"].Number)
	assert.Equal(t, "AC repair", m.Tickets["t-1"].Title)
	assert.Equal(t, "site-1", m.Tickets["t-1"].SiteID)
	// Fallback to "number" when "ticket_number" is absent.
	assert.Equal(t, "TK-1002", m.Tickets["t-2"].Number)
}

func TestExtractEmployeeRoleFallback(t *testing.T) {
	m := New()
	m.Extract("get_employee", []byte(`{"id": "e-1", "name": "Somchai", "position": "technician"}`))

	require.Contains(t, m.Employees, "e-1")
	assert.Equal(t, "technician", m.Employees["e-1"].Role)
}

func TestExtractBareArrayPayload(t *testing.T) {
	m := New()
	m.Extract("search_companies", []byte(`[{"id": "co-1", "name": "Acme"}, {"id": "co-2", "name": "Beta"}]`))

	assert.Len(t, m.Companies, 2)
}

func TestExtractPlanRouteStops(t *testing.T) {
	m := New()
	m.Extract("plan_route", []byte(`{"data": {
		"distance_km": 42,
		"stops": [
			{"code": "101", "name": "Hub A", "province": "Bangkok"},
			{"location_code": "205", "name": "Hub B"}
		]
	}}`))

	require.Len(t, m.Locations, 2)
	assert.Equal(t, "Hub A", m.Locations["101"].Name)
	assert.Equal(t, "Hub B", m.Locations["205"].Name)
}

func TestExtractLastWriteWins(t *testing.T) {
	m := New()
	m.Extract("get_ticket", []byte(`{"id": "t-1", "status": "open"}`))
	m.Extract("update_ticket", []byte(`{"id": "t-1", "status": "closed"}`))

	assert.Equal(t, "closed", m.Tickets["t-1"].Status)
	assert.Len(t, m.Tickets, 1)
}

func TestExtractIgnoresUnknownTool(t *testing.T) {
	m := New()
	m.Extract("get_weather", []byte(`{"id": "x-1", "name": "should not appear"}`))
	assert.Zero(t, m.Count())
	assert.True(t, m.UpdatedAt.IsZero())
}

func TestExtractIgnoresMalformedPayloads(t *testing.T) {
	m := New()
	m.Extract("search_sites", nil)
	m.Extract("search_sites", []byte(`not json at all`))
	m.Extract("search_sites", []byte(`null`))
	m.Extract("search_sites", []byte(`"just a string"`))
	m.Extract("search_sites", []byte(`{"data": 42}`))
	// Records without an id are skipped.
	m.Extract("search_sites", []byte(`{"data": [{"name": "nameless"}]}`))

	assert.Zero(t, m.Count())
	assert.True(t, m.UpdatedAt.IsZero())
}

func TestExtractIdempotent(t *testing.T) {
	payload := []byte(`{"data": [{"id": "site-1", "name": "Bangna DC"}]}`)
	m := New()
	m.Extract("search_sites", payload)
	m.Extract("search_sites", payload)

	assert.Len(t, m.Sites, 1)
	assert.Equal(t, 1, m.Count())
}

func TestExtractFromUserTextPreferences(t *testing.T) {
	m := New()
	m.ExtractFromUserText("I prefer morning appointments")
	assert.Equal(t, "I prefer morning appointments", m.Preferences["likes"])

	m.ExtractFromUserText("call me Lek")
	assert.Equal(t, "call me Lek", m.Preferences["preferred_name"])

	m.ExtractFromUserText("ปกติเข้างานแปดโมง")
	assert.Equal(t, "ปกติเข้างานแปดโมง", m.Preferences["habit"])
}

func TestExtractFromUserTextNegationGuard(t *testing.T) {
	m := New()
	m.ExtractFromUserText("ไม่ชอบให้โทรมาตอนเช้า")

	assert.Equal(t, "ไม่ชอบให้โทรมาตอนเช้า", m.Preferences["dislikes"])
	assert.NotContains(t, m.Preferences, "likes")
}

func TestExtractFromUserTextCapsLength(t *testing.T) {
	long := "usually " + strings.Repeat("x", 200)
	m := New()
	m.ExtractFromUserText(long)

	require.Contains(t, m.Preferences, "habit")
	assert.Len(t, []rune(m.Preferences["habit"]), maxPreferenceLength)
}

func TestExtractFromUserTextNoMarkerIsNoOp(t *testing.T) {
	m := New()
	m.ExtractFromUserText("ตั๋ว TK-1001 สถานะอะไร")
	m.ExtractFromUserText("   ")

	assert.Empty(t, m.Preferences)
	assert.True(t, m.UpdatedAt.IsZero())
}
