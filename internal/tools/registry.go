package tools

import (
	"encoding/json"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/fieldops/assistant/internal/llm"
)

// Definition describes one callable tool: its schema toward the model and
// its confirmation policy toward the user.
type Definition struct {
	Name        string
	Description string
	Parameters  *jsonschema.Schema

	// RequiresConfirmation marks tools that mutate platform state; their
	// calls suspend the turn until the user approves them.
	RequiresConfirmation bool

	// Describe renders a human-readable one-liner for the confirmation
	// prompt, given the call's decoded arguments. Nil falls back to
	// Description.
	Describe func(args map[string]any) string
}

// Registry holds the tool catalog. Registration happens once at startup;
// lookups after that are read-only, so no locking is needed.
type Registry struct {
	byName []Definition
	index  map[string]int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[string]int)}
}

// Register adds a definition, replacing any earlier one with the same name.
func (r *Registry) Register(def Definition) {
	if i, ok := r.index[def.Name]; ok {
		r.byName[i] = def
		return
	}
	r.index[def.Name] = len(r.byName)
	r.byName = append(r.byName, def)
}

// Get returns the definition for name.
func (r *Registry) Get(name string) (Definition, bool) {
	i, ok := r.index[name]
	if !ok {
		return Definition{}, false
	}
	return r.byName[i], true
}

// All returns the definitions in registration order.
func (r *Registry) All() []Definition {
	out := make([]Definition, len(r.byName))
	copy(out, r.byName)
	return out
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	return len(r.byName)
}

// ModelTools converts the catalog into the wire shape of a chat request.
func (r *Registry) ModelTools() []llm.Tool {
	out := make([]llm.Tool, 0, len(r.byName))
	for _, def := range r.byName {
		out = append(out, llm.Tool{
			Type: "function",
			Function: llm.ToolFunction{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		})
	}
	return out
}

// DescribeCall renders the confirmation one-liner for a call with raw JSON
// arguments. Undecodable arguments fall back to the static description.
func (r *Registry) DescribeCall(name string, rawArgs string) string {
	def, ok := r.Get(name)
	if !ok {
		return name
	}
	if def.Describe == nil {
		return def.Description
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		return def.Description
	}
	return def.Describe(args)
}
