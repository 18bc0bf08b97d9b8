package actions

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Action names the planner may select.
const (
	ActionCreateTask       = "create_task"
	ActionUpdateTaskStatus = "update_task_status"
	ActionUpdateTask       = "update_task"
	ActionReorderTasks     = "reorder_tasks"
	ActionFetchTasks       = "fetch_tasks"
	ActionDeleteTask       = "delete_task"
	ActionNoOp             = "no_op"
)

// Spec describes one action: its name, a one-line description shown to the
// planner, and the JSON Schema its arguments must satisfy.
type Spec struct {
	Name        string
	Description string
	schemaJSON  string
	schema      *jsonschema.Schema
}

// ValidateArgs checks decoded arguments against the action's schema. The
// value must come from jsonschema.UnmarshalJSON so numbers validate
// correctly.
func (s *Spec) ValidateArgs(args any) error {
	if err := s.schema.Validate(args); err != nil {
		return fmt.Errorf("invalid arguments for %s: %w", s.Name, err)
	}
	return nil
}

// Registry holds the action specs with compiled argument schemas.
type Registry struct {
	specs map[string]*Spec
	order []string
}

func NewRegistry() (*Registry, error) {
	defs := []Spec{
		{
			Name:        ActionCreateTask,
			Description: "Create a new task with title, description, project, and categories",
			schemaJSON: `{
				"type": "object",
				"properties": {
					"title": {"type": "string", "minLength": 1},
					"description": {"type": "string"},
					"project": {"type": "string"},
					"categories": {"type": "array", "items": {"type": "string"}}
				},
				"required": ["title"]
			}`,
		},
		{
			Name:        ActionUpdateTaskStatus,
			Description: "Change task status to open, in_progress, or done",
			schemaJSON: `{
				"type": "object",
				"properties": {
					"task_id": {"type": "integer"},
					"status": {"type": "string"}
				},
				"required": ["task_id", "status"]
			}`,
		},
		{
			Name:        ActionUpdateTask,
			Description: "Update task properties including title, description, project, categories, and dates",
			schemaJSON: `{
				"type": "object",
				"properties": {
					"task_id": {"type": "integer"},
					"title": {"type": "string"},
					"description": {"type": "string"},
					"project": {"type": "string"},
					"categories": {"type": "array", "items": {"type": "string"}},
					"completed_at": {"type": "string"},
					"started_at": {"type": "string"}
				},
				"required": ["task_id"]
			}`,
		},
		{
			Name:        ActionReorderTasks,
			Description: "Reorder tasks by providing a list of task IDs in the desired order",
			schemaJSON: `{
				"type": "object",
				"properties": {
					"task_ids": {"type": "array", "items": {"type": "integer"}, "minItems": 1}
				},
				"required": ["task_ids"]
			}`,
		},
		{
			Name:        ActionFetchTasks,
			Description: "Get tasks with optional filtering by status and completion dates",
			schemaJSON: `{
				"type": "object",
				"properties": {
					"status": {
						"anyOf": [
							{"type": "string"},
							{"type": "array", "items": {"type": "string"}}
						]
					},
					"completed_at_gte": {"type": "string"},
					"completed_at_lt": {"type": "string"}
				}
			}`,
		},
		{
			Name:        ActionDeleteTask,
			Description: "Delete a task by ID",
			schemaJSON: `{
				"type": "object",
				"properties": {
					"task_id": {"type": "integer"}
				},
				"required": ["task_id"]
			}`,
		},
		{
			Name:        ActionNoOp,
			Description: "No operation - does nothing (for pure chat)",
			schemaJSON:  `{"type": "object"}`,
		},
	}

	r := &Registry{specs: make(map[string]*Spec, len(defs))}
	for i := range defs {
		spec := defs[i]
		compiled, err := compileSchema(spec.Name, spec.schemaJSON)
		if err != nil {
			return nil, err
		}
		spec.schema = compiled
		r.specs[spec.Name] = &spec
		r.order = append(r.order, spec.Name)
	}
	return r, nil
}

func compileSchema(name, schemaJSON string) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal %s schema: %w", name, err)
	}
	c := jsonschema.NewCompiler()
	resource := name + ".schema.json"
	if err := c.AddResource(resource, doc); err != nil {
		return nil, fmt.Errorf("add %s schema resource: %w", name, err)
	}
	schema, err := c.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("compile %s schema: %w", name, err)
	}
	return schema, nil
}

// Get returns the spec for an action name, or nil when unknown.
func (r *Registry) Get(name string) *Spec {
	return r.specs[name]
}

// Names lists the registered action names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Descriptions renders the action list for the planner prompt.
func (r *Registry) Descriptions() string {
	lines := make([]string, 0, len(r.order))
	for _, name := range r.order {
		lines = append(lines, fmt.Sprintf("- %s: %s", name, r.specs[name].Description))
	}
	return strings.Join(lines, "\n")
}
