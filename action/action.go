// Package action implements the typed tool registry: named handlers with
// JSON-Schema parameter definitions, argument validation, and a reserved
// channel carrying runtime-provided context (currently the task id)
// alongside the model-supplied arguments.
package action

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/agentexrun/orchestrator/apperr"
)

// ReservedKey names a well-known runtime-provided value passed to every
// handler outside of the model-supplied arguments.
type ReservedKey string

// TaskID is the only reserved key defined so far: the id of the task the
// action is executing on behalf of.
const TaskID ReservedKey = "task_id"

// Reserved carries the runtime-provided values for one invocation. Handlers
// that don't need any reserved value still receive it; they simply don't
// read from it.
type Reserved map[ReservedKey]string

// TaskID returns the reserved task id, or "" if absent.
func (r Reserved) TaskID() string {
	return string(r[TaskID])
}

// Param declares one named, typed argument a handler accepts. Type follows
// JSON Schema's primitive type vocabulary ("string", "integer", "number",
// "boolean", "object", "array").
type Param struct {
	Name        string
	Type        string
	Description string
	Required    bool
	// Items, when Type is "array", describes the element type the same way
	// a top-level Param would.
	Items *Param
}

// Response is the result of a successful or failed handler invocation.
type Response struct {
	Message   any        `json:"message"`
	Artifacts []Artifact `json:"artifacts,omitempty"`
	Success   bool       `json:"success"`
}

// Artifact is the wire shape of a tool-produced artifact, independent of
// how the state package persists it.
type Artifact struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Content     any    `json:"content"`
}

// Handler is the signature every registered action implements: it receives
// the reserved runtime context plus the raw, schema-validated argument
// object, and returns a domain result plus any artifacts produced.
type Handler func(ctx context.Context, reserved Reserved, args json.RawMessage) (Response, error)

// Entry is a single registered action: its handler plus the schemas derived
// from its declared parameters.
type Entry struct {
	Name               string
	Description        string
	Params             []Param
	Handler            Handler
	ArgsSchema         map[string]any
	FunctionCallSchema map[string]any

	compiled *jsonschema.Schema
}

// Registry maps action names to their Entry. A process may hold several
// registries (e.g. "writer", "critic"); the activity layer chooses one by
// key.
type Registry struct {
	entries map[string]*Entry
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// RegisterOptions configures one action registration.
type RegisterOptions struct {
	Name        string
	Description string
	Params      []Param
	Handler     Handler
}

// Register validates opts and adds the resulting Entry to r. Registration
// rejects:
//   - a nil handler,
//   - any parameter lacking a type or description.
//
// The reserved channel is always implicit (every Handler receives it), so
// unlike the dynamically-typed source this never requires a separate
// per-handler declaration to reject.
func (r *Registry) Register(opts RegisterOptions) error {
	if opts.Name == "" {
		return apperr.NewServiceError("action: registration missing name")
	}
	if opts.Handler == nil {
		return apperr.NewServiceError(fmt.Sprintf("action %q: registration missing handler", opts.Name))
	}
	for _, p := range opts.Params {
		if p.Name == "" {
			return apperr.NewServiceError(fmt.Sprintf("action %q: parameter missing name", opts.Name))
		}
		if p.Type == "" {
			return apperr.NewServiceError(fmt.Sprintf("action %q: parameter %q missing type", opts.Name, p.Name))
		}
		if p.Description == "" {
			return apperr.NewServiceError(fmt.Sprintf("action %q: parameter %q missing description", opts.Name, p.Name))
		}
	}

	argsSchema := buildArgsSchema(opts.Params)
	compiled, err := compileSchema(opts.Name, argsSchema)
	if err != nil {
		return apperr.WrapServiceError(fmt.Sprintf("action %q: compile argument schema", opts.Name), err)
	}

	entry := &Entry{
		Name:        opts.Name,
		Description: opts.Description,
		Params:      opts.Params,
		Handler:     opts.Handler,
		ArgsSchema:  argsSchema,
		FunctionCallSchema: map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        opts.Name,
				"description": opts.Description,
				"parameters":  argsSchema,
			},
		},
		compiled: compiled,
	}
	r.entries = cloneAndInsert(r.entries, entry)
	return nil
}

func cloneAndInsert(entries map[string]*Entry, e *Entry) map[string]*Entry {
	out := make(map[string]*Entry, len(entries)+1)
	for k, v := range entries {
		out[k] = v
	}
	out[e.Name] = e
	return out
}

// Lookup returns the registered Entry for name.
func (r *Registry) Lookup(name string) (*Entry, bool) {
	e, ok := r.entries[name]
	return e, ok
}

// FunctionCallSchemas returns the {type:"function",...} schema for every
// registered action, in no particular order, for inclusion in a model
// completion request.
func (r *Registry) FunctionCallSchemas() []map[string]any {
	out := make([]map[string]any, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.FunctionCallSchema)
	}
	return out
}

// Call validates raw against name's argument schema, invokes its handler,
// and returns the resulting Response. A validation failure returns a
// ClientError without invoking the handler. A handler error is converted
// into a Response{Success:false} AND returned as an error, so the caller
// (typically a workflow activity) can still drive its own retry policy.
func (r *Registry) Call(ctx context.Context, name string, raw json.RawMessage, reserved Reserved) (Response, error) {
	entry, ok := r.entries[name]
	if !ok {
		return Response{}, apperr.NewClientErrorf("action %q is not registered", name)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Response{}, apperr.WrapClientError(fmt.Sprintf("action %q: invalid argument JSON", name), err)
	}
	if err := entry.compiled.Validate(doc); err != nil {
		return Response{}, apperr.WrapClientError(fmt.Sprintf("action %q: argument validation failed", name), err)
	}

	resp, err := entry.Handler(ctx, reserved, raw)
	if err != nil {
		return Response{Success: false, Message: err.Error()}, err
	}
	resp.Success = true
	return resp, nil
}

func buildArgsSchema(params []Param) map[string]any {
	properties := make(map[string]any, len(params))
	var required []string
	for _, p := range params {
		properties[p.Name] = paramSchema(p)
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func paramSchema(p Param) map[string]any {
	s := map[string]any{
		"type":        p.Type,
		"description": p.Description,
	}
	if p.Type == "array" && p.Items != nil {
		s["items"] = paramSchema(*p.Items)
	}
	return s
}

func compileSchema(name string, schema map[string]any) (*jsonschema.Schema, error) {
	resourceName := fmt.Sprintf("%s.json", name)
	c := jsonschema.NewCompiler()
	if err := c.AddResource(resourceName, schema); err != nil {
		return nil, err
	}
	return c.Compile(resourceName)
}
