package rest

import (
	"fmt"
	"net/url"
	"reflect"

	"virtgate/internal/model"
)

// Truthy reports whether v carries a value: nil, false, zero numbers, empty
// strings and empty collections do not.
func Truthy(v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.String:
		return rv.Len() > 0
	default:
		return !rv.IsZero()
	}
}

// Projection renders the public representation of a resource from its
// identifier and the info returned by the model
type Projection func(ident string, info model.Info) any

// Action declares a POST sub-resource. Params are read from the request
// body in order and appended to the model arguments.
type Action struct {
	Name   string
	Params []string
}

// ResourceType describes one kind of single resource
type ResourceType struct {
	Kind model.Kind
	// URIFormat is the canonical path, with one %s per model argument
	URIFormat string
	// UpdateParams lists the body keys PUT accepts; any other key is
	// rejected. An empty list rejects every key.
	UpdateParams []string
	Actions      []Action
	Project      Projection
}

// URI formats the canonical path of the resource addressed by args. Each
// argument is path-escaped.
func (rt *ResourceType) URI(args []string) string {
	if rt.URIFormat == "" {
		return ""
	}
	vals := make([]any, len(args))
	for i, a := range args {
		vals[i] = url.PathEscape(a)
	}
	return fmt.Sprintf(rt.URIFormat, vals...)
}

func (rt *ResourceType) project(ident string, info model.Info) any {
	if info == nil {
		info = model.Info{}
	}
	if rt.Project == nil {
		return map[string]any(info)
	}
	return rt.Project(ident, info)
}

func (rt *ResourceType) allowsUpdate(key string) bool {
	for _, p := range rt.UpdateParams {
		if p == key {
			return true
		}
	}
	return false
}

// Resource is one addressed resource, built per request. ModelArgs holds
// the parent identifiers followed by Ident.
type Resource struct {
	Type      *ResourceType
	Ident     string
	ModelArgs []string
}

// NewResource addresses a resource of type rt by args; the last argument is
// its identifier
func NewResource(rt *ResourceType, args ...string) *Resource {
	res := &Resource{Type: rt, ModelArgs: args}
	if len(args) > 0 {
		res.Ident = args[len(args)-1]
	}
	return res
}

// URI returns the canonical path of the resource
func (res *Resource) URI() string {
	return res.Type.URI(res.ModelArgs)
}

// ReservedMember is a fixed resource appended to a collection listing
type ReservedMember struct {
	Type *ResourceType
	Args []string
}

// CollectionType describes a container of resources
type CollectionType struct {
	Kind   model.Kind
	Member *ResourceType
	// Async collections create through model.TaskCreator and answer 202
	// with the Task rendered by TaskType
	Async    bool
	TaskType *ResourceType
	// SkipCreateValidation disables schema validation of create bodies
	SkipCreateValidation bool
	// TaskAware answers 202 instead of 201 when the created member reports
	// a task_id
	TaskAware bool
	// Plain collections render the model's Enumerate result as-is
	Plain    bool
	Reserved []ReservedMember
}

// Collection is one addressed collection, built per request. ResourceArgs
// prefix the identifiers of constructed members; ModelArgs address the
// collection in the model layer.
type Collection struct {
	Type         *CollectionType
	ResourceArgs []string
	ModelArgs    []string
}

// NewCollection addresses a collection of type ct nested under parent
func NewCollection(ct *CollectionType, parent ...string) *Collection {
	return &Collection{Type: ct, ResourceArgs: parent, ModelArgs: parent}
}

// Member builds the resource for ident inside the collection
func (c *Collection) Member(ident string) *Resource {
	args := make([]string, 0, len(c.ResourceArgs)+1)
	args = append(args, c.ResourceArgs...)
	args = append(args, ident)
	return NewResource(c.Type.Member, args...)
}
