package rest

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/sync/errgroup"

	apperrors "virtgate/internal/errors"
	"virtgate/internal/model"
)

// List renders every member of c in the order the model lists them,
// followed by the type's reserved members. A kind without the list
// capability yields an empty list.
func (d *Dispatcher) List(ctx context.Context, c *Collection) ([]any, error) {
	if c.Type.Plain {
		return d.enumerate(ctx, c)
	}

	var idents []string
	if lister, ok := d.backend(c.Type.Kind).(model.Lister); ok {
		err := d.call(ctx, c.Type.Kind, "list", func(ctx context.Context) error {
			var err error
			idents, err = lister.List(ctx, c.ModelArgs...)
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	items := make([]any, len(idents), len(idents)+len(c.Type.Reserved))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.listConcurrency)
	for i, ident := range idents {
		g.Go(func() error {
			body, err := d.Represent(gctx, c.Member(ident))
			if err != nil {
				return err
			}
			items[i] = body
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, rm := range c.Type.Reserved {
		body, err := d.Represent(ctx, NewResource(rm.Type, rm.Args...))
		if err != nil {
			return nil, err
		}
		items = append(items, body)
	}
	return items, nil
}

func (d *Dispatcher) enumerate(ctx context.Context, c *Collection) ([]any, error) {
	enumerator, ok := d.backend(c.Type.Kind).(model.Enumerator)
	if !ok {
		return []any{}, nil
	}

	var items []any
	err := d.call(ctx, c.Type.Kind, "list", func(ctx context.Context) error {
		var err error
		items, err = enumerator.Enumerate(ctx, c.ModelArgs...)
		return err
	})
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []any{}
	}
	return items, nil
}

// GetCollection answers GET on a collection
func (d *Dispatcher) GetCollection(ctx context.Context, c *Collection) (*Response, error) {
	items, err := d.List(ctx, c)
	if err != nil {
		return nil, err
	}
	return &Response{Status: http.StatusOK, Body: items}, nil
}

// CreateMember answers POST on a synchronous collection: 201 with the new
// member, or 202 when the type is task aware and the member reports a
// task_id
func (d *Dispatcher) CreateMember(ctx context.Context, c *Collection, params map[string]any) (*Response, error) {
	kind := c.Type.Kind
	creator, ok := d.backend(kind).(model.Creator)
	if !ok {
		return nil, apperrors.NotImplemented(fmt.Sprintf("Create is not allowed for %s", kind))
	}

	if !c.Type.SkipCreateValidation {
		if err := d.validate(kind, "create", params); err != nil {
			return nil, err
		}
	}

	var ident string
	err := d.call(ctx, kind, "create", func(ctx context.Context) error {
		var err error
		ident, err = creator.Create(ctx, c.ModelArgs, params)
		return err
	})
	if err != nil {
		return nil, err
	}

	res := c.Member(ident)
	body, err := d.Represent(ctx, res)
	if err != nil {
		return nil, err
	}

	status := http.StatusCreated
	if c.Type.TaskAware && hasTaskID(body) {
		status = http.StatusAccepted
	}
	return &Response{Status: status, Body: body, Location: res.URI()}, nil
}

// CreateTask answers POST on an asynchronous collection with 202 and the
// rendered Task. Bodies are not schema validated.
func (d *Dispatcher) CreateTask(ctx context.Context, c *Collection, params map[string]any) (*Response, error) {
	kind := c.Type.Kind
	creator, ok := d.backend(kind).(model.TaskCreator)
	if !ok {
		return nil, apperrors.NotImplemented(fmt.Sprintf("Create is not allowed for %s", kind))
	}

	var info model.Info
	err := d.call(ctx, kind, "create", func(ctx context.Context) error {
		var err error
		info, err = creator.CreateTask(ctx, c.ModelArgs, params)
		return err
	})
	if err != nil {
		return nil, err
	}

	id, _ := info["id"].(string)
	body := any(map[string]any(info))
	resp := &Response{Status: http.StatusAccepted}
	if tt := c.Type.TaskType; tt != nil {
		body = tt.project(id, info)
		resp.Location = tt.URI([]string{id})
	}
	resp.Body = body
	return resp, nil
}

// CollectionHandler serves GET and POST on the collection nested under the
// parent identifiers returned by args
func (d *Dispatcher) CollectionHandler(ct *CollectionType, args ArgsFunc) http.HandlerFunc {
	return d.serve([]string{http.MethodGet, http.MethodPost}, func(r *http.Request) (*Response, error) {
		c := NewCollection(ct, args(r)...)
		if r.Method == http.MethodGet {
			return d.GetCollection(r.Context(), c)
		}

		if !d.canCreate(ct) {
			return nil, apperrors.NotImplemented(fmt.Sprintf("Create is not allowed for %s", ct.Kind))
		}
		params, err := d.parse(r)
		if err != nil {
			return nil, err
		}
		if ct.Async {
			return d.CreateTask(r.Context(), c, params)
		}
		return d.CreateMember(r.Context(), c, params)
	})
}

func (d *Dispatcher) canCreate(ct *CollectionType) bool {
	backend := d.backend(ct.Kind)
	if ct.Async {
		_, ok := backend.(model.TaskCreator)
		return ok
	}
	_, ok := backend.(model.Creator)
	return ok
}

func hasTaskID(body any) bool {
	m, ok := body.(map[string]any)
	if !ok {
		return false
	}
	return Truthy(m["task_id"])
}
