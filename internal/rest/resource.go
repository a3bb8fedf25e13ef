package rest

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	apperrors "virtgate/internal/errors"
	"virtgate/internal/model"
)

// Lookup fetches the current info of res. A kind without the lookup
// capability yields empty info. Info is never cached.
func (d *Dispatcher) Lookup(ctx context.Context, res *Resource) (model.Info, error) {
	lookuper, ok := d.backend(res.Type.Kind).(model.Lookuper)
	if !ok {
		return model.Info{}, nil
	}

	var info model.Info
	err := d.call(ctx, res.Type.Kind, "lookup", func(ctx context.Context) error {
		var err error
		info, err = lookuper.Lookup(ctx, res.ModelArgs...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// Represent looks res up and renders its projection
func (d *Dispatcher) Represent(ctx context.Context, res *Resource) (any, error) {
	info, err := d.Lookup(ctx, res)
	if err != nil {
		return nil, err
	}
	return res.Type.project(res.Ident, info), nil
}

// GetResource answers GET on a resource
func (d *Dispatcher) GetResource(ctx context.Context, res *Resource) (*Response, error) {
	body, err := d.Represent(ctx, res)
	if err != nil {
		return nil, err
	}
	return &Response{Status: http.StatusOK, Body: body}, nil
}

// UpdateResource answers PUT on a resource. Keys outside the type's update
// allow-list are rejected before the model is called. When the model
// reports a new identifier the client is redirected to the new URI.
func (d *Dispatcher) UpdateResource(ctx context.Context, res *Resource, params map[string]any) (*Response, error) {
	kind := res.Type.Kind
	updater, ok := d.backend(kind).(model.Updater)
	if !ok {
		return nil, apperrors.NotImplemented(fmt.Sprintf("%s does not implement update method", kind))
	}

	if err := d.validate(kind, "update", params); err != nil {
		return nil, err
	}

	var invalid []string
	for key := range params {
		if !res.Type.allowsUpdate(key) {
			invalid = append(invalid, key)
		}
	}
	if len(invalid) > 0 {
		sort.Strings(invalid)
		return nil, apperrors.NotAllowedParams(invalid)
	}

	var ident string
	err := d.call(ctx, kind, "update", func(ctx context.Context) error {
		var err error
		ident, err = updater.Update(ctx, res.ModelArgs, params)
		return err
	})
	if err != nil {
		return nil, err
	}

	if ident != "" && ident != res.Ident && len(res.ModelArgs) > 0 {
		args := append(append([]string(nil), res.ModelArgs[:len(res.ModelArgs)-1]...), ident)
		return &Response{Status: http.StatusSeeOther, Location: res.Type.URI(args)}, nil
	}
	return d.GetResource(ctx, res)
}

// DeleteResource answers DELETE on a resource
func (d *Dispatcher) DeleteResource(ctx context.Context, res *Resource) (*Response, error) {
	kind := res.Type.Kind
	deleter, ok := d.backend(kind).(model.Deleter)
	if !ok {
		return nil, apperrors.NotImplemented(fmt.Sprintf("Delete is not allowed for %s", kind))
	}

	err := d.call(ctx, kind, "delete", func(ctx context.Context) error {
		return deleter.Delete(ctx, res.ModelArgs...)
	})
	if err != nil {
		return nil, err
	}
	return &Response{Status: http.StatusNoContent}, nil
}

// ResourceHandler serves GET, PUT and DELETE on the resource addressed by args
func (d *Dispatcher) ResourceHandler(rt *ResourceType, args ArgsFunc) http.HandlerFunc {
	return d.serve([]string{http.MethodGet, http.MethodPut, http.MethodDelete}, func(r *http.Request) (*Response, error) {
		res := NewResource(rt, args(r)...)
		switch r.Method {
		case http.MethodPut:
			if _, ok := d.backend(rt.Kind).(model.Updater); !ok {
				return nil, apperrors.NotImplemented(fmt.Sprintf("%s does not implement update method", rt.Kind))
			}
			params, err := d.parse(r)
			if err != nil {
				return nil, err
			}
			return d.UpdateResource(r.Context(), res, params)
		case http.MethodDelete:
			return d.DeleteResource(r.Context(), res)
		default:
			return d.GetResource(r.Context(), res)
		}
	})
}

// FileHandler serves the file named by the "file" attribute of the
// resource addressed by args
func (d *Dispatcher) FileHandler(rt *ResourceType, args ArgsFunc) http.HandlerFunc {
	return d.serve([]string{http.MethodGet}, func(r *http.Request) (*Response, error) {
		res := NewResource(rt, args(r)...)
		info, err := d.Lookup(r.Context(), res)
		if err != nil {
			return nil, err
		}
		file, _ := info["file"].(string)
		if file == "" {
			return nil, apperrors.NewOperationFailed(fmt.Sprintf("%s %s has no file", rt.Kind, res.Ident), nil)
		}
		return &Response{Status: http.StatusOK, File: file}, nil
	})
}
