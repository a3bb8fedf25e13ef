package rest

import (
	"context"
	"fmt"
	"net/http"

	apperrors "virtgate/internal/errors"
	"virtgate/internal/model"
)

// RunAction invokes action on res with the declared params taken from body
// and answers with the resource's fresh representation
func (d *Dispatcher) RunAction(ctx context.Context, res *Resource, action Action, body map[string]any) (*Response, error) {
	kind := res.Type.Kind
	var fn model.ActionFunc
	if actioner, ok := d.backend(kind).(model.Actioner); ok {
		fn, _ = actioner.Action(action.Name)
	}
	if fn == nil {
		return nil, apperrors.NotImplemented(fmt.Sprintf("%s does not implement %s action", kind, action.Name))
	}

	args := make([]any, 0, len(res.ModelArgs)+len(action.Params))
	for _, a := range res.ModelArgs {
		args = append(args, a)
	}
	for _, p := range action.Params {
		v, ok := body[p]
		if !ok {
			return nil, apperrors.NewMissingParameter(p)
		}
		args = append(args, v)
	}

	if err := d.call(ctx, kind, action.Name, func(ctx context.Context) error {
		return fn(ctx, args...)
	}); err != nil {
		return nil, err
	}

	resp, err := d.GetResource(ctx, res)
	if err != nil {
		return nil, err
	}
	resp.ContentLocation = res.URI()
	return resp, nil
}

// ActionHandler builds the POST-only handler of one action on the resource
// addressed by args. The body is only parsed when the action declares
// params.
func (d *Dispatcher) ActionHandler(rt *ResourceType, action Action, args ArgsFunc) http.HandlerFunc {
	return d.serve([]string{http.MethodPost}, func(r *http.Request) (*Response, error) {
		body := map[string]any{}
		if len(action.Params) > 0 {
			var err error
			if body, err = d.parse(r); err != nil {
				return nil, err
			}
		}
		return d.RunAction(r.Context(), NewResource(rt, args(r)...), action, body)
	})
}
