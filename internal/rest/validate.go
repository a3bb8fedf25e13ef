package rest

import "virtgate/internal/model"

// Validator checks a request body against the schema of one operation.
// Operation keys have the form "<kind>_<action>", e.g. "vms_create" or
// "template_update". Implementations return an *errors.AppError of type
// INVALID_PARAMETER carrying every violation.
type Validator interface {
	Validate(operation string, params map[string]any) error
}

// OperationKey builds the schema key of action on kind
func OperationKey(kind model.Kind, action string) string {
	return string(kind) + "_" + action
}

func (d *Dispatcher) validate(kind model.Kind, action string, params map[string]any) error {
	if d.validator == nil {
		return nil
	}
	return d.validator.Validate(OperationKey(kind, action), params)
}
