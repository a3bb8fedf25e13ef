package memory

import (
	"fmt"
	"math"
	"sort"

	apperrors "virtgate/internal/errors"
)

const (
	stateActive   = "active"
	stateInactive = "inactive"
)

func stringParam(params map[string]any, key string) (string, bool, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return "", false, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", false, apperrors.NewInvalidParameter(fmt.Sprintf("%s must be a string", key))
	}
	return s, true, nil
}

func requiredString(params map[string]any, key string) (string, error) {
	s, ok, err := stringParam(params, key)
	if err != nil {
		return "", err
	}
	if !ok || s == "" {
		return "", apperrors.NewMissingParameter(key)
	}
	return s, nil
}

// intParam accepts JSON numbers without a fractional part
func intParam(params map[string]any, key string) (int64, bool, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	n, err := toInt(key, v)
	return n, err == nil, err
}

func toInt(key string, v any) (int64, error) {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, apperrors.NewInvalidParameter(fmt.Sprintf("%s must be an integer", key))
		}
		return int64(n), nil
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	default:
		return 0, apperrors.NewInvalidParameter(fmt.Sprintf("%s must be an integer", key))
	}
}

func boolParam(params map[string]any, key string) (bool, bool, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return false, false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, false, apperrors.NewInvalidParameter(fmt.Sprintf("%s must be a boolean", key))
	}
	return b, true, nil
}

func stringsParam(params map[string]any, key string) ([]string, bool, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return nil, false, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, false, apperrors.NewInvalidParameter(fmt.Sprintf("%s must be a list of strings", key))
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, false, apperrors.NewInvalidParameter(fmt.Sprintf("%s must be a list of strings", key))
		}
		out = append(out, s)
	}
	return out, true, nil
}

// lastArg returns the identifier addressed by args
func lastArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[len(args)-1]
}

func sortedKeys[V any](items map[string]V) []string {
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
