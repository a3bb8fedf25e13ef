package validation

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"virtgate/internal/config"
	apperrors "virtgate/internal/errors"
)

const schemaURL = "virtgate:///api.json"

//go:embed api.json
var defaultSchema []byte

// DefaultSchema returns the schema document compiled into the binary
func DefaultSchema() []byte {
	return append([]byte(nil), defaultSchema...)
}

// SchemaValidator validates request bodies per operation. It is read-only
// after construction and safe for concurrent use.
type SchemaValidator struct {
	doc     map[string]any
	schemas map[string]*jsonschema.Schema
	logger  *slog.Logger
}

// Load builds the validator selected by cfg. It returns nil when validation
// is disabled; the embedded schema is used when no path is configured.
func Load(cfg config.SchemaConfig, logger *slog.Logger) (*SchemaValidator, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	data := defaultSchema
	if cfg.Path != "" {
		var err error
		if data, err = os.ReadFile(cfg.Path); err != nil {
			return nil, fmt.Errorf("failed to read schema: %w", err)
		}
	}
	return NewSchemaValidator(data, logger)
}

// NewSchemaValidator compiles every operation subschema of data
func NewSchemaValidator(data []byte, logger *slog.Logger) (*SchemaValidator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}
	normalize(doc)

	normalized, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft4
	if err := compiler.AddResource(schemaURL, bytes.NewReader(normalized)); err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}

	props, _ := doc["properties"].(map[string]any)
	schemas := make(map[string]*jsonschema.Schema, len(props))
	for op := range props {
		s, err := compiler.Compile(schemaURL + "#/properties/" + escapePointer(op))
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema for %s: %w", op, err)
		}
		schemas[op] = s
	}

	v := &SchemaValidator{
		doc:     doc,
		schemas: schemas,
		logger:  logger.With(slog.String("component", "schema_validator")),
	}
	v.logger.Info("schema compiled", slog.Int("operations", len(schemas)))
	return v, nil
}

// Operations lists the operation keys the schema covers
func (v *SchemaValidator) Operations() []string {
	ops := make([]string, 0, len(v.schemas))
	for op := range v.schemas {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// Validate checks params against the subschema of operation. Every
// violation is reported in a single INVALID_PARAMETER error.
func (v *SchemaValidator) Validate(operation string, params map[string]any) error {
	schema, ok := v.schemas[operation]
	if !ok {
		return nil
	}

	err := schema.Validate(params)
	if err == nil {
		return nil
	}

	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return apperrors.NewOperationFailed("schema validation failed", err)
	}

	messages := v.messages(ve)
	v.logger.Debug("request rejected by schema",
		slog.String("operation", operation),
		slog.Any("violations", messages))
	return apperrors.NewInvalidParameter(strings.Join(messages, "; ")).
		WithContext("violations", messages)
}

// messages flattens the leaf causes of ve into distinct messages
func (v *SchemaValidator) messages(ve *jsonschema.ValidationError) []string {
	var (
		out  []string
		seen = map[string]bool{}
	)
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) > 0 {
			for _, c := range e.Causes {
				walk(c)
			}
			return
		}
		msg := v.message(e)
		if !seen[msg] {
			seen[msg] = true
			out = append(out, msg)
		}
	}
	walk(ve)
	return out
}

func (v *SchemaValidator) message(e *jsonschema.ValidationError) string {
	if custom := v.customError(e.AbsoluteKeywordLocation); custom != "" {
		return custom
	}
	field := strings.TrimPrefix(e.InstanceLocation, "/")
	if field == "" {
		return e.Message
	}
	return field + ": " + e.Message
}

// customError returns the "error" member of the schema node that owns the
// failing keyword, if any
func (v *SchemaValidator) customError(location string) string {
	_, fragment, ok := strings.Cut(location, "#")
	if !ok {
		return ""
	}
	tokens := strings.Split(strings.TrimPrefix(fragment, "/"), "/")
	if len(tokens) < 2 {
		return ""
	}

	var node any = v.doc
	for _, tok := range tokens[:len(tokens)-1] {
		tok = unescapePointer(tok)
		switch n := node.(type) {
		case map[string]any:
			node = n[tok]
		case []any:
			var i int
			if _, err := fmt.Sscanf(tok, "%d", &i); err != nil || i < 0 || i >= len(n) {
				return ""
			}
			node = n[i]
		default:
			return ""
		}
	}
	m, _ := node.(map[string]any)
	msg, _ := m["error"].(string)
	return msg
}

func escapePointer(s string) string {
	s = strings.ReplaceAll(s, "~", "~0")
	return strings.ReplaceAll(s, "/", "~1")
}

func unescapePointer(s string) string {
	if u, err := url.PathUnescape(s); err == nil {
		s = u
	}
	s = strings.ReplaceAll(s, "~1", "/")
	return strings.ReplaceAll(s, "~0", "~")
}

// Check compiles data and returns the operations it covers. It is used to
// vet a schema file before deployment.
func Check(data []byte) ([]string, error) {
	v, err := NewSchemaValidator(data, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		return nil, err
	}
	return v.Operations(), nil
}
