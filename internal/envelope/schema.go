package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidationError is a single schema violation, keyed by the JSON pointer
// path within the document where the violation occurred.
type ValidationError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Error implements the error interface so ValidationErrors can be returned
// and wrapped like any other error.
func (v ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validator compiles the canonical envelope JSON Schema once and validates
// candidate documents against it. It is safe for concurrent use: the
// compiled schema is read-only after construction and access is additionally
// guarded by a RWMutex so a future schema hot-reload (not currently
// exercised) cannot race with in-flight validations.
type Validator struct {
	mu     sync.RWMutex
	schema *jsonschema.Schema
}

// NewValidator compiles schemaJSON (the canonical result-envelope schema, see
// Schema()) and returns a ready-to-use Validator. It returns an error if the
// schema itself fails to compile.
func NewValidator(schemaJSON []byte) (*Validator, error) {
	c := jsonschema.NewCompiler()
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("envelope: parse schema: %w", err)
	}
	const resourceName = "demon://envelope/result.json"
	if err := c.AddResource(resourceName, doc); err != nil {
		return nil, fmt.Errorf("envelope: add schema resource: %w", err)
	}
	schema, err := c.Compile(resourceName)
	if err != nil {
		return nil, fmt.Errorf("envelope: compile schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// NewDefaultValidator compiles the built-in canonical envelope schema.
func NewDefaultValidator() (*Validator, error) {
	return NewValidator([]byte(DefaultSchemaJSON))
}

// Validate checks the given JSON document (pretty or compact) against the
// compiled schema and returns the list of violations found, if any.
func (v *Validator) Validate(doc []byte) []ValidationError {
	var value any
	if err := json.Unmarshal(doc, &value); err != nil {
		return []ValidationError{{Path: "", Message: fmt.Sprintf("invalid JSON: %v", err)}}
	}
	return v.ValidateValue(value)
}

// ValidateValue checks an already-decoded document (map[string]any /
// []any / scalar, as produced by encoding/json) against the compiled schema.
func (v *Validator) ValidateValue(value any) []ValidationError {
	v.mu.RLock()
	schema := v.schema
	v.mu.RUnlock()

	err := schema.Validate(value)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !isValidationError(err, &ve) {
		return []ValidationError{{Path: "", Message: err.Error()}}
	}
	return flattenValidationError(ve)
}

// ValidateEnvelope marshals env and validates it, matching the
// validate(json) contract of §4.2.
func (v *Validator) ValidateEnvelope(env Envelope) []ValidationError {
	raw, err := json.Marshal(env)
	if err != nil {
		return []ValidationError{{Path: "", Message: fmt.Sprintf("marshal envelope: %v", err)}}
	}
	return v.Validate(raw)
}

func isValidationError(err error, out **jsonschema.ValidationError) bool {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return false
	}
	*out = ve
	return true
}

// flattenValidationError walks the jsonschema library's nested cause tree
// and collects leaf violations, since the top-level error is usually just
// "jsonschema validation failed" with the useful detail nested in Causes.
func flattenValidationError(ve *jsonschema.ValidationError) []ValidationError {
	if len(ve.Causes) == 0 {
		return []ValidationError{{
			Path:    instanceLocation(ve),
			Message: ve.Error(),
		}}
	}
	var out []ValidationError
	for _, cause := range ve.Causes {
		out = append(out, flattenValidationError(cause)...)
	}
	return out
}

func instanceLocation(ve *jsonschema.ValidationError) string {
	if len(ve.InstanceLocation) == 0 {
		return "/"
	}
	path := "/"
	for i, seg := range ve.InstanceLocation {
		if i > 0 {
			path += "/"
		}
		path += seg
	}
	return path
}
