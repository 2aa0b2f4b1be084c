// Copyright 2025 James Ross
package queue

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// messageSchemaJSON constrains the shape producers may submit for a
// Message's metadata; payload is not listed in the schema, so it is never
// constrained, since payloads are opaque to this package.
const messageSchemaJSON = `{
  "type": "object",
  "required": ["id", "metadata"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "metadata": {
      "type": "object",
      "properties": {
        "priority": {"type": "integer", "minimum": 0, "maximum": 255},
        "retry_count": {"type": "integer", "minimum": 0},
        "max_retries": {"type": "integer", "minimum": 0}
      }
    }
  }
}`

// jobSchemaJSON constrains the Job envelope submitted via submitJob.
const jobSchemaJSON = `{
  "type": "object",
  "required": ["id", "type", "status"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "type": {"type": "string", "minLength": 1},
    "status": {
      "type": "string",
      "enum": ["pending", "running", "completed", "failed", "cancelled", "retry"]
    },
    "max_retries": {"type": "integer", "minimum": 0},
    "retry_count": {"type": "integer", "minimum": 0}
  }
}`

var (
	messageSchema = gojsonschema.NewStringLoader(messageSchemaJSON)
	jobSchema     = gojsonschema.NewStringLoader(jobSchemaJSON)
)

// ValidationError reports one schema violation.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a non-empty batch of ValidationError; it implements
// error so callers that don't care about individual fields can treat it as
// one.
type ValidationErrors []ValidationError

func (es ValidationErrors) Error() string {
	if len(es) == 1 {
		return es[0].Error()
	}
	return fmt.Sprintf("%d validation errors, first: %s", len(es), es[0].Error())
}

func validateAgainst(schema gojsonschema.JSONLoader, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal for validation: %w", err)
	}
	result, err := gojsonschema.Validate(schema, gojsonschema.NewBytesLoader(b))
	if err != nil {
		return fmt.Errorf("run schema validation: %w", err)
	}
	if result.Valid() {
		return nil
	}
	errs := make(ValidationErrors, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		errs = append(errs, ValidationError{Field: re.Field(), Message: re.Description()})
	}
	return errs
}

// ValidateMessage checks a Message's envelope against its schema. Payload
// contents are never inspected.
func ValidateMessage(m Message) error {
	return validateAgainst(messageSchema, m)
}

// ValidateJob checks a Job's envelope against its schema. Data contents are
// never inspected.
func ValidateJob(j Job) error {
	return validateAgainst(jobSchema, j)
}
