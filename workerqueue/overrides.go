package workerqueue

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// EnvVar is the environment variable read when no overrides are configured
// explicitly.
const EnvVar = "RUNQUEUE_WORKER_QUEUE_OVERRIDES"

// Overrides holds the four independently optional routing maps. It is
// replaced wholesale on reload, never merged.
type Overrides struct {
	EnvironmentID map[string]string `json:"environmentId,omitempty" yaml:"environmentId,omitempty"`
	ProjectID     map[string]string `json:"projectId,omitempty" yaml:"projectId,omitempty"`
	OrgID         map[string]string `json:"orgId,omitempty" yaml:"orgId,omitempty"`
	WorkerQueue   map[string]string `json:"workerQueue,omitempty" yaml:"workerQueue,omitempty"`
}

// IsEmpty reports whether no override is configured.
func (o *Overrides) IsEmpty() bool {
	return o == nil ||
		len(o.EnvironmentID) == 0 && len(o.ProjectID) == 0 &&
			len(o.OrgID) == 0 && len(o.WorkerQueue) == 0
}

const overridesSchema = `{
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "environmentId": {"$ref": "#/definitions/queueMap"},
    "projectId":     {"$ref": "#/definitions/queueMap"},
    "orgId":         {"$ref": "#/definitions/queueMap"},
    "workerQueue":   {"$ref": "#/definitions/queueMap"}
  },
  "definitions": {
    "queueMap": {
      "type": "object",
      "additionalProperties": {"type": "string", "minLength": 1}
    }
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(overridesSchema)

// ValidationErrorItem is one schema violation.
type ValidationErrorItem struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationError reports an override document that does not match the
// schema.
type ValidationError struct {
	Errors []ValidationErrorItem `json:"validation_errors"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, item := range e.Errors {
		parts = append(parts, item.Path+": "+item.Message)
	}
	return "workerqueue: invalid overrides: " + strings.Join(parts, "; ")
}

// ParseOverrides validates raw against the override schema and decodes it.
// Blank input yields nil overrides.
func ParseOverrides(raw []byte) (*Overrides, error) {
	doc := strings.TrimSpace(string(raw))
	if doc == "" {
		return nil, nil
	}

	res, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewStringLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("workerqueue: parse overrides: %w", err)
	}
	if !res.Valid() {
		items := make([]ValidationErrorItem, 0, len(res.Errors()))
		for _, item := range res.Errors() {
			items = append(items, ValidationErrorItem{
				Path:    item.Field(),
				Message: item.Description(),
			})
		}
		return nil, &ValidationError{Errors: items}
	}

	var o Overrides
	if err := json.Unmarshal([]byte(doc), &o); err != nil {
		return nil, fmt.Errorf("workerqueue: decode overrides: %w", err)
	}
	return &o, nil
}
