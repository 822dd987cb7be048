// Package template renders notification message templates against
// finalized execution records.
package template

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/oru-io/conduct/pkg/models"
)

// RenderRecord interpolates a message template with the fields of one
// finalized execution record and its owning event definition.
func RenderRecord(input string, event *models.EventDefinition, record *models.ExecutionRecord) (string, error) {
	data := map[string]any{
		"event": map[string]any{
			"id":   event.ID,
			"name": event.Name,
		},
		"execution": map[string]any{
			"id":           record.ID,
			"status":       string(record.Status),
			"attempt":      record.AttemptNumber,
			"trigger_type": string(record.TriggerType),
			"duration_ms":  record.DurationMs,
			"exit_code":    record.ExitCode,
			"reason":       record.Reason,
		},
		"output":       record.Output,
		"error_output": record.ErrorOutput,
		"data":         record.StructuredOutput,
	}

	return Render(input, data)
}

// Render parses and executes a template with the standard helper funcs.
func Render(templateStr string, data any) (string, error) {
	tmpl, err := template.
		New("message").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"upper": strings.ToUpper,
		}).Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return buf.String(), nil
}
