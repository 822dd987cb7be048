// Package models defines the core domain models for the event execution engine.
package models

import "errors"

// ScriptType identifies the interpreter or execution mode of an event.
type ScriptType string

const (
	ScriptTypeBash        ScriptType = "bash"
	ScriptTypePython      ScriptType = "python"
	ScriptTypeNodeJS      ScriptType = "nodejs"
	ScriptTypeHTTPRequest ScriptType = "http_request"
	ScriptTypeToolAction  ScriptType = "tool_action"
)

// Interpreter returns the command used to run a script of this type.
// HTTP request and tool action events have no interpreter.
func (s ScriptType) Interpreter() (string, []string, error) {
	switch s {
	case ScriptTypeBash:
		return "bash", nil, nil
	case ScriptTypePython:
		return "python3", nil, nil
	case ScriptTypeNodeJS:
		return "node", nil, nil
	default:
		return "", nil, ErrNoInterpreter
	}
}

// FileExtension returns the extension used when materializing the script body.
func (s ScriptType) FileExtension() string {
	switch s {
	case ScriptTypePython:
		return ".py"
	case ScriptTypeNodeJS:
		return ".js"
	default:
		return ".sh"
	}
}

func (s ScriptType) Valid() bool {
	switch s {
	case ScriptTypeBash, ScriptTypePython, ScriptTypeNodeJS, ScriptTypeHTTPRequest, ScriptTypeToolAction:
		return true
	}

	return false
}

// HTTPRequestConfig carries the request definition for http_request events,
// which have no script body.
type HTTPRequestConfig struct {
	Method  string            `json:"method"  validate:"required"`
	URL     string            `json:"url"     validate:"required,url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

var ErrNoInterpreter = errors.New("script type has no interpreter")
