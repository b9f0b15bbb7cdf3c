package config

import "fmt"

// ArgumentError reports an invalid flag or setting.
type ArgumentError struct {
	Name  string
	Value string
	Err   error
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid %s %q: %v", e.Name, e.Value, e.Err)
}

func (e *ArgumentError) Unwrap() error {
	return e.Err
}

// RequirementError reports a missing host tool.
type RequirementError struct {
	Tool string
	Err  error
}

func (e *RequirementError) Error() string {
	return fmt.Sprintf("required tool %s not available: %v", e.Tool, e.Err)
}

func (e *RequirementError) Unwrap() error {
	return e.Err
}

// LookPathFunc resolves a command on PATH.
type LookPathFunc func(file string) (string, error)

// RequireTools returns a RequirementError for the first tool not on PATH.
func RequireTools(lookPath LookPathFunc, tools ...string) error {
	for _, tool := range tools {
		if _, err := lookPath(tool); err != nil {
			return &RequirementError{Tool: tool, Err: err}
		}
	}
	return nil
}
