package workflow

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrQueueFull    = errors.New("dispatch queue is full")
	ErrNoWorkflow   = errors.New("no workflow handles this alert type")
	ErrRunNotFound  = errors.New("run not found")
	ErrStopped      = errors.New("dispatcher stopped")
	ErrStepRequired = errors.New("required step did not succeed")
)

// ConfigurationError rejects a definition before any step runs.
type ConfigurationError struct {
	Definition string
	Problems   []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid workflow %q: %s", e.Definition, strings.Join(e.Problems, "; "))
}

func (e *ConfigurationError) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

func (e *ConfigurationError) orNil() error {
	if len(e.Problems) == 0 {
		return nil
	}

	return e
}

// IsConfigurationError reports whether err is, or wraps, a *ConfigurationError.
func IsConfigurationError(err error) bool {
	var configErr *ConfigurationError

	return errors.As(err, &configErr)
}
