package core

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration covers setup mistakes: bad calling point names,
	// non-divisor timesteps, duplicate bindings.
	ErrConfiguration        = errors.New("configuration error")
	ErrNameCollision        = errors.New("metric name already in use")
	ErrUnknownMetric        = errors.New("unknown metric")
	ErrUnknownActuator      = errors.New("unknown actuator")
	ErrInvalidWeatherMetric = errors.New("invalid weather metric")
	ErrHandleNotFound       = errors.New("handle not found")
	ErrMalformedDeclaration = errors.New("malformed declaration")
	ErrMixedCategoryRequest = errors.New("category names must be requested alone")
	ErrRewardShape          = errors.New("reward shape mismatch")
	ErrNotRun               = errors.New("simulation has not completed")
	ErrAborted              = errors.New("run aborted")

	// ErrInsufficientHistory is the only recoverable error: callers may ask
	// for history before enough samples exist.
	ErrInsufficientHistory = errors.New("insufficient history")
)

// HandleNotFoundError is returned when the engine answers a lookup with the
// invalid-handle sentinel. Key lets the caller cross-reference their model.
type HandleNotFoundError struct {
	Name     string
	Category Category
	Key      LookupKey
}

func (e *HandleNotFoundError) Error() string {
	return fmt.Sprintf("%s: %s %q %s could not be found, check the building model for accuracy",
		ErrHandleNotFound, e.Category, e.Name, e.Key)
}

func (e *HandleNotFoundError) Unwrap() error {
	return ErrHandleNotFound
}

// IsFatal reports whether err must abort a run.
func IsFatal(err error) bool {
	return err != nil && !errors.Is(err, ErrInsufficientHistory)
}
