package counter

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// 计数器的错误
var (
	// ErrStoreUnavailable the store is unreachable or failed,no partial write is applied
	ErrStoreUnavailable = errors.New("counter store unavailable")
	// ErrTimeout the store round-trip exceeded the deadline,it is also an ErrStoreUnavailable
	ErrTimeout error = timeoutError{}
	// ErrInvalidField the field is not a registered counter
	ErrInvalidField = errors.New("invalid counter field")
	// ErrInvalidAmount the amount must be positive
	ErrInvalidAmount = errors.New("invalid counter amount")
	// ErrInvalidEntity the entity id is empty or malformed
	ErrInvalidEntity = errors.New("invalid entity id")
)

type timeoutError struct{}

func (timeoutError) Error() string {
	return "counter store timeout"
}

func (timeoutError) Timeout() bool {
	return true
}

func (timeoutError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

// StoreError is the error returned by a failed store call
type StoreError struct {
	Kind error
	Err  error
}

func (e *StoreError) Error() string {
	return e.Kind.Error() + ": " + e.Err.Error()
}

// Unwrap return the cause
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is match the kind of the error
func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// IsValidationError check err is caused by invalid params
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidField) || errors.Is(err, ErrInvalidAmount) || errors.Is(err, ErrInvalidEntity)
}

// storeError classify the error of a store call to ErrStoreUnavailable or ErrTimeout
func storeError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if IsValidationError(err) {
		return err
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return &StoreError{Kind: ErrTimeout, Err: err}
	}
	return &StoreError{Kind: ErrStoreUnavailable, Err: err}
}

// NegativeResultWarning is reported when a decrement leaves the counter below zero.
// It is informational,the value is still the arithmetic result of the deltas.
type NegativeResultWarning struct {
	EntityID string `json:"entity_id"`
	Field    string `json:"field"`
	Delta    int64  `json:"delta"`
	Value    int64  `json:"value"`
}

func (w *NegativeResultWarning) Error() string {
	return fmt.Sprintf("counter %s of %s is negative after delta %d: %d", w.Field, w.EntityID, w.Delta, w.Value)
}

// NegativeHook is called with the warning of a negative result
type NegativeHook func(ctx context.Context, warning *NegativeResultWarning)
