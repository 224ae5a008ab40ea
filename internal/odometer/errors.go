package odometer

import (
	"errors"
	"fmt"

	"github.com/opensource-fleet/fleetwatch/internal/domain"
)

var (
	// ErrSuperseded is returned by a keyed validation overtaken by a newer
	// call for the same key.
	ErrSuperseded = errors.New("validation superseded")
)

// RejectedError is returned when a reading fails validation on save.
type RejectedError struct {
	Verdict *domain.ValidationVerdict
}

func (e *RejectedError) Error() string {
	if len(e.Verdict.Errors) == 0 {
		return "reading rejected"
	}
	return fmt.Sprintf("reading rejected: %s", e.Verdict.Errors[0])
}
