package task

import (
	"errors"
	"fmt"
)

var (
	ErrNoURLs            = errors.New("no urls provided")
	ErrTaskNotFound      = errors.New("task not found")
	ErrInvalidURL        = errors.New("url must be absolute http or https")
	ErrDuplicateURL      = errors.New("url already submitted")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrRetryLimit        = errors.New("retry limit reached")
	ErrNotCompleted      = errors.New("task not completed")
	ErrNoneSaved         = errors.New("no assets could be saved")
	ErrTooManyPersist    = errors.New("too many assets failed to save")
)

func transitionError(from, to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// reason renders err as a task error message of at most 100 runes.
func reason(err error) string {
	runes := []rune(err.Error())
	if len(runes) > maxReasonRunes {
		runes = runes[:maxReasonRunes]
	}
	return string(runes)
}
