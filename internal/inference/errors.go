package inference

import (
	"errors"
	"fmt"
)

// ErrInvalidInput indicates undecodable or empty image bytes
var ErrInvalidInput = errors.New("invalid input")

// ErrTimeout indicates the request deadline expired mid-prediction
var ErrTimeout = errors.New("prediction timeout")

// BatchTooLargeError indicates a batch above the configured limit
type BatchTooLargeError struct {
	Size  int
	Limit int
}

func (e BatchTooLargeError) Error() string {
	return fmt.Sprintf("batch of %d exceeds limit of %d", e.Size, e.Limit)
}
