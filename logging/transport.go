package logging

import (
	"context"
	"fmt"
)

// Batch is the unit of delivery: entries for one project, oldest first.
type Batch struct {
	ProjectID string  `json:"projectId"`
	Entries   []Entry `json:"entries"`
}

type Transport interface {
	Deliver(ctx context.Context, batch Batch) error
}

type TransportFunc func(ctx context.Context, batch Batch) error

func (f TransportFunc) Deliver(ctx context.Context, batch Batch) error {
	return f(ctx, batch)
}

// StatusError reports a collector response outside the 2xx range.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("collector responded %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("collector responded %d", e.StatusCode)
}

func (e *StatusError) Type() string {
	return "status_error"
}
