// Package queue runs background jobs. The port types keep asynq out of the
// chat code; the reminder job lives in reminders.go.
package queue

import (
	"context"
	"errors"
	"time"
)

// Task is a background job with a stable type and an opaque payload.
type Task struct {
	Type    string
	Payload []byte
}

// Handler processes a Task. A non-nil error asks for a retry, so handlers
// must be idempotent.
type Handler func(ctx context.Context, task Task) error

// EnqueueOption controls enqueue behavior. Zero values mean unspecified.
type EnqueueOption struct {
	ProcessIn time.Duration
	MaxRetry  int
	UniqueTTL time.Duration
}

// ErrDuplicate is returned by Enqueue when a unique task is already pending.
var ErrDuplicate = errors.New("queue: duplicate task")

type Client interface {
	Enqueue(ctx context.Context, t Task, opts ...EnqueueOption) (id string, err error)
	Close() error
}

// Server blocks in Run until ctx is canceled.
type Server interface {
	Register(taskType string, h Handler)
	Run(ctx context.Context) error
}
