package pipeline

import "context"

// Task is a handle to an in-flight ingestion. It completes exactly once, after
// the terminal status (indexed or failed) has been written to the registry.
type Task struct {
	paperID string
	done    chan struct{}
	err     error
}

func newTask(paperID string) *Task {
	return &Task{paperID: paperID, done: make(chan struct{})}
}

// PaperID returns the ID of the paper being ingested.
func (t *Task) PaperID() string { return t.paperID }

// Wait blocks until the ingestion finishes or ctx is done. It returns the
// ingestion error (nil on success), or the ctx error if ctx finishes first.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns a channel closed when the ingestion finishes.
func (t *Task) Done() <-chan struct{} { return t.done }

func (t *Task) finish(err error) {
	t.err = err
	close(t.done)
}
