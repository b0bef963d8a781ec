package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Inline runs each task synchronously inside Enqueue. It serves as both Client and
// Server when no Redis is configured.
type Inline struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	seq      atomic.Int64
}

var (
	_ Client = (*Inline)(nil)
	_ Server = (*Inline)(nil)
)

func NewInline() *Inline {
	return &Inline{handlers: map[string]Handler{}}
}

func (q *Inline) Register(taskType string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[taskType] = h
}

func (q *Inline) Enqueue(ctx context.Context, t Task, _ ...EnqueueOption) (string, error) {
	q.mu.RLock()
	h, ok := q.handlers[t.Type]
	q.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("inline queue: no handler for %q", t.Type)
	}
	id := fmt.Sprintf("inline-%d", q.seq.Add(1))
	if err := h(ctx, t); err != nil {
		return id, fmt.Errorf("inline queue: %s: %w", t.Type, err)
	}
	return id, nil
}

func (q *Inline) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (q *Inline) Stop(context.Context) error { return nil }

func (q *Inline) Close() error { return nil }
