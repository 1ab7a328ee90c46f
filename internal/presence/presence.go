// Package presence publishes which wrapped sources are currently running on
// an aggregation server.
package presence

import "context"

// Source is the last lifecycle state reported for one named process.
type Source struct {
	Name      string  `json:"name"`
	Event     string  `json:"event"`
	PID       int     `json:"pid,omitempty"`
	Code      *int    `json:"code,omitempty"`
	Timestamp float64 `json:"timestamp"`
}

type Store interface {
	Upsert(ctx context.Context, src Source, ownerInstanceID string, ttlSeconds int) error
	Delete(ctx context.Context, name string) error
	Close() error
}

type NoopStore struct{}

func (NoopStore) Upsert(ctx context.Context, src Source, ownerInstanceID string, ttlSeconds int) error {
	return nil
}

func (NoopStore) Delete(ctx context.Context, name string) error {
	return nil
}

func (NoopStore) Close() error {
	return nil
}
