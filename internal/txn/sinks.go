package txn

import (
	"context"
	"errors"
	"sync"
)

// AuditSink records workflow milestones. Implementations must be safe for
// concurrent use; append failures are logged by callers and never abort a
// workflow.
type AuditSink interface {
	Append(ctx context.Context, entry AuditEntry) error
}

// IntegrationSink records one entry per outbound call attempt, success or
// failure. Same fail-safe contract as AuditSink.
type IntegrationSink interface {
	Append(ctx context.Context, entry IntegrationEntry) error
}

// MemoryAuditSink keeps audit entries in memory.
type MemoryAuditSink struct {
	mu      sync.Mutex
	entries []AuditEntry
}

// NewMemoryAuditSink constructs an empty in-memory audit sink.
func NewMemoryAuditSink() *MemoryAuditSink {
	return &MemoryAuditSink{}
}

func (s *MemoryAuditSink) Append(ctx context.Context, entry AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

// Entries returns a copy of everything appended so far.
func (s *MemoryAuditSink) Entries() []AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AuditEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// MemoryIntegrationSink keeps integration entries in memory.
type MemoryIntegrationSink struct {
	mu      sync.Mutex
	entries []IntegrationEntry
}

// NewMemoryIntegrationSink constructs an empty in-memory integration sink.
func NewMemoryIntegrationSink() *MemoryIntegrationSink {
	return &MemoryIntegrationSink{}
}

func (s *MemoryIntegrationSink) Append(ctx context.Context, entry IntegrationEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

// Entries returns a copy of everything appended so far.
func (s *MemoryIntegrationSink) Entries() []IntegrationEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]IntegrationEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// MultiAuditSink fans an entry out to several sinks, giving each a chance
// to write before reporting joined errors.
type MultiAuditSink struct {
	sinks []AuditSink
}

// NewMultiAuditSink constructs an AuditSink appending to each sink in order.
func NewMultiAuditSink(sinks ...AuditSink) *MultiAuditSink {
	return &MultiAuditSink{sinks: sinks}
}

func (m *MultiAuditSink) Append(ctx context.Context, entry AuditEntry) error {
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Append(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MultiIntegrationSink fans an entry out to several sinks.
type MultiIntegrationSink struct {
	sinks []IntegrationSink
}

// NewMultiIntegrationSink constructs an IntegrationSink appending to each
// sink in order.
func NewMultiIntegrationSink(sinks ...IntegrationSink) *MultiIntegrationSink {
	return &MultiIntegrationSink{sinks: sinks}
}

func (m *MultiIntegrationSink) Append(ctx context.Context, entry IntegrationEntry) error {
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Append(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
