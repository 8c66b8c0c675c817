package realtime

import (
	"context"
	"encoding/json"

	"stockpay/internal/txn"
)

// AuditFeed adapts the hub into an audit sink so workflow milestones reach
// live subscribers alongside the durable log.
type AuditFeed struct {
	hub *Hub
}

// NewAuditFeed constructs an AuditFeed over hub.
func NewAuditFeed(hub *Hub) *AuditFeed {
	return &AuditFeed{hub: hub}
}

// Append publishes the entry as JSON. A full broadcast queue drops the
// message rather than stalling the workflow.
func (f *AuditFeed) Append(ctx context.Context, entry txn.AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	f.hub.Publish(msg)
	return nil
}
