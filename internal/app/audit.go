package app

import (
	"context"
	"log"
	"time"
)

// AuditEntry records one mutating operation after it succeeded.
type AuditEntry struct {
	Time     time.Time `json:"time"`
	UserID   string    `json:"userId"`
	Action   string    `json:"action"`
	Entity   string    `json:"entity"`
	EntityID string    `json:"entityId"`
}

type AuditLogger interface {
	Record(ctx context.Context, entry AuditEntry)
}

// LogAuditor writes audit entries to the process log. It is the default
// sink; deployments that need durable audit trails swap in their own.
type LogAuditor struct{}

func (LogAuditor) Record(_ context.Context, e AuditEntry) {
	log.Printf("audit: user=%s action=%s entity=%s id=%s", e.UserID, e.Action, e.Entity, e.EntityID)
}
