package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditKind classifies a signing service transition.
type AuditKind string

const (
	AuditKindStart   AuditKind = "START"
	AuditKindConnect AuditKind = "CONNECT"
	AuditKindReject  AuditKind = "REJECT"
	AuditKindReceive AuditKind = "RECEIVE"
	AuditKindServe   AuditKind = "SERVE"
	AuditKindClose   AuditKind = "CLOSE"
	AuditKindError   AuditKind = "ERROR"
	AuditKindStop    AuditKind = "STOP"
)

// AuditEvent records a single human-readable line about the signing service.
type AuditEvent struct {
	ID        uuid.UUID  `json:"id"`
	ConnID    *uuid.UUID `json:"conn_id,omitempty"`
	Kind      AuditKind  `json:"kind"`
	Source    string     `json:"source,omitempty"` // remote ip:port
	Info      string     `json:"info"`
	CreatedAt time.Time  `json:"time"`
}

// NewAuditEvent builds an event stamped with a fresh ID and the current time.
func NewAuditEvent(kind AuditKind, connID *uuid.UUID, source, info string) *AuditEvent {
	return &AuditEvent{
		ID:        uuid.New(),
		ConnID:    connID,
		Kind:      kind,
		Source:    source,
		Info:      info,
		CreatedAt: time.Now().UTC(),
	}
}
