package domain

import "time"

// AuditLog is one recorded auth event (stored in audit_logs table).
type AuditLog struct {
	ID        string
	UserID    string
	Action    string
	Resource  string
	IP        string
	Metadata  string
	CreatedAt time.Time
}
