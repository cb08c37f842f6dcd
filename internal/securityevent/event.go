// Package securityevent emits auth security events (token reuse, signout
// everywhere) to Kafka so they can be alerted on out of band.
package securityevent

import (
	"context"
	"time"
)

// Event kinds emitted by the token service.
const (
	KindTokenReuse        = "token_reuse_detected"
	KindSignoutEverywhere = "signout_everywhere"
)

// Event is one security-relevant occurrence in the auth core.
type Event struct {
	Kind       string    `json:"kind"`
	UserID     string    `json:"user_id"`
	ProfileID  string    `json:"profile_id,omitempty"`
	FamilyID   string    `json:"family_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	Detail     string    `json:"detail,omitempty"`
}

// Emitter publishes security events. Emit is best-effort for callers: the
// token service logs failures but never fails the request over them.
type Emitter interface {
	Emit(ctx context.Context, event *Event) error
}
