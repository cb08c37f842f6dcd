package domain

import "time"

// Challenge represents the single active OTP challenge for a subject
// (stored in otp_challenges table, one row per profile).
type Challenge struct {
	ProfileID         string
	CodeHash          string
	ExpiresAt         time.Time
	AttemptsRemaining int
	UpdatedAt         time.Time
}
