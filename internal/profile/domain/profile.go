package domain

import "time"

// Profile represents a subject identified by phone number (stored in profiles table).
// The auth core only reads/creates the id and phone number; KYC and personal
// fields belong to other modules.
type Profile struct {
	ID          string
	PhoneNumber string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// User is the account row owned by a profile. Created together with the
// profile on first contact; inactive until verification elsewhere.
type User struct {
	ID        string
	ProfileID string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Subject pairs the profile and user ids of a verified identity.
type Subject struct {
	ProfileID string
	UserID    string
}
