package store

import (
	"encoding/json"
	"time"
)

// PR lifecycle states. Open transitions to merged or rejected exactly
// once; both are terminal.
const (
	StatusOpen     = "open"
	StatusMerged   = "merged"
	StatusRejected = "rejected"
)

type SampleStats struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

type User struct {
	ID                    string
	Username              string
	Email                 string
	FullName              string
	PasswordHash          string
	Role                  string
	IsVerified            bool
	VerificationCode      string
	VerificationExpiresAt *time.Time
	SampleStats           SampleStats
	CreatedAt             time.Time
}

// Fork is a user's private full-replacement draft of a dataset.
// At most one fork exists per (username, dataset path).
type Fork struct {
	ID          string
	Username    string
	DatasetPath string
	Content     []json.RawMessage
	UpdatedAt   time.Time
}

type PullRequest struct {
	ID            string    `json:"id"`
	Username      string    `json:"username"`
	DatasetPath   string    `json:"dataset_path"`
	Status        string    `json:"status"`
	Description   string    `json:"description"`
	AcceptedCount int       `json:"accepted_count"`
	RejectedCount int       `json:"rejected_count"`
	CreatedAt     time.Time `json:"created_at"`
}
