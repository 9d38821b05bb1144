package models

import (
	"time"

	"github.com/google/uuid"
)

// UsageAction is the kind of license use being recorded.
type UsageAction string

const (
	// UsageActionVerify records a license check.
	UsageActionVerify UsageAction = "verify"
	// UsageActionDownload records a component download request or redemption.
	UsageActionDownload UsageAction = "download"
)

// UsageEntry is an append-only audit record of a license check or download.
type UsageEntry struct {
	ID uuid.UUID `json:"id"`
	// LicenseID is nil when the presented token could not be matched to a license.
	LicenseID *uuid.UUID  `json:"license_id,omitempty"`
	Action    UsageAction `json:"action"`
	Target    string      `json:"target"`
	Outcome   string      `json:"outcome"`
	Caller    string      `json:"caller,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// NewUsageEntry creates a UsageEntry stamped with the current time.
func NewUsageEntry(licenseID *uuid.UUID, action UsageAction, target, outcome, caller string) *UsageEntry {
	return &UsageEntry{
		ID:        uuid.New(),
		LicenseID: licenseID,
		Action:    action,
		Target:    target,
		Outcome:   outcome,
		Caller:    caller,
		CreatedAt: time.Now().UTC(),
	}
}

// RetentionRun audits one execution of the usage log retention policy.
type RetentionRun struct {
	ID          uuid.UUID `json:"id"`
	Cutoff      time.Time `json:"cutoff"`
	DeletedRows int64     `json:"deleted_rows"`
	RanAt       time.Time `json:"ran_at"`
}
