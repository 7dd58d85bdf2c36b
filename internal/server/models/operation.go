package models

import "time"

// ActionKind distinguishes migrations to a colder tier from retrievals.
type ActionKind string

const (
	ActionArchive  ActionKind = "archive"
	ActionRetrieve ActionKind = "retrieve"
)

// OperationStatus is the archive-operation state machine:
//
//	Pending → InProgress → AwaitingApproval → {Approved | Vetoed | ReviewRequested} → {Completed | Failed}
//	Vetoed → {VetoAccepted | VetoOverridden}
type OperationStatus string

const (
	OpPending          OperationStatus = "pending"
	OpInProgress       OperationStatus = "in_progress"
	OpAwaitingApproval OperationStatus = "awaiting_approval"
	OpApproved         OperationStatus = "approved"
	OpVetoed           OperationStatus = "vetoed"
	OpReviewRequested  OperationStatus = "review_requested"
	OpVetoAccepted     OperationStatus = "veto_accepted"
	OpVetoOverridden   OperationStatus = "veto_overridden"
	OpRetrieving       OperationStatus = "retrieving"
	OpCompleted        OperationStatus = "completed"
	OpFailed           OperationStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed. A Vetoed
// operation is not terminal: it stays resolvable until a human accepts or
// overrides the veto.
func (s OperationStatus) IsTerminal() bool {
	switch s {
	case OpCompleted, OpFailed, OpVetoAccepted, OpVetoOverridden:
		return true
	}
	return false
}

// MaxErrorLen caps the persisted error text on failed operations.
const MaxErrorLen = 2000

// ArchiveOperation represents one attempted migration (or retrieval) of one
// file. At most one non-terminal operation exists per (file, rule) pair;
// this is enforced by the deterministic operation id (see DeriveOperationID)
// together with deletion of terminal predecessors before re-creation.
type ArchiveOperation struct {
	ID       string
	TenantID string
	FileID   string
	RuleID   string
	SiteID   string

	Action     ActionKind
	SourcePath string
	DestPath   string
	TargetTier StorageTier

	Status OperationStatus

	// ApprovedBy / VetoedBy record the acting identity for audit purposes.
	ApprovedBy string
	VetoedBy   string
	VetoReason string
	VetoedAt   time.Time

	// Error holds the truncated failure text for Failed operations.
	Error string

	CreatedAt   time.Time
	CompletedAt time.Time
}

// TruncateError clamps msg to MaxErrorLen runes worth of bytes. Messages are
// operator-facing; a hard byte cut is acceptable.
func TruncateError(msg string) string {
	if len(msg) <= MaxErrorLen {
		return msg
	}
	return msg[:MaxErrorLen]
}
