package models

import "time"

// RuleType tags the criteria shape carried by an ArchiveRule.
type RuleType string

const (
	RuleAge       RuleType = "age"
	RuleSize      RuleType = "size"
	RuleFileType  RuleType = "type"
	RuleOwner     RuleType = "owner"
	RuleExclusion RuleType = "exclusion"
)

// ArchiveRule is a tenant-scoped predicate. Criteria is stored as opaque
// JSON and parsed once at rule-load time (see internal/rules).
//
// Exclusion rules never carry target-tier semantics and always take
// precedence over matching archive rules for the same file.
type ArchiveRule struct {
	ID       string
	TenantID string
	Name     string
	Type     RuleType

	// Criteria is the raw JSON criteria document for Type.
	Criteria []byte

	// TargetTier applies to non-exclusion rules only.
	TargetTier StorageTier

	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt time.Time
}
