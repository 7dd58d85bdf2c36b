package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Workflow kinds used when deriving instance ids.
const (
	WorkflowArchive  = "archive"
	WorkflowRetrieve = "retrieve"
)

// DeriveOperationID returns the deterministic operation id for a
// (file, rule) pair: the first 16 hex characters of
// sha256("fileID|ruleID"), lower-case. ruleID may be empty (ad hoc
// retrievals). Stable across processes so that re-invoking an action for
// the same pair lands on the same record.
func DeriveOperationID(fileID, ruleID string) string {
	sum := sha256.Sum256([]byte(fileID + "|" + ruleID))
	return hex.EncodeToString(sum[:])[:16]
}

// ArchiveInstanceID derives the workflow instance id for an archive run:
// "archive-{tenantID}" for whole-tenant runs, "archive-{tenantID}-{ruleID}"
// when scoped to one rule. Scheduling an instance whose id is already
// Running or Pending must be rejected as a duplicate.
func ArchiveInstanceID(tenantID, ruleID string) string {
	if ruleID == "" {
		return fmt.Sprintf("%s-%s", WorkflowArchive, tenantID)
	}
	return fmt.Sprintf("%s-%s-%s", WorkflowArchive, tenantID, ruleID)
}

// RetrieveInstanceID derives the workflow instance id for a per-file
// rehydration run.
func RetrieveInstanceID(fileID string) string {
	return fmt.Sprintf("%s-%s", WorkflowRetrieve, fileID)
}
