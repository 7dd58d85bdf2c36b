package models

import "time"

// ApprovalAction is the owner's response to an approval request.
type ApprovalAction string

const (
	ApprovalApprove ApprovalAction = "approve"
	ApprovalReject  ApprovalAction = "reject"
	ApprovalReview  ApprovalAction = "review"
)

// ApprovalActionInput is the decoded payload of an inbound approval signal,
// either delivered by the notification channel or synthesized by
// timeout-driven auto-approval.
type ApprovalActionInput struct {
	Action          ApprovalAction `json:"action"`
	TenantID        string         `json:"tenantId"`
	SiteID          string         `json:"siteId"`
	OrchestrationID string         `json:"orchestrationId"`
	Reason          string         `json:"reason,omitempty"`
	Actor           string         `json:"actor"`
	Timestamp       time.Time      `json:"timestamp"`
}

// SiteOwnerFileGroup is the unit of notification: one chat card per
// (content owner, site) pair. It is recomputed on each orchestration run
// and never persisted.
type SiteOwnerFileGroup struct {
	SiteID     string
	SiteName   string
	OwnerID    string
	OwnerEmail string
	OwnerName  string

	FileIDs    []string
	FileCount  int
	TotalBytes int64
	TargetTier StorageTier
}

// TenantSettings carries per-tenant archival policy.
type TenantSettings struct {
	TenantID string

	// AutoApprovalDays controls the approval wait:
	//   nil:   auto-approval disabled; un-answered sites are skipped after
	//          the wait ceiling
	//   0:     immediate auto-approval, no notifications sent
	//   1-365: notify, then auto-approve after that many days
	AutoApprovalDays *int

	UpdatedAt time.Time
	UpdatedBy string
}
