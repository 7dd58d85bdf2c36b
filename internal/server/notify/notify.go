// Package notify delivers approval-request cards to content owners over
// the chat notification channel.
package notify

import (
	"context"
	"errors"

	"github.com/dzintars-a/coldkeeper/internal/common"
	"github.com/dzintars-a/coldkeeper/internal/server/models"
)

// Recipient identifies a content owner on the notification channel. At
// least one of AccountID or Email must be present; a recipient with
// neither is a non-retryable delivery failure.
type Recipient struct {
	AccountID string `json:"accountId,omitempty"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
}

// Validate reports whether the recipient can be addressed at all.
func (r Recipient) Validate() error {
	if r.AccountID == "" && r.Email == "" {
		return common.NonRetryable(errors.New("recipient has neither account id nor email"))
	}
	return nil
}

// Card is one approval-request message summarizing the files proposed for
// archival for a single (owner, site) group.
type Card struct {
	TenantID        string             `json:"tenantId"`
	SiteID          string             `json:"siteId"`
	SiteName        string             `json:"siteName"`
	OrchestrationID string             `json:"orchestrationId"`
	FileCount       int                `json:"fileCount"`
	TotalBytes      int64              `json:"totalBytes"`
	TargetTier      models.StorageTier `json:"targetTier"`
	RespondByDays   int                `json:"respondByDays,omitempty"`
}

// Sender is the notification-channel collaborator. SendCard returns nil
// only on confirmed delivery.
type Sender interface {
	SendCard(ctx context.Context, recipient Recipient, card Card) error
}
