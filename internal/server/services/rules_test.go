package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dzintars-a/coldkeeper/internal/common"
	"github.com/dzintars-a/coldkeeper/internal/server/models"
)

func newRuleFixture() (*RuleService, *memRM, *memAudit, *memInvalidator) {
	rm := newMemRM()
	aud := &memAudit{}
	inv := &memInvalidator{}
	return NewRuleService(nil, rm, aud, inv, testLogger()), rm, aud, inv
}

func TestRuleService_CreateAssignsIDAndInvalidates(t *testing.T) {
	svc, rm, aud, inv := newRuleFixture()

	rule, err := svc.Create(context.Background(), &models.ArchiveRule{
		TenantID:   "t1",
		Name:       "old finance files",
		Type:       models.RuleAge,
		Criteria:   []byte(`{"inactiveDays":180}`),
		TargetTier: models.TierCold,
	}, "user:alice")
	require.NoError(t, err)
	assert.NotEmpty(t, rule.ID)
	assert.True(t, rule.Active)

	stored, err := rm.rules.Get(context.Background(), "t1", rule.ID)
	require.NoError(t, err)
	assert.Equal(t, "old finance files", stored.Name)

	assert.Equal(t, 1, inv.calls())
	assert.Contains(t, aud.actions(), "rule.create")
}

func TestRuleService_CreateValidation(t *testing.T) {
	svc, _, _, _ := newRuleFixture()

	cases := []struct {
		name string
		rule models.ArchiveRule
	}{
		{"missing tenant", models.ArchiveRule{Name: "x", Type: models.RuleAge, Criteria: []byte(`{"inactiveDays":1}`), TargetTier: models.TierCool}},
		{"missing name", models.ArchiveRule{TenantID: "t1", Type: models.RuleAge, Criteria: []byte(`{"inactiveDays":1}`), TargetTier: models.TierCool}},
		{"bad criteria", models.ArchiveRule{TenantID: "t1", Name: "x", Type: models.RuleAge, Criteria: []byte(`{"inactiveDays":0}`), TargetTier: models.TierCool}},
		{"warm tier", models.ArchiveRule{TenantID: "t1", Name: "x", Type: models.RuleAge, Criteria: []byte(`{"inactiveDays":1}`), TargetTier: models.TierWarm}},
		{"no tier", models.ArchiveRule{TenantID: "t1", Name: "x", Type: models.RuleAge, Criteria: []byte(`{"inactiveDays":1}`)}},
		{"exclusion with tier", models.ArchiveRule{TenantID: "t1", Name: "x", Type: models.RuleExclusion, Criteria: []byte(`{"types":["pdf"]}`), TargetTier: models.TierCool}},
		{"unbounded size rule", models.ArchiveRule{TenantID: "t1", Name: "x", Type: models.RuleFileType, Criteria: []byte(`{"types":[]}`), TargetTier: models.TierCool}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rule := tc.rule
			_, err := svc.Create(context.Background(), &rule, "user:alice")
			assert.ErrorIs(t, err, common.ErrValidation)
		})
	}
}

func TestRuleService_DeleteSoftDeletesAndInvalidates(t *testing.T) {
	svc, rm, aud, inv := newRuleFixture()
	rule, err := svc.Create(context.Background(), &models.ArchiveRule{
		TenantID:   "t1",
		Name:       "temp",
		Type:       models.RuleSize,
		Criteria:   []byte(`{"minBytes":1048576}`),
		TargetTier: models.TierCool,
	}, "user:alice")
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), "t1", rule.ID, "user:alice"))

	_, err = rm.rules.Get(context.Background(), "t1", rule.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.Equal(t, 2, inv.calls())
	assert.Contains(t, aud.actions(), "rule.delete")
}
