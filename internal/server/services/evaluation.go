// Package services implements the application services the API layer and
// the orchestrations call into: rule evaluation, archive/retrieval
// triggers, veto resolution, approval routing, rule CRUD and tenant
// settings.
package services

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/dzintars-a/coldkeeper/internal/logging"
	"github.com/dzintars-a/coldkeeper/internal/rules"
	sc "github.com/dzintars-a/coldkeeper/internal/server/config"
	"github.com/dzintars-a/coldkeeper/internal/server/models"
	"github.com/dzintars-a/coldkeeper/internal/server/repositories/repomanager"
	"github.com/dzintars-a/coldkeeper/internal/server/workflows"
)

// ruleCacheTTL bounds staleness for rule sets loaded by evaluation;
// CRUD paths invalidate eagerly, the TTL only covers other writers.
const ruleCacheTTL = 5 * time.Minute

const ruleCacheSize = 256

// compiledRuleSet is a tenant's parsed rule set, split into the two
// precedence classes.
type compiledRuleSet struct {
	exclusions []rules.CompiledRule
	archives   []rules.CompiledRule
}

// EvaluationService applies the rule engine across a tenant's active
// files, either committing results for an archive run or previewing the
// impact of a candidate rule.
type EvaluationService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	config      *sc.Config
	log         logging.Logger
	cache       *expirable.LRU[string, compiledRuleSet]
}

func NewEvaluationService(db *sql.DB, rm repomanager.RepositoryManager, config *sc.Config, log logging.Logger) *EvaluationService {
	return &EvaluationService{
		db:          db,
		repomanager: rm,
		config:      config,
		log:         log,
		cache:       expirable.NewLRU[string, compiledRuleSet](ruleCacheSize, nil, ruleCacheTTL),
	}
}

// InvalidateRules drops the tenant's cached rule set. Called by the rule
// service after any rule mutation.
func (s *EvaluationService) InvalidateRules(tenantID string) {
	s.cache.Remove(tenantID)
}

func (s *EvaluationService) loadRules(ctx context.Context, tenantID string) (compiledRuleSet, error) {
	if set, ok := s.cache.Get(tenantID); ok {
		return set, nil
	}
	list, err := s.repomanager.Rules(s.db).ListActive(ctx, tenantID)
	if err != nil {
		return compiledRuleSet{}, fmt.Errorf("load rules: %w", err)
	}
	exclusions, archives, err := rules.CompileAll(list)
	if err != nil {
		return compiledRuleSet{}, fmt.Errorf("compile rules: %w", err)
	}
	set := compiledRuleSet{exclusions: exclusions, archives: archives}
	s.cache.Add(tenantID, set)
	return set, nil
}

// EvaluationResult is one file's verdict. Files no rule had an opinion on
// are omitted from evaluation output.
type EvaluationResult struct {
	File             *models.FileRecord
	ExcludedByRuleID string
	MatchedRuleID    string
	TargetTier       models.StorageTier
}

// EvaluateAll evaluates up to the configured file cap of the tenant's
// active files, in stable (path, id) order. When ruleID is set, only that
// archive rule is considered; exclusion rules always all apply.
func (s *EvaluationService) EvaluateAll(ctx context.Context, tenantID, ruleID string) ([]EvaluationResult, error) {
	set, err := s.loadRules(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	archives := set.archives
	if ruleID != "" {
		archives = nil
		for _, r := range set.archives {
			if r.Rule.ID == ruleID {
				archives = append(archives, r)
			}
		}
	}

	files, err := s.repomanager.Files(s.db).ListActive(ctx, tenantID, s.config.EvaluationFileCap)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}

	now := time.Now().UTC()
	var out []EvaluationResult
	for _, f := range files {
		d := rules.Evaluate(now, f, set.exclusions, archives)
		switch {
		case d.ExcludedBy != nil:
			out = append(out, EvaluationResult{File: f, ExcludedByRuleID: d.ExcludedBy.Rule.ID})
		case d.MatchedBy != nil:
			out = append(out, EvaluationResult{
				File:          f,
				MatchedRuleID: d.MatchedBy.Rule.ID,
				TargetTier:    d.MatchedBy.Rule.TargetTier,
			})
		}
	}
	return out, nil
}

// ArchiveCandidates returns the files matched by an archive rule and not
// excluded, in the shape the archive orchestration consumes.
func (s *EvaluationService) ArchiveCandidates(ctx context.Context, tenantID, ruleID string) ([]workflows.Candidate, error) {
	results, err := s.EvaluateAll(ctx, tenantID, ruleID)
	if err != nil {
		return nil, err
	}
	var cands []workflows.Candidate
	for _, r := range results {
		if r.MatchedRuleID == "" {
			continue
		}
		cands = append(cands, workflows.Candidate{
			File:       r.File,
			RuleID:     r.MatchedRuleID,
			TargetTier: r.TargetTier,
		})
	}
	return cands, nil
}

// previewTopSites caps the per-site impact list in a preview.
const previewTopSites = 5

// SiteImpact summarizes a preview's effect on one site.
type SiteImpact struct {
	SiteID     string `json:"siteId"`
	SiteName   string `json:"siteName"`
	FileCount  int    `json:"fileCount"`
	TotalBytes int64  `json:"totalBytes"`
}

// PreviewResult is a dry-run impact estimate for a candidate rule.
type PreviewResult struct {
	MatchCount    int          `json:"matchCount"`
	TotalBytes    int64        `json:"totalBytes"`
	TopSites      []SiteImpact `json:"topSites"`
	AnnualSavings float64      `json:"annualSavings"`
}

// Preview evaluates a candidate rule (saved or not) against the tenant's
// active files and exclusion rules. Savings are projected as
// GB × (reference cost − target tier cost) × 12, floored at zero.
func (s *EvaluationService) Preview(ctx context.Context, tenantID string, ruleType models.RuleType, criteria []byte, targetTier models.StorageTier) (*PreviewResult, error) {
	candidate, err := rules.Compile(models.ArchiveRule{
		ID:         "preview",
		TenantID:   tenantID,
		Type:       ruleType,
		Criteria:   criteria,
		TargetTier: targetTier,
		Active:     true,
	})
	if err != nil {
		return nil, err
	}

	set, err := s.loadRules(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	files, err := s.repomanager.Files(s.db).ListActive(ctx, tenantID, s.config.EvaluationFileCap)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}

	now := time.Now().UTC()
	res := &PreviewResult{}
	perSite := make(map[string]*SiteImpact)
	for _, f := range files {
		d := rules.Evaluate(now, f, set.exclusions, []rules.CompiledRule{candidate})
		if d.MatchedBy == nil {
			continue
		}
		res.MatchCount++
		res.TotalBytes += f.SizeBytes
		imp, ok := perSite[f.SiteID]
		if !ok {
			imp = &SiteImpact{SiteID: f.SiteID, SiteName: f.SiteName}
			perSite[f.SiteID] = imp
		}
		imp.FileCount++
		imp.TotalBytes += f.SizeBytes
	}

	sites := make([]SiteImpact, 0, len(perSite))
	for _, imp := range perSite {
		sites = append(sites, *imp)
	}
	sort.Slice(sites, func(i, j int) bool {
		if sites[i].TotalBytes != sites[j].TotalBytes {
			return sites[i].TotalBytes > sites[j].TotalBytes
		}
		return sites[i].SiteID < sites[j].SiteID
	})
	if len(sites) > previewTopSites {
		sites = sites[:previewTopSites]
	}
	res.TopSites = sites

	gb := float64(res.TotalBytes) / (1024 * 1024 * 1024)
	savings := gb * (s.config.ReferenceCostGBMonth - s.config.TierCostGBMonth(string(targetTier))) * 12
	if savings > 0 {
		res.AnnualSavings = savings
	}
	return res, nil
}
