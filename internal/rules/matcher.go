package rules

import (
	"strings"
	"time"

	"github.com/dzintars-a/coldkeeper/internal/server/models"
)

// Matches reports whether file satisfies rule at the given instant.
// Pure: no I/O and no ambient clock; callers supply now so that workflow
// code stays deterministic under replay.
func Matches(now time.Time, file *models.FileRecord, rule *CompiledRule) bool {
	switch c := rule.Criteria.(type) {
	case AgeCriteria:
		inactive := now.Sub(file.EffectiveActivity())
		return inactive >= time.Duration(c.InactiveDays)*24*time.Hour
	case SizeCriteria:
		if c.MinBytes == nil && c.MaxBytes == nil {
			return false
		}
		if c.MinBytes != nil && file.SizeBytes < *c.MinBytes {
			return false
		}
		if c.MaxBytes != nil && file.SizeBytes > *c.MaxBytes {
			return false
		}
		return true
	case TypeCriteria:
		return containsFold(c.Types, file.Extension)
	case OwnerCriteria:
		return containsFold(c.Owners, file.OwnerID) || containsFold(c.Owners, file.OwnerEmail)
	case ExclusionCriteria:
		if c.LibraryPath != "" && strings.HasPrefix(file.Path, c.LibraryPath) {
			return true
		}
		if c.FolderPath != "" && strings.HasPrefix(file.Path, c.FolderPath) {
			return true
		}
		if containsFold(c.Types, file.Extension) {
			return true
		}
		// ComplianceTags is intentionally not evaluated.
		return false
	}
	return false
}

// Decision is the outcome of evaluating one file against a rule set.
type Decision struct {
	// ExcludedBy is set when an exclusion rule matched. Exclusion always
	// wins: no archive rule result is recorded for an excluded file.
	ExcludedBy *CompiledRule
	// MatchedBy is the first archive rule that matched, in caller order.
	MatchedBy *CompiledRule
}

// Matched reports whether the file drew any opinion at all.
func (d Decision) Matched() bool {
	return d.ExcludedBy != nil || d.MatchedBy != nil
}

// Evaluate applies exclusion rules before archive rules and short-circuits
// on the first exclusion match. Among archive rules the first structural
// match in list order wins; evaluation order beyond that never affects the
// outcome.
func Evaluate(now time.Time, file *models.FileRecord, exclusions, archives []CompiledRule) Decision {
	for i := range exclusions {
		if Matches(now, file, &exclusions[i]) {
			return Decision{ExcludedBy: &exclusions[i]}
		}
	}
	for i := range archives {
		if Matches(now, file, &archives[i]) {
			return Decision{MatchedBy: &archives[i]}
		}
	}
	return Decision{}
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}
