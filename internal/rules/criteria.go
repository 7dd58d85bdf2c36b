// Package rules implements the archive rule engine: a tagged criteria
// union parsed once at rule-load time, and a pure matcher applied per file.
package rules

import (
	"encoding/json"
	"fmt"

	"github.com/dzintars-a/coldkeeper/internal/common"
	"github.com/dzintars-a/coldkeeper/internal/server/models"
)

// Criteria is the parsed, type-checked criteria of one rule. Exactly one
// concrete type corresponds to each models.RuleType.
type Criteria interface {
	isCriteria()
}

// AgeCriteria matches files untouched for at least InactiveDays.
type AgeCriteria struct {
	InactiveDays int `json:"inactiveDays"`
}

// SizeCriteria matches files whose size falls within the optional bounds.
// A rule with neither bound set never matches; this guards against an
// accidental archive-everything rule.
type SizeCriteria struct {
	MinBytes *int64 `json:"minBytes,omitempty"`
	MaxBytes *int64 `json:"maxBytes,omitempty"`
}

// TypeCriteria matches by file extension, case-insensitively.
type TypeCriteria struct {
	Types []string `json:"types"`
}

// OwnerCriteria matches by content owner, case-insensitively.
type OwnerCriteria struct {
	Owners []string `json:"owners"`
}

// ExclusionCriteria shields files from archive rules. A file is excluded
// when its path starts with LibraryPath, or starts with FolderPath, or its
// extension appears in Types.
//
// ComplianceTags is accepted and stored but never evaluated by the matcher.
// This mirrors upstream behavior; see DESIGN.md.
type ExclusionCriteria struct {
	LibraryPath    string   `json:"libraryPath,omitempty"`
	FolderPath     string   `json:"folderPath,omitempty"`
	Types          []string `json:"types,omitempty"`
	ComplianceTags []string `json:"complianceTags,omitempty"`
}

func (AgeCriteria) isCriteria()       {}
func (SizeCriteria) isCriteria()      {}
func (TypeCriteria) isCriteria()      {}
func (OwnerCriteria) isCriteria()     {}
func (ExclusionCriteria) isCriteria() {}

// ParseCriteria decodes raw JSON criteria for the given rule type.
func ParseCriteria(t models.RuleType, raw []byte) (Criteria, error) {
	dec := func(v any) error {
		if len(raw) == 0 {
			return fmt.Errorf("%w: empty criteria", common.ErrValidation)
		}
		if err := json.Unmarshal(raw, v); err != nil {
			return fmt.Errorf("%w: criteria for %s rule: %v", common.ErrValidation, t, err)
		}
		return nil
	}

	switch t {
	case models.RuleAge:
		var c AgeCriteria
		if err := dec(&c); err != nil {
			return nil, err
		}
		if c.InactiveDays <= 0 {
			return nil, fmt.Errorf("%w: age rule requires inactiveDays > 0", common.ErrValidation)
		}
		return c, nil
	case models.RuleSize:
		var c SizeCriteria
		if err := dec(&c); err != nil {
			return nil, err
		}
		return c, nil
	case models.RuleFileType:
		var c TypeCriteria
		if err := dec(&c); err != nil {
			return nil, err
		}
		if len(c.Types) == 0 {
			return nil, fmt.Errorf("%w: type rule requires a non-empty type list", common.ErrValidation)
		}
		return c, nil
	case models.RuleOwner:
		var c OwnerCriteria
		if err := dec(&c); err != nil {
			return nil, err
		}
		if len(c.Owners) == 0 {
			return nil, fmt.Errorf("%w: owner rule requires a non-empty owner list", common.ErrValidation)
		}
		return c, nil
	case models.RuleExclusion:
		var c ExclusionCriteria
		if err := dec(&c); err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("%w: unknown rule type %q", common.ErrValidation, t)
	}
}

// CompiledRule pairs a stored rule with its parsed criteria.
type CompiledRule struct {
	Rule     models.ArchiveRule
	Criteria Criteria
}

// Compile parses the criteria of r. Rules that fail to compile are
// rejected at save time, so callers loading persisted rules may treat an
// error here as data corruption.
func Compile(r models.ArchiveRule) (CompiledRule, error) {
	c, err := ParseCriteria(r.Type, r.Criteria)
	if err != nil {
		return CompiledRule{}, fmt.Errorf("rule %s: %w", r.ID, err)
	}
	return CompiledRule{Rule: r, Criteria: c}, nil
}

// CompileAll compiles rules in caller-supplied order, partitioning them
// into exclusion and archive rules. Order within each partition is
// preserved: among archive rules, the first structural match wins.
func CompileAll(list []models.ArchiveRule) (exclusions, archives []CompiledRule, err error) {
	for _, r := range list {
		cr, err := Compile(r)
		if err != nil {
			return nil, nil, err
		}
		if r.Type == models.RuleExclusion {
			exclusions = append(exclusions, cr)
		} else {
			archives = append(archives, cr)
		}
	}
	return exclusions, archives, nil
}
