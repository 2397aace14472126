package snapshot

import "golang.org/x/text/cases"

// TagPolicy decides when two tags name the same snapshot. Filesystems that
// fold case (APFS, NTFS) cannot hold "snapshot" and "Snapshot" side by side,
// so the registry must treat them as one.
type TagPolicy interface {
	// Key returns the canonical form of tag. Two tags collide iff their keys are equal.
	Key(tag string) string
	Name() string
}

type caseSensitivePolicy struct{}

func (caseSensitivePolicy) Key(tag string) string { return tag }
func (caseSensitivePolicy) Name() string          { return "case-sensitive" }

type caseInsensitivePolicy struct{}

// A Caser is stateful, so each call gets its own.
func (caseInsensitivePolicy) Key(tag string) string { return cases.Fold().String(tag) }
func (caseInsensitivePolicy) Name() string          { return "case-insensitive" }

var (
	CaseSensitive   TagPolicy = caseSensitivePolicy{}
	CaseInsensitive TagPolicy = caseInsensitivePolicy{}
)

// DefaultTagPolicy returns the policy matching the host platform's usual filesystem.
func DefaultTagPolicy() TagPolicy {
	if platformFoldsCase {
		return CaseInsensitive
	}
	return CaseSensitive
}

// TagPolicyFor resolves an optional override, falling back to the platform default.
func TagPolicyFor(caseInsensitive *bool) TagPolicy {
	if caseInsensitive == nil {
		return DefaultTagPolicy()
	}
	if *caseInsensitive {
		return CaseInsensitive
	}
	return CaseSensitive
}
