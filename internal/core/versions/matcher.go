// Package versions decides whether a target's runtime can run an artifact.
// This is part of the Functional Core - all functions are pure with no I/O.
package versions

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/artpar/deployer/internal/core/domain"
)

// Matcher compares a required runtime version against what a target supports.
type Matcher interface {
	Matches(required string, supported domain.SupportedVersions) bool
}

// ExactMatcher requires the exact version string to be supported.
type ExactMatcher struct{}

// Matches implements Matcher.
func (ExactMatcher) Matches(required string, supported domain.SupportedVersions) bool {
	return supported.Contains(required)
}

// SemverLineMatcher accepts any supported version on the same major.minor
// line that is not older than the required version.
//
// Example:
//
//	required "4.4.0", supported {"4.4.2"}  → match
//	required "4.4.0", supported {"4.5.0"}  → no match
//	required "4.4.3", supported {"4.4.2"}  → no match
type SemverLineMatcher struct{}

// Matches implements Matcher.
func (SemverLineMatcher) Matches(required string, supported domain.SupportedVersions) bool {
	req := Canonical(required)
	if req == "" {
		return supported.Contains(required)
	}
	for _, v := range supported.List() {
		s := Canonical(v)
		if s == "" {
			if v == required {
				return true
			}
			continue
		}
		if semver.MajorMinor(s) == semver.MajorMinor(req) && semver.Compare(s, req) >= 0 {
			return true
		}
	}
	return false
}

// ForPolicy returns the matcher for a configured policy.
// An empty policy selects exact matching.
func ForPolicy(p domain.VersionMatch) (Matcher, error) {
	switch p {
	case "", domain.VersionMatchExact:
		return ExactMatcher{}, nil
	case domain.VersionMatchSemverLine:
		return SemverLineMatcher{}, nil
	default:
		return nil, fmt.Errorf("unknown version match policy %q", p)
	}
}

// Check returns a ValidationFailure unless required is satisfied.
// An empty requirement always passes.
func Check(m Matcher, subject, required string, supported domain.SupportedVersions) error {
	if required == "" {
		return nil
	}
	if m.Matches(required, supported) {
		return nil
	}
	return domain.ValidationFailure("validate", subject,
		fmt.Sprintf("runtime version %s is not supported by the target (supported: %s)",
			required, strings.Join(supported.List(), ", ")), nil)
}

// Canonical returns the semver form of v ("4.4" → "v4.4.0"), or "" when v is
// not a semantic version.
func Canonical(v string) string {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return ""
	}
	return semver.Canonical(v)
}

// Major returns the major component of v: the substring before the first ".".
func Major(v string) string {
	if i := strings.Index(v, "."); i >= 0 {
		return v[:i]
	}
	return v
}

// Sort orders versions semantically, falling back to lexical order for
// versions that are not semantic.
func Sort(list []string) {
	sort.SliceStable(list, func(i, j int) bool {
		return less(list[i], list[j])
	})
}

func less(a, b string) bool {
	ca, cb := Canonical(a), Canonical(b)
	if ca != "" && cb != "" {
		if c := semver.Compare(ca, cb); c != 0 {
			return c < 0
		}
	}
	return a < b
}
