package plugins

import (
	"fmt"
	"sort"
	"strings"

	"github.com/artpar/deployer/internal/core/domain"
	"github.com/artpar/deployer/internal/core/versions"
)

// Conflict describes one plugin present in incompatible major versions.
type Conflict struct {
	Plugin   string   // group:artifact
	Versions []string // every distinct version, sorted
}

// FindConflicts groups plugins by group+artifact and reports every group
// whose distinct versions span more than one major version. The major
// version is the substring before the first ".".
// This is a pure function.
func FindConflicts(deps []domain.ArtifactCoordinate) []Conflict {
	byPlugin := make(map[string]map[string]bool)
	for _, d := range deps {
		key := d.PluginKey()
		if byPlugin[key] == nil {
			byPlugin[key] = make(map[string]bool)
		}
		byPlugin[key][d.Version] = true
	}

	var conflicts []Conflict
	for key, vs := range byPlugin {
		if len(vs) < 2 {
			continue
		}
		majors := make(map[string]bool)
		list := make([]string, 0, len(vs))
		for v := range vs {
			majors[versions.Major(v)] = true
			list = append(list, v)
		}
		if len(majors) < 2 {
			continue
		}
		versions.Sort(list)
		conflicts = append(conflicts, Conflict{Plugin: key, Versions: list})
	}

	sort.Slice(conflicts, func(i, j int) bool {
		return conflicts[i].Plugin < conflicts[j].Plugin
	})
	return conflicts
}

// CheckCompatibility fails packaging when any plugin appears in more than
// one major version. One incompatible group fails the whole check; the
// error names every offending plugin with all of its versions.
func CheckCompatibility(deps []domain.ArtifactCoordinate) error {
	conflicts := FindConflicts(deps)
	if len(conflicts) == 0 {
		return nil
	}

	parts := make([]string, 0, len(conflicts))
	subjects := make([]string, 0, len(conflicts))
	for _, c := range conflicts {
		parts = append(parts, fmt.Sprintf("plugin %s is required in incompatible versions [%s]",
			c.Plugin, strings.Join(c.Versions, ", ")))
		subjects = append(subjects, c.Plugin)
	}
	return domain.NewFailure(domain.ErrPackaging, "package", strings.Join(subjects, ", "),
		strings.Join(parts, "; "), nil)
}
