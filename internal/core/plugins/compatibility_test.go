package plugins

import (
	"testing"

	"github.com/artpar/deployer/internal/core/domain"
	"github.com/stretchr/testify/assert"
)

func plugin(artifact, version string) domain.ArtifactCoordinate {
	return domain.ArtifactCoordinate{
		GroupID:    "com.acme",
		ArtifactID: artifact,
		Version:    version,
		Classifier: domain.ClassifierPlugin,
	}
}

// =============================================================================
// CheckCompatibility Tests
// =============================================================================

func TestCheckCompatibility_SameMajorIsCompatible(t *testing.T) {
	err := CheckCompatibility([]domain.ArtifactCoordinate{
		plugin("http", "2.1.0"),
		plugin("http", "2.5.0"),
	})
	assert.NoError(t, err)
}

func TestCheckCompatibility_DifferentMajorIsIncompatible(t *testing.T) {
	err := CheckCompatibility([]domain.ArtifactCoordinate{
		plugin("http", "1.9.0"),
		plugin("http", "2.0.0"),
	})

	assert.ErrorIs(t, err, domain.ErrPackaging)
	assert.Contains(t, err.Error(), "com.acme:http")
	assert.Contains(t, err.Error(), "1.9.0")
	assert.Contains(t, err.Error(), "2.0.0")
}

func TestCheckCompatibility_OneBadGroupFailsAll(t *testing.T) {
	err := CheckCompatibility([]domain.ArtifactCoordinate{
		plugin("db", "1.0.0"),
		plugin("db", "1.4.0"),
		plugin("http", "1.0.0"),
		plugin("http", "3.0.0"),
	})

	assert.ErrorIs(t, err, domain.ErrPackaging)
	assert.NotContains(t, err.Error(), "com.acme:db")
}

func TestCheckCompatibility_Empty(t *testing.T) {
	assert.NoError(t, CheckCompatibility(nil))
}

func TestCheckCompatibility_DuplicateVersionIsCompatible(t *testing.T) {
	err := CheckCompatibility([]domain.ArtifactCoordinate{
		plugin("http", "1.0.0"),
		plugin("http", "1.0.0"),
	})
	assert.NoError(t, err)
}

func TestCheckCompatibility_DifferentGroupsAreIndependent(t *testing.T) {
	other := plugin("http", "2.0.0")
	other.GroupID = "org.other"

	err := CheckCompatibility([]domain.ArtifactCoordinate{plugin("http", "1.0.0"), other})
	assert.NoError(t, err)
}

// =============================================================================
// FindConflicts Tests
// =============================================================================

func TestFindConflicts_ListsEveryVersionSorted(t *testing.T) {
	conflicts := FindConflicts([]domain.ArtifactCoordinate{
		plugin("http", "2.0.0"),
		plugin("http", "1.9.0"),
		plugin("http", "1.2.0"),
		plugin("sockets", "10.0.0"),
		plugin("sockets", "9.1.0"),
	})

	assert.Equal(t, []Conflict{
		{Plugin: "com.acme:http", Versions: []string{"1.2.0", "1.9.0", "2.0.0"}},
		{Plugin: "com.acme:sockets", Versions: []string{"9.1.0", "10.0.0"}},
	}, conflicts)
}
