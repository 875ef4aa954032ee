package version

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// CheckSnapshotCompatibility checks whether a persisted snapshot written by
// snapshotVersion can be restored by an engine at engineVersion. Returns nil
// if compatible, an error with details if not.
//
// Compatibility rules:
//   - A snapshot with no recorded version predates versioning and is accepted
//   - If either version is "main" (development build), the check is skipped
//   - Major versions must match exactly
//   - Minor versions must match exactly
//   - Patch versions can differ (e.g., 1.2.0 can restore a 1.2.5 snapshot)
func CheckSnapshotCompatibility(engineVersion, snapshotVersion string) error {
	// Strip 'v' prefix if present for consistency
	engineVersion = strings.TrimPrefix(engineVersion, "v")
	snapshotVersion = strings.TrimPrefix(snapshotVersion, "v")

	// Snapshots written before versions were recorded carry no version
	if snapshotVersion == "" {
		return nil
	}

	// Skip the check for "main" (development builds)
	if engineVersion == "main" || snapshotVersion == "main" {
		return nil
	}

	engineSemver, err := semver.NewVersion(engineVersion)
	if err != nil {
		return fmt.Errorf("invalid engine version '%s': %w", engineVersion, err)
	}

	snapshotSemver, err := semver.NewVersion(snapshotVersion)
	if err != nil {
		return fmt.Errorf("invalid snapshot version '%s': %w", snapshotVersion, err)
	}

	if engineSemver.Major() != snapshotSemver.Major() {
		return fmt.Errorf("major version mismatch: engine is %d.x.x but snapshot was written by %d.x.x",
			engineSemver.Major(), snapshotSemver.Major())
	}

	if engineSemver.Minor() != snapshotSemver.Minor() {
		return fmt.Errorf("minor version mismatch: engine is %d.%d.x but snapshot was written by %d.%d.x",
			engineSemver.Major(), engineSemver.Minor(),
			snapshotSemver.Major(), snapshotSemver.Minor())
	}

	// Patch versions can differ, so we're compatible
	return nil
}
