package semver

import (
	"fmt"
	"strconv"
	"strings"
)

// Version represents a semantic version with major, minor, and patch components
type Version struct {
	major int
	minor int
	patch int
}

// NewVersion parses a version string (e.g., "1.2.3", "1.2", "2").
// Model authors rarely write all three components, so missing minor and
// patch parts default to zero. Returns an error for anything that is not
// one to three dot-separated non-negative integers, with an optional 'v'
// prefix.
func NewVersion(version string) (*Version, error) {
	// Remove 'v' prefix if present
	version = strings.TrimPrefix(version, "v")

	parts := strings.Split(version, ".")
	if len(parts) < 1 || len(parts) > 3 {
		return nil, fmt.Errorf("invalid version format: expected MAJOR[.MINOR[.PATCH]], got %q", version)
	}

	components := make([]int, 3)
	names := [3]string{"major", "minor", "patch"}
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid %s version: %w", names[i], err)
		}
		if n < 0 {
			return nil, fmt.Errorf("version components must be non-negative")
		}
		components[i] = n
	}

	return &Version{
		major: components[0],
		minor: components[1],
		patch: components[2],
	}, nil
}

// GreaterThan returns true if v is greater than other
func (v *Version) GreaterThan(other *Version) bool {
	if v.major != other.major {
		return v.major > other.major
	}
	if v.minor != other.minor {
		return v.minor > other.minor
	}
	return v.patch > other.patch
}

// String returns the string representation of the version
func (v *Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.major, v.minor, v.patch)
}

// Equal returns true if v equals other
func (v *Version) Equal(other *Version) bool {
	return v.major == other.major && v.minor == other.minor && v.patch == other.patch
}

// LessThan returns true if v is less than other
func (v *Version) LessThan(other *Version) bool {
	return !v.GreaterThan(other) && !v.Equal(other)
}
