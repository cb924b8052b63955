package instance

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

const (
	// DefaultNamePrefix is the prefix for auto-generated instance names
	DefaultNamePrefix = "default-"

	// DefaultName is used when the configuration names no instance
	DefaultName = "default"

	// MaxNameLength is the maximum length for an instance name (DNS-compatible)
	MaxNameLength = 63
)

var (
	// NamePattern is the regex pattern for valid instance names
	// Must be DNS-compatible: lowercase alphanumeric, hyphens allowed (but not at start/end)
	// Allows single character or multiple characters with optional hyphens in between
	NamePattern = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)
)

// ValidateName checks if an instance name is valid according to DNS naming rules.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("instance name cannot be empty")
	}

	if len(name) > MaxNameLength {
		return fmt.Errorf("instance name too long: %d characters (max: %d)", len(name), MaxNameLength)
	}

	if !NamePattern.MatchString(name) {
		return fmt.Errorf("invalid instance name '%s': must be lowercase alphanumeric with hyphens (not at start/end)", name)
	}

	return nil
}

// GenerateName returns a fresh default-<id> instance name. The suffix is the
// first block of a random UUID, so names are unique across machines without
// any coordination.
func GenerateName() string {
	return DefaultNamePrefix + uuid.New().String()[:8]
}

// ResolveName returns name if it is valid, or DefaultName when it is empty.
func ResolveName(name string) (string, error) {
	if name == "" {
		return DefaultName, nil
	}
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}
