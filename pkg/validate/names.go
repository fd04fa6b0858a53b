// Package validate checks container, table, object and property names before any
// remote call is made.
package validate

import (
	"regexp"
	"strings"

	"github.com/nimburion/backupstore/pkg/storeerr"
)

const (
	// MaxObjectNameLength bounds object keys.
	MaxObjectNameLength = 1024
	// MaxPropertyValueLength bounds partition and row key values.
	MaxPropertyValueLength = 1024
)

var (
	containerNamePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{1,61}[a-z0-9])?$`)
	tableNamePattern     = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]{2,62}$`)
)

// ContainerName validates an object-store container (bucket) name: 3 to 63
// lowercase letters, digits or dashes, starting and ending with a letter or digit,
// with no consecutive dashes.
func ContainerName(name string) error {
	if name == "" {
		return storeerr.New(storeerr.ErrInvalidArgument, "container name is required")
	}
	if len(name) < 3 || len(name) > 63 || !containerNamePattern.MatchString(name) || strings.Contains(name, "--") {
		return storeerr.Newf(storeerr.ErrInvalidArgument, "invalid container name %q", name)
	}
	return nil
}

// TableName validates a table name: a letter followed by 2 to 62 alphanumerics.
func TableName(name string) error {
	if name == "" {
		return storeerr.New(storeerr.ErrInvalidArgument, "table name is required")
	}
	if !tableNamePattern.MatchString(name) {
		return storeerr.Newf(storeerr.ErrInvalidArgument, "invalid table name %q", name)
	}
	return nil
}

// ObjectName validates an object key. Surrounding whitespace is rejected rather than
// trimmed so two names never address the same object.
func ObjectName(name string) error {
	if name == "" {
		return storeerr.New(storeerr.ErrInvalidArgument, "object name is required")
	}
	if strings.TrimSpace(name) != name {
		return storeerr.Newf(storeerr.ErrInvalidArgument, "object name %q has leading or trailing whitespace", name)
	}
	if len(name) > MaxObjectNameLength {
		return storeerr.Newf(storeerr.ErrInvalidArgument, "object name exceeds %d characters", MaxObjectNameLength)
	}
	return nil
}

// PropertyValue validates a partition or row key value. Empty values are allowed.
func PropertyValue(field, value string) error {
	if len(value) > MaxPropertyValueLength {
		return storeerr.Newf(storeerr.ErrInvalidArgument, "%s exceeds %d characters", field, MaxPropertyValueLength)
	}
	if strings.ContainsAny(value, `/\#?`) {
		return storeerr.Newf(storeerr.ErrInvalidArgument, "%s %q contains a forbidden character", field, value)
	}
	for _, r := range value {
		if r < 0x20 || (r >= 0x7f && r <= 0x9f) {
			return storeerr.Newf(storeerr.ErrInvalidArgument, "%s %q contains a control character", field, value)
		}
	}
	return nil
}
