// Package version parses and orders the dotted major.minor.patch versions
// carried by stored configuration documents.
package version

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// Order is the position of one version relative to another.
type Order string

const (
	Before Order = "before"
	After  Order = "after"
	Same   Order = "same"
)

// Version is a strict major.minor.patch triple.
type Version struct {
	Major int
	Minor int
	Patch int
}

// InvalidVersionError reports a missing or malformed version string.
type InvalidVersionError struct {
	Value  string
	Reason string
}

func (e *InvalidVersionError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid version: %s", e.Reason)
	}
	return fmt.Sprintf("invalid version %q: %s", e.Value, e.Reason)
}

// Parse reads a version string. Prefixes, pre-release tags, build metadata and
// shorthand forms such as "1.2" are rejected.
func Parse(value string) (Version, error) {
	if value == "" {
		return Version{}, &InvalidVersionError{Reason: "empty"}
	}
	parts := strings.Split(value, ".")
	if len(parts) != 3 {
		return Version{}, &InvalidVersionError{Value: value, Reason: "expected major.minor.patch"}
	}
	var nums [3]int
	for i, part := range parts {
		if part == "" {
			return Version{}, &InvalidVersionError{Value: value, Reason: "empty component"}
		}
		if len(part) > 1 && part[0] == '0' {
			return Version{}, &InvalidVersionError{Value: value, Reason: "leading zero"}
		}
		for _, r := range part {
			if r < '0' || r > '9' {
				return Version{}, &InvalidVersionError{Value: value, Reason: "non-numeric component"}
			}
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return Version{}, &InvalidVersionError{Value: value, Reason: "component out of range"}
		}
		nums[i] = n
	}
	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

func (v Version) semver() string {
	return "v" + v.String()
}

// Compare returns where a sits relative to b.
func (v Version) Compare(other Version) Order {
	switch semver.Compare(v.semver(), other.semver()) {
	case -1:
		return Before
	case 1:
		return After
	default:
		return Same
	}
}

// Compare parses both versions and orders a relative to b.
func Compare(a, b string) (Order, error) {
	va, err := Parse(a)
	if err != nil {
		return "", err
	}
	vb, err := Parse(b)
	if err != nil {
		return "", err
	}
	return va.Compare(vb), nil
}

// Valid reports whether value is a well-formed version.
func Valid(value string) bool {
	_, err := Parse(value)
	return err == nil
}

// MustCompare is Compare for values known to be valid. It panics otherwise.
func MustCompare(a, b string) Order {
	order, err := Compare(a, b)
	if err != nil {
		panic(err)
	}
	return order
}
