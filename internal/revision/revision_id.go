// Package revision defines the identifiers used to address a point in a
// review's history: RevisionId for revisions and ClientFileId for files that
// may or may not have a durable identity yet.
package revision

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// ErrFormat reports a malformed RevisionId or ClientFileId string.
// Always a client bug.
var ErrFormat = errors.New("invalid format")

var hashPattern = regexp.MustCompile(`^[a-fA-F0-9]{40}$`)

type kind int

const (
	kindBase kind = iota
	kindSelected
	kindHash
)

// RevisionId addresses a point in a review's history. It is a closed sum of
// three variants: the pre-review base, a saved revision number, or the
// commit hash of an unsaved provisional head. The zero value is Base.
//
// Two RevisionIds referring to the same underlying revision through
// different representations (a Hash whose head has since been saved as a
// Selected) are not equal; callers remap explicitly.
type RevisionId struct {
	kind   kind
	number int
	hash   string
}

// Base returns the pre-review baseline id.
func Base() RevisionId { return RevisionId{} }

// Selected returns the id of saved revision n (1-based).
func Selected(n int) RevisionId { return RevisionId{kind: kindSelected, number: n} }

// Hash returns the id of an unsaved head identified by its commit hash.
func Hash(commitHash string) RevisionId { return RevisionId{kind: kindHash, hash: commitHash} }

// Parse accepts exactly "base", a positive integer, or a 40-character hex
// commit hash. Anything else fails with ErrFormat.
func Parse(s string) (RevisionId, error) {
	if s == "base" {
		return Base(), nil
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return Selected(n), nil
	}
	if hashPattern.MatchString(s) {
		return Hash(s), nil
	}
	return RevisionId{}, fmt.Errorf("%w: %q is not a valid revision id", ErrFormat, s)
}

func (r RevisionId) IsBase() bool     { return r.kind == kindBase }
func (r RevisionId) IsSelected() bool { return r.kind == kindSelected }
func (r RevisionId) IsHash() bool     { return r.kind == kindHash }

// Number returns the revision number of a Selected id, 0 otherwise.
func (r RevisionId) Number() int { return r.number }

// CommitHash returns the hash of a Hash id, "" otherwise.
func (r RevisionId) CommitHash() string { return r.hash }

func (r RevisionId) String() string {
	switch r.kind {
	case kindSelected:
		return strconv.Itoa(r.number)
	case kindHash:
		return r.hash
	default:
		return "base"
	}
}

// Less orders ids by revision sequence: Base earliest, Selected by number,
// Hash (provisional) always latest.
func (r RevisionId) Less(other RevisionId) bool {
	if r.kind != other.kind {
		return r.kind < other.kind
	}
	if r.kind == kindSelected {
		return r.number < other.number
	}
	return false
}

// MarshalText writes the Parse-compatible string form.
func (r RevisionId) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText parses the string form, rejecting anything Parse rejects.
func (r *RevisionId) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Resolve is a total pattern match over the three variants.
func Resolve[T any](r RevisionId, onBase func() T, onSelected func(int) T, onHash func(string) T) T {
	switch r.kind {
	case kindSelected:
		return onSelected(r.number)
	case kindHash:
		return onHash(r.hash)
	default:
		return onBase()
	}
}
