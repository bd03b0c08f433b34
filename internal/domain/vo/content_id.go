package vo

import (
	"errors"
	"regexp"
	"strings"
)

// contentIDPattern matches the 24-character lowercase hex token that CDN
// paths embed for an asset.
var contentIDPattern = regexp.MustCompile(`[0-9a-f]{24}`)

// ContentID represents a content identifier value object.
// Two URLs that embed the same token are assumed to address the same asset.
// Uniqueness of the token is not guaranteed.
type ContentID struct {
	value string
}

var (
	ErrEmptyContentID   = errors.New("content ID cannot be empty")
	ErrInvalidContentID = errors.New("invalid content ID format")
)

// NewContentID creates a new ContentID value object from an exact token.
func NewContentID(id string) (ContentID, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return ContentID{}, ErrEmptyContentID
	}
	if len(id) != 24 || !contentIDPattern.MatchString(id) {
		return ContentID{}, ErrInvalidContentID
	}
	return ContentID{value: id}, nil
}

// ExtractContentID finds the first content token embedded in s.
// Tokens that are part of a longer hex run are ignored.
func ExtractContentID(s string) (ContentID, bool) {
	for _, loc := range contentIDPattern.FindAllStringIndex(s, -1) {
		if loc[0] > 0 && isHex(s[loc[0]-1]) {
			continue
		}
		if loc[1] < len(s) && isHex(s[loc[1]]) {
			continue
		}
		return ContentID{value: s[loc[0]:loc[1]]}, true
	}
	return ContentID{}, false
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')
}

// String returns the string representation of the ID.
func (id ContentID) String() string {
	return id.value
}

// IsEmpty returns true if the ID is empty.
func (id ContentID) IsEmpty() bool {
	return id.value == ""
}

// Equals checks if two IDs are equal. Empty IDs never match.
func (id ContentID) Equals(other ContentID) bool {
	return id.value != "" && id.value == other.value
}

// SameContent reports whether a and b are equal or embed the same token.
func SameContent(a, b string) bool {
	if a == b {
		return true
	}
	ca, ok := ExtractContentID(a)
	if !ok {
		return false
	}
	cb, ok := ExtractContentID(b)
	return ok && ca.Equals(cb)
}
