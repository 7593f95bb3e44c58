// Package versioning decides when a live edit is worth keeping as a version.
package versioning

import (
	"time"
	"unicode/utf8"
)

const (
	// SubstantialLength is the content length, in characters, above which
	// every edit is versioned.
	SubstantialLength = 50
	// MaxInterval is the longest a document goes without a version while it
	// is being edited.
	MaxInterval = 5 * time.Minute
)

// ShouldVersion reports whether an edit producing content of contentLength
// characters becomes a version. hasPrior is false when the document has no
// versions, in which case elapsed is ignored.
//
// Edits above SubstantialLength are versioned every time, not only when the
// threshold is first crossed.
func ShouldVersion(contentLength int, hasPrior bool, elapsed time.Duration) bool {
	switch {
	case contentLength > SubstantialLength:
		return true
	case !hasPrior:
		return true
	default:
		return elapsed >= MaxInterval
	}
}

// Length counts characters the way ShouldVersion expects.
func Length(content string) int {
	return utf8.RuneCountInString(content)
}
