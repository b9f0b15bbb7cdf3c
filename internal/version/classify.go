package version

import (
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Kind labels a build identifier.
type Kind int

const (
	KindUnknown Kind = iota
	KindTag
	KindCommit
)

func (k Kind) String() string {
	switch k {
	case KindTag:
		return "tag"
	case KindCommit:
		return "commit"
	default:
		return "unknown"
	}
}

var commitPattern = regexp.MustCompile(`^[0-9a-f]{7,40}$`)

// Classify reports whether v looks like a release tag or a commit.
// It never alters v; the result is only used for diagnostics.
func Classify(v string) Kind {
	v = strings.TrimSpace(v)
	if v == "" {
		return KindUnknown
	}

	// All-hex strings such as "1234567" also parse as semver, so commits go first.
	if commitPattern.MatchString(v) {
		return KindCommit
	}

	if _, err := semver.NewVersion(v); err == nil {
		return KindTag
	}

	return KindUnknown
}
