package sync

import (
	"fmt"
	"regexp"

	"github.com/bmatcuk/doublestar/v4"
)

// FilterKind selects how a Filter matches keys.
type FilterKind int

const (
	FilterNone FilterKind = iota
	FilterGlob
	FilterRegex
)

func (k FilterKind) String() string {
	switch k {
	case FilterGlob:
		return "glob"
	case FilterRegex:
		return "regex"
	default:
		return "none"
	}
}

// Filter decides which remote keys are synchronized. The zero value accepts
// every key.
type Filter struct {
	kind    FilterKind
	pattern string
	re      *regexp.Regexp
}

// NewFilter builds a filter from a glob pattern or a regular expression.
// At most one of them may be set; the regular expression must match the
// whole key.
func NewFilter(glob, regex string) (Filter, error) {
	switch {
	case glob != "" && regex != "":
		return Filter{}, &ConfigError{Field: "filenamePattern", Msg: "filenamePattern and filenameRegex are mutually exclusive"}
	case glob != "":
		if !doublestar.ValidatePattern(glob) {
			return Filter{}, &ConfigError{Field: "filenamePattern", Msg: fmt.Sprintf("malformed glob %q", glob)}
		}
		return Filter{kind: FilterGlob, pattern: glob}, nil
	case regex != "":
		re, err := regexp.Compile(`^(?:` + regex + `)$`)
		if err != nil {
			return Filter{}, &ConfigError{Field: "filenameRegex", Msg: err.Error()}
		}
		return Filter{kind: FilterRegex, pattern: regex, re: re}, nil
	}
	return Filter{}, nil
}

func (f Filter) Kind() FilterKind { return f.kind }

func (f Filter) String() string {
	if f.kind == FilterNone {
		return "none"
	}
	return f.kind.String() + ":" + f.pattern
}

// Match reports whether key passes the filter.
func (f Filter) Match(key string) bool {
	switch f.kind {
	case FilterGlob:
		// pattern is validated in NewFilter
		ok, _ := doublestar.Match(f.pattern, key)
		return ok
	case FilterRegex:
		return f.re.MatchString(key)
	}
	return true
}
