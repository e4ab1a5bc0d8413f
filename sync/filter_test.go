package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilter_Match(t *testing.T) {
	tests := []struct {
		glob  string
		regex string
		key   string
		want  bool
	}{
		{"", "", "anything", true},
		{"otherFile", "", "otherFile", true},
		{"otherFile", "", "1.test", false},
		{"*.test", "", "1.test", true},
		{"*.test", "", "dir/1.test", false}, // * stops at separators
		{"**/*.test", "", "dir/1.test", true},
		{"?.test", "", "12.test", false},
		{"", `.*\.test$`, "1.test", true},
		{"", `.*\.test$`, "otherFile", false},
		{"", `\d\.test`, "x1.test", false}, // must match the whole key
		{"", `\d\.test`, "1.test", true},
	}

	for _, tt := range tests {
		f, err := NewFilter(tt.glob, tt.regex)
		require.NoError(t, err)
		assert.Equal(t, tt.want, f.Match(tt.key), "glob=%q regex=%q key=%q", tt.glob, tt.regex, tt.key)
	}
}

func TestNewFilter_kinds(t *testing.T) {
	f, err := NewFilter("", "")
	require.NoError(t, err)
	assert.Equal(t, FilterNone, f.Kind())
	assert.Equal(t, "none", f.String())

	f, err = NewFilter("*.csv", "")
	require.NoError(t, err)
	assert.Equal(t, FilterGlob, f.Kind())
	assert.Equal(t, "glob:*.csv", f.String())

	f, err = NewFilter("", `.*\.csv`)
	require.NoError(t, err)
	assert.Equal(t, FilterRegex, f.Kind())
}

func TestNewFilter_errors(t *testing.T) {
	_, err := NewFilter("*.test", `.*\.test`)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Error(), "mutually exclusive")

	_, err = NewFilter("[", "")
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "filenamePattern", cfgErr.Field)

	_, err = NewFilter("", "[")
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "filenameRegex", cfgErr.Field)
}

func TestFilter_zeroValueAcceptsAll(t *testing.T) {
	var f Filter
	assert.True(t, f.Match("x"))
}
