package toolname

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rayven122/tumiki-sub015/internal/errors"
)

func TestParse_RoundTrip(t *testing.T) {
	names := []string{
		"github__create_issue",
		"slack-prod__post_message",
		"a__b",
		"__tool",
		"instance__",
		"__",
		"inst_1__tool_with_single_underscores",
	}

	for _, full := range names {
		t.Run(full, func(t *testing.T) {
			n, err := Parse(full)
			require.NoError(t, err)
			assert.False(t, n.Unified())
			assert.Equal(t, full, n.String())
			assert.Equal(t, full, Join(n.Instance, n.Tool))
		})
	}
}

func TestParse_GeneratedRoundTrip(t *testing.T) {
	segments := []string{"", "a", "x_y", "MixedCase", "with-dash", "_lead", "trail_", "日本"}

	for _, inst := range segments {
		for _, tool := range segments {
			full := inst + Separator + tool
			if countSeparators(full) != 1 {
				continue
			}

			// "trail_"+"__"+"x" splits as "trail"/"_x"; only the
			// reassembled string is guaranteed to match.
			n, err := Parse(full)
			require.NoError(t, err, full)
			assert.Equal(t, full, n.String())
		}
	}
}

func countSeparators(s string) int {
	n := 0

	for i := 0; i+len(Separator) <= len(s); {
		if s[i:i+len(Separator)] == Separator {
			n++
			i += len(Separator)

			continue
		}
		i++
	}

	return n
}

func TestParse_Invalid(t *testing.T) {
	inputs := []string{
		"",
		"no_separator_here",
		"server__instance__tool",
		"a__b__c__d",
		"single_underscore_only",
	}

	for _, full := range inputs {
		t.Run(fmt.Sprintf("%q", full), func(t *testing.T) {
			_, err := Parse(full)
			require.Error(t, err)
			assert.Contains(t, err.Error(), full)
			assert.True(t, errors.HasCode(err, ErrCodeInvalidName))
			assert.True(t, errors.IsType(err, errors.TypeValidation))
		})
	}
}

func TestParseUnified(t *testing.T) {
	n, err := ParseUnified("srv1__github__create_issue")
	require.NoError(t, err)
	assert.Equal(t, Name{Server: "srv1", Instance: "github", Tool: "create_issue"}, n)
	assert.True(t, n.Unified())
	assert.Equal(t, "srv1__github__create_issue", n.String())

	n, err = ParseUnified("srv1____")
	require.NoError(t, err)
	assert.Equal(t, "srv1____", n.String())

	for _, bad := range []string{"github__create_issue", "a__b__c__d", "__inst__tool"} {
		_, err := ParseUnified(bad)
		require.Error(t, err, bad)
		assert.Contains(t, err.Error(), bad)
	}
}

func TestParseUnified_EmptyServerSegment(t *testing.T) {
	_, err := ParseUnified("____tool")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, ErrCodeInvalidName))

	n, err := ParseUnified("srv____tool")
	require.NoError(t, err)
	assert.Empty(t, n.Instance)
	assert.Equal(t, "srv____tool", n.String())
}
