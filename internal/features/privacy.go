// Package features holds optional gateway capabilities. Each capability is
// an interface with a working implementation and a no-op one, selected once
// at startup from configuration.
package features

import (
	"bytes"
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rayven122/tumiki-sub015/internal/auth"
)

// Info types understood by the masking privacy implementation.
const (
	InfoTypeEmail      = "EMAIL_ADDRESS"
	InfoTypePhone      = "PHONE_NUMBER"
	InfoTypeCreditCard = "CREDIT_CARD_NUMBER"
)

// MaskingDisabled is the server masking mode that turns masking off.
const MaskingDisabled = "DISABLED"

// Privacy post-processes tool results before they leave the gateway.
type Privacy interface {
	Apply(ctx context.Context, ac *auth.AuthContext, res *mcp.CallToolResult) *mcp.CallToolResult
	Enabled() bool
}

// NewPrivacy returns the masking implementation when enabled, else a no-op.
func NewPrivacy(enabled bool) Privacy {
	if enabled {
		return maskingPrivacy{}
	}

	return noopPrivacy{}
}

type noopPrivacy struct{}

func (noopPrivacy) Apply(_ context.Context, _ *auth.AuthContext, res *mcp.CallToolResult) *mcp.CallToolResult {
	return res
}

func (noopPrivacy) Enabled() bool { return false }

type masker struct {
	infoType    string
	pattern     *regexp.Regexp
	replacement string
}

var maskers = []masker{
	{InfoTypeEmail, regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`), "[EMAIL_ADDRESS]"},
	{InfoTypeCreditCard, regexp.MustCompile(`\b(?:\d[ \-]?){12,15}\d\b`), "[CREDIT_CARD_NUMBER]"},
	{InfoTypePhone, regexp.MustCompile(`(?:\+\d{1,3}[ \-]?)?(?:\(\d{2,4}\)|\d{2,4})[ \-]\d{2,4}[ \-]\d{3,4}\b`), "[PHONE_NUMBER]"},
}

type maskingPrivacy struct{}

func (maskingPrivacy) Enabled() bool { return true }

// Apply masks the configured info types in text content and compacts JSON
// text when the server asks for compact output. The input is not modified.
func (maskingPrivacy) Apply(_ context.Context, ac *auth.AuthContext, res *mcp.CallToolResult) *mcp.CallToolResult {
	if res == nil || ac == nil {
		return res
	}

	mask := ac.Privacy.MaskingMode != "" && !strings.EqualFold(ac.Privacy.MaskingMode, MaskingDisabled)
	if !mask && !ac.Privacy.Compact {
		return res
	}

	active := activeMaskers(ac.Privacy.InfoTypes)

	out := *res
	out.Content = make([]mcp.Content, len(res.Content))

	for i, c := range res.Content {
		tc, ok := textOf(c)
		if !ok {
			out.Content[i] = c

			continue
		}

		if mask {
			tc.Text = maskText(tc.Text, active)
		}

		if ac.Privacy.Compact {
			tc.Text = compactJSON(tc.Text)
		}

		out.Content[i] = tc
	}

	return &out
}

// textOf returns a copy of text content, leaving the original untouched.
func textOf(c mcp.Content) (mcp.TextContent, bool) {
	switch tc := c.(type) {
	case mcp.TextContent:
		return tc, true
	case *mcp.TextContent:
		if tc == nil {
			return mcp.TextContent{}, false
		}

		return *tc, true
	default:
		return mcp.TextContent{}, false
	}
}

func activeMaskers(infoTypes []string) []masker {
	if len(infoTypes) == 0 {
		return maskers
	}

	var out []masker

	for _, m := range maskers {
		for _, t := range infoTypes {
			if strings.EqualFold(t, m.infoType) {
				out = append(out, m)

				break
			}
		}
	}

	return out
}

func maskText(text string, active []masker) string {
	for _, m := range active {
		text = m.pattern.ReplaceAllString(text, m.replacement)
	}

	return text
}

func compactJSON(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || (trimmed[0] != '{' && trimmed[0] != '[') {
		return text
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(trimmed)); err != nil {
		return text
	}

	return buf.String()
}
