package features

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rayven122/tumiki-sub015/internal/auth"
)

const sample = "Contact jane.doe@example.com or 03-1234-5678, card 4111 1111 1111 1111."

func textAt(t *testing.T, res *mcp.CallToolResult, i int) string {
	t.Helper()

	tc, ok := res.Content[i].(mcp.TextContent)
	require.True(t, ok, "content %d is %T", i, res.Content[i])

	return tc.Text
}

func TestNoopPrivacy(t *testing.T) {
	p := NewPrivacy(false)
	assert.False(t, p.Enabled())

	res := mcp.NewToolResultText(sample)
	ac := &auth.AuthContext{Privacy: auth.PrivacyFlags{MaskingMode: "BOTH", Compact: true}}

	assert.Same(t, res, p.Apply(context.Background(), ac, res))
}

func TestMaskingPrivacy(t *testing.T) {
	tests := []struct {
		name  string
		flags auth.PrivacyFlags
		input string
		want  string
	}{
		{
			name:  "all info types",
			flags: auth.PrivacyFlags{MaskingMode: "BOTH"},
			input: sample,
			want:  "Contact [EMAIL_ADDRESS] or [PHONE_NUMBER], card [CREDIT_CARD_NUMBER].",
		},
		{
			name:  "restricted to email",
			flags: auth.PrivacyFlags{MaskingMode: "BOTH", InfoTypes: []string{InfoTypeEmail}},
			input: sample,
			want:  "Contact [EMAIL_ADDRESS] or 03-1234-5678, card 4111 1111 1111 1111.",
		},
		{
			name:  "masking disabled",
			flags: auth.PrivacyFlags{MaskingMode: MaskingDisabled},
			input: sample,
			want:  sample,
		},
		{
			name:  "compact json",
			flags: auth.PrivacyFlags{Compact: true},
			input: "{\n  \"a\": 1,\n  \"b\": [1, 2]\n}",
			want:  `{"a":1,"b":[1,2]}`,
		},
		{
			name:  "compact leaves plain text",
			flags: auth.PrivacyFlags{Compact: true},
			input: "  plain text  ",
			want:  "  plain text  ",
		},
		{
			name:  "compact leaves broken json",
			flags: auth.PrivacyFlags{Compact: true},
			input: "{not json",
			want:  "{not json",
		},
	}

	p := NewPrivacy(true)
	require.True(t, p.Enabled())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := mcp.NewToolResultText(tt.input)

			out := p.Apply(context.Background(), &auth.AuthContext{Privacy: tt.flags}, in)
			require.NotNil(t, out)
			assert.Equal(t, tt.want, textAt(t, out, 0))
			assert.Equal(t, tt.input, textAt(t, in, 0), "input result must not be modified")
		})
	}
}

func TestMaskingPrivacy_KeepsNonTextContent(t *testing.T) {
	img := mcp.NewImageContent("aGVsbG8=", "image/png")
	in := &mcp.CallToolResult{
		Content: []mcp.Content{img, mcp.NewTextContent("mail me: a@b.io")},
		IsError: true,
	}

	out := NewPrivacy(true).Apply(context.Background(), &auth.AuthContext{Privacy: auth.PrivacyFlags{MaskingMode: "BOTH"}}, in)

	assert.Equal(t, img, out.Content[0])
	assert.Equal(t, "mail me: [EMAIL_ADDRESS]", textAt(t, out, 1))
	assert.True(t, out.IsError)
}

func TestMaskingPrivacy_KeepsTextAnnotations(t *testing.T) {
	annotated := mcp.NewTextContent("mail me: a@b.io")
	annotated.Annotations = &mcp.Annotations{Audience: []mcp.Role{mcp.RoleUser}, Priority: 0.5}
	in := &mcp.CallToolResult{Content: []mcp.Content{annotated}}

	out := NewPrivacy(true).Apply(context.Background(), &auth.AuthContext{Privacy: auth.PrivacyFlags{MaskingMode: "BOTH"}}, in)

	tc, ok := out.Content[0].(mcp.TextContent)
	require.True(t, ok)
	assert.Equal(t, "mail me: [EMAIL_ADDRESS]", tc.Text)
	assert.Equal(t, "text", tc.Type)
	require.NotNil(t, tc.Annotations)
	assert.Equal(t, []mcp.Role{mcp.RoleUser}, tc.Annotations.Audience)
	assert.InDelta(t, 0.5, tc.Annotations.Priority, 0)
}

func TestMaskingPrivacy_NilInputs(t *testing.T) {
	p := NewPrivacy(true)

	assert.Nil(t, p.Apply(context.Background(), &auth.AuthContext{}, nil))

	res := mcp.NewToolResultText(sample)
	assert.Same(t, res, p.Apply(context.Background(), nil, res))
}
