// Package toolname parses qualified tool names. A 2-tier name addresses a
// tool inside an instance ("instance__tool"); the unified 3-tier form also
// names the server ("server__instance__tool").
package toolname

import (
	"net/http"
	"strings"

	"github.com/rayven122/tumiki-sub015/internal/errors"
)

// Separator joins the segments of a qualified tool name.
const Separator = "__"

// ErrCodeInvalidName is the code of parse failures.
const ErrCodeInvalidName = "TOOL_NAME_INVALID"

// Name is a parsed qualified tool name. Server is empty for 2-tier names.
type Name struct {
	Server   string
	Instance string
	Tool     string
}

// Unified reports whether the name carries a server segment.
func (n Name) Unified() bool {
	return n.Server != ""
}

// String reassembles the name. For any name returned by Parse or
// ParseUnified it reproduces the parsed input exactly.
func (n Name) String() string {
	if n.Server != "" {
		return Join(n.Server, n.Instance, n.Tool)
	}

	return Join(n.Instance, n.Tool)
}

// Join concatenates segments with Separator.
func Join(parts ...string) string {
	return strings.Join(parts, Separator)
}

// Parse splits a 2-tier name. It fails unless full contains exactly one
// separator. Empty segments are accepted.
func Parse(full string) (Name, error) {
	parts := strings.Split(full, Separator)
	if len(parts) != 2 {
		return Name{}, newInvalidNameError(full, 1)
	}

	return Name{Instance: parts[0], Tool: parts[1]}, nil
}

// ParseUnified splits a 3-tier name. It fails unless full contains exactly
// two separators. Empty instance and tool segments are accepted, but unlike
// Parse an empty server segment is rejected here rather than left to the
// caller: a Name with no server is indistinguishable from a 2-tier name, and
// String would drop the leading separator.
func ParseUnified(full string) (Name, error) {
	parts := strings.Split(full, Separator)
	if len(parts) != 3 {
		return Name{}, newInvalidNameError(full, 2)
	}

	name := Name{Server: parts[0], Instance: parts[1], Tool: parts[2]}
	if name.Server == "" {
		return Name{}, newInvalidNameError(full, 2)
	}

	return name, nil
}

func newInvalidNameError(full string, separators int) *errors.GatewayError {
	want := "instance" + Separator + "tool"
	if separators == 2 {
		want = "server" + Separator + "instance" + Separator + "tool"
	}

	return errors.New(errors.TypeValidation, "invalid tool name format: \""+full+"\" (expected "+want+")").
		WithComponent("toolname").
		WithCode(ErrCodeInvalidName).
		WithHTTPStatus(http.StatusBadRequest).
		WithContext("tool_name", full)
}
