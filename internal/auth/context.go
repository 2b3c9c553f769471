package auth

import (
	"context"

	"github.com/rayven122/tumiki-sub015/internal/store"
)

// Method is the authentication scheme a request used.
type Method string

const (
	MethodNone   Method = "none"
	MethodAPIKey Method = "api_key"
	MethodOAuth  Method = "oauth"
)

// PrivacyFlags are the per-server output settings.
type PrivacyFlags struct {
	MaskingMode string   `json:"masking_mode"`
	InfoTypes   []string `json:"info_types,omitempty"`
	Compact     bool     `json:"compact"`
}

// AuthContext is the resolved identity of one request.
type AuthContext struct {
	Method         Method           `json:"method"`
	OrganizationID string           `json:"organization_id"`
	UserID         string           `json:"user_id,omitempty"`
	ServerID       string           `json:"server_id"`
	CredentialID   string           `json:"credential_id"`
	Server         *store.McpServer `json:"-"`
	Privacy        PrivacyFlags     `json:"privacy"`
}

type contextKey struct{}

// WithAuthContext returns ctx carrying ac.
func WithAuthContext(ctx context.Context, ac *AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

// FromContext returns the AuthContext attached by the middleware.
func FromContext(ctx context.Context) (*AuthContext, bool) {
	ac, ok := ctx.Value(contextKey{}).(*AuthContext)

	return ac, ok && ac != nil
}

func newAuthContext(method Method, srv *store.McpServer, userID, credentialID string) *AuthContext {
	return &AuthContext{
		Method:         method,
		OrganizationID: srv.OrganizationID,
		UserID:         userID,
		ServerID:       srv.ID,
		CredentialID:   credentialID,
		Server:         srv,
		Privacy: PrivacyFlags{
			MaskingMode: srv.PiiMasking,
			InfoTypes:   srv.PiiInfoTypes,
			Compact:     srv.ToonConversion,
		},
	}
}
