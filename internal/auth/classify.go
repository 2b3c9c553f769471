package auth

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"regexp"
	"strings"

	"github.com/rayven122/tumiki-sub015/internal/config"
)

const (
	authHeaderParts = 2 // Format: "Bearer <token>"
	jwtSegments     = 3
)

// idPattern matches the generated record ids (CUID shape). Anything else in
// a path segment is a human-assigned slug.
var idPattern = regexp.MustCompile(`^c[a-z0-9]{24}$`)

// IsID reports whether a path segment is an internal id rather than a slug.
func IsID(segment string) bool {
	return idPattern.MatchString(segment)
}

// Credential is the single credential picked from a request.
type Credential struct {
	Method Method
	Token  string
}

// Classifier picks exactly one credential from a request.
type Classifier struct {
	cfg config.APIKeyConfig
}

// NewClassifier creates a classifier for the configured API key locations.
func NewClassifier(cfg config.APIKeyConfig) *Classifier {
	return &Classifier{cfg: cfg}
}

// Classify applies the ordered rules: a JWT-looking bearer token is OAuth;
// otherwise the API key header, a bearer token with an internal prefix, or
// the API key query parameter is an API key; otherwise the request fails
// closed.
func (c *Classifier) Classify(r *http.Request) (Credential, error) {
	bearer, hasBearer := bearerToken(r)

	if hasBearer && LooksLikeJWT(bearer) {
		return Credential{Method: MethodOAuth, Token: bearer}, nil
	}

	if key := strings.TrimSpace(r.Header.Get(c.cfg.Header)); key != "" {
		return Credential{Method: MethodAPIKey, Token: key}, nil
	}

	if hasBearer {
		for _, prefix := range c.cfg.BearerPrefixes {
			if prefix != "" && strings.HasPrefix(bearer, prefix) {
				return Credential{Method: MethodAPIKey, Token: bearer}, nil
			}
		}

		return Credential{}, NewInvalidTokenError("unrecognized bearer token")
	}

	if c.cfg.QueryParam != "" {
		if key := r.URL.Query().Get(c.cfg.QueryParam); key != "" {
			return Credential{Method: MethodAPIKey, Token: key}, nil
		}
	}

	return Credential{}, NewMissingTokenError()
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}

	parts := strings.SplitN(header, " ", authHeaderParts)
	if len(parts) != authHeaderParts || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	token := strings.TrimSpace(parts[1])

	return token, token != ""
}

// LooksLikeJWT reports whether token has three base64url segments and a
// header that decodes to a JSON object naming an algorithm. The signature
// is not checked.
func LooksLikeJWT(token string) bool {
	parts := strings.Split(token, ".")
	if len(parts) != jwtSegments {
		return false
	}

	decoded := make([][]byte, 0, jwtSegments)

	for _, p := range parts {
		if p == "" {
			return false
		}

		b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(p, "="))
		if err != nil {
			return false
		}

		decoded = append(decoded, b)
	}

	var header struct {
		Alg string `json:"alg"`
	}

	if err := json.Unmarshal(decoded[0], &header); err != nil {
		return false
	}

	return header.Alg != ""
}
