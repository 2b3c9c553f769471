// Package auth classifies the credential on an inbound request, verifies it
// as either an identity provider JWT or a gateway API key, and resolves it to
// an organization, user and target server.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	customerrors "github.com/rayven122/tumiki-sub015/internal/errors"
	"github.com/rayven122/tumiki-sub015/internal/metrics"
	"github.com/rayven122/tumiki-sub015/internal/store"
)

// PathParam is the chi URL parameter holding the server slug or id.
const PathParam = "slugOrId"

// TokenVerifier verifies identity provider tokens.
type TokenVerifier interface {
	Verify(token string) (*Identity, error)
}

// Router authenticates requests. It only reads from the store.
type Router struct {
	classifier *Classifier
	verifier   TokenVerifier
	store      store.MetadataStore
	logger     *zap.Logger
	metrics    *metrics.Registry
	now        func() time.Time
}

// CreateAuthRouter creates a router. verifier may be nil, in which case JWT
// credentials are rejected.
func CreateAuthRouter(
	classifier *Classifier,
	verifier TokenVerifier,
	metadata store.MetadataStore,
	logger *zap.Logger,
	reg *metrics.Registry,
) *Router {
	return &Router{
		classifier: classifier,
		verifier:   verifier,
		store:      metadata,
		logger:     logger.With(zap.String("component", "auth")),
		metrics:    reg,
		now:        time.Now,
	}
}

// HashAPIKey returns the stored form of an API key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))

	return hex.EncodeToString(sum[:])
}

// Authenticate resolves the request credential to an AuthContext for the
// server named by slugOrID. An empty slugOrID is only accepted for API keys,
// which carry their own server.
func (r *Router) Authenticate(ctx context.Context, req *http.Request, slugOrID string) (*AuthContext, error) {
	cred, err := r.classifier.Classify(req)
	if err != nil {
		r.fail(MethodNone, slugOrID, err)

		return nil, err
	}

	var ac *AuthContext

	switch cred.Method {
	case MethodOAuth:
		ac, err = r.authenticateJWT(ctx, cred.Token, slugOrID)
	case MethodAPIKey:
		ac, err = r.authenticateAPIKey(ctx, cred.Token, slugOrID)
	default:
		err = NewMissingTokenError()
	}

	if err != nil {
		r.fail(cred.Method, slugOrID, err)

		return nil, err
	}

	r.metrics.AuthSuccess(string(ac.Method))
	r.logger.Debug("Request authenticated",
		zap.String("method", string(ac.Method)),
		zap.String("organization_id", ac.OrganizationID),
		zap.String("server_id", ac.ServerID),
	)

	return ac, nil
}

func (r *Router) fail(method Method, slugOrID string, err error) {
	info := customerrors.ToErrorInfo(err)
	r.metrics.AuthFailure(string(method), info.Code)
	r.logger.Info("Authentication failed",
		zap.String("method", string(method)),
		zap.String("reason", info.Code),
		zap.String("server", slugOrID),
	)
}

func (r *Router) authenticateJWT(ctx context.Context, token, slugOrID string) (*AuthContext, error) {
	if r.verifier == nil {
		return nil, NewInvalidTokenError("JWT authentication is not configured")
	}

	id, err := r.verifier.Verify(token)
	if err != nil {
		return nil, err
	}

	exists, err := r.store.OrganizationExists(ctx, id.OrganizationID)
	if err != nil {
		return nil, NewProviderError(err, "organization_exists")
	}

	if !exists {
		return nil, NewUnknownOrganizationError(id.OrganizationID)
	}

	user, err := r.resolveUser(ctx, id)
	if err != nil {
		return nil, err
	}

	srv, err := r.resolveServer(ctx, id.OrganizationID, slugOrID)
	if err != nil {
		return nil, err
	}

	member, err := r.store.IsMember(ctx, id.OrganizationID, user.ID)
	if err != nil {
		return nil, NewProviderError(err, "is_member")
	}

	if !member {
		return nil, NewNotAMemberError(id.OrganizationID)
	}

	return newAuthContext(MethodOAuth, srv, user.ID, id.Subject), nil
}

func (r *Router) resolveUser(ctx context.Context, id *Identity) (*store.User, error) {
	user, found, err := r.store.GetUserBySubject(ctx, id.Subject)
	if err != nil {
		return nil, NewProviderError(err, "get_user_by_subject")
	}

	if found {
		return user, nil
	}

	if id.Email == "" {
		return nil, NewUserNotFoundError()
	}

	user, found, err = r.store.GetUserByEmail(ctx, id.Email)
	if err != nil {
		return nil, NewProviderError(err, "get_user_by_email")
	}

	if !found {
		return nil, NewUserNotFoundError()
	}

	return user, nil
}

// resolveServer looks up the target server scoped to organizationID. An id
// that resolves to another organization's server is a tenant mismatch.
func (r *Router) resolveServer(ctx context.Context, organizationID, slugOrID string) (*store.McpServer, error) {
	if slugOrID == "" {
		return nil, NewServerNotFoundError(slugOrID)
	}

	var (
		srv   *store.McpServer
		found bool
		err   error
	)

	if IsID(slugOrID) {
		srv, found, err = r.store.GetServerByID(ctx, slugOrID)
	} else {
		srv, found, err = r.store.GetServerBySlug(ctx, organizationID, slugOrID)
	}

	if err != nil {
		return nil, NewProviderError(err, "get_server")
	}

	if !found {
		return nil, NewServerNotFoundError(slugOrID)
	}

	if srv.OrganizationID != organizationID {
		return nil, NewTenantMismatchError(organizationID, srv.OrganizationID)
	}

	return srv, nil
}

func (r *Router) authenticateAPIKey(ctx context.Context, key, slugOrID string) (*AuthContext, error) {
	rec, found, err := r.store.GetAPIKeyByHash(ctx, HashAPIKey(key))
	if err != nil {
		return nil, NewProviderError(err, "get_api_key")
	}

	switch {
	case !found:
		return nil, NewInvalidCredentialsError("unknown API key")
	case !rec.IsActive:
		return nil, NewInvalidCredentialsError("API key is inactive")
	case rec.Expired(r.now()):
		return nil, NewInvalidCredentialsError("API key has expired")
	}

	srv, found, err := r.store.GetServerByID(ctx, rec.ServerID)
	if err != nil {
		return nil, NewProviderError(err, "get_server")
	}

	if !found {
		return nil, NewServerNotFoundError(rec.ServerID)
	}

	if srv.OrganizationID != rec.OrganizationID {
		return nil, NewTenantMismatchError(rec.OrganizationID, srv.OrganizationID)
	}

	if slugOrID != "" && slugOrID != srv.ID && (IsID(slugOrID) || slugOrID != srv.Slug) {
		return nil, NewServerMismatchError(slugOrID)
	}

	return newAuthContext(MethodAPIKey, srv, rec.UserID, rec.ID), nil
}

// ErrorWriter renders an authentication failure.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// WriteJSONError is the default ErrorWriter.
func WriteJSONError(w http.ResponseWriter, _ *http.Request, err error) {
	info := customerrors.ToErrorInfo(err)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(info.HTTPStatus)
	_ = json.NewEncoder(w).Encode(map[string]customerrors.ErrorInfo{"error": info})
}

// Middleware authenticates against the server named by the PathParam URL
// parameter and attaches the AuthContext to the request context.
func (r *Router) Middleware(onError ErrorWriter) func(http.Handler) http.Handler {
	if onError == nil {
		onError = WriteJSONError
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ac, err := r.Authenticate(req.Context(), req, chi.URLParam(req, PathParam))
			if err != nil {
				onError(w, req, err)

				return
			}

			ctx := WithAuthContext(req.Context(), ac)
			ctx = customerrors.EnrichWithTenant(ctx, ac.OrganizationID, ac.ServerID)

			next.ServeHTTP(w, req.WithContext(ctx))
		})
	}
}
