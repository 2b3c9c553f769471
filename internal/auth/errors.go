package auth

import (
	"net/http"

	"github.com/rayven122/tumiki-sub015/internal/errors"
)

// Error codes for auth operations.
const (
	ErrCodeMissingToken        = "AUTH_MISSING_TOKEN"        //nolint:gosec
	ErrCodeInvalidToken        = "AUTH_INVALID_TOKEN"        //nolint:gosec
	ErrCodeTokenExpired        = "AUTH_TOKEN_EXPIRED"        //nolint:gosec
	ErrCodeInvalidSignature    = "AUTH_INVALID_SIGNATURE"    //nolint:gosec
	ErrCodeInvalidCredentials  = "AUTH_INVALID_CREDENTIALS"  //nolint:gosec
	ErrCodeUnknownOrganization = "AUTH_UNKNOWN_ORGANIZATION" //nolint:gosec
	ErrCodeUserNotFound        = "AUTH_USER_NOT_FOUND"
	ErrCodeServerNotFound      = "AUTH_SERVER_NOT_FOUND"
	ErrCodeNotAMember          = "AUTH_NOT_A_MEMBER"
	ErrCodeServerMismatch      = "AUTH_SERVER_MISMATCH"
	ErrCodeTenantMismatch      = "TENANT_MISMATCH"
	ErrCodeProviderError       = "AUTH_PROVIDER_ERROR"
)

func unauthorized(code, message string) *errors.GatewayError {
	return errors.NewUnauthorizedError(message).
		WithComponent("auth").
		WithCode(code)
}

func forbidden(code, message string) *errors.GatewayError {
	return errors.NewForbiddenError(message).
		WithComponent("auth").
		WithCode(code)
}

// NewMissingTokenError creates an error for a request with no usable credential.
func NewMissingTokenError() *errors.GatewayError {
	return unauthorized(ErrCodeMissingToken, "authentication token is required")
}

// NewInvalidTokenError creates an error for a malformed or unverifiable token.
func NewInvalidTokenError(reason string) *errors.GatewayError {
	return unauthorized(ErrCodeInvalidToken, "invalid token: "+reason)
}

// NewTokenExpiredError creates an error for expired tokens.
func NewTokenExpiredError() *errors.GatewayError {
	return unauthorized(ErrCodeTokenExpired, "token has expired")
}

// NewInvalidSignatureError creates an error for a token whose signature
// does not verify.
func NewInvalidSignatureError(err error) *errors.GatewayError {
	return errors.WrapWithType(err, errors.TypeUnauthorized, "invalid signature").
		WithComponent("auth").
		WithCode(ErrCodeInvalidSignature).
		WithHTTPStatus(http.StatusUnauthorized)
}

// NewInvalidCredentialsError creates an error for unknown, inactive or
// expired API keys.
func NewInvalidCredentialsError(reason string) *errors.GatewayError {
	return unauthorized(ErrCodeInvalidCredentials, "invalid credentials: "+reason)
}

// NewUnknownOrganizationError creates an error for a missing or unknown
// organization claim.
func NewUnknownOrganizationError(organizationID string) *errors.GatewayError {
	return unauthorized(ErrCodeUnknownOrganization, "unknown organization").
		WithContext("organization_id", organizationID)
}

// NewUserNotFoundError creates an error for a token subject with no local user.
func NewUserNotFoundError() *errors.GatewayError {
	return unauthorized(ErrCodeUserNotFound, "user not found")
}

// NewServerNotFoundError creates an error for an unknown server slug or id.
func NewServerNotFoundError(slugOrID string) *errors.GatewayError {
	return errors.NewNotFoundError("server").
		WithComponent("auth").
		WithCode(ErrCodeServerNotFound).
		WithContext("server", slugOrID)
}

// NewNotAMemberError creates an error for a user outside the organization.
func NewNotAMemberError(organizationID string) *errors.GatewayError {
	return forbidden(ErrCodeNotAMember, "user is not a member of the organization").
		WithContext("organization_id", organizationID)
}

// NewServerMismatchError creates an error for an API key used against a
// server other than the one it was issued for.
func NewServerMismatchError(slugOrID string) *errors.GatewayError {
	return forbidden(ErrCodeServerMismatch, "credential is not valid for this server").
		WithContext("server", slugOrID)
}

// NewTenantMismatchError creates an error for a caller whose organization
// differs from the resolved server's organization.
func NewTenantMismatchError(callerOrg, serverOrg string) *errors.GatewayError {
	return forbidden(ErrCodeTenantMismatch, "organization does not own the requested server").
		WithContext("organization_id", callerOrg).
		WithContext("server_organization_id", serverOrg)
}

// NewProviderError wraps a failing metadata lookup during authentication.
func NewProviderError(err error, operation string) *errors.GatewayError {
	return errors.WrapWithType(err, errors.TypeUnavailable, "authentication lookup failed").
		WithComponent("auth").
		WithCode(ErrCodeProviderError).
		WithOperation(operation).
		WithHTTPStatus(http.StatusServiceUnavailable)
}
