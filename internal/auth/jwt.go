package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"os"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/rayven122/tumiki-sub015/internal/config"
	customerrors "github.com/rayven122/tumiki-sub015/internal/errors"
)

var validMethods = []string{"HS256", "HS384", "HS512", "RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}

// Identity is what a verified token asserts.
type Identity struct {
	Subject        string
	Email          string
	OrganizationID string
}

// JWTVerifier validates identity provider tokens.
type JWTVerifier struct {
	cfg       config.JWTConfig
	logger    *zap.Logger
	parser    *jwt.Parser
	secretKey []byte
	publicKey *rsa.PublicKey
	jwks      keyfunc.Keyfunc
}

// InitializeJWTVerifier creates a verifier from configuration. A JWKS URL is
// fetched once here and refreshed in the background for the life of ctx.
func InitializeJWTVerifier(ctx context.Context, cfg config.JWTConfig, logger *zap.Logger) (*JWTVerifier, error) {
	v := &JWTVerifier{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "auth_jwt")),
	}

	if cfg.SecretKey != "" {
		v.secretKey = []byte(cfg.SecretKey)
	}

	if cfg.PublicKeyPath != "" {
		keyData, err := os.ReadFile(cfg.PublicKeyPath)
		if err != nil {
			return nil, customerrors.Wrap(err, "failed to read public key").
				WithComponent("auth_jwt").
				WithContext("path", cfg.PublicKeyPath)
		}

		publicKey, err := jwt.ParseRSAPublicKeyFromPEM(keyData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse public key: %w", err)
		}

		v.publicKey = publicKey
	}

	if cfg.JWKSURL != "" {
		kf, err := keyfunc.NewDefaultCtx(ctx, []string{cfg.JWKSURL})
		if err != nil {
			return nil, customerrors.Wrap(err, "jwks init failed").
				WithComponent("auth_jwt").
				WithContext("jwks_url", cfg.JWKSURL)
		}

		v.jwks = kf
	}

	if v.secretKey == nil && v.publicKey == nil && v.jwks == nil {
		return nil, customerrors.NewValidationError("no JWT key source configured").
			WithComponent("auth_jwt")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(validMethods),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}

	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	v.parser = jwt.NewParser(opts...)

	v.logger.Info("JWT verifier initialized",
		zap.Bool("jwks", v.jwks != nil),
		zap.Bool("hmac", v.secretKey != nil),
		zap.Bool("rsa_public_key", v.publicKey != nil),
	)

	return v, nil
}

// Verify checks the token and extracts the identity claims.
func (v *JWTVerifier) Verify(tokenString string) (*Identity, error) {
	claims := jwt.MapClaims{}

	token, err := v.parser.ParseWithClaims(tokenString, claims, v.signingKey)
	if err != nil {
		return nil, classifyJWTError(err)
	}

	if !token.Valid {
		return nil, NewInvalidTokenError("token is not valid")
	}

	id := &Identity{}
	id.Subject, _ = claims["sub"].(string)
	id.Email, _ = claims["email"].(string)
	id.OrganizationID, _ = claims[v.cfg.OrgClaim].(string)

	if id.Subject == "" {
		return nil, NewInvalidTokenError("missing subject")
	}

	if id.OrganizationID == "" {
		return nil, NewUnknownOrganizationError("")
	}

	return id, nil
}

func (v *JWTVerifier) signingKey(token *jwt.Token) (interface{}, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodHMAC:
		if v.secretKey == nil {
			return nil, errors.New("HMAC key not configured")
		}

		return v.secretKey, nil
	case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA:
		if v.jwks != nil {
			return v.jwks.Keyfunc(token)
		}

		if v.publicKey == nil {
			return nil, errors.New("RSA public key not configured")
		}

		return v.publicKey, nil
	default:
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
}

func classifyJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return NewTokenExpiredError()
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return NewInvalidSignatureError(err)
	default:
		return NewInvalidTokenError(err.Error())
	}
}
