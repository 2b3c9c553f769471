// Package testutil provides testing utilities and helpers for the MCP gateway.
package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// DefaultRSAKeySize is the default RSA key size for testing.
const DefaultRSAKeySize = 2048

// Common test timing constants.
const (
	ShortDelay    = 10 * time.Millisecond
	MediumDelay   = 50 * time.Millisecond
	ShortTimeout  = 1 * time.Second
	MediumTimeout = 5 * time.Second
)

// NewTestLogger creates a logger for testing.
func NewTestLogger(t *testing.T) *zap.Logger {
	t.Helper()

	return zaptest.NewLogger(t)
}

// GenerateRSAKeyPair returns a private key with its PKCS#1 and PKIX PEM encodings.
func GenerateRSAKeyPair(t *testing.T) (*rsa.PrivateKey, []byte, []byte) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, DefaultRSAKeySize)
	if err != nil {
		t.Fatalf("Failed to generate RSA private key: %v", err)
	}

	privateKeyBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})

	publicKeyBytes, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		t.Fatalf("Failed to marshal public key to PKIX format: %v", err)
	}

	publicKeyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: publicKeyBytes,
	})

	return privateKey, privateKeyBytes, publicKeyPEM
}

// GenerateTestToken signs claims with HS256 for a []byte key or RS256 for an
// *rsa.PrivateKey.
func GenerateTestToken(t *testing.T, claims jwt.Claims, signingKey interface{}) string {
	t.Helper()

	method := jwt.SigningMethod(jwt.SigningMethodHS256)
	if _, ok := signingKey.(*rsa.PrivateKey); ok {
		method = jwt.SigningMethodRS256
	}

	tokenString, err := jwt.NewWithClaims(method, claims).SignedString(signingKey)
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}

	return tokenString
}

// OrgClaims builds registered claims plus an organization claim under claimName.
func OrgClaims(subject, email, claimName, orgID string, ttl time.Duration) jwt.MapClaims {
	now := time.Now()

	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}

	if email != "" {
		claims["email"] = email
	}

	if orgID != "" {
		claims[claimName] = orgID
	}

	return claims
}
