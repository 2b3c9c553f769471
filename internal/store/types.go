// Package store defines the narrow read lookups the gateway makes against the
// relational metadata store, a PostgreSQL implementation, and a cache-backed
// decorator.
package store

import (
	"context"
	"time"
)

// Transport kinds a server template can use.
const (
	TransportStreamableHTTP = "streamable-http"
	TransportSSE            = "sse"
	TransportStdio          = "stdio"
)

// Server auth types.
const (
	AuthTypeNone   = "NONE"
	AuthTypeAPIKey = "API_KEY"
	AuthTypeOAuth  = "OAUTH"
)

// McpServer is a tool server configured for one organization.
type McpServer struct {
	ID             string           `json:"id"`
	Slug           string           `json:"slug"`
	OrganizationID string           `json:"organizationId"`
	Name           string           `json:"name"`
	AuthType       string           `json:"authType"`
	PiiMasking     string           `json:"piiMasking"`
	PiiInfoTypes   []string         `json:"piiInfoTypes,omitempty"`
	ToonConversion bool             `json:"toonConversion"`
	Instances      []ServerInstance `json:"instances,omitempty"`
}

// ServerInstance is one template integration inside a server.
type ServerInstance struct {
	ID             string   `json:"id"`
	ServerID       string   `json:"serverId"`
	NormalizedName string   `json:"normalizedName"`
	Template       Template `json:"template"`
	AllowedTools   []string `json:"allowedTools"`
}

// Allows reports whether tool is in the instance's allow-list.
func (i *ServerInstance) Allows(tool string) bool {
	for _, t := range i.AllowedTools {
		if t == tool {
			return true
		}
	}

	return false
}

// Template describes how to reach the upstream tool server.
type Template struct {
	Name      string            `json:"name"`
	Transport string            `json:"transport"`
	URL       string            `json:"url,omitempty"`
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
}

// APIKey is a hashed API key bound to one server.
type APIKey struct {
	ID             string     `json:"id"`
	HashedKey      string     `json:"hashedKey"`
	ServerID       string     `json:"serverId"`
	UserID         string     `json:"userId"`
	OrganizationID string     `json:"organizationId"`
	IsActive       bool       `json:"isActive"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
}

// Expired reports whether the key has an expiry in the past.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// User is a local user resolved from an identity provider subject or email.
type User struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	Email   string `json:"email"`
}

// RequestLog is one persisted tool call record.
type RequestLog struct {
	ID             string    `json:"id"`
	RequestID      string    `json:"requestId"`
	SessionID      string    `json:"sessionId,omitempty"`
	OrganizationID string    `json:"organizationId"`
	UserID         string    `json:"userId,omitempty"`
	ServerID       string    `json:"serverId"`
	InstanceID     string    `json:"instanceId,omitempty"`
	ToolName       string    `json:"toolName"`
	Transport      string    `json:"transport"`
	Method         string    `json:"method"`
	AuthMethod     string    `json:"authMethod"`
	HTTPStatus     int       `json:"httpStatus"`
	DurationMs     int64     `json:"durationMs"`
	InputBytes     int64     `json:"inputBytes"`
	OutputBytes    int64     `json:"outputBytes"`
	ErrorCode      string    `json:"errorCode,omitempty"`
	ErrorMessage   string    `json:"errorMessage,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// MetadataStore is the read-only lookup surface. Each lookup reports
// found=false with a nil error when the record does not exist.
type MetadataStore interface {
	GetServerByID(ctx context.Context, id string) (*McpServer, bool, error)
	GetServerBySlug(ctx context.Context, organizationID, slug string) (*McpServer, bool, error)
	GetInstance(ctx context.Context, serverID, normalizedName string) (*ServerInstance, bool, error)
	ListInstances(ctx context.Context, serverID string) ([]ServerInstance, error)
	GetAPIKeyByHash(ctx context.Context, hashedKey string) (*APIKey, bool, error)
	GetUserBySubject(ctx context.Context, subject string) (*User, bool, error)
	GetUserByEmail(ctx context.Context, email string) (*User, bool, error)
	OrganizationExists(ctx context.Context, organizationID string) (bool, error)
	IsMember(ctx context.Context, organizationID, userID string) (bool, error)
}

// RequestLogSink persists request log records.
type RequestLogSink interface {
	InsertRequestLog(ctx context.Context, rec *RequestLog) error
}

// Store is everything the gateway needs from the metadata database.
type Store interface {
	MetadataStore
	RequestLogSink
	Ping(ctx context.Context) error
	Close()
}
