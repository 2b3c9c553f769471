package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/rayven122/tumiki-sub015/internal/config"
	customerrors "github.com/rayven122/tumiki-sub015/internal/errors"
)

const pingTimeout = 5 * time.Second

const selectServer = `
	select s.id, s.slug, s.organization_id, s.name, s.auth_type,
	       coalesce(s.pii_masking_mode, 'DISABLED'), coalesce(s.pii_info_types, '{}'),
	       s.toon_conversion_enabled
	from mcp_servers s`

const selectInstance = `
	select i.id, i.mcp_server_id, i.normalized_name, coalesce(i.allowed_tools, '{}'),
	       t.name, t.transport_type, coalesce(t.url, ''), coalesce(t.command, ''),
	       coalesce(t.args, '{}'), coalesce(t.env, '{}'::jsonb), coalesce(t.headers, '{}'::jsonb)
	from mcp_server_instances i
	join mcp_server_templates t on t.id = i.template_id`

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// InitializePostgresStore opens the pool described by cfg and checks connectivity.
func InitializePostgresStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, customerrors.NewValidationError("store DSN is empty; set " + cfg.DSNEnv).
			WithComponent("store")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, customerrors.Wrap(err, "failed to parse store DSN").WithComponent("store")
	}

	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, NewUnavailableError(err)
	}

	s := &PostgresStore{pool: pool, logger: logger.With(zap.String("component", "store"))}

	if err := s.Ping(ctx); err != nil {
		pool.Close()

		return nil, err
	}

	s.logger.Info("Connected to metadata store", zap.Int32("max_conns", poolCfg.MaxConns))

	return s, nil
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := s.pool.Ping(pingCtx); err != nil {
		return NewUnavailableError(err)
	}

	return nil
}

// Close closes the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) queryServer(ctx context.Context, name, where string, args ...any) (*McpServer, bool, error) {
	var srv McpServer

	err := s.pool.QueryRow(ctx, selectServer+" "+where, args...).Scan(
		&srv.ID, &srv.Slug, &srv.OrganizationID, &srv.Name, &srv.AuthType,
		&srv.PiiMasking, &srv.PiiInfoTypes, &srv.ToonConversion,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, WrapQueryError(ctx, err, name)
	}

	instances, err := s.ListInstances(ctx, srv.ID)
	if err != nil {
		return nil, false, err
	}

	srv.Instances = instances

	return &srv, true, nil
}

// GetServerByID implements MetadataStore.
func (s *PostgresStore) GetServerByID(ctx context.Context, id string) (*McpServer, bool, error) {
	return s.queryServer(ctx, "server_by_id", "where s.id = $1 and s.deleted_at is null", id)
}

// GetServerBySlug implements MetadataStore.
func (s *PostgresStore) GetServerBySlug(ctx context.Context, organizationID, slug string) (*McpServer, bool, error) {
	return s.queryServer(ctx, "server_by_slug",
		"where s.organization_id = $1 and s.slug = $2 and s.deleted_at is null", organizationID, slug)
}

func scanInstance(row pgx.Row) (*ServerInstance, error) {
	var inst ServerInstance

	err := row.Scan(
		&inst.ID, &inst.ServerID, &inst.NormalizedName, &inst.AllowedTools,
		&inst.Template.Name, &inst.Template.Transport, &inst.Template.URL, &inst.Template.Command,
		&inst.Template.Args, &inst.Template.Env, &inst.Template.Headers,
	)
	if err != nil {
		return nil, err
	}

	return &inst, nil
}

// GetInstance implements MetadataStore.
func (s *PostgresStore) GetInstance(ctx context.Context, serverID, normalizedName string) (*ServerInstance, bool, error) {
	inst, err := scanInstance(s.pool.QueryRow(ctx,
		selectInstance+" where i.mcp_server_id = $1 and i.normalized_name = $2 and i.deleted_at is null",
		serverID, normalizedName))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, WrapQueryError(ctx, err, "instance_by_name")
	}

	return inst, true, nil
}

// ListInstances implements MetadataStore.
func (s *PostgresStore) ListInstances(ctx context.Context, serverID string) ([]ServerInstance, error) {
	rows, err := s.pool.Query(ctx,
		selectInstance+" where i.mcp_server_id = $1 and i.deleted_at is null order by i.normalized_name",
		serverID)
	if err != nil {
		return nil, WrapQueryError(ctx, err, "list_instances")
	}
	defer rows.Close()

	var out []ServerInstance

	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, WrapQueryError(ctx, err, "list_instances")
		}

		out = append(out, *inst)
	}

	if err := rows.Err(); err != nil {
		return nil, WrapQueryError(ctx, err, "list_instances")
	}

	return out, nil
}

// GetAPIKeyByHash implements MetadataStore.
func (s *PostgresStore) GetAPIKeyByHash(ctx context.Context, hashedKey string) (*APIKey, bool, error) {
	var key APIKey

	err := s.pool.QueryRow(ctx, `
		select k.id, k.api_key_hash, k.mcp_server_id, k.user_id, k.organization_id, k.is_active, k.expires_at
		from mcp_api_keys k
		where k.api_key_hash = $1 and k.deleted_at is null
	`, hashedKey).Scan(&key.ID, &key.HashedKey, &key.ServerID, &key.UserID, &key.OrganizationID, &key.IsActive, &key.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, WrapQueryError(ctx, err, "api_key_by_hash")
	}

	return &key, true, nil
}

func (s *PostgresStore) queryUser(ctx context.Context, name, column, value string) (*User, bool, error) {
	var u User

	err := s.pool.QueryRow(ctx,
		`select id, coalesce(subject, ''), coalesce(email, '') from users where `+column+` = $1`, value,
	).Scan(&u.ID, &u.Subject, &u.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, WrapQueryError(ctx, err, name)
	}

	return &u, true, nil
}

// GetUserBySubject implements MetadataStore.
func (s *PostgresStore) GetUserBySubject(ctx context.Context, subject string) (*User, bool, error) {
	return s.queryUser(ctx, "user_by_subject", "subject", subject)
}

// GetUserByEmail implements MetadataStore.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*User, bool, error) {
	return s.queryUser(ctx, "user_by_email", "email", email)
}

func (s *PostgresStore) exists(ctx context.Context, name, query string, args ...any) (bool, error) {
	var ok bool

	err := s.pool.QueryRow(ctx, query, args...).Scan(&ok)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}

	if err != nil {
		return false, WrapQueryError(ctx, err, name)
	}

	return ok, nil
}

// OrganizationExists implements MetadataStore.
func (s *PostgresStore) OrganizationExists(ctx context.Context, organizationID string) (bool, error) {
	return s.exists(ctx, "organization_exists",
		`select true from organizations where id = $1 and deleted_at is null`, organizationID)
}

// IsMember implements MetadataStore.
func (s *PostgresStore) IsMember(ctx context.Context, organizationID, userID string) (bool, error) {
	return s.exists(ctx, "is_member",
		`select true from organization_members where organization_id = $1 and user_id = $2`,
		organizationID, userID)
}

// InsertRequestLog implements RequestLogSink.
func (s *PostgresStore) InsertRequestLog(ctx context.Context, rec *RequestLog) error {
	_, err := s.pool.Exec(ctx, `
		insert into mcp_server_request_logs (
			id, request_id, session_id, organization_id, user_id, mcp_server_id, instance_id,
			tool_name, transport_type, method, auth_method, http_status, duration_ms,
			input_bytes, output_bytes, error_code, error_message, created_at
		) values ($1, $2, $3, $4, nullif($5, ''), $6, nullif($7, ''), $8, $9, $10, $11, $12, $13, $14, $15,
			nullif($16, ''), nullif($17, ''), $18)
	`,
		rec.ID, rec.RequestID, rec.SessionID, rec.OrganizationID, rec.UserID, rec.ServerID, rec.InstanceID,
		rec.ToolName, rec.Transport, rec.Method, rec.AuthMethod, rec.HTTPStatus, rec.DurationMs,
		rec.InputBytes, rec.OutputBytes, rec.ErrorCode, rec.ErrorMessage, rec.CreatedAt,
	)
	if err != nil {
		return WrapQueryError(ctx, err, "insert_request_log")
	}

	return nil
}
