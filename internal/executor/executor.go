// Package executor resolves qualified tool names to upstream server
// instances and runs tool calls through the connection pool.
package executor

import (
	"context"
	stderrors "errors"
	"sort"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rayven122/tumiki-sub015/internal/auth"
	"github.com/rayven122/tumiki-sub015/internal/config"
	"github.com/rayven122/tumiki-sub015/internal/errors"
	"github.com/rayven122/tumiki-sub015/internal/features"
	"github.com/rayven122/tumiki-sub015/internal/logging"
	"github.com/rayven122/tumiki-sub015/internal/metrics"
	"github.com/rayven122/tumiki-sub015/internal/pool"
	"github.com/rayven122/tumiki-sub015/internal/recovery"
	"github.com/rayven122/tumiki-sub015/internal/requestlog"
	"github.com/rayven122/tumiki-sub015/internal/store"
	"github.com/rayven122/tumiki-sub015/internal/toolname"
)

const tracerName = "github.com/rayven122/tumiki-sub015/internal/executor"

// listConcurrency bounds the upstream tools/list fan-out of ListTools.
const listConcurrency = 4

// ConnectionPool is the part of the pool manager the executor uses.
type ConnectionPool interface {
	Acquire(ctx context.Context, instanceID, serverName string, cfg pool.ServerConfig) (*pool.PooledConnection, error)
	Release(pc *pool.PooledConnection)
	Discard(pc *pool.PooledConnection)
}

// Recoverer attempts recovery of a session after an upstream failure.
type Recoverer interface {
	AttemptRecovery(ctx context.Context, sessionID string, fn recovery.RecoveryFunc) (bool, error)
}

// Executor runs tool calls on behalf of authenticated requests.
type Executor struct {
	cfg       config.ExecutorConfig
	store     store.MetadataStore
	pool      ConnectionPool
	recovery  Recoverer
	privacy   features.Privacy
	collector *metrics.Collector
	tracer    trace.Tracer
	logger    *zap.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithRecovery enables recovery attempts after upstream failures.
func WithRecovery(r Recoverer) Option {
	return func(e *Executor) { e.recovery = r }
}

// WithPrivacy sets the result post-processor.
func WithPrivacy(p features.Privacy) Option {
	return func(e *Executor) { e.privacy = p }
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(e *Executor) { e.tracer = t }
}

// CreateExecutor creates an executor.
func CreateExecutor(
	cfg config.ExecutorConfig,
	metadata store.MetadataStore,
	connections ConnectionPool,
	collector *metrics.Collector,
	logger *zap.Logger,
	opts ...Option,
) *Executor {
	e := &Executor{
		cfg:       cfg,
		store:     metadata,
		pool:      connections,
		privacy:   features.NewPrivacy(false),
		collector: collector,
		tracer:    otel.Tracer(tracerName),
		logger:    logger.With(zap.String("component", "executor")),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Execute calls a tool addressed as "instance__tool" on the authenticated server.
func (e *Executor) Execute(ctx context.Context, ac *auth.AuthContext, fullName string, args map[string]any) (*mcp.CallToolResult, error) {
	name, err := toolname.Parse(fullName)
	if err != nil {
		return nil, err
	}

	return e.execute(ctx, ac, name, args)
}

// ExecuteUnified calls a tool addressed as "server__instance__tool". The
// server segment must name the authenticated server.
func (e *Executor) ExecuteUnified(ctx context.Context, ac *auth.AuthContext, fullName string, args map[string]any) (*mcp.CallToolResult, error) {
	name, err := toolname.ParseUnified(fullName)
	if err != nil {
		return nil, err
	}

	if name.Server != ac.ServerID {
		return nil, NewServerMismatchError(fullName)
	}

	return e.execute(ctx, ac, name, args)
}

func (e *Executor) execute(ctx context.Context, ac *auth.AuthContext, name toolname.Name, args map[string]any) (*mcp.CallToolResult, error) {
	fullName := name.String()

	ctx, span := e.tracer.Start(ctx, "executor.Execute", trace.WithAttributes(
		attribute.String("mcp.tool", fullName),
		attribute.String("mcp.server_id", ac.ServerID),
		attribute.String("mcp.organization_id", ac.OrganizationID),
	))
	defer span.End()

	res, err := e.call(ctx, ac, name, args)
	if err != nil {
		ge := errors.FromContext(ctx, err).
			WithContext("tool_name", fullName).
			WithContext("server_id", ac.ServerID)

		info := errors.ToErrorInfo(ge)
		span.RecordError(ge)
		span.SetStatus(codes.Error, info.Code)

		logging.LogError(ctx, e.logger, "Tool call failed", ge,
			zap.String("tool", fullName),
			zap.String("error_code", info.Code),
			zap.Int("http_status", info.HTTPStatus),
		)

		return nil, ge
	}

	return e.privacy.Apply(ctx, ac, res), nil
}

func (e *Executor) call(ctx context.Context, ac *auth.AuthContext, name toolname.Name, args map[string]any) (*mcp.CallToolResult, error) {
	inst, err := e.resolve(ctx, ac, name)
	if err != nil {
		return nil, err
	}

	requestlog.Update(ctx, func(ec *requestlog.ExecutionContext) { ec.InstanceID = inst.ID })

	callCtx := ctx
	if e.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.cfg.CallTimeout)
		defer cancel()
	}

	serverName := upstreamName(inst)
	serverCfg := pool.ServerConfigFromTemplate(inst.Template)

	conn, err := e.pool.Acquire(callCtx, inst.ID, serverName, serverCfg)
	if err != nil {
		return nil, e.normalize(callCtx, err, name, serverName)
	}

	// A connection whose call panicked is never handed out again.
	returned := false
	defer func() {
		if !returned {
			e.pool.Discard(conn)
		}
	}()

	_, span := e.tracer.Start(callCtx, "upstream.CallTool", trace.WithAttributes(
		attribute.String("mcp.upstream", serverName),
		attribute.String("mcp.pool_conn", conn.ID()),
	))
	defer span.End()

	start := time.Now()
	res, err := conn.CallTool(callCtx, name.Tool, args)
	latency := time.Since(start)
	e.collector.RecordOperation(err == nil, latency)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upstream call failed")

		e.pool.Discard(conn)
		returned = true
		e.attemptRecovery(ctx, inst.ID, serverName, serverCfg)

		return nil, e.normalize(callCtx, err, name, serverName)
	}

	e.pool.Release(conn)
	returned = true

	e.logger.Debug("Tool call completed",
		zap.String("tool", name.String()),
		zap.String("server", serverName),
		zap.Duration("latency", latency),
		zap.Bool("is_error", res != nil && res.IsError),
	)

	return res, nil
}

// resolve finds the instance behind name inside the authenticated server and
// checks tenant ownership and the tool allow-list.
func (e *Executor) resolve(ctx context.Context, ac *auth.AuthContext, name toolname.Name) (*store.ServerInstance, error) {
	inst, found, err := e.store.GetInstance(ctx, ac.ServerID, name.Instance)
	if err != nil {
		return nil, NewMetadataError(err, "get_instance")
	}

	if !found {
		return nil, NewToolNotFoundError(name.String())
	}

	srv := ac.Server
	if srv == nil || srv.ID != inst.ServerID {
		srv, found, err = e.store.GetServerByID(ctx, inst.ServerID)
		if err != nil {
			return nil, NewMetadataError(err, "get_server")
		}

		if !found {
			return nil, NewToolNotFoundError(name.String())
		}
	}

	if srv.OrganizationID != ac.OrganizationID {
		return nil, auth.NewTenantMismatchError(ac.OrganizationID, srv.OrganizationID)
	}

	if !inst.Allows(name.Tool) {
		return nil, NewToolNotFoundError(name.String())
	}

	return inst, nil
}

// attemptRecovery asks the recovery manager to re-establish an upstream
// connection for the calling session. It never waits out the back-off.
func (e *Executor) attemptRecovery(ctx context.Context, instanceID, serverName string, cfg pool.ServerConfig) {
	if e.recovery == nil {
		return
	}

	sessionID, _ := ctx.Value(errors.ContextKeySessionID).(string)
	if sessionID == "" {
		return
	}

	ok, err := e.recovery.AttemptRecovery(ctx, sessionID, func(ctx context.Context) error {
		conn, err := e.pool.Acquire(ctx, instanceID, serverName, cfg)
		if err != nil {
			return err
		}

		e.pool.Release(conn)

		return nil
	})

	switch {
	case ok:
		e.logger.Info("Upstream connection recovered",
			zap.String("session_id", sessionID),
			zap.String("server", serverName),
		)
	case err != nil && !stderrors.Is(err, recovery.ErrNotYetDue):
		e.logger.Warn("Upstream recovery failed",
			zap.String("session_id", sessionID),
			zap.String("server", serverName),
			zap.Error(err),
		)
	}
}

func (e *Executor) normalize(ctx context.Context, err error, name toolname.Name, serverName string) error {
	var ge *errors.GatewayError
	if stderrors.As(err, &ge) {
		return ge
	}

	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return NewCallTimeoutError(err, name.String())
	}

	if stderrors.Is(err, context.Canceled) {
		return errors.WrapWithType(err, errors.TypeCanceled, "tool call canceled").
			WithComponent("executor").
			WithCode(errors.CodeCanceled)
	}

	return errors.NewUpstreamError(err, serverName).WithComponent("executor")
}

func upstreamName(inst *store.ServerInstance) string {
	if inst.Template.Name != "" {
		return inst.Template.Name
	}

	return inst.NormalizedName
}

// ListTools returns the allowed tools of every instance of the authenticated
// server, named "instance__tool". Descriptions and input schemas come from
// the upstream when it answers; otherwise the tool is listed by name only.
func (e *Executor) ListTools(ctx context.Context, ac *auth.AuthContext) ([]mcp.Tool, error) {
	ctx, span := e.tracer.Start(ctx, "executor.ListTools", trace.WithAttributes(
		attribute.String("mcp.server_id", ac.ServerID),
	))
	defer span.End()

	instances, err := e.store.ListInstances(ctx, ac.ServerID)
	if err != nil {
		ge := NewMetadataError(err, "list_instances")
		span.RecordError(ge)

		return nil, ge
	}

	perInstance := make([][]mcp.Tool, len(instances))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(listConcurrency)

	for i := range instances {
		inst := &instances[i]

		g.Go(func() error {
			perInstance[i] = e.instanceTools(gctx, inst)

			return nil
		})
	}

	_ = g.Wait()

	var tools []mcp.Tool
	for _, list := range perInstance {
		tools = append(tools, list...)
	}

	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })

	return tools, nil
}

func (e *Executor) instanceTools(ctx context.Context, inst *store.ServerInstance) []mcp.Tool {
	described := e.describe(ctx, inst)

	tools := make([]mcp.Tool, 0, len(inst.AllowedTools))

	for _, name := range inst.AllowedTools {
		tool, ok := described[name]
		if !ok {
			tool = mcp.NewTool(name)
		}

		tool.Name = toolname.Join(inst.NormalizedName, name)
		tools = append(tools, tool)
	}

	return tools
}

func (e *Executor) describe(ctx context.Context, inst *store.ServerInstance) map[string]mcp.Tool {
	serverName := upstreamName(inst)

	conn, err := e.pool.Acquire(ctx, inst.ID, serverName, pool.ServerConfigFromTemplate(inst.Template))
	if err != nil {
		e.logger.Warn("Listing tools without upstream metadata",
			zap.String("server", serverName),
			zap.String("error_code", errors.ToErrorInfo(err).Code),
		)

		return nil
	}

	returned := false
	defer func() {
		if !returned {
			e.pool.Discard(conn)
		}
	}()

	upstream, err := conn.ListTools(ctx)
	if err != nil {
		e.logger.Warn("Upstream tools/list failed",
			zap.String("server", serverName),
			zap.Error(err),
		)

		return nil
	}

	e.pool.Release(conn)
	returned = true

	out := make(map[string]mcp.Tool, len(upstream))
	for _, t := range upstream {
		out[t.Name] = t
	}

	return out
}
