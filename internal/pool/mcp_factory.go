package pool

import (
	"context"
	"sort"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcptransport "github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	customerrors "github.com/rayven122/tumiki-sub015/internal/errors"
	"github.com/rayven122/tumiki-sub015/internal/store"
)

// ClientName is reported to upstream servers during initialize.
const ClientName = "mcp-gateway"

// MCPConnectionFactory dials upstream servers with the mcp-go client.
type MCPConnectionFactory struct {
	version string
	logger  *zap.Logger
}

// NewMCPConnectionFactory creates a factory that identifies itself with version.
func NewMCPConnectionFactory(version string, logger *zap.Logger) *MCPConnectionFactory {
	return &MCPConnectionFactory{
		version: version,
		logger:  logger.With(zap.String("component", "pool.factory")),
	}
}

// Create connects and runs the initialize handshake.
func (f *MCPConnectionFactory) Create(ctx context.Context, key Key, cfg ServerConfig) (Connection, error) {
	c, err := f.newClient(cfg)
	if err != nil {
		return nil, err
	}

	// stdio clients start their subprocess on construction. The transport
	// lifetime is bound to Close, not to the dial context.
	if cfg.Transport != store.TransportStdio {
		if err := c.Start(context.Background()); err != nil {
			_ = c.Close()

			return nil, customerrors.Wrapf(err, "failed to start %s transport", cfg.Transport)
		}
	}

	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.Capabilities = mcp.ClientCapabilities{}
	req.Params.ClientInfo = mcp.Implementation{
		Name:    ClientName,
		Version: f.version,
	}

	res, err := c.Initialize(ctx, req)
	if err != nil {
		_ = c.Close()

		return nil, customerrors.Wrap(err, "initialize failed")
	}

	f.logger.Debug("Upstream initialized",
		zap.String("server", key.ServerName),
		zap.String("transport", cfg.Transport),
		zap.String("upstream_name", res.ServerInfo.Name),
		zap.String("protocol_version", res.ProtocolVersion),
	)

	return &mcpConnection{client: c}, nil
}

func (f *MCPConnectionFactory) newClient(cfg ServerConfig) (*mcpclient.Client, error) {
	switch cfg.Transport {
	case store.TransportStreamableHTTP, "":
		return mcpclient.NewStreamableHttpClient(cfg.URL, mcptransport.WithHTTPHeaders(cfg.Headers))
	case store.TransportSSE:
		return mcpclient.NewSSEMCPClient(cfg.URL, mcptransport.WithHeaders(cfg.Headers))
	case store.TransportStdio:
		return mcpclient.NewStdioMCPClient(cfg.Command, envList(cfg.Env), cfg.Args...)
	default:
		return nil, NewUnsupportedTransportError(cfg.Transport)
	}
}

func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}

	sort.Strings(out)

	return out
}

type mcpConnection struct {
	client *mcpclient.Client
}

func (c *mcpConnection) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	return c.client.CallTool(ctx, req)
}

func (c *mcpConnection) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	res, err := c.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, err
	}

	return res.Tools, nil
}

func (c *mcpConnection) Ping(ctx context.Context) error {
	return c.client.Ping(ctx)
}

func (c *mcpConnection) Close() error {
	return c.client.Close()
}
