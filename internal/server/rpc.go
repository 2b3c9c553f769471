package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/rayven122/tumiki-sub015/internal/auth"
	customerrors "github.com/rayven122/tumiki-sub015/internal/errors"
	"github.com/rayven122/tumiki-sub015/internal/jsonrpc"
	"github.com/rayven122/tumiki-sub015/internal/logging"
	"github.com/rayven122/tumiki-sub015/internal/requestlog"
	"github.com/rayven122/tumiki-sub015/internal/toolname"
)

const gatewayName = "tumiki-mcp-gateway"

// rpcCall is who a JSON-RPC message is processed for.
type rpcCall struct {
	ac        *auth.AuthContext
	sessionID string
}

type initializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	ClientInfo      mcp.Implementation `json:"clientInfo"`
}

type initializeResult struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities"`
	ServerInfo      mcp.Implementation     `json:"serverInfo"`
}

type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// dispatch handles one JSON-RPC message. It returns nil for notifications.
func (s *Server) dispatch(ctx context.Context, call rpcCall, req *jsonrpc.Request) *jsonrpc.Response {
	requestlog.Update(ctx, func(ec *requestlog.ExecutionContext) {
		ec.Method = req.Method
	})

	var (
		result interface{}
		rpcErr *jsonrpc.Error
	)

	switch req.Method {
	case jsonrpc.MethodInitialize:
		result, rpcErr = s.initialize(call, req)
	case jsonrpc.MethodInitialized:
		return nil
	case jsonrpc.MethodPing:
		result = struct{}{}
	case jsonrpc.MethodToolsList:
		result, rpcErr = s.listTools(ctx, call)
	case jsonrpc.MethodToolsCall:
		result, rpcErr = s.callTool(ctx, call, req)
	default:
		if req.IsNotification() {
			return nil
		}

		rpcErr = &jsonrpc.Error{Code: jsonrpc.ErrorCodeMethodNotFound, Message: "method not found: " + req.Method}
	}

	if req.IsNotification() {
		return nil
	}

	if rpcErr != nil {
		return jsonrpc.NewErrorResponse(rpcErr, req.ID)
	}

	return jsonrpc.NewResponse(result, req.ID)
}

func (s *Server) initialize(call rpcCall, req *jsonrpc.Request) (interface{}, *jsonrpc.Error) {
	var params initializeParams
	if rpcErr := req.DecodeParams(&params); rpcErr != nil {
		return nil, rpcErr
	}

	version := params.ProtocolVersion
	if version == "" {
		version = mcp.LATEST_PROTOCOL_VERSION
	}

	name := gatewayName
	if call.ac.Server != nil && call.ac.Server.Name != "" {
		name = call.ac.Server.Name
	}

	return initializeResult{
		ProtocolVersion: version,
		Capabilities: map[string]interface{}{
			"tools": map[string]interface{}{},
		},
		ServerInfo: mcp.Implementation{Name: name, Version: s.version},
	}, nil
}

func (s *Server) listTools(ctx context.Context, call rpcCall) (interface{}, *jsonrpc.Error) {
	tools, err := s.deps.Executor.ListTools(ctx, call.ac)
	if err != nil {
		s.recordFailure(ctx, call, err)

		return nil, jsonrpc.FromError(err)
	}

	s.deps.Sessions.Touch(call.sessionID)

	return mcp.ListToolsResult{Tools: tools}, nil
}

func (s *Server) callTool(ctx context.Context, call rpcCall, req *jsonrpc.Request) (interface{}, *jsonrpc.Error) {
	var params callToolParams
	if rpcErr := req.DecodeParams(&params); rpcErr != nil {
		return nil, rpcErr
	}

	if params.Name == "" {
		return nil, &jsonrpc.Error{Code: jsonrpc.ErrorCodeInvalidParams, Message: "tool name is required"}
	}

	requestlog.Update(ctx, func(ec *requestlog.ExecutionContext) {
		ec.ToolName = params.Name
	})

	ctx = customerrors.EnrichWithTool(ctx, params.Name, "")

	execute := s.deps.Executor.Execute
	if strings.Count(params.Name, toolname.Separator) == 2 {
		execute = s.deps.Executor.ExecuteUnified
	}

	res, err := execute(ctx, call.ac, params.Name, params.Arguments)
	if err != nil {
		s.recordFailure(ctx, call, err)

		return nil, jsonrpc.FromError(err)
	}

	requestlog.Update(ctx, func(ec *requestlog.ExecutionContext) {
		ec.HTTPStatus = http.StatusOK
	})
	s.deps.Sessions.Touch(call.sessionID)

	return res, nil
}

// recordFailure charges a failed operation to the session and the request.
func (s *Server) recordFailure(ctx context.Context, call rpcCall, err error) {
	if ec, ok := requestlog.FromContext(ctx); ok {
		ec.SetError(err)
	}

	if call.sessionID == "" {
		return
	}

	if n := s.deps.Sessions.RecordError(call.sessionID); n > 0 {
		logging.LogDebug(ctx, s.logger, "Session error recorded",
			zap.String("session_id", call.sessionID),
			zap.Int("error_count", n),
		)
	}
}
