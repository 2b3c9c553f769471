package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/rayven122/tumiki-sub015/internal/auth"
	customerrors "github.com/rayven122/tumiki-sub015/internal/errors"
	"github.com/rayven122/tumiki-sub015/internal/jsonrpc"
	"github.com/rayven122/tumiki-sub015/internal/logging"
	"github.com/rayven122/tumiki-sub015/internal/requestlog"
	"github.com/rayven122/tumiki-sub015/internal/session"
)

// bind attaches the caller and session to the request context.
func (s *Server) bind(ctx context.Context, ac *auth.AuthContext, sessionID string) context.Context {
	requestlog.Update(ctx, func(ec *requestlog.ExecutionContext) {
		ec.Auth = ac
		ec.SessionID = sessionID
	})

	ctx = customerrors.EnrichContext(ctx, logging.GetRequestID(ctx), ac.UserID, sessionID)

	return customerrors.EnrichWithTenant(ctx, ac.OrganizationID, ac.ServerID)
}

// readMessage reads and decodes one JSON-RPC message from the body.
func (s *Server) readMessage(w http.ResponseWriter, r *http.Request) (*jsonrpc.Request, *jsonrpc.Error, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		return nil, nil, NewInvalidBodyError(err)
	}

	requestlog.Update(r.Context(), func(ec *requestlog.ExecutionContext) {
		ec.InputBytes = int64(len(body))
	})

	req, rpcErr := jsonrpc.Decode(body)

	return req, rpcErr, nil
}

func (s *Server) handleStreamablePost(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())

	req, rpcErr, err := s.readMessage(w, r)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	if rpcErr != nil {
		s.writeRPC(w, r, http.StatusOK, jsonrpc.NewErrorResponse(rpcErr, nil))

		return
	}

	sessionID := r.Header.Get(HeaderSessionID)

	switch {
	case sessionID == "" && req.Method == jsonrpc.MethodInitialize:
		sess, err := s.openStreamableSession(ac, req)
		if err != nil {
			s.writeError(w, r, err)

			return
		}

		sessionID = sess.ID
		w.Header().Set(HeaderSessionID, sessionID)
	case sessionID == "":
		s.writeError(w, r, NewSessionIDRequiredError("header "+HeaderSessionID))

		return
	default:
		if err := s.checkSession(sessionID, ac); err != nil {
			s.writeError(w, r, err)

			return
		}
	}

	ctx := s.bind(r.Context(), ac, sessionID)

	resp := s.dispatch(ctx, rpcCall{ac: ac, sessionID: sessionID}, req)
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)

		return
	}

	s.writeRPC(w, r, http.StatusOK, resp)
}

func (s *Server) openStreamableSession(ac *auth.AuthContext, req *jsonrpc.Request) (session.Session, error) {
	var params initializeParams
	_ = json.Unmarshal(req.Params, &params)

	return s.deps.Sessions.CreateSession(session.KindStreamableHTTP, ac.CredentialID, params.ClientInfo.Name, nil)
}

// checkSession validates a session id presented with credential ac.
func (s *Server) checkSession(sessionID string, ac *auth.AuthContext) error {
	sess, err := s.deps.Sessions.Validate(sessionID)
	if err != nil {
		return err
	}

	if sess.CredentialID != ac.CredentialID {
		s.logger.Warn("Session used with a different credential",
			zap.String("session_id", sessionID),
			zap.String("server_id", ac.ServerID),
		)

		return NewSessionMismatchError(sessionID)
	}

	return nil
}

func (s *Server) handleStreamableDelete(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())

	sessionID := r.Header.Get(HeaderSessionID)
	if sessionID == "" {
		s.writeError(w, r, NewSessionIDRequiredError("header "+HeaderSessionID))

		return
	}

	sess, ok := s.deps.Sessions.Get(sessionID)
	if !ok {
		s.writeError(w, r, session.NewSessionNotFoundError(sessionID))

		return
	}

	if sess.CredentialID != ac.CredentialID {
		s.writeError(w, r, NewSessionMismatchError(sessionID))

		return
	}

	s.deps.Sessions.Destroy(sessionID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeRPC(w http.ResponseWriter, r *http.Request, status int, resp *jsonrpc.Response) {
	payload, err := json.Marshal(resp)
	if err != nil {
		s.writeError(w, r, customerrors.WrapContext(r.Context(), err, "failed to encode response"))

		return
	}

	requestlog.Update(r.Context(), func(ec *requestlog.ExecutionContext) {
		ec.OutputBytes = int64(len(payload))
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}
