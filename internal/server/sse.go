package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rayven122/tumiki-sub015/internal/auth"
	customerrors "github.com/rayven122/tumiki-sub015/internal/errors"
	"github.com/rayven122/tumiki-sub015/internal/jsonrpc"
	"github.com/rayven122/tumiki-sub015/internal/logging"
	"github.com/rayven122/tumiki-sub015/internal/requestlog"
	"github.com/rayven122/tumiki-sub015/internal/session"
)

const (
	streamBufferSize = 64
	messagesPath     = "/messages"
)

// sseStream is the outbound half of one SSE session.
type sseStream struct {
	sessionID string
	ac        *auth.AuthContext
	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newSSEStream(ac *auth.AuthContext) *sseStream {
	return &sseStream{
		ac:   ac,
		out:  make(chan []byte, streamBufferSize),
		done: make(chan struct{}),
	}
}

func (st *sseStream) close() {
	st.closeOnce.Do(func() { close(st.done) })
}

// send queues payload for the stream. It fails when the stream is closed or
// its buffer is full.
func (st *sseStream) send(payload []byte) error {
	select {
	case <-st.done:
		return session.NewSessionNotFoundError(st.sessionID)
	default:
	}

	select {
	case st.out <- payload:
		return nil
	default:
		return NewStreamBusyError(st.sessionID)
	}
}

type streamRegistry struct {
	mu      sync.RWMutex
	streams map[string]*sseStream
}

func newStreamRegistry() *streamRegistry {
	return &streamRegistry{streams: make(map[string]*sseStream)}
}

func (r *streamRegistry) add(id string, st *sseStream) {
	r.mu.Lock()
	st.sessionID = id
	r.streams[id] = st
	r.mu.Unlock()
}

func (r *streamRegistry) get(id string) (*sseStream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.streams[id]

	return st, ok
}

func (r *streamRegistry) remove(st *sseStream) {
	r.mu.Lock()
	if st.sessionID != "" {
		delete(r.streams, st.sessionID)
	}
	r.mu.Unlock()
}

func (r *streamRegistry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.streams)
}

func (r *streamRegistry) closeAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, st := range r.streams {
		st.close()
	}
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())
	if ac.Method != auth.MethodAPIKey {
		s.writeError(w, r, NewAPIKeyRequiredError())

		return
	}

	if _, ok := w.(http.Flusher); !ok {
		s.writeError(w, r, NewStreamingUnsupportedError())

		return
	}

	st := newSSEStream(ac)

	sess, err := s.deps.Sessions.CreateSession(session.KindSSE, ac.CredentialID, r.UserAgent(), func() error {
		s.streams.remove(st)
		st.close()

		return nil
	})
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	s.streams.add(sess.ID, st)

	ctx := s.bind(r.Context(), ac, sess.ID)
	log := logging.EnhanceLogger(ctx, s.logger)

	// Streams outlive the server write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, "endpoint", messagesPath+"?sessionId="+sess.ID); err != nil {
		s.deps.Sessions.Destroy(sess.ID)

		return
	}

	log.Info("SSE stream opened")

	ticker := time.NewTicker(s.cfg.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.deps.Sessions.Destroy(sess.ID)
			log.Info("SSE client disconnected")

			return
		case <-st.done:
			log.Info("SSE stream closed")

			return
		case <-ticker.C:
			if err := writeComment(w, "keepalive"); err != nil {
				s.deps.Sessions.Destroy(sess.ID)
				log.Debug("SSE keep-alive failed", zap.Error(err))

				return
			}

			s.deps.Sessions.Touch(sess.ID)
		case payload := <-st.out:
			if err := writeEvent(w, "message", string(payload)); err != nil {
				s.deps.Sessions.Destroy(sess.ID)
				log.Debug("SSE write failed", zap.Error(err))

				return
			}
		}
	}
}

func writeEvent(w io.Writer, event, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}

	return flush(w)
}

func writeComment(w io.Writer, comment string) error {
	if _, err := fmt.Fprintf(w, ": %s\n\n", comment); err != nil {
		return err
	}

	return flush(w)
}

func flush(w io.Writer) error {
	if rw, ok := w.(http.ResponseWriter); ok {
		return http.NewResponseController(rw).Flush()
	}

	return nil
}

// handleMessage accepts a JSON-RPC message for an SSE session and delivers
// the response on the session's stream.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		s.writeError(w, r, NewSessionIDRequiredError("query sessionId"))

		return
	}

	if _, err := s.deps.Sessions.Validate(sessionID); err != nil {
		s.writeError(w, r, err)

		return
	}

	st, ok := s.streams.get(sessionID)
	if !ok {
		s.writeError(w, r, session.NewSessionNotFoundError(sessionID))

		return
	}

	ctx := s.bind(r.Context(), st.ac, sessionID)

	req, rpcErr, err := s.readMessage(w, r)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	if rpcErr != nil {
		s.writeRPC(w, r, http.StatusBadRequest, jsonrpc.NewErrorResponse(rpcErr, nil))

		return
	}

	resp := s.dispatch(ctx, rpcCall{ac: st.ac, sessionID: sessionID}, req)
	if resp != nil {
		payload, err := json.Marshal(resp)
		if err != nil {
			s.writeError(w, r, customerrors.WrapContext(ctx, err, "failed to encode response"))

			return
		}

		requestlog.Update(ctx, func(ec *requestlog.ExecutionContext) {
			ec.OutputBytes = int64(len(payload))
		})

		if err := st.send(payload); err != nil {
			s.writeError(w, r, err)

			return
		}
	}

	w.WriteHeader(http.StatusAccepted)
}
