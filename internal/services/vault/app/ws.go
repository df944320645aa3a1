package app

import (
	"context"
	"log"
	"net/http"
	"time"

	"golang.org/x/net/websocket"
	"golang.org/x/time/rate"

	apperrors "github.com/covaulthq/covault/internal/platform/errors"
	"github.com/covaulthq/covault/internal/protocol"
	"github.com/covaulthq/covault/internal/services/auth"
	"github.com/covaulthq/covault/internal/services/vault/hub"
)

const maxDecodeErrorsPerConn = 5

type wsIdentityKey struct{}

type wsCredentials struct {
	identity auth.Identity
	token    string
}

// WSHandler serves the WebSocket protocol surface. The session token is
// checked before the upgrade; per-frame expiry is enforced in the read loop.
func (s *Server) WSHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/up", handleUp)

	wsHandler := websocket.Handler(s.handleConn)
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		token := bearerToken(r)
		if token == "" {
			writeHTTPError(w, apperrors.New(apperrors.CodeUnauthenticated, "bearer token is required"))
			return
		}
		identity, err := s.gateway.Validate(r.Context(), token)
		if err != nil {
			log.Printf("app: websocket unauthorized for remote %s: %v", r.RemoteAddr, err)
			writeHTTPError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), wsIdentityKey{}, wsCredentials{identity: identity, token: token})
		wsHandler.ServeHTTP(w, r.WithContext(ctx))
	})
	return mux
}

// wsSink serializes envelopes onto one websocket connection. Only the peer's
// writer goroutine calls WriteEnvelope.
type wsSink struct {
	conn *websocket.Conn
}

func (s *wsSink) WriteEnvelope(env protocol.Envelope) error {
	data, err := protocol.Encode(env)
	if err != nil {
		log.Printf("app: encode outbound frame: %v", err)
		return nil
	}
	return websocket.Message.Send(s.conn, string(data))
}

func (s *wsSink) Close() error {
	return s.conn.Close()
}

func (s *Server) handleConn(conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
	}()

	request := conn.Request()
	creds, ok := request.Context().Value(wsIdentityKey{}).(wsCredentials)
	if !ok {
		return
	}

	peer := hub.NewPeer(creds.identity.UserID, &wsSink{conn: conn}, s.cfg.QueueSize)
	s.hub.Register(peer)
	defer func() {
		s.hub.Unregister(peer)
		peer.Close()
	}()
	if s.cfg.Verbose {
		log.Printf("app: connection open for user %s", creds.identity.UserID)
	}

	ctx := request.Context()
	limiter := rate.NewLimiter(rate.Limit(s.cfg.MaxFramesPerSecond), s.cfg.MaxFramesPerSecond)
	decodeErrors := 0

	for {
		select {
		case <-peer.Done():
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		var data []byte
		if err := websocket.Message.Receive(conn, &data); err != nil {
			if s.cfg.Verbose {
				log.Printf("app: connection closed for user %s: %v", creds.identity.UserID, err)
			}
			return
		}

		env, err := protocol.Decode(data)
		if err != nil {
			s.writeWSError(conn, "", err)
			// A version mismatch is fatal; malformed frames are tolerated
			// a few times before the connection is dropped.
			if apperrors.IsCode(err, apperrors.CodeProtocolVersionMismatch) {
				return
			}
			decodeErrors++
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		if !limiter.Allow() {
			s.writeWSError(conn, env.MessageID, apperrors.New(apperrors.CodeConnRateLimited, "frame rate limit exceeded"))
			return
		}

		// Hard session expiry closes the connection on the next request.
		if _, err := s.gateway.Validate(ctx, creds.token); err != nil {
			s.writeWSError(conn, env.MessageID, err)
			return
		}

		s.handler.Handle(ctx, creds.identity, peer, env)
	}
}

// writeWSError reports a read-loop failure directly on the connection rather
// than through the peer queue, so the frame is on the wire before a fatal
// path closes the connection. The conn serializes concurrent writers, so this
// is safe alongside the peer's writer goroutine.
func (s *Server) writeWSError(conn *websocket.Conn, messageID string, err error) {
	code := apperrors.GetCode(err)
	data, encErr := protocol.Encode(protocol.Envelope{
		ProtocolVersion: protocol.Version,
		MessageID:       messageID,
		Type:            protocol.TypeError,
		Payload: protocol.MustPayload(protocol.ErrorPayload{
			Category: string(code.WireCategory()),
			Code:     string(code),
			Message:  err.Error(),
			Details:  apperrors.GetMetadata(err),
		}),
	})
	if encErr != nil {
		log.Printf("app: encode error frame: %v", encErr)
		return
	}
	_ = websocket.Message.Send(conn, string(data))
}
