package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/gluk-w/hive-server/internal/broadcast"
	"github.com/gluk-w/hive-server/internal/logutil"
	"github.com/gluk-w/hive-server/internal/middleware"
	"github.com/gluk-w/hive-server/internal/session"
)

// terminalRateLimit defines the maximum number of messages allowed per
// second per WebSocket connection. Messages beyond this rate are dropped.
const terminalRateLimit = 200

// terminalRateBurst is the token bucket burst size, allowing short bursts
// of rapid input (e.g., paste operations) before rate limiting kicks in.
const terminalRateBurst = 200

// maxInputMessageSize is the maximum size in bytes for a single input
// message forwarded to the SSH channel.
const maxInputMessageSize = 64 * 1024

// maxResizeCols and maxResizeRows define upper bounds for terminal resize
// requests. Values beyond these are clamped.
const (
	maxResizeCols = 500
	maxResizeRows = 500
)

// Close codes on the terminal WebSocket, in the 4xxx application range.
const (
	closeNotFound      = 4004
	closeNotAuthorized = 4003
	closeNotActive     = 4409
	closeInternal      = 4500
)

type terminalClientMsg struct {
	Type     string `json:"type"`
	Cols     uint16 `json:"cols"`
	Rows     uint16 `json:"rows"`
	Filename string `json:"filename"`
	Data     string `json:"data"`
}

type terminalErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// TerminalWS attaches the caller to a session's terminal over a WebSocket.
//
// Query parameters:
//   - offset: (optional) byte offset of the last scrollback byte the client
//     has seen. When present, scrollback from that offset is replayed as a
//     binary frame before live output; without it, attach is live-only.
//
// Server frames: a text attach handshake, then binary output. SSH failures
// surface as a text error frame followed by close. Client frames: binary
// input bytes, text resize and file messages.
func (a *API) TerminalWS(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)
	sessionID := chi.URLParam(r, "id")

	var (
		offset    *int
		hasOffset bool
	)
	if raw := r.URL.Query().Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid offset")
			return
		}
		offset = &n
		hasOffset = true
	}

	clientConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[terminal] failed to accept websocket: %v", err)
		return
	}
	defer clientConn.CloseNow()

	ctx := r.Context()

	var (
		replay []byte
		rx     *broadcast.Receiver
	)
	if hasOffset {
		replay, rx, err = a.Manager.AttachWithRecovery(sessionID, user.ID, offset)
	} else {
		rx, err = a.Manager.AttachToSession(sessionID, user.ID)
	}
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNotFound):
			clientConn.Close(closeNotFound, "Session not found")
		case errors.Is(err, session.ErrUnauthorized):
			clientConn.Close(closeNotAuthorized, "Not authorized")
		case errors.Is(err, session.ErrNotActive):
			clientConn.Close(closeNotActive, "Session is not active")
		default:
			log.Printf("[terminal] attach to session %s failed: %v", sessionID, err)
			clientConn.Close(closeInternal, "Failed to attach")
		}
		return
	}
	defer rx.Cancel()

	as := a.Manager.GetSession(sessionID)
	if as == nil {
		clientConn.Close(closeNotActive, "Session is not active")
		return
	}

	clientConn.SetReadLimit(1024 * 1024)

	replayOffset := 0
	if offset != nil {
		replayOffset = *offset
	}
	handshake, _ := json.Marshal(map[string]interface{}{
		"type":       "attach",
		"session_id": sessionID,
		"offset":     replayOffset,
	})
	if err := clientConn.Write(ctx, websocket.MessageText, handshake); err != nil {
		return
	}

	if len(replay) > 0 {
		if err := clientConn.Write(ctx, websocket.MessageBinary, replay); err != nil {
			return
		}
	}

	relayCtx, relayCancel := context.WithCancel(ctx)
	defer relayCancel()

	log.Printf("[terminal] client attached: session=%s user=%s", sessionID, user.ID)
	defer log.Printf("[terminal] client detached: session=%s user=%s", sessionID, user.ID)

	// Session output -> Browser
	go func() {
		defer relayCancel()
		for {
			data, err := rx.Recv(relayCtx)
			if err != nil {
				var lagged *broadcast.LaggedError
				if errors.As(err, &lagged) {
					log.Printf("[terminal] session %s client lagged, %d messages lost", sessionID, lagged.Missed)
					continue
				}
				return
			}
			if err := clientConn.Write(relayCtx, websocket.MessageBinary, data); err != nil {
				return
			}
		}
	}()

	// Rate limiter for this connection
	limiter := newTokenBucket(terminalRateBurst, terminalRateLimit)

	// Browser -> SSH stdin
	func() {
		defer relayCancel()
		for {
			msgType, data, err := clientConn.Read(relayCtx)
			if err != nil {
				return
			}

			// Rate limit: drop messages that exceed the allowed rate
			if !limiter.allow() {
				continue
			}

			if msgType == websocket.MessageBinary {
				if len(data) > maxInputMessageSize {
					log.Printf("[terminal] input message too large: session=%s size=%d limit=%d", sessionID, len(data), maxInputMessageSize)
					continue
				}
				if err := as.Send(data); err != nil {
					a.sendTerminalError(relayCtx, clientConn, err)
					return
				}
			} else {
				var msg terminalClientMsg
				if err := json.Unmarshal(data, &msg); err != nil {
					continue
				}
				switch msg.Type {
				case "resize":
					if msg.Cols == 0 || msg.Rows == 0 {
						continue
					}
					cols := msg.Cols
					rows := msg.Rows
					if cols > maxResizeCols {
						cols = maxResizeCols
					}
					if rows > maxResizeRows {
						rows = maxResizeRows
					}
					if err := as.Resize(int(cols), int(rows)); err != nil {
						a.sendTerminalError(relayCtx, clientConn, err)
						return
					}
				case "file":
					// Accepted for protocol compatibility; uploads are not
					// implemented.
					log.Printf("[terminal] file message ignored: session=%s filename=%s size=%d",
						sessionID, logutil.SanitizeForLog(msg.Filename), len(msg.Data))
				}
			}
		}
	}()

	// Detach leaves the session running; only an explicit close or SSH
	// failure ends it.
	clientConn.Close(websocket.StatusNormalClosure, "")
}

// sendTerminalError delivers a fatal SSH-side failure as a text frame so
// the client can distinguish it from an ordinary detach.
func (a *API) sendTerminalError(ctx context.Context, conn *websocket.Conn, cause error) {
	frame, _ := json.Marshal(terminalErrorMsg{
		Type:    "error",
		Code:    "SSH_ERROR",
		Message: cause.Error(),
	})
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	conn.Write(writeCtx, websocket.MessageText, frame)
}

// tokenBucket implements a simple token bucket rate limiter for terminal
// messages.
type tokenBucket struct {
	tokens     int
	maxTokens  int
	refillRate int // tokens added per second
	lastRefill time.Time
}

func newTokenBucket(maxTokens, refillRate int) *tokenBucket {
	return &tokenBucket{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// allow checks if a message is allowed and consumes a token.
func (tb *tokenBucket) allow() bool {
	now := time.Now()
	elapsed := now.Sub(tb.lastRefill)
	tb.lastRefill = now

	tb.tokens += int(elapsed.Seconds() * float64(tb.refillRate))
	if tb.tokens > tb.maxTokens {
		tb.tokens = tb.maxTokens
	}

	if tb.tokens <= 0 {
		return false
	}
	tb.tokens--
	return true
}
