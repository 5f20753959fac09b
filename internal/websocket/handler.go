package websocket

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/nfrund/sharedhub/internal/hub"
	"github.com/nfrund/sharedhub/internal/middleware"
)

const (
	defaultSendBuffer   = 256
	defaultWriteTimeout = 10 * time.Second
	defaultReadLimit    = 64 << 10
)

// Connector is the part of the hub the transport talks to.
type Connector interface {
	Connect(ctx context.Context, ch hub.Channel) (string, error)
	Deliver(ctx context.Context, id string, ch hub.Channel, payload []byte) error
	Fail(ctx context.Context, id string, ch hub.Channel) error
}

// Options tunes each accepted connection.
type Options struct {
	SendBuffer   int
	WriteTimeout time.Duration
	ReadLimit    int64
	// AllowedOrigins are host patterns accepted for cross-origin upgrades.
	// An empty list accepts any origin.
	AllowedOrigins []string
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = defaultSendBuffer
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = defaultReadLimit
	}
	return o
}

// Handler upgrades HTTP requests and attaches each websocket to the hub.
type Handler struct {
	hub  Connector
	opts Options
}

// NewHandler creates a Handler serving connections for h.
func NewHandler(h Connector, opts Options) *Handler {
	return &Handler{hub: h, opts: opts.withDefaults()}
}

// ServeHTTP implements http.Handler. It blocks for the lifetime of the connection.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := middleware.FromContext(r.Context()).With("component", "websocket")

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     h.opts.AllowedOrigins,
		InsecureSkipVerify: len(h.opts.AllowedOrigins) == 0,
	})
	if err != nil {
		logger.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	conn.SetReadLimit(h.opts.ReadLimit)

	client := newClient(conn, h.opts.SendBuffer, logger)
	id, err := h.hub.Connect(r.Context(), client)
	if err != nil {
		logger.Warn("Hub refused connection", "error", err)
		status := websocket.StatusTryAgainLater
		if errors.Is(err, hub.ErrHubClosed) {
			status = websocket.StatusGoingAway
		}
		conn.Close(status, "hub unavailable")
		return
	}
	client.id = id
	client.logger = logger.With("conn_id", id)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		client.writePump(h.opts.WriteTimeout)
	}()

	h.readPump(r.Context(), client)

	select {
	case <-writerDone:
	case <-time.After(h.opts.WriteTimeout):
		client.logger.Warn("Writer did not stop in time, dropping connection")
		conn.CloseNow()
	}
}

// readPump hands every text frame to the hub until the connection ends, then
// reports the failure. The report is a no-op when the hub closed it first.
func (h *Handler) readPump(ctx context.Context, client *Client) {
	for {
		typ, payload, err := client.conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				client.logger.Info("WebSocket closed", "reason", "peer")
			default:
				client.logger.Info("WebSocket read ended", "error", err)
			}
			break
		}
		if typ != websocket.MessageText {
			client.logger.Debug("Ignoring non-text frame", "type", typ)
			continue
		}
		if err := h.hub.Deliver(ctx, client.id, client, payload); err != nil {
			client.logger.Warn("Hub did not accept message", "error", err)
			break
		}
	}

	failCtx, cancel := context.WithTimeout(context.Background(), h.opts.WriteTimeout)
	defer cancel()
	if err := h.hub.Fail(failCtx, client.id, client); err != nil && !errors.Is(err, hub.ErrHubClosed) {
		client.logger.Error("Failed to report closed connection", "error", err)
	}
}
