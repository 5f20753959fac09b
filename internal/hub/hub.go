package hub

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
)

var (
	// ErrHubClosed is returned once the dispatch loop has stopped.
	ErrHubClosed = errors.New("hub is closed")
	// ErrIDSpaceExhausted is returned when no free connection id could be generated.
	ErrIDSpaceExhausted = errors.New("no free connection id")
	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("hub is already running")
)

// State is a point-in-time view of the hub.
type State struct {
	Theme       Theme    `json:"theme"`
	Connections []string `json:"connections"`
}

type connectRequest struct {
	channel Channel
	reply   chan connectResult
}

type connectResult struct {
	id  string
	err error
}

// inboundMessage is one event from a connection's transport: a client frame,
// or the report that the transport has ended. Both share one queue so each
// connection's events are dispatched in the order the transport sent them.
type inboundMessage struct {
	connID  string
	channel Channel
	payload []byte
	failed  bool
}

// Hub is the broker every client connects to. It owns the connection registry
// and the shared theme, and serializes all work on them through Run.
type Hub struct {
	registry *Registry
	theme    *ThemeState
	events   Publisher
	logger   *slog.Logger

	connect  chan connectRequest
	inbound  chan inboundMessage
	queries  chan chan State
	done     chan struct{}
	running  atomic.Bool

	// ids whose channel failed during the current dispatch step
	pending []string
}

// Option configures a Hub.
type Option func(*hubConfig)

type hubConfig struct {
	logger       *slog.Logger
	initialTheme Theme
	idGenerator  IDGenerator
	events       Publisher
	inboundSize  int
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *hubConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithInitialTheme sets the theme the hub starts with.
func WithInitialTheme(t Theme) Option {
	return func(c *hubConfig) {
		c.initialTheme = t
	}
}

// WithIDGenerator replaces TimestampID as the source of candidate ids.
func WithIDGenerator(gen IDGenerator) Option {
	return func(c *hubConfig) {
		c.idGenerator = gen
	}
}

// WithPublisher publishes hub lifecycle events to p.
func WithPublisher(p Publisher) Option {
	return func(c *hubConfig) {
		c.events = p
	}
}

// WithInboundBuffer sets how many client messages may wait for dispatch.
func WithInboundBuffer(size int) Option {
	return func(c *hubConfig) {
		if size > 0 {
			c.inboundSize = size
		}
	}
}

// New creates a Hub. Call Run to start dispatching.
func New(opts ...Option) *Hub {
	cfg := hubConfig{
		logger:       slog.Default(),
		initialTheme: ThemeLight,
		inboundSize:  256,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Hub{
		registry: NewRegistry(cfg.idGenerator),
		theme:    NewThemeState(cfg.initialTheme),
		events:   cfg.events,
		logger:   cfg.logger.With("component", "hub"),
		connect:  make(chan connectRequest),
		inbound:  make(chan inboundMessage, cfg.inboundSize),
		queries:  make(chan chan State),
		done:     make(chan struct{}),
	}
}

// Run is the dispatch loop. Every registry and theme access happens here,
// one event at a time. It returns when ctx is cancelled, after closing every
// registered channel.
func (h *Hub) Run(ctx context.Context) error {
	if !h.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(h.done)
	defer h.closeAll()

	h.logger.Info("Hub dispatch loop started", "theme", h.theme.Current())
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Hub dispatch loop stopping", "connections", h.registry.Len())
			return nil

		case req := <-h.connect:
			id, err := h.handleConnect(req.channel)
			req.reply <- connectResult{id: id, err: err}

		case msg := <-h.inbound:
			h.dispatch(msg)

		case reply := <-h.queries:
			reply <- State{Theme: h.theme.Current(), Connections: h.registry.IDs()}
		}
		h.flushFailures()
	}
}

// Connect registers ch and returns its id. The current theme has already been
// queued on ch when Connect returns.
func (h *Hub) Connect(ctx context.Context, ch Channel) (string, error) {
	req := connectRequest{channel: ch, reply: make(chan connectResult, 1)}
	select {
	case h.connect <- req:
	case <-h.done:
		return "", ErrHubClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}

	// once accepted the loop always answers, so ctx is no longer consulted
	select {
	case res := <-req.reply:
		return res.id, res.err
	case <-h.done:
		return "", ErrHubClosed
	}
}

// Deliver hands a raw client message received on ch, registered as id, to
// the router.
func (h *Hub) Deliver(ctx context.Context, id string, ch Channel, payload []byte) error {
	return h.enqueue(ctx, inboundMessage{connID: id, channel: ch, payload: payload})
}

// Fail reports that ch, registered as id, broke or went away. It is handled
// after every message Delivered before it.
func (h *Hub) Fail(ctx context.Context, id string, ch Channel) error {
	return h.enqueue(ctx, inboundMessage{connID: id, channel: ch, failed: true})
}

func (h *Hub) enqueue(ctx context.Context, msg inboundMessage) error {
	select {
	case h.inbound <- msg:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State asks the dispatch loop for the current theme and presence.
func (h *Hub) State(ctx context.Context) (State, error) {
	reply := make(chan State, 1)
	select {
	case h.queries <- reply:
	case <-h.done:
		return State{}, ErrHubClosed
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
	select {
	case st := <-reply:
		return st, nil
	case <-h.done:
		return State{}, ErrHubClosed
	}
}

// Done is closed when Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) handleConnect(ch Channel) (string, error) {
	id, err := h.registry.Register(ch)
	if err != nil {
		h.logger.Error("Failed to register connection", "error", err)
		return "", err
	}

	current := h.theme.Current()
	h.sendTo(Connection{ID: id, Channel: ch}, themeMessage(current))
	h.logger.Info("Connection registered", "conn_id", id, "connections", h.registry.Len())
	h.publish(TopicConnectionOpened, id, ConnectionOpened{ID: id, Theme: current})
	return id, nil
}

// dispatch handles one queued transport event. Events from a channel that no
// longer holds its id are dropped, so a late report from a dead socket cannot
// touch a newer connection that reused the id.
func (h *Hub) dispatch(msg inboundMessage) {
	conn, ok := h.registry.Lookup(msg.connID)
	if !ok || conn.Channel != msg.channel {
		h.logger.Debug("Dropping event from stale connection", "conn_id", msg.connID, "failed", msg.failed)
		return
	}
	if msg.failed {
		h.channelError(msg.connID)
		return
	}
	h.route(msg.connID, DecodeInbound(msg.payload))
}

// sendTo queues payload on conn. A failed send marks conn for cleanup once the
// current dispatch step has finished iterating.
func (h *Hub) sendTo(conn Connection, payload []byte) bool {
	if err := conn.Channel.Send(payload); err != nil {
		h.logger.Warn("Send to connection failed", "conn_id", conn.ID, "error", err)
		h.pending = append(h.pending, conn.ID)
		return false
	}
	return true
}

// broadcast sends payload to every connection in conns except skip and
// returns how many sends were queued.
func (h *Hub) broadcast(conns []Connection, payload []byte, skip string) int {
	delivered := 0
	for _, conn := range conns {
		if conn.ID == skip {
			continue
		}
		if h.sendTo(conn, payload) {
			delivered++
		}
	}
	return delivered
}

// flushFailures cleans up connections whose sends failed. Cleanup broadcasts
// can fail further sends, so it drains until nothing is left.
func (h *Hub) flushFailures() {
	for len(h.pending) > 0 {
		id := h.pending[0]
		h.pending = h.pending[1:]
		h.channelError(id)
	}
}

func (h *Hub) closeAll() {
	for _, conn := range h.registry.Snapshot() {
		h.registry.Unregister(conn.ID)
		conn.Channel.Close()
		h.publish(TopicConnectionClosed, conn.ID, ConnectionClosed{ID: conn.ID, Reason: ReasonShutdown, Remaining: h.registry.Len()})
	}
	h.pending = nil
}
