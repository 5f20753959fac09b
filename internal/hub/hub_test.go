package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/sharedhub/internal/pubsub"
)

var errFakeClosed = errors.New("fake channel closed")

// fakeChannel records every payload queued on it.
type fakeChannel struct {
	mu       sync.Mutex
	sent     [][]byte
	closed   int
	failSend bool
}

func (f *fakeChannel) Send(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed > 0 || f.failSend {
		return errFakeClosed
	}
	f.sent = append(f.sent, payload)
	return nil
}

func (f *fakeChannel) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
}

func (f *fakeChannel) messages(t *testing.T) []map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, 0, len(f.sent))
	for _, raw := range f.sent {
		var m map[string]any
		require.NoError(t, json.Unmarshal(raw, &m))
		out = append(out, m)
	}
	return out
}

func (f *fakeChannel) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeChannel) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = nil
}

// recordingPublisher captures hub events.
type recordingPublisher struct {
	mu   sync.Mutex
	msgs []pubsub.Message
}

func (p *recordingPublisher) Publish(_ context.Context, msg pubsub.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *recordingPublisher) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.msgs))
	for _, m := range p.msgs {
		out = append(out, m.Topic)
	}
	return out
}

func sequentialIDs() IDGenerator {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("conn-%d", n)
	}
}

// connect registers a fresh fake channel without the dispatch loop and runs
// the same post-step cleanup Run would.
func connect(t *testing.T, h *Hub) (string, *fakeChannel) {
	t.Helper()
	ch := &fakeChannel{}
	id, err := h.handleConnect(ch)
	require.NoError(t, err)
	h.flushFailures()
	return id, ch
}

// deliver queues payload as if it came from the channel registered as id.
func deliver(h *Hub, id, payload string) {
	conn, _ := h.registry.Lookup(id)
	h.dispatch(inboundMessage{connID: id, channel: conn.Channel, payload: []byte(payload)})
	h.flushFailures()
}

func TestHub_ConnectPushesCurrentTheme(t *testing.T) {
	h := New(WithIDGenerator(sequentialIDs()))

	idA, a := connect(t, h)
	_, b := connect(t, h)

	assert.Equal(t, 2, h.registry.Len())
	assert.Equal(t, "conn-1", idA)
	require.Len(t, b.messages(t), 1)
	assert.Equal(t, map[string]any{"type": "theme", "theme": "LIGHT"}, b.messages(t)[0])
	// the connect push goes to the new channel only
	assert.Len(t, a.messages(t), 1)
}

func TestHub_ChatRelayExcludesSenderAndSendsPresence(t *testing.T) {
	h := New(WithIDGenerator(sequentialIDs()))
	idA, a := connect(t, h)
	idB, b := connect(t, h)
	idC, c := connect(t, h)
	a.reset()
	b.reset()
	c.reset()

	chat := `{"type":"message","message":"A: hi","extra":42}`
	deliver(h, idA, chat)

	presence := map[string]any{"connections": []any{idA, idB, idC}}

	require.Len(t, a.messages(t), 1, "sender only receives presence")
	assert.Equal(t, presence, a.messages(t)[0])

	for _, ch := range []*fakeChannel{b, c} {
		require.Equal(t, 2, ch.count())
		ch.mu.Lock()
		assert.Equal(t, chat, string(ch.sent[0]), "chat is relayed byte for byte")
		ch.mu.Unlock()
		assert.Equal(t, presence, ch.messages(t)[1])
	}
}

func TestHub_ToggleThemeBroadcastsToAll(t *testing.T) {
	h := New(WithIDGenerator(sequentialIDs()))
	idA, a := connect(t, h)
	_, b := connect(t, h)
	a.reset()
	b.reset()

	deliver(h, idA, `{"type":"theme"}`)
	assert.Equal(t, ThemeDark, h.theme.Current())
	for _, ch := range []*fakeChannel{a, b} {
		require.Len(t, ch.messages(t), 1)
		assert.Equal(t, map[string]any{"type": "theme", "theme": "DARK"}, ch.messages(t)[0])
	}

	deliver(h, idA, `{"type":"theme"}`)
	assert.Equal(t, ThemeLight, h.theme.Current(), "two toggles restore the original theme")
	assert.Len(t, a.messages(t), 2)
	assert.Len(t, b.messages(t), 2)
}

func TestHub_LateJoinerSeesCurrentTheme(t *testing.T) {
	h := New(WithIDGenerator(sequentialIDs()))
	idA, _ := connect(t, h)
	deliver(h, idA, `{"type":"theme"}`)

	_, late := connect(t, h)
	require.Len(t, late.messages(t), 1)
	assert.Equal(t, "DARK", late.messages(t)[0]["theme"])
}

func TestHub_InitialThemeOption(t *testing.T) {
	h := New(WithInitialTheme(ThemeDark))
	_, ch := connect(t, h)
	assert.Equal(t, "DARK", ch.messages(t)[0]["theme"])
}

func TestHub_ExplicitClose(t *testing.T) {
	pub := &recordingPublisher{}
	h := New(WithIDGenerator(sequentialIDs()), WithPublisher(pub))
	_, a := connect(t, h)
	idB, b := connect(t, h)
	a.reset()
	b.reset()

	deliver(h, idB, `{"type":"close"}`)

	assert.Equal(t, 1, h.registry.Len())
	_, stillThere := h.registry.Lookup(idB)
	assert.False(t, stillThere)
	assert.Equal(t, 1, b.closed)
	assert.Empty(t, b.messages(t), "the closed connection is not told about itself")
	require.Len(t, a.messages(t), 1)
	assert.Equal(t, map[string]any{"type": "log", "message": "CLOSING " + idB}, a.messages(t)[0])

	t.Run("second close is a no-op", func(t *testing.T) {
		assert.False(t, h.explicitClose(idB))
		assert.False(t, h.channelError(idB))
		assert.Equal(t, 1, h.registry.Len())
		assert.Len(t, a.messages(t), 1)
		assert.Equal(t, 1, b.closed)
	})

	assert.Contains(t, pub.topics(), TopicConnectionClosed)
}

func TestHub_ChannelErrorMatchesExplicitClose(t *testing.T) {
	h := New(WithIDGenerator(sequentialIDs()))
	_, a := connect(t, h)
	idB, _ := connect(t, h)
	a.reset()

	require.True(t, h.channelError(idB))
	assert.Equal(t, 1, h.registry.Len())
	require.Len(t, a.messages(t), 1)
	assert.Equal(t, "CLOSING "+idB, a.messages(t)[0]["message"])
}

func TestHub_UnknownMessagesAreIgnored(t *testing.T) {
	pub := &recordingPublisher{}
	h := New(WithIDGenerator(sequentialIDs()), WithPublisher(pub))
	idA, a := connect(t, h)
	_, b := connect(t, h)
	a.reset()
	b.reset()
	before := len(pub.topics())

	for _, raw := range []string{
		`{"type":"focus"}`,
		`{"message":"no type"}`,
		`{"type":7}`,
		`not json`,
		`null`,
		`[1,2,3]`,
		``,
	} {
		deliver(h, idA, raw)
	}

	assert.Equal(t, 2, h.registry.Len())
	assert.Equal(t, ThemeLight, h.theme.Current())
	assert.Zero(t, a.count())
	assert.Zero(t, b.count())
	assert.Len(t, pub.topics(), before)
}

func TestHub_MessageFromUnregisteredSenderIsDropped(t *testing.T) {
	h := New(WithIDGenerator(sequentialIDs()))
	_, a := connect(t, h)
	a.reset()

	deliver(h, "ghost", `{"type":"message","message":"boo"}`)
	deliver(h, "ghost", `{"type":"theme"}`)

	assert.Zero(t, a.count())
	assert.Equal(t, ThemeLight, h.theme.Current())
}

func TestHub_FailedSendTriggersCleanup(t *testing.T) {
	h := New(WithIDGenerator(sequentialIDs()))
	idA, a := connect(t, h)
	idB, b := connect(t, h)
	_, c := connect(t, h)
	a.reset()
	c.reset()

	b.mu.Lock()
	b.failSend = true
	b.mu.Unlock()

	deliver(h, idA, `{"type":"theme"}`)

	_, ok := h.registry.Lookup(idB)
	assert.False(t, ok, "a connection that cannot be written to is removed")
	assert.Equal(t, 1, b.closed)
	for _, ch := range []*fakeChannel{a, c} {
		msgs := ch.messages(t)
		require.Len(t, msgs, 2)
		assert.Equal(t, "theme", msgs[0]["type"])
		assert.Equal(t, map[string]any{"type": "log", "message": "CLOSING " + idB}, msgs[1])
	}
}

func TestHub_EventsPublished(t *testing.T) {
	pub := &recordingPublisher{}
	h := New(WithIDGenerator(sequentialIDs()), WithPublisher(pub))
	idA, _ := connect(t, h)
	connect(t, h)

	deliver(h, idA, `{"type":"message","message":"x"}`)
	deliver(h, idA, `{"type":"theme"}`)
	deliver(h, idA, `{"type":"close"}`)

	assert.Equal(t, []string{
		TopicConnectionOpened,
		TopicConnectionOpened,
		TopicChatRelayed,
		TopicThemeChanged,
		TopicConnectionClosed,
	}, pub.topics())

	pub.mu.Lock()
	var relayed ChatRelayed
	require.NoError(t, json.Unmarshal(pub.msgs[2].Payload, &relayed))
	pub.mu.Unlock()
	assert.Equal(t, ChatRelayed{Sender: idA, Recipients: 1}, relayed)
}

func TestHub_RunServesClients(t *testing.T) {
	h := New()
	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- h.Run(ctx) }()

	a, b := &fakeChannel{}, &fakeChannel{}
	idA, err := h.Connect(ctx, a)
	require.NoError(t, err)
	idB, err := h.Connect(ctx, b)
	require.NoError(t, err)
	assert.NotEqual(t, idA, idB)

	require.NoError(t, h.Deliver(ctx, idA, a, []byte(`{"type":"message","message":"hi"}`)))
	// theme on connect, relayed chat, presence
	require.Eventually(t, func() bool { return b.count() == 3 }, time.Second, 5*time.Millisecond)

	st, err := h.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, State{Theme: ThemeLight, Connections: []string{idA, idB}}, st)

	require.NoError(t, h.Fail(ctx, idB, b))
	require.Eventually(t, func() bool {
		st, err := h.State(ctx)
		return err == nil && len(st.Connections) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-runErr)
	assert.Equal(t, 1, a.closed, "shutdown closes remaining channels")

	_, err = h.Connect(context.Background(), &fakeChannel{})
	assert.ErrorIs(t, err, ErrHubClosed)
	_, err = h.State(context.Background())
	assert.ErrorIs(t, err, ErrHubClosed)
	assert.ErrorIs(t, h.Run(context.Background()), ErrAlreadyRunning)
}

func TestHub_ConnectRespectsContextBeforeRun(t *testing.T) {
	h := New()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := h.Connect(ctx, &fakeChannel{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHub_FailIsHandledAfterQueuedMessages(t *testing.T) {
	h := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	a, b := &fakeChannel{}, &fakeChannel{}
	idA, err := h.Connect(ctx, a)
	require.NoError(t, err)
	_, err = h.Connect(ctx, b)
	require.NoError(t, err)

	const chats = 200
	for i := range chats {
		require.NoError(t, h.Deliver(ctx, idA, a, fmt.Appendf(nil, `{"type":"message","message":"%d"}`, i)))
	}
	require.NoError(t, h.Fail(ctx, idA, a))

	// the closing notice is the last thing B gets once A's queue has drained
	require.Eventually(t, func() bool {
		msgs := b.messages(t)
		return len(msgs) > 0 && msgs[len(msgs)-1]["type"] == "log"
	}, 2*time.Second, 5*time.Millisecond)

	got := 0
	for _, m := range b.messages(t) {
		if m["type"] == "message" {
			got++
		}
	}
	assert.Equal(t, chats, got)
}

func TestHub_StaleChannelCannotTouchReusedID(t *testing.T) {
	pub := &recordingPublisher{}
	h := New(WithIDGenerator(func() string { return "same-id" }), WithPublisher(pub))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	dead := &fakeChannel{}
	id, err := h.Connect(ctx, dead)
	require.NoError(t, err)
	require.NoError(t, h.Fail(ctx, id, dead))
	require.Eventually(t, func() bool {
		st, err := h.State(ctx)
		return err == nil && len(st.Connections) == 0
	}, time.Second, 5*time.Millisecond)

	fresh := &fakeChannel{}
	reused, err := h.Connect(ctx, fresh)
	require.NoError(t, err)
	require.Equal(t, id, reused)

	// late events from the dead socket carry the same id
	require.NoError(t, h.Deliver(ctx, id, dead, []byte(`{"type":"theme"}`)))
	require.NoError(t, h.Fail(ctx, id, dead))
	// queued behind them: a chat from the live channel, answered with presence
	require.NoError(t, h.Deliver(ctx, id, fresh, []byte(`{"type":"message","message":"hi"}`)))
	require.Eventually(t, func() bool { return fresh.count() == 2 }, time.Second, 5*time.Millisecond)

	msgs := fresh.messages(t)
	assert.Equal(t, map[string]any{"type": "theme", "theme": "LIGHT"}, msgs[0])
	assert.Equal(t, map[string]any{"connections": []any{id}}, msgs[1])
	assert.Zero(t, fresh.closed)
	assert.Equal(t, 1, dead.closed)
}
