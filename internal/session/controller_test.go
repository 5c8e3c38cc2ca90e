package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/debocaemboca/wabot/internal/domain"
	"github.com/debocaemboca/wabot/internal/whatsapp"
	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMessage struct {
	to, text string
}

type fakeClient struct {
	mu           sync.Mutex
	initErr      error
	initBlock    chan struct{}
	onInit       func(f *fakeClient)
	handlers     map[int]func(whatsapp.Event)
	all          []func(whatsapp.Event)
	nextID       int
	loggedOut    bool
	disconnected bool
	closed       bool
	resolveJID   string
	resolveFound bool
	resolveErr   error
	sent         []sentMessage
}

func (f *fakeClient) Subscribe(h func(whatsapp.Event)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handlers == nil {
		f.handlers = make(map[int]func(whatsapp.Event))
	}
	f.nextID++
	id := f.nextID
	f.handlers[id] = h
	f.all = append(f.all, h)
	return func() {
		f.mu.Lock()
		delete(f.handlers, id)
		f.mu.Unlock()
	}
}

func (f *fakeClient) emit(evt whatsapp.Event) {
	f.mu.Lock()
	hs := make([]func(whatsapp.Event), 0, len(f.handlers))
	for _, h := range f.handlers {
		hs = append(hs, h)
	}
	f.mu.Unlock()
	for _, h := range hs {
		h(evt)
	}
}

func (f *fakeClient) activeSubscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

func (f *fakeClient) Initialize(ctx context.Context) error {
	if f.initBlock != nil {
		select {
		case <-f.initBlock:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.onInit != nil {
		f.onInit(f)
	}
	return f.initErr
}

func (f *fakeClient) Logout(context.Context) error {
	f.mu.Lock()
	f.loggedOut = true
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) Disconnect() {
	f.mu.Lock()
	f.disconnected = true
	f.mu.Unlock()
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) SendText(_ context.Context, to, text string) error {
	f.mu.Lock()
	f.sent = append(f.sent, sentMessage{to: to, text: text})
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) SendTyping(context.Context, string) error { return nil }

func (f *fakeClient) ResolveNumber(context.Context, string) (string, bool, error) {
	return f.resolveJID, f.resolveFound, f.resolveErr
}

func (f *fakeClient) ContactName(context.Context, string) (string, error) { return "", nil }

func (f *fakeClient) sentMessages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

func (f *fakeClient) flags() (loggedOut, disconnected, closed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loggedOut, f.disconnected, f.closed
}

type fakeFactory struct {
	mu      sync.Mutex
	clients []*fakeClient
	setup   func(n int, c *fakeClient)
}

func (f *fakeFactory) New(context.Context) (Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &fakeClient{}
	if f.setup != nil {
		f.setup(len(f.clients), c)
	}
	f.clients = append(f.clients, c)
	return c, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *fakeFactory) client(i int) *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients[i]
}

// sleeper records requested delays. The first allow calls return at once,
// later ones block until the context is done. allow < 0 never blocks, except
// for delays of at least blockFrom when it is set.
type sleeper struct {
	mu        sync.Mutex
	allow     int
	blockFrom time.Duration
	delays    []time.Duration
}

func (s *sleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	n := len(s.delays)
	s.mu.Unlock()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if (s.allow >= 0 && n > s.allow) || (s.blockFrom > 0 && d >= s.blockFrom) {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (s *sleeper) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

type recordingHandler struct {
	mu   sync.Mutex
	msgs []*whatsapp.Message
}

func (h *recordingHandler) Route(_ context.Context, msg *whatsapp.Message) {
	h.mu.Lock()
	h.msgs = append(h.msgs, msg)
	h.mu.Unlock()
}

// blockingHandler holds every routed message until release is closed.
type blockingHandler struct {
	recordingHandler
	release chan struct{}
}

func (h *blockingHandler) Route(ctx context.Context, msg *whatsapp.Message) {
	<-h.release
	h.recordingHandler.Route(ctx, msg)
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.msgs)
}

func newTestController(f *fakeFactory, s *sleeper, opts Options) *Controller {
	opts.Sleep = s.Sleep
	opts.PairingOutput = io.Discard
	return NewController(f.New, opts)
}

func TestBackoff(t *testing.T) {
	expected := []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second, 40 * time.Second, 80 * time.Second}
	for i, d := range expected {
		assert.Equal(t, d, Backoff(i))
	}
}

func TestController_BackoffSequenceAndGiveUp(t *testing.T) {
	f := &fakeFactory{setup: func(_ int, c *fakeClient) { c.initErr = errors.New("boom") }}
	s := &sleeper{allow: -1}
	c := newTestController(f, s, Options{LogoutOnReconnect: true})

	c.Start(context.Background())
	c.wg.Wait()

	assert.Equal(t, []time.Duration{
		5 * time.Second, 10 * time.Second, 20 * time.Second, 40 * time.Second, 80 * time.Second,
	}, s.recorded())
	assert.Equal(t, MaxRetries+1, f.count())
	assert.Equal(t, MaxRetries, c.State().RetryCount)
	assert.False(t, c.State().InFlight)

	loggedOut, _, closed := f.client(0).flags()
	assert.True(t, loggedOut)
	assert.True(t, closed)
	c.Stop()
}

func TestController_MutualExclusion(t *testing.T) {
	release := make(chan struct{})
	f := &fakeFactory{setup: func(n int, c *fakeClient) {
		if n == 0 {
			c.initBlock = release
		}
	}}
	s := &sleeper{allow: -1, blockFrom: time.Second}
	c := newTestController(f, s, Options{})

	started := make(chan struct{})
	go func() {
		c.Start(context.Background())
		close(started)
	}()
	require.Eventually(t, func() bool { return f.count() == 1 }, time.Second, time.Millisecond)

	c.Restart("manual")
	f.client(0).emit(whatsapp.AuthFailure{Reason: "rejected"})
	assert.Equal(t, 1, f.count())
	assert.Equal(t, 1, f.client(0).activeSubscriptions())
	assert.Empty(t, s.recorded())

	close(release)
	<-started

	// the failure seen while initializing is retried once the flag is free
	require.Eventually(t, func() bool { return len(s.recorded()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []time.Duration{5 * time.Second}, s.recorded())
	assert.Equal(t, 1, f.count())
	c.Stop()
}

func TestController_FailureDuringInitializeReconnects(t *testing.T) {
	f := &fakeFactory{setup: func(n int, c *fakeClient) {
		if n == 0 {
			c.onInit = func(fc *fakeClient) {
				fc.emit(whatsapp.AuthFailure{Reason: "401"})
				time.Sleep(20 * time.Millisecond)
			}
		}
	}}
	s := &sleeper{allow: -1}
	c := newTestController(f, s, Options{})
	c.Start(context.Background())
	c.wg.Wait()

	assert.Equal(t, 2, f.count())
	assert.Equal(t, []time.Duration{5 * time.Second}, s.recorded())
	snap := c.State()
	assert.Equal(t, 1, snap.RetryCount)
	assert.Equal(t, domain.PhaseInitializing, snap.Phase)
	assert.False(t, snap.InFlight)
	c.Stop()
}

func TestController_RestartDuringBackoffKeepsRetryBudget(t *testing.T) {
	f := &fakeFactory{setup: func(_ int, c *fakeClient) { c.initErr = errors.New("boom") }}
	s := &sleeper{allow: 1}
	c := newTestController(f, s, Options{})
	c.Start(context.Background())

	require.Eventually(t, func() bool { return len(s.recorded()) == 2 }, time.Second, time.Millisecond)
	require.Equal(t, 1, c.State().RetryCount)

	c.Restart("sighup")
	assert.Equal(t, 1, c.State().RetryCount)
	assert.Equal(t, 2, f.count())
	c.Stop()
}

func TestController_RestartResetsRetryBudget(t *testing.T) {
	f := &fakeFactory{}
	c := newTestController(f, &sleeper{allow: 0}, Options{})
	c.Start(context.Background())
	defer c.Stop()

	c.state.incrementRetry()
	c.Restart("sighup")
	assert.Equal(t, 0, c.State().RetryCount)
	assert.Equal(t, 2, f.count())
}

func TestController_StopWhileReconnecting(t *testing.T) {
	f := &fakeFactory{}
	s := &sleeper{allow: -1, blockFrom: time.Second}
	c := newTestController(f, s, Options{})
	c.Start(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			f.client(0).emit(whatsapp.Disconnected{Reason: "network"})
		}
	}()
	c.Stop()
	<-done

	c.goReconnect(c.currentGeneration(), "late")
	c.wg.Wait()
	assert.LessOrEqual(t, f.count(), 1)
	assert.False(t, c.State().InFlight)
}

func TestController_ReadinessGate(t *testing.T) {
	f := &fakeFactory{}
	h := &recordingHandler{}
	c := newTestController(f, &sleeper{allow: 0}, Options{})
	c.SetHandler(h)
	c.Start(context.Background())
	defer c.Stop()

	cl := f.client(0)
	msg := &whatsapp.Message{Body: "oi", From: "5511988887777@s.whatsapp.net", ContactID: "5511988887777", Direct: true}
	cl.emit(whatsapp.MessageReceived{Message: msg})
	assert.Equal(t, 0, h.count())
	assert.Equal(t, domain.PhaseInitializing, c.State().Phase)

	cl.emit(whatsapp.Ready{})
	cl.emit(whatsapp.MessageReceived{Message: msg})
	assert.Equal(t, 1, h.count())

	cl.emit(whatsapp.Disconnected{Reason: "network"})
	cl.emit(whatsapp.MessageReceived{Message: msg})
	assert.Equal(t, 1, h.count())
}

func TestController_ReadyResetsRetryCount(t *testing.T) {
	f := &fakeFactory{}
	c := newTestController(f, &sleeper{allow: 0}, Options{})
	c.Start(context.Background())
	defer c.Stop()

	c.state.incrementRetry()
	c.state.incrementRetry()
	f.client(0).emit(whatsapp.Ready{})

	snap := c.State()
	assert.Equal(t, domain.PhaseReady, snap.Phase)
	assert.Equal(t, 0, snap.RetryCount)
	assert.True(t, c.IsReady())
}

func TestController_PairingCodeCached(t *testing.T) {
	f := &fakeFactory{}
	c := newTestController(f, &sleeper{allow: 0}, Options{})
	c.Start(context.Background())
	defer c.Stop()

	f.client(0).emit(whatsapp.PairingCode{Code: "2@abc"})
	snap := c.State()
	assert.Equal(t, domain.PhaseAwaitingPairing, snap.Phase)
	assert.Equal(t, "2@abc", snap.LastPairing)
}

func TestController_DisconnectReconnects(t *testing.T) {
	f := &fakeFactory{}
	s := &sleeper{allow: -1, blockFrom: time.Hour}
	c := newTestController(f, s, Options{
		LogoutOnReconnect: false,
		KeepAliveSettle:   time.Hour,
		KeepAliveInterval: 2 * time.Hour,
	})
	c.Start(context.Background())
	defer c.Stop()

	f.client(0).emit(whatsapp.Ready{})
	f.client(0).emit(whatsapp.Disconnected{Reason: "network"})
	require.Eventually(t, func() bool { return f.count() == 2 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return !c.State().InFlight }, time.Second, time.Millisecond)

	loggedOut, disconnected, closed := f.client(0).flags()
	assert.False(t, loggedOut)
	assert.True(t, disconnected)
	assert.True(t, closed)
	assert.Equal(t, 0, f.client(0).activeSubscriptions())
	assert.Equal(t, 1, c.State().RetryCount)
	assert.Contains(t, s.recorded(), 5*time.Second)

	f.client(1).emit(whatsapp.Ready{})
	assert.Equal(t, 0, c.State().RetryCount)
}

func TestController_StaleEventsIgnored(t *testing.T) {
	f := &fakeFactory{}
	c := newTestController(f, &sleeper{allow: 0}, Options{})
	c.Start(context.Background())
	defer c.Stop()

	old := f.client(0)
	c.Restart("manual")
	require.Equal(t, 2, f.count())

	old.mu.Lock()
	stale := old.all[0]
	old.mu.Unlock()
	stale(whatsapp.Ready{})
	assert.False(t, c.IsReady())

	_, disconnected, closed := old.flags()
	assert.True(t, disconnected)
	assert.True(t, closed)
}

func TestController_KeepAliveSendsToBotNumber(t *testing.T) {
	f := &fakeFactory{setup: func(_ int, c *fakeClient) {
		c.resolveJID = "5512997507961@s.whatsapp.net"
		c.resolveFound = true
	}}
	s := &sleeper{allow: 2}
	c := newTestController(f, s, Options{BotNumber: "5512997507961"})
	c.Start(context.Background())
	defer c.Stop()

	f.client(0).emit(whatsapp.Ready{})
	require.Eventually(t, func() bool { return len(f.client(0).sentMessages()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, sentMessage{to: "5512997507961@s.whatsapp.net", text: "Keep-alive"}, f.client(0).sentMessages()[0])
	assert.Equal(t, []time.Duration{KeepAliveSettle, KeepAliveInterval}, s.recorded()[:2])
}

func TestController_KeepAliveNotFoundSkips(t *testing.T) {
	f := &fakeFactory{}
	s := &sleeper{allow: 3}
	c := newTestController(f, s, Options{BotNumber: "5512997507961"})
	c.Start(context.Background())
	defer c.Stop()

	f.client(0).emit(whatsapp.Ready{})
	require.Eventually(t, func() bool { return len(s.recorded()) >= 4 }, time.Second, time.Millisecond)
	assert.Empty(t, f.client(0).sentMessages())
	assert.True(t, c.IsReady())
	assert.Equal(t, 1, f.count())
}

func TestController_KeepAliveErrorTriggersReconnect(t *testing.T) {
	f := &fakeFactory{setup: func(_ int, c *fakeClient) {
		c.resolveErr = errors.New("socket closed")
	}}
	s := &sleeper{allow: 2}
	c := newTestController(f, s, Options{BotNumber: "5512997507961", LogoutOnReconnect: true})
	c.Start(context.Background())

	f.client(0).emit(whatsapp.Ready{})
	require.Eventually(t, func() bool {
		loggedOut, _, _ := f.client(0).flags()
		return loggedOut
	}, time.Second, time.Millisecond)
	assert.Equal(t, domain.PhaseDisconnected, c.State().Phase)

	c.Stop()
	assert.Equal(t, 1, f.count())
}

func TestController_DispatchThroughPool(t *testing.T) {
	pool, err := ants.NewPool(2)
	require.NoError(t, err)
	defer pool.Release()

	f := &fakeFactory{}
	h := &recordingHandler{}
	c := newTestController(f, &sleeper{allow: 0}, Options{Pool: pool})
	c.SetHandler(h)
	c.Start(context.Background())
	defer c.Stop()

	f.client(0).emit(whatsapp.Ready{})
	for i := 0; i < 5; i++ {
		f.client(0).emit(whatsapp.MessageReceived{Message: &whatsapp.Message{Body: "1", Direct: true}})
	}
	assert.Eventually(t, func() bool { return h.count() == 5 }, time.Second, time.Millisecond)
}

func TestController_DispatchDoesNotBlockEvents(t *testing.T) {
	pool, err := ants.NewPool(1, ants.WithMaxBlockingTasks(8))
	require.NoError(t, err)
	defer pool.Release()

	f := &fakeFactory{}
	h := &blockingHandler{release: make(chan struct{})}
	s := &sleeper{allow: -1, blockFrom: time.Second}
	c := newTestController(f, s, Options{Pool: pool})
	c.SetHandler(h)
	c.Start(context.Background())
	defer c.Stop()

	cl := f.client(0)
	cl.emit(whatsapp.Ready{})
	emitted := make(chan struct{})
	go func() {
		defer close(emitted)
		for i := 0; i < 3; i++ {
			cl.emit(whatsapp.MessageReceived{Message: &whatsapp.Message{Body: "oi", Direct: true}})
		}
		cl.emit(whatsapp.Disconnected{Reason: "network"})
	}()

	select {
	case <-emitted:
	case <-time.After(time.Second):
		t.Fatal("event delivery blocked behind busy workers")
	}
	assert.Equal(t, domain.PhaseDisconnected, c.State().Phase)
	assert.Equal(t, 0, h.count())

	close(h.release)
	assert.Eventually(t, func() bool { return h.count() == 3 }, time.Second, time.Millisecond)
}

func TestController_StopClosesClient(t *testing.T) {
	f := &fakeFactory{}
	c := newTestController(f, &sleeper{allow: 0}, Options{LogoutOnReconnect: true})
	c.Start(context.Background())
	c.Stop()

	loggedOut, disconnected, closed := f.client(0).flags()
	assert.False(t, loggedOut)
	assert.True(t, disconnected)
	assert.True(t, closed)

	err := c.SendText(context.Background(), "x@s.whatsapp.net", "hi")
	assert.ErrorIs(t, err, ErrNoSession)
}
