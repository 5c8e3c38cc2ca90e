package session

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/debocaemboca/wabot/internal/domain"
	"github.com/debocaemboca/wabot/internal/whatsapp"
	"github.com/debocaemboca/wabot/pkg/metrics"
	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	MaxRetries        = 5
	InitialRetryDelay = 5 * time.Second
	KeepAliveSettle   = 5 * time.Second
	KeepAliveInterval = 5 * time.Minute
	InitializeTimeout = 90 * time.Second
)

var ErrNoSession = errors.New("session: no active client")

// Client is the messaging adapter driven by the controller.
type Client interface {
	Subscribe(handler func(whatsapp.Event)) func()
	Initialize(ctx context.Context) error
	Logout(ctx context.Context) error
	Disconnect()
	Close() error
	SendText(ctx context.Context, to, text string) error
	SendTyping(ctx context.Context, to string) error
	ResolveNumber(ctx context.Context, number string) (string, bool, error)
	ContactName(ctx context.Context, address string) (string, error)
}

// ClientFactory builds a fresh, unconnected client.
type ClientFactory func(ctx context.Context) (Client, error)

// MessageHandler receives inbound messages while the session is ready.
type MessageHandler interface {
	Route(ctx context.Context, msg *whatsapp.Message)
}

// Options tunes the controller. Zero durations take the package defaults.
type Options struct {
	BotNumber         string
	KeepAliveText     string
	LogoutOnReconnect bool
	Pool              *ants.Pool
	PairingOutput     io.Writer
	KeepAliveSettle   time.Duration
	KeepAliveInterval time.Duration
	InitializeTimeout time.Duration
	// Sleep waits for d or until ctx is done. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Backoff returns the delay before reconnection attempt number retry (0-based).
func Backoff(retry int) time.Duration {
	return InitialRetryDelay << uint(retry)
}

// Controller owns the single messaging session: it initializes the client,
// reacts to lifecycle events, reconnects with exponential backoff and runs
// the keep-alive loop.
type Controller struct {
	opts    Options
	factory ClientFactory
	state   State
	handler MessageHandler

	mu              sync.Mutex
	client          Client
	detach          func()
	generation      uint64
	keepAliveCancel context.CancelFunc
	stopped         bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewController(factory ClientFactory, opts Options) *Controller {
	if opts.KeepAliveText == "" {
		opts.KeepAliveText = "Keep-alive"
	}
	if opts.KeepAliveSettle <= 0 {
		opts.KeepAliveSettle = KeepAliveSettle
	}
	if opts.KeepAliveInterval <= 0 {
		opts.KeepAliveInterval = KeepAliveInterval
	}
	if opts.InitializeTimeout <= 0 {
		opts.InitializeTimeout = InitializeTimeout
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	if opts.PairingOutput == nil {
		opts.PairingOutput = os.Stdout
	}
	return &Controller{
		opts:    opts,
		factory: factory,
		ctx:     context.Background(),
	}
}

// SetHandler installs the message handler. Call before Start.
func (c *Controller) SetHandler(h MessageHandler) {
	c.handler = h
}

// State returns a snapshot of the session state.
func (c *Controller) State() Snapshot {
	return c.state.Snapshot()
}

func (c *Controller) IsReady() bool {
	return c.state.IsReady()
}

// Start performs the first initialization. Failures are handed to the
// reconnection procedure in the background; Start itself never fails on them.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.stopped = false
	c.mu.Unlock()
	c.initialize("start", false)
}

// Run starts the controller and blocks until ctx is done, then stops it.
func (c *Controller) Run(ctx context.Context) error {
	c.Start(ctx)
	<-ctx.Done()
	c.Stop()
	return nil
}

// Restart tears down the current client and initializes a new one without
// backoff and a fresh retry budget. It is a no-op while another
// initialization or reconnection is in flight.
func (c *Controller) Restart(reason string) {
	c.initialize("restart: "+reason, true)
}

// Stop cancels timers, detaches the subscription and closes the client.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.stopped = true
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	c.teardown(false)
	zap.L().Info("session: controller stopped",
		zap.Int64("reconnects", metrics.Counter("wabot_reconnect_total")),
		zap.Int64("keep_alives", metrics.Counter("wabot_keepalive_total")))
}

func (c *Controller) initialize(reason string, resetRetry bool) {
	if !c.state.tryBegin() {
		zap.L().Info("session: initialization already in progress, ignoring", zap.String("reason", reason))
		return
	}
	if resetRetry {
		c.state.resetRetry()
	}
	zap.L().Info("session: initializing client", zap.String("reason", reason))
	err := c.initializeLocked()
	c.state.end()
	if err != nil {
		zap.L().Error("session: initialization failed", zap.Error(err))
		c.goReconnect(c.currentGeneration(), err.Error())
		return
	}
	if failed, why := c.failedDuringInit(); failed {
		c.goReconnect(c.currentGeneration(), why)
	}
}

// failedDuringInit reports whether a failure event reached the client while
// the in-flight flag was held. Such events could not start a reconnection
// themselves.
func (c *Controller) failedDuringInit() (bool, string) {
	switch c.state.Phase() {
	case domain.PhaseDisconnected:
		return true, "disconnected during initialization"
	case domain.PhaseAuthFailed:
		return true, "auth failure during initialization"
	}
	return false, ""
}

// initializeLocked builds and connects a new client. The caller holds the
// in-flight flag.
func (c *Controller) initializeLocked() error {
	start := time.Now()
	c.teardown(false)
	c.state.setPhase(domain.PhaseInitializing)

	client, err := c.factory(c.ctx)
	if err != nil {
		return errors.Wrap(err, "create client")
	}

	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.client = client
	c.detach = client.Subscribe(func(evt whatsapp.Event) {
		c.handleEvent(gen, evt)
	})
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(c.ctx, c.opts.InitializeTimeout)
	defer cancel()
	if err := client.Initialize(ctx); err != nil {
		return errors.Wrap(err, "initialize client")
	}
	zap.L().Info("session: client initialized", zap.Duration("elapsed", time.Since(start)))
	return nil
}

// teardown detaches the current client, stops keep-alive and closes the
// connection. Failures are logged only.
func (c *Controller) teardown(logout bool) {
	c.mu.Lock()
	client, detach, stopKeepAlive := c.client, c.detach, c.keepAliveCancel
	c.client, c.detach, c.keepAliveCancel = nil, nil, nil
	c.mu.Unlock()

	if detach != nil {
		detach()
	}
	if stopKeepAlive != nil {
		stopKeepAlive()
	}
	if client == nil {
		return
	}
	if logout {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := client.Logout(ctx); err != nil {
			zap.L().Warn("session: logout failed", zap.Error(err))
		}
		cancel()
	} else {
		client.Disconnect()
	}
	if err := client.Close(); err != nil {
		zap.L().Warn("session: close client failed", zap.Error(err))
	}
	zap.L().Info("session: client disconnected")
}

// goReconnect starts the reconnection procedure for the client of generation
// gen. Requests for a client that was already replaced are dropped.
func (c *Controller) goReconnect(gen uint64, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || c.ctx.Err() != nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.reconnect(gen, reason)
	}()
}

// reconnect runs the reconnection procedure until an attempt succeeds, the
// retry budget is spent, or the controller stops.
func (c *Controller) reconnect(gen uint64, reason string) {
	for {
		if !c.state.tryBegin() {
			zap.L().Info("session: reconnection already in progress, ignoring", zap.String("reason", reason))
			return
		}
		if gen != c.currentGeneration() {
			c.state.end()
			zap.L().Debug("session: client already replaced, reconnection skipped", zap.String("reason", reason))
			return
		}
		attempted, err := c.reconnectOnce(reason)
		c.state.end()
		if !attempted {
			return
		}
		gen = c.currentGeneration()
		if err != nil {
			zap.L().Error("session: reconnection attempt failed", zap.Error(err))
			reason = err.Error()
			continue
		}
		failed, why := c.failedDuringInit()
		if !failed {
			return
		}
		reason = why
	}
}

func (c *Controller) reconnectOnce(reason string) (bool, error) {
	c.teardown(c.opts.LogoutOnReconnect)

	retry := c.state.RetryCount()
	if retry >= MaxRetries {
		metrics.Incr("wabot_session_gave_up_total")
		zap.L().Error("session: maximum reconnection attempts reached, giving up",
			zap.Int("max_retries", MaxRetries), zap.String("reason", reason))
		return false, nil
	}

	delay := Backoff(retry)
	zap.L().Info("session: reconnecting",
		zap.String("reason", reason),
		zap.Duration("delay", delay),
		zap.Int("attempt", retry+1),
		zap.Int("max_retries", MaxRetries))
	if err := c.opts.Sleep(c.ctx, delay); err != nil {
		return false, nil
	}

	c.state.incrementRetry()
	c.state.setPhase(domain.PhaseDisconnected)
	metrics.Incr("wabot_reconnect_total")
	if code := c.state.LastPairing(); code != "" {
		zap.L().Info("session: re-surfacing cached pairing code")
		c.renderPairing(code)
	}
	return true, c.initializeLocked()
}

func (c *Controller) currentGeneration() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

func (c *Controller) handleEvent(gen uint64, evt whatsapp.Event) {
	if gen != c.currentGeneration() {
		zap.L().Debug("session: ignoring event from stale client", zap.String("event", whatsapp.EventName(evt)))
		return
	}
	switch e := evt.(type) {
	case whatsapp.PairingCode:
		c.state.setPairing(e.Code)
		zap.L().Info("session: pairing code received, scan it with the phone")
		c.renderPairing(e.Code)
	case whatsapp.Ready:
		c.state.markReady()
		metrics.Incr("wabot_session_ready_total")
		zap.L().Info("session: connected and ready")
		c.startKeepAlive()
	case whatsapp.Disconnected:
		c.state.setPhase(domain.PhaseDisconnected)
		zap.L().Warn("session: disconnected", zap.String("reason", e.Reason))
		c.goReconnect(gen, "disconnected: "+e.Reason)
	case whatsapp.AuthFailure:
		c.state.setPhase(domain.PhaseAuthFailed)
		zap.L().Error("session: authentication failure", zap.String("reason", e.Reason))
		c.goReconnect(gen, "auth failure: "+e.Reason)
	case whatsapp.MessageReceived:
		c.dispatch(e.Message)
	}
}

// dispatch hands the message to the worker pool without blocking the
// client's event goroutine.
func (c *Controller) dispatch(msg *whatsapp.Message) {
	if !c.state.IsReady() {
		zap.L().Warn("session: client not ready, message ignored", zap.String("from", msg.From))
		return
	}
	if c.handler == nil {
		return
	}
	ctx := c.ctx
	task := func() {
		c.handler.Route(ctx, msg)
	}
	if c.opts.Pool == nil {
		task()
		return
	}
	pool := c.opts.Pool
	go func() {
		if err := pool.Submit(task); err != nil {
			zap.L().Warn("session: message dispatch rejected", zap.String("from", msg.From), zap.Error(err))
		}
	}()
}

func (c *Controller) renderPairing(code string) {
	whatsapp.RenderPairing(c.opts.PairingOutput, code)
	zap.L().Info("session: pairing code image", zap.String("url", whatsapp.PairingURL(code)))
}

func (c *Controller) startKeepAlive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.keepAliveCancel != nil {
		c.keepAliveCancel()
		c.keepAliveCancel = nil
	}
	if c.stopped || c.client == nil {
		return
	}
	ctx, cancel := context.WithCancel(c.ctx)
	c.keepAliveCancel = cancel
	client, gen := c.client, c.generation

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.keepAliveLoop(ctx, gen, client)
	}()
}

func (c *Controller) keepAliveLoop(ctx context.Context, gen uint64, client Client) {
	if err := c.opts.Sleep(ctx, c.opts.KeepAliveSettle); err != nil {
		return
	}
	zap.L().Info("session: keep-alive routine started", zap.Duration("interval", c.opts.KeepAliveInterval))
	for {
		if err := c.opts.Sleep(ctx, c.opts.KeepAliveInterval); err != nil {
			return
		}
		if !c.state.IsReady() {
			continue
		}
		if err := c.keepAlive(ctx, client); err != nil {
			if ctx.Err() != nil {
				return
			}
			zap.L().Error("session: keep-alive failed", zap.Error(err))
			c.state.setPhase(domain.PhaseDisconnected)
			c.goReconnect(gen, "keep-alive failed")
			return
		}
	}
}

func (c *Controller) keepAlive(ctx context.Context, client Client) error {
	jid, found, err := client.ResolveNumber(ctx, c.opts.BotNumber)
	if err != nil {
		return errors.Wrap(err, "resolve bot number")
	}
	if !found {
		zap.L().Warn("session: bot number not found, keep-alive skipped", zap.String("number", c.opts.BotNumber))
		return nil
	}
	if err := client.SendText(ctx, jid, c.opts.KeepAliveText); err != nil {
		return errors.Wrap(err, "send keep-alive")
	}
	metrics.Incr("wabot_keepalive_total")
	zap.L().Info("session: keep-alive message sent")
	return nil
}

func (c *Controller) current() Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}

// SendText sends through the current client.
func (c *Controller) SendText(ctx context.Context, to, text string) error {
	client := c.current()
	if client == nil {
		return ErrNoSession
	}
	return client.SendText(ctx, to, text)
}

// SendTyping shows the typing indicator through the current client.
func (c *Controller) SendTyping(ctx context.Context, to string) error {
	client := c.current()
	if client == nil {
		return ErrNoSession
	}
	return client.SendTyping(ctx, to)
}

// ContactName looks a contact name up through the current client.
func (c *Controller) ContactName(ctx context.Context, address string) (string, error) {
	client := c.current()
	if client == nil {
		return "", ErrNoSession
	}
	return client.ContactName(ctx, address)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
