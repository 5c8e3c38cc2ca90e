package whatsapp

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

var ErrNotConnected = errors.New("whatsapp: client not connected")

// Client wraps one whatsmeow client and its device store. Events are fanned
// out to subscribers translated into adapter events.
type Client struct {
	wa        *whatsmeow.Client
	container *sqlstore.Container
	waHandler uint32

	mu       sync.Mutex
	handlers map[uint32]func(Event)
	nextID   uint32
	qrCancel context.CancelFunc
}

// Open loads the first device stored under dir, creating the store on first
// use, and builds a client for it. The client is not connected.
func Open(ctx context.Context, dir string) (*Client, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrapf(err, "create session dir %s", dir)
	}
	dsn := "file:" + filepath.Join(dir, "store.db") + "?_foreign_keys=on"
	container, err := sqlstore.New(ctx, "sqlite3", dsn, NewLogger("Database"))
	if err != nil {
		return nil, errors.Wrap(err, "open session store")
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = container.Close()
		return nil, errors.Wrap(err, "load device")
	}

	wa := whatsmeow.NewClient(device, NewLogger("Client"))
	// reconnection is owned by the session controller
	wa.EnableAutoReconnect = false

	c := &Client{
		wa:        wa,
		container: container,
		handlers:  make(map[uint32]func(Event)),
	}
	c.waHandler = wa.AddEventHandler(c.handleRaw)
	zap.L().Info("whatsapp: client created",
		zap.String("session_dir", dir),
		zap.Bool("paired", device.ID != nil))
	return c, nil
}

// Subscribe registers handler for adapter events. The returned function
// detaches it; calling it more than once is harmless.
func (c *Client) Subscribe(handler func(Event)) func() {
	c.mu.Lock()
	if c.handlers == nil {
		c.handlers = make(map[uint32]func(Event))
	}
	c.nextID++
	id := c.nextID
	c.handlers[id] = handler
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.handlers, id)
		c.mu.Unlock()
	}
}

func (c *Client) handleRaw(raw interface{}) {
	if evt, ok := translateEvent(raw); ok {
		c.emit(evt)
	}
}

func (c *Client) emit(evt Event) {
	c.mu.Lock()
	handlers := make([]func(Event), 0, len(c.handlers))
	for _, h := range c.handlers {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()
	for _, h := range handlers {
		h(evt)
	}
}

// Initialize connects the client. An unpaired device first opens the pairing
// channel so pairing codes are emitted as PairingCode events.
func (c *Client) Initialize(ctx context.Context) error {
	if c.wa.Store.ID == nil {
		qrCtx, cancel := context.WithCancel(context.Background())
		ch, err := c.wa.GetQRChannel(qrCtx)
		if err != nil {
			cancel()
			return errors.Wrap(err, "open pairing channel")
		}
		c.mu.Lock()
		c.qrCancel = cancel
		c.mu.Unlock()
		go c.pumpPairing(ch)
	}

	done := make(chan error, 1)
	go func() {
		done <- c.wa.Connect()
	}()
	select {
	case err := <-done:
		return errors.Wrap(err, "connect")
	case <-ctx.Done():
		c.wa.Disconnect()
		return errors.Wrap(ctx.Err(), "connect")
	}
}

func (c *Client) pumpPairing(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		if evt, ok := translateQR(item); ok {
			c.emit(evt)
		}
	}
}

// Logout unlinks the device. When the server call fails the socket is still closed.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.wa.Logout(ctx); err != nil {
		c.wa.Disconnect()
		return errors.Wrap(err, "logout")
	}
	return nil
}

// Disconnect closes the socket and keeps the pairing.
func (c *Client) Disconnect() {
	c.wa.Disconnect()
}

// Close stops event delivery, disconnects and releases the device store.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.qrCancel != nil {
		c.qrCancel()
		c.qrCancel = nil
	}
	c.handlers = make(map[uint32]func(Event))
	c.mu.Unlock()

	c.wa.RemoveEventHandler(c.waHandler)
	c.wa.Disconnect()
	return errors.Wrap(c.container.Close(), "close session store")
}

func (c *Client) connectedJID(to string) (types.JID, error) {
	jid, err := types.ParseJID(to)
	if err != nil {
		return types.EmptyJID, errors.Wrapf(err, "invalid jid %q", to)
	}
	if !c.wa.IsConnected() {
		return types.EmptyJID, ErrNotConnected
	}
	return jid, nil
}

// SendText sends a plain conversation message.
func (c *Client) SendText(ctx context.Context, to, text string) error {
	jid, err := c.connectedJID(to)
	if err != nil {
		return err
	}
	msg := &waE2E.Message{Conversation: proto.String(text)}
	if _, err := c.wa.SendMessage(ctx, jid, msg); err != nil {
		return errors.Wrap(err, "send message")
	}
	return nil
}

// SendTyping shows the composing indicator in the chat.
func (c *Client) SendTyping(ctx context.Context, to string) error {
	jid, err := c.connectedJID(to)
	if err != nil {
		return err
	}
	err = c.wa.SendChatPresence(ctx, jid, types.ChatPresenceComposing, types.ChatPresenceMediaText)
	return errors.Wrap(err, "send chat presence")
}

// ResolveNumber looks a phone number up on the network and returns its
// address. found is false when the number has no account.
func (c *Client) ResolveNumber(ctx context.Context, number string) (string, bool, error) {
	if !c.wa.IsConnected() {
		return "", false, ErrNotConnected
	}
	number = "+" + strings.TrimPrefix(strings.TrimSpace(number), "+")
	resp, err := c.wa.IsOnWhatsApp(ctx, []string{number})
	if err != nil {
		return "", false, errors.Wrap(err, "lookup number")
	}
	for _, r := range resp {
		if r.IsIn {
			return r.JID.String(), true, nil
		}
	}
	return "", false, nil
}

// ContactName returns the best known name of a contact from the local
// contact store, or "" when none is known.
func (c *Client) ContactName(ctx context.Context, address string) (string, error) {
	jid, err := types.ParseJID(address)
	if err != nil {
		return "", errors.Wrapf(err, "invalid jid %q", address)
	}
	info, err := c.wa.Store.Contacts.GetContact(ctx, jid)
	if err != nil {
		return "", errors.Wrap(err, "get contact")
	}
	if !info.Found {
		return "", nil
	}
	for _, name := range []string{info.FullName, info.PushName, info.FirstName, info.BusinessName} {
		if name != "" {
			return name, nil
		}
	}
	return "", nil
}
