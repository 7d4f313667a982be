package live

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hpungsan/snapkeep/internal/capture"
	"github.com/hpungsan/snapkeep/internal/logging"
	"github.com/hpungsan/snapkeep/internal/restore"
)

// Gateway operations.
const (
	opPut  = "put"
	opGet  = "get"
	opConn = "conn"
	opSub  = "sub"
)

// message is the single JSON frame type exchanged with the gateway.
// Requests carry id/op/name(/value); replies carry id/status(/value); the gateway
// pushes op "conn" events whenever an item's connection state changes.
type message struct {
	ID        string         `json:"id,omitempty"`
	Op        string         `json:"op,omitempty"`
	Name      string         `json:"name,omitempty"`
	Names     []string       `json:"names,omitempty"`
	Value     *capture.Value `json:"value,omitempty"`
	Status    string         `json:"status,omitempty"`
	Connected bool           `json:"connected,omitempty"`
}

// defaultSubscribeWait bounds how long IsConnected waits for the first connection
// event of an item it subscribes on demand.
const defaultSubscribeWait = 2 * time.Second

// Gateway is a live layer backed by a websocket connection to a value gateway.
//
// Connection state is known only for subscribed items. IsConnected subscribes an
// unknown item on demand and waits for its first event.
type Gateway struct {
	conn    *websocket.Conn
	logger  *slog.Logger
	subWait time.Duration

	writeMu sync.Mutex

	mu         sync.Mutex
	pending    map[string]chan message
	connected  map[string]bool
	subscribed map[string]bool
	waiters    map[string]chan struct{}
	closed     bool

	nextID atomic.Uint64
	done   chan struct{}
	wg     sync.WaitGroup
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithGatewayLogger sets the logger.
func WithGatewayLogger(logger *slog.Logger) GatewayOption {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithSubscribeWait sets how long IsConnected waits for an on-demand subscription.
func WithSubscribeWait(d time.Duration) GatewayOption {
	return func(g *Gateway) {
		if d > 0 {
			g.subWait = d
		}
	}
}

// DialGateway connects to the gateway at url (ws:// or wss://).
func DialGateway(ctx context.Context, url string, opts ...GatewayOption) (*Gateway, error) {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 5 * time.Second

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}

	g := &Gateway{
		conn:       conn,
		logger:     logging.Discard(),
		subWait:    defaultSubscribeWait,
		pending:    make(map[string]chan message),
		connected:  make(map[string]bool),
		subscribed: make(map[string]bool),
		waiters:    make(map[string]chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}

	g.wg.Add(1)
	go g.readLoop()
	return g, nil
}

// Subscribe asks the gateway to push connection events for names.
func (g *Gateway) Subscribe(names []string) error {
	g.mu.Lock()
	for _, name := range names {
		g.subscribed[name] = true
	}
	g.mu.Unlock()
	return g.send(message{Op: opSub, Names: names})
}

// IsConnected implements restore.Live from the last pushed connection event. An
// item without one is subscribed and reported once its first event arrives, or as
// not connected after the subscribe wait.
func (g *Gateway) IsConnected(name string) bool {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return false
	}
	if connected, ok := g.connected[name]; ok {
		g.mu.Unlock()
		return connected
	}
	ready, ok := g.waiters[name]
	if !ok {
		ready = make(chan struct{})
		g.waiters[name] = ready
	}
	subscribe := !g.subscribed[name]
	g.subscribed[name] = true
	g.mu.Unlock()

	if subscribe {
		if err := g.send(message{Op: opSub, Names: []string{name}}); err != nil {
			g.logger.Debug("gateway subscribe failed", "name", name, "error", err)
			return false
		}
	}

	timer := time.NewTimer(g.subWait)
	defer timer.Stop()
	select {
	case <-ready:
	case <-g.done:
		return false
	case <-timer.C:
		g.logger.Debug("no connection event from gateway", "name", name)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.closed && g.connected[name]
}

// Write implements restore.Live. It blocks until the gateway replies, ctx is done
// or the connection drops.
func (g *Gateway) Write(ctx context.Context, name string, v capture.Value) restore.ItemStatus {
	reply, err := g.call(ctx, message{Op: opPut, Name: name, Value: &v})
	if err != nil {
		g.logger.Debug("gateway put failed", "name", name, "error", err)
		return restore.ItemAccessError
	}
	return toItemStatus(reply.Status)
}

// Read fetches the current value of name.
func (g *Gateway) Read(ctx context.Context, name string) (capture.Value, restore.ItemStatus) {
	reply, err := g.call(ctx, message{Op: opGet, Name: name})
	if err != nil {
		g.logger.Debug("gateway get failed", "name", name, "error", err)
		return capture.Value{}, restore.ItemAccessError
	}
	st := toItemStatus(reply.Status)
	if st != restore.ItemOK || reply.Value == nil {
		return capture.Value{Kind: capture.KindNone}, st
	}
	return *reply.Value, st
}

// Close closes the connection and waits for the reader to exit.
func (g *Gateway) Close() error {
	g.writeMu.Lock()
	_ = g.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	g.writeMu.Unlock()
	err := g.conn.Close()
	g.wg.Wait()
	return err
}

func (g *Gateway) call(ctx context.Context, req message) (message, error) {
	req.ID = strconv.FormatUint(g.nextID.Add(1), 10)
	ch := make(chan message, 1)

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return message{}, fmt.Errorf("gateway connection closed")
	}
	g.pending[req.ID] = ch
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.pending, req.ID)
		g.mu.Unlock()
	}()

	if err := g.send(req); err != nil {
		return message{}, err
	}

	select {
	case reply := <-ch:
		return reply, nil
	case <-g.done:
		return message{}, fmt.Errorf("gateway connection closed")
	case <-ctx.Done():
		return message{}, ctx.Err()
	}
}

func (g *Gateway) send(m message) error {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	if err := g.conn.WriteJSON(m); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

func (g *Gateway) readLoop() {
	defer g.wg.Done()
	defer func() {
		g.mu.Lock()
		g.closed = true
		g.connected = make(map[string]bool)
		g.mu.Unlock()
		close(g.done)
	}()

	for {
		var m message
		if err := g.conn.ReadJSON(&m); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.Warn("gateway read error", "error", err)
			}
			return
		}

		if m.Op == opConn {
			g.mu.Lock()
			g.connected[m.Name] = m.Connected
			if ready, ok := g.waiters[m.Name]; ok {
				close(ready)
				delete(g.waiters, m.Name)
			}
			g.mu.Unlock()
			continue
		}
		if m.ID == "" {
			continue
		}

		g.mu.Lock()
		ch, ok := g.pending[m.ID]
		g.mu.Unlock()
		if ok {
			select {
			case ch <- m:
			default:
			}
		}
	}
}

func toItemStatus(s string) restore.ItemStatus {
	switch restore.ItemStatus(s) {
	case restore.ItemOK, restore.ItemTypeError, restore.ItemDisconnected:
		return restore.ItemStatus(s)
	default:
		return restore.ItemAccessError
	}
}
