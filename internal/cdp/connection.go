package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/go-logr/logr"
)

// ConnState is the lifecycle state of a Connection.
type ConnState int

const (
	// StateDisconnected is the state of a new connection.
	StateDisconnected ConnState = iota
	// StateConnecting indicates discovery or the socket handshake is in progress.
	StateConnecting
	// StateConnected indicates the socket is open and commands may be sent.
	StateConnected
	// StateFailed indicates discovery or the handshake failed.
	StateFailed
	// StateClosed indicates the caller closed the connection or the socket terminated.
	StateClosed
)

// String returns a human-readable name for the connection state.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Options configures a Connection. Zero values select the defaults.
type Options struct {
	// Address is the browser's HTTP debugging address. Defaults to DefaultAddress.
	Address string
	// TargetType selects the target to attach to. Defaults to DefaultTargetType.
	TargetType string
	// HTTPClient is used for discovery. Defaults to http.DefaultClient.
	HTTPClient *http.Client
	// DialOptions are passed to websocket.Dial.
	DialOptions *websocket.DialOptions
	// Logger receives diagnostics. Defaults to logr.Discard().
	Logger logr.Logger
}

// Connection is a CDP connection to a single target.
//
// Commands are correlated with their responses by id. Ids start at 0 and
// increase by one per Send for the lifetime of the connection. A response
// settles the Future returned by Send and removes it from the correlation
// table; frames without an id are delivered to listeners as Events.
type Connection struct {
	address    string
	targetType string
	httpClient *http.Client
	dialOpts   *websocket.DialOptions
	log        logr.Logger

	// writeMu serialises id allocation with the socket write so frames
	// reach the wire in id order.
	writeMu sync.Mutex

	mu       sync.Mutex
	state    ConnState
	conn     Conn
	nextID   int64
	pending  map[int64]*Future[json.RawMessage]
	closeErr error

	listenersMu  sync.RWMutex
	listeners    []listener
	nextListener uint64

	dropped atomic.Int64

	// dispatching is set while the read goroutine runs listeners. Close
	// must not wait for the read loop from inside a listener.
	dispatching atomic.Bool

	// done is closed when the read loop exits or a never-opened
	// connection is closed.
	done     chan struct{}
	doneOnce sync.Once
}

type listener struct {
	id uint64
	fn func(Event)
}

// New creates a disconnected Connection. Call Connect to open it.
func New(opts Options) *Connection {
	if opts.Address == "" {
		opts.Address = DefaultAddress
	}
	if opts.TargetType == "" {
		opts.TargetType = DefaultTargetType
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Logger.GetSink() == nil {
		opts.Logger = logr.Discard()
	}

	return &Connection{
		address:    opts.Address,
		targetType: opts.TargetType,
		httpClient: opts.HTTPClient,
		dialOpts:   opts.DialOptions,
		log:        opts.Logger,
		pending:    make(map[int64]*Future[json.RawMessage]),
		done:       make(chan struct{}),
	}
}

// NewWithConn creates a Connection over an already open socket.
// Discovery is skipped and the connection starts in StateConnected.
func NewWithConn(conn Conn, opts Options) *Connection {
	c := New(opts)
	c.state = StateConnected
	c.conn = conn
	go c.readLoop(conn)
	return c
}

// Dial creates a Connection and connects it.
func Dial(ctx context.Context, opts Options) (*Connection, error) {
	c := New(opts)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Connect discovers the target and opens the WebSocket to it.
// It may be called only once. Discovery failures are returned as
// *DiscoveryError and handshake failures as *ConnectionError.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("connect: connection is %s", state)
	}
	c.state = StateConnecting
	c.mu.Unlock()

	wsURL, err := Discover(ctx, c.httpClient, c.address, c.targetType)
	if err != nil {
		c.fail()
		return err
	}

	c.log.V(1).Info("Connecting to target", "url", wsURL)

	conn, _, err := websocket.Dial(ctx, wsURL, c.dialOpts)
	if err != nil {
		c.fail()
		return &ConnectionError{URL: wsURL, Err: err}
	}
	// CDP frames such as screenshots exceed the library's 32 KiB default.
	conn.SetReadLimit(-1)

	c.mu.Lock()
	if c.state != StateConnecting {
		// Closed while the handshake was in flight.
		c.mu.Unlock()
		_ = conn.CloseNow()
		return fmt.Errorf("connect: %w", ErrNotConnected)
	}
	c.conn = conn
	c.state = StateConnected
	c.mu.Unlock()

	go c.readLoop(conn)

	c.log.V(1).Info("Connected", "url", wsURL)
	return nil
}

func (c *Connection) fail() {
	c.mu.Lock()
	if c.state == StateConnecting {
		c.state = StateFailed
	}
	c.mu.Unlock()
}

// Send issues a CDP command and returns a Future for its result without
// waiting for the reply. Nil params are sent as {}.
//
// ctx bounds the socket write only. A Future whose response never arrives
// stays pending; use Future.WaitContext to stop waiting on it.
func (c *Connection) Send(ctx context.Context, method string, params any) (*Future[json.RawMessage], error) {
	raw, err := encodeParams(params)
	if err != nil {
		return nil, fmt.Errorf("send %s: failed to marshal params: %w", method, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return nil, fmt.Errorf("send %s: %w", method, ErrNotConnected)
	}
	id := c.nextID
	c.nextID++
	// Register before writing so a fast reply cannot miss its Future.
	future := NewFuture[json.RawMessage]()
	c.pending[id] = future
	conn := c.conn
	c.mu.Unlock()

	data, err := json.Marshal(Request{ID: id, Method: method, Params: raw})
	if err == nil {
		err = conn.Write(ctx, websocket.MessageText, data)
	}
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("send %s: failed to send request: %w", method, err)
	}

	return future, nil
}

// Call sends a command and waits for its result or for ctx to be done.
func (c *Connection) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	future, err := c.Send(ctx, method, params)
	if err != nil {
		return nil, err
	}
	return future.WaitContext(ctx)
}

// Subscribe registers fn to receive every event, in registration order.
// The returned function removes the registration.
//
// Listeners run on the connection's read goroutine and must not block;
// a panicking listener is logged and does not affect other listeners.
func (c *Connection) Subscribe(fn func(Event)) (unsubscribe func()) {
	c.listenersMu.Lock()
	c.nextListener++
	id := c.nextListener
	// Copy on write so dispatch can iterate a snapshot without the lock.
	listeners := make([]listener, len(c.listeners), len(c.listeners)+1)
	copy(listeners, c.listeners)
	c.listeners = append(listeners, listener{id: id, fn: fn})
	c.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { c.unsubscribe(id) })
	}
}

// SubscribeMethod registers fn for events with the given method only.
func (c *Connection) SubscribeMethod(method string, fn func(Event)) (unsubscribe func()) {
	return c.Subscribe(func(evt Event) {
		if evt.Method == method {
			fn(evt)
		}
	})
}

func (c *Connection) unsubscribe(id uint64) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()

	listeners := make([]listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		if l.id != id {
			listeners = append(listeners, l)
		}
	}
	c.listeners = listeners
}

// Close closes the socket and waits for the read loop to exit, except when
// called while listeners are running, where it returns without waiting.
// Pending Futures are not settled. Close is safe to call more than once,
// from a listener, and on a connection that never opened.
func (c *Connection) Close() error {
	c.mu.Lock()
	prev := c.state
	conn := c.conn
	c.state = StateClosed
	c.pending = make(map[int64]*Future[json.RawMessage])
	c.mu.Unlock()

	if prev != StateConnected {
		if prev != StateClosed {
			c.doneOnce.Do(func() { close(c.done) })
		}
		return nil
	}

	c.log.V(1).Info("Closing connection")
	err := conn.Close(websocket.StatusNormalClosure, "client closing")

	if c.dispatching.Load() {
		return err
	}

	// Wait for read loop to exit
	<-c.done

	return err
}

// State returns the current lifecycle state.
func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done returns a channel that is closed once the connection stops reading.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Err returns the read error that terminated the connection, if the peer
// or the transport ended it.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

// Pending returns the number of commands awaiting a response.
func (c *Connection) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Dropped returns the number of inbound frames that were discarded because
// they could not be parsed or their id matched no pending command.
func (c *Connection) Dropped() int64 {
	return c.dropped.Load()
}

// readLoop reads messages from the connection and dispatches them in
// delivery order.
func (c *Connection) readLoop(conn Conn) {
	defer c.doneOnce.Do(func() { close(c.done) })

	ctx := context.Background()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			c.mu.Lock()
			if c.state != StateClosed {
				c.state = StateClosed
				c.closeErr = err
				c.pending = make(map[int64]*Future[json.RawMessage])
				c.log.V(1).Info("Connection terminated", "error", err.Error())
			}
			c.mu.Unlock()
			return
		}

		if typ == websocket.MessageBinary {
			data = []byte(strings.ToValidUTF8(string(data), "\uFFFD"))
		}

		c.dispatch(data)
	}
}

// dispatch routes a single frame to a pending Future or to the listeners.
func (c *Connection) dispatch(data []byte) {
	resp, evt, err := parseMessage(data)
	if err != nil {
		c.dropped.Add(1)
		c.log.V(1).Info("Dropping frame", "reason", err.Error())
		return
	}

	if resp != nil {
		c.dispatchResponse(resp)
	} else if evt != nil {
		c.dispatchEvent(*evt)
	}
}

// dispatchResponse settles the Future registered for the response's id.
func (c *Connection) dispatchResponse(resp *Response) {
	c.mu.Lock()
	future, ok := c.pending[resp.ID]
	delete(c.pending, resp.ID)
	c.mu.Unlock()

	if !ok {
		c.dropped.Add(1)
		c.log.V(1).Info("Dropping response for unknown request", "id", resp.ID)
		return
	}

	if resp.Error != nil {
		future.Reject(resp.Error)
		return
	}
	future.Resolve(resp.Result)
}

// dispatchEvent calls every listener registered at the time of the event.
func (c *Connection) dispatchEvent(evt Event) {
	c.listenersMu.RLock()
	listeners := c.listeners
	c.listenersMu.RUnlock()

	c.dispatching.Store(true)
	defer c.dispatching.Store(false)

	for _, l := range listeners {
		c.callListener(l, evt)
	}
}

func (c *Connection) callListener(l listener, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error(fmt.Errorf("%v", r), "Event listener panicked", "method", evt.Method)
		}
	}()
	l.fn(evt)
}
