package gateway

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"ai-trading-bot/internal/interfaces"
	"ai-trading-bot/internal/logger"
	"ai-trading-bot/internal/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ConnState is the connector's connection state.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnectWaiting
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnectWaiting:
		return "reconnect_waiting"
	default:
		return "unknown"
	}
}

// Config holds the connector settings supplied by the configuration provider.
type Config struct {
	Host     string
	Port     int
	ClientID int

	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	OrderTimeout   time.Duration
	OrderIDWait    time.Duration

	MarketDataMode  int
	AccountTag      string
	AccountCurrency string
	IndexSymbol     string

	ReconnectBase time.Duration
	ReconnectMax  time.Duration

	// Dial overrides the transport; nil means the production websocket
	// dialer.
	Dial Dialer
}

func (c Config) url() string {
	return fmt.Sprintf("ws://%s:%d/api", c.Host, c.Port)
}

// Manager owns the physical gateway connection: connect/handshake, the
// dedicated reader goroutine, and the typed operations that register a
// pending request, send the outbound message and await its resolution.
type Manager struct {
	cfg Config

	// connectMu serializes connect/disconnect transitions so concurrent
	// connect calls collapse into one attempt.
	connectMu sync.Mutex

	stateMu   sync.Mutex
	state     ConnState
	conn      Conn
	connected chan struct{} // closed by the connect ack, nil outside a connect

	reqID atomic.Int64

	quotes    *pendingTable[float64]
	accounts  *pendingTable[decimal.Decimal]
	orders    *pendingTable[int64]
	positions *positionAggregator
	seq       *orderIDSequencer
	disp      *dispatcher
	super     *supervisor

	handlersMu   sync.Mutex
	connHandlers []func(bool)
	errHandlers  []func(error)

	events chan func()
}

var _ interfaces.Gateway = (*Manager)(nil)

func New(cfg Config) *Manager {
	if cfg.Dial == nil {
		cfg.Dial = DialWebSocket
	}
	if cfg.IndexSymbol == "" {
		cfg.IndexSymbol = "VIX"
	}

	m := &Manager{
		cfg:       cfg,
		quotes:    newPendingTable[float64](),
		accounts:  newPendingTable[decimal.Decimal](),
		orders:    newPendingTable[int64](),
		positions: newPositionAggregator(),
		seq:       newOrderIDSequencer(cfg.OrderIDWait),
		events:    make(chan func(), 64),
	}
	go m.eventLoop()

	m.disp = &dispatcher{
		quotes:          m.quotes,
		accounts:        m.accounts,
		orders:          m.orders,
		positions:       m.positions,
		seq:             m.seq,
		accountTag:      cfg.AccountTag,
		accountCurrency: cfg.AccountCurrency,
		onConnectAck:    m.handleConnectAck,
		emitError:       m.emitError,
	}
	m.super = newSupervisor(cfg.ReconnectBase, cfg.ReconnectMax, m.Connect)
	return m
}

// State returns the current connection state.
func (m *Manager) State() ConnState {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.state
}

func (m *Manager) setState(s ConnState) {
	m.stateMu.Lock()
	m.state = s
	m.stateMu.Unlock()
}

// OnConnectivityChange registers a connectivity event handler.
func (m *Manager) OnConnectivityChange(fn func(connected bool)) {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()
	m.connHandlers = append(m.connHandlers, fn)
}

// OnError registers a handler for general gateway errors.
func (m *Manager) OnError(fn func(err error)) {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()
	m.errHandlers = append(m.errHandlers, fn)
}

// Handlers run on one dispatch goroutine, off the reader loop. Observers see
// events in emission order.
func (m *Manager) eventLoop() {
	for ev := range m.events {
		ev()
	}
}

func (m *Manager) emitConnectivity(connected bool) {
	m.handlersMu.Lock()
	handlers := make([]func(bool), len(m.connHandlers))
	copy(handlers, m.connHandlers)
	m.handlersMu.Unlock()

	m.events <- func() {
		for _, fn := range handlers {
			fn(connected)
		}
	}
}

func (m *Manager) emitError(err error) {
	m.handlersMu.Lock()
	handlers := make([]func(error), len(m.errHandlers))
	copy(handlers, m.errHandlers)
	m.handlersMu.Unlock()

	m.events <- func() {
		for _, fn := range handlers {
			fn(err)
		}
	}
}

// Connect opens the socket, performs the handshake and starts the reader
// loop. Concurrent calls collapse into one attempt. On failure the state
// stays Disconnected; connect itself never retries, reconnection-after-loss
// is the supervisor's job.
func (m *Manager) Connect(ctx context.Context) error {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	if m.State() == StateConnected {
		return nil
	}
	m.setState(StateConnecting)

	conn, err := m.cfg.Dial(ctx, m.cfg.url())
	if err != nil {
		m.setState(StateDisconnected)
		err = fmt.Errorf("dial gateway: %w", err)
		m.emitError(err)
		return err
	}

	ready := make(chan struct{})
	sessionID := uuid.NewString()
	m.stateMu.Lock()
	m.conn = conn
	m.connected = ready
	m.stateMu.Unlock()

	go m.readLoop(conn, sessionID)

	handshake := message{
		Type:           msgStartAPI,
		ClientID:       m.cfg.ClientID,
		MarketDataMode: m.cfg.MarketDataMode,
	}
	if err := m.write(conn, handshake); err != nil {
		m.teardown(conn)
		err = fmt.Errorf("gateway handshake: %w", err)
		m.emitError(err)
		return err
	}

	timer := time.NewTimer(m.cfg.ConnectTimeout)
	defer timer.Stop()

	select {
	case <-ready:
	case <-ctx.Done():
		m.teardown(conn)
		return ctx.Err()
	case <-timer.C:
		m.teardown(conn)
		err := &TimeoutError{Op: "connect handshake", Wait: m.cfg.ConnectTimeout}
		m.emitError(err)
		return err
	}

	m.super.Start()
	logger.Info(ctx, "gateway connected",
		"host", m.cfg.Host,
		"port", m.cfg.Port,
		"client_id", m.cfg.ClientID,
		"session_id", sessionID,
	)
	return nil
}

// teardown rolls back a failed connect attempt.
func (m *Manager) teardown(conn Conn) {
	m.stateMu.Lock()
	if m.conn == conn {
		m.conn = nil
		m.connected = nil
		m.state = StateDisconnected
	}
	m.stateMu.Unlock()
	conn.Close()
}

// handleConnectAck runs on the reader goroutine when the gateway
// acknowledges the session.
func (m *Manager) handleConnectAck() {
	m.stateMu.Lock()
	m.state = StateConnected
	ready := m.connected
	m.connected = nil
	m.stateMu.Unlock()

	if ready != nil {
		close(ready)
	}
	m.emitConnectivity(true)
}

// Disconnect stops the reconnection supervisor, cancels every pending
// request and closes the socket.
func (m *Manager) Disconnect(ctx context.Context) error {
	// Stopped outside connectMu: an in-flight supervisor attempt may be
	// blocked on that lock and must observe cancellation first.
	m.super.Stop()

	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	m.stateMu.Lock()
	conn := m.conn
	m.conn = nil
	m.connected = nil
	wasConnected := m.state == StateConnected
	m.state = StateDisconnected
	m.stateMu.Unlock()

	m.cancelAllPending()
	if conn != nil {
		conn.Close()
	}
	if wasConnected {
		m.emitConnectivity(false)
	}
	logger.Info(ctx, "gateway disconnected")
	return nil
}

func (m *Manager) cancelAllPending() {
	m.quotes.CancelAll(ErrConnectionLost)
	m.accounts.CancelAll(ErrConnectionLost)
	m.orders.CancelAll(ErrConnectionLost)
	m.positions.Fail(ErrConnectionLost)
}

// readLoop pumps inbound frames into the dispatcher. It is the only reader
// of the connection and never blocks on a caller's pending request.
func (m *Manager) readLoop(conn Conn, sessionID string) {
	ctx := context.Background()

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			m.handleConnLoss(ctx, conn, err)
			return
		}

		msg, err := decodeMessage(data)
		if err != nil {
			logger.Warn(ctx, "undecodable gateway frame",
				"session_id", sessionID,
				"error", err,
			)
			continue
		}

		if msg.Type == msgConnectionClosed {
			m.handleConnLoss(ctx, conn, ErrConnectionLost)
			return
		}

		m.disp.dispatch(ctx, msg)
	}
}

// handleConnLoss reacts to a broken socket: fails all outstanding requests,
// surfaces the loss once, and arms the reconnection supervisor. A reader
// whose connection was already replaced or deliberately closed does nothing.
// A socket that drops before the connect ack tears down to Disconnected
// instead: the pending Connect call reports the failure, there was never a
// connection to observe losing, and the supervisor is not running yet.
func (m *Manager) handleConnLoss(ctx context.Context, conn Conn, cause error) {
	m.stateMu.Lock()
	if m.conn != conn {
		m.stateMu.Unlock()
		return
	}
	handshaking := m.connected != nil
	m.conn = nil
	m.connected = nil
	if handshaking {
		m.state = StateDisconnected
	} else {
		m.state = StateReconnectWaiting
	}
	m.stateMu.Unlock()

	conn.Close()
	m.cancelAllPending()

	if handshaking {
		logger.Warn(ctx, "gateway dropped during handshake", "error", cause)
		return
	}

	logger.Warn(ctx, "gateway connection lost", "error", cause)
	m.emitConnectivity(false)
	m.emitError(fmt.Errorf("%w: %v", ErrConnectionLost, cause))
	m.super.Arm()
}

// send writes an outbound message, failing fast when not connected. No
// operation proceeds past this point unless the state is Connected.
func (m *Manager) send(msg message) error {
	m.stateMu.Lock()
	conn := m.conn
	state := m.state
	m.stateMu.Unlock()

	if state != StateConnected || conn == nil {
		return ErrNotConnected
	}
	return m.write(conn, msg)
}

func (m *Manager) write(conn Conn, msg message) error {
	data, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	return conn.WriteMessage(data)
}

// sendBestEffort is for cleanup messages whose failure is irrelevant.
func (m *Manager) sendBestEffort(msg message) {
	_ = m.send(msg)
}

// Quote resolves the current price for a stock symbol.
func (m *Manager) Quote(ctx context.Context, symbol string) (float64, error) {
	return m.quote(ctx, symbol, secTypeStock)
}

// IndexLevel resolves the configured benchmark index level.
func (m *Manager) IndexLevel(ctx context.Context) (float64, error) {
	return m.quote(ctx, m.cfg.IndexSymbol, secTypeIndex)
}

func (m *Manager) quote(ctx context.Context, symbol, secType string) (float64, error) {
	id := m.reqID.Add(1)
	p, err := m.quotes.Register(id, "quote "+symbol)
	if err != nil {
		return 0, err
	}

	req := message{Type: msgReqMktData, ReqID: id, Symbol: symbol, SecType: secType}
	if err := m.send(req); err != nil {
		m.quotes.Fail(id, err)
		return 0, err
	}

	price, err := p.Await(ctx, m.cfg.RequestTimeout)
	m.sendBestEffort(message{Type: msgCancelMktData, ReqID: id})
	if err != nil {
		return 0, err
	}
	return price, nil
}

// Positions requests a full position snapshot. Snapshot sessions are
// serialized: the protocol exposes one global position stream.
func (m *Manager) Positions(ctx context.Context) (types.Positions, error) {
	if m.State() != StateConnected {
		return nil, ErrNotConnected
	}

	result, err := m.positions.Begin(ctx)
	if err != nil {
		return nil, err
	}

	if err := m.send(message{Type: msgReqPositions}); err != nil {
		m.positions.Fail(err)
		<-result
		return nil, err
	}

	timer := time.NewTimer(m.cfg.RequestTimeout)
	defer timer.Stop()

	var out positionsOutcome
	select {
	case out = <-result:
	case <-ctx.Done():
		m.positions.Fail(ctx.Err())
		out = <-result
	case <-timer.C:
		m.positions.Fail(&TimeoutError{Op: "position snapshot", Wait: m.cfg.RequestTimeout})
		out = <-result
	}

	m.sendBestEffort(message{Type: msgCancelPositions})
	return out.positions, out.err
}

// AccountValue resolves the configured account tag. The value is advisory:
// a timeout falls back to zero instead of failing the caller.
func (m *Manager) AccountValue(ctx context.Context) (decimal.Decimal, error) {
	id := m.reqID.Add(1)
	p, err := m.accounts.Register(id, "account value")
	if err != nil {
		return decimal.Zero, err
	}

	req := message{Type: msgReqAccountSummary, ReqID: id, Tag: m.cfg.AccountTag}
	if err := m.send(req); err != nil {
		m.accounts.Fail(id, err)
		return decimal.Zero, err
	}

	v, err := p.Await(ctx, m.cfg.RequestTimeout)
	m.sendBestEffort(message{Type: msgCancelAccountSummary, ReqID: id})
	if err != nil {
		if IsTimeout(err) {
			logger.Warn(ctx, "account value timed out, assuming zero", "tag", m.cfg.AccountTag)
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return v, nil
}

// PlaceOrder sends an order and awaits the placement acknowledgement. The
// returned id identifies the order for cancellation; final fills are not
// awaited.
func (m *Manager) PlaceOrder(ctx context.Context, req types.OrderReq) (int64, error) {
	if err := req.Validate(); err != nil {
		return 0, err
	}
	if m.State() != StateConnected {
		return 0, ErrNotConnected
	}

	id, err := m.seq.Next(ctx)
	if err != nil {
		return 0, err
	}

	p, err := m.orders.Register(id, "place order "+req.Symbol)
	if err != nil {
		return 0, err
	}

	out := message{
		Type:       msgPlaceOrder,
		OrderID:    id,
		ReqID:      id, // order ids share the request id space for error routing
		Symbol:     req.Symbol,
		Qty:        float64(req.Qty),
		Side:       string(req.Side),
		OrderType:  string(req.Type),
		LimitPrice: req.LimitPrice,
	}
	if err := m.send(out); err != nil {
		m.orders.Fail(id, err)
		return 0, err
	}

	if _, err := p.Await(ctx, m.cfg.OrderTimeout); err != nil {
		return 0, err
	}
	return id, nil
}

// CancelOrder sends a fire-and-forget cancellation. No acknowledgement is
// awaited.
func (m *Manager) CancelOrder(ctx context.Context, orderID int64) error {
	return m.send(message{Type: msgCancelOrder, OrderID: orderID})
}
