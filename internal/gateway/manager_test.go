package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ai-trading-bot/internal/types"
)

// fakeConn is a channel-backed transport for driving the manager without a
// gateway process.
type fakeConn struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	written []message

	// onWrite scripts the fake gateway's reaction to outbound messages.
	onWrite func(msg message)
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case <-c.closed:
		return nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return errors.New("use of closed connection")
	default:
	}

	msg, err := decodeMessage(data)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.written = append(c.written, msg)
	hook := c.onWrite
	c.mu.Unlock()

	if hook != nil {
		hook(msg)
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// deliver queues an inbound frame for the manager's reader loop.
func (c *fakeConn) deliver(msg message) {
	data, _ := encodeMessage(msg)
	select {
	case c.in <- data:
	case <-c.closed:
	}
}

func (c *fakeConn) writtenOfType(msgType string) []message {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []message
	for _, m := range c.written {
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeConn) script(fn func(msg message)) {
	c.mu.Lock()
	c.onWrite = fn
	c.mu.Unlock()
}

// ackHandshake replies to startApi with the connect ack and the handshake
// order id, like a live gateway.
func (c *fakeConn) ackHandshake(seedID int64) {
	c.script(func(msg message) {
		if msg.Type == msgStartAPI {
			c.deliver(message{Type: msgConnectAck})
			c.deliver(message{Type: msgNextValidID, OrderID: seedID})
		}
	})
}

func testConfig(dial Dialer) Config {
	return Config{
		Host:           "127.0.0.1",
		Port:           4002,
		ClientID:       7,
		ConnectTimeout: time.Second,
		RequestTimeout: 250 * time.Millisecond,
		OrderTimeout:   500 * time.Millisecond,
		OrderIDWait:    100 * time.Millisecond,
		AccountTag:     "AvailableFunds",
		IndexSymbol:    "VIX",
		ReconnectBase:  10 * time.Millisecond,
		ReconnectMax:   80 * time.Millisecond,
		Dial:           dial,
	}
}

// newConnectedManager returns a manager connected to a scripted fake
// gateway, with order ids seeded at 500.
func newConnectedManager(t *testing.T) (*Manager, *fakeConn) {
	t.Helper()

	fc := newFakeConn()
	fc.ackHandshake(500)

	m := New(testConfig(func(ctx context.Context, url string) (Conn, error) {
		return fc, nil
	}))
	t.Cleanup(func() { m.Disconnect(context.Background()) })

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	return m, fc
}

func TestManagerConnectHandshake(t *testing.T) {
	m, fc := newConnectedManager(t)

	if m.State() != StateConnected {
		t.Errorf("expected Connected, got %s", m.State())
	}

	starts := fc.writtenOfType(msgStartAPI)
	if len(starts) != 1 {
		t.Fatalf("expected one startApi frame, got %d", len(starts))
	}
	if starts[0].ClientID != 7 {
		t.Errorf("expected client id 7, got %d", starts[0].ClientID)
	}
}

func TestManagerConnectTimesOutWithoutAck(t *testing.T) {
	fc := newFakeConn() // never acks

	cfg := testConfig(func(ctx context.Context, url string) (Conn, error) {
		return fc, nil
	})
	cfg.ConnectTimeout = 50 * time.Millisecond
	m := New(cfg)
	t.Cleanup(func() { m.Disconnect(context.Background()) })

	err := m.Connect(context.Background())
	if !IsTimeout(err) {
		t.Fatalf("expected handshake timeout, got %v", err)
	}
	if m.State() != StateDisconnected {
		t.Errorf("expected Disconnected after failed connect, got %s", m.State())
	}
}

func TestManagerOperationsRequireConnected(t *testing.T) {
	m := New(testConfig(func(ctx context.Context, url string) (Conn, error) {
		return nil, errors.New("unused")
	}))
	ctx := context.Background()

	if _, err := m.Quote(ctx, "AAPL"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Quote: expected ErrNotConnected, got %v", err)
	}
	if _, err := m.Positions(ctx); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Positions: expected ErrNotConnected, got %v", err)
	}
	if _, err := m.AccountValue(ctx); !errors.Is(err, ErrNotConnected) {
		t.Errorf("AccountValue: expected ErrNotConnected, got %v", err)
	}
	req := types.OrderReq{Symbol: "AAPL", Qty: 1, Side: types.SideBuy, Type: types.OrderTypeMarket}
	if _, err := m.PlaceOrder(ctx, req); !errors.Is(err, ErrNotConnected) {
		t.Errorf("PlaceOrder: expected ErrNotConnected, got %v", err)
	}
	if err := m.CancelOrder(ctx, 500); !errors.Is(err, ErrNotConnected) {
		t.Errorf("CancelOrder: expected ErrNotConnected, got %v", err)
	}
}

func TestManagerQuoteRoundTrip(t *testing.T) {
	m, fc := newConnectedManager(t)

	fc.script(func(msg message) {
		switch msg.Type {
		case msgReqMktData:
			fc.deliver(message{Type: msgTickPrice, ReqID: msg.ReqID, Field: tickFieldLast, Price: 101.5})
		}
	})

	price, err := m.Quote(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("Quote failed: %v", err)
	}
	if price != 101.5 {
		t.Errorf("expected 101.5, got %f", price)
	}

	// Best-effort unsubscribe after resolution.
	cancels := fc.writtenOfType(msgCancelMktData)
	if len(cancels) != 1 {
		t.Fatalf("expected one cancelMktData, got %d", len(cancels))
	}
	reqs := fc.writtenOfType(msgReqMktData)
	if cancels[0].ReqID != reqs[0].ReqID {
		t.Error("cancelMktData must reference the original request id")
	}
}

func TestManagerConcurrentQuotesResolveIndependently(t *testing.T) {
	m, fc := newConnectedManager(t)

	prices := map[string]float64{"AAPL": 180.1, "MSFT": 410.2, "GOOGL": 140.3, "AMZN": 170.4}
	fc.script(func(msg message) {
		if msg.Type == msgReqMktData {
			fc.deliver(message{Type: msgTickPrice, ReqID: msg.ReqID, Field: tickFieldLast, Price: prices[msg.Symbol]})
		}
	})

	var wg sync.WaitGroup
	for symbol, want := range prices {
		wg.Add(1)
		go func(symbol string, want float64) {
			defer wg.Done()
			got, err := m.Quote(context.Background(), symbol)
			if err != nil {
				t.Errorf("%s: Quote failed: %v", symbol, err)
				return
			}
			if got != want {
				t.Errorf("%s: expected %f, got %f (cross-resolution)", symbol, want, got)
			}
		}(symbol, want)
	}
	wg.Wait()
}

func TestManagerQuoteTimeout(t *testing.T) {
	m, _ := newConnectedManager(t) // gateway never replies to market data

	_, err := m.Quote(context.Background(), "AAPL")
	if !IsTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if m.State() != StateConnected {
		t.Error("a request timeout must not touch the connection")
	}
}

func TestManagerIndexLevelUsesConfiguredSymbol(t *testing.T) {
	m, fc := newConnectedManager(t)

	fc.script(func(msg message) {
		if msg.Type == msgReqMktData {
			fc.deliver(message{Type: msgTickPrice, ReqID: msg.ReqID, Field: tickFieldLast, Price: 17.4})
		}
	})

	level, err := m.IndexLevel(context.Background())
	if err != nil {
		t.Fatalf("IndexLevel failed: %v", err)
	}
	if level != 17.4 {
		t.Errorf("expected 17.4, got %f", level)
	}

	reqs := fc.writtenOfType(msgReqMktData)
	if reqs[0].Symbol != "VIX" || reqs[0].SecType != secTypeIndex {
		t.Errorf("expected VIX/IND subscription, got %s/%s", reqs[0].Symbol, reqs[0].SecType)
	}
}

func TestManagerConnectionLossFailsAllOutstanding(t *testing.T) {
	m, fc := newConnectedManager(t)

	// Long per-request timeout proves failures come from cancellation, not
	// from the deadline.
	m.cfg.RequestTimeout = 5 * time.Second

	const k = 5
	results := make(chan error, k)
	for i := 0; i < k; i++ {
		go func() {
			_, err := m.Quote(context.Background(), "AAPL")
			results <- err
		}()
	}

	// Wait until all subscriptions are on the wire.
	deadline := time.Now().Add(time.Second)
	for {
		if len(fc.writtenOfType(msgReqMktData)) == k {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("subscriptions never sent")
		}
		time.Sleep(5 * time.Millisecond)
	}

	fc.Close()

	for i := 0; i < k; i++ {
		select {
		case err := <-results:
			if !errors.Is(err, ErrConnectionLost) {
				t.Errorf("expected ErrConnectionLost, got %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("request hung after connection loss")
		}
	}
}

func TestManagerReconnectsAfterLoss(t *testing.T) {
	first := newFakeConn()
	first.ackHandshake(500)
	second := newFakeConn()
	second.ackHandshake(800)

	var dials int
	var dialMu sync.Mutex
	m := New(testConfig(func(ctx context.Context, url string) (Conn, error) {
		dialMu.Lock()
		defer dialMu.Unlock()
		dials++
		if dials == 1 {
			return first, nil
		}
		return second, nil
	}))
	t.Cleanup(func() { m.Disconnect(context.Background()) })

	var eventsMu sync.Mutex
	var events []bool
	m.OnConnectivityChange(func(connected bool) {
		eventsMu.Lock()
		events = append(events, connected)
		eventsMu.Unlock()
	})

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	first.Close()

	deadline := time.Now().Add(2 * time.Second)
	for m.State() != StateConnected || len(second.writtenOfType(msgStartAPI)) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("never reconnected, state %s", m.State())
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Order ids re-seeded from the new handshake value.
	id, err := m.seq.Next(context.Background())
	if err != nil {
		t.Fatalf("Next failed after reconnect: %v", err)
	}
	if id != 800 {
		t.Errorf("expected re-seeded order id 800, got %d", id)
	}

	eventsMu.Lock()
	defer eventsMu.Unlock()
	if len(events) < 3 || events[0] != true || events[1] != false || events[2] != true {
		t.Errorf("expected connectivity true,false,true, got %v", events)
	}
}

func TestManagerPlaceOrderConcurrentIssuance(t *testing.T) {
	m, fc := newConnectedManager(t) // seeded at 500

	fc.script(func(msg message) {
		if msg.Type == msgPlaceOrder {
			fc.deliver(message{Type: msgOrderStatus, OrderID: msg.OrderID, Status: statusSubmitted})
		}
	})

	req := types.OrderReq{Symbol: "AAPL", Qty: 10, Side: types.SideBuy, Type: types.OrderTypeMarket}

	ids := make(chan int64, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := m.PlaceOrder(context.Background(), req)
			if err != nil {
				t.Errorf("PlaceOrder failed: %v", err)
				return
			}
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[int64]bool{}
	for id := range ids {
		seen[id] = true
	}
	if !seen[500] || !seen[501] {
		t.Errorf("expected order ids 500 and 501, got %v", seen)
	}
}

func TestManagerPlaceOrderRejected(t *testing.T) {
	m, fc := newConnectedManager(t)

	fc.script(func(msg message) {
		if msg.Type == msgPlaceOrder {
			fc.deliver(message{Type: msgError, ReqID: msg.OrderID, Code: 201, Message: "order rejected"})
		}
	})

	req := types.OrderReq{Symbol: "AAPL", Qty: 10, Side: types.SideBuy, Type: types.OrderTypeMarket}
	_, err := m.PlaceOrder(context.Background(), req)

	var rej *RejectedError
	if !errors.As(err, &rej) {
		t.Fatalf("expected RejectedError, got %v", err)
	}
	if rej.Code != 201 {
		t.Errorf("expected code 201, got %d", rej.Code)
	}
}

func TestManagerPlaceOrderValidatesRequest(t *testing.T) {
	m, _ := newConnectedManager(t)

	_, err := m.PlaceOrder(context.Background(), types.OrderReq{Symbol: "AAPL", Qty: 0, Side: types.SideBuy, Type: types.OrderTypeMarket})
	if err == nil {
		t.Error("expected validation error for zero quantity")
	}

	_, err = m.PlaceOrder(context.Background(), types.OrderReq{Symbol: "AAPL", Qty: 1, Side: types.SideBuy, Type: types.OrderTypeLimit})
	if err == nil {
		t.Error("expected validation error for limit order without price")
	}
}

func TestManagerAccountValueTimeoutFallsBackToZero(t *testing.T) {
	m, _ := newConnectedManager(t) // gateway never replies

	v, err := m.AccountValue(context.Background())
	if err != nil {
		t.Fatalf("expected zero fallback, got error %v", err)
	}
	if !v.IsZero() {
		t.Errorf("expected zero, got %s", v)
	}
}

func TestManagerPositionsSnapshot(t *testing.T) {
	m, fc := newConnectedManager(t)

	fc.script(func(msg message) {
		if msg.Type == msgReqPositions {
			fc.deliver(message{Type: msgPosition, Symbol: "AAPL", Qty: 10})
			fc.deliver(message{Type: msgPosition, Symbol: "MSFT", Qty: 5})
			fc.deliver(message{Type: msgPosition, Symbol: "AAPL", Qty: 2.5})
			fc.deliver(message{Type: msgPositionEnd})
		}
	})

	positions, err := m.Positions(context.Background())
	if err != nil {
		t.Fatalf("Positions failed: %v", err)
	}
	if positions["AAPL"] != 12.5 || positions["MSFT"] != 5 {
		t.Errorf("unexpected snapshot: %v", positions)
	}

	if len(fc.writtenOfType(msgCancelPositions)) != 1 {
		t.Error("expected best-effort cancelPositions after the snapshot")
	}
}

func TestManagerCancelOrderFireAndForget(t *testing.T) {
	m, fc := newConnectedManager(t)

	if err := m.CancelOrder(context.Background(), 500); err != nil {
		t.Fatalf("CancelOrder failed: %v", err)
	}

	cancels := fc.writtenOfType(msgCancelOrder)
	if len(cancels) != 1 || cancels[0].OrderID != 500 {
		t.Errorf("expected one cancelOrder for 500, got %v", cancels)
	}
}

func TestManagerDisconnectCancelsPending(t *testing.T) {
	m, fc := newConnectedManager(t)
	m.cfg.RequestTimeout = 5 * time.Second

	result := make(chan error, 1)
	go func() {
		_, err := m.Quote(context.Background(), "AAPL")
		result <- err
	}()

	deadline := time.Now().Add(time.Second)
	for len(fc.writtenOfType(msgReqMktData)) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription never sent")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := m.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}

	select {
	case err := <-result:
		if !errors.Is(err, ErrConnectionLost) {
			t.Errorf("expected ErrConnectionLost, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("pending quote hung after disconnect")
	}

	if m.State() != StateDisconnected {
		t.Errorf("expected Disconnected, got %s", m.State())
	}
}

func TestManagerLossDuringHandshakeLeavesDisconnected(t *testing.T) {
	fc := newFakeConn()
	fc.script(func(msg message) {
		if msg.Type == msgStartAPI {
			fc.Close()
		}
	})

	cfg := testConfig(func(ctx context.Context, url string) (Conn, error) {
		return fc, nil
	})
	cfg.ConnectTimeout = 50 * time.Millisecond
	m := New(cfg)
	t.Cleanup(func() { m.Disconnect(context.Background()) })

	var eventsMu sync.Mutex
	var events []bool
	m.OnConnectivityChange(func(connected bool) {
		eventsMu.Lock()
		events = append(events, connected)
		eventsMu.Unlock()
	})

	if err := m.Connect(context.Background()); err == nil {
		t.Fatal("expected connect to fail when the socket drops before the ack")
	}
	if m.State() != StateDisconnected {
		t.Errorf("failed connect must leave state Disconnected, got %s", m.State())
	}

	// A session that never reached Connected emits no connectivity events.
	time.Sleep(50 * time.Millisecond)
	eventsMu.Lock()
	defer eventsMu.Unlock()
	if len(events) != 0 {
		t.Errorf("expected no connectivity events, got %v", events)
	}
}

func TestManagerConnectivityEventsDeliveredInOrder(t *testing.T) {
	m := New(testConfig(func(ctx context.Context, url string) (Conn, error) {
		return nil, errors.New("unused")
	}))

	const n = 50
	var mu sync.Mutex
	var got []bool
	done := make(chan struct{})
	m.OnConnectivityChange(func(connected bool) {
		mu.Lock()
		got = append(got, connected)
		if len(got) == n {
			close(done)
		}
		mu.Unlock()
	})

	for i := 0; i < n; i++ {
		m.emitConnectivity(i%2 == 0)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("events never delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, connected := range got {
		if connected != (i%2 == 0) {
			t.Fatalf("event %d out of order: %v", i, got)
		}
	}
}

func TestManagerConcurrentConnectCollapses(t *testing.T) {
	fc := newFakeConn()
	fc.ackHandshake(500)

	var dials int
	var dialMu sync.Mutex
	m := New(testConfig(func(ctx context.Context, url string) (Conn, error) {
		dialMu.Lock()
		defer dialMu.Unlock()
		dials++
		return fc, nil
	}))
	t.Cleanup(func() { m.Disconnect(context.Background()) })

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Connect(context.Background()); err != nil {
				t.Errorf("Connect failed: %v", err)
			}
		}()
	}
	wg.Wait()

	dialMu.Lock()
	defer dialMu.Unlock()
	if dials != 1 {
		t.Errorf("expected concurrent connects to collapse into one dial, got %d", dials)
	}
}
