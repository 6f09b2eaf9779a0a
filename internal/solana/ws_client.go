package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var errWSClosed = errors.New("solana websocket: client closed")

// WSClientConfig tunes the signature subscription connection. Zero fields
// take the DefaultWSConfig value.
type WSClientConfig struct {
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	PingInterval      time.Duration
	// ReadTimeout must exceed PingInterval; pongs extend the deadline.
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	SubscribeTimeout time.Duration
	// Logger receives connection events. Nil discards them.
	Logger logrus.FieldLogger
}

// DefaultWSConfig returns the default connection settings.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		ReconnectDelay:    time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		SubscribeTimeout:  30 * time.Second,
	}
}

func (c WSClientConfig) withDefaults() WSClientConfig {
	d := DefaultWSConfig()
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = d.ReconnectDelay
	}
	if c.MaxReconnectDelay < c.ReconnectDelay {
		c.MaxReconnectDelay = max(d.MaxReconnectDelay, c.ReconnectDelay)
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.SubscribeTimeout <= 0 {
		c.SubscribeTimeout = d.SubscribeTimeout
	}
	return c
}

// signatureSub is one signature being watched. id and gone are guarded by
// the client mutex; whoever sets gone owns closing ch.
type signatureSub struct {
	signature  string
	commitment Commitment
	ch         chan SignatureNotification
	done       chan struct{}
	id         int64
	gone       bool
}

// waiter is a signatureSubscribe request awaiting its subscription id.
type waiter struct {
	sub   *signatureSub
	ready chan int64
}

// WSClientImpl watches signatures over one websocket connection, redialing
// and resubscribing when the connection drops.
type WSClientImpl struct {
	endpoint string
	cfg      WSClientConfig
	log      logrus.FieldLogger

	writeMu sync.Mutex

	mu      sync.Mutex
	conn    *websocket.Conn
	subs    map[int64]*signatureSub
	waiters map[uint64]waiter

	nextID atomic.Uint64
	closed atomic.Bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewWSClient dials endpoint and starts the read and keepalive loops.
func NewWSClient(ctx context.Context, endpoint string, config *WSClientConfig) (*WSClientImpl, error) {
	var cfg WSClientConfig
	if config != nil {
		cfg = *config
	}
	cfg = cfg.withDefaults()

	log := cfg.Logger
	if log == nil {
		quiet := logrus.New()
		quiet.SetLevel(logrus.PanicLevel)
		log = quiet
	}

	c := &WSClientImpl{
		endpoint: endpoint,
		cfg:      cfg,
		log:      log.WithField("component", "solana_ws"),
		subs:     make(map[int64]*signatureSub),
		waiters:  make(map[uint64]waiter),
		done:     make(chan struct{}),
	}
	if err := c.dial(ctx); err != nil {
		return nil, err
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.keepalive()
	return c, nil
}

func (c *WSClientImpl) dial(ctx context.Context) error {
	d := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := d.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	})

	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		_ = conn.Close()
		return errWSClosed
	}
	old := c.conn
	c.conn = conn
	c.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return nil
}

func (c *WSClientImpl) current() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// SubscribeSignature watches signature until it reaches commitment. The
// channel receives at most one notification and is then closed; it is
// also closed without a value when ctx ends or the client closes.
func (c *WSClientImpl) SubscribeSignature(ctx context.Context, signature string, commitment Commitment) (<-chan SignatureNotification, error) {
	sub := &signatureSub{
		signature:  signature,
		commitment: commitment,
		ch:         make(chan SignatureNotification, 1),
		done:       make(chan struct{}),
	}
	if _, err := c.subscribe(ctx, sub); err != nil {
		// A reply may have raced the timeout and registered sub.
		if id, ok := c.drop(sub); ok && id != 0 {
			c.unsubscribe(id)
		}
		return nil, err
	}

	go func() {
		select {
		case <-ctx.Done():
			if id, ok := c.drop(sub); ok {
				c.unsubscribe(id)
				close(sub.ch)
			}
		case <-sub.done:
		}
	}()
	return sub.ch, nil
}

// subscribe sends signatureSubscribe for sub. The read loop registers sub
// under the returned id before any notification for it is handled.
func (c *WSClientImpl) subscribe(ctx context.Context, sub *signatureSub) (int64, error) {
	if c.closed.Load() {
		return 0, errWSClosed
	}

	reqID := c.nextID.Add(1)
	ready := make(chan int64, 1)
	c.mu.Lock()
	c.waiters[reqID] = waiter{sub: sub, ready: ready}
	c.mu.Unlock()

	err := c.send(wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  "signatureSubscribe",
		Params:  []any{sub.signature, map[string]any{"commitment": sub.commitment}},
	})
	if err != nil {
		c.forget(reqID)
		return 0, fmt.Errorf("signatureSubscribe: %w", err)
	}

	timer := time.NewTimer(c.cfg.SubscribeTimeout)
	defer timer.Stop()

	select {
	case id, ok := <-ready:
		if !ok {
			return 0, errWSClosed
		}
		return id, nil
	case <-timer.C:
		c.forget(reqID)
		return 0, fmt.Errorf("signatureSubscribe: no reply within %s", c.cfg.SubscribeTimeout)
	case <-ctx.Done():
		c.forget(reqID)
		return 0, ctx.Err()
	case <-c.done:
		c.forget(reqID)
		return 0, errWSClosed
	}
}

func (c *WSClientImpl) forget(reqID uint64) {
	c.mu.Lock()
	delete(c.waiters, reqID)
	c.mu.Unlock()
}

// drop unregisters sub and reports its subscription id. It returns false
// when sub was already delivered or dropped.
func (c *WSClientImpl) drop(sub *signatureSub) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sub.gone {
		return 0, false
	}
	sub.gone = true
	if c.subs[sub.id] == sub {
		delete(c.subs, sub.id)
	}
	close(sub.done)
	return sub.id, true
}

func (c *WSClientImpl) unsubscribe(id int64) {
	err := c.send(wsRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  "signatureUnsubscribe",
		Params:  []any{id},
	})
	if err != nil {
		c.log.WithError(err).Debug("signatureUnsubscribe failed")
	}
}

func (c *WSClientImpl) send(v any) error {
	conn := c.current()
	if conn == nil {
		return errWSClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteJSON(v)
}

// Close ends every watch, closes the connection and waits for the
// background loops. Safe to call more than once.
func (c *WSClientImpl) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.done)

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	for id, sub := range c.subs {
		delete(c.subs, id)
		if !sub.gone {
			sub.gone = true
			close(sub.done)
			close(sub.ch)
		}
	}
	for id, w := range c.waiters {
		delete(c.waiters, id)
		close(w.ready)
	}
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
	c.wg.Wait()
	return nil
}

func (c *WSClientImpl) readLoop() {
	defer c.wg.Done()
	for {
		conn := c.current()
		if conn == nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err == nil {
			c.handleMessage(msg)
			continue
		}
		if c.closed.Load() {
			return
		}

		c.log.WithError(err).Warn("connection lost, redialing")
		if !c.redial() {
			return
		}
		c.wg.Add(1)
		go c.resubscribeAll()
	}
}

// redial replaces the connection, doubling the pause after each failed
// dial. It returns false once the client is closed.
func (c *WSClientImpl) redial() bool {
	delay := c.cfg.ReconnectDelay
	for {
		select {
		case <-c.done:
			return false
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := c.dial(ctx)
		cancel()
		switch {
		case err == nil:
			c.log.Info("reconnected")
			return true
		case errors.Is(err, errWSClosed):
			return false
		}
		c.log.WithError(err).WithField("retry_in", delay).Warn("redial failed")
		delay = min(delay*2, c.cfg.MaxReconnectDelay)
	}
}

// resubscribeAll re-registers the live watches on a fresh connection.
// Subscription ids do not survive a reconnect.
func (c *WSClientImpl) resubscribeAll() {
	defer c.wg.Done()

	c.mu.Lock()
	live := make([]*signatureSub, 0, len(c.subs))
	for _, sub := range c.subs {
		live = append(live, sub)
	}
	c.mu.Unlock()

	for _, sub := range live {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.SubscribeTimeout)
		_, err := c.subscribe(ctx, sub)
		cancel()
		if err != nil {
			c.log.WithError(err).WithField("signature", sub.signature).Warn("resubscribe failed")
		}
	}
}

func (c *WSClientImpl) keepalive() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if conn := c.current(); conn != nil {
				// Failures surface as read errors.
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout))
			}
		}
	}
}

func (c *WSClientImpl) handleMessage(msg []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		c.log.WithError(err).Debug("malformed message")
		return
	}

	switch {
	case env.Method == "signatureNotification":
		var params wsNotificationParams
		if err := json.Unmarshal(env.Params, &params); err != nil {
			c.log.WithError(err).Debug("malformed notification")
			return
		}
		c.deliver(&params)

	case env.Error != nil:
		// The waiting subscriber gives up on its own timeout.
		c.log.WithFields(logrus.Fields{
			"id":      env.ID,
			"code":    env.Error.Code,
			"message": env.Error.Message,
		}).Warn("rpc error")

	case env.ID != 0 && len(env.Result) > 0:
		var id int64
		if err := json.Unmarshal(env.Result, &id); err != nil {
			return // unsubscribe acks carry a boolean
		}
		c.confirm(env.ID, id)
	}
}

// confirm binds the subscription id to the waiting sub.
func (c *WSClientImpl) confirm(reqID uint64, id int64) {
	c.mu.Lock()
	w, ok := c.waiters[reqID]
	if ok {
		delete(c.waiters, reqID)
		sub := w.sub
		if !sub.gone {
			if c.subs[sub.id] == sub {
				delete(c.subs, sub.id)
			}
			sub.id = id
			c.subs[id] = sub
		}
	}
	c.mu.Unlock()

	if ok {
		w.ready <- id
	}
}

// deliver hands the single notification of a subscription to its owner.
// The node drops the subscription after sending it.
func (c *WSClientImpl) deliver(params *wsNotificationParams) {
	c.mu.Lock()
	sub, ok := c.subs[params.Subscription]
	if ok {
		delete(c.subs, params.Subscription)
		ok = !sub.gone
		sub.gone = true
		if ok {
			close(sub.done)
		}
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	n := SignatureNotification{Signature: sub.signature, Err: params.Result.Value.Err}
	if params.Result.Context != nil {
		n.Slot = params.Result.Context.Slot
	}
	sub.ch <- n
	close(sub.ch)
}

type wsRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type wsEnvelope struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
	Params json.RawMessage `json:"params"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type wsNotificationParams struct {
	Subscription int64 `json:"subscription"`
	Result       struct {
		Context *struct {
			Slot int64 `json:"slot"`
		} `json:"context"`
		Value struct {
			Err any `json:"err"`
		} `json:"value"`
	} `json:"result"`
}

var _ WSClient = (*WSClientImpl)(nil)
