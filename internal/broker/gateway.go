package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bracket-trader/internal/config"
	"bracket-trader/internal/errors"
	"bracket-trader/internal/models"
	"bracket-trader/pkg/utils"
)

// Notice is what gateway subscribers receive: either a connection state
// transition or a venue event. Exactly one field is set.
type Notice struct {
	Conn  *models.ConnStateChange
	Venue *VenueEvent
}

// pendingAck tracks an in-flight request awaiting venue acknowledgment.
type pendingAck struct {
	req     *Request
	retries int
	timer   *time.Timer
}

// Gateway owns the venue connection. It serializes all outbound requests
// through a single writer so request ids reach the wire in strictly
// increasing order, delivers inbound events to subscribers preserving
// per-order ordering, and reconnects automatically with exponential backoff.
type Gateway struct {
	cfg    config.VenueConfig
	dialer Dialer
	log    zerolog.Logger

	mu           sync.Mutex
	state        models.ConnState
	conn         Conn
	attempt      int
	reqSeq       int64
	sessCancel   context.CancelFunc
	backoffTimer *time.Timer
	stableTimer  *time.Timer

	outbound chan *Request

	ackMu   sync.Mutex
	pending map[int64]*pendingAck

	waitMu  sync.Mutex
	waiters map[int64]chan *VenueEvent

	subMu sync.RWMutex
	subs  map[string]chan Notice
}

// NewGateway creates a Gateway in the Disconnected state.
func NewGateway(cfg config.VenueConfig, dialer Dialer, log zerolog.Logger) *Gateway {
	return &Gateway{
		cfg:      cfg,
		dialer:   dialer,
		log:      log.With().Str("component", "gateway").Logger(),
		state:    models.ConnDisconnected,
		outbound: make(chan *Request, 256),
		pending:  make(map[int64]*pendingAck),
		waiters:  make(map[int64]chan *VenueEvent),
		subs:     make(map[string]chan Notice),
	}
}

// State returns the current connection state.
func (g *Gateway) State() models.ConnState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Subscribe registers a buffered notice channel under the given id. Slow
// subscribers have notices dropped rather than blocking delivery.
func (g *Gateway) Subscribe(id string, buffer int) <-chan Notice {
	ch := make(chan Notice, buffer)
	g.subMu.Lock()
	g.subs[id] = ch
	g.subMu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber.
func (g *Gateway) Unsubscribe(id string) {
	g.subMu.Lock()
	if ch, ok := g.subs[id]; ok {
		delete(g.subs, id)
		close(ch)
	}
	g.subMu.Unlock()
}

func (g *Gateway) publish(n Notice) {
	g.subMu.RLock()
	defer g.subMu.RUnlock()
	for id, ch := range g.subs {
		select {
		case ch <- n:
		default:
			g.log.Warn().Str("subscriber", id).Msg("dropping notice for slow subscriber")
		}
	}
}

// setState transitions the connection state and publishes the change.
// Callers must hold g.mu.
func (g *Gateway) setState(to models.ConnState) {
	from := g.state
	if from == to {
		return
	}
	g.state = to
	g.log.Info().Str("from", string(from)).Str("to", string(to)).Msg("connection state changed")
	g.publish(Notice{Conn: &models.ConnStateChange{From: from, To: to}})
}

// Connect dials the venue, performs the auth handshake, and starts the
// session loops. A fatal handshake failure (auth rejection) moves the
// gateway to Failed and is not retried.
func (g *Gateway) Connect(ctx context.Context) error {
	g.mu.Lock()
	switch g.state {
	case models.ConnConnected, models.ConnConnecting:
		g.mu.Unlock()
		return nil
	case models.ConnFailed:
		g.mu.Unlock()
		return errors.NewConnError(true, "gateway failed; explicit disconnect required before reconnecting", nil)
	}
	g.setState(models.ConnConnecting)
	g.mu.Unlock()

	return g.establish(ctx)
}

// establish dials and handshakes; the caller must have set Connecting.
func (g *Gateway) establish(ctx context.Context) error {
	conn, err := g.dialer.Dial(ctx, g.cfg.URL)
	if err != nil {
		return g.connectFailed(errors.NewConnError(false, "dial failed", err))
	}

	// Handshake: the auth request is the first id on the wire; the venue
	// answers with a handshake ack before any other traffic.
	authReq := &Request{Kind: ReqAuth, Account: g.cfg.Account}
	g.mu.Lock()
	g.reqSeq++
	authReq.ID = g.reqSeq
	g.mu.Unlock()
	if err := conn.Send(authReq); err != nil {
		conn.Close()
		return g.connectFailed(errors.NewConnError(false, "sending auth", err))
	}
	ev, err := conn.Receive()
	if err != nil {
		conn.Close()
		return g.connectFailed(errors.NewConnError(false, "awaiting handshake ack", err))
	}
	switch ev.Kind {
	case EvHandshakeAck:
	case EvAuthReject:
		conn.Close()
		g.mu.Lock()
		g.setState(models.ConnFailed)
		g.mu.Unlock()
		return errors.NewConnError(true, ev.Message, errors.ErrAuthRejected)
	default:
		conn.Close()
		return g.connectFailed(errors.NewConnError(false, fmt.Sprintf("unexpected handshake event %s", ev.Kind), nil))
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	g.mu.Lock()
	g.conn = conn
	g.sessCancel = cancel
	g.setState(models.ConnConnected)
	g.armStableTimerLocked()
	g.mu.Unlock()

	go g.writeLoop(sessCtx, conn)
	go g.readLoop(sessCtx, conn)
	go g.heartbeatLoop(sessCtx)
	return nil
}

// connectFailed handles a transient connect failure: schedule a retry unless
// attempts are exhausted or the gateway was explicitly disconnected.
func (g *Gateway) connectFailed(err error) error {
	g.log.Warn().Err(err).Msg("connect attempt failed")
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == models.ConnDisconnected || g.state == models.ConnFailed {
		return err
	}
	g.scheduleReconnectLocked()
	return err
}

// armStableTimerLocked resets the backoff attempt counter after the
// connection has stayed up for the configured stable period.
func (g *Gateway) armStableTimerLocked() {
	if g.stableTimer != nil {
		g.stableTimer.Stop()
	}
	g.stableTimer = time.AfterFunc(g.cfg.StablePeriod, func() {
		g.mu.Lock()
		if g.state == models.ConnConnected && g.attempt > 0 {
			g.log.Debug().Int("attempts", g.attempt).Msg("connection stable, resetting backoff counter")
			g.attempt = 0
		}
		g.mu.Unlock()
	})
}

// connectionLost transitions Connected -> Reconnecting after a socket error
// or heartbeat failure and schedules the next attempt.
func (g *Gateway) connectionLost(cause error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != models.ConnConnected {
		return
	}
	g.log.Warn().Err(cause).Msg("connection lost")
	g.teardownSessionLocked()
	g.scheduleReconnectLocked()
}

// scheduleReconnectLocked enters Reconnecting and arms the backoff timer, or
// Failed when the attempt cap is exhausted. Callers must hold g.mu.
func (g *Gateway) scheduleReconnectLocked() {
	g.attempt++
	if g.cfg.MaxAttempts > 0 && g.attempt > g.cfg.MaxAttempts {
		g.log.Error().Int("attempts", g.attempt-1).Msg("reconnect attempts exhausted")
		g.setState(models.ConnFailed)
		return
	}
	g.setState(models.ConnReconnecting)

	delay := utils.JitteredBackoff(g.attempt-1, g.cfg.BackoffBase, g.cfg.BackoffCap)
	g.log.Info().Int("attempt", g.attempt).Dur("delay", delay).Msg("scheduling reconnect")
	if g.backoffTimer != nil {
		g.backoffTimer.Stop()
	}
	g.backoffTimer = time.AfterFunc(delay, func() {
		g.mu.Lock()
		if g.state != models.ConnReconnecting {
			g.mu.Unlock()
			return
		}
		g.setState(models.ConnConnecting)
		g.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), g.cfg.HeartbeatTimeout)
		defer cancel()
		_ = g.establish(ctx)
	})
}

// Disconnect moves to Disconnected from any state, cancelling any pending
// backoff timer and aborting in-flight work immediately.
func (g *Gateway) Disconnect() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.backoffTimer != nil {
		g.backoffTimer.Stop()
		g.backoffTimer = nil
	}
	g.teardownSessionLocked()
	g.attempt = 0
	g.setState(models.ConnDisconnected)
}

// teardownSessionLocked stops session goroutines and closes the socket.
// Callers must hold g.mu.
func (g *Gateway) teardownSessionLocked() {
	if g.sessCancel != nil {
		g.sessCancel()
		g.sessCancel = nil
	}
	if g.conn != nil {
		g.conn.Close()
		g.conn = nil
	}
	if g.stableTimer != nil {
		g.stableTimer.Stop()
		g.stableTimer = nil
	}
	g.cancelAllAcks()
	g.failAllWaiters()
}

// failAllWaiters releases every blocked snapshot caller when the session
// dies. The response is never coming; a closed channel tells request so.
func (g *Gateway) failAllWaiters() {
	g.waitMu.Lock()
	for id, ch := range g.waiters {
		close(ch)
		delete(g.waiters, id)
	}
	g.waitMu.Unlock()
}

// enqueue assigns the next request id and queues the request for the writer.
// Assignment and queueing happen under one lock so ids reach the wire in
// order without gaps.
func (g *Gateway) enqueue(req *Request) (int64, error) {
	g.mu.Lock()
	if g.state != models.ConnConnected {
		g.mu.Unlock()
		return 0, errors.ErrNotConnected
	}
	g.reqSeq++
	req.ID = g.reqSeq
	select {
	case g.outbound <- req:
	default:
		g.mu.Unlock()
		return 0, errors.NewConnError(false, "outbound queue full", nil)
	}
	g.mu.Unlock()
	return req.ID, nil
}

func (g *Gateway) writeLoop(ctx context.Context, conn Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-g.outbound:
			if needsAck(req.Kind) {
				g.trackAck(req)
			}
			if err := conn.Send(req); err != nil {
				g.connectionLost(err)
				return
			}
		}
	}
}

func needsAck(kind RequestKind) bool {
	switch kind {
	case ReqPlaceOrder, ReqCancel, ReqHeartbeat:
		return true
	}
	return false
}

// trackAck arms the per-request acknowledgment timeout. An unacknowledged
// request is retransmitted up to the configured retry count, then marked
// rejected and surfaced as an error event.
func (g *Gateway) trackAck(req *Request) {
	g.ackMu.Lock()
	defer g.ackMu.Unlock()
	p, ok := g.pending[req.ID]
	if !ok {
		p = &pendingAck{req: req}
		g.pending[req.ID] = p
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(g.cfg.HeartbeatTimeout, func() { g.ackTimedOut(req.ID) })
}

func (g *Gateway) ackTimedOut(reqID int64) {
	g.ackMu.Lock()
	p, ok := g.pending[reqID]
	if !ok {
		g.ackMu.Unlock()
		return
	}
	if p.retries < g.cfg.AckRetries {
		p.retries++
		retries := p.retries
		g.ackMu.Unlock()
		g.log.Warn().Int64("req_id", reqID).Int("retry", retries).Msg("ack timeout, retransmitting")
		g.mu.Lock()
		sent := false
		if g.state == models.ConnConnected {
			select {
			case g.outbound <- p.req:
				sent = true
			default:
			}
		}
		g.mu.Unlock()
		if !sent {
			// The write loop re-arms the timer when it sends; a dropped
			// retransmit must keep the timeout clock running itself so the
			// request still ends in a rejection rather than limbo.
			g.ackMu.Lock()
			if cur, ok := g.pending[reqID]; ok {
				cur.timer = time.AfterFunc(g.cfg.HeartbeatTimeout, func() { g.ackTimedOut(reqID) })
			}
			g.ackMu.Unlock()
		}
		return
	}
	delete(g.pending, reqID)
	g.ackMu.Unlock()

	g.log.Error().Int64("req_id", reqID).Msg("request unacknowledged after retries")
	if p.req.Kind == ReqHeartbeat {
		// A dead heartbeat means a dead socket.
		g.connectionLost(errors.ErrAckTimeout)
		return
	}
	g.publish(Notice{Venue: &VenueEvent{
		Kind:    EvRejected,
		OrderID: reqID,
		Message: "request acknowledgment timed out",
	}})
}

func (g *Gateway) resolveAck(reqID int64) {
	g.ackMu.Lock()
	if p, ok := g.pending[reqID]; ok {
		if p.timer != nil {
			p.timer.Stop()
		}
		delete(g.pending, reqID)
	}
	g.ackMu.Unlock()
}

func (g *Gateway) cancelAllAcks() {
	g.ackMu.Lock()
	for id, p := range g.pending {
		if p.timer != nil {
			p.timer.Stop()
		}
		delete(g.pending, id)
	}
	g.ackMu.Unlock()
}

func (g *Gateway) readLoop(ctx context.Context, conn Conn) {
	for {
		ev, err := conn.Receive()
		if err != nil {
			select {
			case <-ctx.Done():
			default:
				g.connectionLost(err)
			}
			return
		}
		g.dispatch(ev)
	}
}

// dispatch routes one inbound event: acks clear pending timers, correlated
// snapshot responses wake their waiter, fatal errors fail the gateway, and
// everything order-related flows to subscribers in arrival order.
func (g *Gateway) dispatch(ev *VenueEvent) {
	switch ev.Kind {
	case EvAck:
		g.resolveAck(ev.ReqID)
	case EvOpenOrders, EvPositions, EvAccount:
		if g.wakeWaiter(ev) {
			return
		}
	case EvError:
		if ev.Fatal {
			g.log.Error().Str("message", ev.Message).Int("code", ev.Code).Msg("fatal venue error")
			g.mu.Lock()
			g.teardownSessionLocked()
			g.setState(models.ConnFailed)
			g.mu.Unlock()
		}
	}
	g.publish(Notice{Venue: ev})
}

func (g *Gateway) wakeWaiter(ev *VenueEvent) bool {
	g.waitMu.Lock()
	ch, ok := g.waiters[ev.ReqID]
	if ok {
		delete(g.waiters, ev.ReqID)
	}
	g.waitMu.Unlock()
	if ok {
		ch <- ev
	}
	return ok
}

func (g *Gateway) heartbeatLoop(ctx context.Context) {
	interval := g.cfg.HeartbeatTimeout / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := g.enqueue(&Request{Kind: ReqHeartbeat}); err != nil {
				return
			}
		}
	}
}

// request performs a correlated request/response round trip for snapshot
// queries, honoring the context deadline. Callers without a deadline get
// the heartbeat timeout so a dead session can never park them forever.
func (g *Gateway) request(ctx context.Context, req *Request, want EventKind) (*VenueEvent, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
		defer cancel()
	}

	ch := make(chan *VenueEvent, 1)

	g.mu.Lock()
	if g.state != models.ConnConnected {
		g.mu.Unlock()
		return nil, errors.ErrNotConnected
	}
	g.reqSeq++
	req.ID = g.reqSeq
	g.waitMu.Lock()
	g.waiters[req.ID] = ch
	g.waitMu.Unlock()
	select {
	case g.outbound <- req:
	default:
		g.waitMu.Lock()
		delete(g.waiters, req.ID)
		g.waitMu.Unlock()
		g.mu.Unlock()
		return nil, errors.NewConnError(false, "outbound queue full", nil)
	}
	g.mu.Unlock()

	select {
	case <-ctx.Done():
		g.waitMu.Lock()
		delete(g.waiters, req.ID)
		g.waitMu.Unlock()
		return nil, ctx.Err()
	case ev, ok := <-ch:
		if !ok {
			return nil, errors.NewConnError(false, "session lost awaiting response", errors.ErrNotConnected)
		}
		if ev.Kind != want {
			return nil, errors.NewConnError(false, fmt.Sprintf("expected %s response, got %s", want, ev.Kind), nil)
		}
		return ev, nil
	}
}

// PlaceOrder submits one leg of a bracket. The returned id is the broker
// order id the venue will reference in subsequent events.
func (g *Gateway) PlaceOrder(req *Request) (int64, error) {
	req.Kind = ReqPlaceOrder
	req.Account = g.cfg.Account
	return g.enqueue(req)
}

// CancelOrder requests cancellation of a live order.
func (g *Gateway) CancelOrder(orderID int64) error {
	_, err := g.enqueue(&Request{Kind: ReqCancel, OrderID: orderID, Account: g.cfg.Account})
	return err
}

// OpenOrders fetches the venue's open-order snapshot.
func (g *Gateway) OpenOrders(ctx context.Context) ([]OpenOrder, error) {
	ev, err := g.request(ctx, &Request{Kind: ReqOpenOrders, Account: g.cfg.Account}, EvOpenOrders)
	if err != nil {
		return nil, err
	}
	return ev.Orders, nil
}

// Positions fetches the venue's open positions.
func (g *Gateway) Positions(ctx context.Context) ([]models.Position, error) {
	ev, err := g.request(ctx, &Request{Kind: ReqPositions, Account: g.cfg.Account}, EvPositions)
	if err != nil {
		return nil, err
	}
	return ev.Positions, nil
}

// NetLiq fetches the account's net liquidation value.
func (g *Gateway) NetLiq(ctx context.Context) (float64, error) {
	ev, err := g.request(ctx, &Request{Kind: ReqAccount, Account: g.cfg.Account}, EvAccount)
	if err != nil {
		return 0, err
	}
	return ev.NetLiq, nil
}
