package cync

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// TransportConfig configures a ReliableTransport. Timeouts must come
// from a TimeoutConfig built by NewTimeoutConfig or DefaultTimeoutConfig;
// production call sites should never assemble one field-by-field.
type TransportConfig struct {
	DeviceID      string
	Timeouts      TimeoutConfig
	DedupCacheCfg DedupCacheConfig
	Sink          Sink
	Logger        log.Logger
	Observers     []PacketObserver
	MaxRetries    uint32
	QueueCapacity int
	QueuePolicy   QueuePolicy
}

// SendOptions customizes a single SendReliable call.
type SendOptions struct {
	// MsgID overrides automatic sequential allocation when HasMsgID
	// is set; otherwise the next sequential id is allocated.
	MsgID      [2]byte
	HasMsgID   bool
	Timeout    time.Duration
	MaxRetries uint32
}

// SendResult reports the outcome of SendReliable.
type SendResult struct {
	Success       bool
	CorrelationID uuid.UUID
	Reason        string
}

// ReliableTransport owns a single connected TCP session to one
// device: it sends packets via the codec, receives via the framer,
// matches acknowledgments, retries, deduplicates and reconnects. It
// is the centerpiece of this package; see doc.go for usage.
type ReliableTransport struct {
	logger    log.Logger
	sink      Sink
	deviceID  string
	timeouts  TimeoutConfig
	observers *observerSet
	dedup     *DedupCache
	inbound   *BoundedQueue

	maxRetries uint32

	// stateMu guards the fields from state through fifoPending. Network
	// I/O is never performed while stateMu is held; see sendClass.
	stateMu        sync.Mutex
	state          ConnectionState
	addr           string
	endpoint       [5]byte
	authCode       []byte
	conn           net.Conn
	nextMsgID      uint16
	pendingByCorr  map[uuid.UUID]*pendingMessage
	pendingByMsgID map[[2]byte]uuid.UUID
	fifoPending    map[PacketType][]uuid.UUID

	// tasksCancel/tasks supervise the router and cleanup-sweep
	// goroutines as one unit: both are started together on connect
	// and joined together on shutdown or reconnect.
	tasksCancel context.CancelFunc
	tasks       *errgroup.Group
	tasksDone   chan struct{}

	connectionID string
}

// NewTransport constructs a ReliableTransport. A nil logger or sink
// disables logging/metrics respectively.
func NewTransport(cfg TransportConfig) *ReliableTransport {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 5
	}
	capacity := cfg.QueueCapacity
	if capacity == 0 {
		capacity = 256
	}
	sink := sinkOrNoop(cfg.Sink)
	dedup := NewDedupCache(cfg.DedupCacheCfg)
	inbound := NewBoundedQueue(cfg.DeviceID+":inbound", capacity, cfg.QueuePolicy)

	t := &ReliableTransport{
		logger:         log.With(logger, "device_id", cfg.DeviceID),
		sink:           sink,
		deviceID:       cfg.DeviceID,
		timeouts:       cfg.Timeouts,
		observers:      newObserverSet(logger, cfg.Observers),
		dedup:          dedup,
		inbound:        inbound,
		maxRetries:     maxRetries,
		state:          StateDisconnected,
		pendingByCorr:  make(map[uuid.UUID]*pendingMessage),
		pendingByMsgID: make(map[[2]byte]uuid.UUID),
		fifoPending:    make(map[PacketType][]uuid.UUID),
	}

	inbound.OnPolicySwitch(func(reason string) {
		sink.IncCounter(metricQueuePolicySwitch, map[string]string{"device_id": cfg.DeviceID, "queue_name": "inbound", "reason": reason})
	})
	dedup.OnEvict(func() {
		sink.IncCounter(metricDedupEvictions, map[string]string{"device_id": cfg.DeviceID})
	})
	return t
}

// withStateLock runs fn with stateMu held and instruments hold time
// per §4.3.3: a warning above 10ms, a critical log above 100ms. fn
// must never block on network I/O or channel operations that could
// stall indefinitely.
func (t *ReliableTransport) withStateLock(fn func()) {
	t.stateMu.Lock()
	start := time.Now()
	fn()
	t.stateMu.Unlock()
	held := time.Since(start)
	t.sink.ObserveHistogram(metricStateLockHold, map[string]string{"device_id": t.deviceID}, held.Seconds())
	if held > lockHoldCriticalThreshold {
		level.Error(t.logger).Log("msg", "state lock held dangerously long", "held", held)
	} else if held > lockHoldWarnThreshold {
		level.Warn(t.logger).Log("msg", "state lock held longer than expected", "held", held)
	}
}

func (t *ReliableTransport) setState(s ConnectionState) {
	t.state = s
	t.sink.SetGauge(metricConnectionState, map[string]string{"device_id": t.deviceID, "state": s.String()}, 1)
}

// Connect dials addr, performs the handshake, and on success
// starts the background packet router. It retries with exponential
// backoff up to maxRetries before giving up and leaving the transport
// Disconnected.
func (t *ReliableTransport) Connect(ctx context.Context, addr string, endpoint [5]byte, authCode []byte) error {
	if err := deviceRegistry.acquire(t.deviceID, t); err != nil {
		return err
	}

	t.withStateLock(func() {
		t.setState(StateConnecting)
		t.addr = addr
		t.endpoint = endpoint
		t.authCode = append([]byte(nil), authCode...)
	})

	var lastErr error
	for attempt := uint32(0); attempt <= t.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoffDelay(attempt)):
			case <-ctx.Done():
				deviceRegistry.release(t.deviceID, t)
				return ctx.Err()
			}
		}
		conn, err := t.dialAndHandshake(ctx, addr, endpoint, authCode)
		if err == nil {
			t.withStateLock(func() {
				t.conn = conn
				t.setState(StateConnected)
			})
			t.connectionID = fmt.Sprintf("%s-%d", t.deviceID, time.Now().UnixNano())
			t.observers.notifyConnected(t.connectionID)
			t.sink.IncCounter(metricHandshake, map[string]string{"device_id": t.deviceID, "outcome": "success"})
			t.startBackgroundTasks()
			return nil
		}
		lastErr = err
		t.sink.IncCounter(metricHandshake, map[string]string{"device_id": t.deviceID, "outcome": "failure"})
		level.Warn(t.logger).Log("msg", "connect attempt failed", "attempt", attempt, "err", err)
	}

	t.withStateLock(func() { t.setState(StateDisconnected) })
	deviceRegistry.release(t.deviceID, t)
	return &HandshakeError{Reason: lastErr.Error(), Attempts: int(t.maxRetries) + 1}
}

// dialAndHandshake performs the raw handshake using direct reads and
// writes, not SendReliable: SendReliable requires Connected, and using
// it here would be circular.
func (t *ReliableTransport) dialAndHandshake(ctx context.Context, addr string, endpoint [5]byte, authCode []byte) (net.Conn, error) {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	pkt, err := EncodeHandshake(endpoint, authCode)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(t.timeouts.Handshake)); err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := conn.Write(pkt); err != nil {
		conn.Close()
		return nil, err
	}
	t.observers.notifyPacket(DirectionSent, pkt, addr)

	framer := NewFramer(t.logger, t.sink)
	buf := make([]byte, MaxPacketSize)
	if err := conn.SetReadDeadline(time.Now().Add(t.timeouts.Handshake)); err != nil {
		conn.Close()
		return nil, err
	}
	for {
		n, err := conn.Read(buf)
		if err != nil {
			conn.Close()
			return nil, err
		}
		for _, raw := range framer.Feed(buf[:n]) {
			p, err := DecodePacket(raw)
			if err != nil {
				continue
			}
			if p.Type == PacketTypeHandshakeAck {
				t.observers.notifyPacket(DirectionReceived, raw, addr)
				return conn, nil
			}
		}
	}
}

// reconnect tears down the current connection and router, then
// reconnects using the stored endpoint/auth_code with fresh backoff.
func (t *ReliableTransport) reconnect(reason string) {
	var addr string
	var endpoint [5]byte
	var authCode []byte
	skip := false
	t.withStateLock(func() {
		if t.state == StateReconnecting {
			skip = true
			return
		}
		t.setState(StateReconnecting)
		addr = t.addr
		endpoint = t.endpoint
		authCode = t.authCode
	})
	if skip {
		return
	}

	t.stopBackgroundTasks()
	t.closeConn()
	t.sink.IncCounter(metricReconnection, map[string]string{"device_id": t.deviceID, "reason": reason})
	t.observers.notifyClosed(t.connectionID, reason)
	deviceRegistry.release(t.deviceID, t)

	ctx, cancel := context.WithTimeout(context.Background(), t.timeouts.Handshake*time.Duration(t.maxRetries+1)+30*time.Second)
	defer cancel()
	if err := t.Connect(ctx, addr, endpoint, authCode); err != nil {
		level.Error(t.logger).Log("msg", "reconnect failed", "reason", reason, "err", err)
	}
}

func (t *ReliableTransport) closeConn() {
	t.withStateLock(func() {
		if t.conn != nil {
			t.conn.Close()
			t.conn = nil
		}
	})
}

// Shutdown cancels the router and cleanup sweep with bounded timeouts,
// closes the connection and transitions to Disconnected.
func (t *ReliableTransport) Shutdown(ctx context.Context) error {
	t.stopBackgroundTasks()
	t.closeConn()
	t.withStateLock(func() { t.setState(StateDisconnected) })
	deviceRegistry.release(t.deviceID, t)
	t.observers.notifyClosed(t.connectionID, "shutdown")
	return nil
}

func (t *ReliableTransport) allocMsgID() [2]byte {
	id := t.nextMsgID
	t.nextMsgID++
	return [2]byte{byte(id >> 8), byte(id)}
}

// SendReliable writes payload as a 0x73 data packet and waits for its
// 0x7B acknowledgment, retrying with backoff up to opts.MaxRetries (or
// the transport default) times.
func (t *ReliableTransport) SendReliable(ctx context.Context, payload []byte, opts SendOptions) (SendResult, error) {
	t.stateMu.Lock()
	endpoint := t.endpoint
	t.stateMu.Unlock()
	return t.sendClass(ctx, PacketTypeData, endpoint, payload, opts)
}

func (t *ReliableTransport) sendClass(ctx context.Context, class PacketType, endpoint [5]byte, payload []byte, opts SendOptions) (SendResult, error) {
	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = t.maxRetries
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = t.timeouts.AckWait
	}

	for attempt := uint32(0); attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			t.sink.IncCounter(metricRetransmit, map[string]string{"device_id": t.deviceID, "class": class.String()})
		}
		correlationID := uuid.Must(uuid.NewV7())
		var msgID [2]byte
		var encoded []byte
		var encErr error
		var notConnected bool
		var pm *pendingMessage

		t.withStateLock(func() {
			if t.state != StateConnected {
				notConnected = true
				return
			}
			if opts.HasMsgID {
				msgID = opts.MsgID
			} else {
				msgID = t.allocMsgID()
			}
			pm = &pendingMessage{
				msgID:         msgID,
				correlationID: correlationID,
				sentAt:        time.Now(),
				ackSignal:     make(chan struct{}),
				retryCount:    attempt,
				class:         class,
			}
			t.pendingByCorr[correlationID] = pm
			if class == PacketTypeData {
				t.pendingByMsgID[msgID] = correlationID
			} else {
				t.fifoPending[class] = append(t.fifoPending[class], correlationID)
			}
			switch class {
			case PacketTypeData:
				encoded, encErr = EncodeDataPacket(endpoint, msgID, payload)
			case PacketTypeStatus:
				encoded, encErr = EncodeStatusBroadcast(endpoint, msgID, payload)
			case PacketTypeHandshake:
				encoded, encErr = EncodeHandshake(endpoint, payload)
			case PacketTypeHeartbeat:
				encoded = EncodeHeartbeat()
			default:
				encErr = fmt.Errorf("cync: unsupported send class %s", class)
			}
			if encErr != nil {
				t.removePending(correlationID)
			}
		})

		if notConnected {
			return SendResult{Success: false, Reason: "not_connected"}, nil
		}
		if encErr != nil {
			return SendResult{Success: false, Reason: encErr.Error()}, encErr
		}

		conn := t.currentConn()
		if conn == nil {
			t.withStateLock(func() { t.removePending(correlationID) })
			return SendResult{Success: false, Reason: "not_connected"}, nil
		}

		if err := conn.SetWriteDeadline(time.Now().Add(t.timeouts.SendIO)); err == nil {
			_, err = conn.Write(encoded)
			if err != nil {
				t.withStateLock(func() { t.removePending(correlationID) })
				level.Warn(t.logger).Log("msg", "send write failed, retrying", "err", err)
				continue
			}
		}
		t.observers.notifyPacket(DirectionSent, encoded, t.connectionID)
		t.sink.IncCounter(metricPacketSent, map[string]string{"device_id": t.deviceID, "outcome": "attempted"})

		// Wait on the channel captured inside the withStateLock closure
		// above, not a fresh map lookup: the router can resolve and
		// delete the pending entry the instant the ACK arrives, and a
		// lookup after that race returns nil. A closed channel held by
		// pointer still selects immediately, so this is race-free.
		select {
		case <-pm.ackSignal:
			t.sink.IncCounter(metricPacketSent, map[string]string{"device_id": t.deviceID, "outcome": "acked"})
			t.sink.ObserveHistogram(metricPacketLatency, map[string]string{"device_id": t.deviceID, "class": class.String()}, time.Since(pm.sentAt).Seconds())
			return SendResult{Success: true, CorrelationID: correlationID}, nil
		case <-time.After(timeout):
			t.withStateLock(func() { t.removePending(correlationID) })
			t.sink.IncCounter(metricAckTimeout, map[string]string{"device_id": t.deviceID})
			t.sink.IncCounter(metricRetryAttempts, map[string]string{"device_id": t.deviceID, "attempt_number": fmt.Sprint(attempt)})
			if attempt < maxRetries {
				select {
				case <-time.After(backoffDelay(attempt)):
				case <-ctx.Done():
					return SendResult{Success: false, Reason: "cancelled"}, ctx.Err()
				}
			}
		case <-ctx.Done():
			t.withStateLock(func() { t.removePending(correlationID) })
			return SendResult{Success: false, Reason: "cancelled"}, ctx.Err()
		}
	}

	t.sink.IncCounter(metricMessageAbandoned, map[string]string{"device_id": t.deviceID, "reason": "max_retries"})
	return SendResult{Success: false, Reason: "max_retries"}, nil
}

// removePending deletes correlationID's pending entry everywhere it
// might be indexed. Safe to call when absent. Caller must hold
// stateMu.
func (t *ReliableTransport) removePending(correlationID uuid.UUID) {
	pm, ok := t.pendingByCorr[correlationID]
	if !ok {
		return
	}
	delete(t.pendingByCorr, correlationID)
	if pm.class == PacketTypeData {
		if cur, ok := t.pendingByMsgID[pm.msgID]; ok && cur == correlationID {
			delete(t.pendingByMsgID, pm.msgID)
		}
		return
	}
	q := t.fifoPending[pm.class]
	for i, id := range q {
		if id == correlationID {
			t.fifoPending[pm.class] = append(q[:i], q[i+1:]...)
			break
		}
	}
}

func (t *ReliableTransport) currentConn() net.Conn {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	return t.conn
}

// RecvReliable blocks until the next packet arrives from the router's
// inbound queue. A packet the router recognized as a duplicate of an
// already-delivered one is never returned as a TrackedPacket: it
// surfaces instead as a DuplicatePacketError carrying the dedup_key
// and the correlation_id of the original delivery, so a caller can
// always tell a duplicate from a novel packet.
func (t *ReliableTransport) RecvReliable(ctx context.Context, timeout time.Duration) (*TrackedPacket, error) {
	item, err := t.inbound.Get(timeout)
	if err != nil {
		return nil, err
	}
	if item.Duplicate {
		return nil, &DuplicatePacketError{DedupKey: item.DedupKey, CorrelationID: item.CorrelationID}
	}
	return item, nil
}
