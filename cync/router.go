package cync

import (
	"context"
	"time"

	"github.com/go-kit/kit/log/level"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// startBackgroundTasks spawns the router and cleanup-sweep goroutines
// as one supervised unit: either one returning ends the group, and
// stopBackgroundTasks joins both together on shutdown or reconnect.
func (t *ReliableTransport) startBackgroundTasks() {
	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	t.tasksCancel = cancel
	t.tasks = g
	t.tasksDone = make(chan struct{})

	g.Go(func() error { defer cancel(); t.runRouter(gctx); return nil })
	g.Go(func() error { defer cancel(); t.runCleanupSweep(gctx); return nil })

	go func() {
		g.Wait()
		close(t.tasksDone)
	}()
}

func (t *ReliableTransport) stopBackgroundTasks() {
	if t.tasksCancel == nil {
		return
	}
	t.tasksCancel()
	select {
	case <-t.tasksDone:
	case <-time.After(5 * time.Second):
		level.Warn(t.logger).Log("msg", "router/cleanup sweep did not exit within join timeout")
	}
	t.tasksCancel = nil
}

func (t *ReliableTransport) runRouter(ctx context.Context) {
	conn := t.currentConn()
	if conn == nil {
		return
	}
	framer := NewFramer(t.logger, t.sink)
	buf := make([]byte, MaxPacketSize)

	heartbeatTicker := time.NewTicker(heartbeatInterval)
	defer heartbeatTicker.Stop()
	awaitingHeartbeatAck := false
	var heartbeatSentAt time.Time

	readResults := make(chan readResult, 1)
	go t.readLoop(conn, buf, readResults)

	for {
		select {
		case <-ctx.Done():
			level.Debug(t.logger).Log("msg", "router cancelled")
			return

		case <-heartbeatTicker.C:
			if awaitingHeartbeatAck && time.Since(heartbeatSentAt) > t.timeouts.HeartbeatAck {
				t.sink.IncCounter(metricHeartbeat, map[string]string{"device_id": t.deviceID, "outcome": "timeout"})
				go t.reconnect("heartbeat_timeout")
				return
			}
			pkt := EncodeHeartbeat()
			if _, err := conn.Write(pkt); err == nil {
				awaitingHeartbeatAck = true
				heartbeatSentAt = time.Now()
				t.observers.notifyPacket(DirectionSent, pkt, t.connectionID)
			}

		case res := <-readResults:
			if res.err != nil {
				level.Warn(t.logger).Log("msg", "router read failed", "err", res.err)
				go t.reconnect("read_failed")
				return
			}
			for _, raw := range framer.Feed(res.data) {
				t.observers.notifyPacket(DirectionReceived, raw, t.connectionID)
				p, err := DecodePacket(raw)
				if err != nil {
					t.sink.IncCounter(metricDecodeErrors, map[string]string{"reason": decodeReason(err)})
					continue
				}
				t.sink.IncCounter(metricPacketRecv, map[string]string{"device_id": t.deviceID, "outcome": "decoded"})

				switch p.Type {
				case PacketTypeHeartbeatAck:
					awaitingHeartbeatAck = false
					t.sink.IncCounter(metricHeartbeat, map[string]string{"device_id": t.deviceID, "outcome": "acked"})

				case PacketTypeDataAck:
					t.resolveDataAck(p.MsgID)

				case PacketTypeHandshakeAck:
					t.resolveFifoAck(PacketTypeHandshake)
				case PacketTypeInfoAck:
					t.resolveFifoAck(PacketTypeDeviceInfo)
				case PacketTypeStatusAck:
					t.resolveFifoAck(PacketTypeStatus)

				default:
					t.deliverInbound(p)
				}
			}
			go t.readLoop(conn, buf, readResults)
		}
	}
}

type readResult struct {
	data []byte
	err  error
}

func (t *ReliableTransport) readLoop(conn interface{ Read([]byte) (int, error) }, buf []byte, out chan<- readResult) {
	n, err := conn.Read(buf)
	if err != nil {
		out <- readResult{err: err}
		return
	}
	data := make([]byte, n)
	copy(data, buf[:n])
	out <- readResult{data: data}
}

func decodeReason(err error) string {
	if de, ok := err.(*PacketDecodeError); ok {
		return de.Reason
	}
	return "unknown"
}

// resolveDataAck matches a 0x7B ack by msg_id against the reverse map,
// since parallel outstanding data sends are permitted and FIFO order
// cannot be assumed for this class.
func (t *ReliableTransport) resolveDataAck(msgID [2]byte) {
	var pm *pendingMessage
	t.withStateLock(func() {
		corrID, ok := t.pendingByMsgID[msgID]
		if !ok {
			return
		}
		pm = t.pendingByCorr[corrID]
		t.removePending(corrID)
	})
	if pm == nil {
		t.sink.IncCounter(metricAckReceived, map[string]string{"device_id": t.deviceID, "ack_type": "data", "outcome": "stale"})
		return
	}
	t.sink.IncCounter(metricAckReceived, map[string]string{"device_id": t.deviceID, "ack_type": "data", "outcome": "matched"})
	close(pm.ackSignal)
}

// resolveFifoAck matches an ack that doesn't reliably carry msg_id
// against the oldest outstanding pending message of the given request
// class. sendClass does not serialize sends of these classes, so the
// match is unambiguous only while at most one send per class is
// outstanding.
func (t *ReliableTransport) resolveFifoAck(class PacketType) {
	var pm *pendingMessage
	t.withStateLock(func() {
		q := t.fifoPending[class]
		if len(q) == 0 {
			return
		}
		corrID := q[0]
		pm = t.pendingByCorr[corrID]
		t.removePending(corrID)
	})
	if pm == nil {
		t.sink.IncCounter(metricAckReceived, map[string]string{"device_id": t.deviceID, "ack_type": class.String(), "outcome": "stale"})
		return
	}
	t.sink.IncCounter(metricAckReceived, map[string]string{"device_id": t.deviceID, "ack_type": class.String(), "outcome": "matched"})
	close(pm.ackSignal)
}

// deliverInbound hands p to the inbound queue for recv_reliable. A
// packet whose dedup_key is already known is still acknowledged (the
// sender must see its ack regardless) but is enqueued as a duplicate
// sentinel rather than delivered: recv_reliable turns that sentinel
// into a DuplicatePacketError carrying the original reception's
// correlation_id, per the one-TrackedPacket-one-DuplicatePacketError
// round-trip law.
func (t *ReliableTransport) deliverInbound(p *Packet) {
	key := dedupKeyFor(p)

	if t.dedup.Contains(key) {
		t.sendAutoAck(p)
		t.sink.IncCounter(metricIdempotentDrop, map[string]string{"device_id": t.deviceID})
		t.sink.IncCounter(metricDedupCacheHits, map[string]string{"device_id": t.deviceID})
		level.Debug(t.logger).Log("msg", "dropped duplicate packet", "dedup_key", key)

		origID, ok := t.dedup.Lookup(key)
		if !ok {
			origID = uuid.Must(uuid.NewV7())
		}
		dup := &TrackedPacket{Packet: *p, CorrelationID: origID, RecvTime: time.Now(), DedupKey: key, Duplicate: true}
		t.enqueueInbound(dup)
		return
	}

	corrID := uuid.Must(uuid.NewV7())
	t.dedup.Add(key, corrID)
	t.sink.SetGauge(metricDedupCacheSize, map[string]string{"device_id": t.deviceID}, float64(t.dedup.Len()))
	t.sendAutoAck(p)

	tp := &TrackedPacket{Packet: *p, CorrelationID: corrID, RecvTime: time.Now(), DedupKey: key}
	t.enqueueInbound(tp)
}

func (t *ReliableTransport) enqueueInbound(tp *TrackedPacket) {
	res, err := t.inbound.Put(context.Background(), tp, t.timeouts.AckWait)
	if err != nil || !res.Success {
		t.sink.IncCounter(metricQueueFull, map[string]string{"device_id": t.deviceID, "queue_type": "inbound"})
		return
	}
	if res.Dropped {
		t.sink.IncCounter(metricQueueDropped, map[string]string{"device_id": t.deviceID, "queue_type": "inbound"})
	}
	t.sink.SetGauge(metricRecvQueueSize, map[string]string{"device_id": t.deviceID}, float64(t.inbound.QSize()))
}

func (t *ReliableTransport) sendAutoAck(p *Packet) {
	conn := t.currentConn()
	if conn == nil {
		return
	}
	var ack []byte
	switch p.Type {
	case PacketTypeData:
		ack = EncodeDataAck(p.MsgID)
	case PacketTypeStatus:
		ack = EncodeStatusAck()
	default:
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(t.timeouts.SendIO))
	if _, err := conn.Write(ack); err == nil {
		t.observers.notifyPacket(DirectionSent, ack, t.connectionID)
	}
}

// runCleanupSweep is the safety-net task that reaps pending entries no
// notifier was ever set for. Individual sends already fail fast via
// their own ACK wait; this only bounds unforeseen leaks. It runs
// alongside runRouter under the same supervising errgroup.
func (t *ReliableTransport) runCleanupSweep(ctx context.Context) {
	ticker := time.NewTicker(t.timeouts.CleanupSweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.sweepExpiredPending()
			t.dedup.CleanupExpired()
		}
	}
}

func (t *ReliableTransport) sweepExpiredPending() {
	cutoff := t.timeouts.CleanupSweep
	t.withStateLock(func() {
		for corrID, pm := range t.pendingByCorr {
			if time.Since(pm.sentAt) > cutoff {
				t.removePending(corrID)
			}
		}
	})
}
