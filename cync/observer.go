package cync

import (
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

// PacketDirection distinguishes inbound from outbound traffic in
// observer notifications.
type PacketDirection int

const (
	DirectionSent PacketDirection = iota
	DirectionReceived
)

func (d PacketDirection) String() string {
	if d == DirectionSent {
		return "sent"
	}
	return "received"
}

// PacketObserver is the explicit capability a passive observer (e.g.
// a capture/inspection tool) implements to watch a transport's
// traffic without participating in it. All three methods are called
// synchronously from the transport's own goroutines and must return
// promptly; a panicking or slow observer is isolated by
// observerSet but will still stall the caller for its duration.
type PacketObserver interface {
	OnPacketReceived(direction PacketDirection, raw []byte, connectionID string)
	OnConnectionEstablished(connectionID string)
	OnConnectionClosed(connectionID string, reason string)
}

// observerSet invokes a list of PacketObservers inside a recover
// guard so that an observer's panic or the application code it calls
// into can never break the transport pipeline. A panic is logged and,
// if onPanic is set, reported through it; NewTransport leaves onPanic
// unset, so observer panics are not counted.
type observerSet struct {
	logger    log.Logger
	observers []PacketObserver
	onPanic   func()
}

func newObserverSet(logger log.Logger, observers []PacketObserver) *observerSet {
	return &observerSet{logger: logger, observers: observers}
}

func (s *observerSet) notifyPacket(direction PacketDirection, raw []byte, connectionID string) {
	for _, o := range s.observers {
		s.guarded(func() { o.OnPacketReceived(direction, raw, connectionID) })
	}
}

func (s *observerSet) notifyConnected(connectionID string) {
	for _, o := range s.observers {
		s.guarded(func() { o.OnConnectionEstablished(connectionID) })
	}
}

func (s *observerSet) notifyClosed(connectionID, reason string) {
	for _, o := range s.observers {
		s.guarded(func() { o.OnConnectionClosed(connectionID, reason) })
	}
}

func (s *observerSet) guarded(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			level.Error(s.logger).Log("msg", "observer panicked, dropping", "panic", r)
			if s.onPanic != nil {
				s.onPanic()
			}
		}
	}()
	fn()
}
