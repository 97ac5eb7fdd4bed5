package simulator

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/katalix/cync-core/cync"
)

// Config configures a Simulator instance.
type Config struct {
	Logger   log.Logger
	Endpoint [5]byte
	Chaos    ChaosConfig
	// Seed drives the chaos engine's PRNG; tests that want
	// reproducible drop/duplicate/corrupt decisions (beyond a fixed
	// DropPattern) should set this explicitly.
	Seed int64
}

// Simulator is a minimal server that accepts TCP connections, speaks
// the production Codec/Framer, and responds to handshakes, data
// commands, status broadcasts and heartbeats the way a real device
// does, with independently configurable chaos injection.
type Simulator struct {
	logger   log.Logger
	endpoint [5]byte
	chaosCfg ChaosConfig
	seed     int64

	state *DeviceState

	mu       sync.Mutex
	listener net.Listener
	lastConn net.Conn
}

// New returns a Simulator ready to Serve.
func New(cfg Config) *Simulator {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Simulator{
		logger:   logger,
		endpoint: cfg.Endpoint,
		chaosCfg: cfg.Chaos,
		seed:     cfg.Seed,
		state:    &DeviceState{},
	}
}

// State returns the simulator's device state for test assertions.
func (s *Simulator) State() *DeviceState { return s.state }

// Serve listens on addr and accepts connections until ctx is
// cancelled or Close is called.
func (s *Simulator) Serve(ctx context.Context, addr string) error {
	if err := s.listen(addr); err != nil {
		return err
	}
	return s.acceptLoop(ctx)
}

// Start listens on addr (which may be "host:0" for an OS-assigned
// port) and runs the accept loop in a background goroutine, returning
// once the listener is bound so Addr() is immediately valid. Intended
// for tests that need the chosen address before they can connect.
func (s *Simulator) Start(ctx context.Context, addr string) error {
	if err := s.listen(addr); err != nil {
		return err
	}
	go s.acceptLoop(ctx)
	return nil
}

func (s *Simulator) listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return nil
}

func (s *Simulator) acceptLoop(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		s.mu.Lock()
		s.lastConn = conn
		s.mu.Unlock()
		go s.handleConn(ctx, conn)
	}
}

// PushStatus sends an unsolicited 0x83 status broadcast to the most
// recently accepted connection, bypassing chaos injection entirely,
// so tests can drive the recv_reliable/dedup path deterministically.
// Set duplicate to write the identical wire bytes a second time,
// exercising the dedup cache's duplicate-suppression path.
func (s *Simulator) PushStatus(msgID [2]byte, payload []byte, duplicate bool) error {
	s.mu.Lock()
	conn := s.lastConn
	s.mu.Unlock()
	if conn == nil {
		return errors.New("simulator: no connection to push to")
	}

	wire, err := cync.EncodeStatusBroadcast(s.endpoint, msgID, payload)
	if err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return err
	}
	if _, err := conn.Write(wire); err != nil {
		return err
	}
	if duplicate {
		if err := conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
			return err
		}
		if _, err := conn.Write(wire); err != nil {
			return err
		}
	}
	return nil
}

// Addr returns the listener's address. Valid only after Serve has
// started listening.
func (s *Simulator) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops accepting new connections.
func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Simulator) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	chaos := newChaosEngine(s.chaosCfg, s.seed)
	framer := cync.NewFramer(s.logger, nil)
	buf := make([]byte, cync.MaxPacketSize)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Minute))
		n, err := conn.Read(buf)
		if err != nil {
			level.Debug(s.logger).Log("msg", "simulator connection closed", "err", err)
			return
		}
		for _, raw := range framer.Feed(buf[:n]) {
			p, err := cync.DecodePacket(raw)
			if err != nil {
				level.Warn(s.logger).Log("msg", "simulator decode error", "err", err)
				continue
			}
			s.respond(conn, chaos, p)
		}
	}
}

func (s *Simulator) respond(conn net.Conn, chaos *chaosEngine, p *cync.Packet) {
	var resp []byte
	switch p.Type {
	case cync.PacketTypeHandshake:
		resp = cync.EncodeHelloAck()
	case cync.PacketTypeDeviceInfo:
		resp = cync.EncodeInfoAck()
	case cync.PacketTypeData:
		s.state.ApplyCommand(p.Payload)
		resp = cync.EncodeDataAck(p.MsgID)
	case cync.PacketTypeStatus:
		s.state.ApplyCommand(p.Payload)
		resp = cync.EncodeStatusAck()
	case cync.PacketTypeHeartbeat:
		resp = cync.EncodeHeartbeatAck()
	default:
		return
	}
	s.sendChaotic(conn, chaos, resp)
}

func (s *Simulator) sendChaotic(conn net.Conn, chaos *chaosEngine, resp []byte) {
	o := chaos.next()
	if o.delay > 0 {
		time.Sleep(o.delay)
	}
	if o.drop {
		return
	}
	out := append([]byte(nil), resp...)
	if o.corrupt {
		chaos.corruptBytes(out)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := conn.Write(out); err != nil {
		return
	}
	if o.duplicate {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		conn.Write(out)
	}
}
