package simulator_test

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/katalix/cync-core/cync"
	"github.com/katalix/cync-core/simulator"
)

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func readPacket(t *testing.T, conn net.Conn) *cync.Packet {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, cync.MaxPacketSize)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	p, err := cync.DecodePacket(buf[:n])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return p
}

func TestSimulatorHandshake(t *testing.T) {
	sim := simulator.New(simulator.Config{Endpoint: [5]byte{1, 2, 3, 4, 5}})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sim.Start(ctx, "127.0.0.1:0"); err != nil {
		t.Fatalf("start: %v", err)
	}

	conn := dial(t, sim.Addr().String())
	defer conn.Close()

	wire, err := cync.EncodeHandshake([5]byte{1, 2, 3, 4, 5}, []byte("auth"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := conn.Write(wire); err != nil {
		t.Fatalf("write: %v", err)
	}

	ack := readPacket(t, conn)
	if ack.Type != cync.PacketTypeHandshakeAck {
		t.Errorf("got type %v, want handshake_ack", ack.Type)
	}
}

func TestSimulatorTogglesDeviceState(t *testing.T) {
	sim := simulator.New(simulator.Config{Endpoint: [5]byte{1, 2, 3, 4, 5}})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sim.Start(ctx, "127.0.0.1:0"); err != nil {
		t.Fatalf("start: %v", err)
	}

	conn := dial(t, sim.Addr().String())
	defer conn.Close()

	wire, err := cync.EncodeDataPacket([5]byte{1, 2, 3, 4, 5}, [2]byte{0, 1}, []byte{0x0d, 0x01, 0x00})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	conn.Write(wire)

	ack := readPacket(t, conn)
	if ack.Type != cync.PacketTypeDataAck {
		t.Fatalf("got type %v, want data_ack", ack.Type)
	}
	if ack.MsgID != [2]byte{0, 1} {
		t.Errorf("got msg_id %x, want 0001", ack.MsgID)
	}

	state := sim.State().Snapshot()
	if !state.On || state.ToggleCount != 1 {
		t.Errorf("got state %+v, want toggled on once", state)
	}
}

func TestSimulatorPushStatusDuplicates(t *testing.T) {
	sim := simulator.New(simulator.Config{Endpoint: [5]byte{1, 2, 3, 4, 5}})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sim.Start(ctx, "127.0.0.1:0"); err != nil {
		t.Fatalf("start: %v", err)
	}

	conn := dial(t, sim.Addr().String())
	defer conn.Close()

	// Establish the connection the simulator will push to.
	wire, _ := cync.EncodeHandshake([5]byte{1, 2, 3, 4, 5}, []byte("auth"))
	conn.Write(wire)
	readPacket(t, conn)

	if err := sim.PushStatus([2]byte{0, 5}, []byte{0x01, 0x02}, true); err != nil {
		t.Fatalf("push status: %v", err)
	}

	first := readPacket(t, conn)
	second := readPacket(t, conn)
	if first.Type != cync.PacketTypeStatus || second.Type != cync.PacketTypeStatus {
		t.Fatalf("got types %v/%v, want status/status", first.Type, second.Type)
	}
	if !bytes.Equal(first.Raw, second.Raw) {
		t.Errorf("duplicate push produced different wire bytes: %x vs %x", first.Raw, second.Raw)
	}
}

func TestSimulatorDeterministicDropPattern(t *testing.T) {
	sim := simulator.New(simulator.Config{
		Endpoint: [5]byte{1, 2, 3, 4, 5},
		Chaos:    simulator.ChaosConfig{DropPattern: map[int]bool{1: true}},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sim.Start(ctx, "127.0.0.1:0"); err != nil {
		t.Fatalf("start: %v", err)
	}

	conn := dial(t, sim.Addr().String())
	defer conn.Close()

	wire, _ := cync.EncodeHandshake([5]byte{1, 2, 3, 4, 5}, []byte("auth"))
	conn.Write(wire)

	// The first response is configured to drop; nothing should arrive
	// before the deadline.
	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	buf := make([]byte, cync.MaxPacketSize)
	if _, err := conn.Read(buf); err == nil {
		t.Fatal("expected the first response to be dropped")
	}
}
