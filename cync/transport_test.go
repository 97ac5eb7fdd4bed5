package cync_test

import (
	"context"
	"testing"
	"time"

	"github.com/katalix/cync-core/cync"
	"github.com/katalix/cync-core/simulator"
)

func startSimulator(t *testing.T) (addr string, sim *simulator.Simulator, stop func()) {
	t.Helper()
	sim = simulator.New(simulator.Config{Endpoint: [5]byte{1, 2, 3, 4, 5}})
	ctx, cancel := context.WithCancel(context.Background())
	if err := sim.Start(ctx, "127.0.0.1:0"); err != nil {
		t.Fatalf("start simulator: %v", err)
	}
	return sim.Addr().String(), sim, cancel
}

func newTestTransport(deviceID string) *cync.ReliableTransport {
	return cync.NewTransport(cync.TransportConfig{
		DeviceID:   deviceID,
		Timeouts:   cync.NewTimeoutConfig(50 * time.Millisecond),
		MaxRetries: 5,
	})
}

func TestHappyPathToggle(t *testing.T) {
	addr, sim, stop := startSimulator(t)
	defer stop()

	xport := newTestTransport("toggle-device")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := xport.Connect(ctx, addr, [5]byte{1, 2, 3, 4, 5}, []byte("auth")); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer xport.Shutdown(context.Background())

	res, err := xport.SendReliable(ctx, []byte{0x0d, 0x01, 0x00}, cync.SendOptions{})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}

	state := sim.State().Snapshot()
	if !state.On {
		t.Error("expected device to toggle on")
	}
	if state.ToggleCount != 1 {
		t.Errorf("got toggle count %d, want 1", state.ToggleCount)
	}
}

func TestDuplicatedCommandIsIdempotent(t *testing.T) {
	addr, sim, stop := startSimulatorWithChaos(t, simulator.ChaosConfig{DuplicateRate: 1.0})
	defer stop()

	xport := newTestTransport("dup-device")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := xport.Connect(ctx, addr, [5]byte{1, 2, 3, 4, 5}, []byte("auth")); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer xport.Shutdown(context.Background())

	res, err := xport.SendReliable(ctx, []byte{0x0d, 0x01, 0x00}, cync.SendOptions{})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}

	state := sim.State().Snapshot()
	if state.ToggleCount != 1 {
		t.Errorf("got toggle count %d, want 1 (duplicate ack should not double-apply)", state.ToggleCount)
	}
}

func TestRecvReliableSurfacesDuplicate(t *testing.T) {
	addr, sim, stop := startSimulator(t)
	defer stop()

	xport := newTestTransport("status-device")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := xport.Connect(ctx, addr, [5]byte{1, 2, 3, 4, 5}, []byte("auth")); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer xport.Shutdown(context.Background())

	if err := sim.PushStatus([2]byte{0, 9}, []byte{0x01, 0x02}, true); err != nil {
		t.Fatalf("push status: %v", err)
	}

	first, err := xport.RecvReliable(ctx, 2*time.Second)
	if err != nil {
		t.Fatalf("expected a TrackedPacket for the first delivery, got err: %v", err)
	}
	if first.Packet.Type != cync.PacketTypeStatus {
		t.Errorf("got packet type %v, want status", first.Packet.Type)
	}

	_, err = xport.RecvReliable(ctx, 2*time.Second)
	if err == nil {
		t.Fatal("expected DuplicatePacketError for the duplicate delivery")
	}
	dup, ok := err.(*cync.DuplicatePacketError)
	if !ok {
		t.Fatalf("got error %T, want *cync.DuplicatePacketError", err)
	}
	if dup.DedupKey != first.DedupKey {
		t.Errorf("got dedup_key %q, want %q matching the first delivery", dup.DedupKey, first.DedupKey)
	}
	if dup.CorrelationID != first.CorrelationID {
		t.Errorf("got correlation_id %v, want %v matching the first delivery", dup.CorrelationID, first.CorrelationID)
	}
}

func startSimulatorWithChaos(t *testing.T, chaos simulator.ChaosConfig) (addr string, sim *simulator.Simulator, stop func()) {
	t.Helper()
	sim = simulator.New(simulator.Config{Endpoint: [5]byte{1, 2, 3, 4, 5}, Chaos: chaos})
	ctx, cancel := context.WithCancel(context.Background())
	if err := sim.Start(ctx, "127.0.0.1:0"); err != nil {
		t.Fatalf("start simulator: %v", err)
	}
	return sim.Addr().String(), sim, cancel
}
