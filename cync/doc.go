/*
Package cync implements the LAN-side control plane wire protocol for
Cync smart lighting devices: a byte-exact codec, a stream framer that
extracts complete packets from arbitrary TCP read boundaries, and a
reliable transport built on top of them that speaks the device's
native acknowledgment/retry/heartbeat behaviour.

Scope

This package covers the core communication subsystem only: Checksum,
Codec, Framer, ReliableTransport and BoundedQueue. MQTT bridging, Home
Assistant entity modeling and authentication with the Cync cloud are
external collaborators and are not implemented here. See package
simulator for a device-side test double that speaks the same wire
protocol with configurable chaos injection.

Usage

	xport := cync.NewTransport(cync.TransportConfig{
		DeviceID:      "bulb-1",
		Logger:        logger,
		Timeouts:      cync.NewTimeoutConfig(800 * time.Millisecond),
		DedupCacheCfg: cync.DefaultDedupCacheConfig(),
	})
	if err := xport.Connect(ctx, addr, endpoint, authCode); err != nil {
		log.Fatal(err)
	}
	defer xport.Shutdown(ctx)

	res, err := xport.SendReliable(ctx, payload, cync.SendOptions{})

Logging

Package cync uses structured logging via the go-kit logger
(github.com/go-kit/kit/log) and go-kit levels
(github.com/go-kit/kit/log/level) to separate verbose debugging output
from normal informational events, exactly as the protocol libraries
this package is modelled on. Passing a nil logger disables logging.

Metrics

Package cync never imports a metrics backend directly. All counters,
gauges and histograms named in this package's design are emitted
through the abstract Sink interface; see package metrics/prom for a
Prometheus-backed adapter.
*/
package cync
