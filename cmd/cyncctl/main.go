// Command cyncctl connects to a configured device and issues a single
// reliable send, for manual testing against real hardware or cyncsimd.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	kitlog "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/katalix/cync-core/cync"
)

func main() {
	cfgPathPtr := flag.String("config", "/etc/cyncctl/fleet.toml", "fleet configuration file")
	devicePtr := flag.String("device", "", "device id to address, as named in the fleet config")
	payloadPtr := flag.String("payload", "\x0d\x01\x00", "raw payload bytes to send (toggle by default)")
	flag.Parse()

	if *devicePtr == "" {
		log.Fatal("cyncctl: -device is required")
	}

	data, err := os.ReadFile(*cfgPathPtr)
	if err != nil {
		log.Fatalf("cyncctl: read config: %v", err)
	}
	fleet, err := cync.LoadFleetConfig(data)
	if err != nil {
		log.Fatalf("cyncctl: parse config: %v", err)
	}
	dev, ok := fleet.Devices[*devicePtr]
	if !ok {
		log.Fatalf("cyncctl: device %q not present in config", *devicePtr)
	}

	logger := kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(os.Stderr))
	logger = level.NewFilter(logger, level.AllowInfo())

	xport := cync.NewTransport(cync.TransportConfig{
		DeviceID:      *devicePtr,
		Timeouts:      fleet.Timeouts,
		DedupCacheCfg: fleet.DedupCacheCfg,
		Logger:        logger,
		MaxRetries:    fleet.MaxRetries,
		QueueCapacity: fleet.QueueCapacity,
		QueuePolicy:   fleet.QueuePolicy,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	endpoint := [5]byte{0x01, 0x02, 0x03, 0x04, 0x05}
	if err := xport.Connect(ctx, dev.Addr, endpoint, []byte(dev.AuthCode)); err != nil {
		log.Fatalf("cyncctl: connect: %v", err)
	}
	defer xport.Shutdown(context.Background())

	res, err := xport.SendReliable(ctx, []byte(*payloadPtr), cync.SendOptions{})
	if err != nil {
		log.Fatalf("cyncctl: send: %v", err)
	}
	level.Info(logger).Log("msg", "send complete", "success", res.Success, "reason", res.Reason, "correlation_id", res.CorrelationID)
}
