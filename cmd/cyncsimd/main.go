// Command cyncsimd runs a standalone device simulator for manual
// testing and chaos experiments against a real ReliableTransport.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"

	kitlog "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/katalix/cync-core/simulator"
	"golang.org/x/sys/unix"
)

func main() {
	addrPtr := flag.String("addr", "127.0.0.1:23778", "address to listen on")
	dropRatePtr := flag.Float64("drop-rate", 0, "probabilistic packet drop rate [0,1]")
	dupRatePtr := flag.Float64("dup-rate", 0, "response duplication rate [0,1]")
	flag.Parse()

	logger := kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(os.Stderr))
	logger = level.NewFilter(logger, level.AllowInfo())

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, unix.SIGINT, unix.SIGTERM)

	sim := simulator.New(simulator.Config{
		Logger:   logger,
		Endpoint: [5]byte{0x01, 0x02, 0x03, 0x04, 0x05},
		Chaos: simulator.ChaosConfig{
			DropRate:      *dropRatePtr,
			DuplicateRate: *dupRatePtr,
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-sigs
		cancel()
	}()

	level.Info(logger).Log("msg", "cyncsimd listening", "addr", *addrPtr)
	if err := sim.Serve(ctx, *addrPtr); err != nil {
		log.Fatalf("simulator exited: %v", err)
	}
}
