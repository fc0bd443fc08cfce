/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command linret runs the seismic-acquisition gateway: it speaks the
// chassis link protocol to a fleet of field units over raw Ethernet,
// schedules and streams acquisition jobs, keeps the fleet's clocks
// synced to GPS, and answers an upstream control server's status and
// acquisition-control requests, in the shape cmd/ptp4u/main.go wires
// its own daemon together.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	log "github.com/sirupsen/logrus"

	"github.com/antonov-mipt/pp218-linret/chassislink"
	"github.com/antonov-mipt/pp218-linret/config"
	"github.com/antonov-mipt/pp218-linret/coordinator"
	"github.com/antonov-mipt/pp218-linret/cslink"
	"github.com/antonov-mipt/pp218-linret/monitor"
	"github.com/antonov-mipt/pp218-linret/protocol/chassis"
	"github.com/antonov-mipt/pp218-linret/protocol/cs"
	"github.com/antonov-mipt/pp218-linret/stream"
	"github.com/antonov-mipt/pp218-linret/timebase"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "status" {
		statusMain(os.Args[2:])
		return
	}
	daemonMain(os.Args[1:])
}

func daemonMain(args []string) {
	fs := flag.NewFlagSet("linret", flag.ExitOnError)
	configPath := fs.String("config", "/etc/linret/config.json", "Path to the gateway's JSON config file")
	loglevel := fs.Int("loglevel", 3, "Log level, 1 (debug) through 5 (fatal)")
	pidFile := fs.String("pidfile", "/run/lock/linret.pid", "Pid file location")
	fs.Parse(args)

	setLogLevel(*loglevel)

	fl := flock.New(*pidFile)
	locked, err := fl.TryLock()
	if err != nil {
		log.Fatalf("acquiring pid lock %s: %v", *pidFile, err)
	}
	if !locked {
		log.Fatalf("another linret instance already holds %s", *pidFile)
	}
	defer fl.Unlock()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)
		for sig := range sigCh {
			switch sig {
			case syscall.SIGUSR1:
				log.SetLevel(bumpLevel(log.GetLevel(), 1))
				log.Warnf("SIGUSR1: log level now %s", log.GetLevel())
			case syscall.SIGUSR2:
				log.SetLevel(bumpLevel(log.GetLevel(), -1))
				log.Warnf("SIGUSR2: log level now %s", log.GetLevel())
			default:
				log.Warnf("received %s, shutting down", sig)
				cancel()
				return
			}
		}
	}()

	if err := run(ctx, cfg); err != nil && err != context.Canceled {
		log.Fatalf("gateway exited: %v", err)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	iface, err := net.InterfaceByName(cfg.EthIface)
	if err != nil {
		return fmt.Errorf("looking up interface %s: %w", cfg.EthIface, err)
	}
	dstMAC := net.HardwareAddr([]byte(padMAC(cfg.ChassisMAC)))

	idGen := &chassis.IDGen{}
	link := chassislink.New(cfg.EthIface, iface.HardwareAddr, dstMAC, idGen)

	tb := timebase.New(cfg.GPSDevice, cfg.UseSystemTime)

	sink := stream.NewMemorySink()
	if err := sink.EnsureIndexes(); err != nil {
		return fmt.Errorf("preparing sink: %w", err)
	}

	var coord *coordinator.Coordinator
	delayBetween := time.Duration(cfg.DelayBetweenRequestsSec * float64(time.Second))
	delayBefore := time.Duration(cfg.DelayBeforeRequestSec * float64(time.Second))
	engine := stream.NewEngine(sink, tb.NowTrue, delayBetween, delayBefore,
		func() { coord.NotifyJobActive() },
		func() { coord.NotifyJobFinished() },
	)
	coord = coordinator.New(cfg, link, tb.NowTrue, engine.Submit, engine.PostChaResponse, idGen)
	coord.SetAcqMode(parseAcqMode(cfg.AcqMode))

	csHandler := func(hdr cs.Header, payload []byte) (cs.Header, []byte) {
		resp := coord.SubmitCSRequest(hdr, payload)
		return resp.Header, resp.Payload
	}
	csSrv := cslink.New(fmt.Sprintf(":%d", cfg.CSPort), csHandler)

	sys, err := monitor.NewSysStats()
	if err != nil {
		log.WithError(err).Warn("process stats unavailable")
	}
	coll := monitor.NewCollector(coord, link, csSrv, engine, sys)
	monSrv, reg := monitor.NewServer(coord, coll, sys)

	errCh := make(chan error, 5)
	go func() { errCh <- link.Run(ctx) }()
	go func() { errCh <- tb.Run(ctx) }()
	go func() { errCh <- engine.Run(ctx) }()
	go func() { errCh <- coord.Run(ctx) }()
	go func() { errCh <- csSrv.Run(ctx) }()
	go func() { errCh <- monSrv.Start(cfg.WebUIPort, reg) }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// parseAcqMode maps the config's acq_mode string onto AcqMode, falling
// back to AcqDoNothing for anything but an exact "run"/"stop" match.
func parseAcqMode(mode string) coordinator.AcqMode {
	switch mode {
	case "run":
		return coordinator.AcqRun
	case "stop":
		return coordinator.AcqStop
	default:
		return coordinator.AcqDoNothing
	}
}

// padMAC interprets cfg.ChassisMAC as a raw 6-byte chassis address,
// the way the program this gateway replaces stores it as a fixed
// 6-byte C struct field rather than a colon-separated MAC string.
func padMAC(raw string) []byte {
	b := make([]byte, 6)
	copy(b, raw)
	return b
}

func setLogLevel(level int) {
	switch level {
	case 1:
		log.SetLevel(log.DebugLevel)
	case 2:
		log.SetLevel(log.InfoLevel)
	case 3:
		log.SetLevel(log.WarnLevel)
	case 4:
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.FatalLevel)
	}
}

func bumpLevel(cur log.Level, delta int) log.Level {
	l := int(cur) + delta
	if l < int(log.PanicLevel) {
		l = int(log.PanicLevel)
	}
	if l > int(log.TraceLevel) {
		l = int(log.TraceLevel)
	}
	return log.Level(l)
}
