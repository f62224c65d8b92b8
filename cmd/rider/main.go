// Command rider runs the XGO Rider control plane: it arbitrates the
// local physical controller against remote MQTT clients, drives the
// actuator, and publishes telemetry.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/riderbot/go-rider/internal/config"
	"github.com/riderbot/go-rider/internal/log"
	"github.com/riderbot/go-rider/pkg/command"
	"github.com/riderbot/go-rider/pkg/control"
	"github.com/riderbot/go-rider/pkg/gateway"
	"github.com/riderbot/go-rider/pkg/local"
	"github.com/riderbot/go-rider/pkg/mqttbus"
	"github.com/riderbot/go-rider/pkg/session"
	"github.com/riderbot/go-rider/pkg/telemetry"
	"github.com/riderbot/go-rider/pkg/web"
)

func main() {
	configPath := flag.String("config", "rider.yaml", "Path to config file")
	broker := flag.String("broker", "", "MQTT broker override (host or host:port)")
	teleop := flag.Bool("teleop", false, "Read local controller commands from stdin (w/a/s/d, e = emergency stop)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Init("info")
		log.Error("load config", "path", *configPath, "error", err)
		os.Exit(1)
	}
	if *broker != "" {
		host, portStr, found := strings.Cut(*broker, ":")
		cfg.Broker.Host = host
		if found {
			if port, err := strconv.Atoi(portStr); err == nil {
				cfg.Broker.Port = port
			}
		}
	}
	if *debug {
		cfg.LogLevel = "debug"
	}
	log.Init(cfg.LogLevel)

	if err := run(cfg, *teleop); err != nil {
		log.Error("rider exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, teleop bool) error {
	// The simulated driver stands in for the hardware SDK binding; a
	// real binding implements gateway.Driver the same way.
	driver := gateway.NewSimDriver()
	gw, err := gateway.New(driver)
	if err != nil {
		return err
	}
	defer gw.Close()

	validator := command.NewValidator()

	// The battery-request hook is filled in once the scheduler exists.
	var sched *telemetry.Scheduler
	arbiter := control.NewArbiter(gw, control.Config{
		GraceWindow: cfg.Control.LocalGraceWindow,
		QueueSize:   cfg.Control.QueueSize,
		OnBatteryRequest: func() {
			if sched != nil {
				sched.RequestBattery()
			}
		},
	})

	sessions := session.NewManager(arbiter, arbiter, nil, session.Config{
		InactivityTimeout: cfg.Session.InactivityTimeout,
		MovementTimeout:   cfg.Session.MovementTimeout,
		ShutdownBudget:    cfg.Session.ShutdownBudget,
		DeliveryGrace:     cfg.Session.DeliveryGrace,
	})

	bus := mqttbus.New(mqttbus.Config{
		BrokerURL:   cfg.BrokerURL(),
		ClientID:    cfg.Broker.ClientID,
		TopicPrefix: cfg.Broker.TopicPrefix,
	}, validator, arbiter, sessions)
	sessions.SetNotifier(bus)

	publishers := telemetry.Fanout{bus}

	var monitor *web.Server
	if cfg.Web.Enabled {
		monitor = web.NewServer(cfg.Web.Port, arbiter.Snapshot, sessions)
		publishers = append(publishers, monitor)
	}

	sched = telemetry.New(arbiter.Snapshot, gw, gateway.HostMetrics{}, publishers, telemetry.Config{
		StatusInterval:      cfg.Telemetry.StatusInterval,
		BatteryInterval:     cfg.Telemetry.BatteryInterval,
		OrientationInterval: cfg.Telemetry.OrientationInterval,
		LowThreshold:        cfg.Battery.LowThreshold,
		CriticalThreshold:   cfg.Battery.CriticalThreshold,
		MaxReadFailures:     cfg.Battery.MaxReadFailures,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	start := func(name string, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
			log.Debug("stopped", "component", name)
		}()
	}

	start("arbiter", arbiter.Run)
	start("scheduler", sched.Run)
	start("sessions", sessions.Run)

	if teleop {
		// The stdin teleop source stands in for a gamepad; a real
		// controller binding implements local.Source the same way.
		src := local.NewReaderSource(os.Stdin)
		pump := local.NewPump(src, validator, arbiter)
		// Not in the waitgroup: a blocked stdin read cannot be
		// interrupted and must not hold up shutdown.
		go src.Run(ctx)
		start("teleop-pump", pump.Run)
	}

	if monitor != nil {
		start("monitor-hub", monitor.Hub().Run)
		go func() {
			if err := monitor.Start(); err != nil {
				log.Error("monitor server", "error", err)
			}
		}()
	}

	if err := bus.Connect(); err != nil {
		// The robot still works from the local controller while paho
		// keeps retrying in the background.
		log.Error("broker unreachable, continuing without remote control", "error", err)
	}

	log.Info("rider up",
		"broker", cfg.BrokerURL(),
		"prefix", cfg.Broker.TopicPrefix,
		"web", cfg.Web.Enabled,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutting down", "signal", sig.String())

	// Safety first: every remote session gets its stop sequence while
	// the arbiter is still running, then everything else winds down.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := sessions.Shutdown(shutdownCtx); err != nil {
		log.Warn("session shutdown degraded", "error", err)
	}

	bus.Close()
	if monitor != nil {
		if err := monitor.Shutdown(); err != nil {
			log.Warn("monitor shutdown", "error", err)
		}
	}

	cancel()
	wg.Wait()
	return nil
}
