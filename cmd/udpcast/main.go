package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"udpcast/internal/app"
	"udpcast/internal/engine"
	logx "udpcast/pkg/logx"
)

func main() {
	keys := engine.DefaultKeys()
	cfg := app.Config{}

	flag.StringVar(&keys.Verbose, "v", keys.Verbose, "verbose mode variable")
	flag.StringVar(&keys.Trigger, "t", keys.Trigger, "trigger variable")
	flag.StringVar(&keys.TxRate, "r", keys.TxRate, "transmission rate variable")
	flag.StringVar(&keys.Enable, "e", keys.Enable, "enable/disable variable")
	flag.StringVar(&keys.Interfaces, "i", keys.Interfaces, "interface list variable")
	flag.StringVar(&keys.Port, "p", keys.Port, "broadcast port variable")
	flag.StringVar(&keys.Metrics, "m", keys.Metrics, "metrics variable")
	flag.StringVar(&keys.Schedule, "s", keys.Schedule, "cron schedule variable")
	flag.StringVar(&cfg.TemplatePath, "f", "", "template file")

	flag.StringVar(&cfg.DefaultsPath, "defaults", "", "YAML defaults file (watched for edits)")
	flag.StringVar(&cfg.PersistPath, "persist", "", "SQLite path for persisted variable values")
	flag.IntVar(&cfg.TriggerPerSec, "trigger-limit", 0, "max trigger broadcasts per second (0 = unlimited)")

	logLevel := flag.String("log-level", "INFO", "log level (TRACE..ERROR)")
	logFile := flag.String("log-file", "", "JSON log file (console stays on)")
	flag.Parse()

	cfg.Keys = keys
	cfg.Logging = logx.Config{
		Level:   *logLevel,
		Console: true,
		File:    logx.FileConfig{Enabled: *logFile != "", Path: *logFile},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	go watchdog(ctx)

	<-ctx.Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx)
}

// watchdog feeds systemd's watchdog when one is configured for the unit.
func watchdog(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}
