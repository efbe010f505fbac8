// Binary epdweb keeps the panel showing a web page: it captures the
// configured URL with headless Chromium on a cron schedule and pushes each
// capture to the display.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"epdfb/internal/capture"
	"epdfb/internal/config"
	"epdfb/internal/convert"
	"epdfb/internal/epd"
	appLog "epdfb/internal/log"
	"epdfb/internal/waveform"
)

type flagConfig struct {
	configPath string
	url        string
	once       bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	appLog.SetLevel(appLog.Level(conf.LogLevel))

	if flags.url != "" {
		conf.Capture.URL = flags.url
	}
	if conf.Capture.URL == "" {
		appLog.Error("no capture URL configured", nil)
		os.Exit(1)
	}

	mode, err := waveform.ParseModeKind(conf.Mode)
	if err != nil {
		appLog.Error("invalid mode", err, "mode", conf.Mode)
		os.Exit(1)
	}

	table, err := loadTable(conf)
	if err != nil {
		appLog.Error("failed to load waveform table", err)
		os.Exit(1)
	}

	display := epd.New(epd.Options{
		FramebufferPath:         conf.Framebuffer,
		SensorPath:              conf.Sensor,
		DryRun:                  conf.DryRun,
		PowerOffTimeout:         conf.PowerOffTimeout(),
		TemperatureReadInterval: conf.TemperatureReadInterval(),
	}, table)

	if err := display.Start(); err != nil {
		appLog.Error("failed to start display", err)
		os.Exit(1)
	}
	defer display.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	refresh := func() {
		if err := showCapture(ctx, display, conf, mode); err != nil {
			appLog.Error("capture refresh failed", err, "url", conf.Capture.URL)
		}
	}

	appLog.Info("epdweb starting",
		"url", conf.Capture.URL,
		"refresh", conf.Capture.RefreshCron,
		"mode", conf.Mode,
	)

	// First paint immediately, then follow the schedule.
	refresh()

	if flags.once {
		time.Sleep(3 * time.Second)
		return
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(conf.Capture.RefreshCron, refresh); err != nil {
		appLog.Error("invalid refresh schedule", err, "refresh", conf.Capture.RefreshCron)
		os.Exit(1)
	}
	scheduler.Start()
	defer scheduler.Stop()

	<-ctx.Done()
}

func showCapture(ctx context.Context, display *epd.Display, conf *config.Config, mode waveform.ModeKind) error {
	img, err := capture.Screenshot(ctx, capture.Options{
		URL:     conf.Capture.URL,
		Width:   conf.Capture.Width,
		Height:  conf.Capture.Height,
		Timeout: time.Duration(conf.Capture.TimeoutSec) * time.Second,
	})
	if err != nil {
		return err
	}

	buf, err := convert.Dithered(img, epd.ScreenWidth, epd.ScreenHeight)
	if err != nil {
		return err
	}

	region := epd.Region{Width: epd.ScreenWidth, Height: epd.ScreenHeight}
	if !display.PushUpdate(mode, false, region, buf) {
		appLog.Info("capture update rejected")
	}
	return nil
}

func loadTable(conf *config.Config) (*waveform.Table, error) {
	if conf.Waveforms == "" {
		return waveform.Builtin(), nil
	}
	return waveform.Load(conf.Waveforms)
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/epdfb/config.yaml", "Path to config file")
	flag.StringVar(&cfg.url, "url", "", "Page to capture (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Capture and display once, then exit")

	flag.Parse()

	return cfg
}
