// Binary epddemo exercises the display driver with generated content: a
// full-quality grayscale test card, then an immediate-mode animation sweep.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fogleman/gg"

	"epdfb/internal/config"
	"epdfb/internal/convert"
	"epdfb/internal/epd"
	appLog "epdfb/internal/log"
	"epdfb/internal/waveform"
)

type flagConfig struct {
	configPath string
	mode       string
	skipAnim   bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	appLog.SetLevel(appLog.Level(conf.LogLevel))

	modeName := conf.Mode
	if flags.mode != "" {
		modeName = flags.mode
	}
	mode, err := waveform.ParseModeKind(modeName)
	if err != nil {
		appLog.Error("invalid mode", err, "mode", modeName)
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
		PerfReport:              conf.PerfReport != "",
		PowerOffTimeout:         conf.PowerOffTimeout(),
		TemperatureReadInterval: conf.TemperatureReadInterval(),
	}, table)

	if err := display.Start(); err != nil {
		appLog.Error("failed to start display", err)
		os.Exit(1)
	}
	defer shutdown(display, conf)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	appLog.Info("displaying test card", "mode", modeName)
	buf, err := convert.Intensities(testCard().Image(), epd.ScreenWidth, epd.ScreenHeight)
	if err != nil {
		appLog.Error("test card conversion failed", err)
		os.Exit(1)
	}
	region := epd.Region{Width: epd.ScreenWidth, Height: epd.ScreenHeight}
	if !display.PushUpdate(mode, false, region, buf) {
		appLog.Error("test card update rejected", nil)
		os.Exit(1)
	}

	if !flags.skipAnim {
		appLog.Info("running animation sweep")
		animate(display, sigCh)
	}

	// Let the vsync worker drain the last frames before shutting down.
	time.Sleep(2 * time.Second)
	appLog.Info("epddemo done")
}

// testCard draws 32 vertical grayscale bars with a few overlaid shapes, so
// both flat areas and edges are visible on the panel.
func testCard() *gg.Context {
	dc := gg.NewContext(epd.ScreenWidth, epd.ScreenHeight)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	barWidth := float64(epd.ScreenWidth) / convert.Levels
	for i := 0; i < convert.Levels; i++ {
		v := float64(i) / (convert.Levels - 1)
		dc.SetRGB(v, v, v)
		dc.DrawRectangle(float64(i)*barWidth, 0, barWidth, float64(epd.ScreenHeight)/2)
		dc.Fill()
	}

	dc.SetRGB(0, 0, 0)
	dc.DrawCircle(float64(epd.ScreenWidth)/2, float64(epd.ScreenHeight)*3/4, 200)
	dc.Stroke()
	dc.DrawLine(0, float64(epd.ScreenHeight)/2, float64(epd.ScreenWidth), float64(epd.ScreenHeight))
	dc.Stroke()

	return dc
}

// animate sweeps a black square across the top of the screen with
// immediate updates, the path a pen stroke would take.
func animate(display *epd.Display, sigCh chan os.Signal) {
	const size = 64
	buf := make([]uint8, size*size)

	for x := 0; x+size <= epd.ScreenWidth; x += size / 2 {
		select {
		case <-sigCh:
			return
		default:
		}

		region := epd.Region{Top: 64, Left: x, Width: size, Height: size}
		if !display.PushUpdate(waveform.A2, true, region, buf) {
			appLog.Info("animation update rejected", "left", x)
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func loadTable(conf *config.Config) (*waveform.Table, error) {
	if conf.Waveforms == "" {
		return waveform.Builtin(), nil
	}
	return waveform.Load(conf.Waveforms)
}

func shutdown(display *epd.Display, conf *config.Config) {
	display.Stop()
	report := display.PerfReport()
	if conf.PerfReport != "" && report != "" {
		if err := os.WriteFile(conf.PerfReport, []byte(report), 0o644); err != nil {
			appLog.Error("failed to write perf report", err, "path", conf.PerfReport)
		}
	}
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/epdfb/config.yaml", "Path to config file")
	flag.StringVar(&cfg.mode, "mode", "", "Rendering mode (overrides config if set)")
	flag.BoolVar(&cfg.skipAnim, "no-anim", false, "Skip the immediate-mode animation sweep")

	flag.Parse()

	return cfg
}
