// Binary epdimage displays an image file on the panel.
package main

import (
	"flag"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"time"

	"github.com/disintegration/imaging"

	"epdfb/internal/config"
	"epdfb/internal/convert"
	"epdfb/internal/epd"
	appLog "epdfb/internal/log"
	"epdfb/internal/waveform"
)

type flagConfig struct {
	configPath string
	mode       string
	rotate     float64
	noDither   bool
}

func main() {
	flags := parseFlags()
	if flag.NArg() != 1 {
		appLog.Info("usage: epdimage [flags] <image>")
		os.Exit(2)
	}
	imagePath := flag.Arg(0)

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

	img, err := loadImage(imagePath, flags.rotate)
	if err != nil {
		appLog.Error("failed to load image", err, "path", imagePath)
		os.Exit(1)
	}

	buf, err := toIntensities(img, flags.noDither)
	if err != nil {
		appLog.Error("image conversion failed", err)
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

	region := epd.Region{Width: epd.ScreenWidth, Height: epd.ScreenHeight}
	if !display.PushUpdate(mode, false, region, buf) {
		appLog.Error("image update rejected", nil)
		os.Exit(1)
	}

	appLog.Info("image displayed", "path", imagePath, "mode", modeName)
	// Let the waveform sequence finish scanning out before Stop.
	time.Sleep(3 * time.Second)
}

// loadImage reads, rotates, and letterboxes the image to the screen size.
func loadImage(path string, rotate float64) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}

	if rotate != 0 {
		img = imaging.Rotate(img, rotate, color.White)
	}
	fit := imaging.Fit(img, epd.ScreenWidth, epd.ScreenHeight, imaging.Lanczos)
	canvas := imaging.New(epd.ScreenWidth, epd.ScreenHeight, color.White)
	return imaging.PasteCenter(canvas, fit), nil
}

func toIntensities(img image.Image, noDither bool) ([]uint8, error) {
	if noDither {
		return convert.Intensities(img, epd.ScreenWidth, epd.ScreenHeight)
	}
	return convert.Dithered(img, epd.ScreenWidth, epd.ScreenHeight)
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
	flag.StringVar(&cfg.mode, "mode", "", "Rendering mode (overrides config if set)")
	flag.Float64Var(&cfg.rotate, "rotate", 0.0, "Image rotation in degrees")
	flag.BoolVar(&cfg.noDither, "no-dither", false, "Use plain luminance mapping instead of dithering")

	flag.Parse()

	return cfg
}
