package config

import (
	"errors"
	"fmt"
	"image/color"
	"math"
	"os"
	"time"

	"github.com/lucasb-eyer/go-colorful"
	"gopkg.in/yaml.v3"

	"depth-overlay-go/internal/types"
)

type AppConfig struct {
	Server  ServerConfig  `yaml:"server"`
	Source  SourceConfig  `yaml:"source"`
	Camera  CameraConfig  `yaml:"camera"`
	Overlay OverlayConfig `yaml:"overlay"`
	Output  OutputConfig  `yaml:"output"`
	Log     LogSettings   `yaml:"log_settings"`
}

type ServerConfig struct {
	Port         int    `yaml:"port"`
	JPEGQuality  int    `yaml:"jpeg_quality"`
	PreviewWidth int    `yaml:"preview_width"`
	ExitKey      int    `yaml:"exit_key"`
	MetricsPath  string `yaml:"metrics_path"`
}

type SourceConfig struct {
	// Mode is "simulator" or "zmq".
	Mode                   string        `yaml:"mode"`
	Endpoint               string        `yaml:"endpoint"`
	Fallback               bool          `yaml:"fallback"`
	FrameTimeout           time.Duration `yaml:"frame_timeout"`
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures"`
	LogEvery               int           `yaml:"log_every"`
	RawLog                 bool          `yaml:"raw_log"`
	RawLogDir              string        `yaml:"raw_log_dir"`
}

type CameraConfig struct {
	Width       int     `yaml:"width"`
	Height      int     `yaml:"height"`
	FPS         float64 `yaml:"fps"`
	ColorFormat string  `yaml:"color_format"`
}

type OverlayConfig struct {
	Points      []types.SamplePoint `yaml:"points"`
	OriginX     int                 `yaml:"origin_x"`
	OriginY     int                 `yaml:"origin_y"`
	LineSpacing int                 `yaml:"line_spacing"`
	FontSize    float64             `yaml:"font_size"`
	TextColor   string              `yaml:"text_color"`
	DepthAlpha  float64             `yaml:"depth_alpha"`
	Palette     string              `yaml:"palette"`
}

type OutputConfig struct {
	Dir           string `yaml:"dir"`
	SnapshotEvery int    `yaml:"snapshot_every"`
}

type LogSettings struct {
	LogLevel   string `yaml:"level"`
	LogFile    string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
}

func Default() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:        8888,
			JPEGQuality: 80,
			ExitKey:     27,
			MetricsPath: "/metrics",
		},
		Source: SourceConfig{
			Mode:         "simulator",
			Endpoint:     "tcp://localhost:31001",
			Fallback:     true,
			FrameTimeout: 5 * time.Second,
			LogEvery:     100,
			RawLogDir:    "rawlog",
		},
		Camera: CameraConfig{
			Width:       640,
			Height:      480,
			FPS:         30,
			ColorFormat: "bgr8",
		},
		Overlay: OverlayConfig{
			Points:      types.DefaultSamplePoints(),
			OriginX:     20,
			OriginY:     30,
			LineSpacing: 30,
			FontSize:    24,
			TextColor:   "#00ff00",
			DepthAlpha:  0.03,
			Palette:     "jet",
		},
		Output: OutputConfig{
			Dir: "output",
		},
		Log: LogSettings{
			LogLevel:   "info",
			MaxSize:    20,
			MaxBackups: 5,
			MaxAge:     7,
		},
	}
}

// Load reads a YAML file over the defaults. A missing file is not an error.
func Load(path string) (*AppConfig, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, cfg.Validate()
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate resets out-of-range values to defaults and rejects settings
// that cannot be repaired.
func (c *AppConfig) Validate() error {
	def := Default()

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		c.Server.Port = def.Server.Port
	}
	if c.Server.JPEGQuality < 1 || c.Server.JPEGQuality > 100 {
		c.Server.JPEGQuality = def.Server.JPEGQuality
	}
	if c.Server.PreviewWidth < 0 {
		c.Server.PreviewWidth = 0
	}
	if c.Server.ExitKey <= 0 {
		c.Server.ExitKey = def.Server.ExitKey
	}
	if c.Server.MetricsPath == "" {
		c.Server.MetricsPath = def.Server.MetricsPath
	}

	switch c.Source.Mode {
	case "":
		c.Source.Mode = def.Source.Mode
	case "simulator", "zmq":
	default:
		return fmt.Errorf("unknown source mode %q", c.Source.Mode)
	}
	if c.Source.Mode == "zmq" && c.Source.Endpoint == "" {
		return errors.New("source endpoint is required in zmq mode")
	}
	if c.Source.FrameTimeout <= 0 {
		c.Source.FrameTimeout = def.Source.FrameTimeout
	}
	if c.Source.MaxConsecutiveFailures < 0 {
		c.Source.MaxConsecutiveFailures = 0
	}
	if c.Source.LogEvery < 1 {
		c.Source.LogEvery = 1
	}
	if c.Source.RawLogDir == "" {
		c.Source.RawLogDir = def.Source.RawLogDir
	}

	if c.Camera.Width < 1 {
		c.Camera.Width = def.Camera.Width
	}
	if c.Camera.Height < 1 {
		c.Camera.Height = def.Camera.Height
	}
	if c.Camera.FPS <= 0 {
		c.Camera.FPS = def.Camera.FPS
	}
	switch c.Camera.ColorFormat {
	case "":
		c.Camera.ColorFormat = def.Camera.ColorFormat
	case "bgr8", "rgb8":
	default:
		return fmt.Errorf("unsupported color format %q", c.Camera.ColorFormat)
	}

	if len(c.Overlay.Points) == 0 {
		c.Overlay.Points = types.DefaultSamplePoints()
	}
	for i, p := range c.Overlay.Points {
		if p.Label == "" {
			return fmt.Errorf("sample point %d has no label", i)
		}
		if !inUnitRange(p.X) || !inUnitRange(p.Y) {
			return fmt.Errorf("sample point %q: coordinates (%v, %v) outside [0,1)", p.Label, p.X, p.Y)
		}
	}
	if c.Overlay.LineSpacing < 1 {
		c.Overlay.LineSpacing = def.Overlay.LineSpacing
	}
	if c.Overlay.FontSize <= 0 {
		c.Overlay.FontSize = def.Overlay.FontSize
	}
	if c.Overlay.TextColor == "" {
		c.Overlay.TextColor = def.Overlay.TextColor
	}
	if _, err := colorful.Hex(c.Overlay.TextColor); err != nil {
		return fmt.Errorf("overlay text color %q: %w", c.Overlay.TextColor, err)
	}
	if c.Overlay.DepthAlpha <= 0 {
		c.Overlay.DepthAlpha = def.Overlay.DepthAlpha
	}
	switch c.Overlay.Palette {
	case "":
		c.Overlay.Palette = def.Overlay.Palette
	case "jet", "gray", "grey":
	default:
		return fmt.Errorf("unsupported palette %q", c.Overlay.Palette)
	}

	if c.Output.Dir == "" {
		c.Output.Dir = def.Output.Dir
	}
	if c.Output.SnapshotEvery < 0 {
		c.Output.SnapshotEvery = 0
	}
	return nil
}

// TextRGBA returns the parsed overlay color; Validate has already checked it.
func (o OverlayConfig) TextRGBA() color.NRGBA {
	c, err := colorful.Hex(o.TextColor)
	if err != nil {
		return color.NRGBA{G: 0xff, A: 0xff}
	}
	r, g, b := c.RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: 0xff}
}

func inUnitRange(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v < 1
}
