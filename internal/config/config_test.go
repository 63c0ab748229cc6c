package config

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 640, cfg.Camera.Width)
	assert.Equal(t, 480, cfg.Camera.Height)
	assert.Equal(t, "simulator", cfg.Source.Mode)
	assert.Equal(t, 5*time.Second, cfg.Source.FrameTimeout)
	require.Len(t, cfg.Overlay.Points, 3)
	assert.Equal(t, "Center", cfg.Overlay.Points[0].Label)
	assert.Equal(t, color.NRGBA{G: 0xff, A: 0xff}, cfg.Overlay.TextRGBA())
}

func TestLoadOverridesAndRepairs(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 0
  jpeg_quality: 120
source:
  mode: zmq
  endpoint: tcp://camera:5555
  frame_timeout: 750ms
camera:
  width: 1280
  height: 720
  color_format: rgb8
overlay:
  text_color: "#ff8000"
  points:
    - {label: Near, x: 0.1, y: 0.9}
log_settings:
  level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.Port)
	assert.Equal(t, 80, cfg.Server.JPEGQuality)
	assert.Equal(t, "zmq", cfg.Source.Mode)
	assert.Equal(t, 750*time.Millisecond, cfg.Source.FrameTimeout)
	assert.Equal(t, 1280, cfg.Camera.Width)
	assert.Equal(t, "rgb8", cfg.Camera.ColorFormat)
	require.Len(t, cfg.Overlay.Points, 1)
	assert.Equal(t, "Near", cfg.Overlay.Points[0].Label)
	assert.Equal(t, color.NRGBA{R: 0xff, G: 0x80, A: 0xff}, cfg.Overlay.TextRGBA())
	assert.Equal(t, 0.03, cfg.Overlay.DepthAlpha)
	assert.Equal(t, "debug", cfg.Log.LogLevel)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"mode":     "source: {mode: usb}\n",
		"endpoint": "source: {mode: zmq, endpoint: \"\"}\n",
		"format":   "camera: {color_format: yuyv}\n",
		"point":    "overlay: {points: [{label: Edge, x: 1.0, y: 0.5}]}\n",
		"label":    "overlay: {points: [{x: 0.2, y: 0.5}]}\n",
		"color":    "overlay: {text_color: green}\n",
		"palette":  "overlay: {palette: rainbow}\n",
	}
	for name, body := range cases {
		_, err := Load(writeConfig(t, body))
		assert.Error(t, err, name)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "server: [port"))
	assert.Error(t, err)
}

func TestExampleConfigMatchesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config.example.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
