package server

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"image"
	"io/fs"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"depth-overlay-go/internal/config"
	"depth-overlay-go/internal/metrics"
	"depth-overlay-go/internal/processing"
)

//go:embed web/*
var webFS embed.FS

// Server is the display sink: it streams annotated frames to browser
// clients as JPEG and turns the configured key press into an exit request.
type Server struct {
	upgrader   websocket.Upgrader
	clients    map[*websocket.Conn]*client
	mu         sync.Mutex
	cfg        config.AppConfig
	log        logrus.FieldLogger
	metrics    *metrics.Metrics
	statusFn   func() map[string]any
	snapshotFn func() any

	sessionID string
	exit      atomic.Bool
	pending   chan processing.AnnotatedFrame

	latestMu   sync.RWMutex
	latestJPEG []byte
}

type client struct {
	id      string
	writeMu sync.Mutex
}

type Options struct {
	Logger     logrus.FieldLogger
	Metrics    *metrics.Metrics
	StatusFn   func() map[string]any
	SnapshotFn func() any
}

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = (pongWait * 9) / 10
)

func New(cfg config.AppConfig, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	return &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:    make(map[*websocket.Conn]*client),
		cfg:        cfg,
		log:        opts.Logger,
		metrics:    opts.Metrics,
		statusFn:   opts.StatusFn,
		snapshotFn: opts.SnapshotFn,
		sessionID:  uuid.NewString(),
		pending:    make(chan processing.AnnotatedFrame, 1),
	}
}

// Show queues the frame for broadcast. Only the newest frame is kept when
// clients are slower than the camera.
func (s *Server) Show(frame processing.AnnotatedFrame) error {
	if frame.Image == nil {
		return errors.New("no image to show")
	}
	for {
		select {
		case s.pending <- frame:
			return nil
		default:
		}
		select {
		case <-s.pending:
		default:
		}
	}
}

func (s *Server) ExitRequested() bool {
	return s.exit.Load()
}

func (s *Server) RequestExit() {
	if !s.exit.Swap(true) {
		s.log.Info("exit requested")
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	if sub, err := fs.Sub(webFS, "web"); err == nil {
		mux.Handle("/", http.FileServer(http.FS(sub)))
	}
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/config", s.handleConfig)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/snapshot.jpg", s.handleSnapshot)
	mux.HandleFunc("/exit", s.handleExit)
	metricsPath := s.cfg.Server.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	mux.Handle(metricsPath, s.metrics.Handler())
	return mux
}

// Run serves HTTP until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(s.cfg.Server.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	go s.broadcast(ctx)

	s.log.WithField("port", s.cfg.Server.Port).Infof("preview at http://localhost:%d", s.cfg.Server.Port)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	c := &client{id: uuid.NewString()}
	s.mu.Lock()
	s.clients[conn] = c
	s.metrics.WSClients.Set(float64(len(s.clients)))
	s.mu.Unlock()
	s.log.WithField("client", c.id).Debug("preview client connected")

	_ = s.writeJSON(conn, c, s.configPayload())

	go func() {
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(pingEvery)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					if err := s.writeMessage(conn, c, websocket.PingMessage, nil); err != nil {
						_ = conn.Close()
						return
					}
				}
			}
		}()
		defer close(done)
		defer s.removeClient(conn)
		for {
			messageType, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if messageType != websocket.TextMessage {
				continue
			}
			s.handleClientMessage(conn, c, payload)
		}
	}()
}

type clientMessage struct {
	Type string `json:"type"`
	Code int    `json:"code"`
}

func (s *Server) handleClientMessage(conn *websocket.Conn, c *client, payload []byte) {
	var request clientMessage
	if err := json.Unmarshal(payload, &request); err != nil {
		return
	}
	switch request.Type {
	case "key":
		if request.Code == s.cfg.Server.ExitKey {
			s.log.WithField("client", c.id).Info("exit key pressed")
			s.RequestExit()
		}
	case "snapshot_request":
		if s.snapshotFn == nil {
			return
		}
		if snapshot := s.snapshotFn(); snapshot != nil {
			_ = s.writeJSON(conn, c, snapshot)
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) configPayload() map[string]any {
	return map[string]any{
		"type":       "config",
		"width":      s.cfg.Camera.Width,
		"height":     s.cfg.Camera.Height,
		"fps":        s.cfg.Camera.FPS,
		"points":     s.cfg.Overlay.Points,
		"exit_key":   s.cfg.Server.ExitKey,
		"port":       s.cfg.Server.Port,
		"source":     s.cfg.Source.Mode,
		"session_id": s.sessionID,
	}
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.configPayload())
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	payload := map[string]any{}
	if s.statusFn != nil {
		payload = s.statusFn()
	}
	payload["ws_clients"] = s.clientCount()
	payload["exit_requested"] = s.ExitRequested()
	payload["session_id"] = s.sessionID
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	s.latestMu.RLock()
	data := s.latestJPEG
	s.latestMu.RUnlock()
	if data == nil {
		http.Error(w, "no frame yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(data)
}

func (s *Server) handleExit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.RequestExit()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) broadcast(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-s.pending:
			data, err := s.encode(frame.Image)
			if err != nil {
				s.metrics.SinkErrors.Inc()
				s.log.WithError(err).Warn("preview encode failed")
				continue
			}
			s.latestMu.Lock()
			s.latestJPEG = data
			s.latestMu.Unlock()

			readings, err := json.Marshal(readingsMessage(frame))
			if err != nil {
				continue
			}

			var stale []*websocket.Conn
			s.mu.Lock()
			for conn, c := range s.clients {
				if err := s.writeMessage(conn, c, websocket.BinaryMessage, data); err != nil {
					stale = append(stale, conn)
					continue
				}
				if err := s.writeMessage(conn, c, websocket.TextMessage, readings); err != nil {
					stale = append(stale, conn)
				}
			}
			s.mu.Unlock()
			for _, conn := range stale {
				s.removeClient(conn)
			}
		}
	}
}

func (s *Server) encode(img image.Image) ([]byte, error) {
	if w := s.cfg.Server.PreviewWidth; w > 0 && img.Bounds().Dx() > w {
		img = imaging.Resize(img, w, 0, imaging.Box)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(s.cfg.Server.JPEGQuality)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type readingPayload struct {
	Label  string  `json:"label"`
	X      int     `json:"x"`
	Y      int     `json:"y"`
	Meters float64 `json:"meters"`
	Text   string  `json:"text"`
	Error  string  `json:"error,omitempty"`
}

func readingsMessage(frame processing.AnnotatedFrame) map[string]any {
	readings := make([]readingPayload, 0, len(frame.Readings))
	for _, r := range frame.Readings {
		p := readingPayload{Label: r.Label, X: r.X, Y: r.Y, Meters: r.Meters, Text: r.Text}
		if r.Err != nil {
			p.Error = r.Err.Error()
		}
		readings = append(readings, p)
	}
	return map[string]any{
		"type":     "readings",
		"readings": readings,
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.clients, conn)
	s.metrics.WSClients.Set(float64(len(s.clients)))
	s.mu.Unlock()
	conn.Close()
}

func (s *Server) clientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) writeJSON(conn *websocket.Conn, c *client, payload any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(payload)
}

func (s *Server) writeMessage(conn *websocket.Conn, c *client, messageType int, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(messageType, payload)
}
