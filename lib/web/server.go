// Package web serves the live dashboard: REST endpoints over the
// config/data/device/log directories, start/stop control of the
// acquisition loop and the ramp controller as child processes, and a
// websocket that pushes new data rows as they land. Charting is
// delegated to plotly.js in the embedded page.
package web

import (
	"context"
	_ "embed"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/gotmc/labdaq/lib/config"
	"github.com/gotmc/labdaq/lib/proc"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

//go:embed static/index.html
var indexHTML []byte

// stopGrace is how long a child gets to exit after SIGTERM.
const stopGrace = 10 * time.Second

// Config holds the dashboard settings.
type Config struct {
	// Addr to listen on, e.g. ":8050".
	Addr string

	// Dirs the acquisition environment works in.
	Dirs config.Dirs

	// Binary is the executable spawned for run/ramp children, normally
	// this binary itself.
	Binary string

	// Log defaults to zap.NewNop.
	Log *zap.Logger
}

// Server is the dashboard.
type Server struct {
	cfg config.Dirs
	bin string
	log *zap.Logger
	sup *proc.Supervisor

	router   *mux.Router
	upgrader websocket.Upgrader
	ln       net.Listener
	addr     string

	mu      sync.Mutex
	clients map[int64]*wsClient
	nextID  int64

	events chan event
}

// New builds the dashboard server. It does not listen yet; Run does.
func New(c Config) *Server {
	if c.Log == nil {
		c.Log = zap.NewNop()
	}
	s := &Server{
		cfg:     c.Dirs,
		bin:     c.Binary,
		log:     c.Log,
		sup:     proc.NewSupervisor(c.Log),
		addr:    c.Addr,
		clients: map[int64]*wsClient{},
		events:  make(chan event, 64),
		upgrader: websocket.Upgrader{
			// The dashboard is a trusted lab tool on a local network.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/configs", s.handleConfigs).Methods(http.MethodGet)
	api.HandleFunc("/config", s.handleConfig).Methods(http.MethodGet)
	api.HandleFunc("/data", s.handleData).Methods(http.MethodGet)
	api.HandleFunc("/data/frame", s.handleFrame).Methods(http.MethodGet)
	api.HandleFunc("/devices", s.handleDevices).Methods(http.MethodGet)
	api.HandleFunc("/devices/{name}", s.handleDevice).Methods(http.MethodGet)
	api.HandleFunc("/log", s.handleLog).Methods(http.MethodGet)
	api.HandleFunc("/run/start", s.handleRunStart).Methods(http.MethodPost)
	api.HandleFunc("/run/stop", s.handleRunStop).Methods(http.MethodPost)
	api.HandleFunc("/ramp/start", s.handleRampStart).Methods(http.MethodPost)
	api.HandleFunc("/ramp/stop", s.handleRampStop).Methods(http.MethodPost)
	s.router = r
}

// Router exposes the handler, mainly for tests.
func (s *Server) Router() http.Handler { return s.router }

// Addr returns the bound listen address once Run has started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Run serves until the context is canceled, then stops any children it
// started and disconnects the websocket clients.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.log.Info("dashboard listening", zap.String("addr", ln.Addr().String()))

	srv := &http.Server{Handler: s.router}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error { return s.watch(ctx) })
	g.Go(func() error { s.broadcastLoop(ctx); return nil })
	g.Go(func() error { s.monitor(ctx); return nil })
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutCtx)
		s.sup.StopAll(stopGrace)
		s.closeClients()
		return err
	})
	return g.Wait()
}
