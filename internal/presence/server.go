package presence

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/kelindar/event"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/scribly/presence/internal/app/logger/logging"
	"github.com/scribly/presence/internal/auth"
	"github.com/scribly/presence/internal/database"
	"github.com/scribly/presence/internal/metrics"
	"github.com/scribly/presence/internal/model"
	"github.com/scribly/presence/internal/wire"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

func init() {
	metrics.InitPresence()
}

type Server struct {
	Config   *Config
	DB       *database.SQLite
	Registry *Registry
	Verifier *auth.TokenVerifier
	Bus      *event.Dispatcher
}

func NewServer(db *database.SQLite, opts ...Option) *Server {
	config := DefaultConfig()
	for _, fn := range opts {
		if err := fn(config); err != nil {
			panic("failed to initialize config: " + err.Error())
		}
	}

	if config.WireFormat == "cbor" {
		wire.DefaultCodec = wire.NewCBORCodec()
	}

	var verifier *auth.TokenVerifier
	if config.AuthSecret != "" {
		verifier = auth.NewTokenVerifier(config.AuthSecret)
	}

	bus := event.NewDispatcher()
	registry := NewRegistry(
		WithResyncInterval(config.ResyncInterval),
		WithDispatcher(bus),
	)

	return &Server{
		Config:   config,
		DB:       db,
		Registry: registry,
		Verifier: verifier,
		Bus:      bus,
	}
}

type Option func(*Config) error

type Config struct {
	BindAddr           string
	PublicAddr         string
	CORSAllowedOrigins []string
	ResyncInterval     time.Duration
	AuthSecret         string
	WireFormat         string
	Version            string
}

func DefaultConfig() *Config {
	return &Config{
		BindAddr:           "localhost:2137",
		PublicAddr:         "http://localhost:2137",
		CORSAllowedOrigins: []string{"*"},
		ResyncInterval:     30 * time.Second,
		WireFormat:         "json",
		Version:            "dev",
	}
}

func WithAddr(bindAddr, publicAddr string) Option {
	return func(c *Config) error {
		c.BindAddr = bindAddr
		c.PublicAddr = publicAddr
		return nil
	}
}

func WithCORSAllowedOrigins(allowedOrigins []string) Option {
	return func(c *Config) error {
		c.CORSAllowedOrigins = allowedOrigins
		return nil
	}
}

func WithResyncEvery(d time.Duration) Option {
	return func(c *Config) error {
		c.ResyncInterval = d
		return nil
	}
}

func WithAuthSecret(secret string) Option {
	return func(c *Config) error {
		c.AuthSecret = secret
		return nil
	}
}

func WithWireFormat(format string) Option {
	return func(c *Config) error {
		switch format {
		case "json", "cbor":
			c.WireFormat = format
			return nil
		default:
			return errors.New("wire format must be json or cbor")
		}
	}
}

func WithVersion(version string) Option {
	return func(c *Config) error {
		c.Version = version
		return nil
	}
}

func (s *Server) HttpRouter() http.Handler {
	mux := chi.NewRouter()

	mux.Use(middleware.Recoverer)
	mux.Use(middleware.Throttle(100))

	{ // Set up meta routes (readiness, liveness, metrics etc.)
		mux.Get("/_health", func(w http.ResponseWriter, r *http.Request) {
			if s.DB != nil {
				if err := s.DB.Ping(); err != nil {
					w.WriteHeader(http.StatusServiceUnavailable)
					renderJSON(w, r, map[string]string{
						"status":    "ERROR",
						"component": "database",
						"error":     err.Error(),
					})
					return
				}
			}

			w.WriteHeader(http.StatusOK)
			renderJSON(w, r, map[string]string{"status": "OK"})
		})
		mux.Get("/_metrics", promhttp.Handler().ServeHTTP)
	}

	{ // Set up the discovery route used by the web client
		wellKnown := chi.NewRouter()
		wellKnown.Use(cors.New(cors.Options{
			AllowedOrigins:   s.Config.CORSAllowedOrigins,
			AllowCredentials: false,
			AllowedMethods:   []string{http.MethodGet},
			AllowedHeaders:   []string{"Content-Type"},
			MaxAge:           7200,
		}).Handler)

		wellKnown.Get("/presence.json", s.WellKnownInfo())
		mux.Mount("/.well-known/", wellKnown)
	}

	{ // Set up the membership query API
		api := chi.NewRouter()
		api.Use(middleware.Timeout(5 * time.Second))
		api.Use(cors.New(cors.Options{
			AllowedOrigins:   s.Config.CORSAllowedOrigins,
			AllowCredentials: false,
			AllowedMethods:   []string{http.MethodGet},
			AllowedHeaders:   []string{"Content-Type", "Authorization"},
			MaxAge:           7200,
		}).Handler)

		api.Get("/rooms", s.HandleListRooms)
		api.Get("/rooms/{noteID}", s.HandleGetRoom)
		api.Get("/rooms/{noteID}/history", s.HandleGetRoomHistory)
		mux.Mount("/api", api)
	}

	{ // Set up the presence (websocket) route
		ws := chi.NewRouter()
		ws.Use(middleware.Timeout(24 * time.Hour))
		ws.Mount("/", http.HandlerFunc(s.HandleWebSocket))

		mux.Mount("/ws", ws)
	}

	return mux
}

// HandleListRooms returns the membership of every active room.
func (s *Server) HandleListRooms(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, r, s.Registry.ListRooms())
}

// HandleGetRoom returns the membership of a single room. An unknown or
// emptied room yields an empty user list, never an error.
func (s *Server) HandleGetRoom(w http.ResponseWriter, r *http.Request) {
	noteID := chi.URLParam(r, "noteID")
	renderJSON(w, r, RoomInfo{
		NoteID: noteID,
		Users:  s.Registry.RoomMembers(noteID),
	})
}

// HandleGetRoomHistory returns the recent audit trail for a note, newest
// first. Empty when auditing is disabled.
func (s *Server) HandleGetRoomHistory(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		renderJSON(w, r, []database.PresenceRecord{})
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := s.DB.ListPresence(r.Context(), chi.URLParam(r, "noteID"), limit)
	if err != nil {
		slog.Warn("Could not list the presence history", logging.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		renderJSON(w, r, map[string]string{"error": "could not read the audit trail"})
		return
	}
	if list == nil {
		list = []database.PresenceRecord{}
	}
	renderJSON(w, r, list)
}

func (s *Server) WellKnownInfo() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		renderJSON(w, r, model.WellKnown{
			Version:       s.Config.Version,
			Addr:          s.Config.PublicAddr,
			WebsocketPath: "/ws",
			ResyncSeconds: int(s.Config.ResyncInterval.Seconds()),
		})
	}
}

func (s *Server) Handlers() (start GracefulFunc, shutdown GracefulFunc) {
	httpServer := &http.Server{
		Addr:         s.Config.BindAddr,
		Handler:      h2c.NewHandler(s.HttpRouter(), &http2.Server{}),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	start = func(ctx context.Context) error {
		slog.Info("Configured presence server", "addr", s.Config.BindAddr)

		return httpServer.ListenAndServe()
	}

	shutdown = func(ctx context.Context) error {
		slog.Info("Started shutting down the presence server")

		if err := httpServer.Shutdown(ctx); err != nil {
			slog.Error("Failed shutting down the presence server", logging.Error(err))
			return err
		}
		slog.Info("Successfully shut down the presence server")
		return nil
	}

	return start, shutdown
}

type GracefulFunc func(context.Context) error

func (s *Server) Graceful(ctx context.Context, start GracefulFunc, shutdown GracefulFunc) error {
	var (
		stopChan = make(chan os.Signal, 1)
		errChan  = make(chan error, 1)
	)

	// Set up the graceful shutdown handler (traps SIGINT and SIGTERM)
	go func() {
		signal.Notify(stopChan, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

		select {
		case <-stopChan:
		case <-ctx.Done():
		}

		timer, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := shutdown(timer); err != nil {
			errChan <- err
			return
		}

		errChan <- nil
	}()

	// Start the server
	if err := start(ctx); !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return <-errChan
}
