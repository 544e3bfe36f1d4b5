package internal

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"connectrpc.com/connect"
	"connectrpc.com/grpchealth"
	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"gorm.io/gorm"

	"github.com/kazz187/cardflow/internal/auth"
	"github.com/kazz187/cardflow/internal/automation"
	"github.com/kazz187/cardflow/internal/board"
	"github.com/kazz187/cardflow/internal/comment"
	"github.com/kazz187/cardflow/internal/config"
	"github.com/kazz187/cardflow/internal/event"
	"github.com/kazz187/cardflow/internal/pushnotification"
	"github.com/kazz187/cardflow/internal/task"
	"github.com/kazz187/cardflow/internal/workerapi"
	"github.com/kazz187/cardflow/pkg/cerr"
	"github.com/kazz187/cardflow/pkg/clog"
	"github.com/kazz187/cardflow/pkg/db"
)

// Mounter is implemented by every HTTP server package.
type Mounter interface {
	Mount(r chi.Router)
}

type Servers struct {
	Worker     *workerapi.Server
	Task       *task.Server
	Board      *board.Server
	Automation *automation.Server
	Comment    *comment.Server
	Event      *event.Server
	Push       *pushnotification.Server
}

func (s *Servers) all() []Mounter {
	return []Mounter{s.Worker, s.Task, s.Board, s.Automation, s.Comment, s.Event, s.Push}
}

type Server struct {
	server  *http.Server
	env     *config.Env
	db      *gorm.DB
	servers *Servers
}

func NewServer(env *config.Env, gdb *gorm.DB, servers *Servers) *Server {
	return &Server{
		env:     env,
		db:      gdb,
		servers: servers,
	}
}

// Handler builds the full HTTP handler: the JSON API under /api, /health
// and the gRPC health protocol.
func (s *Server) Handler() (http.Handler, error) {
	principals, err := s.env.Principals()
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Use(
			clog.SlogChiMiddleware(),
			cerr.NewConvertErrorChiMiddleware(),
			auth.Middleware(auth.APIKeys(principals)),
		)
		for _, m := range s.servers.all() {
			m.Mount(r)
		}
		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			cerr.SetNewJSONError(r.Context(), cerr.NotFound, "not found", nil)
		})
	})

	mux := http.NewServeMux()
	mux.Handle("/health", &HealthChecker{db: s.db})
	mux.Handle("/api/", r)
	mux.Handle(grpchealth.NewHandler(&HealthChecker{db: s.db}, connect.WithInterceptors(
		clog.NewSlogConnectUnaryInterceptor(clog.WithConnectFilter(clog.DefaultConnectHealthCheckUnaryFilter)),
	)))

	return h2c.NewHandler(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(mux), &http2.Server{}), nil
}

// ListenAndServe starts the HTTP server. ctx becomes the base context of
// every request so open event streams end when it is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}
	addr := net.JoinHostPort(s.env.HTTPHost, s.env.HTTPPort)
	slog.Info("starting server", "addr", addr)

	s.server = &http.Server{
		Addr:        addr,
		Handler:     handler,
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// HealthChecker reports serving while the database answers pings.
type HealthChecker struct {
	db *gorm.DB
}

var _ grpchealth.Checker = (*HealthChecker)(nil)

func (hc *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := db.Ping(r.Context(), hc.db); err != nil {
		slog.ErrorContext(r.Context(), "health check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (hc *HealthChecker) Check(ctx context.Context, _ *grpchealth.CheckRequest) (*grpchealth.CheckResponse, error) {
	if err := db.Ping(ctx, hc.db); err != nil {
		return &grpchealth.CheckResponse{Status: grpchealth.StatusNotServing}, nil
	}
	return &grpchealth.CheckResponse{Status: grpchealth.StatusServing}, nil
}
