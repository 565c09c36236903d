package httpserver

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ttlpaste/internal/metrics"
	"ttlpaste/internal/paste"
	"ttlpaste/internal/storage"
	"ttlpaste/web"
)

// PasteService is the subset of *paste.Service the handlers use.
type PasteService interface {
	Create(ctx context.Context, req paste.CreateRequest) (*storage.Paste, error)
	FetchAndConsume(ctx context.Context, id string) (*paste.Consumed, error)
	Healthcheck(ctx context.Context) error
	MaxBytes() int
	Now(ctx context.Context) time.Time
}

// Config captures server configuration.
type Config struct {
	Service      PasteService
	Logger       *slog.Logger
	AccessLogger *httplog.Logger
	BaseURL      string
	TrustProxy   bool
	TestMode     bool
	CORSOrigins  []string
	Metrics      *metrics.Metrics
	Gatherer     prometheus.Gatherer
}

// Server wraps HTTP handling logic.
type Server struct {
	svc          PasteService
	router       chi.Router
	templates    *template.Template
	maxBytes     int
	trustProxy   bool
	testMode     bool
	corsOrigins  []string
	baseURL      *url.URL
	logger       *slog.Logger
	accessLogger *httplog.Logger
	metrics      *metrics.Metrics
	gatherer     prometheus.Gatherer
}

// New constructs a new Server instance.
func New(cfg Config) (*Server, error) {
	if cfg.Service == nil {
		return nil, errors.New("paste service required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	tmpl, err := template.New("layout").Funcs(template.FuncMap{
		"formatSize": formatSize,
	}).ParseFS(web.Templates, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	var parsedBase *url.URL
	if cfg.BaseURL != "" {
		parsedBase, err = url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid base url: %w", err)
		}
		if parsedBase.Scheme == "" || parsedBase.Host == "" {
			return nil, errors.New("base url must include scheme and host")
		}
		parsedBase.Path = strings.TrimSuffix(parsedBase.Path, "/")
	}

	srv := &Server{
		svc:          cfg.Service,
		router:       chi.NewRouter(),
		templates:    tmpl,
		maxBytes:     cfg.Service.MaxBytes(),
		trustProxy:   cfg.TrustProxy,
		testMode:     cfg.TestMode,
		corsOrigins:  cfg.CORSOrigins,
		baseURL:      parsedBase,
		logger:       cfg.Logger,
		accessLogger: cfg.AccessLogger,
		metrics:      cfg.Metrics,
		gatherer:     cfg.Gatherer,
	}
	srv.routes()
	return srv, nil
}

// Handler returns the underlying router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	if s.trustProxy {
		r.Use(middleware.RealIP)
	}
	if s.accessLogger != nil {
		r.Use(httplog.RequestLogger(s.accessLogger))
	}
	r.Use(middleware.Recoverer)
	r.Use(s.metrics.Middleware)
	r.Use(middleware.Compress(5, "text/html", "text/plain", "text/css", "application/json"))
	if s.testMode {
		r.Use(s.testClock)
	}

	r.NotFound(s.notFound)

	fileServer := http.FileServer(http.FS(web.Static))
	r.Handle("/static/*", fileServer)

	r.Get("/", s.handleIndex)
	r.Route("/p/{id}", func(pr chi.Router) {
		pr.Get("/", s.handleView)
		pr.Get("/raw", s.handleRaw)
	})

	r.Route("/api", func(ar chi.Router) {
		if len(s.corsOrigins) > 0 {
			ar.Use(cors.Handler(cors.Options{
				AllowedOrigins: s.corsOrigins,
				AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
				AllowedHeaders: []string{"Accept", "Content-Type", testNowHeader},
				MaxAge:         300,
			}))
		}
		ar.NotFound(s.apiNotFound)
		ar.Get("/healthz", s.handleHealthz)
		ar.Post("/pastes", s.handleCreate)
		ar.Get("/pastes/{id}", s.handleFetch)
	})

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

func (s *Server) isSecureRequest(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if s.baseURL != nil && s.baseURL.Scheme == "https" {
		return true
	}
	if s.trustProxy {
		proto := strings.ToLower(r.Header.Get("X-Forwarded-Proto"))
		if proto == "https" {
			return true
		}
	}
	return false
}

func (s *Server) canonicalURL(r *http.Request, id string) string {
	if s.baseURL != nil {
		u := *s.baseURL
		if id != "" {
			u.Path = strings.TrimSuffix(u.Path, "/") + "/p/" + id
		}
		return u.String()
	}

	scheme := "http"
	if s.isSecureRequest(r) {
		scheme = "https"
	}
	host := r.Host
	if host == "" {
		host = "localhost"
	}
	path := "/"
	if id != "" {
		path = "/p/" + id
	}
	return fmt.Sprintf("%s://%s%s", scheme, host, path)
}

func formatSize(size int) string {
	if size < 1024 {
		return fmt.Sprintf("%d B", size)
	}
	const unit = 1024.0
	kb := float64(size)
	for _, suffix := range []string{"KB", "MB", "GB"} {
		kb /= unit
		if kb < unit {
			return fmt.Sprintf("%.1f %s", kb, suffix)
		}
	}
	return fmt.Sprintf("%d B", size)
}
