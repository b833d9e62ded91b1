package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/annel0/world-templates/internal/auth"
	"github.com/annel0/world-templates/internal/logging"
	"github.com/annel0/world-templates/internal/middleware"
	"github.com/annel0/world-templates/internal/orchestrator"
	"github.com/annel0/world-templates/internal/template"
	"github.com/annel0/world-templates/internal/world"
	"github.com/annel0/world-templates/internal/worldfs"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RecordLister реестр, из которого API читает зарегистрированные миры
type RecordLister interface {
	List(ctx context.Context) ([]world.Record, error)
}

// RestServer административный HTTP API шаблонов миров
type RestServer struct {
	router   *gin.Engine
	server   *http.Server
	listener net.Listener

	orch     *orchestrator.Orchestrator
	store    *template.Store
	registry RecordLister
	tokens   *auth.TokenManager
	excl     worldfs.ExclusionSet
	metrics  *ServerMetrics
	timeout  time.Duration
	log      *logging.Logger
}

// Config содержит конфигурацию для REST сервера
type Config struct {
	Addr         string                     // адрес прослушивания, по умолчанию ":8080"
	Orchestrator *orchestrator.Orchestrator // обязателен
	Store        *template.Store            // обязателен
	Registry     RecordLister               // nil = миры только из оркестратора
	Tokens       *auth.TokenManager         // nil = API без авторизации
	Exclusions   worldfs.ExclusionSet       // исключения при экспорте архива
	Registerer   prometheus.Registerer      // nil = DefaultRegisterer
	Gatherer     prometheus.Gatherer        // nil = без /metrics
	OpTimeout    time.Duration              // ожидание Future в обработчике, по умолчанию 5 минут
}

// NewRestServer создает новый REST API сервер
func NewRestServer(cfg Config) (*RestServer, error) {
	if cfg.Orchestrator == nil || cfg.Store == nil {
		return nil, errors.New("api: orchestrator and store are required")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 5 * time.Minute
	}

	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	log := logging.GetComponentLogger(logging.ComponentAPI)
	router.Use(middleware.NewRequestLogger(log).Handler())
	router.Use(otelgin.Middleware("worldtpl_api"))

	promMw, err := middleware.NewPrometheusMiddleware("worldtpl_api", cfg.Registerer)
	if err != nil {
		return nil, err
	}
	router.Use(promMw.Handler())
	if cfg.Gatherer != nil {
		promMw.RegisterMetricsEndpoint(router, cfg.Gatherer)
	}

	rs := &RestServer{
		router:   router,
		orch:     cfg.Orchestrator,
		store:    cfg.Store,
		registry: cfg.Registry,
		tokens:   cfg.Tokens,
		excl:     cfg.Exclusions,
		metrics:  NewServerMetrics(cfg.Store),
		timeout:  cfg.OpTimeout,
		log:      log,
	}
	rs.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.Tokens == nil {
		log.Warn("⚠️ API запущен без авторизации: api.jwt_secret не задан")
	}

	rs.setupRoutes()
	return rs, nil
}

// setupRoutes настраивает маршруты REST API
func (rs *RestServer) setupRoutes() {
	rs.router.GET("/health", rs.handleHealth)

	api := rs.router.Group("/api")
	api.Use(rs.jwtMiddleware())
	{
		api.GET("/server", rs.handleServerInfo)
		api.GET("/templates", rs.handleListTemplates)
		api.GET("/templates/:name/archive", rs.handleExportTemplate)
		api.GET("/worlds", rs.handleListWorlds)

		// Изменяющие операции (только для админов)
		admin := api.Group("/")
		admin.Use(rs.adminMiddleware())
		{
			admin.POST("/templates", rs.handleCreateTemplate)
			admin.DELETE("/templates/:name", rs.handleDeleteTemplate)
			admin.POST("/templates/:name/load", rs.handleLoadTemplate)
			admin.PUT("/templates/:name/archive", rs.handleImportTemplate)
			admin.DELETE("/worlds/:name", rs.handleForgetWorld)
		}
	}
}

// Handler возвращает http.Handler сервера (для тестов и встраивания)
func (rs *RestServer) Handler() http.Handler {
	return rs.router
}

// Start начинает принимать соединения в фоне
func (rs *RestServer) Start() error {
	ln, err := net.Listen("tcp", rs.server.Addr)
	if err != nil {
		return err
	}
	rs.listener = ln

	go func() {
		if err := rs.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rs.log.Error("❌ REST API остановлен с ошибкой: %v", err)
		}
	}()
	rs.log.Info("🌐 REST API слушает %s", ln.Addr())
	return nil
}

// Addr возвращает фактический адрес после Start
func (rs *RestServer) Addr() string {
	if rs.listener == nil {
		return rs.server.Addr
	}
	return rs.listener.Addr().String()
}

// Stop корректно останавливает сервер
func (rs *RestServer) Stop(ctx context.Context) error {
	return rs.server.Shutdown(ctx)
}
