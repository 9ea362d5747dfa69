// Package router assembles the gin engine of the costalloc API.
package router

import (
	"github.com/erp/costalloc/internal/infrastructure/logger"
	"github.com/erp/costalloc/internal/interfaces/http/handler"
	"github.com/erp/costalloc/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// RouteRegistrar defines the interface for registering routes
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// Router manages HTTP route registration
type Router struct {
	engine     *gin.Engine
	apiVersion string
	registrars []RouteRegistrar
}

// RouterOption is a functional option for Router configuration
type RouterOption func(*Router)

// WithAPIVersion sets the API version prefix (e.g., "v1", "v2")
func WithAPIVersion(version string) RouterOption {
	return func(r *Router) {
		r.apiVersion = version
	}
}

// NewRouter creates a new Router instance
func NewRouter(engine *gin.Engine, opts ...RouterOption) *Router {
	r := &Router{
		engine:     engine,
		apiVersion: "v1",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a RouteRegistrar to be registered later
func (r *Router) Register(registrar RouteRegistrar) *Router {
	r.registrars = append(r.registrars, registrar)
	return r
}

// Setup registers all routes under /api/{version}
func (r *Router) Setup() {
	api := r.engine.Group("/api/" + r.apiVersion)
	for _, registrar := range r.registrars {
		registrar.RegisterRoutes(api)
	}
}

// DomainGroup creates a route group for a specific domain
type DomainGroup struct {
	name       string
	prefix     string
	routes     []routeDefinition
	middleware []gin.HandlerFunc
}

type routeDefinition struct {
	method   string
	path     string
	handlers []gin.HandlerFunc
}

// NewDomainGroup creates a new domain-specific route group
func NewDomainGroup(name, prefix string) *DomainGroup {
	return &DomainGroup{name: name, prefix: prefix}
}

// Use adds middleware to this group
func (dg *DomainGroup) Use(middleware ...gin.HandlerFunc) *DomainGroup {
	dg.middleware = append(dg.middleware, middleware...)
	return dg
}

// GET registers a GET route
func (dg *DomainGroup) GET(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	dg.routes = append(dg.routes, routeDefinition{method: "GET", path: path, handlers: handlers})
	return dg
}

// POST registers a POST route
func (dg *DomainGroup) POST(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	dg.routes = append(dg.routes, routeDefinition{method: "POST", path: path, handlers: handlers})
	return dg
}

// RegisterRoutes implements RouteRegistrar interface
func (dg *DomainGroup) RegisterRoutes(rg *gin.RouterGroup) {
	group := rg.Group(dg.prefix)
	if len(dg.middleware) > 0 {
		group.Use(dg.middleware...)
	}
	for _, route := range dg.routes {
		group.Handle(route.method, route.path, route.handlers...)
	}
}

// Name returns the group name
func (dg *DomainGroup) Name() string {
	return dg.name
}

// Prefix returns the group prefix
func (dg *DomainGroup) Prefix() string {
	return dg.prefix
}

// Config holds the engine settings
type Config struct {
	ServiceName    string
	MaxBodySize    int64
	CORS           middleware.CORSConfig
	TracingEnabled bool
	// Meter records HTTP metrics when set
	Meter metric.Meter
}

// Handlers are the endpoint handlers mounted by New
type Handlers struct {
	Ingest    *handler.IngestHandler
	Recompute *handler.RecomputeHandler
	JobStatus *handler.JobStatusHandler
	System    *handler.SystemHandler
}

// New builds the engine with the middleware chain and every route.
// /health stays outside /api/v1 so health checks need no version.
func New(cfg Config, h Handlers, log *zap.Logger) *gin.Engine {
	middleware.SetupValidator()

	engine := gin.New()
	engine.Use(
		middleware.TracingWithConfig(middleware.TracingConfig{ServiceName: cfg.ServiceName, Enabled: cfg.TracingEnabled}),
		logger.GinMiddleware(log),
		logger.Recovery(log),
		middleware.SpanEnricher(),
		middleware.HTTPMetrics(cfg.Meter, log),
		middleware.CORSWithConfig(cfg.CORS),
	)

	engine.GET("/health", h.System.Health)

	ingestGroup := NewDomainGroup("ingest", "").
		Use(middleware.BodyLimit(cfg.MaxBodySize)).
		POST("/load_data", h.Ingest.LoadData)

	costsGroup := NewDomainGroup("costs", "/costs").
		POST("/recalculate", h.Recompute.Recalculate)

	jobsGroup := NewDomainGroup("jobs", "/jobs").
		GET("/:name", h.JobStatus.GetJobStatus)

	systemGroup := NewDomainGroup("system", "/system").
		GET("/info", h.System.GetSystemInfo)

	NewRouter(engine).
		Register(ingestGroup).
		Register(costsGroup).
		Register(jobsGroup).
		Register(systemGroup).
		Setup()

	return engine
}
