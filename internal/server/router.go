package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/loykin/svcmgr/internal/service"
)

// Controller is the part of the manager the API drives.
type Controller interface {
	Names() []string
	Status(name string) service.Status
	Statuses() []service.Status
	Start(name string) error
	Stop(name string) error
	Restart(name string) error
	Enable(name string) error
	Disable(name string) error
	ResetRestartCount(name string) error
	StartAll() error
	StopAll() error
	Reload() error
}

// Router provides embeddable HTTP handlers for managing services.
// Endpoints (relative to basePath):
//
//	GET  /healthz
//	GET  /events            (websocket; controller must implement EventSource)
//	GET  /services
//	GET  /services/:name
//	POST /services/:name/{start,stop,restart,enable,disable,reset}
//	POST /start-all
//	POST /stop-all
//	POST /reload
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	mgr      Controller
	basePath string
	limiter  *rate.Limiter
}

// Option customizes a Router.
type Option func(*Router)

// WithRateLimit caps POST requests at perSecond with the given burst.
// Requests over the limit get 429. perSecond <= 0 leaves them unlimited.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(r *Router) {
		if perSecond <= 0 {
			r.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/api" results in /api/services, /api/start-all, ...
func NewRouter(mgr Controller, basePath string, opts ...Option) *Router {
	r := &Router{mgr: mgr, basePath: mountPath(basePath)}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	r.Register(g.Group(r.basePath))
	return g
}

// Register attaches the routes to an existing gin group.
func (r *Router) Register(group *gin.RouterGroup) {
	group.GET("/healthz", r.handleHealth)
	group.GET("/events", r.handleEvents)
	group.GET("/services", r.handleList)
	group.GET("/services/:name", r.handleStatus)
	svc := group.Group("/services/:name", r.limit)
	svc.POST("/start", r.action(r.mgr.Start))
	svc.POST("/stop", r.action(r.mgr.Stop))
	svc.POST("/restart", r.action(r.mgr.Restart))
	svc.POST("/enable", r.action(r.mgr.Enable))
	svc.POST("/disable", r.action(r.mgr.Disable))
	svc.POST("/reset", r.action(r.mgr.ResetRestartCount))
	group.POST("/start-all", r.limit, r.batch(r.mgr.StartAll))
	group.POST("/stop-all", r.limit, r.batch(r.mgr.StopAll))
	group.POST("/reload", r.limit, r.batch(r.mgr.Reload))
}

func (r *Router) limit(c *gin.Context) {
	if r.limiter != nil && !r.limiter.Allow() {
		failWith(c, http.StatusTooManyRequests, "rate limit exceeded")
		c.Abort()
		return
	}
	c.Next()
}

// NewServer returns an HTTP server for addr using this router. The caller
// runs and shuts it down.
func NewServer(addr, basePath string, mgr Controller, opts ...Option) *http.Server {
	r := NewRouter(mgr, basePath, opts...)
	return &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// stop and restart block for the shutdown grace period
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

// ServiceEntry is one element of the list response.
type ServiceEntry struct {
	Name   string         `json:"name"`
	Status service.Status `json:"status"`
}

func (r *Router) handleHealth(c *gin.Context) {
	respond(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleList(c *gin.Context) {
	sts := r.mgr.Statuses()
	out := make([]ServiceEntry, len(sts))
	for i, st := range sts {
		out[i] = ServiceEntry{Name: st.Name, Status: st}
	}
	respond(c, http.StatusOK, out)
}

// handleStatus never fails: unknown names yield the Unknown placeholder.
func (r *Router) handleStatus(c *gin.Context) {
	respond(c, http.StatusOK, r.mgr.Status(c.Param("name")))
}

func (r *Router) action(op func(string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		if err := checkName(name); err != nil {
			failWith(c, http.StatusBadRequest, err.Error())
			return
		}
		if err := op(name); err != nil {
			fail(c, err)
			return
		}
		respond(c, http.StatusOK, r.mgr.Status(name))
	}
}

func (r *Router) batch(op func() error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := op(); err != nil {
			fail(c, err)
			return
		}
		respond(c, http.StatusOK, okResp{OK: true})
	}
}
