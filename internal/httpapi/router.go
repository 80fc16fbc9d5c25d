// Package httpapi административный HTTP API гейткипера и точка сбора метрик.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/arzzra/h323/pkg/gatekeeper"
	"github.com/arzzra/h323/pkg/h225"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Gatekeeper операции сервера, доступные через API
type Gatekeeper interface {
	ID() string
	Endpoints() []*gatekeeper.RegisteredEndpoint
	Endpoint(id string) (*gatekeeper.RegisteredEndpoint, bool)
	Calls() []*gatekeeper.Call
	Bandwidth() *gatekeeper.BandwidthPool
	Unregister(ctx context.Context, id string) error
	Disengage(ctx context.Context, callID h225.GUID) error
}

// Options параметры роутера
type Options struct {
	// Mode режим gin: release или debug
	Mode     string
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
	// RequestTimeout ограничение принудительных URQ/DRQ
	RequestTimeout time.Duration
}

type handlers struct {
	gk      Gatekeeper
	logger  *slog.Logger
	timeout time.Duration
}

// NewRouter создает gin роутер API
func NewRouter(gk Gatekeeper, opts Options) *gin.Engine {
	if opts.Mode == "" || opts.Mode == gin.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	h := &handlers{gk: gk, logger: opts.Logger.With(slog.String("component", "httpapi")), timeout: opts.RequestTimeout}

	r := gin.New()
	if opts.Mode == gin.DebugMode {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", h.health)
	if opts.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api/v1")
	api.GET("/endpoints", h.listEndpoints)
	api.GET("/endpoints/:id", h.getEndpoint)
	api.DELETE("/endpoints/:id", h.unregister)
	api.GET("/calls", h.listCalls)
	api.DELETE("/calls/:id", h.disengage)
	api.GET("/bandwidth", h.bandwidth)
	return r
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "gatekeeper_id": h.gk.ID()})
}

func (h *handlers) listEndpoints(c *gin.Context) {
	eps := h.gk.Endpoints()
	out := make([]EndpointView, 0, len(eps))
	for _, e := range eps {
		out = append(out, endpointView(e))
	}
	c.JSON(http.StatusOK, out)
}

func (h *handlers) getEndpoint(c *gin.Context) {
	e, ok := h.gk.Endpoint(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
		return
	}
	c.JSON(http.StatusOK, endpointView(e))
}

func (h *handlers) unregister(c *gin.Context) {
	id := c.Param("id")
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()
	err := h.gk.Unregister(ctx, id)
	h.logger.Info("handlers.unregister", slog.String("endpoint_id", id), slog.Any("error", err))
	h.respond(c, err)
}

func (h *handlers) listCalls(c *gin.Context) {
	calls := h.gk.Calls()
	out := make([]CallView, 0, len(calls))
	for _, call := range calls {
		out = append(out, callView(call))
	}
	c.JSON(http.StatusOK, out)
}

func (h *handlers) disengage(c *gin.Context) {
	id, err := h225.ParseGUID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid call id"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()
	err = h.gk.Disengage(ctx, id)
	h.logger.Info("handlers.disengage", slog.String("call_id", id.String()), slog.Any("error", err))
	h.respond(c, err)
}

func (h *handlers) bandwidth(c *gin.Context) {
	p := h.gk.Bandwidth()
	c.JSON(http.StatusOK, BandwidthView{Total: p.Total(), Used: p.Used(), Available: p.Available()})
}

// respond: точка или вызов удаляются и без ответа на URQ/DRQ,
// таймаут ответа возвращается как 202 с предупреждением
func (h *handlers) respond(c *gin.Context, err error) {
	switch {
	case err == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(err, gatekeeper.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusAccepted, gin.H{"warning": err.Error()})
	}
}
