// Package api exposes the catalog over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"smartdeals/internal/catalog"
	"smartdeals/internal/metrics"
	"smartdeals/internal/model"
	"smartdeals/internal/normalize"
	"smartdeals/internal/reconcile"
)

// MaxWait caps the ?wait= budget of a lookup.
const MaxWait = 30 * time.Second

type Catalog interface {
	GetAll() []model.Product
	GetByID(id string) (model.Product, bool)
	Await(ctx context.Context, id string) (model.Product, bool)
	Generation() uint64
	Len() int
	Ready() <-chan struct{}
}

type Reconciler interface {
	Run(ctx context.Context) (reconcile.Result, error)
	Upsert(generation uint64, raw model.RawProduct) (model.Product, error)
	State() reconcile.State
	Last() reconcile.Result
}

type Handler struct {
	cat     Catalog
	rec     Reconciler
	metrics *metrics.Registry
	log     zerolog.Logger
}

func NewHandler(cat Catalog, rec Reconciler, m *metrics.Registry, log zerolog.Logger) *Handler {
	return &Handler{cat: cat, rec: rec, metrics: m, log: log.With().Str("component", "api").Logger()}
}

// Router builds the gin engine with every route registered.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.accessLog())

	r.GET("/healthz", h.Health)
	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	}
	api := r.Group("/api")
	api.GET("/products", h.ListProducts)
	api.GET("/products/:id", h.GetProduct)
	api.PUT("/products", h.UpsertProduct)
	api.POST("/refresh", h.Refresh)
	api.GET("/status", h.Status)
	return r
}

func (h *Handler) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListProducts returns the catalog in order, optionally narrowed by
// ?category= and ?featured=.
func (h *Handler) ListProducts(c *gin.Context) {
	list := h.cat.GetAll()
	category := strings.ToLower(strings.TrimSpace(c.Query("category")))
	featuredParam := c.Query("featured")
	var featured, filterFeatured bool
	if featuredParam != "" {
		v, err := strconv.ParseBool(featuredParam)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "featured must be a boolean"})
			return
		}
		featured, filterFeatured = v, true
	}
	out := make([]model.Product, 0, len(list))
	for _, p := range list {
		if category != "" && p.Category != category {
			continue
		}
		if filterFeatured && p.Featured != featured {
			continue
		}
		out = append(out, p)
	}
	c.Header("X-Catalog-Generation", strconv.FormatUint(h.cat.Generation(), 10))
	c.JSON(http.StatusOK, gin.H{"products": out, "count": len(out)})
}

// GetProduct looks a product up by id. With ?wait=<duration> it waits for
// the first load and later changes until the id shows up.
func (h *Handler) GetProduct(c *gin.Context) {
	id := c.Param("id")
	var (
		p  model.Product
		ok bool
	)
	if w := c.Query("wait"); w != "" {
		d, err := time.ParseDuration(w)
		if err != nil || d < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "wait must be a positive duration"})
			return
		}
		if d > MaxWait {
			d = MaxWait
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		p, ok = h.cat.Await(ctx, id)
	} else {
		p, ok = h.cat.GetByID(id)
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "product not found", "id": id})
		return
	}
	c.JSON(http.StatusOK, p)
}

// UpsertProduct writes one raw record. ?generation= guards against a catalog
// replaced after the caller last read it.
func (h *Handler) UpsertProduct(c *gin.Context) {
	var gen uint64
	if g := c.Query("generation"); g != "" {
		v, err := strconv.ParseUint(g, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "generation must be an unsigned integer"})
			return
		}
		gen = v
	}
	var raw model.RawProduct
	if err := c.ShouldBindJSON(&raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + err.Error()})
		return
	}
	p, err := h.rec.Upsert(gen, raw)
	if err != nil {
		switch {
		case errors.Is(err, catalog.ErrStaleWrite):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "generation": h.cat.Generation()})
		case errors.Is(err, normalize.ErrMalformedRecord):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		default:
			h.log.Error().Err(err).Msg("upsert failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to upsert product"})
		}
		return
	}
	c.Header("X-Catalog-Generation", strconv.FormatUint(h.cat.Generation(), 10))
	c.JSON(http.StatusOK, p)
}

// Refresh re-runs reconciliation.
func (h *Handler) Refresh(c *gin.Context) {
	res, err := h.rec.Run(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Status(c *gin.Context) {
	ready := false
	select {
	case <-h.cat.Ready():
		ready = true
	default:
	}
	c.JSON(http.StatusOK, gin.H{
		"state":      h.rec.State(),
		"ready":      ready,
		"count":      h.cat.Len(),
		"generation": h.cat.Generation(),
		"last":       h.rec.Last(),
	})
}

// Serve runs srv until ctx ends, then shuts it down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, log zerolog.Logger) error {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("http listening")
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
