// Package server exposes the CRM facade over HTTP: field metadata, duplicate
// detection, record listing/CRUD, user listing and Excel template export.
package server

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Dependencies configures the HTTP handler.
type Dependencies struct {
	Logger          *zap.Logger
	DefaultBaseURL  string
	AllowedOrigins  []string
	UpstreamTimeout time.Duration
	UserCacheTTL    time.Duration
	PageDelay       time.Duration
}

// NewHTTPHandler wires middleware, routes and the per-endpoint facade registry.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	handler := &httpHandler{
		registry:    newFacadeRegistry(logger, deps.UpstreamTimeout, deps.UserCacheTTL, deps.PageDelay),
		defaultBase: deps.DefaultBaseURL,
		logger:      logger,
	}

	router.GET("/health", handler.handleHealth)

	router.GET("/fields/:entity", handler.handleFields)
	router.GET("/fields/:entity/duplicates", handler.handleDuplicates)
	router.POST("/fields/delete", handler.handleDeleteUserfields)

	router.GET("/users", handler.handleUsers)

	router.GET("/list/:entity", handler.handleList)

	// gin's route tree cannot mix a static segment with a parameter at the
	// same position, so the auxiliary fetch endpoints live under /fetch.
	router.GET("/fetch/single", handler.handleGetSingle)
	router.GET("/fetch/multiple", handler.handleGetMultiple)
	router.POST("/fetch/file", handler.handleGetByFile)
	router.GET("/get/:entity/:id", handler.handleGet)

	router.POST("/update/:entity/:id", handler.handleUpdate)
	router.POST("/delete/:entity/:id", handler.handleDelete)

	router.GET("/template/:entity", handler.handleTemplate)
	router.POST("/template/custom/:entity", handler.handleCustomTemplate)

	return router, nil
}

type httpHandler struct {
	registry    *facadeRegistry
	defaultBase string
	logger      *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// facade resolves the webhook base for this request: the explicit base query
// parameter wins, falling back to the configured default.
func (h *httpHandler) facade(c *gin.Context) (*facade, bool) {
	base := c.Query("base")
	if base == "" {
		base = h.defaultBase
	}

	bound, err := h.registry.facadeFor(base)
	if err != nil {
		respondFailure(c, http.StatusBadRequest, "missing_base", "webhook base URL required (base query parameter)")
		return nil, false
	}
	return bound, true
}
