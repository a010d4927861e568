// Package server exposes the flow engine and extraction pipeline over
// HTTP. The wire shapes follow the original form client: /answer
// signals termination with {"end": true}, /extract_project_data wraps
// its result in a "data" envelope.
package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/solterra/agroform/internal/catalog"
	"github.com/solterra/agroform/internal/enrich"
	"github.com/solterra/agroform/internal/extract"
	"github.com/solterra/agroform/internal/flow"
	"github.com/solterra/agroform/internal/logger"
)

// RouterConfig wires the handler dependencies.
type RouterConfig struct {
	Catalog     *catalog.Catalog
	Engine      *flow.Engine
	Pipeline    *extract.Pipeline
	Enricher    *enrich.Enricher
	Log         *logger.Logger
	CORSOrigins []string
}

// NewRouter builds the gin engine with CORS, recovery, and request
// logging.
func NewRouter(cfg RouterConfig) *gin.Engine {
	log := cfg.Log
	if log == nil {
		log = logger.NewNop()
	}
	h := &handler{
		catalog:  cfg.Catalog,
		engine:   cfg.Engine,
		pipeline: cfg.Pipeline,
		enricher: cfg.Enricher,
		log:      log,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(log))

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "X-Requested-With"},
	}))

	router.GET("/health", h.health)

	router.POST("/start", h.start)
	router.POST("/answer", h.answer)
	router.POST("/edit", h.edit)

	router.GET("/sessions/:id/answers", h.answers)
	router.GET("/sessions/:id/history", h.history)
	router.DELETE("/sessions/:id", h.deleteSession)

	router.POST("/generate_question", h.generateQuestion)
	router.POST("/extract_project_data", h.extractProjectData)

	return router
}
