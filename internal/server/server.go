// Package server assembles the HTTP engine: middleware, page routes and
// the JSON API.
package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"gorm.io/gorm"

	"github.com/nexevent/nexevent/internal/apierr"
	"github.com/nexevent/nexevent/internal/auth"
	"github.com/nexevent/nexevent/internal/config"
	"github.com/nexevent/nexevent/internal/i18n"
	"github.com/nexevent/nexevent/internal/metrics"
	"github.com/nexevent/nexevent/internal/services/account"
	"github.com/nexevent/nexevent/internal/services/booking"
	"github.com/nexevent/nexevent/internal/services/event"
	"github.com/nexevent/nexevent/internal/services/pages"
	"github.com/nexevent/nexevent/internal/validation"
)

type routable interface {
	SetupRoutes(r *gin.Engine)
}

// New builds the engine serving every route of the application.
func New(cfg *config.Config, db *gorm.DB, store auth.Store) *gin.Engine {
	tr := i18n.NewTranslator(cfg.DefaultLocale)
	v := validation.New(cfg, tr)
	authenticator := auth.NewAuthenticator(cfg, db, store)

	r := gin.New()
	r.Use(gin.Logger(), apierr.Recovery())
	r.Use(CORS(cfg.AllowedOrigins))
	r.Use(metrics.Middleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	services := []routable{
		account.NewService(cfg, db, authenticator, v, tr),
		event.NewService(cfg, db, authenticator, v, tr),
		booking.NewService(db, authenticator, tr),
		pages.NewService(cfg, authenticator),
	}
	for _, s := range services {
		s.SetupRoutes(r)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
	return r
}

// CORS answers preflight requests for the allowed origins and decorates
// the rest.
func CORS(origins []string) gin.HandlerFunc {
	handler := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
	})

	return func(c *gin.Context) {
		handler.HandlerFunc(c.Writer, c.Request)
		if c.Request.Method == http.MethodOptions && c.GetHeader("Access-Control-Request-Method") != "" {
			c.AbortWithStatus(http.StatusNoContent)
		}
	}
}
