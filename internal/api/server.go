// Package api exposes the review engine over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/reviewdeck/internal/background"
	"github.com/reviewdeck/internal/events"
	"github.com/reviewdeck/internal/host"
	"github.com/reviewdeck/internal/matrix"
	"github.com/reviewdeck/internal/publish"
	"github.com/reviewdeck/internal/review"
)

// Server is the HTTP front of the review engine.
type Server struct {
	echo *echo.Echo
	port int

	store     review.Store
	host      host.Host
	builder   *matrix.Builder
	publisher *publish.Publisher
	actions   *background.Actions
}

// NewServer wires the HTTP routes over the given collaborators.
func NewServer(port int, store review.Store, h host.Host, bus events.Bus, actions *background.Actions) *Server {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	server := &Server{
		echo:      e,
		port:      port,
		store:     store,
		host:      h,
		builder:   matrix.NewBuilder(store, h),
		publisher: publish.NewPublisher(store, h, bus),
		actions:   actions,
	}

	server.setupRoutes()

	return server
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	v1 := s.echo.Group("/api/v1")

	rev := v1.Group("/project/:projectId/review/:reviewId")
	rev.GET("", s.getReviewInfo)
	rev.POST("/publish", s.publishReview)
	rev.POST("/reconcile", s.reconcileReview)
	rev.GET("/status", s.getCommitStatus)
	rev.POST("/merge", s.mergeReview)
}

// Start runs the server until interrupted, then shuts down gracefully.
func (s *Server) Start() error {
	go func() {
		if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && err != http.ErrServerClosed {
			s.echo.Logger.Fatal("shutting down the server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.echo.Shutdown(ctx)
}
