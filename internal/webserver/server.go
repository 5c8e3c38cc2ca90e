package webserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/debocaemboca/wabot/config"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// HealthText is the body served on GET /.
const HealthText = "Servidor está rodando! Chatbot WhatsApp DeBocaEmBoca."

// WebServer serves the liveness endpoint.
type WebServer struct {
	root *echo.Echo
	addr string
}

func NewWebServer(cfg config.WebConfig) *WebServer {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			zap.L().Debug("webserver: request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency))
			return nil
		},
	}))
	e.GET("/", health)
	return &WebServer{root: e, addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)}
}

// Handler exposes the router for tests.
func (s *WebServer) Handler() http.Handler {
	return s.root
}

func health(c echo.Context) error {
	return c.String(http.StatusOK, HealthText)
}

// Start listens until ctx is done, then shuts down gracefully.
func (s *WebServer) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("webserver: listening", zap.String("addr", s.addr))
		errCh <- s.root.Start(s.addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "webserver")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.root.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "webserver shutdown")
	}
	zap.L().Info("webserver: stopped")
	return nil
}
