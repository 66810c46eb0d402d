// Package server exposes the gateway over HTTP: the webhook ingress and a
// small admin surface for managing enabled providers.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/config"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/credentials"
	gw "github.com/edoardok-cmd/BoomCard-sub001/internal/gateway/domain"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/observability/logger"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/payment"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/pos"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/webhook"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

type Params struct {
	fx.In

	Log        *zap.Logger
	Cfg        config.Config
	GenID      *snowflake.Node
	Dispatcher *webhook.Dispatcher
	Payments   *payment.Manager
	POS        *pos.Manager
	Store      credentials.Store
}

type Server struct {
	log        *zap.Logger
	cfg        config.Config
	genID      *snowflake.Node
	dispatcher *webhook.Dispatcher
	payments   *payment.Manager
	pos        *pos.Manager
	store      credentials.Store
	limiter    *rateLimiter
}

func NewServer(p Params) *Server {
	return &Server{
		log:        p.Log.Named("server"),
		cfg:        p.Cfg,
		genID:      p.GenID,
		dispatcher: p.Dispatcher,
		payments:   p.Payments,
		pos:        p.POS,
		store:      p.Store,
		limiter:    newRateLimiter(p.Cfg.WebhookRateLimit, p.Cfg.WebhookRateWindow),
	}
}

func (s *Server) Router() *gin.Engine {
	if s.cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(logger.GinMiddleware(logger.MiddlewareConfig{
		GenID:     s.genID,
		SkipPaths: []string{"/healthz"},
	}))

	engine.GET("/healthz", s.Healthz)
	engine.POST("/webhooks/:provider", s.HandleWebhook)
	engine.GET("/providers", s.ListProviders)
	engine.POST("/providers/default", s.SetDefaultProvider)
	engine.DELETE("/providers/:family/:provider", s.DisconnectProvider)

	return engine
}

func (s *Server) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleWebhook reads the delivery verbatim and hands it to the dispatcher.
// The response body never explains a verification failure.
func (s *Server) HandleWebhook(c *gin.Context) {
	provider := c.Param("provider")

	if !s.limiter.Allow(provider) {
		c.JSON(http.StatusTooManyRequests, gin.H{"success": false, "message": "rate limited"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "unreadable body"})
		return
	}

	signature := c.GetHeader("X-Signature")
	if signature == "" {
		signature = c.GetHeader("Stripe-Signature")
	}

	result := s.dispatcher.Process(c.Request.Context(), provider, body, signature)
	switch {
	case result.Success:
		c.JSON(http.StatusOK, gin.H{"success": true, "message": result.Message})
	case errors.Is(result.Err, gw.ErrProviderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "unknown provider"})
	case errors.Is(result.Err, gw.ErrVerificationFailed):
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": result.Message})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": result.Message})
	}
}

func (s *Server) ListProviders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"payment": gin.H{
			"enabled": s.payments.EnabledProviders(),
			"default": s.payments.DefaultProvider(),
		},
		"pos": gin.H{
			"enabled": s.pos.EnabledProviders(),
		},
	})
}

type setDefaultRequest struct {
	Provider string `json:"provider"`
}

func (s *Server) SetDefaultProvider(c *gin.Context) {
	var req setDefaultRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Provider == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "provider is required"})
		return
	}

	if err := s.payments.SetDefaultProvider(req.Provider); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err := s.store.SetDefault(c.Request.Context(), credentials.FamilyPayment, req.Provider); err != nil {
		s.log.Error("persisting default provider failed",
			zap.String("provider", req.Provider), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "default not persisted"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"default": req.Provider})
}

func (s *Server) DisconnectProvider(c *gin.Context) {
	family := c.Param("family")
	provider := c.Param("provider")

	var err error
	switch family {
	case credentials.FamilyPayment:
		err = s.payments.Disconnect(provider)
	case credentials.FamilyPOS:
		err = s.pos.Disconnect(provider)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown provider family"})
		return
	}
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	if err := s.store.Delete(c.Request.Context(), family, provider); err != nil && !errors.Is(err, credentials.ErrNotFound) {
		s.log.Warn("credential row removal failed",
			zap.String("family", family), zap.String("provider", provider), zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{"disconnected": provider})
}

var Module = fx.Module("server",
	fx.Provide(NewServer),
	fx.Invoke(func(lc fx.Lifecycle, s *Server) {
		srv := &http.Server{
			Addr:    s.cfg.ListenAddr,
			Handler: s.Router(),
		}
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						s.log.Error("http server stopped", zap.Error(err))
					}
				}()
				s.log.Info("http server listening", zap.String("addr", s.cfg.ListenAddr))
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return srv.Shutdown(ctx)
			},
		})
	}),
)
