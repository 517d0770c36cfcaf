// Package httpapi is the gin HTTP surface for customers, merchants, couriers and reviewers.
// Every route except /healthz and /metrics requires a tauth session; the session user is the
// acting party.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/dispatchledger/internal/telemetry"
	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/dispatch"
	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/funding"
	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/ledger"
	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/orders"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

const (
	claimsContextKey      = "auth_claims"
	defaultRequestTimeout = 5 * time.Second
	shutdownTimeout       = 5 * time.Second
)

// Services bundles the domain services the handlers call.
type Services struct {
	Orders   *orders.Service
	Ledger   *ledger.Service
	Funding  *funding.Service
	Dispatch *dispatch.Engine
}

// RouterConfig carries the HTTP-level settings.
type RouterConfig struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// NewRouter wires the routes. metrics may be nil, in which case /metrics is not served.
func NewRouter(cfg RouterConfig, services Services, validator *sessionvalidator.Validator, logger *zap.Logger, metrics *telemetry.Metrics) (*gin.Engine, error) {
	switch {
	case services.Orders == nil, services.Ledger == nil, services.Funding == nil, services.Dispatch == nil:
		return nil, errors.New("httpapi: every service is required")
	case validator == nil:
		return nil, errors.New("httpapi: session validator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	handler := &httpHandler{
		logger:   logger,
		orders:   services.Orders,
		ledger:   services.Ledger,
		funding:  services.Funding,
		dispatch: services.Dispatch,
		timeout:  cfg.RequestTimeout,
	}
	return setupRouter(cfg, handler, validator, metrics), nil
}

func setupRouter(cfg RouterConfig, handler *httpHandler, validator *sessionvalidator.Validator, metrics *telemetry.Metrics) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api")
	api.Use(validator.GinMiddleware(claimsContextKey))

	api.POST("/orders", handler.handlePlaceOrder)
	api.GET("/orders/:id", handler.handleGetOrder)
	api.GET("/orders/:id/refunds", handler.handleOrderRefunds)
	api.POST("/orders/:id/accept", handler.handleAccept)
	api.POST("/orders/:id/decline", handler.handleDecline)
	api.POST("/orders/:id/ready", handler.handleMarkReady)
	api.POST("/orders/:id/decline-items", handler.handleDeclineItems)
	api.POST("/orders/:id/claim", handler.handleClaim)
	api.POST("/orders/:id/unassign", handler.handleUnassign)
	api.POST("/orders/:id/release", handler.handleRelease)
	api.POST("/orders/:id/handoff", handler.handleHandoff)
	api.POST("/orders/:id/complete", handler.handleComplete)

	api.PUT("/couriers/presence", handler.handlePresence)

	api.POST("/funding-requests", handler.handleSubmitFunding)
	api.GET("/funding-requests/:id", handler.handleGetFunding)
	api.POST("/funding-requests/:id/approve", handler.handleApproveFunding)
	api.POST("/funding-requests/:id/reject", handler.handleRejectFunding)

	api.GET("/accounts/:owner_type/:owner_id/balance", handler.handleBalance)
	api.GET("/accounts/:owner_type/:owner_id/entries", handler.handleEntries)
	api.GET("/accounts/:owner_type/:owner_id/verify", handler.handleVerify)

	return router
}

// Serve runs an http.Server on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	}
}

type httpHandler struct {
	logger   *zap.Logger
	orders   *orders.Service
	ledger   *ledger.Service
	funding  *funding.Service
	dispatch *dispatch.Engine
	timeout  time.Duration
}

// actor returns the session user id, answering 401 when there is none.
func (handler *httpHandler) actor(ctx *gin.Context) (string, bool) {
	claims := getClaims(ctx)
	if claims == nil || claims.GetUserID() == "" {
		ctx.JSON(http.StatusUnauthorized, errorResponse(errorUnauthorized, "missing session"))
		return "", false
	}
	return claims.GetUserID(), true
}

func (handler *httpHandler) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), handler.timeout)
}

func (handler *httpHandler) respondError(ctx *gin.Context, err error) {
	status, code := classifyError(err)
	if status == http.StatusInternalServerError {
		handler.logger.Error("request failed", zap.String("path", ctx.FullPath()), zap.Error(err))
		ctx.JSON(status, errorResponse(code, "internal error"))
		return
	}
	if status == http.StatusLocked {
		handler.logger.Error("ledger integrity failure", zap.String("path", ctx.FullPath()), zap.Error(err))
	}
	ctx.JSON(status, errorResponse(code, err.Error()))
}

// bindJSON decodes an optional body; an empty body leaves target zeroed.
func bindJSON(ctx *gin.Context, target any) bool {
	if ctx.Request.ContentLength == 0 {
		return true
	}
	if err := ctx.ShouldBindJSON(target); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorInvalidPayload, "expected JSON body"))
		return false
	}
	return true
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}
