// Package httpapi exposes the coin ledger over HTTP for authenticated callers.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/coinledger/pkg/ledger"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

const (
	claimsContextKey  = "auth_claims"
	userIDContextKey  = "ledger_user_id"
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// Dependencies are the ledger components served by the API.
type Dependencies struct {
	Service     *ledger.Service
	Purchases   *ledger.PurchaseOrchestrator
	Withdrawals *ledger.WithdrawalProcessor
	Access      *ledger.AccessResolver
	Pricing     *ledger.PricingAdjuster
	// Metrics serves /metrics when set.
	Metrics http.Handler
	Logger  *zap.Logger
}

func (deps Dependencies) validate() error {
	if deps.Service == nil || deps.Purchases == nil || deps.Withdrawals == nil || deps.Access == nil || deps.Pricing == nil {
		return fmt.Errorf("%w: ledger components are required", ledger.ErrInvalidServiceConfig)
	}
	return nil
}

// NewHandler builds the router. cfg must already be validated.
func NewHandler(cfg Config, deps Dependencies) (http.Handler, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sessionValidator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		return nil, fmt.Errorf("session validator: %w", err)
	}
	handler := &httpHandler{
		logger:      logger,
		cfg:         cfg,
		service:     deps.Service,
		purchases:   deps.Purchases,
		withdrawals: deps.Withdrawals,
		access:      deps.Access,
		pricing:     deps.Pricing,
	}
	return setupRouter(cfg, handler, sessionValidator, deps.Metrics), nil
}

// Run serves handler on cfg.ListenAddr until ctx ends.
func Run(ctx context.Context, cfg Config, handler http.Handler, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http api listening", zap.String("addr", cfg.ListenAddr))
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
		return err
	}
}

func setupRouter(cfg Config, handler *httpHandler, validator *sessionvalidator.Validator, metrics http.Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}

	api := router.Group("/api")
	api.Use(validator.GinMiddleware(claimsContextKey))
	api.Use(handler.requireAccount)

	api.POST("/purchases", handler.handlePurchase)
	api.POST("/withdrawals", handler.handleWithdraw)
	api.GET("/balance", handler.handleBalance)
	api.GET("/entries", handler.handleEntries)
	api.GET("/access/:contentType/:contentID", handler.handleAccess)
	api.GET("/series/:seriesID/price", handler.handleSeriesPrice)

	admin := api.Group("/admin")
	admin.Use(handler.requireRole(cfg.AdminRole))
	admin.POST("/credits", handler.handleAdminCredit)
	admin.POST("/withdrawals/:withdrawalID/complete", handler.handleCompleteWithdrawal)
	admin.GET("/audit/:userID", handler.handleAudit)

	return router
}

type httpHandler struct {
	logger      *zap.Logger
	cfg         Config
	service     *ledger.Service
	purchases   *ledger.PurchaseOrchestrator
	withdrawals *ledger.WithdrawalProcessor
	access      *ledger.AccessResolver
	pricing     *ledger.PricingAdjuster
}

// requireAccount resolves the caller and opens their account on first contact.
func (handler *httpHandler) requireAccount(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(errorCodeUnauthorized, errorMessageMissingSession))
		return
	}
	userID, err := ledger.NewUserID(claims.GetUserID())
	if err != nil {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(errorCodeUnauthorized, "session has no user id"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	if _, err := handler.service.OpenAccount(requestCtx, userID); err != nil {
		handler.respondError(ctx, err, nil)
		ctx.Abort()
		return
	}
	ctx.Set(userIDContextKey, userID)
	ctx.Next()
}

func (handler *httpHandler) requireRole(role string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if !hasRole(getClaims(ctx), role) {
			ctx.AbortWithStatusJSON(http.StatusForbidden, errorResponse(errorCodeForbidden, fmt.Sprintf("role %s required", role)))
			return
		}
		ctx.Next()
	}
}

func (handler *httpHandler) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}

func callerID(ctx *gin.Context) ledger.UserID {
	value, _ := ctx.Get(userIDContextKey)
	userID, _ := value.(ledger.UserID)
	return userID
}

func hasRole(claims *sessionvalidator.Claims, role string) bool {
	if claims == nil {
		return false
	}
	for _, candidate := range claims.GetUserRoles() {
		if candidate == role {
			return true
		}
	}
	return false
}
