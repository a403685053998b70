package api

import (
	"context"
	"net/http"
	"time"

	"mealplan-gateway/internal/api/handlers/health"
	planHandler "mealplan-gateway/internal/api/handlers/plan"
	subscriptionHandler "mealplan-gateway/internal/api/handlers/subscription"
	"mealplan-gateway/internal/api/middleware"
	"mealplan-gateway/internal/core/admission"
	"mealplan-gateway/internal/core/dedup"
	"mealplan-gateway/internal/core/generator"
	"mealplan-gateway/internal/core/matcher"
	"mealplan-gateway/internal/core/subscription"
	"mealplan-gateway/internal/infrastructure/config"
	"mealplan-gateway/internal/infrastructure/store"
	"mealplan-gateway/internal/pkg/common"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	// 請求體大小限制 (1MB)，這個服務沒有上傳需求
	maxBodySize = 1 << 20

	// 重複送出防護視窗
	dedupWindow = 1 * time.Second
)

// SetupRouter 設置路由。store、generator、verifier 由外部注入，
// 測試可替換成記憶體存儲與假生成服務。
func SetupRouter(cfg *config.Config, st store.Client, gen generator.Service, verifier *subscription.Verifier) (*gin.Engine, error) {
	common.LogInfo("Starting router setup",
		zap.Bool("debug_mode", cfg.App.Debug),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Env),
	)

	// 設置 gin 模式
	if !cfg.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	// 創建路由引擎
	router := gin.New()

	// 註冊基礎中間件
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())
	router.Use(requestid.New()) // 自動生成請求 ID

	// CORS 設置
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// 請求體大小限制
	router.Use(middleware.BodySizeLimit(maxBodySize))

	// 初始化核心組件
	limiter := admission.NewLimiter(st, admission.EndpointsFromConfig(&cfg.Admission))
	entitlement := admission.NewEntitlement(st)
	imageMatcher := matcher.NewMatcher(st, cfg.Matcher.MinScore, cfg.Matcher.PoolLimit)
	dedupStore := dedup.NewStore(st, cfg.Dedup.Threshold, cfg.Dedup.ScanLimit)

	// 生成請求的超時交給 server WriteTimeout 與 generator 自身的
	// 分鐘級逾時控制；中間件層只負責把逾時回報成 504
	router.Use(func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), cfg.Generator.Timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		if ctx.Err() == context.DeadlineExceeded && !c.Writer.Written() {
			c.JSON(http.StatusGatewayTimeout, gin.H{
				"error": "Request timeout",
				"code":  common.ErrCodeRequestTimeout,
			})
			c.Abort()
		}
	})

	planH := planHandler.NewHandler(limiter, entitlement, gen, imageMatcher, dedupStore, verifier)
	subscriptionH := subscriptionHandler.NewHandler(verifier)

	// API 路由組
	v1 := router.Group("/v1")
	{
		// 受配額管控的生成端點，外加短視窗重複送出防護
		gated := v1.Group("", middleware.Deduplication(st, dedupWindow))
		{
			gated.POST("/generate-plan", planH.HandleGeneratePlan)
			gated.POST("/swap-meal", planH.HandleSwapMeal)
			gated.POST("/substitute-ingredient", planH.HandleSubstituteIngredient)
		}

		// 收據驗證
		v1.POST("/verify-subscription", subscriptionH.HandleVerify)

		// 平台 webhook，不經配額管控
		v1.POST("/apple-notifications", subscriptionH.HandleNotification)

		// 健康檢查
		v1.GET("/health", health.HealthCheck(cfg.App.Version))
	}

	common.LogInfo("Router setup completed successfully",
		zap.Bool("debug_mode", cfg.App.Debug),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Env),
		zap.Duration("generator_timeout", cfg.Generator.Timeout),
		zap.Int64("max_body_size", maxBodySize),
	)

	return router, nil
}
