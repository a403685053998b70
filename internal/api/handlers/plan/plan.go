// Package plan 是各生成端點的薄編排層：准入控制、外部生成、
// 配圖與判重、組裝回應。
package plan

import (
	"net/http"
	"time"

	"mealplan-gateway/internal/core/admission"
	"mealplan-gateway/internal/core/dedup"
	"mealplan-gateway/internal/core/generator"
	"mealplan-gateway/internal/core/matcher"
	"mealplan-gateway/internal/core/subscription"
	"mealplan-gateway/internal/pkg/common"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler 生成端點處理程序
type Handler struct {
	limiter     *admission.Limiter
	entitlement *admission.Entitlement
	generator   generator.Service
	matcher     *matcher.Matcher
	dedup       *dedup.Store
	verifier    *subscription.Verifier
}

// NewHandler 創建生成端點處理程序
func NewHandler(
	limiter *admission.Limiter,
	entitlement *admission.Entitlement,
	gen generator.Service,
	m *matcher.Matcher,
	d *dedup.Store,
	verifier *subscription.Verifier,
) *Handler {
	return &Handler{
		limiter:     limiter,
		entitlement: entitlement,
		generator:   gen,
		matcher:     m,
		dedup:       d,
		verifier:    verifier,
	}
}

// QuotaMeta 回應中附帶的配額資訊
type QuotaMeta struct {
	Remaining int       `json:"remaining"`
	ResetTime time.Time `json:"resetTime"`
	Limit     int       `json:"limit"`
}

func quotaMeta(d *admission.Decision) QuotaMeta {
	return QuotaMeta{
		Remaining: d.Remaining,
		ResetTime: d.ResetTime,
		Limit:     d.Limit,
	}
}

// admit 依序執行資格檢查與配額消耗。回傳 nil 表示請求已被拒絕並寫好回應。
// 配額拒絕與資格拒絕是可區分的結果，用戶端要依代碼分支。
func (h *Handler) admit(c *gin.Context, deviceID, endpoint string) *admission.Decision {
	entitled, err := h.entitlement.Require(c.Request.Context(), deviceID)
	if err != nil {
		common.LogError("資格檢查失敗", zap.Error(err), zap.String("device_id", deviceID))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Internal server error",
			"code":  common.ErrCodeInternalError,
		})
		return nil
	}
	if !entitled {
		c.JSON(http.StatusForbidden, gin.H{
			"error": "subscription_required",
			"code":  common.ErrCodeSubscriptionRequired,
		})
		return nil
	}

	decision, err := h.limiter.CheckAndConsume(c.Request.Context(), deviceID, endpoint)
	if err != nil {
		common.LogError("配額檢查失敗", zap.Error(err), zap.String("device_id", deviceID))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Internal server error",
			"code":  common.ErrCodeInternalError,
		})
		return nil
	}
	if !decision.Allowed {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":     "quota_exceeded",
			"code":      common.ErrCodeQuotaExceeded,
			"remaining": decision.Remaining,
			"resetTime": decision.ResetTime,
			"limit":     decision.Limit,
		})
		return nil
	}

	return decision
}

// dedupRecipe 對單一食譜執行判重。內部錯誤降級為「視為新內容」，
// 絕不讓主回應失敗。
func (h *Handler) dedupRecipe(c *gin.Context, recipe *generator.DraftRecipe) bool {
	result, err := h.dedup.SaveIfUnique(c.Request.Context(), dedup.Recipe{
		Name:        recipe.Name,
		CuisineType: recipe.CuisineType,
		MealType:    recipe.MealType,
		Ingredients: recipe.IngredientNames(),
	})
	if err != nil {
		common.LogWarn("判重失敗，視為新內容",
			zap.String("recipe", recipe.Name),
			zap.Error(err),
		)
		return true
	}
	return result.Saved
}

// GeneratePlanRequest 餐計畫生成請求
type GeneratePlanRequest struct {
	DeviceID    string                    `json:"deviceId" binding:"required"`
	Days        int                       `json:"days,omitempty"`
	MealsPerDay int                       `json:"mealsPerDay,omitempty"`
	Preferences generator.PlanPreferences `json:"preferences,omitempty"`
}

// GeneratePlanResponse 餐計畫生成回應
type GeneratePlanResponse struct {
	Plan             *generator.MealPlanDraft `json:"plan"`
	RecipesAdded     int                      `json:"recipesAdded"`
	RecipesDuplicate int                      `json:"recipesDuplicate"`
	Quota            QuotaMeta                `json:"quota"`
}

// HandleGeneratePlan 生成整份餐計畫
func (h *Handler) HandleGeneratePlan(c *gin.Context) {
	// 請求 ID 由 requestid 中間件統一產生
	requestID := requestid.Get(c)

	var req GeneratePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.LogError("請求格式無效",
			zap.Error(err),
			zap.String("request_id", requestID),
		)
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "deviceId is required",
			"code":  common.ErrCodeInvalidRequest,
		})
		return
	}
	if req.Days <= 0 {
		req.Days = 7
	}
	if req.MealsPerDay <= 0 {
		req.MealsPerDay = 3
	}

	decision := h.admit(c, req.DeviceID, admission.EndpointGeneratePlan)
	if decision == nil {
		return
	}

	common.LogInfo("開始生成餐計畫",
		zap.String("request_id", requestID),
		zap.String("device_id", req.DeviceID),
		zap.Int("days", req.Days),
		zap.Int("meals_per_day", req.MealsPerDay),
	)

	plan, err := h.generator.GeneratePlan(c.Request.Context(), generator.PlanRequest{
		Days:        req.Days,
		MealsPerDay: req.MealsPerDay,
		Preferences: req.Preferences,
	})
	if err != nil {
		common.LogError("餐計畫生成失敗",
			zap.Error(err),
			zap.String("request_id", requestID),
		)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "generation failed",
			"code":  common.ErrCodeGenerationFailed,
		})
		return
	}

	// 整批配圖必須依序執行，排除集合跨食譜累積
	recipes := plan.Recipes()
	candidates := make([]matcher.Candidate, len(recipes))
	for i, recipe := range recipes {
		candidates[i] = matcher.Candidate{
			Title:       recipe.Name,
			CuisineType: recipe.CuisineType,
			MealType:    recipe.MealType,
			Ingredients: recipe.IngredientNames(),
		}
	}
	images := h.matcher.MatchImages(c.Request.Context(), candidates)
	for i, recipe := range recipes {
		recipe.ImageURL = images[i]
	}

	// 逐一判重並累計
	added, duplicate := 0, 0
	for _, recipe := range recipes {
		if h.dedupRecipe(c, recipe) {
			added++
		} else {
			duplicate++
		}
	}

	c.JSON(http.StatusOK, GeneratePlanResponse{
		Plan:             plan,
		RecipesAdded:     added,
		RecipesDuplicate: duplicate,
		Quota:            quotaMeta(decision),
	})

	// 回應已送出後才遞增免費額度計數。若進程在這之間終止，
	// 該次生成不會被計入，這是既定取捨。
	if err := h.verifier.IncrementPlansGenerated(c.Request.Context(), req.DeviceID); err != nil {
		common.LogError("免費額度計數更新失敗",
			zap.Error(err),
			zap.String("device_id", req.DeviceID),
		)
	}
}
