package plan

import (
	"net/http"

	"mealplan-gateway/internal/core/admission"
	"mealplan-gateway/internal/core/generator"
	"mealplan-gateway/internal/core/matcher"
	"mealplan-gateway/internal/pkg/common"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SwapMealRequest 單餐替換請求。excludeImages 帶入計畫中已用掉的圖片，
// 避免換出來的餐點撞圖。
type SwapMealRequest struct {
	DeviceID      string                    `json:"deviceId" binding:"required"`
	CurrentMeal   string                    `json:"currentMeal" binding:"required"`
	MealType      string                    `json:"mealType,omitempty"`
	Preferences   generator.PlanPreferences `json:"preferences,omitempty"`
	ExcludeImages []string                  `json:"excludeImages,omitempty"`
}

// SingleMealResponse 單餐生成回應
type SingleMealResponse struct {
	Meal             *generator.DraftRecipe `json:"meal"`
	RecipesAdded     int                    `json:"recipesAdded"`
	RecipesDuplicate int                    `json:"recipesDuplicate"`
	Quota            QuotaMeta              `json:"quota"`
}

// enrichSingle 對單一生成結果配圖並判重，回傳新增/重複計數
func (h *Handler) enrichSingle(c *gin.Context, recipe *generator.DraftRecipe, excludeImages []string) (int, int) {
	exclude := make(map[string]bool, len(excludeImages))
	for _, url := range excludeImages {
		exclude[url] = true
	}

	imageURL, err := h.matcher.MatchImage(c.Request.Context(), matcher.Candidate{
		Title:       recipe.Name,
		CuisineType: recipe.CuisineType,
		MealType:    recipe.MealType,
		Ingredients: recipe.IngredientNames(),
	}, exclude)
	if err != nil {
		// 缺圖不阻斷主流程
		common.LogWarn("圖片匹配失敗",
			zap.String("recipe", recipe.Name),
			zap.Error(err),
		)
	}
	recipe.ImageURL = imageURL

	if h.dedupRecipe(c, recipe) {
		return 1, 0
	}
	return 0, 1
}

// HandleSwapMeal 替換單一餐點
func (h *Handler) HandleSwapMeal(c *gin.Context) {
	var req SwapMealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "deviceId and currentMeal are required",
			"code":  common.ErrCodeInvalidRequest,
		})
		return
	}

	decision := h.admit(c, req.DeviceID, admission.EndpointSwapMeal)
	if decision == nil {
		return
	}

	meal, err := h.generator.SwapMeal(c.Request.Context(), generator.SwapRequest{
		CurrentMeal: req.CurrentMeal,
		MealType:    req.MealType,
		Preferences: req.Preferences,
	})
	if err != nil {
		common.LogError("餐點替換生成失敗",
			zap.Error(err),
			zap.String("device_id", req.DeviceID),
		)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "generation failed",
			"code":  common.ErrCodeGenerationFailed,
		})
		return
	}

	added, duplicate := h.enrichSingle(c, meal, req.ExcludeImages)

	c.JSON(http.StatusOK, SingleMealResponse{
		Meal:             meal,
		RecipesAdded:     added,
		RecipesDuplicate: duplicate,
		Quota:            quotaMeta(decision),
	})
}

// SubstituteIngredientRequest 食材替換請求
type SubstituteIngredientRequest struct {
	DeviceID      string   `json:"deviceId" binding:"required"`
	RecipeName    string   `json:"recipeName" binding:"required"`
	Ingredient    string   `json:"ingredient" binding:"required"`
	Keep          []string `json:"keep,omitempty"`
	ExcludeImages []string `json:"excludeImages,omitempty"`
}

// HandleSubstituteIngredient 以替代食材改寫食譜
func (h *Handler) HandleSubstituteIngredient(c *gin.Context) {
	var req SubstituteIngredientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "deviceId, recipeName and ingredient are required",
			"code":  common.ErrCodeInvalidRequest,
		})
		return
	}

	decision := h.admit(c, req.DeviceID, admission.EndpointSubstituteIngredient)
	if decision == nil {
		return
	}

	meal, err := h.generator.SubstituteIngredient(c.Request.Context(), generator.SubstituteRequest{
		RecipeName: req.RecipeName,
		Ingredient: req.Ingredient,
		Keep:       req.Keep,
	})
	if err != nil {
		common.LogError("食材替換生成失敗",
			zap.Error(err),
			zap.String("device_id", req.DeviceID),
		)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "generation failed",
			"code":  common.ErrCodeGenerationFailed,
		})
		return
	}

	added, duplicate := h.enrichSingle(c, meal, req.ExcludeImages)

	c.JSON(http.StatusOK, SingleMealResponse{
		Meal:             meal,
		RecipesAdded:     added,
		RecipesDuplicate: duplicate,
		Quota:            quotaMeta(decision),
	})
}
