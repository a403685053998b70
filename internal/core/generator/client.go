// Package generator 封裝對外部生成服務的呼叫。
// 對核心而言生成是不透明的外部操作，任何失敗都折疊成單一的「生成失敗」結果。
package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"mealplan-gateway/internal/infrastructure/config"
	"mealplan-gateway/internal/pkg/common"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Service 生成服務介面，測試以假實作注入
type Service interface {
	GeneratePlan(ctx context.Context, req PlanRequest) (*MealPlanDraft, error)
	SwapMeal(ctx context.Context, req SwapRequest) (*DraftRecipe, error)
	SubstituteIngredient(ctx context.Context, req SubstituteRequest) (*DraftRecipe, error)
}

// Client 外部生成服務客戶端
type Client struct {
	config *config.GeneratorConfig
	client *resty.Client
}

// NewClient 建立生成服務客戶端。逾時採分鐘級設定，生成整份計畫很慢。
func NewClient(cfg *config.GeneratorConfig) *Client {
	client := resty.New().
		SetBaseURL("https://openrouter.ai/api/v1").
		SetTimeout(cfg.Timeout).
		SetHeader("Authorization", fmt.Sprintf("Bearer %s", cfg.APIKey)).
		SetHeader("HTTP-Referer", "https://mealplan-gateway.app").
		SetHeader("X-Title", "Mealplan Gateway")

	return &Client{
		config: cfg,
		client: client,
	}
}

// complete 送出一次補全請求並取回模型輸出內容
func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	req := map[string]interface{}{
		"model": c.config.Model,
		"messages": []map[string]interface{}{
			{
				"role":    "user",
				"content": prompt,
			},
		},
		"max_tokens": c.config.MaxTokens,
	}

	start := time.Now()
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(req).
		Post("/chat/completions")
	common.LogGenerationCall("/chat/completions", time.Since(start), err, "")

	if err != nil {
		return "", fmt.Errorf("failed to send generation request: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("generation API returned status %d", resp.StatusCode())
	}

	// 解析回應
	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return "", fmt.Errorf("failed to parse generation response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no choices in generation response")
	}

	return result.Choices[0].Message.Content, nil
}

// recipeJSONShape 食譜 JSON 範例，提示模型輸出固定結構
const recipeJSONShape = `{
"name": "菜名",
"description": "一句描述",
"cuisine_type": "菜系（如 italian、thai）",
"meal_type": "餐期（breakfast/lunch/dinner/snack）",
"ingredients": [{"name": "食材", "amount": "數量", "unit": "單位"}],
"instructions": ["步驟一", "步驟二"],
"macros": {"calories": 0, "protein": 0, "carbs": 0, "fat": 0}
}`

// GeneratePlan 生成整份餐計畫
func (c *Client) GeneratePlan(ctx context.Context, req PlanRequest) (*MealPlanDraft, error) {
	// 偏好以 JSON 原樣嵌入提示，避免逐欄位拼字串
	preferences, err := common.ToJSON(req.Preferences)
	if err != nil {
		return nil, fmt.Errorf("failed to encode preferences: %w", err)
	}

	prompt := fmt.Sprintf(`請生成一份 %d 天、每天 %d 餐的餐計畫。
		偏好（JSON）：%s
		要求：
		1. 只回傳最緊湊的 JSON，所有鍵都用雙引號，不要加任何說明文字
		2. cuisine_type 與 meal_type 使用小寫英文
		3. 營養資訊依實際食材與份量估算

		請以以下 JSON 格式返回（僅作為範例，請勿直接複製內容）：
		{"days": [{"day": 1, "meals": [%s]}]}
		`,
		req.Days,
		req.MealsPerDay,
		preferences,
		recipeJSONShape,
	)

	content, err := c.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	plan, err := parsePlan(content)
	if err != nil {
		common.LogError("餐計畫解析失敗",
			zap.Error(err),
			zap.Int("content_length", len(content)),
		)
		return nil, err
	}
	return plan, nil
}

// parsePlan 解析餐計畫回應。模型偶爾會包 markdown 圍欄或漏掉鍵的引號，
// 先修補再解析。
func parsePlan(content string) (*MealPlanDraft, error) {
	var plan MealPlanDraft
	if err := common.ParseJSON(common.QuoteJSONKeys(common.ExtractJSONObject(content)), &plan); err != nil {
		return nil, fmt.Errorf("failed to parse meal plan: %w", err)
	}
	if len(plan.Days) == 0 {
		return nil, fmt.Errorf("generated plan has no days")
	}
	return &plan, nil
}

// parseRecipe 解析單一食譜回應
func parseRecipe(content string) (*DraftRecipe, error) {
	var recipe DraftRecipe
	if err := common.ParseJSON(common.QuoteJSONKeys(common.ExtractJSONObject(content)), &recipe); err != nil {
		return nil, fmt.Errorf("failed to parse recipe: %w", err)
	}
	if recipe.Name == "" {
		return nil, fmt.Errorf("generated recipe has no name")
	}
	return &recipe, nil
}

// SwapMeal 生成一道替換用的餐點
func (c *Client) SwapMeal(ctx context.Context, req SwapRequest) (*DraftRecipe, error) {
	prompt := fmt.Sprintf(`請生成一道 %s 餐點，用來替換「%s」，不要和原本的重複。
		偏好：
		- 飲食型態：%s
		- 過敏原：%s
		要求：只回傳最緊湊的 JSON，所有鍵都用雙引號。

		請以以下 JSON 格式返回（僅作為範例，請勿直接複製內容）：
		%s
		`,
		req.MealType,
		req.CurrentMeal,
		req.Preferences.Diet,
		strings.Join(req.Preferences.Allergies, "、"),
		recipeJSONShape,
	)

	content, err := c.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return parseRecipe(content)
}

// SubstituteIngredient 以替代食材改寫一道食譜
func (c *Client) SubstituteIngredient(ctx context.Context, req SubstituteRequest) (*DraftRecipe, error) {
	prompt := fmt.Sprintf(`請改寫食譜「%s」，把食材「%s」換成合適的替代品，其餘食材盡量保留（%s）。
		要求：只回傳最緊湊的 JSON，所有鍵都用雙引號。

		請以以下 JSON 格式返回（僅作為範例，請勿直接複製內容）：
		%s
		`,
		req.RecipeName,
		req.Ingredient,
		strings.Join(req.Keep, "、"),
		recipeJSONShape,
	)

	content, err := c.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return parseRecipe(content)
}
