package admission

import (
	"mealplan-gateway/internal/infrastructure/config"
)

// 受配額管控的端點名稱，也是配額計數文件鍵的一部分
const (
	EndpointGeneratePlan         = "generate-plan"
	EndpointSwapMeal             = "swap-meal"
	EndpointSubstituteIngredient = "substitute-ingredient"
)

// EndpointsFromConfig 由設定組出各端點的配額表
func EndpointsFromConfig(cfg *config.AdmissionConfig) map[string]Endpoint {
	return map[string]Endpoint{
		EndpointGeneratePlan: {
			Limit:  cfg.GeneratePlan.Limit,
			Window: cfg.GeneratePlan.Window,
		},
		EndpointSwapMeal: {
			Limit:  cfg.SwapMeal.Limit,
			Window: cfg.SwapMeal.Window,
		},
		EndpointSubstituteIngredient: {
			Limit:  cfg.SubstituteIngredient.Limit,
			Window: cfg.SubstituteIngredient.Window,
		},
	}
}
