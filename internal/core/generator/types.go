package generator

// DraftIngredient 生成食譜中的單一食材
type DraftIngredient struct {
	Name   string `json:"name"`
	Amount string `json:"amount"`
	Unit   string `json:"unit"`
}

// Macros 營養素估算
type Macros struct {
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Carbs    float64 `json:"carbs"`
	Fat      float64 `json:"fat"`
}

// DraftRecipe 外部生成服務產出的食譜草稿。
// 鬆散的模型輸出在用戶端邊界就映射成這個明確型別，不讓未定型資料流進管線。
type DraftRecipe struct {
	Name         string            `json:"name"`
	Description  string            `json:"description"`
	CuisineType  string            `json:"cuisine_type"`
	MealType     string            `json:"meal_type"`
	Ingredients  []DraftIngredient `json:"ingredients"`
	Instructions []string          `json:"instructions"`
	Macros       Macros            `json:"macros"`
	ImageURL     string            `json:"image_url,omitempty"` // 由圖片匹配器填入
}

// IngredientNames 取出食材名稱列表，供相似度比對使用
func (r *DraftRecipe) IngredientNames() []string {
	names := make([]string, 0, len(r.Ingredients))
	for _, ing := range r.Ingredients {
		names = append(names, ing.Name)
	}
	return names
}

// MealDay 單日餐期
type MealDay struct {
	Day   int           `json:"day"`
	Meals []DraftRecipe `json:"meals"`
}

// MealPlanDraft 整份生成的餐計畫
type MealPlanDraft struct {
	Days []MealDay `json:"days"`
}

// Recipes 攤平整份計畫中的所有食譜（回傳指標以便就地更新圖片）
func (p *MealPlanDraft) Recipes() []*DraftRecipe {
	var recipes []*DraftRecipe
	for i := range p.Days {
		for j := range p.Days[i].Meals {
			recipes = append(recipes, &p.Days[i].Meals[j])
		}
	}
	return recipes
}

// PlanPreferences 生成偏好
type PlanPreferences struct {
	Diet          string   `json:"diet,omitempty"`
	Allergies     []string `json:"allergies,omitempty"`
	Cuisines      []string `json:"cuisines,omitempty"`
	CalorieTarget int      `json:"calorie_target,omitempty"`
}

// PlanRequest 整份餐計畫的生成請求
type PlanRequest struct {
	Days        int             `json:"days"`
	MealsPerDay int             `json:"meals_per_day"`
	Preferences PlanPreferences `json:"preferences"`
}

// SwapRequest 單餐替換請求
type SwapRequest struct {
	CurrentMeal string          `json:"current_meal"`
	MealType    string          `json:"meal_type"`
	Preferences PlanPreferences `json:"preferences"`
}

// SubstituteRequest 食材替換請求
type SubstituteRequest struct {
	RecipeName string   `json:"recipe_name"`
	Ingredient string   `json:"ingredient"`
	Keep       []string `json:"keep,omitempty"`
}
