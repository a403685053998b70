// Package matcher 從參考食譜庫為生成的食譜挑選最合適的圖片，
// 並在整批餐期之間維持圖片多樣性。
package matcher

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"

	"mealplan-gateway/internal/core/similarity"
	"mealplan-gateway/internal/infrastructure/store"
	"mealplan-gateway/internal/pkg/common"

	"go.uber.org/zap"
)

const (
	// 評分權重：食材重疊為主，標題為輔
	ingredientWeight = 0.7
	titleWeight      = 0.3
)

// CorpusEntry 參考食譜庫條目（唯讀，資料由匯入任務維護）
type CorpusEntry struct {
	Title       string `json:"title"`
	CuisineType string `json:"cuisineType"`
	MealType    string `json:"mealType"`
	Ingredients []struct {
		Name string `json:"name"`
	} `json:"ingredients"`
	ImageURL string `json:"imageURL"`
}

// Candidate 待配圖的生成食譜
type Candidate struct {
	Title       string
	CuisineType string
	MealType    string
	Ingredients []string
}

// Matcher 圖片匹配器
type Matcher struct {
	store     store.Client
	minScore  float64
	poolLimit int
}

// NewMatcher 建立圖片匹配器
func NewMatcher(st store.Client, minScore float64, poolLimit int) *Matcher {
	return &Matcher{
		store:     st,
		minScore:  minScore,
		poolLimit: poolLimit,
	}
}

func corpusDocKey(id string) string {
	return fmt.Sprintf("corpus:recipe:%s", id)
}

func cuisinePoolKey(cuisineType string) string {
	return fmt.Sprintf("corpus:cuisine:%s", strings.ToLower(strings.TrimSpace(cuisineType)))
}

func mealTypePoolKey(mealType string) string {
	return fmt.Sprintf("corpus:mealtype:%s", strings.ToLower(strings.TrimSpace(mealType)))
}

const allPoolKey = "corpus:all"

// loadPool 讀取一個候選池：先取 id 列表再逐筆取文件，壞文件直接跳過
func (m *Matcher) loadPool(ctx context.Context, poolKey string) ([]CorpusEntry, error) {
	ids, err := m.store.ListRange(ctx, poolKey, int64(m.poolLimit))
	if err != nil {
		return nil, err
	}

	entries := make([]CorpusEntry, 0, len(ids))
	for _, id := range ids {
		data, err := m.store.Get(ctx, corpusDocKey(id))
		if err != nil {
			continue
		}
		var entry CorpusEntry
		if err := common.ParseJSONBytes(data, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// selectPool 三段漸寬查詢：同菜系 → 同餐期 → 不限，取第一個非空結果
func (m *Matcher) selectPool(ctx context.Context, candidate Candidate) ([]CorpusEntry, error) {
	for _, key := range []string{
		cuisinePoolKey(candidate.CuisineType),
		mealTypePoolKey(candidate.MealType),
		allPoolKey,
	} {
		entries, err := m.loadPool(ctx, key)
		if err != nil {
			return nil, err
		}
		if len(entries) > 0 {
			return entries, nil
		}
	}
	return nil, nil
}

type scoredEntry struct {
	entry CorpusEntry
	score float64
}

func (e CorpusEntry) ingredientNames() []string {
	names := make([]string, 0, len(e.Ingredients))
	for _, ing := range e.Ingredients {
		names = append(names, ing.Name)
	}
	return names
}

// MatchImage 為單一食譜挑圖。excludeSet 內的圖片除非候選耗盡不會被選中；
// 回傳空字串代表庫內找不到任何可用圖片。
func (m *Matcher) MatchImage(ctx context.Context, candidate Candidate, excludeSet map[string]bool) (string, error) {
	pool, err := m.selectPool(ctx, candidate)
	if err != nil {
		return "", fmt.Errorf("corpus query failed: %w", err)
	}
	if len(pool) == 0 {
		return "", nil
	}

	// 對所有有圖的條目評分，由高到低排序
	scored := make([]scoredEntry, 0, len(pool))
	for _, entry := range pool {
		if entry.ImageURL == "" {
			continue
		}
		score := ingredientWeight*similarity.WordSimilarity(candidate.Ingredients, entry.ingredientNames()) +
			titleWeight*similarity.TitleSimilarity(candidate.Title, entry.Title)
		scored = append(scored, scoredEntry{entry: entry, score: score})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	// 1. 分數達標且未被排除的最高分條目
	var bestExcluded string
	for _, se := range scored {
		if se.score < m.minScore {
			break
		}
		if !excludeSet[se.entry.ImageURL] {
			return se.entry.ImageURL, nil
		}
		if bestExcluded == "" {
			bestExcluded = se.entry.ImageURL
		}
	}

	// 2. 達標條目全數被排除：重用最高分者（重複圖片勝過沒有圖片）
	if bestExcluded != "" {
		return bestExcluded, nil
	}

	// 3. 隨機取同菜系且未被排除的有圖條目
	sameCuisine := make([]string, 0, len(scored))
	anyImage := make([]string, 0, len(scored))
	for _, se := range scored {
		if !excludeSet[se.entry.ImageURL] {
			anyImage = append(anyImage, se.entry.ImageURL)
			if strings.EqualFold(se.entry.CuisineType, candidate.CuisineType) {
				sameCuisine = append(sameCuisine, se.entry.ImageURL)
			}
		}
	}
	if len(sameCuisine) > 0 {
		return sameCuisine[rand.Intn(len(sameCuisine))], nil
	}

	// 4. 隨機取任何未被排除的有圖條目
	if len(anyImage) > 0 {
		return anyImage[rand.Intn(len(anyImage))], nil
	}

	// 5. 全部被排除：任何有圖條目都行
	if len(scored) > 0 {
		return scored[rand.Intn(len(scored))].entry.ImageURL, nil
	}

	// 6. 庫內沒有任何圖片
	return "", nil
}

// MatchImages 為整批食譜逐一配圖。多樣性是整份餐計畫的性質，
// 必須依序處理並累積排除集合，不可平行化。
func (m *Matcher) MatchImages(ctx context.Context, candidates []Candidate) []string {
	exclude := make(map[string]bool)
	results := make([]string, len(candidates))

	for i, candidate := range candidates {
		imageURL, err := m.MatchImage(ctx, candidate, exclude)
		if err != nil {
			// 配圖失敗不阻斷主流程，該食譜缺圖即可
			common.LogWarn("圖片匹配失敗",
				zap.String("title", candidate.Title),
				zap.Error(err),
			)
			continue
		}
		results[i] = imageURL
		if imageURL != "" {
			exclude[imageURL] = true
		}
	}

	return results
}
