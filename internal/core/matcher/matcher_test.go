package matcher

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"mealplan-gateway/internal/infrastructure/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type seedEntry struct {
	ID          string
	Title       string
	CuisineType string
	MealType    string
	Ingredients []string
	ImageURL    string
}

// seedCorpus 寫入參考食譜庫條目並掛到對應的候選池列表
func seedCorpus(t *testing.T, st *store.Memory, entries []seedEntry) {
	t.Helper()
	ctx := context.Background()

	for _, e := range entries {
		entry := CorpusEntry{
			Title:       e.Title,
			CuisineType: e.CuisineType,
			MealType:    e.MealType,
			ImageURL:    e.ImageURL,
		}
		for _, name := range e.Ingredients {
			entry.Ingredients = append(entry.Ingredients, struct {
				Name string `json:"name"`
			}{Name: name})
		}
		data, err := json.Marshal(entry)
		require.NoError(t, err)
		require.NoError(t, st.Set(ctx, corpusDocKey(e.ID), data))

		require.NoError(t, st.PushList(ctx, cuisinePoolKey(e.CuisineType), e.ID))
		require.NoError(t, st.PushList(ctx, mealTypePoolKey(e.MealType), e.ID))
		require.NoError(t, st.PushList(ctx, allPoolKey, e.ID))
	}
}

func TestMatchImage(t *testing.T) {
	ctx := context.Background()

	t.Run("選出食材最相近的達標條目", func(t *testing.T) {
		st := store.NewMemory()
		seedCorpus(t, st, []seedEntry{
			{ID: "1", Title: "Garlic Chicken", CuisineType: "italian", MealType: "dinner",
				Ingredients: []string{"chicken breast", "garlic", "olive oil"}, ImageURL: "https://img.test/chicken.jpg"},
			{ID: "2", Title: "Mango Smoothie", CuisineType: "italian", MealType: "dinner",
				Ingredients: []string{"mango", "yogurt", "honey"}, ImageURL: "https://img.test/mango.jpg"},
		})

		m := NewMatcher(st, 0.15, 50)
		url, err := m.MatchImage(ctx, Candidate{
			Title:       "Garlic Butter Chicken",
			CuisineType: "italian",
			MealType:    "dinner",
			Ingredients: []string{"chicken", "garlic", "butter"},
		}, map[string]bool{})
		require.NoError(t, err)
		assert.Equal(t, "https://img.test/chicken.jpg", url)
	})

	t.Run("被排除的達標條目讓位給次高分", func(t *testing.T) {
		st := store.NewMemory()
		seedCorpus(t, st, []seedEntry{
			{ID: "1", Title: "Garlic Chicken", CuisineType: "italian", MealType: "dinner",
				Ingredients: []string{"chicken", "garlic", "olive oil"}, ImageURL: "https://img.test/chicken.jpg"},
			{ID: "2", Title: "Roast Chicken", CuisineType: "italian", MealType: "dinner",
				Ingredients: []string{"chicken", "rosemary", "lemon"}, ImageURL: "https://img.test/roast.jpg"},
		})

		m := NewMatcher(st, 0.15, 50)
		url, err := m.MatchImage(ctx, Candidate{
			Title:       "Garlic Chicken",
			CuisineType: "italian",
			MealType:    "dinner",
			Ingredients: []string{"chicken", "garlic", "olive oil"},
		}, map[string]bool{"https://img.test/chicken.jpg": true})
		require.NoError(t, err)
		assert.Equal(t, "https://img.test/roast.jpg", url)
	})

	t.Run("達標條目全數被排除時重用最高分者", func(t *testing.T) {
		st := store.NewMemory()
		seedCorpus(t, st, []seedEntry{
			{ID: "1", Title: "Garlic Chicken", CuisineType: "italian", MealType: "dinner",
				Ingredients: []string{"chicken", "garlic", "olive oil"}, ImageURL: "https://img.test/chicken.jpg"},
		})

		m := NewMatcher(st, 0.15, 50)
		url, err := m.MatchImage(ctx, Candidate{
			Title:       "Garlic Chicken",
			CuisineType: "italian",
			MealType:    "dinner",
			Ingredients: []string{"chicken", "garlic", "olive oil"},
		}, map[string]bool{"https://img.test/chicken.jpg": true})
		require.NoError(t, err)
		assert.Equal(t, "https://img.test/chicken.jpg", url)
	})

	t.Run("同菜系池空時退到同餐期池", func(t *testing.T) {
		st := store.NewMemory()
		seedCorpus(t, st, []seedEntry{
			{ID: "1", Title: "Miso Soup", CuisineType: "japanese", MealType: "dinner",
				Ingredients: []string{"miso paste", "tofu", "seaweed"}, ImageURL: "https://img.test/miso.jpg"},
		})

		m := NewMatcher(st, 0.15, 50)
		url, err := m.MatchImage(ctx, Candidate{
			Title:       "Tofu Miso Soup",
			CuisineType: "mexican", // 庫內沒有這個菜系
			MealType:    "dinner",
			Ingredients: []string{"tofu", "miso paste"},
		}, map[string]bool{})
		require.NoError(t, err)
		assert.Equal(t, "https://img.test/miso.jpg", url)
	})

	t.Run("無達標條目時隨機取未排除的有圖條目", func(t *testing.T) {
		st := store.NewMemory()
		seedCorpus(t, st, []seedEntry{
			{ID: "1", Title: "Mango Smoothie", CuisineType: "fusion", MealType: "breakfast",
				Ingredients: []string{"mango", "yogurt"}, ImageURL: "https://img.test/mango.jpg"},
		})

		m := NewMatcher(st, 0.15, 50)
		url, err := m.MatchImage(ctx, Candidate{
			Title:       "Beef Stew",
			CuisineType: "fusion",
			MealType:    "breakfast",
			Ingredients: []string{"beef", "carrot", "potato"},
		}, map[string]bool{})
		require.NoError(t, err)
		assert.Equal(t, "https://img.test/mango.jpg", url)
	})

	t.Run("庫內沒有任何有圖條目回傳空字串", func(t *testing.T) {
		st := store.NewMemory()
		seedCorpus(t, st, []seedEntry{
			{ID: "1", Title: "Garlic Chicken", CuisineType: "italian", MealType: "dinner",
				Ingredients: []string{"chicken", "garlic"}, ImageURL: ""},
		})

		m := NewMatcher(st, 0.15, 50)
		url, err := m.MatchImage(ctx, Candidate{
			Title:       "Garlic Chicken",
			CuisineType: "italian",
			MealType:    "dinner",
			Ingredients: []string{"chicken", "garlic"},
		}, map[string]bool{})
		require.NoError(t, err)
		assert.Equal(t, "", url)
	})

	t.Run("庫完全為空回傳空字串", func(t *testing.T) {
		m := NewMatcher(store.NewMemory(), 0.15, 50)
		url, err := m.MatchImage(ctx, Candidate{Title: "Anything"}, map[string]bool{})
		require.NoError(t, err)
		assert.Equal(t, "", url)
	})
}

func TestMatchImages(t *testing.T) {
	ctx := context.Background()

	t.Run("整批配圖維持多樣性", func(t *testing.T) {
		st := store.NewMemory()
		entries := make([]seedEntry, 0, 5)
		for i := 0; i < 5; i++ {
			entries = append(entries, seedEntry{
				ID:          fmt.Sprintf("%d", i),
				Title:       fmt.Sprintf("Chicken Dish %d", i),
				CuisineType: "italian",
				MealType:    "dinner",
				Ingredients: []string{"chicken", "garlic", "olive oil"},
				ImageURL:    fmt.Sprintf("https://img.test/%d.jpg", i),
			})
		}
		seedCorpus(t, st, entries)

		m := NewMatcher(st, 0.15, 50)
		candidates := make([]Candidate, 3)
		for i := range candidates {
			candidates[i] = Candidate{
				Title:       "Garlic Chicken",
				CuisineType: "italian",
				MealType:    "dinner",
				Ingredients: []string{"chicken", "garlic", "olive oil"},
			}
		}

		results := m.MatchImages(ctx, candidates)
		require.Len(t, results, 3)

		seen := make(map[string]bool)
		for _, url := range results {
			assert.NotEmpty(t, url)
			assert.False(t, seen[url], "同一批結果不應重複使用圖片: %s", url)
			seen[url] = true
		}
	})

	t.Run("候選耗盡時允許重複而非缺圖", func(t *testing.T) {
		st := store.NewMemory()
		seedCorpus(t, st, []seedEntry{
			{ID: "1", Title: "Garlic Chicken", CuisineType: "italian", MealType: "dinner",
				Ingredients: []string{"chicken", "garlic"}, ImageURL: "https://img.test/only.jpg"},
		})

		m := NewMatcher(st, 0.15, 50)
		candidates := []Candidate{
			{Title: "Garlic Chicken", CuisineType: "italian", MealType: "dinner", Ingredients: []string{"chicken", "garlic"}},
			{Title: "Garlic Chicken", CuisineType: "italian", MealType: "dinner", Ingredients: []string{"chicken", "garlic"}},
		}

		results := m.MatchImages(ctx, candidates)
		require.Len(t, results, 2)
		assert.Equal(t, "https://img.test/only.jpg", results[0])
		assert.Equal(t, "https://img.test/only.jpg", results[1])
	})
}
