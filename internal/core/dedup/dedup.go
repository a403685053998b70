// Package dedup 判定新生成的食譜是全新內容還是既有內容的近似重複，
// 並追蹤每道食譜被生成的次數。
package dedup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"mealplan-gateway/internal/core/similarity"
	"mealplan-gateway/internal/infrastructure/store"
	"mealplan-gateway/internal/pkg/common"

	"go.uber.org/zap"
)

// Record 已生成食譜記錄。normalizedName 全庫唯一；
// 同 (cuisineType, mealType) 內食材相似度達門檻的記錄會併入同一筆計數。
type Record struct {
	ID              string    `json:"id"`
	NormalizedName  string    `json:"normalizedName"`
	IngredientNames []string  `json:"ingredientNames"`
	CuisineType     string    `json:"cuisineType"`
	MealType        string    `json:"mealType"`
	TimesGenerated  int       `json:"timesGenerated"`
	CreatedAt       time.Time `json:"createdAt"`
	LastGeneratedAt time.Time `json:"lastGeneratedAt"`
}

// Recipe 待判定的生成食譜
type Recipe struct {
	Name        string
	CuisineType string
	MealType    string
	Ingredients []string
}

// Result 判定結果
type Result struct {
	Saved      bool   `json:"saved"`
	ExistingID string `json:"existingId,omitempty"`
	NewID      string `json:"newId,omitempty"`
}

// Store 去重存儲
type Store struct {
	store     store.Client
	threshold float64
	scanLimit int
	now       func() time.Time
}

// NewStore 建立去重存儲
func NewStore(st store.Client, threshold float64, scanLimit int) *Store {
	return &Store{
		store:     st,
		threshold: threshold,
		scanLimit: scanLimit,
		now:       time.Now,
	}
}

func recordKey(id string) string {
	return fmt.Sprintf("generated:recipe:%s", id)
}

func nameKey(normalizedName string) string {
	return fmt.Sprintf("generated:name:%s", normalizedName)
}

func categoryKey(cuisineType, mealType string) string {
	return fmt.Sprintf("generated:category:%s:%s",
		strings.ToLower(strings.TrimSpace(cuisineType)),
		strings.ToLower(strings.TrimSpace(mealType)))
}

// NormalizeName 食譜名稱正規化（小寫、去前後空白）
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// touch 遞增既有記錄的生成次數並更新時間
func (s *Store) touch(ctx context.Context, id string) error {
	return s.store.Update(ctx, recordKey(id), func(current []byte, exists bool) ([]byte, error) {
		if !exists {
			return nil, store.ErrNotFound
		}
		var rec Record
		if err := json.Unmarshal(current, &rec); err != nil {
			return nil, err
		}
		rec.TimesGenerated++
		rec.LastGeneratedAt = s.now()
		return json.Marshal(rec)
	})
}

// SaveIfUnique 兩段式判重：先精確比對正規化名稱，再對同分類最近
// 記錄做有界的食材模糊比對；都未命中才插入新記錄。
// 兩個併發的「首次」生成可能各自插入一筆，屬可接受的誤放。
func (s *Store) SaveIfUnique(ctx context.Context, recipe Recipe) (*Result, error) {
	normalized := NormalizeName(recipe.Name)
	if normalized == "" {
		return nil, fmt.Errorf("recipe name is empty")
	}

	// 第一段：精確名稱比對，便宜且高精度
	data, err := s.store.Get(ctx, nameKey(normalized))
	if err == nil {
		existingID := string(data)
		if err := s.touch(ctx, existingID); err != nil {
			return nil, fmt.Errorf("failed to touch existing record: %w", err)
		}
		return &Result{Saved: false, ExistingID: existingID}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("name lookup failed: %w", err)
	}

	// 第二段：同 (cuisineType, mealType) 最近 scanLimit 筆模糊比對。
	// 有界掃描是精度與成本的取捨，不做全庫比對。
	ids, err := s.store.ListRange(ctx, categoryKey(recipe.CuisineType, recipe.MealType), int64(s.scanLimit))
	if err != nil {
		return nil, fmt.Errorf("category scan failed: %w", err)
	}
	for _, id := range ids {
		recData, err := s.store.Get(ctx, recordKey(id))
		if err != nil {
			continue
		}
		var rec Record
		if err := json.Unmarshal(recData, &rec); err != nil {
			continue
		}

		score := similarity.WordSimilarity(recipe.Ingredients, rec.IngredientNames)
		if score >= s.threshold {
			common.LogDebug("模糊比對命中既有食譜",
				zap.String("candidate", normalized),
				zap.String("existing", rec.NormalizedName),
				zap.Float64("score", score),
			)
			if err := s.touch(ctx, id); err != nil {
				return nil, fmt.Errorf("failed to touch existing record: %w", err)
			}
			return &Result{Saved: false, ExistingID: id}, nil
		}
	}

	// 第三段：全新食譜，插入記錄
	now := s.now()
	rec := Record{
		ID:              common.GenerateUUID(),
		NormalizedName:  normalized,
		IngredientNames: recipe.Ingredients,
		CuisineType:     recipe.CuisineType,
		MealType:        recipe.MealType,
		TimesGenerated:  1,
		CreatedAt:       now,
		LastGeneratedAt: now,
	}
	recData, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	if err := s.store.Set(ctx, recordKey(rec.ID), recData); err != nil {
		return nil, fmt.Errorf("failed to insert record: %w", err)
	}
	if err := s.store.Set(ctx, nameKey(normalized), []byte(rec.ID)); err != nil {
		return nil, fmt.Errorf("failed to index name: %w", err)
	}
	if err := s.store.PushList(ctx, categoryKey(recipe.CuisineType, recipe.MealType), rec.ID); err != nil {
		return nil, fmt.Errorf("failed to index category: %w", err)
	}

	return &Result{Saved: true, NewID: rec.ID}, nil
}
