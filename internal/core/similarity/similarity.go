// Package similarity 提供食材列表與標題之間的重疊評分，
// 供圖片匹配與生成結果去重共用。
package similarity

import (
	"regexp"
	"strings"
)

// 描述性修飾詞，不影響食材本體，比對前一律剔除
var stopWords = map[string]struct{}{
	"fresh":    {},
	"chopped":  {},
	"minced":   {},
	"diced":    {},
	"sliced":   {},
	"boneless": {},
	"skinless": {},
	"ground":   {},
	"grated":   {},
	"shredded": {},
	"crushed":  {},
	"peeled":   {},
	"dried":    {},
	"frozen":   {},
	"cooked":   {},
	"raw":      {},
	"large":    {},
	"medium":   {},
	"small":    {},
	"whole":    {},
	"ripe":     {},
	"organic":  {},
}

var nonAlphanumeric = regexp.MustCompile(`[^a-z0-9\s]+`)

// tokenize 將一段文字正規化成詞集合：小寫、去除非字母數字、
// 剔除修飾詞與長度不足 3 的詞
func tokenize(item string, tokens map[string]struct{}) {
	normalized := nonAlphanumeric.ReplaceAllString(strings.ToLower(strings.TrimSpace(item)), " ")
	for _, word := range strings.Fields(normalized) {
		if len(word) <= 2 {
			continue
		}
		if _, skip := stopWords[word]; skip {
			continue
		}
		tokens[word] = struct{}{}
	}
}

// tokenSet 將多段文字合併成單一詞集合
func tokenSet(items []string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, item := range items {
		tokenize(item, tokens)
	}
	return tokens
}

// jaccard 交集大小除以聯集大小；任一側為空回傳 0
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	intersection := 0
	for token := range a {
		if _, ok := b[token]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection

	return float64(intersection) / float64(union)
}

// WordSimilarity 比較兩份食材列表的詞重疊度，回傳 [0,1]。
// 對稱；兩側相同非空集合回傳 1。
func WordSimilarity(itemsA, itemsB []string) float64 {
	return jaccard(tokenSet(itemsA), tokenSet(itemsB))
}

// TitleSimilarity 以相同演算法比較兩個標題
func TitleSimilarity(titleA, titleB string) float64 {
	return jaccard(tokenSet([]string{titleA}), tokenSet([]string{titleB}))
}
