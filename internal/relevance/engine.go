// Package relevance scores tabs and windows by frequency and recency and
// partitions them into a relevant view and an overflow view.
package relevance

import (
	"math"
	"slices"
	"time"

	"flowtabs/internal/model"
)

const (
	// Lambda is the recency decay rate per elapsed minute.
	Lambda = 0.07
	// Alpha weights the frequency share; Beta weights recency. Alpha+Beta == 1.
	Alpha = 0.3
	Beta  = 0.7
	// Threshold separates relevant items from overflow.
	Threshold = 0.5
)

// FrequencyScores returns frequency(i) / Σ frequency for every item, in input
// order. All scores are 0 when the total is 0.
func FrequencyScores(items []model.Item) []float64 {
	out := make([]float64, len(items))
	total := 0
	for _, it := range items {
		if it.Frequency > 0 {
			total += it.Frequency
		}
	}
	if total == 0 {
		return out
	}
	for i, it := range items {
		if it.Frequency > 0 {
			out[i] = float64(it.Frequency) / float64(total)
		}
	}
	return out
}

// RecencyScore is exp(-Lambda * elapsed minutes), in (0, 1]. Negative elapsed
// time counts as zero.
func RecencyScore(elapsed time.Duration) float64 {
	if elapsed < 0 {
		elapsed = 0
	}
	s := math.Exp(-Lambda * elapsed.Minutes())
	if s <= 0 {
		return math.SmallestNonzeroFloat64
	}
	return s
}

func FinalScore(freq, recency float64) float64 {
	return Alpha*freq + Beta*recency
}

type Engine struct {
	now func() time.Time
}

func New(now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{now: now}
}

// Rank scores items and sorts them by score, highest first. Ties keep
// input order.
func (e *Engine) Rank(items []model.Item) []model.Ranked {
	return rankAt(items, e.now())
}

func rankAt(items []model.Item, now time.Time) []model.Ranked {
	freq := FrequencyScores(items)
	out := make([]model.Ranked, len(items))
	for i, it := range items {
		out[i] = model.Ranked{
			Item:  it,
			Score: FinalScore(freq[i], RecencyScore(now.Sub(it.LastAccessed))),
		}
	}
	slices.SortStableFunc(out, func(a, b model.Ranked) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return 0
		}
	})
	return out
}

// Partition ranks items and splits the non-favorites at the first score
// below Threshold. Favorites are appended to the relevant view regardless of
// score and never appear in overflow.
func (e *Engine) Partition(items []model.Item, isFavorite func(model.Key) bool) model.Views {
	now := e.now()
	ranked := rankAt(items, now)

	var favorites, others []model.Ranked
	for _, r := range ranked {
		if isFavorite != nil && isFavorite(r.Key()) {
			r.Favorite = true
			favorites = append(favorites, r)
			continue
		}
		others = append(others, r)
	}

	split := slices.IndexFunc(others, func(r model.Ranked) bool { return r.Score < Threshold })
	if split == -1 {
		split = len(others)
	}

	relevant := make([]model.Ranked, 0, split+len(favorites))
	relevant = append(relevant, others[:split]...)
	relevant = append(relevant, favorites...)
	overflow := make([]model.Ranked, 0, len(others)-split)
	overflow = append(overflow, others[split:]...)

	return model.Views{Relevant: relevant, Overflow: overflow, At: now}
}
