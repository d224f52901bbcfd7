package repo

import (
	"sort"

	"flowtabs/internal/model"
)

// Favorites are weak references: a key may outlive its item and applies again
// if the item reappears.

func (r *Repository) AddFavorite(key model.Key) bool {
	if _, ok := r.favorites[key]; ok {
		return false
	}
	r.favorites[key] = struct{}{}
	return true
}

func (r *Repository) RemoveFavorite(key model.Key) bool {
	if _, ok := r.favorites[key]; !ok {
		return false
	}
	delete(r.favorites, key)
	return true
}

func (r *Repository) IsFavorite(key model.Key) bool {
	_, ok := r.favorites[key]
	return ok
}

func (r *Repository) Favorites() []model.Key {
	out := make([]model.Key, 0, len(r.favorites))
	for k := range r.favorites {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
