package model

import (
	"fmt"
	"sort"
)

// Rank — ступень, которую пользователь получает за накопленный опыт.
type Rank struct {
	Name      string `yaml:"name"`
	Level     int    `yaml:"level"`
	Threshold int64  `yaml:"threshold"`
}

// RankTable — упорядоченный по уровню список рангов.
type RankTable []Rank

// Validate проверяет, что уровни начинаются с 1 и строго растут, а пороги не убывают.
func (t RankTable) Validate() error {
	for i, r := range t {
		if i == 0 {
			if r.Level != 1 {
				return fmt.Errorf("%w: first level is %d", ErrInvalidRankTable, r.Level)
			}
			continue
		}
		prev := t[i-1]
		if r.Level <= prev.Level {
			return fmt.Errorf("%w: level %d after %d", ErrInvalidRankTable, r.Level, prev.Level)
		}
		if r.Threshold < prev.Threshold {
			return fmt.Errorf("%w: threshold of %q below %q", ErrInvalidRankTable, r.Name, prev.Name)
		}
	}
	return nil
}

// Sorted возвращает копию таблицы, упорядоченную по уровню.
func (t RankTable) Sorted() RankTable {
	out := append(RankTable(nil), t...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out
}

// For возвращает ранг с наибольшим уровнем, порог которого не превышает xp.
// Если опыта не хватает даже на первый ранг, возвращает nil.
func (t RankTable) For(xp int64) *Rank {
	var found *Rank
	for i := range t {
		if t[i].Threshold > xp {
			break
		}
		found = &t[i]
	}
	if found == nil {
		return nil
	}
	r := *found
	return &r
}

// Next возвращает ранг, следующий за текущим, или nil для последнего.
func (t RankTable) Next(current *Rank) *Rank {
	for i := range t {
		if current == nil || t[i].Level > current.Level {
			r := t[i]
			return &r
		}
	}
	return nil
}
