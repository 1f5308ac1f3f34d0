package model

import "time"

// FollowInfo — данные о подписке зрителя на канал.
type FollowInfo struct {
	Following  bool
	FollowedAt time.Time
}

// Days возвращает число полных дней подписки на момент now.
func (f FollowInfo) Days(now time.Time) int {
	if !f.Following || f.FollowedAt.IsZero() || now.Before(f.FollowedAt) {
		return 0
	}
	return int(now.Sub(f.FollowedAt).Hours() / 24)
}
