package model

import "time"

// ChatMessage — нормализованное сообщение чата Twitch.
type ChatMessage struct {
	ID          string
	Channel     string
	Username    string
	DisplayName string
	Text        string
	Badges      BadgeSet
	SentAt      time.Time
}

// IsMod сообщает, есть ли у автора права модератора (владелец канала тоже модератор).
func (m ChatMessage) IsMod() bool {
	return m.Badges.IsModerator()
}
