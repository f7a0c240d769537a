package models

import (
	"fmt"
	"time"
)

const DefaultAvatar = "default_avatar.png"

// Profile is the public face of a user as stored in the document store.
type Profile struct {
	UserID     int64      `bson:"_id" json:"userId"`
	Username   string     `bson:"username" json:"username"`
	AvatarURL  string     `bson:"avatar_url,omitempty" json:"avatarUrl,omitempty"`
	LastSeenAt *time.Time `bson:"last_seen_at,omitempty" json:"lastSeenAt,omitempty"`
}

// DisplayName falls back to "User <id>" when the profile is missing or unnamed.
func DisplayName(p *Profile, userID int64) string {
	if p == nil || p.Username == "" {
		return fmt.Sprintf("User %d", userID)
	}
	return p.Username
}

func AvatarOf(p *Profile) string {
	if p == nil || p.AvatarURL == "" {
		return DefaultAvatar
	}
	return p.AvatarURL
}

func (p *Profile) Snapshot() *AuthorSnapshot {
	if p == nil {
		return nil
	}
	return &AuthorSnapshot{UserID: p.UserID, Username: p.Username, AvatarURL: p.AvatarURL}
}
