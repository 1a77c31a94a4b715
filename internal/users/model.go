package users

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	xpPerLevel              = 200
	defaultLeaderboardLimit = 100
	maxLeaderboardLimit     = 500
	rankingOrder            = "xp DESC, created_at ASC, id ASC"
)

// User is the persisted learner profile with its XP counter and cached rank.
type User struct {
	ID              string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	Email           string    `gorm:"column:email;size:320" json:"email,omitempty"`
	FirstName       string    `gorm:"column:first_name;size:190" json:"firstName,omitempty"`
	LastName        string    `gorm:"column:last_name;size:190" json:"lastName,omitempty"`
	ProfileImageURL string    `gorm:"column:profile_image_url;size:512" json:"profileImageUrl,omitempty"`
	XP              int64     `gorm:"column:xp;not null;default:0;index:idx_users_ranking,priority:1,sort:desc" json:"xp"`
	Rank            int       `gorm:"column:rank;not null;default:0" json:"rank"`
	Badges          Badges    `gorm:"column:badges;type:text" json:"badges"`
	CreatedAt       time.Time `gorm:"column:created_at;index:idx_users_ranking,priority:2" json:"createdAt"`
	UpdatedAt       time.Time `gorm:"column:updated_at" json:"updatedAt"`
}

// TableName exposes the table backing learner profiles.
func (User) TableName() string {
	return "users"
}

// Level reports the derived level and the XP needed to reach the next one.
func (u User) Level() (int, int64) {
	level := int(u.XP / xpPerLevel)
	return level, int64(level+1) * xpPerLevel
}

// LeaderboardEntry is the public view of a ranked learner. It omits contact details.
type LeaderboardEntry struct {
	ID              string `json:"id"`
	FirstName       string `json:"firstName,omitempty"`
	LastName        string `json:"lastName,omitempty"`
	ProfileImageURL string `json:"profileImageUrl,omitempty"`
	XP              int64  `json:"xp"`
	Rank            int    `json:"rank"`
	Level           int    `json:"level"`
	Badges          Badges `json:"badges"`
}

// LeaderboardEntry projects the user onto its public leaderboard view.
func (u User) LeaderboardEntry() LeaderboardEntry {
	level, _ := u.Level()
	badges := u.Badges
	if badges == nil {
		badges = Badges{}
	}
	return LeaderboardEntry{
		ID:              u.ID,
		FirstName:       u.FirstName,
		LastName:        u.LastName,
		ProfileImageURL: u.ProfileImageURL,
		XP:              u.XP,
		Rank:            u.Rank,
		Level:           level,
		Badges:          badges,
	}
}

// Profile carries identity attributes used to create or refresh a user row.
type Profile struct {
	ID              string
	Email           string
	FirstName       string
	LastName        string
	ProfileImageURL string
}

// Badges is an ordered set of earned badge identifiers stored as a JSON array.
type Badges []string

// Value implements driver.Valuer.
func (b Badges) Value() (driver.Value, error) {
	if b == nil {
		return "[]", nil
	}
	encoded, err := json.Marshal([]string(b))
	if err != nil {
		return nil, err
	}
	return string(encoded), nil
}

// Scan implements sql.Scanner.
func (b *Badges) Scan(value any) error {
	var raw []byte
	switch typed := value.(type) {
	case nil:
		*b = Badges{}
		return nil
	case string:
		raw = []byte(typed)
	case []byte:
		raw = typed
	default:
		return fmt.Errorf("users: unsupported badges type %T", value)
	}
	if len(raw) == 0 {
		*b = Badges{}
		return nil
	}
	var decoded []string
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return errors.Join(errors.New("users: invalid badges payload"), err)
	}
	*b = Badges(decoded)
	return nil
}

// Has reports whether the badge is already earned.
func (b Badges) Has(badge string) bool {
	for _, existing := range b {
		if existing == badge {
			return true
		}
	}
	return false
}

type xpMilestone struct {
	threshold int64
	badge     string
}

var xpMilestones = []xpMilestone{
	{threshold: 100, badge: "xp-100"},
	{threshold: 500, badge: "xp-500"},
	{threshold: 1000, badge: "xp-1000"},
	{threshold: 5000, badge: "xp-5000"},
}

// milestoneBadges returns badges whose threshold the new XP total reaches and that are not yet earned.
func milestoneBadges(xp int64, earned Badges) []string {
	var awarded []string
	for _, milestone := range xpMilestones {
		if xp >= milestone.threshold && !earned.Has(milestone.badge) {
			awarded = append(awarded, milestone.badge)
		}
	}
	return awarded
}
