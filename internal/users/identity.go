package users

import (
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/codeforge/internal/auth"
)

const defaultIdentityProvider = "default"

// Identity links a login at the identity provider to a learner row.
// Several logins may point at the same learner.
type Identity struct {
	Provider    string    `gorm:"column:provider;primaryKey;size:32;not null"`
	Subject     string    `gorm:"column:subject;primaryKey;size:190;not null"`
	UserID      string    `gorm:"column:user_id;size:190;not null;index"`
	Email       string    `gorm:"column:user_email;size:320"`
	DisplayName string    `gorm:"column:user_display_name;size:320"`
	AvatarURL   string    `gorm:"column:user_avatar_url;size:512"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at;autoUpdateTime"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Identity) TableName() string {
	return "user_identities"
}

// loginKey is the provider+subject pair identities are keyed by.
type loginKey struct {
	provider string
	subject  string
}

func (k loginKey) String() string {
	return k.provider + ":" + k.subject
}

func (k loginKey) valid() bool {
	return k.subject != ""
}

// loginKeyFromClaims prefers a "provider:subject" user id, then the token subject,
// then a bare user id, then the email address.
func loginKeyFromClaims(claims auth.SessionClaims) loginKey {
	key := loginKey{provider: defaultIdentityProvider, subject: normalize(claims.Subject)}

	if raw := normalize(claims.UserID); raw != "" {
		provider, subject, qualified := strings.Cut(raw, ":")
		provider, subject = normalize(provider), normalize(subject)
		switch {
		case qualified && provider != "" && subject != "":
			key.provider, key.subject = provider, subject
		case !qualified && key.subject == "":
			key.subject = raw
		}
	}
	if key.subject == "" {
		key.subject = normalize(claims.UserEmail)
	}
	return key
}

// newIdentity maps a first-seen login onto a learner whose id is the login subject.
func newIdentity(key loginKey, claims auth.SessionClaims, seenAt time.Time) Identity {
	return Identity{
		Provider:    key.provider,
		Subject:     key.subject,
		UserID:      key.subject,
		Email:       normalize(claims.UserEmail),
		DisplayName: normalize(claims.UserDisplayName),
		AvatarURL:   normalize(claims.UserAvatarURL),
		LastSeenAt:  seenAt,
	}
}

// identityChanges lists the columns the claims would refresh. Empty claim values never clear stored data.
func identityChanges(identity Identity, claims auth.SessionClaims, seenAt time.Time) map[string]interface{} {
	changes := map[string]interface{}{"last_seen_at": seenAt}
	setIfChanged(changes, "user_email", identity.Email, claims.UserEmail)
	setIfChanged(changes, "user_display_name", identity.DisplayName, claims.UserDisplayName)
	setIfChanged(changes, "user_avatar_url", identity.AvatarURL, claims.UserAvatarURL)
	return changes
}

func setIfChanged(changes map[string]interface{}, column, stored, incoming string) {
	if value := normalize(incoming); value != "" && value != stored {
		changes[column] = value
	}
}

// profileFromClaims builds the learner profile for an identity. The first word of the
// display name becomes the first name.
func profileFromClaims(userID string, claims auth.SessionClaims) Profile {
	profile := Profile{
		ID:              userID,
		Email:           claims.UserEmail,
		ProfileImageURL: claims.UserAvatarURL,
	}
	if names := strings.Fields(claims.UserDisplayName); len(names) > 0 {
		profile.FirstName = names[0]
		profile.LastName = strings.Join(names[1:], " ")
	}
	return profile
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
