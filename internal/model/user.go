package model

// User is the read-only view of a user that the messaging core needs.
// Profile fields are owned by the auth/profile subsystem.
type User struct {
	ID             string  `db:"id" json:"id"`
	Name           *string `db:"name" json:"name"`
	LanguageCode   string  `db:"language_code" json:"language_code"`     // view language
	TargetLanguage *string `db:"target_language" json:"target_language"` // input language
	FCMToken       *string `db:"fcm_token" json:"-"`
}

// DisplayName returns the user's name or fallback when the name is unset.
func (u *User) DisplayName(fallback string) string {
	if u == nil || u.Name == nil || *u.Name == "" {
		return fallback
	}
	return *u.Name
}

// UserSummary is the compact user shape embedded in conversation listings.
type UserSummary struct {
	ID              string  `db:"id" json:"id"`
	Name            *string `db:"name" json:"name"`
	ProfileImageURL *string `db:"profile_image_url" json:"profile_image_url"`
	LanguageCode    string  `db:"language_code" json:"language_code"`
}
