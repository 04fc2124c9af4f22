package domain

import (
	"strings"
	"time"
)

type User struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Email          string    `gorm:"size:320;uniqueIndex;not null" json:"email"`
	Name           string    `gorm:"size:256" json:"name"`
	PasswordHash   *string   `gorm:"size:128" json:"-"`
	Provider       string    `gorm:"size:32;index:idx_provider_identity" json:"provider"`
	ProviderUserID *string   `gorm:"size:128;index:idx_provider_identity" json:"-"`
	Roles          string    `gorm:"size:512" json:"roles"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// RoleList splits the comma-separated roles column. Roles are opaque claims
// embedded in access tokens; this service does not interpret them.
func (u *User) RoleList() []string {
	var roles []string
	for _, r := range strings.Split(u.Roles, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}
