package models

import "time"

type User struct {
	ID           uint      `gorm:"primaryKey;autoIncrement"          json:"id"`
	Username     string    `gorm:"size:50;uniqueIndex;not null"      json:"username"`
	Email        string    `gorm:"size:255;uniqueIndex;not null"     json:"email"`
	PasswordHash string    `gorm:"size:255;not null"                 json:"-"`
	FederatedUID *string   `gorm:"size:128;uniqueIndex"              json:"-"`
	DisplayName  string    `gorm:"size:255"                          json:"-"`
	PhotoURL     string    `gorm:"size:1024"                         json:"-"`
	ClassLevel   *string   `gorm:"size:20"                           json:"class_level,omitempty"`
	Stream       *string   `gorm:"size:50"                           json:"stream,omitempty"`
	IsAdmin      bool      `gorm:"not null;default:false"            json:"is_admin"`
	CreatedAt    time.Time `json:"-"`
	UpdatedAt    time.Time `json:"-"`
}

type RefreshToken struct {
	ID        uint      `gorm:"primaryKey"                    json:"id"`
	JTI       string    `gorm:"size:64;uniqueIndex;not null"  json:"jti"`
	Username  string    `gorm:"size:50;index;not null"        json:"username"`
	ExpiresAt int64     `gorm:"not null"                      json:"expires_at"`
	Revoked   bool      `gorm:"not null;default:false"        json:"revoked"`
	CreatedAt time.Time `json:"created_at"`
}

type AccessTokenBlocklist struct {
	ID        uint      `gorm:"primaryKey"                    json:"id"`
	JTI       string    `gorm:"size:64;uniqueIndex;not null"  json:"jti"`
	ExpiresAt int64     `gorm:"index;not null"                json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

func (AccessTokenBlocklist) TableName() string {
	return "access_token_blocklist"
}

// All lists every model for AutoMigrate.
func All() []any {
	return []any{&User{}, &RefreshToken{}, &AccessTokenBlocklist{}}
}
