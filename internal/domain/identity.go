package domain

// Identity is an authenticated user the session can be bound to.
type Identity struct {
	ID           string         `gorm:"primaryKey;size:64" json:"id"`
	DisplayName  string         `gorm:"size:255;uniqueIndex;not null" json:"display_name"`
	Attributes   map[string]any `gorm:"serializer:json" json:"attributes"`
	PasswordHash string         `gorm:"size:255" json:"-"`
	CreatedAt    int64          `gorm:"autoCreateTime:milli" json:"created_at"`
}
