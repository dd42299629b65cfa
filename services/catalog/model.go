package catalog

import "time"

// ContentItem is the sellable content a booking or purchase refers to.
type ContentItem struct {
	ID         string    `gorm:"column:id;primaryKey" json:"id"`
	CreatorID  string    `gorm:"column:creator_id;index;not null" json:"creator_id"`
	Title      string    `gorm:"column:title" json:"title"`
	BookingURL *string   `gorm:"column:booking_url" json:"booking_url,omitempty"`
	PriceCents int64     `gorm:"column:price_cents;not null;default:0" json:"price_cents"`
	Currency   string    `gorm:"column:currency;type:varchar(3);default:'usd'" json:"currency"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (ContentItem) TableName() string { return "content_items" }

// Priced reports whether the item carries a product that can be charged.
func (c *ContentItem) Priced() bool {
	return c.PriceCents > 0 && c.Currency != ""
}

type CreatorProfile struct {
	UserID           string    `gorm:"column:user_id;primaryKey" json:"user_id"`
	DisplayName      string    `gorm:"column:display_name" json:"display_name"`
	BookingURL       *string   `gorm:"column:booking_url" json:"booking_url,omitempty"`
	BookingURLPublic bool      `gorm:"column:booking_url_public;not null;default:false" json:"booking_url_public"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (CreatorProfile) TableName() string { return "creator_profiles" }

// LegacyCloser is a pre-migration destination row. Read only here.
type LegacyCloser struct {
	ID             string    `gorm:"column:id;primaryKey" json:"id"`
	CreatorID      string    `gorm:"column:creator_id;index;not null" json:"creator_id"`
	DestinationURL string    `gorm:"column:destination_url" json:"destination_url"`
	Weight         int       `gorm:"column:weight;not null" json:"weight"`
	Active         bool      `gorm:"column:active;not null" json:"active"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (LegacyCloser) TableName() string { return "closers" }

// Models lists the tables owned by this package, for migrations.
func Models() []any {
	return []any{&ContentItem{}, &CreatorProfile{}, &LegacyCloser{}}
}
