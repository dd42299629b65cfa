package allocation

import "time"

type Mode string

const (
	ModeSingle     Mode = "single"
	ModeRoundRobin Mode = "round_robin"
	ModeWeighted   Mode = "weighted"
	ModeSticky     Mode = "sticky"
)

func ParseMode(s string) (Mode, bool) {
	switch m := Mode(s); m {
	case ModeSingle, ModeRoundRobin, ModeWeighted, ModeSticky:
		return m, true
	default:
		return "", false
	}
}

// BookingTarget is a closer: a destination a lead can be routed to.
type BookingTarget struct {
	ID             string     `gorm:"column:id;primaryKey" json:"id"`
	CreatorID      string     `gorm:"column:creator_id;index;not null" json:"creator_id"`
	Name           string     `gorm:"column:name;not null" json:"name"`
	DestinationURL string     `gorm:"column:destination_url;not null" json:"destination_url"`
	Weight         int        `gorm:"column:weight;not null" json:"weight"`
	Active         bool       `gorm:"column:active;not null" json:"active"`
	UsesCount      int64      `gorm:"column:uses_count;not null" json:"uses_count"`
	LastUsedAt     *time.Time `gorm:"column:last_used_at" json:"last_used_at,omitempty"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (BookingTarget) TableName() string { return "booking_targets" }

type RoutingConfig struct {
	CreatorID       string    `gorm:"column:creator_id;primaryKey" json:"creator_id"`
	Mode            Mode      `gorm:"column:mode;type:varchar(16);not null" json:"mode"`
	DefaultTargetID *string   `gorm:"column:default_target_id" json:"default_target_id,omitempty"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (RoutingConfig) TableName() string { return "routing_configs" }

// AllocationEvent records one pick. The most recent rows drive round-robin
// fairness, so no cursor has to be persisted.
type AllocationEvent struct {
	ID        string    `gorm:"column:id;primaryKey"`
	CreatorID string    `gorm:"column:creator_id;not null;index:idx_allocation_events_creator_created,priority:1"`
	TargetID  string    `gorm:"column:target_id;not null"`
	ViewerID  string    `gorm:"column:viewer_id"`
	Mode      Mode      `gorm:"column:mode;type:varchar(16)"`
	CreatedAt time.Time `gorm:"column:created_at;index:idx_allocation_events_creator_created,priority:2"`
}

func (AllocationEvent) TableName() string { return "allocation_events" }

func Models() []any {
	return []any{&BookingTarget{}, &RoutingConfig{}, &AllocationEvent{}}
}
