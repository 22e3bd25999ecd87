package models

const (
	RarityCommon    = "common"
	RarityRare      = "rare"
	RarityEpic      = "epic"
	RarityLegendary = "legendary"
)

// Chest is a purchasable loot container. The drop table itself lives behind
// the reward collaborator; the chest row only carries pricing and bounds.
type Chest struct {
	ID          string `gorm:"primaryKey" json:"id"`
	Name        string `gorm:"not null" json:"name"`
	Description string `gorm:"type:varchar(500)" json:"description"`

	PriceStars int64 `gorm:"not null" json:"price_stars"`

	// Star reward bounds, inclusive; the reward table rolls within them.
	MinStars int64 `gorm:"default:0" json:"min_stars"`
	MaxStars int64 `gorm:"default:0" json:"max_stars"`

	IsActive bool `gorm:"default:true" json:"is_active"`

	Timestamps
}
