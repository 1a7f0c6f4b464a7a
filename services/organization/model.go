package organization

import (
	"time"

	"gorm.io/gorm"
)

// Organization is the tenant that owns a license. Deleting an
// organization cascades to its license and event history.
type Organization struct {
	ID        string         `json:"id" gorm:"primaryKey"`
	Name      string         `json:"name"`
	Slug      string         `json:"slug" gorm:"uniqueIndex"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

func (Organization) TableName() string {
	return "organizations"
}
