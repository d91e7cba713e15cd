package entities

import (
	"github.com/google/uuid"
)

type Tag struct {
	ID    uuid.UUID `gorm:"type:uuid;primary_key;default:uuid_generate_v4()" json:"id"`
	Name  string    `json:"name"`
	Slug  string    `gorm:"uniqueIndex" json:"slug"`
	Color string    `gorm:"default:#008000" json:"color"`
}

// Ingredient is immutable reference data. Identity is the (name, measurement
// unit) pair, so "sugar, g" and "sugar, tbsp" are two distinct rows.
type Ingredient struct {
	ID              uuid.UUID `gorm:"type:uuid;primary_key;default:uuid_generate_v4()" json:"id"`
	Name            string    `gorm:"uniqueIndex:idx_name_unit" json:"name"`
	MeasurementUnit string    `gorm:"uniqueIndex:idx_name_unit" json:"measurement_unit"`
}
