package repository

import "time"

// Prediction lifecycle states. Only classified rows are visible to readers.
const (
	StatusProvisional = "provisional"
	StatusClassified  = "classified"
)

// Prediction is a persisted classification of one uploaded image.
type Prediction struct {
	ID              string     `gorm:"primaryKey;size:36"`
	UserID          string     `gorm:"column:user_id;size:64;index:idx_predictions_user_created"`
	ImagePath       string     `gorm:"column:image_path;size:255"`
	Label           string     `gorm:"column:predicted_label;size:50;index"`
	Confidence      float64    `gorm:"column:confidence_score"`
	Symptoms        string     `gorm:"column:symptoms;type:text"`
	Recommendations string     `gorm:"column:recommendations;type:text"`
	Status          string     `gorm:"column:status;size:16;index"`
	CreatedAt       time.Time  `gorm:"column:created_at;index:idx_predictions_user_created"`
	UpdatedAt       time.Time  `gorm:"column:updated_at"`
	Medicines       []Medicine `gorm:"foreignKey:PredictionID;constraint:OnDelete:CASCADE"`
}

// TableName overrides the default table name.
func (Prediction) TableName() string {
	return "predictions"
}

// Medicine is a suggestion owned by exactly one prediction.
type Medicine struct {
	ID           uint      `gorm:"primaryKey"`
	PredictionID string    `gorm:"column:prediction_id;size:36;index"`
	Name         string    `gorm:"column:name;size:200"`
	GenericName  string    `gorm:"column:generic_name;size:200"`
	DosageForm   string    `gorm:"column:dosage_form;size:100"`
	Manufacturer string    `gorm:"column:manufacturer;size:200"`
	Description  string    `gorm:"column:description;type:text"`
	SideEffects  string    `gorm:"column:side_effects;type:text"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (Medicine) TableName() string {
	return "medicines"
}

// LabelCount is the number of classified predictions for one label.
type LabelCount struct {
	Label string
	Count int64
}

// Aggregation holds global prediction statistics.
type Aggregation struct {
	TotalCount int64
	ByLabel    []LabelCount
}
