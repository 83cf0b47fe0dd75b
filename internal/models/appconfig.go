package models

// AppConfig is a single key/value row of runtime settings.
type AppConfig struct {
	ID      uint   `gorm:"primaryKey"`
	Setting string `gorm:"size:128;uniqueIndex;not null"`
	Value   string `gorm:"type:text"`
}

func (AppConfig) TableName() string {
	return "tbl_appconfig"
}
