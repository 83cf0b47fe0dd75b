package models

import (
	"time"
)

type Customer struct {
	ID          uint   `gorm:"primaryKey"`
	Username    string `gorm:"size:64;uniqueIndex;not null"`
	Fullname    string `gorm:"size:128"`
	PhoneNumber string `gorm:"column:phonenumber;size:32"`
	Email       string `gorm:"size:128"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (Customer) TableName() string {
	return "tbl_customers"
}
