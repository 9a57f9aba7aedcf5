package models

import "time"

// ProductCodeSequence is the per-(tenant, category) counter behind product
// code allocation. The row is locked FOR UPDATE while a code is handed out,
// so two creates in the same category serialize; different categories never
// touch each other's row. Counters only move forward, deletes leave gaps.
type ProductCodeSequence struct {
	ClientId   string    `gorm:"primaryKey;size:64" json:"client_id"`
	CategoryId int       `gorm:"primaryKey" json:"category_id"`
	NextSeq    int       `gorm:"not null" json:"next_seq"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
