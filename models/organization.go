package models

import "time"

type Organization struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Name      string    `json:"name" gorm:"not null"`
	Tables    []Table   `json:"tables,omitempty" gorm:"foreignKey:OrganizationID"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Table is a physical table; diners reach checkout through its QR code
type Table struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	OrganizationID uint      `json:"organization_id" gorm:"not null;index"`
	Name           string    `json:"name" gorm:"not null"`
	QRCode         string    `json:"qr_code" gorm:"uniqueIndex;not null"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ProcessorCredential holds one organization's gateway credentials, sealed at rest
type ProcessorCredential struct {
	ID                uint          `json:"id" gorm:"primaryKey"`
	OrganizationID    uint          `json:"organization_id" gorm:"not null;index"`
	Processor         ProcessorType `json:"processor" gorm:"not null"`
	AccessTokenSealed []byte        `json:"-" gorm:"not null"`
	PublicKey         string        `json:"public_key"`
	Active            bool          `json:"active" gorm:"not null;default:true;index"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}
