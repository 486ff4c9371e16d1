package models

import (
	"time"

	"github.com/google/uuid"
)

// BillingCustomer maps a provider customer to the local owner and workspace.
type BillingCustomer struct {
	ID                 uuid.UUID `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Provider           string    `gorm:"column:provider;not null" json:"provider"`
	ExternalCustomerID string    `gorm:"column:external_customer_id;not null;uniqueIndex" json:"external_customer_id"`
	OwnerID            uuid.UUID `gorm:"column:owner_id;type:uuid;not null;index" json:"owner_id"`
	WorkspaceID        string    `gorm:"column:workspace_id;not null;default:''" json:"workspace_id"`
	CreatedAt          time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (BillingCustomer) TableName() string {
	return "billing_customers"
}
