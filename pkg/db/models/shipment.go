package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
)

// Shipment is created the first time a shipper claims a sub-order.
type Shipment struct {
	ID                uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	SubOrderID        uuid.UUID            `gorm:"column:sub_order_id;type:uuid;not null;uniqueIndex"`
	ShipperID         *uuid.UUID           `gorm:"column:shipper_id;type:uuid;index"`
	TrackingNumber    string               `gorm:"column:tracking_number;not null;uniqueIndex"`
	Status            enums.ShipmentStatus `gorm:"column:status;type:text;not null;default:'waiting'"`
	EstimatedDelivery *time.Time           `gorm:"column:estimated_delivery"`
	ActualDelivery    *time.Time           `gorm:"column:actual_delivery"`
	CreatedAt         time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *Shipment) BeforeCreate(*gorm.DB) error {
	assignID(&s.ID)
	return nil
}
