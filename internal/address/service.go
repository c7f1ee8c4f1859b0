// Package address resolves a buyer's shipping address for checkout.
package address

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
)

type Book interface {
	WithTx(tx *gorm.DB) Book
	Resolve(ctx context.Context, userID, addressID uuid.UUID) (*models.Address, error)
}

type book struct {
	db *gorm.DB
}

func NewBook(conn *gorm.DB) Book {
	return &book{db: conn}
}

func (b *book) WithTx(tx *gorm.DB) Book {
	if tx == nil {
		return b
	}
	return &book{db: tx}
}

// Resolve returns the address only when userID owns it. Foreign and unknown
// addresses are both reported as validation failures so ids cannot be probed.
func (b *book) Resolve(ctx context.Context, userID, addressID uuid.UUID) (*models.Address, error) {
	if addressID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipping address is required")
	}
	var addr models.Address
	err := b.db.WithContext(ctx).Where("id = ?", addressID).First(&addr).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipping address not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load address")
	}
	if addr.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipping address not found")
	}
	if err := validate(addr); err != nil {
		return nil, err
	}
	return &addr, nil
}

func validate(addr models.Address) error {
	var missing []string
	if strings.TrimSpace(addr.Recipient) == "" {
		missing = append(missing, "recipient")
	}
	if strings.TrimSpace(addr.Line1) == "" {
		missing = append(missing, "line1")
	}
	if strings.TrimSpace(addr.City) == "" {
		missing = append(missing, "city")
	}
	if strings.TrimSpace(addr.Country) == "" {
		missing = append(missing, "country")
	}
	if len(missing) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "shipping address incomplete").
			WithDetails(map[string][]string{"missing": missing})
	}
	return nil
}
