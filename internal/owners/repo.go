package owners

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/subsync/pkg/db/models"
)

// Repository resolves provider customers to local owners.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByExternalCustomerID(ctx context.Context, customerID string) (*models.BillingCustomer, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.BillingCustomer, error)
	Upsert(ctx context.Context, customer *models.BillingCustomer) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an owner lookup repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByExternalCustomerID(ctx context.Context, customerID string) (*models.BillingCustomer, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, nil
	}
	var customer models.BillingCustomer
	if err := r.db.WithContext(ctx).
		Where("external_customer_id = ?", customerID).
		First(&customer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &customer, nil
}

func (r *repository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.BillingCustomer, error) {
	var customers []models.BillingCustomer
	if err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at ASC").
		Find(&customers).Error; err != nil {
		return nil, err
	}
	return customers, nil
}

// Upsert creates the mapping or repoints an existing customer id at a new owner.
func (r *repository) Upsert(ctx context.Context, customer *models.BillingCustomer) error {
	if customer == nil {
		return errors.New("customer is required")
	}
	if customer.ID == uuid.Nil {
		customer.ID = uuid.New()
	}
	customer.UpdatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_customer_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"owner_id", "workspace_id", "provider", "updated_at"}),
		}).
		Create(customer).Error
}
