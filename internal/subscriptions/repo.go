package subscriptions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	pkgdb "github.com/angelmondragon/subsync/pkg/db"
	"github.com/angelmondragon/subsync/pkg/db/models"
	"github.com/angelmondragon/subsync/pkg/enums"
)

var (
	// ErrWatermarkConflict means another writer advanced the record first.
	ErrWatermarkConflict = errors.New("subscription watermark changed concurrently")
	// ErrAlreadyExists means an insert lost the race to another writer.
	ErrAlreadyExists = errors.New("subscription record already exists")
)

const subscriptionIDConstraint = "subscription_records_subscription_id_key"

// Fields is a column -> value patch applied to a subscription record.
type Fields map[string]any

// Repository persists subscription records.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByKey(ctx context.Context, subscriptionID string) (*models.SubscriptionRecord, error)
	FindLiveByOwner(ctx context.Context, ownerID uuid.UUID, excludeSubscriptionID string) ([]models.SubscriptionRecord, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.SubscriptionRecord, error)
	Insert(ctx context.Context, record *models.SubscriptionRecord) error
	ConditionalUpdate(ctx context.Context, subscriptionID string, expected models.Watermark, fields Fields) error
	UpdateFields(ctx context.Context, subscriptionID string, fields Fields) error
	ListForReconciliation(ctx context.Context, limit int, lookback time.Duration) ([]models.SubscriptionRecord, error)
	ListOwnersWithMultipleLive(ctx context.Context, limit int) ([]uuid.UUID, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a subscription repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByKey(ctx context.Context, subscriptionID string) (*models.SubscriptionRecord, error) {
	if subscriptionID == "" {
		return nil, nil
	}
	var record models.SubscriptionRecord
	if err := r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *repository) FindLiveByOwner(ctx context.Context, ownerID uuid.UUID, excludeSubscriptionID string) ([]models.SubscriptionRecord, error) {
	query := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Where("status IN ?", enums.LiveSubscriptionStatuses)
	if excludeSubscriptionID != "" {
		query = query.Where("subscription_id <> ?", excludeSubscriptionID)
	}
	var records []models.SubscriptionRecord
	if err := query.Order("created_at ASC").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.SubscriptionRecord, error) {
	var records []models.SubscriptionRecord
	if err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// Insert creates the record unless the subscription id is already tracked.
func (r *repository) Insert(ctx context.Context, record *models.SubscriptionRecord) error {
	if record == nil {
		return errors.New("record is required")
	}
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "subscription_id"}},
			DoNothing: true,
		}).
		Create(record)
	if res.Error != nil {
		if pkgdb.IsUniqueViolation(res.Error, subscriptionIDConstraint) {
			return ErrAlreadyExists
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// ConditionalUpdate applies fields only while the stored watermark still equals expected.
func (r *repository) ConditionalUpdate(ctx context.Context, subscriptionID string, expected models.Watermark, fields Fields) error {
	if len(fields) == 0 {
		return errors.New("no fields to update")
	}
	res := r.db.WithContext(ctx).
		Model(&models.SubscriptionRecord{}).
		Where("subscription_id = ?", subscriptionID).
		Where("last_applied_event_id = ? AND last_applied_event_created_at = ?", expected.EventID, expected.EventCreatedAt).
		Updates(withUpdatedAt(fields))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrWatermarkConflict
	}
	return nil
}

// UpdateFields patches a record without a watermark check.
func (r *repository) UpdateFields(ctx context.Context, subscriptionID string, fields Fields) error {
	if len(fields) == 0 {
		return errors.New("no fields to update")
	}
	res := r.db.WithContext(ctx).
		Model(&models.SubscriptionRecord{}).
		Where("subscription_id = ?", subscriptionID).
		Updates(withUpdatedAt(fields))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) ListForReconciliation(ctx context.Context, limit int, lookback time.Duration) ([]models.SubscriptionRecord, error) {
	if limit <= 0 {
		limit = 250
	}
	if lookback <= 0 {
		lookback = 7 * 24 * time.Hour
	}
	cutoff := time.Now().UTC().Add(-lookback)
	var records []models.SubscriptionRecord
	if err := r.db.WithContext(ctx).
		Where("(status <> ? OR updated_at >= ?)", enums.SubscriptionStatusCanceled, cutoff).
		Order("updated_at DESC").
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repository) ListOwnersWithMultipleLive(ctx context.Context, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 500
	}
	var owners []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&models.SubscriptionRecord{}).
		Where("status IN ?", enums.LiveSubscriptionStatuses).
		Group("owner_id").
		Having("COUNT(*) > ?", 1).
		Order("owner_id").
		Limit(limit).
		Pluck("owner_id", &owners).Error; err != nil {
		return nil, err
	}
	return owners, nil
}

func withUpdatedAt(fields Fields) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["updated_at"] = time.Now().UTC()
	return out
}
