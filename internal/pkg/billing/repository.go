package billing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Shoaib-Qureshi/LiquidFlow-Project-sub000/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the reconciliation pipeline.
type Repository interface {
	// Transaction runs fn against a repository bound to one transaction.
	Transaction(ctx context.Context, fn func(repo Repository) error) error

	FindClient(ctx context.Context, predicates []Predicate) (*models.Client, error)
	ClientSlugExists(ctx context.Context, slug string) (bool, error)
	CreateClient(ctx context.Context, client *models.Client) error
	SaveClient(ctx context.Context, client *models.Client) error

	ListActivePlans(ctx context.Context) ([]models.Plan, error)
	FindActivePlanBySlug(ctx context.Context, slug string) (*models.Plan, error)
	FindActivePlanMapping(ctx context.Context, provider string, productRefs ...string) (*models.PlanMapping, error)

	UpsertOrder(ctx context.Context, order *models.WooCommerceOrder) error
	GetOrder(ctx context.Context, orderID uint64) (*models.WooCommerceOrder, error)

	GetSubscriptionByReference(ctx context.Context, ref string) (*models.Subscription, error)
	ListLifecycleSubscriptions(ctx context.Context, clientID uint) ([]models.Subscription, error)
	UpsertSubscription(ctx context.Context, sub *models.Subscription) error
	SaveSubscription(ctx context.Context, sub *models.Subscription) error

	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
	GrantCapability(ctx context.Context, userID uint, capability models.Capability) error

	CreateWebhookEventIfNotExists(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	GetWebhookEvent(ctx context.Context, id uint) (*models.WebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, id uint, processingError string, at time.Time) error
	ListUnprocessedWebhookEvents(ctx context.Context, createdBefore time.Time, limit int) ([]models.WebhookEvent, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Transaction(ctx context.Context, fn func(repo Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}

func (r *gormRepository) FindClient(ctx context.Context, predicates []Predicate) (*models.Client, error) {
	if len(predicates) == 0 {
		return nil, gorm.ErrRecordNotFound
	}

	where, args := joinPredicates(predicates)

	var client models.Client
	if err := r.db.WithContext(ctx).Where(where, args...).Order("id ASC").First(&client).Error; err != nil {
		return nil, err
	}
	return &client, nil
}

func (r *gormRepository) ClientSlugExists(ctx context.Context, slug string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Client{}).Where("slug = ?", slug).Count(&count).Error
	return count > 0, err
}

func (r *gormRepository) CreateClient(ctx context.Context, client *models.Client) error {
	return r.db.WithContext(ctx).Create(client).Error
}

func (r *gormRepository) SaveClient(ctx context.Context, client *models.Client) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(client).Error
}

func (r *gormRepository) ListActivePlans(ctx context.Context) ([]models.Plan, error) {
	var plans []models.Plan
	err := r.db.WithContext(ctx).Where("is_active = ?", true).Order("id ASC").Find(&plans).Error
	return plans, err
}

func (r *gormRepository) FindActivePlanBySlug(ctx context.Context, slug string) (*models.Plan, error) {
	var plan models.Plan
	err := r.db.WithContext(ctx).
		Where("slug = ? AND is_active = ?", strings.TrimSpace(slug), true).
		First(&plan).Error
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *gormRepository) FindActivePlanMapping(ctx context.Context, provider string, productRefs ...string) (*models.PlanMapping, error) {
	if len(productRefs) == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	var m models.PlanMapping
	err := r.db.WithContext(ctx).
		Where("provider = ? AND product_ref IN ? AND is_active = ?", provider, productRefs, true).
		Order("id ASC").
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *gormRepository) UpsertOrder(ctx context.Context, order *models.WooCommerceOrder) error {
	db := r.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "order_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"client_id",
			"status",
			"currency",
			"total",
			"customer_email",
			"payload",
			"processed_at",
			"updated_at",
		}),
	}).Create(order).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert.
	var stored models.WooCommerceOrder
	if err := db.Where("order_id = ?", order.OrderID).First(&stored).Error; err != nil {
		return err
	}
	*order = stored
	return nil
}

func (r *gormRepository) GetOrder(ctx context.Context, orderID uint64) (*models.WooCommerceOrder, error) {
	var order models.WooCommerceOrder
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *gormRepository) GetSubscriptionByReference(ctx context.Context, ref string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).Where("external_reference = ?", ref).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) ListLifecycleSubscriptions(ctx context.Context, clientID uint) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.WithContext(ctx).
		Where("client_id = ? AND external_reference LIKE ?", clientID, models.ExternalRefWooSubscription+"%").
		Order("id ASC").
		Find(&subs).Error
	return subs, err
}

func (r *gormRepository) UpsertSubscription(ctx context.Context, sub *models.Subscription) error {
	db := r.db.WithContext(ctx)
	if err := db.Omit(clause.Associations).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "external_reference"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"client_id",
			"plan_id",
			"status",
			"starts_at",
			"ends_at",
			"cancelled_at",
			"renewed_at",
			"billing_cycle_count",
			"metadata",
			"last_synced_at",
			"updated_at",
		}),
	}).Create(sub).Error; err != nil {
		return err
	}

	var stored models.Subscription
	if err := db.Where("external_reference = ?", sub.ExternalReference).First(&stored).Error; err != nil {
		return err
	}
	*sub = stored
	return nil
}

func (r *gormRepository) SaveSubscription(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(sub).Error
}

func (r *gormRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		Preload("Capabilities").
		Where("LOWER(email) = ?", strings.ToLower(strings.TrimSpace(email))).
		First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormRepository) CreateUser(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Omit("Capabilities").Create(user).Error
}

func (r *gormRepository) GrantCapability(ctx context.Context, userID uint, capability models.Capability) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
			{Name: "capability"},
		},
		DoNothing: true,
	}).Create(&models.UserCapability{UserID: userID, Capability: capability}).Error
}

func (r *gormRepository) CreateWebhookEventIfNotExists(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	db := r.db.WithContext(ctx)
	tx := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) GetWebhookEvent(ctx context.Context, id uint) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	if err := r.db.WithContext(ctx).First(&event, id).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *gormRepository) MarkWebhookProcessed(ctx context.Context, id uint, processingError string, at time.Time) error {
	updates := map[string]interface{}{
		"processed_at":     &at,
		"processing_error": processingError,
	}
	return r.db.WithContext(ctx).Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

func (r *gormRepository) ListUnprocessedWebhookEvents(ctx context.Context, createdBefore time.Time, limit int) ([]models.WebhookEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []models.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("processed_at IS NULL AND created_at < ?", createdBefore).
		Order("id ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
