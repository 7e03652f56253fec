package billing

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Shoaib-Qureshi/LiquidFlow-Project-sub000/app/models"
	"github.com/Shoaib-Qureshi/LiquidFlow-Project-sub000/internal/pkg/clock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testNow = time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

func setupBillingTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "billing.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.UserCapability{},
		&models.Client{},
		&models.Plan{},
		&models.PlanMapping{},
		&models.Subscription{},
		&models.WooCommerceOrder{},
		&models.WebhookEvent{},
	))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func seedPlan(t *testing.T, db *gorm.DB, slug, name, price string, days int) *models.Plan {
	t.Helper()
	interval := models.PlanIntervalMonthly
	if days >= 365 {
		interval = models.PlanIntervalYearly
	}
	p := &models.Plan{
		Slug:            slug,
		Name:            name,
		Price:           decimal.RequireFromString(price),
		BillingInterval: interval,
		DurationDays:    days,
		IsActive:        true,
	}
	require.NoError(t, db.Create(p).Error)
	return p
}

type sentInvite struct {
	Email    string
	ClientID uint
	Password string
}

type recordingNotifier struct {
	mu      sync.Mutex
	invites []sentInvite
	err     error
}

func (n *recordingNotifier) NotifyManagerInvite(ctx context.Context, user *models.User, client *models.Client, temporaryPassword string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.invites = append(n.invites, sentInvite{Email: user.Email, ClientID: client.ID, Password: temporaryPassword})
	return n.err
}

func (n *recordingNotifier) sent() []sentInvite {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentInvite(nil), n.invites...)
}

type testEnv struct {
	db       *gorm.DB
	clock    *clock.Fixed
	notifier *recordingNotifier
	svc      *Service
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	db := setupBillingTestDB(t)
	env := &testEnv{
		db:       db,
		clock:    clock.NewFixed(testNow),
		notifier: &recordingNotifier{},
	}
	opts = append([]Option{WithClock(env.clock), WithNotifier(env.notifier)}, opts...)
	env.svc = NewServiceFromDB(db, opts...)
	return env
}

func (e *testEnv) count(t *testing.T, model interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(model).Count(&n).Error)
	return n
}

func (e *testEnv) subscription(t *testing.T, ref string) *models.Subscription {
	t.Helper()
	var sub models.Subscription
	err := e.db.Where("external_reference = ?", ref).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	require.NoError(t, err)
	return &sub
}
