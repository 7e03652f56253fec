package billing

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/Shoaib-Qureshi/LiquidFlow-Project-sub000/app/models"
	"github.com/Shoaib-Qureshi/LiquidFlow-Project-sub000/internal/pkg/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

const completedOrder501 = `{
	"order_id": 501,
	"status": "completed",
	"currency": "eur",
	"total": 1200,
	"line_items": [{"product_id": 11, "product_name": "Business Monthly", "total": "1200.00"}],
	"customer": {"email": "a@x.com", "first_name": "Ada", "last_name": "Lovelace"}
}`

func TestIngestOrderTwiceIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	business := seedPlan(t, env.db, "business-monthly", "Business Monthly", "1200", 30)
	seedPlan(t, env.db, "starter-monthly", "Starter Monthly", "300", 30)

	first, err := env.svc.IngestOrder(ctx, []byte(completedOrder501))
	require.NoError(t, err)
	require.NotNil(t, first.Subscription)

	env.clock.Advance(time.Hour)
	second, err := env.svc.IngestOrder(ctx, []byte(completedOrder501))
	require.NoError(t, err)

	assert.Equal(t, int64(1), env.count(t, &models.Client{}))
	assert.Equal(t, int64(1), env.count(t, &models.Subscription{}))
	assert.Equal(t, int64(1), env.count(t, &models.WooCommerceOrder{}))
	assert.Equal(t, first.Client.ID, second.Client.ID)
	assert.True(t, first.ClientCreated)
	assert.False(t, second.ClientCreated)

	var client models.Client
	require.NoError(t, env.db.First(&client).Error)
	assert.Equal(t, "a@x.com", client.ContactEmail)
	assert.Equal(t, "Ada Lovelace", client.Name)
	assert.Equal(t, "ada-lovelace", client.Slug)
	assert.Equal(t, models.OriginWooCommerce, client.Origin)

	sub := env.subscription(t, "woo-order:501")
	require.NotNil(t, sub)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	require.NotNil(t, sub.PlanID)
	assert.Equal(t, business.ID, *sub.PlanID)
	require.NotNil(t, sub.StartsAt)
	assert.True(t, testNow.Equal(*sub.StartsAt), "starts_at kept from first delivery")
	require.NotNil(t, sub.EndsAt)
	assert.True(t, testNow.AddDate(0, 0, 30).Equal(*sub.EndsAt))
	require.NotNil(t, sub.RenewedAt)
	assert.True(t, sub.EndsAt.Equal(*sub.RenewedAt))
	assert.Nil(t, sub.CancelledAt)
	assert.Equal(t, models.SourceWooOrder, models.MetaString(sub.Metadata, models.MetaSource))
	assert.Equal(t, "501", models.MetaString(sub.Metadata, models.MetaWooOrderID))
	assert.Equal(t, "EUR", models.MetaString(sub.Metadata, models.MetaCurrency))
	assert.Equal(t, "1200.00", models.MetaString(sub.Metadata, models.MetaOrderTotal))
	assert.Equal(t, []string{"11"}, models.MetaStrings(sub.Metadata, models.MetaProductIDs))
}

func TestIngestOrderProvisionsManagerAndInvitesOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedPlan(t, env.db, "business-monthly", "Business Monthly", "1200", 30)

	first, err := env.svc.IngestOrder(ctx, []byte(completedOrder501))
	require.NoError(t, err)
	require.NotNil(t, first.Invitation)

	_, err = env.svc.IngestOrder(ctx, []byte(completedOrder501))
	require.NoError(t, err)

	invites := env.notifier.sent()
	require.Len(t, invites, 1)
	assert.Equal(t, "a@x.com", invites[0].Email)
	assert.Equal(t, first.Client.ID, invites[0].ClientID)
	assert.NotEmpty(t, invites[0].Password)

	var user models.User
	require.NoError(t, env.db.Preload("Capabilities").Where("email = ?", "a@x.com").First(&user).Error)
	assert.True(t, user.Can(models.CapabilityManager))
	assert.True(t, user.IsVerified())
	assert.True(t, user.CheckPassword(invites[0].Password))
	assert.NotEqual(t, invites[0].Password, user.Password)

	var client models.Client
	require.NoError(t, env.db.First(&client, first.Client.ID).Error)
	require.NotNil(t, client.ManagerUserID)
	assert.Equal(t, user.ID, *client.ManagerUserID)
	assert.Equal(t, int64(1), env.count(t, &models.UserCapability{}))
}

func TestIngestOrderGrantsManagerToExistingUserWithoutInvite(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	existing, err := models.NewVerifiedUser("Ada", "a@x.com", "already-set", testNow)
	require.NoError(t, err)
	require.NoError(t, env.db.Create(existing).Error)

	result, err := env.svc.IngestOrder(ctx, []byte(completedOrder501))
	require.NoError(t, err)
	assert.Nil(t, result.Invitation)
	assert.Empty(t, env.notifier.sent())

	var user models.User
	require.NoError(t, env.db.Preload("Capabilities").First(&user, existing.ID).Error)
	assert.True(t, user.Can(models.CapabilityManager))
	assert.True(t, user.CheckPassword("already-set"))
	require.NotNil(t, result.Client.ManagerUserID)
	assert.Equal(t, existing.ID, *result.Client.ManagerUserID)
}

func TestNotifierFailureDoesNotFailIngestion(t *testing.T) {
	env := newTestEnv(t)
	env.notifier.err = errors.New("smtp down")

	result, err := env.svc.IngestOrder(context.Background(), []byte(completedOrder501))
	require.NoError(t, err)
	require.NotNil(t, result.Subscription)
	assert.Len(t, env.notifier.sent(), 1)
	assert.Equal(t, int64(1), env.count(t, &models.User{}))
}

func TestIngestSubscriptionOnHoldMapsToGrace(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.svc.IngestSubscription(context.Background(), []byte(`{
		"subscription_id": "77",
		"status": "on-hold",
		"customer": {"email": "b@x.com"}
	}`))
	require.NoError(t, err)
	require.NotNil(t, result.Subscription)

	sub := env.subscription(t, "woo:77")
	require.NotNil(t, sub)
	assert.Equal(t, models.SubscriptionStatusGrace, sub.Status)
	assert.Equal(t, result.Client.ID, sub.ClientID)
	assert.Nil(t, sub.PlanID)
	assert.Equal(t, models.SourceWooSubscription, models.MetaString(sub.Metadata, models.MetaSource))
	assert.Equal(t, "on-hold", models.MetaString(sub.Metadata, models.MetaLastSubStatus))

	var client models.Client
	require.NoError(t, env.db.First(&client, result.Client.ID).Error)
	assert.Equal(t, "b@x.com", client.ContactEmail)
	assert.Equal(t, "b", client.Name)
}

func TestIngestSubscriptionLifecycleFields(t *testing.T) {
	env := newTestEnv(t)
	growth := seedPlan(t, env.db, "growth-monthly", "Growth", "500", 30)

	_, err := env.svc.IngestSubscription(context.Background(), []byte(`{
		"subscription_id": 90,
		"parent_order_id": "900",
		"status": "active",
		"currency": "usd",
		"customer": {"email": "c@x.com", "id": "15", "wordpress_user_id": 33},
		"line_items": [{"product_id": "5", "product_name": "LiquidFlow Growth Plan"}],
		"recurring": {"interval": "month", "amount": "500"},
		"started_on": "2025-01-01 00:00:00",
		"payment_due_on": "2025-02-01 00:00:00",
		"renewals": {"count": "3"},
		"stripe": {"subscription_id": "sub_123"},
		"links": {"admin_url": "https://shop.example/wp-admin/post.php?post=90"},
		"meta": {"renewal_token": "tok_1"}
	}`))
	require.NoError(t, err)

	sub := env.subscription(t, "woo:90")
	require.NotNil(t, sub)
	require.NotNil(t, sub.PlanID)
	assert.Equal(t, growth.ID, *sub.PlanID)
	assert.Equal(t, 3, sub.BillingCycleCount)
	require.NotNil(t, sub.StartsAt)
	assert.True(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Equal(*sub.StartsAt))
	require.NotNil(t, sub.EndsAt)
	assert.True(t, time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC).Equal(*sub.EndsAt))
	require.NotNil(t, sub.RenewedAt)
	assert.True(t, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC).Equal(*sub.RenewedAt))
	assert.Equal(t, "900", models.MetaString(sub.Metadata, models.MetaParentOrderID))
	assert.Equal(t, "sub_123", models.MetaString(sub.Metadata, models.MetaStripeSubscriptionID))
	assert.Equal(t, "tok_1", models.MetaString(sub.Metadata, models.MetaRenewalToken))
	assert.Equal(t, "500.00", models.MetaString(sub.Metadata, models.MetaRecurringAmount))

	var client models.Client
	require.NoError(t, env.db.First(&client, sub.ClientID).Error)
	require.NotNil(t, client.WooCustomerID)
	assert.Equal(t, uint64(15), *client.WooCustomerID)
	require.NotNil(t, client.WordpressUserID)
	assert.Equal(t, uint64(33), *client.WordpressUserID)
	assert.Equal(t, "90", models.MetaString(client.IntegrationMeta, models.MetaLastSeenSubID))
}

func TestIngestSubscriptionWithoutIdentityWritesNothing(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.svc.IngestSubscription(context.Background(), []byte(`{
		"subscription_id": "78",
		"status": "active",
		"customer": []
	}`))
	require.NoError(t, err)
	assert.Equal(t, SkipNoClient, result.Skipped)
	assert.Nil(t, result.Subscription)
	assert.Equal(t, int64(0), env.count(t, &models.Client{}))
	assert.Equal(t, int64(0), env.count(t, &models.Subscription{}))
	assert.Empty(t, env.notifier.sent())
}

func TestIngestOrderWithoutIdentityCreatesPlaceholderClient(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	payload := []byte(`{"order_id": "601", "status": "processing", "total": "10"}`)

	first, err := env.svc.IngestOrder(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, "Woo Customer #601", first.Client.Name)
	assert.Equal(t, "woo-customer-601", first.Client.Slug)
	assert.Nil(t, first.Invitation)

	second, err := env.svc.IngestOrder(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, first.Client.ID, second.Client.ID)
	assert.Equal(t, int64(1), env.count(t, &models.Client{}))
	assert.Equal(t, int64(0), env.count(t, &models.User{}))
}

func TestOrderForLifecycleSubscriptionUpdatesOnlyThatRow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedPlan(t, env.db, "business-monthly", "Business Monthly", "1200", 30)

	_, err := env.svc.IngestSubscription(ctx, []byte(`{
		"subscription_id": "77",
		"parent_order_id": "501",
		"status": "active",
		"customer": {"email": "a@x.com"}
	}`))
	require.NoError(t, err)

	env.clock.Advance(time.Hour)
	refunded := `{
		"order_id": 501,
		"status": "refunded",
		"currency": "EUR",
		"total": "1200.00",
		"line_items": [{"product_name": "Business Monthly"}],
		"customer": {"email": "a@x.com"}
	}`
	result, err := env.svc.IngestOrder(ctx, []byte(refunded))
	require.NoError(t, err)

	assert.Equal(t, int64(1), env.count(t, &models.Subscription{}))
	assert.Nil(t, env.subscription(t, "woo-order:501"))

	sub := env.subscription(t, "woo:77")
	require.NotNil(t, sub)
	assert.Equal(t, result.Subscription.ID, sub.ID)
	assert.Equal(t, models.SubscriptionStatusCancelled, sub.Status)
	require.NotNil(t, sub.CancelledAt)
	assert.True(t, env.clock.Now().Equal(*sub.CancelledAt))
	assert.Equal(t, "refunded", models.MetaString(sub.Metadata, models.MetaLastOrderStatus))
	assert.Equal(t, "1200.00", models.MetaString(sub.Metadata, models.MetaOrderTotal))
	assert.Equal(t, models.SourceWooSubscription, models.MetaString(sub.Metadata, models.MetaSource))

	// The snapshot is still kept for the order.
	assert.Equal(t, int64(1), env.count(t, &models.WooCommerceOrder{}))
}

func TestOrderDedupMatchesRelatedOrderIDs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.IngestSubscription(ctx, []byte(`{
		"subscription_id": "80",
		"status": "active",
		"related_order_ids": [700, "701"],
		"customer": {"email": "d@x.com"}
	}`))
	require.NoError(t, err)

	_, err = env.svc.IngestOrder(ctx, []byte(`{"order_id": 701, "status": "on-hold", "customer": {"email": "D@X.com"}}`))
	require.NoError(t, err)

	assert.Equal(t, int64(1), env.count(t, &models.Subscription{}))
	sub := env.subscription(t, "woo:80")
	require.NotNil(t, sub)
	assert.Equal(t, models.SubscriptionStatusGrace, sub.Status)
	assert.Nil(t, sub.CancelledAt)
}

func TestOrderForAnotherClientsSubscriptionIsNotDeduplicated(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.IngestSubscription(ctx, []byte(`{
		"subscription_id": "81",
		"parent_order_id": "710",
		"status": "active",
		"customer": {"email": "e@x.com"}
	}`))
	require.NoError(t, err)

	_, err = env.svc.IngestOrder(ctx, []byte(`{"order_id": 710, "status": "completed", "customer": {"email": "f@x.com"}}`))
	require.NoError(t, err)

	assert.Equal(t, int64(2), env.count(t, &models.Subscription{}))
	assert.NotNil(t, env.subscription(t, "woo-order:710"))
	assert.Equal(t, models.SubscriptionStatusActive, env.subscription(t, "woo:81").Status)
}

func TestCancelledAtClearedWhenReactivated(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.IngestSubscription(ctx, []byte(`{
		"subscription_id": "82",
		"status": "cancelled",
		"ended_on": "2025-01-10 12:00:00",
		"customer": {"email": "g@x.com"}
	}`))
	require.NoError(t, err)
	sub := env.subscription(t, "woo:82")
	require.NotNil(t, sub.CancelledAt)
	assert.True(t, time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC).Equal(*sub.CancelledAt))

	_, err = env.svc.IngestSubscription(ctx, []byte(`{
		"subscription_id": "82",
		"status": "active",
		"customer": {"email": "g@x.com"}
	}`))
	require.NoError(t, err)
	sub = env.subscription(t, "woo:82")
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Nil(t, sub.CancelledAt)
}

func TestStaleSubscriptionEventIsSkipped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.IngestSubscription(ctx, []byte(`{
		"subscription_id": "83",
		"status": "active",
		"processed_at": "2025-01-14T12:00:00Z",
		"customer": {"email": "h@x.com"}
	}`))
	require.NoError(t, err)

	_, err = env.svc.IngestSubscription(ctx, []byte(`{
		"subscription_id": "83",
		"status": "on-hold",
		"processed_at": "2025-01-14T11:00:00Z",
		"customer": {"email": "h@x.com"}
	}`))
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, env.subscription(t, "woo:83").Status)

	_, err = env.svc.IngestSubscription(ctx, []byte(`{
		"subscription_id": "83",
		"status": "expired",
		"processed_at": "2025-01-14T13:00:00Z",
		"customer": {"email": "h@x.com"}
	}`))
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusExpired, env.subscription(t, "woo:83").Status)
}

func TestIngestOrderMergesIntoExistingClient(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	wpID := uint64(4)
	existing := &models.Client{
		Name:            "Acme",
		Slug:            "acme",
		Status:          models.ClientStatusActive,
		Origin:          models.OriginInternal,
		ContactEmail:    "ops@acme.test",
		ContactPhone:    "111",
		WordpressUserID: &wpID,
		IntegrationMeta: datatypes.JSONMap{"crm_id": "c-1"},
	}
	require.NoError(t, env.db.Create(existing).Error)

	result, err := env.svc.IngestOrder(ctx, []byte(`{
		"order_id": 900,
		"status": "completed",
		"customer": {
			"email": "OPS@acme.test",
			"first_name": "Someone",
			"last_name": "Else",
			"phone": "222",
			"wordpress_user_id": 9,
			"stripe_customer_id": "cus_9"
		},
		"billing": {"company": "Acme GmbH"}
	}`))
	require.NoError(t, err)
	assert.Equal(t, existing.ID, result.Client.ID)

	var client models.Client
	require.NoError(t, env.db.First(&client, existing.ID).Error)
	assert.Equal(t, "Acme", client.Name)
	assert.Equal(t, "ops@acme.test", client.ContactEmail)
	assert.Equal(t, "111", client.ContactPhone)
	assert.Equal(t, "Acme GmbH", client.CompanyName)
	assert.Equal(t, "cus_9", client.StripeID())
	require.NotNil(t, client.WordpressUserID)
	assert.Equal(t, uint64(9), *client.WordpressUserID)
	assert.Equal(t, models.OriginWooCommerce, client.Origin)
	assert.Equal(t, "c-1", models.MetaString(client.IntegrationMeta, "crm_id"))
	assert.Equal(t, "900", models.MetaString(client.IntegrationMeta, models.MetaLastSeenOrderID))
	assert.Equal(t, int64(1), env.count(t, &models.Client{}))
}

func TestIngestOrderUsesProductPlanOverrides(t *testing.T) {
	env := newTestEnv(t, WithProductPlanOverrides(map[string]string{"42": "enterprise-yearly"}))
	enterprise := seedPlan(t, env.db, "enterprise-yearly", "Enterprise Yearly", "9000", 365)
	seedPlan(t, env.db, "starter-monthly", "Starter Monthly", "30", 30)

	result, err := env.svc.IngestOrder(context.Background(), []byte(`{
		"order_id": 902,
		"status": "completed",
		"total": 30,
		"line_items": [{"product_id": "0042", "product_name": "Starter Monthly"}],
		"customer": {"email": "i@x.com"}
	}`))
	require.NoError(t, err)
	require.NotNil(t, result.Subscription.PlanID)
	assert.Equal(t, enterprise.ID, *result.Subscription.PlanID)
}

func TestResyncOrderReplaysSnapshot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedPlan(t, env.db, "business-monthly", "Business Monthly", "1200", 30)

	_, err := env.svc.IngestOrder(ctx, []byte(completedOrder501))
	require.NoError(t, err)
	require.NoError(t, env.db.Model(&models.Subscription{}).
		Where("external_reference = ?", "woo-order:501").
		Update("status", models.SubscriptionStatusInactive).Error)

	result, err := env.svc.ResyncOrder(ctx, 501)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, result.Subscription.Status)
	assert.Equal(t, int64(1), env.count(t, &models.Subscription{}))

	_, err = env.svc.ResyncOrder(ctx, 999)
	assert.Error(t, err)
}

func TestIngestRejectsNonObjectPayload(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, raw := range []string{"", "[]", "not json", `"501"`, `{"order_id":`} {
		_, err := env.svc.IngestOrder(ctx, []byte(raw))
		assert.ErrorIs(t, err, ErrInvalidPayload, "payload %q", raw)
		_, err = env.svc.IngestSubscription(ctx, []byte(raw))
		assert.ErrorIs(t, err, ErrInvalidPayload, "payload %q", raw)
	}
}

func TestIngestSkipsPayloadWithoutSourceID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.svc.IngestOrder(ctx, []byte(`{"status": "completed", "customer": {"email": "a@x.com"}}`))
	require.NoError(t, err)
	assert.Equal(t, SkipMissingOrderID, result.Skipped)

	result, err = env.svc.IngestSubscription(ctx, []byte(`{"status": "active", "customer": {"email": "a@x.com"}}`))
	require.NoError(t, err)
	assert.Equal(t, SkipMissingSubscriptionID, result.Skipped)
	assert.Equal(t, int64(0), env.count(t, &models.Client{}))
}

func TestRecordWebhookEventIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	in := WebhookEventInput{
		Provider:    "WooCommerce",
		EventType:   models.WebhookEventWooOrder,
		PayloadJSON: completedOrder501,
	}

	created, first, err := env.svc.RecordWebhookEvent(ctx, in)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "woocommerce", first.Provider)
	assert.Contains(t, first.ProviderEventID, "hash:")

	created, second, err := env.svc.RecordWebhookEvent(ctx, in)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	in.ProviderEventID = "delivery-1"
	created, third, err := env.svc.RecordWebhookEvent(ctx, in)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, third.ID)

	_, _, err = env.svc.RecordWebhookEvent(ctx, WebhookEventInput{PayloadJSON: "{}"})
	assert.Error(t, err)
}

func TestMarkWebhookProcessedAndListStale(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, done, err := env.svc.RecordWebhookEvent(ctx, WebhookEventInput{Provider: "woocommerce", ProviderEventID: "a", PayloadJSON: "{}"})
	require.NoError(t, err)
	_, pending, err := env.svc.RecordWebhookEvent(ctx, WebhookEventInput{Provider: "woocommerce", ProviderEventID: "b", PayloadJSON: "{}"})
	require.NoError(t, err)

	require.NoError(t, env.svc.MarkWebhookProcessed(ctx, done.ID, errors.New("boom")))
	assert.Error(t, env.svc.MarkWebhookProcessed(ctx, 0, nil))

	stored, err := env.svc.GetWebhookEvent(ctx, done.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsProcessed())
	assert.Equal(t, "boom", stored.ProcessingError)

	// created_at comes from the wall clock, so look far into the future.
	env.clock.Advance(24 * time.Hour * 365 * 10)
	stale, err := env.svc.ListStaleWebhookEvents(ctx, time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, pending.ID, stale[0].ID)
}

func TestIngestOrderFillsEmptyFieldsWhenMatchedByPlatformID(t *testing.T) {
	cases := []struct {
		name     string
		client   func(c *models.Client)
		customer string
	}{
		{
			name: "wordpress user id",
			client: func(c *models.Client) {
				v := uint64(4)
				c.WordpressUserID = &v
			},
			customer: `{"email": "other@x.test", "wordpress_user_id": 4, "phone": "222"}`,
		},
		{
			name: "woo customer id",
			client: func(c *models.Client) {
				v := uint64(77)
				c.WooCustomerID = &v
			},
			customer: `{"id": 77, "email": "other@x.test", "phone": "222"}`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			existing := &models.Client{
				Name:         "Acme",
				Slug:         "acme",
				Status:       models.ClientStatusActive,
				Origin:       models.OriginInternal,
				ContactEmail: "ops@acme.test",
			}
			tc.client(existing)
			require.NoError(t, env.db.Create(existing).Error)

			result, err := env.svc.IngestOrder(context.Background(), []byte(`{
				"order_id": 910,
				"status": "completed",
				"customer": `+tc.customer+`
			}`))
			require.NoError(t, err)
			assert.False(t, result.ClientCreated)
			assert.Equal(t, existing.ID, result.Client.ID)

			var client models.Client
			require.NoError(t, env.db.First(&client, existing.ID).Error)
			assert.Equal(t, "ops@acme.test", client.ContactEmail)
			assert.Equal(t, "222", client.ContactPhone)
			assert.Equal(t, int64(1), env.count(t, &models.Client{}))
		})
	}
}

func TestIngestOrderTruncatesOverlongContactFields(t *testing.T) {
	longPhone := strings.Repeat("9", 60)
	longCompany := strings.Repeat("ß", 250)
	payload := `{
		"order_id": 920,
		"status": "completed",
		"customer": {"email": "long@x.test", "phone": "` + longPhone + `"},
		"billing": {"company": "` + longCompany + `"}
	}`

	t.Run("new client", func(t *testing.T) {
		env := newTestEnv(t)
		result, err := env.svc.IngestOrder(context.Background(), []byte(payload))
		require.NoError(t, err)
		require.True(t, result.ClientCreated)

		var client models.Client
		require.NoError(t, env.db.First(&client, result.Client.ID).Error)
		assert.Equal(t, longPhone[:models.ClientPhoneMaxLength], client.ContactPhone)
		assert.Equal(t, models.ClientCompanyMaxLength, utf8.RuneCountInString(client.CompanyName))
		assert.True(t, utf8.ValidString(client.CompanyName))
		assert.NotNil(t, env.subscription(t, "woo-order:920"))
	})

	t.Run("merge", func(t *testing.T) {
		env := newTestEnv(t)
		existing := &models.Client{Name: "Long", Slug: "long", Status: models.ClientStatusActive, Origin: models.OriginWooCommerce, ContactEmail: "long@x.test"}
		require.NoError(t, env.db.Create(existing).Error)

		result, err := env.svc.IngestOrder(context.Background(), []byte(payload))
		require.NoError(t, err)
		assert.Equal(t, existing.ID, result.Client.ID)

		var client models.Client
		require.NoError(t, env.db.First(&client, existing.ID).Error)
		assert.Equal(t, longPhone[:models.ClientPhoneMaxLength], client.ContactPhone)
		assert.Equal(t, strings.Repeat("ß", models.ClientCompanyMaxLength), client.CompanyName)
		assert.NoError(t, client.Validate())
	})
}

func TestIngestOrderSkipsOverlongContactEmail(t *testing.T) {
	env := newTestEnv(t)
	email := strings.Repeat("a", 200) + "@x.test"

	result, err := env.svc.IngestOrder(context.Background(), []byte(`{
		"order_id": 921,
		"status": "completed",
		"customer": {"email": "`+email+`", "first_name": "Long", "last_name": "Mail"}
	}`))
	require.NoError(t, err)
	require.True(t, result.ClientCreated)
	assert.Equal(t, "", result.Client.ContactEmail)
	assert.Equal(t, "Long Mail", result.Client.Name)
	assert.Nil(t, result.Invitation)
}

func TestIngestOrderTreatsZeroPaddedOrderIDAsSameOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedPlan(t, env.db, "business-monthly", "Business Monthly", "1200", 30)

	_, err := env.svc.IngestOrder(ctx, []byte(`{
		"order_id": "0501",
		"status": "completed",
		"total": 1200,
		"customer": {"email": "a@x.com"}
	}`))
	require.NoError(t, err)
	_, err = env.svc.IngestOrder(ctx, []byte(completedOrder501))
	require.NoError(t, err)

	assert.Equal(t, int64(1), env.count(t, &models.Subscription{}))
	assert.Equal(t, int64(1), env.count(t, &models.WooCommerceOrder{}))
	sub := env.subscription(t, "woo-order:501")
	require.NotNil(t, sub)
	assert.Equal(t, "501", models.MetaString(sub.Metadata, models.MetaWooOrderID))
	assert.Nil(t, env.subscription(t, "woo-order:0501"))
}

// failingSubscriptionRepo fails every subscription upsert, inside and outside
// transactions.
type failingSubscriptionRepo struct {
	Repository
	err error
}

func (r *failingSubscriptionRepo) Transaction(ctx context.Context, fn func(repo Repository) error) error {
	return r.Repository.Transaction(ctx, func(inner Repository) error {
		return fn(&failingSubscriptionRepo{Repository: inner, err: r.err})
	})
}

func (r *failingSubscriptionRepo) UpsertSubscription(ctx context.Context, sub *models.Subscription) error {
	return r.err
}

func TestIngestOrderRollsBackWhenSubscriptionUpsertFails(t *testing.T) {
	db := setupBillingTestDB(t)
	notifier := &recordingNotifier{}
	boom := errors.New("subscription table locked")
	svc := NewService(
		&failingSubscriptionRepo{Repository: NewRepository(db), err: boom},
		WithClock(clock.NewFixed(testNow)),
		WithNotifier(notifier),
	)
	seedPlan(t, db, "business-monthly", "Business Monthly", "1200", 30)

	result, err := svc.IngestOrder(context.Background(), []byte(completedOrder501))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, result)

	for _, model := range []interface{}{
		&models.Client{},
		&models.WooCommerceOrder{},
		&models.User{},
		&models.UserCapability{},
		&models.Subscription{},
	} {
		var n int64
		require.NoError(t, db.Model(model).Count(&n).Error)
		assert.Equal(t, int64(0), n, "%T rows left behind", model)
	}
	assert.Empty(t, notifier.sent())
}
