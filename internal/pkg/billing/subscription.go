package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Shoaib-Qureshi/LiquidFlow-Project-sub000/app/models"
	"github.com/Shoaib-Qureshi/LiquidFlow-Project-sub000/internal/pkg/clock"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/datatypes"
)

// SubscriptionUpserter writes Subscription rows from order and subscription
// payloads, keyed by external reference.
type SubscriptionUpserter struct {
	repo  Repository
	plans *PlanResolver
	clock clock.Clock
}

func NewSubscriptionUpserter(repo Repository, plans *PlanResolver, clk clock.Clock) *SubscriptionUpserter {
	return &SubscriptionUpserter{repo: repo, plans: plans, clock: clk}
}

// UpsertFromOrder records an order against the client. When a lifecycle
// subscription of the client already covers the order, only that row is
// touched. Otherwise a woo-order:<id> row is upserted.
func (u *SubscriptionUpserter) UpsertFromOrder(ctx context.Context, client *models.Client, p *Payload) (*models.Subscription, error) {
	orderID := p.OrderKey()
	if client == nil || orderID == "" {
		return nil, nil
	}

	now := u.clock.Now()
	status := MapStatus(p.Status.String(), FamilyOrder)
	processedAt := ParseTime(p.ProcessedAt.String())

	lifecycle, err := u.findLifecycleForOrder(ctx, client.ID, orderID)
	if err != nil {
		return nil, err
	}
	if lifecycle != nil {
		return u.touchLifecycleFromOrder(ctx, lifecycle, p, status, processedAt, now)
	}

	ref := models.WooOrderReference(orderID)
	existing, err := u.existing(ctx, ref)
	if err != nil {
		return nil, err
	}
	if existing != nil && isStale(existing.Metadata, models.MetaSourceProcessedAt, processedAt) {
		log.Infof("[Billing] Skipping stale order %s for %s", orderID, ref)
		return existing, nil
	}

	plan, err := u.resolveOrderPlan(ctx, p)
	if err != nil {
		return nil, err
	}

	var prev models.Subscription
	if existing != nil {
		prev = *existing
	}

	starts := firstTime(ParseTime(p.StartedOn.String()), prev.StartsAt, processedAt, &now)
	ends := plan.EndsAt(*starts)

	meta := u.baseMetadata(p, now, processedAt)
	meta[models.MetaSource] = models.SourceWooOrder
	meta[models.MetaWooOrderID] = orderID
	meta[models.MetaLastOrderStatus] = p.Status.Lower()
	if p.Total.Valid {
		meta[models.MetaOrderTotal] = p.Total.Decimal.StringFixed(2)
	}
	switch {
	case plan != nil:
		meta[models.MetaRecurringAmount] = plan.Price.StringFixed(2)
		meta[models.MetaRecurringInterval] = plan.BillingInterval
	case p.Total.Valid:
		meta[models.MetaRecurringAmount] = p.Total.Decimal.StringFixed(2)
		meta[models.MetaRecurringInterval] = orderInterval(p)
	}

	sub := &models.Subscription{
		ClientID:          client.ID,
		PlanID:            planID(plan, prev.PlanID),
		Status:            status,
		StartsAt:          starts,
		EndsAt:            ends,
		RenewedAt:         firstTime(ends),
		CancelledAt:       cancellationTime(status, ParseTime(p.EndedOn.String()), prev.CancelledAt, now),
		BillingCycleCount: 0,
		ExternalReference: ref,
		Metadata:          models.MergeMetadata(prev.Metadata, meta),
		LastSyncedAt:      &now,
	}
	if err := u.repo.UpsertSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("upsert subscription %s: %w", ref, err)
	}
	return sub, nil
}

// UpsertFromSubscription upserts the woo:<id> row for a lifecycle event.
func (u *SubscriptionUpserter) UpsertFromSubscription(ctx context.Context, client *models.Client, p *Payload) (*models.Subscription, error) {
	subscriptionID := p.SubscriptionID.String()
	if client == nil || subscriptionID == "" {
		return nil, nil
	}

	now := u.clock.Now()
	status := MapStatus(p.Status.String(), FamilySubscription)
	processedAt := ParseTime(p.ProcessedAt.String())

	ref := models.WooSubscriptionReference(subscriptionID)
	existing, err := u.existing(ctx, ref)
	if err != nil {
		return nil, err
	}
	if existing != nil && isStale(existing.Metadata, models.MetaSourceProcessedAt, processedAt) {
		log.Infof("[Billing] Skipping stale subscription event for %s", ref)
		return existing, nil
	}

	plan, err := u.resolveSubscriptionPlan(ctx, p)
	if err != nil {
		return nil, err
	}

	var prev models.Subscription
	if existing != nil {
		prev = *existing
	}

	starts := firstTime(ParseTime(p.StartedOn.String()), prev.StartsAt, &now)
	ends := ParseTime(p.ExpiresOn.String())
	if ends == nil {
		ends = plan.EndsAt(*starts)
	}

	meta := u.baseMetadata(p, now, processedAt)
	meta[models.MetaSource] = models.SourceWooSubscription
	meta[models.MetaWooSubscriptionID] = subscriptionID
	meta[models.MetaLastSubStatus] = p.Status.Lower()
	if parent := p.ParentOrder(); parent != "" {
		meta[models.MetaParentOrderID] = parent
	}
	if related := relatedOrderIDs(p); len(related) > 0 {
		meta[models.MetaRelatedOrderIDs] = related
	}
	switch {
	case p.Recurring.Amount.Valid:
		meta[models.MetaRecurringAmount] = p.Recurring.Amount.Decimal.StringFixed(2)
	case plan != nil:
		meta[models.MetaRecurringAmount] = plan.Price.StringFixed(2)
	}
	if interval := p.Recurring.Interval.Lower(); interval != "" {
		meta[models.MetaRecurringInterval] = interval
	}
	if token := p.Meta.String("renewal_token"); token != "" {
		meta[models.MetaRenewalToken] = token
	}

	sub := &models.Subscription{
		ClientID:          client.ID,
		PlanID:            planID(plan, prev.PlanID),
		Status:            status,
		StartsAt:          starts,
		EndsAt:            ends,
		RenewedAt:         ParseTime(p.PaymentDueOn.String()),
		CancelledAt:       cancellationTime(status, ParseTime(p.EndedOn.String()), prev.CancelledAt, now),
		BillingCycleCount: int(p.Renewals.Count),
		ExternalReference: ref,
		Metadata:          models.MergeMetadata(prev.Metadata, meta),
		LastSyncedAt:      &now,
	}
	if err := u.repo.UpsertSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("upsert subscription %s: %w", ref, err)
	}
	return sub, nil
}

func (u *SubscriptionUpserter) touchLifecycleFromOrder(
	ctx context.Context,
	sub *models.Subscription,
	p *Payload,
	status models.SubscriptionStatus,
	processedAt *time.Time,
	now time.Time,
) (*models.Subscription, error) {
	if isStale(sub.Metadata, models.MetaOrderProcessedAt, processedAt) {
		log.Infof("[Billing] Skipping stale order %s for %s", p.OrderID, sub.ExternalReference)
		return sub, nil
	}

	meta := datatypes.JSONMap{
		models.MetaLastOrderStatus: p.Status.Lower(),
		models.MetaLastSyncedAt:    formatTime(now),
	}
	if p.Total.Valid {
		meta[models.MetaOrderTotal] = p.Total.Decimal.StringFixed(2)
	}
	if c := p.Currency.String(); c != "" {
		meta[models.MetaCurrency] = strings.ToUpper(c)
	}
	if processedAt != nil {
		meta[models.MetaOrderProcessedAt] = formatTime(*processedAt)
	}

	sub.Status = status
	sub.CancelledAt = cancellationTime(status, nil, sub.CancelledAt, now)
	sub.Metadata = models.MergeMetadata(sub.Metadata, meta)
	sub.LastSyncedAt = &now
	if err := u.repo.SaveSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("update subscription %s from order %s: %w", sub.ExternalReference, p.OrderID, err)
	}

	log.Infof("[Billing] Order %s applied to %s (%s)", p.OrderID, sub.ExternalReference, status)
	return sub, nil
}

// findLifecycleForOrder returns the client's lifecycle subscription that
// references orderID, if any.
func (u *SubscriptionUpserter) findLifecycleForOrder(ctx context.Context, clientID uint, orderID string) (*models.Subscription, error) {
	subs, err := u.repo.ListLifecycleSubscriptions(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("list lifecycle subscriptions: %w", err)
	}
	for i := range subs {
		if referencesOrder(&subs[i], orderID) {
			return &subs[i], nil
		}
	}
	return nil, nil
}

func referencesOrder(sub *models.Subscription, orderID string) bool {
	if sub.ExternalReference == models.WooSubscriptionReference(orderID) {
		return true
	}
	if models.MetaString(sub.Metadata, models.MetaWooSubscriptionID) == orderID ||
		models.MetaString(sub.Metadata, models.MetaParentOrderID) == orderID {
		return true
	}
	for _, id := range models.MetaStrings(sub.Metadata, models.MetaRelatedOrderIDs) {
		if id == orderID {
			return true
		}
	}
	return false
}

func (u *SubscriptionUpserter) existing(ctx context.Context, ref string) (*models.Subscription, error) {
	sub, err := u.repo.GetSubscriptionByReference(ctx, ref)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("find subscription %s: %w", ref, err)
	}
	return sub, nil
}

func (u *SubscriptionUpserter) resolveOrderPlan(ctx context.Context, p *Payload) (*models.Plan, error) {
	for _, item := range p.LineItems {
		plan, err := u.plans.ResolveOrderItem(ctx, item, p.Total)
		if err != nil {
			return nil, err
		}
		if plan != nil {
			return plan, nil
		}
	}
	if len(p.LineItems) == 0 {
		return u.plans.ResolveOrderItem(ctx, LineItem{}, p.Total)
	}
	return nil, nil
}

func (u *SubscriptionUpserter) resolveSubscriptionPlan(ctx context.Context, p *Payload) (*models.Plan, error) {
	for _, item := range p.LineItems {
		plan, err := u.plans.ResolveSubscriptionItem(ctx, item, p.Recurring.Interval.String())
		if err != nil {
			return nil, err
		}
		if plan != nil {
			return plan, nil
		}
	}
	return nil, nil
}

// baseMetadata holds the keys both families write.
func (u *SubscriptionUpserter) baseMetadata(p *Payload, now time.Time, processedAt *time.Time) datatypes.JSONMap {
	meta := datatypes.JSONMap{
		models.MetaLastSyncedAt: formatTime(now),
	}
	var ids, names []string
	for _, item := range p.LineItems {
		if id := item.ProductID.String(); id != "" {
			ids = append(ids, id)
		}
		if name := item.ProductName.String(); name != "" {
			names = append(names, name)
		}
	}
	if len(ids) > 0 {
		meta[models.MetaProductIDs] = ids
	}
	if len(names) > 0 {
		meta[models.MetaProductNames] = names
	}
	if c := p.Currency.String(); c != "" {
		meta[models.MetaCurrency] = strings.ToUpper(c)
	}
	setMeta(meta, models.MetaPaymentMethod, p.PaymentMethod.String())
	setMeta(meta, models.MetaStripePaymentIntentID, p.Stripe.PaymentIntentID.String())
	setMeta(meta, models.MetaStripeSubscriptionID, p.Stripe.SubscriptionID.String())
	setMeta(meta, models.MetaAdminURL, p.Links.AdminURL.String())
	if processedAt != nil {
		meta[models.MetaSourceProcessedAt] = formatTime(*processedAt)
	}
	return meta
}

// isStale reports whether processedAt is strictly older than the timestamp
// stored under key.
func isStale(meta datatypes.JSONMap, key string, processedAt *time.Time) bool {
	if processedAt == nil {
		return false
	}
	stored := ParseTime(models.MetaString(meta, key))
	return stored != nil && processedAt.Before(*stored)
}

// cancellationTime keeps cancelled_at consistent with status: set only while
// cancelled, preferring the platform end date, then the stored value.
func cancellationTime(status models.SubscriptionStatus, endedOn, existing *time.Time, now time.Time) *time.Time {
	if status != models.SubscriptionStatusCancelled {
		return nil
	}
	return firstTime(endedOn, existing, &now)
}

func planID(plan *models.Plan, fallback *uint) *uint {
	if plan == nil {
		return fallback
	}
	id := plan.ID
	return &id
}

func orderInterval(p *Payload) string {
	if i := NormalizeInterval(p.Recurring.Interval.String()); i != intervalUnknown {
		return i
	}
	return models.PlanIntervalOneTime
}

func relatedOrderIDs(p *Payload) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, raw := range p.RelatedOrderIDs {
		id := canonicalID(raw.String())
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
