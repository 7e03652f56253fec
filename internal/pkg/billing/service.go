package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Shoaib-Qureshi/LiquidFlow-Project-sub000/app/models"
	"github.com/Shoaib-Qureshi/LiquidFlow-Project-sub000/internal/pkg/clock"
	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Skip reasons reported on IngestResult.
const (
	SkipMissingOrderID        = "missing order id"
	SkipMissingSubscriptionID = "missing subscription id"
	SkipNoClient              = "no client identity"
)

// IngestResult describes what one ingestion wrote.
type IngestResult struct {
	Client        *models.Client
	ClientCreated bool
	Subscription  *models.Subscription
	Order         *models.WooCommerceOrder
	Invitation    *Invitation
	// Skipped is set when the payload was accepted but nothing was written.
	Skipped string
}

// WebhookEventInput is an inbound delivery to record.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	PayloadJSON     string
}

// Service runs the reconciliation pipeline for commerce payloads.
type Service struct {
	repo      Repository
	clock     clock.Clock
	notifier  Notifier
	overrides map[string]string
}

// Option configures a Service.
type Option func(*Service)

// WithClock pins the time source.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithNotifier sets where manager invitations are sent.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

// WithProductPlanOverrides pins product ids to plan slugs.
func WithProductPlanOverrides(overrides map[string]string) Option {
	return func(s *Service) {
		s.overrides = overrides
	}
}

// NewService creates a billing service from an injected repository.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{repo: repo, clock: clock.SystemClock{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, opts ...Option) *Service {
	return NewService(NewRepository(db), opts...)
}

// pipeline binds the components to one transaction.
type pipeline struct {
	matcher     *ClientMatcher
	provisioner *ManagerProvisioner
	upserter    *SubscriptionUpserter
}

func (s *Service) pipeline(repo Repository) *pipeline {
	return &pipeline{
		matcher:     NewClientMatcher(repo),
		provisioner: NewManagerProvisioner(repo, s.clock),
		upserter:    NewSubscriptionUpserter(repo, NewPlanResolver(repo, s.overrides), s.clock),
	}
}

// IngestOrder reconciles one order payload. A payload without any customer
// identity still yields a client.
func (s *Service) IngestOrder(ctx context.Context, raw []byte) (*IngestResult, error) {
	p, err := ParsePayload(raw)
	if err != nil {
		return nil, err
	}
	return s.IngestOrderPayload(ctx, p)
}

// IngestOrderPayload is IngestOrder for an already decoded payload.
func (s *Service) IngestOrderPayload(ctx context.Context, p *Payload) (*IngestResult, error) {
	numericID := parseUint(p.OrderID.String())
	if numericID == 0 {
		log.Warnf("[Billing] Order payload without usable order_id (%q), skipping", p.OrderID.String())
		return &IngestResult{Skipped: SkipMissingOrderID}, nil
	}
	orderID := strconv.FormatUint(numericID, 10)

	result := &IngestResult{}
	err := s.repo.Transaction(ctx, func(repo Repository) error {
		pl := s.pipeline(repo)
		profile := ProfileFromPayload(p, FamilyOrder)

		var client *models.Client
		var err error
		if profile.Identity.IsEmpty() {
			client, err = s.anonymousOrderClient(ctx, repo, pl, numericID, profile)
			if err != nil {
				return err
			}
		}
		if client == nil {
			client, result.ClientCreated, err = pl.matcher.MatchOrCreate(ctx, profile, PlaceholderClientName(orderID))
			if err != nil {
				return fmt.Errorf("match client for order %s: %w", orderID, err)
			}
		}
		result.Client = client

		order := snapshotOrder(p, numericID, client.ID, s.clock.Now())
		if err := repo.UpsertOrder(ctx, order); err != nil {
			return fmt.Errorf("store order %s: %w", orderID, err)
		}
		result.Order = order

		result.Invitation, err = pl.provisioner.Ensure(ctx, client, profile.Identity.Email, profile.Name)
		if err != nil {
			return fmt.Errorf("provision manager for order %s: %w", orderID, err)
		}

		result.Subscription, err = pl.upserter.UpsertFromOrder(ctx, client, p)
		if err != nil {
			return fmt.Errorf("upsert subscription for order %s: %w", orderID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.dispatchInvitation(ctx, result.Invitation)
	log.Infof("[Billing] Ingested order %s for client %d", orderID, result.Client.ID)
	return result, nil
}

// anonymousOrderClient reuses the client of an earlier delivery of the same
// order so redeliveries without identity do not mint new clients.
func (s *Service) anonymousOrderClient(ctx context.Context, repo Repository, pl *pipeline, orderID uint64, profile ClientProfile) (*models.Client, error) {
	prev, err := repo.GetOrder(ctx, orderID)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("find order %d: %w", orderID, err)
	}
	return pl.matcher.Attach(ctx, prev.ClientID, profile)
}

// IngestSubscription reconciles one subscription lifecycle payload. Nothing is
// written when no client identity is present.
func (s *Service) IngestSubscription(ctx context.Context, raw []byte) (*IngestResult, error) {
	p, err := ParsePayload(raw)
	if err != nil {
		return nil, err
	}
	return s.IngestSubscriptionPayload(ctx, p)
}

// IngestSubscriptionPayload is IngestSubscription for an already decoded
// payload.
func (s *Service) IngestSubscriptionPayload(ctx context.Context, p *Payload) (*IngestResult, error) {
	subscriptionID := p.SubscriptionID.String()
	if subscriptionID == "" {
		log.Warnf("[Billing] Subscription payload without subscription_id, skipping")
		return &IngestResult{Skipped: SkipMissingSubscriptionID}, nil
	}

	result := &IngestResult{}
	err := s.repo.Transaction(ctx, func(repo Repository) error {
		pl := s.pipeline(repo)
		profile := ProfileFromPayload(p, FamilySubscription)

		client, created, err := pl.matcher.MatchOrCreate(ctx, profile, "")
		if err != nil {
			return fmt.Errorf("match client for subscription %s: %w", subscriptionID, err)
		}
		if client == nil {
			result.Skipped = SkipNoClient
			return nil
		}
		result.Client = client
		result.ClientCreated = created

		result.Invitation, err = pl.provisioner.Ensure(ctx, client, profile.Identity.Email, profile.Name)
		if err != nil {
			return fmt.Errorf("provision manager for subscription %s: %w", subscriptionID, err)
		}

		result.Subscription, err = pl.upserter.UpsertFromSubscription(ctx, client, p)
		if err != nil {
			return fmt.Errorf("upsert subscription %s: %w", subscriptionID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Skipped != "" {
		log.Warnf("[Billing] Subscription %s has no client identity, aborting", subscriptionID)
		return result, nil
	}

	s.dispatchInvitation(ctx, result.Invitation)
	log.Infof("[Billing] Ingested subscription %s for client %d", subscriptionID, result.Client.ID)
	return result, nil
}

// ResyncOrder replays the stored snapshot of an order through IngestOrder.
func (s *Service) ResyncOrder(ctx context.Context, orderID uint64) (*IngestResult, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order %d: %w", orderID, err)
	}
	if len(order.Payload) == 0 {
		return nil, fmt.Errorf("order %d has no stored payload: %w", orderID, ErrInvalidPayload)
	}
	return s.IngestOrder(ctx, order.Payload)
}

func (s *Service) dispatchInvitation(ctx context.Context, inv *Invitation) {
	if inv == nil {
		return
	}
	if s.notifier == nil {
		log.Warnf("[Billing] No notifier configured, invitation for user %d not sent", inv.User.ID)
		return
	}
	if err := s.notifier.NotifyManagerInvite(ctx, inv.User, inv.Client, inv.TemporaryPassword); err != nil {
		log.Errorf("[Billing] Failed to send manager invitation to user %d: %v", inv.User.ID, err)
		return
	}
	log.Infof("[Billing] Sent manager invitation to user %d", inv.User.ID)
}

func snapshotOrder(p *Payload, orderID uint64, clientID uint, now time.Time) *models.WooCommerceOrder {
	processedAt := ParseTime(p.ProcessedAt.String())
	if processedAt == nil {
		processedAt = &now
	}
	return &models.WooCommerceOrder{
		OrderID:       orderID,
		ClientID:      clientID,
		Status:        p.Status.Lower(),
		Currency:      strings.ToUpper(p.Currency.String()),
		Total:         p.Total.Or(decimal.Zero),
		CustomerEmail: p.Email(),
		Payload:       datatypes.JSON(p.Raw),
		ProcessedAt:   processedAt,
	}
}

// RecordWebhookEvent persists webhook payloads idempotently. Deliveries
// without an id are keyed by a hash of their body.
func (s *Service) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.WebhookEvent, error) {
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, errors.New("provider is required")
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.WebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     in.PayloadJSON,
	}
	return s.repo.CreateWebhookEventIfNotExists(ctx, event)
}

// GetWebhookEvent loads a recorded delivery.
func (s *Service) GetWebhookEvent(ctx context.Context, id uint) (*models.WebhookEvent, error) {
	return s.repo.GetWebhookEvent(ctx, id)
}

// MarkWebhookProcessed marks an event as processed and stores an optional error.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkWebhookProcessed(ctx, webhookEventID, errMsg, s.clock.Now())
}

// ListStaleWebhookEvents returns unprocessed events older than minAge.
func (s *Service) ListStaleWebhookEvents(ctx context.Context, minAge time.Duration, limit int) ([]models.WebhookEvent, error) {
	return s.repo.ListUnprocessedWebhookEvents(ctx, s.clock.Now().Add(-minAge), limit)
}
