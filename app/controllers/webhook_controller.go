package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/Shoaib-Qureshi/LiquidFlow-Project-sub000/app/models"
	"github.com/Shoaib-Qureshi/LiquidFlow-Project-sub000/internal/pkg/billing"
	"github.com/Shoaib-Qureshi/LiquidFlow-Project-sub000/internal/pkg/jobqueue"
)

// WebhookRecorder persists inbound deliveries idempotently.
type WebhookRecorder interface {
	RecordWebhookEvent(ctx context.Context, in billing.WebhookEventInput) (bool, *models.WebhookEvent, error)
}

// WebhookEnqueuer schedules ingestion of a recorded delivery.
type WebhookEnqueuer interface {
	EnqueueWebhookEvent(ctx context.Context, event *models.WebhookEvent) (*jobqueue.Job, error)
}

// WebhookController accepts WooCommerce order and subscription deliveries.
type WebhookController struct {
	recorder WebhookRecorder
	queue    WebhookEnqueuer
}

func NewWebhookController(recorder WebhookRecorder, queue WebhookEnqueuer) *WebhookController {
	return &WebhookController{recorder: recorder, queue: queue}
}

func (wc *WebhookController) HandleWooCommerceOrder(c *fiber.Ctx) error {
	return wc.handle(c, models.WebhookEventWooOrder)
}

func (wc *WebhookController) HandleWooCommerceSubscription(c *fiber.Ctx) error {
	return wc.handle(c, models.WebhookEventWooSubscription)
}

func (wc *WebhookController) handle(c *fiber.Ctx, eventType string) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)

	// WooCommerce pings a new webhook with a form body before sending JSON.
	if bytes.HasPrefix(bytes.TrimSpace(rawBody), []byte("webhook_id=")) {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ping": true})
	}
	trimmed := bytes.TrimSpace(rawBody)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}

	deliveryID := firstHeaderValue(c, "X-WC-Webhook-Delivery-ID", "X-Delivery-ID")
	topic := strings.TrimSpace(c.Get("X-WC-Webhook-Topic"))

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	created, stored, err := wc.recorder.RecordWebhookEvent(ctx, billing.WebhookEventInput{
		Provider:        models.ProviderWooCommerce,
		ProviderEventID: deliveryID,
		EventType:       eventType,
		PayloadJSON:     string(rawBody),
	})
	if err != nil {
		log.Errorf("[Webhook] Failed to record %s delivery %q: %v", eventType, deliveryID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed"})
	}
	if !created {
		log.Infof("[Webhook] Duplicate %s delivery, event %d already recorded", eventType, stored.ID)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	}

	job, err := wc.queue.EnqueueWebhookEvent(ctx, stored)
	if err != nil {
		// The replay worker picks the event up later.
		log.Errorf("[Webhook] Failed to enqueue event %d: %v", stored.ID, err)
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"ok": true, "webhook_event_id": stored.ID, "queued": false})
	}

	log.Infof("[Webhook] Accepted %s delivery (topic=%q) as event %d, job %s", eventType, topic, stored.ID, job.ID)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"ok": true, "webhook_event_id": stored.ID, "job_id": job.ID})
}

// HandleHealth reports liveness.
func HandleHealth(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
}

func firstHeaderValue(c *fiber.Ctx, keys ...string) string {
	for _, k := range keys {
		v := strings.TrimSpace(c.Get(k))
		if v != "" {
			return v
		}
	}
	return ""
}
