package billing

import (
	"strings"

	"github.com/Shoaib-Qureshi/LiquidFlow-Project-sub000/app/models"
)

// MapStatus translates a platform status into the canonical vocabulary.
// Unknown values map to inactive.
func MapStatus(raw string, family Family) models.SubscriptionStatus {
	status := strings.ToLower(strings.TrimSpace(raw))
	if family == FamilySubscription {
		return mapSubscriptionStatus(status)
	}
	return mapOrderStatus(status)
}

func mapOrderStatus(status string) models.SubscriptionStatus {
	switch status {
	case "completed", "processing":
		return models.SubscriptionStatusActive
	case "pending", "on-hold":
		return models.SubscriptionStatusGrace
	case "cancelled", "canceled", "refunded", "failed", "trash", "trashed", "deleted":
		return models.SubscriptionStatusCancelled
	default:
		return models.SubscriptionStatusInactive
	}
}

func mapSubscriptionStatus(status string) models.SubscriptionStatus {
	switch status {
	case "active":
		return models.SubscriptionStatusActive
	case "on-hold", "pending-cancel", "trial", "trialing", "pending":
		return models.SubscriptionStatusGrace
	case "expired":
		return models.SubscriptionStatusExpired
	case "cancelled", "canceled":
		return models.SubscriptionStatusCancelled
	default:
		return models.SubscriptionStatusInactive
	}
}
