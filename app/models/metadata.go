package models

import (
	"fmt"
	"strings"

	"gorm.io/datatypes"
)

// Known metadata keys. Subscription.Metadata and Client.IntegrationMeta are
// open maps; these are the keys the reconciliation pipeline reads or writes.
const (
	MetaSource                = "source"
	MetaWooOrderID            = "woo_order_id"
	MetaWooSubscriptionID     = "woo_subscription_id"
	MetaParentOrderID         = "parent_order_id"
	MetaRelatedOrderIDs       = "related_order_ids"
	MetaProductIDs            = "product_ids"
	MetaProductNames          = "product_names"
	MetaCurrency              = "currency"
	MetaOrderTotal            = "order_total"
	MetaRecurringAmount       = "recurring_amount"
	MetaRecurringInterval     = "recurring_interval"
	MetaPaymentMethod         = "payment_method"
	MetaLastOrderStatus       = "last_order_status"
	MetaLastSubStatus         = "last_subscription_status"
	MetaStripePaymentIntentID = "stripe_payment_intent_id"
	MetaStripeSubscriptionID  = "stripe_subscription_id"
	MetaRenewalToken          = "renewal_token"
	MetaAdminURL              = "admin_url"
	MetaLastSyncedAt          = "last_synced_at"
	MetaSourceProcessedAt     = "source_processed_at"
	MetaOrderProcessedAt      = "order_processed_at"

	MetaWooCustomerID   = "woocommerce_customer_id"
	MetaWordpressUserID = "wordpress_user_id"
	MetaLastSeenOrderID = "last_seen_order_id"
	MetaLastSeenSubID   = "last_seen_subscription_id"
	MetaBillingPhone    = "billing_phone"
	MetaBillingCompany  = "billing_company"
)

// Metadata source tags.
const (
	SourceWooOrder        = "woocommerce_order"
	SourceWooSubscription = "woocommerce_subscription"
)

// MergeMetadata shallow-merges src into dst and returns the result. Keys in
// src overwrite dst; nil values in src are skipped so a sparse payload never
// erases known data. dst may be nil.
func MergeMetadata(dst, src datatypes.JSONMap) datatypes.JSONMap {
	out := make(datatypes.JSONMap, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		if v == nil {
			continue
		}
		out[k] = v
	}
	return out
}

// MetaString reads a metadata value as a trimmed string. Numbers decoded from
// JSON come back as float64 and are rendered without a fractional part when
// they are whole.
func MetaString(m datatypes.JSONMap, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", t))
	}
}

// MetaStrings reads a metadata list value as strings.
func MetaStrings(m datatypes.JSONMap, key string) []string {
	v, ok := m[key]
	if !ok || v == nil {
		return nil
	}
	var out []string
	switch t := v.(type) {
	case []string:
		for _, s := range t {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	case []interface{}:
		for _, item := range t {
			if s := MetaString(datatypes.JSONMap{"v": item}, "v"); s != "" {
				out = append(out, s)
			}
		}
	default:
		if s := MetaString(m, key); s != "" {
			out = append(out, s)
		}
	}
	return out
}
