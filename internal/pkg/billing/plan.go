package billing

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/Shoaib-Qureshi/LiquidFlow-Project-sub000/app/models"
	"github.com/shopspring/decimal"
)

// tierKeywords are scanned in order; the first one found in a product name wins.
var tierKeywords = []string{"enterprise", "business", "growth", "starter"}

const intervalUnknown = "unknown"

// PlanResolver maps purchased products onto internal plans.
type PlanResolver struct {
	repo      Repository
	overrides map[string]string
}

// NewPlanResolver creates a resolver. overrides maps product ids to plan slugs
// and is consulted before persisted plan mappings.
func NewPlanResolver(repo Repository, overrides map[string]string) *PlanResolver {
	normalized := make(map[string]string, len(overrides))
	for id, slug := range overrides {
		id = strings.TrimSpace(id)
		slug = strings.TrimSpace(slug)
		if id == "" || slug == "" {
			continue
		}
		for _, key := range productRefKeys(id) {
			normalized[key] = slug
		}
	}
	return &PlanResolver{repo: repo, overrides: normalized}
}

// ParseProductPlanMap parses "id:slug,id:slug" pairs. Malformed pairs are
// skipped.
func ParseProductPlanMap(raw string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		id, slug, ok := strings.Cut(pair, ":")
		if !ok {
			continue
		}
		id = strings.TrimSpace(id)
		slug = strings.TrimSpace(slug)
		if id == "" || slug == "" {
			continue
		}
		out[id] = slug
	}
	return out
}

// ResolveOrderItem resolves a plan for a one-off order line. orderTotal is
// used when the line carries no total of its own. A nil plan means nothing
// matched.
func (r *PlanResolver) ResolveOrderItem(ctx context.Context, item LineItem, orderTotal FlexDecimal) (*models.Plan, error) {
	plan, err := r.resolveOverride(ctx, item.ProductID.String())
	if err != nil || plan != nil {
		return plan, err
	}

	plans, err := r.repo.ListActivePlans(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active plans: %w", err)
	}
	if len(plans) == 0 {
		return nil, nil
	}

	name := strings.ToLower(item.ProductName.String())
	var named []models.Plan
	if name != "" {
		for _, p := range plans {
			planName := strings.ToLower(strings.TrimSpace(p.Name))
			if planName != "" && strings.Contains(name, planName) {
				named = append(named, p)
			}
		}
	}

	switch len(named) {
	case 1:
		return &named[0], nil
	case 0:
		if !orderTotal.Valid {
			return nil, nil
		}
		return closestPrice(plans, orderTotal.Decimal), nil
	default:
		recorded := item.Total
		if !recorded.Valid || recorded.Decimal.IsZero() {
			recorded = orderTotal
		}
		if !recorded.Valid {
			return lowestID(named), nil
		}
		return closestPrice(named, recorded.Decimal), nil
	}
}

// ResolveSubscriptionItem resolves a plan for a recurring line using the
// override table and then tier keywords in the product name.
func (r *PlanResolver) ResolveSubscriptionItem(ctx context.Context, item LineItem, interval string) (*models.Plan, error) {
	plan, err := r.resolveOverride(ctx, item.ProductID.String())
	if err != nil || plan != nil {
		return plan, err
	}

	tier := matchTier(item.ProductName.String())
	if tier == "" {
		return nil, nil
	}
	slug := tier
	if i := NormalizeInterval(interval); i != intervalUnknown {
		slug = tier + "-" + i
	}

	plan, err = r.repo.FindActivePlanBySlug(ctx, slug)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("find plan %q: %w", slug, err)
	}
	return plan, nil
}

func (r *PlanResolver) resolveOverride(ctx context.Context, productID string) (*models.Plan, error) {
	keys := productRefKeys(productID)
	if len(keys) == 0 {
		return nil, nil
	}

	slug := ""
	for _, k := range keys {
		if s, ok := r.overrides[k]; ok {
			slug = s
			break
		}
	}
	if slug == "" {
		m, err := r.repo.FindActivePlanMapping(ctx, models.ProviderWooCommerce, keys...)
		if err != nil && !isNotFound(err) {
			return nil, fmt.Errorf("find plan mapping: %w", err)
		}
		if m != nil {
			slug = m.PlanSlug
		}
	}
	if slug == "" {
		return nil, nil
	}

	plan, err := r.repo.FindActivePlanBySlug(ctx, slug)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("find plan %q: %w", slug, err)
	}
	return plan, nil
}

// NormalizeInterval folds platform billing periods into monthly, yearly or
// unknown.
func NormalizeInterval(interval string) string {
	switch strings.ToLower(strings.TrimSpace(interval)) {
	case "month", "monthly", "months", "1 month", "per month":
		return models.PlanIntervalMonthly
	case "year", "yearly", "years", "annual", "annually", "1 year", "per year":
		return models.PlanIntervalYearly
	default:
		return intervalUnknown
	}
}

func matchTier(productName string) string {
	name := strings.ToLower(productName)
	for _, tier := range tierKeywords {
		if strings.Contains(name, tier) {
			return tier
		}
	}
	return ""
}

// productRefKeys returns the product id as given plus its canonical integer
// form, so "0042" and 42 hit the same override.
func productRefKeys(productID string) []string {
	id := strings.TrimSpace(productID)
	if id == "" {
		return nil
	}
	keys := []string{id}
	if n, err := strconv.ParseUint(id, 10, 64); err == nil {
		if canonical := strconv.FormatUint(n, 10); canonical != id {
			keys = append(keys, canonical)
		}
	}
	return keys
}

// closestPrice returns the plan whose price is nearest to target. Ties go to
// the lowest plan ID.
func closestPrice(plans []models.Plan, target decimal.Decimal) *models.Plan {
	var best *models.Plan
	var bestDiff decimal.Decimal
	for i := range plans {
		p := &plans[i]
		diff := p.Price.Sub(target).Abs()
		if best == nil || diff.LessThan(bestDiff) || (diff.Equal(bestDiff) && p.ID < best.ID) {
			best = p
			bestDiff = diff
		}
	}
	return best
}

func lowestID(plans []models.Plan) *models.Plan {
	var best *models.Plan
	for i := range plans {
		if best == nil || plans[i].ID < best.ID {
			best = &plans[i]
		}
	}
	return best
}
