package billing

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/Shoaib-Qureshi/LiquidFlow-Project-sub000/app/models"
	"github.com/Shoaib-Qureshi/LiquidFlow-Project-sub000/internal/pkg/slug"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/datatypes"
)

// Columns the client lookup may filter on.
const (
	columnClientID         = "id"
	columnStripeCustomerID = "stripe_customer_id"
	columnContactEmail     = "contact_email"
	columnWordpressUserID  = "wordpress_user_id"
	columnWooCustomerID    = "woo_customer_id"
)

// placeholderNamePrefix marks clients created without any identity.
const placeholderNamePrefix = "Woo Customer #"

// Predicate is one equality condition of an OR lookup.
type Predicate struct {
	Column string
	Value  interface{}
	// Fold compares case-insensitively; Value must already be lower-case.
	Fold bool
}

// SQL renders the predicate with a single placeholder.
func (p Predicate) SQL() string {
	if p.Fold {
		return "LOWER(" + p.Column + ") = ?"
	}
	return p.Column + " = ?"
}

func joinPredicates(predicates []Predicate) (string, []interface{}) {
	parts := make([]string, 0, len(predicates))
	args := make([]interface{}, 0, len(predicates))
	for _, p := range predicates {
		parts = append(parts, p.SQL())
		args = append(args, p.Value)
	}
	return "(" + strings.Join(parts, " OR ") + ")", args
}

// ClientIdentity holds the external keys that may identify a client. Any
// subset may be set.
type ClientIdentity struct {
	StripeCustomerID string
	Email            string
	WordpressUserID  uint64
	WooCustomerID    uint64
}

// IsEmpty reports whether no identity key is known.
func (id ClientIdentity) IsEmpty() bool {
	return len(id.Predicates()) == 0
}

// Predicates builds one lookup condition per known key.
func (id ClientIdentity) Predicates() []Predicate {
	var out []Predicate
	if v := strings.TrimSpace(id.StripeCustomerID); v != "" {
		out = append(out, Predicate{Column: columnStripeCustomerID, Value: v})
	}
	if v := strings.ToLower(strings.TrimSpace(id.Email)); v != "" {
		out = append(out, Predicate{Column: columnContactEmail, Value: v, Fold: true})
	}
	if id.WordpressUserID > 0 {
		out = append(out, Predicate{Column: columnWordpressUserID, Value: id.WordpressUserID})
	}
	if id.WooCustomerID > 0 {
		out = append(out, Predicate{Column: columnWooCustomerID, Value: id.WooCustomerID})
	}
	return out
}

// ClientProfile is what a payload tells us about a client.
type ClientProfile struct {
	Identity        ClientIdentity
	Name            string
	Phone           string
	Company         string
	IntegrationMeta datatypes.JSONMap
}

// ProfileFromPayload extracts the client profile of an order or subscription
// payload.
func ProfileFromPayload(p *Payload, family Family) ClientProfile {
	id := p.Identity()
	meta := datatypes.JSONMap{}
	if id.WooCustomerID > 0 {
		meta[models.MetaWooCustomerID] = strconv.FormatUint(id.WooCustomerID, 10)
	}
	if id.WordpressUserID > 0 {
		meta[models.MetaWordpressUserID] = strconv.FormatUint(id.WordpressUserID, 10)
	}
	if family == FamilySubscription {
		setMeta(meta, models.MetaLastSeenSubID, p.SubscriptionID.String())
	} else {
		setMeta(meta, models.MetaLastSeenOrderID, p.OrderKey())
	}
	setMeta(meta, models.MetaBillingPhone, p.Billing.Phone.String())
	setMeta(meta, models.MetaBillingCompany, p.Billing.Company.String())
	setMeta(meta, models.MetaPaymentMethod, p.PaymentMethod.String())

	return ClientProfile{
		Identity:        id,
		Name:            truncateRunes(displayName(p), models.ClientNameMaxLength),
		Phone:           truncateRunes(p.Phone(), models.ClientPhoneMaxLength),
		Company:         truncateRunes(p.Company(), models.ClientCompanyMaxLength),
		IntegrationMeta: meta,
	}
}

// truncateRunes cuts s to at most limit characters without splitting one.
func truncateRunes(s string, limit int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:limit]))
}

// contactEmail is the address stored on the client. An address too long for
// the column is left out rather than stored cut off.
func contactEmail(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	if utf8.RuneCountInString(email) > models.ClientEmailMaxLength {
		return ""
	}
	return email
}

// displayName prefers the person, then the company, then the email local part.
func displayName(p *Payload) string {
	if n := p.Customer.FullName(); n != "" {
		return n
	}
	if c := p.Company(); c != "" {
		return c
	}
	if e := p.Email(); e != "" {
		local, _, _ := strings.Cut(e, "@")
		return local
	}
	return ""
}

// isPlaceholderName reports whether name is empty or exactly a generated
// placeholder, i.e. the prefix followed by nothing but an order id.
func isPlaceholderName(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return true
	}
	rest, ok := strings.CutPrefix(name, placeholderNamePrefix)
	if !ok {
		return false
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// PlaceholderClientName names a client created from an order without identity.
func PlaceholderClientName(orderID string) string {
	return placeholderNamePrefix + strings.TrimSpace(orderID)
}

// ClientMatcher finds or creates the Client a payload belongs to.
type ClientMatcher struct {
	repo Repository
}

func NewClientMatcher(repo Repository) *ClientMatcher {
	return &ClientMatcher{repo: repo}
}

// MatchOrCreate looks the client up by any known identity key and merges the
// profile into it, or creates a new client. When the profile has no identity,
// a client is only created if fallbackName is set; otherwise nil is returned.
func (m *ClientMatcher) MatchOrCreate(ctx context.Context, profile ClientProfile, fallbackName string) (*models.Client, bool, error) {
	predicates := profile.Identity.Predicates()
	if len(predicates) == 0 {
		if fallbackName == "" {
			return nil, false, nil
		}
		client, err := m.create(ctx, profile, fallbackName)
		return client, client != nil, err
	}

	client, err := m.repo.FindClient(ctx, predicates)
	if err != nil && !isNotFound(err) {
		return nil, false, fmt.Errorf("find client: %w", err)
	}
	if client == nil {
		client, err = m.create(ctx, profile, fallbackName)
		return client, client != nil, err
	}

	if err := m.merge(ctx, client, profile); err != nil {
		return nil, false, err
	}
	return client, false, nil
}

// Attach loads a known client by ID and merges the profile into it.
func (m *ClientMatcher) Attach(ctx context.Context, clientID uint, profile ClientProfile) (*models.Client, error) {
	client, err := m.repo.FindClient(ctx, []Predicate{{Column: columnClientID, Value: clientID}})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("find client %d: %w", clientID, err)
	}
	if err := m.merge(ctx, client, profile); err != nil {
		return nil, err
	}
	return client, nil
}

func (m *ClientMatcher) create(ctx context.Context, profile ClientProfile, fallbackName string) (*models.Client, error) {
	name := strings.TrimSpace(profile.Name)
	if name == "" {
		name = strings.TrimSpace(fallbackName)
	}
	if name == "" {
		name = placeholderNamePrefix
	}
	name = truncateRunes(name, models.ClientNameMaxLength)

	s, err := slug.Unique(name, func(candidate string) (bool, error) {
		return m.repo.ClientSlugExists(ctx, candidate)
	})
	if err != nil {
		return nil, fmt.Errorf("client slug: %w", err)
	}

	id := profile.Identity
	client := &models.Client{
		Name:            name,
		Slug:            s,
		Status:          models.ClientStatusActive,
		Origin:          models.OriginWooCommerce,
		ContactEmail:    contactEmail(id.Email),
		ContactPhone:    profile.Phone,
		CompanyName:     profile.Company,
		IntegrationMeta: models.MergeMetadata(nil, profile.IntegrationMeta),
	}
	if v := strings.TrimSpace(id.StripeCustomerID); v != "" {
		client.StripeCustomerID = &v
	}
	if id.WordpressUserID > 0 {
		v := id.WordpressUserID
		client.WordpressUserID = &v
	}
	if id.WooCustomerID > 0 {
		v := id.WooCustomerID
		client.WooCustomerID = &v
	}
	if err := client.Validate(); err != nil {
		return nil, fmt.Errorf("validate client: %w", err)
	}
	if err := m.repo.CreateClient(ctx, client); err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	log.Infof("[Billing] Created client %d (%s)", client.ID, client.Slug)
	return client, nil
}

// merge fills empty optional fields, overwrites numeric platform ids and
// promotes the origin. Populated fields are never replaced.
func (m *ClientMatcher) merge(ctx context.Context, client *models.Client, profile ClientProfile) error {
	id := profile.Identity

	if client.ContactEmail == "" {
		client.ContactEmail = contactEmail(id.Email)
	}
	if client.ContactPhone == "" && profile.Phone != "" {
		client.ContactPhone = profile.Phone
	}
	if client.CompanyName == "" && profile.Company != "" {
		client.CompanyName = profile.Company
	}
	if name := strings.TrimSpace(profile.Name); name != "" && isPlaceholderName(client.Name) {
		client.Name = name
	}

	if stripeID := strings.TrimSpace(id.StripeCustomerID); stripeID != "" && client.StripeID() == "" {
		owner, err := m.repo.FindClient(ctx, []Predicate{{Column: columnStripeCustomerID, Value: stripeID}})
		switch {
		case err != nil && !isNotFound(err):
			return fmt.Errorf("find stripe owner: %w", err)
		case owner != nil && owner.ID != client.ID:
			log.Warnf("[Billing] Stripe customer %s already belongs to client %d, not linking to %d", stripeID, owner.ID, client.ID)
		default:
			client.StripeCustomerID = &stripeID
		}
	}

	if id.WordpressUserID > 0 && (client.WordpressUserID == nil || *client.WordpressUserID != id.WordpressUserID) {
		v := id.WordpressUserID
		client.WordpressUserID = &v
	}
	if id.WooCustomerID > 0 && (client.WooCustomerID == nil || *client.WooCustomerID != id.WooCustomerID) {
		v := id.WooCustomerID
		client.WooCustomerID = &v
	}

	client.IntegrationMeta = models.MergeMetadata(client.IntegrationMeta, profile.IntegrationMeta)
	if client.Origin == "" || client.Origin == models.OriginInternal {
		client.Origin = models.OriginWooCommerce
	}

	if err := m.repo.SaveClient(ctx, client); err != nil {
		return fmt.Errorf("save client %d: %w", client.ID, err)
	}
	return nil
}

func setMeta(meta datatypes.JSONMap, key, value string) {
	if v := strings.TrimSpace(value); v != "" {
		meta[key] = v
	}
}
