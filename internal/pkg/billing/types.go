package billing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrInvalidPayload is returned when an inbound body is not a JSON object.
var ErrInvalidPayload = errors.New("invalid commerce payload")

// Family identifies which event vocabulary a payload speaks.
type Family string

const (
	FamilyOrder        Family = "order"
	FamilySubscription Family = "subscription"
)

// FlexString accepts JSON strings, numbers and booleans. Anything else decodes
// to "". Values are trimmed.
type FlexString string

func (s *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		*s = ""
		return nil
	}
	switch data[0] {
	case '"':
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			*s = ""
			return nil
		}
		*s = FlexString(strings.TrimSpace(v))
	case 't', 'f':
		*s = FlexString(data)
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		*s = FlexString(data)
	default:
		*s = ""
	}
	return nil
}

func (s FlexString) String() string {
	return string(s)
}

// Lower returns the trimmed, lower-cased value.
func (s FlexString) Lower() string {
	return strings.ToLower(strings.TrimSpace(string(s)))
}

// FlexUint accepts non-negative whole JSON numbers or numeric strings.
// Anything else decodes to 0.
type FlexUint uint64

func (u *FlexUint) UnmarshalJSON(data []byte) error {
	var s FlexString
	_ = s.UnmarshalJSON(data)
	*u = FlexUint(parseUint(string(s)))
	return nil
}

func parseUint(raw string) uint64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	if v, err := strconv.ParseUint(raw, 10, 64); err == nil {
		return v
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f < 0 || f != math.Trunc(f) || f > math.MaxUint64 {
		return 0
	}
	return uint64(f)
}

// FlexDecimal accepts JSON numbers or numeric strings. Valid is false when the
// value was absent or unparseable.
type FlexDecimal struct {
	Decimal decimal.Decimal
	Valid   bool
}

func (d *FlexDecimal) UnmarshalJSON(data []byte) error {
	var s FlexString
	_ = s.UnmarshalJSON(data)
	v, err := decimal.NewFromString(string(s))
	if err != nil {
		*d = FlexDecimal{}
		return nil
	}
	*d = FlexDecimal{Decimal: v, Valid: true}
	return nil
}

// Or returns the value when valid, else def.
func (d FlexDecimal) Or(def decimal.Decimal) decimal.Decimal {
	if d.Valid {
		return d.Decimal
	}
	return def
}

// FlexStrings accepts a JSON array or keyed object of scalars, or a single
// scalar. Empty values are dropped.
type FlexStrings []FlexString

func (l *FlexStrings) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	var raw []json.RawMessage
	switch {
	case len(data) == 0:
	case data[0] == '[':
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
	case data[0] == '{':
		var keyed map[string]json.RawMessage
		if err := json.Unmarshal(data, &keyed); err != nil {
			return err
		}
		keys := make([]string, 0, len(keyed))
		for k := range keyed {
			keys = append(keys, k)
		}
		sortNumericKeys(keys)
		for _, k := range keys {
			raw = append(raw, keyed[k])
		}
	default:
		raw = append(raw, data)
	}

	out := make(FlexStrings, 0, len(raw))
	for _, r := range raw {
		var s FlexString
		_ = s.UnmarshalJSON(r)
		if s != "" {
			out = append(out, s)
		}
	}
	*l = out
	return nil
}

// decodeObject unmarshals data into v only when it is a JSON object. Empty
// arrays, nulls and scalars leave v untouched.
func decodeObject(data []byte, v interface{}) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil
	}
	return json.Unmarshal(data, v)
}

// Customer is the customer section of a payload.
type Customer struct {
	ID               FlexUint   `json:"id"`
	Email            FlexString `json:"email"`
	FirstName        FlexString `json:"first_name"`
	LastName         FlexString `json:"last_name"`
	Company          FlexString `json:"company"`
	Phone            FlexString `json:"phone"`
	WordpressUserID  FlexUint   `json:"wordpress_user_id"`
	StripeCustomerID FlexString `json:"stripe_customer_id"`
}

func (c *Customer) UnmarshalJSON(data []byte) error {
	type alias Customer
	var a alias
	if err := decodeObject(data, &a); err != nil {
		return err
	}
	*c = Customer(a)
	return nil
}

// FullName joins first and last name.
func (c Customer) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(c.FirstName.String()) + " " + strings.TrimSpace(c.LastName.String()))
}

// BillingAddress is the billing section of a payload.
type BillingAddress struct {
	Email   FlexString `json:"email"`
	Phone   FlexString `json:"phone"`
	Company FlexString `json:"company"`
}

func (b *BillingAddress) UnmarshalJSON(data []byte) error {
	type alias BillingAddress
	var a alias
	if err := decodeObject(data, &a); err != nil {
		return err
	}
	*b = BillingAddress(a)
	return nil
}

// LineItem is one purchased product.
type LineItem struct {
	ProductID   FlexString  `json:"product_id"`
	ProductName FlexString  `json:"product_name"`
	Total       FlexDecimal `json:"total"`
}

// LineItems tolerates arrays, keyed objects and nulls.
type LineItems []LineItem

func (l *LineItems) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		*l = nil
		return nil
	}
	switch data[0] {
	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		out := make(LineItems, 0, len(raw))
		for _, r := range raw {
			var item LineItem
			if err := decodeObject(r, &item); err != nil {
				return err
			}
			out = append(out, item)
		}
		*l = out
	case '{':
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		keys := make([]string, 0, len(raw))
		for k := range raw {
			keys = append(keys, k)
		}
		sortNumericKeys(keys)
		out := make(LineItems, 0, len(raw))
		for _, k := range keys {
			var item LineItem
			if err := decodeObject(raw[k], &item); err != nil {
				return err
			}
			out = append(out, item)
		}
		*l = out
	default:
		*l = nil
	}
	return nil
}

// Recurring carries the subscription billing schedule.
type Recurring struct {
	Interval FlexString  `json:"interval"`
	Amount   FlexDecimal `json:"amount"`
}

func (r *Recurring) UnmarshalJSON(data []byte) error {
	type alias Recurring
	var a alias
	if err := decodeObject(data, &a); err != nil {
		return err
	}
	*r = Recurring(a)
	return nil
}

// Renewals counts completed renewal cycles.
type Renewals struct {
	Count FlexUint `json:"count"`
}

func (r *Renewals) UnmarshalJSON(data []byte) error {
	type alias Renewals
	var a alias
	if err := decodeObject(data, &a); err != nil {
		return err
	}
	*r = Renewals(a)
	return nil
}

// StripeRefs are Stripe identifiers attached by the payment gateway plugin.
type StripeRefs struct {
	PaymentIntentID FlexString `json:"payment_intent_id"`
	SubscriptionID  FlexString `json:"subscription_id"`
}

func (s *StripeRefs) UnmarshalJSON(data []byte) error {
	type alias StripeRefs
	var a alias
	if err := decodeObject(data, &a); err != nil {
		return err
	}
	*s = StripeRefs(a)
	return nil
}

// Links carries platform URLs.
type Links struct {
	AdminURL FlexString `json:"admin_url"`
}

func (l *Links) UnmarshalJSON(data []byte) error {
	type alias Links
	var a alias
	if err := decodeObject(data, &a); err != nil {
		return err
	}
	*l = Links(a)
	return nil
}

// Meta is the free-form meta section.
type Meta map[string]interface{}

func (m *Meta) UnmarshalJSON(data []byte) error {
	var out map[string]interface{}
	if err := decodeObject(data, &out); err != nil {
		return err
	}
	*m = out
	return nil
}

// String returns a meta value as a trimmed string.
func (m Meta) String(key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// Payload is an inbound order or subscription event. Every section is
// optional; absent data decodes to zero values.
type Payload struct {
	OrderID         FlexString     `json:"order_id"`
	SubscriptionID  FlexString     `json:"subscription_id"`
	ParentOrderID   FlexString     `json:"parent_order_id"`
	RelatedOrderIDs FlexStrings    `json:"related_order_ids"`
	Status          FlexString     `json:"status"`
	Currency        FlexString     `json:"currency"`
	Total           FlexDecimal    `json:"total"`
	Customer        Customer       `json:"customer"`
	Billing         BillingAddress `json:"billing"`
	LineItems       LineItems      `json:"line_items"`
	Recurring       Recurring      `json:"recurring"`
	PaymentMethod   FlexString     `json:"payment_method"`
	StartedOn       FlexString     `json:"started_on"`
	ExpiresOn       FlexString     `json:"expires_on"`
	EndedOn         FlexString     `json:"ended_on"`
	PaymentDueOn    FlexString     `json:"payment_due_on"`
	Renewals        Renewals       `json:"renewals"`
	Meta            Meta           `json:"meta"`
	Stripe          StripeRefs     `json:"stripe"`
	Links           Links          `json:"links"`
	ProcessedAt     FlexString     `json:"processed_at"`

	// Raw is the body the payload was parsed from.
	Raw []byte `json:"-"`
}

// ParsePayload decodes an inbound body. Only a body that is not a JSON object
// is rejected; malformed sections degrade to zero values.
func ParsePayload(raw []byte) (*Payload, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return nil, ErrInvalidPayload
	}
	var p Payload
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	p.Raw = append([]byte(nil), trimmed...)
	return &p, nil
}

// Email returns the best contact email, lower-cased.
func (p *Payload) Email() string {
	if e := p.Customer.Email.Lower(); e != "" {
		return e
	}
	return p.Billing.Email.Lower()
}

// Phone returns the customer phone, falling back to the billing phone.
func (p *Payload) Phone() string {
	if v := p.Customer.Phone.String(); v != "" {
		return v
	}
	return p.Billing.Phone.String()
}

// Company returns the customer company, falling back to the billing company.
func (p *Payload) Company() string {
	if v := p.Customer.Company.String(); v != "" {
		return v
	}
	return p.Billing.Company.String()
}

// Identity extracts the client identity keys present in the payload.
func (p *Payload) Identity() ClientIdentity {
	return ClientIdentity{
		StripeCustomerID: p.Customer.StripeCustomerID.String(),
		Email:            p.Email(),
		WordpressUserID:  uint64(p.Customer.WordpressUserID),
		WooCustomerID:    uint64(p.Customer.ID),
	}
}

// OrderKey is the order id in canonical decimal form, so "0501", "501" and
// 501.0 name the same order. Non-numeric ids are returned trimmed.
func (p *Payload) OrderKey() string {
	return canonicalID(p.OrderID.String())
}

// ParentOrder returns the order that created a subscription, if known.
func (p *Payload) ParentOrder() string {
	if v := canonicalID(p.ParentOrderID.String()); v != "" {
		return v
	}
	return p.OrderKey()
}

func canonicalID(raw string) string {
	if v := parseUint(raw); v > 0 {
		return strconv.FormatUint(v, 10)
	}
	return strings.TrimSpace(raw)
}

func sortNumericKeys(keys []string) {
	less := func(a, b string) bool {
		ai, aErr := strconv.ParseUint(a, 10, 64)
		bi, bErr := strconv.ParseUint(b, 10, 64)
		if aErr == nil && bErr == nil {
			return ai < bi
		}
		return a < b
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && less(keys[j], keys[j-1]); j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
}
