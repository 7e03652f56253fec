package models

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/datatypes"
)

const (
	ClientStatusActive   = "active"
	ClientStatusInactive = "inactive"
)

// Client origins. Clients created by hand in the portal carry OriginInternal
// until a commerce payload claims them.
const (
	OriginInternal    = "internal"
	OriginWooCommerce = "woocommerce"
)

// Column widths of the free-text client fields, in characters.
const (
	ClientNameMaxLength    = 191
	ClientEmailMaxLength   = 200
	ClientPhoneMaxLength   = 50
	ClientCompanyMaxLength = 191
)

// Client is a billing-relevant customer. External identity keys are optional
// and any subset may be known at a time.
type Client struct {
	ID               uint              `gorm:"primaryKey" json:"id"`
	Name             string            `gorm:"type:varchar(191);not null" json:"name" validate:"required,max=191"`
	Slug             string            `gorm:"type:varchar(191);not null;uniqueIndex" json:"slug" validate:"required,max=191"`
	Status           string            `gorm:"type:varchar(20);not null;default:'active';index" json:"status" validate:"oneof=active inactive"`
	Origin           string            `gorm:"type:varchar(32);not null;default:'internal'" json:"origin" validate:"oneof=internal woocommerce"`
	StripeCustomerID *string           `gorm:"type:varchar(191);uniqueIndex" json:"stripe_customer_id,omitempty"`
	WordpressUserID  *uint64           `gorm:"index" json:"wordpress_user_id,omitempty"`
	WooCustomerID    *uint64           `gorm:"index" json:"woo_customer_id,omitempty"`
	ContactEmail     string            `gorm:"type:varchar(200);index" json:"contact_email" validate:"max=200"`
	ContactPhone     string            `gorm:"type:varchar(50)" json:"contact_phone" validate:"max=50"`
	CompanyName      string            `gorm:"type:varchar(191)" json:"company_name" validate:"max=191"`
	IntegrationMeta  datatypes.JSONMap `json:"integration_meta"`
	ManagerUserID    *uint             `gorm:"index" json:"manager_user_id,omitempty"`
	Manager          *User             `gorm:"foreignKey:ManagerUserID" json:"-"`
	CreatedAt        time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

func (c *Client) Validate() error {
	v := validator.New()

	return v.Struct(c)
}

// IsExternal reports whether the client was claimed by a commerce platform.
func (c *Client) IsExternal() bool {
	return c.Origin != "" && c.Origin != OriginInternal
}

// StripeID returns the Stripe customer id or "" when unknown.
func (c *Client) StripeID() string {
	if c.StripeCustomerID == nil {
		return ""
	}
	return strings.TrimSpace(*c.StripeCustomerID)
}
