package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CartLineVariant carries the selected product options for a cart line.
type CartLineVariant struct {
	Size  string `json:"size"`
	Color string `json:"color"`
}

// CartLine is one entry of the cart snapshot. A line with quantity < 1
// does not exist on the wire; the server never returns one.
type CartLine struct {
	ItemID    string          `json:"item_id" validate:"required"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity" validate:"min=1"`
	Variant   CartLineVariant `json:"variant"`
}

// CartSnapshot is the full-replace cart payload exchanged with the remote
// service. The server responds with the canonical cart, which may clamp
// quantities, reprice, or drop lines.
type CartSnapshot struct {
	Lines []CartLine `json:"lines" validate:"dive"`
}

// Profile is the session profile owned by the remote service.
type Profile struct {
	UserID    uuid.UUID `json:"user_id" validate:"required"`
	Email     string    `json:"email" validate:"required,email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	AvatarURL string    `json:"avatar_url"`
}

// CatalogEntry is a product as listed by the remote catalog.
type CatalogEntry struct {
	ID            string          `json:"id" validate:"required"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stock_quantity" validate:"min=0"`
	MediaRefs     []string        `json:"media_refs"`
}

// Notification is one record of the user's notification feed.
type Notification struct {
	ID        string    `json:"id" validate:"required"`
	UserID    string    `json:"user_id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
	Read      bool      `json:"read"`
}

// SignInRequest carries credentials for the sign-in endpoint.
type SignInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// SignUpRequest carries the registration payload.
type SignUpRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8"`
	FirstName string `json:"first_name" validate:"required"`
	LastName  string `json:"last_name" validate:"required"`
}

// OAuthRequest exchanges a provider token for a platform session.
type OAuthRequest struct {
	Provider      string `json:"provider" validate:"required"`
	ProviderToken string `json:"provider_token" validate:"required"`
}

// AuthResponse is the result of any credential exchange.
type AuthResponse struct {
	Token   string  `json:"token" validate:"required"`
	Profile Profile `json:"profile"`
}

// UpdateProfileRequest holds optional profile mutations.
type UpdateProfileRequest struct {
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

// CreateOrderRequest submits the cart and the purchaser profile for
// order creation.
type CreateOrderRequest struct {
	PaymentMethod string       `json:"payment_method" validate:"required"`
	Cart          CartSnapshot `json:"cart"`
	Profile       Profile      `json:"profile"`
}

// OrderConfirmation acknowledges a created order.
type OrderConfirmation struct {
	OrderID   uuid.UUID       `json:"order_id" validate:"required"`
	Total     decimal.Decimal `json:"total"`
	CreatedAt time.Time       `json:"created_at"`
}

// NotificationList is the baseline feed fetch: the authoritative records
// plus the server-computed unread count.
type NotificationList struct {
	Items       []Notification `json:"items" validate:"dive"`
	UnreadCount int            `json:"unread_count" validate:"min=0"`
}
