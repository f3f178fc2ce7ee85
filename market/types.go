/*
Package market is the core of the consignment marketplace engine.

PURPOSE:
  This package contains the domain types and algorithms for consignment
  selling: a manager lists products, grants selling rights to sellers via
  assignments, and each sale consumes exactly one unit of stock and splits
  the price between the seller's commission and the manager's share.

KEY CONCEPTS IN THIS FILE (types.go):
  - Identity: a verified (account, role) pair, issued upstream and trusted here
  - Manager / Seller: the two profile kinds in the account directory
  - Product: catalog entry owning the live stock counter
  - Assignment: a seller's standing right to sell units of one product
  - Sale: the immutable record of a consumed unit and its commission split

DESIGN PRINCIPLES:
  1. Precision: all money is decimal.Decimal, never binary floating point
  2. Single writer: Product.StockQuantity is decremented only by the engine
  3. Snapshots: a Sale freezes price and commissions at sell time
  4. Type safety: distinct ID types prevent mixing manager/seller/product ids

SEE ALSO:
  - commission.go: the pure commission-split function
  - engine.go: sell/pay/cancel orchestration
  - store.go: persistence and transaction interfaces
*/
package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTITY - verified (account, role) pair from the external identity layer
// =============================================================================

// Role is the platform-level role attached to every inbound operation.
type Role string

const (
	RoleSuperAdmin Role = "SUPER_ADMIN"
	RoleManager    Role = "MANAGER"
	RoleSeller     Role = "SELLER"
)

// Identity is the trusted caller identity. Token verification happens
// upstream; the engine only authorizes against this pair.
type Identity struct {
	AccountID AccountID
	Role      Role
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID int64
type ManagerID int64
type SellerID int64
type ProductID int64
type AssignmentID int64
type SaleID int64

// =============================================================================
// ACCOUNT DIRECTORY - manager and seller profiles
// =============================================================================

// Manager owns products and recruits sellers. Active=false blocks creation
// of new products, sellers and assignments but never cancels existing ones.
type Manager struct {
	ID             ManagerID
	AccountID      AccountID
	CommissionRate decimal.Decimal
	Active         bool
	CreatedAt      time.Time
}

// Seller sells assigned products. Balance is a running ledger total mutated
// only by paying a sale. ManagerID is set at creation and never reparented.
type Seller struct {
	ID             SellerID
	AccountID      AccountID
	ManagerID      ManagerID
	VintedProfile  string
	CommissionRate decimal.Decimal
	Balance        decimal.Decimal
	Active         bool
	CreatedAt      time.Time
}

// =============================================================================
// CATALOG
// =============================================================================

type ProductStatus string

const (
	ProductAvailable ProductStatus = "available"
	ProductAssigned  ProductStatus = "assigned"
	ProductSold      ProductStatus = "sold"
)

// Product is a catalog entry. StockQuantity is the authoritative live
// counter of units remaining; it is decremented at the moment of sale and
// never recomputed by counting sale rows.
type Product struct {
	ID            ProductID
	ManagerID     ManagerID
	Title         string
	Description   string
	Category      string
	BasePrice     decimal.Decimal
	StockQuantity int
	Status        ProductStatus
	Photos        []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ProductPatch is a partial update; nil fields are left unchanged.
type ProductPatch struct {
	Title       *string
	Description *string
	Category    *string
	BasePrice   *decimal.Decimal
	Photos      []string
}

// RestockMode selects how a restock applies its quantity.
type RestockMode string

const (
	RestockAdd RestockMode = "add" // StockQuantity += quantity
	RestockSet RestockMode = "set" // StockQuantity = quantity
)

// =============================================================================
// ASSIGNMENT LEDGER
// =============================================================================

type AssignmentStatus string

const (
	AssignmentActive  AssignmentStatus = "active"
	AssignmentSold    AssignmentStatus = "sold"
	AssignmentRetired AssignmentStatus = "retired"
)

// Assignment grants a seller the right to sell units of a product.
// Policy: one active assignment is sold through exactly once; stock itself
// is a pool shared across all assignments of the product.
type Assignment struct {
	ID         AssignmentID
	ProductID  ProductID
	SellerID   SellerID
	Status     AssignmentStatus
	AssignedAt time.Time
	SoldAt     *time.Time
}

// =============================================================================
// SALE LEDGER
// =============================================================================

type SaleStatus string

const (
	SalePending   SaleStatus = "pending"
	SalePaid      SaleStatus = "paid"
	SaleCancelled SaleStatus = "cancelled"
)

// Sale records one consumed unit. Price and both commission amounts are
// snapshots taken at sell time; later changes to the product price or the
// seller rate never touch existing sales. Only Status/PaidAt may change,
// and only pending -> paid or pending -> cancelled.
type Sale struct {
	ID               SaleID
	AssignmentID     AssignmentID
	SellerID         SellerID
	ManagerID        ManagerID
	ProductPrice     decimal.Decimal
	SellerCommission decimal.Decimal
	AmountToManager  decimal.Decimal
	Status           SaleStatus
	SoldAt           time.Time
	PaidAt           *time.Time
}

// =============================================================================
// READ MODELS
// =============================================================================

// StockStats is a display read-model. Available mirrors the live counter;
// it is never what gates a sell decision.
type StockStats struct {
	TotalStock int `json:"total_stock"` // cumulative configured stock
	Sold       int `json:"sold"`        // non-cancelled sales
	InSale     int `json:"in_sale"`     // active assignments
	Available  int `json:"available"`   // live counter
}

// StockEvent is published after every successful sell or restock.
// Delivery is best-effort and never part of the transaction.
type StockEvent struct {
	EventID       string        `json:"event_id"`
	ProductID     ProductID     `json:"product_id"`
	NewStock      int           `json:"new_stock"`
	ProductStatus ProductStatus `json:"product_status"`
}

// MustParseDecimal parses s, returning zero on malformed input.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
