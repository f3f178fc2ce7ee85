/*
dto.go - Request and response data structures

Wire-level shapes for the REST API. Money fields are decimal.Decimal and
marshal as quoted strings, so clients never see binary-float artifacts.
Domain types stay free of json tags; the mapping lives here.
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/consign-engine/market"
)

// =============================================================================
// RESPONSES
// =============================================================================

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

type ManagerDTO struct {
	ID             int64           `json:"id"`
	AccountID      int64           `json:"account_id"`
	CommissionRate decimal.Decimal `json:"commission_rate"`
	Active         bool            `json:"active"`
	SellersCount   *int            `json:"sellers_count,omitempty"`
	CreatedAt      string          `json:"created_at"`
}

type SellerDTO struct {
	ID             int64           `json:"id"`
	AccountID      int64           `json:"account_id"`
	ManagerID      int64           `json:"manager_id"`
	VintedProfile  string          `json:"vinted_profile,omitempty"`
	CommissionRate decimal.Decimal `json:"commission_rate"`
	Balance        decimal.Decimal `json:"balance"`
	Active         bool            `json:"active"`
	CreatedAt      string          `json:"created_at"`
}

type ProductDTO struct {
	ID            int64           `json:"id"`
	ManagerID     int64           `json:"manager_id"`
	Title         string          `json:"title"`
	Description   string          `json:"description,omitempty"`
	Category      string          `json:"category,omitempty"`
	BasePrice     decimal.Decimal `json:"base_price"`
	StockQuantity int             `json:"stock_quantity"`
	Status        string          `json:"status"`
	Photos        []string        `json:"photos,omitempty"`
	CreatedAt     string          `json:"created_at"`
	UpdatedAt     string          `json:"updated_at"`

	// Present only on seller-scoped listings.
	AssignmentID     int64  `json:"assignment_id,omitempty"`
	AssignmentStatus string `json:"assignment_status,omitempty"`
}

type AssignmentDTO struct {
	ID         int64   `json:"id"`
	ProductID  int64   `json:"product_id"`
	SellerID   int64   `json:"seller_id"`
	Status     string  `json:"status"`
	AssignedAt string  `json:"assigned_at"`
	SoldAt     *string `json:"sold_at,omitempty"`
}

type SaleDTO struct {
	ID               int64           `json:"id"`
	AssignmentID     int64           `json:"assignment_id"`
	SellerID         int64           `json:"seller_id"`
	ManagerID        int64           `json:"manager_id"`
	ProductPrice     decimal.Decimal `json:"product_price"`
	SellerCommission decimal.Decimal `json:"seller_commission"`
	AmountToManager  decimal.Decimal `json:"amount_to_manager"`
	Status           string          `json:"status"`
	SoldAt           string          `json:"sold_at"`
	PaidAt           *string         `json:"paid_at,omitempty"`
}

// PaymentDTO is the pay response: the settled sale plus the seller's
// updated balance.
type PaymentDTO struct {
	Sale    SaleDTO         `json:"sale"`
	Balance decimal.Decimal `json:"balance"`
}

// ManagerDetailDTO is the single-manager view with its seller roster.
type ManagerDetailDTO struct {
	ManagerDTO
	Sellers []SellerDTO `json:"sellers"`
}

// =============================================================================
// REQUESTS
// =============================================================================

type CreateManagerRequest struct {
	AccountID      int64            `json:"account_id"`
	CommissionRate *decimal.Decimal `json:"commission_rate,omitempty"`
}

type UpdateManagerRequest struct {
	CommissionRate *decimal.Decimal `json:"commission_rate,omitempty"`
	Active         *bool            `json:"active,omitempty"`
}

type CreateSellerRequest struct {
	AccountID      int64            `json:"account_id"`
	VintedProfile  string           `json:"vinted_profile,omitempty"`
	CommissionRate *decimal.Decimal `json:"commission_rate,omitempty"`
}

type CreateProductRequest struct {
	Title         string           `json:"title"`
	Description   string           `json:"description,omitempty"`
	Category      string           `json:"category,omitempty"`
	BasePrice     *decimal.Decimal `json:"base_price"`
	StockQuantity *int             `json:"stock_quantity,omitempty"`
	Photos        []string         `json:"photos,omitempty"`
}

type UpdateProductRequest struct {
	Title       *string          `json:"title,omitempty"`
	Description *string          `json:"description,omitempty"`
	Category    *string          `json:"category,omitempty"`
	BasePrice   *decimal.Decimal `json:"base_price,omitempty"`
	Photos      []string         `json:"photos,omitempty"`
}

type RestockRequest struct {
	Quantity int    `json:"quantity"`
	Mode     string `json:"mode,omitempty"` // "add" (default) or "set"
}

type AssignRequest struct {
	SellerID int64 `json:"seller_id"`
}

type SellRequest struct {
	AssignmentID int64 `json:"assignment_id"`
}

// =============================================================================
// MAPPING
// =============================================================================

func toManagerDTO(m market.Manager) ManagerDTO {
	return ManagerDTO{
		ID:             int64(m.ID),
		AccountID:      int64(m.AccountID),
		CommissionRate: m.CommissionRate,
		Active:         m.Active,
		CreatedAt:      m.CreatedAt.Format(time.RFC3339),
	}
}

func toSellerDTO(s market.Seller) SellerDTO {
	return SellerDTO{
		ID:             int64(s.ID),
		AccountID:      int64(s.AccountID),
		ManagerID:      int64(s.ManagerID),
		VintedProfile:  s.VintedProfile,
		CommissionRate: s.CommissionRate,
		Balance:        s.Balance,
		Active:         s.Active,
		CreatedAt:      s.CreatedAt.Format(time.RFC3339),
	}
}

func toProductDTO(p market.Product) ProductDTO {
	return ProductDTO{
		ID:            int64(p.ID),
		ManagerID:     int64(p.ManagerID),
		Title:         p.Title,
		Description:   p.Description,
		Category:      p.Category,
		BasePrice:     p.BasePrice,
		StockQuantity: p.StockQuantity,
		Status:        string(p.Status),
		Photos:        p.Photos,
		CreatedAt:     p.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     p.UpdatedAt.Format(time.RFC3339),
	}
}

func toProductViewDTO(v market.ProductView) ProductDTO {
	dto := toProductDTO(v.Product)
	dto.AssignmentID = int64(v.AssignmentID)
	dto.AssignmentStatus = string(v.AssignmentStatus)
	return dto
}

func toAssignmentDTO(a market.Assignment) AssignmentDTO {
	return AssignmentDTO{
		ID:         int64(a.ID),
		ProductID:  int64(a.ProductID),
		SellerID:   int64(a.SellerID),
		Status:     string(a.Status),
		AssignedAt: a.AssignedAt.Format(time.RFC3339),
		SoldAt:     formatTimePtr(a.SoldAt),
	}
}

func toSaleDTO(s market.Sale) SaleDTO {
	return SaleDTO{
		ID:               int64(s.ID),
		AssignmentID:     int64(s.AssignmentID),
		SellerID:         int64(s.SellerID),
		ManagerID:        int64(s.ManagerID),
		ProductPrice:     s.ProductPrice,
		SellerCommission: s.SellerCommission,
		AmountToManager:  s.AmountToManager,
		Status:           string(s.Status),
		SoldAt:           s.SoldAt.Format(time.RFC3339),
		PaidAt:           formatTimePtr(s.PaidAt),
	}
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
