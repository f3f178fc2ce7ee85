/*
stats.go - Dashboard read-models

Per-role summaries for the dashboards. Everything here is derived by
reading the ledgers; nothing here ever feeds back into a sell or pay
decision.
*/
package market

import (
	"context"

	"github.com/shopspring/decimal"
)

// SellerStats summarizes one seller's activity.
type SellerStats struct {
	ProductsAssigned int             `json:"products_assigned"`
	ProductsSold     int             `json:"products_sold"`
	TotalEarnings    decimal.Decimal `json:"total_earnings"`
	PendingPayments  decimal.Decimal `json:"pending_payments"`
	Balance          decimal.Decimal `json:"balance"`
}

// ManagerStats summarizes one manager's book.
type ManagerStats struct {
	TotalProducts  int             `json:"total_products"`
	TotalSellers   int             `json:"total_sellers"`
	TotalSales     int             `json:"total_sales"`
	TotalRevenue   decimal.Decimal `json:"total_revenue"`
	PendingRevenue decimal.Decimal `json:"pending_revenue"`
}

// PlatformStats summarizes the whole marketplace.
type PlatformStats struct {
	TotalManagers int             `json:"total_managers"`
	TotalSellers  int             `json:"total_sellers"`
	TotalProducts int             `json:"total_products"`
	TotalSales    int             `json:"total_sales"`
	TotalVolume   decimal.Decimal `json:"total_volume"`
}

// SellerSummary builds the seller dashboard for the caller.
func (e *Engine) SellerSummary(ctx context.Context, id Identity) (*SellerStats, error) {
	s, err := sellerProfile(ctx, e.store, id)
	if err != nil {
		return nil, err
	}
	assignments, err := e.store.ListAssignments(ctx, AssignmentFilter{SellerID: s.ID})
	if err != nil {
		return nil, err
	}
	sales, err := e.store.ListSales(ctx, SaleFilter{SellerID: s.ID})
	if err != nil {
		return nil, err
	}

	stats := &SellerStats{
		ProductsAssigned: len(assignments),
		ProductsSold:     len(sales),
		TotalEarnings:    decimal.Zero,
		PendingPayments:  decimal.Zero,
		Balance:          s.Balance,
	}
	for _, sale := range sales {
		switch sale.Status {
		case SalePaid:
			stats.TotalEarnings = stats.TotalEarnings.Add(sale.SellerCommission)
		case SalePending:
			stats.PendingPayments = stats.PendingPayments.Add(sale.AmountToManager)
		}
	}
	return stats, nil
}

// ManagerSummaryStats builds the manager dashboard for the caller.
func (e *Engine) ManagerSummaryStats(ctx context.Context, id Identity) (*ManagerStats, error) {
	m, err := managerProfile(ctx, e.store, id)
	if err != nil {
		return nil, err
	}
	products, err := e.store.ListProducts(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	sellers, err := e.store.ListSellers(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	sales, err := e.store.ListSales(ctx, SaleFilter{ManagerID: m.ID})
	if err != nil {
		return nil, err
	}

	stats := &ManagerStats{
		TotalProducts:  len(products),
		TotalSellers:   len(sellers),
		TotalSales:     len(sales),
		TotalRevenue:   decimal.Zero,
		PendingRevenue: decimal.Zero,
	}
	for _, sale := range sales {
		switch sale.Status {
		case SalePaid:
			stats.TotalRevenue = stats.TotalRevenue.Add(sale.AmountToManager)
		case SalePending:
			stats.PendingRevenue = stats.PendingRevenue.Add(sale.AmountToManager)
		}
	}
	return stats, nil
}

// PlatformSummary builds the platform-owner dashboard.
func (e *Engine) PlatformSummary(ctx context.Context, id Identity) (*PlatformStats, error) {
	if err := requireRole(id, RoleSuperAdmin); err != nil {
		return nil, err
	}
	managers, err := e.store.ListManagers(ctx)
	if err != nil {
		return nil, err
	}
	sellers, err := e.store.ListSellers(ctx, 0)
	if err != nil {
		return nil, err
	}
	products, err := e.store.ListProducts(ctx, 0)
	if err != nil {
		return nil, err
	}
	sales, err := e.store.ListSales(ctx, SaleFilter{})
	if err != nil {
		return nil, err
	}

	stats := &PlatformStats{
		TotalManagers: len(managers),
		TotalSellers:  len(sellers),
		TotalProducts: len(products),
		TotalSales:    len(sales),
		TotalVolume:   decimal.Zero,
	}
	for _, sale := range sales {
		if sale.Status == SalePaid {
			stats.TotalVolume = stats.TotalVolume.Add(sale.ProductPrice)
		}
	}
	return stats, nil
}
