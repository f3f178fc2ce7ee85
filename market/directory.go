/*
directory.go - Account directory

PURPOSE:
  Maps platform accounts (issued by the external identity layer) to their
  Manager or Seller profile, one-to-one. The platform owner onboards
  managers; active managers recruit sellers. Credentials never appear here;
  only the trusted (account, role) pair does.

DEFAULTS:
  Manager commission rate defaults to 10, seller rate to 15. The seller
  default is also re-resolved at sale time when the stored rate is unusable
  (see commission.go); the directory default just seeds new profiles.
*/
package market

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

var defaultManagerRate = decimal.NewFromInt(10)

// Directory owns Manager and Seller profiles.
type Directory struct {
	store TxStore
	now   func() time.Time
}

// NewDirectory creates the directory backed by store.
func NewDirectory(store TxStore) *Directory {
	return &Directory{store: store, now: time.Now}
}

// CreateManagerInput carries a new manager profile. A nil CommissionRate
// takes the platform default.
type CreateManagerInput struct {
	AccountID      AccountID
	CommissionRate *decimal.Decimal
}

// CreateManager onboards a manager. Platform owner only.
func (d *Directory) CreateManager(ctx context.Context, id Identity, in CreateManagerInput) (*Manager, error) {
	if err := requireRole(id, RoleSuperAdmin); err != nil {
		return nil, err
	}
	if in.AccountID == 0 {
		return nil, &ValidationError{Field: "account_id", Reason: "required"}
	}
	existing, err := d.store.GetManagerByAccount(ctx, in.AccountID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, &ConflictError{Kind: "manager", ID: int64(existing.ID), State: "exists",
			Reason: "account already has a manager profile"}
	}

	rate := defaultManagerRate
	if in.CommissionRate != nil && in.CommissionRate.IsPositive() {
		rate = *in.CommissionRate
	}
	m := &Manager{
		AccountID:      in.AccountID,
		CommissionRate: rate,
		Active:         true,
		CreatedAt:      d.now(),
	}
	if err := d.store.SaveManager(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// ManagerPatch is a partial manager update; nil fields are unchanged.
type ManagerPatch struct {
	CommissionRate *decimal.Decimal
	Active         *bool
}

// UpdateManager changes a manager's rate or active flag. Deactivation
// blocks future creation but never cancels existing products, sellers or
// assignments.
func (d *Directory) UpdateManager(ctx context.Context, id Identity, managerID ManagerID, patch ManagerPatch) (*Manager, error) {
	if err := requireRole(id, RoleSuperAdmin); err != nil {
		return nil, err
	}
	m, err := d.store.GetManager(ctx, managerID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, &NotFoundError{Kind: "manager", ID: int64(managerID)}
	}
	if patch.CommissionRate != nil {
		if patch.CommissionRate.IsNegative() {
			return nil, &ValidationError{Field: "commission_rate", Reason: "must not be negative"}
		}
		m.CommissionRate = *patch.CommissionRate
	}
	if patch.Active != nil {
		m.Active = *patch.Active
	}
	if err := d.store.SaveManager(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// ManagerSummary is a manager with its recruiting headcount.
type ManagerSummary struct {
	Manager
	SellersCount int
}

// ListManagers returns every manager with its seller count. Platform owner
// only.
func (d *Directory) ListManagers(ctx context.Context, id Identity) ([]ManagerSummary, error) {
	if err := requireRole(id, RoleSuperAdmin); err != nil {
		return nil, err
	}
	managers, err := d.store.ListManagers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ManagerSummary, len(managers))
	for i, m := range managers {
		sellers, err := d.store.ListSellers(ctx, m.ID)
		if err != nil {
			return nil, err
		}
		out[i] = ManagerSummary{Manager: m, SellersCount: len(sellers)}
	}
	return out, nil
}

// GetManager returns one manager and its sellers. Platform owner only.
func (d *Directory) GetManager(ctx context.Context, id Identity, managerID ManagerID) (*Manager, []Seller, error) {
	if err := requireRole(id, RoleSuperAdmin); err != nil {
		return nil, nil, err
	}
	m, err := d.store.GetManager(ctx, managerID)
	if err != nil {
		return nil, nil, err
	}
	if m == nil {
		return nil, nil, &NotFoundError{Kind: "manager", ID: int64(managerID)}
	}
	sellers, err := d.store.ListSellers(ctx, managerID)
	if err != nil {
		return nil, nil, err
	}
	return m, sellers, nil
}

// CreateSellerInput carries a new seller profile. A nil CommissionRate
// takes the platform default.
type CreateSellerInput struct {
	AccountID      AccountID
	VintedProfile  string
	CommissionRate *decimal.Decimal
}

// CreateSeller recruits a seller for the calling manager. The seller is
// permanently bound to this manager; there is no reparenting.
func (d *Directory) CreateSeller(ctx context.Context, id Identity, in CreateSellerInput) (*Seller, error) {
	m, err := activeManagerProfile(ctx, d.store, id)
	if err != nil {
		return nil, err
	}
	if in.AccountID == 0 {
		return nil, &ValidationError{Field: "account_id", Reason: "required"}
	}
	existing, err := d.store.GetSellerByAccount(ctx, in.AccountID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, &ConflictError{Kind: "seller", ID: int64(existing.ID), State: "exists",
			Reason: "account already has a seller profile"}
	}

	rate := DefaultCommissionRate
	if in.CommissionRate != nil && in.CommissionRate.IsPositive() {
		rate = *in.CommissionRate
	}
	s := &Seller{
		AccountID:      in.AccountID,
		ManagerID:      m.ID,
		VintedProfile:  in.VintedProfile,
		CommissionRate: rate,
		Balance:        decimal.Zero,
		Active:         true,
		CreatedAt:      d.now(),
	}
	if err := d.store.SaveSeller(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// ListSellers returns every seller for admins, the manager's own otherwise.
func (d *Directory) ListSellers(ctx context.Context, id Identity) ([]Seller, error) {
	switch id.Role {
	case RoleSuperAdmin:
		return d.store.ListSellers(ctx, 0)
	case RoleManager:
		m, err := managerProfile(ctx, d.store, id)
		if err != nil {
			return nil, err
		}
		return d.store.ListSellers(ctx, m.ID)
	default:
		return nil, requireRole(id, RoleSuperAdmin, RoleManager)
	}
}

// GetSeller returns one seller. Admins see any, managers only their own.
func (d *Directory) GetSeller(ctx context.Context, id Identity, sellerID SellerID) (*Seller, error) {
	s, err := d.store.GetSeller(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, &NotFoundError{Kind: "seller", ID: int64(sellerID)}
	}
	switch id.Role {
	case RoleSuperAdmin:
		return s, nil
	case RoleManager:
		m, err := managerProfile(ctx, d.store, id)
		if err != nil {
			return nil, err
		}
		if err := requireOwnSeller(m, s); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, requireRole(id, RoleSuperAdmin, RoleManager)
	}
}
