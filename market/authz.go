/*
authz.go - Ownership policies

Each operation entry point runs exactly one named policy below instead of
scattering role-string comparisons through the logic. Policies resolve the
trusted identity to its directory profile and verify the ownership chain.
*/
package market

import "context"

// requireRole checks the caller's platform role.
func requireRole(id Identity, roles ...Role) error {
	for _, r := range roles {
		if id.Role == r {
			return nil
		}
	}
	return &AuthorizationError{Kind: "account", ID: int64(id.AccountID),
		Reason: "role " + string(id.Role) + " may not perform this operation"}
}

// managerProfile resolves the caller to its manager profile.
func managerProfile(ctx context.Context, st Store, id Identity) (*Manager, error) {
	if err := requireRole(id, RoleManager); err != nil {
		return nil, err
	}
	m, err := st.GetManagerByAccount(ctx, id.AccountID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, &NotFoundError{Kind: "manager profile", ID: int64(id.AccountID)}
	}
	return m, nil
}

// activeManagerProfile additionally rejects deactivated managers. Creation
// paths (products, sellers, assignments) use this; reads and updates of
// existing state do not.
func activeManagerProfile(ctx context.Context, st Store, id Identity) (*Manager, error) {
	m, err := managerProfile(ctx, st, id)
	if err != nil {
		return nil, err
	}
	if !m.Active {
		return nil, ErrManagerInactive
	}
	return m, nil
}

// sellerProfile resolves the caller to its seller profile.
func sellerProfile(ctx context.Context, st Store, id Identity) (*Seller, error) {
	if err := requireRole(id, RoleSeller); err != nil {
		return nil, err
	}
	s, err := st.GetSellerByAccount(ctx, id.AccountID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, &NotFoundError{Kind: "seller profile", ID: int64(id.AccountID)}
	}
	return s, nil
}

// requireOwnedProduct verifies the product belongs to the manager.
func requireOwnedProduct(m *Manager, p *Product) error {
	if p.ManagerID != m.ID {
		return &AuthorizationError{Kind: "product", ID: int64(p.ID),
			Reason: "owned by another manager"}
	}
	return nil
}

// requireOwnSeller verifies the seller was recruited by the manager.
func requireOwnSeller(m *Manager, s *Seller) error {
	if s.ManagerID != m.ID {
		return &AuthorizationError{Kind: "seller", ID: int64(s.ID),
			Reason: "recruited by another manager"}
	}
	return nil
}
