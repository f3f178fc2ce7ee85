/*
assignment.go - Assignment ledger

PURPOSE:
  An assignment is a manager's grant of selling rights over one product to
  one of its own sellers. At most one active assignment exists per
  (product, seller) pair. Assignments do not consume stock; only selling
  does, so the availability check at grant time is advisory.

LIFECYCLE:
  active --sell--> sold        (terminal; the engine flips it)
  active --unassign, no sale--> hard delete
  active --unassign, sale exists--> retired (kept for audit)
*/
package market

import (
	"context"
	"time"
)

// AssignmentLedger owns Assignment entities.
type AssignmentLedger struct {
	store TxStore
	now   func() time.Time
}

// NewAssignmentLedger creates the ledger backed by store.
func NewAssignmentLedger(store TxStore) *AssignmentLedger {
	return &AssignmentLedger{store: store, now: time.Now}
}

// Assign grants selling rights on an owned product to one of the manager's
// sellers.
func (l *AssignmentLedger) Assign(ctx context.Context, id Identity, productID ProductID, sellerID SellerID) (*Assignment, error) {
	m, err := activeManagerProfile(ctx, l.store, id)
	if err != nil {
		return nil, err
	}
	p, err := l.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, &NotFoundError{Kind: "product", ID: int64(productID)}
	}
	if err := requireOwnedProduct(m, p); err != nil {
		return nil, err
	}
	s, err := l.store.GetSeller(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, &NotFoundError{Kind: "seller", ID: int64(sellerID)}
	}
	if err := requireOwnSeller(m, s); err != nil {
		return nil, err
	}

	var a *Assignment
	err = l.store.WithTx(ctx, func(tx Store) error {
		dup, err := tx.HasActiveAssignment(ctx, productID, sellerID)
		if err != nil {
			return err
		}
		if dup {
			return &ConflictError{Kind: "assignment", ID: int64(productID), State: string(AssignmentActive),
				Reason: "seller already has an active assignment for this product"}
		}

		// Advisory: assigning does not consume a unit, but granting rights
		// against exhausted stock is pointless.
		p, err := tx.GetProduct(ctx, productID)
		if err != nil {
			return err
		}
		if p.StockQuantity <= 0 {
			return &ConflictError{Kind: "product", ID: int64(productID), State: string(p.Status),
				Reason: "stock exhausted, no units left to assign"}
		}

		a = &Assignment{
			ProductID:  productID,
			SellerID:   sellerID,
			Status:     AssignmentActive,
			AssignedAt: l.now(),
		}
		if err := tx.SaveAssignment(ctx, a); err != nil {
			return err
		}

		if p.Status == ProductAvailable {
			p.Status = ProductAssigned
			if err := tx.SaveProduct(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Unassign revokes an assignment. Without sale history the row disappears;
// with history it is retired so the sale ledger keeps its reference.
func (l *AssignmentLedger) Unassign(ctx context.Context, id Identity, assignmentID AssignmentID) error {
	m, err := managerProfile(ctx, l.store, id)
	if err != nil {
		return err
	}
	a, err := l.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return err
	}
	if a == nil {
		return &NotFoundError{Kind: "assignment", ID: int64(assignmentID)}
	}
	p, err := l.store.GetProduct(ctx, a.ProductID)
	if err != nil {
		return err
	}
	if p == nil {
		return &NotFoundError{Kind: "product", ID: int64(a.ProductID)}
	}
	if err := requireOwnedProduct(m, p); err != nil {
		return err
	}

	return l.store.WithTx(ctx, func(tx Store) error {
		sales, err := tx.CountSalesByAssignment(ctx, assignmentID)
		if err != nil {
			return err
		}
		if sales == 0 {
			return tx.DeleteAssignment(ctx, assignmentID)
		}
		a.Status = AssignmentRetired
		return tx.SaveAssignment(ctx, a)
	})
}

// ListAssignments returns the caller's view: admins see all, managers the
// assignments of their sellers, sellers their own.
func (l *AssignmentLedger) ListAssignments(ctx context.Context, id Identity) ([]Assignment, error) {
	switch id.Role {
	case RoleSuperAdmin:
		return l.store.ListAssignments(ctx, AssignmentFilter{})

	case RoleManager:
		m, err := managerProfile(ctx, l.store, id)
		if err != nil {
			return nil, err
		}
		sellers, err := l.store.ListSellers(ctx, m.ID)
		if err != nil {
			return nil, err
		}
		var out []Assignment
		for _, s := range sellers {
			as, err := l.store.ListAssignments(ctx, AssignmentFilter{SellerID: s.ID})
			if err != nil {
				return nil, err
			}
			out = append(out, as...)
		}
		return out, nil

	case RoleSeller:
		s, err := sellerProfile(ctx, l.store, id)
		if err != nil {
			return nil, err
		}
		return l.store.ListAssignments(ctx, AssignmentFilter{SellerID: s.ID})

	default:
		return nil, requireRole(id, RoleSuperAdmin, RoleManager, RoleSeller)
	}
}
