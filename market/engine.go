/*
engine.go - Stock & settlement engine

PURPOSE:
  The orchestrating core. Sell consumes exactly one unit of stock under a
  per-product critical section; Pay settles a sale and credits the seller's
  balance atomically. This file is the only writer of the stock decrement,
  of Product.Status on sale, and of Seller.Balance.

THE RACE THIS FILE EXISTS TO CLOSE:
  Two sellers both read stock=1, both decide to sell, both decrement, and a
  unit that does not exist is sold. Sell therefore re-reads the live counter
  inside WithProductTx and fails with OutOfStockError when it is exhausted.
  The first committed sell wins; everyone else is told someone beat them
  to it. There is no retry in here: retrying is a caller decision.

ATOMICITY:
  Everything between the lock acquisition and the commit (race check,
  commission split, sale row, stock decrement, assignment flip) is one unit
  of work. The stock-change broadcast happens after commit, best-effort.
*/
package market

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Engine validates and executes sell, pay and cancel against the catalog,
// the assignment ledger and the sale ledger.
type Engine struct {
	store    TxStore
	notifier Notifier
	now      func() time.Time
}

// NewEngine creates the engine. The notifier is injected so tests can
// capture events and production can publish them.
func NewEngine(store TxStore, notifier Notifier) *Engine {
	return &Engine{store: store, notifier: notifier, now: time.Now}
}

// Sell consumes one unit of stock through the caller's active assignment.
func (e *Engine) Sell(ctx context.Context, id Identity, assignmentID AssignmentID) (*Sale, error) {
	seller, err := sellerProfile(ctx, e.store, id)
	if err != nil {
		return nil, err
	}
	if !seller.Active {
		return nil, &AuthorizationError{Kind: "seller", ID: int64(seller.ID),
			Reason: "account deactivated"}
	}

	// Pre-checks outside the lock: cheap rejections before contending.
	a, err := e.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, &NotFoundError{Kind: "assignment", ID: int64(assignmentID)}
	}
	if a.SellerID != seller.ID {
		return nil, &AuthorizationError{Kind: "assignment", ID: int64(assignmentID),
			Reason: "not assigned to this seller"}
	}
	if a.Status != AssignmentActive {
		return nil, &ConflictError{Kind: "assignment", ID: int64(assignmentID), State: string(a.Status),
			Reason: "already sold or retired"}
	}

	var (
		sale *Sale
		ev   StockEvent
	)
	err = e.store.WithProductTx(ctx, a.ProductID, func(tx Store) error {
		p, err := tx.GetProduct(ctx, a.ProductID)
		if err != nil {
			return err
		}
		if p == nil {
			return &NotFoundError{Kind: "product", ID: int64(a.ProductID)}
		}

		// Re-read under the lock: a double-submit of the same assignment
		// must not produce two sales.
		a, err = tx.GetAssignment(ctx, assignmentID)
		if err != nil {
			return err
		}
		if a == nil || a.Status != AssignmentActive {
			return &ConflictError{Kind: "assignment", ID: int64(assignmentID), State: "sold",
				Reason: "already sold or retired"}
		}

		// The race check. The live counter is authoritative; no sold-count
		// derivation ever gates this decision.
		if p.StockQuantity <= 0 {
			return &OutOfStockError{ProductID: p.ID}
		}

		split := SplitCommission(p.BasePrice, seller.CommissionRate)
		now := e.now()

		sale = &Sale{
			AssignmentID:     a.ID,
			SellerID:         seller.ID,
			ManagerID:        p.ManagerID,
			ProductPrice:     split.Price,
			SellerCommission: split.SellerCut,
			AmountToManager:  split.AmountToManager,
			Status:           SalePending,
			SoldAt:           now,
		}
		if err := tx.SaveSale(ctx, sale); err != nil {
			return err
		}

		p.StockQuantity--
		if p.StockQuantity == 0 {
			p.Status = ProductSold
		}
		p.UpdatedAt = now
		if err := tx.SaveProduct(ctx, p); err != nil {
			return err
		}

		a.Status = AssignmentSold
		a.SoldAt = &now
		if err := tx.SaveAssignment(ctx, a); err != nil {
			return err
		}

		ev = StockEvent{
			EventID:       uuid.NewString(),
			ProductID:     p.ID,
			NewStock:      p.StockQuantity,
			ProductStatus: p.Status,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.notifier.StockChanged(ctx, ev)
	return sale, nil
}

// Pay settles a pending sale: the sale flips to paid and the seller's
// balance is credited with the commission, in one unit of work. A failure
// between the two would lose money, so there is no code path where they
// commit separately.
func (e *Engine) Pay(ctx context.Context, id Identity, saleID SaleID) (*Sale, *Seller, error) {
	seller, err := sellerProfile(ctx, e.store, id)
	if err != nil {
		return nil, nil, err
	}

	var (
		sale    *Sale
		settled *Seller
	)
	err = e.store.WithTx(ctx, func(tx Store) error {
		sale, err = tx.GetSale(ctx, saleID)
		if err != nil {
			return err
		}
		if sale == nil {
			return &NotFoundError{Kind: "sale", ID: int64(saleID)}
		}
		if sale.SellerID != seller.ID {
			return &AuthorizationError{Kind: "sale", ID: int64(saleID),
				Reason: "belongs to another seller"}
		}
		switch sale.Status {
		case SalePaid:
			return &ConflictError{Kind: "sale", ID: int64(saleID), State: string(SalePaid),
				Reason: "already paid"}
		case SaleCancelled:
			return &ConflictError{Kind: "sale", ID: int64(saleID), State: string(SaleCancelled),
				Reason: "sale was cancelled"}
		}

		now := e.now()
		sale.Status = SalePaid
		sale.PaidAt = &now
		if err := tx.SaveSale(ctx, sale); err != nil {
			return err
		}

		settled, err = tx.GetSeller(ctx, sale.SellerID)
		if err != nil {
			return err
		}
		settled.Balance = settled.Balance.Add(sale.SellerCommission)
		return tx.SaveSeller(ctx, settled)
	})
	if err != nil {
		return nil, nil, err
	}
	return sale, settled, nil
}

// CancelSale aborts a pending sale. The consumed unit is not returned to
// stock; that reversal, if wanted, is an explicit restock. Sellers cancel
// their own sales, managers those of their sellers, admins any.
func (e *Engine) CancelSale(ctx context.Context, id Identity, saleID SaleID) (*Sale, error) {
	var sale *Sale
	err := e.store.WithTx(ctx, func(tx Store) error {
		var err error
		sale, err = tx.GetSale(ctx, saleID)
		if err != nil {
			return err
		}
		if sale == nil {
			return &NotFoundError{Kind: "sale", ID: int64(saleID)}
		}
		if err := authorizeSaleAccess(ctx, tx, id, sale); err != nil {
			return err
		}
		if sale.Status != SalePending {
			return &ConflictError{Kind: "sale", ID: int64(saleID), State: string(sale.Status),
				Reason: "only pending sales can be cancelled"}
		}
		sale.Status = SaleCancelled
		return tx.SaveSale(ctx, sale)
	})
	if err != nil {
		return nil, err
	}
	return sale, nil
}

// authorizeSaleAccess reads profiles through st, so callers inside a
// transaction must pass the tx store, never the engine's own.
func authorizeSaleAccess(ctx context.Context, st Store, id Identity, sale *Sale) error {
	switch id.Role {
	case RoleSuperAdmin:
		return nil
	case RoleManager:
		m, err := managerProfile(ctx, st, id)
		if err != nil {
			return err
		}
		if sale.ManagerID != m.ID {
			return &AuthorizationError{Kind: "sale", ID: int64(sale.ID),
				Reason: "belongs to another manager"}
		}
		return nil
	case RoleSeller:
		s, err := sellerProfile(ctx, st, id)
		if err != nil {
			return err
		}
		if sale.SellerID != s.ID {
			return &AuthorizationError{Kind: "sale", ID: int64(sale.ID),
				Reason: "belongs to another seller"}
		}
		return nil
	default:
		return requireRole(id, RoleSuperAdmin, RoleManager, RoleSeller)
	}
}

// ListSales returns the caller's view of the sale ledger.
func (e *Engine) ListSales(ctx context.Context, id Identity) ([]Sale, error) {
	switch id.Role {
	case RoleSuperAdmin:
		return e.store.ListSales(ctx, SaleFilter{})
	case RoleManager:
		m, err := managerProfile(ctx, e.store, id)
		if err != nil {
			return nil, err
		}
		return e.store.ListSales(ctx, SaleFilter{ManagerID: m.ID})
	case RoleSeller:
		s, err := sellerProfile(ctx, e.store, id)
		if err != nil {
			return nil, err
		}
		return e.store.ListSales(ctx, SaleFilter{SellerID: s.ID})
	default:
		return nil, requireRole(id, RoleSuperAdmin, RoleManager, RoleSeller)
	}
}

// StockStats reports the display read-model for one product. None of these
// numbers ever gates a sell; only the live counter inside Sell does.
func (e *Engine) StockStats(ctx context.Context, productID ProductID) (*StockStats, error) {
	p, err := e.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, &NotFoundError{Kind: "product", ID: int64(productID)}
	}
	sold, err := e.store.CountProductSales(ctx, productID)
	if err != nil {
		return nil, err
	}
	active, err := e.store.ListAssignments(ctx, AssignmentFilter{ProductID: productID, Status: AssignmentActive})
	if err != nil {
		return nil, err
	}
	return &StockStats{
		TotalStock: p.StockQuantity + sold,
		Sold:       sold,
		InSale:     len(active),
		Available:  p.StockQuantity,
	}, nil
}
