/*
catalog.go - Product catalog

PURPOSE:
  Managers create, update, delete and restock their products. Restock is the
  only sanctioned way to raise the stock counter after creation; partial
  updates never touch it, so the counter has a single pair of writers
  (restock here, the decrement in engine.go).

OWNERSHIP:
  Every mutating operation resolves the caller to its manager profile and
  verifies product ownership through the policies in authz.go. Deactivated
  managers may still update and restock existing products; only creation is
  blocked for them.
*/
package market

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Catalog owns Product entities.
type Catalog struct {
	store    TxStore
	notifier Notifier
	now      func() time.Time
}

// NewCatalog creates a catalog backed by store, publishing stock changes
// to notifier.
func NewCatalog(store TxStore, notifier Notifier) *Catalog {
	return &Catalog{store: store, notifier: notifier, now: time.Now}
}

// CreateProductInput carries the fields of a new listing. BasePrice is
// required; a nil StockQuantity defaults to one unit.
type CreateProductInput struct {
	Title         string
	Description   string
	Category      string
	BasePrice     *decimal.Decimal
	StockQuantity *int
	Photos        []string
}

// CreateProduct lists a new product for the calling manager.
func (c *Catalog) CreateProduct(ctx context.Context, id Identity, in CreateProductInput) (*Product, error) {
	m, err := activeManagerProfile(ctx, c.store, id)
	if err != nil {
		return nil, err
	}
	if in.Title == "" {
		return nil, &ValidationError{Field: "title", Reason: "required"}
	}
	if in.BasePrice == nil {
		return nil, &ValidationError{Field: "base_price", Reason: "required"}
	}
	if in.BasePrice.IsNegative() {
		return nil, &ValidationError{Field: "base_price", Reason: "must not be negative"}
	}
	stock := 1
	if in.StockQuantity != nil {
		if *in.StockQuantity < 0 {
			return nil, &ValidationError{Field: "stock_quantity", Reason: "must not be negative"}
		}
		stock = *in.StockQuantity
	}

	now := c.now()
	p := &Product{
		ManagerID:     m.ID,
		Title:         in.Title,
		Description:   in.Description,
		Category:      in.Category,
		BasePrice:     *in.BasePrice,
		StockQuantity: stock,
		Status:        ProductAvailable,
		Photos:        in.Photos,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := c.store.SaveProduct(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// UpdateProduct applies a partial update to an owned product. Fields left
// nil are unchanged. Stock is deliberately absent from the patch: use
// Restock.
func (c *Catalog) UpdateProduct(ctx context.Context, id Identity, productID ProductID, patch ProductPatch) (*Product, error) {
	m, err := managerProfile(ctx, c.store, id)
	if err != nil {
		return nil, err
	}
	p, err := c.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, &NotFoundError{Kind: "product", ID: int64(productID)}
	}
	if err := requireOwnedProduct(m, p); err != nil {
		return nil, err
	}

	if patch.Title != nil {
		if *patch.Title == "" {
			return nil, &ValidationError{Field: "title", Reason: "must not be empty"}
		}
		p.Title = *patch.Title
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.Category != nil {
		p.Category = *patch.Category
	}
	if patch.BasePrice != nil {
		if patch.BasePrice.IsNegative() {
			return nil, &ValidationError{Field: "base_price", Reason: "must not be negative"}
		}
		p.BasePrice = *patch.BasePrice
	}
	if patch.Photos != nil {
		p.Photos = patch.Photos
	}
	p.UpdatedAt = c.now()

	if err := c.store.SaveProduct(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// DeleteProduct removes a product that has never been assigned or sold.
// Anything with assignment history is kept for ledger integrity.
func (c *Catalog) DeleteProduct(ctx context.Context, id Identity, productID ProductID) error {
	m, err := managerProfile(ctx, c.store, id)
	if err != nil {
		return err
	}
	p, err := c.store.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	if p == nil {
		return &NotFoundError{Kind: "product", ID: int64(productID)}
	}
	if err := requireOwnedProduct(m, p); err != nil {
		return err
	}
	if p.Status != ProductAvailable {
		return &ConflictError{Kind: "product", ID: int64(productID), State: string(p.Status),
			Reason: "only never-assigned products can be deleted"}
	}
	history, err := c.store.ListAssignments(ctx, AssignmentFilter{ProductID: productID})
	if err != nil {
		return err
	}
	if len(history) > 0 {
		return &ConflictError{Kind: "product", ID: int64(productID), State: string(p.Status),
			Reason: "assignment history exists"}
	}
	return c.store.DeleteProduct(ctx, productID)
}

// Restock changes the stock counter, either adding to it or setting it.
// The result is clamped at zero. The new level is broadcast best-effort.
func (c *Catalog) Restock(ctx context.Context, id Identity, productID ProductID, quantity int, mode RestockMode) (*Product, error) {
	m, err := managerProfile(ctx, c.store, id)
	if err != nil {
		return nil, err
	}
	if mode != RestockAdd && mode != RestockSet {
		return nil, &ValidationError{Field: "mode", Reason: `must be "add" or "set"`}
	}

	var (
		updated *Product
		ev      StockEvent
	)
	err = c.store.WithProductTx(ctx, productID, func(tx Store) error {
		p, err := tx.GetProduct(ctx, productID)
		if err != nil {
			return err
		}
		if p == nil {
			return &NotFoundError{Kind: "product", ID: int64(productID)}
		}
		if err := requireOwnedProduct(m, p); err != nil {
			return err
		}

		switch mode {
		case RestockAdd:
			p.StockQuantity += quantity
		case RestockSet:
			p.StockQuantity = quantity
		}
		if p.StockQuantity < 0 {
			p.StockQuantity = 0
		}

		// A sold-out product with fresh units goes back on sale.
		if p.Status == ProductSold && p.StockQuantity > 0 {
			active, err := tx.ListAssignments(ctx, AssignmentFilter{ProductID: productID, Status: AssignmentActive})
			if err != nil {
				return err
			}
			if len(active) > 0 {
				p.Status = ProductAssigned
			} else {
				p.Status = ProductAvailable
			}
		}
		p.UpdatedAt = c.now()

		if err := tx.SaveProduct(ctx, p); err != nil {
			return err
		}
		updated = p
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

	c.notifier.StockChanged(ctx, ev)
	return updated, nil
}

// ProductView is a product as seen by one caller. For sellers it carries
// the assignment linking them to the product.
type ProductView struct {
	Product
	AssignmentID     AssignmentID
	AssignmentStatus AssignmentStatus
}

// GetProduct returns one product. Any authenticated caller may view details.
func (c *Catalog) GetProduct(ctx context.Context, productID ProductID) (*Product, error) {
	p, err := c.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, &NotFoundError{Kind: "product", ID: int64(productID)}
	}
	return p, nil
}

// ListProducts returns the caller's view of the catalog: admins see all,
// managers their own, sellers the products assigned to them.
func (c *Catalog) ListProducts(ctx context.Context, id Identity) ([]ProductView, error) {
	switch id.Role {
	case RoleSuperAdmin:
		products, err := c.store.ListProducts(ctx, 0)
		if err != nil {
			return nil, err
		}
		return asViews(products), nil

	case RoleManager:
		m, err := managerProfile(ctx, c.store, id)
		if err != nil {
			return nil, err
		}
		products, err := c.store.ListProducts(ctx, m.ID)
		if err != nil {
			return nil, err
		}
		return asViews(products), nil

	case RoleSeller:
		s, err := sellerProfile(ctx, c.store, id)
		if err != nil {
			return nil, err
		}
		assignments, err := c.store.ListAssignments(ctx, AssignmentFilter{SellerID: s.ID})
		if err != nil {
			return nil, err
		}
		views := make([]ProductView, 0, len(assignments))
		for _, a := range assignments {
			p, err := c.store.GetProduct(ctx, a.ProductID)
			if err != nil {
				return nil, err
			}
			if p == nil {
				continue
			}
			views = append(views, ProductView{
				Product:          *p,
				AssignmentID:     a.ID,
				AssignmentStatus: a.Status,
			})
		}
		return views, nil

	default:
		return nil, requireRole(id, RoleSuperAdmin, RoleManager, RoleSeller)
	}
}

func asViews(products []Product) []ProductView {
	views := make([]ProductView, len(products))
	for i, p := range products {
		views[i] = ProductView{Product: p}
	}
	return views
}
