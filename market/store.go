/*
store.go - Persistence interfaces for the marketplace

PURPOSE:
  Defines the boundary between domain logic and the database. Implementations
  exist for SQLite (default runtime), PostgreSQL (production) and in-memory
  (tests). Whatever the backend, it must provide atomic multi-row units of
  work and an exclusive critical section per product.

GET SEMANTICS:
  Get* methods return (nil, nil) when the entity is absent. Services turn
  that into a NotFoundError with entity context; stores stay dumb.

SAVE SEMANTICS:
  Save* inserts when ID is zero (assigning the next id into the struct) and
  updates in place otherwise.

TRANSACTIONS:
  WithTx runs fn atomically: if fn returns an error nothing is persisted.
  WithProductTx additionally serializes against every other WithProductTx
  call for the same product. Two sells of the same product are totally
  ordered; sells of different products do not block each other. Every write
  of a sell (stock decrement, sale row, assignment flip) happens inside one
  WithProductTx body, so a failure anywhere rolls all of it back.

SEE ALSO:
  - market/store/memory.go: in-memory implementation
  - store/sqlite/sqlite.go:  SQLite implementation
  - store/postgres/postgres.go: PostgreSQL implementation (FOR UPDATE row lock)
*/
package market

import "context"

// SaleFilter narrows a sale listing. Zero values mean "no filter".
type SaleFilter struct {
	SellerID  SellerID
	ManagerID ManagerID
	Status    SaleStatus
}

// AssignmentFilter narrows an assignment listing. Zero values mean "no filter".
type AssignmentFilter struct {
	ProductID ProductID
	SellerID  SellerID
	Status    AssignmentStatus
}

// Store is the flat persistence surface for the five tables.
type Store interface {
	// Account directory
	SaveManager(ctx context.Context, m *Manager) error
	GetManager(ctx context.Context, id ManagerID) (*Manager, error)
	GetManagerByAccount(ctx context.Context, accountID AccountID) (*Manager, error)
	ListManagers(ctx context.Context) ([]Manager, error)

	SaveSeller(ctx context.Context, s *Seller) error
	GetSeller(ctx context.Context, id SellerID) (*Seller, error)
	GetSellerByAccount(ctx context.Context, accountID AccountID) (*Seller, error)
	// ListSellers returns all sellers, or only one manager's when managerID != 0.
	ListSellers(ctx context.Context, managerID ManagerID) ([]Seller, error)

	// Catalog
	SaveProduct(ctx context.Context, p *Product) error
	GetProduct(ctx context.Context, id ProductID) (*Product, error)
	DeleteProduct(ctx context.Context, id ProductID) error
	// ListProducts returns all products, or only one manager's when managerID != 0.
	ListProducts(ctx context.Context, managerID ManagerID) ([]Product, error)

	// Assignment ledger
	SaveAssignment(ctx context.Context, a *Assignment) error
	GetAssignment(ctx context.Context, id AssignmentID) (*Assignment, error)
	DeleteAssignment(ctx context.Context, id AssignmentID) error
	ListAssignments(ctx context.Context, filter AssignmentFilter) ([]Assignment, error)
	// HasActiveAssignment reports whether an active assignment exists for the
	// exact (product, seller) pair.
	HasActiveAssignment(ctx context.Context, productID ProductID, sellerID SellerID) (bool, error)

	// Sale ledger
	SaveSale(ctx context.Context, s *Sale) error
	GetSale(ctx context.Context, id SaleID) (*Sale, error)
	ListSales(ctx context.Context, filter SaleFilter) ([]Sale, error)
	// CountSalesByAssignment counts every sale row referencing the
	// assignment, cancelled included (audit history).
	CountSalesByAssignment(ctx context.Context, id AssignmentID) (int, error)
	// CountProductSales counts non-cancelled sales across all of the
	// product's assignments. Display read-model only.
	CountProductSales(ctx context.Context, id ProductID) (int, error)
}

// TxStore extends Store with atomic units of work.
type TxStore interface {
	Store

	// WithTx executes fn atomically. fn error -> full rollback.
	WithTx(ctx context.Context, fn func(Store) error) error

	// WithProductTx executes fn atomically inside an exclusive critical
	// section scoped to productID.
	WithProductTx(ctx context.Context, productID ProductID, fn func(Store) error) error
}
