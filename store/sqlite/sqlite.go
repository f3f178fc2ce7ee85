/*
Package sqlite provides the SQLite-backed implementation of market.TxStore.

PURPOSE:
  Default runtime store. Persists the five marketplace tables and backs
  every sell with a real database transaction. The PostgreSQL store in
  store/postgres applies the same patterns with dialect differences.

KEY TABLES:
  managers:            manager profiles (one per account)
  sellers:             seller profiles with running balances
  products:            catalog entries owning the live stock counter
  product_assignments: seller-to-product selling rights
  sales:               immutable commission-split records

CONCURRENCY:
  A sync.RWMutex serializes writers in process. SQLite in WAL mode has a
  single writer anyway, so WithProductTx's per-product exclusivity is
  satisfied by the global write lock: two sells of the same product can
  never interleave.

STORAGE CONVENTIONS:
  - Money stored as TEXT via decimal.String(), parsed back losslessly
  - Timestamps stored as RFC3339 TEXT
  - Photos stored as a JSON array
  - A partial unique index rejects a second active assignment for the
    same (product, seller) pair at the schema level

USAGE:
  store, err := sqlite.New("./data/consign.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := market.NewEngine(store, notifier)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - market/store.go: interface definitions
  - market/store/memory.go: in-memory implementation for tests
  - store/postgres/postgres.go: PostgreSQL implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/consign-engine/market"
)

// Store implements market.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a SQLite store at the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS managers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id INTEGER NOT NULL UNIQUE,
		commission_rate TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sellers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id INTEGER NOT NULL UNIQUE,
		manager_id INTEGER NOT NULL REFERENCES managers(id),
		vinted_profile TEXT NOT NULL DEFAULT '',
		commission_rate TEXT NOT NULL,
		balance TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sellers_manager
		ON sellers(manager_id);

	CREATE TABLE IF NOT EXISTS products (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		manager_id INTEGER NOT NULL REFERENCES managers(id),
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		base_price TEXT NOT NULL,
		stock_quantity INTEGER NOT NULL,
		status TEXT NOT NULL,
		photos_json TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_products_manager
		ON products(manager_id);
	CREATE INDEX IF NOT EXISTS idx_products_status
		ON products(status);

	CREATE TABLE IF NOT EXISTS product_assignments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		product_id INTEGER NOT NULL REFERENCES products(id),
		seller_id INTEGER NOT NULL REFERENCES sellers(id),
		status TEXT NOT NULL,
		assigned_at TEXT NOT NULL,
		sold_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_assignments_product
		ON product_assignments(product_id);
	CREATE INDEX IF NOT EXISTS idx_assignments_seller
		ON product_assignments(seller_id);

	-- Enforce at the schema level that a seller holds at most one
	-- active assignment per product.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_assignments_active_pair
		ON product_assignments(product_id, seller_id)
		WHERE status = 'active';

	CREATE TABLE IF NOT EXISTS sales (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		assignment_id INTEGER NOT NULL REFERENCES product_assignments(id),
		seller_id INTEGER NOT NULL REFERENCES sellers(id),
		manager_id INTEGER NOT NULL REFERENCES managers(id),
		product_price TEXT NOT NULL,
		seller_commission TEXT NOT NULL,
		amount_to_manager TEXT NOT NULL,
		status TEXT NOT NULL,
		sold_at TEXT NOT NULL,
		paid_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_sales_seller
		ON sales(seller_id);
	CREATE INDEX IF NOT EXISTS idx_sales_manager
		ON sales(manager_id);
	CREATE INDEX IF NOT EXISTS idx_sales_assignment
		ON sales(assignment_id);
	CREATE INDEX IF NOT EXISTS idx_sales_status
		ON sales(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier abstracts *sql.DB and *sql.Tx so the same statement helpers
// serve both direct calls and transaction bodies.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// ACCOUNT DIRECTORY
// =============================================================================

// SaveManager inserts when ID is zero, updates otherwise.
func (s *Store) SaveManager(ctx context.Context, m *market.Manager) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveManager(ctx, s.db, m)
}

func saveManager(ctx context.Context, q querier, m *market.Manager) error {
	if m.ID == 0 {
		res, err := q.ExecContext(ctx,
			`INSERT INTO managers (account_id, commission_rate, active, created_at)
			 VALUES (?, ?, ?, ?)`,
			m.AccountID, m.CommissionRate.String(), boolToInt(m.Active),
			m.CreatedAt.UTC().Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("failed to insert manager: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		m.ID = market.ManagerID(id)
		return nil
	}

	_, err := q.ExecContext(ctx,
		`UPDATE managers SET account_id = ?, commission_rate = ?, active = ? WHERE id = ?`,
		m.AccountID, m.CommissionRate.String(), boolToInt(m.Active), m.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update manager: %w", err)
	}
	return nil
}

// GetManager retrieves a manager by ID, (nil, nil) when absent.
func (s *Store) GetManager(ctx context.Context, id market.ManagerID) (*market.Manager, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getManager(ctx, s.db, id)
}

func getManager(ctx context.Context, q querier, id market.ManagerID) (*market.Manager, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, account_id, commission_rate, active, created_at FROM managers WHERE id = ?`, id)
	return scanManager(row)
}

func (s *Store) GetManagerByAccount(ctx context.Context, accountID market.AccountID) (*market.Manager, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRowContext(ctx,
		`SELECT id, account_id, commission_rate, active, created_at FROM managers WHERE account_id = ?`, accountID)
	return scanManager(row)
}

func scanManager(row *sql.Row) (*market.Manager, error) {
	var (
		m         market.Manager
		rate      string
		active    int
		createdAt string
	)
	err := row.Scan(&m.ID, &m.AccountID, &rate, &active, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan manager: %w", err)
	}
	m.CommissionRate = market.MustParseDecimal(rate)
	m.Active = active != 0
	m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &m, nil
}

func (s *Store) ListManagers(ctx context.Context) ([]market.Manager, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listManagers(ctx, s.db)
}

func listManagers(ctx context.Context, q querier) ([]market.Manager, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, account_id, commission_rate, active, created_at FROM managers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query managers: %w", err)
	}
	defer rows.Close()

	var out []market.Manager
	for rows.Next() {
		var (
			m         market.Manager
			rate      string
			active    int
			createdAt string
		)
		if err := rows.Scan(&m.ID, &m.AccountID, &rate, &active, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan manager: %w", err)
		}
		m.CommissionRate = market.MustParseDecimal(rate)
		m.Active = active != 0
		m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) SaveSeller(ctx context.Context, sel *market.Seller) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveSeller(ctx, s.db, sel)
}

func saveSeller(ctx context.Context, q querier, sel *market.Seller) error {
	if sel.ID == 0 {
		res, err := q.ExecContext(ctx,
			`INSERT INTO sellers (account_id, manager_id, vinted_profile, commission_rate, balance, active, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			sel.AccountID, sel.ManagerID, sel.VintedProfile,
			sel.CommissionRate.String(), sel.Balance.String(), boolToInt(sel.Active),
			sel.CreatedAt.UTC().Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("failed to insert seller: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		sel.ID = market.SellerID(id)
		return nil
	}

	_, err := q.ExecContext(ctx,
		`UPDATE sellers SET account_id = ?, manager_id = ?, vinted_profile = ?,
		 commission_rate = ?, balance = ?, active = ? WHERE id = ?`,
		sel.AccountID, sel.ManagerID, sel.VintedProfile,
		sel.CommissionRate.String(), sel.Balance.String(), boolToInt(sel.Active), sel.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update seller: %w", err)
	}
	return nil
}

func (s *Store) GetSeller(ctx context.Context, id market.SellerID) (*market.Seller, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getSeller(ctx, s.db, id)
}

func getSeller(ctx context.Context, q querier, id market.SellerID) (*market.Seller, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, account_id, manager_id, vinted_profile, commission_rate, balance, active, created_at
		 FROM sellers WHERE id = ?`, id)
	return scanSeller(row)
}

func (s *Store) GetSellerByAccount(ctx context.Context, accountID market.AccountID) (*market.Seller, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRowContext(ctx,
		`SELECT id, account_id, manager_id, vinted_profile, commission_rate, balance, active, created_at
		 FROM sellers WHERE account_id = ?`, accountID)
	return scanSeller(row)
}

func scanSeller(row *sql.Row) (*market.Seller, error) {
	var (
		sel           market.Seller
		rate, balance string
		active        int
		createdAt     string
	)
	err := row.Scan(&sel.ID, &sel.AccountID, &sel.ManagerID, &sel.VintedProfile,
		&rate, &balance, &active, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan seller: %w", err)
	}
	sel.CommissionRate = market.MustParseDecimal(rate)
	sel.Balance = market.MustParseDecimal(balance)
	sel.Active = active != 0
	sel.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &sel, nil
}

func (s *Store) ListSellers(ctx context.Context, managerID market.ManagerID) ([]market.Seller, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listSellers(ctx, s.db, managerID)
}

func listSellers(ctx context.Context, q querier, managerID market.ManagerID) ([]market.Seller, error) {
	query := `SELECT id, account_id, manager_id, vinted_profile, commission_rate, balance, active, created_at
	          FROM sellers`
	var args []any
	if managerID != 0 {
		query += ` WHERE manager_id = ?`
		args = append(args, managerID)
	}
	query += ` ORDER BY id`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sellers: %w", err)
	}
	defer rows.Close()

	var out []market.Seller
	for rows.Next() {
		var (
			sel           market.Seller
			rate, balance string
			active        int
			createdAt     string
		)
		if err := rows.Scan(&sel.ID, &sel.AccountID, &sel.ManagerID, &sel.VintedProfile,
			&rate, &balance, &active, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan seller: %w", err)
		}
		sel.CommissionRate = market.MustParseDecimal(rate)
		sel.Balance = market.MustParseDecimal(balance)
		sel.Active = active != 0
		sel.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, sel)
	}
	return out, rows.Err()
}

// =============================================================================
// CATALOG
// =============================================================================

func (s *Store) SaveProduct(ctx context.Context, p *market.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveProduct(ctx, s.db, p)
}

func saveProduct(ctx context.Context, q querier, p *market.Product) error {
	photosJSON, _ := json.Marshal(p.Photos)

	if p.ID == 0 {
		res, err := q.ExecContext(ctx,
			`INSERT INTO products (manager_id, title, description, category, base_price,
			 stock_quantity, status, photos_json, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ManagerID, p.Title, p.Description, p.Category, p.BasePrice.String(),
			p.StockQuantity, p.Status, string(photosJSON),
			p.CreatedAt.UTC().Format(time.RFC3339),
			p.UpdatedAt.UTC().Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("failed to insert product: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		p.ID = market.ProductID(id)
		return nil
	}

	_, err := q.ExecContext(ctx,
		`UPDATE products SET title = ?, description = ?, category = ?, base_price = ?,
		 stock_quantity = ?, status = ?, photos_json = ?, updated_at = ? WHERE id = ?`,
		p.Title, p.Description, p.Category, p.BasePrice.String(),
		p.StockQuantity, p.Status, string(photosJSON),
		p.UpdatedAt.UTC().Format(time.RFC3339), p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}
	return nil
}

func (s *Store) GetProduct(ctx context.Context, id market.ProductID) (*market.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getProduct(ctx, s.db, id)
}

func getProduct(ctx context.Context, q querier, id market.ProductID) (*market.Product, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, manager_id, title, description, category, base_price,
		        stock_quantity, status, photos_json, created_at, updated_at
		 FROM products WHERE id = ?`, id)

	var (
		p                    market.Product
		price                string
		photosJSON           sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&p.ID, &p.ManagerID, &p.Title, &p.Description, &p.Category,
		&price, &p.StockQuantity, &p.Status, &photosJSON, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan product: %w", err)
	}
	p.BasePrice = market.MustParseDecimal(price)
	if photosJSON.Valid && photosJSON.String != "" {
		json.Unmarshal([]byte(photosJSON.String), &p.Photos)
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &p, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id market.ProductID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = ?`, id)
	return err
}

func (s *Store) ListProducts(ctx context.Context, managerID market.ManagerID) ([]market.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listProducts(ctx, s.db, managerID)
}

func listProducts(ctx context.Context, q querier, managerID market.ManagerID) ([]market.Product, error) {
	query := `SELECT id, manager_id, title, description, category, base_price,
	                 stock_quantity, status, photos_json, created_at, updated_at
	          FROM products`
	var args []any
	if managerID != 0 {
		query += ` WHERE manager_id = ?`
		args = append(args, managerID)
	}
	query += ` ORDER BY id`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var out []market.Product
	for rows.Next() {
		var (
			p                    market.Product
			price                string
			photosJSON           sql.NullString
			createdAt, updatedAt string
		)
		if err := rows.Scan(&p.ID, &p.ManagerID, &p.Title, &p.Description, &p.Category,
			&price, &p.StockQuantity, &p.Status, &photosJSON, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		p.BasePrice = market.MustParseDecimal(price)
		if photosJSON.Valid && photosJSON.String != "" {
			json.Unmarshal([]byte(photosJSON.String), &p.Photos)
		}
		p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

// =============================================================================
// ASSIGNMENT LEDGER
// =============================================================================

func (s *Store) SaveAssignment(ctx context.Context, a *market.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveAssignment(ctx, s.db, a)
}

func saveAssignment(ctx context.Context, q querier, a *market.Assignment) error {
	if a.ID == 0 {
		res, err := q.ExecContext(ctx,
			`INSERT INTO product_assignments (product_id, seller_id, status, assigned_at, sold_at)
			 VALUES (?, ?, ?, ?, ?)`,
			a.ProductID, a.SellerID, a.Status,
			a.AssignedAt.UTC().Format(time.RFC3339), nullTime(a.SoldAt),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return &market.ConflictError{
					Kind: "assignment", State: string(market.AssignmentActive),
					Reason: "seller already holds an active assignment for this product",
				}
			}
			return fmt.Errorf("failed to insert assignment: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		a.ID = market.AssignmentID(id)
		return nil
	}

	_, err := q.ExecContext(ctx,
		`UPDATE product_assignments SET product_id = ?, seller_id = ?, status = ?, sold_at = ? WHERE id = ?`,
		a.ProductID, a.SellerID, a.Status, nullTime(a.SoldAt), a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update assignment: %w", err)
	}
	return nil
}

func (s *Store) GetAssignment(ctx context.Context, id market.AssignmentID) (*market.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAssignment(ctx, s.db, id)
}

func getAssignment(ctx context.Context, q querier, id market.AssignmentID) (*market.Assignment, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, product_id, seller_id, status, assigned_at, sold_at
		 FROM product_assignments WHERE id = ?`, id)

	var (
		a          market.Assignment
		assignedAt string
		soldAt     sql.NullString
	)
	err := row.Scan(&a.ID, &a.ProductID, &a.SellerID, &a.Status, &assignedAt, &soldAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan assignment: %w", err)
	}
	a.AssignedAt, _ = time.Parse(time.RFC3339, assignedAt)
	a.SoldAt = parseNullTime(soldAt)
	return &a, nil
}

func (s *Store) DeleteAssignment(ctx context.Context, id market.AssignmentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteAssignment(ctx, s.db, id)
}

func deleteAssignment(ctx context.Context, q querier, id market.AssignmentID) error {
	_, err := q.ExecContext(ctx, `DELETE FROM product_assignments WHERE id = ?`, id)
	return err
}

func (s *Store) ListAssignments(ctx context.Context, f market.AssignmentFilter) ([]market.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listAssignments(ctx, s.db, f)
}

func listAssignments(ctx context.Context, q querier, f market.AssignmentFilter) ([]market.Assignment, error) {
	query := `SELECT id, product_id, seller_id, status, assigned_at, sold_at FROM product_assignments`
	var (
		where []string
		args  []any
	)
	if f.ProductID != 0 {
		where = append(where, "product_id = ?")
		args = append(args, f.ProductID)
	}
	if f.SellerID != 0 {
		where = append(where, "seller_id = ?")
		args = append(args, f.SellerID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}
	defer rows.Close()

	var out []market.Assignment
	for rows.Next() {
		var (
			a          market.Assignment
			assignedAt string
			soldAt     sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.ProductID, &a.SellerID, &a.Status, &assignedAt, &soldAt); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		a.AssignedAt, _ = time.Parse(time.RFC3339, assignedAt)
		a.SoldAt = parseNullTime(soldAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) HasActiveAssignment(ctx context.Context, productID market.ProductID, sellerID market.SellerID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return hasActiveAssignment(ctx, s.db, productID, sellerID)
}

func hasActiveAssignment(ctx context.Context, q querier, productID market.ProductID, sellerID market.SellerID) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM product_assignments
		 WHERE product_id = ? AND seller_id = ? AND status = ?`,
		productID, sellerID, market.AssignmentActive,
	).Scan(&count)
	return count > 0, err
}

// =============================================================================
// SALE LEDGER
// =============================================================================

func (s *Store) SaveSale(ctx context.Context, sale *market.Sale) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveSale(ctx, s.db, sale)
}

func saveSale(ctx context.Context, q querier, sale *market.Sale) error {
	if sale.ID == 0 {
		res, err := q.ExecContext(ctx,
			`INSERT INTO sales (assignment_id, seller_id, manager_id, product_price,
			 seller_commission, amount_to_manager, status, sold_at, paid_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sale.AssignmentID, sale.SellerID, sale.ManagerID,
			sale.ProductPrice.String(), sale.SellerCommission.String(), sale.AmountToManager.String(),
			sale.Status, sale.SoldAt.UTC().Format(time.RFC3339), nullTime(sale.PaidAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert sale: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		sale.ID = market.SaleID(id)
		return nil
	}

	_, err := q.ExecContext(ctx,
		`UPDATE sales SET status = ?, paid_at = ? WHERE id = ?`,
		sale.Status, nullTime(sale.PaidAt), sale.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update sale: %w", err)
	}
	return nil
}

func (s *Store) GetSale(ctx context.Context, id market.SaleID) (*market.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getSale(ctx, s.db, id)
}

func getSale(ctx context.Context, q querier, id market.SaleID) (*market.Sale, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, assignment_id, seller_id, manager_id, product_price,
		        seller_commission, amount_to_manager, status, sold_at, paid_at
		 FROM sales WHERE id = ?`, id)

	var (
		sale                   market.Sale
		price, sellerC, mgrC   string
		soldAt                 string
		paidAt                 sql.NullString
	)
	err := row.Scan(&sale.ID, &sale.AssignmentID, &sale.SellerID, &sale.ManagerID,
		&price, &sellerC, &mgrC, &sale.Status, &soldAt, &paidAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan sale: %w", err)
	}
	sale.ProductPrice = market.MustParseDecimal(price)
	sale.SellerCommission = market.MustParseDecimal(sellerC)
	sale.AmountToManager = market.MustParseDecimal(mgrC)
	sale.SoldAt, _ = time.Parse(time.RFC3339, soldAt)
	sale.PaidAt = parseNullTime(paidAt)
	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, f market.SaleFilter) ([]market.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listSales(ctx, s.db, f)
}

func listSales(ctx context.Context, q querier, f market.SaleFilter) ([]market.Sale, error) {
	query := `SELECT id, assignment_id, seller_id, manager_id, product_price,
	                 seller_commission, amount_to_manager, status, sold_at, paid_at
	          FROM sales`
	var (
		where []string
		args  []any
	)
	if f.SellerID != 0 {
		where = append(where, "seller_id = ?")
		args = append(args, f.SellerID)
	}
	if f.ManagerID != 0 {
		where = append(where, "manager_id = ?")
		args = append(args, f.ManagerID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sales: %w", err)
	}
	defer rows.Close()

	var out []market.Sale
	for rows.Next() {
		var (
			sale                 market.Sale
			price, sellerC, mgrC string
			soldAt               string
			paidAt               sql.NullString
		)
		if err := rows.Scan(&sale.ID, &sale.AssignmentID, &sale.SellerID, &sale.ManagerID,
			&price, &sellerC, &mgrC, &sale.Status, &soldAt, &paidAt); err != nil {
			return nil, fmt.Errorf("failed to scan sale: %w", err)
		}
		sale.ProductPrice = market.MustParseDecimal(price)
		sale.SellerCommission = market.MustParseDecimal(sellerC)
		sale.AmountToManager = market.MustParseDecimal(mgrC)
		sale.SoldAt, _ = time.Parse(time.RFC3339, soldAt)
		sale.PaidAt = parseNullTime(paidAt)
		out = append(out, sale)
	}
	return out, rows.Err()
}

func (s *Store) CountSalesByAssignment(ctx context.Context, id market.AssignmentID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return countSalesByAssignment(ctx, s.db, id)
}

func countSalesByAssignment(ctx context.Context, q querier, id market.AssignmentID) (int, error) {
	var count int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sales WHERE assignment_id = ?`, id,
	).Scan(&count)
	return count, err
}

func (s *Store) CountProductSales(ctx context.Context, id market.ProductID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return countProductSales(ctx, s.db, id)
}

func countProductSales(ctx context.Context, q querier, id market.ProductID) (int, error) {
	var count int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sales s
		 JOIN product_assignments a ON a.id = s.assignment_id
		 WHERE a.product_id = ? AND s.status != ?`,
		id, market.SaleCancelled,
	).Scan(&count)
	return count, err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(market.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runTx(ctx, fn)
}

// WithProductTx executes fn within a database transaction. SQLite has a
// single writer and the store holds the write lock for the whole body, so
// transactions for the same product never interleave.
func (s *Store) WithProductTx(ctx context.Context, _ market.ProductID, fn func(market.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runTx(ctx, fn)
}

func (s *Store) runTx(ctx context.Context, fn func(market.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore routes every Store call through the open transaction.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) SaveManager(ctx context.Context, m *market.Manager) error {
	return saveManager(ctx, ts.tx, m)
}

func (ts *txStore) GetManager(ctx context.Context, id market.ManagerID) (*market.Manager, error) {
	return getManager(ctx, ts.tx, id)
}

func (ts *txStore) GetManagerByAccount(ctx context.Context, accountID market.AccountID) (*market.Manager, error) {
	row := ts.tx.QueryRowContext(ctx,
		`SELECT id, account_id, commission_rate, active, created_at FROM managers WHERE account_id = ?`, accountID)
	return scanManager(row)
}

func (ts *txStore) ListManagers(ctx context.Context) ([]market.Manager, error) {
	return listManagers(ctx, ts.tx)
}

func (ts *txStore) SaveSeller(ctx context.Context, sel *market.Seller) error {
	return saveSeller(ctx, ts.tx, sel)
}

func (ts *txStore) GetSeller(ctx context.Context, id market.SellerID) (*market.Seller, error) {
	return getSeller(ctx, ts.tx, id)
}

func (ts *txStore) GetSellerByAccount(ctx context.Context, accountID market.AccountID) (*market.Seller, error) {
	row := ts.tx.QueryRowContext(ctx,
		`SELECT id, account_id, manager_id, vinted_profile, commission_rate, balance, active, created_at
		 FROM sellers WHERE account_id = ?`, accountID)
	return scanSeller(row)
}

func (ts *txStore) ListSellers(ctx context.Context, managerID market.ManagerID) ([]market.Seller, error) {
	return listSellers(ctx, ts.tx, managerID)
}

func (ts *txStore) SaveProduct(ctx context.Context, p *market.Product) error {
	return saveProduct(ctx, ts.tx, p)
}

func (ts *txStore) GetProduct(ctx context.Context, id market.ProductID) (*market.Product, error) {
	return getProduct(ctx, ts.tx, id)
}

func (ts *txStore) DeleteProduct(ctx context.Context, id market.ProductID) error {
	_, err := ts.tx.ExecContext(ctx, `DELETE FROM products WHERE id = ?`, id)
	return err
}

func (ts *txStore) ListProducts(ctx context.Context, managerID market.ManagerID) ([]market.Product, error) {
	return listProducts(ctx, ts.tx, managerID)
}

func (ts *txStore) SaveAssignment(ctx context.Context, a *market.Assignment) error {
	return saveAssignment(ctx, ts.tx, a)
}

func (ts *txStore) GetAssignment(ctx context.Context, id market.AssignmentID) (*market.Assignment, error) {
	return getAssignment(ctx, ts.tx, id)
}

func (ts *txStore) DeleteAssignment(ctx context.Context, id market.AssignmentID) error {
	return deleteAssignment(ctx, ts.tx, id)
}

func (ts *txStore) ListAssignments(ctx context.Context, f market.AssignmentFilter) ([]market.Assignment, error) {
	return listAssignments(ctx, ts.tx, f)
}

func (ts *txStore) HasActiveAssignment(ctx context.Context, productID market.ProductID, sellerID market.SellerID) (bool, error) {
	return hasActiveAssignment(ctx, ts.tx, productID, sellerID)
}

func (ts *txStore) SaveSale(ctx context.Context, sale *market.Sale) error {
	return saveSale(ctx, ts.tx, sale)
}

func (ts *txStore) GetSale(ctx context.Context, id market.SaleID) (*market.Sale, error) {
	return getSale(ctx, ts.tx, id)
}

func (ts *txStore) ListSales(ctx context.Context, f market.SaleFilter) ([]market.Sale, error) {
	return listSales(ctx, ts.tx, f)
}

func (ts *txStore) CountSalesByAssignment(ctx context.Context, id market.AssignmentID) (int, error) {
	return countSalesByAssignment(ctx, ts.tx, id)
}

func (ts *txStore) CountProductSales(ctx context.Context, id market.ProductID) (int, error) {
	return countProductSales(ctx, ts.tx, id)
}

// =============================================================================
// HELPERS
// =============================================================================

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
