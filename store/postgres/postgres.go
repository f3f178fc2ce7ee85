/*
Package postgres provides the PostgreSQL-backed implementation of market.TxStore.

PURPOSE:
  Production store. Same schema shape as store/sqlite but relies on the
  database for concurrency control instead of a process-wide mutex:
  WithProductTx takes a row-level lock on the product with
  SELECT ... FOR UPDATE, so sells of the same product are serialized by
  the database across every process, while other products proceed in
  parallel.

STORAGE CONVENTIONS:
  - Money stored as NUMERIC(12,2), scanned through strings into decimals
  - Timestamps stored as TIMESTAMPTZ
  - Photos stored as a JSONB array
  - A partial unique index rejects a second active assignment for the
    same (product, seller) pair

USAGE:
  store, err := postgres.New(os.Getenv("DATABASE_URL"))
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - market/store.go: interface definitions
  - store/sqlite/sqlite.go: default runtime store
*/
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/warp/consign-engine/market"
)

// Store implements market.TxStore using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New connects to PostgreSQL and migrates the schema.
func New(connStr string) (*Store, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
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

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS managers (
		id BIGSERIAL PRIMARY KEY,
		account_id BIGINT NOT NULL UNIQUE,
		commission_rate NUMERIC(12,2) NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sellers (
		id BIGSERIAL PRIMARY KEY,
		account_id BIGINT NOT NULL UNIQUE,
		manager_id BIGINT NOT NULL REFERENCES managers(id),
		vinted_profile TEXT NOT NULL DEFAULT '',
		commission_rate NUMERIC(12,2) NOT NULL,
		balance NUMERIC(12,2) NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sellers_manager ON sellers(manager_id);

	CREATE TABLE IF NOT EXISTS products (
		id BIGSERIAL PRIMARY KEY,
		manager_id BIGINT NOT NULL REFERENCES managers(id),
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		base_price NUMERIC(12,2) NOT NULL,
		stock_quantity INT NOT NULL,
		status TEXT NOT NULL,
		photos JSONB,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_products_manager ON products(manager_id);
	CREATE INDEX IF NOT EXISTS idx_products_status ON products(status);

	CREATE TABLE IF NOT EXISTS product_assignments (
		id BIGSERIAL PRIMARY KEY,
		product_id BIGINT NOT NULL REFERENCES products(id),
		seller_id BIGINT NOT NULL REFERENCES sellers(id),
		status TEXT NOT NULL,
		assigned_at TIMESTAMPTZ NOT NULL,
		sold_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_assignments_product ON product_assignments(product_id);
	CREATE INDEX IF NOT EXISTS idx_assignments_seller ON product_assignments(seller_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_assignments_active_pair
		ON product_assignments(product_id, seller_id)
		WHERE status = 'active';

	CREATE TABLE IF NOT EXISTS sales (
		id BIGSERIAL PRIMARY KEY,
		assignment_id BIGINT NOT NULL REFERENCES product_assignments(id),
		seller_id BIGINT NOT NULL REFERENCES sellers(id),
		manager_id BIGINT NOT NULL REFERENCES managers(id),
		product_price NUMERIC(12,2) NOT NULL,
		seller_commission NUMERIC(12,2) NOT NULL,
		amount_to_manager NUMERIC(12,2) NOT NULL,
		status TEXT NOT NULL,
		sold_at TIMESTAMPTZ NOT NULL,
		paid_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_sales_seller ON sales(seller_id);
	CREATE INDEX IF NOT EXISTS idx_sales_manager ON sales(manager_id);
	CREATE INDEX IF NOT EXISTS idx_sales_assignment ON sales(assignment_id);
	CREATE INDEX IF NOT EXISTS idx_sales_status ON sales(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// ACCOUNT DIRECTORY
// =============================================================================

func (s *Store) SaveManager(ctx context.Context, m *market.Manager) error {
	return saveManager(ctx, s.db, m)
}

func saveManager(ctx context.Context, q querier, m *market.Manager) error {
	if m.ID == 0 {
		err := q.QueryRowContext(ctx,
			`INSERT INTO managers (account_id, commission_rate, active, created_at)
			 VALUES ($1, $2, $3, $4) RETURNING id`,
			m.AccountID, m.CommissionRate.String(), m.Active, m.CreatedAt,
		).Scan(&m.ID)
		if err != nil {
			return fmt.Errorf("failed to insert manager: %w", err)
		}
		return nil
	}

	_, err := q.ExecContext(ctx,
		`UPDATE managers SET account_id = $1, commission_rate = $2, active = $3 WHERE id = $4`,
		m.AccountID, m.CommissionRate.String(), m.Active, m.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update manager: %w", err)
	}
	return nil
}

func (s *Store) GetManager(ctx context.Context, id market.ManagerID) (*market.Manager, error) {
	return getManager(ctx, s.db, id)
}

func getManager(ctx context.Context, q querier, id market.ManagerID) (*market.Manager, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, account_id, commission_rate, active, created_at FROM managers WHERE id = $1`, id)
	return scanManager(row)
}

func (s *Store) GetManagerByAccount(ctx context.Context, accountID market.AccountID) (*market.Manager, error) {
	return getManagerByAccount(ctx, s.db, accountID)
}

func getManagerByAccount(ctx context.Context, q querier, accountID market.AccountID) (*market.Manager, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, account_id, commission_rate, active, created_at FROM managers WHERE account_id = $1`, accountID)
	return scanManager(row)
}

func scanManager(row *sql.Row) (*market.Manager, error) {
	var (
		m    market.Manager
		rate string
	)
	err := row.Scan(&m.ID, &m.AccountID, &rate, &m.Active, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan manager: %w", err)
	}
	m.CommissionRate = market.MustParseDecimal(rate)
	return &m, nil
}

func (s *Store) ListManagers(ctx context.Context) ([]market.Manager, error) {
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
			m    market.Manager
			rate string
		)
		if err := rows.Scan(&m.ID, &m.AccountID, &rate, &m.Active, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan manager: %w", err)
		}
		m.CommissionRate = market.MustParseDecimal(rate)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) SaveSeller(ctx context.Context, sel *market.Seller) error {
	return saveSeller(ctx, s.db, sel)
}

func saveSeller(ctx context.Context, q querier, sel *market.Seller) error {
	if sel.ID == 0 {
		err := q.QueryRowContext(ctx,
			`INSERT INTO sellers (account_id, manager_id, vinted_profile, commission_rate, balance, active, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
			sel.AccountID, sel.ManagerID, sel.VintedProfile,
			sel.CommissionRate.String(), sel.Balance.String(), sel.Active, sel.CreatedAt,
		).Scan(&sel.ID)
		if err != nil {
			return fmt.Errorf("failed to insert seller: %w", err)
		}
		return nil
	}

	_, err := q.ExecContext(ctx,
		`UPDATE sellers SET account_id = $1, manager_id = $2, vinted_profile = $3,
		 commission_rate = $4, balance = $5, active = $6 WHERE id = $7`,
		sel.AccountID, sel.ManagerID, sel.VintedProfile,
		sel.CommissionRate.String(), sel.Balance.String(), sel.Active, sel.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update seller: %w", err)
	}
	return nil
}

func (s *Store) GetSeller(ctx context.Context, id market.SellerID) (*market.Seller, error) {
	return getSeller(ctx, s.db, id)
}

func getSeller(ctx context.Context, q querier, id market.SellerID) (*market.Seller, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, account_id, manager_id, vinted_profile, commission_rate, balance, active, created_at
		 FROM sellers WHERE id = $1`, id)
	return scanSeller(row)
}

func (s *Store) GetSellerByAccount(ctx context.Context, accountID market.AccountID) (*market.Seller, error) {
	return getSellerByAccount(ctx, s.db, accountID)
}

func getSellerByAccount(ctx context.Context, q querier, accountID market.AccountID) (*market.Seller, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, account_id, manager_id, vinted_profile, commission_rate, balance, active, created_at
		 FROM sellers WHERE account_id = $1`, accountID)
	return scanSeller(row)
}

func scanSeller(row *sql.Row) (*market.Seller, error) {
	var (
		sel           market.Seller
		rate, balance string
	)
	err := row.Scan(&sel.ID, &sel.AccountID, &sel.ManagerID, &sel.VintedProfile,
		&rate, &balance, &sel.Active, &sel.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan seller: %w", err)
	}
	sel.CommissionRate = market.MustParseDecimal(rate)
	sel.Balance = market.MustParseDecimal(balance)
	return &sel, nil
}

func (s *Store) ListSellers(ctx context.Context, managerID market.ManagerID) ([]market.Seller, error) {
	return listSellers(ctx, s.db, managerID)
}

func listSellers(ctx context.Context, q querier, managerID market.ManagerID) ([]market.Seller, error) {
	query := `SELECT id, account_id, manager_id, vinted_profile, commission_rate, balance, active, created_at
	          FROM sellers`
	var args []any
	if managerID != 0 {
		query += ` WHERE manager_id = $1`
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
		)
		if err := rows.Scan(&sel.ID, &sel.AccountID, &sel.ManagerID, &sel.VintedProfile,
			&rate, &balance, &sel.Active, &sel.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan seller: %w", err)
		}
		sel.CommissionRate = market.MustParseDecimal(rate)
		sel.Balance = market.MustParseDecimal(balance)
		out = append(out, sel)
	}
	return out, rows.Err()
}

// =============================================================================
// CATALOG
// =============================================================================

func (s *Store) SaveProduct(ctx context.Context, p *market.Product) error {
	return saveProduct(ctx, s.db, p)
}

func saveProduct(ctx context.Context, q querier, p *market.Product) error {
	photosJSON, _ := json.Marshal(p.Photos)

	if p.ID == 0 {
		err := q.QueryRowContext(ctx,
			`INSERT INTO products (manager_id, title, description, category, base_price,
			 stock_quantity, status, photos, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
			p.ManagerID, p.Title, p.Description, p.Category, p.BasePrice.String(),
			p.StockQuantity, p.Status, photosJSON, p.CreatedAt, p.UpdatedAt,
		).Scan(&p.ID)
		if err != nil {
			return fmt.Errorf("failed to insert product: %w", err)
		}
		return nil
	}

	_, err := q.ExecContext(ctx,
		`UPDATE products SET title = $1, description = $2, category = $3, base_price = $4,
		 stock_quantity = $5, status = $6, photos = $7, updated_at = $8 WHERE id = $9`,
		p.Title, p.Description, p.Category, p.BasePrice.String(),
		p.StockQuantity, p.Status, photosJSON, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}
	return nil
}

func (s *Store) GetProduct(ctx context.Context, id market.ProductID) (*market.Product, error) {
	return getProduct(ctx, s.db, id)
}

func getProduct(ctx context.Context, q querier, id market.ProductID) (*market.Product, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, manager_id, title, description, category, base_price,
		        stock_quantity, status, photos, created_at, updated_at
		 FROM products WHERE id = $1`, id)

	var (
		p          market.Product
		price      string
		photosJSON []byte
	)
	err := row.Scan(&p.ID, &p.ManagerID, &p.Title, &p.Description, &p.Category,
		&price, &p.StockQuantity, &p.Status, &photosJSON, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan product: %w", err)
	}
	p.BasePrice = market.MustParseDecimal(price)
	if len(photosJSON) > 0 {
		json.Unmarshal(photosJSON, &p.Photos)
	}
	return &p, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id market.ProductID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	return err
}

func (s *Store) ListProducts(ctx context.Context, managerID market.ManagerID) ([]market.Product, error) {
	return listProducts(ctx, s.db, managerID)
}

func listProducts(ctx context.Context, q querier, managerID market.ManagerID) ([]market.Product, error) {
	query := `SELECT id, manager_id, title, description, category, base_price,
	                 stock_quantity, status, photos, created_at, updated_at
	          FROM products`
	var args []any
	if managerID != 0 {
		query += ` WHERE manager_id = $1`
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
			p          market.Product
			price      string
			photosJSON []byte
		)
		if err := rows.Scan(&p.ID, &p.ManagerID, &p.Title, &p.Description, &p.Category,
			&price, &p.StockQuantity, &p.Status, &photosJSON, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		p.BasePrice = market.MustParseDecimal(price)
		if len(photosJSON) > 0 {
			json.Unmarshal(photosJSON, &p.Photos)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// =============================================================================
// ASSIGNMENT LEDGER
// =============================================================================

func (s *Store) SaveAssignment(ctx context.Context, a *market.Assignment) error {
	return saveAssignment(ctx, s.db, a)
}

func saveAssignment(ctx context.Context, q querier, a *market.Assignment) error {
	if a.ID == 0 {
		err := q.QueryRowContext(ctx,
			`INSERT INTO product_assignments (product_id, seller_id, status, assigned_at, sold_at)
			 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			a.ProductID, a.SellerID, a.Status, a.AssignedAt, a.SoldAt,
		).Scan(&a.ID)
		if err != nil {
			if isUniqueViolation(err) {
				return &market.ConflictError{
					Kind: "assignment", State: string(market.AssignmentActive),
					Reason: "seller already holds an active assignment for this product",
				}
			}
			return fmt.Errorf("failed to insert assignment: %w", err)
		}
		return nil
	}

	_, err := q.ExecContext(ctx,
		`UPDATE product_assignments SET product_id = $1, seller_id = $2, status = $3, sold_at = $4 WHERE id = $5`,
		a.ProductID, a.SellerID, a.Status, a.SoldAt, a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update assignment: %w", err)
	}
	return nil
}

func (s *Store) GetAssignment(ctx context.Context, id market.AssignmentID) (*market.Assignment, error) {
	return getAssignment(ctx, s.db, id)
}

func getAssignment(ctx context.Context, q querier, id market.AssignmentID) (*market.Assignment, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, product_id, seller_id, status, assigned_at, sold_at
		 FROM product_assignments WHERE id = $1`, id)

	var a market.Assignment
	err := row.Scan(&a.ID, &a.ProductID, &a.SellerID, &a.Status, &a.AssignedAt, &a.SoldAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan assignment: %w", err)
	}
	return &a, nil
}

func (s *Store) DeleteAssignment(ctx context.Context, id market.AssignmentID) error {
	return deleteAssignment(ctx, s.db, id)
}

func deleteAssignment(ctx context.Context, q querier, id market.AssignmentID) error {
	_, err := q.ExecContext(ctx, `DELETE FROM product_assignments WHERE id = $1`, id)
	return err
}

func (s *Store) ListAssignments(ctx context.Context, f market.AssignmentFilter) ([]market.Assignment, error) {
	return listAssignments(ctx, s.db, f)
}

func listAssignments(ctx context.Context, q querier, f market.AssignmentFilter) ([]market.Assignment, error) {
	query := `SELECT id, product_id, seller_id, status, assigned_at, sold_at FROM product_assignments`
	var (
		where []string
		args  []any
	)
	if f.ProductID != 0 {
		args = append(args, f.ProductID)
		where = append(where, fmt.Sprintf("product_id = $%d", len(args)))
	}
	if f.SellerID != 0 {
		args = append(args, f.SellerID)
		where = append(where, fmt.Sprintf("seller_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
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
		var a market.Assignment
		if err := rows.Scan(&a.ID, &a.ProductID, &a.SellerID, &a.Status, &a.AssignedAt, &a.SoldAt); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) HasActiveAssignment(ctx context.Context, productID market.ProductID, sellerID market.SellerID) (bool, error) {
	return hasActiveAssignment(ctx, s.db, productID, sellerID)
}

func hasActiveAssignment(ctx context.Context, q querier, productID market.ProductID, sellerID market.SellerID) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM product_assignments
		 WHERE product_id = $1 AND seller_id = $2 AND status = $3`,
		productID, sellerID, market.AssignmentActive,
	).Scan(&count)
	return count > 0, err
}

// =============================================================================
// SALE LEDGER
// =============================================================================

func (s *Store) SaveSale(ctx context.Context, sale *market.Sale) error {
	return saveSale(ctx, s.db, sale)
}

func saveSale(ctx context.Context, q querier, sale *market.Sale) error {
	if sale.ID == 0 {
		err := q.QueryRowContext(ctx,
			`INSERT INTO sales (assignment_id, seller_id, manager_id, product_price,
			 seller_commission, amount_to_manager, status, sold_at, paid_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
			sale.AssignmentID, sale.SellerID, sale.ManagerID,
			sale.ProductPrice.String(), sale.SellerCommission.String(), sale.AmountToManager.String(),
			sale.Status, sale.SoldAt, sale.PaidAt,
		).Scan(&sale.ID)
		if err != nil {
			return fmt.Errorf("failed to insert sale: %w", err)
		}
		return nil
	}

	_, err := q.ExecContext(ctx,
		`UPDATE sales SET status = $1, paid_at = $2 WHERE id = $3`,
		sale.Status, sale.PaidAt, sale.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update sale: %w", err)
	}
	return nil
}

func (s *Store) GetSale(ctx context.Context, id market.SaleID) (*market.Sale, error) {
	return getSale(ctx, s.db, id)
}

func getSale(ctx context.Context, q querier, id market.SaleID) (*market.Sale, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, assignment_id, seller_id, manager_id, product_price,
		        seller_commission, amount_to_manager, status, sold_at, paid_at
		 FROM sales WHERE id = $1`, id)

	var (
		sale                 market.Sale
		price, sellerC, mgrC string
	)
	err := row.Scan(&sale.ID, &sale.AssignmentID, &sale.SellerID, &sale.ManagerID,
		&price, &sellerC, &mgrC, &sale.Status, &sale.SoldAt, &sale.PaidAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan sale: %w", err)
	}
	sale.ProductPrice = market.MustParseDecimal(price)
	sale.SellerCommission = market.MustParseDecimal(sellerC)
	sale.AmountToManager = market.MustParseDecimal(mgrC)
	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, f market.SaleFilter) ([]market.Sale, error) {
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
		args = append(args, f.SellerID)
		where = append(where, fmt.Sprintf("seller_id = $%d", len(args)))
	}
	if f.ManagerID != 0 {
		args = append(args, f.ManagerID)
		where = append(where, fmt.Sprintf("manager_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
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
		)
		if err := rows.Scan(&sale.ID, &sale.AssignmentID, &sale.SellerID, &sale.ManagerID,
			&price, &sellerC, &mgrC, &sale.Status, &sale.SoldAt, &sale.PaidAt); err != nil {
			return nil, fmt.Errorf("failed to scan sale: %w", err)
		}
		sale.ProductPrice = market.MustParseDecimal(price)
		sale.SellerCommission = market.MustParseDecimal(sellerC)
		sale.AmountToManager = market.MustParseDecimal(mgrC)
		out = append(out, sale)
	}
	return out, rows.Err()
}

func (s *Store) CountSalesByAssignment(ctx context.Context, id market.AssignmentID) (int, error) {
	return countSalesByAssignment(ctx, s.db, id)
}

func countSalesByAssignment(ctx context.Context, q querier, id market.AssignmentID) (int, error) {
	var count int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sales WHERE assignment_id = $1`, id,
	).Scan(&count)
	return count, err
}

func (s *Store) CountProductSales(ctx context.Context, id market.ProductID) (int, error) {
	return countProductSales(ctx, s.db, id)
}

func countProductSales(ctx context.Context, q querier, id market.ProductID) (int, error) {
	var count int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sales s
		 JOIN product_assignments a ON a.id = s.assignment_id
		 WHERE a.product_id = $1 AND s.status != $2`,
		id, market.SaleCancelled,
	).Scan(&count)
	return count, err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(market.Store) error) error {
	return s.runTx(ctx, 0, fn)
}

// WithProductTx executes fn within a database transaction holding a
// row-level lock on the product. Concurrent transactions for the same
// product queue on the lock; other products are unaffected.
func (s *Store) WithProductTx(ctx context.Context, productID market.ProductID, fn func(market.Store) error) error {
	return s.runTx(ctx, productID, fn)
}

func (s *Store) runTx(ctx context.Context, productID market.ProductID, fn func(market.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if productID != 0 {
		var locked int64
		err := sqlTx.QueryRowContext(ctx,
			`SELECT id FROM products WHERE id = $1 FOR UPDATE`, productID,
		).Scan(&locked)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("failed to lock product row: %w", err)
		}
	}

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

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
	return getManagerByAccount(ctx, ts.tx, accountID)
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
	return getSellerByAccount(ctx, ts.tx, accountID)
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
	_, err := ts.tx.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
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

// isUniqueViolation reports PostgreSQL error class 23505.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
