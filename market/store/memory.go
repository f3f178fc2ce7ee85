/*
Package store provides the in-memory market.TxStore.

Used by tests and local development. Transactions are write-buffered: fn
runs against an overlay of staged rows and nothing reaches the base maps
until fn returns nil. WithProductTx additionally holds a per-product mutex
for the whole body, so sells of the same product are totally ordered while
different products proceed in parallel. WithTx holds a single settlement
mutex; pays are rarer than sells and a global order there is fine.
*/
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/consign-engine/market"
)

// Memory implements market.TxStore in process memory.
type Memory struct {
	mu sync.RWMutex

	managers    map[market.ManagerID]market.Manager
	sellers     map[market.SellerID]market.Seller
	products    map[market.ProductID]market.Product
	assignments map[market.AssignmentID]market.Assignment
	sales       map[market.SaleID]market.Sale

	nextManager    int64
	nextSeller     int64
	nextProduct    int64
	nextAssignment int64
	nextSale       int64

	settleMu     sync.Mutex
	productMu    sync.Mutex
	productLocks map[market.ProductID]*sync.Mutex
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		managers:     make(map[market.ManagerID]market.Manager),
		sellers:      make(map[market.SellerID]market.Seller),
		products:     make(map[market.ProductID]market.Product),
		assignments:  make(map[market.AssignmentID]market.Assignment),
		sales:        make(map[market.SaleID]market.Sale),
		productLocks: make(map[market.ProductID]*sync.Mutex),
	}
}

func (m *Memory) productLock(id market.ProductID) *sync.Mutex {
	m.productMu.Lock()
	defer m.productMu.Unlock()
	l, ok := m.productLocks[id]
	if !ok {
		l = &sync.Mutex{}
		m.productLocks[id] = l
	}
	return l
}

// =============================================================================
// ACCOUNT DIRECTORY
// =============================================================================

func (m *Memory) SaveManager(_ context.Context, mgr *market.Manager) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mgr.ID == 0 {
		m.nextManager++
		mgr.ID = market.ManagerID(m.nextManager)
	}
	m.managers[mgr.ID] = *mgr
	return nil
}

func (m *Memory) GetManager(_ context.Context, id market.ManagerID) (*market.Manager, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if mgr, ok := m.managers[id]; ok {
		return &mgr, nil
	}
	return nil, nil
}

func (m *Memory) GetManagerByAccount(_ context.Context, accountID market.AccountID) (*market.Manager, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, mgr := range m.managers {
		if mgr.AccountID == accountID {
			mgr := mgr
			return &mgr, nil
		}
	}
	return nil, nil
}

func (m *Memory) ListManagers(_ context.Context) ([]market.Manager, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]market.Manager, 0, len(m.managers))
	for _, mgr := range m.managers {
		out = append(out, mgr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SaveSeller(_ context.Context, s *market.Seller) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == 0 {
		m.nextSeller++
		s.ID = market.SellerID(m.nextSeller)
	}
	m.sellers[s.ID] = *s
	return nil
}

func (m *Memory) GetSeller(_ context.Context, id market.SellerID) (*market.Seller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sellers[id]; ok {
		return &s, nil
	}
	return nil, nil
}

func (m *Memory) GetSellerByAccount(_ context.Context, accountID market.AccountID) (*market.Seller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sellers {
		if s.AccountID == accountID {
			s := s
			return &s, nil
		}
	}
	return nil, nil
}

func (m *Memory) ListSellers(_ context.Context, managerID market.ManagerID) ([]market.Seller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []market.Seller
	for _, s := range m.sellers {
		if managerID == 0 || s.ManagerID == managerID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// CATALOG
// =============================================================================

func (m *Memory) SaveProduct(_ context.Context, p *market.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == 0 {
		m.nextProduct++
		p.ID = market.ProductID(m.nextProduct)
	}
	m.products[p.ID] = cloneProduct(*p)
	return nil
}

func (m *Memory) GetProduct(_ context.Context, id market.ProductID) (*market.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.products[id]; ok {
		p = cloneProduct(p)
		return &p, nil
	}
	return nil, nil
}

func (m *Memory) DeleteProduct(_ context.Context, id market.ProductID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.products, id)
	return nil
}

func (m *Memory) ListProducts(_ context.Context, managerID market.ManagerID) ([]market.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []market.Product
	for _, p := range m.products {
		if managerID == 0 || p.ManagerID == managerID {
			out = append(out, cloneProduct(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// cloneProduct copies the photo slice so callers never alias stored state.
func cloneProduct(p market.Product) market.Product {
	if p.Photos != nil {
		photos := make([]string, len(p.Photos))
		copy(photos, p.Photos)
		p.Photos = photos
	}
	return p
}

// =============================================================================
// ASSIGNMENT LEDGER
// =============================================================================

func (m *Memory) SaveAssignment(_ context.Context, a *market.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == 0 {
		m.nextAssignment++
		a.ID = market.AssignmentID(m.nextAssignment)
	}
	m.assignments[a.ID] = *a
	return nil
}

func (m *Memory) GetAssignment(_ context.Context, id market.AssignmentID) (*market.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if a, ok := m.assignments[id]; ok {
		return &a, nil
	}
	return nil, nil
}

func (m *Memory) DeleteAssignment(_ context.Context, id market.AssignmentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.assignments, id)
	return nil
}

func (m *Memory) ListAssignments(_ context.Context, f market.AssignmentFilter) ([]market.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []market.Assignment
	for _, a := range m.assignments {
		if matchAssignment(a, f) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func matchAssignment(a market.Assignment, f market.AssignmentFilter) bool {
	if f.ProductID != 0 && a.ProductID != f.ProductID {
		return false
	}
	if f.SellerID != 0 && a.SellerID != f.SellerID {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	return true
}

func (m *Memory) HasActiveAssignment(_ context.Context, productID market.ProductID, sellerID market.SellerID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.assignments {
		if a.ProductID == productID && a.SellerID == sellerID && a.Status == market.AssignmentActive {
			return true, nil
		}
	}
	return false, nil
}

// =============================================================================
// SALE LEDGER
// =============================================================================

func (m *Memory) SaveSale(_ context.Context, s *market.Sale) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == 0 {
		m.nextSale++
		s.ID = market.SaleID(m.nextSale)
	}
	m.sales[s.ID] = *s
	return nil
}

func (m *Memory) GetSale(_ context.Context, id market.SaleID) (*market.Sale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sales[id]; ok {
		return &s, nil
	}
	return nil, nil
}

func (m *Memory) ListSales(_ context.Context, f market.SaleFilter) ([]market.Sale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []market.Sale
	for _, s := range m.sales {
		if matchSale(s, f) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func matchSale(s market.Sale, f market.SaleFilter) bool {
	if f.SellerID != 0 && s.SellerID != f.SellerID {
		return false
	}
	if f.ManagerID != 0 && s.ManagerID != f.ManagerID {
		return false
	}
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	return true
}

func (m *Memory) hasSale(id market.SaleID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sales[id]
	return ok
}

func (m *Memory) CountSalesByAssignment(_ context.Context, id market.AssignmentID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, s := range m.sales {
		if s.AssignmentID == id {
			n++
		}
	}
	return n, nil
}

func (m *Memory) CountProductSales(ctx context.Context, id market.ProductID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, s := range m.sales {
		if s.Status == market.SaleCancelled {
			continue
		}
		a, ok := m.assignments[s.AssignmentID]
		if ok && a.ProductID == id {
			n++
		}
	}
	return n, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx buffers fn's writes and applies them only when fn returns nil.
func (m *Memory) WithTx(ctx context.Context, fn func(market.Store) error) error {
	m.settleMu.Lock()
	defer m.settleMu.Unlock()
	return m.runTx(ctx, fn)
}

// WithProductTx is WithTx under an exclusive per-product mutex. Two
// transactions for the same product are totally ordered; different
// products run concurrently.
func (m *Memory) WithProductTx(ctx context.Context, productID market.ProductID, fn func(market.Store) error) error {
	l := m.productLock(productID)
	l.Lock()
	defer l.Unlock()
	return m.runTx(ctx, fn)
}

func (m *Memory) runTx(ctx context.Context, fn func(market.Store) error) error {
	tx := newTxMemory(m)
	if err := fn(tx); err != nil {
		return err
	}
	// A cancelled context must not commit: the caller is told the unit of
	// work failed, so it has to stay unapplied.
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// txMemory overlays staged writes on the base store. Reads see staged rows
// first; commit applies everything under the base lock.
type txMemory struct {
	base *Memory

	managers    map[market.ManagerID]market.Manager
	sellers     map[market.SellerID]market.Seller
	products    map[market.ProductID]market.Product
	assignments map[market.AssignmentID]market.Assignment
	sales       map[market.SaleID]market.Sale

	deletedAssignments map[market.AssignmentID]bool
	deletedProducts    map[market.ProductID]bool
}

func newTxMemory(base *Memory) *txMemory {
	return &txMemory{
		base:               base,
		managers:           make(map[market.ManagerID]market.Manager),
		sellers:            make(map[market.SellerID]market.Seller),
		products:           make(map[market.ProductID]market.Product),
		assignments:        make(map[market.AssignmentID]market.Assignment),
		sales:              make(map[market.SaleID]market.Sale),
		deletedAssignments: make(map[market.AssignmentID]bool),
		deletedProducts:    make(map[market.ProductID]bool),
	}
}

func (t *txMemory) commit() {
	t.base.mu.Lock()
	defer t.base.mu.Unlock()
	for id, v := range t.managers {
		t.base.managers[id] = v
	}
	for id, v := range t.sellers {
		t.base.sellers[id] = v
	}
	for id, v := range t.products {
		t.base.products[id] = v
	}
	for id, v := range t.assignments {
		t.base.assignments[id] = v
	}
	for id, v := range t.sales {
		t.base.sales[id] = v
	}
	for id := range t.deletedAssignments {
		delete(t.base.assignments, id)
	}
	for id := range t.deletedProducts {
		delete(t.base.products, id)
	}
}

func (t *txMemory) SaveManager(ctx context.Context, mgr *market.Manager) error {
	if mgr.ID == 0 {
		t.base.mu.Lock()
		t.base.nextManager++
		mgr.ID = market.ManagerID(t.base.nextManager)
		t.base.mu.Unlock()
	}
	t.managers[mgr.ID] = *mgr
	return nil
}

func (t *txMemory) GetManager(ctx context.Context, id market.ManagerID) (*market.Manager, error) {
	if mgr, ok := t.managers[id]; ok {
		return &mgr, nil
	}
	return t.base.GetManager(ctx, id)
}

func (t *txMemory) GetManagerByAccount(ctx context.Context, accountID market.AccountID) (*market.Manager, error) {
	for _, mgr := range t.managers {
		if mgr.AccountID == accountID {
			mgr := mgr
			return &mgr, nil
		}
	}
	return t.base.GetManagerByAccount(ctx, accountID)
}

func (t *txMemory) ListManagers(ctx context.Context) ([]market.Manager, error) {
	base, err := t.base.ListManagers(ctx)
	if err != nil {
		return nil, err
	}
	return mergeByID(base, t.managers, nil, func(m market.Manager) int64 { return int64(m.ID) }), nil
}

func (t *txMemory) SaveSeller(ctx context.Context, s *market.Seller) error {
	if s.ID == 0 {
		t.base.mu.Lock()
		t.base.nextSeller++
		s.ID = market.SellerID(t.base.nextSeller)
		t.base.mu.Unlock()
	}
	t.sellers[s.ID] = *s
	return nil
}

func (t *txMemory) GetSeller(ctx context.Context, id market.SellerID) (*market.Seller, error) {
	if s, ok := t.sellers[id]; ok {
		return &s, nil
	}
	return t.base.GetSeller(ctx, id)
}

func (t *txMemory) GetSellerByAccount(ctx context.Context, accountID market.AccountID) (*market.Seller, error) {
	for _, s := range t.sellers {
		if s.AccountID == accountID {
			s := s
			return &s, nil
		}
	}
	return t.base.GetSellerByAccount(ctx, accountID)
}

func (t *txMemory) ListSellers(ctx context.Context, managerID market.ManagerID) ([]market.Seller, error) {
	base, err := t.base.ListSellers(ctx, managerID)
	if err != nil {
		return nil, err
	}
	staged := make(map[market.SellerID]market.Seller)
	for id, s := range t.sellers {
		if managerID == 0 || s.ManagerID == managerID {
			staged[id] = s
		}
	}
	return mergeByID(base, staged, nil, func(s market.Seller) int64 { return int64(s.ID) }), nil
}

func (t *txMemory) SaveProduct(ctx context.Context, p *market.Product) error {
	if p.ID == 0 {
		t.base.mu.Lock()
		t.base.nextProduct++
		p.ID = market.ProductID(t.base.nextProduct)
		t.base.mu.Unlock()
	}
	delete(t.deletedProducts, p.ID)
	t.products[p.ID] = cloneProduct(*p)
	return nil
}

func (t *txMemory) GetProduct(ctx context.Context, id market.ProductID) (*market.Product, error) {
	if t.deletedProducts[id] {
		return nil, nil
	}
	if p, ok := t.products[id]; ok {
		p = cloneProduct(p)
		return &p, nil
	}
	return t.base.GetProduct(ctx, id)
}

func (t *txMemory) DeleteProduct(ctx context.Context, id market.ProductID) error {
	delete(t.products, id)
	t.deletedProducts[id] = true
	return nil
}

func (t *txMemory) ListProducts(ctx context.Context, managerID market.ManagerID) ([]market.Product, error) {
	base, err := t.base.ListProducts(ctx, managerID)
	if err != nil {
		return nil, err
	}
	staged := make(map[market.ProductID]market.Product)
	for id, p := range t.products {
		if managerID == 0 || p.ManagerID == managerID {
			staged[id] = p
		}
	}
	deleted := make(map[int64]bool, len(t.deletedProducts))
	for id := range t.deletedProducts {
		deleted[int64(id)] = true
	}
	return mergeByID(base, staged, deleted, func(p market.Product) int64 { return int64(p.ID) }), nil
}

func (t *txMemory) SaveAssignment(ctx context.Context, a *market.Assignment) error {
	if a.ID == 0 {
		t.base.mu.Lock()
		t.base.nextAssignment++
		a.ID = market.AssignmentID(t.base.nextAssignment)
		t.base.mu.Unlock()
	}
	delete(t.deletedAssignments, a.ID)
	t.assignments[a.ID] = *a
	return nil
}

func (t *txMemory) GetAssignment(ctx context.Context, id market.AssignmentID) (*market.Assignment, error) {
	if t.deletedAssignments[id] {
		return nil, nil
	}
	if a, ok := t.assignments[id]; ok {
		return &a, nil
	}
	return t.base.GetAssignment(ctx, id)
}

func (t *txMemory) DeleteAssignment(ctx context.Context, id market.AssignmentID) error {
	delete(t.assignments, id)
	t.deletedAssignments[id] = true
	return nil
}

func (t *txMemory) ListAssignments(ctx context.Context, f market.AssignmentFilter) ([]market.Assignment, error) {
	base, err := t.base.ListAssignments(ctx, f)
	if err != nil {
		return nil, err
	}
	staged := make(map[market.AssignmentID]market.Assignment)
	for id, a := range t.assignments {
		if matchAssignment(a, f) {
			staged[id] = a
		}
	}
	deleted := make(map[int64]bool, len(t.deletedAssignments))
	for id := range t.deletedAssignments {
		deleted[int64(id)] = true
	}
	return mergeByID(base, staged, deleted, func(a market.Assignment) int64 { return int64(a.ID) }), nil
}

func (t *txMemory) HasActiveAssignment(ctx context.Context, productID market.ProductID, sellerID market.SellerID) (bool, error) {
	as, err := t.ListAssignments(ctx, market.AssignmentFilter{
		ProductID: productID, SellerID: sellerID, Status: market.AssignmentActive,
	})
	if err != nil {
		return false, err
	}
	return len(as) > 0, nil
}

func (t *txMemory) SaveSale(ctx context.Context, s *market.Sale) error {
	if s.ID == 0 {
		t.base.mu.Lock()
		t.base.nextSale++
		s.ID = market.SaleID(t.base.nextSale)
		t.base.mu.Unlock()
	}
	t.sales[s.ID] = *s
	return nil
}

func (t *txMemory) GetSale(ctx context.Context, id market.SaleID) (*market.Sale, error) {
	if s, ok := t.sales[id]; ok {
		return &s, nil
	}
	return t.base.GetSale(ctx, id)
}

func (t *txMemory) ListSales(ctx context.Context, f market.SaleFilter) ([]market.Sale, error) {
	base, err := t.base.ListSales(ctx, f)
	if err != nil {
		return nil, err
	}
	staged := make(map[market.SaleID]market.Sale)
	for id, s := range t.sales {
		if matchSale(s, f) {
			staged[id] = s
		}
	}
	return mergeByID(base, staged, nil, func(s market.Sale) int64 { return int64(s.ID) }), nil
}

func (t *txMemory) CountSalesByAssignment(ctx context.Context, id market.AssignmentID) (int, error) {
	n, err := t.base.CountSalesByAssignment(ctx, id)
	if err != nil {
		return 0, err
	}
	for saleID, s := range t.sales {
		if s.AssignmentID != id {
			continue
		}
		if !t.base.hasSale(saleID) {
			n++
		}
	}
	return n, nil
}

func (t *txMemory) CountProductSales(ctx context.Context, id market.ProductID) (int, error) {
	n, err := t.base.CountProductSales(ctx, id)
	if err != nil {
		return 0, err
	}
	for saleID, s := range t.sales {
		if s.Status == market.SaleCancelled {
			continue
		}
		a, err := t.GetAssignment(ctx, s.AssignmentID)
		if err != nil {
			return 0, err
		}
		if a == nil || a.ProductID != id {
			continue
		}
		if !t.base.hasSale(saleID) {
			n++
		}
	}
	return n, nil
}

// mergeByID overlays staged rows on a base listing, dropping deletions,
// keeping id order.
func mergeByID[T any, K comparable](base []T, staged map[K]T, deleted map[int64]bool, idOf func(T) int64) []T {
	seen := make(map[int64]bool)
	var out []T
	for _, v := range staged {
		out = append(out, v)
		seen[idOf(v)] = true
	}
	for _, v := range base {
		id := idOf(v)
		if seen[id] || (deleted != nil && deleted[id]) {
			continue
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return idOf(out[i]) < idOf(out[j]) })
	return out
}
