package market_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/warp/consign-engine/market"
	memstore "github.com/warp/consign-engine/market/store"
	"github.com/warp/consign-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var adminID = market.Identity{AccountID: 1, Role: market.RoleSuperAdmin}

// eventRecorder captures published stock events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []market.StockEvent
}

func (r *eventRecorder) StockChanged(_ context.Context, ev market.StockEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) all() []market.StockEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]market.StockEvent, len(r.events))
	copy(out, r.events)
	return out
}

// harness wires every service over one store so tests can build fixtures
// through the same public operations production traffic uses.
type harness struct {
	t         *testing.T
	store     market.TxStore
	directory *market.Directory
	catalog   *market.Catalog
	ledger    *market.AssignmentLedger
	engine    *market.Engine
	events    *eventRecorder
}

func newHarness(t *testing.T, st market.TxStore) *harness {
	rec := &eventRecorder{}
	return &harness{
		t:         t,
		store:     st,
		directory: market.NewDirectory(st),
		catalog:   market.NewCatalog(st, rec),
		ledger:    market.NewAssignmentLedger(st),
		engine:    market.NewEngine(st, rec),
		events:    rec,
	}
}

// eachStore runs the test body once per storage backend.
func eachStore(t *testing.T, run func(t *testing.T, h *harness)) {
	t.Run("memory", func(t *testing.T) {
		run(t, newHarness(t, memstore.NewMemory()))
	})
	t.Run("sqlite", func(t *testing.T) {
		st, err := sqlite.New(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { st.Close() })
		run(t, newHarness(t, st))
	})
}

// =============================================================================
// FIXTURE BUILDERS
// =============================================================================

func (h *harness) manager(account market.AccountID) (*market.Manager, market.Identity) {
	h.t.Helper()
	m, err := h.directory.CreateManager(context.Background(), adminID,
		market.CreateManagerInput{AccountID: account})
	require.NoError(h.t, err)
	return m, market.Identity{AccountID: account, Role: market.RoleManager}
}

func (h *harness) seller(mgr market.Identity, account market.AccountID) (*market.Seller, market.Identity) {
	h.t.Helper()
	s, err := h.directory.CreateSeller(context.Background(), mgr,
		market.CreateSellerInput{AccountID: account, VintedProfile: "vinted.test/profile"})
	require.NoError(h.t, err)
	return s, market.Identity{AccountID: account, Role: market.RoleSeller}
}

func (h *harness) product(mgr market.Identity, title, price string, stock int) *market.Product {
	h.t.Helper()
	base := market.MustParseDecimal(price)
	p, err := h.catalog.CreateProduct(context.Background(), mgr, market.CreateProductInput{
		Title:         title,
		BasePrice:     &base,
		StockQuantity: &stock,
	})
	require.NoError(h.t, err)
	return p
}

func (h *harness) assign(mgr market.Identity, productID market.ProductID, sellerID market.SellerID) *market.Assignment {
	h.t.Helper()
	a, err := h.ledger.Assign(context.Background(), mgr, productID, sellerID)
	require.NoError(h.t, err)
	return a
}
