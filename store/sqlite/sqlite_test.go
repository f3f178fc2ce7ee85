package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/consign-engine/market"
	"github.com/warp/consign-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func seedManager(t *testing.T, st *sqlite.Store, account market.AccountID) *market.Manager {
	t.Helper()
	m := &market.Manager{
		AccountID:      account,
		CommissionRate: decimal.NewFromInt(10),
		Active:         true,
		CreatedAt:      time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, st.SaveManager(context.Background(), m))
	return m
}

func seedProduct(t *testing.T, st *sqlite.Store, managerID market.ManagerID, stock int) *market.Product {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	p := &market.Product{
		ManagerID:     managerID,
		Title:         "Wool coat",
		BasePrice:     decimal.RequireFromString("99.99"),
		StockQuantity: stock,
		Status:        market.ProductAvailable,
		Photos:        []string{"a.jpg", "b.jpg"},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, st.SaveProduct(context.Background(), p))
	return p
}

// =============================================================================
// ROUND TRIPS
// =============================================================================

func TestSQLite_ManagerRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	m := seedManager(t, st, 42)
	require.NotZero(t, m.ID, "insert assigns the id")

	got, err := st.GetManager(ctx, m.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, m.AccountID, got.AccountID)
	assert.True(t, got.CommissionRate.Equal(m.CommissionRate))
	assert.True(t, got.Active)
	assert.True(t, got.CreatedAt.Equal(m.CreatedAt))

	byAccount, err := st.GetManagerByAccount(ctx, 42)
	require.NoError(t, err)
	require.NotNil(t, byAccount)
	assert.Equal(t, m.ID, byAccount.ID)

	// Update in place
	got.Active = false
	require.NoError(t, st.SaveManager(ctx, got))
	again, err := st.GetManager(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, again.Active)

	missing, err := st.GetManager(ctx, 9999)
	require.NoError(t, err)
	assert.Nil(t, missing, "absent rows come back nil, not as errors")
}

func TestSQLite_ProductRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	m := seedManager(t, st, 42)
	p := seedProduct(t, st, m.ID, 3)

	got, err := st.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Wool coat", got.Title)
	assert.True(t, got.BasePrice.Equal(p.BasePrice), "money survives the text column")
	assert.Equal(t, []string{"a.jpg", "b.jpg"}, got.Photos)
	assert.Equal(t, market.ProductAvailable, got.Status)

	require.NoError(t, st.DeleteProduct(ctx, p.ID))
	gone, err := st.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestSQLite_AssignmentNullableSoldAt(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	m := seedManager(t, st, 42)
	s := &market.Seller{AccountID: 100, ManagerID: m.ID, CommissionRate: decimal.NewFromInt(15),
		Balance: decimal.Zero, Active: true, CreatedAt: time.Now().UTC()}
	require.NoError(t, st.SaveSeller(ctx, s))
	p := seedProduct(t, st, m.ID, 3)

	a := &market.Assignment{ProductID: p.ID, SellerID: s.ID,
		Status: market.AssignmentActive, AssignedAt: time.Now().UTC().Truncate(time.Second)}
	require.NoError(t, st.SaveAssignment(ctx, a))

	got, err := st.GetAssignment(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Nil(t, got.SoldAt)

	soldAt := time.Now().UTC().Truncate(time.Second)
	got.Status = market.AssignmentSold
	got.SoldAt = &soldAt
	require.NoError(t, st.SaveAssignment(ctx, got))

	again, err := st.GetAssignment(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, again.SoldAt)
	assert.True(t, again.SoldAt.Equal(soldAt))
}

// =============================================================================
// CONSTRAINTS AND TRANSACTIONS
// =============================================================================

func TestSQLite_ActivePairUniqueIndex(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	m := seedManager(t, st, 42)
	s := &market.Seller{AccountID: 100, ManagerID: m.ID, CommissionRate: decimal.NewFromInt(15),
		Balance: decimal.Zero, Active: true, CreatedAt: time.Now().UTC()}
	require.NoError(t, st.SaveSeller(ctx, s))
	p := seedProduct(t, st, m.ID, 3)

	first := &market.Assignment{ProductID: p.ID, SellerID: s.ID,
		Status: market.AssignmentActive, AssignedAt: time.Now().UTC()}
	require.NoError(t, st.SaveAssignment(ctx, first))

	// A second active row for the same pair hits the partial unique index
	dup := &market.Assignment{ProductID: p.ID, SellerID: s.ID,
		Status: market.AssignmentActive, AssignedAt: time.Now().UTC()}
	err := st.SaveAssignment(ctx, dup)
	require.Error(t, err)
	assert.ErrorIs(t, err, market.ErrConflict)

	// Retiring the first frees the pair
	first.Status = market.AssignmentRetired
	require.NoError(t, st.SaveAssignment(ctx, first))
	require.NoError(t, st.SaveAssignment(ctx, dup))
}

func TestSQLite_WithTxRollsBackOnError(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	m := seedManager(t, st, 42)
	p := seedProduct(t, st, m.ID, 3)

	boom := errors.New("boom")
	err := st.WithTx(ctx, func(tx market.Store) error {
		p.StockQuantity = 0
		if err := tx.SaveProduct(ctx, p); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := st.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.StockQuantity, "failed transactions leave no trace")
}

func TestSQLite_WithProductTxCommits(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	m := seedManager(t, st, 42)
	p := seedProduct(t, st, m.ID, 3)

	err := st.WithProductTx(ctx, p.ID, func(tx market.Store) error {
		inTx, err := tx.GetProduct(ctx, p.ID)
		if err != nil {
			return err
		}
		inTx.StockQuantity--
		return tx.SaveProduct(ctx, inTx)
	})
	require.NoError(t, err)

	got, err := st.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.StockQuantity)
}

func TestSQLite_SaleFiltersAndCounts(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	m := seedManager(t, st, 42)
	s := &market.Seller{AccountID: 100, ManagerID: m.ID, CommissionRate: decimal.NewFromInt(15),
		Balance: decimal.Zero, Active: true, CreatedAt: time.Now().UTC()}
	require.NoError(t, st.SaveSeller(ctx, s))
	p := seedProduct(t, st, m.ID, 3)
	a := &market.Assignment{ProductID: p.ID, SellerID: s.ID,
		Status: market.AssignmentActive, AssignedAt: time.Now().UTC()}
	require.NoError(t, st.SaveAssignment(ctx, a))

	mk := func(status market.SaleStatus) *market.Sale {
		sale := &market.Sale{
			AssignmentID:     a.ID,
			SellerID:         s.ID,
			ManagerID:        m.ID,
			ProductPrice:     decimal.RequireFromString("99.99"),
			SellerCommission: decimal.RequireFromString("15.00"),
			AmountToManager:  decimal.RequireFromString("84.99"),
			Status:           status,
			SoldAt:           time.Now().UTC(),
		}
		require.NoError(t, st.SaveSale(ctx, sale))
		return sale
	}
	mk(market.SalePending)
	mk(market.SalePaid)
	mk(market.SaleCancelled)

	pending, err := st.ListSales(ctx, market.SaleFilter{SellerID: s.ID, Status: market.SalePending})
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	all, err := st.ListSales(ctx, market.SaleFilter{ManagerID: m.ID})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byAssignment, err := st.CountSalesByAssignment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, byAssignment, "cancelled rows still anchor the assignment")

	sold, err := st.CountProductSales(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, sold, "cancelled sales do not count as sold units")
}
