package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/consign-engine/market"
	"github.com/warp/consign-engine/market/store"
)

func seedProduct(t *testing.T, m *store.Memory, stock int) *market.Product {
	t.Helper()
	p := &market.Product{
		ManagerID:     1,
		Title:         "Wool coat",
		BasePrice:     decimal.RequireFromString("99.99"),
		StockQuantity: stock,
		Status:        market.ProductAvailable,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	require.NoError(t, m.SaveProduct(context.Background(), p))
	return p
}

func TestMemory_AbsentRowsAreNil(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	p, err := m.GetProduct(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, p)

	mgr, err := m.GetManagerByAccount(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, mgr)
}

func TestMemory_SaveAssignsSequentialIDs(t *testing.T) {
	m := store.NewMemory()

	p1 := seedProduct(t, m, 1)
	p2 := seedProduct(t, m, 1)

	assert.Equal(t, market.ProductID(1), p1.ID)
	assert.Equal(t, market.ProductID(2), p2.ID)
}

func TestMemory_WithTxRollsBackOnError(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	p := seedProduct(t, m, 3)

	boom := errors.New("boom")
	err := m.WithTx(ctx, func(tx market.Store) error {
		p2, err := tx.GetProduct(ctx, p.ID)
		if err != nil {
			return err
		}
		p2.StockQuantity = 0
		if err := tx.SaveProduct(ctx, p2); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := m.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.StockQuantity)
}

func TestMemory_TxReadsItsOwnWrites(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	p := seedProduct(t, m, 3)

	err := m.WithProductTx(ctx, p.ID, func(tx market.Store) error {
		p2, err := tx.GetProduct(ctx, p.ID)
		if err != nil {
			return err
		}
		p2.StockQuantity = 1
		if err := tx.SaveProduct(ctx, p2); err != nil {
			return err
		}
		again, err := tx.GetProduct(ctx, p.ID)
		if err != nil {
			return err
		}
		assert.Equal(t, 1, again.StockQuantity, "staged write is visible inside the tx")
		return nil
	})
	require.NoError(t, err)

	got, err := m.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.StockQuantity)
}

func TestMemory_ProductTxSerializesPerProduct(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	p := seedProduct(t, m, 0)

	// 50 concurrent increments through the product critical section must
	// all land.
	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.WithProductTx(ctx, p.ID, func(tx market.Store) error {
				cur, err := tx.GetProduct(ctx, p.ID)
				if err != nil {
					return err
				}
				cur.StockQuantity++
				return tx.SaveProduct(ctx, cur)
			})
		}()
	}
	wg.Wait()

	got, err := m.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, workers, got.StockQuantity, "no increment may be lost")
}

func TestMemory_CancelledContextDoesNotCommit(t *testing.T) {
	m := store.NewMemory()
	p := seedProduct(t, m, 3)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.WithTx(cancelled, func(tx market.Store) error {
		p2, err := tx.GetProduct(cancelled, p.ID)
		if err != nil {
			return err
		}
		p2.StockQuantity = 0
		return tx.SaveProduct(cancelled, p2)
	})
	require.ErrorIs(t, err, context.Canceled)

	// The error promised the caller nothing was applied
	got, err := m.GetProduct(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.StockQuantity)
}

func TestMemory_DeleteInsideTxIsAtomic(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	a := &market.Assignment{ProductID: 1, SellerID: 1,
		Status: market.AssignmentActive, AssignedAt: time.Now()}
	require.NoError(t, m.SaveAssignment(ctx, a))

	boom := errors.New("boom")
	err := m.WithTx(ctx, func(tx market.Store) error {
		if err := tx.DeleteAssignment(ctx, a.ID); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := m.GetAssignment(ctx, a.ID)
	require.NoError(t, err)
	assert.NotNil(t, got, "rolled-back delete leaves the row")

	require.NoError(t, m.WithTx(ctx, func(tx market.Store) error {
		return tx.DeleteAssignment(ctx, a.ID)
	}))
	gone, err := m.GetAssignment(ctx, a.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestMemory_ReturnedRowsAreCopies(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	p := seedProduct(t, m, 3)

	got, err := m.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	got.StockQuantity = 0

	again, err := m.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, again.StockQuantity, "mutating a read result must not leak into the store")
}
