package market_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/consign-engine/market"
)

func TestCreateManager_DefaultsAndUniqueness(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()

		m, err := h.directory.CreateManager(ctx, adminID, market.CreateManagerInput{AccountID: 10})
		require.NoError(t, err)

		assert.True(t, m.CommissionRate.Equal(dec("10")), "platform default manager rate")
		assert.True(t, m.Active)
		assert.NotZero(t, m.ID)

		// WHEN: The same account is onboarded again
		_, err = h.directory.CreateManager(ctx, adminID, market.CreateManagerInput{AccountID: 10})
		require.Error(t, err)
		assert.ErrorIs(t, err, market.ErrConflict)
	})
}

func TestCreateManager_AdminOnly(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		_, mgr := h.manager(10)

		_, err := h.directory.CreateManager(ctx, mgr, market.CreateManagerInput{AccountID: 11})
		require.Error(t, err)
		assert.ErrorIs(t, err, market.ErrNotOwner)

		_, err = h.directory.CreateManager(ctx, adminID, market.CreateManagerInput{})
		assert.ErrorIs(t, err, market.ErrValidation, "account id is required")
	})
}

func TestUpdateManager_PatchAndDeactivation(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		m, mgr := h.manager(10)

		rate := dec("12.5")
		got, err := h.directory.UpdateManager(ctx, adminID, m.ID, market.ManagerPatch{CommissionRate: &rate})
		require.NoError(t, err)
		assert.True(t, got.CommissionRate.Equal(rate))
		assert.True(t, got.Active, "rate change leaves the flag alone")

		inactive := false
		got, err = h.directory.UpdateManager(ctx, adminID, m.ID, market.ManagerPatch{Active: &inactive})
		require.NoError(t, err)
		assert.False(t, got.Active)

		// Deactivation blocks recruiting
		_, err = h.directory.CreateSeller(ctx, mgr, market.CreateSellerInput{AccountID: 100})
		require.Error(t, err)
		assert.ErrorIs(t, err, market.ErrNotOwner)

		negative := dec("-1")
		_, err = h.directory.UpdateManager(ctx, adminID, m.ID, market.ManagerPatch{CommissionRate: &negative})
		assert.ErrorIs(t, err, market.ErrValidation)
	})
}

func TestCreateSeller_DefaultsAndBinding(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		m, mgr := h.manager(10)

		s, err := h.directory.CreateSeller(ctx, mgr, market.CreateSellerInput{
			AccountID:     100,
			VintedProfile: "vinted.test/alice",
		})
		require.NoError(t, err)

		assert.Equal(t, m.ID, s.ManagerID, "seller is bound to the recruiting manager")
		assert.True(t, s.CommissionRate.Equal(market.DefaultCommissionRate))
		assert.True(t, s.Balance.IsZero())
		assert.True(t, s.Active)

		// Duplicate account
		_, err = h.directory.CreateSeller(ctx, mgr, market.CreateSellerInput{AccountID: 100})
		require.Error(t, err)
		assert.ErrorIs(t, err, market.ErrConflict)

		// Custom rate sticks
		rate := dec("20")
		s2, err := h.directory.CreateSeller(ctx, mgr, market.CreateSellerInput{
			AccountID:      101,
			CommissionRate: &rate,
		})
		require.NoError(t, err)
		assert.True(t, s2.CommissionRate.Equal(rate))
	})
}

func TestSellers_ScopedByManager(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()

		_, mgrA := h.manager(10)
		_, mgrB := h.manager(11)
		sellerA, _ := h.seller(mgrA, 100)
		sellerB, _ := h.seller(mgrB, 200)

		all, err := h.directory.ListSellers(ctx, adminID)
		require.NoError(t, err)
		assert.Len(t, all, 2)

		mine, err := h.directory.ListSellers(ctx, mgrA)
		require.NoError(t, err)
		require.Len(t, mine, 1)
		assert.Equal(t, sellerA.ID, mine[0].ID)

		// Managers cannot inspect another manager's sellers
		_, err = h.directory.GetSeller(ctx, mgrA, sellerB.ID)
		require.Error(t, err)
		assert.ErrorIs(t, err, market.ErrNotOwner)

		got, err := h.directory.GetSeller(ctx, adminID, sellerB.ID)
		require.NoError(t, err)
		assert.Equal(t, sellerB.ID, got.ID)
	})
}

func TestManagers_AdminDirectory(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()

		mA, mgrA := h.manager(10)
		h.manager(11)
		h.seller(mgrA, 100)
		h.seller(mgrA, 101)

		list, err := h.directory.ListManagers(ctx, adminID)
		require.NoError(t, err)
		require.Len(t, list, 2)
		counts := map[market.ManagerID]int{}
		for _, m := range list {
			counts[m.ID] = m.SellersCount
		}
		assert.Equal(t, 2, counts[mA.ID])

		got, sellers, err := h.directory.GetManager(ctx, adminID, mA.ID)
		require.NoError(t, err)
		assert.Equal(t, mA.ID, got.ID)
		assert.Len(t, sellers, 2)

		_, err = h.directory.ListManagers(ctx, mgrA)
		require.Error(t, err)
		assert.ErrorIs(t, err, market.ErrNotOwner)
	})
}
