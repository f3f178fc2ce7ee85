package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/consign-engine/api"
	"github.com/warp/consign-engine/market"
	memstore "github.com/warp/consign-engine/market/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func amount(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestServer(t *testing.T) *httptest.Server {
	h := api.NewHandler(memstore.NewMemory(), market.NopNotifier{}, zap.NewNop())
	srv := httptest.NewServer(api.NewRouter(h))
	t.Cleanup(srv.Close)
	return srv
}

// call issues one JSON request with the given identity headers and decodes
// the response body into out when it is non-nil.
func call(t *testing.T, srv *httptest.Server, method, path string, account int64, role string, body, out any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if account != 0 {
		req.Header.Set("X-Account-Id", fmt.Sprintf("%d", account))
		req.Header.Set("X-Role", role)
	}

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

// =============================================================================
// IDENTITY
// =============================================================================

func TestAPI_RejectsMissingIdentity(t *testing.T) {
	srv := newTestServer(t)

	resp := call(t, srv, http.MethodGet, "/api/products", 0, "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPI_RejectsUnknownRole(t *testing.T) {
	srv := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/products", nil)
	require.NoError(t, err)
	req.Header.Set("X-Account-Id", "1")
	req.Header.Set("X-Role", "INTERN")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPI_HealthzIsOpen(t *testing.T) {
	srv := newTestServer(t)

	resp, err := srv.Client().Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// =============================================================================
// FULL CONSIGNMENT FLOW
// =============================================================================

func TestAPI_ConsignmentFlow(t *testing.T) {
	srv := newTestServer(t)
	admin, mgrAccount, sellerAccount := int64(1), int64(10), int64(100)

	// Admin onboards a manager
	var mgr api.ManagerDTO
	resp := call(t, srv, http.MethodPost, "/api/managers", admin, "SUPER_ADMIN",
		map[string]any{"account_id": mgrAccount}, &mgr)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.True(t, mgr.CommissionRate.Equal(amount("10")))

	// Manager recruits a seller
	var seller api.SellerDTO
	resp = call(t, srv, http.MethodPost, "/api/sellers", mgrAccount, "MANAGER",
		map[string]any{"account_id": sellerAccount, "vinted_profile": "vinted.test/alice"}, &seller)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.True(t, seller.CommissionRate.Equal(amount("15")))
	assert.Equal(t, mgr.ID, seller.ManagerID)

	// Manager lists a product with two units
	var product api.ProductDTO
	resp = call(t, srv, http.MethodPost, "/api/products", mgrAccount, "MANAGER",
		map[string]any{"title": "Wool coat", "base_price": "99.99", "stock_quantity": 2}, &product)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "available", product.Status)
	assert.Equal(t, 2, product.StockQuantity)

	// Manager assigns the product to the seller
	var assignment api.AssignmentDTO
	resp = call(t, srv, http.MethodPost, fmt.Sprintf("/api/products/%d/assign", product.ID),
		mgrAccount, "MANAGER", map[string]any{"seller_id": seller.ID}, &assignment)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "active", assignment.Status)

	// Seller records the sale
	var sale api.SaleDTO
	resp = call(t, srv, http.MethodPost, "/api/sales", sellerAccount, "SELLER",
		map[string]any{"assignment_id": assignment.ID}, &sale)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "pending", sale.Status)
	assert.True(t, sale.SellerCommission.Equal(amount("15")))
	assert.True(t, sale.AmountToManager.Equal(amount("84.99")))

	// Seller confirms the payout, crediting their balance
	var payment api.PaymentDTO
	resp = call(t, srv, http.MethodPost, fmt.Sprintf("/api/sales/%d/pay", sale.ID),
		sellerAccount, "SELLER", nil, &payment)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "paid", payment.Sale.Status)
	require.NotNil(t, payment.Sale.PaidAt)
	assert.True(t, payment.Balance.Equal(amount("15")))

	// One unit remains on the shelf
	var got api.ProductDTO
	resp = call(t, srv, http.MethodGet, fmt.Sprintf("/api/products/%d", product.ID),
		mgrAccount, "MANAGER", nil, &got)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, got.StockQuantity)
	assert.Equal(t, "assigned", got.Status)
}

func TestAPI_OutOfStockConflictBody(t *testing.T) {
	srv := newTestServer(t)
	admin, mgrAccount := int64(1), int64(10)

	var mgr api.ManagerDTO
	call(t, srv, http.MethodPost, "/api/managers", admin, "SUPER_ADMIN",
		map[string]any{"account_id": mgrAccount}, &mgr)

	var product api.ProductDTO
	call(t, srv, http.MethodPost, "/api/products", mgrAccount, "MANAGER",
		map[string]any{"title": "Limited print", "base_price": "250", "stock_quantity": 1}, &product)

	// Two sellers each hold an active assignment on the single unit
	accounts := []int64{100, 101}
	assignments := make([]int64, len(accounts))
	for i, account := range accounts {
		var s api.SellerDTO
		call(t, srv, http.MethodPost, "/api/sellers", mgrAccount, "MANAGER",
			map[string]any{"account_id": account}, &s)
		var a api.AssignmentDTO
		resp := call(t, srv, http.MethodPost, fmt.Sprintf("/api/products/%d/assign", product.ID),
			mgrAccount, "MANAGER", map[string]any{"seller_id": s.ID}, &a)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		assignments[i] = a.ID
	}

	resp := call(t, srv, http.MethodPost, "/api/sales", accounts[0], "SELLER",
		map[string]any{"assignment_id": assignments[0]}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// The loser gets a conflict with the dedicated code
	var errBody api.ErrorResponse
	resp = call(t, srv, http.MethodPost, "/api/sales", accounts[1], "SELLER",
		map[string]any{"assignment_id": assignments[1]}, &errBody)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "out_of_stock", errBody.Code)
}

func TestAPI_ErrorStatusMapping(t *testing.T) {
	srv := newTestServer(t)
	admin, mgrAccount := int64(1), int64(10)

	var mgr api.ManagerDTO
	call(t, srv, http.MethodPost, "/api/managers", admin, "SUPER_ADMIN",
		map[string]any{"account_id": mgrAccount}, &mgr)

	// Validation: missing title
	resp := call(t, srv, http.MethodPost, "/api/products", mgrAccount, "MANAGER",
		map[string]any{"base_price": "10"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Not found: unknown product
	resp = call(t, srv, http.MethodGet, "/api/products/9999", mgrAccount, "MANAGER", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Forbidden: manager endpoints need the manager role
	resp = call(t, srv, http.MethodPost, "/api/managers", mgrAccount, "MANAGER",
		map[string]any{"account_id": 11}, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Conflict: duplicate manager account
	resp = call(t, srv, http.MethodPost, "/api/managers", admin, "SUPER_ADMIN",
		map[string]any{"account_id": mgrAccount}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Bad path id
	resp = call(t, srv, http.MethodGet, "/api/products/abc", mgrAccount, "MANAGER", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_SummaryPerRole(t *testing.T) {
	srv := newTestServer(t)
	admin, mgrAccount, sellerAccount := int64(1), int64(10), int64(100)

	var mgr api.ManagerDTO
	call(t, srv, http.MethodPost, "/api/managers", admin, "SUPER_ADMIN",
		map[string]any{"account_id": mgrAccount}, &mgr)
	var seller api.SellerDTO
	call(t, srv, http.MethodPost, "/api/sellers", mgrAccount, "MANAGER",
		map[string]any{"account_id": sellerAccount}, &seller)
	var product api.ProductDTO
	call(t, srv, http.MethodPost, "/api/products", mgrAccount, "MANAGER",
		map[string]any{"title": "Wool coat", "base_price": "100", "stock_quantity": 2}, &product)
	var assignment api.AssignmentDTO
	call(t, srv, http.MethodPost, fmt.Sprintf("/api/products/%d/assign", product.ID),
		mgrAccount, "MANAGER", map[string]any{"seller_id": seller.ID}, &assignment)
	var sale api.SaleDTO
	call(t, srv, http.MethodPost, "/api/sales", sellerAccount, "SELLER",
		map[string]any{"assignment_id": assignment.ID}, &sale)

	var sellerStats market.SellerStats
	resp := call(t, srv, http.MethodGet, "/api/sales/stats/summary", sellerAccount, "SELLER", nil, &sellerStats)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, sellerStats.ProductsSold)
	assert.True(t, sellerStats.PendingPayments.Equal(amount("85")))

	var mgrStats market.ManagerStats
	resp = call(t, srv, http.MethodGet, "/api/sales/stats/summary", mgrAccount, "MANAGER", nil, &mgrStats)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, mgrStats.TotalSales)
	assert.True(t, mgrStats.PendingRevenue.Equal(amount("85")))

	var platform market.PlatformStats
	resp = call(t, srv, http.MethodGet, "/api/sales/stats/summary", admin, "SUPER_ADMIN", nil, &platform)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, platform.TotalManagers)
	assert.Equal(t, 1, platform.TotalSales)
	assert.True(t, platform.TotalVolume.IsZero(), "nothing settled yet")
}

func TestAPI_StockEndpoint(t *testing.T) {
	srv := newTestServer(t)
	admin, mgrAccount := int64(1), int64(10)

	var mgr api.ManagerDTO
	call(t, srv, http.MethodPost, "/api/managers", admin, "SUPER_ADMIN",
		map[string]any{"account_id": mgrAccount}, &mgr)
	var product api.ProductDTO
	call(t, srv, http.MethodPost, "/api/products", mgrAccount, "MANAGER",
		map[string]any{"title": "Wool coat", "base_price": "100", "stock_quantity": 3}, &product)

	var restocked api.ProductDTO
	resp := call(t, srv, http.MethodPost, fmt.Sprintf("/api/products/%d/restock", product.ID),
		mgrAccount, "MANAGER", map[string]any{"quantity": 2, "mode": "add"}, &restocked)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 5, restocked.StockQuantity)

	var stats market.StockStats
	resp = call(t, srv, http.MethodGet, fmt.Sprintf("/api/products/%d/stock", product.ID),
		mgrAccount, "MANAGER", nil, &stats)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 5, stats.Available)
	assert.Equal(t, 0, stats.Sold)
}
