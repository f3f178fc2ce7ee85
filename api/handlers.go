/*
handlers.go - HTTP API handlers for the consignment marketplace

PURPOSE:
  Exposes the marketplace engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Managers (platform owner):
    GET    /api/managers               List managers with seller counts
    POST   /api/managers               Onboard a manager
    GET    /api/managers/{id}          Manager with seller roster
    PUT    /api/managers/{id}          Change rate / activate / deactivate

  Sellers:
    GET    /api/sellers                Role-scoped seller listing
    POST   /api/sellers                Recruit a seller (manager)
    GET    /api/sellers/{id}           Seller detail

  Products:
    GET    /api/products               Role-scoped catalog listing
    POST   /api/products               List a product (manager)
    GET    /api/products/{id}          Product detail
    PUT    /api/products/{id}          Edit metadata/price (never stock)
    DELETE /api/products/{id}          Remove an untouched product
    POST   /api/products/{id}/assign   Grant selling rights to a seller
    POST   /api/products/{id}/restock  Raise or set the stock counter
    GET    /api/products/{id}/stock    Stock statistics

  Assignments:
    GET    /api/assignments            Role-scoped assignment listing
    DELETE /api/assignments/{id}       Revoke selling rights

  Sales:
    GET    /api/sales                  Role-scoped sale listing
    POST   /api/sales                  Record a sale (seller)
    POST   /api/sales/{id}/pay         Settle a pending sale
    POST   /api/sales/{id}/cancel      Void a pending sale
    GET    /api/sales/stats/summary    Role-dependent dashboard totals

ERROR HANDLING:
  Domain errors map to HTTP status by sentinel:
  - 400: validation
  - 401: missing identity (middleware)
  - 403: not the owner / role not allowed
  - 404: not found
  - 409: state conflicts; out-of-stock carries code "out_of_stock"
  - 500: everything else

SEE ALSO:
  - dto.go: request/response data structures
  - middleware.go: trusted-identity extraction
  - server.go: router setup
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/consign-engine/market"
)

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Directory *market.Directory
	Catalog   *market.Catalog
	Ledger    *market.AssignmentLedger
	Engine    *market.Engine
	Log       *zap.Logger
}

// NewHandler wires the four services over one store.
func NewHandler(store market.TxStore, notifier market.Notifier, log *zap.Logger) *Handler {
	return &Handler{
		Directory: market.NewDirectory(store),
		Catalog:   market.NewCatalog(store, notifier),
		Ledger:    market.NewAssignmentLedger(store),
		Engine:    market.NewEngine(store, notifier),
		Log:       log,
	}
}

// =============================================================================
// MANAGER HANDLERS
// =============================================================================

// ListManagers returns every manager with its seller count.
func (h *Handler) ListManagers(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.Directory.ListManagers(r.Context(), identityFrom(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	dtos := make([]ManagerDTO, len(summaries))
	for i, s := range summaries {
		dto := toManagerDTO(s.Manager)
		count := s.SellersCount
		dto.SellersCount = &count
		dtos[i] = dto
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateManager onboards a manager profile.
func (h *Handler) CreateManager(w http.ResponseWriter, r *http.Request) {
	var req CreateManagerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	m, err := h.Directory.CreateManager(r.Context(), identityFrom(r), market.CreateManagerInput{
		AccountID:      market.AccountID(req.AccountID),
		CommissionRate: req.CommissionRate,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toManagerDTO(*m))
}

// GetManager returns one manager with its seller roster.
func (h *Handler) GetManager(w http.ResponseWriter, r *http.Request) {
	managerID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	m, sellers, err := h.Directory.GetManager(r.Context(), identityFrom(r), market.ManagerID(managerID))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	detail := ManagerDetailDTO{ManagerDTO: toManagerDTO(*m), Sellers: make([]SellerDTO, len(sellers))}
	for i, s := range sellers {
		detail.Sellers[i] = toSellerDTO(s)
	}
	writeJSON(w, http.StatusOK, detail)
}

// UpdateManager changes a manager's rate or active flag.
func (h *Handler) UpdateManager(w http.ResponseWriter, r *http.Request) {
	managerID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req UpdateManagerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	m, err := h.Directory.UpdateManager(r.Context(), identityFrom(r), market.ManagerID(managerID), market.ManagerPatch{
		CommissionRate: req.CommissionRate,
		Active:         req.Active,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toManagerDTO(*m))
}

// =============================================================================
// SELLER HANDLERS
// =============================================================================

// ListSellers returns the caller's visible sellers.
func (h *Handler) ListSellers(w http.ResponseWriter, r *http.Request) {
	sellers, err := h.Directory.ListSellers(r.Context(), identityFrom(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	dtos := make([]SellerDTO, len(sellers))
	for i, s := range sellers {
		dtos[i] = toSellerDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateSeller recruits a seller for the calling manager.
func (h *Handler) CreateSeller(w http.ResponseWriter, r *http.Request) {
	var req CreateSellerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	s, err := h.Directory.CreateSeller(r.Context(), identityFrom(r), market.CreateSellerInput{
		AccountID:      market.AccountID(req.AccountID),
		VintedProfile:  req.VintedProfile,
		CommissionRate: req.CommissionRate,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSellerDTO(*s))
}

// GetSeller returns one seller.
func (h *Handler) GetSeller(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	s, err := h.Directory.GetSeller(r.Context(), identityFrom(r), market.SellerID(sellerID))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSellerDTO(*s))
}

// =============================================================================
// PRODUCT HANDLERS
// =============================================================================

// ListProducts returns the caller's visible slice of the catalog.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	views, err := h.Catalog.ListProducts(r.Context(), identityFrom(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	dtos := make([]ProductDTO, len(views))
	for i, v := range views {
		dtos[i] = toProductViewDTO(v)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateProduct lists a new product for the calling manager.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	p, err := h.Catalog.CreateProduct(r.Context(), identityFrom(r), market.CreateProductInput{
		Title:         req.Title,
		Description:   req.Description,
		Category:      req.Category,
		BasePrice:     req.BasePrice,
		StockQuantity: req.StockQuantity,
		Photos:        req.Photos,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductDTO(*p))
}

// GetProduct returns one product.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	productID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	p, err := h.Catalog.GetProduct(r.Context(), market.ProductID(productID))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(*p))
}

// UpdateProduct edits product metadata. Stock is deliberately absent from
// the patch shape; restock is the only way up.
func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	productID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req UpdateProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	p, err := h.Catalog.UpdateProduct(r.Context(), identityFrom(r), market.ProductID(productID), market.ProductPatch{
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		BasePrice:   req.BasePrice,
		Photos:      req.Photos,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(*p))
}

// DeleteProduct removes a product that was never assigned or sold.
func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	productID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.Catalog.DeleteProduct(r.Context(), identityFrom(r), market.ProductID(productID)); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AssignProduct grants a seller the right to sell this product.
func (h *Handler) AssignProduct(w http.ResponseWriter, r *http.Request) {
	productID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req AssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	a, err := h.Ledger.Assign(r.Context(), identityFrom(r),
		market.ProductID(productID), market.SellerID(req.SellerID))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAssignmentDTO(*a))
}

// RestockProduct raises (or sets) the stock counter.
func (h *Handler) RestockProduct(w http.ResponseWriter, r *http.Request) {
	productID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req RestockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	mode := market.RestockAdd
	if req.Mode != "" {
		mode = market.RestockMode(req.Mode)
	}

	p, err := h.Catalog.Restock(r.Context(), identityFrom(r), market.ProductID(productID), req.Quantity, mode)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(*p))
}

// ProductStock returns the stock statistics read-model.
func (h *Handler) ProductStock(w http.ResponseWriter, r *http.Request) {
	productID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	stats, err := h.Engine.StockStats(r.Context(), market.ProductID(productID))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// =============================================================================
// ASSIGNMENT HANDLERS
// =============================================================================

// ListAssignments returns the caller's visible assignments.
func (h *Handler) ListAssignments(w http.ResponseWriter, r *http.Request) {
	assignments, err := h.Ledger.ListAssignments(r.Context(), identityFrom(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	dtos := make([]AssignmentDTO, len(assignments))
	for i, a := range assignments {
		dtos[i] = toAssignmentDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Unassign revokes an assignment. Deletes when no sale ever referenced it,
// retires it otherwise.
func (h *Handler) Unassign(w http.ResponseWriter, r *http.Request) {
	assignmentID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.Ledger.Unassign(r.Context(), identityFrom(r), market.AssignmentID(assignmentID)); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// SALE HANDLERS
// =============================================================================

// ListSales returns the caller's visible sales.
func (h *Handler) ListSales(w http.ResponseWriter, r *http.Request) {
	sales, err := h.Engine.ListSales(r.Context(), identityFrom(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	dtos := make([]SaleDTO, len(sales))
	for i, s := range sales {
		dtos[i] = toSaleDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Sell records a sale against the caller's assignment: one unit of stock
// is consumed and the commission split is frozen.
func (h *Handler) Sell(w http.ResponseWriter, r *http.Request) {
	var req SellRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	sale, err := h.Engine.Sell(r.Context(), identityFrom(r), market.AssignmentID(req.AssignmentID))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSaleDTO(*sale))
}

// PaySale settles a pending sale and credits the seller's balance.
func (h *Handler) PaySale(w http.ResponseWriter, r *http.Request) {
	saleID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	sale, seller, err := h.Engine.Pay(r.Context(), identityFrom(r), market.SaleID(saleID))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PaymentDTO{Sale: toSaleDTO(*sale), Balance: seller.Balance})
}

// CancelSale voids a pending sale. The consumed unit is not returned.
func (h *Handler) CancelSale(w http.ResponseWriter, r *http.Request) {
	saleID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	sale, err := h.Engine.CancelSale(r.Context(), identityFrom(r), market.SaleID(saleID))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSaleDTO(*sale))
}

// SalesSummary returns the role-dependent dashboard.
func (h *Handler) SalesSummary(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r)
	ctx := r.Context()

	var (
		stats any
		err   error
	)
	switch id.Role {
	case market.RoleSeller:
		stats, err = h.Engine.SellerSummary(ctx, id)
	case market.RoleManager:
		stats, err = h.Engine.ManagerSummaryStats(ctx, id)
	case market.RoleSuperAdmin:
		stats, err = h.Engine.PlatformSummary(ctx, id)
	}
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// =============================================================================
// HELPERS
// =============================================================================

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid id in path", err)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain sentinels to HTTP status codes. Out-of-stock
// is checked before the generic conflict because it wraps it.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, market.ErrValidation):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "validation"})
	case errors.Is(err, market.ErrNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "not_found"})
	case errors.Is(err, market.ErrNotOwner):
		writeJSON(w, http.StatusForbidden, ErrorResponse{Error: err.Error(), Code: "forbidden"})
	case errors.Is(err, market.ErrOutOfStock):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "out_of_stock"})
	case errors.Is(err, market.ErrConflict):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "conflict"})
	default:
		h.Log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("method", r.Method),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}
