package api

import (
	"net/http"

	"lidora/internal/gateway"
	"lidora/internal/models"
	"lidora/internal/services/account"
	"lidora/internal/services/cart"
	"lidora/internal/services/checkout"
)

// AddItem handles POST /users/{userID}/orders/{orderID}/items
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req cart.AddItemRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	req.UserID = r.PathValue("userID")
	req.OrderID = r.PathValue("orderID")

	ctx, cancel := h.serviceContext(r)
	defer cancel()
	resp, err := h.cart.AddItem(ctx, &req, requestIDFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp, requestIDFrom(r))
}

// PlaceOrder handles POST /users/{userID}/orders/{orderID}/place. The body
// is optional; without one the primary payment method is charged.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req checkout.PlaceOrderRequest
	if r.ContentLength != 0 && !h.decodeBody(w, r, &req) {
		return
	}
	req.UserID = r.PathValue("userID")
	req.OrderID = r.PathValue("orderID")

	ctx, cancel := h.serviceContext(r)
	defer cancel()
	resp, err := h.checkout.PlaceOrder(ctx, &req, requestIDFrom(r))
	if err != nil {
		h.writePlaceError(w, r, req.OrderID, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp, requestIDFrom(r))
}

// GetOrder handles GET /users/{userID}/orders/{orderID}
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.serviceContext(r)
	defer cancel()
	order, err := h.query.FetchOrder(ctx, r.PathValue("userID"), r.PathValue("orderID"), requestIDFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, order, requestIDFrom(r))
}

// UpcomingOrders handles GET /users/{userID}/orders/upcoming
func (h *Handler) UpcomingOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.serviceContext(r)
	defer cancel()
	orders, err := h.query.FetchUpcomingOrders(ctx, r.PathValue("userID"), requestIDFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"orders": orders}, requestIDFrom(r))
}

// GetUser handles GET /users/{userID}
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.serviceContext(r)
	defer cancel()
	user, err := h.query.FetchUser(ctx, r.PathValue("userID"), requestIDFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, user, requestIDFrom(r))
}

type userDetailsRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

// SaveUserDetails handles PUT /users/{userID}. Empty fields are left as
// they are.
func (h *Handler) SaveUserDetails(w http.ResponseWriter, r *http.Request) {
	var req userDetailsRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	ctx, cancel := h.serviceContext(r)
	defer cancel()
	user, err := h.account.SaveUserDetails(ctx, r.PathValue("userID"), account.UserDetails(req), requestIDFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, user, requestIDFrom(r))
}

// UpdateLocation handles PUT /users/{userID}/location
func (h *Handler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	var addr models.Address
	if !h.decodeBody(w, r, &addr) {
		return
	}

	ctx, cancel := h.serviceContext(r)
	defer cancel()
	user, err := h.account.UpdateUserLocation(ctx, r.PathValue("userID"), addr, requestIDFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, user, requestIDFrom(r))
}

// ListPaymentMethods handles GET /users/{userID}/payment-methods
func (h *Handler) ListPaymentMethods(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.serviceContext(r)
	defer cancel()
	methods, err := h.query.FetchPaymentMethods(ctx, r.PathValue("userID"), requestIDFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if methods == nil {
		methods = []models.PaymentMethod{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"payment_methods": methods}, requestIDFrom(r))
}

// GetPrimaryPaymentMethod handles GET /users/{userID}/payment-methods/primary
func (h *Handler) GetPrimaryPaymentMethod(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.serviceContext(r)
	defer cancel()
	pm, err := h.query.FetchPrimaryPaymentMethod(ctx, r.PathValue("userID"), requestIDFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, pm, requestIDFrom(r))
}

type addCardRequest struct {
	Number      string `json:"number"`
	ExpMonth    int    `json:"exp_month"`
	ExpYear     int    `json:"exp_year"`
	CVC         string `json:"cvc"`
	MakePrimary bool   `json:"make_primary"`
}

// AddPaymentMethod handles POST /users/{userID}/payment-methods
func (h *Handler) AddPaymentMethod(w http.ResponseWriter, r *http.Request) {
	var req addCardRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	card := gateway.Card{Number: req.Number, ExpMonth: req.ExpMonth, ExpYear: req.ExpYear, CVC: req.CVC}

	ctx, cancel := h.serviceContext(r)
	defer cancel()
	pm, err := h.account.AddCard(ctx, r.PathValue("userID"), card, req.MakePrimary, requestIDFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, pm, requestIDFrom(r))
}

type setPrimaryRequest struct {
	PaymentMethodID string `json:"payment_method_id"`
}

// SetPrimaryPaymentMethod handles PUT /users/{userID}/payment-methods/primary
func (h *Handler) SetPrimaryPaymentMethod(w http.ResponseWriter, r *http.Request) {
	var req setPrimaryRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	ctx, cancel := h.serviceContext(r)
	defer cancel()
	if err := h.account.SetPrimaryPaymentMethod(ctx, r.PathValue("userID"), req.PaymentMethodID, requestIDFrom(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemovePaymentMethod handles DELETE /users/{userID}/payment-methods/{methodID}
func (h *Handler) RemovePaymentMethod(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.serviceContext(r)
	defer cancel()
	if err := h.account.RemovePaymentMethod(ctx, r.PathValue("userID"), r.PathValue("methodID"), requestIDFrom(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListChefs handles GET /chefs
func (h *Handler) ListChefs(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.serviceContext(r)
	defer cancel()
	chefs, err := h.query.FetchChefs(ctx, requestIDFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if chefs == nil {
		chefs = []models.Chef{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"chefs": chefs}, requestIDFrom(r))
}

// GetMenu handles GET /chefs/{chefID}/menu
func (h *Handler) GetMenu(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.serviceContext(r)
	defer cancel()
	items, err := h.query.FetchMenu(ctx, r.PathValue("chefID"), requestIDFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if items == nil {
		items = []models.MenuItem{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"chef_id": r.PathValue("chefID"), "items": items}, requestIDFrom(r))
}
