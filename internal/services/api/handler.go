// Package api exposes the cart, checkout, account and query services as a
// JSON HTTP API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"lidora/internal/apperr"
	"lidora/internal/logger"
	"lidora/internal/services/account"
	"lidora/internal/services/cart"
	"lidora/internal/services/checkout"
	"lidora/internal/services/query"
)

const maxBodyBytes = 1 << 20

type ctxKey struct{}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Handler handles HTTP requests for every service
type Handler struct {
	cart     *cart.Service
	checkout *checkout.Service
	account  *account.Service
	query    *query.Service
	logger   *logger.Logger

	requestTimeout time.Duration
	checks         map[string]HealthCheck
	now            func() time.Time
}

// Services groups the handler's dependencies.
type Services struct {
	Cart     *cart.Service
	Checkout *checkout.Service
	Account  *account.Service
	Query    *query.Service
}

// NewHandler creates a new API handler. requestTimeout bounds each call
// into a service.
func NewHandler(svc Services, log *logger.Logger, requestTimeout time.Duration) *Handler {
	return &Handler{
		cart:           svc.Cart,
		checkout:       svc.Checkout,
		account:        svc.Account,
		query:          svc.Query,
		logger:         log,
		requestTimeout: requestTimeout,
		checks:         map[string]HealthCheck{},
		now:            time.Now,
	}
}

// WithHealthCheck registers a dependency probed by GET /health.
func (h *Handler) WithHealthCheck(name string, check HealthCheck) *Handler {
	h.checks[name] = check
	return h
}

// SetupRoutes sets up the HTTP routes
func (h *Handler) SetupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /users/{userID}/orders/{orderID}/items", h.withLogging(h.AddItem))
	mux.HandleFunc("POST /users/{userID}/orders/{orderID}/place", h.withLogging(h.PlaceOrder))
	mux.HandleFunc("GET /users/{userID}/orders/upcoming", h.withLogging(h.UpcomingOrders))
	mux.HandleFunc("GET /users/{userID}/orders/{orderID}", h.withLogging(h.GetOrder))

	mux.HandleFunc("GET /users/{userID}", h.withLogging(h.GetUser))
	mux.HandleFunc("PUT /users/{userID}", h.withLogging(h.SaveUserDetails))
	mux.HandleFunc("PUT /users/{userID}/location", h.withLogging(h.UpdateLocation))
	mux.HandleFunc("GET /users/{userID}/payment-methods", h.withLogging(h.ListPaymentMethods))
	mux.HandleFunc("POST /users/{userID}/payment-methods", h.withLogging(h.AddPaymentMethod))
	mux.HandleFunc("GET /users/{userID}/payment-methods/primary", h.withLogging(h.GetPrimaryPaymentMethod))
	mux.HandleFunc("PUT /users/{userID}/payment-methods/primary", h.withLogging(h.SetPrimaryPaymentMethod))
	mux.HandleFunc("DELETE /users/{userID}/payment-methods/{methodID}", h.withLogging(h.RemovePaymentMethod))

	mux.HandleFunc("GET /chefs", h.withLogging(h.ListChefs))
	mux.HandleFunc("GET /chefs/{chefID}/menu", h.withLogging(h.GetMenu))
	mux.HandleFunc("GET /health", h.withLogging(h.HealthCheck))

	return mux
}

// HealthCheck handles GET /health requests
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := map[string]string{}
	healthy := true
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			status[name] = err.Error()
			healthy = false
			continue
		}
		status[name] = "ok"
	}

	response := map[string]interface{}{
		"status":    "ok",
		"timestamp": h.now().UTC().Format(time.RFC3339),
		"service":   "lidora-api",
		"checks":    status,
	}
	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
		response["status"] = "unhealthy"
	}
	h.writeJSON(w, code, response, requestIDFrom(r))
}

// withLogging adds request logging middleware
func (h *Handler) withLogging(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = logger.GenerateRequestID()
		}
		r = r.WithContext(context.WithValue(r.Context(), ctxKey{}, requestID))
		w.Header().Set("X-Request-ID", requestID)

		h.logger.Debug("request_started",
			fmt.Sprintf("%s %s", r.Method, r.URL.Path),
			requestID,
			map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"remote_addr": r.RemoteAddr,
				"user_agent":  r.Header.Get("User-Agent"),
			})

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		h.logger.Debug("request_completed",
			fmt.Sprintf("%s %s - %d", r.Method, r.URL.Path, rw.statusCode),
			requestID,
			map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status_code": rw.statusCode,
				"duration_ms": time.Since(start).Milliseconds(),
			})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func requestIDFrom(r *http.Request) string {
	id, _ := r.Context().Value(ctxKey{}).(string)
	return id
}

func (h *Handler) serviceContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), h.requestTimeout)
}

// decodeBody reads a JSON body into dst, writing the 400 itself on failure.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	requestID := requestIDFrom(r)
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		h.writeErrorResponse(w, http.StatusBadRequest, "Content-Type must be application/json", requestID, nil)
		return false
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		h.logger.Debug("validation_failed", "Failed to parse request body", requestID, map[string]interface{}{
			"error": err.Error(),
		})
		h.writeErrorResponse(w, http.StatusBadRequest, "Invalid JSON format", requestID, nil)
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, statusCode int, body interface{}, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("response_encoding_failed", "Failed to encode response", requestID, err, nil)
	}
}

// writeErrorResponse writes an error response in JSON format
func (h *Handler) writeErrorResponse(w http.ResponseWriter, statusCode int, message, requestID string, extra map[string]interface{}) {
	body := map[string]interface{}{
		"error":      message,
		"timestamp":  h.now().UTC().Format(time.RFC3339),
		"request_id": requestID,
	}
	for k, v := range extra {
		body[k] = v
	}
	h.writeJSON(w, statusCode, body, requestID)
}

// writeError maps a service error onto a status code. Internal details of
// integrity failures stay in the logs.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := requestIDFrom(r)

	var charged *apperr.ChargedNotRecordedError
	if errors.As(err, &charged) {
		h.writeErrorResponse(w, http.StatusInternalServerError,
			"Payment was taken but the order could not be updated", requestID,
			map[string]interface{}{"order_id": charged.OrderID, "confirmation_id": charged.ConfirmationID})
		return
	}

	status, message := classify(err)
	var extra map[string]interface{}
	var verr *apperr.ValidationError
	if errors.As(err, &verr) {
		extra = map[string]interface{}{"field": verr.Field}
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	h.writeErrorResponse(w, status, message, requestID, extra)
}

// writePlaceError reports a failed place. When the charge may have gone
// through, the client is told the outcome is unknown: the order stays frozen
// and a retry reuses the same idempotency key, so it cannot charge twice.
func (h *Handler) writePlaceError(w http.ResponseWriter, r *http.Request, orderID string, err error) {
	unknown := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, apperr.ErrGatewayUnavailable)
	if !unknown || errors.Is(err, apperr.ErrChargedNotRecorded) {
		h.writeError(w, r, err)
		return
	}

	status, _ := classify(err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	h.writeErrorResponse(w, status,
		"Payment outcome unknown; retrying is safe and will not charge twice", requestIDFrom(r),
		map[string]interface{}{"order_id": orderID, "retry_safe": true})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, apperr.ErrOrderAlreadyPlaced):
		return http.StatusConflict, "Order already placed"
	case errors.Is(err, apperr.ErrCheckoutInProgress):
		return http.StatusConflict, "Order is being placed"
	case errors.Is(err, apperr.ErrTransactionConflict):
		return http.StatusConflict, "Too many concurrent updates, try again"
	case errors.Is(err, apperr.ErrCardDeclined):
		return http.StatusPaymentRequired, "Card declined"
	case errors.Is(err, apperr.ErrInvalidCard):
		return http.StatusPaymentRequired, "Invalid card"
	case errors.Is(err, apperr.ErrGatewayUnavailable):
		return http.StatusServiceUnavailable, "Payment processor unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Request timed out"
	case errors.Is(err, apperr.ErrGateway):
		return http.StatusBadGateway, "Payment processor error"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}
