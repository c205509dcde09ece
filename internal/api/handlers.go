// Package api exposes the marketplace over HTTP. Validation and auth happen
// here; all matching semantics live in the market package.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mbenitez/solemarket/internal/auth"
	"github.com/mbenitez/solemarket/internal/market"
	"github.com/mbenitez/solemarket/internal/models"
)

type ctxKey int

const userIDKey ctxKey = 0

const defaultPageSize = 50

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Market *market.Service
	Auth   *auth.Service
	Log    *zap.Logger
}

// NewHandler creates a new handler
func NewHandler(m *market.Service, a *auth.Service, log *zap.Logger) *Handler {
	return &Handler{Market: m, Auth: a, Log: log}
}

// Routes builds the full API router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)

	r.Group(func(r chi.Router) {
		r.Use(h.JWTAuthMiddleware)
		r.Get("/auth/me", h.Me)

		r.Post("/bids", h.CreateBid)
		r.Get("/bids", h.ListBids)
		r.Delete("/bids/{id}", h.CancelBid)

		r.Post("/asks", h.CreateAsk)
		r.Get("/asks", h.ListAsks)
		r.Delete("/asks/{id}", h.CancelAsk)

		r.Get("/transactions", h.ListTransactions)
	})

	return r
}

type errorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
		return
	}

	user, err := h.Auth.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusBadRequest, "REGISTER_FAILED", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":       user.ID,
		"username": user.Username,
	})
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
		return
	}

	token, err := h.Auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid credentials")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// Me returns the authenticated user.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}

	user, err := h.Auth.User(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusNotFound, "USER_NOT_FOUND", "user not found")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// JWTAuthMiddleware verifies JWT tokens
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authorization header required")
			return
		}
		tokenString = strings.TrimPrefix(tokenString, "Bearer ")

		userID, err := h.Auth.UserFromToken(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok
}

type createOrderRequest struct {
	VariantID  string      `json:"variant_id"`
	PriceLocal json.Number `json:"price_local"`
	ExpiresAt  *time.Time  `json:"expires_at,omitempty"`
}

// CreateBid places a new bid
func (h *Handler) CreateBid(w http.ResponseWriter, r *http.Request) {
	h.createOrder(w, r, models.SideBid)
}

// CreateAsk places a new ask
func (h *Handler) CreateAsk(w http.ResponseWriter, r *http.Request) {
	h.createOrder(w, r, models.SideAsk)
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request, side models.Side) {
	userID, ok := userFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
		return
	}
	if req.VariantID == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "variant_id is required")
		return
	}

	// Prices are integer minor units; fractional values are rejected here,
	// before they can be truncated into something plausible.
	price, err := req.PriceLocal.Int64()
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PRICE", "price must be a positive integer in minor units")
		return
	}

	order, txn, err := h.Market.PlaceOrder(r.Context(), side, userID, req.VariantID, price, req.ExpiresAt)
	if err != nil {
		h.writeMarketError(w, err)
		return
	}

	resp := map[string]any{"order": order}
	if txn != nil {
		resp["transaction"] = txn
	}
	writeJSON(w, http.StatusCreated, resp)
}

// ListBids retrieves the caller's bids
func (h *Handler) ListBids(w http.ResponseWriter, r *http.Request) {
	h.listOrders(w, r, models.SideBid)
}

// ListAsks retrieves the caller's asks
func (h *Handler) ListAsks(w http.ResponseWriter, r *http.Request) {
	h.listOrders(w, r, models.SideAsk)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request, side models.Side) {
	userID, ok := userFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}

	status := r.URL.Query().Get("status")
	if status == "" {
		status = models.StatusActive
	} else if status == "all" {
		status = ""
	}
	limit, offset := pagination(r)

	orders, err := h.Market.Orders(r.Context(), side, userID, status, limit, offset)
	if err != nil {
		h.Log.Error("list orders failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list orders")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

// CancelBid cancels an active bid owned by the caller
func (h *Handler) CancelBid(w http.ResponseWriter, r *http.Request) {
	h.cancelOrder(w, r, models.SideBid)
}

// CancelAsk cancels an active ask owned by the caller
func (h *Handler) CancelAsk(w http.ResponseWriter, r *http.Request) {
	h.cancelOrder(w, r, models.SideAsk)
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request, side models.Side) {
	userID, ok := userFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}

	order, err := h.Market.Cancel(r.Context(), side, chi.URLParam(r, "id"), userID)
	if err != nil {
		h.writeMarketError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

// ListTransactions retrieves the caller's trades
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}

	limit, offset := pagination(r)
	txns, err := h.Market.Transactions(r.Context(), userID, limit, offset)
	if err != nil {
		h.Log.Error("list transactions failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list transactions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txns})
}

func pagination(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 200 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}

func (h *Handler) writeMarketError(w http.ResponseWriter, err error) {
	var notActive *market.NotActiveError
	switch {
	case errors.Is(err, market.ErrInvalidPrice):
		writeError(w, http.StatusBadRequest, "INVALID_PRICE", "price must be a positive integer in minor units")
	case errors.Is(err, market.ErrVariantNotFound):
		writeError(w, http.StatusNotFound, "VARIANT_NOT_FOUND", "variant not found")
	case errors.Is(err, market.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found")
	case errors.Is(err, market.ErrForbidden):
		writeError(w, http.StatusForbidden, "FORBIDDEN", "not the order owner")
	case errors.As(err, &notActive):
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   "order cannot be cancelled",
			Code:    "ORDER_NOT_ACTIVE",
			Details: "order status is " + notActive.Status,
		})
	default:
		h.Log.Error("market operation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}
