package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-realtime-cart/internal/cart"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

type CartEngine interface {
	GetOrCreateCart(ctx context.Context, userID int64) (cart.Cart, error)
	LookupCart(ctx context.Context, userID int64) (cart.Cart, error)
	AddProducts(ctx context.Context, c cart.Cart, items []cart.ItemInput) error
	DecrementOrRemove(ctx context.Context, c cart.Cart, productID int64, qty int) error
}

type CartRenderer interface {
	RenderCart(ctx context.Context, userID int64) (cart.Page[cart.CartView], error)
	Snapshot(ctx context.Context, c cart.Cart) (cart.CartView, error)
}

type CheckoutService interface {
	Finalize(ctx context.Context, userID int64, req cart.CheckoutRequest) (cart.Payment, error)
	LastReceipt(ctx context.Context, userID int64) (cart.Payment, error)
}

type ProductLister interface {
	ListProducts(ctx context.Context, limit, offset int) ([]cart.Product, int, error)
}

type CategoryStore interface {
	ListCategories(ctx context.Context) ([]cart.Category, error)
	CreateCategory(ctx context.Context, name string) (cart.Category, error)
}

type CartHandler struct {
	Engine     CartEngine
	Views      CartRenderer
	Checkout   CheckoutService
	Products   ProductLister
	Categories CategoryStore
	Identity   Identity
	Log        *logrus.Entry
}

// messageBody is the envelope of the category endpoints.
type messageBody struct {
	Message string `json:"message"`
	Data    any    `json:"data"`
}

type addLine struct {
	ProductID *int64 `json:"product_id"`
	Quantity  *int   `json:"quantity"`
}

type addReq struct {
	Products []addLine `json:"products"`
}

type categoryReq struct {
	Name string `json:"name"`
}

type removeReq struct {
	Quantity *int `json:"quantity"`
}

type checkoutReq struct {
	Amount      decimal.Decimal   `json:"amount"`
	Method      string            `json:"payment_method"`
	CardDetails *cart.CardDetails `json:"card_details"`
}

func (h *CartHandler) Register(r chi.Router) {
	r.Get("/products", h.listProducts)
	r.Get("/categories", h.listCategories)
	r.Group(func(r chi.Router) {
		r.Use(h.Identity.Middleware, withTrace)
		r.Post("/categories", h.createCategory)
		r.Get("/cart", h.getCart)
		r.Post("/cart/add", h.addProducts)
		r.Delete("/cart/remove/{product_id}", h.removeProduct)
		r.Post("/checkout", h.checkout)
		r.Get("/checkout/last", h.lastReceipt)
	})
}

// withTrace carries the request id into published events.
func withTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := cart.WithTraceID(r.Context(), middleware.GetReqID(r.Context()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *CartHandler) getCart(w http.ResponseWriter, r *http.Request) {
	uid, _ := UserID(r.Context())
	page, err := h.Views.RenderCart(r.Context(), uid)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *CartHandler) addProducts(w http.ResponseWriter, r *http.Request) {
	uid, _ := UserID(r.Context())
	var req addReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: "Invalid JSON body."})
		return
	}

	items := make([]cart.ItemInput, 0, len(req.Products))
	for _, l := range req.Products {
		if l.ProductID == nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Detail: "product_id is required."})
			return
		}
		qty := cart.DefaultQuantity
		if l.Quantity != nil {
			qty = *l.Quantity
		}
		items = append(items, cart.ItemInput{ProductID: *l.ProductID, Quantity: qty})
	}

	ctx := r.Context()
	c, err := h.Engine.GetOrCreateCart(ctx, uid)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if err := h.Engine.AddProducts(ctx, c, items); err != nil {
		writeError(w, h.Log, err)
		return
	}
	h.respondSnapshot(ctx, w, c)
}

func (h *CartHandler) removeProduct(w http.ResponseWriter, r *http.Request) {
	uid, _ := UserID(r.Context())
	productID, err := strconv.ParseInt(chi.URLParam(r, "product_id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: "product_id must be an integer."})
		return
	}
	var req removeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: "Invalid JSON body."})
		return
	}
	qty := cart.DefaultQuantity
	if req.Quantity != nil {
		qty = *req.Quantity
	}

	ctx := r.Context()
	c, err := h.Engine.LookupCart(ctx, uid)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if err := h.Engine.DecrementOrRemove(ctx, c, productID, qty); err != nil {
		writeError(w, h.Log, err)
		return
	}
	h.respondSnapshot(ctx, w, c)
}

func (h *CartHandler) respondSnapshot(ctx context.Context, w http.ResponseWriter, c cart.Cart) {
	view, err := h.Views.Snapshot(ctx, c)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *CartHandler) checkout(w http.ResponseWriter, r *http.Request) {
	uid, _ := UserID(r.Context())
	var req checkoutReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: "Invalid JSON body."})
		return
	}
	p, err := h.Checkout.Finalize(r.Context(), uid, cart.CheckoutRequest{
		Amount: req.Amount,
		Method: req.Method,
		Card:   req.CardDetails,
	})
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *CartHandler) lastReceipt(w http.ResponseWriter, r *http.Request) {
	uid, _ := UserID(r.Context())
	p, err := h.Checkout.LastReceipt(r.Context(), uid)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *CartHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	page, err := intParam(r, "page", 1)
	if err != nil || page < 1 {
		writeJSON(w, http.StatusNotFound, errorBody{Detail: "Invalid page."})
		return
	}
	size, err := intParam(r, "page_size", defaultPageSize)
	if err != nil || size < 1 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}

	ps, total, err := h.Products.ListProducts(r.Context(), size, (page-1)*size)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if len(ps) == 0 && page > 1 {
		writeJSON(w, http.StatusNotFound, errorBody{Detail: "Invalid page."})
		return
	}

	out := cart.Page[cart.Product]{Count: total, Results: ps}
	if page*size < total {
		out.Next = pageLink(r, page+1, size)
	}
	if page > 1 {
		out.Previous = pageLink(r, page-1, size)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *CartHandler) listCategories(w http.ResponseWriter, r *http.Request) {
	cs, err := h.Categories.ListCategories(r.Context())
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, messageBody{Message: "Successfully retrieved all categories", Data: cs})
}

func (h *CartHandler) createCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: "Invalid JSON body."})
		return
	}
	c, err := h.Categories.CreateCategory(r.Context(), req.Name)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, messageBody{Message: "Category created successfully", Data: c})
}

func intParam(r *http.Request, name string, def int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

func pageLink(r *http.Request, page, size int) *string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(size))
	s := fmt.Sprintf("%s://%s%s?%s", scheme, r.Host, r.URL.Path, q.Encode())
	return &s
}
