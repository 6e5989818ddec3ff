package register

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Vintech-code/Vapeshop/internal/audit"
	"github.com/Vintech-code/Vapeshop/internal/cart"
	"github.com/Vintech-code/Vapeshop/internal/catalog"
	"github.com/Vintech-code/Vapeshop/internal/checkout"
	"github.com/Vintech-code/Vapeshop/internal/common"
	"github.com/Vintech-code/Vapeshop/internal/money"
	"github.com/Vintech-code/Vapeshop/internal/obs"
	"github.com/Vintech-code/Vapeshop/internal/payment"
	"github.com/Vintech-code/Vapeshop/internal/pricing"
	"github.com/Vintech-code/Vapeshop/internal/receipt"
)

// DefaultActivityPageSize is used when the activity listing has no limit.
const DefaultActivityPageSize = 50

// Handler exposes register sessions over HTTP.
type Handler struct {
	Store             *Store
	Catalog           catalog.Provider
	Service           *checkout.Service
	Validate          *validator.Validate
	LowStockThreshold int
	Scale             int32
	Logger            zerolog.Logger

	validateOnce sync.Once
}

// Routes builds the session router. checkoutMiddleware wraps only the
// checkout endpoint.
func (h *Handler) Routes(checkoutMiddleware ...func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Delete("/", h.Abandon)
		r.Post("/items", h.AddItem)
		r.Patch("/items/{itemID}", h.UpdateItem)
		r.Delete("/items/{itemID}", h.RemoveItem)
		r.With(checkoutMiddleware...).Post("/checkout", h.Checkout)
		r.Get("/activity", h.Activity)
	})
	return r
}

type createPayload struct {
	Cashier string `json:"cashier" validate:"omitempty,max=64"`
}

type addItemPayload struct {
	ItemID   int64 `json:"itemId" validate:"required,gt=0"`
	Quantity *int  `json:"quantity"`
}

type updateItemPayload struct {
	Quantity *int `json:"quantity" validate:"required_without=Delta"`
	Delta    *int `json:"delta" validate:"required_without=Quantity"`
}

type paymentPayload struct {
	Method string      `json:"method" validate:"required"`
	Amount money.Loose `json:"amount"`
}

type customerPayload struct {
	Name  string `json:"name" validate:"omitempty,max=120"`
	Email string `json:"email" validate:"omitempty,max=254"`
	Phone string `json:"phone" validate:"omitempty,max=32"`
}

type checkoutPayload struct {
	Payments []paymentPayload `json:"payments" validate:"dive"`
	Customer customerPayload  `json:"customer"`
	Receipt  string           `json:"receipt"`
}

type quoteView struct {
	Subtotal        string `json:"subtotal"`
	Discount        string `json:"discount"`
	Tax             string `json:"tax"`
	GrandTotal      string `json:"grandTotal"`
	Payable         string `json:"payable"`
	Category        string `json:"category"`
	TaxRatePercent  string `json:"taxRatePercent"`
	DiscountPercent string `json:"discountPercent"`
	MixedCategories bool   `json:"mixedCategories"`
}

type sessionView struct {
	ID            uuid.UUID   `json:"id"`
	Cashier       string      `json:"cashier"`
	CreatedAt     time.Time   `json:"createdAt"`
	Lines         []cart.Line `json:"lines"`
	TotalQuantity int         `json:"totalQuantity"`
	Quote         *quoteView  `json:"quote,omitempty"`
	LowStock      []cart.Line `json:"lowStock"`
}

// Create opens a register session.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "session store not configured", nil)
		return
	}
	var payload createPayload
	if err := h.decode(r, &payload); err != nil {
		common.WriteError(w, err)
		return
	}
	cashier := payload.Cashier
	if cashier == "" {
		cashier = r.Header.Get(obs.CashierHeader)
	}
	id, entry := h.Store.Create(cashier)
	obs.TagSession(r.Context(), id.String())
	h.log(r).Info().Str("session_id", id.String()).Msg("register_session_opened")
	common.Data(w, http.StatusCreated, h.view(r, entry, nil))
}

// Get returns the cart lines, a price quote and low-stock warnings.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(e *Entry) error {
		quote, err := h.quote(r, e)
		if err != nil {
			return err
		}
		common.Data(w, http.StatusOK, h.view(r, e, quote))
		return nil
	})
}

// Abandon drops the session and its cart.
func (h *Handler) Abandon(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	if !h.Store.Delete(id) {
		common.WriteError(w, toAppError(ErrSessionNotFound))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddItem puts a catalog item in the cart, or increments its line.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	var payload addItemPayload
	if err := h.decode(r, &payload); err != nil {
		common.WriteError(w, err)
		return
	}
	qty := 1
	if payload.Quantity != nil {
		qty = *payload.Quantity
	}
	item, err := h.lookup(r, payload.ItemID)
	if err != nil {
		common.WriteError(w, toAppError(err))
		return
	}
	h.withSession(w, r, func(e *Entry) error {
		if err := e.Cart.AddItem(item, qty); err != nil {
			return err
		}
		e.Trail.Record(r.Context(), h.cashier(r, e), audit.ActionItemAdded, fmt.Sprintf("%s x%d", item.Name, qty))
		return h.respond(w, r, e, http.StatusOK)
	})
}

// UpdateItem sets a line's quantity, or moves it by a delta.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := common.ParseID(chi.URLParam(r, "itemID"))
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid item id", nil)
		return
	}
	var payload updateItemPayload
	if err := h.decode(r, &payload); err != nil {
		common.WriteError(w, err)
		return
	}
	h.withSession(w, r, func(e *Entry) error {
		line, err := e.Cart.Line(itemID)
		if errors.Is(err, cart.ErrItemNotFound) {
			return h.respond(w, r, e, http.StatusOK)
		}
		if err != nil {
			return err
		}
		if payload.Quantity != nil {
			err = e.Cart.SetQuantity(itemID, *payload.Quantity)
		} else {
			err = e.Cart.AdjustQuantity(itemID, *payload.Delta)
		}
		if err != nil {
			return err
		}
		updated, _ := e.Cart.Line(itemID)
		e.Trail.Record(r.Context(), h.cashier(r, e), audit.ActionQuantityChanged,
			fmt.Sprintf("%s %d -> %d", line.Name, line.Quantity, updated.Quantity))
		return h.respond(w, r, e, http.StatusOK)
	})
}

// RemoveItem deletes a line from the cart.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := common.ParseID(chi.URLParam(r, "itemID"))
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid item id", nil)
		return
	}
	h.withSession(w, r, func(e *Entry) error {
		line, err := e.Cart.Line(itemID)
		if errors.Is(err, cart.ErrItemNotFound) {
			return h.respond(w, r, e, http.StatusOK)
		}
		if err != nil {
			return err
		}
		e.Cart.RemoveItem(itemID)
		e.Trail.Record(r.Context(), h.cashier(r, e), audit.ActionItemRemoved, line.Name)
		return h.respond(w, r, e, http.StatusOK)
	})
}

// Checkout settles the cart against the given payments.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return
	}
	var payload checkoutPayload
	if err := h.decode(r, &payload); err != nil {
		common.WriteError(w, err)
		return
	}
	allocs := make([]payment.Allocation, 0, len(payload.Payments))
	for _, p := range payload.Payments {
		method, err := payment.ParseMethod(p.Method)
		if err != nil {
			common.WriteError(w, toAppError(err))
			return
		}
		allocs = append(allocs, payment.Allocation{Method: method, Amount: p.Amount.Decimal})
	}
	option, err := receipt.ParseOption(payload.Receipt)
	if err != nil {
		common.WriteError(w, toAppError(err))
		return
	}

	h.withSession(w, r, func(e *Entry) error {
		res := h.Service.Checkout(r.Context(), e.Cart, checkout.Request{
			Payments: allocs,
			Cashier:  h.cashier(r, e),
			Customer: receipt.Customer{
				Name:  strings.TrimSpace(payload.Customer.Name),
				Email: strings.TrimSpace(payload.Customer.Email),
				Phone: strings.TrimSpace(payload.Customer.Phone),
			},
			ReceiptOption: option,
			Trail:         e.Trail,
		})
		if res.Err != nil {
			appErr := toAppError(res.Err)
			details := map[string]any{"result": res}
			if extra, ok := appErr.Details.(map[string]any); ok {
				for k, v := range extra {
					details[k] = v
				}
			}
			return common.NewAppError(appErr.Code, appErr.Message, appErr.HTTPStatus, res.Err).WithDetails(details)
		}
		data := map[string]any{"result": res}
		if res.Receipt != nil && res.Receipt.Option == receipt.OptionPrint {
			data["receiptText"] = receipt.Text(*res.Receipt)
		}
		common.Data(w, http.StatusOK, data)
		return nil
	})
}

// Activity lists the session's trail, newest first.
func (h *Handler) Activity(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(e *Entry) error {
		entries := e.Trail.Entries()
		page, perPage := common.ParsePagination(r, DefaultActivityPageSize)
		p := common.Pagination{Page: page, PerPage: perPage, TotalItems: len(entries)}
		start, end := p.Window()
		common.Page(w, entries[start:end], p)
		return nil
	})
}

func (h *Handler) withSession(w http.ResponseWriter, r *http.Request, fn func(*Entry) error) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "session store not configured", nil)
		return
	}
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	if err := h.Store.With(id, fn); err != nil {
		appErr := toAppError(err)
		if appErr.HTTPStatus >= http.StatusInternalServerError {
			h.log(r).Error().Err(err).Str("code", appErr.Code).Msg("register_request_failed")
		}
		common.WriteError(w, appErr)
	}
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, e *Entry, status int) error {
	quote, err := h.quote(r, e)
	if err != nil {
		return err
	}
	common.Data(w, status, h.view(r, e, quote))
	return nil
}

func (h *Handler) quote(r *http.Request, e *Entry) (*quoteView, error) {
	if h.Service == nil || e.Cart.IsEmpty() {
		return nil, nil
	}
	summary, err := h.Service.Quote(r.Context(), e.Cart)
	if err != nil {
		return nil, err
	}
	return h.quoteOf(summary), nil
}

func (h *Handler) quoteOf(s pricing.Summary) *quoteView {
	scale := h.Scale
	if scale <= 0 {
		scale = money.DefaultScale
	}
	return &quoteView{
		Subtotal:        s.Subtotal.String(),
		Discount:        s.Discount.String(),
		Tax:             s.Tax.String(),
		GrandTotal:      s.GrandTotal.String(),
		Payable:         s.Payable(scale).StringFixed(scale),
		Category:        s.Rule.Category,
		TaxRatePercent:  s.Rule.TaxRatePercent.String(),
		DiscountPercent: s.Rule.DiscountPercent.String(),
		MixedCategories: s.MixedCategories,
	}
}

func (h *Handler) view(r *http.Request, e *Entry, quote *quoteView) sessionView {
	threshold := common.AtoiDefault(r.URL.Query().Get("threshold"), h.lowStockThreshold())
	low := e.Cart.LowStock(threshold)
	if low == nil {
		low = []cart.Line{}
	}
	return sessionView{
		ID:            e.Cart.ID,
		Cashier:       e.Cashier,
		CreatedAt:     e.Cart.CreatedAt.UTC(),
		Lines:         e.Cart.Lines(),
		TotalQuantity: e.Cart.TotalQuantity(),
		Quote:         quote,
		LowStock:      low,
	}
}

func (h *Handler) lookup(r *http.Request, itemID int64) (catalog.Item, error) {
	if h.Catalog == nil {
		return catalog.Item{}, fmt.Errorf("%w: catalog not configured", checkout.ErrBackendUnavailable)
	}
	items, err := h.Catalog.ListProducts(r.Context())
	if err != nil {
		return catalog.Item{}, fmt.Errorf("%w: %w", checkout.ErrBackendUnavailable, err)
	}
	item, ok := catalog.Index(items)[itemID]
	if !ok {
		return catalog.Item{}, fmt.Errorf("%w: %d", catalog.ErrUnknownItem, itemID)
	}
	return item, nil
}

func (h *Handler) cashier(r *http.Request, e *Entry) string {
	if c := strings.TrimSpace(r.Header.Get(obs.CashierHeader)); c != "" {
		return c
	}
	return e.Cashier
}

func (h *Handler) lowStockThreshold() int {
	if h.LowStockThreshold > 0 {
		return h.LowStockThreshold
	}
	return cart.DefaultLowStockThreshold
}

func (h *Handler) log(r *http.Request) *zerolog.Logger {
	if l := zerolog.Ctx(r.Context()); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &h.Logger
}

func sessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid session id", nil)
		return uuid.UUID{}, false
	}
	obs.TagSession(r.Context(), id.String())
	return id, true
}
