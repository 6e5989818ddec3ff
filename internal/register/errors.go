package register

import (
	"errors"
	"net/http"

	"github.com/Vintech-code/Vapeshop/internal/cart"
	"github.com/Vintech-code/Vapeshop/internal/catalog"
	"github.com/Vintech-code/Vapeshop/internal/checkout"
	"github.com/Vintech-code/Vapeshop/internal/common"
	"github.com/Vintech-code/Vapeshop/internal/payment"
	"github.com/Vintech-code/Vapeshop/internal/receipt"
	"github.com/Vintech-code/Vapeshop/internal/stock"
)

// toAppError maps domain failures to the API error codes. The partial
// decrement check runs before the stock-changed one because a timed out
// decrement carries both.
func toAppError(err error) *common.AppError {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var partial *stock.PartialFailureError
	var changed *stock.ChangedError
	var shortfall *payment.ShortfallError
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return common.NewAppError("SESSION_NOT_FOUND", "register session not found", http.StatusNotFound, err)
	case errors.Is(err, catalog.ErrUnknownItem):
		return common.NewAppError("ITEM_NOT_FOUND", "item not found in catalog", http.StatusNotFound, err)
	case errors.Is(err, cart.ErrItemNotFound):
		return common.NewAppError("ITEM_NOT_IN_CART", "item not in cart", http.StatusNotFound, err)
	case errors.Is(err, cart.ErrInvalidQuantity):
		return common.NewAppError("INVALID_QUANTITY", err.Error(), http.StatusUnprocessableEntity, err)
	case errors.Is(err, checkout.ErrEmptyCart):
		return common.NewAppError("EMPTY_CART", "cart is empty", http.StatusUnprocessableEntity, err)
	case errors.Is(err, payment.ErrCardSplitViolation):
		return common.NewAppError("CARD_SPLIT_VIOLATION", "card payment cannot be split with other methods", http.StatusUnprocessableEntity, err)
	case errors.As(err, &shortfall):
		return common.NewAppError("INSUFFICIENT_PAYMENT", "amount tendered is below the total due", http.StatusUnprocessableEntity, err).
			WithDetails(map[string]any{
				"due":      shortfall.Due.String(),
				"tendered": shortfall.Tendered.String(),
				"missing":  shortfall.Missing().String(),
			})
	case errors.Is(err, payment.ErrInsufficientPayment):
		return common.NewAppError("INSUFFICIENT_PAYMENT", "amount tendered is below the total due", http.StatusUnprocessableEntity, err)
	case errors.Is(err, payment.ErrInvalidAllocation):
		return common.NewAppError("INVALID_PAYMENT", err.Error(), http.StatusUnprocessableEntity, err)
	case errors.Is(err, receipt.ErrInvalidOption):
		return common.NewAppError("INVALID_RECEIPT_OPTION", err.Error(), http.StatusUnprocessableEntity, err)
	case errors.As(err, &partial):
		failed := make([]map[string]any, 0, len(partial.Failed))
		for _, f := range partial.Failed {
			failed = append(failed, map[string]any{
				"itemId":   f.Decrement.ItemID,
				"quantity": f.Decrement.Quantity,
				"error":    f.Err.Error(),
			})
		}
		return common.NewAppError("PARTIAL_STOCK_DECREMENT_FAILURE", "stock was only partially decremented; reconcile manually", http.StatusConflict, err).
			WithDetails(map[string]any{"succeeded": partial.Succeeded, "failed": failed})
	case errors.As(err, &changed):
		return common.NewAppError("STOCK_CHANGED", "stock changed since the items were added", http.StatusConflict, err).
			WithDetails(map[string]any{"items": changed.Shortages})
	case errors.Is(err, stock.ErrStockChanged):
		return common.NewAppError("STOCK_CHANGED", "stock changed since the items were added", http.StatusConflict, err)
	case errors.Is(err, checkout.ErrBackendUnavailable):
		return common.NewAppError("BACKEND_UNAVAILABLE", "shop backend unavailable", http.StatusBadGateway, err)
	}
	return common.NewAppError("INTERNAL", "internal error", http.StatusInternalServerError, err)
}
