package register

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	validator "github.com/go-playground/validator/v10"

	"github.com/Vintech-code/Vapeshop/internal/common"
)

// NewValidator returns a validator that reports fields by their JSON names.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body into dst and validates it. An empty body leaves
// dst untouched.
func (h *Handler) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return common.NewAppError("BAD_REQUEST", fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest, err)
	}
	if err := h.validator().Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				ns := fe.Namespace()
				if i := strings.IndexByte(ns, '.'); i >= 0 {
					ns = ns[i+1:]
				}
				fields[ns] = fe.Tag()
			}
			return common.NewAppError("VALIDATION_ERROR", "request validation failed", http.StatusUnprocessableEntity, err).
				WithDetails(map[string]any{"fields": fields})
		}
		return common.NewAppError("BAD_REQUEST", err.Error(), http.StatusBadRequest, err)
	}
	return nil
}

func (h *Handler) validator() *validator.Validate {
	h.validateOnce.Do(func() {
		if h.Validate == nil {
			h.Validate = NewValidator()
		}
	})
	return h.Validate
}
