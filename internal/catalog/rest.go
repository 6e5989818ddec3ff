package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Vintech-code/Vapeshop/internal/money"
)

// Doer executes HTTP requests. *resilience.HTTPClient satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// APIError is returned for non-2xx backend responses.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("catalog api: status %d", e.Status)
	}
	return fmt.Sprintf("catalog api: status %d: %s", e.Status, e.Message)
}

// RESTClient talks to the shop backend's product endpoints.
type RESTClient struct {
	base   *url.URL
	http   Doer
	logger zerolog.Logger
}

// NewRESTClient validates baseURL and constructs a client.
func NewRESTClient(baseURL string, doer Doer, logger zerolog.Logger) (*RESTClient, error) {
	if doer == nil {
		return nil, errors.New("catalog: http client is required")
	}
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("catalog: parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("catalog: base url %q must be absolute", baseURL)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return &RESTClient{base: u, http: doer, logger: logger.With().Str("component", "catalog_client").Logger()}, nil
}

type productDTO struct {
	ID         int64        `json:"id"`
	Name       string       `json:"name"`
	Price      money.Loose  `json:"price"`
	Stock      looseInt     `json:"stock"`
	Category   categoryName `json:"category"`
	CategoryID *int64       `json:"category_id"`
	Unit       string       `json:"unit"`
}

type updateDTO struct {
	Name       string `json:"name"`
	Price      string `json:"price"`
	Stock      int    `json:"stock"`
	CategoryID *int64 `json:"category_id,omitempty"`
	Unit       string `json:"unit,omitempty"`
}

// ListProducts implements Provider.
func (c *RESTClient) ListProducts(ctx context.Context) ([]Item, error) {
	var rows []productDTO
	if err := c.getJSON(ctx, "products", &rows); err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	items := make([]Item, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toItem())
	}
	return items, nil
}

// DecrementStock reads the current product and writes back the reduced stock.
// The backend offers no atomic decrement, so concurrent sales of the same item
// from another register can still race between the read and the write.
func (c *RESTClient) DecrementStock(ctx context.Context, itemID int64, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("decrement item %d: quantity must be positive", itemID)
	}
	path := "products/" + strconv.FormatInt(itemID, 10)
	var current productDTO
	if err := c.getJSON(ctx, path, &current); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return fmt.Errorf("decrement item %d: %w", itemID, ErrUnknownItem)
		}
		return fmt.Errorf("decrement item %d: load: %w", itemID, err)
	}
	stock := int(current.Stock)
	if quantity > stock {
		return fmt.Errorf("decrement item %d by %d with %d on hand: %w", itemID, quantity, stock, ErrInsufficientStock)
	}
	payload := updateDTO{
		Name:       current.Name,
		Price:      current.Price.String(),
		Stock:      stock - quantity,
		CategoryID: current.CategoryID,
		Unit:       current.Unit,
	}
	if err := c.putJSON(ctx, path, payload); err != nil {
		return fmt.Errorf("decrement item %d: update: %w", itemID, err)
	}
	c.logger.Debug().Int64("item_id", itemID).Int("quantity", quantity).Int("stock", payload.Stock).Msg("stock_decremented")
	return nil
}

func (c *RESTClient) getJSON(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve(path), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	return c.do(ctx, req, dst)
}

func (c *RESTClient) putJSON(ctx context.Context, path string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.resolve(path), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.do(ctx, req, nil)
}

func (c *RESTClient) do(ctx context.Context, req *http.Request, dst any) error {
	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if dst == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *RESTClient) resolve(path string) string {
	return c.base.ResolveReference(&url.URL{Path: path}).String()
}

// decodeAPIError extracts the backend's message. Validation failures arrive as
// {"errors":{"field":["msg"]}} and are flattened into one message.
func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Message string              `json:"message"`
		Errors  map[string][]string `json:"errors"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		apiErr.Message = strings.TrimSpace(body.Message)
		if len(body.Errors) > 0 {
			fields := make([]string, 0, len(body.Errors))
			for field := range body.Errors {
				fields = append(fields, field)
			}
			sort.Strings(fields)
			var msgs []string
			for _, field := range fields {
				msgs = append(msgs, body.Errors[field]...)
			}
			apiErr.Message = strings.Join(msgs, ", ")
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(http.StatusText(resp.StatusCode))
	}
	return apiErr
}

func (p productDTO) toItem() Item {
	stock := int(p.Stock)
	if stock < 0 {
		stock = 0
	}
	price := p.Price.Decimal
	if price.IsNegative() {
		price = decimal.Zero
	}
	category := strings.TrimSpace(string(p.Category))
	if category == "" && p.CategoryID != nil {
		category = strconv.FormatInt(*p.CategoryID, 10)
	}
	return Item{
		ID:             p.ID,
		Name:           p.Name,
		UnitPrice:      price,
		AvailableStock: stock,
		Category:       category,
		CategoryID:     p.CategoryID,
		Unit:           p.Unit,
	}
}

// looseInt accepts numbers, numeric strings and null. Unparseable values
// decode to zero, matching how the register front end coerced stock.
type looseInt int

func (l *looseInt) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if raw == "" || raw == "null" {
		*l = 0
		return nil
	}
	if n, err := strconv.Atoi(raw); err == nil {
		*l = looseInt(n)
		return nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		*l = 0
		return nil
	}
	*l = looseInt(d.IntPart())
	return nil
}

// categoryName accepts either "Liquids" or {"name":"Liquids"}.
type categoryName string

func (c *categoryName) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*c = ""
		return nil
	}
	if trimmed[0] == '{' {
		var obj struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return err
		}
		*c = categoryName(obj.Name)
		return nil
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		*c = categoryName(trimmed)
		return nil
	}
	*c = categoryName(s)
	return nil
}
