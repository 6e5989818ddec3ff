package receipt

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Vintech-code/Vapeshop/internal/cart"
	"github.com/Vintech-code/Vapeshop/internal/money"
	"github.com/Vintech-code/Vapeshop/internal/payment"
	"github.com/Vintech-code/Vapeshop/internal/pricing"
)

// Option selects how the customer receives the receipt.
type Option string

const (
	OptionNone  Option = "none"
	OptionPrint Option = "print"
	OptionEmail Option = "email"
)

// ErrInvalidOption is returned for unknown receipt options or an e-mail
// receipt without a usable address.
var ErrInvalidOption = errors.New("invalid receipt option")

// ParseOption maps user input to an Option; blank means none.
func ParseOption(raw string) (Option, error) {
	switch Option(strings.ToLower(strings.TrimSpace(raw))) {
	case "", OptionNone:
		return OptionNone, nil
	case OptionPrint:
		return OptionPrint, nil
	case OptionEmail:
		return OptionEmail, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidOption, raw)
}

// Customer is the optional buyer attached to a sale.
type Customer struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Empty reports whether no customer detail was given.
func (c Customer) Empty() bool {
	return strings.TrimSpace(c.Name) == "" && strings.TrimSpace(c.Email) == "" && strings.TrimSpace(c.Phone) == ""
}

// CheckOption verifies that opt can be honoured for c.
func (c Customer) CheckOption(opt Option) error {
	if opt != OptionEmail {
		return nil
	}
	if _, err := mail.ParseAddress(strings.TrimSpace(c.Email)); err != nil {
		return fmt.Errorf("%w: e-mail receipt needs a valid address", ErrInvalidOption)
	}
	return nil
}

// Line is a printed receipt row.
type Line struct {
	ItemID    int64           `json:"itemId"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Total     decimal.Decimal `json:"total"`
}

// Receipt is the customer facing record of a settled sale.
type Receipt struct {
	SaleID   uuid.UUID            `json:"saleId"`
	Cashier  string               `json:"cashier"`
	IssuedAt time.Time            `json:"issuedAt"`
	Lines    []Line               `json:"lines"`
	Summary  pricing.Summary      `json:"summary"`
	Payable  decimal.Decimal      `json:"payable"`
	Payments []payment.Allocation `json:"payments"`
	Tendered decimal.Decimal      `json:"tendered"`
	Change   decimal.Decimal      `json:"change"`
	Customer Customer             `json:"customer"`
	Option   Option               `json:"option"`
	Scale    int32                `json:"scale"`
}

// Input gathers what Build needs from a settled checkout.
type Input struct {
	SaleID   uuid.UUID
	Cashier  string
	IssuedAt time.Time
	Lines    []cart.Line
	Summary  pricing.Summary
	Payments []payment.Allocation
	Customer Customer
	Option   Option
	Scale    int32
}

// Build assembles a receipt. Amounts stay at full precision; Text rounds for
// display.
func Build(in Input) Receipt {
	scale := in.Scale
	if scale <= 0 {
		scale = money.DefaultScale
	}
	payable := in.Summary.Payable(scale)
	lines := make([]Line, 0, len(in.Lines))
	for _, l := range in.Lines {
		lines = append(lines, Line{ItemID: l.ItemID, Name: l.Name, Quantity: l.Quantity, UnitPrice: l.UnitPrice, Total: l.Total()})
	}
	return Receipt{
		SaleID:   in.SaleID,
		Cashier:  in.Cashier,
		IssuedAt: in.IssuedAt,
		Lines:    lines,
		Summary:  in.Summary,
		Payable:  payable,
		Payments: append([]payment.Allocation(nil), in.Payments...),
		Tendered: payment.Tendered(in.Payments),
		Change:   payment.ComputeChange(in.Payments, payable),
		Customer: in.Customer,
		Option:   in.Option,
		Scale:    scale,
	}
}

const width = 40

// Text renders the receipt for a 40 column printer.
func Text(r Receipt) string {
	var b strings.Builder
	center(&b, "VAPESHOP")
	center(&b, "Official Receipt")
	rule(&b)
	fmt.Fprintf(&b, "Sale:    %s\n", r.SaleID.String()[:8])
	fmt.Fprintf(&b, "Date:    %s\n", r.IssuedAt.Format("2006-01-02 15:04"))
	if r.Cashier != "" {
		fmt.Fprintf(&b, "Cashier: %s\n", r.Cashier)
	}
	if name := strings.TrimSpace(r.Customer.Name); name != "" {
		fmt.Fprintf(&b, "Customer: %s\n", name)
	}
	rule(&b)
	for _, l := range r.Lines {
		b.WriteString(truncate(l.Name, width) + "\n")
		row(&b, fmt.Sprintf("  %d x %s", l.Quantity, r.amount(l.UnitPrice)), r.amount(l.Total))
	}
	rule(&b)
	row(&b, "Subtotal", r.amount(r.Summary.Subtotal))
	if !r.Summary.Discount.IsZero() {
		row(&b, fmt.Sprintf("Discount (%s%%)", r.Summary.Rule.DiscountPercent), "-"+r.amount(r.Summary.Discount))
	}
	row(&b, fmt.Sprintf("Tax (%s%%)", r.Summary.Rule.TaxRatePercent), r.amount(r.Summary.Tax))
	row(&b, "TOTAL", r.amount(r.Payable))
	rule(&b)
	for _, p := range r.Payments {
		row(&b, strings.ToUpper(string(p.Method)), r.amount(p.Amount))
	}
	row(&b, "Tendered", r.amount(r.Tendered))
	row(&b, "Change", r.amount(r.Change))
	rule(&b)
	center(&b, "Thank you!")
	return b.String()
}

func (r Receipt) amount(d decimal.Decimal) string {
	return money.Format(money.Round(d, r.Scale), r.Scale)
}

func row(b *strings.Builder, left, right string) {
	pad := width - len([]rune(left)) - len([]rune(right))
	if pad < 1 {
		pad = 1
	}
	b.WriteString(left + strings.Repeat(" ", pad) + right + "\n")
}

func center(b *strings.Builder, s string) {
	pad := (width - len([]rune(s))) / 2
	if pad < 0 {
		pad = 0
	}
	b.WriteString(strings.Repeat(" ", pad) + s + "\n")
}

func rule(b *strings.Builder) {
	b.WriteString(strings.Repeat("-", width) + "\n")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
