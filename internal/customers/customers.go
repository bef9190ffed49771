// Package customers is the data behind the customer-management screen: a
// Source of customer records with balances. The shipped Source is an
// in-memory Fixture seeded with demo customers; a real backend can replace it
// without touching the portal.
package customers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/MarkoPoloResearchLab/bankportal/pkg/bankapi"
	"github.com/go-playground/validator/v10"
)

// Currency is the currency every customer balance is held in.
const Currency = "PLN"

// Badge tiers, in cents.
const (
	successThresholdCents = 1_000_000
	warningThresholdCents = 100_000
)

// Badge classifies a balance for display.
type Badge string

const (
	BadgeSuccess Badge = "success"
	BadgeWarning Badge = "warning"
	BadgeDanger  Badge = "danger"
)

var (
	ErrNotFound        = errors.New("customer not found")
	ErrInvalidCustomer = errors.New("invalid customer")
)

// Customer is one managed record.
type Customer struct {
	ID           int64  `json:"id"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	Email        string `json:"email"`
	BalanceCents int64  `json:"balanceCents"`
}

// Balance returns the record's balance in the remote API's decimal form.
func (customer Customer) Balance() bankapi.Balance {
	cents := customer.BalanceCents
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return bankapi.Balance{
		AccountBalance: fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100),
		Currency:       Currency,
	}
}

// Badge returns the display tier of the balance.
func (customer Customer) Badge() Badge {
	return BadgeFor(customer.BalanceCents)
}

// BadgeFor maps cents to a tier: at least 10000.00 is success, at least 1000.00 warning.
func BadgeFor(cents int64) Badge {
	switch {
	case cents >= successThresholdCents:
		return BadgeSuccess
	case cents >= warningThresholdCents:
		return BadgeWarning
	default:
		return BadgeDanger
	}
}

// Input is the editable part of a Customer.
type Input struct {
	FirstName string `json:"firstName" validate:"required"`
	LastName  string `json:"lastName" validate:"required"`
	Email     string `json:"email" validate:"required,email"`
	// Balance is decimal text; anything unparseable counts as zero.
	Balance string `json:"balance"`
}

// Source stores customers.
type Source interface {
	List(ctx context.Context) ([]Customer, error)
	Get(ctx context.Context, id int64) (Customer, error)
	Create(ctx context.Context, input Input) (Customer, error)
	Update(ctx context.Context, id int64, input Input) (Customer, error)
	Delete(ctx context.Context, id int64) error
}

var inputValidator = newInputValidator()

func newInputValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	return validate
}

// Validate trims the input and checks required fields.
func Validate(input Input) (Input, error) {
	input.FirstName = strings.TrimSpace(input.FirstName)
	input.LastName = strings.TrimSpace(input.LastName)
	input.Email = strings.TrimSpace(input.Email)
	err := inputValidator.Struct(input)
	if err == nil {
		return input, nil
	}
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return Input{}, fmt.Errorf("%w: %w", ErrInvalidCustomer, err)
	}
	violations := make([]string, 0, len(fieldErrors))
	for _, fieldError := range fieldErrors {
		switch fieldError.Tag() {
		case "required":
			violations = append(violations, fieldError.Field()+" is required")
		case "email":
			violations = append(violations, fieldError.Field()+" must be an email address")
		default:
			violations = append(violations, fieldError.Field()+" is invalid")
		}
	}
	return Input{}, fmt.Errorf("%w: %s", ErrInvalidCustomer, strings.Join(violations, "; "))
}

// ParseBalanceCents reads decimal text into cents, rounding to the nearest
// cent. Empty or unparseable text yields zero.
func ParseBalanceCents(raw string) int64 {
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0
	}
	return int64(math.Round(value * 100))
}
