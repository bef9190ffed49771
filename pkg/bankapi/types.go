package bankapi

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// User is the authenticated customer's profile.
type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

// DisplayName joins first and last name.
func (user User) DisplayName() string {
	return strings.TrimSpace(user.FirstName + " " + user.LastName)
}

// AuthResponse is returned by login and registration.
type AuthResponse struct {
	Message     string `json:"message"`
	User        User   `json:"user"`
	AccessToken string `json:"accessToken"`
}

// Balance is the account balance as delivered: decimal text plus ISO currency code.
type Balance struct {
	AccountBalance string `json:"accountBalance"`
	Currency       string `json:"currency"`
}

// AmountCents parses the decimal balance into integer cents.
func (balance Balance) AmountCents() (int64, error) {
	raw := strings.TrimSpace(balance.AccountBalance)
	if raw == "" {
		return 0, fmt.Errorf("%w: empty amount", ErrInvalidBalance)
	}
	negative := false
	switch raw[0] {
	case '-':
		negative = true
		raw = raw[1:]
	case '+':
		raw = raw[1:]
	}
	wholePart, fractionPart, hasFraction := strings.Cut(raw, ".")
	if !isDigits(wholePart) || (hasFraction && !isDigits(fractionPart)) || len(fractionPart) > 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidBalance, balance.AccountBalance)
	}
	for len(fractionPart) < 2 {
		fractionPart += "0"
	}
	whole, err := strconv.ParseInt(wholePart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidBalance, balance.AccountBalance)
	}
	fraction, err := strconv.ParseInt(fractionPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidBalance, balance.AccountBalance)
	}
	cents := whole*100 + fraction
	if negative {
		cents = -cents
	}
	return cents, nil
}

func isDigits(value string) bool {
	if value == "" {
		return false
	}
	for index := 0; index < len(value); index++ {
		if value[index] < '0' || value[index] > '9' {
			return false
		}
	}
	return true
}

// Format renders the balance as a localized currency amount, e.g. for language.Polish.
func (balance Balance) Format(tag language.Tag) (string, error) {
	cents, err := balance.AmountCents()
	if err != nil {
		return "", err
	}
	unit, err := currency.ParseISO(strings.TrimSpace(balance.Currency))
	if err != nil {
		return "", fmt.Errorf("%w: currency %q", ErrInvalidBalance, balance.Currency)
	}
	printer := message.NewPrinter(tag)
	return printer.Sprint(currency.Symbol(unit.Amount(float64(cents) / 100))), nil
}

// LoginRequest carries login form input.
type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// RegisterRequest carries registration form input.
type RegisterRequest struct {
	FirstName string `json:"firstName" validate:"required"`
	LastName  string `json:"lastName" validate:"required"`
	Email     string `json:"email" validate:"required"`
	Password  string `json:"password" validate:"required,min=6"`
}

// ProfileUpdate carries a partial profile change. Nil fields are left untouched.
type ProfileUpdate struct {
	FirstName *string `json:"firstName,omitempty"`
	LastName  *string `json:"lastName,omitempty"`
	Email     *string `json:"email,omitempty"`
}

// Empty reports whether the update changes nothing.
func (update ProfileUpdate) Empty() bool {
	return update.FirstName == nil && update.LastName == nil && update.Email == nil
}

// profileEnvelope accepts both the wrapped {"user": {...}} shape and a bare user.
type profileEnvelope struct {
	Wrapped *User `json:"user"`
	User
}

func (envelope profileEnvelope) resolve() User {
	if envelope.Wrapped != nil {
		return *envelope.Wrapped
	}
	return envelope.User
}
