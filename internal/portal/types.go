package portal

import (
	"time"

	"github.com/MarkoPoloResearchLab/bankportal/internal/customers"
	"github.com/MarkoPoloResearchLab/bankportal/pkg/bankapi"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	State               string        `json:"state"`
	Authenticated       bool          `json:"authenticated"`
	User                *bankapi.User `json:"user,omitempty"`
	DisplayName         string        `json:"displayName,omitempty"`
	CredentialExpiresAt *time.Time    `json:"credentialExpiresAt,omitempty"`
}

type authResponse struct {
	Message string       `json:"message"`
	User    bankapi.User `json:"user"`
}

type balanceView struct {
	AccountBalance string `json:"accountBalance"`
	Currency       string `json:"currency"`
	Formatted      string `json:"formatted"`
}

type dashboardResponse struct {
	User    bankapi.User `json:"user"`
	Balance balanceView  `json:"balance"`
}

type profileResponse struct {
	Message string       `json:"message"`
	User    bankapi.User `json:"user"`
}

type customerView struct {
	ID        int64           `json:"id"`
	FirstName string          `json:"firstName"`
	LastName  string          `json:"lastName"`
	Email     string          `json:"email"`
	Balance   balanceView     `json:"balance"`
	Badge     customers.Badge `json:"badge"`
}

type customerListResponse struct {
	Customers []customerView `json:"customers"`
}
