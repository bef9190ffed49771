package portal

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/MarkoPoloResearchLab/bankportal/pkg/bankapi"
)

const (
	bankEmail      = "jan.kowalski@example.com"
	bankPassword   = "secret123"
	bankCredential = "bank-token-1"
)

// fakeBank serves the remote API contract for one account.
type fakeBank struct {
	mu        sync.Mutex
	firstName string
	valid     map[string]bool
	revoked   []string
}

func newFakeBank(test *testing.T) (*fakeBank, *httptest.Server) {
	test.Helper()
	bank := &fakeBank{firstName: "Jan", valid: map[string]bool{bankCredential: true}}
	mux := http.NewServeMux()
	mux.HandleFunc(bankapi.PathLogin, func(writer http.ResponseWriter, request *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(request.Body).Decode(&body)
		if body["email"] != bankEmail || body["password"] != bankPassword {
			bankJSON(writer, http.StatusUnauthorized, map[string]any{"error": "invalid_credentials", "message": "Bad login"})
			return
		}
		bank.mu.Lock()
		bank.valid[bankCredential] = true
		bank.mu.Unlock()
		bankJSON(writer, http.StatusOK, map[string]any{"message": "Login successful", "access_token": bankCredential, "user": bank.user()})
	})
	mux.HandleFunc(bankapi.PathLogout, func(writer http.ResponseWriter, request *http.Request) {
		credential, ok := bank.authorize(request)
		if !ok {
			bankJSON(writer, http.StatusUnauthorized, map[string]any{"error": "Token has been revoked"})
			return
		}
		bank.mu.Lock()
		delete(bank.valid, credential)
		bank.revoked = append(bank.revoked, credential)
		bank.mu.Unlock()
		bankJSON(writer, http.StatusOK, map[string]any{"message": "Successfully logged out"})
	})
	mux.HandleFunc(bankapi.PathProfile, func(writer http.ResponseWriter, request *http.Request) {
		if _, ok := bank.authorize(request); !ok {
			bankJSON(writer, http.StatusUnauthorized, map[string]any{"error": "Token has expired"})
			return
		}
		if request.Method == http.MethodPut {
			var body map[string]string
			_ = json.NewDecoder(request.Body).Decode(&body)
			bank.mu.Lock()
			if name, ok := body["first_name"]; ok {
				bank.firstName = name
			}
			bank.mu.Unlock()
			bankJSON(writer, http.StatusOK, map[string]any{"message": "User updated successfully", "user": bank.user()})
			return
		}
		bankJSON(writer, http.StatusOK, map[string]any{"user": bank.user()})
	})
	mux.HandleFunc(bankapi.PathBalance, func(writer http.ResponseWriter, request *http.Request) {
		if _, ok := bank.authorize(request); !ok {
			bankJSON(writer, http.StatusUnauthorized, map[string]any{"error": "Token has expired"})
			return
		}
		bankJSON(writer, http.StatusOK, map[string]any{"account_balance": "15420.50", "currency": "PLN"})
	})
	server := httptest.NewServer(mux)
	test.Cleanup(server.Close)
	return bank, server
}

func (bank *fakeBank) authorize(request *http.Request) (string, bool) {
	credential := strings.TrimPrefix(request.Header.Get("Authorization"), "Bearer ")
	bank.mu.Lock()
	defer bank.mu.Unlock()
	return credential, bank.valid[credential]
}

func (bank *fakeBank) user() map[string]any {
	bank.mu.Lock()
	defer bank.mu.Unlock()
	return map[string]any{"id": 7, "first_name": bank.firstName, "last_name": "Kowalski", "email": bankEmail}
}

func (bank *fakeBank) revokedCredentials() []string {
	bank.mu.Lock()
	defer bank.mu.Unlock()
	return append([]string(nil), bank.revoked...)
}

func bankJSON(writer http.ResponseWriter, status int, payload any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	_ = json.NewEncoder(writer).Encode(payload)
}
