package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/bankportal/pkg/bankapi"
	"github.com/golang-jwt/jwt/v5"
)

const (
	validEmail        = "jan.kowalski@example.com"
	validPassword     = "secret123"
	issuedCredential  = "issued-token"
	staleCredential   = "stale-token"
	badLoginMessage   = "Bad login"
	errorMismatchText = "expected %v, got %v"
)

var errStorageFailure = errors.New("storage failure")

type memoryStorage struct {
	mu        sync.Mutex
	values    map[string]string
	loadErr   error
	saveErr   error
	deleteErr error
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{values: make(map[string]string)}
}

func (storage *memoryStorage) LoadCredential(_ context.Context, key string) (string, bool, error) {
	storage.mu.Lock()
	defer storage.mu.Unlock()
	if storage.loadErr != nil {
		return "", false, storage.loadErr
	}
	value, found := storage.values[key]
	return value, found, nil
}

func (storage *memoryStorage) SaveCredential(_ context.Context, key string, credential string) error {
	storage.mu.Lock()
	defer storage.mu.Unlock()
	if storage.saveErr != nil {
		return storage.saveErr
	}
	storage.values[key] = credential
	return nil
}

func (storage *memoryStorage) DeleteCredential(_ context.Context, key string) error {
	storage.mu.Lock()
	defer storage.mu.Unlock()
	if storage.deleteErr != nil {
		return storage.deleteErr
	}
	delete(storage.values, key)
	return nil
}

func (storage *memoryStorage) value(key string) (string, bool) {
	storage.mu.Lock()
	defer storage.mu.Unlock()
	value, found := storage.values[key]
	return value, found
}

// fakeBank honors the remote API contract for one registered user.
type fakeBank struct {
	mu              sync.Mutex
	validCredential string
	authorizations  []string
	profileName     string
}

func newFakeBank(test *testing.T) (*fakeBank, *httptest.Server) {
	test.Helper()
	bank := &fakeBank{validCredential: issuedCredential, profileName: "Jan"}
	mux := http.NewServeMux()
	mux.HandleFunc(bankapi.PathLogin, func(writer http.ResponseWriter, request *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(request.Body).Decode(&body)
		if body["email"] != validEmail || body["password"] != validPassword {
			writeJSON(writer, http.StatusUnauthorized, `{"error":"invalid_credentials","message":"Bad login"}`)
			return
		}
		writeJSON(writer, http.StatusOK, `{"message":"Login successful","access_token":"`+issuedCredential+`","user":`+bank.userJSON()+`}`)
	})
	mux.HandleFunc(bankapi.PathRegister, func(writer http.ResponseWriter, request *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(request.Body).Decode(&body)
		if body["email"] == validEmail {
			writeJSON(writer, http.StatusBadRequest, `{"error":"User with this email already exists"}`)
			return
		}
		writeJSON(writer, http.StatusCreated, `{"message":"User registered successfully","access_token":"`+issuedCredential+`","user":{"id":8,"first_name":"`+body["first_name"]+`","last_name":"`+body["last_name"]+`","email":"`+body["email"]+`"}}`)
	})
	mux.HandleFunc(bankapi.PathProfile, func(writer http.ResponseWriter, request *http.Request) {
		if !bank.authorized(request) {
			writeJSON(writer, http.StatusUnauthorized, `{"error":"Token has expired"}`)
			return
		}
		if request.Method == http.MethodPut {
			var body map[string]string
			_ = json.NewDecoder(request.Body).Decode(&body)
			bank.mu.Lock()
			if name, ok := body["first_name"]; ok {
				bank.profileName = name
			}
			bank.mu.Unlock()
			writeJSON(writer, http.StatusOK, `{"message":"User updated successfully","user":`+bank.userJSON()+`}`)
			return
		}
		writeJSON(writer, http.StatusOK, `{"user":`+bank.userJSON()+`}`)
	})
	server := httptest.NewServer(mux)
	test.Cleanup(server.Close)
	return bank, server
}

func (bank *fakeBank) authorized(request *http.Request) bool {
	header := request.Header.Get("Authorization")
	bank.mu.Lock()
	defer bank.mu.Unlock()
	bank.authorizations = append(bank.authorizations, header)
	return header == "Bearer "+bank.validCredential
}

func (bank *fakeBank) userJSON() string {
	bank.mu.Lock()
	defer bank.mu.Unlock()
	return `{"id":7,"first_name":"` + bank.profileName + `","last_name":"Kowalski","email":"` + validEmail + `"}`
}

func (bank *fakeBank) lastAuthorization() string {
	bank.mu.Lock()
	defer bank.mu.Unlock()
	if len(bank.authorizations) == 0 {
		return ""
	}
	return bank.authorizations[len(bank.authorizations)-1]
}

func writeJSON(writer http.ResponseWriter, status int, body string) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	_, _ = writer.Write([]byte(body))
}

type harness struct {
	storage *memoryStorage
	slot    CredentialSlot
	client  *bankapi.Client
	bank    *fakeBank
}

func newHarness(test *testing.T) *harness {
	test.Helper()
	bank, server := newFakeBank(test)
	storage := newMemoryStorage()
	slot, err := NewCredentialSlot(storage, DefaultCredentialKey)
	if err != nil {
		test.Fatalf("slot: %v", err)
	}
	client, err := bankapi.NewClient(server.URL, bankapi.WithCredentialSource(slot))
	if err != nil {
		test.Fatalf("client: %v", err)
	}
	return &harness{storage: storage, slot: slot, client: client, bank: bank}
}

func (h *harness) open(test *testing.T, options ...StoreOption) *Store {
	test.Helper()
	store, err := Open(context.Background(), h.client, h.slot, options...)
	if err != nil {
		test.Fatalf("open: %v", err)
	}
	return store
}

func TestOpenWithoutStoredCredentialIsAnonymous(test *testing.T) {
	test.Parallel()
	h := newHarness(test)
	store := h.open(test)
	snapshot := store.Snapshot()
	if snapshot.State != StateAnonymous || snapshot.Identity != nil || snapshot.HasCredential {
		test.Fatalf("unexpected snapshot: %+v", snapshot)
	}
	if h.bank.lastAuthorization() != "" {
		test.Fatalf("expected no profile request without a stored credential")
	}
}

func TestOpenRestoresValidCredential(test *testing.T) {
	test.Parallel()
	h := newHarness(test)
	h.storage.values[DefaultCredentialKey] = issuedCredential
	store := h.open(test)
	identity, ok := store.Identity()
	if store.State() != StateAuthenticated || !ok || identity.ID != 7 {
		test.Fatalf("expected authenticated store, got %v %+v", store.State(), identity)
	}
	if store.Credential() != issuedCredential {
		test.Fatalf(errorMismatchText, issuedCredential, store.Credential())
	}
}

func TestOpenDiscardsRejectedCredential(test *testing.T) {
	test.Parallel()
	h := newHarness(test)
	h.storage.values[DefaultCredentialKey] = staleCredential
	store := h.open(test)
	if store.State() != StateAnonymous {
		test.Fatalf("expected anonymous, got %v", store.State())
	}
	if _, found := h.storage.value(DefaultCredentialKey); found {
		test.Fatalf("expected stale credential to be removed")
	}
	if h.bank.lastAuthorization() != "Bearer "+staleCredential {
		test.Fatalf("expected the stored credential to be presented, got %q", h.bank.lastAuthorization())
	}
}

func TestRestoreKeepsCredentialWhenCanceled(test *testing.T) {
	test.Parallel()
	h := newHarness(test)
	h.storage.values[DefaultCredentialKey] = issuedCredential
	store, err := New(h.client, h.slot)
	if err != nil {
		test.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := store.Restore(ctx); !errors.Is(err, context.Canceled) {
		test.Fatalf("expected context canceled, got %v", err)
	}
	if store.State() != StateInitializing {
		test.Fatalf("expected initializing, got %v", store.State())
	}
	if _, found := h.storage.value(DefaultCredentialKey); !found {
		test.Fatalf("expected credential to survive a canceled restore")
	}
	if err := store.Restore(context.Background()); err != nil {
		test.Fatalf("retry restore: %v", err)
	}
	if store.State() != StateAuthenticated {
		test.Fatalf("expected authenticated after retry, got %v", store.State())
	}
}

func TestRestoreStorageFailure(test *testing.T) {
	test.Parallel()
	h := newHarness(test)
	h.storage.loadErr = errStorageFailure
	store, err := New(h.client, h.slot)
	if err != nil {
		test.Fatalf("new: %v", err)
	}
	err = store.Restore(context.Background())
	if !errors.Is(err, errStorageFailure) {
		test.Fatalf("expected storage failure, got %v", err)
	}
	requireOperationError(test, err, operationRestore, codeStorage)
	if store.State() != StateAnonymous {
		test.Fatalf("expected anonymous, got %v", store.State())
	}
}

func TestLoginAuthenticatesAndPersistsCredential(test *testing.T) {
	test.Parallel()
	h := newHarness(test)
	store := h.open(test)

	response, err := store.Login(context.Background(), validEmail, validPassword)
	if err != nil {
		test.Fatalf("login: %v", err)
	}
	if response.AccessToken != issuedCredential {
		test.Fatalf(errorMismatchText, issuedCredential, response.AccessToken)
	}
	if store.State() != StateAuthenticated {
		test.Fatalf("expected authenticated, got %v", store.State())
	}
	if stored, _ := h.storage.value(DefaultCredentialKey); stored != issuedCredential {
		test.Fatalf("expected persisted credential, got %q", stored)
	}
	if _, err := h.client.Profile(context.Background()); err != nil {
		test.Fatalf("profile after login: %v", err)
	}
	if h.bank.lastAuthorization() != "Bearer "+issuedCredential {
		test.Fatalf("expected bearer header on follow-up request, got %q", h.bank.lastAuthorization())
	}
}

func TestLoginFailureLeavesStateUntouched(test *testing.T) {
	test.Parallel()
	h := newHarness(test)
	store := h.open(test)

	_, err := store.Login(context.Background(), validEmail, "wrong-password")
	if err == nil || err.Error() != badLoginMessage {
		test.Fatalf("expected %q, got %v", badLoginMessage, err)
	}
	var apiError *bankapi.APIError
	if !errors.As(err, &apiError) || !apiError.Unauthorized() {
		test.Fatalf("expected unauthorized API error, got %T", err)
	}
	if store.State() != StateAnonymous || store.Credential() != "" {
		test.Fatalf("expected anonymous store after failed login")
	}
	if _, found := h.storage.value(DefaultCredentialKey); found {
		test.Fatalf("expected storage to stay empty")
	}
}

func TestLoginValidationFailureSkipsRemote(test *testing.T) {
	test.Parallel()
	api := &blockingAPI{}
	store := mustStore(test, api, newMemoryStorage())
	_, err := store.Login(context.Background(), "", "")
	if !errors.Is(err, bankapi.ErrInvalidRequest) {
		test.Fatalf("expected validation error, got %v", err)
	}
	if api.loginCalls() != 0 {
		test.Fatalf("expected no remote login call")
	}
}

func TestRegisterAuthenticates(test *testing.T) {
	test.Parallel()
	h := newHarness(test)
	store := h.open(test)

	response, err := store.Register(context.Background(), bankapi.RegisterRequest{
		FirstName: "Anna",
		LastName:  "Nowak",
		Email:     "anna.nowak@example.com",
		Password:  "haslo123",
	})
	if err != nil {
		test.Fatalf("register: %v", err)
	}
	identity, _ := store.Identity()
	if identity.FirstName != "Anna" || response.User.ID != 8 {
		test.Fatalf("unexpected identity: %+v", identity)
	}
	if stored, _ := h.storage.value(DefaultCredentialKey); stored != issuedCredential {
		test.Fatalf("expected persisted credential, got %q", stored)
	}
}

func TestRegisterFailures(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name        string
		request     bankapi.RegisterRequest
		wantInvalid bool
		wantMessage string
	}{
		{
			name:        "short password",
			request:     bankapi.RegisterRequest{FirstName: "A", LastName: "B", Email: "a@example.com", Password: "123"},
			wantInvalid: true,
		},
		{
			name:        "duplicate email",
			request:     bankapi.RegisterRequest{FirstName: "Jan", LastName: "Kowalski", Email: validEmail, Password: validPassword},
			wantMessage: "User with this email already exists",
		},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			h := newHarness(test)
			store := h.open(test)
			_, err := store.Register(context.Background(), testCase.request)
			if testCase.wantInvalid && !errors.Is(err, bankapi.ErrInvalidRequest) {
				test.Fatalf("expected validation error, got %v", err)
			}
			if testCase.wantMessage != "" && (err == nil || err.Error() != testCase.wantMessage) {
				test.Fatalf(errorMismatchText, testCase.wantMessage, err)
			}
			if store.State() != StateAnonymous {
				test.Fatalf("expected anonymous, got %v", store.State())
			}
		})
	}
}

func TestLoginPersistFailureLeavesStateUntouched(test *testing.T) {
	test.Parallel()
	h := newHarness(test)
	store := h.open(test)
	h.storage.saveErr = errStorageFailure
	_, err := store.Login(context.Background(), validEmail, validPassword)
	if !errors.Is(err, errStorageFailure) {
		test.Fatalf("expected storage failure, got %v", err)
	}
	requireOperationError(test, err, operationLogin, codeStorage)
	if store.State() != StateAnonymous {
		test.Fatalf("expected anonymous, got %v", store.State())
	}
}

func TestLoginWithoutCredentialInResponse(test *testing.T) {
	test.Parallel()
	api := &blockingAPI{response: bankapi.AuthResponse{User: bankapi.User{ID: 1}}}
	store := mustStore(test, api, newMemoryStorage())
	_, err := store.Login(context.Background(), validEmail, validPassword)
	if !errors.Is(err, ErrMissingCredential) {
		test.Fatalf("expected missing credential, got %v", err)
	}
	requireOperationError(test, err, operationLogin, codeCredential)
	if store.State() != StateAnonymous {
		test.Fatalf("expected anonymous, got %v", store.State())
	}
}

func requireOperationError(test *testing.T, err error, operation string, code string) {
	test.Helper()
	var operationError bankapi.OperationError
	if !errors.As(err, &operationError) {
		test.Fatalf("expected operation error, got %T", err)
	}
	if operationError.Operation() != operation || operationError.Subject() != subjectSession || operationError.Code() != code {
		test.Fatalf("unexpected segments %q", operationError.Error())
	}
	if !strings.HasPrefix(err.Error(), operation+"."+subjectSession+"."+code+": ") {
		test.Fatalf("unexpected error text %q", err.Error())
	}
}

func TestLogoutAlwaysEndsAnonymous(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name      string
		loggedIn  bool
		deleteErr error
	}{
		{name: "authenticated", loggedIn: true},
		{name: "anonymous", loggedIn: false},
		{name: "storage failure", loggedIn: true, deleteErr: errStorageFailure},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			h := newHarness(test)
			store := h.open(test)
			if testCase.loggedIn {
				if _, err := store.Login(context.Background(), validEmail, validPassword); err != nil {
					test.Fatalf("login: %v", err)
				}
			}
			h.storage.deleteErr = testCase.deleteErr
			store.Logout(context.Background())
			snapshot := store.Snapshot()
			if snapshot.State != StateAnonymous || snapshot.Identity != nil || snapshot.HasCredential {
				test.Fatalf("unexpected snapshot after logout: %+v", snapshot)
			}
			if testCase.deleteErr == nil {
				if _, found := h.storage.value(DefaultCredentialKey); found {
					test.Fatalf("expected persisted credential to be removed")
				}
			}
		})
	}
}

func TestStoreCyclesBetweenStates(test *testing.T) {
	test.Parallel()
	h := newHarness(test)
	store := h.open(test)
	for cycle := 0; cycle < 3; cycle++ {
		if _, err := store.Login(context.Background(), validEmail, validPassword); err != nil {
			test.Fatalf("login cycle %d: %v", cycle, err)
		}
		if store.State() != StateAuthenticated {
			test.Fatalf("cycle %d: expected authenticated", cycle)
		}
		store.Logout(context.Background())
		if store.State() != StateAnonymous {
			test.Fatalf("cycle %d: expected anonymous", cycle)
		}
	}
}

func TestUpdateProfileReplacesIdentityOnSuccess(test *testing.T) {
	test.Parallel()
	h := newHarness(test)
	store := h.open(test)
	newName := "Janek"
	if _, err := store.UpdateProfile(context.Background(), bankapi.ProfileUpdate{FirstName: &newName}); !errors.Is(err, ErrNotAuthenticated) {
		test.Fatalf("expected not authenticated, got %v", err)
	}
	if _, err := store.Login(context.Background(), validEmail, validPassword); err != nil {
		test.Fatalf("login: %v", err)
	}
	user, err := store.UpdateProfile(context.Background(), bankapi.ProfileUpdate{FirstName: &newName})
	if err != nil {
		test.Fatalf("update: %v", err)
	}
	identity, _ := store.Identity()
	if user.FirstName != newName || identity.FirstName != newName {
		test.Fatalf("expected identity to be replaced, got %+v", identity)
	}

	h.bank.mu.Lock()
	h.bank.validCredential = "rotated"
	h.bank.mu.Unlock()
	other := "Other"
	if _, err := store.UpdateProfile(context.Background(), bankapi.ProfileUpdate{FirstName: &other}); bankapi.StatusCode(err) != http.StatusUnauthorized {
		test.Fatalf("expected unauthorized, got %v", err)
	}
	identity, _ = store.Identity()
	if identity.FirstName != newName {
		test.Fatalf("expected identity to survive failed update, got %+v", identity)
	}
}

// blockingAPI lets tests hold a login in flight.
type blockingAPI struct {
	mu       sync.Mutex
	calls    int
	release  chan struct{}
	started  chan struct{}
	response bankapi.AuthResponse
}

func (api *blockingAPI) Login(ctx context.Context, _ bankapi.LoginRequest) (bankapi.AuthResponse, error) {
	api.mu.Lock()
	api.calls++
	release, started := api.release, api.started
	api.mu.Unlock()
	if started != nil {
		close(started)
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return bankapi.AuthResponse{}, ctx.Err()
		}
	}
	return api.response, nil
}

func (api *blockingAPI) Register(context.Context, bankapi.RegisterRequest) (bankapi.AuthResponse, error) {
	return api.response, nil
}

func (api *blockingAPI) Profile(context.Context) (bankapi.User, error) {
	return bankapi.User{}, errors.New("unexpected profile call")
}

func (api *blockingAPI) UpdateProfile(context.Context, bankapi.ProfileUpdate) (bankapi.User, error) {
	return bankapi.User{}, errors.New("unexpected update call")
}

func (api *blockingAPI) loginCalls() int {
	api.mu.Lock()
	defer api.mu.Unlock()
	return api.calls
}

func mustStore(test *testing.T, api API, storage CredentialStorage) *Store {
	test.Helper()
	slot, err := NewCredentialSlot(storage, DefaultCredentialKey)
	if err != nil {
		test.Fatalf("slot: %v", err)
	}
	store, err := Open(context.Background(), api, slot)
	if err != nil {
		test.Fatalf("open: %v", err)
	}
	return store
}

func TestConcurrentLoginIsRejected(test *testing.T) {
	test.Parallel()
	api := &blockingAPI{
		release:  make(chan struct{}),
		started:  make(chan struct{}),
		response: bankapi.AuthResponse{AccessToken: issuedCredential, User: bankapi.User{ID: 7}},
	}
	store := mustStore(test, api, newMemoryStorage())

	firstResult := make(chan error, 1)
	go func() {
		_, err := store.Login(context.Background(), validEmail, validPassword)
		firstResult <- err
	}()
	<-api.started

	if _, err := store.Login(context.Background(), validEmail, validPassword); !IsAuthInProgress(err) {
		test.Fatalf("expected auth in progress, got %v", err)
	}
	if _, err := store.Register(context.Background(), bankapi.RegisterRequest{FirstName: "A", LastName: "B", Email: "a@example.com", Password: "123456"}); !errors.Is(err, ErrAuthInProgress) {
		test.Fatalf("expected auth in progress for register, got %v", err)
	}

	close(api.release)
	select {
	case err := <-firstResult:
		if err != nil {
			test.Fatalf("first login: %v", err)
		}
	case <-time.After(5 * time.Second):
		test.Fatalf("first login did not finish")
	}
	if store.State() != StateAuthenticated || api.loginCalls() != 1 {
		test.Fatalf("expected exactly one remote login and an authenticated store")
	}
}

func TestNewValidatesDependencies(test *testing.T) {
	test.Parallel()
	if _, err := New(nil, CredentialSlot{}); !errors.Is(err, ErrInvalidStoreConfig) {
		test.Fatalf("expected invalid config, got %v", err)
	}
	if _, err := New(&blockingAPI{}, CredentialSlot{}); !errors.Is(err, ErrInvalidStoreConfig) {
		test.Fatalf("expected invalid config for empty slot, got %v", err)
	}
	if _, err := NewCredentialSlot(newMemoryStorage(), "  "); !errors.Is(err, ErrInvalidStoreConfig) {
		test.Fatalf("expected invalid config for blank key, got %v", err)
	}
}

func TestCredentialExpiry(test *testing.T) {
	test.Parallel()
	expiresAt := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "7",
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	})
	signed, err := token.SignedString([]byte("remote-secret"))
	if err != nil {
		test.Fatalf("sign: %v", err)
	}
	got, ok := CredentialExpiry(signed)
	if !ok || !got.Equal(expiresAt) {
		test.Fatalf("expected expiry %v, got %v (ok=%v)", expiresAt, got, ok)
	}
	if _, ok := CredentialExpiry("opaque-token"); ok {
		test.Fatalf("expected opaque credential to have no expiry")
	}
}

func TestStateString(test *testing.T) {
	test.Parallel()
	names := map[State]string{
		StateInitializing:  "initializing",
		StateAnonymous:     "anonymous",
		StateAuthenticated: "authenticated",
	}
	for state, name := range names {
		if state.String() != name {
			test.Fatalf(errorMismatchText, name, state.String())
		}
	}
	if !strings.HasPrefix(State(9).String(), "state(") {
		test.Fatalf("expected fallback name for unknown state")
	}
}
