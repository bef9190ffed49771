// Package session owns "who is logged in": the bearer credential and the
// identity it belongs to. A Store is built explicitly and injected wherever it
// is needed; there is no process-wide instance.
//
// Lifecycle: a new Store is Initializing. Restore checks the persisted
// credential against the remote API and moves to Authenticated or Anonymous.
// Login and Register move Anonymous to Authenticated; Logout always returns to
// Anonymous. Only one login, register or restore may be in flight at a time.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/MarkoPoloResearchLab/bankportal/pkg/bankapi"
	"go.uber.org/zap"
)

// State enumerates the session lifecycle.
type State int

const (
	StateInitializing State = iota
	StateAnonymous
	StateAuthenticated
)

// String returns the lowercase state name.
func (state State) String() string {
	switch state {
	case StateInitializing:
		return "initializing"
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("state(%d)", int(state))
	}
}

// API is the subset of the remote API the Store drives. *bankapi.Client implements it.
type API interface {
	Login(ctx context.Context, request bankapi.LoginRequest) (bankapi.AuthResponse, error)
	Register(ctx context.Context, request bankapi.RegisterRequest) (bankapi.AuthResponse, error)
	Profile(ctx context.Context) (bankapi.User, error)
	UpdateProfile(ctx context.Context, update bankapi.ProfileUpdate) (bankapi.User, error)
}

// Snapshot is a consistent view of the store at one instant.
type Snapshot struct {
	State         State
	Identity      *bankapi.User
	HasCredential bool
}

// Authenticated reports whether the snapshot holds a credential and identity.
func (snapshot Snapshot) Authenticated() bool {
	return snapshot.State == StateAuthenticated
}

// Store is the single source of truth for one client's session.
type Store struct {
	api             API
	slot            CredentialSlot
	logger          *zap.Logger
	operationLogger OperationLogger

	mu         sync.RWMutex
	state      State
	credential string
	identity   *bankapi.User

	authInFlight atomic.Bool
}

// New wires a Store in the Initializing state. Call Restore before use.
func New(api API, slot CredentialSlot, options ...StoreOption) (*Store, error) {
	if api == nil {
		return nil, fmt.Errorf("%w: api dependency is nil", ErrInvalidStoreConfig)
	}
	if !slot.valid() {
		return nil, fmt.Errorf("%w: credential slot is not configured", ErrInvalidStoreConfig)
	}
	store := &Store{
		api:    api,
		slot:   slot,
		logger: zap.NewNop(),
		state:  StateInitializing,
	}
	for _, option := range options {
		if option != nil {
			option(store)
		}
	}
	if store.logger == nil {
		store.logger = zap.NewNop()
	}
	return store, nil
}

// Open builds a Store and runs startup validation.
func Open(ctx context.Context, api API, slot CredentialSlot, options ...StoreOption) (*Store, error) {
	store, err := New(api, slot, options...)
	if err != nil {
		return nil, err
	}
	if err := store.Restore(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// Snapshot returns the current state, a copy of the identity and whether a credential is held.
func (store *Store) Snapshot() Snapshot {
	store.mu.RLock()
	defer store.mu.RUnlock()
	snapshot := Snapshot{State: store.state, HasCredential: store.credential != ""}
	if store.identity != nil {
		identity := *store.identity
		snapshot.Identity = &identity
	}
	return snapshot
}

// State returns the current lifecycle state.
func (store *Store) State() State {
	store.mu.RLock()
	defer store.mu.RUnlock()
	return store.state
}

// Identity returns a copy of the logged-in user, if any.
func (store *Store) Identity() (bankapi.User, bool) {
	snapshot := store.Snapshot()
	if snapshot.Identity == nil {
		return bankapi.User{}, false
	}
	return *snapshot.Identity, true
}

// Credential returns the in-memory credential, "" when anonymous.
func (store *Store) Credential() string {
	store.mu.RLock()
	defer store.mu.RUnlock()
	return store.credential
}

// Restore validates a persisted credential by fetching the profile with it.
// A rejected credential is discarded silently and the store becomes Anonymous.
// Cancellation of ctx leaves the store Initializing so Restore can be retried.
// Restore is a no-op once the store has left Initializing.
func (store *Store) Restore(ctx context.Context) error {
	if !store.beginAuth() {
		return ErrAuthInProgress
	}
	defer store.endAuth()

	if store.State() != StateInitializing {
		return nil
	}

	credential, found, err := store.slot.Load(ctx)
	if err != nil {
		wrapped := bankapi.WrapError(operationRestore, subjectSession, codeStorage, err)
		store.setAnonymous()
		store.logOperation(ctx, OperationLog{Operation: operationRestore, Status: statusError, Error: wrapped})
		return wrapped
	}
	if !found {
		store.setAnonymous()
		store.logOperation(ctx, OperationLog{Operation: operationRestore, Status: statusOK})
		return nil
	}

	user, err := store.api.Profile(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if clearErr := store.slot.Clear(ctx); clearErr != nil {
			store.logger.Warn("discard stored credential", zap.String("key", store.slot.Key()), zap.Error(clearErr))
		}
		store.setAnonymous()
		store.logger.Info("stored credential rejected", zap.Int("status", bankapi.StatusCode(err)), zap.Error(err))
		store.logOperation(ctx, OperationLog{Operation: operationRestore, Status: statusDiscarded, Error: err})
		return nil
	}

	store.setAuthenticated(credential, user)
	store.logOperation(ctx, OperationLog{Operation: operationRestore, Status: statusOK, UserID: user.ID, Email: user.Email})
	return nil
}

// Login authenticates with email and password. On failure nothing changes.
func (store *Store) Login(ctx context.Context, email string, password string) (bankapi.AuthResponse, error) {
	request := bankapi.LoginRequest{Email: email, Password: password}
	return store.authenticate(ctx, operationLogin, email, func(ctx context.Context) (bankapi.AuthResponse, error) {
		if err := bankapi.ValidateLogin(request); err != nil {
			return bankapi.AuthResponse{}, err
		}
		return store.api.Login(ctx, request)
	})
}

// Register creates an account and logs into it. On failure nothing changes.
func (store *Store) Register(ctx context.Context, request bankapi.RegisterRequest) (bankapi.AuthResponse, error) {
	return store.authenticate(ctx, operationRegister, request.Email, func(ctx context.Context) (bankapi.AuthResponse, error) {
		if err := bankapi.ValidateRegister(request); err != nil {
			return bankapi.AuthResponse{}, err
		}
		return store.api.Register(ctx, request)
	})
}

// Logout discards the persisted credential and the in-memory identity.
// It cannot fail: a storage error is logged and the store still ends Anonymous.
func (store *Store) Logout(ctx context.Context) {
	if err := store.slot.Clear(ctx); err != nil {
		store.logger.Warn("remove stored credential", zap.String("key", store.slot.Key()), zap.Error(err))
	}
	previous := store.setAnonymous()
	entry := OperationLog{Operation: operationLogout, Status: statusOK, State: StateAnonymous}
	if previous != nil {
		entry.UserID = previous.ID
		entry.Email = previous.Email
	}
	store.logOperation(ctx, entry)
}

// UpdateProfile sends a partial profile change. The held identity is replaced
// only when the remote call succeeds and the store is still Authenticated.
func (store *Store) UpdateProfile(ctx context.Context, update bankapi.ProfileUpdate) (bankapi.User, error) {
	if !store.Snapshot().Authenticated() {
		return bankapi.User{}, ErrNotAuthenticated
	}
	if err := bankapi.ValidateProfileUpdate(update); err != nil {
		return bankapi.User{}, err
	}
	user, err := store.api.UpdateProfile(ctx, update)
	if err != nil {
		store.logOperation(ctx, OperationLog{Operation: operationUpdateProfile, Status: statusError, Error: err})
		return bankapi.User{}, err
	}
	store.mu.Lock()
	if store.state == StateAuthenticated {
		identity := user
		store.identity = &identity
	}
	store.mu.Unlock()
	store.logOperation(ctx, OperationLog{Operation: operationUpdateProfile, Status: statusOK, UserID: user.ID, Email: user.Email})
	return user, nil
}

func (store *Store) authenticate(ctx context.Context, operation string, email string, call func(ctx context.Context) (bankapi.AuthResponse, error)) (bankapi.AuthResponse, error) {
	if !store.beginAuth() {
		store.logOperation(ctx, OperationLog{Operation: operation, Status: statusError, Email: email, Error: ErrAuthInProgress})
		return bankapi.AuthResponse{}, ErrAuthInProgress
	}
	defer store.endAuth()

	response, err := call(ctx)
	if err != nil {
		store.logOperation(ctx, OperationLog{Operation: operation, Status: statusError, Email: email, Error: err})
		return bankapi.AuthResponse{}, err
	}
	credential := strings.TrimSpace(response.AccessToken)
	if credential == "" {
		wrapped := bankapi.WrapError(operation, subjectSession, codeCredential, ErrMissingCredential)
		store.logOperation(ctx, OperationLog{Operation: operation, Status: statusError, Email: email, Error: wrapped})
		return bankapi.AuthResponse{}, wrapped
	}
	if err := store.slot.Save(ctx, credential); err != nil {
		wrapped := bankapi.WrapError(operation, subjectSession, codeStorage, err)
		store.logOperation(ctx, OperationLog{Operation: operation, Status: statusError, Email: email, Error: wrapped})
		return bankapi.AuthResponse{}, wrapped
	}
	store.setAuthenticated(credential, response.User)
	store.logOperation(ctx, OperationLog{Operation: operation, Status: statusOK, UserID: response.User.ID, Email: response.User.Email})
	return response, nil
}

func (store *Store) beginAuth() bool {
	return store.authInFlight.CompareAndSwap(false, true)
}

func (store *Store) endAuth() {
	store.authInFlight.Store(false)
}

func (store *Store) setAuthenticated(credential string, user bankapi.User) {
	store.mu.Lock()
	defer store.mu.Unlock()
	identity := user
	store.state = StateAuthenticated
	store.credential = credential
	store.identity = &identity
}

// setAnonymous clears the pair and returns the identity that was held.
func (store *Store) setAnonymous() *bankapi.User {
	store.mu.Lock()
	defer store.mu.Unlock()
	previous := store.identity
	store.state = StateAnonymous
	store.credential = ""
	store.identity = nil
	return previous
}

func (store *Store) logOperation(ctx context.Context, entry OperationLog) {
	if store.operationLogger == nil {
		return
	}
	if entry.State == StateInitializing {
		entry.State = store.State()
	}
	store.operationLogger.LogOperation(ctx, entry)
}

// IsAuthInProgress reports whether err is the single-flight rejection.
func IsAuthInProgress(err error) bool {
	return errors.Is(err, ErrAuthInProgress)
}
