package portal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/bankportal/pkg/bankapi"
	"github.com/MarkoPoloResearchLab/bankportal/pkg/session"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var errInvalidBrowserSession = errors.New("invalid browser session")

// cookieCodec signs and verifies the browser-session cookie. The cookie only
// names a session; the bank credential never leaves the server.
type cookieCodec struct {
	signingKey []byte
	issuer     string
	ttl        time.Duration
	clock      func() time.Time
}

func (codec cookieCodec) issue(sessionID string) (string, error) {
	now := codec.clock()
	claims := jwt.RegisteredClaims{
		Issuer:    codec.issuer,
		Subject:   sessionID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(codec.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(codec.signingKey)
}

func (codec cookieCodec) parse(raw string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		return codec.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(codec.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(codec.clock),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errInvalidBrowserSession, err)
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return "", fmt.Errorf("%w: subject", errInvalidBrowserSession)
	}
	return claims.Subject, nil
}

// browserSession is everything one browser owns: a Session Store and the API
// client reading that store's credential slot.
type browserSession struct {
	id       string
	store    *session.Store
	client   *bankapi.Client
	lastSeen time.Time
}

// registry maps browser-session ids to their stores. Only authenticated
// sessions are kept; anonymous browsers get a fresh store per request.
type registry struct {
	storage      session.CredentialStorage
	apiBaseURL   string
	httpClient   bankapi.HTTPDoer
	logger       *zap.Logger
	operationLog session.OperationLogger
	clock        func() time.Time
	mu           sync.Mutex
	sessions     map[string]*browserSession
}

func newRegistry(storage session.CredentialStorage, apiBaseURL string, httpClient bankapi.HTTPDoer, logger *zap.Logger, clock func() time.Time) *registry {
	return &registry{
		storage:      storage,
		apiBaseURL:   apiBaseURL,
		httpClient:   httpClient,
		logger:       logger,
		operationLog: session.NewZapOperationLogger(logger),
		clock:        clock,
		sessions:     make(map[string]*browserSession),
	}
}

// acquire returns the registered session for id, or builds and restores an
// unregistered one. A restored session picks up a credential persisted by an
// earlier process. Call settle once the request is done.
func (registry *registry) acquire(ctx context.Context, id string) (*browserSession, error) {
	if existing := registry.lookup(id); existing != nil {
		return existing, nil
	}
	slot, err := session.NewCredentialSlot(registry.storage, sessionCredentialKeyBase+id)
	if err != nil {
		return nil, err
	}
	client, err := bankapi.NewClient(registry.apiBaseURL,
		bankapi.WithHTTPClient(registry.httpClient),
		bankapi.WithCredentialSource(slot),
		bankapi.WithLogger(registry.logger),
	)
	if err != nil {
		return nil, err
	}
	store, err := session.Open(ctx, client, slot,
		session.WithLogger(registry.logger),
		session.WithOperationLogger(registry.operationLog),
	)
	if err != nil {
		return nil, err
	}
	return &browserSession{id: id, store: store, client: client, lastSeen: registry.clock()}, nil
}

// settle registers browser if it is authenticated and no session holds its id
// yet, and drops it once it is no longer authenticated.
func (registry *registry) settle(browser *browserSession) {
	authenticated := browser.store.Snapshot().Authenticated()
	registry.mu.Lock()
	defer registry.mu.Unlock()
	existing, registered := registry.sessions[browser.id]
	switch {
	case authenticated && !registered:
		browser.lastSeen = registry.clock()
		registry.sessions[browser.id] = browser
	case !authenticated && registered && existing == browser:
		delete(registry.sessions, browser.id)
	}
}

func (registry *registry) lookup(id string) *browserSession {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	existing, ok := registry.sessions[id]
	if !ok {
		return nil
	}
	existing.lastSeen = registry.clock()
	return existing
}

// evictIdle drops in-memory sessions unused for maxIdle. Persisted
// credentials stay in storage and are restored on the next request.
func (registry *registry) evictIdle(maxIdle time.Duration) int {
	cutoff := registry.clock().Add(-maxIdle)
	registry.mu.Lock()
	defer registry.mu.Unlock()
	evicted := 0
	for id, entry := range registry.sessions {
		if entry.lastSeen.Before(cutoff) {
			delete(registry.sessions, id)
			evicted++
		}
	}
	return evicted
}

func (registry *registry) size() int {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	return len(registry.sessions)
}

func (server *Server) setSessionCookie(writer http.ResponseWriter, sessionID string) error {
	value, err := server.cookies.issue(sessionID)
	if err != nil {
		return err
	}
	http.SetCookie(writer, &http.Cookie{
		Name:     server.cfg.SessionCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(server.cfg.SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   server.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}
