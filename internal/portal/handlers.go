package portal

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/MarkoPoloResearchLab/bankportal/internal/customers"
	"github.com/MarkoPoloResearchLab/bankportal/pkg/bankapi"
	"github.com/MarkoPoloResearchLab/bankportal/pkg/session"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func (server *Server) sessionMiddleware(ctx *gin.Context) {
	sessionID := ""
	if raw, err := ctx.Cookie(server.cfg.SessionCookieName); err == nil {
		parsed, parseErr := server.cookies.parse(raw)
		if parseErr != nil {
			server.logger.Debug("discarding browser session cookie", zap.Error(parseErr))
		} else {
			sessionID = parsed
		}
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
		if err := server.setSessionCookie(ctx.Writer, sessionID); err != nil {
			server.logger.Error("issue session cookie", zap.Error(err))
			ctx.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse(codeInternal, "session cookie unavailable"))
			return
		}
	}
	browser, err := server.sessions.acquire(ctx.Request.Context(), sessionID)
	if err != nil {
		server.logger.Error("restore browser session", zap.String("session_id", sessionID), zap.Error(err))
		ctx.AbortWithStatusJSON(http.StatusServiceUnavailable, errorResponse(codeSessionUnavailable, "session storage unavailable"))
		return
	}
	ctx.Set(contextKeyBrowserSession, browser)
	ctx.Next()
	server.sessions.settle(browser)
}

func browserSessionFrom(ctx *gin.Context) *browserSession {
	value, ok := ctx.Get(contextKeyBrowserSession)
	if !ok {
		return nil
	}
	browser, _ := value.(*browserSession)
	return browser
}

func (server *Server) remoteContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), server.cfg.APITimeout)
}

func (server *Server) handleSession(ctx *gin.Context) {
	browser := browserSessionFrom(ctx)
	snapshot := browser.store.Snapshot()
	response := sessionResponse{
		State:         snapshot.State.String(),
		Authenticated: snapshot.Authenticated(),
		User:          snapshot.Identity,
	}
	if snapshot.Identity != nil {
		response.DisplayName = snapshot.Identity.DisplayName()
	}
	if expiresAt, ok := session.CredentialExpiry(browser.store.Credential()); ok {
		response.CredentialExpiresAt = &expiresAt
	}
	ctx.JSON(http.StatusOK, response)
}

func (server *Server) handleLogin(ctx *gin.Context) {
	var request loginRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(codeInvalidPayload, "expected JSON body"))
		return
	}
	requestCtx, cancel := server.remoteContext(ctx)
	defer cancel()
	response, err := browserSessionFrom(ctx).store.Login(requestCtx, request.Email, request.Password)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, authResponse{Message: response.Message, User: response.User})
}

func (server *Server) handleRegister(ctx *gin.Context) {
	var request bankapi.RegisterRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(codeInvalidPayload, "expected JSON body"))
		return
	}
	requestCtx, cancel := server.remoteContext(ctx)
	defer cancel()
	response, err := browserSessionFrom(ctx).store.Register(requestCtx, request)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, authResponse{Message: response.Message, User: response.User})
}

// handleLogout revokes the credential remotely when possible, then always
// ends the local session.
func (server *Server) handleLogout(ctx *gin.Context) {
	browser := browserSessionFrom(ctx)
	if browser.store.Snapshot().HasCredential {
		requestCtx, cancel := server.remoteContext(ctx)
		if err := browser.client.RevokeCredential(requestCtx); err != nil {
			server.logger.Info("remote logout failed", zap.Error(err))
		}
		cancel()
	}
	browser.store.Logout(ctx.Request.Context())
	ctx.JSON(http.StatusOK, gin.H{"status": "logged_out"})
}

// handleDashboard fetches profile and balance concurrently.
func (server *Server) handleDashboard(ctx *gin.Context) {
	browser := browserSessionFrom(ctx)
	if !browser.store.Snapshot().Authenticated() {
		server.respondError(ctx, session.ErrNotAuthenticated)
		return
	}
	requestCtx, cancel := server.remoteContext(ctx)
	defer cancel()

	var (
		user    bankapi.User
		balance bankapi.Balance
	)
	group, groupCtx := errgroup.WithContext(requestCtx)
	group.Go(func() error {
		var err error
		user, err = browser.client.Profile(groupCtx)
		return err
	})
	group.Go(func() error {
		var err error
		balance, err = browser.client.Balance(groupCtx)
		return err
	})
	if err := group.Wait(); err != nil {
		var apiError *bankapi.APIError
		if errors.As(err, &apiError) && apiError.Unauthorized() {
			browser.store.Logout(ctx.Request.Context())
		}
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, dashboardResponse{User: user, Balance: server.balanceView(balance)})
}

func (server *Server) handleUpdateProfile(ctx *gin.Context) {
	var update bankapi.ProfileUpdate
	if err := ctx.ShouldBindJSON(&update); err != nil && !errors.Is(err, io.EOF) {
		ctx.JSON(http.StatusBadRequest, errorResponse(codeInvalidPayload, "expected JSON body"))
		return
	}
	requestCtx, cancel := server.remoteContext(ctx)
	defer cancel()
	user, err := browserSessionFrom(ctx).store.UpdateProfile(requestCtx, update)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, profileResponse{Message: "Profile updated", User: user})
}

func (server *Server) handleListCustomers(ctx *gin.Context) {
	list, err := server.customers.List(ctx.Request.Context())
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	views := make([]customerView, 0, len(list))
	for _, customer := range list {
		views = append(views, server.customerView(customer))
	}
	ctx.JSON(http.StatusOK, customerListResponse{Customers: views})
}

func (server *Server) handleGetCustomer(ctx *gin.Context) {
	id, ok := server.customerID(ctx)
	if !ok {
		return
	}
	customer, err := server.customers.Get(ctx.Request.Context(), id)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, server.customerView(customer))
}

func (server *Server) handleCreateCustomer(ctx *gin.Context) {
	var input customers.Input
	if err := ctx.ShouldBindJSON(&input); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(codeInvalidPayload, "expected JSON body"))
		return
	}
	customer, err := server.customers.Create(ctx.Request.Context(), input)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, server.customerView(customer))
}

func (server *Server) handleUpdateCustomer(ctx *gin.Context) {
	id, ok := server.customerID(ctx)
	if !ok {
		return
	}
	var input customers.Input
	if err := ctx.ShouldBindJSON(&input); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(codeInvalidPayload, "expected JSON body"))
		return
	}
	customer, err := server.customers.Update(ctx.Request.Context(), id, input)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, server.customerView(customer))
}

func (server *Server) handleDeleteCustomer(ctx *gin.Context) {
	id, ok := server.customerID(ctx)
	if !ok {
		return
	}
	if err := server.customers.Delete(ctx.Request.Context(), id); err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (server *Server) customerID(ctx *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		ctx.JSON(http.StatusBadRequest, errorResponse(codeInvalidRequest, "customer id must be a positive integer"))
		return 0, false
	}
	return id, true
}

func (server *Server) customerView(customer customers.Customer) customerView {
	return customerView{
		ID:        customer.ID,
		FirstName: customer.FirstName,
		LastName:  customer.LastName,
		Email:     customer.Email,
		Balance:   server.balanceView(customer.Balance()),
		Badge:     customer.Badge(),
	}
}

// balanceView falls back to the raw amount when the balance cannot be localized.
func (server *Server) balanceView(balance bankapi.Balance) balanceView {
	formatted, err := balance.Format(server.language)
	if err != nil {
		server.logger.Warn("format balance", zap.String("amount", balance.AccountBalance), zap.String("currency", balance.Currency), zap.Error(err))
		formatted = balance.AccountBalance + " " + balance.Currency
	}
	return balanceView{
		AccountBalance: balance.AccountBalance,
		Currency:       balance.Currency,
		Formatted:      formatted,
	}
}
