package bankapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var requestValidator = newRequestValidator()

func newRequestValidator() *validator.Validate {
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

// ValidateLogin checks login input before any network call.
func ValidateLogin(request LoginRequest) error {
	return validateStruct(request)
}

// ValidateRegister checks registration input before any network call.
func ValidateRegister(request RegisterRequest) error {
	return validateStruct(request)
}

// ValidateProfileUpdate requires at least one field and no blank values.
func ValidateProfileUpdate(update ProfileUpdate) error {
	if update.Empty() {
		return fmt.Errorf("%w: no fields to update", ErrInvalidRequest)
	}
	violations := make([]string, 0, 3)
	for _, field := range []struct {
		name  string
		value *string
	}{
		{name: "firstName", value: update.FirstName},
		{name: "lastName", value: update.LastName},
		{name: "email", value: update.Email},
	} {
		if field.value != nil && strings.TrimSpace(*field.value) == "" {
			violations = append(violations, field.name+" must not be blank")
		}
	}
	if len(violations) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(violations, "; "))
	}
	return nil
}

func validateStruct(request any) error {
	err := requestValidator.Struct(request)
	if err == nil {
		return nil
	}
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	violations := make([]string, 0, len(fieldErrors))
	for _, fieldError := range fieldErrors {
		switch fieldError.Tag() {
		case "required":
			violations = append(violations, fieldError.Field()+" is required")
		case "min":
			violations = append(violations, fmt.Sprintf("%s must be at least %s characters", fieldError.Field(), fieldError.Param()))
		default:
			violations = append(violations, fieldError.Field()+" is invalid")
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(violations, "; "))
}

// Login exchanges email and password for a credential and the user's profile.
func (client *Client) Login(ctx context.Context, request LoginRequest) (AuthResponse, error) {
	if err := ValidateLogin(request); err != nil {
		return AuthResponse{}, err
	}
	var response AuthResponse
	if err := client.Perform(ctx, http.MethodPost, PathLogin, request, &response); err != nil {
		return AuthResponse{}, err
	}
	return response, nil
}

// Register creates an account and returns its credential and profile.
func (client *Client) Register(ctx context.Context, request RegisterRequest) (AuthResponse, error) {
	if err := ValidateRegister(request); err != nil {
		return AuthResponse{}, err
	}
	var response AuthResponse
	if err := client.Perform(ctx, http.MethodPost, PathRegister, request, &response); err != nil {
		return AuthResponse{}, err
	}
	return response, nil
}

// Profile fetches the current user.
func (client *Client) Profile(ctx context.Context) (User, error) {
	var envelope profileEnvelope
	if err := client.Perform(ctx, http.MethodGet, PathProfile, nil, &envelope); err != nil {
		return User{}, err
	}
	return envelope.resolve(), nil
}

// UpdateProfile applies a partial profile change and returns the updated user.
func (client *Client) UpdateProfile(ctx context.Context, update ProfileUpdate) (User, error) {
	if err := ValidateProfileUpdate(update); err != nil {
		return User{}, err
	}
	var envelope profileEnvelope
	if err := client.Perform(ctx, http.MethodPut, PathProfile, update, &envelope); err != nil {
		return User{}, err
	}
	return envelope.resolve(), nil
}

// Balance fetches the current user's account balance.
func (client *Client) Balance(ctx context.Context) (Balance, error) {
	var balance Balance
	if err := client.Perform(ctx, http.MethodGet, PathBalance, nil, &balance); err != nil {
		return Balance{}, err
	}
	return balance, nil
}

// RevokeCredential asks the remote service to invalidate the held credential.
func (client *Client) RevokeCredential(ctx context.Context) error {
	return client.Perform(ctx, http.MethodPost, PathLogout, nil, nil)
}
