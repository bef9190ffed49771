// Package bankapi is the single chokepoint for calls to the remote banking API.
//
// Request bodies are written by callers in lowerCamel convention and sent on
// the wire in snake_case; responses travel the opposite way. A credential, when
// one is held, is read from the configured CredentialSource on every call and
// attached as a bearer token.
package bankapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/bankportal/pkg/keycase"
	"go.uber.org/zap"
)

// HTTPDoer executes HTTP requests. *http.Client satisfies it.
type HTTPDoer interface {
	Do(request *http.Request) (*http.Response, error)
}

// CredentialSource yields the bearer credential currently held, or "" when anonymous.
type CredentialSource interface {
	Credential(ctx context.Context) (string, error)
}

// CredentialSourceFunc adapts a function to CredentialSource.
type CredentialSourceFunc func(ctx context.Context) (string, error)

// Credential calls the wrapped function.
func (sourceFunc CredentialSourceFunc) Credential(ctx context.Context) (string, error) {
	return sourceFunc(ctx)
}

// ClientOption configures a Client instance.
type ClientOption func(*Client)

// WithHTTPClient replaces the HTTP transport.
func WithHTTPClient(httpClient HTTPDoer) ClientOption {
	return func(client *Client) {
		client.httpClient = httpClient
	}
}

// WithCredentialSource wires the source consulted before every request.
func WithCredentialSource(source CredentialSource) ClientOption {
	return func(client *Client) {
		client.credentials = source
	}
}

// WithLogger sets the request logger.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(client *Client) {
		client.logger = logger
	}
}

// WithMaxResponseBytes caps how much of a response body is read.
func WithMaxResponseBytes(limit int64) ClientOption {
	return func(client *Client) {
		client.maxResponseBytes = limit
	}
}

// Client talks JSON to the remote banking API.
type Client struct {
	baseURL          string
	httpClient       HTTPDoer
	credentials      CredentialSource
	logger           *zap.Logger
	maxResponseBytes int64
}

// NewClient builds a Client rooted at baseURL. An empty baseURL selects DefaultBaseURL.
func NewClient(baseURL string, options ...ClientOption) (*Client, error) {
	normalized := strings.TrimSpace(baseURL)
	if normalized == "" {
		normalized = DefaultBaseURL
	}
	parsed, err := url.Parse(normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: base url: %w", ErrInvalidClientSetup, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("%w: base url scheme must be http or https", ErrInvalidClientSetup)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("%w: base url host is empty", ErrInvalidClientSetup)
	}
	client := &Client{
		baseURL:          strings.TrimRight(normalized, "/"),
		httpClient:       http.DefaultClient,
		logger:           zap.NewNop(),
		maxResponseBytes: defaultMaxResponseBytes,
	}
	for _, option := range options {
		if option != nil {
			option(client)
		}
	}
	if client.httpClient == nil {
		return nil, fmt.Errorf("%w: http client is nil", ErrInvalidClientSetup)
	}
	if client.logger == nil {
		client.logger = zap.NewNop()
	}
	if client.maxResponseBytes <= 0 {
		client.maxResponseBytes = defaultMaxResponseBytes
	}
	return client, nil
}

// BaseURL returns the normalized API root.
func (client *Client) BaseURL() string {
	return client.baseURL
}

// Perform sends one request and decodes the response into out.
//
// endpoint is joined to the base URL unless it is already an absolute http(s)
// URL. body, when non-nil, is marshaled and its keys rewritten to snake_case.
// The response keys are rewritten back to lowerCamel before decoding into out;
// a nil out discards the body. A non-2xx status yields *APIError.
func (client *Client) Perform(ctx context.Context, method string, endpoint string, body any, out any) error {
	requestURL, err := client.resolveURL(endpoint)
	if err != nil {
		return err
	}

	requestBody := io.Reader(http.NoBody)
	if body != nil {
		payload, err := encodeWireBody(body)
		if err != nil {
			return WrapError(operationRequest, subjectBody, codeEncode, err)
		}
		requestBody = bytes.NewReader(payload)
	}

	request, err := http.NewRequestWithContext(ctx, strings.ToUpper(strings.TrimSpace(method)), requestURL, requestBody)
	if err != nil {
		return WrapError(operationRequest, subjectEndpoint, codeBuild, fmt.Errorf("%w: %w", ErrInvalidEndpoint, err))
	}
	request.Header.Set(headerContentType, contentTypeJSON)
	request.Header.Set(headerAccept, contentTypeJSON)

	credential, err := client.readCredential(ctx)
	if err != nil {
		return WrapError(operationRequest, subjectCredential, codeRead, err)
	}
	if credential != "" {
		request.Header.Set(headerAuthorization, bearerPrefix+credential)
	}

	startedAt := time.Now()
	response, err := client.httpClient.Do(request)
	if err != nil {
		client.logger.Debug("bankapi request failed",
			zap.String("method", request.Method),
			zap.String("url", requestURL),
			zap.Error(err),
		)
		return WrapError(operationRequest, subjectTransport, codeNetwork, fmt.Errorf("%w: %w", ErrNetwork, err))
	}
	defer response.Body.Close()

	client.logger.Debug("bankapi request",
		zap.String("method", request.Method),
		zap.String("url", requestURL),
		zap.Int("status", response.StatusCode),
		zap.Bool("authenticated", credential != ""),
		zap.Duration("elapsed", time.Since(startedAt)),
	)

	payload, err := client.readBody(response.Body)
	if err != nil {
		return err
	}
	callerPayload := keycase.ToCaller(payload)

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return newAPIError(response.StatusCode, callerPayload)
	}
	if out == nil || callerPayload == nil {
		return nil
	}
	return decodeInto(callerPayload, out)
}

func (client *Client) resolveURL(endpoint string) (string, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return "", WrapError(operationRequest, subjectEndpoint, codeInvalid, fmt.Errorf("%w: empty value", ErrInvalidEndpoint))
	}
	lowered := strings.ToLower(trimmed)
	if strings.HasPrefix(lowered, "http://") || strings.HasPrefix(lowered, "https://") {
		return trimmed, nil
	}
	return client.baseURL + "/" + strings.TrimLeft(trimmed, "/"), nil
}

func (client *Client) readCredential(ctx context.Context) (string, error) {
	if client.credentials == nil {
		return "", nil
	}
	credential, err := client.credentials.Credential(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCredentialSource, err)
	}
	return strings.TrimSpace(credential), nil
}

func (client *Client) readBody(body io.Reader) (any, error) {
	raw, err := io.ReadAll(io.LimitReader(body, client.maxResponseBytes+1))
	if err != nil {
		return nil, WrapError(operationResponse, subjectBody, codeRead, fmt.Errorf("%w: %w", ErrNetwork, err))
	}
	if int64(len(raw)) > client.maxResponseBytes {
		return nil, WrapError(operationResponse, subjectBody, codeLimit, fmt.Errorf("%w: limit %d bytes", ErrResponseTooLarge, client.maxResponseBytes))
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	payload, err := decodeTree(raw)
	if err != nil {
		return nil, WrapError(operationResponse, subjectBody, codeDecode, fmt.Errorf("%w: %w", ErrDecodeResponse, err))
	}
	return payload, nil
}

func encodeWireBody(body any) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	tree, err := decodeTree(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return json.Marshal(keycase.ToWire(tree))
}

func decodeTree(raw []byte) (any, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var tree any
	if err := decoder.Decode(&tree); err != nil {
		return nil, err
	}
	if decoder.More() {
		return nil, fmt.Errorf("unexpected data after top-level value")
	}
	return tree, nil
}

func decodeInto(tree any, out any) error {
	raw, err := json.Marshal(tree)
	if err != nil {
		return WrapError(operationResponse, subjectBody, codeDecode, fmt.Errorf("%w: %w", ErrDecodeResponse, err))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return WrapError(operationResponse, subjectBody, codeDecode, fmt.Errorf("%w: %w", ErrDecodeResponse, err))
	}
	return nil
}
