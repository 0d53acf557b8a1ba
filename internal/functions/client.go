package functions

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

	"github.com/taskilo/api/internal/services"
)

const (
	defaultTimeout            = 20 * time.Second
	defaultPaymentIntentsPath = "/api/create-payment-intent"
	maxResponseBytes          = 1 << 20
)

// Error reports a failed backend function call. Known statuses unwrap to the
// matching services sentinel so callers can branch with errors.Is.
type Error struct {
	Op         string
	HTTPStatus int
	Status     string
	Message    string
	kind       error
}

func (e *Error) Error() string {
	status := e.Status
	if status == "" {
		status = http.StatusText(e.HTTPStatus)
	}
	if e.Message == "" {
		return fmt.Sprintf("functions: %s: %s (%d)", e.Op, status, e.HTTPStatus)
	}
	return fmt.Sprintf("functions: %s: %s (%d): %s", e.Op, status, e.HTTPStatus, e.Message)
}

func (e *Error) Unwrap() error { return e.kind }

// Temporary reports whether the failure is worth a manual retry.
func (e *Error) Temporary() bool {
	return e.HTTPStatus >= http.StatusInternalServerError || e.Status == StatusUnavailable
}

// Client calls the backend functions on behalf of a checkout session.
type Client struct {
	baseURL            string
	paymentIntentsPath string
	http               *http.Client
	logger             func(context.Context, string, map[string]any)
}

var (
	_ services.DraftFunctions         = (*Client)(nil)
	_ services.CustomerFunctions      = (*Client)(nil)
	_ services.ProviderFunctions      = (*Client)(nil)
	_ services.PaymentIntentFunctions = (*Client)(nil)
)

// ClientConfig configures Client.
type ClientConfig struct {
	BaseURL            string
	PaymentIntentsPath string
	Timeout            time.Duration
	HTTPClient         *http.Client
	Logger             func(context.Context, string, map[string]any)
}

// NewClient validates the base URL and builds a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	u, err := url.Parse(base)
	if base == "" || err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("functions: invalid base url %q", cfg.BaseURL)
	}
	path := strings.TrimSpace(cfg.PaymentIntentsPath)
	if path == "" {
		path = defaultPaymentIntentsPath
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &Client{
		baseURL:            base,
		paymentIntentsPath: "/" + strings.TrimLeft(path, "/"),
		http:               httpClient,
		logger:             logger,
	}, nil
}

// CreateTemporaryJobDraft calls the createTemporaryJobDraft callable.
func (c *Client) CreateTemporaryJobDraft(ctx context.Context, caller services.Caller, input services.BookingInput) (services.Draft, error) {
	var result DraftResult
	if err := c.callable(ctx, "createTemporaryJobDraft", CreateTemporaryJobDraftPath, caller, NewDraftPayload(input), &result); err != nil {
		return services.Draft{}, err
	}
	return services.Draft{
		ID:               strings.TrimSpace(result.TempDraftID),
		ProviderPayoutID: strings.TrimSpace(result.AnbieterStripeAccountID),
	}, nil
}

// GetOrCreateStripeCustomer calls the getOrCreateStripeCustomer callable.
func (c *Client) GetOrCreateStripeCustomer(ctx context.Context, caller services.Caller, req services.CustomerIdentityRequest) (string, error) {
	payload := CustomerPayload{
		Email: req.Email,
		Name:  req.Name,
		Phone: req.Phone,
	}
	if req.Address != nil {
		payload.Address = NewAddressPayload(*req.Address)
	}
	var result CustomerResult
	if err := c.callable(ctx, "getOrCreateStripeCustomer", GetOrCreateStripeCustomerPath, caller, payload, &result); err != nil {
		return "", err
	}
	id := strings.TrimSpace(result.StripeCustomerID)
	if id == "" {
		return "", &Error{Op: "getOrCreateStripeCustomer", HTTPStatus: http.StatusOK, Status: StatusInternal, Message: "response missing stripeCustomerId"}
	}
	return id, nil
}

// SearchCompanyProfile fetches the public profile of one provider.
func (c *Client) SearchCompanyProfile(ctx context.Context, providerID string) (services.ProviderProfile, error) {
	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return services.ProviderProfile{}, services.ErrProviderNotFound
	}
	endpoint := c.baseURL + SearchCompanyProfilesPath + "?" + url.Values{"id": {providerID}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return services.ProviderProfile{}, err
	}
	req.Header.Set("Accept", "application/json")

	var profile CompanyProfile
	if err := c.do(req, "searchCompanyProfiles", &profile); err != nil {
		return services.ProviderProfile{}, err
	}
	out := profile.Profile()
	if out.ID == "" {
		out.ID = providerID
	}
	return out, nil
}

// CreatePaymentIntent posts to the payment intent endpoint with the caller's ID token.
func (c *Client) CreatePaymentIntent(ctx context.Context, caller services.Caller, in services.PaymentIntentRequest) (string, error) {
	payload := PaymentIntentPayload{
		Amount:             in.Amount,
		Currency:           in.Currency,
		ConnectedAccountID: in.ConnectedAccountID,
		TaskID:             in.TaskID,
		FirebaseUserID:     in.FirebaseUserID,
		StripeCustomerID:   in.StripeCustomerID,
		CustomerName:       in.CustomerName,
		CustomerEmail:      in.CustomerEmail,
		BillingDetails:     NewBillingDetailsPayload(in.BillingDetails),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.paymentIntentsPath, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	setBearer(req, caller)

	var resp PaymentIntentResponse
	if err := c.do(req, "createPaymentIntent", &resp); err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.ClientSecret), nil
}

func (c *Client) callable(ctx context.Context, op, path string, caller services.Caller, data, result any) error {
	encoded, err := json.Marshal(data)
	if err != nil {
		return err
	}
	body, err := json.Marshal(callableRequest{Data: encoded})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	setBearer(req, caller)

	var envelope callableResponse
	if err := c.do(req, op, &envelope); err != nil {
		return err
	}
	if envelope.Error != nil {
		return newError(op, http.StatusOK, envelope.Error.Status, envelope.Error.Message)
	}
	if len(envelope.Result) == 0 {
		return &Error{Op: op, HTTPStatus: http.StatusOK, Status: StatusInternal, Message: "response missing result"}
	}
	if err := json.Unmarshal(envelope.Result, result); err != nil {
		return fmt.Errorf("functions: %s: decode result: %w", op, err)
	}
	return nil
}

// do executes req and decodes a 2xx body into out. Error bodies may be a callable
// envelope, an API error envelope or a bare {"error": "message"}.
func (c *Client) do(req *http.Request, op string, out any) error {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger(req.Context(), "functions.call_failed", map[string]any{"op": op, "error": err.Error()})
		return fmt.Errorf("functions: %s: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("functions: %s: read response: %w", op, err)
	}
	c.logger(req.Context(), "functions.call", map[string]any{
		"op":      op,
		"status":  resp.StatusCode,
		"latency": time.Since(start),
	})

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		status, message := parseErrorBody(data)
		return newError(op, resp.StatusCode, status, message)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("functions: %s: decode response: %w", op, err)
	}
	return nil
}

func parseErrorBody(data []byte) (string, string) {
	var body struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return "", strings.TrimSpace(string(bytes.TrimSpace(data[:min(len(data), 256)])))
	}
	var nested callableError
	if err := json.Unmarshal(body.Error, &nested); err == nil && (nested.Status != "" || nested.Message != "") {
		return nested.Status, nested.Message
	}
	var code string
	if err := json.Unmarshal(body.Error, &code); err == nil {
		if body.Message != "" {
			return "", body.Message
		}
		return "", code
	}
	return "", body.Message
}

func newError(op string, httpStatus int, status, message string) *Error {
	if status == "" {
		status = statusForHTTP(httpStatus)
	}
	return &Error{
		Op:         op,
		HTTPStatus: httpStatus,
		Status:     status,
		Message:    message,
		kind:       sentinelFor(op, status),
	}
}

func statusForHTTP(code int) string {
	switch code {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return StatusInvalidArgument
	case http.StatusPreconditionFailed:
		return StatusFailedPrecondition
	case http.StatusUnauthorized:
		return StatusUnauthenticated
	case http.StatusForbidden:
		return StatusPermissionDenied
	case http.StatusNotFound:
		return StatusNotFound
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return StatusUnavailable
	default:
		return StatusInternal
	}
}

func sentinelFor(op, status string) error {
	switch status {
	case StatusUnauthenticated:
		return services.ErrAuthenticationRequired
	case StatusFailedPrecondition:
		if op == "createTemporaryJobDraft" || op == "createPaymentIntent" {
			return services.ErrProviderNotPayable
		}
	case StatusInvalidArgument:
		switch op {
		case "createTemporaryJobDraft":
			return services.ErrBookingRequiredFieldMissing
		case "getOrCreateStripeCustomer":
			return services.ErrCustomerInvalidInput
		case "createPaymentIntent":
			return services.ErrPaymentIntentInvalidInput
		}
	case StatusNotFound:
		if op == "searchCompanyProfiles" {
			return services.ErrProviderNotFound
		}
	}
	return nil
}

func setBearer(req *http.Request, caller services.Caller) {
	if token := strings.TrimSpace(caller.IDToken); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}
