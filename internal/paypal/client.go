package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Freeeeeet/frontdesk/internal/model"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("frontdesk.internal.paypal")

// tokenSkew refreshes the token a little before PayPal revokes it
const tokenSkew = time.Minute

type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	ReturnURL    string
	CancelURL    string
}

// Client talks to the PayPal Orders v2 API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger

	mu        sync.Mutex
	token     string
	expiresAt time.Time
	now       func() time.Time
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
		now:        time.Now,
	}
}

// APIError is a non-2xx answer from PayPal.
type APIError struct {
	StatusCode int
	Name       string `json:"name"`
	Message    string `json:"message"`
	Details    []struct {
		Issue string `json:"issue"`
	} `json:"details"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("paypal: status %d: %s %s", e.StatusCode, e.Name, e.Message)
}

// Retryable reports whether the same call may succeed later
func (e *APIError) Retryable() bool {
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
}

func (e *APIError) hasIssue(issue string) bool {
	for _, d := range e.Details {
		if d.Issue == issue {
			return true
		}
	}
	return false
}

type money struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type link struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type orderResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Links  []link `json:"links"`
	Payer  struct {
		PayerID string `json:"payer_id"`
	} `json:"payer"`
	PurchaseUnits []struct {
		ReferenceID string `json:"reference_id"`
		CustomID    string `json:"custom_id"`
		Payments    struct {
			Captures []struct {
				ID     string `json:"id"`
				Status string `json:"status"`
				Amount money  `json:"amount"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

// CreateOrder opens a CAPTURE order for the folio and returns the payer approval link
func (c *Client) CreateOrder(ctx context.Context, folio int64, amountCents int64, currency string) (*model.ExternalOrder, error) {
	ctx, span := tracer.Start(ctx, "paypal.create_order")
	defer span.End()
	span.SetAttributes(attribute.Int64("frontdesk.folio", folio), attribute.Int64("frontdesk.amount_cents", amountCents))

	ref := strconv.FormatInt(folio, 10)
	body := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"reference_id": ref,
			"custom_id":    ref,
			"description":  "Consultation folio " + ref,
			"amount":       money{CurrencyCode: currency, Value: FormatAmount(amountCents)},
		}},
		"application_context": map[string]any{
			"return_url":  c.cfg.ReturnURL,
			"cancel_url":  c.cfg.CancelURL,
			"user_action": "PAY_NOW",
		},
	}

	var resp orderResponse
	if err := c.do(ctx, http.MethodPost, "/v2/checkout/orders", uuid.NewString(), body, &resp); err != nil {
		return nil, err
	}

	approval := ""
	for _, l := range resp.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			approval = l.Href
			break
		}
	}
	if resp.ID == "" || approval == "" {
		return nil, fmt.Errorf("paypal: order response missing id or approval link")
	}

	c.logger.Info("PayPal order created", zap.Int64("folio", folio), zap.String("order_id", resp.ID))
	return &model.ExternalOrder{OrderID: resp.ID, ApprovalURL: approval}, nil
}

// CaptureOrder captures an approved order. An order captured earlier is read back
// instead, so a retried capture reports the same capture id.
func (c *Client) CaptureOrder(ctx context.Context, orderID string) (*model.ExternalCapture, error) {
	ctx, span := tracer.Start(ctx, "paypal.capture_order")
	defer span.End()
	span.SetAttributes(attribute.String("frontdesk.order_id", orderID))

	path := "/v2/checkout/orders/" + url.PathEscape(orderID)

	var resp orderResponse
	err := c.do(ctx, http.MethodPost, path+"/capture", "capture-"+orderID, struct{}{}, &resp)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnprocessableEntity && apiErr.hasIssue("ORDER_ALREADY_CAPTURED") {
		c.logger.Info("PayPal order already captured, reading it back", zap.String("order_id", orderID))
		resp = orderResponse{}
		err = c.do(ctx, http.MethodGet, path, "", nil, &resp)
	}
	if err != nil {
		return nil, err
	}

	return toCapture(&resp)
}

func toCapture(resp *orderResponse) (*model.ExternalCapture, error) {
	capture := &model.ExternalCapture{
		OrderID: resp.ID,
		PayerID: resp.Payer.PayerID,
		Status:  resp.Status,
	}
	if len(resp.PurchaseUnits) == 0 {
		return capture, nil
	}

	unit := resp.PurchaseUnits[0]
	ref := unit.CustomID
	if ref == "" {
		ref = unit.ReferenceID
	}
	if ref != "" {
		folio, err := strconv.ParseInt(ref, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("paypal: unexpected custom_id %q", ref)
		}
		capture.Folio = folio
	}

	if len(unit.Payments.Captures) > 0 {
		c := unit.Payments.Captures[0]
		cents, err := ParseAmount(c.Amount.Value)
		if err != nil {
			return nil, err
		}
		capture.CaptureID = c.ID
		capture.AmountCents = cents
		capture.Currency = c.Amount.CurrencyCode
		capture.Status = c.Status
	}

	return capture, nil
}

func (c *Client) do(ctx context.Context, method, path, requestID string, body, out any) error {
	err := c.send(ctx, method, path, requestID, body, out)

	// The token may expire early; retry once with a fresh one
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
		c.resetToken()
		err = c.send(ctx, method, path, requestID, body, out)
	}
	return err
}

func (c *Client) send(ctx context.Context, method, path, requestID string, body, out any) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("paypal: encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("paypal: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	if requestID != "" {
		req.Header.Set("PayPal-Request-Id", requestID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("paypal: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	return decode(resp, out)
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.expiresAt) {
		return c.token, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("paypal: build token request: %w", err)
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("paypal: token: %w", err)
	}
	defer resp.Body.Close()

	var parsed struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := decode(resp, &parsed); err != nil {
		return "", err
	}
	if parsed.AccessToken == "" {
		return "", fmt.Errorf("paypal: token response without access_token")
	}

	c.token = parsed.AccessToken
	c.expiresAt = c.now().Add(time.Duration(parsed.ExpiresIn)*time.Second - tokenSkew)
	return c.token, nil
}

func (c *Client) resetToken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
}

func decode(resp *http.Response, out any) error {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("paypal: read response: %w", err)
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(raw, apiErr); err != nil || apiErr.Name == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("paypal: decode response: %w", err)
	}
	return nil
}

// FormatAmount renders cents as PayPal's decimal string
func FormatAmount(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

// ParseAmount converts "350.00" to 35000
func ParseAmount(value string) (int64, error) {
	whole, frac, _ := strings.Cut(strings.TrimSpace(value), ".")
	if whole == "" || len(frac) > 2 {
		return 0, fmt.Errorf("paypal: malformed amount %q", value)
	}
	for len(frac) < 2 {
		frac += "0"
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("paypal: malformed amount %q", value)
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil || units < 0 || cents < 0 {
		return 0, fmt.Errorf("paypal: malformed amount %q", value)
	}
	return units*100 + cents, nil
}
