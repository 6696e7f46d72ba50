package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"voice-gateway/pkg/utils"
)

const defaultTwilioBaseURL = "https://api.twilio.com"

// TwilioClient places calls through the Twilio REST API.
// Only the endpoints the gateway needs are implemented.
type TwilioClient struct {
	BaseURL    string
	AccountSID string
	AuthToken  string
	HTTP       *http.Client
	Retry      utils.RetryPolicy
}

func NewTwilioClient(baseURL, accountSID, authToken string) *TwilioClient {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultTwilioBaseURL
	}
	return &TwilioClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		AccountSID: accountSID,
		AuthToken:  authToken,
		HTTP:       &http.Client{Timeout: 10 * time.Second},
		Retry:      utils.RetryPolicy{Attempts: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second, Retryable: isRetryableCarrierError},
	}
}

func (c *TwilioClient) Name() string { return "twilio" }

func (c *TwilioClient) configured() bool {
	return c != nil && c.AccountSID != "" && c.AuthToken != ""
}

// HealthCheck fetches the account resource, which validates credentials.
func (c *TwilioClient) HealthCheck(ctx context.Context) error {
	if !c.configured() {
		return ErrCarrierNotConfigured
	}
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s.json", c.BaseURL, url.PathEscape(c.AccountSID))
	return utils.Retry(ctx, c.Retry, func(ctx context.Context) error {
		_, err := c.do(ctx, http.MethodGet, endpoint, nil)
		return err
	})
}

type twilioCallResource struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

// PlaceCall creates an outbound leg. Only throttling responses are retried
// since the carrier has not created a call in that case.
func (c *TwilioClient) PlaceCall(ctx context.Context, req PlaceCallRequest) (PlaceCallResult, error) {
	if !c.configured() {
		return PlaceCallResult{}, ErrCarrierNotConfigured
	}
	if req.To == "" || req.From == "" || req.URL == "" {
		return PlaceCallResult{}, errors.New("telephony: to, from and url are required")
	}

	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", req.From)
	form.Set("Url", req.URL)
	if req.StatusCallback != "" {
		form.Set("StatusCallback", req.StatusCallback)
		form.Set("StatusCallbackMethod", http.MethodPost)
		for _, ev := range req.StatusCallbackEvent {
			form.Add("StatusCallbackEvent", ev)
		}
	}
	if req.TimeoutSeconds > 0 {
		form.Set("Timeout", strconv.Itoa(req.TimeoutSeconds))
	}
	if req.Record {
		form.Set("Record", "true")
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls.json", c.BaseURL, url.PathEscape(c.AccountSID))

	var res twilioCallResource
	err := utils.Retry(ctx, c.Retry, func(ctx context.Context) error {
		body, err := c.do(ctx, http.MethodPost, endpoint, form)
		if err != nil {
			return err
		}
		return json.Unmarshal(body, &res)
	})
	if err != nil {
		return PlaceCallResult{}, err
	}
	if res.SID == "" {
		return PlaceCallResult{}, fmt.Errorf("%w: empty call sid", ErrCarrierRejected)
	}
	return PlaceCallResult{CarrierCallID: res.SID, Status: res.Status}, nil
}

// CarrierError is a non-2xx response from the carrier API.
type CarrierError struct {
	StatusCode int
	Code       int    `json:"code"`
	Message    string `json:"message"`
}

func (e *CarrierError) Error() string {
	return fmt.Sprintf("telephony: carrier status %d code %d: %s", e.StatusCode, e.Code, e.Message)
}

func (e *CarrierError) Unwrap() error { return ErrCarrierRejected }

func isRetryableCarrierError(err error) bool {
	var ce *CarrierError
	if errors.As(err, &ce) {
		return ce.StatusCode == http.StatusTooManyRequests
	}
	return false
}

func (c *TwilioClient) do(ctx context.Context, method, endpoint string, form url.Values) ([]byte, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.AccountSID, c.AuthToken)
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		ce := &CarrierError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(raw, ce)
		ce.StatusCode = resp.StatusCode
		return nil, ce
	}
	return raw, nil
}
