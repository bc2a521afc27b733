package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"lightalert/internal/types"
)

// resendAPIBase is the default Resend API base URL. Overridable in tests
// via ResendClientConfig.BaseURL.
const resendAPIBase = "https://api.resend.com"

// ResendClientConfig holds the configuration for creating a ResendClient.
type ResendClientConfig struct {
	APIKey  string
	BaseURL string
	Logger  *slog.Logger
}

// ResendClient implements EmailProvider against the Resend /emails API
// through BaseClient, so sends inherit the circuit breaker and retry
// behavior and tests run against httptest servers.
type ResendClient struct {
	base    *BaseClient
	apiKey  string
	baseURL string
	logger  *slog.Logger
}

// NewResendClient creates a new ResendClient.
func NewResendClient(httpClient *http.Client, cfg ResendClientConfig) *ResendClient {
	base := NewBaseClient(
		httpClient,
		"resend",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    500 * time.Millisecond,
			MaxWait:    5 * time.Second,
		},
		"lightalert/1.0",
	)
	return NewResendClientWithBase(base, cfg)
}

// NewResendClientWithBase creates a ResendClient over a caller-provided
// BaseClient, used in tests to disable retries or inject a sleep function.
func NewResendClientWithBase(base *BaseClient, cfg ResendClientConfig) *ResendClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = resendAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ResendClient{
		base:    base,
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
}

// resendEmailPayload is the /emails request body.
type resendEmailPayload struct {
	From    string            `json:"from"`
	To      []string          `json:"to"`
	CC      []string          `json:"cc,omitempty"`
	Subject string            `json:"subject"`
	HTML    string            `json:"html,omitempty"`
	Text    string            `json:"text,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// resendEmailResponse is the /emails success body.
type resendEmailResponse struct {
	ID string `json:"id"`
}

// resendErrorResponse is the error body Resend returns on 4xx.
type resendErrorResponse struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Send transmits an email through Resend and returns its message id.
// 429 and 5xx are retried by BaseClient; remaining 4xx map to
// ErrCodeUpstreamEmailProvider with the provider's message attached.
func (r *ResendClient) Send(ctx context.Context, input SendInput) (string, error) {
	from := input.FromAddress
	if input.FromName != "" {
		from = fmt.Sprintf("%s <%s>", input.FromName, input.FromAddress)
	}
	payload := resendEmailPayload{
		From:    from,
		To:      input.To,
		CC:      input.CC,
		Subject: input.Subject,
		HTML:    input.BodyHTML,
		Text:    input.BodyText,
	}
	if input.ReferenceID != "" {
		payload.Headers = map[string]string{"X-Entity-Ref-ID": input.ReferenceID}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal resend payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create resend request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.base.Do(req)
	if err != nil {
		if _, ok := err.(*types.AppError); ok {
			return "", err
		}
		return "", types.NewAppError(types.ErrCodeUpstreamEmailProvider, "resend request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		var out resendEmailResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			// Delivery was accepted even if the body is unreadable.
			r.logger.Warn("resend response body unreadable", "error", err)
			return "", nil
		}
		return out.ID, nil
	}

	return "", r.handleErrorResponse(resp)
}

func (r *ResendClient) handleErrorResponse(resp *http.Response) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamEmailProvider,
			fmt.Sprintf("resend returned status %d and response body was unreadable", resp.StatusCode),
			readErr,
		)
	}

	errMsg := string(body)
	var reErr resendErrorResponse
	if jsonErr := json.Unmarshal(body, &reErr); jsonErr == nil && reErr.Message != "" {
		errMsg = reErr.Message
	}

	return types.NewAppError(
		types.ErrCodeUpstreamEmailProvider,
		fmt.Sprintf("resend error (%d): %s", resp.StatusCode, errMsg),
		nil,
	)
}

// Compile-time assertion that ResendClient satisfies EmailProvider.
var _ EmailProvider = (*ResendClient)(nil)
