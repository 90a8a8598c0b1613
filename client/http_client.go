// Package client is the caller side of the ledger: an HTTP client for the
// ledger API and an optimistic balance mirror for UI layers.
package client

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

	"tokenledger/api"
	"tokenledger/domain/entities"
	"tokenledger/domain/interfaces"

	"github.com/google/uuid"
)

// LedgerClient is the authoritative ledger as seen by a caller
type LedgerClient interface {
	GetBalance(ctx context.Context, accountID uuid.UUID) (entities.Balance, error)
	Spend(ctx context.Context, req interfaces.SpendRequest) (*interfaces.SpendResult, error)
}

// APIError is a non-success response from the ledger API
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ledger api returned %d: %s", e.StatusCode, e.Message)
}

// Unwrap lets callers match API failures against the domain errors
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusServiceUnavailable:
		return entities.ErrStoreUnavailable
	case http.StatusNotFound:
		return entities.ErrAccountNotFound
	}
	return nil
}

// HTTPLedgerClient talks to the ledger HTTP API
type HTTPLedgerClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPLedgerClient creates a client for the API at baseURL. httpClient may be nil.
func NewHTTPLedgerClient(baseURL string, httpClient *http.Client) *HTTPLedgerClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPLedgerClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// GetBalance fetches the confirmed balance
func (c *HTTPLedgerClient) GetBalance(ctx context.Context, accountID uuid.UUID) (entities.Balance, error) {
	var resp api.BalanceResponse
	if err := c.do(ctx, http.MethodGet, "/accounts/"+accountID.String()+"/balance", nil, &resp, http.StatusOK); err != nil {
		return entities.Balance{}, err
	}
	return fromBalanceResponse(resp), nil
}

// Spend debits the account. Insufficient balance is reported in the result status.
func (c *HTTPLedgerClient) Spend(ctx context.Context, req interfaces.SpendRequest) (*interfaces.SpendResult, error) {
	body := map[string]any{
		"amount":         req.Amount,
		"tool_id":        req.ToolID,
		"tool_result_id": req.ToolResultID,
	}

	var resp api.SpendResponse
	path := "/accounts/" + req.AccountID.String() + "/spend"
	if err := c.do(ctx, http.MethodPost, path, body, &resp, http.StatusOK, http.StatusPaymentRequired); err != nil {
		return nil, err
	}
	return &interfaces.SpendResult{
		Status:         resp.Status,
		DailyDelta:     resp.DailyDelta,
		PurchasedDelta: resp.PurchasedDelta,
		TransactionID:  resp.TransactionID,
		Balance:        fromBalanceResponse(resp.Balance),
	}, nil
}

// AwardDaily asks for the daily grant; it is safe to call on every session start
func (c *HTTPLedgerClient) AwardDaily(ctx context.Context, accountID uuid.UUID) (*api.DailyGrantResponse, error) {
	var resp api.DailyGrantResponse
	if err := c.do(ctx, http.MethodPost, "/accounts/"+accountID.String()+"/daily", nil, &resp, http.StatusOK); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FindSpend returns the spend recorded for a tool result, or nil when there is none.
// Callers use it before retrying a spend whose outcome is unknown.
func (c *HTTPLedgerClient) FindSpend(ctx context.Context, accountID uuid.UUID, toolResultID string) (*api.TransactionResponse, error) {
	var resp api.TransactionResponse
	path := "/accounts/" + accountID.String() + "/spends/" + url.PathEscape(toolResultID)
	err := c.do(ctx, http.MethodGet, path, nil, &resp, http.StatusOK)
	if apiErr, ok := err.(*APIError); ok && apiErr.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPLedgerClient) do(ctx context.Context, method, path string, body, out any, accept ...int) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call ledger api: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read ledger api response: %w", err)
	}

	for _, status := range accept {
		if resp.StatusCode == status {
			if err := json.Unmarshal(data, out); err != nil {
				return fmt.Errorf("failed to decode ledger api response: %w", err)
			}
			return nil
		}
	}

	apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(data, &envelope) == nil && envelope.Error.Message != "" {
		apiErr.Message = envelope.Error.Message
	}
	return apiErr
}

func fromBalanceResponse(b api.BalanceResponse) entities.Balance {
	return entities.Balance{AccountID: b.AccountID, Purchased: b.Purchased, Daily: b.Daily}
}
