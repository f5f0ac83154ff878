package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ownerledger/internal/payout/application"
)

// Client is a minimal REST client for the payment-transfer provider.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewClient constructs a transfer client.
func NewClient(baseURL, apiKey string) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("transfer: empty base url")
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
	}, nil
}

type transferRequest struct {
	Destination string  `json:"destination"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	Reference   string  `json:"reference"`
}

type transferResponse struct {
	ID     string  `json:"id"`
	Status string  `json:"status"`
	Fee    float64 `json:"fee"`
	Error  string  `json:"error"`
}

// CreateTransfer submits a transfer. The statement id doubles as the
// provider idempotency reference.
func (c *Client) CreateTransfer(ctx context.Context, destination string, amount float64, reference string) (*application.TransferResult, error) {
	if destination == "" {
		return nil, errors.New("transfer: empty destination")
	}
	if amount <= 0 {
		return nil, errors.New("transfer: non-positive amount")
	}
	body := transferRequest{
		Destination: destination,
		Amount:      amount,
		Currency:    "USD",
		Reference:   reference,
	}
	var resp transferResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/transfers", body, &resp); err != nil {
		return nil, err
	}
	if strings.EqualFold(resp.Status, "insufficient_balance") {
		return nil, application.ErrInsufficientBalance
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("transfer: provider error: %s", resp.Error)
	}
	if resp.ID == "" {
		return nil, errors.New("transfer: provider returned no transfer id")
	}
	return &application.TransferResult{TransferID: resp.ID, Fee: resp.Fee}, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reqBody *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(payload)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusPaymentRequired {
		return application.ErrInsufficientBalance
	}
	if resp.StatusCode >= 300 {
		var failure transferResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&failure); decodeErr == nil {
			if strings.EqualFold(failure.Status, "insufficient_balance") {
				return application.ErrInsufficientBalance
			}
			if failure.Error != "" {
				return fmt.Errorf("transfer: http %d: %s", resp.StatusCode, failure.Error)
			}
		}
		return fmt.Errorf("transfer: http %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
