package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go-badge-printer/badge"
	"go-badge-printer/operator"
	"go-badge-printer/printing"
)

var ErrMerchantNotFound = errors.New("merchant not found")

// MerchantClient is the part of the admin data layer the badge dialog uses.
type MerchantClient interface {
	// GetMerchant fetches the current record, never a cached copy
	GetMerchant(ctx context.Context, id int64) (*badge.CardRecord, error)

	printing.MerchantUpdater
}

// RestMerchantClient talks to the REST data layer. The operator token found
// in the request context is forwarded as a bearer token.
type RestMerchantClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewRestMerchantClient(baseURL string) *RestMerchantClient {
	return &RestMerchantClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *RestMerchantClient) merchantURL(id int64) string {
	return fmt.Sprintf("%s/merchants/%d/", c.baseURL, id)
}

func (c *RestMerchantClient) GetMerchant(ctx context.Context, id int64) (*badge.CardRecord, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.merchantURL(id), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create merchant request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute merchant request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrMerchantNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("merchant request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var record badge.CardRecord
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return nil, fmt.Errorf("failed to decode merchant response: %w", err)
	}

	slog.Debug("Merchant record fetched", "merchant_id", id)
	return &record, nil
}

// UpdateMerchant sends the full record with PUT. Whether the update
// succeeded is decided by the caller from the returned status.
func (c *RestMerchantClient) UpdateMerchant(ctx context.Context, id int64, payload map[string]any) (*printing.UpdateResponse, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal merchant update: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPut, c.merchantURL(id), bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create merchant update: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute merchant update: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read merchant update response: %w", err)
	}

	result := &printing.UpdateResponse{HTTPStatus: resp.StatusCode}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err == nil {
		result.Status = decoded["status"]
	}

	slog.Debug("Merchant update answered", "merchant_id", id, "http_status", resp.StatusCode, "status", result.Status)
	return result, nil
}

func (c *RestMerchantClient) newRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if id, ok := operator.FromContext(ctx); ok && id.Token != "" {
		req.Header.Set("Authorization", "Bearer "+id.Token)
	}
	return req, nil
}
