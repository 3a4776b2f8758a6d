/**
 * @description
 * This package provides a client for the HTTP API of a phoenixd Lightning node.
 * It encapsulates the logic for making authenticated requests to the node's
 * endpoints: creating bolt11 invoices and looking up incoming payments by
 * payment hash. phoenixd authenticates with HTTP basic auth using an empty
 * username and the configured API password.
 *
 * @dependencies
 * - context, encoding/json, fmt, net/http, net/url, strings, time: Standard Go libraries.
 */
package phoenixclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a client for the phoenixd HTTP API.
type Client struct {
	BaseURL     string
	APIPassword string
	HTTPClient  *http.Client
}

// NewClient creates a new phoenixd API client.
func NewClient(baseURL, apiPassword string) *Client {
	return &Client{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		APIPassword: apiPassword,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CreateInvoiceRequest carries the parameters for a new bolt11 invoice.
// ExternalID is the caller-chosen correlation token echoed back in settlement
// notifications.
type CreateInvoiceRequest struct {
	Description string
	AmountSat   int64
	ExternalID  string
}

// CreateInvoiceResponse is the node's response to an invoice creation request.
// Serialized is the bolt11 payment request presented to the payer.
type CreateInvoiceResponse struct {
	AmountSat   int64  `json:"amountSat"`
	PaymentHash string `json:"paymentHash"`
	Serialized  string `json:"serialized"`
}

// IncomingPayment is the node's record of a received (or receivable) payment.
type IncomingPayment struct {
	PaymentHash string `json:"paymentHash"`
	Preimage    string `json:"preimage"`
	ExternalID  string `json:"externalId"`
	Description string `json:"description"`
	Invoice     string `json:"invoice"`
	IsPaid      bool   `json:"isPaid"`
	ReceivedSat int64  `json:"receivedSat"`
	Fees        int64  `json:"fees"`
	CompletedAt int64  `json:"completedAt"`
	CreatedAt   int64  `json:"createdAt"`
}

// CreateInvoice asks the node for a new bolt11 invoice.
func (c *Client) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*CreateInvoiceResponse, error) {
	form := url.Values{}
	form.Set("description", req.Description)
	form.Set("amountSat", strconv.FormatInt(req.AmountSat, 10))
	form.Set("externalId", req.ExternalID)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/createinvoice", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.SetBasicAuth("", c.APIPassword)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("phoenixd createinvoice returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var invoice CreateInvoiceResponse
	if err := json.NewDecoder(resp.Body).Decode(&invoice); err != nil {
		return nil, fmt.Errorf("failed to decode createinvoice response: %w", err)
	}
	return &invoice, nil
}

// GetIncomingPayment looks up a received payment by its payment hash. Returns
// (nil, nil) when the node has no record of the hash, which callers treat as a
// benign miss rather than an error.
func (c *Client) GetIncomingPayment(ctx context.Context, paymentHash string) (*IncomingPayment, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/payments/incoming/"+url.PathEscape(paymentHash), nil)
	if err != nil {
		return nil, err
	}
	httpReq.SetBasicAuth("", c.APIPassword)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("phoenixd payment lookup returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payment IncomingPayment
	if err := json.NewDecoder(resp.Body).Decode(&payment); err != nil {
		return nil, fmt.Errorf("failed to decode payment lookup response: %w", err)
	}
	return &payment, nil
}
