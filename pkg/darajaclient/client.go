/**
 * @description
 * This package provides a client for the Safaricom Daraja (M-Pesa) API. It
 * encapsulates the OAuth token exchange, the STK push charge request and the
 * STK push status query, including the provider's password signing scheme.
 *
 * Key features:
 * - Client-credentials token exchange with HTTP Basic auth.
 * - STK push initiation with the base64(shortcode+passkey+timestamp) password.
 * - Synchronous status query for charges whose callback has not landed.
 * - Typed errors distinguishing provider rejections from transport failures.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package darajaclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Client is a client for the Daraja API.
type Client struct {
	BaseURL         string
	ConsumerKey     string
	ConsumerSecret  string
	Shortcode       string
	Passkey         string
	CallbackURL     string
	AccountRef      string
	TransactionDesc string
	HTTPClient      *http.Client
}

// Config carries the provider settings needed to construct a Client.
type Config struct {
	BaseURL         string
	ConsumerKey     string
	ConsumerSecret  string
	Shortcode       string
	Passkey         string
	CallbackURL     string
	AccountRef      string
	TransactionDesc string
}

// NewClient creates a new Daraja API client.
func NewClient(cfg Config) *Client {
	return &Client{
		BaseURL:         cfg.BaseURL,
		ConsumerKey:     cfg.ConsumerKey,
		ConsumerSecret:  cfg.ConsumerSecret,
		Shortcode:       cfg.Shortcode,
		Passkey:         cfg.Passkey,
		CallbackURL:     cfg.CallbackURL,
		AccountRef:      cfg.AccountRef,
		TransactionDesc: cfg.TransactionDesc,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Password builds Daraja's request signature: the base64 encoding of the
// shortcode, passkey and timestamp concatenated in that exact order. The field
// order is part of the provider contract and must not change.
func Password(shortcode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortcode + passkey + timestamp))
}

// Timestamp renders t in Daraja's YYYYMMDDHHmmss format.
func Timestamp(t time.Time) string {
	return t.Format("20060102150405")
}

// APIError represents an error body returned by the Daraja API on a non-2xx
// response.
type APIError struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

func (e *APIError) Error() string {
	if e.ErrorMessage != "" {
		return fmt.Sprintf("daraja api error: %s - %s", e.ErrorCode, e.ErrorMessage)
	}
	return "unknown daraja api error"
}

// RejectionError represents a 2xx response whose ResponseCode indicates the
// provider declined to process the charge.
type RejectionError struct {
	Code        string
	Description string
}

func (e *RejectionError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("daraja rejected request: %s", e.Description)
	}
	return fmt.Sprintf("daraja rejected request with code %s", e.Code)
}

// tokenResponse is the body of the OAuth generate endpoint.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// AccessToken performs the client-credentials exchange and returns a
// short-lived bearer token. Tokens are fetched per call and never cached
// across requests.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	url := c.BaseURL + "/oauth/v1/generate?grant_type=client_credentials"

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.SetBasicAuth(c.ConsumerKey, c.ConsumerSecret)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("level=warn component=daraja_client op=access_token status=%d msg=\"token exchange rejected\"", resp.StatusCode)
		return "", fmt.Errorf("token exchange failed with status %d", resp.StatusCode)
	}

	var tokenResp tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("token exchange returned an empty access token")
	}
	return tokenResp.AccessToken, nil
}

// stkPushRequest is the payload for the STK push processrequest endpoint.
type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

// STKPushResponse is the provider's synchronous answer to a charge request.
type STKPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// STKPush asks the provider to prompt the given phone for a payment of amount
// major units. A non-"0" ResponseCode is returned as a *RejectionError.
func (c *Client) STKPush(ctx context.Context, token, phoneNumber string, amount int64) (*STKPushResponse, error) {
	timestamp := Timestamp(time.Now())
	payload := stkPushRequest{
		BusinessShortCode: c.Shortcode,
		Password:          Password(c.Shortcode, c.Passkey, timestamp),
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            amount,
		PartyA:            phoneNumber,
		PartyB:            c.Shortcode,
		PhoneNumber:       phoneNumber,
		CallBackURL:       c.CallbackURL,
		AccountReference:  c.AccountRef,
		TransactionDesc:   c.TransactionDesc,
	}

	var pushResp STKPushResponse
	if err := c.doJSON(ctx, token, "/mpesa/stkpush/v1/processrequest", "stk_push", payload, &pushResp); err != nil {
		return nil, err
	}

	if pushResp.ResponseCode != "0" {
		log.Printf("level=warn component=daraja_client op=stk_push response_code=%q desc=%q", pushResp.ResponseCode, pushResp.ResponseDescription)
		return nil, &RejectionError{Code: pushResp.ResponseCode, Description: pushResp.ResponseDescription}
	}
	return &pushResp, nil
}

// stkQueryRequest is the payload for the STK push query endpoint.
type stkQueryRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

// STKQueryResponse is the provider's answer to a status query. ResultCode is
// "0" for a settled charge, another non-empty value for a failed one, and
// empty while the charge is still in flight.
type STKQueryResponse struct {
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResultCode          string `json:"ResultCode"`
	ResultDesc          string `json:"ResultDesc"`
}

// STKQuery asks the provider for the current state of a previously initiated
// charge.
func (c *Client) STKQuery(ctx context.Context, token, checkoutRequestID string) (*STKQueryResponse, error) {
	timestamp := Timestamp(time.Now())
	payload := stkQueryRequest{
		BusinessShortCode: c.Shortcode,
		Password:          Password(c.Shortcode, c.Passkey, timestamp),
		Timestamp:         timestamp,
		CheckoutRequestID: checkoutRequestID,
	}

	var queryResp STKQueryResponse
	if err := c.doJSON(ctx, token, "/mpesa/stkpushquery/v1/query", "stk_query", payload, &queryResp); err != nil {
		return nil, err
	}
	return &queryResp, nil
}

// doJSON executes an authenticated POST against the Daraja API and decodes the
// response into out.
func (c *Client) doJSON(ctx context.Context, token, path, op string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute %s request: %w", op, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr APIError
		if err := json.Unmarshal(bodyBytes, &apiErr); err != nil || apiErr.ErrorMessage == "" {
			log.Printf("level=warn component=daraja_client op=%s status=%d msg=\"non-2xx response (unparsable error body)\"", op, resp.StatusCode)
			return fmt.Errorf("%s failed with status %d", op, resp.StatusCode)
		}
		log.Printf("level=warn component=daraja_client op=%s status=%d error_code=%q error_message=%q", op, resp.StatusCode, apiErr.ErrorCode, apiErr.ErrorMessage)
		return &apiErr
	}

	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}
