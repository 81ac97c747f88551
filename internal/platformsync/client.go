// Package platformsync pushes patients and ledger entries to the external
// financial platform.
package platformsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/dvloznov/clinic-ledger/internal/config"
)

const (
	contactPath     = "/api/v1/donors"
	transactionPath = "/api/v1/transactions"
)

// ContactRequest registers a patient as a platform contact.
type ContactRequest struct {
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	Telephone string `json:"telephone"`
	Email     string `json:"email"`
}

// TransactionRequest records one ledger entry on the platform. AccountRef is
// omitted for cash payments.
type TransactionRequest struct {
	ProgramCode   string `json:"program_code"`
	OfficeCode    string `json:"office_code"`
	StaffID       string `json:"staff_id"`
	DonorID       string `json:"donor_id"`
	Date          string `json:"date"`
	Amount        int64  `json:"amount"`
	PaymentCode   string `json:"payment_code"`
	RoutingCode   string `json:"routing_code"`
	Note          string `json:"note"`
	ReceiptNumber string `json:"receipt_number"`
	NoteReference string `json:"note_reference"`
	AccountRef    string `json:"account_ref,omitempty"`
}

// Response is the raw platform response kept for auditing.
type Response struct {
	StatusCode int
	Message    string
	Body       []byte
}

// ContactResult is the outcome of RegisterContact.
type ContactResult struct {
	DonorID  string
	Response *Response
}

// TransactionResult is the outcome of RecordTransaction.
type TransactionResult struct {
	ExternalID string
	Response   *Response
}

// APIError is a platform call that reached the platform and was rejected.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("platform error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("platform error (status %d)", e.StatusCode)
}

// Client is the resty-backed Platform implementation.
type Client struct {
	http *resty.Client
}

var _ Platform = (*Client)(nil)

// NewClient creates a Client authenticated with the static API key.
func NewClient(cfg config.PlatformConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetAuthToken(cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &Client{http: c}
}

// RegisterContact registers a contact. The result is returned alongside an
// *APIError whenever the platform answered, so callers can inspect the body.
func (c *Client) RegisterContact(ctx context.Context, req ContactRequest) (*ContactResult, error) {
	resp, err := c.post(ctx, contactPath, req)
	if resp == nil {
		return nil, fmt.Errorf("RegisterContact: %w", err)
	}
	res := &ContactResult{DonorID: ExtractID(resp.Body, resp.Message), Response: resp}
	if err != nil {
		return res, fmt.Errorf("RegisterContact: %w", err)
	}
	return res, nil
}

// RecordTransaction records a ledger entry. Like RegisterContact it returns
// the result together with an *APIError for rejected calls.
func (c *Client) RecordTransaction(ctx context.Context, req TransactionRequest) (*TransactionResult, error) {
	resp, err := c.post(ctx, transactionPath, req)
	if resp == nil {
		return nil, fmt.Errorf("RecordTransaction: %w", err)
	}
	res := &TransactionResult{ExternalID: ExtractID(resp.Body, resp.Message), Response: resp}
	if err != nil {
		return res, fmt.Errorf("RecordTransaction: %w", err)
	}
	return res, nil
}

func (c *Client) post(ctx context.Context, path string, body any) (*Response, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		Post(path)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", path, err)
	}

	out := &Response{StatusCode: resp.StatusCode(), Body: resp.Body()}
	var env envelope
	if len(bytes.TrimSpace(out.Body)) > 0 {
		_ = json.Unmarshal(out.Body, &env)
	}
	out.Message = env.message()

	if resp.IsError() || env.failed() {
		return out, &APIError{StatusCode: out.StatusCode, Message: out.Message, Body: out.Body}
	}
	return out, nil
}

// envelope is the platform's common response wrapper. Status is either a
// boolean or a word such as "success".
type envelope struct {
	Status  json.RawMessage `json:"status"`
	Message string          `json:"message"`
	Msg     string          `json:"msg"`
	Error   string          `json:"error"`
}

func (e envelope) message() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Msg != "":
		return e.Msg
	}
	return e.Error
}

func (e envelope) failed() bool {
	switch strings.ToLower(strings.Trim(string(e.Status), `" `)) {
	case "false", "error", "failed", "fail":
		return true
	}
	return false
}
