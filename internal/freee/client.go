// Package freee is the accounting backend client for the freee public API.
package freee

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/dvloznov/receipt-flow/internal/domain"
	"github.com/dvloznov/receipt-flow/internal/logger"
	"github.com/dvloznov/receipt-flow/internal/retry"
)

// DefaultBaseURL is the freee accounting API root.
const DefaultBaseURL = "https://api.freee.co.jp/api/1"

const unregisteredLimit = 100

// APIError is a non-2xx response from the API.
type APIError struct {
	Status   int
	Body     string
	Endpoint string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("freee API error: %d - %s", e.Status, e.Body)
}

// StatusCode lets retry classify 429 responses.
func (e *APIError) StatusCode() int { return e.Status }

// Config holds the client settings.
type Config struct {
	ClientID     string
	ClientSecret string
	CompanyID    int64
	TokenPath    string

	// BaseURL and TokenURL override the production endpoints.
	BaseURL  string
	TokenURL string
	// HTTPClient is the transport used for both the API and token refreshes.
	HTTPClient *http.Client
	Retry      *retry.Config
}

// Client talks to the freee accounting API.
type Client struct {
	http      *http.Client
	baseURL   string
	companyID int64
	retry     retry.Config
}

// NewClient loads the token file and returns an authenticated client.
// A missing token file is an error.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, cfg.HTTPClient)
	}
	ts, err := newTokenSource(ctx, oauthConfig(cfg.ClientID, cfg.ClientSecret, cfg.TokenURL), cfg.TokenPath)
	if err != nil {
		return nil, fmt.Errorf("NewClient: %w", err)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	rc := retry.DefaultConfig()
	if cfg.Retry != nil {
		rc = *cfg.Retry
	}

	httpClient := oauth2.NewClient(ctx, ts)
	httpClient.Timeout = 60 * time.Second

	log := logger.Component(logger.FromContext(ctx), "freee")
	log.Info().
		Int64("company_id", cfg.CompanyID).
		Msg("freee client initialized")

	return &Client{
		http:      httpClient,
		baseURL:   baseURL,
		companyID: cfg.CompanyID,
		retry:     rc,
	}, nil
}

// ListUnregistered returns up to 100 unregistered wallet transactions with
// absolute amounts.
func (c *Client) ListUnregistered(ctx context.Context) ([]domain.CandidateTransaction, error) {
	return retry.Do(ctx, c.retry, "getUnregisteredTransactions", func(ctx context.Context) ([]domain.CandidateTransaction, error) {
		q := url.Values{}
		q.Set("company_id", strconv.FormatInt(c.companyID, 10))
		q.Set("status", string(domain.StatusUnregistered))
		q.Set("limit", strconv.Itoa(unregisteredLimit))

		var resp walletTxnsResponse
		if err := c.doJSON(ctx, http.MethodGet, "/wallet_txns?"+q.Encode(), nil, &resp); err != nil {
			return nil, err
		}

		out := make([]domain.CandidateTransaction, 0, len(resp.WalletTxns))
		for _, t := range resp.WalletTxns {
			out = append(out, t.candidate())
		}
		c.log(ctx).Info().Int("count", len(out)).Msg("Fetched unregistered transactions")
		return out, nil
	})
}

// ListAccountItems returns the company's chart of accounts.
func (c *Client) ListAccountItems(ctx context.Context) ([]domain.AccountItem, error) {
	return retry.Do(ctx, c.retry, "getAccountItems", func(ctx context.Context) ([]domain.AccountItem, error) {
		q := url.Values{}
		q.Set("company_id", strconv.FormatInt(c.companyID, 10))

		var resp accountItemsResponse
		if err := c.doJSON(ctx, http.MethodGet, "/account_items?"+q.Encode(), nil, &resp); err != nil {
			return nil, err
		}

		out := make([]domain.AccountItem, 0, len(resp.AccountItems))
		for _, a := range resp.AccountItems {
			out = append(out, domain.AccountItem{
				ID:             a.ID,
				Name:           a.Name,
				Shortcut:       a.Shortcut,
				ShortcutNum:    a.ShortcutNum,
				DefaultTaxCode: a.DefaultTaxCode,
				Categories:     a.Categories,
			})
		}
		return out, nil
	})
}

// CreateDeal files a deal. A zero CompanyID uses the client's company.
func (c *Client) CreateDeal(ctx context.Context, req domain.DealRequest) (domain.Deal, error) {
	if req.CompanyID == 0 {
		req.CompanyID = c.companyID
	}
	body := newCreateDealRequest(req)

	return retry.Do(ctx, c.retry, "createDeal", func(ctx context.Context) (domain.Deal, error) {
		var resp dealResponse
		if err := c.doJSON(ctx, http.MethodPost, "/deals", body, &resp); err != nil {
			return domain.Deal{}, err
		}

		c.log(ctx).Info().Int64("deal_id", resp.Deal.ID).Msg("Deal created")
		return domain.Deal{
			ID:        resp.Deal.ID,
			CompanyID: resp.Deal.CompanyID,
			IssueDate: resp.Deal.IssueDate,
			Type:      domain.DealType(resp.Deal.Type),
		}, nil
	})
}

// UploadReceipt uploads an image to the receipt box.
func (c *Client) UploadReceipt(ctx context.Context, image []byte, fileName string) (domain.ReceiptAttachment, error) {
	return retry.Do(ctx, c.retry, "uploadReceipt", func(ctx context.Context) (domain.ReceiptAttachment, error) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		if err := mw.WriteField("company_id", strconv.FormatInt(c.companyID, 10)); err != nil {
			return domain.ReceiptAttachment{}, fmt.Errorf("UploadReceipt: write field: %w", err)
		}
		part, err := mw.CreateFormFile("receipt", fileName)
		if err != nil {
			return domain.ReceiptAttachment{}, fmt.Errorf("UploadReceipt: create form file: %w", err)
		}
		if _, err := part.Write(image); err != nil {
			return domain.ReceiptAttachment{}, fmt.Errorf("UploadReceipt: write image: %w", err)
		}
		if err := mw.Close(); err != nil {
			return domain.ReceiptAttachment{}, fmt.Errorf("UploadReceipt: close multipart: %w", err)
		}

		var resp receiptResponse
		if err := c.do(ctx, http.MethodPost, "/receipts", &buf, mw.FormDataContentType(), &resp); err != nil {
			return domain.ReceiptAttachment{}, err
		}

		c.log(ctx).Info().
			Int64("freee_receipt_id", resp.Receipt.ID).
			Str("file_name", fileName).
			Msg("Receipt uploaded")
		return domain.ReceiptAttachment{
			ID:      resp.Receipt.ID,
			Status:  resp.Receipt.Status,
			FileSrc: resp.Receipt.FileSrc,
		}, nil
	})
}

// Reconcile registers the wallet transaction against the deal.
func (c *Client) Reconcile(ctx context.Context, walletTxnID, dealID int64) error {
	return retry.Run(ctx, c.retry, "registerWalletTransaction", func(ctx context.Context) error {
		body := registrationRequest{CompanyID: c.companyID, DealID: dealID}
		endpoint := fmt.Sprintf("/wallet_txns/%d/registrations", walletTxnID)
		if err := c.doJSON(ctx, http.MethodPost, endpoint, body, nil); err != nil {
			return err
		}

		c.log(ctx).Info().
			Int64("wallet_txn_id", walletTxnID).
			Int64("deal_id", dealID).
			Msg("Wallet transaction registered")
		return nil
	})
}

// AttachReceipt links already uploaded receipts to an existing deal.
func (c *Client) AttachReceipt(ctx context.Context, dealID int64, receiptIDs []int64) error {
	if len(receiptIDs) == 0 {
		return errors.New("AttachReceipt: no receipt IDs")
	}
	return retry.Run(ctx, c.retry, "attachReceiptToDeal", func(ctx context.Context) error {
		body := attachReceiptRequest{CompanyID: c.companyID, ReceiptIDs: receiptIDs}
		endpoint := fmt.Sprintf("/deals/%d", dealID)
		if err := c.doJSON(ctx, http.MethodPut, endpoint, body, nil); err != nil {
			return err
		}

		c.log(ctx).Info().
			Int64("deal_id", dealID).
			Ints64("receipt_ids", receiptIDs).
			Msg("Receipts attached to deal")
		return nil
	})
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, body, out interface{}) error {
	var r io.Reader
	contentType := ""
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s %s: marshal request: %w", method, endpoint, err)
		}
		r = bytes.NewReader(data)
		contentType = "application/json"
	}
	return c.do(ctx, method, endpoint, r, contentType, out)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body io.Reader, contentType string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("%s %s: create request: %w", method, endpoint, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{Status: resp.StatusCode, Body: string(data), Endpoint: endpoint}
		c.log(ctx).Error().
			Int("status", resp.StatusCode).
			Str("error_text", apiErr.Body).
			Str("endpoint", endpoint).
			Msg("API request failed")
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, endpoint, err)
	}
	return nil
}

func (c *Client) log(ctx context.Context) *zerolog.Logger {
	l := logger.Component(logger.FromContext(ctx), "freee")
	return &l
}
