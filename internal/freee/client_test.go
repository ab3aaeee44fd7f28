package freee

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/receipt-flow/internal/domain"
	"github.com/dvloznov/receipt-flow/internal/logger"
	"github.com/dvloznov/receipt-flow/internal/retry"
)

func testContext() context.Context {
	return logger.WithContext(context.Background(), zerolog.Nop())
}

func writeToken(t *testing.T, access string, expiresIn time.Duration) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tokens", "freee-token.json")
	require.NoError(t, saveToken(path, tokenFile{
		AccessToken:  access,
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(expiresIn).UnixMilli(),
	}.token()))
	return path
}

func newTestClient(t *testing.T, srv *httptest.Server, tokenPath string) *Client {
	t.Helper()
	noSleep := retry.DefaultConfig()
	noSleep.Sleep = func(ctx context.Context, d time.Duration) error { return nil }

	c, err := NewClient(testContext(), Config{
		ClientID:     "client",
		ClientSecret: "secret",
		CompanyID:    42,
		TokenPath:    tokenPath,
		BaseURL:      srv.URL + "/api/1",
		TokenURL:     srv.URL + "/token",
		HTTPClient:   srv.Client(),
		Retry:        &noSleep,
	})
	require.NoError(t, err)
	return c
}

func TestNewClient_MissingTokenFile(t *testing.T) {
	_, err := NewClient(testContext(), Config{TokenPath: filepath.Join(t.TempDir(), "missing.json")})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestListUnregistered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/1/wallet_txns", r.URL.Path)
		assert.Equal(t, "42", r.URL.Query().Get("company_id"))
		assert.Equal(t, "unregistered", r.URL.Query().Get("status"))
		assert.Equal(t, "100", r.URL.Query().Get("limit"))
		assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"wallet_txns":[
			{"id":1,"company_id":42,"date":"2026-01-09","amount":-1980,"entry_side":"expense","walletable_type":"credit_card","walletable_id":7,"description":"スターバックス","status":"unregistered"},
			{"id":2,"company_id":42,"date":"2026-01-10","amount":500,"entry_side":"income","walletable_type":"bank_account","walletable_id":3,"description":"振込","status":"unregistered"}
		]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, writeToken(t, "access-1", time.Hour))

	txns, err := c.ListUnregistered(testContext())
	require.NoError(t, err)
	require.Len(t, txns, 2)

	assert.Equal(t, domain.CandidateTransaction{
		ID:             1,
		Date:           civil.Date{Year: 2026, Month: time.January, Day: 9},
		Amount:         1980,
		Description:    "スターバックス",
		WalletableType: domain.WalletableCreditCard,
		WalletableID:   7,
		Status:         domain.StatusUnregistered,
	}, txns[0])
	assert.Equal(t, int64(500), txns[1].Amount)
	assert.Equal(t, domain.WalletableBankAccount, txns[1].WalletableType)
}

func TestTokenRefreshedBeforeExpiry(t *testing.T) {
	var refreshes int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			atomic.AddInt32(&refreshes, 1)
			assert.NoError(t, r.ParseForm())
			assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
			assert.Equal(t, "refresh-1", r.PostForm.Get("refresh_token"))
			assert.Equal(t, "client", r.PostForm.Get("client_id"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"access_token":"access-2","token_type":"bearer","refresh_token":"refresh-2","expires_in":86400}`)
		case "/api/1/account_items":
			assert.Equal(t, "Bearer access-2", r.Header.Get("Authorization"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"account_items":[{"id":9,"name":"雑費","shortcut":"ZATSUHI","shortcut_num":"7990","default_tax_code":136,"categories":["expense"]}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	// Expires within the five minute refresh window.
	path := writeToken(t, "access-1", 2*time.Minute)
	c := newTestClient(t, srv, path)

	items, err := c.ListAccountItems(testContext())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, domain.AccountItem{
		ID: 9, Name: "雑費", Shortcut: "ZATSUHI", ShortcutNum: "7990", DefaultTaxCode: 136, Categories: []string{"expense"},
	}, items[0])

	_, err = c.ListAccountItems(testContext())
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&refreshes))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var saved tokenFile
	require.NoError(t, json.Unmarshal(data, &saved))
	assert.Equal(t, "access-2", saved.AccessToken)
	assert.Equal(t, "refresh-2", saved.RefreshToken)
	assert.Greater(t, saved.ExpiresAt, time.Now().Add(time.Hour).UnixMilli())
}

func TestAPIError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"message":"invalid company"}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, writeToken(t, "access-1", time.Hour))

	_, err := c.ListAccountItems(testContext())
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode())
	assert.Contains(t, apiErr.Endpoint, "/account_items")
	assert.Equal(t, `freee API error: 400 - {"message":"invalid company"}`, err.Error())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "4xx is not retried")
}

func TestRateLimitIsRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"wallet_txns":[]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, writeToken(t, "access-1", time.Hour))

	txns, err := c.ListUnregistered(testContext())
	require.NoError(t, err)
	assert.Empty(t, txns)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestCreateDeal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/1/deals", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 42.0, body["company_id"])
		assert.Equal(t, "2026-01-09", body["issue_date"])
		assert.Equal(t, "expense", body["type"])
		assert.Equal(t, []interface{}{555.0}, body["receipt_ids"])

		assert.Equal(t, []interface{}{map[string]interface{}{
			"account_item_id": 300.0, "tax_code": 136.0, "amount": 1980.0, "description": "スターバックス",
		}}, body["details"])
		assert.Equal(t, []interface{}{map[string]interface{}{
			"amount": 1980.0, "from_walletable_type": "credit_card", "from_walletable_id": 7.0, "date": "2026-01-09",
		}}, body["payments"])

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"deal":{"id":9000,"company_id":42,"issue_date":"2026-01-09","type":"expense"}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, writeToken(t, "access-1", time.Hour))
	jan9 := civil.Date{Year: 2026, Month: time.January, Day: 9}

	deal, err := c.CreateDeal(testContext(), domain.DealRequest{
		IssueDate: jan9,
		Type:      domain.DealExpense,
		Details:   []domain.DealDetail{{AccountItemID: 300, TaxCode: 136, Amount: 1980, Description: "スターバックス"}},
		Payments: []domain.DealPayment{{
			Amount: 1980, FromWalletableType: domain.WalletableCreditCard, FromWalletableID: 7, Date: jan9,
		}},
		ReceiptIDs: []int64{555},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.Deal{ID: 9000, CompanyID: 42, IssueDate: jan9, Type: domain.DealExpense}, deal)
}

func TestUploadReceipt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/1/receipts", r.URL.Path)
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "42", r.FormValue("company_id"))

		f, hdr, err := r.FormFile("receipt")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "r.jpg", hdr.Filename)
		assert.Equal(t, []byte("jpeg-bytes"), data)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"receipt":{"id":555,"status":"unconfirmed","file_src":"https://example.invalid/r.jpg"}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, writeToken(t, "access-1", time.Hour))

	att, err := c.UploadReceipt(testContext(), []byte("jpeg-bytes"), "r.jpg")
	require.NoError(t, err)
	assert.Equal(t, domain.ReceiptAttachment{ID: 555, Status: "unconfirmed", FileSrc: "https://example.invalid/r.jpg"}, att)
}

func TestReconcile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/1/wallet_txns/1001/registrations", r.URL.Path)

		var body registrationRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, registrationRequest{CompanyID: 42, DealID: 9000}, body)

		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, writeToken(t, "access-1", time.Hour))
	require.NoError(t, c.Reconcile(testContext(), 1001, 9000))
}

func TestAttachReceipt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/1/deals/9000", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body attachReceiptRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, attachReceiptRequest{CompanyID: 42, ReceiptIDs: []int64{555, 556}}, body)

		_, _ = io.WriteString(w, `{"deal":{"id":9000}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, writeToken(t, "access-1", time.Hour))
	require.NoError(t, c.AttachReceipt(testContext(), 9000, []int64{555, 556}))
}

func TestAttachReceipt_RequiresReceiptIDs(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, writeToken(t, "access-1", time.Hour))
	require.Error(t, c.AttachReceipt(testContext(), 9000, nil))
	assert.Zero(t, calls.Load())
}
