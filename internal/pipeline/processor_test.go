package pipeline_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/golang/mock/gomock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/receipt-flow/internal/domain"
	"github.com/dvloznov/receipt-flow/internal/logger"
	"github.com/dvloznov/receipt-flow/internal/pipeline"
	mock_pipeline "github.com/dvloznov/receipt-flow/internal/pipeline/mocks"
)

var fixedNow = time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

type deps struct {
	inbox      *mock_pipeline.MockInbox
	extractor  *mock_pipeline.MockExtractor
	selector   *mock_pipeline.MockSelector
	accounting *mock_pipeline.MockAccounting
	resolver   *mock_pipeline.MockAccountResolver
	sleeps     []time.Duration
}

func newProcessor(t *testing.T) (*pipeline.Processor, *deps) {
	ctrl := gomock.NewController(t)
	d := &deps{
		inbox:      mock_pipeline.NewMockInbox(ctrl),
		extractor:  mock_pipeline.NewMockExtractor(ctrl),
		selector:   mock_pipeline.NewMockSelector(ctrl),
		accounting: mock_pipeline.NewMockAccounting(ctrl),
		resolver:   mock_pipeline.NewMockAccountResolver(ctrl),
	}
	p := pipeline.NewProcessor(d.inbox, d.extractor, d.selector, d.accounting, d.resolver, pipeline.Options{
		CompanyID: 42,
		ItemDelay: pipeline.DefaultItemDelay,
		Sleep: func(ctx context.Context, dur time.Duration) error {
			d.sleeps = append(d.sleeps, dur)
			return nil
		},
		Now: func() time.Time { return fixedNow },
	})
	return p, d
}

func testContext() context.Context {
	return logger.WithContext(context.Background(), zerolog.Nop())
}

func ptr[T any](v T) *T { return &v }

var (
	jan9 = civil.Date{Year: 2026, Month: time.January, Day: 9}

	starbucks = domain.ExtractedReceipt{
		Date:                 &jan9,
		Amount:               ptr(int64(1980)),
		StoreName:            ptr("スターバックス"),
		Items:                []string{"ラテ", "スコーン", "水", "ケーキ"},
		SuggestedCategory:    "会議費",
		SuggestedAccountCode: "7620",
		Confidence:           0.9,
	}

	card = domain.CandidateTransaction{
		ID:             1001,
		Date:           jan9,
		Amount:         1980,
		Description:    "スターバックス",
		WalletableType: domain.WalletableCreditCard,
		WalletableID:   7,
		Status:         domain.StatusUnregistered,
	}

	meeting = domain.AccountItem{ID: 300, Name: "会議費", ShortcutNum: "7620", DefaultTaxCode: 136}
)

func TestProcessOne_Success(t *testing.T) {
	p, d := newProcessor(t)
	ctx := testContext()
	file := domain.InboxFile{ID: "f1", Name: "2026-01-09_starbucks.jpg", MimeType: "image/jpeg"}
	image := []byte("jpeg")

	wantReq := domain.DealRequest{
		CompanyID: 42,
		IssueDate: jan9,
		Type:      domain.DealExpense,
		Details: []domain.DealDetail{{
			AccountItemID: 300,
			TaxCode:       136,
			Amount:        1980,
			Description:   "スターバックス - ラテ、スコーン、水",
		}},
		Payments: []domain.DealPayment{{
			Amount:             1980,
			FromWalletableType: domain.WalletableCreditCard,
			FromWalletableID:   7,
			Date:               jan9,
		}},
		ReceiptIDs: []int64{555},
	}

	gomock.InOrder(
		d.inbox.EXPECT().Download(gomock.Any(), "f1").Return(image, nil),
		d.extractor.EXPECT().Extract(gomock.Any(), image, file.Name).Return(starbucks, nil),
		d.accounting.EXPECT().ListUnregistered(gomock.Any()).Return([]domain.CandidateTransaction{card}, nil),
		d.accounting.EXPECT().UploadReceipt(gomock.Any(), image, file.Name).Return(domain.ReceiptAttachment{ID: 555}, nil),
		d.resolver.EXPECT().Resolve(gomock.Any(), "7620").Return(meeting, nil),
		d.accounting.EXPECT().CreateDeal(gomock.Any(), wantReq).Return(domain.Deal{ID: 9000}, nil),
		d.accounting.EXPECT().Reconcile(gomock.Any(), int64(1001), int64(9000)).Return(nil),
		d.inbox.EXPECT().Archive(gomock.Any(), "f1", "2026-01").Return(nil),
	)

	result := p.ProcessOne(ctx, file)

	assert.Equal(t, domain.ResultSuccess, result.Status)
	assert.Equal(t, "f1", result.ReceiptID)
	assert.Equal(t, file.Name, result.FileName)
	require.NotNil(t, result.WalletTxnID)
	require.NotNil(t, result.DealID)
	require.NotNil(t, result.FreeeReceiptID)
	assert.Equal(t, int64(1001), *result.WalletTxnID)
	assert.Equal(t, int64(9000), *result.DealID)
	assert.Equal(t, int64(555), *result.FreeeReceiptID)
	assert.Empty(t, result.Error)
	assert.Equal(t, fixedNow, result.ProcessedAt)
}

func TestProcessOne_NoMatchIsPending(t *testing.T) {
	p, d := newProcessor(t)
	file := domain.InboxFile{ID: "f1", Name: "r.png"}

	d.inbox.EXPECT().Download(gomock.Any(), "f1").Return([]byte("png"), nil)
	d.extractor.EXPECT().Extract(gomock.Any(), gomock.Any(), "r.png").Return(starbucks, nil)
	d.accounting.EXPECT().ListUnregistered(gomock.Any()).Return([]domain.CandidateTransaction{
		{ID: 1, Amount: 5000, Date: jan9},
	}, nil)

	result := p.ProcessOne(testContext(), file)

	assert.Equal(t, domain.ResultPending, result.Status)
	assert.Nil(t, result.WalletTxnID)
	assert.Nil(t, result.DealID)
	assert.Nil(t, result.FreeeReceiptID)
	assert.Empty(t, result.Error)
}

func TestProcessOne_AmbiguousUsesSelector(t *testing.T) {
	first := card
	second := card
	second.ID = 1002
	second.Description = "VISA"
	first.Description = "VISA"
	candidates := []domain.CandidateTransaction{first, second}

	tests := []struct {
		name     string
		selected int64
		wantTxn  int64
	}{
		{name: "selected candidate", selected: 1002, wantTxn: 1002},
		{name: "unknown id falls back to first", selected: 999, wantTxn: 1001},
		{name: "unparsable reply falls back to first", selected: 0, wantTxn: 1001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, d := newProcessor(t)
			file := domain.InboxFile{ID: "f1", Name: "r.jpg"}

			d.inbox.EXPECT().Download(gomock.Any(), "f1").Return([]byte("jpg"), nil)
			d.extractor.EXPECT().Extract(gomock.Any(), gomock.Any(), "r.jpg").Return(starbucks, nil)
			d.accounting.EXPECT().ListUnregistered(gomock.Any()).Return(candidates, nil)
			d.selector.EXPECT().SelectBest(gomock.Any(), starbucks, candidates).Return(tt.selected, nil)
			d.accounting.EXPECT().UploadReceipt(gomock.Any(), gomock.Any(), "r.jpg").Return(domain.ReceiptAttachment{ID: 1}, nil)
			d.resolver.EXPECT().Resolve(gomock.Any(), "7620").Return(meeting, nil)
			d.accounting.EXPECT().CreateDeal(gomock.Any(), gomock.Any()).Return(domain.Deal{ID: 2}, nil)
			d.accounting.EXPECT().Reconcile(gomock.Any(), tt.wantTxn, int64(2)).Return(nil)
			d.inbox.EXPECT().Archive(gomock.Any(), "f1", "2026-01").Return(nil)

			result := p.ProcessOne(testContext(), file)

			assert.Equal(t, domain.ResultSuccess, result.Status)
			require.NotNil(t, result.WalletTxnID)
			assert.Equal(t, tt.wantTxn, *result.WalletTxnID)
		})
	}
}

func TestProcessOne_SelectorErrorIsErrorResult(t *testing.T) {
	p, d := newProcessor(t)
	other := card
	other.ID = 1002
	candidates := []domain.CandidateTransaction{card, other}

	d.inbox.EXPECT().Download(gomock.Any(), "f1").Return([]byte("jpg"), nil)
	d.extractor.EXPECT().Extract(gomock.Any(), gomock.Any(), gomock.Any()).Return(starbucks, nil)
	d.accounting.EXPECT().ListUnregistered(gomock.Any()).Return(candidates, nil)
	d.selector.EXPECT().SelectBest(gomock.Any(), gomock.Any(), gomock.Any()).Return(int64(0), errors.New("quota exceeded"))

	result := p.ProcessOne(testContext(), domain.InboxFile{ID: "f1", Name: "r.jpg"})

	assert.Equal(t, domain.ResultError, result.Status)
	assert.Equal(t, "quota exceeded", result.Error)
}

func TestProcessOne_ErrorMessagePreserved(t *testing.T) {
	p, d := newProcessor(t)

	d.inbox.EXPECT().Download(gomock.Any(), "f1").Return([]byte("jpg"), nil)
	d.extractor.EXPECT().Extract(gomock.Any(), gomock.Any(), gomock.Any()).Return(starbucks, nil)
	d.accounting.EXPECT().ListUnregistered(gomock.Any()).Return([]domain.CandidateTransaction{card}, nil)
	d.accounting.EXPECT().UploadReceipt(gomock.Any(), gomock.Any(), gomock.Any()).Return(domain.ReceiptAttachment{ID: 3}, nil)
	d.resolver.EXPECT().Resolve(gomock.Any(), "7620").Return(domain.AccountItem{}, errors.New("No expense account item found"))

	result := p.ProcessOne(testContext(), domain.InboxFile{ID: "f1", Name: "r.jpg"})

	assert.Equal(t, domain.ResultError, result.Status)
	assert.Equal(t, "No expense account item found", result.Error)
	assert.Nil(t, result.DealID)
}

func TestProcessOne_RecoversPanic(t *testing.T) {
	p, d := newProcessor(t)

	d.inbox.EXPECT().Download(gomock.Any(), "f1").Return([]byte("jpg"), nil)
	d.extractor.EXPECT().Extract(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, image []byte, name string) (domain.ExtractedReceipt, error) {
			panic("boom")
		})

	result := p.ProcessOne(testContext(), domain.InboxFile{ID: "f1", Name: "r.jpg"})

	assert.Equal(t, domain.ResultError, result.Status)
	assert.Contains(t, result.Error, "boom")
	assert.Equal(t, fixedNow, result.ProcessedAt)
}

func TestProcessAll_FailureDoesNotStopBatch(t *testing.T) {
	p, d := newProcessor(t)
	files := []domain.InboxFile{
		{ID: "a", Name: "a.jpg"},
		{ID: "b", Name: "b.jpg"},
		{ID: "c", Name: "c.jpg"},
	}

	d.inbox.EXPECT().ListPending(gomock.Any()).Return(files, nil)
	d.inbox.EXPECT().Download(gomock.Any(), gomock.Any()).Return([]byte("jpg"), nil).Times(3)

	gomock.InOrder(
		d.extractor.EXPECT().Extract(gomock.Any(), gomock.Any(), "a.jpg").Return(domain.ExtractedReceipt{}, nil),
		d.extractor.EXPECT().Extract(gomock.Any(), gomock.Any(), "b.jpg").Return(domain.ExtractedReceipt{}, errors.New("invalid JSON response from Gemini")),
		d.extractor.EXPECT().Extract(gomock.Any(), gomock.Any(), "c.jpg").Return(domain.ExtractedReceipt{}, nil),
	)
	// Fetched fresh for every receipt that reaches matching.
	d.accounting.EXPECT().ListUnregistered(gomock.Any()).Return(nil, nil).Times(2)

	results, err := p.ProcessAll(testContext())
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, domain.ResultPending, results[0].Status)
	assert.Equal(t, domain.ResultError, results[1].Status)
	assert.Equal(t, "invalid JSON response from Gemini", results[1].Error)
	assert.Equal(t, domain.ResultPending, results[2].Status)
	assert.Equal(t, []string{"a", "b", "c"}, []string{results[0].ReceiptID, results[1].ReceiptID, results[2].ReceiptID})
}

func TestProcessAll_SleepsAfterEveryReceipt(t *testing.T) {
	p, d := newProcessor(t)
	files := []domain.InboxFile{{ID: "a"}, {ID: "b"}}

	d.inbox.EXPECT().ListPending(gomock.Any()).Return(files, nil)
	d.inbox.EXPECT().Download(gomock.Any(), "a").Return(nil, errors.New("ECONNRESET"))
	d.inbox.EXPECT().Download(gomock.Any(), "b").Return([]byte("x"), nil)
	d.extractor.EXPECT().Extract(gomock.Any(), gomock.Any(), gomock.Any()).Return(domain.ExtractedReceipt{}, nil)
	d.accounting.EXPECT().ListUnregistered(gomock.Any()).Return(nil, nil)

	results, err := p.ProcessAll(testContext())
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, d.sleeps)
}

func TestProcessAll_ListFailure(t *testing.T) {
	p, d := newProcessor(t)
	listErr := errors.New("drive unavailable")
	d.inbox.EXPECT().ListPending(gomock.Any()).Return(nil, listErr)

	results, err := p.ProcessAll(testContext())
	require.Error(t, err)
	assert.ErrorIs(t, err, listErr)
	assert.Nil(t, results)
	assert.Empty(t, d.sleeps)
}

func TestProcessAll_EmptyInbox(t *testing.T) {
	p, d := newProcessor(t)
	d.inbox.EXPECT().ListPending(gomock.Any()).Return(nil, nil)

	results, err := p.ProcessAll(testContext())
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Empty(t, d.sleeps)
}

func TestProcessOne_CancellationDoesNotInterruptReceipt(t *testing.T) {
	p, d := newProcessor(t)
	ctx, cancel := context.WithCancel(testContext())
	defer cancel()

	d.inbox.EXPECT().Download(gomock.Any(), "f1").Return([]byte("jpg"), nil)
	d.extractor.EXPECT().Extract(gomock.Any(), gomock.Any(), gomock.Any()).Return(starbucks, nil)
	d.accounting.EXPECT().ListUnregistered(gomock.Any()).Return([]domain.CandidateTransaction{card}, nil)
	d.accounting.EXPECT().UploadReceipt(gomock.Any(), gomock.Any(), gomock.Any()).Return(domain.ReceiptAttachment{ID: 555}, nil)
	d.resolver.EXPECT().Resolve(gomock.Any(), "7620").Return(meeting, nil)
	d.accounting.EXPECT().CreateDeal(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, req domain.DealRequest) (domain.Deal, error) {
			cancel()
			return domain.Deal{ID: 9000}, nil
		})
	d.accounting.EXPECT().Reconcile(gomock.Any(), int64(1001), int64(9000)).
		DoAndReturn(func(ctx context.Context, txID, dealID int64) error {
			return ctx.Err()
		})
	d.inbox.EXPECT().Archive(gomock.Any(), "f1", "2026-01").
		DoAndReturn(func(ctx context.Context, fileID, month string) error {
			return ctx.Err()
		})

	result := p.ProcessOne(ctx, domain.InboxFile{ID: "f1", Name: "r.jpg"})

	assert.Equal(t, domain.ResultSuccess, result.Status)
	assert.Empty(t, result.Error)
	require.NotNil(t, result.DealID)
	assert.Equal(t, int64(9000), *result.DealID)
}

func TestProcessAll_StopsAtReceiptBoundaryOnCancel(t *testing.T) {
	p, d := newProcessor(t)
	ctx, cancel := context.WithCancel(testContext())
	defer cancel()
	files := []domain.InboxFile{{ID: "a", Name: "a.jpg"}, {ID: "b", Name: "b.jpg"}}

	d.inbox.EXPECT().ListPending(gomock.Any()).Return(files, nil)
	d.inbox.EXPECT().Download(gomock.Any(), "a").
		DoAndReturn(func(ctx context.Context, fileID string) ([]byte, error) {
			cancel()
			return []byte("jpg"), nil
		})
	d.extractor.EXPECT().Extract(gomock.Any(), gomock.Any(), "a.jpg").Return(domain.ExtractedReceipt{}, nil)
	d.accounting.EXPECT().ListUnregistered(gomock.Any()).Return(nil, nil)

	results, err := p.ProcessAll(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ReceiptID)
	assert.Equal(t, domain.ResultPending, results[0].Status)
}

func TestProcessOne_LogsFailedStep(t *testing.T) {
	p, d := newProcessor(t)
	var buf bytes.Buffer
	ctx := logger.WithContext(context.Background(), logger.NewWithWriter(&buf))

	d.inbox.EXPECT().Download(gomock.Any(), "f1").Return([]byte("jpg"), nil)
	d.extractor.EXPECT().Extract(gomock.Any(), gomock.Any(), gomock.Any()).Return(domain.ExtractedReceipt{}, errors.New("invalid JSON response from Gemini"))

	result := p.ProcessOne(ctx, domain.InboxFile{ID: "f1", Name: "r.jpg"})

	assert.Equal(t, domain.ResultError, result.Status)
	out := buf.String()
	assert.Contains(t, out, `"step":"extract"`)
	assert.Contains(t, out, `"receipt_id":"f1"`)
	assert.Contains(t, out, `"file_name":"r.jpg"`)
}

func TestNewReceiptPipeline_StepOrder(t *testing.T) {
	p := pipeline.NewReceiptPipeline(nil, nil, nil, nil, nil, 42)

	assert.Equal(t, []string{
		"download",
		"extract",
		"fetch_candidates",
		"match",
		"disambiguate",
		"upload_receipt",
		"resolve_account",
		"create_deal",
		"reconcile",
		"archive",
	}, p.Steps())
}
