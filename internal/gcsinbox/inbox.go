// Package gcsinbox is a receipt inbox backed by a Cloud Storage bucket prefix.
package gcsinbox

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/dvloznov/receipt-flow/internal/domain"
	"github.com/dvloznov/receipt-flow/internal/logger"
	"github.com/dvloznov/receipt-flow/internal/retry"
)

// Config identifies the bucket and prefixes.
type Config struct {
	Bucket          string
	PendingPrefix   string
	ProcessedPrefix string
	Retry           *retry.Config
}

// Inbox lists pending images under one prefix and archives them under another.
type Inbox struct {
	store           objectStore
	pendingPrefix   string
	processedPrefix string
	retry           retry.Config
}

// New creates an inbox over client. The caller owns the client.
// It assumes Application Default Credentials are configured.
func New(client *storage.Client, cfg Config) *Inbox {
	return newInbox(&bucketStore{bucket: client.Bucket(cfg.Bucket)}, cfg)
}

func newInbox(store objectStore, cfg Config) *Inbox {
	rc := retry.DefaultConfig()
	if cfg.Retry != nil {
		rc = *cfg.Retry
	}
	return &Inbox{
		store:           store,
		pendingPrefix:   dirPrefix(cfg.PendingPrefix),
		processedPrefix: dirPrefix(cfg.ProcessedPrefix),
		retry:           rc,
	}
}

// ListPending returns image objects under the pending prefix, oldest first.
func (in *Inbox) ListPending(ctx context.Context) ([]domain.InboxFile, error) {
	return retry.Do(ctx, in.retry, "listPendingReceipts", func(ctx context.Context) ([]domain.InboxFile, error) {
		objects, err := in.store.List(ctx, in.pendingPrefix)
		if err != nil {
			return nil, fmt.Errorf("ListPending: %w", err)
		}

		var files []domain.InboxFile
		for _, o := range objects {
			if strings.HasSuffix(o.Name, "/") || !strings.HasPrefix(o.ContentType, "image/") {
				continue
			}
			files = append(files, domain.InboxFile{
				ID:        o.Name,
				Name:      path.Base(o.Name),
				MimeType:  o.ContentType,
				CreatedAt: o.Created,
			})
		}
		sort.SliceStable(files, func(i, j int) bool {
			return files[i].CreatedAt.Before(files[j].CreatedAt)
		})

		log := logger.Component(logger.FromContext(ctx), "gcs-inbox")
		log.Info().Int("count", len(files)).Msg("Found pending receipts")
		return files, nil
	})
}

// Download returns the object content.
func (in *Inbox) Download(ctx context.Context, fileID string) ([]byte, error) {
	return retry.Do(ctx, in.retry, "downloadFile", func(ctx context.Context) ([]byte, error) {
		data, err := in.store.Read(ctx, fileID)
		if err != nil {
			return nil, fmt.Errorf("Download %s: %w", fileID, err)
		}
		return data, nil
	})
}

// Archive moves the object to <processed>/<yearMonth>/<name>.
func (in *Inbox) Archive(ctx context.Context, fileID, yearMonth string) error {
	dst := archivedName(in.processedPrefix, yearMonth, fileID)
	return retry.Run(ctx, in.retry, "moveToProcessed", func(ctx context.Context) error {
		if err := in.store.Move(ctx, fileID, dst); err != nil {
			return fmt.Errorf("Archive %s: %w", fileID, err)
		}

		log := logger.Component(logger.FromContext(ctx), "gcs-inbox")
		log.Info().Str("file_id", fileID).Str("destination", dst).Msg("File moved to processed folder")
		return nil
	})
}

// archivedName e.g. ("processed/", "2026-01", "pending/a.jpg") → "processed/2026-01/a.jpg"
func archivedName(processedPrefix, yearMonth, object string) string {
	return processedPrefix + yearMonth + "/" + path.Base(object)
}

func dirPrefix(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}
