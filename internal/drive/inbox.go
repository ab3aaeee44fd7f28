// Package drive is the Google Drive receipt inbox.
package drive

import (
	"context"
	"fmt"
	"io"
	"time"

	drivev3 "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/dvloznov/receipt-flow/internal/domain"
	"github.com/dvloznov/receipt-flow/internal/logger"
	"github.com/dvloznov/receipt-flow/internal/retry"
)

const (
	folderMimeType = "application/vnd.google-apps.folder"
	pageSize       = 100
)

// Inbox lists, downloads and archives receipt images in Drive folders.
type Inbox struct {
	files             *drivev3.FilesService
	pendingFolderID   string
	processedFolderID string
	retry             retry.Config
}

// Config identifies the inbox folders.
type Config struct {
	PendingFolderID   string
	ProcessedFolderID string
	Retry             *retry.Config
}

// New creates an inbox. Pass option.WithTokenSource for production use.
func New(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Inbox, error) {
	svc, err := drivev3.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("New: create service: %w", err)
	}

	rc := retry.DefaultConfig()
	if cfg.Retry != nil {
		rc = *cfg.Retry
	}

	log := logger.Component(logger.FromContext(ctx), "google-drive")
	log.Info().
		Str("pending_folder_id", cfg.PendingFolderID).
		Str("processed_folder_id", cfg.ProcessedFolderID).
		Msg("Google Drive inbox initialized")

	return &Inbox{
		files:             svc.Files,
		pendingFolderID:   cfg.PendingFolderID,
		processedFolderID: cfg.ProcessedFolderID,
		retry:             rc,
	}, nil
}

// ListPending returns images in the pending folder, oldest first.
func (in *Inbox) ListPending(ctx context.Context) ([]domain.InboxFile, error) {
	return retry.Do(ctx, in.retry, "listPendingReceipts", func(ctx context.Context) ([]domain.InboxFile, error) {
		q := fmt.Sprintf("'%s' in parents and mimeType contains 'image/' and trashed = false", in.pendingFolderID)

		var out []domain.InboxFile
		err := in.files.List().
			Q(q).
			Fields("nextPageToken, files(id, name, mimeType, createdTime)").
			OrderBy("createdTime").
			PageSize(pageSize).
			Pages(ctx, func(page *drivev3.FileList) error {
				for _, f := range page.Files {
					out = append(out, toInboxFile(f))
				}
				return nil
			})
		if err != nil {
			return nil, fmt.Errorf("ListPending: %w", err)
		}

		log := logger.Component(logger.FromContext(ctx), "google-drive")
		log.Info().Int("count", len(out)).Msg("Found pending receipts")
		return out, nil
	})
}

// Download returns the file content.
func (in *Inbox) Download(ctx context.Context, fileID string) ([]byte, error) {
	return retry.Do(ctx, in.retry, "downloadFile", func(ctx context.Context) ([]byte, error) {
		resp, err := in.files.Get(fileID).Context(ctx).Download()
		if err != nil {
			return nil, fmt.Errorf("Download %s: %w", fileID, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("Download %s: read body: %w", fileID, err)
		}

		log := logger.Component(logger.FromContext(ctx), "google-drive")
		log.Debug().Str("file_id", fileID).Int("size", len(data)).Msg("File downloaded")
		return data, nil
	})
}

// Archive moves the file from the pending folder into processed/<yearMonth>.
func (in *Inbox) Archive(ctx context.Context, fileID, yearMonth string) error {
	return retry.Run(ctx, in.retry, "moveToProcessed", func(ctx context.Context) error {
		folderID, err := in.ensureSubFolder(ctx, yearMonth)
		if err != nil {
			return err
		}

		_, err = in.files.Update(fileID, &drivev3.File{}).
			AddParents(folderID).
			RemoveParents(in.pendingFolderID).
			Fields("id, parents").
			Context(ctx).
			Do()
		if err != nil {
			return fmt.Errorf("Archive %s: move: %w", fileID, err)
		}

		log := logger.Component(logger.FromContext(ctx), "google-drive")
		log.Info().Str("file_id", fileID).Str("year_month", yearMonth).Msg("File moved to processed folder")
		return nil
	})
}

func (in *Inbox) ensureSubFolder(ctx context.Context, name string) (string, error) {
	q := fmt.Sprintf("'%s' in parents and name = '%s' and mimeType = '%s' and trashed = false",
		in.processedFolderID, name, folderMimeType)

	list, err := in.files.List().Q(q).Fields("files(id)").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("ensureSubFolder %s: list: %w", name, err)
	}
	if len(list.Files) > 0 {
		return list.Files[0].Id, nil
	}

	created, err := in.files.Create(&drivev3.File{
		Name:     name,
		MimeType: folderMimeType,
		Parents:  []string{in.processedFolderID},
	}).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("ensureSubFolder %s: create: %w", name, err)
	}

	log := logger.Component(logger.FromContext(ctx), "google-drive")
	log.Info().Str("year_month", name).Str("folder_id", created.Id).Msg("Created processed subfolder")
	return created.Id, nil
}

func toInboxFile(f *drivev3.File) domain.InboxFile {
	created, _ := time.Parse(time.RFC3339, f.CreatedTime)
	return domain.InboxFile{
		ID:        f.Id,
		Name:      f.Name,
		MimeType:  f.MimeType,
		CreatedAt: created,
	}
}
