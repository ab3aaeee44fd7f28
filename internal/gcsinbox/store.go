package gcsinbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

type objectInfo struct {
	Name        string
	ContentType string
	Created     time.Time
}

// objectStore is the slice of bucket operations the inbox needs.
type objectStore interface {
	List(ctx context.Context, prefix string) ([]objectInfo, error)
	Read(ctx context.Context, name string) ([]byte, error)
	Move(ctx context.Context, src, dst string) error
}

type bucketStore struct {
	bucket *storage.BucketHandle
}

// List returns the objects directly under prefix.
func (b *bucketStore) List(ctx context.Context, prefix string) ([]objectInfo, error) {
	it := b.bucket.Objects(ctx, &storage.Query{Prefix: prefix, Delimiter: "/"})

	var out []objectInfo
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list objects %q: %w", prefix, err)
		}
		if attrs.Name == "" {
			// synthetic prefix entry
			continue
		}
		out = append(out, objectInfo{Name: attrs.Name, ContentType: attrs.ContentType, Created: attrs.Created})
	}
	return out, nil
}

func (b *bucketStore) Read(ctx context.Context, name string) ([]byte, error) {
	r, err := b.bucket.Object(name).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open GCS object reader: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read GCS object: %w", err)
	}
	return data, nil
}

// Move copies src to dst server-side and deletes src.
func (b *bucketStore) Move(ctx context.Context, src, dst string) error {
	srcObj := b.bucket.Object(src)
	if _, err := b.bucket.Object(dst).CopierFrom(srcObj).Run(ctx); err != nil {
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	if err := srcObj.Delete(ctx); err != nil {
		return fmt.Errorf("delete %s: %w", src, err)
	}
	return nil
}
