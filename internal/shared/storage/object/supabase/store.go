package supabase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	storage_go "github.com/supabase-community/storage-go"

	"qc-dashboard/internal/shared/storage/object"
)

// signedURLSeconds bounds how long the job store may take to fetch a source.
const signedURLSeconds = 24 * 60 * 60

// Bucket is the subset of the storage client the store uses.
type Bucket interface {
	UploadFile(bucketID, relativePath string, data io.Reader, fileOptions ...storage_go.FileOptions) (storage_go.FileUploadResponse, error)
	CreateSignedUrl(bucketID, filePath string, expiresIn int) (storage_go.SignedUrlResponse, error)
	DownloadFile(bucketID, filePath string, urlOptions ...storage_go.UrlOptions) ([]byte, error)
}

// Store implements object.Store on Supabase Storage. Locators are signed
// object URLs.
type Store struct {
	client Bucket
	bucket string
}

// New creates a store writing into bucket.
func New(client Bucket, bucket string) (*Store, error) {
	if client == nil {
		return nil, errors.New("supabase storage client is required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("supabase bucket is required")
	}
	return &Store{client: client, bucket: bucket}, nil
}

// Put uploads r under the owner's namespace and signs a locator for it.
func (s *Store) Put(ctx context.Context, owner, fileName string, r io.Reader) (object.Object, error) {
	if err := ctx.Err(); err != nil {
		return object.Object{}, err
	}
	key, err := object.NewKey(owner, fileName)
	if err != nil {
		return object.Object{}, err
	}
	contentType, body, err := object.Sniff(r)
	if err != nil {
		return object.Object{}, err
	}
	counter := &object.CountingReader{R: body}

	upsert := false
	resp, err := s.client.UploadFile(s.bucket, key, counter, storage_go.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	})
	if err != nil {
		return object.Object{}, fmt.Errorf("supabase upload bucket=%s key=%s: %w", s.bucket, key, err)
	}
	if resp.Error != "" {
		return object.Object{}, fmt.Errorf("supabase upload bucket=%s key=%s: %s", s.bucket, key, resp.Error)
	}

	signed, err := s.client.CreateSignedUrl(s.bucket, key, signedURLSeconds)
	if err != nil {
		return object.Object{}, fmt.Errorf("supabase sign key=%s: %w", key, err)
	}
	return object.Object{
		Key:         key,
		Size:        counter.N,
		ContentType: contentType,
		Locator:     signed.SignedURL,
	}, nil
}

// Open downloads a stored object. The storage client buffers the whole body.
func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := s.client.DownloadFile(s.bucket, key)
	if err != nil {
		return nil, fmt.Errorf("supabase download bucket=%s key=%s: %w", s.bucket, key, err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

var _ object.Store = (*Store)(nil)
