package supabase

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	storage_go "github.com/supabase-community/storage-go"
)

type fakeBucket struct {
	objects     map[string][]byte
	contentType string
	uploadErr   error
}

func (f *fakeBucket) UploadFile(bucketID, relativePath string, data io.Reader, opts ...storage_go.FileOptions) (storage_go.FileUploadResponse, error) {
	if f.uploadErr != nil {
		return storage_go.FileUploadResponse{}, f.uploadErr
	}
	body, _ := io.ReadAll(data)
	f.objects[bucketID+"/"+relativePath] = body
	if len(opts) > 0 && opts[0].ContentType != nil {
		f.contentType = *opts[0].ContentType
	}
	return storage_go.FileUploadResponse{Key: relativePath}, nil
}

func (f *fakeBucket) CreateSignedUrl(bucketID, filePath string, expiresIn int) (storage_go.SignedUrlResponse, error) {
	return storage_go.SignedUrlResponse{SignedURL: "https://proj.supabase.co/storage/v1/object/sign/" + bucketID + "/" + filePath + "?token=t"}, nil
}

func (f *fakeBucket) DownloadFile(bucketID, filePath string, _ ...storage_go.UrlOptions) ([]byte, error) {
	body, ok := f.objects[bucketID+"/"+filePath]
	if !ok {
		return nil, errors.New("not found")
	}
	return body, nil
}

func TestPutSignsLocator(t *testing.T) {
	bucket := &fakeBucket{objects: map[string][]byte{}}
	store, err := New(bucket, "videos")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	obj, err := store.Put(context.Background(), "user-1", "clip.mp4", strings.NewReader("payload"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if obj.Size != 7 {
		t.Fatalf("unexpected size %d", obj.Size)
	}
	if !strings.HasPrefix(obj.Locator, "https://proj.supabase.co/storage/v1/object/sign/videos/") {
		t.Fatalf("unexpected locator %q", obj.Locator)
	}
	if bucket.contentType == "" {
		t.Fatalf("expected content type to be forwarded")
	}

	rc, err := store.Open(context.Background(), obj.Key)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	data, _ := io.ReadAll(rc)
	if string(data) != "payload" {
		t.Fatalf("unexpected contents %q", data)
	}
}

func TestPutSurfacesUploadError(t *testing.T) {
	bucket := &fakeBucket{objects: map[string][]byte{}, uploadErr: errors.New("quota")}
	store, _ := New(bucket, "videos")
	if _, err := store.Put(context.Background(), "user-1", "clip.mp4", strings.NewReader("x")); err == nil {
		t.Fatalf("expected upload error")
	}
}
