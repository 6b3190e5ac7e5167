package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"showrunner/internal/config"
	"showrunner/internal/services"
)

func TestNewFromConfigSelectsLocalWithoutCredentials(t *testing.T) {
	store, err := NewFromConfig(config.Storage{}, t.TempDir())
	if err != nil {
		t.Fatalf("NewFromConfig failed: %v", err)
	}
	if store.Configured() {
		t.Fatal("expected local store without credentials")
	}
}

func TestLocalStoreUploadCopiesArtifact(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(filepath.Join(dir, "artifacts"))
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}

	src := filepath.Join(dir, "episode.mp4")
	if err := os.WriteFile(src, []byte("final-video"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	url, err := store.Upload(context.Background(), src, "jobs/job-1/episode.mp4")
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if !strings.HasPrefix(url, "file://") {
		t.Fatalf("expected file URL, got %q", url)
	}

	data, err := os.ReadFile(strings.TrimPrefix(url, "file://"))
	if err != nil {
		t.Fatalf("read uploaded artifact: %v", err)
	}
	if string(data) != "final-video" {
		t.Fatalf("unexpected artifact contents: %q", data)
	}
}

func TestLocalStoreUploadMissingSourceIsStorageError(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}
	_, err = store.Upload(context.Background(), "/nonexistent/episode.mp4", "jobs/x/episode.mp4")
	if !errors.Is(err, services.ErrStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if services.IsRetryable(err) {
		t.Fatal("upload failures must not be retried")
	}
}

type fakeUploader struct {
	input *s3manager.UploadInput
	err   error
}

func (f *fakeUploader) UploadWithContext(_ aws.Context, input *s3manager.UploadInput, _ ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	f.input = input
	if f.err != nil {
		return nil, f.err
	}
	return &s3manager.UploadOutput{}, nil
}

func TestS3StoreUploadBuildsPublicURL(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "episode.mp4")
	if err := os.WriteFile(src, []byte("x"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	uploader := &fakeUploader{}
	store := &S3Store{uploader: uploader, bucket: "renders", publicBaseURL: "https://cdn.example.com"}

	url, err := store.Upload(context.Background(), src, "jobs/job-1/episode.mp4")
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if url != "https://cdn.example.com/jobs/job-1/episode.mp4" {
		t.Fatalf("unexpected URL: %q", url)
	}
	if aws.StringValue(uploader.input.Bucket) != "renders" {
		t.Fatalf("unexpected bucket: %v", uploader.input.Bucket)
	}
	if aws.StringValue(uploader.input.ContentType) != "video/mp4" {
		t.Fatalf("unexpected content type: %v", uploader.input.ContentType)
	}
}

func TestS3StoreUploadFailureIsTerminal(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "episode.mp4")
	if err := os.WriteFile(src, []byte("x"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	store := &S3Store{uploader: &fakeUploader{err: errors.New("access denied")}, bucket: "renders"}
	_, err := store.Upload(context.Background(), src, "jobs/job-1/episode.mp4")
	if !errors.Is(err, services.ErrStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if services.IsRetryable(err) {
		t.Fatal("upload failures must fail the job, not retry")
	}
}
