// Package storage persists final render artifacts. The S3 backend handles
// durable storage; a local-directory backend takes over when no access key is
// configured so development runs still produce retrievable files.
package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"showrunner/internal/config"
	"showrunner/internal/fileutil"
	"showrunner/internal/services"
)

// Store uploads one artifact and returns its public URL.
type Store interface {
	Upload(ctx context.Context, localPath, key string) (string, error)
	Healthy(ctx context.Context) error
	Configured() bool
}

// NewFromConfig selects the S3 store when credentials are present and the
// local store otherwise.
func NewFromConfig(cfg config.Storage, workDir string) (Store, error) {
	if strings.TrimSpace(cfg.AccessKey) == "" || strings.TrimSpace(cfg.Bucket) == "" {
		return NewLocalStore(filepath.Join(workDir, "artifacts"))
	}
	return NewS3Store(cfg)
}

// S3Store uploads artifacts through the s3manager multipart uploader.
type S3Store struct {
	uploader      uploaderAPI
	bucket        string
	publicBaseURL string
}

type uploaderAPI interface {
	UploadWithContext(ctx aws.Context, input *s3manager.UploadInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error)
}

func NewS3Store(cfg config.Storage) (*S3Store, error) {
	awsCfg := &aws.Config{
		Region:      aws.String(cfg.Region),
		Credentials: credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""),
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}
	if cfg.UsePathStyle {
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "storage", "new s3 store", "create session", err)
	}
	return &S3Store{
		uploader:      s3manager.NewUploader(sess),
		bucket:        cfg.Bucket,
		publicBaseURL: strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/"),
	}, nil
}

func (s *S3Store) Configured() bool { return true }

func (s *S3Store) Upload(ctx context.Context, localPath, key string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", services.Wrap(services.ErrStorage, "storage", "upload", fmt.Sprintf("open %s", localPath), err)
	}
	defer file.Close()

	_, err = s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String(contentTypeFor(key)),
	})
	if err != nil {
		return "", services.Wrap(services.ErrStorage, "storage", "upload", fmt.Sprintf("put %s", key), err)
	}
	return s.publicURL(key), nil
}

func (s *S3Store) Healthy(context.Context) error {
	if s.uploader == nil || s.bucket == "" {
		return services.Wrap(services.ErrConfiguration, "storage", "health", "store not initialized", nil)
	}
	return nil
}

func (s *S3Store) publicURL(key string) string {
	if s.publicBaseURL != "" {
		return s.publicBaseURL + "/" + strings.TrimLeft(key, "/")
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, strings.TrimLeft(key, "/"))
}

// LocalStore copies artifacts into a directory tree under the work dir.
type LocalStore struct {
	root string
}

func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, services.Wrap(services.ErrStorage, "storage", "new local store", fmt.Sprintf("create %s", root), err)
	}
	return &LocalStore{root: root}, nil
}

func (s *LocalStore) Configured() bool { return false }

func (s *LocalStore) Upload(_ context.Context, localPath, key string) (string, error) {
	dest := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", services.Wrap(services.ErrStorage, "storage", "upload", fmt.Sprintf("create %s", filepath.Dir(dest)), err)
	}
	if err := fileutil.CopyFileVerified(localPath, dest); err != nil {
		return "", services.Wrap(services.ErrStorage, "storage", "upload", fmt.Sprintf("copy to %s", dest), err)
	}
	return "file://" + dest, nil
}

func (s *LocalStore) Healthy(context.Context) error {
	info, err := os.Stat(s.root)
	if err != nil {
		return services.Wrap(services.ErrStorage, "storage", "health", "stat artifact root", err)
	}
	if !info.IsDir() {
		return services.Wrap(services.ErrStorage, "storage", "health", "artifact root is not a directory", nil)
	}
	return nil
}

func contentTypeFor(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".mp4":
		return "video/mp4"
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	default:
		return "application/octet-stream"
	}
}
