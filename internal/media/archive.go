// Package media copies inbound WhatsApp media into object storage we control,
// so transcription and operators can fetch it after the gateway URL expires.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"chatflow_backend/internal/conversations/domain"
	"chatflow_backend/internal/conversations/ports"
	"chatflow_backend/platform/apperr"
	"chatflow_backend/platform/config"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// PresignedURLTTL bounds how long the archived copy is reachable by URL.
const PresignedURLTTL = 30 * time.Minute

// ObjectStore is the subset of the MinIO client the archive uses.
type ObjectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	PresignedGetObject(ctx context.Context, bucket, key string, expires time.Duration, params url.Values) (*url.URL, error)
}

type Archive struct {
	store       ObjectStore
	bucket      string
	maxFileSize int64
	http        *http.Client
}

var _ ports.MediaArchive = (*Archive)(nil)

// NewMinIOArchive returns nil when MinIO is not configured.
func NewMinIOArchive(cfg config.MinIOConfig) (*Archive, error) {
	if !cfg.IsMinIOEnabled() {
		return nil, nil
	}

	client, err := minio.New(cfg.GetMinIOEndpoint(), &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.GetMinIOAccessKey(), cfg.GetMinIOSecretKey(), ""),
		Secure: cfg.GetMinIOUseSSL(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}
	return New(client, cfg.GetMinioBucketInboundMedia(), cfg.GetMinIOMaxFileSize()), nil
}

func New(store ObjectStore, bucket string, maxFileSize int64) *Archive {
	return &Archive{
		store:       store,
		bucket:      bucket,
		maxFileSize: maxFileSize,
		http:        &http.Client{Timeout: 30 * time.Second},
	}
}

// EnsureBucket creates the bucket if it doesn't exist.
func (a *Archive) EnsureBucket(ctx context.Context) error {
	exists, err := a.store.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if exists {
		return nil
	}
	if err := a.store.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", a.bucket, err)
	}
	return nil
}

// Archive downloads media.URL, stores it under the conversation and returns a
// presigned download URL.
func (a *Archive) Archive(ctx context.Context, conversationID uuid.UUID, m domain.Media) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.URL, nil)
	if err != nil {
		return "", apperr.Wrap(apperr.KindValidation, "invalid media url", err)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", apperr.Timeout("media download timed out", err)
		}
		return "", apperr.Unavailable("media download failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", apperr.FromHTTPStatus(resp.StatusCode, fmt.Sprintf("media download returned %d", resp.StatusCode))
	}
	if a.maxFileSize > 0 && resp.ContentLength > a.maxFileSize {
		return "", apperr.Validation(fmt.Sprintf("media exceeds %d bytes", a.maxFileSize))
	}

	contentType := m.MimeType
	if contentType == "" {
		contentType = resp.Header.Get("Content-Type")
	}

	size := resp.ContentLength
	body := io.Reader(resp.Body)
	if a.maxFileSize > 0 && size < 0 {
		body = io.LimitReader(resp.Body, a.maxFileSize)
	}

	key := objectKey(conversationID, m.Kind, contentType)
	if _, err := a.store.PutObject(ctx, a.bucket, key, body, size, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return "", apperr.Unavailable(fmt.Sprintf("failed to upload media %s", key), err)
	}

	presigned, err := a.store.PresignedGetObject(ctx, a.bucket, key, PresignedURLTTL, make(url.Values))
	if err != nil {
		return "", apperr.Unavailable("failed to generate presigned download URL", err)
	}
	return presigned.String(), nil
}

func objectKey(conversationID uuid.UUID, kind domain.MediaKind, contentType string) string {
	ext := ""
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		if exts, _ := mime.ExtensionsByType(mediaType); len(exts) > 0 {
			ext = exts[0]
		}
	}
	name := fmt.Sprintf("%s_%s%s", strings.ToLower(string(kind)), uuid.New().String()[:8], ext)
	return path.Join(conversationID.String(), time.Now().UTC().Format("2006/01/02"), name)
}
