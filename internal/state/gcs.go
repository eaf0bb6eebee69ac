package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"bqflow/internal/config"
	"bqflow/internal/domain"
)

var _ domain.StateStore = (*GCSStore)(nil)

// GCSStore keeps one JSON object per key under gs://bucket/prefix.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSStore creates a GCSStore for a gs://bucket/prefix URI. An empty
// credentialsFile uses application default credentials. Extra options are
// passed to the storage client after the credentials option.
func NewGCSStore(ctx context.Context, uri, credentialsFile string, extra ...option.ClientOption) (*GCSStore, error) {
	bucket, prefix, err := parseGCSURI(uri)
	if err != nil {
		return nil, err
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithAuthCredentialsFile(option.ServiceAccount, credentialsFile))
	}
	opts = append(opts, extra...)
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket, prefix: prefix}, nil
}

// Close releases the storage client.
func (s *GCSStore) Close() error { return s.client.Close() }

func (s *GCSStore) object(key string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(objectName(s.prefix, key))
}

// Get reads the state saved under key.
func (s *GCSStore) Get(ctx context.Context, key string) (*domain.ResultState, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	r, err := s.object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, domain.ErrNotFound("result state %q not found", key)
	}
	if err != nil {
		return nil, fmt.Errorf("read result state %q: %w", key, err)
	}
	defer r.Close() //nolint:errcheck

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read result state %q: %w", key, err)
	}
	var st domain.ResultState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode result state %q: %w", key, err)
	}
	return &st, nil
}

// Put writes st under key.
func (s *GCSStore) Put(ctx context.Context, key string, st *domain.ResultState) error {
	if err := validateKey(key); err != nil {
		return err
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode result state %q: %w", key, err)
	}

	w := s.object(key).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("write result state %q: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("write result state %q: %w", key, err)
	}
	return nil
}

// Exists reports whether a state was saved under key.
func (s *GCSStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	_, err := s.object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat result state %q: %w", key, err)
	}
	return true, nil
}

// parseGCSURI splits gs://bucket/prefix. The prefix may be empty.
func parseGCSURI(uri string) (bucket, prefix string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("parse GCS URI %q: %w", uri, err)
	}
	if u.Scheme != "gs" {
		return "", "", domain.ErrValidation("expected gs:// scheme, got %q in %q", u.Scheme, uri)
	}
	if u.Host == "" {
		return "", "", domain.ErrValidation("empty bucket in GCS URI %q", uri)
	}
	return u.Host, strings.Trim(u.Path, "/"), nil
}

func objectName(prefix, key string) string {
	return path.Join(prefix, key+".json")
}

// Open returns the store selected by cfg: GCS when StateGCSURI is set,
// otherwise files under StateDir.
func Open(ctx context.Context, cfg *config.Config) (domain.StateStore, error) {
	if cfg.StateGCSURI != "" {
		return NewGCSStore(ctx, cfg.StateGCSURI, cfg.BigQuery.CredentialsFile)
	}
	return NewFileStore(cfg.StateDir), nil
}
