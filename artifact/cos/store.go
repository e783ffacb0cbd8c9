// Package cos is an artifact.Store backed by Tencent Cloud Object Storage.
package cos

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/tencentyun/cos-go-sdk-v5"

	"github.com/wishub/skillhub/artifact"
)

const defaultTimeout = 60 * time.Second

// Store is an artifact.Store implementation backed by a COS bucket.
type Store struct {
	client *cos.Client
}

// Option configures New.
type Option func(*options)

type options struct {
	secretID   string
	secretKey  string
	timeout    time.Duration
	httpClient *http.Client
}

// WithSecretID overrides the TCOS_SECRETID environment variable.
func WithSecretID(id string) Option { return func(o *options) { o.secretID = id } }

// WithSecretKey overrides the TCOS_SECRETKEY environment variable.
func WithSecretKey(key string) Option { return func(o *options) { o.secretKey = key } }

// WithTimeout sets the HTTP client timeout used for COS requests.
func WithTimeout(d time.Duration) Option { return func(o *options) { o.timeout = d } }

// New creates a Store against bucketURL, e.g.
// "https://bucket.cos.region.myqcloud.com". Credentials come from
// TCOS_SECRETID/TCOS_SECRETKEY unless overridden by WithSecretID/WithSecretKey.
func New(bucketURL string, opts ...Option) (*Store, error) {
	o := &options{
		timeout:   defaultTimeout,
		secretID:  os.Getenv("TCOS_SECRETID"),
		secretKey: os.Getenv("TCOS_SECRETKEY"),
	}
	for _, opt := range opts {
		opt(o)
	}

	u, err := url.Parse(bucketURL)
	if err != nil {
		return nil, fmt.Errorf("parsing bucket url: %w", err)
	}
	base := &cos.BaseURL{BucketURL: u}

	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: o.timeout,
			Transport: &cos.AuthorizationTransport{
				SecretID:  o.secretID,
				SecretKey: o.secretKey,
			},
		}
	}

	return &Store{client: cos.NewClient(base, httpClient)}, nil
}

// Fetch implements artifact.Store.
func (s *Store) Fetch(ctx context.Context, codePointer string) ([]byte, error) {
	resp, err := s.client.Object.Get(ctx, codePointer, nil)
	if err != nil {
		if cos.IsNotFoundError(err) {
			return nil, &artifact.NotFoundError{CodePointer: codePointer}
		}
		return nil, fmt.Errorf("downloading %s: %w", codePointer, err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// Put implements artifact.Store.
func (s *Store) Put(ctx context.Context, skillID, version, ext string, data []byte) (string, error) {
	key := artifact.Key(skillID, version, ext)
	opt := &cos.ObjectPutOptions{
		ObjectPutHeaderOptions: &cos.ObjectPutHeaderOptions{
			ContentType: "application/octet-stream",
		},
	}
	if _, err := s.client.Object.Put(ctx, key, bytes.NewReader(data), opt); err != nil {
		return "", fmt.Errorf("uploading %s: %w", key, err)
	}
	return key, nil
}

// Delete implements artifact.Store.
func (s *Store) Delete(ctx context.Context, skillID, version string) error {
	prefix := skillID + "/" + version + "/"
	result, _, err := s.client.Bucket.Get(ctx, &cos.BucketGetOptions{Prefix: prefix})
	if err != nil {
		if cos.IsNotFoundError(err) {
			return nil
		}
		return fmt.Errorf("listing %s: %w", prefix, err)
	}
	for _, obj := range result.Contents {
		if _, err := s.client.Object.Delete(ctx, obj.Key); err != nil && !cos.IsNotFoundError(err) {
			return fmt.Errorf("deleting %s: %w", obj.Key, err)
		}
	}
	return nil
}
