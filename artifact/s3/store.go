// Package s3 is an artifact.Store backed by AWS S3 or any S3-compatible
// object store (MinIO, R2, Spaces) that speaks the same API.
package s3

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/wishub/skillhub/artifact"
)

// Config configures the S3 client. Endpoint, AccessKeyID and SecretAccessKey
// are only needed for S3-compatible services that aren't AWS itself.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	UsePathStyle    bool
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// s3API is the slice of the AWS SDK S3 client Store actually calls. It
// exists so tests can substitute an in-memory double instead of talking to
// a real bucket, the same seam the teacher's artifact/s3 package gets from
// its own private storage interface.
type s3API interface {
	GetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
	DeleteObjects(ctx context.Context, params *awss3.DeleteObjectsInput, optFns ...func(*awss3.Options)) (*awss3.DeleteObjectsOutput, error)
	awss3.ListObjectsV2APIClient
}

// Store is an artifact.Store implementation backed by an S3 bucket.
type Store struct {
	client s3API
	bucket string
}

// newWithClient builds a Store around an already-constructed s3API,
// bypassing AWS config/credential loading. Used by tests to inject an
// in-memory double.
func newWithClient(bucket string, client s3API) *Store {
	return &Store{client: client, bucket: bucket}
}

// New builds a Store from cfg, loading AWS credentials from the default
// chain unless overridden by cfg.AccessKeyID/SecretAccessKey.
func New(ctx context.Context, cfg Config) (*Store, error) {
	var awsOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		awsOpts = append(awsOpts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		return nil, err
	}

	var s3Opts []func(*awss3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *awss3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *awss3.Options) {
			o.UsePathStyle = true
		})
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		s3Opts = append(s3Opts, func(o *awss3.Options) {
			o.Credentials = credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)
		})
	}

	return &Store{
		client: awss3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
	}, nil
}

// Fetch implements artifact.Store.
func (s *Store) Fetch(ctx context.Context, codePointer string) ([]byte, error) {
	resp, err := s.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(codePointer),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, &artifact.NotFoundError{CodePointer: codePointer}
		}
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// Put implements artifact.Store.
func (s *Store) Put(ctx context.Context, skillID, version, ext string, data []byte) (string, error) {
	key := artifact.Key(skillID, version, ext)
	_, err := s.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return "", err
	}
	return key, nil
}

// Delete implements artifact.Store. It removes every extension variant of
// the (skillID, version) blob; S3 DeleteObjects is idempotent on missing
// keys, so callers don't need to know which extension was used at Put time.
func (s *Store) Delete(ctx context.Context, skillID, version string) error {
	prefix := skillID + "/" + version + "/"
	var keys []types.ObjectIdentifier
	paginator := awss3.NewListObjectsV2Paginator(s.client, &awss3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, obj := range page.Contents {
			keys = append(keys, types.ObjectIdentifier{Key: obj.Key})
		}
	}
	if len(keys) == 0 {
		return nil
	}
	_, err := s.client.DeleteObjects(ctx, &awss3.DeleteObjectsInput{
		Bucket: aws.String(s.bucket),
		Delete: &types.Delete{Objects: keys, Quiet: aws.Bool(true)},
	})
	return err
}
