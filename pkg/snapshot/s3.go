package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ObjectAPI is the subset of *s3.Client the sink uses.
type ObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Options locates the snapshot object and how to reach it.
type S3Options struct {
	Bucket string
	Key    string
	Region string
	// Endpoint overrides the service endpoint, for S3-compatible stores.
	Endpoint     string
	UsePathStyle bool
	// Static credentials; when empty the default credential chain is used.
	AccessKeyID     string
	SecretAccessKey string
}

// S3Sink keeps the snapshot in one S3 object.
type S3Sink struct {
	client ObjectAPI
	bucket string
	key    string
}

// NewS3Sink builds an S3 client from opts and the default AWS config chain.
func NewS3Sink(ctx context.Context, opts S3Options) (*S3Sink, error) {
	if opts.Bucket == "" || opts.Key == "" {
		return nil, ErrMissingTarget
	}

	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})

	return NewS3SinkWithClient(client, opts.Bucket, opts.Key), nil
}

// NewS3SinkWithClient uses an existing client (or a test double).
func NewS3SinkWithClient(client ObjectAPI, bucket, key string) *S3Sink {
	return &S3Sink{client: client, bucket: bucket, key: key}
}

func (s *S3Sink) Load(ctx context.Context) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrNoSnapshot
		}
		return nil, fmt.Errorf("get snapshot %s: %w", s, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", s, err)
	}
	return data, nil
}

func (s *S3Sink) Save(ctx context.Context, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("put snapshot %s: %w", s, err)
	}
	return nil
}

func (s *S3Sink) String() string {
	return "s3://" + s.bucket + "/" + s.key
}
