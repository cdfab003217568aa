package uploads

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectStore writes file bodies.
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, body io.Reader, size int64) error
	Delete(ctx context.Context, key string) error
}

// S3Config locates the bucket. Endpoint is set for LocalStack/MinIO.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// S3Objects stores objects in an S3 bucket.
type S3Objects struct {
	bucket string
	client *s3.Client
}

// NewS3Objects loads the AWS config and builds the client.
func NewS3Objects(ctx context.Context, cfg S3Config) (*S3Objects, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("uploads: load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}
	return &S3Objects{bucket: cfg.Bucket, client: s3.NewFromConfig(awsCfg, s3Opts...)}, nil
}

func (s *S3Objects) Put(ctx context.Context, key, contentType string, body io.Reader, size int64) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return fmt.Errorf("uploads: put object %q: %w", key, err)
	}
	return nil
}

func (s *S3Objects) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("uploads: delete object %q: %w", key, err)
	}
	return nil
}

// MemoryObjects keeps objects in memory for development and tests.
type MemoryObjects struct {
	mu      sync.RWMutex
	objects map[string][]byte
	types   map[string]string
}

// NewMemoryObjects creates an empty in-memory object store.
func NewMemoryObjects() *MemoryObjects {
	return &MemoryObjects{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (m *MemoryObjects) Put(_ context.Context, key, contentType string, body io.Reader, _ int64) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = buf.Bytes()
	m.types[key] = contentType
	return nil
}

func (m *MemoryObjects) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	delete(m.types, key)
	return nil
}

// Get returns a stored object.
func (m *MemoryObjects) Get(key string) ([]byte, string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.objects[key]
	return b, m.types[key], ok
}

var (
	_ ObjectStore = (*S3Objects)(nil)
	_ ObjectStore = (*MemoryObjects)(nil)
)
