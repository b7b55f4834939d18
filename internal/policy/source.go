package policy

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Source loads a policy set from somewhere.
type Source interface {
	Load(ctx context.Context) (*Set, error)
	String() string
}

// S3Config holds the connection settings for s3:// policy sources.
type S3Config struct {
	Region    string
	Endpoint  string
	KeyID     string
	Secret    string
	PathStyle bool
}

// NewSource returns a Source for uri: a local path, a file:// URL or an
// s3://bucket/key URL.
func NewSource(uri string, s3cfg S3Config) (Source, error) {
	if uri == "" {
		return nil, fmt.Errorf("empty policy source")
	}
	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// bare path (a single-letter scheme is a drive letter)
		return FileSource{Path: uri}, nil
	}
	switch u.Scheme {
	case "file":
		return FileSource{Path: u.Path}, nil
	case "s3":
		key := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || key == "" {
			return nil, fmt.Errorf("invalid s3 policy source %q", uri)
		}
		return NewS3Source(u.Host, key, s3cfg), nil
	default:
		return nil, fmt.Errorf("unsupported policy source scheme %q", u.Scheme)
	}
}

// FileSource reads policies from a local JSON or YAML file.
type FileSource struct {
	Path string
}

// Load reads and parses the file.
func (f FileSource) Load(_ context.Context) (*Set, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return Read(bytes.NewReader(data), FormatFromPath(f.Path))
}

func (f FileSource) String() string { return f.Path }

// S3Source reads policies from an object in an S3-compatible store.
type S3Source struct {
	client *s3.Client
	bucket string
	key    string
}

// NewS3Source creates an S3Source with static credentials.
func NewS3Source(bucket, key string, cfg S3Config) *S3Source {
	opts := s3.Options{
		Region:       cfg.Region,
		UsePathStyle: cfg.PathStyle,
	}
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}
	if cfg.KeyID != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(cfg.KeyID, cfg.Secret, "")
	}
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
			endpoint = "https://" + endpoint
		}
		opts.BaseEndpoint = aws.String(endpoint)
	}
	return &S3Source{client: s3.New(opts), bucket: bucket, key: key}
}

// Load fetches and parses the object.
func (s *S3Source) Load(ctx context.Context) (*Set, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		return nil, fmt.Errorf("get policy object %s: %w", s, err)
	}
	defer out.Body.Close() //nolint:errcheck
	return Read(out.Body, FormatFromPath(s.key))
}

func (s *S3Source) String() string { return "s3://" + s.bucket + "/" + s.key }
