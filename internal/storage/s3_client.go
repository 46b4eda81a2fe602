package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const DefaultPresignTTL = 15 * time.Minute

// S3Config points at the bucket holding message attachments. Endpoint is set for
// S3-compatible stores such as MinIO and switches to path-style addressing.
type S3Config struct {
	Region     string
	Bucket     string
	AccessKey  string
	SecretKey  string
	Endpoint   string
	PublicBase string
	PresignTTL time.Duration
}

// objectAPI is the part of *s3.Client the resolver needs.
type objectAPI interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Client resolves attachment references and presigns uploads for one bucket.
type Client struct {
	cfg     S3Config
	s3      objectAPI
	presign *s3.PresignClient
}

func NewClient(ctx context.Context, cfg S3Config) (*Client, error) {
	if cfg.Region == "" || cfg.Bucket == "" {
		return nil, errors.New("s3 region and bucket are required")
	}
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = DefaultPresignTTL
	}
	cfg.PublicBase = strings.TrimRight(cfg.PublicBase, "/")

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &Client{cfg: cfg, s3: api, presign: s3.NewPresignClient(api)}, nil
}

// PresignPut returns a URL the uploader can PUT the object to, plus the headers the
// upload must carry for the signature to match.
func (c *Client) PresignPut(ctx context.Context, key, contentType string, sizeBytes int64) (string, map[string]string, error) {
	if c == nil || c.presign == nil {
		return "", nil, errors.New("attachment storage is not configured")
	}
	if key == "" {
		return "", nil, errors.New("object key is required")
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
	}
	headers := map[string]string{}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
		headers["Content-Type"] = contentType
	}
	if sizeBytes > 0 {
		input.ContentLength = aws.Int64(sizeBytes)
		headers["Content-Length"] = strconv.FormatInt(sizeBytes, 10)
	}

	req, err := c.presign.PresignPutObject(ctx, input, s3.WithPresignExpires(c.cfg.PresignTTL))
	if err != nil {
		return "", nil, fmt.Errorf("presign %s: %w", key, err)
	}
	return req.URL, headers, nil
}

// FileURL is the public URL of key, or "" when the bucket has no public base.
func (c *Client) FileURL(key string) string {
	if c == nil || key == "" || c.cfg.PublicBase == "" {
		return ""
	}
	return c.cfg.PublicBase + "/" + key
}
