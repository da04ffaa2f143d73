package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/makeasinger/videogen/internal/config"
)

// ErrAssetNotFound is returned by Open when the object no longer exists.
var ErrAssetNotFound = errors.New("asset not found")

// StorageClient keeps rendered videos outside the provider process.
type StorageClient interface {
	// Upload stores body under key and returns its public URL.
	Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
	Open(ctx context.Context, key string) (*Asset, error)
	GetSignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// AssetKey is the object key of a job's rendered video.
func AssetKey(jobID, ext string) string {
	return "videos/" + jobID + "/output." + strings.TrimPrefix(ext, ".")
}

// R2Client stores assets in a Cloudflare R2 bucket through its S3 API.
type R2Client struct {
	s3        *s3.Client
	presigner *s3.PresignClient
	bucket    string
	publicURL string
}

func r2Endpoint(accountID string) string {
	return "https://" + accountID + ".r2.cloudflarestorage.com"
}

// NewR2Client builds a client for cfg's bucket. No request is made until the
// first upload.
func NewR2Client(ctx context.Context, cfg *config.R2Config) (*R2Client, error) {
	switch {
	case cfg.AccountID == "" || cfg.AccessKeyID == "" || cfg.SecretAccessKey == "":
		return nil, errors.New("r2: account id and credentials are required")
	case cfg.BucketName == "":
		return nil, errors.New("r2: bucket name is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("auto"),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("r2: load aws config: %w", err)
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(r2Endpoint(cfg.AccountID))
	})
	return &R2Client{
		s3:        api,
		presigner: s3.NewPresignClient(api),
		bucket:    cfg.BucketName,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
	}, nil
}

func (c *R2Client) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	_, err := c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(c.bucket),
		Key:          aws.String(key),
		Body:         body,
		ContentType:  aws.String(contentType),
		CacheControl: aws.String("private, max-age=3600"),
	})
	if err != nil {
		return "", fmt.Errorf("r2: put %s: %w", key, err)
	}
	return c.objectURL(key), nil
}

// Open streams an object back. The caller closes the body.
func (c *R2Client) Open(ctx context.Context, key string) (*Asset, error) {
	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("r2: %s: %w", key, ErrAssetNotFound)
		}
		return nil, fmt.Errorf("r2: get %s: %w", key, err)
	}
	return &Asset{
		Body:          out.Body,
		ContentType:   aws.ToString(out.ContentType),
		ContentLength: aws.ToInt64(out.ContentLength),
	}, nil
}

// GetSignedURL presigns a GET for key, valid for expiry.
func (c *R2Client) GetSignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	req, err := c.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("r2: presign %s: %w", key, err)
	}
	return req.URL, nil
}

func (c *R2Client) objectURL(key string) string {
	if c.publicURL != "" {
		return c.publicURL + "/" + key
	}
	return r2Endpoint(c.bucket) + "/" + key
}
