package attachments

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/wolfman30/homepro-connect/internal/chat"
	"github.com/wolfman30/homepro-connect/pkg/logging"
)

// S3API is the subset of the S3 client used by S3Uploader.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config selects the bucket and how object URLs are built.
type S3Config struct {
	Bucket        string
	Prefix        string
	PublicBaseURL string
	Region        string

	AccessKeyID      string
	SecretAccessKey  string
	EndpointOverride string
}

// S3Uploader puts attachments straight into a bucket.
type S3Uploader struct {
	client S3API
	cfg    S3Config
	logger *logging.Logger
	newID  func() string
}

// NewS3Uploader builds an uploader around an existing S3 client.
func NewS3Uploader(client S3API, cfg S3Config, logger *logging.Logger) *S3Uploader {
	if client == nil {
		panic("attachments: s3 client required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	return &S3Uploader{client: client, cfg: cfg, logger: logger, newID: uuid.NewString}
}

// NewS3Client loads the AWS SDK config with optional static credentials and
// endpoint override (LocalStack, MinIO).
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	loaders := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if strings.TrimSpace(cfg.AccessKeyID) != "" && strings.TrimSpace(cfg.SecretAccessKey) != "" {
		loaders = append(loaders, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("attachments: load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint := strings.TrimSpace(cfg.EndpointOverride); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// Upload implements Uploader.
func (u *S3Uploader) Upload(ctx context.Context, f File) (chat.Attachment, error) {
	if f.Body == nil {
		return chat.Attachment{}, fmt.Errorf("attachments: file body required")
	}
	data, err := io.ReadAll(f.Body)
	if err != nil {
		return chat.Attachment{}, fmt.Errorf("attachments: read %q: %w", f.Name, err)
	}
	if len(data) == 0 {
		return chat.Attachment{}, fmt.Errorf("attachments: %q is empty", f.Name)
	}

	key := u.objectKey(f.Name)
	contentType := f.MIME
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return chat.Attachment{}, fmt.Errorf("attachments: s3 put %s: %w", key, err)
	}

	u.logger.Debug("attachments: uploaded to s3", "bucket", u.cfg.Bucket, "key", key, "bytes", len(data))
	return chat.Attachment{URL: u.objectURL(key), Name: f.Name, MIME: f.MIME}, nil
}

func (u *S3Uploader) objectKey(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		base = "file"
	}
	return u.cfg.Prefix + u.newID() + "-" + base
}

func (u *S3Uploader) objectURL(key string) string {
	escaped := (&url.URL{Path: key}).EscapedPath()
	if base := strings.TrimRight(u.cfg.PublicBaseURL, "/"); base != "" {
		return base + "/" + escaped
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", u.cfg.Bucket, u.cfg.Region, escaped)
}
