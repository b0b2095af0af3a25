// Package s3store mirrors an S3-compatible bucket. Remote ids are object
// keys; folders are the common prefixes under a "/" delimiter.
package s3store

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/ghyeongl/drivemirror/sync"
)

// API is the subset of the S3 client used by the provider.
type API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Config selects the bucket and how to reach it. Empty credentials fall
// back to the default AWS credential chain.
type Config struct {
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	Prefix    string `mapstructure:"prefix" yaml:"prefix"`
	Region    string `mapstructure:"region" yaml:"region"`
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"-"`
	PathStyle bool   `mapstructure:"path_style" yaml:"path_style"`
}

// Provider implements sync.Provider over one bucket.
type Provider struct {
	client API
	bucket string
	prefix string // "" or ends with "/"
}

// New builds an S3 client from cfg.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}
	opts := []func(*config.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})
	return NewWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewWithClient wraps an existing client. prefix scopes the mirror to a
// sub-tree of the bucket.
func NewWithClient(client API, bucket, prefix string) *Provider {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &Provider{client: client, bucket: bucket, prefix: prefix}
}

func (p *Provider) url(key string) string {
	return "s3://" + p.bucket + "/" + key
}

// ListChildren lists the objects and common prefixes directly under id.
// An empty id lists the configured prefix.
func (p *Provider) ListChildren(ctx context.Context, id string) ([]sync.Node, error) {
	prefix := id
	if prefix == "" {
		prefix = p.prefix
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		return nil, fmt.Errorf("s3: %s is not a folder: %w", id, sync.ErrNotFound)
	}

	pager := s3.NewListObjectsV2Paginator(p.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(p.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	var out []sync.Node
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			sync.AuditRemote(p.url(prefix), statusOf(err), 0)
			return nil, mapError("list "+prefix, err)
		}
		sync.AuditRemote(p.url(prefix), http.StatusOK, len(page.Contents)+len(page.CommonPrefixes))

		for _, cp := range page.CommonPrefixes {
			key := aws.ToString(cp.Prefix)
			name := path.Base(strings.TrimSuffix(key, "/"))
			out = append(out, sync.Node{ID: key, Name: name, IsFolder: true})
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			// Zero-byte folder markers some tools create.
			if key == prefix || strings.HasSuffix(key, "/") {
				continue
			}
			out = append(out, sync.Node{ID: key, Name: path.Base(key), Size: obj.Size})
		}
	}
	return out, nil
}

// GetContentHash returns the object's SHA-1 checksum as lower-case hex.
// Objects uploaded without a SHA-1 checksum, or with a composite multipart
// checksum, report ok=false.
func (p *Provider) GetContentHash(ctx context.Context, id string) (string, bool, error) {
	out, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket:       aws.String(p.bucket),
		Key:          aws.String(id),
		ChecksumMode: types.ChecksumModeEnabled,
	})
	if err != nil {
		sync.AuditRemote(p.url(id), statusOf(err), 0)
		return "", false, mapError("head "+id, err)
	}
	sync.AuditRemote(p.url(id), http.StatusOK, 1)

	sum := aws.ToString(out.ChecksumSHA1)
	if sum == "" {
		return "", false, nil
	}
	raw, err := base64.StdEncoding.DecodeString(sum)
	if err != nil || len(raw) != 20 {
		sync.Logger("s3").Debug("unusable checksum", "key", id, "checksum", sum)
		return "", false, nil
	}
	return hex.EncodeToString(raw), true, nil
}

// GetContent streams the object body.
func (p *Provider) GetContent(ctx context.Context, id string) (io.ReadCloser, error) {
	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(id),
	})
	if err != nil {
		sync.AuditRemote(p.url(id), statusOf(err), 0)
		return nil, mapError("get "+id, err)
	}
	sync.AuditRemote(p.url(id), http.StatusOK, 1)
	return out.Body, nil
}

func statusOf(err error) int {
	var re *smithyhttp.ResponseError
	if errors.As(err, &re) {
		return re.HTTPStatusCode()
	}
	return 0
}

// mapError classifies an SDK error into the provider error kinds.
// Context errors pass through unchanged.
func mapError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch",
			"ExpiredToken", "InvalidToken", "AllAccessDisabled":
			return fmt.Errorf("s3 %s: %w: %v", op, sync.ErrUnauthorized, err)
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return fmt.Errorf("s3 %s: %w: %v", op, sync.ErrNotFound, err)
		}
	}

	switch statusOf(err) {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("s3 %s: %w: %v", op, sync.ErrUnauthorized, err)
	case http.StatusNotFound:
		return fmt.Errorf("s3 %s: %w: %v", op, sync.ErrNotFound, err)
	}
	return fmt.Errorf("s3 %s: %w: %v", op, sync.ErrTransient, err)
}
