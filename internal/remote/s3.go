package remote

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3 fetches from an S3-compatible bucket. Credentials and region come from
// the standard AWS environment; AWS_ENDPOINT_URL_S3 selects a non-AWS endpoint.
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3 builds a fetcher for a base of the form s3://bucket/prefix.
func NewS3(ctx context.Context, base string) (*S3, error) {
	bucket, prefix, err := parseS3URL(base)
	if err != nil {
		return nil, err
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		// MinIO and most on-prem gateways need path-style addressing.
		o.UsePathStyle = os.Getenv("AWS_ENDPOINT_URL_S3") != ""
	})
	return &S3{client: client, bucket: bucket, prefix: prefix}, nil
}

func parseS3URL(base string) (bucket, prefix string, err error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", "", fmt.Errorf("parse s3 url %s: %w", base, err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("invalid s3 url %q, want s3://bucket/prefix", base)
	}
	return u.Host, strings.Trim(u.Path, "/"), nil
}

func (c *S3) key(name string) string {
	if c.prefix == "" {
		return name
	}
	return path.Join(c.prefix, name)
}

func s3ErrorIs404(err error) bool {
	var noKeyErr *types.NoSuchKey
	if errors.As(err, &noKeyErr) {
		return true
	}
	var notFound *types.NotFound
	return errors.As(err, &notFound)
}

// Fetch downloads the object into dest using the concurrent range downloader.
func (c *S3) Fetch(ctx context.Context, name, dest string) error {
	key := c.key(name)
	downloader := manager.NewDownloader(c.client)
	return writeAtomic(dest, func(f *os.File) error {
		_, err := downloader.Download(ctx, f, &s3.GetObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			if s3ErrorIs404(err) {
				return fmt.Errorf("fetch s3://%s/%s: %w", c.bucket, key, ErrNotFound)
			}
			return fmt.Errorf("download s3://%s/%s: %w", c.bucket, key, err)
		}
		return nil
	})
}

// List returns object names directly under the prefix matching pattern.
func (c *S3) List(ctx context.Context, pattern string) ([]string, error) {
	listPrefix := ""
	if c.prefix != "" {
		listPrefix = c.prefix + "/"
	}
	paginator := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(c.bucket),
		Prefix:    aws.String(listPrefix),
		Delimiter: aws.String("/"),
	})
	var names []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", c.bucket, listPrefix, err)
		}
		for _, obj := range page.Contents {
			names = append(names, strings.TrimPrefix(aws.ToString(obj.Key), listPrefix))
		}
	}
	return filterNames(names, pattern)
}
