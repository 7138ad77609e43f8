package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithy "github.com/aws/smithy-go"

	"github.com/cratescope/cratescope/pkg/common"
)

// S3Options configures an S3Backend mirror, for operators who prefer not
// to round-trip every cache miss through static.crates.io.
type S3Options struct {
	Bucket          string
	Region          string
	Endpoint        string // optional: non-AWS S3-compatible endpoint
	KeyTemplate     string // e.g. "crates/{name}/{name}-{version}.crate"
	AccessKeyID     string
	SecretAccessKey string
}

// S3Backend fetches tarballs from a private S3 (or S3-compatible) bucket,
// grounded on the teacher's pkg/storage/s3.go client setup.
type S3Backend struct {
	client      *s3.Client
	bucket      string
	keyTemplate string
}

// NewS3Backend builds an S3Backend from opts, resolving credentials the
// same way the teacher's GetAWSConfig does: explicit static keys if
// given, otherwise the default SDK credential chain.
func NewS3Backend(ctx context.Context, opts S3Options) (*S3Backend, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, common.NewError(common.CodeInternal, "loading AWS config", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	keyTemplate := opts.KeyTemplate
	if keyTemplate == "" {
		keyTemplate = "crates/{name}/{name}-{version}.crate"
	}

	return &S3Backend{client: client, bucket: opts.Bucket, keyTemplate: keyTemplate}, nil
}

func (b *S3Backend) objectKey(key common.CrateKey) string {
	k := strings.ReplaceAll(b.keyTemplate, "{name}", key.Name)
	return strings.ReplaceAll(k, "{version}", key.Version)
}

// Fetch downloads the full object for key from the bucket. Unlike the
// teacher's chunked Range-based GetObject (reading one offset window of a
// much larger object), the Loader always wants the whole tarball, so no
// Range header is set here.
func (b *S3Backend) Fetch(ctx context.Context, key common.CrateKey) (io.ReadCloser, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, common.NewError(common.CodeNotFound, "crate not found: "+key.String(), nil)
		}
		return nil, common.NewError(common.CodeUpstream,
			fmt.Sprintf("s3 get %s/%s", b.bucket, b.objectKey(key)), err)
	}
	return out.Body, nil
}

func isS3NotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	code := apiErr.ErrorCode()
	return code == "NoSuchKey" || code == "NotFound"
}
