package rangefetch

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Client abstracts the APIs that are needed to implement S3.
type S3Client interface {
	GetObject(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(context.Context, *s3.HeadObjectInput, ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Options customises NewS3.
type S3Options struct {
	// ExpectedBucketOwner is added to every HeadObject and GetObject request if given.
	ExpectedBucketOwner *string

	// ModifyGetObjectInput can be used to modify the GetObject input parameters.
	ModifyGetObjectInput func(*s3.GetObjectInput)

	// ModifyHeadObjectInput can be used to modify the HeadObject input parameters.
	ModifyHeadObjectInput func(*s3.HeadObjectInput)

	// ModifyDownloader can be used to modify the manager.Downloader used by S3.FetchTo.
	ModifyDownloader func(*manager.Downloader)

	// Logger logs every GetObject call and its result if given.
	Logger *log.Logger
}

// S3 implements WriterAtFetcher using HeadObject and ranged GetObject.
type S3 struct {
	client      S3Client
	bucket, key string
	opts        S3Options
	size        int64
}

var _ WriterAtFetcher = (*S3)(nil)

// NewS3 returns an S3 Fetcher for the given bucket and key.
func NewS3(client S3Client, bucket, key string, optFns ...func(*S3Options)) *S3 {
	s := &S3{
		client: client,
		bucket: bucket,
		key:    key,
		size:   -1,
	}
	for _, fn := range optFns {
		fn(&s.opts)
	}

	if s.opts.Logger != nil {
		s.client = &loggingS3Client{S3Client: client, logger: s.opts.Logger}
	}

	return s
}

func (s *S3) uri() string {
	return "s3://" + s.bucket + "/" + s.key
}

// Size returns the ContentLength from HeadObject. The value is cached after the first successful call.
func (s *S3) Size(ctx context.Context) (int64, error) {
	if s.size >= 0 {
		return s.size, nil
	}

	input := &s3.HeadObjectInput{
		Bucket:              aws.String(s.bucket),
		Key:                 aws.String(s.key),
		ExpectedBucketOwner: s.opts.ExpectedBucketOwner,
	}
	if s.opts.ModifyHeadObjectInput != nil {
		s.opts.ModifyHeadObjectInput(input)
	}

	headObjectOutput, err := s.client.HeadObject(ctx, input)
	if err != nil {
		return 0, &TransportError{Op: "size", URL: s.uri(), Err: err}
	}

	s.size = aws.ToInt64(headObjectOutput.ContentLength)
	return s.size, nil
}

func (s *S3) getObjectInput(r Range) *s3.GetObjectInput {
	input := &s3.GetObjectInput{
		Bucket:              aws.String(s.bucket),
		Key:                 aws.String(s.key),
		Range:               aws.String(r.String()),
		ExpectedBucketOwner: s.opts.ExpectedBucketOwner,
	}
	if s.opts.ModifyGetObjectInput != nil {
		s.opts.ModifyGetObjectInput(input)
	}

	return input
}

// Fetch makes a single ranged GetObject call and returns its body.
func (s *S3) Fetch(ctx context.Context, r Range) (io.ReadCloser, error) {
	getObjectOutput, err := s.client.GetObject(ctx, s.getObjectInput(r))
	if err != nil {
		return nil, &TransportError{Op: "fetch " + r.String(), URL: s.uri(), Err: err}
	}

	if aws.ToString(getObjectOutput.ContentRange) == "" {
		_ = getObjectOutput.Body.Close()
		return nil, &TransportError{Op: "fetch " + r.String(), URL: s.uri(), Err: ErrRangeUnsupported}
	}

	return getObjectOutput.Body, nil
}

// FetchTo downloads the given range into w using manager.Downloader.
//
// Because a range is given, manager.Downloader makes exactly one GetObject call and writes starting at offset 0 of w.
func (s *S3) FetchTo(ctx context.Context, r Range, w io.WriterAt) (int64, error) {
	d := manager.NewDownloader(s.client, func(d *manager.Downloader) {
		d.Concurrency = 1
		if s.opts.ModifyDownloader != nil {
			s.opts.ModifyDownloader(d)
		}
	})

	n, err := d.Download(ctx, w, s.getObjectInput(r))
	if err != nil {
		return n, &TransportError{Op: "fetch " + r.String(), URL: s.uri(), Err: err}
	}

	return n, nil
}

// ParseS3URI parses S3 URIs in format s3://bucket/key.
func ParseS3URI(text string) (bucket, key string, err error) {
	if !strings.HasPrefix(text, "s3://") {
		return "", "", fmt.Errorf(`invalid S3 URI "%s": must start with s3://`, text)
	}

	parts := strings.SplitN(strings.TrimPrefix(text, "s3://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf(`invalid S3 URI "%s": must be in format s3://bucket/key`, text)
	}

	return parts[0], parts[1], nil
}

func defaultS3Client(ctx context.Context, _ string) (S3Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}

	return s3.NewFromConfig(cfg, func(options *s3.Options) {
		// without this, getting a bunch of WARN message below:
		// WARN Response has no supported checksum. Not validating response payload.
		options.DisableLogOutputChecksumValidationSkipped = true
	}), nil
}
