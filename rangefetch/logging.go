package rangefetch

import (
	"context"
	"log"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dustin/go-humanize"
)

// loggingS3Client provides pre- and post- hooks on the GetObject calls that S3 and manager.Downloader make.
type loggingS3Client struct {
	S3Client
	logger *log.Logger
}

func (c *loggingS3Client) GetObject(ctx context.Context, input *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	c.logger.Printf(`GetObject "s3://%s/%s" %s`, aws.ToString(input.Bucket), aws.ToString(input.Key), aws.ToString(input.Range))

	getObjectOutput, err := c.S3Client.GetObject(ctx, input, optFns...)
	if err != nil {
		c.logger.Printf("GetObject error: %v", err)
		return nil, err
	}

	c.logger.Printf("GetObject returned %s (%s)", aws.ToString(getObjectOutput.ContentRange), humanize.IBytes(uint64(aws.ToInt64(getObjectOutput.ContentLength))))
	return getObjectOutput, nil
}

// loggingTransport logs every request and its response status.
type loggingTransport struct {
	http.RoundTripper
	logger *log.Logger
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.logger.Printf("%s %s %s", req.Method, req.URL.Redacted(), req.Header.Get("Range"))

	res, err := t.RoundTripper.RoundTrip(req)
	if err != nil {
		t.logger.Printf("%s error: %v", req.Method, err)
		return nil, err
	}

	t.logger.Printf("%s returned %s %s", req.Method, res.Status, res.Header.Get("Content-Range"))
	return res, nil
}
