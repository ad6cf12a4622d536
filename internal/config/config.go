package config

import (
	"github.com/aws/aws-sdk-go-v2/aws"
)

// DefaultConfig contains the settings of the [default] section.
//
// Command line flags take precedence over these values.
type DefaultConfig struct {
	// CommentBuffer is 0 if not set.
	CommentBuffer int64
	HTTPProxy     string
	HTTPSProxy    string
	SpillDir      string
}

// ForDefault returns the settings of the [default] section.
//
// A comment-buffer value that is not an integer is ignored.
func (l *Loader) ForDefault() (c DefaultConfig) {
	sec, err := l.cfg.GetSection("default")
	if err != nil {
		return c
	}

	if v, err := sec.Key("comment-buffer").Int64(); err == nil {
		c.CommentBuffer = v
	}

	c.HTTPProxy = sec.Key("http-proxy").String()
	c.HTTPSProxy = sec.Key("https-proxy").String()
	c.SpillDir = sec.Key("spill-dir").String()

	return
}

// ForDefault calls Loader.ForDefault on the DefaultLoader instance.
func ForDefault() (c DefaultConfig) {
	return DefaultLoader.ForDefault()
}

// BucketConfig contains configuration settings for a specific bucket.
type BucketConfig struct {
	Bucket              string
	AWSProfile          string
	ExpectedBucketOwner *string
}

// ForBucket returns configuration for a specific bucket.
func (l *Loader) ForBucket(bucket string) (c BucketConfig) {
	sec, err := l.cfg.GetSection("s3://" + bucket)
	if err != nil {
		return c
	}

	c.Bucket = bucket

	c.AWSProfile = sec.Key("aws-profile").String()

	if sec.HasKey("expected-bucket-owner") {
		c.ExpectedBucketOwner = aws.String(sec.Key("expected-bucket-owner").String())
	}

	return
}

// ForBucket calls Loader.ForBucket on the DefaultLoader instance.
func ForBucket(bucket string) (c BucketConfig) {
	return DefaultLoader.ForBucket(bucket)
}
