package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dustin/go-humanize"
	"github.com/jessevdk/go-flags"
	"github.com/nguyengg/zipsniper"
	"github.com/nguyengg/zipsniper/internal"
	"github.com/nguyengg/zipsniper/internal/config"
	"github.com/nguyengg/zipsniper/rangefetch"
	"golang.org/x/term"
	"golang.org/x/text/encoding/charmap"
)

// List prints the names of the entries of a remote ZIP archive.
type List struct {
	CommentBuffer int64          `short:"c" long:"comment-buffer" description:"number of bytes at the end of the archive to search for the end of central directory record; negative values are made positive (default: 1024)"`
	HTTPProxy     string         `long:"http-proxy" description:"proxy URL for http:// archives"`
	HTTPSProxy    string         `long:"https-proxy" description:"proxy URL for https:// archives"`
	OutputFile    flags.Filename `short:"O" long:"output-file" description:"write the listing to this file instead of stdout"`
	Profile       string         `short:"p" long:"profile" description:"AWS profile for s3:// archives; overrides the aws-profile setting of the bucket"`
	Long          bool           `short:"l" long:"long" description:"print uncompressed size and modified time before each name"`
	Filter        string         `short:"f" long:"filter" description:"only print entries whose name contains this substring"`
	CP437         bool           `long:"cp437" description:"decode names that are not UTF-8 as code page 437 instead of failing"`
	SpillDir      flags.Filename `long:"spill-dir" description:"directory for the temporary central directory file (default: system temp dir)"`
	Quiet         bool           `short:"q" long:"quiet" description:"do not display progress"`
	Verbose       bool           `short:"v" long:"verbose" description:"log each step to stderr"`
	Args          struct {
		URL string `positional-arg-name:"url" description:"http://, https://, or s3:// URL of the ZIP archive" required:"yes"`
	} `positional-args:"yes"`

	logger *log.Logger
}

func (c *List) Execute(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("unknown positional arguments: %s", strings.Join(args, " "))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
	defer stop()

	if _, err := config.LoadProfile(ctx, c.Profile); err != nil {
		return fmt.Errorf("load config error: %w", err)
	}

	c.logger = internal.NewLogger(c.Args.URL)
	if !c.Verbose {
		c.logger.SetOutput(io.Discard)
	}

	f, err := c.newFetcher(ctx)
	if err != nil {
		return err
	}

	listing, err := zipsniper.List(ctx, f, c.options()...)
	if err != nil {
		return err
	}

	return c.write(listing)
}

// newFetcher creates the rangefetch.Fetcher for c.Args.URL; flags take precedence over the .zipsniper file.
func (c *List) newFetcher(ctx context.Context) (rangefetch.Fetcher, error) {
	dc := config.ForDefault()
	httpProxy := firstNonEmpty(c.HTTPProxy, dc.HTTPProxy)
	httpsProxy := firstNonEmpty(c.HTTPSProxy, dc.HTTPSProxy)

	return rangefetch.New(ctx, c.Args.URL, func(opts *rangefetch.Options) {
		opts.HTTPOptions = append(opts.HTTPOptions, func(opts *rangefetch.HTTPOptions) {
			opts.HTTPProxy = httpProxy
			opts.HTTPSProxy = httpsProxy
			opts.Logger = c.logger
		})

		opts.S3Client = func(ctx context.Context, bucket string) (rangefetch.S3Client, error) {
			c.logger.Printf("using S3 client for bucket %s", bucket)

			return config.NewS3ClientForBucket(ctx, bucket, func(options *s3.Options) {
				// without this, getting a bunch of WARN message below:
				// WARN Response has no supported checksum. Not validating response payload.
				options.DisableLogOutputChecksumValidationSkipped = true
			})
		}

		if bucket, _, err := rangefetch.ParseS3URI(c.Args.URL); err == nil {
			opts.S3Options = append(opts.S3Options, func(opts *rangefetch.S3Options) {
				opts.ExpectedBucketOwner = config.ForBucket(bucket).ExpectedBucketOwner
				opts.Logger = c.logger
			})
		}
	})
}

func (c *List) options() []func(*zipsniper.Options) {
	dc := config.ForDefault()

	optFns := []func(*zipsniper.Options){
		func(opts *zipsniper.Options) {
			switch {
			case c.CommentBuffer != 0:
				opts.CommentBuffer = c.CommentBuffer
			case dc.CommentBuffer != 0:
				opts.CommentBuffer = dc.CommentBuffer
			}

			opts.SpillDir = firstNonEmpty(string(c.SpillDir), dc.SpillDir)
			opts.Logger = c.logger

			if c.CP437 {
				opts.Charmap = charmap.CodePage437
			}
		},
	}

	switch {
	case c.Quiet:
	case term.IsTerminal(int(os.Stderr.Fd())):
		optFns = append(optFns, zipsniper.WithProgressBar())
	case c.Verbose:
		optFns = append(optFns, zipsniper.WithProgressLogger(c.logger, 5*time.Second))
	}

	return optFns
}

func (c *List) write(listing *zipsniper.Listing) (err error) {
	var w io.Writer = os.Stdout
	if c.OutputFile != "" {
		var f *os.File
		if f, err = os.Create(string(c.OutputFile)); err != nil {
			return fmt.Errorf("create output file error: %w", err)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("close output file error: %w", cerr)
			}
		}()

		w = f
	}

	n := 0
	bw := bufio.NewWriter(w)
	for _, fh := range listing.Headers {
		if !strings.Contains(fh.Name, c.Filter) {
			continue
		}

		n++
		if c.Long {
			_, err = fmt.Fprintf(bw, "%10s  %s  %s\n", humanize.IBytes(fh.UncompressedSize64), fh.Modified.Format("2006-01-02 15:04"), fh.Name)
		} else {
			_, err = fmt.Fprintln(bw, fh.Name)
		}
		if err != nil {
			return fmt.Errorf("write listing error: %w", err)
		}
	}

	if err = bw.Flush(); err != nil {
		return fmt.Errorf("write listing error: %w", err)
	}

	c.logger.Printf("listed %d of %d entries", n, len(listing.Headers))
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}

// NewParser returns the parser for the zipsniper command line.
//
// The returned List is populated by Parse; call its Execute with the remaining arguments.
func NewParser() (*flags.Parser, *List) {
	c := &List{}
	p := flags.NewParser(c, flags.Default)
	p.Name = "zipsniper"
	p.Usage = "[OPTIONS] URL"

	return p, c
}
