package rangefetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"

	"github.com/snabb/httpreaderat"
)

// HTTPOptions customises NewHTTP.
type HTTPOptions struct {
	// HTTPProxy is the proxy URL for http:// requests. Empty means no proxy.
	HTTPProxy string

	// HTTPSProxy is the proxy URL for https:// requests. Empty means no proxy.
	HTTPSProxy string

	// Client is the http.Client used to make the requests.
	//
	// By default, a new client is created whose transport uses HTTPProxy and HTTPSProxy. If Client is given, the
	// proxy settings are ignored.
	Client *http.Client

	// Logger logs every request and its response status if given.
	Logger *log.Logger
}

// HTTP implements Fetcher for http:// and https:// URLs.
//
// Size sends a HEAD request. If the server refuses HEAD (403, 405, or 501, as presigned URLs that are only valid for
// GET do) or does not report a Content-Length, the size is read from the Content-Range of a GET for the first byte
// instead. Each Fetch sends exactly one GET whose Range header is the requested range.
//
// HTTP is not safe for concurrent use.
type HTTP struct {
	url    string
	client *http.Client

	// size is -1 until Size succeeds.
	size int64
}

var _ Fetcher = (*HTTP)(nil)

// NewHTTP returns an HTTP Fetcher for the given URL.
//
// Returns an error only if the proxy URLs are invalid.
func NewHTTP(rawURL string, optFns ...func(*HTTPOptions)) (*HTTP, error) {
	opts := &HTTPOptions{}
	for _, fn := range optFns {
		fn(opts)
	}

	client := opts.Client
	if client == nil {
		proxy, err := ProxyFunc(opts.HTTPProxy, opts.HTTPSProxy)
		if err != nil {
			return nil, err
		}

		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.Proxy = proxy
		client = &http.Client{Transport: transport}
	}

	if opts.Logger != nil {
		transport := client.Transport
		if transport == nil {
			transport = http.DefaultTransport
		}

		c := *client
		c.Transport = &loggingTransport{RoundTripper: transport, logger: opts.Logger}
		client = &c
	}

	return &HTTP{
		url:    rawURL,
		client: client,
		size:   -1,
	}, nil
}

// ProxyFunc returns a function to be used as http.Transport.Proxy that selects httpProxy for http:// requests and
// httpsProxy for https:// requests.
//
// Either may be empty to connect directly. The environment (HTTP_PROXY, etc.) is never consulted.
func ProxyFunc(httpProxy, httpsProxy string) (func(*http.Request) (*url.URL, error), error) {
	var proxies = make(map[string]*url.URL, 2)
	for scheme, v := range map[string]string{"http": httpProxy, "https": httpsProxy} {
		if v == "" {
			continue
		}

		u, err := url.Parse(v)
		if err != nil {
			return nil, fmt.Errorf(`invalid %s proxy "%s": %w`, scheme, v, err)
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf(`invalid %s proxy "%s": must be an absolute URL`, scheme, v)
		}

		proxies[scheme] = u
	}

	return func(req *http.Request) (*url.URL, error) {
		return proxies[req.URL.Scheme], nil
	}, nil
}

// Size returns the object size. The result of the first successful call is reused.
func (h *HTTP) Size(ctx context.Context) (int64, error) {
	if h.size >= 0 {
		return h.size, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, h.url, nil)
	if err != nil {
		return 0, fmt.Errorf("create request error: %w", err)
	}

	res, err := h.client.Do(req)
	if err != nil {
		return 0, &TransportError{Op: "size", URL: h.url, Err: err}
	}
	_ = res.Body.Close()

	switch {
	case res.StatusCode == http.StatusForbidden, res.StatusCode == http.StatusMethodNotAllowed, res.StatusCode == http.StatusNotImplemented:
		return h.sizeFromGet(ctx)
	case res.StatusCode < 200 || res.StatusCode > 299:
		return 0, &TransportError{Op: "size", URL: h.url, Err: fmt.Errorf("unexpected status %s", res.Status)}
	case res.ContentLength < 0:
		return h.sizeFromGet(ctx)
	}

	h.size = res.ContentLength
	return h.size, nil
}

// sizeFromGet reads the object size from the Content-Range of a GET for the first byte.
func (h *HTTP) sizeFromGet(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return 0, fmt.Errorf("create request error: %w", err)
	}

	// without a backing store, httpreaderat fails if the server answers with 200 instead of 206.
	ra, err := httpreaderat.New(h.client, req, nil)
	if err != nil {
		if errors.Is(err, httpreaderat.ErrNoRange) {
			err = fmt.Errorf("%w: %w", ErrRangeUnsupported, err)
		}

		return 0, &TransportError{Op: "size", URL: h.url, Err: err}
	}

	h.size = ra.Size()
	return h.size, nil
}

// Fetch sends a GET for the given range and returns the response body.
//
// A 200 response means the server ignored the Range header and fails with ErrRangeUnsupported, unless Size was called
// earlier and the range covers the whole object.
func (h *HTTP) Fetch(ctx context.Context, r Range) (io.ReadCloser, error) {
	op := "fetch " + r.String()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request error: %w", err)
	}
	req.Header.Set("Range", r.String())

	res, err := h.client.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, URL: h.url, Err: err}
	}

	switch res.StatusCode {
	case http.StatusPartialContent:
	case http.StatusOK:
		if h.size >= 0 {
			if off, n := r.Clip(h.size); off == 0 && n == h.size {
				break
			}
		}

		_ = res.Body.Close()
		return nil, &TransportError{Op: op, URL: h.url, Err: ErrRangeUnsupported}
	default:
		_ = res.Body.Close()
		return nil, &TransportError{Op: op, URL: h.url, Err: fmt.Errorf("unexpected status %s", res.Status)}
	}

	return &httpRangeReader{ReadCloser: res.Body, op: op, url: h.url}, nil
}

// httpRangeReader wraps read errors as TransportError.
type httpRangeReader struct {
	io.ReadCloser
	op, url string
}

func (r *httpRangeReader) Read(p []byte) (n int, err error) {
	if n, err = r.ReadCloser.Read(p); err != nil && !errors.Is(err, io.EOF) {
		err = &TransportError{Op: r.op, URL: r.url, Err: err}
	}

	return
}
