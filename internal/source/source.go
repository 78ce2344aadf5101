// Package source obtains raw text for normalization from stdin, local files,
// HTTP(S) URLs or S3-compatible object storage. Every failure to obtain
// text is an apperr.KindIO error.
package source

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"strings"
	"time"

	"datagrid/internal/apperr"
	"datagrid/internal/metrics"
)

// Kind is the transport a source string refers to.
type Kind int

const (
	KindFile Kind = iota
	KindStdin
	KindHTTP
	KindS3
)

func (k Kind) String() string {
	switch k {
	case KindStdin:
		return "stdin"
	case KindHTTP:
		return "http"
	case KindS3:
		return "s3"
	default:
		return "file"
	}
}

// DefaultMaxBytes bounds how much text is read from any source.
const DefaultMaxBytes int64 = 32 << 20

// ObjectGetter reads one object from a bucket. *S3Client implements it.
type ObjectGetter interface {
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// Options controls Fetch.
type Options struct {
	// MaxBytes bounds the text read. <= 0 means DefaultMaxBytes.
	MaxBytes int64

	// Timeout applies to HTTP requests. <= 0 means no timeout beyond ctx.
	Timeout time.Duration

	// InsecureTLS skips certificate verification for HTTPS.
	InsecureTLS bool

	// HTMLSelector picks the element holding embedded data when the fetched
	// document is an HTML page. Empty means DefaultHTMLSelector.
	HTMLSelector string

	// HTTPClient overrides the client built from Timeout/InsecureTLS.
	HTTPClient *http.Client

	// Stdin is read for the "-" source.
	Stdin io.Reader

	// Objects serves s3:// sources. When nil, s3:// sources fail.
	Objects ObjectGetter
}

// Classify reports which transport src refers to.
func Classify(src string) Kind {
	s := strings.TrimSpace(src)
	lower := strings.ToLower(s)
	switch {
	case s == "-":
		return KindStdin
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return KindHTTP
	case strings.HasPrefix(lower, "s3://"):
		return KindS3
	default:
		return KindFile
	}
}

// Fetch returns the text behind src. HTML pages are reduced to the data
// embedded in them (see ExtractEmbedded).
func Fetch(ctx context.Context, src string, opts Options) (string, error) {
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	var (
		text string
		html bool
		err  error
	)
	switch Classify(src) {
	case KindStdin:
		if opts.Stdin == nil {
			return "", apperr.New(apperr.KindIO, "stdin is not available")
		}
		text, err = readLimited(opts.Stdin, maxBytes)
	case KindHTTP:
		text, html, err = fetchHTTP(ctx, strings.TrimSpace(src), opts, maxBytes)
	case KindS3:
		text, err = fetchS3(ctx, strings.TrimSpace(src), opts, maxBytes)
	default:
		text, err = readFile(src, maxBytes)
	}
	if err != nil {
		return "", err
	}

	if html || LooksLikeHTML(text) {
		return ExtractEmbedded(text, opts.HTMLSelector)
	}
	return text, nil
}

func readLimited(r io.Reader, maxBytes int64) (string, error) {
	b, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return "", apperr.Wrap(apperr.KindIO, "read input", err)
	}
	if int64(len(b)) > maxBytes {
		return "", apperr.New(apperr.KindIO, fmt.Sprintf("input exceeds %d bytes", maxBytes))
	}
	return string(b), nil
}

func readFile(src string, maxBytes int64) (string, error) {
	path := strings.TrimSpace(src)
	if strings.HasPrefix(strings.ToLower(path), "file://") {
		path = path[len("file://"):]
	}
	if path == "" {
		return "", apperr.New(apperr.KindIO, "empty file path")
	}

	f, err := os.Open(path)
	if err != nil {
		return "", apperr.Wrap(apperr.KindIO, fmt.Sprintf("open %s", path), err)
	}
	defer f.Close()
	return readLimited(f, maxBytes)
}

func httpClient(opts Options) *http.Client {
	if opts.HTTPClient != nil {
		return opts.HTTPClient
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if opts.InsecureTLS {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in
	}
	return &http.Client{Transport: tr}
}

// fetchHTTP GETs url. On non-2xx responses the error carries the status code
// and up to 4KB of the response body.
func fetchHTTP(ctx context.Context, url string, opts Options, maxBytes int64) (string, bool, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", false, apperr.Wrap(apperr.KindIO, "new request", err)
	}
	req.Header.Set("User-Agent", "datagrid/1.0")
	req.Header.Set("Accept", "application/json, application/xml, text/xml, text/html;q=0.5, */*;q=0.1")

	start := time.Now()
	resp, err := httpClient(opts).Do(req)
	if err != nil {
		metrics.RecordHTTP(0, time.Since(start), -1)
		return "", false, apperr.Wrap(apperr.KindIO, "http get", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		metrics.RecordHTTP(resp.StatusCode, time.Since(start), int64(len(body)))
		detail := fmt.Sprintf("http status %d", resp.StatusCode)
		if s := strings.TrimSpace(string(body)); s != "" {
			detail += ": " + s
		}
		return "", false, apperr.New(apperr.KindIO, detail)
	}

	text, err := readLimited(resp.Body, maxBytes)
	metrics.RecordHTTP(resp.StatusCode, time.Since(start), int64(len(text)))
	if err != nil {
		return "", false, err
	}

	html := false
	if mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil {
		html = mt == "text/html" || mt == "application/xhtml+xml"
	}
	return text, html, nil
}

// ParseS3URL splits "s3://bucket/path/to/key".
func ParseS3URL(src string) (bucket, key string, err error) {
	rest := strings.TrimSpace(src)
	if len(rest) < len("s3://") || !strings.EqualFold(rest[:len("s3://")], "s3://") {
		return "", "", fmt.Errorf("not an s3 url: %q", src)
	}
	rest = rest[len("s3://"):]
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3 url must be s3://bucket/key: %q", src)
	}
	return bucket, key, nil
}

func fetchS3(ctx context.Context, src string, opts Options, maxBytes int64) (string, error) {
	bucket, key, err := ParseS3URL(src)
	if err != nil {
		return "", apperr.Wrap(apperr.KindIO, "parse s3 url", err)
	}
	if opts.Objects == nil {
		return "", apperr.Wrap(apperr.KindIO, "s3 source", ErrObjectsDisabled)
	}

	rc, err := opts.Objects.GetObject(ctx, bucket, key)
	if err != nil {
		return "", apperr.Wrap(apperr.KindIO, fmt.Sprintf("get s3://%s/%s", bucket, key), err)
	}
	defer rc.Close()
	return readLimited(rc, maxBytes)
}

// ErrObjectsDisabled is returned for s3:// sources when no object storage is configured.
var ErrObjectsDisabled = errors.New("object storage not configured (set source.s3.endpoint)")
