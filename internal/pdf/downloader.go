// Package pdf downloads remote papers so their bibliography can be verified.
package pdf

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/helixir/citation-verification-service/internal/domain"
	"github.com/helixir/citation-verification-service/internal/netguard"
)

// Sentinel errors for PDF download operations. Each matches a domain error.
var (
	// ErrNotPDF is returned when the response is neither typed nor shaped as a PDF.
	ErrNotPDF = fmt.Errorf("%w: response is not a PDF", domain.ErrInvalidInput)
	// ErrTooLarge is returned when the file exceeds the maximum allowed size.
	ErrTooLarge = fmt.Errorf("%w: file exceeds maximum size", domain.ErrInvalidInput)
	// ErrDownloadFailed is returned when the download fails due to network or HTTP errors.
	ErrDownloadFailed = fmt.Errorf("%w: download failed", domain.ErrServiceUnavailable)
	// ErrPrivateNetwork is returned when the URL resolves to a private or loopback address.
	ErrPrivateNetwork = fmt.Errorf("%w: request to private network denied", domain.ErrInvalidInput)
)

// pdfMagic starts every PDF file.
var pdfMagic = []byte("%PDF-")

// Defaults applied by NewDownloader.
const (
	DefaultTimeout   = 60 * time.Second
	DefaultMaxSize   = 50 << 20
	DefaultUserAgent = "citeverify/1.0 (reference verification)"
)

// IsURL reports whether input names a remote http(s) document.
func IsURL(input string) bool {
	lower := strings.ToLower(input)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// Download is a PDF written to local disk.
type Download struct {
	// Path is the local file.
	Path string
	// Name is a file name derived from the URL, always ending in .pdf.
	Name string
	// SHA256 is the hex digest of the content.
	SHA256 string
	// SizeBytes is the size of the content in bytes.
	SizeBytes int64
}

// Config holds downloader configuration.
type Config struct {
	// Timeout bounds one download including retries.
	Timeout time.Duration
	// MaxSize is the maximum file size in bytes.
	MaxSize int64
	// UserAgent is the User-Agent header.
	UserAgent string
	// AllowPrivateNetworks disables the private address check. Tests only.
	AllowPrivateNetworks bool
}

// Downloader fetches PDFs over HTTP into a directory.
type Downloader struct {
	client       *retryablehttp.Client
	timeout      time.Duration
	maxSize      int64
	userAgent    string
	allowPrivate bool
}

// NewDownloader creates a Downloader with the given configuration.
func NewDownloader(cfg Config) *Downloader {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxSize == 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	d := &Downloader{
		timeout:      cfg.Timeout,
		maxSize:      cfg.MaxSize,
		userAgent:    cfg.UserAgent,
		allowPrivate: cfg.AllowPrivateNetworks,
	}

	client := retryablehttp.NewClient()
	client.Logger = log.New(io.Discard, "", 0)
	client.RetryMax = 2
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.HTTPClient.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= 10 {
			return fmt.Errorf("%w: too many redirects", ErrDownloadFailed)
		}
		return nil
	}
	if !d.allowPrivate {
		client.HTTPClient.Transport = netguard.Transport()
		client.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
			if errors.Is(err, netguard.ErrPrivateAddress) {
				return false, err
			}
			return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
		}
	}
	d.client = client

	return d
}

// Download fetches rawURL into dir and returns the local file.
func (d *Downloader) Download(ctx context.Context, rawURL, dir string) (*Download, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, domain.NewValidationError("url", fmt.Sprintf("not an http(s) URL: %q", rawURL))
	}
	if !d.allowPrivate {
		if err := checkPublic(ctx, u); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("Accept", "application/pdf, */*;q=0.8")

	resp, err := d.client.Do(req)
	if err != nil {
		if errors.Is(err, netguard.ErrPrivateAddress) {
			return nil, fmt.Errorf("%w: %w", ErrPrivateNetwork, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, domain.NewNotFoundError("pdf", rawURL)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: HTTP %d", ErrDownloadFailed, resp.StatusCode)
	}

	f, err := os.CreateTemp(dir, "paper-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("create download file: %w", err)
	}
	keep := false
	defer func() {
		_ = f.Close()
		if !keep {
			_ = os.Remove(f.Name())
		}
	}()

	hash := sha256.New()
	head := &prefixWriter{limit: len(pdfMagic)}
	// Read one extra byte to detect if the file is too large.
	n, err := io.Copy(io.MultiWriter(f, hash, head), io.LimitReader(resp.Body, d.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrDownloadFailed, err)
	}
	if n > d.maxSize {
		return nil, fmt.Errorf("%w: exceeded %d bytes", ErrTooLarge, d.maxSize)
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if !strings.Contains(contentType, "application/pdf") && !head.hasPrefix(pdfMagic) {
		return nil, fmt.Errorf("%w: Content-Type is %q", ErrNotPDF, contentType)
	}

	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close download file: %w", err)
	}
	keep = true

	digest := hex.EncodeToString(hash.Sum(nil))
	return &Download{
		Path:      f.Name(),
		Name:      fileName(u, digest),
		SHA256:    digest,
		SizeBytes: n,
	}, nil
}

// fileName derives a readable name from the URL path.
func fileName(u *url.URL, digest string) string {
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		name = digest[:12]
	}
	if !strings.EqualFold(filepath.Ext(name), ".pdf") {
		name += ".pdf"
	}
	return name
}

// checkPublic rejects hosts that resolve to private addresses before any
// request is made. The guarded transport repeats the check on every dial.
func checkPublic(ctx context.Context, u *url.URL) error {
	if err := netguard.CheckHost(ctx, u.Hostname()); err != nil {
		if errors.Is(err, netguard.ErrPrivateAddress) {
			return fmt.Errorf("%w: %w", ErrPrivateNetwork, err)
		}
		return fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}
	return nil
}

// prefixWriter keeps the first limit bytes written to it.
type prefixWriter struct {
	limit int
	buf   []byte
}

func (p *prefixWriter) Write(b []byte) (int, error) {
	if room := p.limit - len(p.buf); room > 0 {
		if len(b) < room {
			room = len(b)
		}
		p.buf = append(p.buf, b[:room]...)
	}
	return len(b), nil
}

func (p *prefixWriter) hasPrefix(prefix []byte) bool {
	return len(p.buf) >= len(prefix) && string(p.buf[:len(prefix)]) == string(prefix)
}
