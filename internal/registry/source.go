package registry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"proccontrol/pkg/logging"
)

// maxDocumentSize bounds how much of a remote document is read.
const maxDocumentSize = 8 << 20

// Source provides the raw workflow definitions document.
type Source interface {
	// Fetch returns the current document. It must honour ctx cancellation.
	Fetch(ctx context.Context) ([]byte, error)

	// String names the source in logs.
	String() string
}

// FileSource reads the document from a local file.
type FileSource struct {
	Path string
}

// Fetch implements Source.
func (s *FileSource) Fetch(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.ReadFile(s.Path)
}

func (s *FileSource) String() string {
	return s.Path
}

// HTTPSource downloads the document, retrying transient failures.
type HTTPSource struct {
	URL    string
	client *retryablehttp.Client
}

// HTTPOptions tunes the HTTP source.
type HTTPOptions struct {
	Timeout  time.Duration
	RetryMax int
}

// NewHTTPSource creates an HTTP source for rawURL.
func NewHTTPSource(rawURL string, opts HTTPOptions) *HTTPSource {
	c := retryablehttp.NewClient()
	c.RetryMax = opts.RetryMax
	c.RetryWaitMin = 200 * time.Millisecond
	c.RetryWaitMax = 5 * time.Second
	c.Logger = retryLogger{}
	if opts.Timeout > 0 {
		c.HTTPClient.Timeout = opts.Timeout
	}
	return &HTTPSource{URL: rawURL, client: c}
}

// Fetch implements Source.
func (s *HTTPSource) Fetch(ctx context.Context) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json, application/yaml;q=0.9, */*;q=0.5")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
}

func (s *HTTPSource) String() string {
	return s.URL
}

// NewSource picks a source for location: http and https URLs are downloaded,
// file URLs and plain paths are read from disk.
func NewSource(location string, opts HTTPOptions) (Source, error) {
	if location == "" {
		return nil, fmt.Errorf("workflow definitions location is empty")
	}

	u, err := url.Parse(location)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// No scheme, or a Windows drive letter.
		return &FileSource{Path: filepath.Clean(location)}, nil
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return NewHTTPSource(location, opts), nil
	case "file":
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		return &FileSource{Path: filepath.Clean(path)}, nil
	default:
		return nil, fmt.Errorf("unsupported workflow definitions scheme %q", u.Scheme)
	}
}

// retryLogger routes retryablehttp's messages into the package logger.
type retryLogger struct{}

func (retryLogger) Error(msg string, keysAndValues ...interface{}) {
	logging.Error("Registry", nil, "%s %v", msg, keysAndValues)
}

func (retryLogger) Info(msg string, keysAndValues ...interface{}) {
	logging.Debug("Registry", "%s %v", msg, keysAndValues)
}

func (retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	logging.Debug("Registry", "%s %v", msg, keysAndValues)
}

func (retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	logging.Warn("Registry", "%s %v", msg, keysAndValues)
}
