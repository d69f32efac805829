// Package remote probes and fetches date-keyed release artifacts from the
// release repository over HTTP(S).
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/afanty2021/qlib-sub000/internal/archive"
	"github.com/afanty2021/qlib-sub000/internal/calendar"
	"github.com/afanty2021/qlib-sub000/internal/util"
)

// ErrExhausted reports that a download failed after all retry attempts.
var ErrExhausted = errors.New("download retries exhausted")

// Client talks to the release repository. Probe requests are metadata-only;
// fetches stream the artifact into the scratch directory with resume and
// integrity verification.
type Client struct {
	baseURL    string
	keyPattern string
	scratchDir string
	maxRetries int
	retryDelay time.Duration
	httpc      *http.Client
	log        *slog.Logger
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	KeyPattern string // fmt pattern applied to the YYYYMMDD date key
	ScratchDir string
	MaxRetries int
	RetryDelay time.Duration
	Timeout    time.Duration
	Logger     *slog.Logger
}

// NewClient creates a Client for the release repository at opts.BaseURL.
func NewClient(opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 3
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		keyPattern: opts.KeyPattern,
		scratchDir: opts.ScratchDir,
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
		httpc:      &http.Client{Timeout: opts.Timeout},
		log:        opts.Logger,
	}
}

// Key returns the artifact file name for a release date.
func (c *Client) Key(date calendar.Date) string {
	return fmt.Sprintf(c.keyPattern, date.Compact())
}

func (c *Client) url(date calendar.Date) string {
	return c.baseURL + "/" + c.Key(date)
}

// Exists performs a metadata-only existence check for the given date's
// release. A definitive 404 is false with no error; any other non-success
// status is logged and also reported as false, so transient remote trouble
// surfaces as "try again next invocation" rather than a failure.
func (c *Client) Exists(ctx context.Context, date calendar.Date) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.url(date), nil)
	if err != nil {
		return false, err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		c.log.Warn("release probe failed", "date", date.String(), "error", err)
		return false, nil
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	default:
		c.log.Warn("release probe returned unexpected status",
			"date", date.String(), "status", resp.StatusCode)
		return false, nil
	}
}

// Fetch downloads the given date's release artifact into the scratch
// directory and returns its local path. Each attempt resumes from any
// partial left by the previous attempt and is followed by a structural
// integrity check of the archive; a corrupt download counts as a failed
// attempt. After exhausting retries no partial artifact remains on disk.
func (c *Client) Fetch(ctx context.Context, date calendar.Date) (string, error) {
	if err := os.MkdirAll(c.scratchDir, 0o755); err != nil {
		return "", fmt.Errorf("creating scratch dir: %w", err)
	}

	final := filepath.Join(c.scratchDir, c.Key(date))
	part := final + ".part"

	// Remnants of an interrupted earlier invocation are untrustworthy.
	os.Remove(final)
	os.Remove(part)

	err := util.Retry(ctx, c.maxRetries, c.retryDelay, func() error {
		if err := c.download(ctx, c.url(date), part); err != nil {
			c.log.Warn("download attempt failed", "date", date.String(), "error", err)
			return err
		}
		if err := archive.Verify(part); err != nil {
			// A complete-but-corrupt file cannot be resumed from.
			os.Remove(part)
			c.log.Warn("artifact failed integrity check", "date", date.String(), "error", err)
			return err
		}
		return os.Rename(part, final)
	})
	if err != nil {
		os.Remove(part)
		return "", fmt.Errorf("fetching %s: %w: %w", c.Key(date), ErrExhausted, err)
	}

	return final, nil
}

// download streams url into dst, resuming from dst's current size when the
// server honours range requests.
func (c *Client) download(ctx context.Context, url, dst string) error {
	var offset int64
	if fi, err := os.Stat(dst); err == nil {
		offset = fi.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var out *os.File
	switch resp.StatusCode {
	case http.StatusPartialContent:
		out, err = os.OpenFile(dst, os.O_WRONLY|os.O_APPEND, 0o644)
	case http.StatusOK:
		// Server ignored the range request; start over.
		out, err = os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	default:
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err != nil {
		return fmt.Errorf("opening partial file: %w", err)
	}

	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		return fmt.Errorf("streaming artifact: %w", err)
	}
	return out.Close()
}

// CleanScratch removes any artifact or partial files for the given date
// left in the scratch directory.
func (c *Client) CleanScratch(date calendar.Date) {
	final := filepath.Join(c.scratchDir, c.Key(date))
	for _, p := range []string{final, final + ".part"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			c.log.Warn("removing scratch file", "path", p, "error", err)
		}
	}
}
