// SPDX-License-Identifier: MPL-2.0

package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// StatusError is returned when the download host answers with a non-2xx status.
type StatusError struct {
	URL        string
	StatusCode int
}

// Error reports the redacted URL and status.
func (e *StatusError) Error() string {
	return fmt.Sprintf("downloading %s: unexpected status %d", e.URL, e.StatusCode)
}

// retryable reports whether a status is worth another attempt.
func retryable(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// download fetches rawURL into dest, retrying transport errors, 429 and 5xx
// with exponential backoff. Other statuses fail on the first attempt. The
// returned digest covers the bytes written to dest.
func (p *Pipeline) download(ctx context.Context, rawURL, dest string) (Digest, error) {
	var digest Digest
	op := func() error {
		d, err := p.fetchOnce(ctx, rawURL, dest)
		if err != nil {
			return err
		}
		digest = d
		return nil
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.retryInterval
	b := backoff.WithContext(backoff.WithMaxRetries(exp, p.maxRetries), ctx)

	notify := func(err error, wait time.Duration) {
		p.logger.Warn("Download attempt failed, retrying", "url", redactURL(rawURL), "error", err, "wait", wait)
	}
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return Digest{}, err
	}
	return digest, nil
}

func (p *Pipeline) fetchOnce(ctx context.Context, rawURL, dest string) (_ Digest, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return Digest{}, backoff.Permanent(fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Digest{}, backoff.Permanent(ctxErr)
		}
		return Digest{}, fmt.Errorf("downloading %s: %w", redactURL(rawURL), err)
	}
	defer func() { _ = resp.Body.Close() }() // read-only response body

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{URL: redactURL(rawURL), StatusCode: resp.StatusCode}
		if retryable(resp.StatusCode) {
			return Digest{}, statusErr
		}
		return Digest{}, backoff.Permanent(statusErr)
	}

	f, err := os.Create(dest)
	if err != nil {
		return Digest{}, backoff.Permanent(fmt.Errorf("creating %s: %w", dest, err))
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = backoff.Permanent(closeErr)
		}
	}()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, h), resp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Digest{}, backoff.Permanent(ctxErr)
		}
		// A body cut short is treated like any other transport failure.
		return Digest{}, fmt.Errorf("downloading %s: %w", redactURL(rawURL), err)
	}

	return Digest{Name: InstallerFile, SHA256: hex.EncodeToString(h.Sum(nil)), Size: n}, nil
}

// redactURL strips query parameters and fragments so signed CDN URLs do not
// end up in logs.
func redactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid-url>"
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// asStatusError extracts a StatusError from err.
func asStatusError(err error) (*StatusError, bool) {
	var se *StatusError
	ok := errors.As(err, &se)
	return se, ok
}
