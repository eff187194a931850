package rets

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/time/rate"
)

const (
	maxTextBody   = 64 << 20
	maxObjectBody = 32 << 20
)

// transport issues authenticated RETS GET requests.
type transport struct {
	http      *http.Client
	loginURL  string
	username  string
	password  string
	userAgent string
	version   string
	limiter   *rate.Limiter
}

// get sends a GET with the standard RETS headers and the session cookie,
// reads at most limit bytes of the body, and closes it. Transport failures
// and timeouts come back as *NetworkError.
func (t *transport) get(ctx context.Context, op, rawURL string, params url.Values, cookie string, limit int64) (*http.Response, []byte, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, nil, &NetworkError{Op: op, Err: err}
	}

	target := rawURL
	if len(params) > 0 {
		sep := "?"
		if strings.Contains(rawURL, "?") {
			sep = "&"
		}
		target = rawURL + sep + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, nil, &NetworkError{Op: op, Err: fmt.Errorf("build request: %w", err)}
	}
	req.SetBasicAuth(t.username, t.password)
	req.Header.Set("User-Agent", t.userAgent)
	req.Header.Set("RETS-Version", t.version)
	req.Header.Set("Accept", "*/*")
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	resp, err := t.http.Do(req)
	if err != nil {
		return nil, nil, &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, nil, &NetworkError{Op: op, Err: fmt.Errorf("read body: %w", err)}
	}
	return resp, body, nil
}

// cookieHeader joins name=value pairs of the cookies the server set.
func cookieHeader(cookies []*http.Cookie) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
