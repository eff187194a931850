package rets

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"rentcomps/config"
	"rentcomps/metrics"
	"rentcomps/models"
	"rentcomps/utils"
)

// Options configures a Client.
type Options struct {
	LoginURL  string
	Username  string
	Password  string
	UserAgent string
	Version   string

	Policy          Policy
	SessionTTL      time.Duration
	Timeout         time.Duration
	RateLimitMs     int
	BreakerFailures int

	HTTPClient *http.Client
	Logger     *utils.Logger
	Metrics    metrics.Recorder
	Now        func() time.Time
}

// OptionsFromConfig maps validated application config onto client options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		LoginURL:        cfg.RETSLoginURL,
		Username:        cfg.RETSUsername,
		Password:        cfg.RETSPassword,
		UserAgent:       cfg.RETSUserAgent,
		Version:         cfg.RETSVersion,
		Policy:          Policy(cfg.SessionPolicy),
		SessionTTL:      cfg.SessionTTL,
		Timeout:         cfg.RequestTimeout,
		RateLimitMs:     cfg.RateLimitMs,
		BreakerFailures: cfg.BreakerFailures,
	}
}

// Client runs RETS transactions, each inside a login/(logout|reuse) cycle.
type Client struct {
	sessions *SessionManager
	tr       *transport
	log      *utils.Logger
	metrics  metrics.Recorder
}

// NewClient validates opts and builds a Client. Missing credentials are a
// *config.ConfigurationError and no request is made.
func NewClient(opts Options) (*Client, error) {
	var missing []string
	if opts.LoginURL == "" {
		missing = append(missing, "RETS_LOGIN_URL")
	}
	if opts.Username == "" {
		missing = append(missing, "RETS_USERNAME")
	}
	if opts.Password == "" {
		missing = append(missing, "RETS_PASSWORD")
	}
	if len(missing) > 0 {
		return nil, &config.ConfigurationError{Missing: missing}
	}
	if u, err := url.Parse(opts.LoginURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, &config.ConfigurationError{Invalid: "RETS_LOGIN_URL is not an absolute URL"}
	}

	if opts.UserAgent == "" {
		opts.UserAgent = "RentComps/1.0"
	}
	if opts.Version == "" {
		opts.Version = "RETS/1.8"
	}
	if opts.Policy == "" {
		opts.Policy = PolicyEphemeral
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 25 * time.Minute
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = utils.NewNopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NoopRecorder{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	} else {
		copied := *hc
		hc = &copied
	}
	hc.Timeout = opts.Timeout
	// Login answers with 302 on some servers; the body is what matters.
	hc.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	tr := &transport{
		http:      hc,
		loginURL:  opts.LoginURL,
		username:  opts.Username,
		password:  opts.Password,
		userAgent: opts.UserAgent,
		version:   opts.Version,
		limiter:   utils.NewLimiter(opts.RateLimitMs),
	}

	return &Client{
		sessions: newSessionManager(tr, opts),
		tr:       tr,
		log:      opts.Logger,
		metrics:  opts.Metrics,
	}, nil
}

// Sessions exposes the session manager.
func (c *Client) Sessions() *SessionManager {
	return c.sessions
}

// Close logs out any cached session.
func (c *Client) Close(ctx context.Context) {
	c.sessions.Close(ctx)
}

// withSession runs fn with an acquired session. A 401 from fn discards the
// session and runs fn once more with a fresh one; a second 401 is an
// AuthError. The session is released per the lifetime policy afterwards.
func (c *Client) withSession(ctx context.Context, op string, fn func(*Session) error) error {
	for attempt := 1; ; attempt++ {
		s, err := c.sessions.Acquire(ctx)
		if err != nil {
			return err
		}

		err = fn(s)
		if errors.Is(err, errUnauthorized) {
			c.sessions.Invalidate(s)
			if attempt == 1 {
				c.log.Warn("[rets] %s returned 401, retrying with a fresh session", op)
				c.metrics.RecordAuthRetry(op)
				continue
			}
			return &AuthError{Op: op, StatusCode: http.StatusUnauthorized}
		}

		c.sessions.Release(ctx, s)
		return err
	}
}

// SearchRequest describes one RETS Search transaction.
type SearchRequest struct {
	SearchType    string
	Class         string
	Query         string
	Select        []string
	Limit         int
	StandardNames bool
}

// SearchResult holds the rows of a search. Records is empty, never nil,
// when nothing matched.
type SearchResult struct {
	Records   []models.RawRecord
	Count     int
	ReplyCode int
	Malformed bool
}

// Search runs a Search transaction.
func (c *Client) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	var result *SearchResult
	err := c.withSession(ctx, "search", func(s *Session) error {
		r, err := c.search(ctx, s, req)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		c.metrics.RecordSearch(errorLabel(err), 0)
		return nil, err
	}

	switch {
	case result.ReplyCode == ReplyNoRecords:
		c.metrics.RecordSearch("no_records", 0)
	case result.Malformed:
		c.metrics.RecordSearch("malformed", len(result.Records))
	default:
		c.metrics.RecordSearch("success", len(result.Records))
	}
	return result, nil
}

func (c *Client) search(ctx context.Context, s *Session, req SearchRequest) (*SearchResult, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	standard := "0"
	if req.StandardNames {
		standard = "1"
	}
	params := url.Values{
		"SearchType":    {req.SearchType},
		"Class":         {req.Class},
		"Query":         {req.Query},
		"QueryType":     {"DMQL2"},
		"Format":        {"COMPACT-DECODED"},
		"Limit":         {strconv.Itoa(limit)},
		"Count":         {"1"},
		"StandardNames": {standard},
	}
	if len(req.Select) > 0 {
		params.Set("Select", strings.Join(req.Select, ","))
	}

	c.log.Debug("[rets] Search %s/%s: %s", req.SearchType, req.Class, req.Query)
	resp, body, err := c.tr.get(ctx, "search", s.URL(CapSearch), params, s.Cookie, maxTextBody)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, errUnauthorized
	}
	if !isSuccess(resp.StatusCode) {
		return nil, &NetworkError{Op: "search", StatusCode: resp.StatusCode}
	}

	text := string(body)
	reply := ParseReply(text)
	switch reply.Code {
	case ReplySuccess:
	case ReplyNoRecords:
		c.log.Info("[rets] No records found")
		return &SearchResult{Records: []models.RawRecord{}, ReplyCode: reply.Code}, nil
	default:
		return nil, &ProtocolError{Op: "search", ReplyCode: reply.Code, ReplyText: reply.Text}
	}

	result := &SearchResult{Records: []models.RawRecord{}, ReplyCode: reply.Code}
	table, err := ParseCompact(text)
	if table != nil {
		result.Records = table.Rows
		result.Count = table.Count
	}
	if err != nil {
		if !errors.Is(err, ErrMalformedResponse) {
			return nil, err
		}
		c.log.Warn("[rets] Malformed search response (%d bytes), keeping %d rows: %v",
			len(body), len(result.Records), err)
		c.metrics.RecordMalformedResponse("search")
		result.Malformed = true
		return result, nil
	}

	c.log.Info("[rets] Found %d records", len(result.Records))
	return result, nil
}

// GetMetadata fetches a metadata document (Format=COMPACT) and returns the
// raw body.
func (c *Client) GetMetadata(ctx context.Context, metaType, id string) (string, error) {
	var doc string
	err := c.withSession(ctx, "getmetadata", func(s *Session) error {
		u := metadataURL(s)
		if u == "" {
			return &ProtocolError{Op: "getmetadata", ReplyText: "no GetMetadata capability URL in login response"}
		}
		params := url.Values{
			"Type":   {metaType},
			"ID":     {id},
			"Format": {"COMPACT"},
		}
		resp, body, err := c.tr.get(ctx, "getmetadata", u, params, s.Cookie, maxTextBody)
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return errUnauthorized
		}
		if !isSuccess(resp.StatusCode) {
			return &NetworkError{Op: "getmetadata", StatusCode: resp.StatusCode}
		}
		text := string(body)
		if reply := ParseReply(text); reply.Code != ReplySuccess {
			return &ProtocolError{Op: "getmetadata", ReplyCode: reply.Code, ReplyText: reply.Text}
		}
		doc = text
		return nil
	})
	if err != nil {
		return "", err
	}
	return doc, nil
}

// metadataURL prefers the advertised capability and otherwise derives one
// from the Search URL, which is how several Paragon servers lay them out.
func metadataURL(s *Session) string {
	if u := s.URL(CapGetMetadata); u != "" {
		return u
	}
	search := s.URL(CapSearch)
	idx := strings.LastIndex(asciiLower(search), "search")
	if idx < 0 {
		return ""
	}
	return search[:idx] + "getmetadata" + search[idx+len("search"):]
}

func errorLabel(err error) string {
	switch {
	case IsAuthError(err):
		return "auth_error"
	case IsProtocolError(err):
		return "protocol_error"
	case IsNetworkError(err):
		return "network_error"
	default:
		return "error"
	}
}
