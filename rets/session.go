package rets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"

	"rentcomps/metrics"
	"rentcomps/utils"
)

// Policy selects how long a RETS session lives.
type Policy string

const (
	// PolicyEphemeral logs in for every call and logs out afterwards.
	PolicyEphemeral Policy = "ephemeral"
	// PolicyCached keeps one session for up to the TTL and shares it.
	PolicyCached Policy = "cached"
)

const logoutTimeout = 5 * time.Second

// Session is an authenticated RETS login.
type Session struct {
	Capabilities Capabilities
	Cookie       string
	Created      time.Time
}

// URL returns the endpoint for a capability, or "" when the server did not
// advertise it.
func (s *Session) URL(c Capability) string {
	return s.Capabilities[c]
}

// ValidAt reports whether the session is still inside its lifetime.
func (s *Session) ValidAt(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.Created) < ttl
}

// SessionManager owns RETS sessions: it performs the login handshake,
// enforces the lifetime policy, and logs sessions out.
type SessionManager struct {
	tr      *transport
	policy  Policy
	ttl     time.Duration
	now     func() time.Time
	log     *utils.Logger
	metrics metrics.Recorder
	breaker *gobreaker.CircuitBreaker

	mu     sync.RWMutex
	cached *Session
	group  singleflight.Group
}

func newSessionManager(tr *transport, opts Options) *SessionManager {
	m := &SessionManager{
		tr:      tr,
		policy:  opts.Policy,
		ttl:     opts.SessionTTL,
		now:     opts.Now,
		log:     opts.Logger,
		metrics: opts.Metrics,
	}
	if opts.BreakerFailures > 0 {
		threshold := uint32(opts.BreakerFailures)
		m.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "rets-login",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			IsSuccessful: func(err error) bool {
				return err == nil || !IsNetworkError(err)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				opts.Logger.Warn("[rets] circuit %s: %s -> %s", name, from, to)
			},
		})
	}
	return m
}

// Policy returns the lifetime policy in force.
func (m *SessionManager) Policy() Policy {
	return m.policy
}

// Acquire returns a usable session. Ephemeral mode always logs in. Cached
// mode returns the held session while it is younger than the TTL and
// otherwise runs a single shared handshake for all concurrent callers.
func (m *SessionManager) Acquire(ctx context.Context) (*Session, error) {
	if m.policy != PolicyCached {
		return m.login(ctx)
	}

	if s := m.current(); s != nil {
		m.metrics.RecordSessionReuse()
		return s, nil
	}

	// The handshake outlives any single caller's cancellation; the HTTP
	// client timeout bounds it.
	loginCtx := context.WithoutCancel(ctx)
	ch := m.group.DoChan("login", func() (any, error) {
		if s := m.current(); s != nil {
			return s, nil
		}
		fresh, err := m.login(loginCtx)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.cached = fresh
		m.mu.Unlock()
		return fresh, nil
	})

	select {
	case <-ctx.Done():
		return nil, &NetworkError{Op: "login", Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Session), nil
	}
}

// current returns the cached session if it is still valid.
func (m *SessionManager) current() *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cached != nil && m.cached.ValidAt(m.now(), m.ttl) {
		return m.cached
	}
	return nil
}

// Invalidate discards s so it is never handed out again. A newer cached
// session installed by another caller is left alone.
func (m *SessionManager) Invalidate(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cached == s {
		m.cached = nil
	}
}

// Release ends a call's use of s. Ephemeral sessions are logged out; cached
// sessions stay alive for the next caller.
func (m *SessionManager) Release(ctx context.Context, s *Session) {
	if m.policy == PolicyCached {
		return
	}
	m.logout(ctx, s)
}

// Close logs out and drops the cached session, if any.
func (m *SessionManager) Close(ctx context.Context) {
	m.mu.Lock()
	s := m.cached
	m.cached = nil
	m.mu.Unlock()
	if s != nil {
		m.logout(ctx, s)
	}
}

func (m *SessionManager) login(ctx context.Context) (*Session, error) {
	if m.breaker == nil {
		return m.handshake(ctx)
	}
	v, err := m.breaker.Execute(func() (any, error) {
		return m.handshake(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			m.metrics.RecordLogin("circuit_open")
			return nil, &NetworkError{Op: "login", Err: err}
		}
		return nil, err
	}
	return v.(*Session), nil
}

func (m *SessionManager) handshake(ctx context.Context) (*Session, error) {
	resp, body, err := m.tr.get(ctx, "login", m.tr.loginURL, nil, "", maxTextBody)
	if err != nil {
		m.metrics.RecordLogin("network_error")
		return nil, err
	}
	if !isSuccess(resp.StatusCode) && resp.StatusCode != http.StatusFound {
		m.metrics.RecordLogin("network_error")
		return nil, &NetworkError{Op: "login", StatusCode: resp.StatusCode}
	}

	text := string(body)
	reply := ParseReply(text)
	if reply.Code != ReplySuccess {
		m.metrics.RecordLogin("auth_error")
		return nil, &AuthError{Op: "login", ReplyCode: reply.Code, ReplyText: reply.Text}
	}

	caps, err := ParseCapabilities(text, m.tr.loginURL)
	if err != nil {
		m.metrics.RecordLogin("protocol_error")
		return nil, fmt.Errorf("rets login: %w", err)
	}
	if caps[CapSearch] == "" {
		m.metrics.RecordLogin("protocol_error")
		return nil, &ProtocolError{Op: "login", ReplyCode: reply.Code, ReplyText: "no Search capability URL in login response"}
	}

	m.metrics.RecordLogin("success")
	m.log.Debug("[rets] Logged in, %d capabilities", len(caps))
	return &Session{
		Capabilities: caps,
		Cookie:       cookieHeader(resp.Cookies()),
		Created:      m.now(),
	}, nil
}

// logout is best-effort: failures are logged and swallowed.
func (m *SessionManager) logout(ctx context.Context, s *Session) {
	u := s.URL(CapLogout)
	if u == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logoutTimeout)
	defer cancel()

	if _, _, err := m.tr.get(ctx, "logout", u, nil, s.Cookie, maxTextBody); err != nil {
		m.log.Debug("[rets] Logout failed (ignored): %v", err)
	}
}
