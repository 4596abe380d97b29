// Package session keeps per-browser state behind an HMAC-signed cookie: the
// selected account and the one page view currently mounted.
package session

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const CookieName = "crowdcoin_session"

var (
	ErrMissingSignature = errors.New("missing session signature")
	ErrMissingTimestamp = errors.New("missing session timestamp")
	ErrStaleTimestamp   = errors.New("stale session cookie")
	ErrInvalidSignature = errors.New("invalid session signature")
)

// Disposer is a mounted view.
type Disposer interface {
	Dispose()
}

// Session is the server side state of one browser.
type Session struct {
	ID string

	mu       sync.Mutex
	account  common.Address
	viewKey  string
	view     Disposer
	lastSeen time.Time
}

// Account returns the selected account, zero when none was picked.
func (s *Session) Account() common.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account
}

func (s *Session) SetAccount(a common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.account != a {
		s.unmountLocked()
	}
	s.account = a
}

// Mount returns the view mounted under key, creating it if another view (or
// none) is mounted. The previous view is disposed.
func (s *Session) Mount(key string, create func() Disposer) Disposer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.view != nil && s.viewKey == key {
		return s.view
	}
	s.unmountLocked()
	s.view = create()
	s.viewKey = key
	return s.view
}

// Mounted returns the view under key without creating one.
func (s *Session) Mounted(key string) (Disposer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.view == nil || s.viewKey != key {
		return nil, false
	}
	return s.view, true
}

// Unmount disposes the current view.
func (s *Session) Unmount() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unmountLocked()
}

func (s *Session) unmountLocked() {
	if s.view != nil {
		s.view.Dispose()
	}
	s.view = nil
	s.viewKey = ""
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Manager issues and verifies session cookies.
type Manager struct {
	Secret      string
	MaxAge      time.Duration
	IdleTimeout time.Duration
	Secure      bool
	Clock       clock.Clock
	Logger      *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager returns a manager. An empty secret is replaced by a random one,
// so cookies do not survive a restart.
func NewManager(secret string, maxAge, idle time.Duration, logger *zap.Logger) *Manager {
	if secret == "" {
		buf := make([]byte, 32)
		_, _ = rand.Read(buf)
		secret = hex.EncodeToString(buf)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		Secret:      secret,
		MaxAge:      maxAge,
		IdleTimeout: idle,
		Clock:       clock.New(),
		Logger:      logger,
		sessions:    make(map[string]*Session),
	}
}

type ctxKey struct{}

// FromContext returns the session attached by Middleware.
func FromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(ctxKey{}).(*Session)
	return s
}

// Middleware attaches a session to every request, issuing a new cookie when
// the presented one is missing, forged, stale or unknown.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := m.Clock.Now()
		sess, err := m.lookup(r, now)
		if err != nil {
			if !errors.Is(err, http.ErrNoCookie) {
				m.Logger.Debug("session cookie rejected", zap.Error(err))
			}
			sess = m.create(now)
			http.SetCookie(w, m.cookie(sess.ID, now))
		}
		sess.touch(now)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, sess)))
	})
}

func (m *Manager) lookup(r *http.Request, now time.Time) (*Session, error) {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return nil, err
	}
	id, err := m.verify(c.Value, now)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, errors.New("unknown session")
	}
	return sess, nil
}

func (m *Manager) create(now time.Time) *Session {
	sess := &Session{ID: uuid.NewString(), lastSeen: now}
	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()
	return sess
}

func (m *Manager) cookie(id string, now time.Time) *http.Cookie {
	ts := strconv.FormatInt(now.Unix(), 10)
	c := &http.Cookie{
		Name:     CookieName,
		Value:    id + "." + ts + "." + computeSignature(m.Secret, ts, []byte(id)),
		Path:     "/",
		HttpOnly: true,
		Secure:   m.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	if m.MaxAge > 0 {
		c.MaxAge = int(m.MaxAge.Seconds())
	}
	return c
}

// verify checks the cookie value and returns the session id.
func (m *Manager) verify(value string, now time.Time) (string, error) {
	parts := strings.Split(value, ".")
	if len(parts) != 3 || parts[0] == "" {
		return "", ErrMissingSignature
	}
	id, tsValue, sig := parts[0], parts[1], parts[2]
	if sig == "" {
		return "", ErrMissingSignature
	}
	ts, err := strconv.ParseInt(tsValue, 10, 64)
	if err != nil {
		return "", ErrMissingTimestamp
	}
	issued := time.Unix(ts, 0)
	if m.MaxAge > 0 && now.Sub(issued) > m.MaxAge {
		return "", ErrStaleTimestamp
	}

	expected := computeSignature(m.Secret, tsValue, []byte(id))
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return "", ErrInvalidSignature
	}
	return id, nil
}

func computeSignature(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return strings.ToLower(hex.EncodeToString(mac.Sum(nil)))
}

// Len is the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Reap drops sessions idle for longer than IdleTimeout and disposes their
// views. It returns how many were dropped.
func (m *Manager) Reap() int {
	if m.IdleTimeout <= 0 {
		return 0
	}
	now := m.Clock.Now()
	var idle []*Session
	m.mu.Lock()
	for id, sess := range m.sessions {
		if now.Sub(sess.idleSince()) > m.IdleTimeout {
			idle = append(idle, sess)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, sess := range idle {
		sess.Unmount()
	}
	return len(idle)
}

// Run reaps idle sessions every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := m.Clock.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Reap(); n > 0 {
				m.Logger.Debug("reaped idle sessions", zap.Int("count", n))
			}
		}
	}
}
