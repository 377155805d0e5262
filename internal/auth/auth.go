// Package auth keeps operator sessions for the controller API in signed
// cookies.
package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
)

const (
	SessionName = "apsteer-session"
	// SessionLifetime is how long an operator stays logged in.
	SessionLifetime = 7 * 24 * time.Hour

	operatorKey = "operator"
)

var ErrNoOperator = errors.New("operator name is required")

type SessionStore struct {
	store *sessions.CookieStore
}

func NewSessionStore(secret string) *SessionStore {
	store := sessions.NewCookieStore([]byte(secret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(SessionLifetime.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	return &SessionStore{store: store}
}

// session returns the request's session. A cookie that does not verify
// yields an empty session.
func (s *SessionStore) session(r *http.Request) *sessions.Session {
	session, err := s.store.Get(r, SessionName)
	if err != nil || session == nil {
		session = sessions.NewSession(s.store, SessionName)
		opts := *s.store.Options
		session.Options = &opts
		session.IsNew = true
	}
	return session
}

// Operator returns who is logged in on r, or "" for anonymous requests.
func (s *SessionStore) Operator(r *http.Request) string {
	name, _ := s.session(r).Values[operatorKey].(string)
	return name
}

func (s *SessionStore) IsAuthenticated(r *http.Request) bool {
	return s.Operator(r) != ""
}

// Login binds the session cookie written to w to operator.
func (s *SessionStore) Login(r *http.Request, w http.ResponseWriter, operator string) error {
	if operator == "" {
		return ErrNoOperator
	}
	session := s.session(r)
	session.Values[operatorKey] = operator
	return session.Save(r, w)
}

// Logout expires the session cookie.
func (s *SessionStore) Logout(r *http.Request, w http.ResponseWriter) error {
	session := s.session(r)
	session.Values = make(map[interface{}]interface{})
	session.Options.MaxAge = -1
	return session.Save(r, w)
}
