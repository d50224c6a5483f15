package main

import (
	"net/http"
	"time"

	"github.com/gorilla/securecookie"

	. "github.com/Thetwam/quiz-extensions/types"
)

const sessionLifetime = 8 * time.Hour

// CookieSession tracks an authenticated LTI launch.
type CookieSession struct {
	ExpiresAt    time.Time
	CanvasUserID int64
	IsAdmin      bool
	LoggedIn     bool

	path string
}

var sessionSigner *securecookie.SecureCookie

func getSigner() *securecookie.SecureCookie {
	if sessionSigner == nil {
		sessionSigner = securecookie.New([]byte(Config.SessionSecret), nil)
	}
	return sessionSigner
}

// NewSession creates a new session for a user that has passed the
// LTI launch checks.
func NewSession(canvasUserID int64, isAdmin bool) *CookieSession {
	return &CookieSession{
		ExpiresAt:    time.Now().Add(sessionLifetime),
		CanvasUserID: canvasUserID,
		IsAdmin:      isAdmin,
		LoggedIn:     true,
		path:         "/",
	}
}

// GetSession loads and validates the session cookie from a request.
func GetSession(r *http.Request) (*CookieSession, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return nil, err
	}

	session := new(CookieSession)
	if err = getSigner().Decode(CookieName, cookie.Value, session); err != nil {
		return nil, err
	}
	session.path = "/"

	return session, nil
}

// Save signs and writes the session out as a cookie.
func (session *CookieSession) Save(w http.ResponseWriter) error {
	encoded, err := getSigner().Encode(CookieName, session)
	if err != nil {
		return err
	}

	cookie := &http.Cookie{
		Name:     CookieName,
		Value:    encoded,
		Path:     session.path,
		Expires:  session.ExpiresAt,
		MaxAge:   int(time.Until(session.ExpiresAt).Seconds()),
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteNoneMode,
	}
	http.SetCookie(w, cookie)

	return nil
}

// Expired reports whether the session is past its lifetime.
func (session *CookieSession) Expired() bool {
	return time.Now().After(session.ExpiresAt)
}
