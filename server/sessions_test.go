package main

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thetwam/quiz-extensions/canvas"
)

func TestSessionRoundTrip(t *testing.T) {
	Config.SessionSecret = "0123456789abcdef0123456789abcdef"
	sessionSigner = nil

	session := NewSession(7, true)
	w := httptest.NewRecorder()
	require.NoError(t, session.Save(w))

	req := httptest.NewRequest("GET", "/quiz/1", nil)
	for _, cookie := range w.Result().Cookies() {
		req.AddCookie(cookie)
	}

	loaded, err := GetSession(req)
	require.NoError(t, err)
	assert.Equal(t, int64(7), loaded.CanvasUserID)
	assert.True(t, loaded.IsAdmin)
	assert.True(t, loaded.LoggedIn)
	assert.False(t, loaded.Expired())
}

func TestSessionRejectsTampering(t *testing.T) {
	Config.SessionSecret = "0123456789abcdef0123456789abcdef"
	sessionSigner = nil

	session := NewSession(7, false)
	w := httptest.NewRecorder()
	require.NoError(t, session.Save(w))

	req := httptest.NewRequest("GET", "/quiz/1", nil)
	for _, cookie := range w.Result().Cookies() {
		cookie.Value = "x" + cookie.Value
		req.AddCookie(cookie)
	}

	_, err := GetSession(req)
	assert.Error(t, err)
}

func TestAuthorize(t *testing.T) {
	enrolled := map[int64]bool{7: true}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id int64
		fmt.Sscanf(r.URL.Query().Get("user_id"), "%d", &id)
		if enrolled[id] {
			fmt.Fprint(w, `[{"id": 3, "course_id": 1, "user_id": 7, "type": "TeacherEnrollment"}]`)
		} else {
			fmt.Fprint(w, `[]`)
		}
	}))
	defer ts.Close()
	cc := canvas.NewClient(ts.URL, "token")

	// no session at all
	auth := authorize(nil, cc, 1)
	assert.False(t, auth.Allowed)
	assert.Equal(t, "Not allowed!", auth.Reason)

	// expired session
	expired := NewSession(7, false)
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	auth = authorize(expired, cc, 1)
	assert.False(t, auth.Allowed)
	assert.Equal(t, "Not allowed!", auth.Reason)

	// admins skip the enrollment check
	auth = authorize(NewSession(99, true), cc, 1)
	assert.True(t, auth.Allowed)

	// teachers pass via their enrollment
	auth = authorize(NewSession(7, false), cc, 1)
	assert.True(t, auth.Allowed)

	// everyone else is turned away
	auth = authorize(NewSession(8, false), cc, 1)
	assert.False(t, auth.Allowed)
	assert.Equal(t, "You are not enrolled in this course as a Teacher, TA, or Designer.", auth.Reason)
}
