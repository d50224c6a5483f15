package main

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func launchForm(nonce string) url.Values {
	form := make(url.Values)
	form.Set("oauth_consumer_key", "test-key")
	form.Set("oauth_signature_method", "HMAC-SHA1")
	form.Set("oauth_timestamp", strconv.FormatInt(time.Now().Unix(), 10))
	form.Set("oauth_nonce", nonce)
	form.Set("oauth_version", "1.0")
	form.Set("lti_message_type", "basic-lti-launch-request")
	form.Set("lti_version", "LTI-1p0")
	form.Set("custom_canvas_user_id", "7")
	form.Set("custom_canvas_course_id", "1")
	form.Set("roles", "Instructor")
	return form
}

func signLaunch(form url.Values) {
	base := "POST&" + escape("https://"+Config.Hostname+"/launch") + "&" + escape(encode(form))
	mac := hmac.New(sha1.New, []byte(escape(Config.LTISecret)+"&"))
	mac.Write([]byte(base))
	form.Set("oauth_signature", base64.StdEncoding.EncodeToString(mac.Sum(nil)))
}

func postLaunch(form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/launch", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	checkOAuthSignature(w, req)
	return w
}

func TestCheckOAuthSignature(t *testing.T) {
	Config.Hostname = "tool.example.com"
	Config.LTIConsumerKey = "test-key"
	Config.LTISecret = "test-secret"

	form := launchForm("nonce-valid")
	signLaunch(form)
	w := postLaunch(form)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCheckOAuthSignatureReplayedNonce(t *testing.T) {
	Config.Hostname = "tool.example.com"
	Config.LTIConsumerKey = "test-key"
	Config.LTISecret = "test-secret"

	form := launchForm("nonce-replay")
	signLaunch(form)
	assert.Equal(t, http.StatusOK, postLaunch(form).Code)
	assert.Equal(t, http.StatusUnauthorized, postLaunch(form).Code)
}

func TestCheckOAuthSignatureTampered(t *testing.T) {
	Config.Hostname = "tool.example.com"
	Config.LTIConsumerKey = "test-key"
	Config.LTISecret = "test-secret"

	form := launchForm("nonce-tampered")
	signLaunch(form)
	form.Set("custom_canvas_user_id", "8")
	assert.Equal(t, http.StatusUnauthorized, postLaunch(form).Code)
}

func TestCheckOAuthSignatureWrongKey(t *testing.T) {
	Config.Hostname = "tool.example.com"
	Config.LTIConsumerKey = "test-key"
	Config.LTISecret = "test-secret"

	form := launchForm("nonce-wrong-key")
	form.Set("oauth_consumer_key", "other-key")
	signLaunch(form)
	assert.Equal(t, http.StatusUnauthorized, postLaunch(form).Code)
}

func TestCheckOAuthSignatureStaleTimestamp(t *testing.T) {
	Config.Hostname = "tool.example.com"
	Config.LTIConsumerKey = "test-key"
	Config.LTISecret = "test-secret"

	form := launchForm("nonce-stale")
	form.Set("oauth_timestamp", strconv.FormatInt(time.Now().Add(-2*time.Hour).Unix(), 10))
	signLaunch(form)
	assert.Equal(t, http.StatusUnauthorized, postLaunch(form).Code)
}

func TestEncodeSortsAndEscapes(t *testing.T) {
	v := make(url.Values)
	v.Set("b", "two words")
	v.Set("a", "one")
	assert.Equal(t, "a=one&b=two%20words", encode(v))
}

func TestEncodeSortsRepeatedKeyValues(t *testing.T) {
	v := make(url.Values)
	v.Add("type[]", "zebra")
	v.Add("type[]", "aardvark")
	assert.Equal(t, "type%5B%5D=aardvark&type%5B%5D=zebra", encode(v))

	// values sort by their encoded form
	v = make(url.Values)
	v.Add("a", "b c")
	v.Add("a", "b!")
	assert.Equal(t, "a=b%20c&a=b%21", encode(v))
}

func TestCheckOAuthSignatureRepeatedKey(t *testing.T) {
	Config.Hostname = "tool.example.com"
	Config.LTIConsumerKey = "test-key"
	Config.LTISecret = "test-secret"

	form := launchForm("nonce-repeated-key")
	form.Add("ext_extra", "zebra")
	form.Add("ext_extra", "aardvark")
	signLaunch(form)
	assert.Equal(t, http.StatusOK, postLaunch(form).Code)
}

func TestEscape(t *testing.T) {
	assert.Equal(t, "abc-._~XYZ09", escape("abc-._~XYZ09"))
	assert.Equal(t, "a%20b%26c%3D", escape("a b&c="))
}
