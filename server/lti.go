package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// LTIRequest holds the post form fields of an LTI launch request that
// this tool cares about. Canvas sends many more; the OAuth signature
// covers all of them and is checked against the raw form.
type LTIRequest struct {
	OAuthConsumerKey            string `form:"oauth_consumer_key"`
	OAuthSignature              string `form:"oauth_signature"`
	OAuthTimestamp              string `form:"oauth_timestamp"`
	OAuthNonce                  string `form:"oauth_nonce"`
	CanvasUserID                int64  `form:"custom_canvas_user_id"`
	CanvasCourseID              int64  `form:"custom_canvas_course_id"`
	PersonNameFull              string `form:"lis_person_name_full"`
	ContextTitle                string `form:"context_title"`
	LTIMessageType              string `form:"lti_message_type"`
	LTIVersion                  string `form:"lti_version"`
	ResourceLinkID              string `form:"resource_link_id"`
	Roles                       string `form:"roles"`
	ExtRoles                    string `form:"ext_roles"`
	LaunchPresentationReturnURL string `form:"launch_presentation_return_url"`
}

const (
	oauthTimestampWindow = time.Hour
	nonceLifetime        = time.Hour
)

// seen nonces, pruned as they age out
var nonces = struct {
	sync.Mutex
	seen map[string]time.Time
}{seen: make(map[string]time.Time)}

func checkNonce(nonce string) bool {
	nonces.Lock()
	defer nonces.Unlock()

	now := time.Now()
	for n, when := range nonces.seen {
		if now.Sub(when) > nonceLifetime {
			delete(nonces.seen, n)
		}
	}
	if _, found := nonces.seen[nonce]; found {
		return false
	}
	nonces.seen[nonce] = now
	return true
}

// checkOAuthSignature verifies the OAuth 1.0 HMAC-SHA1 signature on an
// LTI launch request. Rejected requests never reach the launch handler.
func checkOAuthSignature(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		loggedHTTPErrorf(w, http.StatusBadRequest, "error parsing launch form: %v", err)
		return
	}

	v := make(url.Values)
	for key, vals := range r.Form {
		if key == "oauth_signature" {
			continue
		}
		for _, val := range vals {
			v.Add(key, val)
		}
	}

	if v.Get("oauth_consumer_key") != Config.LTIConsumerKey {
		loggedHTTPErrorf(w, http.StatusUnauthorized, "unknown consumer key in launch request")
		return
	}
	if v.Get("oauth_signature_method") != "HMAC-SHA1" {
		loggedHTTPErrorf(w, http.StatusBadRequest, "unexpected oauth signature method %q", v.Get("oauth_signature_method"))
		return
	}
	stamp, err := strconv.ParseInt(v.Get("oauth_timestamp"), 10, 64)
	if err != nil {
		loggedHTTPErrorf(w, http.StatusBadRequest, "error parsing oauth timestamp: %v", err)
		return
	}
	if age := time.Since(time.Unix(stamp, 0)); age > oauthTimestampWindow || age < -oauthTimestampWindow {
		loggedHTTPErrorf(w, http.StatusUnauthorized, "stale oauth timestamp in launch request")
		return
	}
	if !checkNonce(v.Get("oauth_nonce")) {
		loggedHTTPErrorf(w, http.StatusUnauthorized, "oauth nonce replayed in launch request")
		return
	}

	launchURL := "https://" + Config.Hostname + r.URL.Path
	base := r.Method + "&" + escape(launchURL) + "&" + escape(encode(v))
	mac := hmac.New(sha1.New, []byte(escape(Config.LTISecret)+"&"))
	mac.Write([]byte(base))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if subtle.ConstantTimeCompare([]byte(expected), []byte(r.Form.Get("oauth_signature"))) != 1 {
		loggedHTTPErrorf(w, http.StatusUnauthorized, "oauth signature mismatch in launch request")
		return
	}
}

// LtiLaunch handles a signed LTI launch: it starts a session for the
// user and sends the browser to the quiz page for the launch course.
func LtiLaunch(w http.ResponseWriter, r *http.Request, form LTIRequest) {
	if form.CanvasUserID < 1 || form.CanvasCourseID < 1 {
		loggedHTTPErrorf(w, http.StatusBadRequest, "launch request is missing the Canvas user/course IDs")
		return
	}

	roles := form.Roles
	if roles == "" {
		roles = form.ExtRoles
	}
	isAdmin := strings.Contains(roles, "Administrator")
	if !isAdmin && !strings.Contains(roles, "Instructor") {
		loggedHTTPErrorf(w, http.StatusForbidden, "launch role %q is not Administrator or Instructor", roles)
		return
	}

	session := NewSession(form.CanvasUserID, isAdmin)
	if err := session.Save(w); err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "error saving session: %v", err)
		return
	}

	http.Redirect(w, r, fmt.Sprintf("/quiz/%d", form.CanvasCourseID), http.StatusFound)
}

// GetConfigXML handles /lti/config.xml and returns the XML config
// data that Canvas uses to install the tool.
func GetConfigXML(w http.ResponseWriter) {
	c := struct {
		Name, ID, Description, LaunchURL, Domain, Icon string
	}{
		Name:        Config.ToolName,
		ID:          Config.ToolID,
		Description: Config.ToolDescription,
		LaunchURL:   "https://" + Config.Hostname + "/launch",
		Domain:      Config.Hostname,
		Icon:        "https://" + Config.Hostname + "/static/icon.png",
	}

	raw := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<cartridge_basiclti_link xmlns="http://www.imsglobal.org/xsd/imslticc_v1p0"
    xmlns:blti="http://www.imsglobal.org/xsd/imsbasiclti_v1p0"
    xmlns:lticm="http://www.imsglobal.org/xsd/imslticm_v1p0"
    xmlns:lticp="http://www.imsglobal.org/xsd/imslticp_v1p0">
  <blti:title>%s</blti:title>
  <blti:description>%s</blti:description>
  <blti:launch_url>%s</blti:launch_url>
  <blti:extensions platform="canvas.instructure.com">
    <lticm:property name="tool_id">%s</lticm:property>
    <lticm:property name="privacy_level">public</lticm:property>
    <lticm:property name="domain">%s</lticm:property>
    <lticm:options name="course_navigation">
      <lticm:property name="url">%s</lticm:property>
      <lticm:property name="text">%s</lticm:property>
      <lticm:property name="visibility">admins</lticm:property>
      <lticm:property name="default">disabled</lticm:property>
      <lticm:property name="enabled">false</lticm:property>
    </lticm:options>
  </blti:extensions>
  <blti:icon>%s</blti:icon>
</cartridge_basiclti_link>
`, xmlEscape(c.Name), xmlEscape(c.Description), c.LaunchURL, xmlEscape(c.ID), c.Domain, c.LaunchURL, xmlEscape(c.Name), c.Icon)

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	fmt.Fprint(w, raw)
}

func xmlEscape(s string) string {
	var buf bytes.Buffer
	for _, r := range s {
		switch r {
		case '<':
			buf.WriteString("&lt;")
		case '>':
			buf.WriteString("&gt;")
		case '&':
			buf.WriteString("&amp;")
		case '"':
			buf.WriteString("&quot;")
		case '\'':
			buf.WriteString("&apos;")
		default:
			buf.WriteRune(r)
		}
	}
	return buf.String()
}

func encode(v url.Values) string {
	if v == nil {
		return ""
	}
	var buf bytes.Buffer
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		// repeated keys sort by encoded value
		vs := make([]string, 0, len(v[k]))
		for _, val := range v[k] {
			vs = append(vs, escape(val))
		}
		sort.Strings(vs)
		prefix := escape(k) + "="
		for _, val := range vs {
			if buf.Len() > 0 {
				buf.WriteByte('&')
			}
			buf.WriteString(prefix)
			buf.WriteString(val)
		}
	}
	return buf.String()
}

func escape(s string) string {
	var buf bytes.Buffer
	for _, b := range []byte(s) {
		if b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' || b == '-' || b == '.' || b == '_' || b == '~' {
			buf.WriteByte(b)
		} else {
			fmt.Fprintf(&buf, "%%%02X", b)
		}
	}
	return buf.String()
}
