package protocol

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fastjson"
)

// ExpiryLayout is the rendering used for numeric expiry values.
const ExpiryLayout = "2006-01-02 15:04:05"

var (
	successVariants = []string{
		`"success":true`,
		`"success": true`,
		`"success":"true"`,
		`"success": "true"`,
	}
	bannedVariants = []string{`"banned":true`, `"banned": true`, `"ban":true`, `"ban": true`}

	messageFields = []string{"message", "error", "msg", "reason"}
	sessionFields = []string{"sessionid", "session_id", "session", "sid"}
	expiryFields  = []string{"expiry", "expires", "expiration"}

	uuidPattern         = regexp.MustCompile(`[a-fA-F0-9]{8}-[a-fA-F0-9]{4}-[a-fA-F0-9]{4}-[a-fA-F0-9]{4}-[a-fA-F0-9]{12}`)
	alphanumericPattern = regexp.MustCompile(`[a-zA-Z0-9]{16,}`)
	digitsPattern       = regexp.MustCompile(`^[0-9]+$`)
)

// Response classifies one reply body. Real JSON is preferred; bodies that
// do not parse fall back to textual matching.
type Response struct {
	Body string
	doc  *fastjson.Value
}

// ParseResponse wraps body for classification.
func ParseResponse(body []byte) Response {
	r := Response{Body: string(body)}
	if v, err := fastjson.ParseBytes(body); err == nil && v.Type() == fastjson.TypeObject {
		r.doc = v
	}
	return r
}

// Success reports whether the server flagged the request as successful.
func (r Response) Success() bool {
	if r.doc != nil && r.doc.Exists("success") {
		return truthy(r.doc.Get("success"))
	}
	for _, variant := range successVariants {
		if strings.Contains(r.Body, variant) {
			return true
		}
	}
	return false
}

// Banned reports a server-side ban flag.
func (r Response) Banned() bool {
	if r.doc != nil {
		return truthy(r.doc.Get("banned")) || truthy(r.doc.Get("ban"))
	}
	for _, variant := range bannedVariants {
		if strings.Contains(r.Body, variant) {
			return true
		}
	}
	return false
}

// Message returns the human-readable error text.
func (r Response) Message() string {
	for _, field := range messageFields {
		if v := r.stringField(field); v != "" {
			return v
		}
	}
	return "API Error: " + r.Body
}

// SessionID extracts a session id: explicit field, then a UUID-shaped token,
// then any long alphanumeric run. Empty when nothing matches.
func (r Response) SessionID() string {
	for _, field := range sessionFields {
		if v := r.stringField(field); v != "" {
			return v
		}
	}
	if m := uuidPattern.FindString(r.Body); m != "" {
		return m
	}
	return alphanumericPattern.FindString(r.Body)
}

// Expiry returns the subscription expiry. Unix-second values are rendered
// with ExpiryLayout in UTC; other strings pass through.
func (r Response) Expiry() string {
	if r.doc != nil {
		for _, field := range expiryFields {
			if v := r.doc.Get(field); v != nil {
				return renderExpiry(v)
			}
		}
		if v := r.doc.Get("info", "subscriptions", "0", "expiry"); v != nil {
			return renderExpiry(v)
		}
		return ""
	}
	for _, field := range expiryFields {
		if v := textField(r.Body, field); v != "" {
			return normalizeExpiry(v)
		}
	}
	return ""
}

func (r Response) stringField(name string) string {
	if r.doc != nil {
		v := r.doc.Get(name)
		if v == nil {
			return ""
		}
		switch v.Type() {
		case fastjson.TypeString:
			return string(v.GetStringBytes())
		case fastjson.TypeNumber:
			return v.String()
		}
		return ""
	}
	return textField(r.Body, name)
}

var fieldPatterns = compileFieldPatterns(messageFields, sessionFields, expiryFields)

// compileFieldPatterns matches `"name": "value"` or a bare `"name": value`.
func compileFieldPatterns(groups ...[]string) map[string]*regexp.Regexp {
	out := make(map[string]*regexp.Regexp)
	for _, group := range groups {
		for _, name := range group {
			out[name] = regexp.MustCompile(`"` + name + `"\s*:\s*(?:"([^"]*)"|([^",}\s]+))`)
		}
	}
	return out
}

func textField(body, name string) string {
	re, ok := fieldPatterns[name]
	if !ok {
		return ""
	}
	m := re.FindStringSubmatch(body)
	if m == nil {
		return ""
	}
	if m[1] != "" {
		return m[1]
	}
	return m[2]
}

func truthy(v *fastjson.Value) bool {
	if v == nil {
		return false
	}
	switch v.Type() {
	case fastjson.TypeTrue:
		return true
	case fastjson.TypeString:
		return strings.EqualFold(string(v.GetStringBytes()), "true")
	}
	return false
}

func renderExpiry(v *fastjson.Value) string {
	switch v.Type() {
	case fastjson.TypeNumber:
		if secs, err := v.Int64(); err == nil {
			return time.Unix(secs, 0).UTC().Format(ExpiryLayout)
		}
		return v.String()
	case fastjson.TypeString:
		return normalizeExpiry(string(v.GetStringBytes()))
	}
	return ""
}

func normalizeExpiry(s string) string {
	if digitsPattern.MatchString(s) {
		if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.Unix(secs, 0).UTC().Format(ExpiryLayout)
		}
	}
	return s
}
