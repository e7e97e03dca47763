package testutil

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"
)

// Reply is a canned response for one request type.
type Reply struct {
	Status int
	Body   string
	Delay  time.Duration
}

// LicenseServer is an httptest-backed stand-in for the remote license
// endpoint. It answers by the form field "type" and records every request.
type LicenseServer struct {
	*httptest.Server

	mu       sync.Mutex
	replies  map[string][]Reply
	requests map[string][]url.Values
}

// NewLicenseServer starts a server that is closed with the test.
func NewLicenseServer(t *testing.T) *LicenseServer {
	t.Helper()
	ls := &LicenseServer{
		replies:  make(map[string][]Reply),
		requests: make(map[string][]url.Values),
	}
	ls.Server = httptest.NewServer(http.HandlerFunc(ls.handle))
	t.Cleanup(ls.Close)
	return ls
}

// On queues replies for a request type. The last reply repeats once the
// queue drains.
func (ls *LicenseServer) On(requestType string, replies ...Reply) *LicenseServer {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.replies[requestType] = append(ls.replies[requestType], replies...)
	return ls
}

// OnJSON queues a 200 reply with body.
func (ls *LicenseServer) OnJSON(requestType, body string) *LicenseServer {
	return ls.On(requestType, Reply{Status: http.StatusOK, Body: body})
}

// Requests returns the recorded forms for a request type
func (ls *LicenseServer) Requests(requestType string) []url.Values {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	out := make([]url.Values, len(ls.requests[requestType]))
	copy(out, ls.requests[requestType])
	return out
}

// Count returns how many requests of a type were received
func (ls *LicenseServer) Count(requestType string) int {
	return len(ls.Requests(requestType))
}

func (ls *LicenseServer) handle(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	requestType := r.PostForm.Get("type")

	ls.mu.Lock()
	form := url.Values{}
	for k, v := range r.PostForm {
		form[k] = append([]string(nil), v...)
	}
	form.Set("_user_agent", r.UserAgent())
	ls.requests[requestType] = append(ls.requests[requestType], form)

	queue := ls.replies[requestType]
	reply := Reply{Status: http.StatusOK, Body: `{"success":false,"message":"unexpected request"}`}
	if len(queue) > 0 {
		reply = queue[0]
		if len(queue) > 1 {
			ls.replies[requestType] = queue[1:]
		}
	}
	ls.mu.Unlock()

	if reply.Delay > 0 {
		select {
		case <-time.After(reply.Delay):
		case <-r.Context().Done():
			return
		}
	}
	if reply.Status == 0 {
		reply.Status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(reply.Status)
	_, _ = w.Write([]byte(reply.Body))
}
