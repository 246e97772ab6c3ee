package authapi

import (
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// UnauthorizedNotifier fans out "a bearer request was rejected" to every
// subscriber, whichever component made the request. Subscribers receive the
// rejected token so a session only reacts to its own credential.
type UnauthorizedNotifier struct {
	lock sync.Mutex
	seq  int
	subs map[int]func(token string)
}

func NewUnauthorizedNotifier() *UnauthorizedNotifier {
	return &UnauthorizedNotifier{subs: make(map[int]func(string))}
}

func (n *UnauthorizedNotifier) Subscribe(fn func(token string)) func() {
	n.lock.Lock()
	defer n.lock.Unlock()

	n.seq++
	id := n.seq
	n.subs[id] = fn
	return func() {
		n.lock.Lock()
		defer n.lock.Unlock()
		delete(n.subs, id)
	}
}

// Notify calls every subscriber on the caller's goroutine.
func (n *UnauthorizedNotifier) Notify(token string) {
	n.lock.Lock()
	subs := make([]func(string), 0, len(n.subs))
	for _, fn := range n.subs {
		subs = append(subs, fn)
	}
	n.lock.Unlock()

	for _, fn := range subs {
		fn(token)
	}
}

type unauthorizedTransport struct {
	base     http.RoundTripper
	notifier *UnauthorizedNotifier
}

// NewUnauthorizedTransport notifies when a request carrying credentials is
// answered with 401. Requests without an Authorization header, such as a login
// with a bad credential, do not notify.
func NewUnauthorizedTransport(base http.RoundTripper, notifier *UnauthorizedNotifier) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &unauthorizedTransport{base: base, notifier: notifier}
}

func (t *unauthorizedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	if token, ok := bearerToken(req); ok {
		log.Warn().Str("method", req.Method).Str("path", req.URL.Path).Msg("request rejected as unauthorized")
		t.notifier.Notify(token)
	}
	return resp, nil
}

func bearerToken(req *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(req.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
