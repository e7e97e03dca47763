package auth

import "context"

// AuthState is the payload delivered on every authentication transition.
type AuthState struct {
	SessionID   string `json:"session_id"`
	Token       string `json:"-"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Valid       bool   `json:"valid"`
}

// AuthStateSink receives authentication transitions. Calls happen
// synchronously after persistence, on the goroutine running the operation.
type AuthStateSink interface {
	OnAuthStateChanged(ctx context.Context, state AuthState)
}

// SinkFunc adapts a function to AuthStateSink.
type SinkFunc func(ctx context.Context, state AuthState)

func (f SinkFunc) OnAuthStateChanged(ctx context.Context, state AuthState) { f(ctx, state) }

// MultiSink fans a transition out to several sinks in order.
type MultiSink []AuthStateSink

func (m MultiSink) OnAuthStateChanged(ctx context.Context, state AuthState) {
	for _, s := range m {
		if s != nil {
			s.OnAuthStateChanged(ctx, state)
		}
	}
}

type discardSink struct{}

func (discardSink) OnAuthStateChanged(context.Context, AuthState) {}
