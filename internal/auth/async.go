package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"licensecli/internal/infrastructure"
)

// Callback receives the single outcome of an async operation.
type Callback interface {
	OnSuccess(message string)
	OnFailure(message string)
}

// CallbackFuncs adapts two functions to Callback. Nil funcs are skipped.
type CallbackFuncs struct {
	Success func(message string)
	Failure func(message string)
}

func (c CallbackFuncs) OnSuccess(message string) {
	if c.Success != nil {
		c.Success(message)
	}
}

func (c CallbackFuncs) OnFailure(message string) {
	if c.Failure != nil {
		c.Failure(message)
	}
}

// VerifyLicenseAsync runs VerifyLicense in the background.
func (a *Authenticator) VerifyLicenseAsync(key string, cb Callback) {
	a.runAsync("verify", cb, func(ctx context.Context) (Result, error) {
		return a.VerifyLicense(ctx, key)
	})
}

// AutoLoginAsync runs AutoLogin in the background.
func (a *Authenticator) AutoLoginAsync(cb Callback) {
	a.runAsync("autologin", cb, a.AutoLogin)
}

// runAsync delivers exactly one outcome: the operation's result, or
// TimeoutMessage if the watchdog fires first. The operation keeps running
// after a timeout and its result is dropped.
func (a *Authenticator) runAsync(op string, cb Callback, fn func(context.Context) (Result, error)) {
	ctx := infrastructure.EnsureTraceID(context.Background())

	var once sync.Once
	deliver := func(success bool, msg string) bool {
		delivered := false
		once.Do(func() {
			delivered = true
			if success {
				cb.OnSuccess(msg)
			} else {
				cb.OnFailure(msg)
			}
		})
		return delivered
	}

	watchdog := time.AfterFunc(a.watchdog, func() {
		if deliver(false, TimeoutMessage) {
			a.metrics.recordWatchdog(ctx, op)
			a.logWarn(ctx, op, "Watchdog expired before the operation finished",
				slog.Duration("watchdog", a.watchdog))
		}
	})

	go func() {
		var (
			res Result
			err error
		)
		defer func() {
			watchdog.Stop()
			if r := recover(); r != nil {
				err = fmt.Errorf("internal error: %v", r)
			}
			var delivered bool
			if err != nil {
				delivered = deliver(false, err.Error())
			} else {
				delivered = deliver(true, res.Message)
			}
			if !delivered {
				a.logDebug(ctx, op, "Dropped late result after watchdog timeout")
			}
		}()
		res, err = fn(ctx)
	}()
}
