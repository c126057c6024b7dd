package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"stockcast/pkg/logx"
)

// PanicRecover converts a handler panic into an error so one bad command
// cannot take down the dispatch loop.
func PanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req Request) (resp Response, err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("command handler panicked",
						logx.String("command", req.Command),
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())))
					resp, err = Response{}, fmt.Errorf("handler panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

// RequestLog logs every dispatched command and its latency.
func RequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req Request) (Response, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			e := log.Info
			if err != nil {
				e = log.Warn
			}
			e("command",
				logx.String("command", req.Command),
				logx.Int64("from", req.Msg.FromID),
				logx.Int64("chat", req.Msg.ChatID),
				logx.Duration("took", time.Since(start)),
				logx.Err(err))
			return resp, err
		}
	}
}

// Timeout bounds a handler's execution; upstream HTTP clients have their
// own timeouts, this is the backstop.
func Timeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req Request) (Response, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}
