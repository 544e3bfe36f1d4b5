package clog

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"connectrpc.com/connect"
)

type connectConfig struct {
	Filter func(spec connect.Spec) bool
}

type ConnectOption interface {
	apply(*connectConfig)
}

type connectOptionFunc func(*connectConfig)

func (o connectOptionFunc) apply(c *connectConfig) {
	o(c)
}

func WithConnectFilter(filter func(connect.Spec) bool) ConnectOption {
	return connectOptionFunc(func(cfg *connectConfig) {
		cfg.Filter = filter
	})
}

// DefaultConnectHealthCheckUnaryFilter keeps successful health probes out of
// the log. Failures are always logged.
func DefaultConnectHealthCheckUnaryFilter(spec connect.Spec) bool {
	return spec.Procedure != "/grpc.health.v1.Health/Check"
}

// NewSlogConnectUnaryInterceptor logs unary connect calls (the gRPC health
// service is the only connect handler mounted by the server).
func NewSlogConnectUnaryInterceptor(opts ...ConnectOption) connect.UnaryInterceptorFunc {
	cfg := connectConfig{}
	for _, opt := range opts {
		opt.apply(&cfg)
	}

	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			startTime := time.Now()
			newCtx := ContextWithSlog(ctx)
			AddAttributes(newCtx, map[string]any{
				"method":    req.HTTPMethod(),
				"procedure": req.Spec().Procedure,
			})
			resp, err := next(newCtx, req)
			if err == nil && cfg.Filter != nil && !cfg.Filter(req.Spec()) {
				return resp, err
			}
			var cerr *connect.Error
			codeStr := "ok"
			if err != nil {
				if !errors.As(err, &cerr) {
					cerr = connect.NewError(connect.CodeUnknown, err)
				}
				codeStr = cerr.Code().String()
			}
			AddAttributes(newCtx, map[string]any{
				"code":     codeStr,
				"duration": time.Since(startTime),
			})
			if cerr == nil {
				slog.InfoContext(newCtx, "Finished")
				return resp, err
			}
			switch ConnectCodeToLevel(cerr.Code()) {
			case LevelError:
				slog.ErrorContext(newCtx, cerr.Message())
			default:
				slog.InfoContext(newCtx, cerr.Message())
			}
			return resp, err
		}
	}
}
