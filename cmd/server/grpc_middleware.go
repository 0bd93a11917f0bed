package main

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"

	"applyflow/internal/observability"
)

type rateLimiter interface {
	Wait(ctx context.Context) error
}

// meteredLimiter records how long callers waited for a token.
type meteredLimiter struct {
	limiter *rate.Limiter
	onWait  func(time.Duration)
	now     func() time.Time
}

// newGrpcRateLimiter allows one request per interval with the given burst.
// It returns nil, meaning unlimited, when either value is not positive.
func newGrpcRateLimiter(interval time.Duration, burst int, onWait func(time.Duration)) rateLimiter {
	if interval <= 0 || burst <= 0 {
		return nil
	}
	return &meteredLimiter{
		limiter: rate.NewLimiter(rate.Every(interval), burst),
		onWait:  onWait,
		now:     time.Now,
	}
}

func (l *meteredLimiter) Wait(ctx context.Context) error {
	start := l.now()
	err := l.limiter.Wait(ctx)
	if l.onWait != nil {
		l.onWait(l.now().Sub(start))
	}
	return err
}

type rateLimitedServerStream struct {
	grpc.ServerStream
	limiter rateLimiter
}

func (s *rateLimitedServerStream) RecvMsg(m any) error {
	if s.limiter != nil {
		if err := s.limiter.Wait(s.Context()); err != nil {
			return err
		}
	}
	return s.ServerStream.RecvMsg(m)
}

func rateLimitUnaryInterceptor(limiter rateLimiter, metrics *observability.Metrics, logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		span := &observability.CallSpan{}
		start := time.Now()
		if shouldTrackMethod(info.FullMethod) {
			span = metrics.Start(info.FullMethod)
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				span.End(err)
				return nil, err
			}
		}
		resp, err := handler(ctx, req)
		span.End(err)
		if err != nil && shouldTrackMethod(info.FullMethod) {
			logger.Warn("grpc unary call failed",
				zap.String("method", info.FullMethod), zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		}
		return resp, err
	}
}

func rateLimitStreamInterceptor(limiter rateLimiter, metrics *observability.Metrics, logger *zap.Logger) grpc.StreamServerInterceptor {
	return func(srv any, stream grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		span := &observability.CallSpan{}
		start := time.Now()
		if shouldTrackMethod(info.FullMethod) {
			span = metrics.Start(info.FullMethod)
		}
		if limiter != nil {
			stream = &rateLimitedServerStream{ServerStream: stream, limiter: limiter}
		}
		err := handler(srv, stream)
		span.End(err)
		if err != nil && shouldTrackMethod(info.FullMethod) {
			logger.Warn("grpc stream failed",
				zap.String("method", info.FullMethod), zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		}
		return err
	}
}

func shouldTrackMethod(method string) bool {
	return method != "" && !strings.HasPrefix(method, "/grpc.reflection.")
}
