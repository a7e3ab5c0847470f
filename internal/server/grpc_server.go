package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/oggyb/matchroom/internal/config"
	"github.com/oggyb/matchroom/internal/identity"
	"github.com/oggyb/matchroom/internal/logger"
)

// Options configure NewGRPCServer.
type Options struct {
	Verifier *identity.Verifier
	// Public lists full method names reachable without a token.
	Public []string
	Log    *slog.Logger
}

// NewGRPCServer builds a gRPC server with auth and logging interceptors and
// registers all provided services.
func NewGRPCServer(opts Options, registrars ...Registrar) *grpc.Server {
	if opts.Log == nil {
		opts.Log = logger.L()
	}
	auth := newAuthenticator(opts.Verifier, opts.Public)

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(logUnary(opts.Log), auth.unary),
		grpc.ChainStreamInterceptor(logStream(opts.Log), auth.stream),
	)

	// register all services
	for _, r := range registrars {
		r.Register(grpcServer)
	}

	// enable reflection for easier debugging with grpcurl
	reflection.Register(grpcServer)

	return grpcServer
}

// Listen opens the configured address. The engine serves a single device,
// so the default host is loopback.
func Listen(cfg *config.Config) (net.Listener, error) {
	addr := fmt.Sprintf("%s:%s", cfg.GRPC.Host, cfg.GRPC.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return lis, nil
}

// Serve runs srv on lis until ctx is done, then stops gracefully. Streams
// still open after grace are cut.
func Serve(ctx context.Context, srv *grpc.Server, lis net.Listener, grace time.Duration) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(lis) }()

	select {
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(grace):
		srv.Stop()
	}
	return nil
}

func logUnary(log *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		log.Debug("rpc", "method", info.FullMethod, "code", status.Code(err).String(), "duration", time.Since(start))
		return resp, err
	}
}

func logStream(log *slog.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		log.Debug("stream", "method", info.FullMethod, "code", status.Code(err).String(), "duration", time.Since(start))
		return err
	}
}
