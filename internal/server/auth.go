package server

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	svcErr "github.com/oggyb/matchroom/internal/errors"
	"github.com/oggyb/matchroom/internal/identity"
)

// authenticator turns the bearer token of each call into an Identity on the
// context. Handlers take it from there and pass it on explicitly.
type authenticator struct {
	verifier *identity.Verifier
	public   map[string]bool
}

func newAuthenticator(v *identity.Verifier, public []string) *authenticator {
	a := &authenticator{verifier: v, public: make(map[string]bool, len(public))}
	for _, m := range public {
		a.public[m] = true
	}
	return a
}

func (a *authenticator) authenticate(ctx context.Context, method string) (context.Context, error) {
	if a.public[method] {
		return ctx, nil
	}
	if a.verifier == nil {
		return nil, svcErr.Unauthenticated("authentication is not configured")
	}

	md, _ := metadata.FromIncomingContext(ctx)
	values := md.Get("authorization")
	if len(values) == 0 {
		return nil, svcErr.Unauthenticated("missing bearer token")
	}
	raw, ok := strings.CutPrefix(values[0], "Bearer ")
	if !ok {
		raw, ok = strings.CutPrefix(values[0], "bearer ")
	}
	if !ok || raw == "" {
		return nil, svcErr.Unauthenticated("malformed authorization header")
	}

	id, err := a.verifier.Verify(raw)
	if err != nil {
		return nil, svcErr.Unauthenticated("invalid or expired token")
	}
	return identity.NewContext(ctx, id), nil
}

func (a *authenticator) unary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	ctx, err := a.authenticate(ctx, info.FullMethod)
	if err != nil {
		return nil, err
	}
	return handler(ctx, req)
}

func (a *authenticator) stream(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	ctx, err := a.authenticate(ss.Context(), info.FullMethod)
	if err != nil {
		return err
	}
	return handler(srv, &authedStream{ServerStream: ss, ctx: ctx})
}

type authedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authedStream) Context() context.Context { return s.ctx }
