package engine

import (
	"google.golang.org/grpc"

	"github.com/oggyb/matchroom/internal/app"
	"github.com/oggyb/matchroom/internal/session"
)

// Registrar ties the Engine service into the gRPC server
type Registrar struct {
	appCtx   *app.AppContext
	sessions *session.Manager
}

// NewRegistrar creates a new Registrar for the Engine service
func NewRegistrar(appCtx *app.AppContext, sessions *session.Manager) *Registrar {
	return &Registrar{appCtx: appCtx, sessions: sessions}
}

// Register attaches the Engine service implementation to the gRPC server
func (r *Registrar) Register(s *grpc.Server) {
	RegisterEngineServer(s, NewEngineService(r.appCtx, r.sessions))
}
