package devserver

import (
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/matheus3301/chatsync/internal/live/grpclive"
)

// LiveService serves live clients over gRPC.
type LiveService struct {
	broker *Broker
	auth   *Auth
	log    *zap.Logger
}

// NewLiveService creates the gRPC live handler.
func NewLiveService(broker *Broker, auth *Auth, log *zap.Logger) *LiveService {
	if log == nil {
		log = zap.NewNop()
	}
	return &LiveService{broker: broker, auth: auth, log: log}
}

// Connect authenticates the stream and hands it to the broker.
func (s *LiveService) Connect(stream grpclive.Stream) error {
	ctx := stream.Context()
	member, err := s.auth.Parse(grpclive.TokenFromContext(ctx))
	if err != nil {
		return grpcstatus.Error(codes.Unauthenticated, "로그인이 필요합니다")
	}
	conn := grpclive.NewServerConn(stream)
	if err := s.broker.Serve(ctx, member, conn); err != nil {
		s.log.Debug("grpc live stream ended", zap.Error(err))
		return grpcstatus.Errorf(codes.Unavailable, "live stream: %v", err)
	}
	return nil
}
