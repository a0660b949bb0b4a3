// Package stream serves the engine's order updates and notifications over a
// server-streaming gRPC method, and provides the matching client.
//
// The service has no generated stubs: messages are google.protobuf.Struct
// values and the request is google.protobuf.Empty, so the descriptor below is
// all grpc needs.
package stream

import (
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"

	"orderbridge/internal/domain"
	"orderbridge/internal/engine"
)

const (
	serviceName = "orderbridge.Notifications"
	methodName  = "Stream"
	fullMethod  = "/" + serviceName + "/" + methodName
)

type notificationsServer interface {
	stream(*emptypb.Empty, grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*notificationsServer)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    methodName,
		Handler:       streamHandler,
		ServerStreams: true,
	}},
	Metadata: "orderbridge/notifications",
}

func streamHandler(srv any, ss grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := ss.RecvMsg(in); err != nil {
		return err
	}
	return srv.(notificationsServer).stream(in, ss)
}

// Source is the engine surface the server streams from.
type Source interface {
	Subscribe(bufSize int) (int, <-chan engine.Update)
	Unsubscribe(id int)
	Positions() []domain.Position
}

// Server implements the Notifications stream.
type Server struct {
	src Source
	log *slog.Logger
}

// NewServer creates a gRPC server backed by the given source.
func NewServer(src Source, log *slog.Logger) *Server {
	return &Server{src: src, log: log}
}

// RegisterGRPC registers the server on the given gRPC server instance.
func (s *Server) RegisterGRPC(gs *grpc.Server) {
	gs.RegisterService(&serviceDesc, s)
}

// stream sends a snapshot of open positions, then every update as it
// arrives. The stream ends when the client disconnects or the engine closes.
func (s *Server) stream(_ *emptypb.Empty, ss grpc.ServerStream) error {
	// Subscribe before the snapshot so nothing falls between the two.
	subID, ch := s.src.Subscribe(4096)
	defer s.src.Unsubscribe(subID)

	for _, p := range s.src.Positions() {
		msg, err := encodePosition(p)
		if err != nil {
			return err
		}
		if err := ss.SendMsg(msg); err != nil {
			return err
		}
	}

	s.log.Info("grpc client subscribed", "subID", subID)

	ctx := ss.Context()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("grpc client disconnected", "subID", subID)
			return nil
		case u, ok := <-ch:
			if !ok {
				return nil
			}
			msg, err := encodeUpdate(u)
			if err != nil {
				s.log.Warn("skipping update", "error", err)
				continue
			}
			if err := ss.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}
