package stream

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client connects to a notification stream server.
type Client struct {
	addr string
	opts []grpc.DialOption
	log  *slog.Logger
}

// NewClient creates a client targeting the given gRPC address. Without
// options the connection uses insecure transport credentials.
func NewClient(addr string, log *slog.Logger, opts ...grpc.DialOption) *Client {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	return &Client{addr: addr, opts: opts, log: log}
}

// Watch streams events into fn. It blocks until ctx is cancelled or the
// stream ends.
func (c *Client) Watch(ctx context.Context, fn func(Event)) error {
	conn, err := grpc.NewClient(c.addr, c.opts...)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", c.addr, err)
	}
	defer conn.Close()

	st, err := conn.NewStream(ctx, &serviceDesc.Streams[0], fullMethod)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("starting stream: %w", err)
	}
	if err := st.SendMsg(&emptypb.Empty{}); err != nil && err != io.EOF {
		return fmt.Errorf("sending request: %w", err)
	}
	if err := st.CloseSend(); err != nil {
		return fmt.Errorf("closing send: %w", err)
	}

	c.log.Info("connected to notification stream", "addr", c.addr)

	for {
		msg := new(structpb.Struct)
		err := st.RecvMsg(msg)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receiving update: %w", err)
		}
		fn(Decode(msg))
	}
}
