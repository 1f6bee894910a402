package grpclive

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/matheus3301/chatsync/internal/live"
)

type frameStream interface {
	Send(*wrapperspb.BytesValue) error
	Recv() (*wrapperspb.BytesValue, error)
}

func readFrame(s frameStream) (live.Frame, error) {
	msg, err := s.Recv()
	if err != nil {
		return live.Frame{}, err
	}
	return live.Decode(msg.GetValue())
}

func writeFrame(s frameStream, f live.Frame) error {
	data, err := live.Encode(f)
	if err != nil {
		return err
	}
	return s.Send(wrapperspb.Bytes(data))
}

// clientConn is the client end of a Connect stream.
type clientConn struct {
	stream  grpc.BidiStreamingClient[wrapperspb.BytesValue, wrapperspb.BytesValue]
	cancel  context.CancelFunc
	writeMu sync.Mutex
	once    sync.Once
}

func (c *clientConn) ReadFrame(ctx context.Context) (live.Frame, error) {
	stop := context.AfterFunc(ctx, c.cancel)
	defer stop()
	f, err := readFrame(c.stream)
	if err != nil {
		return live.Frame{}, fmt.Errorf("recv live stream: %w", err)
	}
	return f, nil
}

func (c *clientConn) WriteFrame(_ context.Context, f live.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := writeFrame(c.stream, f); err != nil {
		return fmt.Errorf("send live stream: %w", err)
	}
	return nil
}

func (c *clientConn) Close() error {
	c.once.Do(func() {
		c.writeMu.Lock()
		_ = c.stream.CloseSend()
		c.writeMu.Unlock()
		c.cancel()
	})
	return nil
}

// Dialer opens Connect streams over one shared client connection.
type Dialer struct {
	Target string
	Token  string
	// Options replace the default insecure transport credentials.
	Options []grpc.DialOption

	mu sync.Mutex
	cc *grpc.ClientConn
}

func (d *Dialer) client() (*grpc.ClientConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cc != nil {
		return d.cc, nil
	}
	opts := d.Options
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	cc, err := grpc.NewClient(d.Target, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc client %s: %w", d.Target, err)
	}
	d.cc = cc
	return cc, nil
}

// Dial opens a new Connect stream. The stream outlives ctx; it ends when
// the returned Conn is closed.
func (d *Dialer) Dial(ctx context.Context) (live.Conn, error) {
	cc, err := d.client()
	if err != nil {
		return nil, err
	}
	streamCtx, cancel := context.WithCancel(context.Background())
	if d.Token != "" {
		streamCtx = metadata.AppendToOutgoingContext(streamCtx, "authorization", "Bearer "+d.Token)
	}
	stop := context.AfterFunc(ctx, cancel)
	s, err := cc.NewStream(streamCtx, &serviceDesc.Streams[0], connectMethod)
	stop()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open live stream: %w", err)
	}
	return &clientConn{
		stream: &grpc.GenericClientStream[wrapperspb.BytesValue, wrapperspb.BytesValue]{ClientStream: s},
		cancel: cancel,
	}, nil
}

// Close releases the underlying client connection.
func (d *Dialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cc == nil {
		return nil
	}
	err := d.cc.Close()
	d.cc = nil
	return err
}

// ServerConn adapts a server stream to live.Conn so server code can share
// frame handling with clients. Close only marks the conn done; the stream
// ends when the handler returns.
type ServerConn struct {
	stream  Stream
	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

// NewServerConn wraps stream.
func NewServerConn(stream Stream) *ServerConn {
	return &ServerConn{stream: stream, done: make(chan struct{})}
}

func (c *ServerConn) ReadFrame(ctx context.Context) (live.Frame, error) {
	type result struct {
		f   live.Frame
		err error
	}
	ch := make(chan result, 1)
	go func() {
		f, err := readFrame(c.stream)
		ch <- result{f, err}
	}()
	select {
	case r := <-ch:
		return r.f, r.err
	case <-c.done:
		return live.Frame{}, live.ErrClosed
	case <-ctx.Done():
		return live.Frame{}, ctx.Err()
	}
}

func (c *ServerConn) WriteFrame(_ context.Context, f live.Frame) error {
	select {
	case <-c.done:
		return live.ErrClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return writeFrame(c.stream, f)
}

func (c *ServerConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// Done is closed by Close.
func (c *ServerConn) Done() <-chan struct{} { return c.done }
