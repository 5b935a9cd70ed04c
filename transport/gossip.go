package transport

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// codecName is the content subtype gossip calls are sent with. Payloads are
// already encoded by Encode, so the codec only moves bytes.
const codecName = "hermes-gossip"

const deliverMethod = "/gossip.v1.Gossip/Deliver"

func init() {
	encoding.RegisterCodec(rawCodec{})
}

type frame struct {
	b []byte
}

type rawCodec struct{}

func (rawCodec) Marshal(v any) ([]byte, error) {
	f, ok := v.(*frame)
	if !ok {
		return nil, malformed(errNotFrame)
	}
	return f.b, nil
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	f, ok := v.(*frame)
	if !ok {
		return malformed(errNotFrame)
	}
	f.b = append(f.b[:0], data...)
	return nil
}

func (rawCodec) Name() string {
	return codecName
}

// gossipServer is the single unary method of the gossip service: the caller
// hands over one encoded message and gets an empty frame back as soon as the
// message is queued.
type gossipServer interface {
	Deliver(ctx context.Context, in *frame) (*frame, error)
}

var gossipServiceDesc = grpc.ServiceDesc{
	ServiceName: "gossip.v1.Gossip",
	HandlerType: (*gossipServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Deliver", Handler: deliverHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "gossip/v1/gossip.proto",
}

func deliverHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(frame)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(gossipServer).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: deliverMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(gossipServer).Deliver(ctx, req.(*frame))
	}
	return interceptor(ctx, in, info, handler)
}
