// Package forward lets a non-leader node hand a journal record to the raft
// leader for production. Only the leader may call raft.Apply, so every
// Submitter that finds itself on a follower forwards its record over a
// small gRPC service instead of failing the write outright, dialing
// whichever node is currently leader.
//
// There is no generated protobuf service here (no .proto/protoc step);
// the wire payload is the journal record's raw bytes carried in a real
// compiled protobuf message,
// google.golang.org/protobuf/types/known/wrapperspb.BytesValue, registered
// against a hand-written grpc.ServiceDesc. This keeps the dependency real
// and the codec private to the cluster.
package forward

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	serviceName = "curator.journal.Forward"
	methodName  = "Propose"
	fullMethod  = "/" + serviceName + "/" + methodName
)

// Producer is the subset of *raftlog.Journal the server needs. Declared
// locally to avoid forward importing raftlog (raftlog has no reason to know
// about gRPC).
type Producer interface {
	Produce(data []byte, timeout time.Duration) (interface{}, error)
	IsLeader() bool
}

// Server implements the Propose RPC: apply on this node if it is the raft
// leader, otherwise reject so the caller can redial whoever is.
type Server struct {
	journal      Producer
	applyTimeout time.Duration
}

// NewServer wraps a journal for serving Propose calls.
func NewServer(journal Producer, applyTimeout time.Duration) *Server {
	if applyTimeout <= 0 {
		applyTimeout = 5 * time.Second
	}
	return &Server{journal: journal, applyTimeout: applyTimeout}
}

func (s *Server) propose(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if !s.journal.IsLeader() {
		return nil, status.Error(codes.FailedPrecondition, "not leader")
	}
	resp, err := s.journal.Produce(req.GetValue(), s.applyTimeout)
	if err != nil {
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	if applyErr, ok := resp.(error); ok && applyErr != nil {
		return nil, status.Error(codes.Aborted, applyErr.Error())
	}
	return &wrapperspb.BytesValue{}, nil
}

// ServiceDesc registers Server on a *grpc.Server via RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*interface{})(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: methodName,
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				req := new(wrapperspb.BytesValue)
				if err := dec(req); err != nil {
					return nil, err
				}
				s := srv.(*Server)
				if interceptor == nil {
					return s.propose(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
				handler := func(ctx context.Context, req interface{}) (interface{}, error) {
					return s.propose(ctx, req.(*wrapperspb.BytesValue))
				}
				return interceptor(ctx, req, info, handler)
			},
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "journal/forward/forward.go",
}

// Client dials a leader address and forwards records to it.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the node at addr. Connections use plaintext transport:
// cluster-internal RPC is assumed to run inside a trusted network boundary
// established by the deployment; authentication is an external concern.
func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial leader %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

// Propose forwards a journal record to the leader and waits for it to be
// applied, surfacing any apply-time error the leader's Sink returned.
func (c *Client) Propose(ctx context.Context, data []byte) error {
	req := &wrapperspb.BytesValue{Value: data}
	resp := new(wrapperspb.BytesValue)
	return c.conn.Invoke(ctx, fullMethod, req, resp)
}
