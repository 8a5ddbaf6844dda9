package forward

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

type fakeProducer struct {
	leader bool
	resp   interface{}
	err    error
}

func (f *fakeProducer) Produce(data []byte, timeout time.Duration) (interface{}, error) {
	return f.resp, f.err
}

func (f *fakeProducer) IsLeader() bool { return f.leader }

func startServer(t *testing.T, producer Producer) (*grpc.ClientConn, func()) {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	grpcServer := grpc.NewServer()
	grpcServer.RegisterService(&ServiceDesc, NewServer(producer, time.Second))
	go func() { _ = grpcServer.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	return conn, func() {
		conn.Close()
		grpcServer.Stop()
	}
}

func TestPropose_SucceedsOnLeader(t *testing.T) {
	conn, stop := startServer(t, &fakeProducer{leader: true, resp: nil})
	defer stop()

	client := &Client{conn: conn}
	err := client.Propose(context.Background(), []byte("payload"))
	assert.NoError(t, err)
}

func TestPropose_FailsOnNonLeader(t *testing.T) {
	conn, stop := startServer(t, &fakeProducer{leader: false})
	defer stop()

	client := &Client{conn: conn}
	err := client.Propose(context.Background(), []byte("payload"))
	require.Error(t, err)
}

func TestPropose_SurfacesApplyError(t *testing.T) {
	conn, stop := startServer(t, &fakeProducer{leader: true, resp: errors.New("artifact already exists")})
	defer stop()

	client := &Client{conn: conn}
	err := client.Propose(context.Background(), []byte("payload"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}
