package duplicates

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/joseph-ayodele/invoice-ingest/internal/common"
	"github.com/joseph-ayodele/invoice-ingest/internal/rpc"
)

type invoicesServer interface {
	Exists(ctx context.Context, req *ExistsRequest) (*Result, error)
}

type fakeInvoices struct {
	delay time.Duration
	fail  bool
	known map[string]string // tenant|type|number -> invoice id
	got   *ExistsRequest
}

func (f *fakeInvoices) Exists(ctx context.Context, req *ExistsRequest) (*Result, error) {
	f.got = req
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fail {
		return nil, status.Error(codes.Unavailable, "down")
	}
	id, ok := f.known[req.TenantID+"|"+req.DocumentType+"|"+req.InvoiceNumber]
	if !ok {
		return &Result{}, nil
	}
	return &Result{Exists: true, InvoiceID: &id}, nil
}

var invoicesDesc = grpc.ServiceDesc{
	ServiceName: "invoices.v1.InvoicesService",
	HandlerType: (*invoicesServer)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "Exists",
		Handler: func(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
			in := new(ExistsRequest)
			if err := dec(in); err != nil {
				return nil, err
			}
			return srv.(invoicesServer).Exists(ctx, in)
		},
	}},
}

func startInvoices(t *testing.T, impl invoicesServer) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	srv.RegisterService(&invoicesDesc, impl)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(rpc.CallJSON()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestExistsMatch(t *testing.T) {
	fake := &fakeInvoices{known: map[string]string{"acme|INVOICE|F-001": "inv-9"}}
	c := NewGRPCChecker(startInvoices(t, fake), time.Second, true, nil)

	res, err := c.Exists(context.Background(), "F-001", "INVOICE", "acme")
	require.NoError(t, err)
	assert.True(t, res.Exists)
	require.NotNil(t, res.InvoiceID)
	assert.Equal(t, "inv-9", *res.InvoiceID)
	assert.Equal(t, &ExistsRequest{InvoiceNumber: "F-001", DocumentType: "INVOICE", TenantID: "acme"}, fake.got)

	res, err = c.Exists(context.Background(), "F-001", "INVOICE", "other-tenant")
	require.NoError(t, err)
	assert.False(t, res.Exists)
}

func TestExistsFailsOpen(t *testing.T) {
	c := NewGRPCChecker(startInvoices(t, &fakeInvoices{fail: true}), time.Second, true, nil)
	res, err := c.Exists(context.Background(), "F-001", "INVOICE", "acme")
	require.NoError(t, err)
	assert.False(t, res.Exists)
}

func TestExistsTimeoutFailsOpen(t *testing.T) {
	c := NewGRPCChecker(startInvoices(t, &fakeInvoices{delay: time.Second}), 20*time.Millisecond, true, nil)
	res, err := c.Exists(context.Background(), "F-001", "INVOICE", "acme")
	require.NoError(t, err)
	assert.False(t, res.Exists)
}

func TestExistsFailsClosed(t *testing.T) {
	c := NewGRPCChecker(startInvoices(t, &fakeInvoices{fail: true}), time.Second, false, nil)
	_, err := c.Exists(context.Background(), "F-001", "INVOICE", "acme")
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrUnexpected)
	assert.Contains(t, err.Error(), "duplicate check unavailable")
}

func TestNewWithoutAddressIsNop(t *testing.T) {
	c, err := New(common.InvoicesConfig{}, nil)
	require.NoError(t, err)
	assert.IsType(t, Nop{}, c)
	res, err := c.Exists(context.Background(), "x", "INVOICE", "acme")
	require.NoError(t, err)
	assert.False(t, res.Exists)
}
