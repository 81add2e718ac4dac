// Package adminserver exposes a buffer pool's statistics, consistency
// check, checkpoint, and alloc operations over gRPC.
//
// Grounded directly on the teacher's cmd/server/main.go: a manual
// grpc.ServiceDesc with hand-rolled method handlers and a JSON
// grpc/encoding.Codec, avoiding a protobuf toolchain dependency entirely.
// The service interface, request/response shapes, and jsonCodec type below
// are the same pattern the teacher used for its TinySQLServer, renamed to
// the four buffer-pool verbs spec.md's admin surface calls for.
package adminserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"

	"github.com/vantadb/storecore/internal/bufferpool"
	"github.com/vantadb/storecore/internal/errkind"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec swaps protobuf's wire codec for plain JSON, exactly as the
// teacher's cmd/server/main.go does for its own admin RPCs.
type jsonCodec struct{}

func (jsonCodec) Name() string                      { return "json" }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// StatisticsResponse mirrors bufferpool.Statistics over the wire.
type StatisticsResponse struct {
	ResidentSlots  int    `json:"residentSlots"`
	ReservedPages  uint64 `json:"reservedPages"`
	PageSize       int    `json:"pageSize"`
	AllocatedPages uint64 `json:"allocatedPages"`
}

// CheckConsistencyResponse reports whether the pool's internal invariants
// held, and the failure detail when they did not.
type CheckConsistencyResponse struct {
	Ok    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// CheckpointResponse reports whether the checkpoint completed.
type CheckpointResponse struct {
	Ok    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// AllocRequest is the empty request shape for Alloc (kept as a struct,
// rather than google.protobuf.Empty, to stay protobuf-free).
type AllocRequest struct{}

// AllocResponse reports the page allocated by Alloc.
type AllocResponse struct {
	BufferID uint32 `json:"bufferId"`
	PageID   uint64 `json:"pageId"`
	Error    string `json:"error,omitempty"`
}

// AdminServer is the RPC surface over a buffer pool.
type AdminServer interface {
	GetStatistics(context.Context, *AllocRequest) (*StatisticsResponse, error)
	CheckConsistency(context.Context, *AllocRequest) (*CheckConsistencyResponse, error)
	Checkpoint(context.Context, *AllocRequest) (*CheckpointResponse, error)
	Alloc(context.Context, *AllocRequest) (*AllocResponse, error)
}

func registerAdminServer(s *grpc.Server, srv AdminServer) {
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: "storecore.Admin",
		HandlerType: (*AdminServer)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "GetStatistics", Handler: _Admin_GetStatistics_Handler},
			{MethodName: "CheckConsistency", Handler: _Admin_CheckConsistency_Handler},
			{MethodName: "Checkpoint", Handler: _Admin_Checkpoint_Handler},
			{MethodName: "Alloc", Handler: _Admin_Alloc_Handler},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "storecore",
	}, srv)
}

func _Admin_GetStatistics_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(AllocRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServer).GetStatistics(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/storecore.Admin/GetStatistics"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AdminServer).GetStatistics(ctx, req.(*AllocRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Admin_CheckConsistency_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(AllocRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServer).CheckConsistency(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/storecore.Admin/CheckConsistency"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AdminServer).CheckConsistency(ctx, req.(*AllocRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Admin_Checkpoint_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(AllocRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServer).Checkpoint(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/storecore.Admin/Checkpoint"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AdminServer).Checkpoint(ctx, req.(*AllocRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Admin_Alloc_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(AllocRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServer).Alloc(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/storecore.Admin/Alloc"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AdminServer).Alloc(ctx, req.(*AllocRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// poolServer implements AdminServer over a single *bufferpool.Pool.
type poolServer struct {
	pool *bufferpool.Pool
}

func (s *poolServer) GetStatistics(ctx context.Context, _ *AllocRequest) (*StatisticsResponse, error) {
	stats := s.pool.GetStatistics()
	return &StatisticsResponse{
		ResidentSlots:  stats.ResidentSlots,
		ReservedPages:  stats.ReservedPages,
		PageSize:       stats.PageSize,
		AllocatedPages: stats.AllocatedPages,
	}, nil
}

func (s *poolServer) CheckConsistency(ctx context.Context, _ *AllocRequest) (*CheckConsistencyResponse, error) {
	if err := s.pool.CheckConsistency(); err != nil {
		return &CheckConsistencyResponse{Ok: false, Error: err.Error()}, nil
	}
	return &CheckConsistencyResponse{Ok: true}, nil
}

func (s *poolServer) Checkpoint(ctx context.Context, _ *AllocRequest) (*CheckpointResponse, error) {
	if err := s.pool.Checkpoint(); err != nil {
		return &CheckpointResponse{Ok: false, Error: err.Error()}, nil
	}
	return &CheckpointResponse{Ok: true}, nil
}

func (s *poolServer) Alloc(ctx context.Context, _ *AllocRequest) (*AllocResponse, error) {
	h, err := s.pool.Alloc()
	if err != nil {
		return &AllocResponse{Error: err.Error()}, nil
	}
	if err := s.pool.Unpin(h); err != nil {
		return &AllocResponse{Error: err.Error()}, nil
	}
	return &AllocResponse{BufferID: uint32(h.BufferID), PageID: uint64(h.PageID)}, nil
}

// NewPoolServer adapts pool to the AdminServer interface.
func NewPoolServer(pool *bufferpool.Pool) AdminServer {
	return &poolServer{pool: pool}
}

// Server wraps a grpc.Server bound to one AdminServer implementation.
type Server struct {
	grpcSrv *grpc.Server
}

// NewServer registers srv on a fresh grpc.Server and the package-global
// JSON codec.
func NewServer(srv AdminServer) *Server {
	gs := grpc.NewServer()
	registerAdminServer(gs, srv)
	return &Server{grpcSrv: gs}
}

// Serve listens on addr and blocks serving RPCs until the listener fails
// or GracefulStop is called.
func (s *Server) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("adminserver: listen on %s: %w", addr, err)
	}
	return s.ServeListener(lis)
}

// ServeListener blocks serving RPCs on an already-bound listener, letting
// callers (tests in particular) pick an ephemeral port with net.Listen
// and read back the resulting address before Serve blocks.
func (s *Server) ServeListener(lis net.Listener) error {
	return s.grpcSrv.Serve(lis)
}

// GracefulStop stops the server, letting in-flight RPCs finish.
func (s *Server) GracefulStop() { s.grpcSrv.GracefulStop() }

// CodeFromErrkind maps an errkind.Code to the nearest grpc/codes.Code, for
// callers that want a gRPC status instead of the JSON error-string fields
// above (e.g. a future non-JSON transport, or interceptor-based logging).
func CodeFromErrkind(code errkind.Code) codes.Code {
	switch code {
	case errkind.StorageInvalidPath, errkind.SchemaNameTooLong:
		return codes.InvalidArgument
	case errkind.StoragePathAlreadyExists, errkind.SchemaTypeExists:
		return codes.AlreadyExists
	case errkind.StorageOutOfBoundsPage, errkind.SchemaTypeNotFound:
		return codes.NotFound
	case errkind.StorageNotOpen, errkind.PoolBusy:
		return codes.FailedPrecondition
	case errkind.PoolOutOfMemory:
		return codes.ResourceExhausted
	case errkind.PoolSizeNotMultipleOfPageSize, errkind.PoolNoThreadsForPrefetching:
		return codes.InvalidArgument
	default:
		return codes.Internal
	}
}

// StatusFromErrkind builds a *status.Status carrying the mapped code and
// the original error's message, for transports that prefer gRPC status
// over the JSON error-string convention used by poolServer above.
func StatusFromErrkind(err error) error {
	var e *errkind.Error
	if ek, ok := err.(*errkind.Error); ok {
		e = ek
	}
	if e == nil {
		return status.Error(codes.Internal, err.Error())
	}
	return status.Error(CodeFromErrkind(e.Code), e.Error())
}

// Client is a thin wrapper over a grpc.ClientConn dialed with the JSON
// codec, grounded on the teacher's grpcQuery dial-and-invoke helper.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to an admin server at addr.
func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
	)
	if err != nil {
		return nil, fmt.Errorf("adminserver: dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) GetStatistics(ctx context.Context) (*StatisticsResponse, error) {
	resp := new(StatisticsResponse)
	if err := c.conn.Invoke(ctx, "/storecore.Admin/GetStatistics", &AllocRequest{}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) CheckConsistency(ctx context.Context) (*CheckConsistencyResponse, error) {
	resp := new(CheckConsistencyResponse)
	if err := c.conn.Invoke(ctx, "/storecore.Admin/CheckConsistency", &AllocRequest{}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) Checkpoint(ctx context.Context) (*CheckpointResponse, error) {
	resp := new(CheckpointResponse)
	if err := c.conn.Invoke(ctx, "/storecore.Admin/Checkpoint", &AllocRequest{}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) Alloc(ctx context.Context) (*AllocResponse, error) {
	resp := new(AllocResponse)
	if err := c.conn.Invoke(ctx, "/storecore.Admin/Alloc", &AllocRequest{}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}
