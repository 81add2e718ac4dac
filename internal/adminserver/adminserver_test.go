package adminserver

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/vantadb/storecore/internal/bufferpool"
	"github.com/vantadb/storecore/internal/pagefile"
)

func newTestPool(t *testing.T) *bufferpool.Pool {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.bin")
	pool, err := bufferpool.Create(
		bufferpool.Config{PoolSizeKB: 64, NumberOfPartitions: 1},
		path,
		pagefile.FileStorageConfig{PageSizeKB: 4},
		false,
		nil,
	)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

func startTestServer(t *testing.T, srv AdminServer) (addr string, stop func()) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	gs := NewServer(srv)
	go func() {
		_ = gs.ServeListener(lis)
	}()
	return lis.Addr().String(), gs.GracefulStop
}

func TestAdminServer_FullRoundTrip(t *testing.T) {
	pool := newTestPool(t)
	addr, stop := startTestServer(t, NewPoolServer(pool))
	defer stop()

	client, err := Dial(addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	allocResp, err := client.Alloc(ctx)
	if err != nil {
		t.Fatalf("alloc rpc: %v", err)
	}
	if allocResp.Error != "" {
		t.Fatalf("alloc error: %s", allocResp.Error)
	}

	statsResp, err := client.GetStatistics(ctx)
	if err != nil {
		t.Fatalf("getStatistics rpc: %v", err)
	}
	if statsResp.PageSize != 4096 {
		t.Fatalf("pageSize = %d, want 4096", statsResp.PageSize)
	}
	if statsResp.AllocatedPages == 0 {
		t.Fatalf("expected at least one allocated page after Alloc")
	}

	consistResp, err := client.CheckConsistency(ctx)
	if err != nil {
		t.Fatalf("checkConsistency rpc: %v", err)
	}
	if !consistResp.Ok {
		t.Fatalf("expected consistent pool, got error: %s", consistResp.Error)
	}

	cpResp, err := client.Checkpoint(ctx)
	if err != nil {
		t.Fatalf("checkpoint rpc: %v", err)
	}
	if !cpResp.Ok {
		t.Fatalf("checkpoint failed: %s", cpResp.Error)
	}
}
