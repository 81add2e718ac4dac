package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoad_ParsesFullDocument(t *testing.T) {
	path := writeTempConfig(t, `
storage:
  path: /var/lib/storecore/data.bin
  pageSizeKB: 8
pool:
  poolSizeKB: 65536
  prefetchingDegree: 2
  numberOfPartitions: 8
runtime:
  numThreads: 6
admin:
  grpcAddr: 0.0.0.0:9731
checkpoint:
  cronSpec: "0 */5 * * * *"
`)
	rs, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rs.Storage.Path != "/var/lib/storecore/data.bin" || rs.Storage.PageSizeKB != 8 {
		t.Fatalf("storage settings mismatch: %+v", rs.Storage)
	}
	if rs.Pool.PoolSizeKB != 65536 || rs.Pool.PrefetchingDegree != 2 || rs.Pool.NumberOfPartitions != 8 {
		t.Fatalf("pool settings mismatch: %+v", rs.Pool)
	}
	if rs.Runtime.NumThreads != 6 {
		t.Fatalf("runtime settings mismatch: %+v", rs.Runtime)
	}
	if rs.Admin.GRPCAddr != "0.0.0.0:9731" {
		t.Fatalf("admin settings mismatch: %+v", rs.Admin)
	}
	if rs.Checkpoint.CronSpec != "0 */5 * * * *" {
		t.Fatalf("checkpoint settings mismatch: %+v", rs.Checkpoint)
	}
	if err := rs.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoad_MissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDefault_IsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default settings should validate: %v", err)
	}
}

func TestValidate_RejectsMissingStoragePath(t *testing.T) {
	rs := Default()
	rs.Storage.Path = ""
	if err := rs.Validate(); err == nil {
		t.Fatal("expected validation error for empty storage path")
	}
}

func TestValidate_RejectsZeroPartitions(t *testing.T) {
	rs := Default()
	rs.Pool.NumberOfPartitions = 0
	if err := rs.Validate(); err == nil {
		t.Fatal("expected validation error for zero partitions")
	}
}
