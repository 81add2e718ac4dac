// Package config loads RunSettings, the process-wide configuration for a
// storecore engine, from a YAML file. Structure and unmarshalling style is
// grounded on the teacher's internal/testhelper yaml fixture parsing
// (struct tags + yaml.Unmarshal), generalized from a test fixture format to
// a runtime config format.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// StorageSettings configures the on-disk page file.
type StorageSettings struct {
	Path       string `yaml:"path"`
	PageSizeKB uint32 `yaml:"pageSizeKB"`
}

// PoolSettings configures the buffer pool.
type PoolSettings struct {
	PoolSizeKB         uint32 `yaml:"poolSizeKB"`
	PrefetchingDegree  int    `yaml:"prefetchingDegree"`
	NumberOfPartitions int    `yaml:"numberOfPartitions"`
}

// RuntimeSettings configures the cooperative task runtime.
type RuntimeSettings struct {
	NumThreads int `yaml:"numThreads"`
}

// AdminSettings configures the gRPC admin surface.
type AdminSettings struct {
	GRPCAddr string `yaml:"grpcAddr"`
}

// CheckpointSettings configures the periodic checkpoint scheduler.
type CheckpointSettings struct {
	CronSpec string `yaml:"cronSpec"`
}

// RunSettings is the full config.yaml shape for a storecore process.
type RunSettings struct {
	Storage    StorageSettings    `yaml:"storage"`
	Pool       PoolSettings       `yaml:"pool"`
	Runtime    RuntimeSettings    `yaml:"runtime"`
	Admin      AdminSettings      `yaml:"admin"`
	Checkpoint CheckpointSettings `yaml:"checkpoint"`
}

// Default returns settings suitable for local development: a modest pool,
// four partitions, a small thread pool, and a once-a-minute checkpoint.
func Default() RunSettings {
	return RunSettings{
		Storage: StorageSettings{Path: "storecore.db", PageSizeKB: 8},
		Pool: PoolSettings{
			PoolSizeKB:         16 * 1024,
			PrefetchingDegree:  4,
			NumberOfPartitions: 4,
		},
		Runtime:    RuntimeSettings{NumThreads: 4},
		Admin:      AdminSettings{GRPCAddr: "127.0.0.1:9731"},
		Checkpoint: CheckpointSettings{CronSpec: "0 * * * * *"},
	}
}

// Load reads and parses a RunSettings document from path.
func Load(path string) (RunSettings, error) {
	var rs RunSettings
	b, err := os.ReadFile(path)
	if err != nil {
		return rs, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &rs); err != nil {
		return rs, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return rs, nil
}

// Validate checks that every required field is present and self-consistent,
// returning a descriptive error naming the first offending field.
func (rs RunSettings) Validate() error {
	if rs.Storage.Path == "" {
		return fmt.Errorf("config: storage.path is required")
	}
	if rs.Storage.PageSizeKB == 0 {
		return fmt.Errorf("config: storage.pageSizeKB must be nonzero")
	}
	if rs.Pool.PoolSizeKB == 0 {
		return fmt.Errorf("config: pool.poolSizeKB must be nonzero")
	}
	if rs.Pool.NumberOfPartitions <= 0 {
		return fmt.Errorf("config: pool.numberOfPartitions must be positive")
	}
	if rs.Runtime.NumThreads <= 0 {
		return fmt.Errorf("config: runtime.numThreads must be positive")
	}
	if rs.Checkpoint.CronSpec == "" {
		return fmt.Errorf("config: checkpoint.cronSpec is required")
	}
	return nil
}
