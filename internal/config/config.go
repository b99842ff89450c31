// Package config loads the storage core's YAML configuration (spec.md
// §6): node identity, seed-node list, cluster membership thresholds,
// and storage defaults. Exit-code/CLI surface and the re-exposer's NQN
// config live outside this package's concern.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/aivoyager8/xsan/internal/types"
	"github.com/aivoyager8/xsan/internal/xerrors"
)

// Config is the top-level on-disk configuration document.
type Config struct {
	Node     NodeConfig     `yaml:"node"`
	Cluster  ClusterConfig  `yaml:"cluster"`
	Storage  StorageConfig  `yaml:"storage"`
	Reexpose ReexposeConfig `yaml:"reexpose,omitempty"`
}

// NodeConfig identifies this node and where it listens.
type NodeConfig struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	BindIP  string `yaml:"bind_ip"`
	Port    uint16 `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

// ClusterConfig is the membership and network-timing policy shared by
// every node in the cluster.
type ClusterConfig struct {
	Name              string        `yaml:"name"`
	SeedNodes         string        `yaml:"seed_nodes"` // comma-separated <uuid>@<ip>:<port>
	MinNodes          int           `yaml:"min_nodes"`
	MaxNodes          int           `yaml:"max_nodes"`
	QuorumNodes       int           `yaml:"quorum_nodes"`
	NetworkTimeout    time.Duration `yaml:"network_timeout"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// StorageConfig is the default storage-stack tuning.
type StorageConfig struct {
	DataDir                  string     `yaml:"data_dir"`
	BlockSize                uint32     `yaml:"block_size"`
	CacheSizeBytes           uint64     `yaml:"cache_size_bytes"`
	IOThreads                int        `yaml:"io_threads"`
	DefaultReplicationFactor uint32     `yaml:"default_replication_factor"`
	Disks                    []DiskSpec `yaml:"disks,omitempty"`
}

// DiskSpec bootstraps one file-backed block device at startup. Real
// NVMe/SPDK enumeration is out of scope (spec.md §4.2's reactor-bdev
// model is reinterpreted onto os.File in internal/bdev); this is the
// equivalent of the original's storage_dir scan for a Go file-backed
// substrate.
type DiskSpec struct {
	Name       string `yaml:"name"`
	Path       string `yaml:"path"`
	BlockCount uint64 `yaml:"block_count"`
	BlockSize  uint32 `yaml:"block_size"`
}

// ReexposeConfig carries the optional NVMe-oF re-exposer settings; the
// core only threads them through, it doesn't act on them (spec.md §6).
type ReexposeConfig struct {
	NQN        string `yaml:"nqn,omitempty"`
	ListenPort uint16 `yaml:"listen_port,omitempty"`
}

// Load reads and validates a YAML config file at path.
func Load(path string) (*Config, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, xerrors.Wrap(xerrors.KindFileNotFound, "read config file", err)
		}
		return nil, xerrors.Wrap(xerrors.KindSystem, "read config file", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(blob, &cfg); err != nil {
		return nil, xerrors.Wrap(xerrors.KindInvalidParam, "parse config file", err)
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Node.Port == 0 {
		cfg.Node.Port = 7100
	}
	if cfg.Storage.BlockSize == 0 {
		cfg.Storage.BlockSize = 4096
	}
	if cfg.Storage.IOThreads == 0 {
		cfg.Storage.IOThreads = 1
	}
	if cfg.Storage.DefaultReplicationFactor == 0 {
		cfg.Storage.DefaultReplicationFactor = 1
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = cfg.Node.DataDir
	}
	if cfg.Cluster.NetworkTimeout == 0 {
		cfg.Cluster.NetworkTimeout = 10 * time.Second
	}
	if cfg.Cluster.ReconnectInterval == 0 {
		cfg.Cluster.ReconnectInterval = 5 * time.Second
	}
	if cfg.Cluster.QuorumNodes == 0 && cfg.Cluster.MinNodes > 0 {
		cfg.Cluster.QuorumNodes = cfg.Cluster.MinNodes/2 + 1
	}
}

// Validate checks the loaded document for the preconditions the rest
// of the storage core assumes (valid node id, non-empty data dir,
// power-of-two block size).
func (c *Config) Validate() error {
	if c.Node.ID == "" {
		return xerrors.New(xerrors.KindInvalidParam, "node.id is required")
	}
	if _, err := uuid.Parse(c.Node.ID); err != nil {
		return xerrors.Wrap(xerrors.KindInvalidParam, "node.id must be a UUID", err)
	}
	if c.Node.DataDir == "" {
		return xerrors.New(xerrors.KindInvalidParam, "node.data_dir is required")
	}
	if !types.IsPowerOfTwo(c.Storage.BlockSize) {
		return xerrors.New(xerrors.KindInvalidParam, "storage.block_size must be a power of two")
	}
	if c.Cluster.MaxNodes > 0 && c.Cluster.MinNodes > c.Cluster.MaxNodes {
		return xerrors.New(xerrors.KindInvalidParam, "cluster.min_nodes must be <= cluster.max_nodes")
	}
	return nil
}

// SeedNode is one parsed entry of cluster.seed_nodes.
type SeedNode struct {
	ID uuid.UUID
	IP string
	Port uint16
}

// ParseSeedNodes splits the comma-separated "<uuid>@<ip>:<port>" list
// from ClusterConfig.SeedNodes.
func ParseSeedNodes(raw string) ([]SeedNode, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]SeedNode, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		at := strings.IndexByte(p, '@')
		if at < 0 {
			return nil, xerrors.Newf(xerrors.KindInvalidParam, "seed node %q missing '@'", p)
		}
		idPart, hostPort := p[:at], p[at+1:]
		id, err := uuid.Parse(idPart)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.KindInvalidParam, fmt.Sprintf("seed node %q has invalid uuid", p), err)
		}
		colon := strings.LastIndexByte(hostPort, ':')
		if colon < 0 {
			return nil, xerrors.Newf(xerrors.KindInvalidParam, "seed node %q missing port", p)
		}
		ip, portStr := hostPort[:colon], hostPort[colon+1:]
		port, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.KindInvalidParam, fmt.Sprintf("seed node %q has invalid port", p), err)
		}
		out = append(out, SeedNode{ID: id, IP: ip, Port: uint16(port)})
	}
	return out, nil
}
