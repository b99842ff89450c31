// Command xsan-stored is the storage-core daemon: it loads a node's
// configuration, reconciles local block devices and disk groups,
// reconstructs volume metadata, and serves the node-communication
// layer that the replication coordinator uses for cross-node writes
// and reads. The exit-code/CLI surface is deliberately thin (spec.md
// §6 puts the full control-plane CLI out of scope); this binary's
// only job is to bring one storage-core instance up and keep it
// running until it's told to stop.
package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aivoyager8/xsan/internal/bdev"
	"github.com/aivoyager8/xsan/internal/config"
	"github.com/aivoyager8/xsan/internal/diskmgr"
	"github.com/aivoyager8/xsan/internal/log"
	"github.com/aivoyager8/xsan/internal/metastore"
	"github.com/aivoyager8/xsan/internal/metrics"
	"github.com/aivoyager8/xsan/internal/nodecomm"
	"github.com/aivoyager8/xsan/internal/replication"
	"github.com/aivoyager8/xsan/internal/types"
	"github.com/aivoyager8/xsan/internal/volumemgr"
	"github.com/aivoyager8/xsan/internal/wire"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "xsan-stored",
	Short:   "XSAN storage-core daemon",
	Version: Version,
	RunE:    runServe,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("xsan-stored version %s (%s)\n", Version, Commit))
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/etc/xsan/xsan.yaml", "path to the node's YAML configuration")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "output logs in JSON format")
	cobra.OnInitialize(initLogging)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := log.WithComponent("xsan-stored")

	if err := os.MkdirAll(cfg.Node.DataDir, 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	store, err := metastore.Open(filepath.Join(cfg.Node.DataDir, "xsan.db"), true)
	if err != nil {
		return fmt.Errorf("open metadata store: %w", err)
	}
	defer store.Close()

	bdevs := bdev.NewLayer()
	for _, d := range cfg.Storage.Disks {
		blockSize := d.BlockSize
		if blockSize == 0 {
			blockSize = cfg.Storage.BlockSize
		}
		dev, err := bdev.OpenFileDevice(d.Name, d.Path, d.BlockCount, blockSize)
		if err != nil {
			return fmt.Errorf("open disk %q: %w", d.Name, err)
		}
		bdevs.Register(dev)
	}

	disks := diskmgr.New(store, bdevs)
	if err := disks.Load(); err != nil {
		return fmt.Errorf("load disk manager state: %w", err)
	}

	vols := volumemgr.New(store, disks)
	if err := vols.Load(); err != nil {
		return fmt.Errorf("load volume manager state: %w", err)
	}

	nodeID, err := uuid.Parse(cfg.Node.ID)
	if err != nil {
		return fmt.Errorf("node.id: %w", err)
	}
	knownNodes, err := buildKnownNodes(cfg, nodeID)
	if err != nil {
		return fmt.Errorf("build known nodes: %w", err)
	}
	logger.Info().Int("known_nodes", len(knownNodes)).Msg("cluster membership resolved")

	comm := nodecomm.NewLayer()
	bindAddr := net.JoinHostPort(cfg.Node.BindIP, strconv.Itoa(int(cfg.Node.Port)))
	if err := comm.Listen(bindAddr); err != nil {
		return fmt.Errorf("listen on %s: %w", bindAddr, err)
	}
	defer comm.Close()
	comm.SetGenericHandler(heartbeatHandler(nodeID))

	repl := replication.NewCoordinator(comm)
	pool := newConnPool(comm)
	rt := &volumemgr.Runtime{Disks: disks, Bdevs: bdevs, Repl: repl, Send: replicaSendFunc(pool)}
	replicaSrv := newReplicaServer(comm, vols, rt, pool, repl)
	rt.SendRead = replicaSrv.sendRead

	go serveMetrics(net.JoinHostPort(cfg.Node.BindIP, strconv.Itoa(int(cfg.Node.Port)+1)), logger)

	logger.Info().
		Str("node_id", cfg.Node.ID).
		Str("bind_addr", bindAddr).
		Int("disks", len(cfg.Storage.Disks)).
		Msg("xsan-stored started")

	waitForShutdown(logger)
	return nil
}

// replicaSendFunc implements replication.RemoteSendFunc: fire a
// REPLICA_WRITE_BLOCK_REQ at a cached outbound connection, dropping
// and forgetting it on send failure so the next write redials.
func replicaSendFunc(pool *connPool) replication.RemoteSendFunc {
	return func(replica types.ReplicaLocation, msg wire.Message) error {
		conn, err := pool.get(replica)
		if err != nil {
			return err
		}
		if err := conn.Send(msg); err != nil {
			pool.drop(replica)
			return err
		}
		return nil
	}
}

// heartbeatHandler answers HEARTBEAT with HEARTBEAT_ACK, echoing the
// transaction id (spec.md §4.8 registry, payload supplemented in
// SPEC_FULL.md §4). Registered as the generic fallback rather than a
// per-type handler since every other production message type already
// gets a specific registration; this exercises the fallback dispatch
// path itself.
func heartbeatHandler(selfID uuid.UUID) nodecomm.GenericHandler {
	return func(conn *nodecomm.Connection, msg wire.Message) {
		if msg.Header.Type != wire.TypeHeartbeat {
			return
		}
		if _, err := wire.DecodeHeartbeat(msg.Payload); err != nil {
			return
		}
		ack := wire.EncodeHeartbeat(wire.Heartbeat{NodeID: selfID, SentAtNs: time.Now().UnixNano()})
		reply := wire.NewMessage(wire.TypeHeartbeatAck, msg.Header.TransactionID, ack)
		if err := conn.Send(reply); err != nil {
			log.WithComponent("xsan-stored").Warn().Err(err).Msg("failed to send heartbeat ack")
		}
	}
}

func waitForShutdown(logger zerolog.Logger) {
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigc
	logger.Info().Str("signal", sig.String()).Msg("shutting down")
}

func serveMetrics(addr string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		logger.Warn().Err(err).Msg("metrics server stopped")
	}
}

// buildKnownNodes turns the configured seed-node list plus this node's
// own identity into the []types.Node table that volume creation uses
// to build a replica-location row per replica (spec.md §4.4 step 5).
func buildKnownNodes(cfg *config.Config, selfID uuid.UUID) ([]types.Node, error) {
	seeds, err := config.ParseSeedNodes(cfg.Cluster.SeedNodes)
	if err != nil {
		return nil, err
	}
	nodes := make([]types.Node, 0, len(seeds)+1)
	nodes = append(nodes, types.Node{
		ID:          selfID,
		Hostname:    cfg.Node.Name,
		StorageIP:   cfg.Node.BindIP,
		StoragePort: cfg.Node.Port,
		State:       types.NodeStateActive,
	})
	for _, s := range seeds {
		if s.ID == selfID {
			continue
		}
		nodes = append(nodes, types.Node{
			ID:          s.ID,
			StorageIP:   s.IP,
			StoragePort: s.Port,
			State:       types.NodeStateActive,
		})
	}
	return nodes, nil
}
