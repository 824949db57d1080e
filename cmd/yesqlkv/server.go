package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/yesqlkv/yesqlkv/pkg/api"
	"github.com/yesqlkv/yesqlkv/pkg/btree"
	"github.com/yesqlkv/yesqlkv/pkg/cache"
	"github.com/yesqlkv/yesqlkv/pkg/config"
	"github.com/yesqlkv/yesqlkv/pkg/coordinator"
	"github.com/yesqlkv/yesqlkv/pkg/disklog"
	"github.com/yesqlkv/yesqlkv/pkg/id"
	"github.com/yesqlkv/yesqlkv/pkg/log"
	"github.com/yesqlkv/yesqlkv/pkg/looim"
	"github.com/yesqlkv/yesqlkv/pkg/metrics"
	"github.com/yesqlkv/yesqlkv/pkg/pti"
	"github.com/yesqlkv/yesqlkv/pkg/rpc"
	"github.com/yesqlkv/yesqlkv/pkg/storage"
	"github.com/yesqlkv/yesqlkv/pkg/value"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run a storage server",
	Long: `Run a storage server: the per-object MVCC logs, the two-phase-commit
coordinator, the durable disk log, the consistent-cache reserve tracker,
and a B-tree split engine over one table, served over the RPC surface of
spec.md 6.`,
	RunE: runServer,
}

func init() {
	serverCmd.Flags().Uint64("table-dbid", 1, "Database id of the table this server hosts a B-tree for")
	serverCmd.Flags().Uint64("table-id", 1, "Table id of the table this server hosts a B-tree for")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}

	tableDbid, _ := cmd.Flags().GetUint64("table-dbid")
	tableID, _ := cmd.Flags().GetUint64("table-id")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("server: creating data dir: %w", err)
	}

	dlog, err := disklog.Open(filepath.Join(cfg.DataDir, "disklog.bin"), filepath.Join(cfg.DataDir, "super.db"))
	if err != nil {
		return fmt.Errorf("server: opening disk log: %w", err)
	}
	defer dlog.Close()

	clock := id.NewClock()
	looims := looim.NewRegistry()
	ptis := pti.NewTable()
	reserveTime := cache.CacheReserveTime
	if cfg.CacheReserveTime > 0 {
		reserveTime = cfg.CacheReserveTime
	}
	reserve := cache.NewReserveTrackerWithReserveTime(reserveTime)
	tids := id.NewTidIssuer()

	coord := coordinator.New(looims, ptis, dlog, reserve, nil)

	tableCid := id.CidForTable(tableDbid, tableID)
	tree := btree.New(tableCid, value.CellTypeInt, nil, tids, clock, coord, looims, ptis, cfg.ServerID)
	coord.SetSplitter(tree.Splitter())
	defer tree.Close()

	srv := storage.NewServer(cfg.ServerID, clock, looims, ptis, dlog, reserve, coord)
	srv.SetSplitController(tree.Splitter())

	if err := srv.Recover(context.Background()); err != nil {
		return fmt.Errorf("server: recovery: %w", err)
	}

	metrics.SetVersion("1.0.0")
	metrics.RegisterComponent("coordinator", true, "ready")
	metrics.RegisterComponent("disklog", true, "ready")
	metrics.RegisterComponent("rpc", false, "starting")

	lis, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("server: listening on %s: %w", cfg.ListenAddr, err)
	}

	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(api.LoggingInterceptor()))
	rpc.RegisterStorageServer(grpcServer, rpc.NewStorageAdapter(srv, tids))

	logger := log.WithComponent("server")
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("rpc listening")
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error().Err(err).Msg("rpc server stopped")
		}
	}()
	metrics.RegisterComponent("rpc", true, "ready")

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")
	grpcServer.GracefulStop()
	metricsSrv.Close()
	dlog.Flush()
	return nil
}
