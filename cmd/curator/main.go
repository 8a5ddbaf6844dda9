// Command curator runs a single node of the distributed artifact registry:
// the raft-replicated journal, the local store, and the leader-forwarding
// RPC. `serve` runs a node and `reset-ids` asks a running node to reset
// its Id Allocator counters. There is no separate
// worker/scheduler/reconciler process, since every node runs the same
// Sink/Facade/Journal stack.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/curator/pkg/core"
	"github.com/cuemby/curator/pkg/facade"
	"github.com/cuemby/curator/pkg/health"
	"github.com/cuemby/curator/pkg/log"
	"github.com/cuemby/curator/pkg/metrics"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "curator",
	Short:   "Curator - a replicated schema and artifact registry",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("curator version %s\ncommit: %s\nbuilt: %s\n", Version, Commit, BuildTime))
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(resetIDsCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a Curator node",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("config", "", "path to a YAML server config file")
	serveCmd.Flags().String("node-id", "", "unique raft node id")
	serveCmd.Flags().String("bind-addr", "127.0.0.1:9300", "raft transport bind address")
	serveCmd.Flags().String("grpc-addr", "127.0.0.1:9301", "leader-forwarding gRPC bind address")
	serveCmd.Flags().String("http-addr", "127.0.0.1:9302", "health/metrics HTTP bind address")
	serveCmd.Flags().String("data-dir", "./data", "directory for the journal and local store")
	serveCmd.Flags().String("join", "", "gRPC address of an existing leader to join instead of bootstrapping a new cluster")
	serveCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	serveCmd.Flags().Bool("log-json", false, "emit logs as JSON")
}

// resetIDsCmd drives a running node's Id Allocator counters through its
// admin HTTP endpoint rather than opening the data directory directly: a
// reset is a journal operation like any other write, and only a running
// node can submit one.
var resetIDsCmd = &cobra.Command{
	Use:   "reset-ids",
	Short: "Reset a running node's Id Allocator counters after a bulk import",
	RunE:  runResetIDs,
}

func init() {
	resetIDsCmd.Flags().String("http-addr", "127.0.0.1:9302", "target node's health/metrics HTTP address")
	resetIDsCmd.Flags().String("counter", "", "counter to reset: global, content, or comment (all three if omitted)")
}

func runResetIDs(cmd *cobra.Command, args []string) error {
	httpAddr, _ := cmd.Flags().GetString("http-addr")
	counter, _ := cmd.Flags().GetString("counter")

	url := fmt.Sprintf("http://%s/admin/reset-ids", httpAddr)
	if counter != "" {
		url += "?counter=" + counter
	}
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		return fmt.Errorf("reset-ids request to %s: %w", httpAddr, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("reset-ids failed: %s: %s", resp.Status, body)
	}
	fmt.Println("id allocator counters reset")
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	fileCfg, err := loadServerConfig(configPath)
	if err != nil {
		return err
	}

	nodeID := flagOrConfig(cmd, "node-id", fileCfg.NodeID)
	bindAddr := flagOrConfig(cmd, "bind-addr", fileCfg.BindAddr)
	grpcAddr := flagOrConfig(cmd, "grpc-addr", fileCfg.GRPCAddr)
	httpAddr := flagOrConfig(cmd, "http-addr", fileCfg.HTTPAddr)
	dataDir := flagOrConfig(cmd, "data-dir", fileCfg.DataDir)
	join := flagOrConfig(cmd, "join", fileCfg.Join)
	logLevel := flagOrConfig(cmd, "log-level", fileCfg.LogLevel)
	logJSON, _ := cmd.Flags().GetBool("log-json")
	if fileCfg.LogJSON {
		logJSON = true
	}

	initLogging(logLevel, logJSON)

	if nodeID == "" {
		return fmt.Errorf("--node-id is required")
	}

	c, err := core.New(&core.Config{
		NodeID:          nodeID,
		BindAddr:        bindAddr,
		GRPCAddr:        grpcAddr,
		DataDir:         dataDir,
		CoordinatorWait: fileCfg.coordinatorWait(),
		ApplyTimeout:    fileCfg.applyTimeout(),
	})
	if err != nil {
		return fmt.Errorf("construct node: %w", err)
	}

	go func() {
		if err := c.ServeForward(); err != nil {
			log.Errorf("forwarding rpc stopped: %v", err)
		}
	}()

	if join != "" {
		log.WithComponent("cmd").Info().Str("join", join).Msg("joining existing cluster")
		if err := c.Join(); err != nil {
			return fmt.Errorf("join cluster: %w", err)
		}
	} else {
		log.WithComponent("cmd").Info().Msg("bootstrapping new cluster")
		if err := c.Bootstrap(); err != nil {
			return fmt.Errorf("bootstrap cluster: %w", err)
		}
	}

	httpServer := &http.Server{Addr: httpAddr, Handler: buildMux(c)}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("health/metrics server stopped: %v", err)
		}
	}()
	log.WithComponent("cmd").Info().Str("addr", httpAddr).Msg("health/metrics endpoint listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.WithComponent("cmd").Info().Msg("shutting down")
	_ = httpServer.Shutdown(context.Background())
	return c.Shutdown()
}

func buildMux(c *core.Core) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health/ready", health.ReadyHandler(c.Health))
	mux.Handle("/health/live", health.LiveHandler(c.Health))
	mux.HandleFunc("/debug/raft", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(c.Stats())
	})
	mux.HandleFunc("/admin/reset-ids", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := resetIDCounters(r.Context(), c.Facade, r.URL.Query().Get("counter")); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func resetIDCounters(ctx context.Context, f *facade.Facade, counter string) error {
	switch counter {
	case "global":
		return f.ResetGlobalID(ctx)
	case "content":
		return f.ResetContentID(ctx)
	case "comment":
		return f.ResetCommentID(ctx)
	case "":
		if err := f.ResetGlobalID(ctx); err != nil {
			return err
		}
		if err := f.ResetContentID(ctx); err != nil {
			return err
		}
		return f.ResetCommentID(ctx)
	default:
		return fmt.Errorf("unknown counter %q", counter)
	}
}

// flagOrConfig prefers an explicitly-passed flag, then the config file
// value, then the flag's own default.
func flagOrConfig(cmd *cobra.Command, flag, configVal string) string {
	v, _ := cmd.Flags().GetString(flag)
	if v == "" {
		return configVal
	}
	if cmd.Flags().Changed(flag) || configVal == "" {
		return v
	}
	return configVal
}
