// herdctl runs a fleet supervisor: it loads a fleet config, schedules and
// executes agent jobs, and exposes a minimal HTTP status surface.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/herdctl/herdctl/pkg/config"
	"github.com/herdctl/herdctl/pkg/runtime"
	"github.com/herdctl/herdctl/pkg/supervisor"
	"github.com/herdctl/herdctl/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	os.Exit(run())
}

func run() int {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "."), "Path to fleet configuration directory")
	stateDir := flag.String("state-dir", getEnv("STATE_DIR", "./.herdctl"), "Path to the state directory")
	httpPort := flag.String("http-port", getEnv("HTTP_PORT", "8080"), "Port for the status HTTP surface")
	noEnvFile := flag.Bool("no-env-file", false, "Skip loading a .env file from config-dir")
	flag.Parse()

	if !*noEnvFile {
		envPath := filepath.Join(*configDir, ".env")
		if err := godotenv.Load(envPath); err != nil {
			log.Printf("no .env file loaded from %s: %v", envPath, err)
		} else {
			log.Printf("loaded environment from %s", envPath)
		}
	}

	slog.Info("starting herdctl", "version", version.Full(), "config_dir", *configDir, "state_dir", *stateDir)

	sup := supervisor.New(supervisor.Options{
		ConfigPath: *configDir,
		StateDir:   *stateDir,
		Runtimes: map[config.RuntimeKind]runtime.Runtime{
			// Real SDK/CLI-backed runtimes are external collaborators plugged
			// in by the embedder; herdctl's own binary ships a stub so the
			// supervisor has something to drive out of the box.
			config.RuntimeSDK: &runtime.Stub{},
			config.RuntimeCLI: &runtime.Stub{},
		},
	})

	ctx := context.Background()
	if err := sup.Initialize(ctx); err != nil {
		slog.Error("initialization failed", "error", err)
		return 1
	}
	defer sup.Close()

	if err := sup.Start(ctx); err != nil {
		slog.Error("start failed", "error", err)
		return 1
	}

	srv := newStatusServer(sup, *httpPort)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("status server failed", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("received interrupt, stopping")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	if err := sup.Stop(supervisor.StopOptions{Timeout: 30 * time.Second, CancelOnTimeout: true}); err != nil {
		slog.Error("stop failed", "error", err)
		return 2
	}
	return 0
}

func newStatusServer(sup *supervisor.Supervisor, port string) *http.Server {
	gin.SetMode(getEnv("GIN_MODE", "release"))
	router := gin.Default()

	router.GET("/health", func(c *gin.Context) {
		status := sup.GetFleetStatus()
		code := http.StatusOK
		if status.Status == supervisor.StatusError {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":  status.Status,
			"agents":  status.Agents,
			"error":   status.Error,
			"version": version.Full(),
		})
	})

	router.GET("/agents", func(c *gin.Context) {
		infos := sup.GetAgentInfo()
		out := make([]gin.H, 0, len(infos))
		for _, info := range infos {
			entry := gin.H{
				"name":    info.Agent.QualifiedName,
				"running": info.Status.Running,
				"pending": info.Status.Pending,
				"status":  "idle",
			}
			if info.State != nil {
				entry["status"] = info.State.Status
				entry["current_job"] = info.State.CurrentJob
				entry["last_job_id"] = info.State.LastJobID
				if info.State.ErrorMessage != "" {
					entry["error_message"] = info.State.ErrorMessage
				}
			}
			out = append(out, entry)
		}
		c.JSON(http.StatusOK, gin.H{"agents": out})
	})

	return &http.Server{Addr: ":" + port, Handler: router}
}
