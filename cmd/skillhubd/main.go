// Command skillhubd runs the skill execution platform's HTTP surface: skill
// registration, synchronous/asynchronous invocation, and DAG workflow
// orchestration, backed by a pluggable artifact store and execution store.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wishub/skillhub/artifact"
	"github.com/wishub/skillhub/artifact/cos"
	"github.com/wishub/skillhub/artifact/inmemory"
	"github.com/wishub/skillhub/artifact/s3"
	"github.com/wishub/skillhub/execstore"
	execsqlite "github.com/wishub/skillhub/execstore/sqlite"
	execmem "github.com/wishub/skillhub/execstore/inmemory"
	"github.com/wishub/skillhub/httpapi"
	"github.com/wishub/skillhub/invocation"
	"github.com/wishub/skillhub/log"
	"github.com/wishub/skillhub/sandbox"
	"github.com/wishub/skillhub/skill"
	"github.com/wishub/skillhub/workflow"
)

var daemonLog = log.Named("skillhubd")

var (
	servePort         int
	serveLogLevel     string
	serveArtifact     string
	serveExecStore    string
	serveSQLitePath   string
	serveS3Bucket     string
	serveS3Region     string
	serveCOSBucketURL string
	servePoolSize     int
	serveRedisAddr    string
)

var rootCmd = &cobra.Command{
	Use:   "skillhubd",
	Short: "Sandboxed skill execution and workflow orchestration daemon",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "HTTP listen port")
	serveCmd.Flags().StringVar(&serveLogLevel, "log-level", log.LevelInfo, "debug|info|warn|error|fatal")
	serveCmd.Flags().StringVar(&serveArtifact, "artifact-store", "inmemory", "inmemory|s3|cos")
	serveCmd.Flags().StringVar(&serveExecStore, "exec-store", "inmemory", "inmemory|sqlite")
	serveCmd.Flags().StringVar(&serveSQLitePath, "sqlite-path", "skillhub.db", "path to the sqlite exec-store database")
	serveCmd.Flags().StringVar(&serveS3Bucket, "s3-bucket", "", "S3 bucket for the s3 artifact store")
	serveCmd.Flags().StringVar(&serveS3Region, "s3-region", "us-east-1", "S3 region for the s3 artifact store")
	serveCmd.Flags().StringVar(&serveCOSBucketURL, "cos-bucket-url", "", "Tencent COS bucket URL for the cos artifact store")
	serveCmd.Flags().IntVar(&servePoolSize, "sandbox-pool-size", 8, "max concurrent sandbox containers")
	serveCmd.Flags().StringVar(&serveRedisAddr, "redis-addr", "", "optional redis address for a shared image-pull cache")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		daemonLog.Fatalf("%v", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	log.SetLevel(serveLogLevel)

	store, err := buildArtifactStore(ctx)
	if err != nil {
		return fmt.Errorf("building artifact store: %w", err)
	}

	execs, err := buildExecStore()
	if err != nil {
		return fmt.Errorf("building exec store: %w", err)
	}

	runner, err := buildSandboxRunner()
	if err != nil {
		return fmt.Errorf("building sandbox runner: %w", err)
	}
	defer runner.Release()

	catalog := skill.NewInMemoryCatalog()
	registrar := skill.NewRegistrar(catalog, store)
	invoker := invocation.New(catalog, store, runner, execs)
	orchestrator := workflow.New(catalog, store, runner, execs)
	server := httpapi.New(invoker, orchestrator, catalog, registrar)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", servePort),
		Handler: server.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.With(daemonLog, "addr", httpServer.Addr).Info("listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		daemonLog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}

func buildArtifactStore(ctx context.Context) (artifact.Store, error) {
	switch serveArtifact {
	case "inmemory", "":
		return inmemory.New(), nil
	case "s3":
		if serveS3Bucket == "" {
			return nil, fmt.Errorf("--s3-bucket is required for the s3 artifact store")
		}
		return s3.New(ctx, s3.Config{Bucket: serveS3Bucket, Region: serveS3Region})
	case "cos":
		if serveCOSBucketURL == "" {
			return nil, fmt.Errorf("--cos-bucket-url is required for the cos artifact store")
		}
		return cos.New(serveCOSBucketURL)
	default:
		return nil, fmt.Errorf("unknown artifact store %q", serveArtifact)
	}
}

func buildExecStore() (execstore.Store, error) {
	switch serveExecStore {
	case "inmemory", "":
		return execmem.New(), nil
	case "sqlite":
		return execsqlite.New(execsqlite.Config{Path: serveSQLitePath, WAL: true})
	default:
		return nil, fmt.Errorf("unknown exec store %q", serveExecStore)
	}
}

func buildSandboxRunner() (*sandbox.BoundedRunner, error) {
	opts := []sandbox.DockerRunnerOption{}
	if serveRedisAddr != "" {
		opts = append(opts, sandbox.WithRedisImageCache(serveRedisAddr))
	}
	docker, err := sandbox.NewDockerRunner(opts...)
	if err != nil {
		return nil, err
	}
	return sandbox.NewBoundedRunner(docker, servePoolSize)
}
