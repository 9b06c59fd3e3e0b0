// Command worker runs the durable agent task workflow against Temporal,
// serving a readiness probe for orchestration platforms to poll.
//
// # Configuration
//
// Environment variables:
//
//	TEMPORAL_ADDRESS - Temporal frontend address (default: "localhost:7233")
//	TEMPORAL_NAMESPACE - Temporal namespace (default: "default")
//	TASK_QUEUE       - Task queue this worker polls (default: "agent-tasks")
//	READYZ_ADDR      - Readiness probe listen address (default: ":80")
//	REDIS_URL        - Redis address for state storage; falls back to an
//	                   in-memory store when unset (non-durable, single process)
//	REDIS_PASSWORD   - Redis password (optional)
//	NTFY_BASE_URL    - ntfy server base URL for notifications (required)
//	NTFY_TOKEN       - ntfy bearer token (optional)
//	OPENAI_API_KEY   - OpenAI API key for the model client (required)
//	OPENAI_MODEL     - default model for completions (default: "gpt-4o")
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.temporal.io/sdk/client"

	"github.com/agentexrun/orchestrator/action"
	"github.com/agentexrun/orchestrator/activity"
	"github.com/agentexrun/orchestrator/engine/temporal"
	"github.com/agentexrun/orchestrator/kv"
	"github.com/agentexrun/orchestrator/kv/inmem"
	"github.com/agentexrun/orchestrator/kv/rediskv"
	"github.com/agentexrun/orchestrator/llm/openai"
	"github.com/agentexrun/orchestrator/notify"
	"github.com/agentexrun/orchestrator/state"
	"github.com/agentexrun/orchestrator/task"
	"github.com/agentexrun/orchestrator/telemetry"
	"github.com/agentexrun/orchestrator/worker"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	temporalAddress := envOr("TEMPORAL_ADDRESS", "localhost:7233")
	temporalNamespace := envOr("TEMPORAL_NAMESPACE", "default")
	taskQueue := envOr("TASK_QUEUE", "agent-tasks")
	readyzAddr := envOr("READYZ_ADDR", ":80")
	openAIModel := envOr("OPENAI_MODEL", "gpt-4o")

	logger := telemetry.NewClueLogger()
	metrics := telemetry.NewClueMetrics()
	tracer := telemetry.NewClueTracer()

	repo, closeKV, err := newKVRepository(ctx)
	if err != nil {
		return err
	}
	if closeKV != nil {
		defer closeKV()
	}
	stateRepo := state.NewRepository(repo)

	llmClient, err := openai.NewFromAPIKey(os.Getenv("OPENAI_API_KEY"), openAIModel)
	if err != nil {
		return err
	}

	ntfyBaseURL := os.Getenv("NTFY_BASE_URL")
	if ntfyBaseURL == "" {
		return errors.New("NTFY_BASE_URL is required")
	}
	notifier := notify.NewHTTPSender(ntfyBaseURL, os.Getenv("NTFY_TOKEN"), &http.Client{Timeout: 10 * time.Second})
	tasks := task.NewInMemoryStore()

	acts := &activity.Activities{
		Threads:    state.NewThreadsService(stateRepo),
		Context:    state.NewContextService(stateRepo),
		LLM:        llmClient,
		Registries: map[string]*action.Registry{"default": action.NewRegistry()},
		Notifier:   notifier,
		Tasks:      tasks,
	}

	eng, err := temporal.New(temporal.Options{
		ClientOptions: &client.Options{HostPort: temporalAddress, Namespace: temporalNamespace},
		WorkerOptions: temporal.WorkerOptions{TaskQueue: taskQueue},
		Logger:        logger,
		Metrics:       metrics,
		Tracer:        tracer,
	})
	if err != nil {
		return err
	}
	defer eng.Close()

	host := &worker.Host{
		Engine:     eng,
		Acts:       acts,
		TaskQueue:  taskQueue,
		Logger:     logger,
		Tasks:      tasks,
		ReadyzAddr: readyzAddr,
	}

	logger.Info(ctx, "starting worker", "task_queue", taskQueue, "temporal_address", temporalAddress, "readyz_addr", readyzAddr)
	return host.Start(ctx, eng.Worker())
}

func newKVRepository(ctx context.Context) (kv.Repository, func(), error) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		return inmem.New(), nil, nil
	}
	store, err := rediskv.New(ctx, rediskv.Options{
		Addr:     redisURL,
		Password: os.Getenv("REDIS_PASSWORD"),
		Prefix:   "agentexrun:state:",
	})
	if err != nil {
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
