package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/medqa-go/internal/chain"
	"github.com/54b3r/medqa-go/internal/logging"
	"github.com/54b3r/medqa-go/internal/server"
)

// NewServeCmd constructs the `medqa serve` command, which starts the HTTP
// API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int
	var topK int
	var sessionTTL time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the medqa HTTP API",
		Long: `Start the HTTP API.

Endpoints:
  POST /api/chat        stream an answer as server-sent events
  POST /api/chat/clear  forget a session's history
  POST /api/search      retrieval only
  GET  /api/health      liveness
  GET  /api/ready       dependency checks
  GET  /metrics         Prometheus metrics

Set MEDQA_API_KEY to require a Bearer token on /api/chat and /api/search.

Examples:
  medqa serve
  medqa serve --host 0.0.0.0 --port 9090`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting",
				slog.String("provider", os.Getenv("MODEL_PROVIDER")),
				slog.String("vector_store", getEnvOrDefault("VECTOR_STORE", backendQdrant)),
			)

			flush := setupTracing(log)
			defer flush()

			chatModel, providerCfg, err := buildChatModel(ctx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			retriever, vs, err := buildRetriever(ctx, log, topK)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer vs.Close()

			c, err := chain.New(ctx, &chain.Config{
				Model:     chatModel,
				Retriever: retriever,
				TopK:      topK,
				Persona:   os.Getenv("CHAIN_PERSONA"),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to build chain: %w", err)
			}

			srv, err := server.New(c, retriever, &server.Config{
				Host:             host,
				Port:             port,
				Logger:           log,
				Pingers:          buildPingers(vs, providerCfg),
				APIKey:           os.Getenv("MEDQA_API_KEY"),
				SessionTTL:       sessionTTL,
				HistoryMaxTokens: getEnvInt("HISTORY_MAX_TOKENS", chain.DefaultHistoryMaxTokens),
				SearchTopK:       getEnvInt("RAG_TOP_K", 5),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")
	cmd.Flags().IntVarP(&topK, "top-k", "k", chain.DefaultTopK, "Number of passages given to the model per question")
	cmd.Flags().DurationVar(&sessionTTL, "session-ttl", 30*time.Minute, "Idle time after which a chat session is forgotten")

	return cmd
}
