// Command server runs the document Q&A pipeline as an HTTP service.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	edudoc "github.com/edudocai/edudoc"
	"github.com/edudocai/edudoc/internal/adapters"
	"github.com/edudocai/edudoc/internal/cache"
	"github.com/edudocai/edudoc/internal/config"
	"github.com/edudocai/edudoc/internal/memory"
	"github.com/edudocai/edudoc/internal/retrieval"
	"github.com/edudocai/edudoc/internal/router"
	"github.com/edudocai/edudoc/internal/tools"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	settings, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	setupLogging(settings.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Shared between the pipeline (reads history) and the HTTP layer
	// (appends after each answer).
	sessions := memory.NewInMemorySessionStore()

	app, pool, err := buildApp(ctx, settings, sessions)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build pipeline")
	}
	defer app.Close()
	defer pool.Close()

	serve(ctx, settings, app, sessions)
}

func setupLogging(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	parsed, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
}

func buildApp(ctx context.Context, settings *config.Settings, sessions *memory.InMemorySessionStore) (*edudoc.EduDoc, *pgxpool.Pool, error) {
	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))

	pool, err := pgxpool.New(ctx, settings.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}

	embedder := googlegenai.GoogleAIEmbedder(g, settings.EmbedderModel)
	store := retrieval.NewStore(pool, embedder, retrieval.WithTable(settings.PassagesTable))

	cfg := edudoc.DefaultConfig()
	cfg.TopK = settings.TopK
	cfg.AggregationTopK = settings.AggregationTopK
	cfg.MaxToolSteps = settings.MaxToolSteps
	cfg.CallTimeout = settings.CallTimeout
	cfg.RetryBackoff = settings.RetryBackoff

	app, err := edudoc.New(ctx, g,
		edudoc.WithConfig(cfg),
		edudoc.WithRouter(router.New(g, router.WithModel(settings.RouterModel))),
		edudoc.WithRetriever(store),
		edudoc.WithSynthesizer(adapters.NewGenkitSynthesizerAdapter(g, adapters.WithSynthesizerModel(settings.SynthesizerModel))),
		edudoc.WithReasoner(adapters.NewGenkitReasonerAdapter(g, adapters.WithReasonerModel(settings.ReasonerModel))),
		edudoc.WithCache(cache.NewFileRouteCache(settings.RouteCacheTTL, settings.RouteCachePath)),
		edudoc.WithSessionStore(sessions),
		edudoc.WithTools(tools.SetupTools(store, settings.TopK, settings.ExportDir)),
	)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return app, pool, nil
}

type queryRequest struct {
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
}

func serve(ctx context.Context, settings *config.Settings, app *edudoc.EduDoc, sessions *memory.InMemorySessionStore) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /query", func(w http.ResponseWriter, r *http.Request) {
		var req queryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		answer, err := app.AnswerQuery(r.Context(), req.SessionID, req.Query)
		if err != nil {
			writeError(w, err)
			return
		}

		if req.SessionID != "" {
			if err := sessions.Append(r.Context(), req.SessionID, edudoc.Exchange{
				Question: req.Query,
				Answer:   answer.Text,
			}); err != nil {
				log.Warn().Err(err).Msg("failed to record exchange")
			}
		}
		writeJSON(w, http.StatusOK, answer)
	})

	mux.HandleFunc("POST /query/async", func(w http.ResponseWriter, r *http.Request) {
		var req queryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		executionID, err := app.AnswerQueryAsync(r.Context(), req.SessionID, req.Query)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"execution_id": executionID})
	})

	mux.HandleFunc("GET /query/async/{id}", func(w http.ResponseWriter, r *http.Request) {
		status, err := app.GetAsyncStatus(r.PathValue("id"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, status)
	})

	mux.HandleFunc("GET /query/async/{id}/result", func(w http.ResponseWriter, r *http.Request) {
		answer, err := app.GetAsyncResult(r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, answer)
	})

	mux.HandleFunc("DELETE /query/async/{id}", func(w http.ResponseWriter, r *http.Request) {
		cancelled, err := app.CancelAsyncProcess(r.PathValue("id"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
	})

	server := &http.Server{
		Addr:              settings.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("server shutdown was not clean")
		}
	}()

	log.Info().Str("addr", settings.ListenAddr).Msg("serving document Q&A")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Warn().Err(err).Msg("failed to write response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var pipelineErr *edudoc.Error
	if errors.As(err, &pipelineErr) {
		switch pipelineErr.Code {
		case edudoc.ErrCodeValidation:
			status = http.StatusBadRequest
		case edudoc.ErrCodeCancelled:
			status = http.StatusRequestTimeout
		case edudoc.ErrCodeTimeout:
			status = http.StatusGatewayTimeout
		}
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
