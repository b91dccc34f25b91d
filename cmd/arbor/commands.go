package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/arbor-hq/arbor/internal/approval"
	"github.com/arbor-hq/arbor/internal/assistant"
	"github.com/arbor-hq/arbor/internal/assistant/providers"
	"github.com/arbor-hq/arbor/internal/assistant/tools"
	"github.com/arbor-hq/arbor/internal/config"
	"github.com/arbor-hq/arbor/internal/metrics"
	"github.com/arbor-hq/arbor/internal/store"
	"github.com/arbor-hq/arbor/pkg/models"
)

// loadConfig resolves the config file from the flag, ARBOR_CONFIG, or
// the default path. A missing default file falls back to built-in
// defaults so `arbor chat` works out of the box.
func loadConfig(path string) (*config.Config, error) {
	explicit := path != ""
	if path == "" {
		path = os.Getenv("ARBOR_CONFIG")
	}
	if path == "" {
		path = "arbor.yaml"
	}

	cfg, err := config.Load(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return config.Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

func buildProvider(cfg *config.Config) (assistant.LLMProvider, error) {
	name := cfg.LLM.DefaultProvider
	pc := cfg.LLM.Providers[name]

	switch name {
	case "anthropic":
		if pc.APIKey == "" {
			pc.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       pc.APIKey,
			BaseURL:      pc.BaseURL,
			MaxRetries:   pc.MaxRetries,
			RetryDelay:   pc.RetryDelay,
			DefaultModel: pc.DefaultModel,
		})
	case "openai":
		if pc.APIKey == "" {
			pc.APIKey = os.Getenv("OPENAI_API_KEY")
		}
		return providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:       pc.APIKey,
			BaseURL:      pc.BaseURL,
			MaxRetries:   pc.MaxRetries,
			RetryDelay:   pc.RetryDelay,
			DefaultModel: pc.DefaultModel,
		})
	default:
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
}

func newAssistantService(cfg *config.Config, provider assistant.LLMProvider, st store.Store, m *metrics.Metrics) *assistant.Service {
	serviceConfig := &assistant.ServiceConfig{
		MaxIterations: cfg.Assistant.MaxIterations,
		MaxTokens:     cfg.Assistant.MaxTokens,
		Model:         cfg.Assistant.Model,
		SystemPrompt:  cfg.Assistant.SystemPrompt,
	}
	newRegistry := func() *assistant.Registry {
		return tools.NewDefaultRegistry(tools.Strategy(cfg.Assistant.ToolStrategy))
	}
	return assistant.NewService(provider, st, newRegistry, serviceConfig,
		assistant.WithLogger(slog.Default()),
		assistant.WithMetrics(m),
	)
}

func buildChatCmd() *cobra.Command {
	var (
		configPath     string
		conversationID string
		orgID          string
		userID         string
		asJSON         bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat session with the workspace assistant",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			provider, err := buildProvider(cfg)
			if err != nil {
				return err
			}

			st, err := store.NewSQLiteStore(cfg.Database.Path)
			if err != nil {
				return err
			}
			defer st.Close()

			m := metrics.New(prometheus.NewRegistry())
			svc := newAssistantService(cfg, provider, st, m)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			conv, err := resolveConversation(ctx, st, conversationID, orgID, userID)
			if err != nil {
				return err
			}

			approvals := approval.NewService(st,
				approval.WithLogger(slog.Default()),
				approval.WithExecutedHook(svc.OnActionExecuted),
			)

			fmt.Fprintf(cmd.OutOrStdout(), "conversation %s (type /quit to exit, /approve <id>, /reject <id>, /pending)\n", conv.ID)

			scanner := bufio.NewScanner(os.Stdin)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

			for {
				fmt.Fprint(cmd.OutOrStdout(), "> ")
				if !scanner.Scan() {
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				if line == "/quit" || line == "/exit" {
					return nil
				}
				if handled, err := handleSlashCommand(ctx, cmd, approvals, conv.ID, line); handled {
					if err != nil {
						fmt.Fprintf(cmd.OutOrStdout(), "error: %v\n", err)
					}
					continue
				}

				events, err := svc.Chat(ctx, conv, line)
				if err != nil {
					return err
				}
				renderEvents(cmd, events, asJSON)
			}
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.Flags().StringVar(&conversationID, "conversation", "", "Resume an existing conversation")
	cmd.Flags().StringVar(&orgID, "org", "default", "Organization id")
	cmd.Flags().StringVar(&userID, "user", "cli", "User id")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit events as NDJSON instead of rendered text")

	return cmd
}

func resolveConversation(ctx context.Context, st store.Store, id, orgID, userID string) (*models.Conversation, error) {
	if id != "" {
		return st.GetConversation(ctx, id)
	}
	conv := &models.Conversation{
		ID:        uuid.NewString(),
		OrgID:     orgID,
		UserID:    userID,
		Title:     "cli session " + time.Now().Format(time.DateOnly),
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := st.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

func handleSlashCommand(ctx context.Context, cmd *cobra.Command, approvals *approval.Service, conversationID, line string) (bool, error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/pending":
		actions, err := approvals.ListPending(ctx, conversationID)
		if err != nil {
			return true, err
		}
		if len(actions) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no pending actions")
			return true, nil
		}
		for _, a := range actions {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s  expires %s\n", a.ID, a.ToolName, a.Description, a.ExpiresAt.Format(time.RFC3339))
		}
		return true, nil
	case "/approve":
		if len(fields) != 2 {
			return true, errors.New("usage: /approve <action-id>")
		}
		action, err := approvals.Approve(ctx, fields[1], "cli")
		if err != nil {
			return true, err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "executed: %s\n", action.Result)
		return true, nil
	case "/reject":
		if len(fields) != 2 {
			return true, errors.New("usage: /reject <action-id>")
		}
		if _, err := approvals.Reject(ctx, fields[1], "cli"); err != nil {
			return true, err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "rejected")
		return true, nil
	}
	return false, nil
}

// renderEvents drains one turn's event stream. In JSON mode every event
// is framed one per line; otherwise events render as readable text.
func renderEvents(cmd *cobra.Command, events <-chan models.AssistantEvent, asJSON bool) {
	out := cmd.OutOrStdout()
	enc := json.NewEncoder(out)

	for event := range events {
		if asJSON {
			_ = enc.Encode(event)
			continue
		}

		switch event.Type {
		case models.EventThinking:
			// Thinking traces stay off the rendered transcript.
		case models.EventTextDelta:
			fmt.Fprint(out, event.Content)
		case models.EventText:
			fmt.Fprint(out, event.Content)
		case models.EventToolCall:
			fmt.Fprintf(out, "\n[tool] %s %s\n", event.ToolCall.Tool, compactJSON(event.ToolCall.Input))
		case models.EventToolResult:
			if event.ToolResult.IsError {
				fmt.Fprintf(out, "[tool error] %s\n", event.ToolResult.Content)
			}
		case models.EventActionPreview:
			renderPreview(out, event.ActionPreview)
		case models.EventError:
			fmt.Fprintf(out, "\n[error] %s\n", event.Error.Message)
		case models.EventDone:
			fmt.Fprintln(out)
		}
	}
}

func renderPreview(out io.Writer, p *models.ActionPreviewPayload) {
	fmt.Fprintf(out, "\n--- pending action %s ---\n", p.ActionID)
	fmt.Fprintf(out, "%s (%s)\n", p.Description, p.ToolName)
	for _, entry := range p.Diff {
		switch entry.ChangeType {
		case models.ChangeAdded:
			fmt.Fprintf(out, "  + %s: %v\n", entry.Field, entry.NewValue)
		case models.ChangeRemoved:
			fmt.Fprintf(out, "  - %s: %v\n", entry.Field, entry.OldValue)
		default:
			fmt.Fprintf(out, "  ~ %s: %v -> %v\n", entry.Field, entry.OldValue, entry.NewValue)
		}
	}
	fmt.Fprintf(out, "expires %s; /approve %s or /reject %s\n", p.ExpiresAt.Format(time.RFC3339), p.ActionID, p.ActionID)
}

func compactJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func buildPendingCmd() *cobra.Command {
	var (
		configPath     string
		conversationID string
	)

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List pending actions for a conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			if conversationID == "" {
				return errors.New("--conversation is required")
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			st, err := store.NewSQLiteStore(cfg.Database.Path)
			if err != nil {
				return err
			}
			defer st.Close()

			approvals := approval.NewService(st, approval.WithLogger(slog.Default()))
			actions, err := approvals.ListPending(cmd.Context(), conversationID)
			if err != nil {
				return err
			}
			if len(actions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no pending actions")
				return nil
			}
			for _, a := range actions {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s  expires %s\n", a.ID, a.ToolName, a.Description, a.ExpiresAt.Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.Flags().StringVar(&conversationID, "conversation", "", "Conversation id")

	return cmd
}

func buildApproveCmd() *cobra.Command {
	var (
		configPath string
		decidedBy  string
	)

	cmd := &cobra.Command{
		Use:   "approve <action-id>",
		Short: "Approve and execute a pending action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			st, err := store.NewSQLiteStore(cfg.Database.Path)
			if err != nil {
				return err
			}
			defer st.Close()

			approvals := approval.NewService(st, approval.WithLogger(slog.Default()))
			action, err := approvals.Approve(cmd.Context(), args[0], decidedBy)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "executed: %s\n", action.Result)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.Flags().StringVar(&decidedBy, "by", "cli", "Identity recorded as the decider")

	return cmd
}

func buildRejectCmd() *cobra.Command {
	var (
		configPath string
		decidedBy  string
	)

	cmd := &cobra.Command{
		Use:   "reject <action-id>",
		Short: "Reject a pending action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			st, err := store.NewSQLiteStore(cfg.Database.Path)
			if err != nil {
				return err
			}
			defer st.Close()

			approvals := approval.NewService(st, approval.WithLogger(slog.Default()))
			if _, err := approvals.Reject(cmd.Context(), args[0], decidedBy); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "rejected")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.Flags().StringVar(&decidedBy, "by", "cli", "Identity recorded as the decider")

	return cmd
}

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve Prometheus metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			registry := prometheus.NewRegistry()
			metrics.New(registry)

			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

			addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort)
			server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() { errCh <- server.ListenAndServe() }()

			slog.Info("metrics server listening", "addr", addr)

			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			case err := <-errCh:
				return err
			}
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	return cmd
}
