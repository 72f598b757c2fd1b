package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ikamba/ikamba-agent/pkg/agent"
	"github.com/ikamba/ikamba-agent/pkg/channels"
	"github.com/ikamba/ikamba-agent/pkg/config"
	"github.com/ikamba/ikamba-agent/pkg/failover"
	"github.com/ikamba/ikamba-agent/pkg/gateway"
	"github.com/ikamba/ikamba-agent/pkg/logger"
	"github.com/ikamba/ikamba-agent/pkg/providers"
	"github.com/ikamba/ikamba-agent/pkg/remit"
	"github.com/ikamba/ikamba-agent/pkg/store"
	"github.com/ikamba/ikamba-agent/pkg/tools"
	"github.com/ikamba/ikamba-agent/pkg/usage"
	"github.com/ikamba/ikamba-agent/pkg/verify"
)

var (
	version    = "0.1.0"
	configPath string
)

func main() {
	root := &cobra.Command{
		Use:   "ikamba-agent",
		Short: "Ikamba conversational remittance assistant",
		Long:  "Conversational front-end for Ikamba money transfers: WhatsApp, Telegram, and web chat over one agent loop.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.ikamba/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(usageCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".ikamba", "config.json")
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath()
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("config already exists at %s", path)
			}
			if err := config.SaveConfig(path, config.DefaultConfig()); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

func usageCmd() *cobra.Command {
	var dayKey, providerName string
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show token usage from the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(resolveConfigPath())
			if err != nil {
				return err
			}
			store := usage.NewStore(cfg.UsageFilePath())
			records := store.Query(usage.Filter{DayKey: dayKey, Provider: providerName})
			if len(records) == 0 {
				fmt.Println("no usage recorded")
				return nil
			}

			agg := usage.AggregateRecords(records)
			fmt.Printf("calls: %d (known usage: %d, unknown: %d)\n", agg.Calls, agg.KnownCalls, agg.UnknownCalls)
			fmt.Printf("prompt tokens:     %s\n", usage.GroupedInt(agg.PromptTokens))
			fmt.Printf("completion tokens: %s\n", usage.GroupedInt(agg.CompletionTokens))
			fmt.Printf("total tokens:      %s (%s)\n", usage.GroupedInt(agg.TotalTokens), usage.HumanTokens(agg.TotalTokens))

			fmt.Println("\nby provider:")
			for name, p := range usage.ProviderBreakdown(records) {
				fmt.Printf("  %-12s %4d calls, %s tokens\n", name, p.Calls, usage.HumanTokens(p.TotalTokens))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dayKey, "day", "", "filter by UTC day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&providerName, "provider", "", "filter by provider")
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the agent gateway and channels",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	if cfg.Logging.FileEnabled {
		if err := logger.EnableFileLogging(cfg.LogFilePath(), cfg.Logging.MaxSizeMB); err != nil {
			logger.WarnCF("main", "File logging unavailable", map[string]interface{}{
				"path":  cfg.LogFilePath(),
				"error": err.Error(),
			})
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Stores.Postgres.DSN == "" {
		return fmt.Errorf("stores.postgres.dsn is required")
	}
	pg, err := store.NewPostgres(ctx, cfg.Stores.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pg.Close()

	redisStore := store.NewRedis(cfg.Stores.Redis.Addr, cfg.Stores.Redis.Password, cfg.Stores.Redis.DB)
	defer redisStore.Close()
	if err := redisStore.Ping(ctx); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}

	proofs := store.NewProofStore(cfg.ProofsDir())

	rates := remit.NewHTTPRateSource(cfg.Remit.RatesURL, time.Duration(cfg.Remit.RatesCacheSeconds)*time.Second)
	emails := remit.NewHTTPEmailSender(cfg.Remit.EmailURL, cfg.Remit.EmailAPIKey, cfg.Remit.AdminEmail)
	calc := remit.NewCalculator(cfg.Remit.DefaultMargin, cfg.Remit.ReverseCorridors)

	verifier := verify.NewVerifier(redisStore, pg, redisStore, emails,
		time.Duration(cfg.Verify.CodeTTLSeconds)*time.Second)

	registry := tools.NewToolRegistry()
	registry.Register(tools.NewCreateOrderTool(calc, rates, pg, pg, pg, pg, pg, emails, cfg.Remit.AdminEmail))
	registry.Register(tools.NewUploadProofTool(pg, proofs))
	registry.Register(tools.NewRequestVerificationTool(verifier))
	registry.Register(tools.NewVerifyCodeTool(verifier, pg))
	registry.Register(tools.NewUpdateProfileTool(pg))
	registry.Register(tools.NewDeliveryMethodsTool())
	registry.Register(tools.NewTransactionStatusTool(pg))
	registry.Register(tools.NewTransactionsByStatusTool(pg))

	provider, err := buildProvider(cfg)
	if err != nil {
		return fmt.Errorf("create provider: %w", err)
	}

	assembler := agent.NewAssembler(calc, rates, pg, pg, pg, pg, redisStore)
	prompts := agent.NewPromptBuilder(registry)
	loop := agent.NewLoop(provider, registry, assembler, prompts, redisStore, cfg.Agent)
	if cfg.Agent.UsageFile != "" {
		loop.SetUsageSink(usage.NewStore(cfg.UsageFilePath()))
	}

	gw := gateway.NewServer(cfg.Gateway, loop)
	gw.AddHealthCheck("postgres", pg.Healthy)
	gw.AddHealthCheck("redis", func(ctx context.Context) bool {
		return redisStore.Ping(ctx) == nil
	})

	if cfg.Channels.WhatsApp.Enabled {
		gw.MountWhatsApp(channels.NewWhatsAppChannel(cfg.Channels.WhatsApp, loop))
		logger.InfoC("main", "WhatsApp webhook mounted")
	}

	if cfg.Channels.Telegram.Enabled {
		tg, err := channels.NewTelegramChannel(cfg.Channels.Telegram, loop)
		if err != nil {
			return fmt.Errorf("create telegram channel: %w", err)
		}
		go func() {
			if err := tg.Start(ctx); err != nil {
				logger.ErrorCF("main", "Telegram channel stopped", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}()
	}

	logger.InfoCF("main", "Ikamba agent starting", map[string]interface{}{
		"version":  version,
		"provider": cfg.Agent.Provider,
		"model":    cfg.Agent.Model,
	})

	return gw.Start(ctx)
}

// buildProvider creates the configured provider, wrapped in a
// failover manager when a fallback provider is configured too.
func buildProvider(cfg *config.Config) (providers.LLMProvider, error) {
	primary, err := providers.NewFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Agent.FallbackProvider == "" || cfg.Agent.FallbackProvider == cfg.Agent.Provider {
		return primary, nil
	}

	var fallback providers.LLMProvider
	switch cfg.Agent.FallbackProvider {
	case "openai":
		if cfg.Providers.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("fallback provider openai has no API key")
		}
		fallback = providers.NewOpenAIProvider(cfg.Providers.OpenAI.APIKey, cfg.Providers.OpenAI.APIBase)
	case "anthropic":
		if cfg.Providers.Anthropic.APIKey == "" {
			return nil, fmt.Errorf("fallback provider anthropic has no API key")
		}
		fallback = providers.NewAnthropicProvider(cfg.Providers.Anthropic.APIKey, cfg.Providers.Anthropic.APIBase)
	default:
		return nil, fmt.Errorf("unknown fallback provider %q", cfg.Agent.FallbackProvider)
	}

	return failover.NewManager(
		failover.Route{Name: cfg.Agent.Provider, Model: cfg.Agent.Model, Provider: primary},
		failover.Route{Name: cfg.Agent.FallbackProvider, Model: cfg.Agent.FallbackModel, Provider: fallback},
		failover.Options{},
	), nil
}
