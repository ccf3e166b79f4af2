package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mydost/dost/ai/cache"
	"github.com/mydost/dost/ai/core/embedding"
	"github.com/mydost/dost/ai/core/llm"
	"github.com/mydost/dost/ai/orchestrator"
	"github.com/mydost/dost/ai/quota"
	"github.com/mydost/dost/ai/rag"
	"github.com/mydost/dost/ai/scrape"
	"github.com/mydost/dost/ai/search"
	"github.com/mydost/dost/internal/profile"
	"github.com/mydost/dost/internal/version"
	"github.com/mydost/dost/server"
	"github.com/mydost/dost/store"
	"github.com/mydost/dost/store/db/postgres"
)

var rootCmd = &cobra.Command{
	Use:   "dost",
	Short: "A multilingual AI assistant with long-term memory, live web evidence, and shared prediction caching.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		_ = godotenv.Load()
		return nil
	},
	Run: func(_ *cobra.Command, _ []string) {
		instanceProfile := &profile.Profile{
			Mode:        viper.GetString("mode"),
			Addr:        viper.GetString("addr"),
			Port:        viper.GetInt("port"),
			DSN:         viper.GetString("dsn"),
			InstanceURL: viper.GetString("instance-url"),
			Version:     version.GetCurrentVersion(viper.GetString("mode")),
		}
		instanceProfile.FromEnv()
		if err := instanceProfile.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
			os.Exit(1)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		dbDriver, err := postgres.NewDB(instanceProfile)
		if err != nil {
			slog.Error("failed to create db driver", "error", err)
			return
		}
		storeInstance := store.New(dbDriver, instanceProfile)
		if err := storeInstance.Migrate(ctx); err != nil {
			slog.Error("failed to migrate", "error", err)
			return
		}

		kv := cache.NewKV(ctx, instanceProfile.RedisURL)

		llmService, err := llm.NewService(&llm.Config{
			Provider: instanceProfile.LLMProvider,
			Model:    instanceProfile.LLMModel,
			APIKey:   instanceProfile.LLMAPIKey,
			BaseURL:  instanceProfile.LLMBaseURL,
			Timeout:  instanceProfile.LLMTimeout,
		})
		if err != nil {
			slog.Error("failed to create llm service", "error", err)
			return
		}

		embedder, err := embedding.NewService(&embedding.Config{
			APIKey:  instanceProfile.EmbeddingAPIKey,
			BaseURL: instanceProfile.EmbeddingBaseURL,
			Model:   instanceProfile.EmbeddingModel,
			Dim:     instanceProfile.EmbeddingDim,
		})
		if err != nil {
			slog.Error("failed to create embedding service", "error", err)
			return
		}

		searchService := search.NewService(&search.Config{
			APIKey:   instanceProfile.SearchAPIKey,
			APIURL:   instanceProfile.SearchAPIURL,
			CacheTTL: secondsToDuration(instanceProfile.SearchCacheTTL),
		}, kv)
		scrapeService := scrape.NewService(&scrape.Config{
			CacheTTL:        secondsToDuration(instanceProfile.ScrapeCacheTTL),
			JSRenderEnabled: instanceProfile.JSRenderEnabled,
			JSRenderPercent: instanceProfile.JSRenderPercent,
		}, kv)

		quotaManager := quota.NewManager(storeInstance, kv, quota.Limits{
			GuestMessages: instanceProfile.GuestMessageLimit,
			GuestSearches: instanceProfile.GuestSearchLimit,
			FreeSearches:  instanceProfile.FreeSearchLimit,
			PaidSearches:  instanceProfile.PaidSearchLimit,
		})
		ragService := rag.NewService(storeInstance, embedder)

		orchestratorService := orchestrator.NewService(
			instanceProfile,
			storeInstance,
			kv,
			quotaManager,
			llmService,
			embedder,
			ragService,
			searchService,
			scrapeService,
		)

		go llmService.Warmup(ctx)

		s := server.NewServer(instanceProfile, storeInstance, orchestratorService)

		c := make(chan os.Signal, 1)
		signal.Notify(c, terminationSignals...)
		go func() {
			<-c
			slog.Info("shutting down")
			if err := s.Shutdown(ctx); err != nil {
				slog.Error("shutdown failed", "error", err)
			}
			if err := storeInstance.Close(); err != nil {
				slog.Error("failed to close store", "error", err)
			}
			cancel()
		}()

		printGreetings(instanceProfile)

		if err := s.Start(ctx); err != nil {
			slog.Error("server stopped", "error", err)
			cancel()
		}

		<-ctx.Done()
	},
}

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("port", 28090)

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 28090, "port of server")
	rootCmd.PersistentFlags().String("dsn", "", "database source name (aka. DSN)")
	rootCmd.PersistentFlags().String("instance-url", "", "the public url of this instance")

	for _, flag := range []string{"mode", "addr", "port", "dsn", "instance-url"} {
		if err := viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("dost")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

func printGreetings(profile *profile.Profile) {
	fmt.Printf("Dost %s started successfully!\n", profile.Version)
	if profile.IsDev() {
		fmt.Fprint(os.Stderr, "Development mode is enabled\n")
	}
	fmt.Printf("Mode: %s\n", profile.Mode)
	if profile.Addr == "" {
		fmt.Printf("Server running on port %d\n", profile.Port)
	} else {
		fmt.Printf("Server running on %s:%d\n", profile.Addr, profile.Port)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}
