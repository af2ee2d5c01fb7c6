package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"propscraper/internal/api"
	"propscraper/internal/cli"
	"propscraper/internal/config"
	"propscraper/internal/events"
	"propscraper/internal/fetch"
	"propscraper/internal/log"
	"propscraper/internal/scheduler"
	"propscraper/internal/scraper"
	"propscraper/internal/store"
	"propscraper/internal/types"
	"propscraper/internal/utils"

	"github.com/go-co-op/gocron"
	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/spf13/cobra"
)

func CreateCommand(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "propscraper [CMD]",
		Short: "Property scraping engine command line utility.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	return cmd
}

func newFetcher(cfg config.Config) *fetch.Fetcher {
	return fetch.New(fetch.Config{
		RequestTimeout: cfg.FetchTimeout,
		PerHostGap:     cfg.PerHostGap,
		Policy: fetch.Backoff{
			MaxAttempts: cfg.FetchRetries,
			BaseDelay:   cfg.FetchBackoffBase,
			MaxDelay:    10 * time.Second,
			Jitter:      0.25,
		},
	})
}

// Scheduler, worker pool and API server in one process: run-now requests
// have to reach the in-process coordinator.
func CreateServe(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "runs the scheduler and the api server",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Load()
			utils.Fail(ctx, err, "Unable to load configuration")

			copts, err := cli.NewOptions(cli.WithDefaultLogger(cfg.LogLevel))
			utils.Fail(ctx, err, "Unable to build logger")
			ctx := log.WithLogger(ctx, copts.Logger)

			dbPool, err := utils.NewDBPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
			utils.Fail(ctx, err, "Unable to connect to database")
			defer dbPool.Close()
			utils.Fail(ctx, dbPool.Ping(ctx), "Ping error")
			utils.Fail(ctx, store.EnsureSchema(ctx, dbPool), "Unable to apply schema")

			schedCfg := scheduler.Config{
				Workers:    cfg.Workers,
				RunTimeout: cfg.RunTimeout,
				Jobs:       store.NewPGJobStore(dbPool),
				Runs:       store.NewPGRunStore(dbPool, cfg.RunHistory),
				Properties: store.NewPGPropertyStore(dbPool),
				Executor:   scraper.NewExecutor(newFetcher(cfg), store.NewPGPropertyStore(dbPool)),
			}

			if cfg.AMQPURL != "" {
				rmqConn, err := amqp.Dial(cfg.AMQPURL)
				utils.Fail(ctx, err, "Unable to connect to rabbitmq")
				defer rmqConn.Close()

				ch, err := rmqConn.Channel()
				utils.Fail(ctx, err, "Unable to make channel")
				defer ch.Close()

				publisher, err := events.NewRunPublisher(ch)
				utils.Fail(ctx, err, "Unable to declare run queue")
				schedCfg.Publisher = publisher
			}

			coordinator, err := scheduler.New(ctx, schedCfg)
			utils.Fail(ctx, err, "Unable to start coordinator")
			defer coordinator.Close()

			cron := gocron.NewScheduler(time.UTC)
			_, err = cron.Every(cfg.TickInterval).Do(coordinator.Tick, ctx)
			utils.Fail(ctx, err, "Unable to schedule tick")
			cron.StartAsync()
			defer cron.Stop()

			err = api.StartServer(api.APIServerConfig{
				Addr:        cfg.HTTPAddr,
				Coordinator: coordinator,
				Properties:  store.NewPGPropertyStore(dbPool),
			})
			utils.Fail(ctx, err, "API server stopped")
		},
	}

	return cmd
}

// One-shot scrape of a single page against a selector config file,
// results printed instead of persisted.
func CreateOnce(ctx context.Context) *cobra.Command {
	var targetURL, configPath string

	cmd := &cobra.Command{
		Use:   "once",
		Short: "scrapes one page once and prints the results",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Load()
			utils.Fail(ctx, err, "Unable to load configuration")

			copts, err := cli.NewOptions(cli.WithDefaultLogger(cfg.LogLevel))
			utils.Fail(ctx, err, "Unable to build logger")
			ctx := log.WithLogger(ctx, copts.Logger)

			raw, err := os.ReadFile(configPath)
			utils.Fail(ctx, err, "Unable to read selector config")
			var selectors types.SelectorConfig
			utils.Fail(ctx, json.Unmarshal(raw, &selectors), "Unable to parse selector config")

			props := store.NewMemoryPropertyStore()
			executor := scraper.NewExecutor(newFetcher(cfg), props)

			job := types.Job{
				Name:      "once",
				TargetURL: targetURL,
				Selectors: selectors,
			}
			run := executor.Execute(ctx, job)

			out, _ := json.MarshalIndent(run, "", "  ")
			fmt.Println(string(out))

			listings, err := props.Search(ctx, types.PropertyQuery{})
			utils.Fail(ctx, err, "Unable to read back results")
			out, _ = json.MarshalIndent(listings, "", "  ")
			fmt.Println(string(out))
		},
	}

	cmd.Flags().StringVar(&targetURL, "url", "", "page to scrape")
	cmd.Flags().StringVar(&configPath, "config", "", "selector config file (json)")
	cmd.MarkFlagRequired("url")
	cmd.MarkFlagRequired("config")

	return cmd
}

func main() {
	// local .env files are a dev convenience; absence is fine
	godotenv.Load()

	ctx := context.Background()
	cmd := CreateCommand(ctx)
	cmd.AddCommand(CreateServe(ctx))
	cmd.AddCommand(CreateOnce(ctx))
	cmd.Execute()
}
