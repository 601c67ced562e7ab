package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	// Minimal base images ship without a tz database.
	_ "time/tzdata"

	"github.com/infisical/go-sdk/packages/models"
	"github.com/shopspring/decimal"

	config "github.com/trade-stasvinokur/lewis-listing-strategy"
	"github.com/trade-stasvinokur/lewis-listing-strategy/environment"
	"github.com/trade-stasvinokur/lewis-listing-strategy/keys"
	"github.com/trade-stasvinokur/lewis-listing-strategy/runner"
	"github.com/trade-stasvinokur/lewis-listing-strategy/secrets"
	"github.com/trade-stasvinokur/lewis-listing-strategy/store"
	"github.com/trade-stasvinokur/lewis-listing-strategy/strategy"
	"github.com/trade-stasvinokur/lewis-listing-strategy/supervisor"
)

func main() {
	log.Println("Starting Lewis listing strategy")

	mode := flag.String("mode", "", "run mode, once or cron (overrides RUN_MODE)")
	takeProfit := flag.String("take-profit", "", "fractional sell target, e.g. 0.3 (overrides TAKE_PROFIT)")
	configPath := flag.String("config", "", "path to the yaml config file (overrides LEWIS_CONFIG)")
	flag.Parse()

	if *configPath != "" {
		os.Setenv("LEWIS_CONFIG", *configPath)
	}

	// Secrets attach to the process environment before the config reads it.
	loaded := loadSecrets()

	log.Println("Loading config")
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration rejected: %v", err)
	}
	if *mode != "" {
		cfg.RunMode = *mode
	}
	if *takeProfit != "" {
		tp, err := decimal.NewFromString(*takeProfit)
		if err != nil {
			log.Fatalf("Invalid -take-profit %q: %v", *takeProfit, err)
		}
		cfg.Strategy.TakeProfit = tp
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration rejected: %v", err)
	}

	env, err := environment.New(environment.Config{TZ: cfg.TZ, WorkDir: cfg.WorkDir})
	if err != nil {
		log.Fatalf("Failed to prepare environment: %v", err)
	}
	log.Printf("Environment ready: tz %s, workdir %s", env.TZ(), env.WorkDir())

	storePath := cfg.Store.Path
	if cfg.Store.Driver == "sqlite" && !filepath.IsAbs(storePath) {
		storePath = filepath.Join(env.WorkDir(), storePath)
	}
	st, err := store.Open(cfg.Store.Driver, storePath)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}

	job := buildJob(cfg, env, st, loaded)
	sup := supervisor.New(cfg, env, job, st)

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		s := <-sig
		log.Printf("Received %s, shutting down", s)
		cancel()
	}()

	switch cfg.RunMode {
	case config.RunModeCron:
		err := sup.Start(ctx)
		st.Close()
		if err != nil {
			log.Fatalf("Scheduler failed: %v", err)
		}
	default:
		code := sup.RunOnce(ctx)
		st.Close()
		os.Exit(code)
	}
}

func loadSecrets() []models.Secret {
	useInfisical := os.Getenv("USE_INFISICAL") == "true"
	if !keys.Enabled() && !useInfisical {
		return nil
	}
	sec, err := keys.NewInfisicalSecrets(useInfisical)
	if err != nil {
		log.Printf("Error loading Infisical secrets: %v", err)
		return nil
	}
	return sec
}

// buildJob picks the designated job: an external command when one is
// configured, otherwise the built-in strategy.
func buildJob(cfg *config.Config, env *environment.Environment, st *store.Store, loaded []models.Secret) runner.Job {
	if cfg.Job.Command != "" {
		resolved := secrets.Filter(loaded, cfg.Job.Secrets)
		extra := make([]runner.EnvVar, 0, len(resolved)+1)
		for _, s := range resolved {
			extra = append(extra, runner.EnvVar{Name: s.SecretKey, Value: s.SecretValue})
		}
		// The child must agree with the sandbox about local time.
		extra = append(extra, runner.EnvVar{Name: "TZ", Value: env.TZ()})
		return &runner.ExecJob{
			JobName: cfg.Job.Name,
			Command: cfg.Job.Command,
			Args:    cfg.Job.Args,
			Dir:     env.WorkDir(),
			Env:     extra,
		}
	}
	return &strategy.Strategy{
		Events: &strategy.CoinMarketCal{
			BaseURL:   cfg.Strategy.CoinMarketCalBase,
			APIKey:    cfg.Strategy.CoinMarketCalAPIKey,
			PageLimit: cfg.Strategy.PageLimit,
		},
		Markets:      &strategy.Binance{URL: cfg.Strategy.BinanceURL},
		Store:        st,
		Loc:          env.Location(),
		JobName:      cfg.Job.Name,
		TakeProfit:   cfg.Strategy.TakeProfit,
		LookbackDays: cfg.Strategy.LookbackDays,
		HoldDays:     cfg.Strategy.HoldDays,
	}
}
