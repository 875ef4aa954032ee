package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rxtech-lab/argo-spot/internal/config"
	"github.com/rxtech-lab/argo-spot/internal/engine"
	enginev1 "github.com/rxtech-lab/argo-spot/internal/engine/engine_v1"
	"github.com/rxtech-lab/argo-spot/internal/exchange"
	"github.com/rxtech-lab/argo-spot/internal/logger"
	"github.com/rxtech-lab/argo-spot/internal/store"
	"github.com/rxtech-lab/argo-spot/internal/types"
	"github.com/rxtech-lab/argo-spot/internal/version"
	"github.com/rxtech-lab/argo-spot/pkg/utils"
	"github.com/urfave/cli/v3"
)

// runAction wires the store, gateway and engine together and blocks until
// the engine exits or an interrupt arrives.
func runAction(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")
	dbOverride := cmd.String("db")
	baseURLOverride := cmd.String("base-url")

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if dbOverride != "" {
		cfg.Store.Path = dbOverride
	}

	if baseURLOverride != "" {
		cfg.Exchange.BaseURL = baseURLOverride
	}

	// Set up persistence
	storeLogger, err := logger.NewLogger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	db, err := store.NewDuckDBStore(cfg.Store.Path, storeLogger)
	if err != nil {
		return fmt.Errorf("failed to open store at %s: %w", cfg.Store.Path, err)
	}
	defer db.Close()

	if err := db.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}

	// Set up exchange gateway
	gateway := exchange.NewBinanceGateway(exchange.BinanceGatewayConfig{
		APIKey:     cfg.Exchange.APIKey,
		APISecret:  cfg.Exchange.APISecret,
		BaseURL:    cfg.Exchange.BaseURL,
		QuoteAsset: cfg.Exchange.QuoteAsset,
	})

	// Create and configure engine
	eng, err := enginev1.NewTradingEngineV1()
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	if err := eng.Initialize(cfg); err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	if err := eng.SetGateway(gateway); err != nil {
		return fmt.Errorf("failed to set gateway: %w", err)
	}

	if err := eng.SetStore(db); err != nil {
		return fmt.Errorf("failed to set store: %w", err)
	}

	// Setup callbacks
	onStart := engine.OnEngineStartCallback(func(symbol string, restored bool) error {
		if restored {
			fmt.Printf("Engine started: symbol=%s (state restored from snapshot)\n", symbol)
		} else {
			fmt.Printf("Engine started: symbol=%s (fresh state)\n", symbol)
		}

		return nil
	})
	onStop := engine.OnEngineStopCallback(func(err error) {
		if err != nil {
			fmt.Printf("Engine stopped with error: %v\n", err)
		} else {
			fmt.Println("Engine stopped")
		}
	})
	onDecision := engine.OnDecisionCallback(func(decision types.TradingDecision) error {
		if decision.Action != types.SignalActionHold {
			fmt.Printf("Decision: %s confidence=%.2f %s\n",
				decision.Action, decision.Confidence, decision.Reasoning)
		}

		return nil
	})
	onOrderPlaced := engine.OnOrderPlacedCallback(func(order types.Order) error {
		fmt.Printf("Order placed: %s %s %s %.8f @ %.4f\n",
			order.Side, order.Type, order.Symbol, order.Amount, order.LimitPrice(0))

		return nil
	})
	onDealClosed := engine.OnDealClosedCallback(func(deal types.Deal) error {
		fmt.Printf("Deal closed: %s status=%s profit=%.4f\n",
			deal.ID, deal.Status, deal.ActualProfit.TakeOr(0))

		return nil
	})
	onRiskAlert := engine.OnRiskAlertCallback(func(tier types.StopLossTier, reason string) {
		fmt.Printf("Risk alert [%s]: %s\n", tier, reason)
	})
	onError := engine.OnErrorCallback(func(err error) {
		fmt.Printf("Error: %v\n", err)
	})

	callbacks := engine.Callbacks{
		OnEngineStart: &onStart,
		OnEngineStop:  &onStop,
		OnDecision:    &onDecision,
		OnOrderPlaced: &onOrderPlaced,
		OnDealClosed:  &onDealClosed,
		OnRiskAlert:   &onRiskAlert,
		OnError:       &onError,
	}

	// Setup signal handling
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nReceived interrupt signal, stopping...")
		cancel()
	}()

	fmt.Printf("Starting spot trading on %s...\n", cfg.Trading.Symbol)

	if err := eng.Run(runCtx, callbacks); err != nil {
		return fmt.Errorf("engine error: %w", err)
	}

	return nil
}

// schemaAction prints the JSON schema of the configuration file, useful
// for editor validation of config YAML.
func schemaAction(_ context.Context, _ *cli.Command) error {
	schema, err := utils.GetSchemaFromConfig(config.Config{})
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	fmt.Println(schema)

	return nil
}

func main() {
	cmd := &cli.Command{
		Name:    "trader",
		Usage:   "Run the automated spot trading engine",
		Version: version.GetVersion(),
		Commands: []*cli.Command{
			{
				Name:   "schema",
				Usage:  "Print the JSON schema of the configuration file",
				Action: schemaAction,
			},
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "config",
				Aliases:  []string{"c"},
				Usage:    "Path to the YAML configuration file",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "db",
				Aliases:  []string{"d"},
				Usage:    "Override the DuckDB database path",
				Required: false,
			},
			&cli.StringFlag{
				Name:     "base-url",
				Usage:    "Override the exchange REST endpoint (testnet, mock server)",
				Required: false,
			},
		},
		Action: runAction,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
