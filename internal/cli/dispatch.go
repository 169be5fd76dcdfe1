package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/heymuze/muze/internal/config"
	"github.com/heymuze/muze/internal/delivery"
	"github.com/heymuze/muze/internal/engine"
	"github.com/heymuze/muze/internal/llm"
	"github.com/heymuze/muze/internal/store"
)

// dispatchCmd and sendCmd run a single engine cycle and exit. They exist
// so the cycles can be driven by external cron instead of the serve loop.
var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Run one dispatch cycle and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, db, err := buildEngine()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		result, err := eng.RunDispatchCycle(ctx)
		if err != nil {
			return err
		}
		return json.NewEncoder(os.Stdout).Encode(result)
	},
}

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send approved nudges that are due and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, db, err := buildEngine()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		result, err := eng.RunApprovedSendCycle(ctx)
		if err != nil {
			return err
		}
		return json.NewEncoder(os.Stdout).Encode(result)
	},
}

func buildEngine() (*engine.Engine, *store.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, nil, fmt.Errorf("resolve db path: %w", err)
		}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	llmClient, err := llm.NewClient(cfg.LLM)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: LLM not configured (%v), canned questions only\n", err)
		llmClient = nil
	}

	sender, err := delivery.NewSender(cfg.Delivery)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: delivery not configured (%v)\n", err)
		sender = nil
	}

	eng := engine.New(db, llmClient, sender)
	eng.StalenessDays = cfg.Dispatch.StalenessDays
	eng.LookaheadDays = cfg.Dispatch.LookaheadDays
	eng.MaxPerCycle = cfg.Dispatch.MaxPerCycle
	return eng, db, nil
}
