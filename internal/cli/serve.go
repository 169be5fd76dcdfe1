package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/heymuze/muze/internal/config"
	"github.com/heymuze/muze/internal/delivery"
	"github.com/heymuze/muze/internal/engine"
	"github.com/heymuze/muze/internal/llm"
	"github.com/heymuze/muze/internal/server"
	"github.com/heymuze/muze/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server and background dispatch cycles",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return fmt.Errorf("resolve db path: %w", err)
		}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	llmClient, err := llm.NewClient(cfg.LLM)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: LLM not configured (%v), canned questions only\n", err)
		llmClient = nil
	} else {
		fmt.Fprintf(os.Stderr, "  llm: %s (%s)\n", cfg.LLM.Provider, cfg.LLM.Model)
	}

	sender, err := delivery.NewSender(cfg.Delivery)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: delivery not configured (%v), approved sends disabled\n", err)
		sender = nil
	} else {
		fmt.Fprintf(os.Stderr, "  delivery: twilio (%s)\n", cfg.Delivery.FromNumber)
	}

	eng := engine.New(db, llmClient, sender)
	eng.StalenessDays = cfg.Dispatch.StalenessDays
	eng.LookaheadDays = cfg.Dispatch.LookaheadDays
	eng.MaxPerCycle = cfg.Dispatch.MaxPerCycle
	eng.Start(cfg.Dispatch.DispatchInterval, cfg.Dispatch.SendInterval)
	defer eng.Stop()

	srv := server.New(db, eng, VersionString())
	addr := cfg.ListenAddr()

	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		fmt.Fprintf(os.Stderr, "muze serving on %s\n", addr)
		fmt.Fprintf(os.Stderr, "  db: %s\n", dbPath)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}()

	<-done
	fmt.Fprintln(os.Stderr, "\nshutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return httpServer.Shutdown(ctx)
}
