// Command docqa-healthcheck verifies that the service's dependencies are
// reachable and correctly configured. It is meant to run before starting the
// server or from a deployment pipeline.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"docqa/internal/config"
	"docqa/internal/health"
	"docqa/internal/llm"
	"docqa/internal/repository/postgres"
)

func main() {
	skipLLM := flag.Bool("skip-llm", false, "skip the model access probe (saves an API call)")
	repair := flag.Bool("repair", false, "move a corrupt local index file aside so a fresh one is created")
	timeout := flag.Duration("timeout", 30*time.Second, "overall deadline for all checks")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// A registry connection failure is reported as a failing check rather
	// than aborting, so the remaining checks still run.
	var registry health.Pinger
	if db, err := postgres.New(ctx, cfg.DatabaseURL); err == nil {
		defer db.Close()
		registry = db
	}

	model := llm.NewHFClient(cfg.HFAPIKey,
		llm.WithBaseURL(cfg.HFBaseURL),
		llm.WithModel(cfg.HFModel),
	)

	checker := health.NewChecker(cfg, registry, model)
	results, ok := checker.Run(ctx, health.Options{
		SkipLLM: *skipLLM,
		Repair:  *repair,
	})

	for _, r := range results {
		status := "PASS"
		if !r.OK {
			status = "FAIL"
		}
		fmt.Printf("[%s] %s: %s\n", status, r.Name, r.Detail)
	}

	if !ok {
		fmt.Println("Overall: FAIL")
		os.Exit(1)
	}
	fmt.Println("Overall: PASS")
}
