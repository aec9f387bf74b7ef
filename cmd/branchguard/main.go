package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/branchguard/internal/config"
	"github.com/mattjoyce/branchguard/internal/github"
	"github.com/mattjoyce/branchguard/internal/log"
	"github.com/mattjoyce/branchguard/internal/protect"
	"github.com/mattjoyce/branchguard/internal/webhook"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "start":
		os.Exit(runStart(args))
	case "config":
		os.Exit(runConfigCheck(args))
	case "version":
		fmt.Printf("branchguard version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`branchguard - GitHub App that protects new default branches

Usage:
  branchguard <command> [flags]

Commands:
  start             Start the webhook service in foreground
  config check      Validate the configuration file
  version           Show version information
  help              Show this help message

Flags:
  --config <path>   Path to the YAML config file (default: config.yaml)
`)
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to config file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.Get()

	// Log which key the process runs with, never the key itself.
	if fp, err := config.KeyFingerprint(cfg.GitHub.PrivateKeyPath); err == nil {
		logger.Info("loaded configuration",
			"config", *configPath,
			"org", cfg.GitHub.Organization,
			"app_id", cfg.GitHub.AppID,
			"key_fingerprint", fp,
		)
	}

	client, err := github.New(github.Config{
		BaseURL:        cfg.GitHub.BaseURL,
		Organization:   cfg.GitHub.Organization,
		AppID:          cfg.GitHub.AppID,
		PrivateKeyPath: cfg.GitHub.PrivateKeyPath,
		ClockSkew:      cfg.Tuning.ClockSkew,
		JWTLifetime:    cfg.Tuning.JWTLifetime,
		RenewalMargin:  cfg.Tuning.RenewalMargin,
		MaxAttempts:    cfg.Tuning.MaxAttempts,
		BackoffBase:    cfg.Tuning.BackoffBase,
		BackoffCap:     cfg.Tuning.BackoffCap,
		RequestTimeout: cfg.Tuning.RequestTimeout,
		UserAgent:      "branchguard/" + version,
	}, logger)
	if err != nil {
		logger.Error("failed to initialize GitHub client", "error", err)
		return 1
	}

	handler := protect.New(client, logger)

	maxBody, _ := config.ParseBodySize(cfg.Webhook.MaxBodySize)
	server := webhook.New(webhook.Config{
		Listen:      cfg.Webhook.Listen,
		Secret:      cfg.GitHub.WebhookSecret,
		Events:      []string{"create"},
		MaxBodySize: maxBody,
	}, handler, log.WithComponent("webhook"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(ctx)
	})

	err = g.Wait()

	// Let in-flight protection tasks finish before exiting.
	handler.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("service exited with error", "error", err)
		return 1
	}
	logger.Info("service stopped")
	return 0
}

func runConfigCheck(args []string) int {
	if len(args) < 1 || args[0] != "check" {
		fmt.Fprint(os.Stderr, "Usage: branchguard config check [--config <path>]\n")
		return 1
	}

	fs := flag.NewFlagSet("config check", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to config file")
	fs.Parse(args[1:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Printf("Configuration OK: org=%s app_id=%d listen=%s\n",
		cfg.GitHub.Organization, cfg.GitHub.AppID, cfg.Webhook.Listen)

	if fp, err := config.KeyFingerprint(cfg.GitHub.PrivateKeyPath); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: private key not readable: %v\n", err)
	} else {
		fmt.Printf("Private key fingerprint: %s\n", fp)
	}
	return 0
}
