// Package main provides the locus CLI: resolve a natural-language element
// description into a verified selector on a live page.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/entrhq/locus/pkg/backend"
	"github.com/entrhq/locus/pkg/backend/openai"
	"github.com/entrhq/locus/pkg/browser"
	"github.com/entrhq/locus/pkg/config"
	"github.com/entrhq/locus/pkg/locator"
	"github.com/entrhq/locus/pkg/resolver"
	"github.com/entrhq/locus/pkg/store"
)

type cliFlags struct {
	url        string
	describe   string
	configPath string
	model      string
	alwaysAI   bool
	noHeal     bool
	strategy   string
	timeout    time.Duration
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "locus: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := parseFlags()
	if flags.url == "" || flags.describe == "" {
		return fmt.Errorf("both -url and -describe are required")
	}

	settings, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	if flags.model != "" {
		settings.Model = flags.model
	}

	ctx, cancel := context.WithTimeout(context.Background(), flags.timeout)
	defer cancel()

	locatorStore, err := store.NewFileStore(settings.CachePath)
	if err != nil {
		return err
	}

	providerOpts := []openai.ProviderOption{openai.WithModel(settings.Model)}
	if settings.BaseURL != "" {
		providerOpts = append(providerOpts, openai.WithBaseURL(settings.BaseURL))
	}
	provider, err := openai.NewProvider("", providerOpts...)
	if err != nil {
		return err
	}

	originFilter, err := settings.OriginFilter()
	if err != nil {
		return err
	}

	b, err := browser.Launch(browser.LaunchOptions{Headless: settings.Headless})
	if err != nil {
		return err
	}
	defer b.Close()

	session, err := b.NewSession()
	if err != nil {
		return err
	}
	defer session.Close()
	session.SetSnapshotTokenBudget(settings.SnapshotTokenBudget)

	if err := session.Navigate(flags.url); err != nil {
		return err
	}

	r := resolver.New(
		backend.NewAdapter(provider),
		locatorStore,
		session,
		session,
		resolver.WithMaxRetries(settings.MaxRetries),
		resolver.WithOriginFilter(originFilter),
	)

	driver := browser.NewDriver(session, r)
	selector, err := driver.Resolve(ctx, flags.describe, resolver.Options{
		AlwaysAI:      flags.alwaysAI,
		AutoHeal:      !flags.noHeal,
		CacheStrategy: locator.Strategy(flags.strategy),
	})
	if err != nil {
		return err
	}

	fmt.Println(selector)
	usage := r.Usage(session.URL())
	if usage.PromptTokens > 0 || usage.CompletionTokens > 0 {
		fmt.Fprintf(os.Stderr, "tokens: %d prompt, %d completion\n", usage.PromptTokens, usage.CompletionTokens)
	}
	return nil
}

func parseFlags() cliFlags {
	var flags cliFlags
	flag.StringVar(&flags.url, "url", "", "Page URL to resolve against")
	flag.StringVar(&flags.describe, "describe", "", "Natural-language element description")
	flag.StringVar(&flags.configPath, "config", "", "Config file path (default ~/.locus/config.yaml)")
	flag.StringVar(&flags.model, "model", "", "Override the synthesis model")
	flag.BoolVar(&flags.alwaysAI, "always-ai", false, "Skip the cache and force backend synthesis")
	flag.BoolVar(&flags.noHeal, "no-heal", false, "Return stale cached selectors instead of healing")
	flag.StringVar(&flags.strategy, "strategy", string(locator.StrategySmart), "Cache strategy: template, resolved, or smart")
	flag.DurationVar(&flags.timeout, "timeout", 2*time.Minute, "Overall resolution timeout")
	flag.Parse()
	return flags
}
