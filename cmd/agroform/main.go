package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/solterra/agroform/internal/catalog"
	"github.com/solterra/agroform/internal/config"
	"github.com/solterra/agroform/internal/enrich"
	"github.com/solterra/agroform/internal/extract"
	"github.com/solterra/agroform/internal/flow"
	"github.com/solterra/agroform/internal/llm"
	"github.com/solterra/agroform/internal/logger"
	"github.com/solterra/agroform/internal/mcp"
	"github.com/solterra/agroform/internal/server"
	"github.com/solterra/agroform/internal/session"
)

const version = "0.1.0"

func main() {
	// Best-effort .env load so local runs pick up API keys.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(os.Args[2:])
	case "mcp":
		err = runMCP(os.Args[2:])
	case "extract":
		err = runExtract(os.Args[2:])
	case "validate":
		err = runValidate(os.Args[2:])
	case "config":
		err = runConfig(os.Args[2:])
	case "version", "--version", "-v":
		fmt.Printf("agroform %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags splits args into --flag value pairs and positionals.
func parseFlags(args []string) (map[string]string, []string, error) {
	flags := map[string]string{}
	var positional []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			positional = append(positional, arg)
			continue
		}
		name := strings.TrimPrefix(arg, "--")
		if i+1 >= len(args) || strings.HasPrefix(args[i+1], "--") {
			return nil, nil, fmt.Errorf("flag --%s requires a value", name)
		}
		flags[name] = args[i+1]
		i++
	}
	return flags, positional, nil
}

func resolveFrom(flags map[string]string) (config.ResolvedConfig, error) {
	return config.ResolveConfig(config.ResolveOptions{
		ConfigPath: flags["config"],
		CLICatalog: flags["catalog"],
		CLIDBPath:  flags["db"],
		CLILLM:     flags["llm"],
		CLIAddr:    flags["addr"],
		CLILogMode: flags["log-mode"],
	})
}

// buildProvider creates the LLM provider from resolved config, or
// returns nil when no provider is usable. The form works without one;
// extraction and enrichment degrade.
func buildProvider(cfg config.ResolvedConfig, log *logger.Logger) llm.Provider {
	provCfg, err := llm.ParseProviderFlag(cfg.LLMProvider.Value)
	if err != nil {
		log.Warn("invalid llm provider setting", "value", cfg.LLMProvider.Value, "error", err)
		return nil
	}
	if key := cfg.APIKeyForProvider(cfg.LLMProvider.Value); key.Value != "" {
		provCfg.APIKey = key.Value
	}
	provider, err := llm.NewProvider(provCfg)
	if err != nil {
		log.Warn("llm provider unavailable, extraction disabled", "error", err)
		return nil
	}
	return provider
}

func openStore(cfg config.ResolvedConfig) (session.Store, error) {
	if cfg.DBPath.Value == "" {
		return session.NewMemoryStore(), nil
	}
	return session.NewSQLiteStore(cfg.DBPath.Value)
}

func runServe(args []string) error {
	flags, _, err := parseFlags(args)
	if err != nil {
		return err
	}
	cfg, err := resolveFrom(flags)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.LogMode.Value)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer log.Sync()

	cat, err := catalog.Load(cfg.CatalogPath.Value)
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}
	for _, warning := range cat.Validate() {
		log.Warn("catalog integrity", "warning", warning)
	}

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("opening session store: %w", err)
	}
	defer store.Close()

	provider := buildProvider(cfg, log)
	var pipeline *extract.Pipeline
	if provider != nil {
		pipeline = extract.NewPipeline(provider, log)
	}

	router := server.NewRouter(server.RouterConfig{
		Catalog:     cat,
		Engine:      flow.NewEngine(cat, store, log),
		Pipeline:    pipeline,
		Enricher:    enrich.New(provider, log),
		Log:         log,
		CORSOrigins: cfg.OriginList(),
	})

	log.Info("agroform serving",
		"addr", cfg.ServerAddr.Value,
		"catalog", cfg.CatalogPath.Value,
		"questions", cat.Len(),
		"store", storeKind(cfg),
		"llm", providerName(provider))
	return router.Run(cfg.ServerAddr.Value)
}

func runMCP(args []string) error {
	flags, _, err := parseFlags(args)
	if err != nil {
		return err
	}
	cfg, err := resolveFrom(flags)
	if err != nil {
		return err
	}

	// Stdout carries the MCP protocol; logs must stay off it.
	log, err := logger.New("prod")
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer log.Sync()

	cat, err := catalog.Load(cfg.CatalogPath.Value)
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("opening session store: %w", err)
	}
	defer store.Close()

	provider := buildProvider(cfg, log)
	var pipeline *extract.Pipeline
	if provider != nil {
		pipeline = extract.NewPipeline(provider, log)
	}

	srv := mcp.NewServer(mcp.ServerConfig{
		Catalog:  cat,
		Engine:   flow.NewEngine(cat, store, log),
		Pipeline: pipeline,
		Version:  version,
	})
	return mcpserver.ServeStdio(srv)
}

func runExtract(args []string) error {
	flags, positional, err := parseFlags(args)
	if err != nil {
		return err
	}
	cfg, err := resolveFrom(flags)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.LogMode.Value)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer log.Sync()

	var text string
	switch {
	case len(positional) > 0 && positional[0] != "-":
		b, err := os.ReadFile(positional[0])
		if err != nil {
			return fmt.Errorf("reading input: %w", err)
		}
		text = string(b)
	default:
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		text = string(b)
	}

	cat, err := catalog.Load(cfg.CatalogPath.Value)
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}

	provider := buildProvider(cfg, log)
	if provider == nil {
		return fmt.Errorf("no LLM provider configured (set --llm and an API key)")
	}

	pipeline := extract.NewPipeline(provider, log)
	result, err := pipeline.Extract(context.Background(), text, extract.FieldsFromCatalog(cat))
	if err != nil {
		return err
	}

	fmt.Printf("Extracted %d field(s):\n", len(result.Fields))
	for _, name := range result.AutoCompleted {
		fmt.Printf("  %s: %v\n", name, result.Fields[name])
	}
	for _, d := range result.Diagnostics {
		fmt.Printf("  ! batch %d (%s): %s\n", d.Batch, strings.Join(d.Fields, ", "), d.Reason)
	}
	return nil
}

func runValidate(args []string) error {
	flags, positional, err := parseFlags(args)
	if err != nil {
		return err
	}
	cfg, err := resolveFrom(flags)
	if err != nil {
		return err
	}
	path := cfg.CatalogPath.Value
	if len(positional) > 0 {
		path = positional[0]
	}

	cat, err := catalog.Load(path)
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}

	warnings := cat.Validate()
	fmt.Printf("%s: %d question(s), first is %q\n", path, cat.Len(), cat.FirstID())
	if len(warnings) == 0 {
		fmt.Println("No routing problems found.")
		return nil
	}
	for _, w := range warnings {
		fmt.Printf("  warning: %s\n", w)
	}
	fmt.Printf("%d warning(s). Dangling routes terminate the flow at runtime.\n", len(warnings))
	return nil
}

func runConfig(args []string) error {
	flags, _, err := parseFlags(args)
	if err != nil {
		return err
	}
	cfg, err := resolveFrom(flags)
	if err != nil {
		return err
	}

	fmt.Printf("config file: %s\n", cfg.ConfigPath)
	printValue("catalog", cfg.CatalogPath)
	printValue("db", cfg.DBPath)
	printValue("llm", cfg.LLMProvider)
	printValue("addr", cfg.ServerAddr)
	printValue("cors", cfg.CORSOrigins)
	printValue("log mode", cfg.LogMode)
	for provider, key := range cfg.LLMKeys {
		masked := "****"
		if len(key.Value) > 8 {
			masked = key.Value[:4] + "****"
		}
		fmt.Printf("%-10s %s (%s: %s)\n", provider+" key", masked, key.Source, key.From)
	}
	return nil
}

func printValue(name string, v config.ResolvedValue) {
	if v.Value == "" {
		fmt.Printf("%-10s (unset)\n", name)
		return
	}
	fmt.Printf("%-10s %s (%s: %s)\n", name, v.Value, v.Source, v.From)
}

func storeKind(cfg config.ResolvedConfig) string {
	if cfg.DBPath.Value == "" {
		return "memory"
	}
	return "sqlite:" + cfg.DBPath.Value
}

func providerName(p llm.Provider) string {
	if p == nil {
		return "disabled"
	}
	return p.Name()
}

func printUsage() {
	fmt.Println(`agroform - guided form engine with LLM-assisted extraction

Usage:
  agroform serve    [--catalog path] [--db path] [--addr :5000] [--llm provider/model]
  agroform mcp      [--catalog path] [--db path] [--llm provider/model]
  agroform extract  [file|-] [--catalog path] [--llm provider/model]
  agroform validate [catalog.yaml]
  agroform config   [--config path]
  agroform version
  agroform help

Flags may also come from the config file (~/.agroform/config.yaml) or
AGROFORM_* environment variables; CLI flags win.`)
}
