// Package config resolves runtime configuration from three layers —
// YAML config file, environment, CLI flags — with later layers winning.
// Every resolved value remembers where it came from, so `agroform
// config` can show the user exactly which file, variable, or flag set
// what.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type ValueSource string

const (
	SourceUnknown ValueSource = "unknown"
	SourceConfig  ValueSource = "config"
	SourceEnv     ValueSource = "env"
	SourceCLI     ValueSource = "cli"
	SourceDefault ValueSource = "default"
)

// ResolvedValue is a config value plus its provenance.
type ResolvedValue struct {
	Value  string      `json:"value"`
	Source ValueSource `json:"source"`
	From   string      `json:"from,omitempty"`
}

// ResolveOptions carries the CLI-flag layer into resolution.
type ResolveOptions struct {
	ConfigPath string
	CLICatalog string
	CLIDBPath  string
	CLILLM     string
	CLIAddr    string
	CLILogMode string
}

// ResolvedConfig is the full resolved configuration.
type ResolvedConfig struct {
	ConfigPath string `json:"config_path"`

	CatalogPath ResolvedValue `json:"catalog_path"`
	DBPath      ResolvedValue `json:"db_path"`
	LLMProvider ResolvedValue `json:"llm_provider"`
	ServerAddr  ResolvedValue `json:"server_addr"`
	CORSOrigins ResolvedValue `json:"cors_origins"`
	LogMode     ResolvedValue `json:"log_mode"`

	LLMKeys map[string]ResolvedValue `json:"llm_keys,omitempty"`
}

type fileConfig struct {
	CatalogPath string `yaml:"catalog_path"`
	DBPath      string `yaml:"db_path"`
	LLM         struct {
		Provider string `yaml:"provider"`
		APIKey   string `yaml:"api_key"`
	} `yaml:"llm"`
	Server struct {
		Addr        string   `yaml:"addr"`
		CORSOrigins []string `yaml:"cors_origins"`
	} `yaml:"server"`
	Log struct {
		Mode string `yaml:"mode"`
	} `yaml:"log"`
}

func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".agroform", "config.yaml")
}

// ResolveConfig layers file, env, and CLI values. A missing config file
// is not an error; defaults fill whatever no layer set.
func ResolveConfig(opts ResolveOptions) (ResolvedConfig, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		path = DefaultConfigPath()
	}

	out := ResolvedConfig{
		ConfigPath: path,
		LLMKeys:    map[string]ResolvedValue{},
	}

	cfg, err := loadConfig(path)
	if err != nil {
		return out, err
	}

	if cfg != nil {
		apply(&out.CatalogPath, cfg.CatalogPath, SourceConfig, path)
		apply(&out.DBPath, cfg.DBPath, SourceConfig, path)
		apply(&out.LLMProvider, cfg.LLM.Provider, SourceConfig, path)
		apply(&out.ServerAddr, cfg.Server.Addr, SourceConfig, path)
		apply(&out.CORSOrigins, strings.Join(cfg.Server.CORSOrigins, ","), SourceConfig, path)
		apply(&out.LogMode, cfg.Log.Mode, SourceConfig, path)

		if key := strings.TrimSpace(cfg.LLM.APIKey); key != "" {
			provider := providerOf(cfg.LLM.Provider)
			if provider == "" {
				provider = "default"
			}
			out.LLMKeys[provider] = ResolvedValue{Value: key, Source: SourceConfig, From: path}
		}
	}

	applyEnv(&out.CatalogPath, "AGROFORM_CATALOG")
	applyEnv(&out.DBPath, "AGROFORM_DB")
	applyEnv(&out.LLMProvider, "AGROFORM_LLM")
	applyEnv(&out.ServerAddr, "AGROFORM_ADDR")
	applyEnv(&out.CORSOrigins, "AGROFORM_CORS_ORIGINS")
	applyEnv(&out.LogMode, "AGROFORM_LOG_MODE")

	for env, provider := range map[string]string{
		"OPENROUTER_API_KEY": "openrouter",
		"OPENAI_API_KEY":     "openai",
	} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			out.LLMKeys[provider] = ResolvedValue{Value: v, Source: SourceEnv, From: env}
		}
	}

	apply(&out.CatalogPath, opts.CLICatalog, SourceCLI, "--catalog")
	apply(&out.DBPath, opts.CLIDBPath, SourceCLI, "--db")
	apply(&out.LLMProvider, opts.CLILLM, SourceCLI, "--llm")
	apply(&out.ServerAddr, opts.CLIAddr, SourceCLI, "--addr")
	apply(&out.LogMode, opts.CLILogMode, SourceCLI, "--log-mode")

	applyDefault(&out.CatalogPath, "catalog.yaml")
	applyDefault(&out.ServerAddr, ":5000")
	applyDefault(&out.CORSOrigins, "http://localhost:5173")
	applyDefault(&out.LogMode, "dev")

	if out.CatalogPath.Value != "" {
		out.CatalogPath.Value = expandUserPath(out.CatalogPath.Value)
	}
	if out.DBPath.Value != "" {
		out.DBPath.Value = expandUserPath(out.DBPath.Value)
	}

	return out, nil
}

// OriginList splits the resolved CORS origins into a slice.
func (r ResolvedConfig) OriginList() []string {
	var out []string
	for _, o := range strings.Split(r.CORSOrigins.Value, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// APIKeyForProvider returns the key for a "provider" or
// "provider/model" value, falling back to the config file's default
// key.
func (r ResolvedConfig) APIKeyForProvider(providerOrModel string) ResolvedValue {
	provider := providerOf(providerOrModel)
	if provider == "" {
		return ResolvedValue{}
	}
	if v, ok := r.LLMKeys[provider]; ok && strings.TrimSpace(v.Value) != "" {
		return v
	}
	if v, ok := r.LLMKeys["default"]; ok && strings.TrimSpace(v.Value) != "" {
		return v
	}
	return ResolvedValue{}
}

func providerOf(providerOrModel string) string {
	v := strings.ToLower(strings.TrimSpace(providerOrModel))
	if v == "" {
		return ""
	}
	if idx := strings.Index(v, "/"); idx > 0 {
		return v[:idx]
	}
	return v
}

func apply(dst *ResolvedValue, raw string, source ValueSource, from string) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return
	}
	*dst = ResolvedValue{Value: v, Source: source, From: from}
}

func applyEnv(dst *ResolvedValue, envKey string) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		*dst = ResolvedValue{Value: v, Source: SourceEnv, From: envKey}
	}
}

func applyDefault(dst *ResolvedValue, value string) {
	if strings.TrimSpace(dst.Value) == "" {
		*dst = ResolvedValue{Value: value, Source: SourceDefault, From: "built-in default"}
	}
}

func loadConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

func expandUserPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
