package server

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed config.schema.json
var configSchema []byte

const (
	defaultAddr      = "127.0.0.1:8765"
	defaultChunkSize = 256
)

// Config describes a fragment server: where fragments live on disk, how
// requests map to them, and how slowly to stream them.
type Config struct {
	Addr         string  `json:"addr" yaml:"addr"`
	Root         string  `json:"root" yaml:"root"`
	ChunkSize    int     `json:"chunk_size" yaml:"chunk_size"`
	ChunkDelayMS int     `json:"chunk_delay_ms" yaml:"chunk_delay_ms"`
	Routes       []Route `json:"routes" yaml:"routes"`
}

// Route maps request paths matching Pattern to a file. Without File the
// request path itself is looked up under the root.
type Route struct {
	Pattern     string `json:"pattern" yaml:"pattern"`
	File        string `json:"file" yaml:"file"`
	ContentType string `json:"content_type" yaml:"content_type"`
}

func (c *Config) ChunkDelay() time.Duration {
	return time.Duration(c.ChunkDelayMS) * time.Millisecond
}

func LoadConfigFile(p string) (*Config, error) {
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	return ParseConfig(b)
}

// ParseConfig decodes YAML (or JSON, which is YAML) into a Config, checks
// it against the config schema, applies defaults and validates it.
func ParseConfig(b []byte) (*Config, error) {
	if err := validateSchema(b); err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	applyConfigDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validateSchema(b []byte) error {
	var doc any
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return err
	}
	if doc == nil {
		doc = map[string]any{}
	}
	j, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("config is not representable as json: %w", err)
	}
	v, err := jsonschema.UnmarshalJSON(bytes.NewReader(j))
	if err != nil {
		return err
	}
	sch, err := compileConfigSchema()
	if err != nil {
		return err
	}
	if err := sch.Validate(v); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func compileConfigSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource("config.schema.json", bytes.NewReader(configSchema)); err != nil {
		return nil, err
	}
	return c.Compile("config.schema.json")
}

func applyConfigDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = defaultAddr
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	if len(cfg.Routes) == 0 {
		cfg.Routes = []Route{{Pattern: "/**"}}
	}
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(cfg.Root) == "" {
		return fmt.Errorf("root is required")
	}
	if cfg.ChunkSize < 0 || cfg.ChunkDelayMS < 0 {
		return fmt.Errorf("chunk_size and chunk_delay_ms must not be negative")
	}
	for i, r := range cfg.Routes {
		if !strings.HasPrefix(r.Pattern, "/") {
			return fmt.Errorf("routes[%d].pattern must start with /: %q", i, r.Pattern)
		}
		if !doublestar.ValidatePattern(r.Pattern) {
			return fmt.Errorf("routes[%d].pattern is not a valid glob: %q", i, r.Pattern)
		}
		if r.File != "" {
			clean := path.Clean(strings.TrimPrefix(r.File, "/"))
			if clean == ".." || strings.HasPrefix(clean, "../") {
				return fmt.Errorf("routes[%d].file escapes root: %q", i, r.File)
			}
		}
	}
	return nil
}
