package common

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog/log"
)

//go:embed config.default.yaml
var defaultConfig []byte

const (
	configPathEnvVar = "CONFIG_PATH"
	envPrefix        = "MAILSYNC_"
	envNestDelim     = "__"
)

type ConfigManager[T any] struct {
	kf *koanf.Koanf
}

// NewConfigManager loads embedded defaults, then the file at CONFIG_PATH (if set),
// then MAILSYNC_* environment overrides.
func NewConfigManager[T any]() (*ConfigManager[T], error) {
	cm := &ConfigManager[T]{kf: koanf.New(".")}

	if err := cm.kf.Load(rawbytes.Provider(defaultConfig), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load default config: %w", err)
	}

	if path := os.Getenv(configPathEnvVar); path != "" {
		if err := cm.LoadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cm.LoadEnv(); err != nil {
		return nil, err
	}

	if cm.kf.Bool("debugMode") {
		cm.Print()
	}

	return cm, nil
}

// LoadFile merges a YAML or JSON file; the parser is chosen by extension
func (cm *ConfigManager[T]) LoadFile(path string) error {
	var parser koanf.Parser
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = kjson.Parser()
	default:
		return fmt.Errorf("unsupported config file extension: %s", path)
	}

	if err := cm.kf.Load(file.Provider(path), parser); err != nil {
		return fmt.Errorf("failed to load config file %s: %w", path, err)
	}
	return nil
}

// LoadEnv merges MAILSYNC_* variables. MAILSYNC_DATABASE__POSTGRES__SSLMODE maps to
// database.postgres.sslMode; names match known keys case-insensitively.
func (cm *ConfigManager[T]) LoadEnv() error {
	known := make(map[string]string)
	for _, k := range cm.kf.Keys() {
		known[strings.ToLower(k)] = k
	}

	provider := env.ProviderWithValue(envPrefix, ".", func(name, value string) (string, any) {
		path := strings.ToLower(strings.TrimPrefix(name, envPrefix))
		path = strings.ReplaceAll(path, envNestDelim, ".")
		key, ok := known[path]
		if !ok {
			return "", nil
		}
		if _, isSlice := cm.kf.Get(key).([]any); isSlice {
			return key, splitList(value)
		}
		return key, value
	})

	if err := cm.kf.Load(provider, nil); err != nil {
		return fmt.Errorf("failed to load env config: %w", err)
	}
	return nil
}

// Set overrides a single key; used by the CLI and tests
func (cm *ConfigManager[T]) Set(key string, value any) error {
	return cm.kf.Set(key, value)
}

func (cm *ConfigManager[T]) GetConfig() T {
	var c T
	if err := cm.Unmarshal(&c); err != nil {
		log.Error().Err(err).Msg("failed to decode config")
	}
	return c
}

func (cm *ConfigManager[T]) Unmarshal(out *T) error {
	if out == nil {
		return errors.New("nil config target")
	}
	return cm.kf.UnmarshalWithConf("", out, koanf.UnmarshalConf{
		Tag: "key",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			WeaklyTypedInput: true,
			Result:           out,
		},
	})
}

// Print dumps the merged config with secrets masked
func (cm *ConfigManager[T]) Print() {
	masked := make(map[string]any)
	for k, v := range cm.kf.All() {
		if isSecretKey(k) {
			if s, ok := v.(string); ok && s != "" {
				v = "********"
			}
		}
		masked[k] = v
	}
	b, err := json.MarshalIndent(masked, "", "  ")
	if err != nil {
		return
	}
	log.Debug().RawJSON("config", b).Msg("loaded config")
}

func isSecretKey(key string) bool {
	k := strings.ToLower(key)
	for _, s := range []string{"password", "secret", "encryption.key", "clientstate"} {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
