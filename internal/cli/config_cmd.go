// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jeranaias/rigchat/internal/config"
)

// =============================================================================
// CONFIG LOADING
// =============================================================================

// LoadConfig loads the configuration the command line asks for.
func LoadConfig(args Args) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if args.ConfigPath != "" {
		if err := config.LoadDotEnv(""); err != nil {
			return nil, err
		}
		cfg, err = config.LoadFromPath(args.ConfigPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if args.Plain {
		cfg.UI.Plain = true
	}
	return cfg, nil
}

// configFilePath is where `config set` writes.
func configFilePath(args Args) (string, error) {
	if args.ConfigPath != "" {
		return args.ConfigPath, nil
	}
	return config.ConfigPathTOML()
}

// =============================================================================
// CONFIG COMMAND
// =============================================================================

// HandleConfig runs `rigchat config <subcommand>`.
func HandleConfig(args Args, w io.Writer) error {
	switch args.Subcommand {
	case "show", "":
		cfg, err := LoadConfig(args)
		if err != nil {
			return err
		}
		return showConfig(cfg, args.JSON, w)

	case "get":
		if args.ConfigKey == "" {
			return errors.New("usage: rigchat config get <key>")
		}
		cfg, err := LoadConfig(args)
		if err != nil {
			return err
		}
		v, err := cfg.Get(args.ConfigKey)
		if err != nil {
			return err
		}
		if isSecretKey(args.ConfigKey) && fmt.Sprint(v) != "" {
			v = "[REDACTED]"
		}
		fmt.Fprintln(w, formatValue(v))
		return nil

	case "set":
		if args.ConfigKey == "" {
			return errors.New("usage: rigchat config set <key> <value>")
		}
		return setConfig(args, w)

	case "keys":
		for _, k := range config.GetAllKeys() {
			fmt.Fprintln(w, k)
		}
		return nil

	case "path":
		path, err := configFilePath(args)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, path)
		return nil

	default:
		return fmt.Errorf("unknown config subcommand %q (show, get, set, keys, path)", args.Subcommand)
	}
}

// setConfig changes one key in the config file. The file is read without
// environment overrides so they are never written back.
func setConfig(args Args, w io.Writer) error {
	path, err := configFilePath(args)
	if err != nil {
		return err
	}

	cfg := config.Default()
	if _, statErr := os.Stat(path); statErr == nil {
		if strings.HasSuffix(path, ".json") {
			err = config.LoadJSON(cfg, path)
		} else {
			err = config.LoadTOML(cfg, path)
		}
		if err != nil {
			return err
		}
	}

	if err := cfg.Set(args.ConfigKey, args.ConfigVal); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if args.ConfigPath == "" {
		if err := config.EnsureConfigDir(); err != nil {
			return err
		}
	}
	if strings.HasSuffix(path, ".json") {
		err = config.SaveJSON(cfg, path)
	} else {
		err = config.SaveTOML(cfg, path)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s %s = %s\n", SuccessStyle.Render("Set"), args.ConfigKey, args.ConfigVal)
	return nil
}

func showConfig(cfg *config.Config, asJSON bool, w io.Writer) error {
	if asJSON {
		_, err := fmt.Fprintln(w, cfg.String())
		return err
	}

	var redacted map[string]any
	if err := json.Unmarshal([]byte(cfg.String()), &redacted); err != nil {
		return err
	}

	fmt.Fprintln(w, TitleStyle.Render("rigchat configuration"))
	for _, key := range config.GetAllKeys() {
		section, field, nested := strings.Cut(key, ".")
		var v any
		if nested {
			if m, ok := redacted[section].(map[string]any); ok {
				v = m[field]
			}
		} else {
			v = redacted[key]
		}
		fmt.Fprintf(w, "%s %s\n", RenderLabel(key), ValueStyle.Render(formatValue(v)))
	}
	return nil
}

func isSecretKey(key string) bool {
	switch key {
	case "backend.api_key", "kb_cache.redis_password", "server.token":
		return true
	}
	return false
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case []string:
		return strings.Join(x, ",")
	case []any:
		parts := make([]string, len(x))
		for i, p := range x {
			parts[i] = fmt.Sprint(p)
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(x)
	}
}
