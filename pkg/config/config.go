/*
 * Copyright 2025 Edge2LoRa Project.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package config loads the sink configuration from a JSON file with
// optional environment overrides. Configuration errors are fatal at
// startup; nothing here is retried.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-json"

	"github.com/Edge2LoRa/e2l-as/pkg/logger"
)

const envConfigJSON = "E2L_CONFIG_JSON"

var (
	errInvalidConfigPtr = errors.New("config must be a non-nil pointer")
	errReadConfigFile   = errors.New("failed to read config file")
)

// Validator is implemented by configurations that can check themselves.
type Validator interface {
	Validate() error
}

// Loader loads and validates configuration structs.
type Loader struct {
	logger logger.Logger
}

// NewLoader creates a config loader.
func NewLoader(log logger.Logger) *Loader {
	return &Loader{logger: log}
}

// LoadAndValidate reads the JSON file at path into cfg, applies the
// E2L_CONFIG_JSON environment override on top if present, and runs
// cfg's Validate method when it has one.
func (l *Loader) LoadAndValidate(_ context.Context, path string, cfg interface{}) error {
	if cfg == nil {
		return errInvalidConfigPtr
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("%w %q: %w", errReadConfigFile, path, err)
		}

		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse config file %q: %w", path, err)
		}

		l.logger.Debug().Str("path", path).Msg("Loaded configuration file")
	}

	if raw := os.Getenv(envConfigJSON); raw != "" {
		if err := json.Unmarshal([]byte(raw), cfg); err != nil {
			return fmt.Errorf("failed to parse %s: %w", envConfigJSON, err)
		}

		l.logger.Info().Msg("Applied configuration override from environment")
	}

	if v, ok := cfg.(Validator); ok {
		if err := v.Validate(); err != nil {
			return err
		}
	}

	return nil
}
