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

package logger

import (
	"io"

	"github.com/rs/zerolog"
)

type Logger interface {
	Trace() *zerolog.Event
	Debug() *zerolog.Event
	Info() *zerolog.Event
	Warn() *zerolog.Event
	Error() *zerolog.Event
	Fatal() *zerolog.Event
	With() zerolog.Context
	WithComponent(component string) zerolog.Logger
}

type zlogger struct {
	logger zerolog.Logger
}

// NewLogger wraps a zerolog.Logger in the Logger interface.
func NewLogger(logger zerolog.Logger) Logger {
	return &zlogger{logger: logger}
}

func (z *zlogger) Trace() *zerolog.Event { return z.logger.Trace() }
func (z *zlogger) Debug() *zerolog.Event { return z.logger.Debug() }
func (z *zlogger) Info() *zerolog.Event  { return z.logger.Info() }
func (z *zlogger) Warn() *zerolog.Event  { return z.logger.Warn() }
func (z *zlogger) Error() *zerolog.Event { return z.logger.Error() }
func (z *zlogger) Fatal() *zerolog.Event { return z.logger.Fatal() }
func (z *zlogger) With() zerolog.Context { return z.logger.With() }
func (z *zlogger) WithComponent(component string) zerolog.Logger {
	return z.logger.With().Str("component", component).Logger()
}

// NewTestLogger creates a no-op logger for testing that discards all output.
func NewTestLogger() Logger {
	return &zlogger{logger: zerolog.New(io.Discard).Level(zerolog.Disabled)}
}
