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

package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() SinkConfig {
	return SinkConfig{
		ListenAddr:   ":50051",
		Bus:          BusConfig{URL: "nats://localhost:4222"},
		UplinkTopic:  "ns.uplink",
		GatewayFeed:  "e2l.gw",
		ExperimentID: "run-1",
		Database:     &DatabaseConfig{Host: "localhost", Port: 5432, Database: "e2l"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*SinkConfig)
		wantErr error
	}{
		{name: "valid storage mode", mutate: func(_ *SinkConfig) {}},
		{
			name: "valid dashboard mode",
			mutate: func(c *SinkConfig) {
				c.ExperimentID = ""
				c.Database = nil
				c.DashboardAddr = "localhost:50052"
			},
		},
		{
			name:    "missing listen addr",
			mutate:  func(c *SinkConfig) { c.ListenAddr = "" },
			wantErr: ErrMissingListenAddr,
		},
		{
			name:    "missing bus url",
			mutate:  func(c *SinkConfig) { c.Bus.URL = "" },
			wantErr: ErrMissingBusURL,
		},
		{
			name:    "missing uplink topic",
			mutate:  func(c *SinkConfig) { c.UplinkTopic = "" },
			wantErr: ErrMissingUplinkTopic,
		},
		{
			name:    "missing gateway feed",
			mutate:  func(c *SinkConfig) { c.GatewayFeed = "" },
			wantErr: ErrMissingGatewayFeed,
		},
		{
			name:    "both modes set",
			mutate:  func(c *SinkConfig) { c.DashboardAddr = "localhost:50052" },
			wantErr: ErrModeConflict,
		},
		{
			name: "no mode set",
			mutate: func(c *SinkConfig) {
				c.ExperimentID = ""
				c.Database = nil
			},
			wantErr: ErrModeUnset,
		},
		{
			name:    "experiment without database",
			mutate:  func(c *SinkConfig) { c.Database = nil },
			wantErr: ErrMissingDatabase,
		},
		{
			name:    "bad database port",
			mutate:  func(c *SinkConfig) { c.Database.Port = 70000 },
			wantErr: ErrInvalidDatabasePort,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				require.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := validConfig()
	cfg.ApplyDefaults()

	assert.Equal(t, 2, cfg.SplitFactor)
	assert.Equal(t, 2, cfg.GatewayCount)
	assert.Equal(t, 10, cfg.DefaultWindowSize)
	assert.Equal(t, 5, cfg.SyncIntervalSecs)
	assert.Equal(t, cfg.UplinkTopic, cfg.JoinTopic)
	assert.Equal(t, "ns.downlink", cfg.DownlinkTopic)
	assert.Equal(t, "e2l.gwinput", cfg.GatewayInput)
}

func TestApplyDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := validConfig()
	cfg.SplitFactor = 4
	cfg.JoinTopic = "ns.join"
	cfg.ApplyDefaults()

	assert.Equal(t, 4, cfg.SplitFactor)
	assert.Equal(t, "ns.join", cfg.JoinTopic)
}

func TestParseAggregationFunction(t *testing.T) {
	tests := []struct {
		name string
		want AggregationFunction
		ok   bool
	}{
		{name: "avg", want: AggregationAvg, ok: true},
		{name: "mean", want: AggregationAvg, ok: true},
		{name: "sum", want: AggregationSum, ok: true},
		{name: "min", want: AggregationMin, ok: true},
		{name: "max", want: AggregationMax, ok: true},
		{name: "median", want: AggregationAvg, ok: false},
		{name: "", want: AggregationAvg, ok: false},
	}

	for _, tt := range tests {
		fn, ok := ParseAggregationFunction(tt.name)
		assert.Equal(t, tt.want, fn, "name %q", tt.name)
		assert.Equal(t, tt.ok, ok, "name %q", tt.name)
	}
}
