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
	"errors"
	"fmt"

	"github.com/Edge2LoRa/e2l-as/pkg/logger"
)

var (
	ErrMissingListenAddr   = errors.New("rpc listen address is required")
	ErrMissingBusURL       = errors.New("message bus url is required")
	ErrMissingUplinkTopic  = errors.New("network-server uplink topic is required")
	ErrMissingGatewayFeed  = errors.New("gateway feed subject is required")
	ErrModeConflict        = errors.New("dashboard address and experiment id are mutually exclusive")
	ErrModeUnset           = errors.New("either a dashboard address or an experiment id is required")
	ErrMissingDatabase     = errors.New("experiment mode requires a database configuration")
	ErrInvalidDatabasePort = errors.New("database port must be between 0 and 65535")
)

// BusConfig holds the message-bus connection settings shared by both
// feeds.
type BusConfig struct {
	URL      string `json:"url"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// DatabaseConfig holds the storage-backend connection settings.
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	SSLMode  string `json:"ssl_mode,omitempty"`
}

// HandoverConfig carries the gateway-shutdown experiment inputs. The
// numeric fields are kept as strings on purpose: a non-numeric or
// non-positive value disables the feature instead of failing startup.
type HandoverConfig struct {
	Enabled     bool   `json:"enabled"`
	DeviceCount string `json:"device_count,omitempty"`
	PacketCount string `json:"packet_count,omitempty"`
	Divisor     string `json:"packet_divisor,omitempty"`
}

// SinkConfig is the process configuration of the sink coordinator.
type SinkConfig struct {
	ListenAddr        string          `json:"listen_addr"`
	Bus               BusConfig       `json:"bus"`
	UplinkTopic       string          `json:"uplink_topic"`
	JoinTopic         string          `json:"join_topic"`
	DownlinkTopic     string          `json:"downlink_topic"`
	GatewayFeed       string          `json:"gateway_feed"`
	GatewayInput      string          `json:"gateway_input,omitempty"`
	DashboardAddr     string          `json:"dashboard_addr,omitempty"`
	ExperimentID      string          `json:"experiment_id,omitempty"`
	Database          *DatabaseConfig `json:"database,omitempty"`
	DeviceListFile    string          `json:"device_list_file,omitempty"`
	SplitFactor       int             `json:"split_factor"`
	GatewayCount      int             `json:"gateway_count"`
	DefaultWindowSize int             `json:"default_window_size"`
	SyncIntervalSecs  int             `json:"sync_interval_seconds"`
	Handover          HandoverConfig  `json:"handover"`
	Logging           logger.Config   `json:"logging"`
}

// Validate enforces the startup requirements: bus and RPC endpoints,
// uplink and gateway feeds, and exactly one of dashboard mode or
// storage (experiment) mode.
func (c *SinkConfig) Validate() error {
	if c.ListenAddr == "" {
		return ErrMissingListenAddr
	}

	if c.Bus.URL == "" {
		return ErrMissingBusURL
	}

	if c.UplinkTopic == "" {
		return ErrMissingUplinkTopic
	}

	if c.GatewayFeed == "" {
		return ErrMissingGatewayFeed
	}

	if c.DashboardAddr != "" && c.ExperimentID != "" {
		return ErrModeConflict
	}

	if c.DashboardAddr == "" && c.ExperimentID == "" {
		return ErrModeUnset
	}

	if c.ExperimentID != "" {
		if c.Database == nil {
			return ErrMissingDatabase
		}

		if c.Database.Port < 0 || c.Database.Port > 65535 {
			return fmt.Errorf("%w: %d", ErrInvalidDatabasePort, c.Database.Port)
		}
	}

	return nil
}

// ApplyDefaults fills the optional deployment parameters.
func (c *SinkConfig) ApplyDefaults() {
	if c.SplitFactor <= 0 {
		c.SplitFactor = 2
	}

	if c.GatewayCount <= 0 {
		c.GatewayCount = 2
	}

	if c.DefaultWindowSize <= 0 {
		c.DefaultWindowSize = 10
	}

	if c.SyncIntervalSecs <= 0 {
		c.SyncIntervalSecs = 5
	}

	if c.JoinTopic == "" {
		c.JoinTopic = c.UplinkTopic
	}

	if c.DownlinkTopic == "" {
		c.DownlinkTopic = "ns.downlink"
	}

	if c.GatewayInput == "" {
		c.GatewayInput = "e2l.gwinput"
	}
}
