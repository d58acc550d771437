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

// Package sysmon samples the sink's own host resources during an
// experiment so runs can be compared for resource cost, not just
// protocol behavior.
package sysmon

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"

	"github.com/Edge2LoRa/e2l-as/pkg/logger"
	"github.com/Edge2LoRa/e2l-as/pkg/models"
)

const sampleInterval = time.Second

// moduleID marks the sink's own samples in the shared sys document
// stream, which otherwise carries gateway ids.
const moduleID = "dm"

// SysStore persists host-resource samples.
type SysStore interface {
	PersistSys(ctx context.Context, doc *models.SysDocument) error
}

// Sampler periodically writes host-resource samples.
type Sampler struct {
	store  SysStore
	logger logger.Logger
	now    func() time.Time
}

// NewSampler creates the sampler.
func NewSampler(store SysStore, log logger.Logger) *Sampler {
	return &Sampler{store: store, logger: log, now: time.Now}
}

// Run samples once per second until the context ends.
func (s *Sampler) Run(ctx context.Context) error {
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sample(ctx)
		}
	}
}

func (s *Sampler) sample(ctx context.Context) {
	doc := &models.SysDocument{
		ID:        s.now().UTC().Format(time.RFC3339Nano),
		Type:      models.DocTypeSys,
		GatewayID: moduleID,
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		doc.MemoryUsage = vm.Used
		doc.MemoryAvailable = vm.Available
	} else {
		s.logger.Debug().Err(err).Msg("Memory sample failed")
	}

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		doc.CPUUsage = percents[0]
	} else if err != nil {
		s.logger.Debug().Err(err).Msg("CPU sample failed")
	}

	if counters, err := gnet.IOCountersWithContext(ctx, false); err == nil && len(counters) > 0 {
		doc.DataReceived = int64(counters[0].BytesRecv)
		doc.DataTransmitted = int64(counters[0].BytesSent)
	} else if err != nil {
		s.logger.Debug().Err(err).Msg("Network sample failed")
	}

	if err := s.store.PersistSys(ctx, doc); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to persist host sample")
	}
}
