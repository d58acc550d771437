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

package main

import (
	"context"
	"errors"
	"flag"
	stdlog "log"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Edge2LoRa/e2l-as/pkg/assignment"
	"github.com/Edge2LoRa/e2l-as/pkg/config"
	"github.com/Edge2LoRa/e2l-as/pkg/controlplane"
	"github.com/Edge2LoRa/e2l-as/pkg/db"
	"github.com/Edge2LoRa/e2l-as/pkg/directory"
	"github.com/Edge2LoRa/e2l-as/pkg/dispatch"
	grpcsrv "github.com/Edge2LoRa/e2l-as/pkg/grpc"
	"github.com/Edge2LoRa/e2l-as/pkg/handover"
	"github.com/Edge2LoRa/e2l-as/pkg/keyagreement"
	"github.com/Edge2LoRa/e2l-as/pkg/logger"
	"github.com/Edge2LoRa/e2l-as/pkg/models"
	"github.com/Edge2LoRa/e2l-as/pkg/stats"
	"github.com/Edge2LoRa/e2l-as/pkg/sysmon"
	"github.com/Edge2LoRa/e2l-as/pkg/transport"
)

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		stdlog.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/e2l/sink.json", "Path to sink config file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bootstrapLog := logger.NewLogger(logger.GetLogger())

	var cfg models.SinkConfig
	if err := config.NewLoader(bootstrapLog).LoadAndValidate(ctx, *configPath, &cfg); err != nil {
		return err
	}

	cfg.ApplyDefaults()

	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}

	log := logger.NewLogger(logger.GetLogger().With().Str("instance_id", uuid.NewString()).Logger())

	keys, err := keyagreement.GenerateKeyPair()
	if err != nil {
		return err
	}

	dir := directory.NewStore()
	agg := stats.NewAggregator()

	bus, err := transport.ConnectBus(cfg.Bus, log)
	if err != nil {
		return err
	}
	defer bus.Close()

	publisher := transport.NewBusPublisher(bus, agg, cfg.DownlinkTopic, cfg.GatewayInput, log)

	policy := assignment.NewPolicy(dir, publisher, assignment.Config{
		SplitFactor:  cfg.SplitFactor,
		GatewayCount: cfg.GatewayCount,
	}, log)

	syncInterval := time.Duration(cfg.SyncIntervalSecs) * time.Second

	var (
		events   keyagreement.EventSink
		docStore dispatch.DocumentStore
		sampler  *sysmon.Sampler
		runSync  func(context.Context) error
	)

	if cfg.ExperimentID != "" {
		pool, err := db.NewPool(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer pool.Close()

		store, err := db.NewExperimentStore(ctx, pool, cfg.ExperimentID, log)
		if err != nil {
			return err
		}

		loop := controlplane.NewStoreLoop(store, dir, agg, syncInterval, log)
		events = loop
		docStore = store
		sampler = sysmon.NewSampler(store, log)
		runSync = loop.Run

		// Without a dashboard the fleet runs the default window.
		policy.ApplyAggregationParams(ctx, models.AggregationAvg, cfg.DefaultWindowSize)
	} else {
		dash, err := transport.DialDashboard(cfg.DashboardAddr)
		if err != nil {
			return err
		}
		defer dash.Close()

		loop := controlplane.NewDashboardLoop(dash, dir, agg, policy, syncInterval, log)
		events = loop
		runSync = loop.Run
	}

	engine := keyagreement.NewEngine(keys, dir, agg, policy, publisher, events, log)
	hand := handover.NewController(dir, agg, cfg.Handover, log)

	dispatcher := dispatch.NewDispatcher(dir, agg, engine, policy, docStore, events, publisher, log)
	policy.SetEdgeDataSink(dispatcher)

	if cfg.DeviceListFile != "" {
		euis, err := dir.ImportDeviceList(cfg.DeviceListFile)
		if err != nil {
			return err
		}

		for _, eui := range euis {
			if rec, ok := dir.Device(eui); ok {
				agg.EnsureDevice(eui, rec.DevAddr)
			}
		}

		log.Info().Int("devices", len(euis)).Str("path", cfg.DeviceListFile).Msg("Imported device list")
	}

	srv := grpcsrv.NewServer(cfg.ListenAddr, log)
	sinkSvc := transport.NewSinkService(engine, log)
	srv.RegisterService(sinkSvc.ServiceDesc(), sinkSvc)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		srv.Stop(context.Background())

		return ctx.Err()
	})

	g.Go(func() error {
		return dispatcher.Run(ctx, bus, dispatch.FeedConfig{
			UplinkTopic: cfg.UplinkTopic,
			JoinTopic:   cfg.JoinTopic,
			GatewayFeed: cfg.GatewayFeed,
		})
	})

	g.Go(func() error { return runSync(ctx) })

	if hand.Enabled() {
		g.Go(func() error { return hand.Run(ctx) })
	}

	if sampler != nil {
		g.Go(func() error { return sampler.Run(ctx) })
	}

	log.Info().Str("listen_addr", cfg.ListenAddr).Msg("Sink coordinator started")

	return g.Wait()
}
