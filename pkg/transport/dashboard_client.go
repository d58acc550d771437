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

package transport

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/Edge2LoRa/e2l-as/pkg/models"
)

const dashboardServiceName = "e2l.v1.DashboardService"

// DashboardClient drives the experimenter dashboard. Every statistics
// push returns the dashboard's current parameters, which close the
// control loop back into the assignment policy.
type DashboardClient struct {
	conn *grpc.ClientConn
}

// DialDashboard connects to the dashboard's RPC endpoint.
func DialDashboard(target string) (*DashboardClient, error) {
	conn, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create dashboard client: %w", err)
	}

	return &DashboardClient{conn: conn}, nil
}

// Close tears down the connection.
func (c *DashboardClient) Close() {
	_ = c.conn.Close()
}

// PushStatistics sends one statistics report and returns the
// dashboard's reply parameters.
func (c *DashboardClient) PushStatistics(ctx context.Context, report *models.StatisticsReport) (*models.DashboardParams, error) {
	var params models.DashboardParams

	if err := c.invoke(ctx, "PushStatistics", report, &params); err != nil {
		return nil, err
	}

	return &params, nil
}

// PushLog sends one key-agreement log entry.
func (c *DashboardClient) PushLog(ctx context.Context, msg *models.LogMessage) error {
	var ack models.Ack

	return c.invoke(ctx, "PushLog", msg, &ack)
}

// PushJoinUpdate notifies the dashboard of a completed edge join.
func (c *DashboardClient) PushJoinUpdate(ctx context.Context, update *models.JoinUpdate) error {
	var ack models.Ack

	return c.invoke(ctx, "PushJoinUpdate", update, &ack)
}

func (c *DashboardClient) invoke(ctx context.Context, method string, in, out interface{}) error {
	fullMethod := "/" + dashboardServiceName + "/" + method

	if err := c.conn.Invoke(ctx, fullMethod, in, out); err != nil {
		return fmt.Errorf("dashboard call %s failed: %w", method, err)
	}

	return nil
}
