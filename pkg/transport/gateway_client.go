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

const gatewayServiceName = "e2l.v1.GatewayService"

// GatewayClient drives one gateway's RPC surface. It implements
// directory.GatewayClient.
type GatewayClient struct {
	conn *grpc.ClientConn
}

// DialGateway connects to a gateway's RPC endpoint. The connection is
// lazy; failures surface on the first call.
func DialGateway(target string) (*GatewayClient, error) {
	conn, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway client: %w", err)
	}

	return &GatewayClient{conn: conn}, nil
}

// Close tears down the connection.
func (c *GatewayClient) Close() {
	_ = c.conn.Close()
}

// UpdateAggregationParams pushes new aggregation parameters.
func (c *GatewayClient) UpdateAggregationParams(ctx context.Context, params *models.AggregationParams) error {
	var resp models.StatusResponse

	return c.invoke(ctx, "UpdateAggregationParams", params, &resp)
}

// HandleEdPubInfo forwards a joining device's public key material and
// returns the gateway's intermediate point.
func (c *GatewayClient) HandleEdPubInfo(ctx context.Context, info *models.EdPubInfo) (*models.EdPubInfoResponse, error) {
	var resp models.EdPubInfoResponse

	if err := c.invoke(ctx, "HandleEdPubInfo", info, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

// AddDevices pushes a device list to the gateway.
func (c *GatewayClient) AddDevices(ctx context.Context, list *models.GatewayDeviceList) error {
	var resp models.StatusResponse

	return c.invoke(ctx, "AddDevices", list, &resp)
}

// RemoveDevice asks the gateway to relinquish a device and returns any
// aggregated data it was still holding.
func (c *GatewayClient) RemoveDevice(ctx context.Context, removal *models.DeviceRemoval) (*models.DeviceRemovalResponse, error) {
	var resp models.DeviceRemovalResponse

	if err := c.invoke(ctx, "RemoveDevice", removal, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

// SetActive toggles the gateway's processing state.
func (c *GatewayClient) SetActive(ctx context.Context, active bool) error {
	var resp models.StatusResponse

	return c.invoke(ctx, "SetActive", &models.ActiveFlag{IsActive: active}, &resp)
}

func (c *GatewayClient) invoke(ctx context.Context, method string, in, out interface{}) error {
	fullMethod := "/" + gatewayServiceName + "/" + method

	if err := c.conn.Invoke(ctx, fullMethod, in, out); err != nil {
		return fmt.Errorf("gateway call %s failed: %w", method, err)
	}

	return nil
}
