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
	"net"
	"strconv"

	"google.golang.org/grpc"

	"github.com/Edge2LoRa/e2l-as/pkg/directory"
	"github.com/Edge2LoRa/e2l-as/pkg/logger"
	"github.com/Edge2LoRa/e2l-as/pkg/models"
)

const sinkServiceName = "e2l.v1.SinkService"

// GatewayRegistrar admits gateways into the active directory.
type GatewayRegistrar interface {
	RegisterGateway(ctx context.Context, reg *models.GatewayRegistration, client directory.GatewayClient) error
}

// SinkService is the gateway-facing registration service.
type SinkService struct {
	registrar GatewayRegistrar
	logger    logger.Logger
}

// NewSinkService creates the registration service.
func NewSinkService(registrar GatewayRegistrar, log logger.Logger) *SinkService {
	return &SinkService{registrar: registrar, logger: log}
}

// RegisterGateway handles one gateway registration call: it dials the
// gateway's own RPC endpoint back and hands both the registration and
// the resulting client to the key-agreement engine.
func (s *SinkService) RegisterGateway(ctx context.Context, req *models.GatewayRegistration) (*models.GatewayRegistrationResponse, error) {
	target := net.JoinHostPort(req.Address, strconv.Itoa(req.Port))

	client, err := DialGateway(target)
	if err != nil {
		s.logger.Error().Err(err).Str("target", target).Msg("Failed to dial gateway back")

		return nil, fmt.Errorf("failed to dial gateway %s: %w", target, err)
	}

	if err := s.registrar.RegisterGateway(ctx, req, client); err != nil {
		client.Close()

		return nil, err
	}

	return &models.GatewayRegistrationResponse{StatusCode: 0}, nil
}

// ServiceDesc returns the hand-written service descriptor for
// registration with the server wrapper.
func (s *SinkService) ServiceDesc() *grpc.ServiceDesc {
	return &grpc.ServiceDesc{
		ServiceName: sinkServiceName,
		HandlerType: (*sinkServiceServer)(nil),
		Methods: []grpc.MethodDesc{
			{
				MethodName: "RegisterGateway",
				Handler:    registerGatewayHandler,
			},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "e2l/v1/sink.json",
	}
}

type sinkServiceServer interface {
	RegisterGateway(ctx context.Context, req *models.GatewayRegistration) (*models.GatewayRegistrationResponse, error)
}

func registerGatewayHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(models.GatewayRegistration)
	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(sinkServiceServer).RegisterGateway(ctx, in)
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + sinkServiceName + "/RegisterGateway",
	}

	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(sinkServiceServer).RegisterGateway(ctx, req.(*models.GatewayRegistration))
	}

	return interceptor(ctx, in, info, handler)
}
