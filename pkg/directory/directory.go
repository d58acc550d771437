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

// Package directory implements the sink's active directory: the shared
// record store for edge gateways (E2GWs) and edge devices (E2EDs).
//
// The store is the single shared-state nucleus of the coordinator and
// is safe for concurrent use. All accessors return copies; callers
// never hold references into the store. No operation may leave a device
// referencing a gateway that is not in the directory.
package directory

import (
	"context"
	"errors"
	"sync"

	"github.com/Edge2LoRa/e2l-as/pkg/models"
)

var (
	// ErrUnknownGateway is returned when an operation references a
	// gateway id that was never registered.
	ErrUnknownGateway = errors.New("unknown gateway")
	// ErrUnknownDevice is returned when an operation references a
	// device EUI that is not in the directory.
	ErrUnknownDevice = errors.New("unknown device")
)

// GatewayClient is the RPC surface the sink uses to drive a gateway.
// Implementations must honor context deadlines; every call the sink
// makes carries one.
type GatewayClient interface {
	UpdateAggregationParams(ctx context.Context, params *models.AggregationParams) error
	HandleEdPubInfo(ctx context.Context, info *models.EdPubInfo) (*models.EdPubInfoResponse, error)
	AddDevices(ctx context.Context, list *models.GatewayDeviceList) error
	RemoveDevice(ctx context.Context, removal *models.DeviceRemoval) (*models.DeviceRemovalResponse, error)
	SetActive(ctx context.Context, active bool) error
}

// GatewayRecord describes one registered gateway. SinkShare caches the
// compressed point s·Pg computed at registration time; it is reused for
// every device later assigned to this gateway.
type GatewayRecord struct {
	ID        string
	Address   string
	Port      int
	PublicKey []byte
	SinkShare []byte
	Client    GatewayClient
	Active    bool
}

// DeviceRecord describes one known device. GatewayID is empty until the
// device is assigned; IntKey/EncKey are nil until an edge join
// completes or keys are imported from the static device list.
type DeviceRecord struct {
	DevID     string
	DevEUI    string
	DevAddr   string
	GatewayID string
	IntKey    []byte
	EncKey    []byte
}

// HasKeys reports whether both session keys are present.
func (d *DeviceRecord) HasKeys() bool {
	return len(d.IntKey) > 0 && len(d.EncKey) > 0
}

// Store holds the gateway and device records plus the insertion-ordered
// id lists. Order matters: indices 0 and 1 are the primary/secondary
// gateways for log classification and handover, and device ordinals
// 0-2 are addressable by the legacy dashboard override.
type Store struct {
	mu         sync.RWMutex
	gateways   map[string]*GatewayRecord
	devices    map[string]*DeviceRecord
	gatewayIDs []string
	deviceEUIs []string
}

// NewStore creates an empty directory.
func NewStore() *Store {
	return &Store{
		gateways: make(map[string]*GatewayRecord),
		devices:  make(map[string]*DeviceRecord),
	}
}

// UpsertGateway registers a gateway or refreshes an existing record in
// place. Re-registration keeps the gateway's position in the id list
// and re-activates it. It returns true when the gateway was new.
func (s *Store) UpsertGateway(rec GatewayRecord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.gateways[rec.ID]
	if ok {
		existing.Address = rec.Address
		existing.Port = rec.Port
		existing.PublicKey = rec.PublicKey
		existing.SinkShare = rec.SinkShare
		existing.Client = rec.Client
		existing.Active = true

		return false
	}

	rec.Active = true
	s.gateways[rec.ID] = &rec
	s.gatewayIDs = append(s.gatewayIDs, rec.ID)

	return true
}

// Gateway returns a copy of the record for the given gateway id.
func (s *Store) Gateway(id string) (GatewayRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.gateways[id]
	if !ok {
		return GatewayRecord{}, false
	}

	return *rec, true
}

// GatewayAt returns the gateway at the given registration index.
func (s *Store) GatewayAt(index int) (GatewayRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if index < 0 || index >= len(s.gatewayIDs) {
		return GatewayRecord{}, false
	}

	return *s.gateways[s.gatewayIDs[index]], true
}

// GatewayIndex returns the registration index of a gateway, or -1.
func (s *Store) GatewayIndex(id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i, gid := range s.gatewayIDs {
		if gid == id {
			return i
		}
	}

	return -1
}

// GatewayIDs returns the gateway ids in registration order.
func (s *Store) GatewayIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]string(nil), s.gatewayIDs...)
}

// GatewayCount returns the number of registered gateways.
func (s *Store) GatewayCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.gatewayIDs)
}

// SetGatewayActive flips a gateway's liveness flag. Gateways are never
// deleted, only marked inactive.
func (s *Store) SetGatewayActive(id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.gateways[id]
	if !ok {
		return ErrUnknownGateway
	}

	rec.Active = active

	return nil
}

// UpsertDevice adds a device or updates an existing record in place. A
// non-empty GatewayID must reference a registered gateway.
func (s *Store) UpsertDevice(rec DeviceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.GatewayID != "" {
		if _, ok := s.gateways[rec.GatewayID]; !ok {
			return ErrUnknownGateway
		}
	}

	existing, ok := s.devices[rec.DevEUI]
	if ok {
		if rec.DevID != "" {
			existing.DevID = rec.DevID
		}

		if rec.DevAddr != "" {
			existing.DevAddr = rec.DevAddr
		}

		if rec.GatewayID != "" {
			existing.GatewayID = rec.GatewayID
		}

		if len(rec.IntKey) > 0 {
			existing.IntKey = rec.IntKey
		}

		if len(rec.EncKey) > 0 {
			existing.EncKey = rec.EncKey
		}

		return nil
	}

	s.devices[rec.DevEUI] = &rec
	s.deviceEUIs = append(s.deviceEUIs, rec.DevEUI)

	return nil
}

// Device returns a copy of the record for the given device EUI.
func (s *Store) Device(eui string) (DeviceRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.devices[eui]
	if !ok {
		return DeviceRecord{}, false
	}

	return *rec, true
}

// DeviceByAddr returns the first device with the given LoRaWAN address,
// scanning in insertion order.
func (s *Store) DeviceByAddr(addr string) (DeviceRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, eui := range s.deviceEUIs {
		if rec := s.devices[eui]; rec.DevAddr == addr {
			return *rec, true
		}
	}

	return DeviceRecord{}, false
}

// DeviceOrdinal returns the insertion ordinal of a device, or -1.
func (s *Store) DeviceOrdinal(eui string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i, e := range s.deviceEUIs {
		if e == eui {
			return i
		}
	}

	return -1
}

// DeviceEUIs returns the device EUIs in insertion order.
func (s *Store) DeviceEUIs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]string(nil), s.deviceEUIs...)
}

// Devices returns copies of all device records in insertion order.
func (s *Store) Devices() []DeviceRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]DeviceRecord, 0, len(s.deviceEUIs))
	for _, eui := range s.deviceEUIs {
		out = append(out, *s.devices[eui])
	}

	return out
}

// DevicesAssignedTo returns copies of the devices currently routed
// through the given gateway.
func (s *Store) DevicesAssignedTo(gatewayID string) []DeviceRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []DeviceRecord

	for _, eui := range s.deviceEUIs {
		if rec := s.devices[eui]; rec.GatewayID == gatewayID {
			out = append(out, *rec)
		}
	}

	return out
}

// SetAssignedGateway routes a device through a gateway. It fails
// without mutating anything if either side is unknown, preserving the
// directory invariant.
func (s *Store) SetAssignedGateway(eui, gatewayID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.gateways[gatewayID]; !ok {
		return ErrUnknownGateway
	}

	rec, ok := s.devices[eui]
	if !ok {
		return ErrUnknownDevice
	}

	rec.GatewayID = gatewayID

	return nil
}

// SetSessionKeys stores the two 16-byte session keys derived for a
// device. Only the key-agreement engine calls this.
func (s *Store) SetSessionKeys(eui string, intKey, encKey []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.devices[eui]
	if !ok {
		return ErrUnknownDevice
	}

	rec.IntKey = append([]byte(nil), intKey...)
	rec.EncKey = append([]byte(nil), encKey...)

	return nil
}
