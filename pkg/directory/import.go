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

package directory

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/goccy/go-json"
)

// importedDevice mirrors one entry of a The Things Stack bulk device
// export. Only the fields the sink needs are decoded.
type importedDevice struct {
	IDs struct {
		DeviceID string `json:"dev_id"`
		DevEUI   string `json:"dev_eui"`
	} `json:"ids"`
	Session struct {
		DevAddr string `json:"dev_addr"`
		Keys    struct {
			AppSKey struct {
				Key string `json:"key"`
			} `json:"app_s_key"`
			FNwkSIntKey struct {
				Key string `json:"key"`
			} `json:"f_nwk_s_int_key"`
		} `json:"keys"`
	} `json:"session"`
}

// ImportDeviceList loads a TTS bulk-export JSON file into the store.
// Imported devices start unassigned; session keys present in the file
// are taken over verbatim. It returns the EUIs of the imported devices
// in file order.
func (s *Store) ImportDeviceList(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read device list %q: %w", path, err)
	}

	var imported []importedDevice
	if err := json.Unmarshal(data, &imported); err != nil {
		return nil, fmt.Errorf("failed to parse device list %q: %w", path, err)
	}

	euis := make([]string, 0, len(imported))

	for _, dev := range imported {
		if dev.IDs.DevEUI == "" {
			continue
		}

		rec := DeviceRecord{
			DevID:   dev.IDs.DeviceID,
			DevEUI:  dev.IDs.DevEUI,
			DevAddr: dev.Session.DevAddr,
		}

		if raw := dev.Session.Keys.AppSKey.Key; raw != "" {
			key, err := hex.DecodeString(raw)
			if err != nil {
				return nil, fmt.Errorf("device %s: invalid app_s_key: %w", dev.IDs.DevEUI, err)
			}

			rec.EncKey = key
		}

		if raw := dev.Session.Keys.FNwkSIntKey.Key; raw != "" {
			key, err := hex.DecodeString(raw)
			if err != nil {
				return nil, fmt.Errorf("device %s: invalid f_nwk_s_int_key: %w", dev.IDs.DevEUI, err)
			}

			rec.IntKey = key
		}

		if err := s.UpsertDevice(rec); err != nil {
			return nil, fmt.Errorf("device %s: %w", dev.IDs.DevEUI, err)
		}

		euis = append(euis, dev.IDs.DevEUI)
	}

	return euis, nil
}
