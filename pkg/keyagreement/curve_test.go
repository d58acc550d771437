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

package keyagreement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The device derives its secret from the sink's s·Pg point, the sink
// from the gateway's g·Pd point. Both paths must land on the same
// x-coordinate for any scalar triple.
func TestSharedSecretCommutativity(t *testing.T) {
	for i := 0; i < 100; i++ {
		sink, err := GenerateKeyPair()
		require.NoError(t, err)

		gateway, err := GenerateKeyPair()
		require.NoError(t, err)

		device, err := GenerateKeyPair()
		require.NoError(t, err)

		// Device path: d·(s·Pg)
		sinkShare, err := sink.SharedPoint(gateway.PublicKey())
		require.NoError(t, err)

		deviceSecret, err := device.SharedSecret(sinkShare)
		require.NoError(t, err)

		// Sink path: s·(g·Pd)
		gatewayShare, err := gateway.SharedPoint(device.PublicKey())
		require.NoError(t, err)

		sinkSecret, err := sink.SharedSecret(gatewayShare)
		require.NoError(t, err)

		require.Equal(t, deviceSecret, sinkSecret, "triple %d disagreed", i)
		require.Len(t, sinkSecret, sharedSecretSize)
	}
}

func TestDeriveSessionKeysDeterministic(t *testing.T) {
	sink, err := GenerateKeyPair()
	require.NoError(t, err)

	peer, err := GenerateKeyPair()
	require.NoError(t, err)

	secret, err := sink.SharedSecret(peer.PublicKey())
	require.NoError(t, err)

	int1, enc1 := DeriveSessionKeys(secret)
	int2, enc2 := DeriveSessionKeys(secret)

	assert.Equal(t, int1, int2)
	assert.Equal(t, enc1, enc2)
	assert.Len(t, int1, SessionKeySize)
	assert.Len(t, enc1, SessionKeySize)
	assert.NotEqual(t, int1, enc1, "integrity and encryption keys must differ")
}

func TestSharedPointRejectsGarbage(t *testing.T) {
	sink, err := GenerateKeyPair()
	require.NoError(t, err)

	tests := []struct {
		name  string
		input []byte
	}{
		{name: "empty", input: nil},
		{name: "short", input: []byte{0x02, 0x01}},
		{name: "bad prefix", input: append([]byte{0x09}, make([]byte, 32)...)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sink.SharedPoint(tt.input)
			assert.ErrorIs(t, err, ErrInvalidPoint)

			_, err = sink.SharedSecret(tt.input)
			assert.ErrorIs(t, err, ErrInvalidPoint)
		})
	}
}

func TestPublicKeyIsCompressed(t *testing.T) {
	sink, err := GenerateKeyPair()
	require.NoError(t, err)

	pub := sink.PublicKey()
	require.Len(t, pub, 33)
	assert.Contains(t, []byte{0x02, 0x03}, pub[0])
}
