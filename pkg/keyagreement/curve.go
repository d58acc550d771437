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

// Package keyagreement implements the three-party Edge2LoRa key
// agreement: the sink, a gateway, and a device each contribute a P-256
// scalar, and the device/gateway pair ends up with a shared secret the
// sink never transmits.
//
// Points travel in compressed SEC1 form. The shared key material is the
// x-coordinate of s·g·d·G as a fixed-width 32-byte big-endian integer,
// which all three parties reach by commutativity of scalar
// multiplication.
package keyagreement

import (
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"math/big"
)

const (
	// SessionKeySize is the length of each derived session key.
	SessionKeySize = 16

	// sharedSecretSize is the width of the encoded x-coordinate.
	sharedSecretSize = 32
)

// ErrInvalidPoint is returned when a peer supplies bytes that do not
// decode to a point on P-256.
var ErrInvalidPoint = errors.New("invalid P-256 point encoding")

// KeyPair is the sink's process-wide P-256 key pair, generated once at
// startup. The private scalar never leaves the process.
type KeyPair struct {
	curve elliptic.Curve
	d     []byte
	x, y  *big.Int
}

// GenerateKeyPair creates a fresh P-256 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	curve := elliptic.P256()

	d, x, y, err := elliptic.GenerateKey(curve, rand.Reader)
	if err != nil {
		return nil, err
	}

	return &KeyPair{curve: curve, d: d, x: x, y: y}, nil
}

// PublicKey returns the sink's public point in compressed SEC1 form.
func (k *KeyPair) PublicKey() []byte {
	return elliptic.MarshalCompressed(k.curve, k.x, k.y)
}

// SharedPoint multiplies a peer's compressed public point by the sink's
// private scalar and returns the resulting point, compressed. This is
// the s·P value exchanged with gateways and devices during the
// handshake.
func (k *KeyPair) SharedPoint(compressed []byte) ([]byte, error) {
	px, py := elliptic.UnmarshalCompressed(k.curve, compressed)
	if px == nil {
		return nil, ErrInvalidPoint
	}

	sx, sy := k.curve.ScalarMult(px, py, k.d)

	return elliptic.MarshalCompressed(k.curve, sx, sy), nil
}

// SharedSecret multiplies a peer's compressed point by the sink's
// private scalar and returns the x-coordinate of the result as a
// fixed-width big-endian integer. This is the final key material of the
// handshake and is discarded by the caller after derivation.
func (k *KeyPair) SharedSecret(compressed []byte) ([]byte, error) {
	px, py := elliptic.UnmarshalCompressed(k.curve, compressed)
	if px == nil {
		return nil, ErrInvalidPoint
	}

	sx, _ := k.curve.ScalarMult(px, py, k.d)

	return sx.FillBytes(make([]byte, sharedSecretSize)), nil
}

// DeriveSessionKeys expands shared key material into the two 16-byte
// session keys. A single domain-separation byte keeps the integrity and
// encryption keys unrelated by any known transform.
func DeriveSessionKeys(secret []byte) (intKey, encKey []byte) {
	intDigest := sha256.Sum256(append([]byte{0x00}, secret...))
	encDigest := sha256.Sum256(append([]byte{0x01}, secret...))

	return intDigest[:SessionKeySize], encDigest[:SessionKeySize]
}
