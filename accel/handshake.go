package accel

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/networknext/sdk-sub001/accelcrypto"
)

// Platform and connection-type identifiers carried in UpgradeResponse.
// The full platform/connection-type enumeration is out of scope; these
// cover the loopback example binaries.
const (
	PlatformLinux       uint8 = 1
	ConnectionTypeWired uint8 = 1
)

// upgradeRequest is the server->client handshake opener: buyer-signed,
// carries the session id the server has already committed to and the
// server's X25519 key-exchange public key.
type upgradeRequest struct {
	ProtocolVersion uint8
	SessionID       uint64
	ServerKXPublic  [32]byte
	UpgradeToken    [8]byte
}

func (r upgradeRequest) signingBytes() []byte {
	buf := make([]byte, 0, 1+8+32+8)
	buf = append(buf, r.ProtocolVersion)
	var seq [8]byte
	binary.LittleEndian.PutUint64(seq[:], r.SessionID)
	buf = append(buf, seq[:]...)
	buf = append(buf, r.ServerKXPublic[:]...)
	buf = append(buf, r.UpgradeToken[:]...)
	return buf
}

// encode appends the buyer's Ed25519 signature to the signing bytes.
func (r upgradeRequest) encode(buyerPrivateKey ed25519.PrivateKey) []byte {
	payload := r.signingBytes()
	sig := accelcrypto.SignUpgradeRequest(buyerPrivateKey, payload)
	return append(payload, sig...)
}

func decodeUpgradeRequest(data []byte, buyerPublicKey ed25519.PublicKey) (upgradeRequest, error) {
	const plainLen = 1 + 8 + 32 + 8
	if len(data) != plainLen+ed25519.SignatureSize {
		return upgradeRequest{}, fmt.Errorf("accel: upgrade request wrong size: %d bytes", len(data))
	}
	payload, sig := data[:plainLen], data[plainLen:]

	var r upgradeRequest
	r.ProtocolVersion = payload[0]
	r.SessionID = binary.LittleEndian.Uint64(payload[1:9])
	copy(r.ServerKXPublic[:], payload[9:41])
	copy(r.UpgradeToken[:], payload[41:49])

	if len(buyerPublicKey) > 0 && !accelcrypto.VerifyUpgradeRequest(buyerPublicKey, payload, sig) {
		return upgradeRequest{}, fmt.Errorf("accel: upgrade request signature verification failed")
	}
	return r, nil
}

// upgradeResponse is the client's unsigned reply: its own key-exchange
// public key, the public half of its per-hop route key pair, platform/
// connection-type identifiers, and an echo of the server's upgrade
// token (binds the response to the request that prompted it).
type upgradeResponse struct {
	ClientKXPublic  [32]byte
	RoutePublicKey  [32]byte
	PlatformID      uint8
	ConnectionType  uint8
	UpgradeTokenEcho [8]byte
}

func (r upgradeResponse) encode() []byte {
	buf := make([]byte, 0, 32+32+1+1+8)
	buf = append(buf, r.ClientKXPublic[:]...)
	buf = append(buf, r.RoutePublicKey[:]...)
	buf = append(buf, r.PlatformID, r.ConnectionType)
	buf = append(buf, r.UpgradeTokenEcho[:]...)
	return buf
}

func decodeUpgradeResponse(data []byte) (upgradeResponse, error) {
	const wantLen = 32 + 32 + 1 + 1 + 8
	if len(data) != wantLen {
		return upgradeResponse{}, fmt.Errorf("accel: upgrade response wrong size: %d bytes", len(data))
	}
	var r upgradeResponse
	copy(r.ClientKXPublic[:], data[0:32])
	copy(r.RoutePublicKey[:], data[32:64])
	r.PlatformID = data[64]
	r.ConnectionType = data[65]
	copy(r.UpgradeTokenEcho[:], data[66:74])
	return r, nil
}

// upgradeConfirm is the server's final handshake message: confirms the
// session id and its starting version.
type upgradeConfirm struct {
	SessionID      uint64
	SessionVersion uint8
}

func (c upgradeConfirm) encode() []byte {
	buf := make([]byte, 9)
	binary.LittleEndian.PutUint64(buf[0:8], c.SessionID)
	buf[8] = c.SessionVersion
	return buf
}

func decodeUpgradeConfirm(data []byte) (upgradeConfirm, error) {
	if len(data) != 9 {
		return upgradeConfirm{}, fmt.Errorf("accel: upgrade confirm wrong size: %d bytes", len(data))
	}
	return upgradeConfirm{
		SessionID:      binary.LittleEndian.Uint64(data[0:8]),
		SessionVersion: data[8],
	}, nil
}

func randomUpgradeToken() ([8]byte, error) {
	var tok [8]byte
	_, err := io.ReadFull(rand.Reader, tok[:])
	return tok, err
}
