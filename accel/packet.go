package accel

import (
	"encoding/binary"
	"fmt"

	"github.com/networknext/sdk-sub001/address"
	"github.com/networknext/sdk-sub001/filter"
	"github.com/networknext/sdk-sub001/wire"
)

// DirectHeaderBytes is the fixed prefix on every pre-upgrade (and
// always-direct) payload packet: the 18-byte gauntlet header, a 1-byte
// open-session sequence, and an 8-byte send sequence.
const DirectHeaderBytes = filter.GauntletHeaderSize + 1 + 8

// encodeDirect builds a gated direct-traffic packet: type(1) |
// pittle(2) | chonkle(15) | open_session_sequence(1) | send_sequence(8)
// | payload.
func encodeDirect(magic [8]byte, from, to address.Address, openSeq uint8, sendSeq uint64, payload []byte) ([]byte, error) {
	data := make([]byte, DirectHeaderBytes+len(payload))
	data[0] = byte(wire.PacketDirect)
	data[filter.GauntletHeaderSize] = openSeq
	binary.LittleEndian.PutUint64(data[filter.GauntletHeaderSize+1:filter.GauntletHeaderSize+9], sendSeq)
	copy(data[DirectHeaderBytes:], payload)

	if err := filter.WriteGauntlet(data, magic, from.Bytes(), to.Bytes()); err != nil {
		return nil, fmt.Errorf("accel: write direct packet gauntlet: %w", err)
	}
	return data, nil
}

// decodeDirect verifies and unpacks a gated direct-traffic packet.
func decodeDirect(data []byte, magics filter.MagicSet, from, to address.Address) (openSeq uint8, sendSeq uint64, payload []byte, err error) {
	if len(data) < DirectHeaderBytes {
		return 0, 0, nil, fmt.Errorf("%w: direct packet too short: %d bytes", ErrMalformedPacket, len(data))
	}
	if !filter.Verify(data, magics, from.Bytes(), to.Bytes()) {
		return 0, 0, nil, fmt.Errorf("%w: direct packet failed filter gauntlet", ErrUnauthenticated)
	}
	openSeq = data[filter.GauntletHeaderSize]
	sendSeq = binary.LittleEndian.Uint64(data[filter.GauntletHeaderSize+1 : filter.GauntletHeaderSize+9])
	payload = data[DirectHeaderBytes:]
	return openSeq, sendSeq, payload, nil
}

// encodeHandshake wraps a handshake payload (upgrade request/response/
// confirm) behind the same gauntlet every non-passthrough packet type
// carries.
func encodeHandshake(packetType wire.PacketType, magic [8]byte, from, to address.Address, payload []byte) ([]byte, error) {
	data := make([]byte, filter.GauntletHeaderSize+len(payload))
	data[0] = byte(packetType)
	copy(data[filter.GauntletHeaderSize:], payload)
	if err := filter.WriteGauntlet(data, magic, from.Bytes(), to.Bytes()); err != nil {
		return nil, fmt.Errorf("accel: write handshake packet gauntlet: %w", err)
	}
	return data, nil
}

// decodeHandshake verifies the gauntlet and returns the handshake
// payload bytes following it.
func decodeHandshake(data []byte, magics filter.MagicSet, from, to address.Address) (payload []byte, err error) {
	if len(data) < filter.MinGatedPacketSize {
		return nil, fmt.Errorf("%w: handshake packet too short: %d bytes", ErrMalformedPacket, len(data))
	}
	if !filter.Verify(data, magics, from.Bytes(), to.Bytes()) {
		return nil, fmt.Errorf("%w: handshake packet failed filter gauntlet", ErrUnauthenticated)
	}
	return data[filter.GauntletHeaderSize:], nil
}

// encodeRouted prepends the wire packet-type byte routing.Manager's
// sealed frames don't carry themselves, the discriminator handlePacket
// dispatches every inbound packet on.
func encodeRouted(packetType wire.PacketType, sealed []byte) []byte {
	out := make([]byte, 1+len(sealed))
	out[0] = byte(packetType)
	copy(out[1:], sealed)
	return out
}

// decodeRouted strips the leading packet-type byte encodeRouted adds,
// returning the bytes routing.Manager's Process* methods expect.
func decodeRouted(data []byte) ([]byte, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("%w: routed packet too short: %d bytes", ErrMalformedPacket, len(data))
	}
	return data[1:], nil
}
