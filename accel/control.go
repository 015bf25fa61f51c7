package accel

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/networknext/sdk-sub001/address"
	"github.com/networknext/sdk-sub001/relayping"
)

// Route update types carried inside a RouteUpdate session-control
// packet, mirroring next_route_manager_update's update_type dispatch.
const (
	updateTypeDirect   uint8 = 0
	updateTypeRoute    uint8 = 1
	updateTypeContinue uint8 = 2
)

// routeUpdatePayload is the plaintext carried inside a RouteUpdate
// packet: the update type and, for ROUTE/CONTINUE, the sealed token
// chain the peer's route manager decrypts hop by hop.
type routeUpdatePayload struct {
	UpdateType uint8
	Tokens     [][]byte
}

// encodeRouteUpdatePayload serializes a routeUpdatePayload as
// update_type(1) | token_count(2) | (token_length(2) | token_bytes)*.
func encodeRouteUpdatePayload(u routeUpdatePayload) []byte {
	size := 1 + 2
	for _, tk := range u.Tokens {
		size += 2 + len(tk)
	}
	buf := make([]byte, size)
	buf[0] = u.UpdateType
	binary.LittleEndian.PutUint16(buf[1:3], uint16(len(u.Tokens)))
	offset := 3
	for _, tk := range u.Tokens {
		binary.LittleEndian.PutUint16(buf[offset:offset+2], uint16(len(tk)))
		offset += 2
		copy(buf[offset:offset+len(tk)], tk)
		offset += len(tk)
	}
	return buf
}

// decodeRouteUpdatePayload reverses encodeRouteUpdatePayload.
func decodeRouteUpdatePayload(data []byte) (routeUpdatePayload, error) {
	if len(data) < 3 {
		return routeUpdatePayload{}, fmt.Errorf("%w: route update payload too short", ErrMalformedPacket)
	}
	u := routeUpdatePayload{UpdateType: data[0]}
	count := int(binary.LittleEndian.Uint16(data[1:3]))
	offset := 3
	for i := 0; i < count; i++ {
		if offset+2 > len(data) {
			return routeUpdatePayload{}, fmt.Errorf("%w: route update token count truncated", ErrMalformedPacket)
		}
		length := int(binary.LittleEndian.Uint16(data[offset : offset+2]))
		offset += 2
		if offset+length > len(data) {
			return routeUpdatePayload{}, fmt.Errorf("%w: route update token truncated", ErrMalformedPacket)
		}
		tk := make([]byte, length)
		copy(tk, data[offset:offset+length])
		u.Tokens = append(u.Tokens, tk)
		offset += length
	}
	return u, nil
}

// encodeRouteAckPayload carries nothing of its own: the ack is
// identified entirely by the RoutedHeader sequence it echoes back.
func encodeRouteAckPayload() []byte { return nil }

// clientPingPayloadBytes is the fixed part sequence(8) + session_id(8) +
// expire_timestamp(8); the ping_token follows it.
const clientPingPayloadBytes = 8 + 8 + 8

// encodeClientPingPayload builds the plaintext body of a ClientPing
// packet: token-authenticated, not AEAD-encrypted, matching the near-
// relay ping's "unencrypted payload" wire contract.
func encodeClientPingPayload(sequence, sessionID, expireTimestamp uint64, pingToken []byte) []byte {
	buf := make([]byte, clientPingPayloadBytes+len(pingToken))
	binary.LittleEndian.PutUint64(buf[0:8], sequence)
	binary.LittleEndian.PutUint64(buf[8:16], sessionID)
	binary.LittleEndian.PutUint64(buf[16:24], expireTimestamp)
	copy(buf[24:], pingToken)
	return buf
}

func decodeClientPingPayload(data []byte) (sequence, sessionID, expireTimestamp uint64, pingToken []byte, err error) {
	if len(data) < clientPingPayloadBytes {
		return 0, 0, 0, nil, fmt.Errorf("%w: client ping payload too short", ErrMalformedPacket)
	}
	sequence = binary.LittleEndian.Uint64(data[0:8])
	sessionID = binary.LittleEndian.Uint64(data[8:16])
	expireTimestamp = binary.LittleEndian.Uint64(data[16:24])
	pingToken = data[24:]
	return sequence, sessionID, expireTimestamp, pingToken, nil
}

func encodeClientPongPayload(sequence uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, sequence)
	return buf
}

func decodeClientPongPayload(data []byte) (uint64, error) {
	if len(data) < 8 {
		return 0, fmt.Errorf("%w: client pong payload too short", ErrMalformedPacket)
	}
	return binary.LittleEndian.Uint64(data[0:8]), nil
}

// clientStatsPayload is the endpoint-reported stats §4.7 calls for:
// round-trip stats for the session's own current path (the "next"
// path, measured via session ping/pong), whether the sender is
// currently bandwidth-limited, and the per-near-relay stats relayping
// already derives.
type clientStatsPayload struct {
	NextRTT            float64
	NextJitter         float64
	NextPacketLoss     float64
	BandwidthOverLimit bool
	NearRelays         []relayping.RelayStats
}

const clientStatsFixedBytes = 8 + 8 + 8 + 1 + 2
const relayStatsBytes = 8 + 8 + 8 + 8

func putFloat64(buf []byte, v float64) {
	binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
}

func getFloat64(buf []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(buf))
}

func encodeClientStatsPayload(s clientStatsPayload) []byte {
	buf := make([]byte, clientStatsFixedBytes+len(s.NearRelays)*relayStatsBytes)
	putFloat64(buf[0:8], s.NextRTT)
	putFloat64(buf[8:16], s.NextJitter)
	putFloat64(buf[16:24], s.NextPacketLoss)
	if s.BandwidthOverLimit {
		buf[24] = 1
	}
	binary.LittleEndian.PutUint16(buf[25:27], uint16(len(s.NearRelays)))
	offset := clientStatsFixedBytes
	for _, r := range s.NearRelays {
		binary.LittleEndian.PutUint64(buf[offset:offset+8], r.RelayID)
		putFloat64(buf[offset+8:offset+16], r.RTT)
		putFloat64(buf[offset+16:offset+24], r.Jitter)
		putFloat64(buf[offset+24:offset+32], r.PacketLoss)
		offset += relayStatsBytes
	}
	return buf
}

// encodeRelayListPayload serializes a backend-pushed near-relay set for
// the ClientRelayUpdate packet a server forwards to its client. Relay
// addresses are IPv4 only, matching the route token's own NextAddress
// field.
func encodeRelayListPayload(relays []relayping.Relay) []byte {
	size := 2
	for _, r := range relays {
		size += 8 + 4 + 2 + 8 + 2 + len(r.PingToken)
	}
	buf := make([]byte, size)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(relays)))
	offset := 2
	for _, r := range relays {
		binary.LittleEndian.PutUint64(buf[offset:offset+8], r.ID)
		offset += 8
		copy(buf[offset:offset+4], r.Address.IP4[:])
		offset += 4
		binary.LittleEndian.PutUint16(buf[offset:offset+2], r.Address.Port)
		offset += 2
		binary.LittleEndian.PutUint64(buf[offset:offset+8], r.ExpireTimestamp)
		offset += 8
		binary.LittleEndian.PutUint16(buf[offset:offset+2], uint16(len(r.PingToken)))
		offset += 2
		copy(buf[offset:offset+len(r.PingToken)], r.PingToken)
		offset += len(r.PingToken)
	}
	return buf
}

func decodeRelayListPayload(data []byte) ([]relayping.Relay, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: relay list payload too short", ErrMalformedPacket)
	}
	count := int(binary.LittleEndian.Uint16(data[0:2]))
	offset := 2
	relays := make([]relayping.Relay, 0, count)
	for i := 0; i < count; i++ {
		if offset+8+4+2+8+2 > len(data) {
			return nil, fmt.Errorf("%w: relay list entry truncated", ErrMalformedPacket)
		}
		var r relayping.Relay
		r.ID = binary.LittleEndian.Uint64(data[offset : offset+8])
		offset += 8
		r.Address.Type = address.IPv4
		copy(r.Address.IP4[:], data[offset:offset+4])
		offset += 4
		r.Address.Port = binary.LittleEndian.Uint16(data[offset : offset+2])
		offset += 2
		r.ExpireTimestamp = binary.LittleEndian.Uint64(data[offset : offset+8])
		offset += 8
		tokenLen := int(binary.LittleEndian.Uint16(data[offset : offset+2]))
		offset += 2
		if offset+tokenLen > len(data) {
			return nil, fmt.Errorf("%w: relay list ping token truncated", ErrMalformedPacket)
		}
		r.PingToken = make([]byte, tokenLen)
		copy(r.PingToken, data[offset:offset+tokenLen])
		offset += tokenLen
		relays = append(relays, r)
	}
	return relays, nil
}

func decodeClientStatsPayload(data []byte) (clientStatsPayload, error) {
	if len(data) < clientStatsFixedBytes {
		return clientStatsPayload{}, fmt.Errorf("%w: client stats payload too short", ErrMalformedPacket)
	}
	s := clientStatsPayload{
		NextRTT:            getFloat64(data[0:8]),
		NextJitter:         getFloat64(data[8:16]),
		NextPacketLoss:     getFloat64(data[16:24]),
		BandwidthOverLimit: data[24] != 0,
	}
	count := int(binary.LittleEndian.Uint16(data[25:27]))
	offset := clientStatsFixedBytes
	for i := 0; i < count; i++ {
		if offset+relayStatsBytes > len(data) {
			return clientStatsPayload{}, fmt.Errorf("%w: client stats near-relay entry truncated", ErrMalformedPacket)
		}
		s.NearRelays = append(s.NearRelays, relayping.RelayStats{
			RelayID:    binary.LittleEndian.Uint64(data[offset : offset+8]),
			RTT:        getFloat64(data[offset+8 : offset+16]),
			Jitter:     getFloat64(data[offset+16 : offset+24]),
			PacketLoss: getFloat64(data[offset+24 : offset+32]),
		})
		offset += relayStatsBytes
	}
	return s, nil
}
