// Package filter implements the three-stage packet-validation gauntlet
// every inbound datagram other than type 0 (passthrough) must pass
// before any further parsing: a fixed byte-range "basic" filter, a
// 2-byte "pittle" checksum, and a 15-byte magic-keyed "chonkle" token.
//
// The gauntlet's byte layout here follows the redesigned header this SDK
// uses (pittle at bytes[1..3), chonkle at bytes[3..18)); the basic
// filter's byte-range table and the pittle/chonkle generation algorithms
// themselves are bit-exact with the reference implementation's wire
// contract and must never be changed without a protocol version bump.
package filter

import "fmt"

const (
	// MinGatedPacketSize is the minimum length (other than type 0) that
	// can pass the basic filter.
	MinGatedPacketSize = 18

	// GauntletHeaderSize is the type(1) + pittle(2) + chonkle(15) prefix
	// WriteGauntlet fills in; packet payloads start right after it.
	GauntletHeaderSize = 18

	fnvOffsetBasis uint64 = 14695981039346656037
	fnvPrime       uint64 = 1099511628211
)

// fnv1a64 hashes data with the standard FNV-1a 64-bit algorithm.
func fnv1a64(chunks ...[]byte) uint64 {
	hash := fnvOffsetBasis
	for _, chunk := range chunks {
		for _, b := range chunk {
			hash ^= uint64(b)
			hash *= fnvPrime
		}
	}
	return hash
}

type byteRange struct {
	lo, hi byte
}

// basicRanges is the fixed per-byte range predicate over the first 16
// bytes. This table is part of the wire contract and must be reproduced
// byte-for-byte by any reimplementation.
var basicRanges = map[int]byteRange{
	0:  {0x01, 0x63},
	1:  {0x2A, 0x2D},
	2:  {0xC8, 0xE7},
	3:  {0x05, 0x44},
	5:  {0x4E, 0x51},
	6:  {0x60, 0xDF},
	7:  {0x64, 0xE3},
	10: {0x7C, 0x83},
	11: {0xAF, 0xB6},
	12: {0x21, 0x60},
	14: {0xD2, 0xF1},
	15: {0x11, 0x90},
}

// basicSets handles the two-byte-range-value and four-byte-value cases
// that don't fit a single contiguous range.
var basicSets = map[int][]byte{
	8:  {0x07, 0x4F},
	9:  {0x25, 0x53},
	13: {0x61, 0x05, 0x2B, 0x0D},
}

// Basic runs stage A: the fixed byte-range predicate. Type 0
// (passthrough) always passes. Packets shorter than MinGatedPacketSize
// fail (other than type 0).
func Basic(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	if data[0] == 0 {
		return true
	}
	if len(data) < MinGatedPacketSize {
		return false
	}
	for i, r := range basicRanges {
		if data[i] < r.lo || data[i] > r.hi {
			return false
		}
	}
	for i, set := range basicSets {
		ok := false
		for _, v := range set {
			if data[i] == v {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// Pittle computes the 2-byte stage-B checksum over from/to address
// bytes and the packet length.
func Pittle(fromAddr, toAddr []byte, packetLength int) [2]byte {
	var sum uint16
	for _, b := range fromAddr {
		sum += uint16(b)
	}
	for _, b := range toAddr {
		sum += uint16(b)
	}
	lenBytes := [4]byte{
		byte(packetLength),
		byte(packetLength >> 8),
		byte(packetLength >> 16),
		byte(packetLength >> 24),
	}
	for _, b := range lenBytes {
		sum += uint16(b)
	}
	sumLo := byte(sum)
	sumHi := byte(sum >> 8)

	var out [2]byte
	out[0] = 1 | (sumLo ^ sumHi ^ 193)
	out[1] = 1 | ((255 - out[0]) ^ 113)
	return out
}

// Chonkle computes the 15-byte stage-C token: FNV-1a-64 over
// (magic ‖ fromAddr ‖ toAddr ‖ packetLength), bit-shuffled into 15
// output bytes per the fixed mapping below.
func Chonkle(magic [8]byte, fromAddr, toAddr []byte, packetLength int) [15]byte {
	lenBytes := [4]byte{
		byte(packetLength),
		byte(packetLength >> 8),
		byte(packetLength >> 16),
		byte(packetLength >> 24),
	}
	hash := fnv1a64(magic[:], fromAddr, toAddr, lenBytes[:])

	var data [8]byte
	for i := 0; i < 8; i++ {
		data[i] = byte(hash >> (8 * i))
	}

	var out [15]byte
	out[0] = ((data[6] & 0xC0) >> 6) + 42
	out[1] = (data[3] & 0x1F) + 200
	out[2] = ((data[2] & 0xFC) >> 2) + 5
	out[3] = data[0]
	out[4] = (data[2] & 0x03) + 78
	out[5] = (data[4] & 0x7F) + 96
	out[6] = ((data[1] & 0xFC) >> 2) + 100
	if data[7]&1 == 0 {
		out[7] = 79
	} else {
		out[7] = 7
	}
	if data[4]&0x80 == 0 {
		out[8] = 37
	} else {
		out[8] = 83
	}
	out[9] = (data[5] & 0x07) + 124
	out[10] = ((data[1] & 0xE0) >> 5) + 175
	out[11] = (data[6] & 0x3F) + 33
	switch data[1] & 0x03 {
	case 0:
		out[12] = 97
	case 1:
		out[12] = 5
	case 2:
		out[12] = 43
	default:
		out[12] = 13
	}
	out[13] = ((data[5] & 0xF8) >> 3) + 210
	out[14] = ((data[7] & 0xFE) >> 1) + 17
	return out
}

// WriteGauntlet fills in bytes[1..3) and bytes[3..18) of data with the
// pittle and chonkle for the current magic. data must be at least
// MinGatedPacketSize bytes and its type byte (data[0]) already set.
func WriteGauntlet(data []byte, magic [8]byte, fromAddr, toAddr []byte) error {
	if len(data) < MinGatedPacketSize {
		return fmt.Errorf("filter: packet too short for gauntlet: %d bytes", len(data))
	}
	pittle := Pittle(fromAddr, toAddr, len(data))
	chonkle := Chonkle(magic, fromAddr, toAddr, len(data))
	copy(data[1:3], pittle[:])
	copy(data[3:18], chonkle[:])
	return nil
}

// Advanced runs stages B and C against one candidate magic. Type 0
// always passes; packets shorter than MinGatedPacketSize fail.
func Advanced(data []byte, magic [8]byte, fromAddr, toAddr []byte) bool {
	if len(data) == 0 {
		return false
	}
	if data[0] == 0 {
		return true
	}
	if len(data) < MinGatedPacketSize {
		return false
	}
	chonkle := Chonkle(magic, fromAddr, toAddr, len(data))
	if [15]byte(data[3:18]) != chonkle {
		return false
	}
	pittle := Pittle(fromAddr, toAddr, len(data))
	if [2]byte(data[1:3]) != pittle {
		return false
	}
	return true
}

// MagicSet is the triple-buffered rotating secret (current, upcoming,
// previous) the backend pushes; Verify tries all three, accepting a hit
// on any.
type MagicSet struct {
	Current  [8]byte
	Upcoming [8]byte
	Previous [8]byte
}

// Verify runs the full gauntlet (basic + advanced against all three
// magics).
func Verify(data []byte, magics MagicSet, fromAddr, toAddr []byte) bool {
	if !Basic(data) {
		return false
	}
	if data[0] == 0 {
		return true
	}
	return Advanced(data, magics.Current, fromAddr, toAddr) ||
		Advanced(data, magics.Upcoming, fromAddr, toAddr) ||
		Advanced(data, magics.Previous, fromAddr, toAddr)
}
