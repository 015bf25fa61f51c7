package wire

import (
	"bytes"
	"testing"
)

func TestSealOpenHeaderRoundTrip(t *testing.T) {
	var key [32]byte
	copy(key[:], bytes.Repeat([]byte{0x55}, 32))

	h := RoutedHeader{Sequence: 99, SessionID: 0xABCD, SessionVersion: 2}
	payload := []byte("payload bytes")

	sealed, err := SealHeader(key, PacketClientToServer, h, payload)
	if err != nil {
		t.Fatalf("SealHeader: %v", err)
	}

	gotHeader, gotPayload, err := OpenHeader(key, PacketClientToServer, sealed)
	if err != nil {
		t.Fatalf("OpenHeader: %v", err)
	}
	if gotHeader != h {
		t.Fatalf("header mismatch: got %+v want %+v", gotHeader, h)
	}
	if !bytes.Equal(gotPayload, payload) {
		t.Fatalf("payload mismatch: got %q want %q", gotPayload, payload)
	}
}

func TestOpenHeaderWrongTypeFails(t *testing.T) {
	var key [32]byte
	copy(key[:], bytes.Repeat([]byte{0x55}, 32))
	h := RoutedHeader{Sequence: 1, SessionID: 2, SessionVersion: 3}
	sealed, err := SealHeader(key, PacketClientToServer, h, []byte("x"))
	if err != nil {
		t.Fatalf("SealHeader: %v", err)
	}
	if _, _, err := OpenHeader(key, PacketServerToClient, sealed); err == nil {
		t.Fatalf("expected error opening under a different packet type (nonce mismatch)")
	}
}

func TestPacketTypeCompatibilityContract(t *testing.T) {
	cases := map[PacketType]uint8{
		PacketRouteRequest:    1,
		PacketRouteResponse:   2,
		PacketClientToServer:  3,
		PacketServerToClient:  4,
		PacketSessionPing:     5,
		PacketSessionPong:     6,
		PacketContinueRequest: 7,
		PacketContinueResponse: 8,
		PacketClientPing:      9,
		PacketClientPong:      10,
		PacketServerPing:      13,
		PacketServerPong:      14,
		PacketDirect:          20,
		PacketDirectPing:      21,
		PacketDirectPong:      22,
		PacketUpgradeRequest:  23,
		PacketUpgradeResponse: 24,
		PacketUpgradeConfirm:  25,
		PacketRouteUpdate:     26,
		PacketRouteAck:        27,
		PacketClientStats:     28,
		PacketClientRelayUpdate: 29,
		PacketClientRelayAck:  30,
		PacketBackendServerInitRequest:     50,
		PacketBackendServerRelayResponse:   59,
	}
	for pt, want := range cases {
		if uint8(pt) != want {
			t.Fatalf("packet type %v: got byte value %d, want %d", pt, uint8(pt), want)
		}
	}
}

func TestRoutedPayloadClassification(t *testing.T) {
	if !PacketClientToServer.IsRoutedPayload() {
		t.Fatalf("client-to-server must classify as routed payload")
	}
	if PacketRouteUpdate.IsRoutedPayload() {
		t.Fatalf("route update is session-control, not routed payload")
	}
	if !PacketRouteUpdate.IsSessionControl() {
		t.Fatalf("route update must classify as session-control")
	}
}
