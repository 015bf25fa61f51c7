package filter

import "testing"

func TestBasicPassthroughType(t *testing.T) {
	if !Basic([]byte{0}) {
		t.Fatalf("type 0 passthrough must always pass")
	}
	if !Basic([]byte{0, 1, 2}) {
		t.Fatalf("type 0 passthrough must always pass regardless of trailing bytes")
	}
}

func TestBasicRejectsShort(t *testing.T) {
	if Basic(nil) {
		t.Fatalf("empty packet must fail")
	}
	data := make([]byte, 17)
	data[0] = 1
	if Basic(data) {
		t.Fatalf("17-byte non-passthrough packet must fail (min is 18)")
	}
}

func validGatedPacket() []byte {
	data := make([]byte, 18)
	data[0] = 0x01
	data[1] = 0x2A
	data[2] = 0xC8
	data[3] = 0x05
	data[4] = 0x00
	data[5] = 0x4E
	data[6] = 0x60
	data[7] = 0x64
	data[8] = 0x07
	data[9] = 0x25
	data[10] = 0x7C
	data[11] = 0xAF
	data[12] = 0x21
	data[13] = 0x61
	data[14] = 0xD2
	data[15] = 0x11
	return data
}

func TestBasicAcceptsInRangeTemplate(t *testing.T) {
	if !Basic(validGatedPacket()) {
		t.Fatalf("expected handcrafted in-range packet to pass stage A")
	}
}

func TestBasicRejectsOutOfRangeByte(t *testing.T) {
	data := validGatedPacket()
	data[5] = 0x99 // outside [0x4E, 0x51]
	if Basic(data) {
		t.Fatalf("expected out-of-range byte 5 to fail stage A")
	}
}

func TestBasicByte13Enumeration(t *testing.T) {
	for _, v := range []byte{0x61, 0x05, 0x2B, 0x0D} {
		data := validGatedPacket()
		data[13] = v
		if !Basic(data) {
			t.Fatalf("byte 13 = 0x%02X should be accepted", v)
		}
	}
	data := validGatedPacket()
	data[13] = 0xFF
	if Basic(data) {
		t.Fatalf("byte 13 = 0xFF should be rejected")
	}
}

func TestPittleDeterministic(t *testing.T) {
	from := []byte{1, 2, 3, 4}
	to := []byte{5, 6, 7, 8}
	a := Pittle(from, to, 100)
	b := Pittle(from, to, 100)
	if a != b {
		t.Fatalf("pittle must be deterministic for identical inputs")
	}
	// The pittle forces its low bit to 1, so lengths 100 and 101 share a
	// pittle; 102 changes the hashed sum in a higher bit.
	c := Pittle(from, to, 102)
	if a == c {
		t.Fatalf("pittle should change when packet length changes")
	}
}

func TestChonkleDeterministic(t *testing.T) {
	magic := [8]byte{1, 2, 3, 4, 5, 6, 7, 8}
	from := []byte{1, 2, 3, 4}
	to := []byte{5, 6, 7, 8}
	a := Chonkle(magic, from, to, 100)
	b := Chonkle(magic, from, to, 100)
	if a != b {
		t.Fatalf("chonkle must be deterministic for identical inputs")
	}
	var otherMagic [8]byte
	c := Chonkle(otherMagic, from, to, 100)
	if a == c {
		t.Fatalf("chonkle should change when magic changes")
	}
}

func TestWriteGauntletThenAdvancedVerifies(t *testing.T) {
	magic := [8]byte{9, 9, 9, 9, 9, 9, 9, 9}
	from := []byte{10, 0, 0, 1}
	to := []byte{10, 0, 0, 2}

	data := validGatedPacket()
	if err := WriteGauntlet(data, magic, from, to); err != nil {
		t.Fatalf("WriteGauntlet: %v", err)
	}
	if !Advanced(data, magic, from, to) {
		t.Fatalf("expected freshly written gauntlet to verify")
	}
}

func TestSingleByteCorruptionFailsGauntlet(t *testing.T) {
	magic := [8]byte{9, 9, 9, 9, 9, 9, 9, 9}
	from := []byte{10, 0, 0, 1}
	to := []byte{10, 0, 0, 2}

	base := validGatedPacket()
	if err := WriteGauntlet(base, magic, from, to); err != nil {
		t.Fatalf("WriteGauntlet: %v", err)
	}

	for i := 1; i < MinGatedPacketSize; i++ {
		corrupt := append([]byte(nil), base...)
		corrupt[i] ^= 0xFF
		if Advanced(corrupt, magic, from, to) {
			t.Fatalf("single-byte corruption at offset %d should fail the gauntlet", i)
		}
	}
}

func TestVerifyTriesAllThreeMagics(t *testing.T) {
	current := [8]byte{1, 1, 1, 1, 1, 1, 1, 1}
	upcoming := [8]byte{2, 2, 2, 2, 2, 2, 2, 2}
	previous := [8]byte{3, 3, 3, 3, 3, 3, 3, 3}
	from := []byte{10, 0, 0, 1}
	to := []byte{10, 0, 0, 2}

	data := validGatedPacket()
	if err := WriteGauntlet(data, previous, from, to); err != nil {
		t.Fatalf("WriteGauntlet: %v", err)
	}

	magics := MagicSet{Current: current, Upcoming: upcoming, Previous: previous}
	if !Verify(data, magics, from, to) {
		t.Fatalf("expected packet written under previous magic to verify")
	}
}

func TestVerifyFailsUnknownMagic(t *testing.T) {
	data := validGatedPacket()
	from := []byte{10, 0, 0, 1}
	to := []byte{10, 0, 0, 2}
	if err := WriteGauntlet(data, [8]byte{7, 7, 7, 7, 7, 7, 7, 7}, from, to); err != nil {
		t.Fatalf("WriteGauntlet: %v", err)
	}
	magics := MagicSet{
		Current:  [8]byte{1, 1, 1, 1, 1, 1, 1, 1},
		Upcoming: [8]byte{2, 2, 2, 2, 2, 2, 2, 2},
		Previous: [8]byte{3, 3, 3, 3, 3, 3, 3, 3},
	}
	if Verify(data, magics, from, to) {
		t.Fatalf("expected packet written under an unknown magic to fail verification")
	}
}
