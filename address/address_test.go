package address

import "testing"

func TestParseFormatRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"ipv4", "1.2.3.4:5"},
		{"ipv6", "[::1]:5"},
		{"ipv6_full", "[2001:db8::1]:8080"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := Parse(tt.in)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.in, err)
			}
			got := a.String()
			if got != tt.in {
				t.Fatalf("round trip: got %q, want %q", got, tt.in)
			}
		})
	}
}

func TestV4MappedV6Collapses(t *testing.T) {
	a, err := Parse("[::ffff:1.2.3.4]:9")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if a.Type != IPv4 {
		t.Fatalf("expected v4-mapped v6 to collapse to IPv4, got type %v", a.Type)
	}
	if a.String() != "1.2.3.4:9" {
		t.Fatalf("got %q", a.String())
	}
}

func TestEqual(t *testing.T) {
	a, _ := Parse("1.2.3.4:5")
	b, _ := Parse("1.2.3.4:5")
	c, _ := Parse("1.2.3.4:6")
	d, _ := Parse("[::1]:5")

	if !a.Equal(b) {
		t.Fatalf("expected equal addresses to compare equal")
	}
	if a.Equal(c) {
		t.Fatalf("expected differing ports to compare unequal")
	}
	if a.Equal(d) {
		t.Fatalf("expected differing families to compare unequal")
	}
}

func TestNoneAddress(t *testing.T) {
	var a Address
	if !a.IsNone() {
		t.Fatalf("zero value should be None")
	}
	if a.String() != "none" {
		t.Fatalf("got %q", a.String())
	}
	if a.Bytes() != nil {
		t.Fatalf("expected nil bytes for None address")
	}
}

func TestBytesLength(t *testing.T) {
	a, _ := Parse("10.0.0.1:1")
	if len(a.Bytes()) != 4 {
		t.Fatalf("expected 4 bytes for ipv4, got %d", len(a.Bytes()))
	}
	b, _ := Parse("[::1]:1")
	if len(b.Bytes()) != 16 {
		t.Fatalf("expected 16 bytes for ipv6, got %d", len(b.Bytes()))
	}
}
