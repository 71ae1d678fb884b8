package std

import (
	"context"
	"encoding/binary"
	"testing"
)

func TestNamePortLiteralAddresses(t *testing.T) {
	tests := []struct {
		name string
		host string
		port uint16
		want string
	}{
		{name: "IPv4", host: "192.0.2.7", port: 80, want: "192.0.2.7:80"},
		{name: "IPv6", host: "2001:db8::1", port: 8443, want: "[2001:db8::1]:8443"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := append([]byte(tt.host), 0, 0)
			binary.BigEndian.PutUint16(buf[len(buf)-2:], tt.port)

			got, err := NamePort(context.Background(), buf)
			if err != nil {
				t.Fatalf("NamePort(%q) error: %v", tt.host, err)
			}
			if got.String() != tt.want {
				t.Fatalf("NamePort(%q) = %s, want %s", tt.host, got, tt.want)
			}
		})
	}
}

func TestNamePortResolvesHostname(t *testing.T) {
	buf := append([]byte("localhost"), 0x1f, 0x90) // port 8080

	got, err := NamePort(context.Background(), buf)
	if err != nil {
		t.Skipf("resolver unavailable: %v", err)
	}
	if got.Port() != 8080 {
		t.Fatalf("port %d, want 8080", got.Port())
	}
	if !got.Addr().IsLoopback() {
		t.Fatalf("localhost resolved to %s", got.Addr())
	}
}

func TestNamePortInvalidUTF8(t *testing.T) {
	buf := []byte{0xff, 0xfe, 0xfd, 0x00, 0x50}

	_, err := NamePort(context.Background(), buf)
	if err == nil || err.Error() != "hostname buffer provided was not valid utf-8" {
		t.Fatalf("expected utf-8 error, got %v", err)
	}
}

func TestNamePortUnresolvable(t *testing.T) {
	// .invalid is reserved and never resolves
	buf := append([]byte("no-such-host.invalid"), 0x00, 0x50)

	_, err := NamePort(context.Background(), buf)
	if err == nil || err.Error() != "host name didn't resolve to valid IP address" {
		t.Fatalf("expected resolution error, got %v", err)
	}
}

func TestNamePortShortBuffer(t *testing.T) {
	if _, err := NamePort(context.Background(), []byte{0x50}); err == nil {
		t.Fatalf("expected error for short buffer")
	}
}
