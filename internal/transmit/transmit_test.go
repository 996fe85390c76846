package transmit

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"udpcast/internal/netif"
)

func TestSendRefusesZeroPort(t *testing.T) {
	t.Parallel()
	rec := netif.Record{
		Family:    netif.IPv4,
		Broadcast: netip.MustParseAddr("10.0.0.255"),
	}
	err := Send(context.Background(), rec, 0, []byte("x"))
	if !errors.Is(err, ErrNoPort) {
		t.Fatalf("err = %v, want ErrNoPort", err)
	}
}

func TestSendDeliversDatagram(t *testing.T) {
	t.Parallel()

	// Loopback stand-in for a broadcast target; SO_BROADCAST is harmless on
	// unicast sends and keeps the real socket path under test.
	lconn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer lconn.Close()
	port := uint16(lconn.LocalAddr().(*net.UDPAddr).Port)

	rec := netif.Record{
		Name:      "lo",
		Family:    netif.IPv4,
		Addr:      netip.MustParseAddr("127.0.0.1"),
		Broadcast: netip.MustParseAddr("127.0.0.1"),
	}
	payload := []byte(`{"ip":"127.0.0.1"}`)
	if err := Send(context.Background(), rec, port, payload); err != nil {
		t.Fatalf("Send: %v", err)
	}

	_ = lconn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 2048)
	n, _, err := lconn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("ReadFromUDP: %v", err)
	}
	if string(buf[:n]) != string(payload) {
		t.Fatalf("payload = %q, want %q", buf[:n], payload)
	}
}
