// Package transmit sends best-effort broadcast datagrams.
//
// Every Send opens a fresh datagram socket with SO_BROADCAST enabled, sends
// once, and closes. No socket is reused across interfaces or cycles: a fresh
// socket cannot go stale when interfaces renumber between cycles, and the
// per-send setup cost is negligible at broadcast rates.
package transmit

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"

	"udpcast/internal/netif"
)

var (
	// ErrNoPort is returned when the broadcast port is unconfigured; the
	// send is refused before any socket is opened.
	ErrNoPort = errors.New("transmit: broadcast port not configured")

	ErrShortWrite = errors.New("transmit: short datagram write")
)

// Send transmits payload to the record's broadcast address and port.
// A partial send is an error, not a success.
func Send(ctx context.Context, rec netif.Record, port uint16, payload []byte) error {
	if port == 0 {
		return ErrNoPort
	}

	lc := net.ListenConfig{Control: enableBroadcast}
	conn, err := lc.ListenPacket(ctx, rec.Family.Network(), ":0")
	if err != nil {
		return fmt.Errorf("transmit: socket: %w", err)
	}
	defer conn.Close()

	dst := &net.UDPAddr{
		IP:   rec.Broadcast.AsSlice(),
		Port: int(port),
		Zone: rec.Zone,
	}
	n, err := conn.WriteTo(payload, dst)
	if err != nil {
		return fmt.Errorf("transmit: send to %s: %w", dst, err)
	}
	if n != len(payload) {
		return fmt.Errorf("%w: %d of %d bytes to %s", ErrShortWrite, n, len(payload), dst)
	}
	return nil
}

func enableBroadcast(network, address string, c syscall.RawConn) error {
	var serr error
	if err := c.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	}); err != nil {
		return err
	}
	return serr
}
