package transport

import (
	"fmt"
	"net"
	"strconv"
)

// LinkMTU is the largest frame the link carries. It matches the LoRa radio
// packet limit so the UDP demo link drops exactly what the radio would.
const LinkMTU = 250

// UDPEndpoint stands in for the radio on development hosts: packets framed
// by pkg/protocol and pkg/rsfec are carried one per UDP datagram.
type UDPEndpoint struct {
	// Optional local bind address; nil lets the kernel choose.
	SourceAddress *string

	// Destination unicast or multicast address, e.g. "192.168.0.10".
	DestinationAddress string

	Port uint16
}

func NewUDPEndpoint(src *string, dest string, port uint16) UDPEndpoint {
	return UDPEndpoint{
		SourceAddress:      src,
		DestinationAddress: dest,
		Port:               port,
	}
}

// BindAddr returns the address string for net.ListenPacket("udp", ...).
func (e UDPEndpoint) BindAddr() string {
	if e.SourceAddress == nil || *e.SourceAddress == "" {
		return net.JoinHostPort("", strconv.Itoa(int(e.Port)))
	}
	return net.JoinHostPort(*e.SourceAddress, strconv.Itoa(int(e.Port)))
}

// DestAddr returns the destination as "ip:port".
func (e UDPEndpoint) DestAddr() string {
	return net.JoinHostPort(e.DestinationAddress, strconv.Itoa(int(e.Port)))
}

// ResolveDest resolves the destination to a *net.UDPAddr.
func (e UDPEndpoint) ResolveDest() (*net.UDPAddr, error) {
	return net.ResolveUDPAddr("udp", e.DestAddr())
}

// SendFrame writes one link frame, refusing anything over the MTU the way
// the radio driver would.
func SendFrame(conn net.PacketConn, raddr net.Addr, frame []byte) error {
	if len(frame) > LinkMTU {
		return fmt.Errorf("transport: frame of %d bytes exceeds link MTU %d", len(frame), LinkMTU)
	}
	_, err := conn.WriteTo(frame, raddr)
	return err
}
