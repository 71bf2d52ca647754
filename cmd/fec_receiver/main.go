package main

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"LoraFec_go/pkg/protocol"
	"LoraFec_go/pkg/transport"
)

func main() {
	bind := flag.String("bind", ":9000", "UDP listen address")
	output := flag.String("output", "received.bin", "output file")
	mode := flag.String("mode", "reed_solomon", "FEC mode: none | xor | reed_solomon")
	idle := flag.Duration("idle", 3*time.Second, "stop after this long without packets")
	flag.Parse()

	conn, err := net.ListenPacket("udp", *bind)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bind udp failed: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()
	fmt.Printf("[fec-receiver] listening on %s (mode=%s)\n", *bind, *mode)

	var packets [][]byte
	buf := make([]byte, transport.LinkMTU)
	for {
		deadline := *idle
		if len(packets) == 0 {
			// Wait indefinitely for the first packet.
			deadline = 0
		}
		if deadline > 0 {
			conn.SetReadDeadline(time.Now().Add(deadline))
		} else {
			conn.SetReadDeadline(time.Time{})
		}
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				break
			}
			fmt.Fprintf(os.Stderr, "read failed: %v\n", err)
			os.Exit(1)
		}
		packets = append(packets, append([]byte(nil), buf[:n]...))
	}
	fmt.Printf("[fec-receiver] received %d packets, reassembling\n", len(packets))

	var data []byte
	switch *mode {
	case "none":
		data, err = protocol.UnpackStream(packets)
	case "xor":
		data, err = protocol.UnpackStreamWithFEC(packets)
	case "reed_solomon":
		data, err = protocol.UnpackStreamWithRSFEC(packets)
	default:
		fmt.Fprintf(os.Stderr, "unsupported FEC mode: %s\n", *mode)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "reassembly failed: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(*output, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "write output: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("[fec-receiver] wrote %d bytes to %s\n", len(data), *output)
}
