package protocol

import (
	"bytes"
	"testing"
	"time"
)

func TestAssemblerSingleStream(t *testing.T) {
	data := makeTestData(1000)
	packets, err := PackStream(data)
	if err != nil {
		t.Fatalf("PackStream failed: %v", err)
	}

	a := NewAssembler(30 * time.Second)
	now := time.Now()
	for i, pkt := range packets {
		got, err := a.AddPacket(pkt, now)
		if err != nil {
			t.Fatalf("AddPacket(%d) failed: %v", i, err)
		}
		if i < len(packets)-1 {
			if got != nil {
				t.Fatalf("stream completed early at packet %d", i)
			}
		} else if !bytes.Equal(got, data) {
			t.Fatalf("assembled data does not match original")
		}
	}
	if a.PendingStreams() != 0 {
		t.Fatalf("expected 0 pending streams, got %d", a.PendingStreams())
	}
}

func TestAssemblerOutOfOrder(t *testing.T) {
	data := makeTestData(700)
	packets, err := PackStream(data)
	if err != nil {
		t.Fatalf("PackStream failed: %v", err)
	}

	a := NewAssembler(30 * time.Second)
	now := time.Now()
	var got []byte
	for i := len(packets) - 1; i >= 0; i-- {
		got, err = a.AddPacket(packets[i], now)
		if err != nil {
			t.Fatalf("AddPacket failed: %v", err)
		}
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("out of order assembly failed")
	}
}

func TestAssemblerTimeout(t *testing.T) {
	packets, err := PackStream(makeTestData(1000))
	if err != nil {
		t.Fatalf("PackStream failed: %v", err)
	}

	a := NewAssembler(5 * time.Second)
	start := time.Now()
	if _, err := a.AddPacket(packets[0], start); err != nil {
		t.Fatalf("AddPacket failed: %v", err)
	}
	if a.PendingStreams() != 1 {
		t.Fatalf("expected 1 pending stream")
	}

	// A later unrelated packet triggers cleanup of the stale stream.
	other, err := PackStream(makeTestData(10))
	if err != nil {
		t.Fatalf("PackStream failed: %v", err)
	}
	if _, err := a.AddPacket(other[0], start.Add(10*time.Second)); err != nil {
		t.Fatalf("AddPacket failed: %v", err)
	}
	if a.PendingStreams() != 0 {
		t.Fatalf("stale stream not cleaned up, %d pending", a.PendingStreams())
	}
}

func TestAssemblerInvalidPacket(t *testing.T) {
	a := NewAssembler(30 * time.Second)
	if _, err := a.AddPacket([]byte{0xDA, 0x7A, 1, 2, 3}, time.Now()); err == nil {
		t.Fatalf("expected error for invalid packet")
	}
	if a.PendingStreams() != 0 {
		t.Fatalf("invalid packet created a pending stream")
	}
}
