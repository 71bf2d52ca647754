package rsfec

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"LoraFec_go/pkg/fec"
)

// encodeBlock runs a full encoder pass over the given payloads and returns
// the framed parity packets.
func encodeBlock(t *testing.T, k, m int, payloads [][]byte, totalLen uint32) [][]byte {
	t.Helper()
	enc, err := NewEncoder(k, m)
	if err != nil {
		t.Fatalf("NewEncoder(%d,%d) failed: %v", k, m, err)
	}
	enc.Begin(totalLen)
	for seq, p := range payloads {
		if err := enc.AddDataPacket(seq, p); err != nil {
			t.Fatalf("AddDataPacket(%d) failed: %v", seq, err)
		}
	}
	if err := enc.ComputeParity(); err != nil {
		t.Fatalf("ComputeParity failed: %v", err)
	}
	frames := make([][]byte, m)
	for idx := 0; idx < m; idx++ {
		frames[idx], err = enc.ParityPacket(idx)
		if err != nil {
			t.Fatalf("ParityPacket(%d) failed: %v", idx, err)
		}
	}
	return frames
}

func testPayloads(k, width int) [][]byte {
	payloads := make([][]byte, k)
	for i := range payloads {
		payloads[i] = make([]byte, width)
		for p := range payloads[i] {
			payloads[i][p] = byte(i*31 + p)
		}
	}
	return payloads
}

func TestEncoderValidation(t *testing.T) {
	if _, err := NewEncoder(254, 2); !errors.Is(err, fec.ErrTooManySymbols) {
		t.Fatalf("expected ErrTooManySymbols for K+M=256, got %v", err)
	}
	enc, err := NewEncoder(4, 2)
	if err != nil {
		t.Fatalf("NewEncoder failed: %v", err)
	}
	enc.Begin(100)
	if err := enc.AddDataPacket(4, []byte{1}); !errors.Is(err, ErrBadSlot) {
		t.Fatalf("expected ErrBadSlot for seq=K, got %v", err)
	}
	if err := enc.AddDataPacket(0, make([]byte, MaxPayload+1)); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
	if _, err := enc.ParityPacket(0); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady before ComputeParity, got %v", err)
	}
}

func TestParityFrameRoundTrip(t *testing.T) {
	frames := encodeBlock(t, 3, 2, testPayloads(3, 40), 120)
	for idx, frame := range frames {
		if !IsParityFrame(frame) {
			t.Fatalf("frame %d not recognized as parity frame", idx)
		}
		hdr, payload, err := ParseParityFrame(frame)
		if err != nil {
			t.Fatalf("ParseParityFrame(%d) failed: %v", idx, err)
		}
		if hdr.TotalLen != 120 || hdr.ParityIdx != uint16(idx) || hdr.NumParity != 2 || hdr.NumData != 3 {
			t.Fatalf("frame %d header = %+v", idx, hdr)
		}
		if len(payload) != 40 {
			t.Fatalf("frame %d payload length = %d, want 40", idx, len(payload))
		}
	}
}

func TestFullWidthParityFrameFitsMTU(t *testing.T) {
	// A slot filled to capacity frames to exactly the link MTU.
	frames := encodeBlock(t, 2, 1, testPayloads(2, MaxPayload), 2*MaxPayload)
	if len(frames[0]) != LoraMaxPacket {
		t.Fatalf("full-width parity frame is %d bytes, want %d", len(frames[0]), LoraMaxPacket)
	}

	dec, err := NewDecoder(2, 1)
	if err != nil {
		t.Fatalf("NewDecoder failed: %v", err)
	}
	dec.Begin(2*MaxPayload, 0)
	payloads := testPayloads(2, MaxPayload)
	feedBlock(t, dec, payloads, frames, map[int]bool{0: true})
	if err := dec.Decode(); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	got, err := dec.DataPayload(0)
	if err != nil {
		t.Fatalf("DataPayload failed: %v", err)
	}
	if !bytes.Equal(got, payloads[0]) {
		t.Fatalf("full-width slot not reconstructed bit-exactly")
	}
}

func TestParityFrameTamperDetection(t *testing.T) {
	frames := encodeBlock(t, 3, 1, testPayloads(3, 20), 60)
	frame := frames[0]
	// Flip one bit in every position of header and payload; every variant
	// must be rejected.
	for pos := 0; pos < len(frame)-2; pos++ {
		tampered := append([]byte(nil), frame...)
		tampered[pos] ^= 0x01
		if _, _, err := ParseParityFrame(tampered); err == nil {
			t.Fatalf("bit flip at offset %d was not detected", pos)
		}
	}
}

func TestParseRejectsDataFrame(t *testing.T) {
	if _, _, err := ParseParityFrame([]byte{0xDA, 0x7A, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}); !errors.Is(err, ErrBadMagic) {
		t.Fatalf("expected ErrBadMagic for data magic, got %v", err)
	}
	if _, _, err := ParseParityFrame([]byte{0xDA}); !errors.Is(err, ErrFrameTooShort) {
		t.Fatalf("expected ErrFrameTooShort, got %v", err)
	}
}

// feedBlock routes the surviving packets of a block into a decoder.
func feedBlock(t *testing.T, dec *Decoder, payloads, parityFrames [][]byte, lost map[int]bool) {
	t.Helper()
	k := len(payloads)
	for seq, p := range payloads {
		if lost[seq] {
			continue
		}
		if err := dec.AddReceivedDataPacket(seq, p); err != nil {
			t.Fatalf("AddReceivedDataPacket(%d) failed: %v", seq, err)
		}
	}
	for idx, frame := range parityFrames {
		if lost[k+idx] {
			continue
		}
		hdr, payload, err := ParseParityFrame(frame)
		if err != nil {
			t.Fatalf("ParseParityFrame(%d) failed: %v", idx, err)
		}
		if err := dec.AddReceivedParityPacket(int(hdr.ParityIdx), payload); err != nil {
			t.Fatalf("AddReceivedParityPacket(%d) failed: %v", idx, err)
		}
	}
}

func TestDecodeNoLosses(t *testing.T) {
	const k, m, width = 4, 2, 50
	payloads := testPayloads(k, width)
	parity := encodeBlock(t, k, m, payloads, 200)

	dec, err := NewDecoder(k, m)
	if err != nil {
		t.Fatalf("NewDecoder failed: %v", err)
	}
	dec.Begin(200, 0)
	feedBlock(t, dec, payloads, parity, nil)

	if dec.CountMissing() != 0 || dec.CountParity() != m {
		t.Fatalf("missing=%d parity=%d", dec.CountMissing(), dec.CountParity())
	}
	if !dec.CanDecode() {
		t.Fatalf("CanDecode false with full block")
	}
	if err := dec.Decode(); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	for seq, want := range payloads {
		got, err := dec.DataPayload(seq)
		if err != nil {
			t.Fatalf("DataPayload(%d) failed: %v", seq, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("payload %d changed by lossless decode", seq)
		}
	}
}

func TestDecodeRecoversAnyMLosses(t *testing.T) {
	const k, m, width = 4, 2, 50
	payloads := testPayloads(k, width)
	parity := encodeBlock(t, k, m, payloads, 200)

	// Every combination of exactly M lost packets out of K+M.
	for a := 0; a < k+m; a++ {
		for b := a + 1; b < k+m; b++ {
			lost := map[int]bool{a: true, b: true}
			t.Run(fmt.Sprintf("lose_%d_%d", a, b), func(t *testing.T) {
				dec, err := NewDecoder(k, m)
				if err != nil {
					t.Fatalf("NewDecoder failed: %v", err)
				}
				dec.Begin(200, 0)
				feedBlock(t, dec, payloads, parity, lost)
				if !dec.CanDecode() {
					t.Fatalf("CanDecode false with exactly M losses")
				}
				if err := dec.Decode(); err != nil {
					t.Fatalf("Decode failed: %v", err)
				}
				for seq, want := range payloads {
					got, err := dec.DataPayload(seq)
					if err != nil {
						t.Fatalf("DataPayload(%d) failed: %v", seq, err)
					}
					if !bytes.Equal(got, want) {
						t.Fatalf("payload %d not reconstructed bit-exactly", seq)
					}
				}
			})
		}
	}
}

func TestDecodeRefusesTooManyLosses(t *testing.T) {
	const k, m, width = 4, 2, 30
	payloads := testPayloads(k, width)
	parity := encodeBlock(t, k, m, payloads, 120)

	dec, err := NewDecoder(k, m)
	if err != nil {
		t.Fatalf("NewDecoder failed: %v", err)
	}
	dec.Begin(120, 0)
	feedBlock(t, dec, payloads, parity, map[int]bool{0: true, 1: true, 4: true})

	if dec.CanDecode() {
		t.Fatalf("CanDecode true with M+1 losses")
	}
	if err := dec.Decode(); !errors.Is(err, ErrInsufficientPackets) {
		t.Fatalf("expected ErrInsufficientPackets, got %v", err)
	}
	// A refused decode must not corrupt slots that did arrive.
	got, err := dec.DataPayload(2)
	if err != nil {
		t.Fatalf("DataPayload(2) failed: %v", err)
	}
	if !bytes.Equal(got, payloads[2]) {
		t.Fatalf("received slot corrupted by refused decode")
	}
	if _, err := dec.DataPayload(0); !errors.Is(err, ErrSlotNotReceived) {
		t.Fatalf("expected ErrSlotNotReceived for lost slot, got %v", err)
	}
}

func TestDecodePaddingConsistency(t *testing.T) {
	// Slot 1 is shorter than the block width; after recovering it, bytes
	// past its true length must be the zero pad.
	const k, m = 3, 1
	payloads := [][]byte{
		{1, 2, 3, 4, 5, 6, 7, 8},
		{9, 10, 11},
		{12, 13, 14, 15, 16, 17, 18, 19},
	}
	parity := encodeBlock(t, k, m, payloads, 19)

	dec, err := NewDecoder(k, m)
	if err != nil {
		t.Fatalf("NewDecoder failed: %v", err)
	}
	dec.Begin(19, 0)
	feedBlock(t, dec, payloads, parity, map[int]bool{1: true})
	if err := dec.Decode(); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	got, err := dec.DataPayload(1)
	if err != nil {
		t.Fatalf("DataPayload(1) failed: %v", err)
	}
	if len(got) != 8 {
		t.Fatalf("recovered payload width = %d, want block width 8", len(got))
	}
	if !bytes.Equal(got[:3], payloads[1]) {
		t.Fatalf("first true-length bytes = %v, want %v", got[:3], payloads[1])
	}
	if !bytes.Equal(got[3:], make([]byte, 5)) {
		t.Fatalf("pad bytes = %v, want zeros", got[3:])
	}
}

func TestDecoderBeginClampsEstimate(t *testing.T) {
	const k, m = 2, 1
	payloads := [][]byte{{1, 2, 3, 4}, {5, 6, 7, 8}}
	parity := encodeBlock(t, k, m, payloads, 8)

	dec, err := NewDecoder(k, m)
	if err != nil {
		t.Fatalf("NewDecoder failed: %v", err)
	}
	// An estimate past the slot capacity must be clamped, not indexed.
	dec.Begin(8, MaxPayload+50)
	if dec.MaxPayloadLen() != MaxPayload {
		t.Fatalf("MaxPayloadLen = %d, want clamp to %d", dec.MaxPayloadLen(), MaxPayload)
	}
	feedBlock(t, dec, payloads, parity, map[int]bool{0: true})
	if err := dec.Decode(); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	got, err := dec.DataPayload(0)
	if err != nil {
		t.Fatalf("DataPayload failed: %v", err)
	}
	if !bytes.Equal(got[:4], payloads[0]) {
		t.Fatalf("recovered %v, want prefix %v", got[:4], payloads[0])
	}

	dec.Begin(8, -1)
	if dec.MaxPayloadLen() != 0 {
		t.Fatalf("MaxPayloadLen = %d after negative estimate, want 0", dec.MaxPayloadLen())
	}
}

func TestEncoderReuseAcrossBlocks(t *testing.T) {
	const k, m = 2, 1
	enc, err := NewEncoder(k, m)
	if err != nil {
		t.Fatalf("NewEncoder failed: %v", err)
	}

	enc.Begin(10)
	enc.AddDataPacket(0, []byte{1, 2, 3, 4, 5})
	enc.AddDataPacket(1, []byte{6, 7, 8, 9, 10})
	if err := enc.ComputeParity(); err != nil {
		t.Fatalf("ComputeParity failed: %v", err)
	}

	// The next block is narrower; nothing from the first may leak into it.
	enc.Begin(4)
	enc.AddDataPacket(0, []byte{0xAA, 0xBB})
	enc.AddDataPacket(1, []byte{0xCC, 0xDD})
	if err := enc.ComputeParity(); err != nil {
		t.Fatalf("ComputeParity failed: %v", err)
	}
	if enc.MaxPayloadLen() != 2 {
		t.Fatalf("MaxPayloadLen = %d after Begin, want 2", enc.MaxPayloadLen())
	}

	frame, err := enc.ParityPacket(0)
	if err != nil {
		t.Fatalf("ParityPacket failed: %v", err)
	}
	dec, err := NewDecoder(k, m)
	if err != nil {
		t.Fatalf("NewDecoder failed: %v", err)
	}
	dec.Begin(4, 0)
	dec.AddReceivedDataPacket(1, []byte{0xCC, 0xDD})
	hdr, payload, err := ParseParityFrame(frame)
	if err != nil {
		t.Fatalf("ParseParityFrame failed: %v", err)
	}
	dec.AddReceivedParityPacket(int(hdr.ParityIdx), payload)
	if err := dec.Decode(); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	got, err := dec.DataPayload(0)
	if err != nil {
		t.Fatalf("DataPayload failed: %v", err)
	}
	if !bytes.Equal(got, []byte{0xAA, 0xBB}) {
		t.Fatalf("recovered %v, want [aa bb]", got)
	}
}

func TestAddAfterComputeClearsReady(t *testing.T) {
	enc, err := NewEncoder(2, 1)
	if err != nil {
		t.Fatalf("NewEncoder failed: %v", err)
	}
	enc.Begin(8)
	enc.AddDataPacket(0, []byte{1, 2, 3, 4})
	enc.AddDataPacket(1, []byte{5, 6, 7, 8})
	if err := enc.ComputeParity(); err != nil {
		t.Fatalf("ComputeParity failed: %v", err)
	}
	enc.AddDataPacket(0, []byte{4, 3, 2, 1})
	if _, err := enc.ParityPacket(0); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected stale parity to be refused, got %v", err)
	}
}
