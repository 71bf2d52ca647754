package protocol

import (
	"encoding/binary"
	"fmt"

	"LoraFec_go/pkg/fec"
	"LoraFec_go/pkg/rsfec"
	"LoraFec_go/pkg/tools"
)

// Reed-Solomon stream FEC: the whole stream forms one coding block of K
// data packets plus M parity packets, so ANY M losses are recoverable,
// not just one per block as with XOR parity. K+M is capped at 255 by the
// GF(2^8) codeword length.

// PackStreamWithRSFEC packs data and appends numParity Reed-Solomon parity
// packets covering the whole stream. Data payloads are chunked at the parity
// slot capacity rather than the plain stream's, so every parity frame built
// from them fits the link MTU.
func PackStreamWithRSFEC(data []byte, numParity int) ([][]byte, error) {
	dataPackets, err := packStreamChunked(data, rsfec.MaxPayload)
	if err != nil {
		return nil, err
	}
	k := len(dataPackets)
	if k+numParity > fec.MaxSymbols {
		return nil, fmt.Errorf("protocol: %d data + %d parity packets exceed %d symbols: %w",
			k, numParity, fec.MaxSymbols, fec.ErrTooManySymbols)
	}

	enc, err := rsfec.NewEncoder(k, numParity)
	if err != nil {
		return nil, err
	}
	totalLen := uint32(len(data) + Crc32Size)
	enc.Begin(totalLen)
	for seq, pkt := range dataPackets {
		if err := enc.AddDataPacket(seq, pkt[HeaderSize:len(pkt)-Crc16Size]); err != nil {
			return nil, err
		}
	}
	if err := enc.ComputeParity(); err != nil {
		return nil, err
	}

	result := make([][]byte, 0, k+numParity)
	result = append(result, dataPackets...)
	for idx := 0; idx < numParity; idx++ {
		frame, err := enc.ParityPacket(idx)
		if err != nil {
			return nil, err
		}
		result = append(result, frame)
	}
	return result, nil
}

// UnpackStreamWithRSFEC reassembles a stream packed by PackStreamWithRSFEC,
// reconstructing missing data packets from whatever parity frames arrived.
// Corrupted packets are dropped and counted as losses.
func UnpackStreamWithRSFEC(packets [][]byte) ([]byte, error) {
	if len(packets) == 0 {
		return nil, ErrNoPackets
	}

	dataPackets := make(map[uint16][]byte)
	parityPayloads := make(map[uint16][]byte)
	var totalLen uint32
	var count uint16
	var numParity uint16
	haveData := false
	haveParity := false

	for _, pkt := range packets {
		if rsfec.IsParityFrame(pkt) {
			hdr, payload, err := rsfec.ParseParityFrame(pkt)
			if err != nil {
				continue
			}
			parityPayloads[hdr.ParityIdx] = payload
			if !haveParity {
				totalLen = hdr.TotalLen
				count = hdr.NumData
				numParity = hdr.NumParity
				haveParity = true
			}
			continue
		}
		if len(pkt) >= 2 && binary.BigEndian.Uint16(pkt[0:2]) == MagicData {
			parsed, err := UnpackPacket(pkt)
			if err != nil {
				continue
			}
			dataPackets[parsed.Seq] = pkt
			if !haveData {
				totalLen = parsed.TotalLen
				count = parsed.Count
				haveData = true
			}
		}
	}

	if !haveData && !haveParity {
		return nil, fmt.Errorf("protocol: no valid packets found")
	}

	// Fast path: every data packet arrived, parity not needed.
	if len(dataPackets) == int(count) {
		ordered := make([][]byte, 0, count)
		for seq := uint16(0); seq < count; seq++ {
			ordered = append(ordered, dataPackets[seq])
		}
		return UnpackStream(ordered)
	}

	if !haveParity {
		return nil, fmt.Errorf("protocol: %d of %d data packets and no parity: %w",
			len(dataPackets), count, ErrMissingPackets)
	}

	dec, err := rsfec.NewDecoder(int(count), int(numParity))
	if err != nil {
		return nil, err
	}
	dec.Begin(totalLen, 0)
	for seq, pkt := range dataPackets {
		if err := dec.AddReceivedDataPacket(int(seq), pkt[HeaderSize:len(pkt)-Crc16Size]); err != nil {
			return nil, err
		}
	}
	for idx, payload := range parityPayloads {
		if err := dec.AddReceivedParityPacket(int(idx), payload); err != nil {
			return nil, err
		}
	}
	if !dec.CanDecode() {
		return nil, fmt.Errorf("protocol: %d data packets lost, %d parity received: %w",
			dec.CountMissing(), dec.CountParity(), rsfec.ErrInsufficientPackets)
	}
	if err := dec.Decode(); err != nil {
		return nil, err
	}

	ordered := make([][]byte, 0, count)
	for seq := uint16(0); seq < count; seq++ {
		if pkt, ok := dataPackets[seq]; ok {
			ordered = append(ordered, pkt)
			continue
		}
		payload, err := dec.DataPayload(int(seq))
		if err != nil {
			return nil, err
		}
		// Decoded payloads are padded to the block width; the true length
		// follows from the packet's position in the stream.
		n := tools.MinInt(chunkLen(totalLen, seq, count, rsfec.MaxPayload), len(payload))
		ordered = append(ordered, buildDataPacket(totalLen, seq, count, payload[:n]))
	}
	return UnpackStream(ordered)
}
