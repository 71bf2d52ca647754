package protocol

import (
	"encoding/binary"
	"fmt"

	"LoraFec_go/pkg/checksum"
	"LoraFec_go/pkg/tools"
)

// XOR parity FEC: one parity packet per block of data packets, able to
// recover a single loss per block. The Reed-Solomon layer in pkg/rsfec is
// the stronger alternative; this one survives for nodes too small to carry
// an RS codec.

// XorBytes XORs two byte sequences, zero-padding the shorter one.
func XorBytes(a, b []byte) []byte {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	out := make([]byte, n)
	copy(out, a)
	for i := range b {
		out[i] ^= b[i]
	}
	return out
}

// ParityPacket is one parsed XOR parity packet. The block id rides in the
// seq field and the block size in the count field of the common header.
type ParityPacket struct {
	TotalLen  uint32
	BlockID   uint16
	BlockSize uint16
	FirstSeq  uint16
	Parity    []byte
}

func buildXorParityPacket(totalLen uint32, blockID, blockSize uint16, parity []byte) []byte {
	pkt := make([]byte, HeaderSize+len(parity)+Crc16Size)
	binary.BigEndian.PutUint16(pkt[0:2], MagicParity)
	binary.BigEndian.PutUint32(pkt[2:6], totalLen)
	binary.BigEndian.PutUint16(pkt[6:8], blockID)
	binary.BigEndian.PutUint16(pkt[8:10], blockSize)
	copy(pkt[HeaderSize:], parity)
	crc := checksum.Crc16(pkt[:HeaderSize+len(parity)])
	binary.BigEndian.PutUint16(pkt[HeaderSize+len(parity):], crc)
	return pkt
}

// ParseXorParityPacket validates and parses an XOR parity packet.
func ParseXorParityPacket(pkt []byte) (*ParityPacket, error) {
	if len(pkt) < HeaderSize+Crc16Size {
		return nil, ErrPacketTooSmall
	}
	body := pkt[:len(pkt)-Crc16Size]
	want := binary.BigEndian.Uint16(pkt[len(pkt)-Crc16Size:])
	if checksum.Crc16(body) != want {
		return nil, ErrBadChecksum
	}
	if binary.BigEndian.Uint16(pkt[0:2]) != MagicParity {
		return nil, ErrBadMagic
	}
	p := &ParityPacket{
		TotalLen:  binary.BigEndian.Uint32(pkt[2:6]),
		BlockID:   binary.BigEndian.Uint16(pkt[6:8]),
		BlockSize: binary.BigEndian.Uint16(pkt[8:10]),
		Parity:    append([]byte(nil), body[HeaderSize:]...),
	}
	p.FirstSeq = p.BlockID * p.BlockSize
	return p, nil
}

// PackStreamWithFEC packs data and appends one XOR parity packet per block
// of blockSize data packets. The last block may be smaller; its parity
// packet records the actual size.
func PackStreamWithFEC(data []byte, blockSize int) ([][]byte, error) {
	if blockSize < 1 {
		return nil, fmt.Errorf("protocol: block size must be >= 1, got %d", blockSize)
	}
	dataPackets, err := PackStream(data)
	if err != nil {
		return nil, err
	}
	totalLen := uint32(len(data) + Crc32Size)

	result := make([][]byte, 0, len(dataPackets)+len(dataPackets)/blockSize+1)
	for blockID := 0; blockID*blockSize < len(dataPackets); blockID++ {
		start := blockID * blockSize
		end := start + blockSize
		if end > len(dataPackets) {
			end = len(dataPackets)
		}
		block := dataPackets[start:end]
		result = append(result, block...)

		parity := make([]byte, MaxPayloadPerPacket)
		for _, pkt := range block {
			parity = XorBytes(parity, pkt[HeaderSize:len(pkt)-Crc16Size])
		}
		result = append(result, buildXorParityPacket(totalLen, uint16(blockID), uint16(len(block)), parity))
	}
	return result, nil
}

// UnpackStreamWithFEC reassembles a stream, recovering at most one lost
// data packet per block from its parity packet.
func UnpackStreamWithFEC(packets [][]byte) ([]byte, error) {
	if len(packets) == 0 {
		return nil, ErrNoPackets
	}

	dataPackets := make(map[uint16][]byte)
	parityPackets := make(map[uint16]*ParityPacket)
	var totalLen uint32
	var count uint16
	haveHeader := false

	for _, pkt := range packets {
		if len(pkt) < HeaderSize {
			continue
		}
		switch binary.BigEndian.Uint16(pkt[0:2]) {
		case MagicData:
			parsed, err := UnpackPacket(pkt)
			if err != nil {
				continue // corrupted, treat as lost
			}
			dataPackets[parsed.Seq] = pkt
			if !haveHeader {
				totalLen = parsed.TotalLen
				count = parsed.Count
				haveHeader = true
			}
		case MagicParity:
			parsed, err := ParseXorParityPacket(pkt)
			if err != nil {
				continue
			}
			parityPackets[parsed.BlockID] = parsed
		}
	}

	if !haveHeader {
		return nil, fmt.Errorf("protocol: no valid data packets found")
	}

	for seq := uint16(0); seq < count; seq++ {
		if _, ok := dataPackets[seq]; ok {
			continue
		}
		recovered, err := recoverFromXorParity(seq, totalLen, count, dataPackets, parityPackets)
		if err != nil {
			return nil, err
		}
		if recovered != nil {
			dataPackets[seq] = recovered
		}
	}

	ordered := make([][]byte, 0, count)
	for seq := uint16(0); seq < count; seq++ {
		pkt, ok := dataPackets[seq]
		if !ok {
			return nil, fmt.Errorf("protocol: unrecoverable missing packet %d: %w", seq, ErrMissingPackets)
		}
		ordered = append(ordered, pkt)
	}
	return UnpackStream(ordered)
}

func recoverFromXorParity(
	missingSeq uint16,
	totalLen uint32,
	count uint16,
	dataPackets map[uint16][]byte,
	parityPackets map[uint16]*ParityPacket,
) ([]byte, error) {
	for blockID, parity := range parityPackets {
		firstSeq := parity.FirstSeq
		lastSeq := firstSeq + parity.BlockSize - 1
		if missingSeq < firstSeq || missingSeq > lastSeq {
			continue
		}
		blockMissing := 0
		for seq := firstSeq; seq <= lastSeq; seq++ {
			if _, ok := dataPackets[seq]; !ok {
				blockMissing++
			}
		}
		if blockMissing > 1 {
			return nil, fmt.Errorf("protocol: block %d missing %d packets, xor parity recovers only 1", blockID, blockMissing)
		}
		payload := parity.Parity
		for seq := firstSeq; seq <= lastSeq; seq++ {
			if pkt, ok := dataPackets[seq]; ok {
				payload = XorBytes(payload, pkt[HeaderSize:len(pkt)-Crc16Size])
			}
		}
		// XOR pads every payload to the full width; the true chunk length
		// follows from the packet's position in the stream.
		n := tools.MinInt(chunkLen(totalLen, missingSeq, count, MaxPayloadPerPacket), len(payload))
		return buildDataPacket(totalLen, missingSeq, count, payload[:n]), nil
	}
	return nil, nil
}

// chunkLen is the payload length of data packet seq in a stream of
// totalLen bytes split across count packets of the given chunk width.
// Clamped so inconsistent headers can never produce a negative length.
func chunkLen(totalLen uint32, seq, count uint16, width int) int {
	if seq+1 < count {
		return width
	}
	n := int(totalLen) - int(count-1)*width
	if n < 0 {
		return 0
	}
	return n
}
