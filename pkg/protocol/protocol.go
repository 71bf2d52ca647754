// Package protocol frames arbitrary byte streams into LoRa-sized packets.
//
// Data packet format (max 250 bytes):
//
//	magic(2) | total_len(4) | seq(2) | count(2) | payload(<=238) | crc16(2)
//
// magic is 0xDA7A for data packets. Every packet carries a CRC-16-CCITT for
// early rejection, and the assembled stream ends with a CRC32 suffix for
// end-to-end verification. All integers are big-endian.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"LoraFec_go/pkg/checksum"
	"LoraFec_go/pkg/tools"
)

const (
	MagicData   = 0xDA7A // data packet
	MagicParity = 0xDA7B // XOR parity packet

	HeaderSize = 10
	Crc16Size  = 2
	Crc32Size  = 4

	LoraMaxPacket       = 250
	MaxPayloadPerPacket = LoraMaxPacket - HeaderSize - Crc16Size

	// DefaultFECBlockSize is the number of data packets covered by one XOR
	// parity packet.
	DefaultFECBlockSize = 4
)

var (
	ErrEmptyData       = errors.New("protocol: cannot pack empty data")
	ErrTooManyPackets  = errors.New("protocol: stream needs more than 65535 packets")
	ErrPacketTooSmall  = errors.New("protocol: packet too small")
	ErrBadMagic        = errors.New("protocol: invalid magic")
	ErrBadChecksum     = errors.New("protocol: crc16 mismatch")
	ErrNoPackets       = errors.New("protocol: no packets")
	ErrInconsistent    = errors.New("protocol: inconsistent stream headers")
	ErrDuplicatePacket = errors.New("protocol: duplicate sequence numbers")
	ErrMissingPackets  = errors.New("protocol: missing packets")
	ErrStreamChecksum  = errors.New("protocol: stream crc32 mismatch")
)

// StreamPacket is one parsed data packet.
type StreamPacket struct {
	TotalLen uint32
	Seq      uint16
	Count    uint16
	Payload  []byte
}

func buildDataPacket(totalLen uint32, seq, count uint16, payload []byte) []byte {
	pkt := make([]byte, HeaderSize+len(payload)+Crc16Size)
	binary.BigEndian.PutUint16(pkt[0:2], MagicData)
	binary.BigEndian.PutUint32(pkt[2:6], totalLen)
	binary.BigEndian.PutUint16(pkt[6:8], seq)
	binary.BigEndian.PutUint16(pkt[8:10], count)
	copy(pkt[HeaderSize:], payload)
	crc := checksum.Crc16(pkt[:HeaderSize+len(payload)])
	binary.BigEndian.PutUint16(pkt[HeaderSize+len(payload):], crc)
	return pkt
}

// PackStream splits data into transmit-ready packets. A CRC32 suffix is
// appended before splitting, so total_len in the headers counts it.
func PackStream(data []byte) ([][]byte, error) {
	return packStreamChunked(data, MaxPayloadPerPacket)
}

// packStreamChunked splits at maxChunk payload bytes per packet. Plain
// streams use the full MaxPayloadPerPacket; Reed-Solomon streams chunk
// narrower so the parity frames derived from the payloads, which carry a
// wider header, still fit the link MTU.
func packStreamChunked(data []byte, maxChunk int) ([][]byte, error) {
	if len(data) == 0 {
		return nil, ErrEmptyData
	}
	payload := make([]byte, 0, len(data)+Crc32Size)
	payload = append(payload, data...)
	payload = binary.BigEndian.AppendUint32(payload, checksum.Crc32(data))

	totalLen := uint64(len(payload))
	if totalLen > 0xFFFFFFFF {
		return nil, fmt.Errorf("protocol: data too large: %d bytes", totalLen)
	}
	chunk := uint64(maxChunk)
	count := tools.DivCeil(totalLen, chunk)
	if count > 0xFFFF {
		return nil, ErrTooManyPackets
	}

	packets := make([][]byte, 0, count)
	for seq := uint64(0); seq < count; seq++ {
		start := seq * chunk
		end := start + chunk
		if end > totalLen {
			end = totalLen
		}
		packets = append(packets, buildDataPacket(uint32(totalLen), uint16(seq), uint16(count), payload[start:end]))
	}
	return packets, nil
}

// UnpackPacket validates and parses a single data packet.
func UnpackPacket(pkt []byte) (*StreamPacket, error) {
	if len(pkt) < HeaderSize+Crc16Size {
		return nil, ErrPacketTooSmall
	}
	body := pkt[:len(pkt)-Crc16Size]
	want := binary.BigEndian.Uint16(pkt[len(pkt)-Crc16Size:])
	if checksum.Crc16(body) != want {
		return nil, ErrBadChecksum
	}
	if binary.BigEndian.Uint16(pkt[0:2]) != MagicData {
		return nil, ErrBadMagic
	}
	p := &StreamPacket{
		TotalLen: binary.BigEndian.Uint32(pkt[2:6]),
		Seq:      binary.BigEndian.Uint16(pkt[6:8]),
		Count:    binary.BigEndian.Uint16(pkt[8:10]),
		Payload:  append([]byte(nil), body[HeaderSize:]...),
	}
	if p.Count < 1 || p.Seq >= p.Count {
		return nil, fmt.Errorf("protocol: bad seq %d of count %d", p.Seq, p.Count)
	}
	return p, nil
}

// UnpackStream reassembles packets (any order) into the original data,
// verifying per-packet CRC16, stream consistency and the final CRC32.
func UnpackStream(packets [][]byte) ([]byte, error) {
	if len(packets) == 0 {
		return nil, ErrNoPackets
	}
	parsed := make([]*StreamPacket, 0, len(packets))
	for i, pkt := range packets {
		p, err := UnpackPacket(pkt)
		if err != nil {
			return nil, fmt.Errorf("packet %d: %w", i, err)
		}
		parsed = append(parsed, p)
	}

	totalLen := parsed[0].TotalLen
	count := parsed[0].Count
	seen := make(map[uint16]bool, len(parsed))
	for _, p := range parsed {
		if p.TotalLen != totalLen || p.Count != count {
			return nil, ErrInconsistent
		}
		if seen[p.Seq] {
			return nil, ErrDuplicatePacket
		}
		seen[p.Seq] = true
	}
	for seq := uint16(0); seq < count; seq++ {
		if !seen[seq] {
			return nil, ErrMissingPackets
		}
	}

	sort.Slice(parsed, func(i, j int) bool { return parsed[i].Seq < parsed[j].Seq })
	payload := make([]byte, 0, totalLen)
	for _, p := range parsed {
		payload = append(payload, p.Payload...)
	}
	if uint32(len(payload)) != totalLen {
		return nil, fmt.Errorf("protocol: reassembled size mismatch: %d != %d", len(payload), totalLen)
	}
	return verifyStreamCrc(payload)
}

// verifyStreamCrc strips and checks the CRC32 suffix of an assembled stream.
func verifyStreamCrc(payload []byte) ([]byte, error) {
	if len(payload) < Crc32Size {
		return nil, fmt.Errorf("protocol: payload too small for crc32")
	}
	data := payload[:len(payload)-Crc32Size]
	want := binary.BigEndian.Uint32(payload[len(payload)-Crc32Size:])
	if checksum.Crc32(data) != want {
		return nil, ErrStreamChecksum
	}
	return data, nil
}
