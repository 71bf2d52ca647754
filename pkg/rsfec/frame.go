// Package rsfec implements packet-level Reed-Solomon forward erasure coding
// for a lossy small-MTU radio link. A block of K data packet payloads is
// coded byte-position by byte-position into M parity packets; any M of the
// K+M packets may be lost and the K payloads are still recoverable.
//
// Parity packets travel in their own frame, distinguished from the plain
// data packet frames by the magic constant and validated by the same
// CRC-16-CCITT convention.
package rsfec

import (
	"encoding/binary"
	"errors"

	"LoraFec_go/pkg/checksum"
)

const (
	// MagicParity identifies a Reed-Solomon parity frame. Data frames use
	// 0xDA7A and XOR parity frames 0xDA7B, so the three kinds share one
	// magic namespace on the link.
	MagicParity = 0xDA7C

	// HeaderSize is magic(2) + total_len(4) + parity_idx(2) + num_parity(2) + num_data(2).
	HeaderSize = 12

	crc16Size = 2

	// LoraMaxPacket is the link MTU.
	LoraMaxPacket = 250

	// MaxPayload is the payload capacity of one coded slot. The parity
	// header is two bytes wider than the data packet header, so the bound
	// is taken from the parity frame: a full-width slot frames to exactly
	// LoraMaxPacket bytes and never exceeds the link MTU.
	MaxPayload = LoraMaxPacket - HeaderSize - crc16Size
)

var (
	ErrFrameTooShort = errors.New("rsfec: frame too short for parity header")
	ErrBadMagic      = errors.New("rsfec: not a parity frame")
	ErrBadChecksum   = errors.New("rsfec: parity frame checksum mismatch")
)

// ParityHeader is the value tuple carried by every parity frame.
type ParityHeader struct {
	TotalLen  uint32
	ParityIdx uint16
	NumParity uint16
	NumData   uint16
}

// IsParityFrame reports whether buf starts with the parity magic. It is a
// cheap dispatch probe only; ParseParityFrame still validates the checksum.
func IsParityFrame(buf []byte) bool {
	if len(buf) < 2 {
		return false
	}
	return binary.BigEndian.Uint16(buf) == MagicParity
}

// BuildParityFrame frames one parity payload: header, payload bytes, CRC-16
// over everything preceding it.
func BuildParityFrame(hdr ParityHeader, payload []byte) []byte {
	frame := make([]byte, HeaderSize+len(payload)+crc16Size)
	binary.BigEndian.PutUint16(frame[0:2], MagicParity)
	binary.BigEndian.PutUint32(frame[2:6], hdr.TotalLen)
	binary.BigEndian.PutUint16(frame[6:8], hdr.ParityIdx)
	binary.BigEndian.PutUint16(frame[8:10], hdr.NumParity)
	binary.BigEndian.PutUint16(frame[10:12], hdr.NumData)
	copy(frame[HeaderSize:], payload)
	crc := checksum.Crc16(frame[:HeaderSize+len(payload)])
	binary.BigEndian.PutUint16(frame[HeaderSize+len(payload):], crc)
	return frame
}

// ParseParityFrame validates and splits a parity frame. A magic or checksum
// mismatch returns an error so the caller can fall back to treating the
// buffer as a plain data packet, or discard it as corrupted.
func ParseParityFrame(frame []byte) (ParityHeader, []byte, error) {
	if len(frame) < HeaderSize+crc16Size {
		return ParityHeader{}, nil, ErrFrameTooShort
	}
	if binary.BigEndian.Uint16(frame[0:2]) != MagicParity {
		return ParityHeader{}, nil, ErrBadMagic
	}
	body := frame[:len(frame)-crc16Size]
	want := binary.BigEndian.Uint16(frame[len(frame)-crc16Size:])
	if checksum.Crc16(body) != want {
		return ParityHeader{}, nil, ErrBadChecksum
	}
	hdr := ParityHeader{
		TotalLen:  binary.BigEndian.Uint32(frame[2:6]),
		ParityIdx: binary.BigEndian.Uint16(frame[6:8]),
		NumParity: binary.BigEndian.Uint16(frame[8:10]),
		NumData:   binary.BigEndian.Uint16(frame[10:12]),
	}
	return hdr, body[HeaderSize:], nil
}
