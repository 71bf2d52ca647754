package rsfec

import (
	"errors"

	"LoraFec_go/pkg/fec"
)

var (
	ErrBadSlot         = errors.New("rsfec: slot index out of range")
	ErrPayloadTooLarge = errors.New("rsfec: payload exceeds slot capacity")
	ErrNotReady        = errors.New("rsfec: parity not computed")
)

// Encoder codes one block of up to K data packet payloads into M parity
// payloads. All slot buffers are allocated once at construction and reused
// across blocks; Begin invalidates everything from the previous block.
//
//	enc, _ := rsfec.NewEncoder(4, 2)
//	enc.Begin(totalLen)
//	enc.AddDataPacket(0, payload0)
//	...
//	enc.ComputeParity()
//	frame, _ := enc.ParityPacket(0)
type Encoder struct {
	k, m  int
	codec *fec.Codec

	data     [][]byte // k slots, MaxPayload each
	parity   [][]byte // m slots, MaxPayload each
	lens     []int    // per data slot payload length
	column   []byte
	codeword []byte

	maxPayloadLen int
	totalLen      uint32
	ready         bool
}

func NewEncoder(nbData, nbParity int) (*Encoder, error) {
	codec, err := fec.NewCodec(nbData, nbParity)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, (nbData+nbParity)*MaxPayload)
	e := &Encoder{
		k:        nbData,
		m:        nbParity,
		codec:    codec,
		data:     make([][]byte, nbData),
		parity:   make([][]byte, nbParity),
		lens:     make([]int, nbData),
		column:   make([]byte, nbData),
		codeword: make([]byte, nbData+nbParity),
	}
	for i := 0; i < nbData; i++ {
		e.data[i] = buf[i*MaxPayload : (i+1)*MaxPayload]
	}
	for j := 0; j < nbParity; j++ {
		e.parity[j] = buf[(nbData+j)*MaxPayload : (nbData+j+1)*MaxPayload]
	}
	return e, nil
}

func (e *Encoder) NumData() int       { return e.k }
func (e *Encoder) NumParity() int     { return e.m }
func (e *Encoder) MaxPayloadLen() int { return e.maxPayloadLen }

// Begin starts a new block, zeroing every slot from the previous one.
// totalLen is the stream length carried in the parity headers; it is opaque
// to the coding itself.
func (e *Encoder) Begin(totalLen uint32) {
	e.totalLen = totalLen
	e.maxPayloadLen = 0
	e.ready = false
	for i := range e.data {
		e.lens[i] = 0
		clear(e.data[i])
	}
	for j := range e.parity {
		clear(e.parity[j])
	}
}

// AddDataPacket stores one payload at slot seq. Slots never filled stay
// all-zero and code as zero padding. Adding a packet clears the ready flag,
// so parity is never served stale after a late add.
func (e *Encoder) AddDataPacket(seq int, payload []byte) error {
	if seq < 0 || seq >= e.k {
		return ErrBadSlot
	}
	if len(payload) > MaxPayload {
		return ErrPayloadTooLarge
	}
	clear(e.data[seq])
	copy(e.data[seq], payload)
	e.lens[seq] = len(payload)
	if len(payload) > e.maxPayloadLen {
		e.maxPayloadLen = len(payload)
	}
	e.ready = false
	return nil
}

// ComputeParity codes every byte position across the K data slots and fills
// the M parity slots. Slots shorter than the widest payload contribute zero
// bytes beyond their own length. The ready flag is only set once every
// column encoded.
func (e *Encoder) ComputeParity() error {
	for p := 0; p < e.maxPayloadLen; p++ {
		for i := 0; i < e.k; i++ {
			if p < e.lens[i] {
				e.column[i] = e.data[i][p]
			} else {
				e.column[i] = 0
			}
		}
		if err := e.codec.Encode(e.column, e.codeword); err != nil {
			return err
		}
		for j := 0; j < e.m; j++ {
			e.parity[j][p] = e.codeword[e.k+j]
		}
	}
	e.ready = true
	return nil
}

// ParityPacket returns the complete wire frame for parity slot idx. It does
// not mutate encoder state and may be called repeatedly once parity is
// computed.
func (e *Encoder) ParityPacket(idx int) ([]byte, error) {
	if !e.ready {
		return nil, ErrNotReady
	}
	if idx < 0 || idx >= e.m {
		return nil, ErrBadSlot
	}
	hdr := ParityHeader{
		TotalLen:  e.totalLen,
		ParityIdx: uint16(idx),
		NumParity: uint16(e.m),
		NumData:   uint16(e.k),
	}
	return BuildParityFrame(hdr, e.parity[idx][:e.maxPayloadLen]), nil
}
