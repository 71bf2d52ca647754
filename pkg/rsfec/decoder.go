package rsfec

import (
	"errors"

	"LoraFec_go/pkg/fec"
)

var (
	ErrInsufficientPackets = errors.New("rsfec: not enough packets received to decode")
	ErrSlotNotReceived     = errors.New("rsfec: data slot not received")
)

// Decoder collects whatever subset of a block's K+M packets arrives and
// reconstructs the missing data payloads once enough are in. As with the
// Encoder, one Decoder holds exactly one block; Begin starts the next.
type Decoder struct {
	k, m  int
	codec *fec.Codec

	data           [][]byte
	parity         [][]byte
	dataReceived   []bool
	parityReceived []bool
	codeword       []byte
	erased         []int

	maxPayloadLen int
	totalLen      uint32
	decoded       bool
}

func NewDecoder(nbData, nbParity int) (*Decoder, error) {
	codec, err := fec.NewCodec(nbData, nbParity)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, (nbData+nbParity)*MaxPayload)
	d := &Decoder{
		k:              nbData,
		m:              nbParity,
		codec:          codec,
		data:           make([][]byte, nbData),
		parity:         make([][]byte, nbParity),
		dataReceived:   make([]bool, nbData),
		parityReceived: make([]bool, nbParity),
		codeword:       make([]byte, nbData+nbParity),
		erased:         make([]int, 0, nbData+nbParity),
	}
	for i := 0; i < nbData; i++ {
		d.data[i] = buf[i*MaxPayload : (i+1)*MaxPayload]
	}
	for j := 0; j < nbParity; j++ {
		d.parity[j] = buf[(nbData+j)*MaxPayload : (nbData+j+1)*MaxPayload]
	}
	return d, nil
}

func (d *Decoder) NumData() int       { return d.k }
func (d *Decoder) NumParity() int     { return d.m }
func (d *Decoder) MaxPayloadLen() int { return d.maxPayloadLen }
func (d *Decoder) Decoded() bool      { return d.decoded }

// Begin starts a new block. maxPayloadLen is the caller's estimate of the
// coded payload width; it is a lower bound that arriving packets raise, so
// an estimate of 0 is fine when packets will be fed before decoding.
// Estimates outside the slot capacity are clamped, so a bad one can never
// push Decode past the fixed buffers.
func (d *Decoder) Begin(totalLen uint32, maxPayloadLen int) {
	if maxPayloadLen < 0 {
		maxPayloadLen = 0
	}
	if maxPayloadLen > MaxPayload {
		maxPayloadLen = MaxPayload
	}
	d.totalLen = totalLen
	d.maxPayloadLen = maxPayloadLen
	d.decoded = false
	for i := range d.data {
		d.dataReceived[i] = false
		clear(d.data[i])
	}
	for j := range d.parity {
		d.parityReceived[j] = false
		clear(d.parity[j])
	}
}

// AddReceivedDataPacket stores a data payload that arrived intact.
func (d *Decoder) AddReceivedDataPacket(seq int, payload []byte) error {
	if seq < 0 || seq >= d.k {
		return ErrBadSlot
	}
	if len(payload) > MaxPayload {
		return ErrPayloadTooLarge
	}
	clear(d.data[seq])
	copy(d.data[seq], payload)
	d.dataReceived[seq] = true
	if len(payload) > d.maxPayloadLen {
		d.maxPayloadLen = len(payload)
	}
	return nil
}

// AddReceivedParityPacket stores a parity payload that arrived intact.
func (d *Decoder) AddReceivedParityPacket(idx int, payload []byte) error {
	if idx < 0 || idx >= d.m {
		return ErrBadSlot
	}
	if len(payload) > MaxPayload {
		return ErrPayloadTooLarge
	}
	clear(d.parity[idx])
	copy(d.parity[idx], payload)
	d.parityReceived[idx] = true
	if len(payload) > d.maxPayloadLen {
		d.maxPayloadLen = len(payload)
	}
	return nil
}

// CountMissing returns the number of data slots still unreceived.
func (d *Decoder) CountMissing() int {
	missing := 0
	for _, r := range d.dataReceived {
		if !r {
			missing++
		}
	}
	return missing
}

// CountParity returns the number of parity slots received.
func (d *Decoder) CountParity() int {
	count := 0
	for _, r := range d.parityReceived {
		if r {
			count++
		}
	}
	return count
}

// CanDecode reports whether enough of the block arrived. Any K of the K+M
// coded symbols at a byte position determine the rest, so the block is
// recoverable exactly when received data + received parity >= K.
func (d *Decoder) CanDecode() bool {
	return (d.k-d.CountMissing())+d.CountParity() >= d.k
}

// Decode reconstructs every missing data payload. The erasure set is the
// same for every byte position within a block, so it is assembled and
// checked against M once, before any slot is touched; received slots are
// never corrupted by a refused decode.
func (d *Decoder) Decode() error {
	if !d.CanDecode() {
		return ErrInsufficientPackets
	}
	d.erased = d.erased[:0]
	for i := 0; i < d.k; i++ {
		if !d.dataReceived[i] {
			d.erased = append(d.erased, i)
		}
	}
	for j := 0; j < d.m; j++ {
		if !d.parityReceived[j] {
			d.erased = append(d.erased, d.k+j)
		}
	}
	if len(d.erased) > d.m {
		// CanDecode already guarantees this, checked again so a counting
		// bug can never reach the codec with an uncorrectable column.
		return fec.ErrTooManyErasures
	}
	for p := 0; p < d.maxPayloadLen; p++ {
		for i := 0; i < d.k; i++ {
			d.codeword[i] = d.data[i][p]
		}
		for j := 0; j < d.m; j++ {
			d.codeword[d.k+j] = d.parity[j][p]
		}
		if err := d.codec.Reconstruct(d.codeword, d.erased); err != nil {
			return err
		}
		for i := 0; i < d.k; i++ {
			d.data[i][p] = d.codeword[i]
		}
	}
	for i := range d.dataReceived {
		d.dataReceived[i] = true
	}
	d.decoded = true
	return nil
}

// DataPayload returns a copy of slot seq, padded to the block's payload
// width. Callers that need the true pre-padding length must take it from
// the data packet framing; this layer does not store it.
func (d *Decoder) DataPayload(seq int) ([]byte, error) {
	if seq < 0 || seq >= d.k {
		return nil, ErrBadSlot
	}
	if !d.dataReceived[seq] {
		return nil, ErrSlotNotReceived
	}
	out := make([]byte, d.maxPayloadLen)
	copy(out, d.data[seq][:d.maxPayloadLen])
	return out, nil
}
