package fec

import (
	"errors"
	"fmt"

	rs "github.com/klauspost/reedsolomon"
)

// GF(2^8) allows at most 255 symbols per codeword.
const MaxSymbols = 255

var (
	ErrBadParams       = errors.New("fec: need at least 1 source and 1 parity symbol")
	ErrTooManySymbols  = errors.New("fec: source + parity symbols exceed 255")
	ErrColumnLength    = errors.New("fec: column length does not match codec parameters")
	ErrTooManyErasures = errors.New("fec: more erasures than parity symbols")
	ErrBadErasure      = errors.New("fec: erasure position out of range")
)

// Codec is a systematic Reed-Solomon codec over GF(2^8) for a single column
// of bytes: K source symbols in, K+M codeword symbols out. One codec is
// reused for every byte position of a block, so the shard scratch space is
// allocated once and recycled between calls.
type Codec struct {
	k, m   int
	rs     rs.Encoder
	shards [][]byte
	buf    []byte
}

func NewCodec(nbSourceSymbols, nbParitySymbols int) (*Codec, error) {
	if nbSourceSymbols < 1 || nbParitySymbols < 1 {
		return nil, ErrBadParams
	}
	if nbSourceSymbols+nbParitySymbols > MaxSymbols {
		return nil, ErrTooManySymbols
	}
	enc, err := rs.New(nbSourceSymbols, nbParitySymbols)
	if err != nil {
		return nil, fmt.Errorf("fec: create reed-solomon encoder: %w", err)
	}
	n := nbSourceSymbols + nbParitySymbols
	return &Codec{
		k:      nbSourceSymbols,
		m:      nbParitySymbols,
		rs:     enc,
		shards: make([][]byte, n),
		buf:    make([]byte, n),
	}, nil
}

func (c *Codec) K() int { return c.k }
func (c *Codec) M() int { return c.m }

// resetShards points every shard at its one-byte slot in the scratch buffer.
// Reconstruct leaves recovered shards pointing at library-owned memory, so
// this runs at the start of every call.
func (c *Codec) resetShards() {
	for i := range c.shards {
		c.shards[i] = c.buf[i : i+1]
	}
}

// Encode computes the codeword for one column. column holds the K source
// bytes; codeword receives all K+M bytes, the first K equal to the input.
func (c *Codec) Encode(column, codeword []byte) error {
	if len(column) != c.k || len(codeword) != c.k+c.m {
		return ErrColumnLength
	}
	c.resetShards()
	copy(c.buf[:c.k], column)
	for i := c.k; i < len(c.buf); i++ {
		c.buf[i] = 0
	}
	if err := c.rs.Encode(c.shards); err != nil {
		return fmt.Errorf("fec: encode column: %w", err)
	}
	for i := range c.shards {
		codeword[i] = c.shards[i][0]
	}
	return nil
}

// Reconstruct repairs a codeword in place. erased lists the positions whose
// bytes were never received; they are handed to the decoder as missing
// shards rather than zero values, so an absent byte is never mistaken for a
// received zero. At most M positions can be erased.
func (c *Codec) Reconstruct(codeword []byte, erased []int) error {
	if len(codeword) != c.k+c.m {
		return ErrColumnLength
	}
	if len(erased) > c.m {
		return ErrTooManyErasures
	}
	c.resetShards()
	copy(c.buf, codeword)
	for _, pos := range erased {
		if pos < 0 || pos >= len(c.shards) {
			return ErrBadErasure
		}
		c.shards[pos] = nil
	}
	if err := c.rs.Reconstruct(c.shards); err != nil {
		return fmt.Errorf("fec: reconstruct column: %w", err)
	}
	for i := range c.shards {
		codeword[i] = c.shards[i][0]
	}
	return nil
}
