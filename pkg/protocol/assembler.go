package protocol

import (
	"time"
)

type streamKey struct {
	totalLen uint32
	count    uint16
}

type pendingStream struct {
	packets   map[uint16][]byte
	firstSeen time.Time
}

// Assembler buffers packets until a complete stream can be reassembled.
// Streams are keyed by (total_len, count), a crude session identity, since
// the link carries one stream at a time in practice. Incomplete streams are
// discarded after the timeout.
type Assembler struct {
	timeout time.Duration
	streams map[streamKey]*pendingStream
}

func NewAssembler(timeout time.Duration) *Assembler {
	return &Assembler{
		timeout: timeout,
		streams: make(map[streamKey]*pendingStream),
	}
}

// AddPacket feeds one received packet. It returns the complete reassembled
// data once the stream's last packet arrives, otherwise nil. Invalid
// packets return an error and leave all pending streams untouched.
func (a *Assembler) AddPacket(pkt []byte, now time.Time) ([]byte, error) {
	a.cleanup(now)

	parsed, err := UnpackPacket(pkt)
	if err != nil {
		return nil, err
	}

	key := streamKey{totalLen: parsed.TotalLen, count: parsed.Count}
	stream, ok := a.streams[key]
	if !ok {
		stream = &pendingStream{
			packets:   make(map[uint16][]byte),
			firstSeen: now,
		}
		a.streams[key] = stream
	}
	stream.packets[parsed.Seq] = append([]byte(nil), pkt...)

	if len(stream.packets) == int(parsed.Count) {
		ordered := make([][]byte, 0, parsed.Count)
		for seq := uint16(0); seq < parsed.Count; seq++ {
			ordered = append(ordered, stream.packets[seq])
		}
		delete(a.streams, key)
		return UnpackStream(ordered)
	}
	return nil, nil
}

func (a *Assembler) cleanup(now time.Time) {
	for key, stream := range a.streams {
		if now.Sub(stream.firstSeen) > a.timeout {
			delete(a.streams, key)
		}
	}
}

// PendingStreams returns the number of incomplete streams being assembled.
func (a *Assembler) PendingStreams() int {
	return len(a.streams)
}

// Clear drops all pending streams.
func (a *Assembler) Clear() {
	a.streams = make(map[streamKey]*pendingStream)
}
