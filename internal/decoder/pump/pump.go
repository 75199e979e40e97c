// Package pump drives send/receive decoders one output frame at a time.
package pump

import "fmt"

// Codec is the send/receive half of a decoder context.
type Codec[P, F any] interface {
	SendPacket(p P) error
	ReceiveFrame(f F) error
}

// Pump remembers whether the current packet already went to the codec.
type Pump[P, F any] struct {
	codec Codec[P, F]
	// again reports receive errors meaning the codec wants more input.
	again   func(err error) bool
	release func(f F)

	sent bool
}

func New[P, F any](codec Codec[P, F], again func(error) bool, release func(F)) *Pump[P, F] {
	return &Pump[P, F]{
		codec:   codec,
		again:   again,
		release: release,
	}
}

// Receive sends pkt unless it was sent already, then receives the next frame
// into f. It reports false once pkt is exhausted.
func (p *Pump[P, F]) Receive(pkt P, f F) (bool, error) {
	if !p.sent {
		if err := p.codec.SendPacket(pkt); err != nil {
			return false, fmt.Errorf("sending packet failed: %w", err)
		}
		p.sent = true
	}

	if err := p.codec.ReceiveFrame(f); err != nil {
		p.sent = false
		if p.again(err) {
			return false, nil
		}
		return false, fmt.Errorf("receiving frame failed: %w", err)
	}
	return true, nil
}

// Skip drops the frames left for the current packet, so the next Receive
// sends a new one.
func (p *Pump[P, F]) Skip(f F) {
	if !p.sent {
		return
	}
	for p.codec.ReceiveFrame(f) == nil {
		p.release(f)
	}
	p.sent = false
}
