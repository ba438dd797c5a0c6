package opus

// Packetizer cuts a continuous PCM stream into 20 ms frames and emits one
// encoded packet per frame. It is not safe for concurrent use; capture
// devices call it from their single audio goroutine.
type Packetizer struct {
	enc  *Encoder
	emit func(packet []byte)
	buf  []int16
}

// NewPacketizer creates a packetizer for interleaved PCM with the given
// channel count. emit receives each packet in order.
func NewPacketizer(channels int, emit func(packet []byte)) (*Packetizer, error) {
	enc, err := NewEncoder(channels)
	if err != nil {
		return nil, err
	}
	return &Packetizer{
		enc:  enc,
		emit: emit,
		buf:  make([]int16, 0, enc.FrameSamples()*2),
	}, nil
}

// Write appends samples and emits every complete frame.
func (p *Packetizer) Write(pcm []int16) error {
	p.buf = append(p.buf, pcm...)
	n := p.enc.FrameSamples()
	off := 0
	for len(p.buf)-off >= n {
		packet, err := p.enc.Encode(p.buf[off : off+n])
		if err != nil {
			return err
		}
		p.emit(packet)
		off += n
	}
	p.buf = append(p.buf[:0], p.buf[off:]...)
	return nil
}

// Buffered returns the number of samples waiting for a full frame.
func (p *Packetizer) Buffered() int { return len(p.buf) }

// Flush pads a partial frame with silence and emits it. It does nothing
// when no samples are buffered.
func (p *Packetizer) Flush() error {
	if len(p.buf) == 0 {
		return nil
	}
	n := p.enc.FrameSamples()
	for len(p.buf) < n {
		p.buf = append(p.buf, 0)
	}
	packet, err := p.enc.Encode(p.buf)
	p.buf = p.buf[:0]
	if err != nil {
		return err
	}
	p.emit(packet)
	return nil
}
