package audio

import (
	"encoding/binary"

	"github.com/smallnest/ringbuffer"
)

// SampleRing is a rolling window over the most recent speech samples.
// Samples are stored as PCM16 so the window costs two bytes per sample.
// When full, the oldest samples are discarded to make room.
// Not safe for concurrent use; each segmenter owns its ring.
type SampleRing struct {
	rb      *ringbuffer.RingBuffer
	scratch []byte
}

// NewSampleRing creates a ring holding up to capacity samples
func NewSampleRing(capacity int) *SampleRing {
	if capacity < 1 {
		capacity = 1
	}
	return &SampleRing{rb: ringbuffer.New(capacity * 2).SetBlocking(false)}
}

// Write appends samples, evicting the oldest ones when the window is full
func (r *SampleRing) Write(samples []float32) {
	capSamples := r.Capacity()
	if len(samples) > capSamples {
		samples = samples[len(samples)-capSamples:]
	}

	need := len(samples) * 2
	if free := r.rb.Free(); free < need {
		r.discard(need - free)
	}

	if cap(r.scratch) < need {
		r.scratch = make([]byte, need)
	}
	buf := r.scratch[:need]
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(toPCM16(s)))
	}
	_, _ = r.rb.Write(buf)
}

func (r *SampleRing) discard(n int) {
	tmp := make([]byte, n)
	_, _ = r.rb.Read(tmp)
}

// Len returns the number of buffered samples
func (r *SampleRing) Len() int {
	return r.rb.Length() / 2
}

// Capacity returns the maximum number of samples held
func (r *SampleRing) Capacity() int {
	return r.rb.Capacity() / 2
}


// Drain returns every buffered sample in order and empties the ring
func (r *SampleRing) Drain() []float32 {
	n := r.rb.Length()
	if n == 0 {
		return nil
	}
	buf := make([]byte, n)
	read, _ := r.rb.Read(buf)
	out := make([]float32, read/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(buf[i*2:]))) / 32768
	}
	return out
}

// Reset discards every buffered sample
func (r *SampleRing) Reset() {
	r.rb.Reset()
}
