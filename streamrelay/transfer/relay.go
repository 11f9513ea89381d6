package transfer

import (
	"io"
)

// PipeConfig configures the copy primitive shared by counting and relaying.
//
// With DoubleBuffer the Observer still reports Filling and Draining in
// alternation from the writer's side: Filling means waiting for the next
// window, and the read behind it may already have run during the previous
// Draining.
type PipeConfig struct {
	BufferSize   int           // copy buffer capacity (default: 32KB)
	DoubleBuffer bool          // overlap fill(i+1) with drain(i) using two buffers
	Observer     StateObserver // optional, called on every state transition
	Stats        *Stats        // optional, aggregated across transfers
}

// DefaultPipeConfig returns a single 32KB buffer per transfer.
func DefaultPipeConfig() PipeConfig {
	return PipeConfig{
		BufferSize: DefaultBufferSize,
	}
}

// Pipe moves bytes from an inbound stream to an outbound stream through a
// fixed-size window. A Pipe is safe for concurrent use; every call acquires
// its own buffer.
type Pipe struct {
	config PipeConfig
	pool   *BufferPool
}

// NewPipe creates a pipe.
func NewPipe(config PipeConfig) *Pipe {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultBufferSize
	}
	return &Pipe{
		config: config,
		pool:   NewBufferPool(config.BufferSize),
	}
}

// BufferSize returns the per-transfer buffer capacity.
func (p *Pipe) BufferSize() int { return p.pool.Size() }

// Relay copies src to dst until src reports io.EOF and returns the number of
// bytes moved. Neither stream is closed. A failing read or write ends the
// transfer with a *TransferError naming the side that failed.
func (p *Pipe) Relay(dst io.Writer, src io.Reader) (int64, error) {
	stats := p.config.Stats
	if stats != nil {
		stats.Active.Add(1)
		defer stats.Active.Add(-1)
	}

	var (
		n   int64
		err error
	)
	if p.config.DoubleBuffer {
		n, err = p.pumpDouble(dst, src)
	} else {
		buf := p.pool.Get()
		n, err = p.pump(dst, src, *buf)
		p.pool.Put(buf)
	}

	if stats != nil {
		stats.Bytes.Add(n)
		if err != nil {
			stats.Failures.Add(1)
		} else {
			stats.Transfers.Add(1)
		}
	}
	return n, err
}

// Consume reads src to exhaustion and returns the byte count. It is a relay
// whose output is discarded.
func (p *Pipe) Consume(src io.Reader) (int64, error) {
	return p.Relay(io.Discard, src)
}

// pump is the single-buffer fill/drain loop.
func (p *Pipe) pump(dst io.Writer, src io.Reader, buf []byte) (int64, error) {
	m := machine{observer: p.config.Observer}
	var moved int64
	for {
		m.to(StateFilling)
		nr, rerr := src.Read(buf)
		if nr < 0 || nr > len(buf) {
			m.to(StateFailed)
			return moved, inboundError(moved, errInvalidRead)
		}
		if nr > 0 {
			m.to(StateDraining)
			nw, werr := drain(dst, buf[:nr])
			moved += int64(nw)
			if werr != nil {
				m.to(StateFailed)
				return moved, outboundError(moved, werr)
			}
		}
		if rerr == io.EOF {
			m.to(StateDone)
			return moved, nil
		}
		if rerr != nil {
			m.to(StateFailed)
			return moved, inboundError(moved, rerr)
		}
	}
}

// drain writes p to dst once and turns a short write into an error.
func drain(dst io.Writer, p []byte) (int, error) {
	nw, err := dst.Write(p)
	if nw < 0 || nw > len(p) {
		nw = 0
		if err == nil {
			err = errInvalidWrite
		}
	}
	if err == nil && nw != len(p) {
		err = io.ErrShortWrite
	}
	return nw, err
}
