package transfer

import "io"

// filled is a buffer handed from the reader goroutine to the writer.
type filled struct {
	buf *[]byte
	n   int
	err error
}

// pumpDouble overlaps reading the next window with writing the current one.
// Exactly two buffers circulate between the goroutines, so lookahead is
// bounded by one extra buffer and a blocked writer stalls the reader.
// The reader goroutine has exited before pumpDouble returns, so src is
// never read after the transfer ends.
func (p *Pipe) pumpDouble(dst io.Writer, src io.Reader) (int64, error) {
	m := machine{observer: p.config.Observer}

	empty := make(chan *[]byte, 2)
	full := make(chan filled, 2)
	done := make(chan struct{})
	exited := make(chan struct{})

	empty <- p.pool.Get()
	empty <- p.pool.Get()

	go func() {
		defer close(exited)
		for {
			var buf *[]byte
			select {
			case buf = <-empty:
			case <-done:
				return
			}
			select {
			case <-done:
				p.pool.Put(buf)
				return
			default:
			}
			n, err := src.Read(*buf)
			select {
			case full <- filled{buf: buf, n: n, err: err}:
			case <-done:
				p.pool.Put(buf)
				return
			}
			if err != nil || n < 0 || n > len(*buf) {
				return
			}
		}
	}()

	// stop waits out a read in progress, then returns every buffer to the pool.
	stop := func(last *[]byte) {
		close(done)
		<-exited
		p.pool.Put(last)
		for {
			select {
			case buf := <-empty:
				p.pool.Put(buf)
			case f := <-full:
				p.pool.Put(f.buf)
			default:
				return
			}
		}
	}

	var moved int64
	for {
		m.to(StateFilling)
		f := <-full
		if f.n < 0 || f.n > len(*f.buf) {
			m.to(StateFailed)
			stop(f.buf)
			return moved, inboundError(moved, errInvalidRead)
		}
		if f.n > 0 {
			m.to(StateDraining)
			nw, werr := drain(dst, (*f.buf)[:f.n])
			moved += int64(nw)
			if werr != nil {
				m.to(StateFailed)
				stop(f.buf)
				return moved, outboundError(moved, werr)
			}
		}
		if f.err == io.EOF {
			m.to(StateDone)
			stop(f.buf)
			return moved, nil
		}
		if f.err != nil {
			m.to(StateFailed)
			stop(f.buf)
			return moved, inboundError(moved, f.err)
		}
		empty <- f.buf
	}
}
