package transfer

import (
	_ "embed"
	"fmt"
	"io"
	"os"
)

//go:embed corpus.txt
var loremIpsum []byte

// Corpus is the immutable seed that synthetic content is cut from.
// It is safe for concurrent use by any number of sources.
type Corpus struct {
	data []byte
}

// DefaultCorpus returns the built-in lorem ipsum corpus.
func DefaultCorpus() *Corpus {
	return &Corpus{data: loremIpsum}
}

// NewCorpus copies seed into a new corpus. An empty seed cannot be cycled
// and is rejected with ErrConfiguration.
func NewCorpus(seed []byte) (*Corpus, error) {
	if len(seed) == 0 {
		return nil, fmt.Errorf("%w: empty corpus", ErrConfiguration)
	}
	data := make([]byte, len(seed))
	copy(data, seed)
	return &Corpus{data: data}, nil
}

// LoadCorpus reads a corpus from a file.
func LoadCorpus(path string) (*Corpus, error) {
	seed, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read corpus %s: %v", ErrConfiguration, path, err)
	}
	if len(seed) == 0 {
		return nil, fmt.Errorf("%w: corpus file %s is empty", ErrConfiguration, path)
	}
	return &Corpus{data: seed}, nil
}

// Len returns the corpus length L.
func (c *Corpus) Len() int { return len(c.data) }

// At returns the byte at logical offset i of the infinite repetition.
// Negative offsets count back from the start, so At(-1) is the last byte.
func (c *Corpus) At(i int64) byte {
	l := int64(len(c.data))
	return c.data[(i%l+l)%l]
}

// Generate returns a source producing exactly n bytes where byte i is
// corpus[i mod L].
func (c *Corpus) Generate(n int64) (*Source, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: negative length %d", ErrInvalidArgument, n)
	}
	return &Source{corpus: c, size: n, remaining: n}, nil
}

// Source is a lazy, finite view of the repeating corpus. It keeps only a
// cursor; nothing of size n is ever allocated.
type Source struct {
	corpus    *Corpus
	size      int64
	remaining int64
	offset    int // position inside corpus.data
}

// Len returns the number of bytes not yet produced.
func (s *Source) Len() int64 { return s.remaining }

// Size returns the total length the source was created with.
func (s *Source) Size() int64 { return s.size }

// Reset rewinds the source to its first byte.
func (s *Source) Reset() {
	s.remaining = s.size
	s.offset = 0
}

// window returns the next contiguous run of corpus bytes, at most limit long.
func (s *Source) window(limit int) []byte {
	w := s.corpus.data[s.offset:]
	if len(w) > limit {
		w = w[:limit]
	}
	if int64(len(w)) > s.remaining {
		w = w[:s.remaining]
	}
	return w
}

func (s *Source) advance(n int) {
	s.remaining -= int64(n)
	s.offset += n
	if s.offset == len(s.corpus.data) {
		s.offset = 0
	}
}

func (s *Source) Read(p []byte) (int, error) {
	if s.remaining == 0 {
		return 0, io.EOF
	}
	n := 0
	for n < len(p) && s.remaining > 0 {
		c := copy(p[n:], s.window(len(p)-n))
		s.advance(c)
		n += c
	}
	return n, nil
}

// WriteTo writes the remaining bytes to w straight from the corpus, one
// corpus window per write. A zero-length source performs no writes.
func (s *Source) WriteTo(w io.Writer) (int64, error) {
	var written int64
	for s.remaining > 0 {
		win := s.window(len(s.corpus.data))
		n, err := w.Write(win)
		if n < 0 || n > len(win) {
			n = 0
			if err == nil {
				err = errInvalidWrite
			}
		}
		s.advance(n)
		written += int64(n)
		if err != nil {
			return written, outboundError(written, err)
		}
		if n != len(win) {
			return written, outboundError(written, io.ErrShortWrite)
		}
	}
	return written, nil
}
