package transfer

import (
	"fmt"
	"io"
)

// Engine is the single entry point for the three transfer shapes:
// generating content, consuming a stream and relaying one stream into
// another.
type Engine struct {
	corpus *Corpus
	pipe   *Pipe
	stats  *Stats
}

// NewEngine creates an engine over corpus. A nil or empty corpus is a
// configuration error.
func NewEngine(corpus *Corpus, config PipeConfig) (*Engine, error) {
	if corpus == nil || corpus.Len() == 0 {
		return nil, fmt.Errorf("%w: engine needs a non-empty corpus", ErrConfiguration)
	}
	if config.Stats == nil {
		config.Stats = &Stats{}
	}
	return &Engine{
		corpus: corpus,
		pipe:   NewPipe(config),
		stats:  config.Stats,
	}, nil
}

// Generate returns a lazy source of exactly n corpus bytes.
func (e *Engine) Generate(n int64) (*Source, error) {
	return e.corpus.Generate(n)
}

// Consume counts the bytes of r until end of stream.
func (e *Engine) Consume(r io.Reader) (int64, error) {
	return e.pipe.Consume(r)
}

// Relay forwards src to dst and returns the number of bytes forwarded.
func (e *Engine) Relay(dst io.Writer, src io.Reader) (int64, error) {
	return e.pipe.Relay(dst, src)
}

// Corpus returns the corpus content is generated from.
func (e *Engine) Corpus() *Corpus { return e.corpus }

// BufferSize returns the per-transfer buffer capacity.
func (e *Engine) BufferSize() int { return e.pipe.BufferSize() }

// Stats returns the engine-wide counters.
func (e *Engine) Stats() StatsSnapshot { return e.stats.Snapshot() }
