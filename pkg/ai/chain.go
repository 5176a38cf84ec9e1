package ai

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/papercomputeco/openmem/pkg/modes"
)

// ChainedCompressor tries an ordered list of compressors, falling through
// on retryable failures. Configuration errors short-circuit with no
// fallback. This wrapper is the sole fallback site for compression. When
// every link fails, the last link's error is returned as is, so a caller
// can receive a retryable error from it.
//
// The chain is infallible when its last link is the [BasicExtractor], which
// is how the queue processor wires it.
type ChainedCompressor struct {
	links  []Compressor
	logger *zap.Logger
}

// NewChainedCompressor builds a chain from ordered links.
func NewChainedCompressor(logger *zap.Logger, links ...Compressor) *ChainedCompressor {
	return &ChainedCompressor{links: links, logger: logger}
}

// Compress walks the chain until a link succeeds.
func (c *ChainedCompressor) Compress(ctx context.Context, capture Capture, mode *modes.Mode) (*ObservationDraft, error) {
	var lastErr error

	for i, link := range c.links {
		draft, err := link.Compress(ctx, capture, mode)
		if err == nil {
			return draft, nil
		}

		if IsConfigError(err) {
			return nil, err
		}

		c.logger.Warn("compressor link failed, falling through",
			zap.Int("link", i),
			zap.Error(err),
		)
		lastErr = err
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("empty compressor chain")
	}
	return nil, lastErr
}
