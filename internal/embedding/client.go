package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/raphaelgruber/contentgraph/internal/metrics"
)

// DefaultGroupSize is the number of texts sent to the provider per call.
const DefaultGroupSize = 16

// maxLoggedFailures bounds per-item failure logs in a batch.
const maxLoggedFailures = 5

// Client wraps a Provider with zero-vector degradation, grouping and timing.
type Client struct {
	provider Provider
	logger   *slog.Logger
	metrics  *metrics.Collector
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithMetrics records provider call timings.
func WithMetrics(m *metrics.Collector) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a client over provider.
func NewClient(provider Provider, opts ...ClientOption) *Client {
	c := &Client{provider: provider, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model returns the provider's model name.
func (c *Client) Model() string {
	return c.provider.Model()
}

// Dimension returns the provider's vector dimension.
func (c *Client) Dimension() int {
	return c.provider.Dimension()
}

// Zero returns a zero vector of the provider's dimension.
func (c *Client) Zero() []float32 {
	return make([]float32, c.provider.Dimension())
}

// Embed embeds one text. Blank text yields a zero vector without a provider call.
// Provider errors are returned.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return c.Zero(), nil
	}

	start := time.Now()
	vec, err := c.provider.Embed(ctx, text)
	c.metrics.RecordTiming(metrics.OpEmbed, time.Since(start))
	if err != nil {
		c.metrics.RecordError(metrics.OpEmbed)
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(vec) != c.provider.Dimension() {
		return nil, fmt.Errorf("embed: %w: got %d, want %d", ErrDimensionMismatch, len(vec), c.provider.Dimension())
	}
	return vec, nil
}

// Progress reports batch progress after each group.
type Progress struct {
	Done   int
	Total  int
	Failed int
}

// BatchOptions configures EmbedBatch.
type BatchOptions struct {
	GroupSize  int
	OnProgress func(Progress)
}

// BatchResult holds one vector per input text. Failed lists the indices that
// degraded to a zero vector.
type BatchResult struct {
	Vectors [][]float32
	Failed  []int
}

// EmbedBatch embeds texts in fixed-size groups. A failed group is retried item
// by item; an item that still fails degrades to a zero vector. Only context
// cancellation aborts the batch.
func (c *Client) EmbedBatch(ctx context.Context, texts []string, opts BatchOptions) (BatchResult, error) {
	groupSize := opts.GroupSize
	if groupSize <= 0 {
		groupSize = DefaultGroupSize
	}

	result := BatchResult{Vectors: make([][]float32, len(texts))}
	logged := 0
	fail := func(i int, err error) {
		result.Vectors[i] = c.Zero()
		result.Failed = append(result.Failed, i)
		if logged < maxLoggedFailures {
			c.logger.Warn("embedding failed, using zero vector", "index", i, "text_len", len(texts[i]), "error", err)
			logged++
		}
	}

	for start := 0; start < len(texts); start += groupSize {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		end := min(start+groupSize, len(texts))

		// Blank texts never reach the provider.
		var idx []int
		var group []string
		for i := start; i < end; i++ {
			if strings.TrimSpace(texts[i]) == "" {
				result.Vectors[i] = c.Zero()
				continue
			}
			idx = append(idx, i)
			group = append(group, texts[i])
		}

		if len(group) > 0 {
			vecs, err := c.embedGroup(ctx, group)
			if err == nil {
				for j, i := range idx {
					result.Vectors[i] = vecs[j]
				}
			} else {
				c.logger.Debug("group embedding failed, retrying items", "start", start, "size", len(group), "error", err)
				for _, i := range idx {
					vec, err := c.Embed(ctx, texts[i])
					if err != nil {
						fail(i, err)
						continue
					}
					result.Vectors[i] = vec
				}
			}
		}

		if opts.OnProgress != nil {
			opts.OnProgress(Progress{Done: end, Total: len(texts), Failed: len(result.Failed)})
		}
	}

	if len(result.Failed) > maxLoggedFailures {
		c.logger.Warn("embedding failures in batch", "failed", len(result.Failed), "total", len(texts))
	}
	return result, nil
}

func (c *Client) embedGroup(ctx context.Context, group []string) ([][]float32, error) {
	start := time.Now()
	vecs, err := c.provider.EmbedBatch(ctx, group)
	c.metrics.RecordTiming(metrics.OpEmbed, time.Since(start))
	if err != nil {
		c.metrics.RecordError(metrics.OpEmbed)
		return nil, err
	}
	if len(vecs) != len(group) {
		return nil, fmt.Errorf("count mismatch: got %d, want %d", len(vecs), len(group))
	}
	for i, v := range vecs {
		if len(v) != c.provider.Dimension() {
			return nil, fmt.Errorf("embedding %d: %w", i, ErrDimensionMismatch)
		}
	}
	return vecs, nil
}
