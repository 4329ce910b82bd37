// internal/sink/summary_sink.go
package sink

import (
	"fmt"
	"math"
	"sync"

	"github.com/shopspring/decimal"

	"adc-service/internal/codec"
	"adc-service/pkg/driver"
)

// fullScaleCounts is the magnitude of a full-scale signed 24-bit sample
var fullScaleCounts = decimal.NewFromInt(1 << 23)

// ChannelSummary holds the extremes seen on one channel
type ChannelSummary struct {
	Channel   int             `json:"channel"`
	Samples   int64           `json:"samples"`
	MinCounts int32           `json:"min_counts"`
	MaxCounts int32           `json:"max_counts"`
	MinVolts  decimal.Decimal `json:"min_volts"`
	MaxVolts  decimal.Decimal `json:"max_volts"`
	PeakVolts decimal.Decimal `json:"peak_volts"`
}

// SummarySink realigns every payload into channels and tracks per-channel
// extremes, converted to volts against a full-scale range.
type SummarySink struct {
	channels  int
	fullScale decimal.Decimal
	mu        sync.Mutex
	min       []int32
	max       []int32
	samples   []int64
}

var _ driver.FrameSink = (*SummarySink)(nil)

// NewSummarySink creates a summary for the given channel count
func NewSummarySink(channels int, fullScaleVolts decimal.Decimal) (*SummarySink, error) {
	if !codec.ChannelsFit(channels) {
		return nil, &codec.ValueError{Field: "channels", Value: channels, Reason: "channel count must divide the frame sample count"}
	}
	if !fullScaleVolts.IsPositive() {
		return nil, &codec.ValueError{Field: "full_scale_volts", Value: fullScaleVolts.String(), Reason: "must be positive"}
	}

	s := &SummarySink{
		channels:  channels,
		fullScale: fullScaleVolts,
		min:       make([]int32, channels),
		max:       make([]int32, channels),
		samples:   make([]int64, channels),
	}
	for i := range s.min {
		s.min[i] = math.MaxInt32
		s.max[i] = math.MinInt32
	}
	return s, nil
}

// WriteFrame folds one payload into the running extremes
func (s *SummarySink) WriteFrame(_ codec.StreamHeader, payload []byte) error {
	rows, err := codec.Realign(payload, s.channels)
	if err != nil {
		return fmt.Errorf("sink: summary: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		for ch, w := range row {
			v := codec.Counts(w)
			if v < s.min[ch] {
				s.min[ch] = v
			}
			if v > s.max[ch] {
				s.max[ch] = v
			}
			s.samples[ch]++
		}
	}
	return nil
}

// Close is a no-op; the summary stays readable
func (s *SummarySink) Close() error { return nil }

// Abort is a no-op; the partial summary stays readable
func (s *SummarySink) Abort(error) error { return nil }

// Volts converts a signed 24-bit count to volts
func (s *SummarySink) Volts(counts int32) decimal.Decimal {
	return decimal.NewFromInt32(counts).Mul(s.fullScale).Div(fullScaleCounts)
}

// Channels returns the per-channel summary. Channels without samples are
// reported with zero values.
func (s *SummarySink) Channels() []ChannelSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ChannelSummary, s.channels)
	for ch := range out {
		cs := ChannelSummary{Channel: ch, Samples: s.samples[ch]}
		if cs.Samples > 0 {
			cs.MinCounts = s.min[ch]
			cs.MaxCounts = s.max[ch]
		}
		cs.MinVolts = s.Volts(cs.MinCounts)
		cs.MaxVolts = s.Volts(cs.MaxCounts)
		cs.PeakVolts = decimal.Max(cs.MinVolts.Abs(), cs.MaxVolts.Abs())
		out[ch] = cs
	}
	return out
}

// Report flattens the summary for persistence
func (s *SummarySink) Report() map[string]interface{} {
	channels := s.Channels()
	list := make([]interface{}, len(channels))
	for i, cs := range channels {
		list[i] = map[string]interface{}{
			"channel":    cs.Channel,
			"samples":    cs.Samples,
			"min_counts": cs.MinCounts,
			"max_counts": cs.MaxCounts,
			"min_volts":  cs.MinVolts.StringFixed(6),
			"max_volts":  cs.MaxVolts.StringFixed(6),
			"peak_volts": cs.PeakVolts.StringFixed(6),
		}
	}
	return map[string]interface{}{
		"full_scale_volts": s.fullScale.String(),
		"channels":         list,
	}
}
