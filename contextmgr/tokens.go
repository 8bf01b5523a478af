package contextmgr

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/BaSui01/parley/types"
)

// Estimator counts tokens with the cl100k_base encoding, falling back to
// a bytes/4 heuristic when the encoding cannot be loaded (offline builds).
type Estimator struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewEstimator creates a token estimator. Encoding load is deferred to
// first use.
func NewEstimator() *Estimator {
	return &Estimator{}
}

func (e *Estimator) encoding() *tiktoken.Tiktoken {
	e.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			e.enc = enc
		}
	})
	return e.enc
}

// Estimate returns the token count for a piece of text.
func (e *Estimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	if enc := e.encoding(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	// fallback heuristic: ~4 bytes per token for English text
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}

// EstimateContext estimates the token cost of sending a compact context
// downstream: topic, goal, summary and the recent-turn key points.
func (e *Estimator) EstimateContext(cc types.CompactContext) int {
	total := e.Estimate(cc.Topic) + e.Estimate(cc.Goal) + e.Estimate(cc.Summary)
	for _, ref := range cc.Recent {
		total += e.Estimate(ref.KeyPoint)
	}
	return total
}
