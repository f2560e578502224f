package assembler

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// TokenCounter measures text in the single unit the budget is expressed
// in. All of a Builder's measurements go through one counter, so budget
// arithmetic stays consistent.
type TokenCounter interface {
	Count(text string) int
}

func init() {
	// Offline BPE tables; no network fetch at first use.
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

var (
	bpeOnce sync.Once
	bpeEnc  *tiktoken.Tiktoken
	bpeErr  error
)

// BPECounter counts tokens with the cl100k_base encoding. The encoding
// tables load once per process.
type BPECounter struct {
	enc *tiktoken.Tiktoken
}

// NewBPECounter loads (or reuses) the cl100k_base encoding.
func NewBPECounter() (*BPECounter, error) {
	bpeOnce.Do(func() {
		bpeEnc, bpeErr = tiktoken.GetEncoding("cl100k_base")
	})
	if bpeErr != nil {
		return nil, fmt.Errorf("load token encoding: %w", bpeErr)
	}
	return &BPECounter{enc: bpeEnc}, nil
}

func (c *BPECounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// RuneCounter measures text in code points. Useful when the budget is
// configured in characters rather than model tokens.
type RuneCounter struct{}

func (RuneCounter) Count(text string) int { return len([]rune(text)) }
