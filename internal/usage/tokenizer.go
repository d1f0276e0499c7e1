package usage

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TiktokenCounter counts tokens with the model's BPE encoding. Models
// tiktoken does not know, and encodings that fail to load, report a miss so
// the caller falls back to estimation.
type TiktokenCounter struct {
	mu       sync.Mutex
	encoders map[string]*tiktoken.Tiktoken
}

// NewTiktokenCounter builds a counter with an empty encoder cache.
func NewTiktokenCounter() *TiktokenCounter {
	return &TiktokenCounter{encoders: make(map[string]*tiktoken.Tiktoken)}
}

// Count implements Tokenizer.
func (t *TiktokenCounter) Count(model, text string) (int64, bool) {
	enc, ok := t.encoderFor(model)
	if !ok {
		return 0, false
	}
	return int64(len(enc.Encode(text, nil, nil))), true
}

func (t *TiktokenCounter) encoderFor(model string) (*tiktoken.Tiktoken, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if enc, ok := t.encoders[model]; ok {
		return enc, enc != nil
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// cache the miss too, a lookup failure will not heal mid-process
		t.encoders[model] = nil
		return nil, false
	}
	t.encoders[model] = enc
	return enc, true
}
