package chunking

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// tokenizer lazily builds the shared cl100k-style BPE encoder via
// tiktoken-go, so chunk token counts are deterministic and
// implementation-independent.
var (
	tokenizerOnce sync.Once
	tokenizer     *tiktoken.Tiktoken
)

func getTokenizer() *tiktoken.Tiktoken {
	tokenizerOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			tokenizer = nil
			return
		}
		tokenizer = enc
	})
	return tokenizer
}

// countTokens returns text's token count under the shared encoder, falling
// back to a character-count heuristic (four characters per token) if the
// encoder failed to load (keeps
// chunking usable without a functioning tokenizer, at reduced precision).
func countTokens(text string) int {
	if enc := getTokenizer(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return len([]rune(text)) / 4
}
