package inspect

import "fmt"

// Alignment is the verdict of comparing a display tokenization with a
// tensor's sequence dimension.
type Alignment struct {
	Aligned    bool `json:"aligned"`
	TokenCount int  `json:"token_count"`
	SeqLen     int  `json:"seq_len"`
}

// Validate compares tokenCount against tensorSeqLen. It never fails: a
// mismatch is reported through Aligned and callers keep going with Pairable.
func Validate(tokenCount, tensorSeqLen int) Alignment {
	return Alignment{
		Aligned:    tokenCount == tensorSeqLen,
		TokenCount: tokenCount,
		SeqLen:     tensorSeqLen,
	}
}

// Pairable is the number of leading positions that can be paired by index.
func (a Alignment) Pairable() int {
	n := min(a.TokenCount, a.SeqLen)
	if n < 0 {
		return 0
	}
	return n
}

// Diagnostic returns a human-readable note for a mismatch, or "" when the
// tokenization is aligned.
func (a Alignment) Diagnostic() string {
	if a.Aligned {
		return ""
	}
	return fmt.Sprintf("display tokenization has %d tokens but the tensor sequence length is %d; showing the first %d positions",
		a.TokenCount, a.SeqLen, a.Pairable())
}
