package tokenizer

import (
	"strconv"
	"strings"
	"unicode"
)

// Punctuation lists the characters that always form a token of their own.
const Punctuation = ".,;:!?"

// Token is one display token of the prompt. Index is its position in the
// tokenized sequence and is what tensor rows and columns are paired with.
type Token struct {
	Text  string `json:"text"`
	Index int    `json:"index"`
}

// Tokenize splits display text into tokens. Runs of whitespace separate
// tokens and every punctuation character becomes its own token.
//
// This is an approximation of the model's tokenizer used only for labelling;
// its length may disagree with the tensor sequence length.
func Tokenize(text string) []Token {
	tokens := make([]Token, 0)
	var sb strings.Builder

	flush := func() {
		if frag := strings.TrimSpace(sb.String()); frag != "" {
			tokens = append(tokens, Token{Text: frag, Index: len(tokens)})
		}
		sb.Reset()
	}

	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush()
		case strings.ContainsRune(Punctuation, r):
			flush()
			tokens = append(tokens, Token{Text: string(r), Index: len(tokens)})
		default:
			sb.WriteRune(r)
		}
	}
	flush()

	return tokens
}

// Texts returns the token strings in order.
func Texts(tokens []Token) []string {
	out := make([]string, len(tokens))
	for i, tok := range tokens {
		out[i] = tok.Text
	}
	return out
}

// Labels returns n labels paired with tokens by index. Positions without a
// token (tensor longer than the tokenization) get a positional placeholder.
func Labels(tokens []Token, n int) []string {
	if n < 0 {
		n = 0
	}
	labels := make([]string, n)
	for i := range labels {
		if i < len(tokens) {
			labels[i] = tokens[i].Text
		} else {
			labels[i] = "[" + strconv.Itoa(i) + "]"
		}
	}
	return labels
}
