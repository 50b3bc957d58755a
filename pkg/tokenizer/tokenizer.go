// Package tokenizer implements BERT-style WordPiece tokenization for the
// ONNX encoder path. Output matches the HuggingFace BertTokenizer for the
// same vocabulary: [CLS] + subwords + [SEP], truncated to MaxSeqLen, with a
// parallel attention mask (1 = real token, 0 = padding).
package tokenizer

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// MaxSeqLen caps the token sequence length, including [CLS] and [SEP].
const MaxSeqLen = 128

// maxWordRunes guards WordPiece against pathological tokens; longer basic
// tokens map straight to [UNK], as in the reference implementation.
const maxWordRunes = 200

// ErrUnsupportedInput is returned for byte sequences that are not valid
// UTF-8 text.
var ErrUnsupportedInput = errors.New("tokenizer: unsupported input: not valid UTF-8 text")

// Encoded holds one tokenized text. Both slices have equal length, at most
// MaxSeqLen.
type Encoded struct {
	InputIDs      []int64
	AttentionMask []int64
}

// Batch packs several encoded texts into flat row-major slices padded to
// the longest sequence in the batch, ready for tensor construction.
// All flat slices have length BatchSize * SeqLen.
type Batch struct {
	InputIDs      []int64
	AttentionMask []int64
	TokenTypeIDs  []int64
	BatchSize     int64
	SeqLen        int64
}

// Tokenizer turns raw text into model input ids. Deterministic for a fixed
// vocabulary and safe for concurrent use.
type Tokenizer struct {
	vocab *Vocab
}

// New creates a Tokenizer over a loaded vocabulary.
func New(vocab *Vocab) *Tokenizer {
	return &Tokenizer{vocab: vocab}
}

// NewFromFile loads vocab.txt and creates a Tokenizer.
func NewFromFile(vocabPath string) (*Tokenizer, error) {
	v, err := LoadVocab(vocabPath)
	if err != nil {
		return nil, err
	}
	return New(v), nil
}

// Encode tokenizes a single text. The result is unpadded: its length is
// the real token count (>= 2 for [CLS] and [SEP]).
func (t *Tokenizer) Encode(text string) (Encoded, error) {
	if !utf8.ValidString(text) {
		return Encoded{}, ErrUnsupportedInput
	}

	pieces := t.wordpieceAll(basicTokenize(text))

	// Reserve room for [CLS] and [SEP].
	if len(pieces) > MaxSeqLen-2 {
		pieces = pieces[:MaxSeqLen-2]
	}

	n := len(pieces) + 2
	ids := make([]int64, n)
	mask := make([]int64, n)

	ids[0] = t.vocab.ClsID
	for i, p := range pieces {
		ids[i+1] = t.vocab.ID(p)
	}
	ids[n-1] = t.vocab.SepID
	for i := range mask {
		mask[i] = 1
	}

	return Encoded{InputIDs: ids, AttentionMask: mask}, nil
}

// EncodeBatch tokenizes texts and pads every row to the longest sequence in
// the batch (capped at MaxSeqLen). Padding positions carry the [PAD] id and
// a zero attention mask.
func (t *Tokenizer) EncodeBatch(texts []string) (Batch, error) {
	if len(texts) == 0 {
		return Batch{}, nil
	}

	rows := make([]Encoded, len(texts))
	maxLen := 0
	for i, text := range texts {
		enc, err := t.Encode(text)
		if err != nil {
			return Batch{}, err
		}
		rows[i] = enc
		if len(enc.InputIDs) > maxLen {
			maxLen = len(enc.InputIDs)
		}
	}

	batchSize := int64(len(rows))
	seqLen := int64(maxLen)
	total := batchSize * seqLen

	b := Batch{
		InputIDs:      make([]int64, total),
		AttentionMask: make([]int64, total),
		TokenTypeIDs:  make([]int64, total),
		BatchSize:     batchSize,
		SeqLen:        seqLen,
	}

	for i, row := range rows {
		off := int64(i) * seqLen
		copy(b.InputIDs[off:], row.InputIDs)
		copy(b.AttentionMask[off:], row.AttentionMask)
		if t.vocab.PadID != 0 {
			for j := int64(len(row.InputIDs)); j < seqLen; j++ {
				b.InputIDs[off+j] = t.vocab.PadID
			}
		}
	}

	return b, nil
}

// wordpieceAll decomposes basic tokens into WordPiece subwords.
func (t *Tokenizer) wordpieceAll(words []string) []string {
	var out []string
	for _, w := range words {
		if w == "" {
			continue
		}
		out = append(out, t.wordpiece(w)...)
	}
	return out
}

// wordpiece greedily matches the longest vocabulary prefix, then continues
// with "##"-prefixed continuations. A word with any unmatchable remainder
// collapses to a single [UNK].
func (t *Tokenizer) wordpiece(word string) []string {
	runes := []rune(word)
	if len(runes) > maxWordRunes {
		return []string{tokenUnk}
	}

	var subs []string
	start := 0
	for start < len(runes) {
		end := len(runes)
		matched := false
		for end > start {
			sub := string(runes[start:end])
			if start > 0 {
				sub = "##" + sub
			}
			if t.vocab.Has(sub) {
				subs = append(subs, sub)
				matched = true
				break
			}
			end--
		}
		if !matched {
			return []string{tokenUnk}
		}
		start = end
	}
	return subs
}

// basicTokenize mirrors BERT's BasicTokenizer: clean control characters,
// isolate CJK ideographs, lowercase, strip accents, split on whitespace
// and punctuation.
func basicTokenize(text string) []string {
	text = cleanText(text)
	text = isolateCJK(text)
	text = strings.ToLower(text)
	text = stripAccents(text)

	var words []string
	for _, field := range strings.Fields(text) {
		words = append(words, splitPunct(field)...)
	}
	return words
}

func cleanText(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r == 0 || r == 0xFFFD || isControl(r) {
			continue
		}
		if isWhitespace(r) {
			b.WriteRune(' ')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func stripAccents(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range norm.NFD.String(text) {
		if unicode.In(r, unicode.Mn) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isolateCJK(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4)
	for _, r := range text {
		if isCJK(r) {
			b.WriteRune(' ')
			b.WriteRune(r)
			b.WriteRune(' ')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func splitPunct(word string) []string {
	var tokens []string
	var cur strings.Builder
	for _, r := range word {
		if isPunct(r) {
			if cur.Len() > 0 {
				tokens = append(tokens, cur.String())
				cur.Reset()
			}
			tokens = append(tokens, string(r))
		} else {
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		tokens = append(tokens, cur.String())
	}
	return tokens
}

func isWhitespace(r rune) bool {
	if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
		return true
	}
	return unicode.Is(unicode.Zs, r)
}

func isControl(r rune) bool {
	if r == '\t' || r == '\n' || r == '\r' {
		return false
	}
	return unicode.IsControl(r)
}

func isPunct(r rune) bool {
	// BERT treats these ASCII ranges as punctuation even where Unicode
	// does not (e.g. '$', '+').
	if (r >= 33 && r <= 47) || (r >= 58 && r <= 64) ||
		(r >= 91 && r <= 96) || (r >= 123 && r <= 126) {
		return true
	}
	return unicode.IsPunct(r)
}

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x20000 && r <= 0x2A6DF) ||
		(r >= 0x2A700 && r <= 0x2B73F) ||
		(r >= 0x2B740 && r <= 0x2B81F) ||
		(r >= 0x2B820 && r <= 0x2CEAF) ||
		(r >= 0xF900 && r <= 0xFAFF) ||
		(r >= 0x2F800 && r <= 0x2FA1F)
}
