package tokenizer

import (
	"bufio"
	"fmt"
	"os"
)

// Special token names expected in every BERT-style vocabulary.
const (
	tokenPad = "[PAD]"
	tokenUnk = "[UNK]"
	tokenCls = "[CLS]"
	tokenSep = "[SEP]"
)

// Vocab is a WordPiece vocabulary. Token ids come from line position in
// vocab.txt (0-indexed).
type Vocab struct {
	ids    map[string]int64
	tokens []string

	PadID int64
	UnkID int64
	ClsID int64
	SepID int64
}

// LoadVocab reads a vocab.txt file, one token per line.
func LoadVocab(path string) (*Vocab, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: open vocab: %w", err)
	}
	defer f.Close()

	v := &Vocab{ids: make(map[string]int64, 32768)}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		tok := scanner.Text()
		v.ids[tok] = int64(len(v.tokens))
		v.tokens = append(v.tokens, tok)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("tokenizer: read vocab: %w", err)
	}
	if len(v.tokens) == 0 {
		return nil, fmt.Errorf("tokenizer: vocab file %s is empty", path)
	}

	for _, s := range []struct {
		name string
		dst  *int64
	}{
		{tokenPad, &v.PadID},
		{tokenUnk, &v.UnkID},
		{tokenCls, &v.ClsID},
		{tokenSep, &v.SepID},
	} {
		id, ok := v.ids[s.name]
		if !ok {
			return nil, fmt.Errorf("tokenizer: vocab missing special token %s", s.name)
		}
		*s.dst = id
	}

	return v, nil
}

// ID returns the id for token, falling back to [UNK].
func (v *Vocab) ID(token string) int64 {
	if id, ok := v.ids[token]; ok {
		return id
	}
	return v.UnkID
}

// Has reports whether token is in the vocabulary.
func (v *Vocab) Has(token string) bool {
	_, ok := v.ids[token]
	return ok
}

// Size returns the vocabulary size.
func (v *Vocab) Size() int {
	return len(v.tokens)
}
