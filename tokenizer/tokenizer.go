// Package tokenizer wraps external subword tokenizers behind one small
// interface. Two backends are supported: gpt_bpe vocabularies (gpt2, pile,
// or a huggingface model id) and tiktoken encodings addressed as
// "tiktoken:<encoding>". Loading is fatal-by-contract: callers abort the
// run before any sampling work if the vocabulary cannot be loaded, since
// all quota arithmetic depends on it.
package tokenizer

import (
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkoukk/tiktoken-go"
	"github.com/wbrown/gpt_bpe"
)

// Codec converts text to token counts and, when an output format needs
// re-tokenized content, to token id sequences. Implementations are pure
// functions of (tokenizer identity, text).
type Codec interface {
	Id() string
	Count(text string) (int, error)
	Encode(text string) ([]int, error)
}

const countCacheSize = 4096

// Load resolves a tokenizer identifier to a Codec. Counts are memoized in
// an LRU so corpora with heavily repeated documents are not re-tokenized.
func Load(id string) (Codec, error) {
	var codec Codec
	if name, ok := strings.CutPrefix(id, "tiktoken:"); ok {
		enc, err := tiktoken.GetEncoding(name)
		if err != nil {
			return nil, fmt.Errorf(
				"loading tiktoken encoding %s: %w", name, err)
		}
		codec = &tiktokenCodec{id: id, enc: enc}
	} else {
		enc, err := gpt_bpe.NewEncoder(id)
		if err != nil {
			return nil, fmt.Errorf("loading tokenizer %s: %w", id, err)
		}
		codec = &bpeCodec{id: id, enc: enc}
	}
	cache, err := lru.NewARC(countCacheSize)
	if err != nil {
		return nil, err
	}
	return &countCached{Codec: codec, cache: cache}, nil
}

type bpeCodec struct {
	id  string
	enc *gpt_bpe.GPTEncoder
}

func (c *bpeCodec) Id() string {
	return c.id
}

func (c *bpeCodec) Count(text string) (int, error) {
	tokens := c.enc.Encode(&text)
	return len(*tokens), nil
}

func (c *bpeCodec) Encode(text string) ([]int, error) {
	tokens := c.enc.Encode(&text)
	ids := make([]int, len(*tokens))
	for i, t := range *tokens {
		ids[i] = int(t)
	}
	return ids, nil
}

type tiktokenCodec struct {
	id  string
	enc *tiktoken.Tiktoken
}

func (c *tiktokenCodec) Id() string {
	return c.id
}

func (c *tiktokenCodec) Count(text string) (int, error) {
	return len(c.enc.Encode(text, nil, nil)), nil
}

func (c *tiktokenCodec) Encode(text string) ([]int, error) {
	return c.enc.Encode(text, nil, nil), nil
}

// countCached memoizes Count results. Keys are the document text itself:
// a hash key would risk silent collisions, and the cache is small.
type countCached struct {
	Codec
	cache *lru.ARCCache
}

func (c *countCached) Count(text string) (int, error) {
	if v, ok := c.cache.Get(text); ok {
		return v.(int), nil
	}
	ct, err := c.Codec.Count(text)
	if err != nil {
		return 0, err
	}
	c.cache.Add(text, ct)
	return ct, nil
}
