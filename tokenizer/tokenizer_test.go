package tokenizer

import (
	"errors"
	"testing"

	lru "github.com/hashicorp/golang-lru"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadGPT2(t *testing.T) {
	codec, err := Load("gpt2")
	require.NoError(t, err)
	assert.Equal(t, "gpt2", codec.Id())

	ct, err := codec.Count("The quick brown fox jumps over the lazy dog.")
	require.NoError(t, err)
	assert.Greater(t, ct, 0)

	ids, err := codec.Encode("hello world")
	require.NoError(t, err)
	assert.Len(t, ids, ct2(t, codec, "hello world"))
}

func TestCountIsPure(t *testing.T) {
	codec, err := Load("gpt2")
	require.NoError(t, err)
	text := "Reproducibility is load-bearing, not incidental."
	first := ct2(t, codec, text)
	for i := 0; i < 3; i++ {
		assert.Equal(t, first, ct2(t, codec, text))
	}
}

func TestLoadUnknownTiktoken(t *testing.T) {
	_, err := Load("tiktoken:no_such_encoding")
	assert.Error(t, err)
}

func ct2(t *testing.T, codec Codec, text string) int {
	t.Helper()
	ct, err := codec.Count(text)
	require.NoError(t, err)
	return ct
}

// fakeCodec counts invocations so the cache wrapper can be observed.
type fakeCodec struct {
	calls int
	fail  bool
}

func (f *fakeCodec) Id() string { return "fake" }

func (f *fakeCodec) Count(text string) (int, error) {
	f.calls++
	if f.fail {
		return 0, errors.New("count failed")
	}
	return len(text), nil
}

func (f *fakeCodec) Encode(text string) ([]int, error) {
	return make([]int, len(text)), nil
}

func TestCountCached(t *testing.T) {
	fake := &fakeCodec{}
	cache, err := lru.NewARC(16)
	require.NoError(t, err)
	codec := &countCached{Codec: fake, cache: cache}

	assert.Equal(t, 5, ct2(t, codec, "abcde"))
	assert.Equal(t, 5, ct2(t, codec, "abcde"))
	assert.Equal(t, 1, fake.calls, "second count must hit the cache")

	assert.Equal(t, 3, ct2(t, codec, "xyz"))
	assert.Equal(t, 2, fake.calls)
}

func TestCountCachedError(t *testing.T) {
	fake := &fakeCodec{fail: true}
	cache, err := lru.NewARC(16)
	require.NoError(t, err)
	codec := &countCached{Codec: fake, cache: cache}

	_, countErr := codec.Count("boom")
	assert.Error(t, countErr)
	_, countErr = codec.Count("boom")
	assert.Error(t, countErr, "errors are not cached")
	assert.Equal(t, 2, fake.calls)
}
