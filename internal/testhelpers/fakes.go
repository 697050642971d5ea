package testhelpers

import (
	"context"
	"math"
	"sync"
)

// FakeEmbedder returns preset vectors keyed by exact text or image URL.
// Unknown inputs yield no embedding, as does anything listed in Fail.
type FakeEmbedder struct {
	mu     sync.Mutex
	text   map[string][]float32
	images map[string][]float32
	fail   map[string]bool

	TextCalls  int
	ImageCalls int
}

// NewFakeEmbedder creates an empty fake
func NewFakeEmbedder() *FakeEmbedder {
	return &FakeEmbedder{
		text:   make(map[string][]float32),
		images: make(map[string][]float32),
		fail:   make(map[string]bool),
	}
}

// SetText registers the vector returned for text
func (f *FakeEmbedder) SetText(text string, vec []float32) *FakeEmbedder {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.text[text] = vec
	return f
}

// SetImage registers the vector returned for an image URL
func (f *FakeEmbedder) SetImage(url string, vec []float32) *FakeEmbedder {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images[url] = vec
	return f
}

// Fail makes the given text or URL yield no embedding
func (f *FakeEmbedder) Fail(key string) *FakeEmbedder {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[key] = true
	return f
}

// EmbedText returns the registered vector for text
func (f *FakeEmbedder) EmbedText(ctx context.Context, text string) ([]float32, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.TextCalls++
	if f.fail[text] {
		return nil, false
	}
	v, ok := f.text[text]
	return v, ok
}

// EmbedImage returns the registered vector for url
func (f *FakeEmbedder) EmbedImage(ctx context.Context, url string) ([]float32, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ImageCalls++
	if f.fail[url] {
		return nil, false
	}
	v, ok := f.images[url]
	return v, ok
}

// UnitVector returns a 2-d vector at the given cosine to (1, 0)
func UnitVector(cos float64) []float32 {
	return []float32{float32(cos), float32(math.Sqrt(1 - cos*cos))}
}
