package embedding

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Vector
		expected float64
		delta    float64
	}{
		{"identical", Vector{1, 0, 0}, Vector{1, 0, 0}, 1.0, 0.001},
		{"orthogonal", Vector{1, 0, 0}, Vector{0, 1, 0}, 0.0, 0.001},
		{"opposite", Vector{1, 0, 0}, Vector{-1, 0, 0}, -1.0, 0.001},
		{"similar", Vector{1, 1, 0}, Vector{1, 0, 0}, 0.707, 0.01},
		{"empty", Vector{}, Vector{}, 0.0, 0.001},
		{"different lengths", Vector{1, 0}, Vector{1, 0, 0}, 0.0, 0.001},
		{"zero vector", Vector{0, 0, 0}, Vector{1, 0, 0}, 0.0, 0.001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.expected) > tt.delta {
				t.Errorf("CosineSimilarity(%v, %v) = %f, want %f (±%f)", tt.a, tt.b, got, tt.expected, tt.delta)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	v := Normalize(Vector{3, 4})
	if math.Abs(float64(v[0])-0.6) > 1e-6 || math.Abs(float64(v[1])-0.8) > 1e-6 {
		t.Errorf("got %v", v)
	}
	z := Normalize(Vector{0, 0})
	if z[0] != 0 || z[1] != 0 {
		t.Errorf("zero vector changed: %v", z)
	}
}

func TestHashEmbedder_Deterministic(t *testing.T) {
	ctx := context.Background()
	e := NewHashEmbedder(64)
	a, _ := e.Embed(ctx, "I prefer quiet environments")
	b, _ := e.Embed(ctx, "i PREFER quiet, environments!")
	if len(a) != 64 || e.Dims() != 64 {
		t.Fatalf("unexpected dims %d", len(a))
	}
	if sim := CosineSimilarity(a, b); math.Abs(sim-1) > 1e-6 {
		t.Errorf("expected identical token sets to match, got %f", sim)
	}
}

func TestHashEmbedder_SharedWordsAreCloser(t *testing.T) {
	ctx := context.Background()
	e := NewHashEmbedder(384)
	q, _ := e.Embed(ctx, "favourite drink coffee")
	near, _ := e.Embed(ctx, "my favourite drink is coffee")
	far, _ := e.Embed(ctx, "deploy the service on friday")
	if CosineSimilarity(q, near) <= CosineSimilarity(q, far) {
		t.Errorf("expected overlap to score higher")
	}
}

func TestHashEmbedder_EmptyTextIsNonZero(t *testing.T) {
	v, err := NewHashEmbedder(16).Embed(context.Background(), "   ")
	if err != nil {
		t.Fatal(err)
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if math.Abs(norm-1) > 1e-6 {
		t.Errorf("expected unit vector, norm=%f", norm)
	}
}

func TestTokenize(t *testing.T) {
	got := tokenize("本群 rules: Go-1.25!")
	want := []string{"本", "群", "rules", "go", "1", "25"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d = %q, want %q", i, got[i], want[i])
		}
	}
}

type countingEmbedder struct {
	calls atomic.Int32
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	c.calls.Add(1)
	return Vector{1, 0}, nil
}

func (c *countingEmbedder) Dims() int { return 2 }

func TestCachedEmbedder(t *testing.T) {
	ctx := context.Background()
	inner := &countingEmbedder{}
	c, err := NewCachedEmbedder(inner, 16)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if _, err := c.Embed(ctx, "hello"); err != nil {
		t.Fatal(err)
	}
	c.Wait()
	if _, err := c.Embed(ctx, "hello"); err != nil {
		t.Fatal(err)
	}
	if n := inner.calls.Load(); n != 1 {
		t.Errorf("expected 1 inner call, got %d", n)
	}
	if c.Dims() != 2 {
		t.Errorf("dims = %d", c.Dims())
	}
}

func TestCachedEmbedder_HoldsConfiguredCount(t *testing.T) {
	ctx := context.Background()
	inner := &countingEmbedder{}
	c, err := NewCachedEmbedder(inner, 1024)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	const n = 200
	for i := 0; i < n; i++ {
		if _, err := c.Embed(ctx, fmt.Sprintf("query %d", i)); err != nil {
			t.Fatal(err)
		}
	}
	c.Wait()
	for i := 0; i < n; i++ {
		if _, err := c.Embed(ctx, fmt.Sprintf("query %d", i)); err != nil {
			t.Fatal(err)
		}
	}
	if got := inner.calls.Load(); got != n {
		t.Errorf("expected %d inner calls, got %d", n, got)
	}
}

func TestNew(t *testing.T) {
	e, err := New(Options{Provider: "hash"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := e.(*HashEmbedder); !ok {
		t.Errorf("expected *HashEmbedder, got %T", e)
	}

	e, err = New(Options{Provider: "ollama", Model: "all-minilm", CacheSize: 8})
	if err != nil {
		t.Fatal(err)
	}
	if e.Dims() != 384 {
		t.Errorf("expected 384 dims, got %d", e.Dims())
	}
	if _, ok := e.(*CachedEmbedder); !ok {
		t.Errorf("expected cache wrapper, got %T", e)
	}

	if _, err := New(Options{Provider: "nope"}); err == nil {
		t.Error("expected error for unknown provider")
	}
}
