package corpus

import (
	"math"
	"testing"
)

func TestNewOrdersByID(t *testing.T) {
	c := New([]*Chunk{
		{ID: 3, Embedding: []float32{1, 0}},
		{ID: 1, Embedding: []float32{0, 1}},
		{ID: 2, Embedding: []float32{1, 1}},
	})

	if c.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", c.Len())
	}
	for i, want := range []int64{1, 2, 3} {
		if got := c.Chunks()[i].ID; got != want {
			t.Errorf("position %d: ID %d, want %d", i, got, want)
		}
	}
}

func TestDims(t *testing.T) {
	c := New([]*Chunk{
		{ID: 1}, // no embedding
		{ID: 2, Embedding: []float32{1, 0, 0}},
	})
	if c.Dims() != 3 {
		t.Errorf("Dims() = %d, want 3", c.Dims())
	}

	if empty := New(nil); empty.Dims() != 0 {
		t.Errorf("empty corpus Dims() = %d, want 0", empty.Dims())
	}
}

func TestGet(t *testing.T) {
	c := New([]*Chunk{
		{ID: 7, Text: "seven", Embedding: []float32{1}},
	})

	ch, ok := c.Get(7)
	if !ok || ch.Text != "seven" {
		t.Errorf("Get(7) = %v, %v", ch, ok)
	}
	if _, ok := c.Get(8); ok {
		t.Error("Get(8) should miss")
	}
}

func TestWellFormed(t *testing.T) {
	c := New([]*Chunk{
		{ID: 1, Embedding: []float32{1, 0, 0}},
	})

	tests := []struct {
		name  string
		chunk *Chunk
		want  bool
	}{
		{"matching dims", &Chunk{Embedding: []float32{0, 1, 0}}, true},
		{"short", &Chunk{Embedding: []float32{0, 1}}, false},
		{"long", &Chunk{Embedding: []float32{0, 1, 0, 0}}, false},
		{"missing", &Chunk{}, false},
		{"nan", &Chunk{Embedding: []float32{0, float32(math.NaN()), 0}}, false},
		{"inf", &Chunk{Embedding: []float32{0, float32(math.Inf(1)), 0}}, false},
		{"zero vector", &Chunk{Embedding: []float32{0, 0, 0}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.WellFormed(tt.chunk); got != tt.want {
				t.Errorf("WellFormed = %v, want %v", got, tt.want)
			}
		})
	}
}
