package service

import (
	"fmt"
	"testing"

	"venue_sync/internal/domain"
)

func TestTradeRing_EvictsOldest(t *testing.T) {
	r := NewTradeRing(DefaultTradeCapacity)

	for i := 1; i <= 101; i++ {
		r.Push(domain.Trade{ID: fmt.Sprintf("t%d", i)})
	}

	if r.Len() != 100 {
		t.Fatalf("Expected 100 trades, got %d", r.Len())
	}
	items := r.Items()
	if items[0].ID != "t2" {
		t.Errorf("Expected t1 evicted, oldest is %s", items[0].ID)
	}
	if items[99].ID != "t101" {
		t.Errorf("Expected newest t101, got %s", items[99].ID)
	}
}

func TestTradeRing_KeepsArrivalOrder(t *testing.T) {
	r := NewTradeRing(3)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		r.Push(domain.Trade{ID: id})
	}

	got := r.Items()
	want := []string{"c", "d", "e"}
	for i := range want {
		if got[i].ID != want[i] {
			t.Errorf("Item %d = %s, want %s", i, got[i].ID, want[i])
		}
	}
}

func TestTradeRing_PrependOlder(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		streamed []string
		history  []string
		want     []string
	}{
		{"fits", 5, []string{"s1"}, []string{"h1", "h2"}, []string{"h1", "h2", "s1"}},
		{"history trimmed first", 3, []string{"s1", "s2"}, []string{"h1", "h2"}, []string{"h2", "s1", "s2"}},
		{"empty history", 3, []string{"s1"}, nil, []string{"s1"}},
		{"nothing streamed", 2, nil, []string{"h1", "h2", "h3"}, []string{"h2", "h3"}},
		{"held ids skipped", 5, []string{"h2", "s1"}, []string{"h1", "h2"}, []string{"h1", "h2", "s1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewTradeRing(tt.capacity)
			for _, id := range tt.streamed {
				r.Push(domain.Trade{ID: id})
			}
			history := make([]domain.Trade, len(tt.history))
			for i, id := range tt.history {
				history[i] = domain.Trade{ID: id}
			}

			r.PrependOlder(history)

			got := r.Items()
			if len(got) != len(tt.want) {
				t.Fatalf("Expected %d trades, got %d", len(tt.want), len(got))
			}
			for i := range tt.want {
				if got[i].ID != tt.want[i] {
					t.Errorf("Item %d = %s, want %s", i, got[i].ID, tt.want[i])
				}
			}
		})
	}
}

func TestTradeRing_Reset(t *testing.T) {
	r := NewTradeRing(0)
	if r.Cap() != DefaultTradeCapacity {
		t.Errorf("Expected default capacity %d, got %d", DefaultTradeCapacity, r.Cap())
	}
	r.Push(domain.Trade{ID: "x"})
	r.Reset()
	if r.Len() != 0 || len(r.Items()) != 0 {
		t.Error("Reset should empty the ring")
	}
}
