package mediagroup

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nightcrew/gatekeep/models"
)

type captured struct {
	groupID string
	items   []Item
}

func photo(msgID int64) Item {
	return Item{
		Attachment: models.Attachment{MediaType: "photo", MediaID: "x"},
		MessageID:  msgID,
		From:       100,
	}
}

func TestAggregatorCoalesces(t *testing.T) {
	assert := assert.New(t)
	done := make(chan captured, 1)
	agg := NewAggregator(slog.Default(), 20*time.Millisecond, func(groupID string, items []Item) {
		done <- captured{groupID, items}
	})

	agg.Add("g1", photo(1))
	agg.Add("g1", photo(2))
	agg.Add("g1", photo(3))
	assert.True(agg.Pending("g1"))

	select {
	case got := <-done:
		assert.Equal("g1", got.groupID)
		if assert.Len(got.items, 3) {
			assert.Equal(int64(1), got.items[0].MessageID)
			assert.Equal(int64(3), got.items[2].MessageID)
		}
	case <-time.After(time.Second):
		t.Fatal("group never finalized")
	}
	assert.False(agg.Pending("g1"))
}

func TestAggregatorDebounceRestarts(t *testing.T) {
	assert := assert.New(t)
	done := make(chan captured, 1)
	agg := NewAggregator(slog.Default(), 50*time.Millisecond, func(groupID string, items []Item) {
		done <- captured{groupID, items}
	})

	agg.Add("g1", photo(1))
	time.Sleep(30 * time.Millisecond)
	// arrives inside the window, so the deadline moves
	agg.Add("g1", photo(2))
	select {
	case <-done:
		t.Fatal("finalized before the restarted window elapsed")
	case <-time.After(30 * time.Millisecond):
	}

	select {
	case got := <-done:
		assert.Len(got.items, 2)
	case <-time.After(time.Second):
		t.Fatal("group never finalized")
	}
}

func TestAggregatorCancel(t *testing.T) {
	assert := assert.New(t)
	done := make(chan captured, 1)
	agg := NewAggregator(slog.Default(), 20*time.Millisecond, func(groupID string, items []Item) {
		done <- captured{groupID, items}
	})

	agg.Add("g1", photo(1))
	agg.Cancel("g1")
	assert.False(agg.Pending("g1"))

	select {
	case <-done:
		t.Fatal("cancelled group still finalized")
	case <-time.After(80 * time.Millisecond):
	}
}

func TestAggregatorNewGroupAfterFinalize(t *testing.T) {
	assert := assert.New(t)
	done := make(chan captured, 2)
	agg := NewAggregator(slog.Default(), 20*time.Millisecond, func(groupID string, items []Item) {
		done <- captured{groupID, items}
	})

	agg.Add("g1", photo(1))
	first := <-done

	// reusing the id after finalization starts a fresh group
	agg.Add("g1", photo(2))
	second := <-done

	assert.Len(first.items, 1)
	if assert.Len(second.items, 1) {
		assert.Equal(int64(2), second.items[0].MessageID)
	}
}

func TestAggregatorStaleFireKeepsWindow(t *testing.T) {
	assert := assert.New(t)
	done := make(chan captured, 2)
	agg := NewAggregator(slog.Default(), 60*time.Millisecond, func(groupID string, items []Item) {
		done <- captured{groupID, items}
	})

	agg.Add("g1", photo(1))
	g, ok := agg.groups.Load("g1")
	if !assert.True(ok) {
		return
	}

	// a timer callback that lost the lock race to a fresh arrival runs
	// while the moved deadline is still ahead; it must not finalize
	agg.fire("g1", g)
	assert.True(agg.Pending("g1"))

	agg.Add("g1", photo(2))
	select {
	case got := <-done:
		if assert.Len(got.items, 2) {
			assert.Equal(int64(1), got.items[0].MessageID)
			assert.Equal(int64(2), got.items[1].MessageID)
		}
	case <-time.After(time.Second):
		t.Fatal("group never finalized")
	}

	select {
	case got := <-done:
		t.Fatalf("group finalized twice, second batch had %d items", len(got.items))
	case <-time.After(120 * time.Millisecond):
	}
}

func TestAggregatorIndependentGroups(t *testing.T) {
	assert := assert.New(t)
	done := make(chan captured, 2)
	agg := NewAggregator(slog.Default(), 20*time.Millisecond, func(groupID string, items []Item) {
		done <- captured{groupID, items}
	})

	agg.Add("g1", photo(1))
	agg.Add("g2", photo(2))

	seen := map[string]int{}
	for i := 0; i < 2; i++ {
		select {
		case got := <-done:
			seen[got.groupID] = len(got.items)
		case <-time.After(time.Second):
			t.Fatal("group never finalized")
		}
	}
	assert.Equal(map[string]int{"g1": 1, "g2": 1}, seen)
}
