package settings

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/giftvault/giftvault/internal/db/dbtest"
)

func TestIntAcceptsNumericShapes(t *testing.T) {
	Store(time.Now(), map[string]json.RawMessage{
		"A": json.RawMessage(`12`),
		"B": json.RawMessage(`"34"`),
		"C": json.RawMessage(`5.0`),
		"D": json.RawMessage(`5.5`),
		"E": json.RawMessage(`"nope"`),
	})
	t.Cleanup(func() { Store(time.Time{}, nil) })

	cases := map[string]int64{"A": 12, "B": 34, "C": 5, "D": -1, "E": -1, "MISSING": -1}
	for key, want := range cases {
		if got := Int(key, -1); got != want {
			t.Fatalf("Int(%s) = %d, want %d", key, got, want)
		}
	}
}

func TestPutRefreshesSnapshot(t *testing.T) {
	conn := dbtest.Open(t)
	t.Cleanup(func() { Store(time.Time{}, nil) })

	if errPut := Put(context.Background(), conn, FraudMaxCardsPerDayKey, 3); errPut != nil {
		t.Fatalf("put: %v", errPut)
	}
	if got := Int(FraudMaxCardsPerDayKey, 10); got != 3 {
		t.Fatalf("expected override 3, got %d", got)
	}
	if UpdatedAt().IsZero() {
		t.Fatalf("expected updated timestamp")
	}
}
