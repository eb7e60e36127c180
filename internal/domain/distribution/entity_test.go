// internal/domain/distribution/entity_test.go
package distribution

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func testLines() []Line {
	return []Line{
		{LotID: "lot-a", Quantity: 3, LotVersion: 1},
		{LotID: "lot-b", Quantity: 2, LotVersion: 4},
	}
}

func mustNew(t *testing.T) Distribution {
	t.Helper()
	d, err := New("dist-1", "rcp-1", testLines(), "rsv-1", time.Now().UTC().AddDate(0, 0, 1), "weekly box", "user-1", time.Now().UTC())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func TestNormalizeLines(t *testing.T) {
	t.Run("trims and keeps order", func(t *testing.T) {
		out, err := NormalizeLines([]Line{
			{LotID: " lot-b ", Quantity: 2},
			{LotID: "lot-a", Quantity: 1},
		})
		if err != nil {
			t.Fatalf("NormalizeLines: %v", err)
		}
		if out[0].LotID != "lot-b" || out[1].LotID != "lot-a" {
			t.Fatalf("order not preserved: %+v", out)
		}
	})

	t.Run("empty", func(t *testing.T) {
		if _, err := NormalizeLines(nil); !errors.Is(err, ErrNoLines) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("blank lot id", func(t *testing.T) {
		_, err := NormalizeLines([]Line{{LotID: "  ", Quantity: 1}})
		if !errors.Is(err, ErrInvalidLotID) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("zero and negative quantity", func(t *testing.T) {
		_, err := NormalizeLines([]Line{{LotID: "lot-a", Quantity: 0}})
		if !errors.Is(err, ErrInvalidQuantity) {
			t.Fatalf("err = %v", err)
		}
		_, err = NormalizeLines([]Line{{LotID: "lot-a", Quantity: -5}})
		if !errors.Is(err, ErrInvalidQuantity) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("duplicate lot", func(t *testing.T) {
		_, err := NormalizeLines([]Line{
			{LotID: "lot-a", Quantity: 1},
			{LotID: "lot-b", Quantity: 1},
			{LotID: "lot-a", Quantity: 2},
		})
		if !errors.Is(err, ErrDuplicateLot) {
			t.Fatalf("err = %v", err)
		}
		if !strings.Contains(err.Error(), "lot-a") {
			t.Fatalf("error should name the lot: %v", err)
		}
	})
}

func TestNew_Validation(t *testing.T) {
	now := time.Now().UTC()
	date := now.AddDate(0, 0, 1)

	if _, err := New("", "", testLines(), "rsv", date, "", "u", now); !errors.Is(err, ErrInvalidRecipientID) {
		t.Fatalf("err = %v", err)
	}
	if _, err := New("", "rcp-1", nil, "rsv", date, "", "u", now); !errors.Is(err, ErrNoLines) {
		t.Fatalf("err = %v", err)
	}
	if _, err := New("", "rcp-1", testLines(), "rsv", time.Time{}, "", "u", now); !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("err = %v", err)
	}
	long := strings.Repeat("x", 1001)
	if _, err := New("", "rcp-1", testLines(), "rsv", date, long, "u", now); !errors.Is(err, ErrNotesTooLong) {
		t.Fatalf("err = %v", err)
	}
}

func TestMarkCompleted(t *testing.T) {
	d := mustNew(t)
	now := time.Now().UTC()

	if err := d.MarkCompleted("user-2", "delivered", now); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	if d.Status != StatusCompleted || d.CompletedBy != "user-2" || d.CompletedAt == nil {
		t.Fatalf("unexpected state: %+v", d)
	}
	if d.Version != 2 {
		t.Fatalf("version = %d, want 2", d.Version)
	}

	// 終端からの再遷移は TransitionError
	err := d.MarkCancelled("user-2", now)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	var te *TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("err %T is not *TransitionError", err)
	}
	if te.From != StatusCompleted || te.To != StatusCancelled {
		t.Fatalf("detail = %+v", te)
	}
}

func TestMarkCancelled(t *testing.T) {
	d := mustNew(t)
	now := time.Now().UTC()

	if err := d.MarkCancelled("user-3", now); err != nil {
		t.Fatalf("MarkCancelled: %v", err)
	}
	if d.Status != StatusCancelled || d.CancelledBy != "user-3" || d.CancelledAt == nil {
		t.Fatalf("unexpected state: %+v", d)
	}
	if err := d.MarkCompleted("user-3", "", now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v", err)
	}
}

func TestReschedule(t *testing.T) {
	d := mustNew(t)
	now := time.Now().UTC()

	newDate := now.AddDate(0, 0, 5)
	newNotes := "moved to Friday"
	if err := d.Reschedule(&newDate, &newNotes, now); err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	if !d.ScheduledDate.Equal(newDate.UTC()) || d.Notes != "moved to Friday" {
		t.Fatalf("unexpected state: %+v", d)
	}

	if err := d.MarkCompleted("u", "", now); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	if err := d.Reschedule(&newDate, nil, now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("reschedule after terminal err = %v", err)
	}
}

func TestCompletionFailedError(t *testing.T) {
	cause := errors.New("lot x: requested 5, reserved 2")
	err := &CompletionFailedError{
		ID:        "dist-1",
		Op:        "complete",
		Committed: []Line{{LotID: "lot-a", Quantity: 3}},
		Failed:    Line{LotID: "lot-b", Quantity: 5},
		Cause:     cause,
	}
	if !errors.Is(err, ErrCompletionFailed) {
		t.Fatalf("should unwrap to ErrCompletionFailed")
	}
	msg := err.Error()
	for _, want := range []string{"dist-1", "complete", "lot-b", "1 lines already applied"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message %q should contain %q", msg, want)
		}
	}
}

func TestTotalQuantity(t *testing.T) {
	d := mustNew(t)
	if got := d.TotalQuantity(); got != 5 {
		t.Fatalf("TotalQuantity = %d, want 5", got)
	}
}
