package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ppiankov/popfix/internal/model"
)

// mockProcessor finishes later entities first to exercise reordering
type mockProcessor struct {
	fail  map[string]bool
	calls atomic.Int32
}

func (m *mockProcessor) ProcessEntity(ctx context.Context, qid string) (*model.EntityReport, error) {
	m.calls.Add(1)
	delay := time.Duration(20-len(qid)) * time.Millisecond
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if m.fail[qid] {
		return &model.EntityReport{QID: qid, Status: model.StatusFailed}, errors.New("missing years")
	}
	return &model.EntityReport{QID: qid, Status: model.StatusFixed}, nil
}

func TestBatchProcessor_InputOrder(t *testing.T) {
	processor := NewBatchProcessor(&mockProcessor{}, 4)
	qids := []string{"Q1", "Q22", "Q333", "Q4444", "Q55555", "Q6"}

	var results []*EntityResult
	processor.ProcessEntities(context.Background(), qids, func(r *EntityResult) bool {
		results = append(results, r)
		return true
	})

	if len(results) != len(qids) {
		t.Fatalf("expected %d results, got %d", len(qids), len(results))
	}
	for i, r := range results {
		if r.QID != qids[i] || r.Index != i {
			t.Errorf("result %d: got %s (index %d), want %s", i, r.QID, r.Index, qids[i])
		}
		if r.Report == nil || r.Report.QID != qids[i] {
			t.Errorf("result %d: report mismatch", i)
		}
	}
}

func TestBatchProcessor_StopAtFailure(t *testing.T) {
	qids := make([]string, 50)
	for i := range qids {
		qids[i] = fmt.Sprintf("Q%d", i+1)
	}
	mp := &mockProcessor{fail: map[string]bool{qids[3]: true}}
	processor := NewBatchProcessor(mp, 2)

	var seen []int
	n := processor.ProcessEntities(context.Background(), qids, func(r *EntityResult) bool {
		seen = append(seen, r.Index)
		return r.Error == nil
	})

	if n != 4 {
		t.Fatalf("expected 4 results delivered, got %d", n)
	}
	for i, idx := range seen {
		if idx != i {
			t.Errorf("delivery %d had index %d", i, idx)
		}
	}
	if int(mp.calls.Load()) == len(qids) {
		t.Error("expected queued entities to be abandoned after stop")
	}
}

func TestBatchProcessor_Empty(t *testing.T) {
	processor := NewBatchProcessor(&mockProcessor{}, 2)
	if n := processor.ProcessEntities(context.Background(), nil, func(*EntityResult) bool { return true }); n != 0 {
		t.Errorf("expected 0, got %d", n)
	}
}

func TestReadQIDs(t *testing.T) {
	input := "# municipalities\nQ42\n\nq7\nQ42\n  Q100  \n"
	got, err := ReadQIDs(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ReadQIDs failed: %v", err)
	}
	want := []string{"Q42", "Q7", "Q100"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestReadQIDs_Invalid(t *testing.T) {
	_, err := ReadQIDs(strings.NewReader("Q1\nP1082\n"))
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("expected line 2 error, got %v", err)
	}
}

func TestReadQIDsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qids.txt")
	if err := os.WriteFile(path, []byte("Q1\nQ2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := ReadQIDsFromFile(path)
	if err != nil {
		t.Fatalf("ReadQIDsFromFile failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 ids, got %v", got)
	}

	if _, err := ReadQIDsFromFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidQID(t *testing.T) {
	for _, s := range []string{"Q1", "Q42", "Q10000000"} {
		if !ValidQID(s) {
			t.Errorf("%s should be valid", s)
		}
	}
	for _, s := range []string{"", "Q", "Q0", "Q01", "P1082", "q1", "Q1a"} {
		if ValidQID(s) {
			t.Errorf("%s should be invalid", s)
		}
	}
}
