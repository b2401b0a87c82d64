package worker

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/ppiankov/popfix/internal/model"
)

var qidPattern = regexp.MustCompile(`^Q[1-9][0-9]*$`)

// EntityProcessor reconciles a single entity
type EntityProcessor interface {
	ProcessEntity(ctx context.Context, qid string) (*model.EntityReport, error)
}

// EntityJob processes one entity of a batch
type EntityJob struct {
	Index     int
	QID       string
	Processor EntityProcessor
}

// Execute executes the entity job
func (j *EntityJob) Execute(ctx context.Context) Result {
	report, err := j.Processor.ProcessEntity(ctx, j.QID)
	return &EntityResult{
		Index:  j.Index,
		QID:    j.QID,
		Report: report,
		Error:  err,
	}
}

// EntityResult is the outcome of an EntityJob. Report may be set even when
// Error is, carrying the partial work done before the failure.
type EntityResult struct {
	Index  int
	QID    string
	Report *model.EntityReport
	Error  error
}

// GetError returns the error from the entity result
func (r *EntityResult) GetError() error {
	return r.Error
}

// BatchProcessor processes entities concurrently
type BatchProcessor struct {
	processor   EntityProcessor
	concurrency int
}

// NewBatchProcessor creates a new batch processor
func NewBatchProcessor(processor EntityProcessor, concurrency int) *BatchProcessor {
	return &BatchProcessor{
		processor:   processor,
		concurrency: concurrency,
	}
}

// ProcessEntities runs the entities through a worker pool and hands each
// result to fn in input order, whatever order they complete in. When fn
// returns false the batch stops: queued entities are abandoned and results
// still in flight are discarded. It returns how many results fn received.
func (b *BatchProcessor) ProcessEntities(ctx context.Context, qids []string, fn func(*EntityResult) bool) int {
	if len(qids) == 0 {
		return 0
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pool := NewPool(ctx, b.concurrency)
	pool.Start()

	go func() {
		defer pool.Close()
		for i, qid := range qids {
			if !pool.Submit(&EntityJob{Index: i, QID: qid, Processor: b.processor}) {
				return
			}
		}
	}()

	pending := make(map[int]*EntityResult)
	next := 0

	for r := range pool.Results() {
		er := r.(*EntityResult)
		pending[er.Index] = er

		for {
			cur, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++
			if !fn(cur) {
				pool.Shutdown()
				return next
			}
		}
	}

	return next
}

// ReadQIDsFromFile reads entity ids from a file (one per line)
func ReadQIDsFromFile(filePath string) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	return ReadQIDs(file)
}

// ReadQIDs reads entity ids, one per line. Blank lines and # comments are
// skipped, ids are upper-cased and deduplicated keeping first occurrence.
func ReadQIDs(r io.Reader) ([]string, error) {
	var qids []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		qid := strings.ToUpper(line)
		if !qidPattern.MatchString(qid) {
			return nil, fmt.Errorf("line %d: invalid entity id %q", lineNo, line)
		}

		if !seen[qid] {
			seen[qid] = true
			qids = append(qids, qid)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}

	return qids, nil
}

// ValidQID reports whether s is an item id such as Q42
func ValidQID(s string) bool {
	return qidPattern.MatchString(s)
}
