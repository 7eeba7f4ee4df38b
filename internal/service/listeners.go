package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/CZERTAINLY/Mutiny/internal/model"
)

// Listeners fans a result out to every listener in order.
type Listeners []model.ResultListener

func (l Listeners) Accept(r model.Result) {
	for _, listener := range l {
		listener.Accept(r)
	}
}

// LogListener logs every result.
type LogListener struct {
	Logger *slog.Logger
}

func (l LogListener) Accept(r model.Result) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{
		"mutation", r.Unit.ID.String(),
		"status", r.Status,
		"tests_run", r.TestsRun,
	}
	if r.KillingTest != nil {
		attrs = append(attrs, "killed_by", r.KillingTest.String())
	}
	logger.Info("mutant resolved", attrs...)
}

// JSONLinesWriter writes one JSON document per result.
type JSONLinesWriter struct {
	mx  sync.Mutex
	enc *json.Encoder
	err error
}

func NewJSONLinesWriter(w io.Writer) *JSONLinesWriter {
	return &JSONLinesWriter{enc: json.NewEncoder(w)}
}

func (w *JSONLinesWriter) Accept(r model.Result) {
	w.mx.Lock()
	defer w.mx.Unlock()
	if err := w.enc.Encode(r); err != nil {
		w.err = errors.Join(w.err, err)
	}
}

func (w *JSONLinesWriter) Err() error {
	w.mx.Lock()
	defer w.mx.Unlock()
	return w.err
}

// ResultsFile stores results of a run as mutiny-<time>.ndjson inside dir.
type ResultsFile struct {
	*JSONLinesWriter
	root *os.Root
	f    *os.File
	path string
}

func NewResultsFile(dir string, now time.Time) (*ResultsFile, error) {
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, err
	}
	path := "mutiny-" + now.Format("2006-01-02-15-04-05") + ".ndjson"
	f, err := root.Create(path)
	if err != nil {
		_ = root.Close()
		return nil, fmt.Errorf("creating mutiny results: %w", err)
	}
	return &ResultsFile{
		JSONLinesWriter: NewJSONLinesWriter(f),
		root:            root,
		f:               f,
		path:            path,
	}, nil
}

// Name is the file name relative to the results directory.
func (r *ResultsFile) Name() string {
	return r.path
}

func (r *ResultsFile) Close() error {
	if r.root == nil {
		return errors.New("results file already closed")
	}
	err := errors.Join(r.Err(), r.f.Close(), r.root.Close())
	r.root = nil
	return err
}
