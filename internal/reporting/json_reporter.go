package reporting

import (
	"io"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/stepdriver/internal/scenario"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONReporter collects reports and writes them as one indented array on Close.
type JSONReporter struct {
	mu      sync.Mutex
	w       io.WriteCloser
	reports []scenario.Report
}

func (r *JSONReporter) Write(rep scenario.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, rep)
	return nil
}

func (r *JSONReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	reports := r.reports
	if reports == nil {
		reports = []scenario.Report{}
	}
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(reports); err != nil {
		r.w.Close()
		return err
	}
	return r.w.Close()
}
