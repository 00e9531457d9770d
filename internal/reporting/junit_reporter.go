package reporting

import (
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/beevik/etree"

	"github.com/xkilldash9x/stepdriver/api/schemas"
	"github.com/xkilldash9x/stepdriver/internal/scenario"
)

// JUnitReporter renders scenarios as JUnit XML, one testsuite per scenario
// and one testcase per step, so CI systems can display step results.
type JUnitReporter struct {
	mu   sync.Mutex
	w    io.WriteCloser
	doc  *etree.Document
	root *etree.Element

	tests, failures, skipped int
	seconds                  float64
}

// NewJUnitReporter creates a reporter writing the document to w on Close.
func NewJUnitReporter(w io.WriteCloser) *JUnitReporter {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement("testsuites")
	root.CreateAttr("name", "stepdriver")
	return &JUnitReporter{w: w, doc: doc, root: root}
}

func (r *JUnitReporter) Write(rep scenario.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	suite := r.root.CreateElement("testsuite")
	suite.CreateAttr("name", rep.Scenario)
	suite.CreateAttr("time", seconds(rep.Duration.Seconds()))
	if rep.SessionID != "" {
		props := suite.CreateElement("properties")
		p := props.CreateElement("property")
		p.CreateAttr("name", "session_id")
		p.CreateAttr("value", rep.SessionID)
	}

	var failures, skipped int
	for i, res := range rep.Results {
		tc := suite.CreateElement("testcase")
		tc.CreateAttr("name", fmt.Sprintf("%02d %s", i+1, res.Intent.RawText))
		tc.CreateAttr("classname", rep.Scenario)
		tc.CreateAttr("time", seconds(res.Duration.Seconds()))
		if res.Status == schemas.StatusSuccess {
			continue
		}
		failures++
		f := tc.CreateElement("failure")
		f.CreateAttr("type", string(res.Evidence.ErrorCode))
		f.CreateAttr("message", res.Evidence.Error)
		f.SetText(failureDetail(res))
	}
	for j, text := range rep.Skipped {
		tc := suite.CreateElement("testcase")
		tc.CreateAttr("name", fmt.Sprintf("%02d %s", len(rep.Results)+j+1, text))
		tc.CreateAttr("classname", rep.Scenario)
		tc.CreateElement("skipped")
		skipped++
	}
	if rep.Error != "" {
		e := suite.CreateElement("error")
		e.CreateAttr("message", rep.Error)
	}

	tests := len(rep.Results) + len(rep.Skipped)
	suite.CreateAttr("tests", strconv.Itoa(tests))
	suite.CreateAttr("failures", strconv.Itoa(failures))
	suite.CreateAttr("skipped", strconv.Itoa(skipped))

	r.tests += tests
	r.failures += failures
	r.skipped += skipped
	r.seconds += rep.Duration.Seconds()
	return nil
}

func (r *JUnitReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.root.CreateAttr("tests", strconv.Itoa(r.tests))
	r.root.CreateAttr("failures", strconv.Itoa(r.failures))
	r.root.CreateAttr("skipped", strconv.Itoa(r.skipped))
	r.root.CreateAttr("time", seconds(r.seconds))
	r.doc.Indent(2)
	if _, err := r.doc.WriteTo(r.w); err != nil {
		r.w.Close()
		return fmt.Errorf("failed to write junit report: %w", err)
	}
	return r.w.Close()
}

func failureDetail(res schemas.StepResult) string {
	detail := fmt.Sprintf("status: %s\nintent: %s", res.Status, res.Intent.Kind)
	for _, c := range res.Evidence.Candidates {
		detail += "\ncandidate: " + c.String()
	}
	for _, n := range res.Evidence.Notes {
		detail += "\nnote: " + n
	}
	if res.Evidence.ScreenshotRef != "" {
		detail += "\nscreenshot: " + res.Evidence.ScreenshotRef
	}
	return detail
}

func seconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}
