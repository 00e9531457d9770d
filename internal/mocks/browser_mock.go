// internal/mocks/browser_mock.go
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/xkilldash9x/stepdriver/api/schemas"
)

// MockBrowser is a mock implementation of schemas.Browser.
type MockBrowser struct {
	mock.Mock
}

var _ schemas.Browser = (*MockBrowser)(nil)

func (m *MockBrowser) SnapshotPage(ctx context.Context) (*schemas.PageSnapshot, error) {
	args := m.Called(ctx)
	var snap *schemas.PageSnapshot
	if v := args.Get(0); v != nil {
		snap = v.(*schemas.PageSnapshot)
	}
	return snap, args.Error(1)
}

func (m *MockBrowser) Perform(ctx context.Context, kind schemas.IntentKind, loc *schemas.CandidateLocator, params schemas.Parameters) (schemas.ActionOutput, error) {
	args := m.Called(ctx, kind, loc, params)
	var out schemas.ActionOutput
	if v := args.Get(0); v != nil {
		out = v.(schemas.ActionOutput)
	}
	return out, args.Error(1)
}

func (m *MockBrowser) CaptureRegion(ctx context.Context, loc *schemas.CandidateLocator) ([]byte, error) {
	args := m.Called(ctx, loc)
	var png []byte
	if v := args.Get(0); v != nil {
		png = v.([]byte)
	}
	return png, args.Error(1)
}

func (m *MockBrowser) WaitFor(ctx context.Context, cond schemas.WaitCondition, timeout time.Duration) error {
	return m.Called(ctx, cond, timeout).Error(0)
}

func (m *MockBrowser) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// MockBrowserFactory is a mock implementation of schemas.BrowserFactory.
type MockBrowserFactory struct {
	mock.Mock
}

func (m *MockBrowserFactory) NewBrowser(ctx context.Context, sessionID string) (schemas.Browser, error) {
	args := m.Called(ctx, sessionID)
	var b schemas.Browser
	if v := args.Get(0); v != nil {
		b = v.(schemas.Browser)
	}
	return b, args.Error(1)
}
