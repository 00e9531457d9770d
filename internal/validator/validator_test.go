package validator

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/stepdriver/api/schemas"
	"github.com/xkilldash9x/stepdriver/internal/browser/dompage"
	"github.com/xkilldash9x/stepdriver/internal/config"
	"github.com/xkilldash9x/stepdriver/internal/contextstore"
	"github.com/xkilldash9x/stepdriver/internal/mocks"
)

const sessionID = "session-1"

const welcomePage = `<html><head><title>Dashboard | Shop</title></head><body>
<h1>welcome,   alice</h1>
<form>
  <label for="nick">Nickname</label><input id="nick" value="ace">
  <label for="bio">Bio</label><input id="bio">
  <label><input type="checkbox" id="news" checked> Newsletter</label>
  <button type="submit" disabled>Save</button>
</form>
<p class="total">Total: 42.00</p>
<div id="spinner" hidden>Loading</div>
</body></html>`

type fixture struct {
	v     *Validator
	store *contextstore.Store
	page  *dompage.Page
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := contextstore.New(logger)
	store.Get(sessionID)
	page := dompage.New(sessionID, config.NewDefaultConfig().Browser(), logger)
	require.NoError(t, page.Load("https://shop.test/dashboard", welcomePage))
	return fixture{
		v:     New(config.NewDefaultConfig().Validator(), store, logger, time.Second),
		store: store,
		page:  page,
	}
}

func (f fixture) locate(t *testing.T, pred func(schemas.Element) bool) *schemas.CandidateLocator {
	t.Helper()
	snap, err := f.page.SnapshotPage(context.Background())
	require.NoError(t, err)
	for _, el := range snap.Elements {
		if pred(el) {
			return &schemas.CandidateLocator{Strategy: schemas.StrategyRole, Selector: el.Selector, ElementRef: el.Ref, Score: 1}
		}
	}
	t.Fatal("fixture element not found")
	return nil
}

func byID(id string) func(schemas.Element) bool {
	return func(el schemas.Element) bool { return el.Attr("id") == id }
}

func (f fixture) validate(intent schemas.Intent, loc *schemas.CandidateLocator) schemas.Verdict {
	return f.v.Validate(context.Background(), Request{SessionID: sessionID, Intent: intent, Locator: loc, Browser: f.page})
}

func expect(kind schemas.IntentKind, expected, match string) schemas.Intent {
	return schemas.Intent{Kind: kind, Parameters: schemas.Parameters{
		{Key: schemas.ParamExpected, Value: expected},
		{Key: schemas.ParamMatch, Value: match},
	}}
}

func TestValidate_PageTextIsNormalized(t *testing.T) {
	f := newFixture(t)

	v := f.validate(expect(schemas.KindAssertText, "Welcome, Alice", schemas.MatchContains), nil)
	assert.True(t, v.Passed(), "case and whitespace are folded: %+v", v)

	exact := expect(schemas.KindAssertText, "Welcome, Alice", schemas.MatchContains)
	exact.Parameters = exact.Parameters.With(schemas.ParamExact, "true")
	v = f.validate(exact, nil)
	assert.False(t, v.Passed())
	assert.Nil(t, v.Err)
	assert.Equal(t, "Welcome, Alice", v.Expected)

	v = f.validate(expect(schemas.KindAssertText, "Goodbye", schemas.MatchContains), nil)
	assert.Equal(t, schemas.VerdictFail, v.Outcome)
	assert.Nil(t, v.Err)
}

func TestValidate_ElementText(t *testing.T) {
	f := newFixture(t)
	total := f.locate(t, func(el schemas.Element) bool { return el.Tag == "p" })
	nick := f.locate(t, byID("nick"))

	assert.True(t, f.validate(expect(schemas.KindAssertText, "42.00", schemas.MatchContains), total).Passed())
	assert.False(t, f.validate(expect(schemas.KindAssertText, "42.00", schemas.MatchEquals), total).Passed())
	assert.True(t, f.validate(expect(schemas.KindAssertText, "total: 42.00", schemas.MatchEquals), total).Passed())
	assert.True(t, f.validate(expect(schemas.KindAssertText, "ACE", schemas.MatchEquals), nick).Passed())

	// A target that matched nothing fails instead of falling back to the page.
	missing := expect(schemas.KindAssertText, "42.00", schemas.MatchContains)
	missing.Target = schemas.TargetDescription{Phrase: "grand total"}
	v := f.validate(missing, nil)
	assert.Equal(t, schemas.VerdictFail, v.Outcome)
	assert.Contains(t, v.Note, "no element matches")
}

func TestValidate_TitleAndURL(t *testing.T) {
	f := newFixture(t)

	assert.True(t, f.validate(expect(schemas.KindAssertTitle, "dashboard", schemas.MatchContains), nil).Passed())
	assert.False(t, f.validate(expect(schemas.KindAssertTitle, "dashboard", schemas.MatchEquals), nil).Passed())
	assert.True(t, f.validate(expect(schemas.KindAssertTitle, "Dashboard | Shop", schemas.MatchEquals), nil).Passed())
	assert.True(t, f.validate(expect(schemas.KindAssertURL, "/dashboard", schemas.MatchContains), nil).Passed())
	assert.False(t, f.validate(expect(schemas.KindAssertURL, "/checkout", schemas.MatchContains), nil).Passed())
}

func TestValidate_Visibility(t *testing.T) {
	f := newFixture(t)
	spinner := f.locate(t, byID("spinner"))
	total := f.locate(t, func(el schemas.Element) bool { return el.Tag == "p" })
	visible := schemas.Intent{Kind: schemas.KindAssertVisible, Target: schemas.TargetDescription{Phrase: "x"}}
	hidden := schemas.Intent{Kind: schemas.KindAssertHidden, Target: schemas.TargetDescription{Phrase: "x"}}

	assert.True(t, f.validate(visible, total).Passed())
	assert.False(t, f.validate(visible, spinner).Passed())
	assert.False(t, f.validate(visible, nil).Passed())

	assert.True(t, f.validate(hidden, spinner).Passed())
	assert.True(t, f.validate(hidden, nil).Passed(), "absent counts as hidden")
	assert.False(t, f.validate(hidden, total).Passed())

	// An element removed after resolution is no longer visible.
	f.page.Mutate(func(doc *goquery.Document) { doc.Find("p.total").Remove() })
	assert.False(t, f.validate(visible, total).Passed())
	assert.True(t, f.validate(hidden, total).Passed())
}

func TestValidate_State(t *testing.T) {
	f := newFixture(t)
	save := f.locate(t, func(el schemas.Element) bool { return el.Tag == "button" })
	news := f.locate(t, byID("news"))
	nick := f.locate(t, byID("nick"))
	bio := f.locate(t, byID("bio"))

	state := func(want string) schemas.Intent {
		return schemas.Intent{Kind: schemas.KindAssertState, Target: schemas.TargetDescription{Phrase: "x"},
			Parameters: schemas.Parameters{{Key: schemas.ParamState, Value: want}}}
	}
	tests := []struct {
		name string
		loc  *schemas.CandidateLocator
		want string
		pass bool
	}{
		{"disabled button", save, "disabled", true},
		{"disabled button is not enabled", save, "enabled", false},
		{"checked box", news, "checked", true},
		{"checked box is not unchecked", news, "unchecked", false},
		{"filled field is editable", nick, "editable", true},
		{"filled field is not empty", nick, "empty", false},
		{"blank field is empty", bio, "empty", true},
		{"absent element", nil, "enabled", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := f.validate(state(tt.want), tt.loc)
			assert.Nil(t, v.Err)
			assert.Equal(t, tt.pass, v.Passed(), "%+v", v)
		})
	}

	v := f.validate(state("sparkly"), save)
	assert.ErrorIs(t, v.Err, schemas.ErrInvalidParameters)
	assert.Equal(t, schemas.VerdictFail, v.Outcome)
}

func TestValidate_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	total := f.locate(t, func(el schemas.Element) bool { return el.Tag == "p" })
	intents := []struct {
		intent schemas.Intent
		loc    *schemas.CandidateLocator
	}{
		{expect(schemas.KindAssertText, "welcome", schemas.MatchContains), nil},
		{expect(schemas.KindAssertText, "nope", schemas.MatchContains), nil},
		{expect(schemas.KindAssertText, "42", schemas.MatchContains), total},
		{schemas.Intent{Kind: schemas.KindAssertVisible, Target: schemas.TargetDescription{Phrase: "total"}}, total},
	}
	for _, tc := range intents {
		first := f.validate(tc.intent, tc.loc)
		second := f.validate(tc.intent, tc.loc)
		assert.Equal(t, first, second)
	}
}

func TestValidate_NeverPerformsActions(t *testing.T) {
	logger := zaptest.NewLogger(t)
	store := contextstore.New(logger)
	store.Get(sessionID)
	v := New(config.NewDefaultConfig().Validator(), store, logger, time.Second)

	b := new(mocks.MockBrowser)
	b.On("SnapshotPage", mock.Anything).Return(&schemas.PageSnapshot{URL: "https://shop.test/", Title: "Shop", Text: "hello"}, nil)

	verdict := v.Validate(context.Background(), Request{SessionID: sessionID, Intent: expect(schemas.KindAssertText, "hello", ""), Browser: b})
	assert.True(t, verdict.Passed())
	b.AssertNotCalled(t, "Perform", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestValidate_Timeout(t *testing.T) {
	logger := zaptest.NewLogger(t)
	v := New(config.NewDefaultConfig().Validator(), nil, logger, time.Second)
	b := new(mocks.MockBrowser)
	b.On("SnapshotPage", mock.Anything).Return(nil, fmt.Errorf("snapshot: %w", context.DeadlineExceeded))

	verdict := v.Validate(context.Background(), Request{SessionID: sessionID, Intent: expect(schemas.KindAssertTitle, "Shop", ""), Browser: b})
	assert.ErrorIs(t, verdict.Err, schemas.ErrValidationTimeout)
	assert.Equal(t, schemas.ErrCodeValidationTimeout, schemas.CodeOf(verdict.Err))
	assert.Equal(t, schemas.VerdictFail, verdict.Outcome)
}

func TestValidate_RejectsActions(t *testing.T) {
	f := newFixture(t)
	v := f.validate(schemas.Intent{Kind: schemas.KindClick}, nil)
	assert.ErrorIs(t, v.Err, schemas.ErrUnsupportedAction)
}

func TestValidate_VisualBaseline(t *testing.T) {
	f := newFixture(t)
	total := f.locate(t, func(el schemas.Element) bool { return el.Tag == "p" })
	intent := schemas.Intent{
		Kind:       schemas.KindAssertVisual,
		Target:     schemas.TargetDescription{Phrase: "total"},
		Parameters: schemas.Parameters{{Key: schemas.ParamName, Value: "total"}},
	}

	first := f.validate(intent, total)
	require.True(t, first.Passed())
	assert.Contains(t, first.Note, "baseline")
	_, stored := f.store.Baseline(sessionID, "total")
	assert.True(t, stored)

	again := f.validate(intent, total)
	assert.True(t, again.Passed())
	assert.Equal(t, 1.0, again.Score)

	strict := config.NewDefaultConfig().Validator()
	strict.VisualSimilarityThreshold = 0.999
	f.v = New(strict, f.store, zaptest.NewLogger(t), time.Second)
	f.page.Mutate(func(doc *goquery.Document) {
		doc.Find("p.total").SetText("Total: 1,337.99 after a generous loyalty discount was applied")
	})
	changed := f.validate(intent, total)
	assert.False(t, changed.Passed())
	assert.Nil(t, changed.Err)
	assert.Less(t, changed.Score, 1.0)
}

func pngOf(t *testing.T, w, h int, shade uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = shade
	}
	img.SetGray(0, 0, color.Gray{Y: 255 - shade})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestSimilarity(t *testing.T) {
	white := pngOf(t, 32, 32, 255)
	black := pngOf(t, 32, 32, 0)

	score, err := Similarity(white, white, 16)
	require.NoError(t, err)
	assert.Equal(t, 1.0, score)

	// Different sizes are compared after scaling.
	score, err = Similarity(white, pngOf(t, 64, 64, 255), 16)
	require.NoError(t, err)
	assert.Greater(t, score, 0.95)

	score, err = Similarity(white, black, 16)
	require.NoError(t, err)
	assert.Less(t, score, 0.1)

	_, err = Similarity([]byte("not a png"), white, 16)
	assert.Error(t, err)
}
