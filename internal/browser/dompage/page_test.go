package dompage

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/stepdriver/api/schemas"
	"github.com/xkilldash9x/stepdriver/internal/config"
)

const loginHTML = `<html><head><title>Login</title></head><body>
<form action="/session" method="post">
  <label for="user">Username</label><input id="user" name="user">
  <select name="lang"><option value="en">English</option><option value="fr">French</option></select>
  <label><input type="checkbox" name="remember"> Remember me</label>
  <button type="submit">Sign in</button>
  <button type="button" disabled>Help</button>
</form>
<p id="notice" hidden>Maintenance tonight</p>
</body></html>`

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, loginHTML)
	})
	mux.HandleFunc("/session", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		http.SetCookie(w, &http.Cookie{Name: "user", Value: r.PostForm.Get("user")})
		http.Redirect(w, r, "/welcome?lang="+r.PostForm.Get("lang")+"&remember="+r.PostForm.Get("remember"), http.StatusSeeOther)
	})
	mux.HandleFunc("/welcome", func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie("user")
		name := "stranger"
		if err == nil {
			name = c.Value
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, "<html><head><title>Home</title></head><body><h1>Welcome, %s</h1><a href=\"/login\">Log out</a></body></html>", name)
	})
	mux.HandleFunc("/compressed", func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("Accept-Encoding"), "br")
		var buf bytes.Buffer
		bw := brotli.NewWriter(&buf)
		_, _ = bw.Write([]byte("<html><head><title>Packed</title></head><body><p>Squeezed content</p></body></html>"))
		require.NoError(t, bw.Close())
		w.Header().Set("Content-Type", "text/html")
		w.Header().Set("Content-Encoding", "br")
		_, _ = w.Write(buf.Bytes())
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newPage(t *testing.T, opts ...Option) *Page {
	t.Helper()
	cfg := config.NewDefaultConfig().Browser()
	cfg.PollInterval = 5 * time.Millisecond
	cfg.Driver = config.DriverDOM
	return New("test-session", cfg, zaptest.NewLogger(t), opts...)
}

func locate(t *testing.T, p *Page, pred func(schemas.Element) bool) *schemas.CandidateLocator {
	t.Helper()
	snap, err := p.SnapshotPage(context.Background())
	require.NoError(t, err)
	for _, el := range snap.Elements {
		if pred(el) {
			return &schemas.CandidateLocator{Strategy: schemas.StrategyRole, Selector: el.Selector, ElementRef: el.Ref, Score: 1}
		}
	}
	t.Fatalf("no element matched on %s", snap.URL)
	return nil
}

func byName(name string) func(schemas.Element) bool {
	return func(e schemas.Element) bool { return e.Name == name && e.Tag != "label" }
}

func TestLoginFlow(t *testing.T) {
	srv := newSite(t)
	p := newPage(t)
	ctx := context.Background()

	out, err := p.Perform(ctx, schemas.KindNavigate, nil, schemas.Parameters{{Key: schemas.ParamURL, Value: srv.URL + "/login"}})
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/login", out.URL)

	user := locate(t, p, byName("Username"))
	out, err = p.Perform(ctx, schemas.KindType, user, schemas.Parameters{{Key: schemas.ParamText, Value: "Alice"}})
	require.NoError(t, err)
	assert.Equal(t, "Alice", out.Text)

	lang := locate(t, p, func(e schemas.Element) bool { return e.Tag == "select" })
	_, err = p.Perform(ctx, schemas.KindSelect, lang, schemas.Parameters{{Key: schemas.ParamValue, Value: "French"}})
	require.NoError(t, err)

	remember := locate(t, p, func(e schemas.Element) bool { return e.Role == "checkbox" })
	_, err = p.Perform(ctx, schemas.KindCheck, remember, nil)
	require.NoError(t, err)

	signIn := locate(t, p, byName("Sign in"))
	out, err = p.Perform(ctx, schemas.KindClick, signIn, nil)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/welcome?lang=fr&remember=on", out.URL)

	snap, err := p.SnapshotPage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Home", snap.Title)
	assert.Contains(t, snap.Text, "Welcome, Alice")

	// The old button belongs to a document that is gone.
	_, err = p.Perform(ctx, schemas.KindClick, signIn, nil)
	assert.ErrorIs(t, err, schemas.ErrStaleLocator)

	// Relative links resolve against the current page.
	logout := locate(t, p, byName("Log out"))
	out, err = p.Perform(ctx, schemas.KindClick, logout, nil)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/login", out.URL)
}

func TestInteractabilityErrors(t *testing.T) {
	p := newPage(t)
	require.NoError(t, p.Load("https://example.test/login", loginHTML))
	ctx := context.Background()

	help := locate(t, p, byName("Help"))
	_, err := p.Perform(ctx, schemas.KindClick, help, nil)
	assert.ErrorIs(t, err, schemas.ErrElementNotInteractable)

	notice := locate(t, p, func(e schemas.Element) bool { return e.Text == "Maintenance tonight" })
	_, err = p.Perform(ctx, schemas.KindHover, notice, nil)
	assert.ErrorIs(t, err, schemas.ErrElementNotInteractable)

	signIn := locate(t, p, byName("Sign in"))
	_, err = p.Perform(ctx, schemas.KindType, signIn, schemas.Parameters{{Key: schemas.ParamText, Value: "x"}})
	assert.ErrorIs(t, err, schemas.ErrElementNotInteractable)

	_, err = p.Perform(ctx, schemas.KindAssertText, nil, nil)
	assert.ErrorIs(t, err, schemas.ErrUnsupportedAction)

	_, err = p.Perform(ctx, schemas.KindClick, &schemas.CandidateLocator{Selector: "#missing"}, nil)
	assert.ErrorIs(t, err, schemas.ErrElementNotFound)
}

func TestRemountMakesLocatorsStale(t *testing.T) {
	p := newPage(t)
	require.NoError(t, p.Load("https://example.test/login", loginHTML))
	remember := locate(t, p, func(e schemas.Element) bool { return e.Role == "checkbox" })

	p.Remount()
	_, err := p.Perform(context.Background(), schemas.KindCheck, remember, nil)
	assert.ErrorIs(t, err, schemas.ErrStaleLocator)

	fresh := locate(t, p, func(e schemas.Element) bool { return e.Role == "checkbox" })
	assert.NotEqual(t, remember.ElementRef, fresh.ElementRef)
	_, err = p.Perform(context.Background(), schemas.KindCheck, fresh, nil)
	assert.NoError(t, err)
}

func TestActionHookRunsFirst(t *testing.T) {
	calls := 0
	p := newPage(t, WithActionHook(func(_ context.Context, kind schemas.IntentKind, _ *Page) error {
		calls++
		if kind == schemas.KindHover {
			return schemas.ErrNavigationPending
		}
		return nil
	}))
	require.NoError(t, p.Load("https://example.test/login", loginHTML))
	signIn := locate(t, p, byName("Sign in"))

	_, err := p.Perform(context.Background(), schemas.KindHover, signIn, nil)
	assert.ErrorIs(t, err, schemas.ErrNavigationPending)
	assert.Equal(t, 1, calls)
}

func TestBrotliPagesAreDecoded(t *testing.T) {
	srv := newSite(t)
	p := newPage(t)
	require.NoError(t, p.Navigate(context.Background(), srv.URL+"/compressed"))

	snap, err := p.SnapshotPage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Packed", snap.Title)
	assert.Contains(t, snap.Text, "Squeezed content")
}

func TestNavigateValidation(t *testing.T) {
	p := newPage(t)
	assert.ErrorIs(t, p.Navigate(context.Background(), "/relative"), schemas.ErrInvalidParameters)
	assert.ErrorIs(t, p.Navigate(context.Background(), "  "), schemas.ErrInvalidParameters)
	assert.NoError(t, p.Navigate(context.Background(), "about:blank"))
}

func TestWaitFor(t *testing.T) {
	p := newPage(t)
	require.NoError(t, p.Load("https://example.test/login", loginHTML))
	notice := locate(t, p, func(e schemas.Element) bool { return e.Text == "Maintenance tonight" })

	go func() {
		time.Sleep(20 * time.Millisecond)
		p.Mutate(func(doc *goquery.Document) { doc.Find("#notice").RemoveAttr("hidden") })
	}()
	err := p.WaitFor(context.Background(), schemas.WaitCondition{Kind: schemas.WaitAppear, Locator: notice}, time.Second)
	require.NoError(t, err)

	err = p.WaitFor(context.Background(), schemas.WaitCondition{Kind: schemas.WaitDisappear, Locator: notice}, 30*time.Millisecond)
	assert.True(t, schemas.IsTimeout(err))

	start := time.Now()
	require.NoError(t, p.WaitFor(context.Background(), schemas.WaitCondition{Kind: schemas.WaitTime, Duration: 10 * time.Millisecond}, time.Second))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)

	assert.NoError(t, p.WaitFor(context.Background(), schemas.WaitCondition{Kind: schemas.WaitLoad}, time.Second))
}

func TestCaptureRegionIsDeterministic(t *testing.T) {
	p := newPage(t)
	require.NoError(t, p.Load("https://example.test/login", loginHTML))
	user := locate(t, p, byName("Username"))

	first, err := p.CaptureRegion(context.Background(), user)
	require.NoError(t, err)
	second, err := p.CaptureRegion(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, []byte("\x89PNG"), first[:4])

	_, err = p.Perform(context.Background(), schemas.KindType, user, schemas.Parameters{{Key: schemas.ParamText, Value: "changed"}})
	require.NoError(t, err)
	third, err := p.CaptureRegion(context.Background(), user)
	require.NoError(t, err)
	assert.NotEqual(t, first, third)

	page, err := p.CaptureRegion(context.Background(), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, page)
}

func TestClosedPage(t *testing.T) {
	p := newPage(t)
	require.NoError(t, p.Close(context.Background()))
	require.NoError(t, p.Close(context.Background()))

	_, err := p.SnapshotPage(context.Background())
	assert.ErrorIs(t, err, schemas.ErrBrowserClosed)
	_, err = p.Perform(context.Background(), schemas.KindNavigate, nil, nil)
	assert.ErrorIs(t, err, schemas.ErrBrowserClosed)
}

func TestFactory(t *testing.T) {
	f := NewFactory(config.NewDefaultConfig().Browser(), zaptest.NewLogger(t))
	b, err := f.NewBrowser(context.Background(), "s1")
	require.NoError(t, err)
	snap, err := b.SnapshotPage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "about:blank", snap.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.NewBrowser(ctx, "s2")
	assert.ErrorIs(t, err, context.Canceled)
}
