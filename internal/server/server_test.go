package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/menta2k/visual-dictionary/internal/metrics"
	"github.com/menta2k/visual-dictionary/pkg/annotate"
	"github.com/menta2k/visual-dictionary/pkg/camera"
	"github.com/menta2k/visual-dictionary/pkg/dictionary"
	"github.com/menta2k/visual-dictionary/pkg/imagesource"
	"github.com/menta2k/visual-dictionary/pkg/openai"
	"github.com/menta2k/visual-dictionary/pkg/point"
	"github.com/menta2k/visual-dictionary/pkg/session"
	"github.com/menta2k/visual-dictionary/pkg/types"
)

type stubAnnotator struct {
	mu    sync.Mutex
	raw   string
	err   error
	calls int
}

func (a *stubAnnotator) Annotate(ctx context.Context, req annotate.Request) (annotate.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.err != nil {
		return annotate.Result{}, a.err
	}
	return annotate.ParseDual(a.raw)
}

func (a *stubAnnotator) setAnswer(raw string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.raw = raw
}

func (a *stubAnnotator) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	srv       *Server
	ts        *httptest.Server
	store     *dictionary.MemoryStore
	annotator *stubAnnotator
	clock     *testClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:     dictionary.NewMemoryStore(),
		annotator: &stubAnnotator{raw: `{"textFrom":"кавоварка","textTo":"coffee maker","bbox":[100,200,400,600]}`},
		clock:     &testClock{now: time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)},
	}
	m := metrics.New()
	env.srv = New(Options{
		NewSession: func() *session.Session {
			return session.New(session.Options{
				Annotator: env.annotator,
				Store:     env.store,
				Observer:  m,
				Now:       env.clock.Now,
			})
		},
		Store:      env.store,
		Metrics:    m,
		SessionTTL: time.Minute,
		Now:        env.clock.Now,
	})
	env.ts = httptest.NewServer(env.srv)
	t.Cleanup(func() {
		env.ts.Close()
		env.srv.CloseAll()
	})
	return env
}

func (env *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, env.ts.URL+path, r)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func (env *testEnv) createSession(t *testing.T) string {
	t.Helper()
	resp, data := env.do(t, "POST", "/api/sessions", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", resp.StatusCode, data)
	}
	var sr sessionResponse
	if err := json.Unmarshal(data, &sr); err != nil {
		t.Fatal(err)
	}
	if sr.ID == "" {
		t.Fatal("Expected a session id")
	}
	return sr.ID
}

func pngDataURL(t *testing.T, width, height int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 100, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	a, err := imagesource.FromBytes(buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	return a.DataURL()
}

func expectStatus(t *testing.T, resp *http.Response, body []byte, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("%s %s: expected %d, got %d: %s", resp.Request.Method, resp.Request.URL.Path, want, resp.StatusCode, body)
	}
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	resp, body := env.do(t, "GET", "/api/sessions/"+id, nil)
	expectStatus(t, resp, body, http.StatusOK)

	resp, body = env.do(t, "DELETE", "/api/sessions/"+id, nil)
	expectStatus(t, resp, body, http.StatusNoContent)

	resp, body = env.do(t, "GET", "/api/sessions/"+id, nil)
	expectStatus(t, resp, body, http.StatusNotFound)

	resp, body = env.do(t, "DELETE", "/api/sessions/"+id, nil)
	expectStatus(t, resp, body, http.StatusNotFound)
}

func TestAnalyzeWithoutImage(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	resp, body := env.do(t, "POST", "/api/sessions/"+id+"/analyze", nil)
	expectStatus(t, resp, body, http.StatusBadRequest)
	if !strings.Contains(string(body), "Upload image first") {
		t.Errorf("Unexpected body %s", body)
	}
	if env.annotator.callCount() != 0 {
		t.Error("Expected no model call")
	}
}

func TestAnalyzeAndSaveFlow(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)
	base := "/api/sessions/" + id

	resp, body := env.do(t, "POST", base+"/image", map[string]string{"dataUrl": pngDataURL(t, 200, 100)})
	expectStatus(t, resp, body, http.StatusOK)

	resp, body = env.do(t, "POST", base+"/point", map[string]any{
		"pointerX": 60, "pointerY": 40,
		"rect": point.Rect{Left: 0, Top: 0, Width: 200, Height: 100},
	})
	expectStatus(t, resp, body, http.StatusOK)
	var sr sessionResponse
	json.Unmarshal(body, &sr)
	if sr.View.Point.X != 30 || sr.View.Point.Y != 40 {
		t.Errorf("Unexpected point %v", sr.View.Point)
	}

	resp, body = env.do(t, "POST", base+"/analyze", nil)
	expectStatus(t, resp, body, http.StatusOK)
	json.Unmarshal(body, &sr)
	if sr.View.Result == nil || sr.View.Result.Label != "кавоварка - coffee maker" || sr.View.Result.Thumbnail == "" {
		t.Fatalf("Unexpected result %+v", sr.View.Result)
	}

	resp, body = env.do(t, "GET", base+"/overlay", nil)
	expectStatus(t, resp, body, http.StatusOK)
	if resp.Header.Get("Content-Type") != "image/jpeg" {
		t.Errorf("Unexpected content type %q", resp.Header.Get("Content-Type"))
	}
	if _, err := jpeg.Decode(bytes.NewReader(body)); err != nil {
		t.Errorf("Overlay is not a JPEG: %v", err)
	}

	resp, body = env.do(t, "POST", base+"/save", nil)
	expectStatus(t, resp, body, http.StatusCreated)

	resp, body = env.do(t, "GET", "/api/dictionary", nil)
	expectStatus(t, resp, body, http.StatusOK)
	var list []map[string]any
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0]["result"] != "кавоварка - coffee maker" || list[0]["language"] != "Ukrainian -> English" {
		t.Fatalf("Unexpected dictionary %v", list)
	}

	resp, body = env.do(t, "GET", "/", nil)
	expectStatus(t, resp, body, http.StatusOK)
	if !strings.Contains(string(body), "кавоварка - coffee maker") || !strings.Contains(string(body), "data:image/jpeg;base64,") {
		t.Errorf("Dictionary page misses the entry: %s", body)
	}

	entryID := fmt.Sprint(env.clock.Now().UnixMilli())
	resp, body = env.do(t, "DELETE", "/api/dictionary/"+entryID, nil)
	expectStatus(t, resp, body, http.StatusNoContent)
	resp, body = env.do(t, "DELETE", "/api/dictionary/"+entryID, nil)
	expectStatus(t, resp, body, http.StatusNotFound)
	resp, body = env.do(t, "DELETE", "/api/dictionary/abc", nil)
	expectStatus(t, resp, body, http.StatusBadRequest)
}

func TestDictionaryPageDelete(t *testing.T) {
	env := newTestEnv(t)
	img, err := imagesource.FromDataURL(pngDataURL(t, 20, 20))
	if err != nil {
		t.Fatal(err)
	}
	entry := dictionary.NewEntry(env.clock.Now(), img, types.NewPoint(30, 40), "чашка - cup", "Ukrainian -> English")
	if err := env.store.Append(context.Background(), entry); err != nil {
		t.Fatal(err)
	}

	resp, body := env.do(t, "GET", "/", nil)
	expectStatus(t, resp, body, http.StatusOK)
	page := string(body)
	if !strings.Contains(page, "X:30% Y:40%") {
		t.Errorf("Dictionary page misses the saved point: %s", page)
	}
	action := fmt.Sprintf("/dictionary/%d/delete", entry.ID)
	if !strings.Contains(page, `action="`+action+`"`) {
		t.Errorf("Dictionary page misses the delete form: %s", page)
	}

	// The client follows the redirect back to the page
	resp, body = env.do(t, "POST", action, nil)
	expectStatus(t, resp, body, http.StatusOK)
	if resp.Request.URL.Path != "/" {
		t.Errorf("Expected redirect to /, ended at %s", resp.Request.URL.Path)
	}
	if !strings.Contains(string(body), "No saved words yet.") {
		t.Errorf("Expected empty dictionary page after delete: %s", body)
	}

	resp, body = env.do(t, "POST", "/dictionary/abc/delete", nil)
	expectStatus(t, resp, body, http.StatusBadRequest)
}

func TestMultipartUpload(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	img := image.NewRGBA(image.Rect(0, 0, 40, 30))
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "photo.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if err := jpeg.Encode(fw, img, nil); err != nil {
		t.Fatal(err)
	}
	mw.Close()

	resp, err := http.Post(env.ts.URL+"/api/sessions/"+id+"/image", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	expectStatus(t, resp, body, http.StatusOK)

	var sr sessionResponse
	json.Unmarshal(body, &sr)
	if sr.View.Image == nil || sr.View.Image.Width != 40 || sr.View.Image.MediaType != "image/jpeg" {
		t.Errorf("Unexpected image %+v", sr.View.Image)
	}
}

func TestBadInputs(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)
	base := "/api/sessions/" + id

	resp, body := env.do(t, "POST", base+"/image", map[string]string{"dataUrl": "data:text/plain;base64,aGVsbG8="})
	expectStatus(t, resp, body, http.StatusBadRequest)

	resp, body = env.do(t, "POST", base+"/image", map[string]string{})
	expectStatus(t, resp, body, http.StatusBadRequest)

	resp, body = env.do(t, "POST", base+"/point", map[string]any{
		"pointerX": 1, "pointerY": 1, "rect": point.Rect{Width: 0, Height: 10},
	})
	expectStatus(t, resp, body, http.StatusBadRequest)

	resp, body = env.do(t, "POST", base+"/point", map[string]any{"x": "abc", "y": 1})
	expectStatus(t, resp, body, http.StatusBadRequest)

	resp, body = env.do(t, "PUT", base+"/languages", map[string]string{"from": " ", "to": ""})
	expectStatus(t, resp, body, http.StatusBadRequest)

	resp, body = env.do(t, "POST", base+"/save", nil)
	expectStatus(t, resp, body, http.StatusBadRequest)

	resp, body = env.do(t, "POST", base+"/camera/start", nil)
	expectStatus(t, resp, body, http.StatusNotImplemented)

	resp, body = env.do(t, "POST", base+"/camera/zoom", nil)
	expectStatus(t, resp, body, http.StatusNotFound)
}

func TestTypedPointAndLanguages(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)
	base := "/api/sessions/" + id

	resp, body := env.do(t, "POST", base+"/point", map[string]any{"x": "30%", "y": 140})
	expectStatus(t, resp, body, http.StatusOK)
	var sr sessionResponse
	json.Unmarshal(body, &sr)
	if sr.View.Point.X != 30 || sr.View.Point.Y != 100 {
		t.Errorf("Expected clamped point 30,100, got %v", sr.View.Point)
	}

	resp, body = env.do(t, "PUT", base+"/languages", map[string]string{"to": "German"})
	expectStatus(t, resp, body, http.StatusOK)
	json.Unmarshal(body, &sr)
	if sr.View.Languages.From != "" || sr.View.Languages.To != "German" {
		t.Errorf("Unexpected languages %+v", sr.View.Languages)
	}
}

func TestUpstreamFailureKeepsSession(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)
	base := "/api/sessions/" + id
	env.do(t, "POST", base+"/image", map[string]string{"dataUrl": pngDataURL(t, 50, 50)})

	env.annotator.setAnswer("not json")
	resp, body := env.do(t, "POST", base+"/analyze", nil)
	expectStatus(t, resp, body, http.StatusBadGateway)

	resp, body = env.do(t, "GET", base, nil)
	expectStatus(t, resp, body, http.StatusOK)
	var sr sessionResponse
	json.Unmarshal(body, &sr)
	if sr.View.Error == "" {
		t.Error("Expected the error to be shown on the session")
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{session.ErrNoImage, http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", point.ErrInvalidRect), http.StatusBadRequest},
		{camera.ErrNotReady, http.StatusBadRequest},
		{session.ErrBusy, http.StatusConflict},
		{session.ErrSuperseded, http.StatusConflict},
		{fmt.Errorf("open: %w", camera.ErrPermission), http.StatusForbidden},
		{session.ErrClosed, http.StatusNotFound},
		{annotate.ErrMalformedResponse, http.StatusBadGateway},
		{&openai.APIError{StatusCode: 401, Message: "bad key"}, http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("other"), http.StatusTeapot},
	}
	for _, c := range cases {
		if got := statusFor(c.err, http.StatusTeapot); got != c.want {
			t.Errorf("statusFor(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestSweepClosesIdleSessions(t *testing.T) {
	env := newTestEnv(t)
	idle := env.createSession(t)

	env.clock.Advance(45 * time.Second)
	active := env.createSession(t)

	env.clock.Advance(30 * time.Second)
	if n := env.srv.Sweep(); n != 1 {
		t.Errorf("Expected 1 expired session, got %d", n)
	}

	resp, body := env.do(t, "GET", "/api/sessions/"+idle, nil)
	expectStatus(t, resp, body, http.StatusNotFound)
	resp, body = env.do(t, "GET", "/api/sessions/"+active, nil)
	expectStatus(t, resp, body, http.StatusOK)
	if env.srv.SessionCount() != 1 {
		t.Errorf("Expected 1 open session, got %d", env.srv.SessionCount())
	}
}

func TestMetricsAndHealth(t *testing.T) {
	env := newTestEnv(t)
	env.createSession(t)

	resp, body := env.do(t, "GET", "/healthz", nil)
	expectStatus(t, resp, body, http.StatusOK)

	resp, body = env.do(t, "GET", "/metrics", nil)
	expectStatus(t, resp, body, http.StatusOK)
	for _, want := range []string{
		`visualdict_http_requests_total{code="201",route="create_session"} 1`,
		`visualdict_sessions_active 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("Missing %q in metrics", want)
		}
	}
}
