package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/intakevox/internal/api"
	"github.com/MrWong99/intakevox/internal/capture"
	capturemock "github.com/MrWong99/intakevox/internal/capture/mock"
	"github.com/MrWong99/intakevox/internal/config"
	"github.com/MrWong99/intakevox/internal/intake"
	"github.com/MrWong99/intakevox/internal/observe"
	"github.com/MrWong99/intakevox/internal/output"
	"github.com/MrWong99/intakevox/pkg/audio/wav"
)

var epoch = time.Date(2026, 5, 6, 7, 8, 9, 123_000_000, time.UTC)

type fixture struct {
	srv   *httptest.Server
	svc   *intake.Service
	dev   *capturemock.Device
	clock *capturemock.Clock
	store *output.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	flow, err := intake.FlowFromConfig(config.Default().Steps)
	if err != nil {
		t.Fatalf("FlowFromConfig: %v", err)
	}
	store, err := output.NewStore(8, output.WithClock(func() time.Time { return epoch }))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	dev := &capturemock.Device{DefaultType: "audio/pcm;rate=48000;channels=2"}
	clk := capturemock.NewClock(epoch)

	svc, err := intake.New(intake.ServiceConfig{
		Device:  dev,
		Flow:    flow,
		Store:   store,
		Metrics: metrics,
		Clock:   clk,
	})
	if err != nil {
		t.Fatalf("intake.New: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })

	srv := httptest.NewServer(api.New(api.Config{
		Intake:     svc,
		Recordings: store,
		Metrics:    metrics,
		Extra: func(mux *http.ServeMux) {
			mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			})
		},
	}).Handler())
	t.Cleanup(srv.Close)

	return &fixture{srv: srv, svc: svc, dev: dev, clock: clk, store: store}
}

// record starts a capture for step, feeds seconds of silence and advances
// the clock.
func (f *fixture) record(t *testing.T, step string, seconds int) {
	t.Helper()
	resp := f.do(t, http.MethodPost, "/api/steps/"+step+"/recording", nil, "")
	expectStatus(t, resp, http.StatusCreated)
	chunk := make([]byte, 4800*2*2)
	for range seconds * 10 {
		f.dev.Emit(chunk)
	}
	f.clock.Advance(time.Duration(seconds) * time.Second)
}

func (f *fixture) do(t *testing.T, method, path string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, body)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s %s: status = %d, want %d (body %s)",
			resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want, b)
	}
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return v
}

type errorBody struct {
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	MessageKey string `json:"message_key"`
	Step       string `json:"step"`
	Result     *struct {
		Accepted       bool `json:"accepted"`
		ElapsedSeconds int  `json:"elapsed_seconds"`
		MinimumSeconds int  `json:"minimum_seconds"`
	} `json:"result"`
}

type resultBody struct {
	Step           string        `json:"step"`
	ElapsedSeconds int           `json:"elapsed_seconds"`
	Display        string        `json:"display"`
	Accepted       bool          `json:"accepted"`
	Handle         output.Handle `json:"handle"`
	URL            string        `json:"url"`
}

func TestSteps(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/api/steps", nil, "")
	expectStatus(t, resp, http.StatusOK)
	steps := decodeBody[[]struct {
		Category        string `json:"category"`
		Next            string `json:"next"`
		MinDuration     int    `json:"min_duration_seconds"`
		AutoStopSeconds int    `json:"auto_stop_seconds"`
	}](t, resp)

	if len(steps) != 3 {
		t.Fatalf("steps = %d, want 3", len(steps))
	}
	if steps[0].Category != "cough" || steps[0].Next != "speech" || steps[2].Next != "confirmation" {
		t.Errorf("steps = %+v", steps)
	}
	if steps[0].MinDuration != 3 || steps[0].AutoStopSeconds != 30 {
		t.Errorf("cough policy = %+v", steps[0])
	}
}

func TestRecordPlaySubmit(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.record(t, "cough", 5)

	resp := f.do(t, http.MethodDelete, "/api/steps/cough/recording", nil, "")
	expectStatus(t, resp, http.StatusOK)
	res := decodeBody[resultBody](t, resp)
	if !res.Accepted || res.ElapsedSeconds != 5 || res.Display != "0:05" {
		t.Errorf("result = %+v", res)
	}
	if res.Handle.Filename != "cough_recording-2026-05-06T07-08-09-123Z.wav" {
		t.Errorf("filename = %q", res.Handle.Filename)
	}
	if res.URL != "/recordings/"+res.Handle.Ref {
		t.Errorf("url = %q", res.URL)
	}

	play := f.do(t, http.MethodGet, res.URL, nil, "")
	expectStatus(t, play, http.StatusOK)
	if ct := play.Header.Get("Content-Type"); ct != "audio/wav" {
		t.Errorf("Content-Type = %q", ct)
	}
	body, _ := io.ReadAll(play.Body)
	if len(body) != 441044 {
		t.Errorf("playback = %d bytes, want 441044", len(body))
	}
	if _, err := wav.ParseHeader(body); err != nil {
		t.Errorf("playback is not a WAV: %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, f.srv.URL+res.URL, nil)
	req.Header.Set("Range", "bytes=0-43")
	ranged, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("range request: %v", err)
	}
	defer ranged.Body.Close()
	if ranged.StatusCode != http.StatusPartialContent {
		t.Errorf("range status = %d, want 206", ranged.StatusCode)
	}

	sub := f.do(t, http.MethodPost, "/api/steps/cough/submit",
		strings.NewReader(`{"ref":"`+res.Handle.Ref+`"}`), "application/json")
	expectStatus(t, sub, http.StatusOK)
	next := decodeBody[struct {
		NextStep string `json:"next_step"`
		Ref      string `json:"ref"`
		Filename string `json:"filename"`
	}](t, sub)
	if next.NextStep != "speech" || next.Ref != res.Handle.Ref || next.Filename != res.Handle.Filename {
		t.Errorf("submit = %+v", next)
	}

	list := f.do(t, http.MethodGet, "/api/submissions", nil, "")
	expectStatus(t, list, http.StatusOK)
	if handles := decodeBody[[]output.Handle](t, list); len(handles) != 1 || handles[0].Category != "cough" {
		t.Errorf("submissions = %+v", handles)
	}
}

func TestStop_TooShort(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.record(t, "cough", 2)
	resp := f.do(t, http.MethodDelete, "/api/steps/cough/recording", nil, "")
	expectStatus(t, resp, http.StatusUnprocessableEntity)

	body := decodeBody[errorBody](t, resp)
	if body.Kind != string(intake.KindDurationTooShort) {
		t.Errorf("kind = %q", body.Kind)
	}
	if body.MessageKey != "recordCough.minimum_duration_title" {
		t.Errorf("message_key = %q", body.MessageKey)
	}
	if body.Result == nil || body.Result.Accepted || body.Result.ElapsedSeconds != 2 || body.Result.MinimumSeconds != 3 {
		t.Errorf("result = %+v", body.Result)
	}
	if f.store.Len() != 0 {
		t.Errorf("store holds %d handles after rejection", f.store.Len())
	}
}

func TestErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		setup  func(t *testing.T, f *fixture)
		method string
		path   string
		body   string
		status int
		kind   intake.Kind
		msgKey string
	}{
		{
			name:   "permission denied",
			setup:  func(_ *testing.T, f *fixture) { f.dev.OpenError = capture.ErrPermissionDenied },
			method: http.MethodPost, path: "/api/steps/cough/recording",
			status: http.StatusForbidden, kind: intake.KindPermissionDenied,
			msgKey: "recordCough.microphoneAccessError",
		},
		{
			name:   "no device",
			setup:  func(_ *testing.T, f *fixture) { f.dev.OpenError = capture.ErrDeviceUnavailable },
			method: http.MethodPost, path: "/api/steps/speech/recording",
			status: http.StatusServiceUnavailable, kind: intake.KindDeviceUnavailable,
			msgKey: "recordSpeech.error",
		},
		{
			name:   "busy",
			setup:  func(t *testing.T, f *fixture) { f.record(t, "cough", 1) },
			method: http.MethodPost, path: "/api/steps/speech/recording",
			status: http.StatusConflict, kind: intake.KindBusy,
			msgKey: "recordSpeech.error",
		},
		{
			name:   "unknown step",
			method: http.MethodPost, path: "/api/steps/sneeze/recording",
			status: http.StatusBadRequest, kind: intake.KindInvalidRequest,
			msgKey: "recordSneeze.error",
		},
		{
			name:   "stop without start",
			method: http.MethodDelete, path: "/api/steps/cough/recording",
			status: http.StatusBadRequest, kind: intake.KindInvalidRequest,
		},
		{
			name:   "stop other step",
			setup:  func(t *testing.T, f *fixture) { f.record(t, "cough", 1) },
			method: http.MethodDelete, path: "/api/steps/speech/recording",
			status: http.StatusBadRequest, kind: intake.KindInvalidRequest,
		},
		{
			name:   "status without capture",
			method: http.MethodGet, path: "/api/steps/cough/recording",
			status: http.StatusBadRequest, kind: intake.KindInvalidRequest,
		},
		{
			name:   "missing playback",
			method: http.MethodGet, path: "/recordings/blob:nope",
			status: http.StatusNotFound, kind: intake.KindPlaybackFailure,
			msgKey: "uploadComplete.noAudio",
		},
		{
			name:   "revoke missing",
			method: http.MethodDelete, path: "/recordings/blob:nope",
			status: http.StatusNotFound, kind: intake.KindPlaybackFailure,
		},
		{
			name:   "submit bad json",
			method: http.MethodPost, path: "/api/steps/cough/submit", body: "{",
			status: http.StatusBadRequest, kind: intake.KindInvalidRequest,
			msgKey: "recordCough.error",
		},
		{
			name:   "submit without ref",
			method: http.MethodPost, path: "/api/steps/cough/submit", body: "{}",
			status: http.StatusBadRequest, kind: intake.KindInvalidRequest,
		},
		{
			name:   "submit unknown ref",
			method: http.MethodPost, path: "/api/steps/cough/submit", body: `{"ref":"blob:nope"}`,
			status: http.StatusNotFound, kind: intake.KindPlaybackFailure,
		},
		{
			name:   "ticks without capture",
			method: http.MethodGet, path: "/api/steps/cough/recording/ticks",
			status: http.StatusBadRequest, kind: intake.KindInvalidRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			if tt.setup != nil {
				tt.setup(t, f)
			}
			var body io.Reader
			if tt.body != "" {
				body = strings.NewReader(tt.body)
			}
			resp := f.do(t, tt.method, tt.path, body, "application/json")
			expectStatus(t, resp, tt.status)
			got := decodeBody[errorBody](t, resp)
			if got.Kind != string(tt.kind) {
				t.Errorf("kind = %q, want %q", got.Kind, tt.kind)
			}
			if got.Message == "" {
				t.Error("message is empty")
			}
			if tt.msgKey != "" && got.MessageKey != tt.msgKey {
				t.Errorf("message_key = %q, want %q", got.MessageKey, tt.msgKey)
			}
		})
	}
}

func multipartBody(t *testing.T, field, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestUpload(t *testing.T) {
	t.Parallel()

	t.Run("wav keeps filename", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		body, ct := multipartBody(t, "file", "my breath.wav", wav.Encode(make([]float32, 4*44100)))

		resp := f.do(t, http.MethodPost, "/api/steps/breath/upload", body, ct)
		expectStatus(t, resp, http.StatusCreated)
		res := decodeBody[resultBody](t, resp)
		if res.Handle.Filename != "my breath.wav" || res.Handle.Source != output.SourceUploaded {
			t.Errorf("handle = %+v", res.Handle)
		}
		if res.Handle.DurationSeconds != 4 || res.Handle.MimeType != "audio/wav" {
			t.Errorf("duration/mime = %d/%q", res.Handle.DurationSeconds, res.Handle.MimeType)
		}

		play := f.do(t, http.MethodGet, res.URL, nil, "")
		expectStatus(t, play, http.StatusOK)

		del := f.do(t, http.MethodDelete, res.URL, nil, "")
		expectStatus(t, del, http.StatusNoContent)
		gone := f.do(t, http.MethodGet, res.URL, nil, "")
		expectStatus(t, gone, http.StatusNotFound)
	})

	t.Run("empty file", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		body, ct := multipartBody(t, "file", "empty.wav", nil)
		resp := f.do(t, http.MethodPost, "/api/steps/breath/upload", body, ct)
		expectStatus(t, resp, http.StatusUnprocessableEntity)
		if got := decodeBody[errorBody](t, resp); got.Kind != string(intake.KindDecodeFailure) {
			t.Errorf("kind = %q", got.Kind)
		}
	})

	t.Run("missing field", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		body, ct := multipartBody(t, "attachment", "a.wav", []byte("x"))
		resp := f.do(t, http.MethodPost, "/api/steps/breath/upload", body, ct)
		expectStatus(t, resp, http.StatusBadRequest)
	})

	t.Run("too large", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		small := httptest.NewServer(api.New(api.Config{
			Intake:         f.svc,
			Recordings:     f.store,
			MaxUploadBytes: 1024,
		}).Handler())
		t.Cleanup(small.Close)

		body, ct := multipartBody(t, "file", "big.wav", make([]byte, 4096))
		resp, err := http.Post(small.URL+"/api/steps/breath/upload", ct, body)
		if err != nil {
			t.Fatalf("Post: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})
}

func TestTicks(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/steps/speech/recording", nil, "")
	expectStatus(t, resp, http.StatusCreated)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/api/steps/speech/recording/ticks"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	type tick struct {
		Elapsed int    `json:"elapsed"`
		Display string `json:"display"`
	}
	var first tick
	if err := wsjson.Read(ctx, conn, &first); err != nil {
		t.Fatalf("read first tick: %v", err)
	}
	if first.Elapsed != 0 || first.Display != "0:00" {
		t.Errorf("first tick = %+v", first)
	}

	f.clock.Advance(4 * time.Second)
	for {
		var tk tick
		if err := wsjson.Read(ctx, conn, &tk); err != nil {
			t.Fatalf("read tick: %v", err)
		}
		if tk.Elapsed < first.Elapsed {
			t.Fatalf("tick went backwards: %d after %d", tk.Elapsed, first.Elapsed)
		}
		first = tk
		if tk.Elapsed == 4 {
			if tk.Display != "0:04" {
				t.Errorf("display = %q", tk.Display)
			}
			break
		}
	}

	stop := f.do(t, http.MethodDelete, "/api/steps/speech/recording", nil, "")
	// No audio was emitted, so conversion of an empty capture may fail; the
	// socket must close normally either way.
	_ = stop

	for {
		var tk tick
		err := wsjson.Read(ctx, conn, &tk)
		if err == nil {
			continue
		}
		if got := websocket.CloseStatus(err); got != websocket.StatusNormalClosure {
			t.Fatalf("close status = %v (err %v), want normal closure", got, err)
		}
		break
	}
}
