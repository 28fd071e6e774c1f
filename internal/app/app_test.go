package app

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relabs-tech/pid_testboard/internal/actuator"
	"github.com/relabs-tech/pid_testboard/internal/calibration"
	"github.com/relabs-tech/pid_testboard/internal/config"
	"github.com/relabs-tech/pid_testboard/internal/cycle"
	"github.com/relabs-tech/pid_testboard/internal/report"
	"github.com/relabs-tech/pid_testboard/internal/telemetry"
	"github.com/relabs-tech/pid_testboard/internal/trigger"
)

type bench struct {
	set    *calibration.Set
	params *cycle.Params
	store  *calibration.FileStore
	button *trigger.Button
	ctrl   *cycle.Controller
	rec    *report.Recorder
	server *httptest.Server
}

func newBench(t *testing.T) *bench {
	t.Helper()
	log := zap.NewNop().Sugar()
	b := &bench{set: calibration.NewSet(), button: &trigger.Button{}}
	b.params = cycle.RegisterParams(b.set)
	b.store = calibration.NewFileStore(filepath.Join(t.TempDir(), "cal.json"), log)
	b.rec = report.NewRecorder("", 0, log)
	b.ctrl = cycle.New(cycle.Config{
		Driver:    actuator.NewSim(),
		Params:    b.params,
		Sink:      b.rec,
		Listeners: []cycle.Listener{b.rec},
	})
	tuning := &Tuning{
		Set:     b.set,
		Store:   b.store,
		Button:  b.button,
		Status:  b.ctrl,
		Reports: b.rec,
		Plot:    telemetry.NewHub(log),
		Log:     log,
	}
	b.server = httptest.NewServer(tuning.Router())
	t.Cleanup(b.server.Close)
	return b
}

func (b *bench) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, b.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestListCalibration(t *testing.T) {
	b := newBench(t)
	resp := b.do(t, http.MethodGet, "/api/calibration", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snaps []calibration.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snaps))
	require.Len(t, snaps, 17)
	assert.Equal(t, cycle.NameControlMode, snaps[0].Name)
}

func TestSetCalibration(t *testing.T) {
	tests := []struct {
		name     string
		param    string
		body     string
		wantCode int
		want     float64
	}{
		{"in range", "Cycle%20Length%20S", `{"value": 7.5}`, http.StatusOK, 7.5},
		{"clamped", "Cycle%20Length%20S", `{"value": 99}`, http.StatusOK, 15},
		{"unbounded gain", "Gain%20Speed%20P", `{"value": -4}`, http.StatusOK, -4},
		{"unknown", "Nope", `{"value": 1}`, http.StatusNotFound, 0},
		{"missing value", "Cycle%20Length%20S", `{}`, http.StatusBadRequest, 0},
		{"not json", "Cycle%20Length%20S", `seven`, http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBench(t)
			resp := b.do(t, http.MethodPut, "/api/calibration/"+tt.param, tt.body)
			require.Equal(t, tt.wantCode, resp.StatusCode)
			if tt.wantCode != http.StatusOK {
				return
			}
			var snap calibration.Snapshot
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
			assert.Equal(t, tt.want, snap.Value)
			assert.True(t, snap.Dirty)
		})
	}
}

func TestSaveCalibration(t *testing.T) {
	b := newBench(t)
	b.params.Amplitude.Set(250)
	resp := b.do(t, http.MethodPost, "/api/calibration/save", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	set := calibration.NewSet()
	params := cycle.RegisterParams(set)
	require.NoError(t, b.store.LoadAll(set))
	assert.Equal(t, 250.0, params.Amplitude.Get())
}

func TestTriggerStartsCycle(t *testing.T) {
	b := newBench(t)
	b.params.CycleType.Set(1)

	resp := b.do(t, http.MethodPost, "/api/trigger", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	b.ctrl.Tick(0, b.button.Pressed())
	b.ctrl.Tick(0.02, b.button.Pressed())
	assert.Equal(t, cycle.Running, b.ctrl.State())

	resp = b.do(t, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st cycle.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, "running", st.State)
	assert.Equal(t, "open-loop", st.Mode)
	assert.NotEmpty(t, st.SessionID)
}

func TestLastReport(t *testing.T) {
	b := newBench(t)
	resp := b.do(t, http.MethodGet, "/api/report/last", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	b.params.CycleType.Set(1)
	b.params.CycleLength.Set(0.1)
	b.ctrl.Tick(0, true)
	b.ctrl.Tick(0.05, true)
	b.ctrl.Tick(0.2, false)
	require.Equal(t, cycle.Idle, b.ctrl.State())

	resp = b.do(t, http.MethodGet, "/api/report/last", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sum report.Summary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sum))
	assert.Equal(t, "complete", sum.Reason)
	assert.Equal(t, 2, sum.Samples)
}

func TestCalibrationWebsocket(t *testing.T) {
	b := newBench(t)
	url := "ws" + strings.TrimPrefix(b.server.URL, "http") + "/ws/calibration"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	exchange := func(msg WSMessage) WSResponse {
		require.NoError(t, conn.WriteJSON(msg))
		var resp WSResponse
		require.NoError(t, conn.ReadJSON(&resp))
		return resp
	}

	resp := exchange(WSMessage{Action: "list"})
	assert.Equal(t, "params", resp.Type)
	assert.Len(t, resp.Params, 17)

	resp = exchange(WSMessage{Action: "set", Name: cycle.NameStepOnPct, Value: 140})
	require.Equal(t, "param", resp.Type)
	assert.Equal(t, 100.0, resp.Param.Value)

	resp = exchange(WSMessage{Action: "set", Name: "Nope", Value: 1})
	assert.Equal(t, "error", resp.Type)

	resp = exchange(WSMessage{Action: "save"})
	assert.Equal(t, "saved", resp.Type)

	resp = exchange(WSMessage{Action: "press"})
	assert.Equal(t, "pressed", resp.Type)
	assert.True(t, b.button.Pressed())

	resp = exchange(WSMessage{Action: "dance"})
	assert.Equal(t, "error", resp.Type)
}

type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (f *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return newFakeToken(nil)
}

func TestEventPublisher(t *testing.T) {
	pub := &fakePublisher{}
	e := NewEventPublisher(pub, "testboard/cycle", zap.NewNop().Sugar())
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	e.now = func() time.Time { return at }

	s := cycle.Session{ID: uuid.New(), Mode: actuator.Position, Start: 3, StartPosition: 1.25}
	e.CycleStarted(s)
	s.Elapsed = 5.1
	e.CycleEnded(s, cycle.EndComplete)

	pub.mu.Lock()
	assert.Empty(t, pub.msgs, "nothing is published until Run")
	pub.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e.Run(ctx) // drains the queue and returns

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.msgs, 2)

	var started, ended CycleEvent
	require.NoError(t, json.Unmarshal(pub.msgs[0].payload, &started))
	require.NoError(t, json.Unmarshal(pub.msgs[1].payload, &ended))

	assert.Equal(t, "testboard/cycle", pub.msgs[0].topic)
	assert.Equal(t, byte(1), pub.msgs[0].qos)
	assert.Equal(t, CycleEvent{
		Type:          "started",
		SessionID:     s.ID.String(),
		Mode:          "position",
		Start:         3,
		StartPosition: 1.25,
		Time:          at,
	}, started)
	assert.Equal(t, "ended", ended.Type)
	assert.Equal(t, "complete", ended.Reason)
	assert.Equal(t, 5.1, ended.Elapsed)
}

type stalledPublisher struct {
	release chan struct{}
	calls   chan string
}

func (p *stalledPublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	p.calls <- topic
	<-p.release
	return newFakeToken(nil)
}

func TestStalledBrokerDoesNotBlockTick(t *testing.T) {
	pub := &stalledPublisher{release: make(chan struct{}), calls: make(chan string, 8)}
	e := NewEventPublisher(pub, "testboard/cycle", zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Run(ctx)
	}()

	set := calibration.NewSet()
	params := cycle.RegisterParams(set)
	params.CycleType.Set(1)
	ctrl := cycle.New(cycle.Config{
		Driver:    actuator.NewSim(),
		Params:    params,
		Listeners: []cycle.Listener{e},
	})

	ticked := make(chan struct{})
	go func() {
		defer close(ticked)
		ctrl.Tick(0, true)
		<-pub.calls // Run is now stuck inside Publish
		ctrl.Tick(0.1, false)
		ctrl.Tick(0.2, true)
	}()
	select {
	case <-ticked:
	case <-time.After(2 * time.Second):
		t.Fatal("tick blocked on the event publisher")
	}
	assert.Equal(t, cycle.Idle, ctrl.State())

	close(pub.release)
	cancel()
	<-done
	assert.Len(t, pub.calls, 1, "ended event published after release")
	assert.Zero(t, e.Dropped())
}

func TestConsolePrinter(t *testing.T) {
	var out bytes.Buffer
	p := &consolePrinter{out: &out, log: zap.NewNop().Sugar()}

	p.event([]byte(`{"type":"ended","session_id":"abc","mode":"velocity","reason":"trigger","elapsed":1.5}`))
	p.signals([]byte(`[{"name":"Motor Speed Actual","unit":"RPM"}]`))
	p.sample([]byte(`{"signal":"Motor Speed Actual","unit":"RPM","t":2,"v":120.5}`))
	p.sample([]byte(`garbage`))

	text := out.String()
	assert.Contains(t, text, "[CYCLE] abc ended")
	assert.Contains(t, text, "reason=trigger")
	assert.Contains(t, text, "Motor Speed Actual(RPM)")
	assert.Contains(t, text, "120.500 RPM")
	assert.Equal(t, 3, strings.Count(text, "\n"))
}

func countOn(t *testing.T, st cycle.Status) int {
	t.Helper()
	img := renderStatus(st)
	n := 0
	for _, b := range img.Pix {
		for ; b != 0; b &= b - 1 {
			n++
		}
	}
	return n
}

func TestRenderStatus(t *testing.T) {
	idle := cycle.Status{State: "idle", Mode: "disabled", CycleType: "none"}
	running := cycle.Status{State: "running", Mode: "velocity", CycleType: "step", Elapsed: 1.2, Reference: 100, Unit: "RPM", Cycles: 2, LastEnd: cycle.EndTrigger}

	assert.Greater(t, countOn(t, idle), 0)
	assert.NotEqual(t, renderStatus(idle).Pix, renderStatus(running).Pix)
	assert.Equal(t, renderStatus(running).Pix, renderStatus(running).Pix)
}

type recordingScreen struct {
	mu    sync.Mutex
	draws int
}

func (s *recordingScreen) Bounds() image.Rectangle { return image.Rect(0, 0, 128, 64) }

func (s *recordingScreen) Draw(r image.Rectangle, src image.Image, sp image.Point) error {
	s.mu.Lock()
	s.draws++
	s.mu.Unlock()
	return nil
}

func (s *recordingScreen) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draws
}

type fixedStatus cycle.Status

func (f fixedStatus) Status() cycle.Status { return cycle.Status(f) }

func TestDisplayLoopRedrawsOnChangeOnly(t *testing.T) {
	scr := &recordingScreen{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		displayLoop(ctx, scr, fixedStatus{State: "idle"}, time.Millisecond, zap.NewNop().Sugar())
		close(done)
	}()

	assert.Eventually(t, func() bool { return scr.count() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, 1, scr.count())
}

func TestBuildTriggerWithoutPin(t *testing.T) {
	cfg := config.Default()
	button := &trigger.Button{}
	in, err := buildTrigger(cfg, button)
	require.NoError(t, err)

	assert.False(t, in.Pressed())
	button.Press()
	assert.True(t, in.Pressed())
	assert.False(t, in.Pressed())
}

func TestOpenDriverDefaultsToSim(t *testing.T) {
	drv, err := openDriver(context.Background(), config.Default(), zap.NewNop().Sugar())
	require.NoError(t, err)
	assert.IsType(t, &actuator.Sim{}, drv)
}

func TestRunLoopTicksController(t *testing.T) {
	set := calibration.NewSet()
	params := cycle.RegisterParams(set)
	params.ControlMode.Set(1)
	params.CycleType.Set(1)
	ctrl := cycle.New(cycle.Config{Driver: actuator.NewSim(), Params: params})

	button := &trigger.Button{}
	button.Press()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runLoop(ctx, ctrl, button, time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return ctrl.Status().State == "running" }, time.Second, time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, "velocity", ctrl.Status().Mode)
}

func TestPlayCycleRunsToCompletion(t *testing.T) {
	set := calibration.NewSet()
	params := cycle.RegisterParams(set)
	params.CycleType.Set(2)
	params.CycleLength.Set(0.05)
	ctrl := cycle.New(cycle.Config{Driver: actuator.NewSim(), Params: params})

	var out bytes.Buffer
	playCycle(&out, ctrl, time.Millisecond)

	text := out.String()
	assert.Contains(t, text, "MODE=open-loop")
	assert.Contains(t, text, "STATE=idle  CYCLES=1  END=complete")
}
