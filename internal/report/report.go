// Package report records the telemetry of each test cycle and, when the
// cycle ends, writes a JSON summary with tracking error statistics and a
// PNG plot of the tracked signals.
package report

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/relabs-tech/pid_testboard/internal/actuator"
	"github.com/relabs-tech/pid_testboard/internal/cycle"
	"github.com/relabs-tech/pid_testboard/internal/telemetry"
)

// DefaultMaxSamples caps each recorded signal. At a 20 ms tick a 15 s cycle
// needs 750.
const DefaultMaxSamples = 20000

// Summary is written next to the plot as <session>.json.
type Summary struct {
	SessionID string  `json:"session_id"`
	Mode      string  `json:"mode"`
	Reason    string  `json:"reason"`
	Duration  float64 `json:"duration_s"`
	Samples   int     `json:"samples"`
	Truncated bool    `json:"truncated,omitempty"`

	// Tracking error desired-actual on the pair that matches the mode.
	// Empty for modes without a comparable pair (open loop, current).
	Desired     string  `json:"desired,omitempty"`
	Actual      string  `json:"actual,omitempty"`
	Unit        string  `json:"unit,omitempty"`
	MeanError   float64 `json:"mean_error"`
	StdDevError float64 `json:"stddev_error"`
	RMSError    float64 `json:"rms_error"`
	MaxAbsError float64 `json:"max_abs_error"`

	PeakMotorCurrent float64 `json:"peak_motor_current"`
	PeakSupplyAmps   float64 `json:"peak_supply_current"`

	WrittenAt time.Time `json:"written_at"`
	Plot      string    `json:"plot,omitempty"`
}

type series struct {
	t, v []float64
}

type recording struct {
	session   cycle.Session
	signals   map[string]*series
	truncated bool
}

// Recorder is a telemetry.Sink and a cycle.Listener. Sample collection
// happens on the controller tick; files are written in the background.
type Recorder struct {
	dir        string
	maxSamples int
	log        *zap.SugaredLogger

	mu      sync.Mutex
	active  *recording
	units   map[string]string
	last    Summary
	hasLast bool

	wg sync.WaitGroup
}

// NewRecorder writes reports under dir. An empty dir disables file output;
// summaries are still computed and available through Last.
func NewRecorder(dir string, maxSamples int, log *zap.SugaredLogger) *Recorder {
	if maxSamples <= 0 {
		maxSamples = DefaultMaxSamples
	}
	return &Recorder{
		dir:        dir,
		maxSamples: maxSamples,
		log:        log,
		units:      make(map[string]string),
	}
}

func (r *Recorder) RegisterSignal(name, unit string) {
	r.mu.Lock()
	r.units[name] = unit
	r.mu.Unlock()
}

func (r *Recorder) AppendSample(name string, ts, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.active
	if rec == nil {
		return
	}
	s, ok := rec.signals[name]
	if !ok {
		s = &series{}
		rec.signals[name] = s
	}
	if len(s.t) >= r.maxSamples {
		rec.truncated = true
		return
	}
	s.t = append(s.t, ts-rec.session.Start)
	s.v = append(s.v, value)
}

func (r *Recorder) CycleStarted(s cycle.Session) {
	r.mu.Lock()
	r.active = &recording{session: s, signals: make(map[string]*series)}
	r.mu.Unlock()
}

func (r *Recorder) CycleEnded(s cycle.Session, reason cycle.EndReason) {
	r.mu.Lock()
	rec := r.active
	r.active = nil
	r.mu.Unlock()
	if rec == nil || rec.session.ID != s.ID {
		return
	}
	rec.session = s

	sum := r.summarize(rec, reason)
	if r.dir != "" && sum.Samples > 0 {
		sum.Plot = plotName(sum.SessionID)
	}
	r.mu.Lock()
	r.last, r.hasLast = sum, true
	r.mu.Unlock()

	if r.dir == "" {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.write(rec, sum); err != nil {
			r.log.Warnf("report %s: %v", s.ID, err)
			r.mu.Lock()
			if r.last.SessionID == sum.SessionID {
				r.last.Plot = ""
			}
			r.mu.Unlock()
			return
		}
		r.log.Infof("report %s written to %s", s.ID, r.dir)
	}()
}

// Last returns the summary of the most recent cycle.
func (r *Recorder) Last() (Summary, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last, r.hasLast
}

// Wait blocks until pending report files are written.
func (r *Recorder) Wait() { r.wg.Wait() }

// trackedPair returns the desired/actual signals compared for mode m.
func trackedPair(m actuator.ControlMode) (desired, actual string, ok bool) {
	switch m {
	case actuator.Velocity:
		return telemetry.SpeedDesired, telemetry.SpeedActual, true
	case actuator.Position:
		return telemetry.PosDesired, telemetry.PosActual, true
	}
	return "", "", false
}

func (r *Recorder) summarize(rec *recording, reason cycle.EndReason) Summary {
	sum := Summary{
		SessionID: rec.session.ID.String(),
		Mode:      rec.session.Mode.String(),
		Reason:    string(reason),
		Duration:  rec.session.Elapsed,
		Truncated: rec.truncated,
		WrittenAt: time.Now(),
	}
	if s, ok := rec.signals[telemetry.SpeedDesired]; ok {
		sum.Samples = len(s.v)
	}
	sum.PeakMotorCurrent = peakAbs(rec.signals[telemetry.MotorCurrent])
	sum.PeakSupplyAmps = peakAbs(rec.signals[telemetry.PDPCurrent])

	des, act, ok := trackedPair(rec.session.Mode)
	if !ok {
		return sum
	}
	sum.Desired, sum.Actual = des, act
	r.mu.Lock()
	sum.Unit = r.units[act]
	r.mu.Unlock()

	d, a := rec.signals[des], rec.signals[act]
	if d == nil || a == nil {
		return sum
	}
	n := len(d.v)
	if len(a.v) < n {
		n = len(a.v)
	}
	if n == 0 {
		return sum
	}
	e := make([]float64, n)
	floats.SubTo(e, d.v[:n], a.v[:n])
	sum.MeanError, sum.StdDevError = stat.MeanStdDev(e, nil)
	if n < 2 {
		sum.StdDevError = 0
	}
	sq := make([]float64, n)
	floats.MulTo(sq, e, e)
	sum.RMSError = math.Sqrt(stat.Mean(sq, nil))
	sum.MaxAbsError = math.Max(floats.Max(e), -floats.Min(e))
	return sum
}

func plotName(sessionID string) string {
	return "cycle-" + sessionID + ".png"
}

func peakAbs(s *series) float64 {
	if s == nil || len(s.v) == 0 {
		return 0
	}
	return math.Max(floats.Max(s.v), -floats.Min(s.v))
}

func (r *Recorder) write(rec *recording, sum Summary) error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return errors.Wrap(err, "create report dir")
	}
	base := filepath.Join(r.dir, "cycle-"+sum.SessionID)

	if sum.Plot != "" {
		if err := savePlot(rec, sum, filepath.Join(r.dir, sum.Plot)); err != nil {
			return err
		}
	}

	data, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal summary")
	}
	if err := os.WriteFile(base+".json", data, 0o644); err != nil {
		return errors.Wrap(err, "write summary")
	}
	return nil
}
