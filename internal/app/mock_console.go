// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/pid_testboard/internal/actuator"
	"github.com/relabs-tech/pid_testboard/internal/calibration"
	"github.com/relabs-tech/pid_testboard/internal/config"
	"github.com/relabs-tech/pid_testboard/internal/cycle"
	"github.com/relabs-tech/pid_testboard/internal/reference"
	"github.com/relabs-tech/pid_testboard/internal/report"
	"github.com/relabs-tech/pid_testboard/internal/trigger"
)

const mockPrintEvery = 100 * time.Millisecond

// RunMockConsole plays one cycle on the simulated actuator with the stored
// calibration and prints the controller status. No broker or hardware.
func RunMockConsole(log *zap.SugaredLogger) error {
	cfg := config.Get()

	set := calibration.NewSet()
	params := cycle.RegisterParams(set)
	if err := calibration.NewFileStore(cfg.CalibrationFile, log.Named("calibration")).LoadAll(set); err != nil {
		return err
	}
	if !reference.SelectCycleType(params.CycleType.Get()).Valid() {
		log.Info("cycle type is none, playing a step")
		params.CycleType.Set(float64(reference.Step))
	}

	rec := report.NewRecorder(cfg.ReportDir, 0, log.Named("report"))
	ctrl := cycle.New(cycle.Config{
		Driver:    actuator.NewSim(),
		Params:    params,
		Sink:      rec,
		Listeners: []cycle.Listener{rec},
		Log:       log.Named("cycle"),
	})

	playCycle(os.Stdout, ctrl, cfg.TickPeriod())
	rec.Wait()

	if sum, ok := rec.Last(); ok {
		fmt.Printf("SAMPLES=%d  RMS=%.3f  MAX=%.3f %s  REASON=%s\n",
			sum.Samples, sum.RMSError, sum.MaxAbsError, sum.Unit, sum.Reason)
	}
	return nil
}

// playCycle presses start and ticks until the cycle is over.
func playCycle(out io.Writer, ctrl *cycle.Controller, period time.Duration) {
	button := &trigger.Button{}
	button.Press()

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	start := time.Now()
	var printed time.Time
	for range ticker.C {
		ctrl.Tick(time.Since(start).Seconds(), button.Pressed())
		st := ctrl.Status()

		if st.State != cycle.Running.String() {
			fmt.Fprintf(out, "STATE=%s  CYCLES=%d  END=%s\n", st.State, st.Cycles, st.LastEnd)
			return
		}
		if time.Since(printed) >= mockPrintEvery {
			printed = time.Now()
			fmt.Fprintf(out, "T=%5.2f  MODE=%-9s  REF=%9.2f  CMD=%9.3f\n",
				st.Elapsed, st.Mode, st.Reference, st.Command)
		}
	}
}
