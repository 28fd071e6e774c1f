// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"math"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/relabs-tech/pid_testboard/internal/calibration"
	"github.com/relabs-tech/pid_testboard/internal/cycle"
	"github.com/relabs-tech/pid_testboard/internal/report"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // bench network only
	},
}

// StatusSource is read by the status endpoint and the display.
type StatusSource interface {
	Status() cycle.Status
}

// Saver persists the calibration set.
type Saver interface {
	SaveAll(set *calibration.Set) error
}

// Presser is the software start/stop button.
type Presser interface {
	Press()
}

// ReportSource gives access to the last cycle summary.
type ReportSource interface {
	Last() (report.Summary, bool)
}

// Tuning serves the calibration API, the trigger button, the controller
// status and the live plot stream.
type Tuning struct {
	Set     *calibration.Set
	Store   Saver
	Button  Presser
	Status  StatusSource
	Reports ReportSource // optional
	Plot    http.Handler // optional, mounted on /ws/plot
	WebDir  string       // optional static root
	Log     *zap.SugaredLogger
}

// Router builds the HTTP routes.
func (t *Tuning) Router() *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/calibration", t.listCalibration).Methods(http.MethodGet)
	api.HandleFunc("/calibration/save", t.saveCalibration).Methods(http.MethodPost)
	api.HandleFunc("/calibration/{name}", t.setCalibration).Methods(http.MethodPut)
	api.HandleFunc("/trigger", t.pressTrigger).Methods(http.MethodPost)
	api.HandleFunc("/status", t.status).Methods(http.MethodGet)
	api.HandleFunc("/report/last", t.lastReport).Methods(http.MethodGet)

	if t.Plot != nil {
		r.Handle("/ws/plot", t.Plot)
	}
	r.HandleFunc("/ws/calibration", t.calibrationWS)

	if t.WebDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(t.WebDir)))
	}
	return r
}

type valueRequest struct {
	Value *float64 `json:"value"`
}

func (t *Tuning) listCalibration(w http.ResponseWriter, r *http.Request) {
	t.writeJSON(w, http.StatusOK, t.Set.Snapshots())
}

func (t *Tuning) setCalibration(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var req valueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Value == nil {
		http.Error(w, `body must be {"value": <number>}`, http.StatusBadRequest)
		return
	}
	snap, err := t.update(name, *req.Value)
	if err != nil {
		t.writeError(w, err)
		return
	}
	t.writeJSON(w, http.StatusOK, snap)
}

func (t *Tuning) saveCalibration(w http.ResponseWriter, r *http.Request) {
	if err := t.Store.SaveAll(t.Set); err != nil {
		t.Log.Warnf("tuning: save failed: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	t.writeJSON(w, http.StatusOK, map[string]bool{"saved": true})
}

func (t *Tuning) pressTrigger(w http.ResponseWriter, r *http.Request) {
	t.Button.Press()
	w.WriteHeader(http.StatusAccepted)
}

func (t *Tuning) status(w http.ResponseWriter, r *http.Request) {
	t.writeJSON(w, http.StatusOK, t.Status.Status())
}

func (t *Tuning) lastReport(w http.ResponseWriter, r *http.Request) {
	if t.Reports == nil {
		http.Error(w, "reports disabled", http.StatusNotFound)
		return
	}
	sum, ok := t.Reports.Last()
	if !ok {
		http.Error(w, "no cycle yet", http.StatusNotFound)
		return
	}
	t.writeJSON(w, http.StatusOK, sum)
}

func (t *Tuning) update(name string, v float64) (calibration.Snapshot, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return calibration.Snapshot{}, errors.Errorf("%q: value must be finite", name)
	}
	if _, err := t.Set.Update(name, v); err != nil {
		return calibration.Snapshot{}, err
	}
	p, _ := t.Set.Lookup(name)
	snap := p.Snapshot()
	t.Log.Infof("tuning: %s = %g", name, snap.Value)
	return snap, nil
}

func (t *Tuning) writeError(w http.ResponseWriter, err error) {
	code := http.StatusBadRequest
	if errors.Is(err, calibration.ErrUnknownParameter) {
		code = http.StatusNotFound
	}
	http.Error(w, err.Error(), code)
}

func (t *Tuning) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Log.Warnf("tuning: json encode error: %v", err)
	}
}

// WSMessage is a request on /ws/calibration.
type WSMessage struct {
	Action string  `json:"action"` // list, set, save, press
	Name   string  `json:"name,omitempty"`
	Value  float64 `json:"value,omitempty"`
}

// WSResponse answers a WSMessage.
type WSResponse struct {
	Type    string                 `json:"type"` // params, param, saved, pressed, error
	Params  []calibration.Snapshot `json:"params,omitempty"`
	Param   *calibration.Snapshot  `json:"param,omitempty"`
	Message string                 `json:"message,omitempty"`
}

func (t *Tuning) calibrationWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.Log.Warnf("tuning: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.Log.Debugf("tuning: websocket read error: %v", err)
			}
			return
		}
		if err := conn.WriteJSON(t.handle(msg)); err != nil {
			t.Log.Debugf("tuning: websocket write error: %v", err)
			return
		}
	}
}

func (t *Tuning) handle(msg WSMessage) WSResponse {
	switch msg.Action {
	case "list":
		return WSResponse{Type: "params", Params: t.Set.Snapshots()}

	case "set":
		snap, err := t.update(msg.Name, msg.Value)
		if err != nil {
			return WSResponse{Type: "error", Message: err.Error()}
		}
		return WSResponse{Type: "param", Param: &snap}

	case "save":
		if err := t.Store.SaveAll(t.Set); err != nil {
			return WSResponse{Type: "error", Message: err.Error()}
		}
		return WSResponse{Type: "saved"}

	case "press":
		t.Button.Press()
		return WSResponse{Type: "pressed"}
	}
	return WSResponse{Type: "error", Message: "unknown action " + msg.Action}
}
