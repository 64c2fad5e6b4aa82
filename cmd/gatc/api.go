package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"

	sse "github.com/alexandrevicenzi/go-sse"
	"github.com/gorilla/mux"
	"github.com/mastercactapus/gatc/atc"
	"github.com/mastercactapus/gatc/halt"
	"github.com/mastercactapus/gatc/machine"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxJobSize = 64 << 20

type api struct {
	http.Handler
	o      *atc.Orchestrator
	m      *machine.Machine
	player *machine.Player
	halt   *halt.Signal
	log    *slog.Logger
	sse    *sse.Server

	mx   sync.Mutex
	last []byte
}

type stateMessage struct {
	Status string     `json:"status"`
	MPos   [3]float64 `json:"mpos"`
	WCO    [3]float64 `json:"wco"`
	Pins   string     `json:"pins"`

	Halted     bool   `json:"halted"`
	HaltReason string `json:"halt_reason,omitempty"`
	HaltMsg    string `json:"halt_message,omitempty"`

	Playing bool `json:"playing"`
	Line    int  `json:"line"`

	ATC atc.Status `json:"atc"`
}

type requestBody struct {
	Kind   string         `json:"kind"`
	Params map[string]any `json:"params"`
}

type toolRow struct {
	Tool int     `json:"tool"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Z    float64 `json:"z"`
}

type toolsMessage struct {
	Overridden bool      `json:"overridden"`
	Probe      toolRow   `json:"probe"`
	Slots      []toolRow `json:"slots"`
}

func newAPI(o *atc.Orchestrator, m *machine.Machine, player *machine.Player, h *halt.Signal, reg *prometheus.Registry, log *slog.Logger) *api {
	r := mux.NewRouter()

	a := &api{
		Handler: r,
		o:       o,
		m:       m,
		player:  player,
		halt:    h,
		log:     log,
		sse: sse.NewServer(&sse.Options{
			Logger: slog.NewLogLogger(log.Handler(), slog.LevelDebug),
		}),
	}

	r.HandleFunc("/api/request", a.request).Methods(http.MethodPost)
	r.HandleFunc("/api/gcode", a.gcode).Methods(http.MethodPost)
	r.HandleFunc("/api/state", a.state).Methods(http.MethodGet)
	r.HandleFunc("/api/tools", a.tools).Methods(http.MethodGet)
	r.HandleFunc("/api/resume", a.simple(atc.Resume{})).Methods(http.MethodPost)
	r.HandleFunc("/api/abort", a.simple(atc.Abort{})).Methods(http.MethodPost)
	r.HandleFunc("/api/clear", a.clear).Methods(http.MethodPost)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.PathPrefix("/events/").Handler(a.sse)
	r.Use(a.logRequests)

	m.OnState(func(machine.State) { a.publish() })

	return a
}

func (a *api) Close() { a.sse.Shutdown() }

func (a *api) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "*")
		a.log.Debug("request", "method", req.Method, "path", req.URL.Path, "remote", req.RemoteAddr)
		next.ServeHTTP(w, req)
	})
}

func (a *api) snapshot() stateMessage {
	st := a.m.State()
	ps := a.player.Status()
	msg := stateMessage{
		Status:  st.Status,
		MPos:    [3]float64{st.MPos.X, st.MPos.Y, st.MPos.Z},
		WCO:     [3]float64{st.WCO.X, st.WCO.Y, st.WCO.Z},
		Pins:    st.Pins,
		Playing: ps.Playing,
		Line:    ps.Line,
		ATC:     a.o.Status(),
	}
	if ev, ok := a.halt.Event(); ok {
		msg.Halted = true
		msg.HaltReason = ev.Reason.String()
		msg.HaltMsg = ev.Message
	}
	return msg
}

// publish sends the state on the event stream when it changed.
func (a *api) publish() {
	data, err := json.Marshal(a.snapshot())
	if err != nil {
		a.log.Error("marshal state", "err", err)
		return
	}
	a.mx.Lock()
	same := string(data) == string(a.last)
	a.last = data
	a.mx.Unlock()
	if same {
		return
	}
	a.sse.SendMessage("/events/state", sse.SimpleMessage(string(data)))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, atc.ErrInvalidRequest), errors.Is(err, atc.ErrToleranceTooSmall):
		return http.StatusBadRequest
	case errors.Is(err, atc.ErrBusy), errors.Is(err, atc.ErrNotWaiting), errors.Is(err, machine.ErrPlaying):
		return http.StatusConflict
	case errors.Is(err, atc.ErrHalted), errors.Is(err, atc.ErrNotHomed),
		errors.Is(err, atc.ErrLaserMode), errors.Is(err, atc.ErrNoTool):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (a *api) fail(w http.ResponseWriter, what string, err error) {
	code := errorStatus(err)
	if code >= http.StatusInternalServerError {
		a.log.Error(what, "err", err)
	}
	http.Error(w, err.Error(), code)
}

func (a *api) do(w http.ResponseWriter, req *http.Request, r atc.Request) {
	if err := a.o.Do(req.Context(), r); err != nil {
		a.fail(w, r.Kind(), err)
		return
	}
	a.publish()
	writeJSON(w, a.o.Status())
}

func (a *api) request(w http.ResponseWriter, req *http.Request) {
	var body requestBody
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	r, err := atc.DecodeRequest(body.Kind, body.Params)
	if err != nil {
		a.fail(w, "decode request", err)
		return
	}
	a.do(w, req, r)
}

func (a *api) simple(r atc.Request) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) { a.do(w, req, r) }
}

// gcode plays the request body as a job. Changer commands in it run
// through the orchestrator.
func (a *api) gcode(w http.ResponseWriter, req *http.Request) {
	data, err := io.ReadAll(io.LimitReader(req.Body, maxJobSize))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	name := req.URL.Query().Get("name")
	if name == "" {
		name = "api"
	}
	if err := a.player.Play(context.Background(), name, bytes.NewReader(data)); err != nil {
		a.fail(w, "play", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *api) clear(w http.ResponseWriter, req *http.Request) {
	a.halt.Clear()
	a.publish()
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) state(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, a.snapshot())
}

func (a *api) tools(w http.ResponseWriter, req *http.Request) {
	m := a.o.Model()
	res := toolsMessage{
		Overridden: m.Overridden,
		Probe:      toolRow{Tool: atc.ToolProbe, X: m.Probe.X, Y: m.Probe.Y, Z: m.Probe.Z},
	}
	for _, s := range m.Tools {
		if !s.Valid {
			continue
		}
		res.Slots = append(res.Slots, toolRow{Tool: s.Index, X: s.X, Y: s.Y, Z: s.Z})
	}
	writeJSON(w, res)
}
