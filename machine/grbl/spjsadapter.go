package grbl

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mastercactapus/gatc/machine"
	"github.com/mastercactapus/gatc/spjs"
)

// ErrQueueWiped is returned to writers whose lines were discarded by the
// server before completing.
var ErrQueueWiped = errors.New("spjs queue wiped")

var lastID int64

func nextID() string {
	id := atomic.AddInt64(&lastID, 1)
	return "cmd_" + strconv.FormatInt(id, 36)
}

// SPJSAdapter talks to Grbl through a Serial Port JSON Server, which
// handles buffering and acknowledgement itself.
type SPJSAdapter struct {
	faultHook

	sp   *spjs.SPJS
	port string
	baud int
	log  *slog.Logger

	cmds    chan adapterMessage
	waiting map[string]chan error

	mx    sync.Mutex
	last  machine.State
	state chan machine.State

	probes      []machine.ProbeResult
	getProbes   chan []machine.ProbeResult
	resetProbes chan struct{}
}

var _ machine.Adapter = &SPJSAdapter{}

type adapterMessage struct {
	spjs.JSON
	wait chan error
}

func NewSPJSAdapter(sp *spjs.SPJS, port string, baud int, log *slog.Logger) *SPJSAdapter {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	adapter := &SPJSAdapter{
		sp:          sp,
		port:        port,
		baud:        baud,
		log:         log,
		waiting:     make(map[string]chan error, 100),
		cmds:        make(chan adapterMessage, 1000),
		state:       make(chan machine.State),
		getProbes:   make(chan []machine.ProbeResult),
		resetProbes: make(chan struct{}),
	}
	go adapter.loop()

	return adapter
}
func (adapter *SPJSAdapter) Probes() []machine.ProbeResult { return <-adapter.getProbes }

func (adapter *SPJSAdapter) ResetProbes() { adapter.resetProbes <- struct{}{} }

func (adapter *SPJSAdapter) CurrentState() machine.State {
	adapter.mx.Lock()
	defer adapter.mx.Unlock()
	return adapter.last
}
func (adapter *SPJSAdapter) setMachineState(state machine.State) {
	adapter.mx.Lock()
	defer adapter.mx.Unlock()
	adapter.last = state
	select {
	case adapter.state <- state:
	default:
	}
}
func (adapter *SPJSAdapter) loop() {
	for {
		select {
		case adapter.getProbes <- adapter.probes:
		case <-adapter.resetProbes:
			adapter.probes = nil
		case resp := <-adapter.sp.Messages():
			switch msg := resp.(type) {
			case *spjs.DataFrame:
				if msg.Port != "" && msg.Port != adapter.port {
					continue
				}
				adapter.handleData(strings.TrimRight(msg.Data, "\r\n"))
			case *spjs.ErrorMessage:
				adapter.log.Error("spjs", "err", msg.Error)
			case *spjs.CmdStatus:
				adapter.handleStatus(msg)
			case *spjs.SerialPortList:
				adapter.openPort(msg.SerialPorts)
			}
		case msg := <-adapter.cmds:
			adapter.sp.SendJSON(msg.JSON)
			if msg.wait != nil {
				adapter.waiting[msg.Data[len(msg.Data)-1].ID] = msg.wait
			}
		}
	}
}

// handleData processes one line from the controller. Acknowledgement is
// tracked by the server, so error lines are reported as faults.
func (adapter *SPJSAdapter) handleData(data string) {
	switch {
	case data == "":
	case data[0] == '<':
		stat, err := parseStatus(adapter.CurrentState(), data)
		if err != nil {
			adapter.log.Error("parse status", "data", data, "err", err)
			return
		}
		adapter.setMachineState(*stat)
	case data[0] == '[':
		prb, err := parseProbe(data)
		if err != nil {
			adapter.log.Debug("push message", "data", data)
			return
		}
		adapter.probes = append(adapter.probes, *prb)
	case strings.HasPrefix(data, "ALARM:"):
		a := Alarm{Code: parseCode([]byte(data[len("ALARM:"):]))}
		adapter.log.Warn("controller alarm", "code", a.Code, "reason", a.Description())
		if a.ProbeFailed() {
			adapter.probes = nil
		}
		adapter.fault(a)
	case strings.HasPrefix(data, "error:"):
		e := &Error{Code: parseCode([]byte(data[len("error:"):]))}
		adapter.log.Warn("line rejected", "code", e.Code, "reason", e.Description())
		adapter.fault(e)
	}
}

func (adapter *SPJSAdapter) handleStatus(msg *spjs.CmdStatus) {
	switch msg.Cmd {
	case "WipedQueue":
		for key, ch := range adapter.waiting {
			ch <- ErrQueueWiped
			delete(adapter.waiting, key)
		}
	case "Complete":
		if ch := adapter.waiting[msg.ID]; ch != nil {
			ch <- nil
			delete(adapter.waiting, msg.ID)
		}
	}
}

func (adapter *SPJSAdapter) openPort(ports []spjs.SerialPort) {
	for _, port := range ports {
		if port.Name != adapter.port || port.IsOpen {
			continue
		}
		adapter.log.Info("opening port", "port", adapter.port, "baud", adapter.baud)
		adapter.sp.WriteString("open " + adapter.port + " " + strconv.Itoa(adapter.baud) + " grbl")
	}
}

func (adapter *SPJSAdapter) State() chan machine.State {
	return adapter.state
}

func (adapter *SPJSAdapter) ReadFrom(r io.Reader) (n int64, err error) {
	scan := bufio.NewScanner(r)
	var wait chan error
	for {
		var j spjs.JSON
		j.Port = adapter.port
		for scan.Scan() {
			n += int64(len(scan.Bytes()))
			j.Data = append(j.Data, spjs.Data{
				Data: strings.TrimSpace(scan.Text()) + "\n",
				ID:   nextID(),
			})
			if len(j.Data) == 100 {
				break
			}
		}
		if len(j.Data) == 0 {
			break
		}
		wait = make(chan error, 1)
		adapter.cmds <- adapterMessage{JSON: j, wait: wait}
	}

	if wait == nil {
		return 0, nil
	}

	// wait for last channel
	return n, <-wait
}
func (adapter *SPJSAdapter) WriteByte(b byte) error {
	_, err := adapter.Write([]byte(string(b) + "\n"))
	return err
}
func (adapter *SPJSAdapter) Write(p []byte) (int, error) {
	n, err := adapter.ReadFrom(bytes.NewBuffer(p))
	return int(n), err
}
