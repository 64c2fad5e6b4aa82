package grbl

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/mastercactapus/gatc/machine"
	"github.com/tarm/serial"
)

type SerialAdapter struct {
	*Conn
	faultHook

	log *slog.Logger

	mx    sync.Mutex
	last  machine.State
	state chan machine.State
	data  chan string
	done  chan struct{}

	probes      []machine.ProbeResult
	getProbes   chan []machine.ProbeResult
	resetProbes chan struct{}
}

var _ machine.Adapter = &SerialAdapter{}

// OpenSerial opens a serial port for NewSerialAdapter.
func OpenSerial(port string, baud int) (io.ReadWriteCloser, error) {
	return serial.OpenPort(&serial.Config{Name: port, Baud: baud, ReadTimeout: 0})
}

// NewSerialAdapter talks to Grbl over rw, requesting a status report
// every interval.
func NewSerialAdapter(rw io.ReadWriter, interval time.Duration, log *slog.Logger) *SerialAdapter {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	adapter := &SerialAdapter{
		log: log,

		state:       make(chan machine.State),
		getProbes:   make(chan []machine.ProbeResult),
		resetProbes: make(chan struct{}),
		data:        make(chan string),
		done:        make(chan struct{}),
	}
	adapter.Conn = NewConn(rw, WithConnLogger(log), WithAlarmHandler(adapter.alarm))
	go adapter.poll(interval)
	go adapter.loop()
	go adapter.readLoop()

	return adapter
}

// Close stops polling and closes the connection.
func (adapter *SerialAdapter) Close() error {
	select {
	case <-adapter.done:
	default:
		close(adapter.done)
	}
	return adapter.Conn.Close()
}

func (adapter *SerialAdapter) poll(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-adapter.done:
			return
		case <-t.C:
			if err := adapter.WriteByte('?'); err != nil {
				adapter.log.Error("status request", "err", err)
			}
		}
	}
}

// alarm drops the probe results after a failed probe cycle and passes
// the alarm on.
func (adapter *SerialAdapter) alarm(a Alarm) {
	if a.ProbeFailed() {
		select {
		case adapter.resetProbes <- struct{}{}:
		case <-adapter.done:
			return
		}
	}
	adapter.fault(a)
}

func (adapter *SerialAdapter) Probes() []machine.ProbeResult { return <-adapter.getProbes }

func (adapter *SerialAdapter) ResetProbes() { adapter.resetProbes <- struct{}{} }

func (adapter *SerialAdapter) readLoop() {
	buf := make([]byte, 1024)
	for {
		n, err := adapter.Read(buf)
		if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			adapter.log.Error("read from port", "err", err)
			continue
		}
		select {
		case adapter.data <- string(buf[:n]):
		case <-adapter.done:
			return
		}
	}
}

func (adapter *SerialAdapter) State() chan machine.State { return adapter.state }

func (adapter *SerialAdapter) CurrentState() machine.State {
	adapter.mx.Lock()
	defer adapter.mx.Unlock()
	return adapter.last
}

func (adapter *SerialAdapter) loop() {
	for {
		select {
		case <-adapter.done:
			return
		case <-adapter.resetProbes:
			adapter.probes = nil
		case adapter.getProbes <- adapter.probes:
		case data := <-adapter.data:
			adapter.handle(data)
		}
	}
}

func (adapter *SerialAdapter) handle(data string) {
	if len(data) == 0 {
		return
	}
	switch data[0] {
	case '<':
		stat, err := parseStatus(adapter.CurrentState(), data)
		if err != nil {
			adapter.log.Error("parse status", "data", data, "err", err)
			return
		}
		adapter.mx.Lock()
		adapter.last = *stat
		adapter.mx.Unlock()
		select {
		case adapter.state <- *stat:
		default:
		}
	case '[':
		prb, err := parseProbe(data)
		if err != nil {
			adapter.log.Debug("push message", "data", data)
			return
		}
		adapter.probes = append(adapter.probes, *prb)
	}
}
