package grbl

import (
	"log/slog"
	"testing"

	"github.com/mastercactapus/gatc/coord"
	"github.com/mastercactapus/gatc/machine"
	"github.com/mastercactapus/gatc/spjs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSPJSAdapter() *SPJSAdapter {
	return &SPJSAdapter{
		port:    "/dev/ttyACM0",
		log:     slog.New(slog.DiscardHandler),
		waiting: make(map[string]chan error),
		state:   make(chan machine.State),
	}
}

func TestSPJSAdapter_HandleData(t *testing.T) {
	a := newTestSPJSAdapter()
	var faults []error
	a.OnFault(func(err error) { faults = append(faults, err) })

	a.handleData("<Idle|MPos:1.000,2.000,3.000|Pn:A>")
	assert.Equal(t, coord.Point{X: 1, Y: 2, Z: 3}, a.CurrentState().MPos)
	assert.True(t, a.CurrentState().Pin('A'))

	a.handleData("[PRB:0.000,0.000,-50.000:1]")
	assert.Len(t, a.probes, 1)

	a.handleData("error:20")
	a.handleData("ALARM:1")
	assert.Len(t, a.probes, 1, "limit alarm keeps probe results")

	a.handleData("ALARM:5")
	assert.Empty(t, a.probes)

	a.handleData("")

	require.Len(t, faults, 3)
	var gerr *Error
	require.ErrorAs(t, faults[0], &gerr)
	assert.Equal(t, 20, gerr.Code)
	assert.Equal(t, Alarm{Code: 1}, faults[1])
	assert.Equal(t, Alarm{Code: 5}, faults[2])
}

func TestSPJSAdapter_HandleStatus(t *testing.T) {
	a := newTestSPJSAdapter()
	done := make(chan error, 1)
	wiped := make(chan error, 1)
	a.waiting["cmd_1"] = done
	a.waiting["cmd_2"] = wiped

	a.handleStatus(&spjs.CmdStatus{Cmd: "Complete", ID: "cmd_1"})
	assert.NoError(t, <-done)
	a.handleStatus(&spjs.CmdStatus{Cmd: "Complete", ID: "cmd_1"})

	a.handleStatus(&spjs.CmdStatus{Cmd: "WipedQueue"})
	assert.ErrorIs(t, <-wiped, ErrQueueWiped)
	assert.Empty(t, a.waiting)
}
