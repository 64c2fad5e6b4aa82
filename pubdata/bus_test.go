package pubdata

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKey(t *testing.T) {
	assert.Equal(t, NewKey("switch", "set_state"), NewKey("switch.set_state"))
	assert.NotEqual(t, GetSwitchState, SetSwitchState)
}

func TestBus(t *testing.T) {
	b := NewBus()

	_, err := b.Get(GetSpindleStatus)
	assert.ErrorIs(t, err, ErrNoHandler)
	assert.ErrorIs(t, b.Set(SetSwitchState, SwitchState{}), ErrNoHandler)

	b.HandleGet(GetSpindleStatus, Getter(func() SpindleStatus { return SpindleStatus{Running: true, RPM: 12000} }))
	ss, err := Lookup[SpindleStatus](b, GetSpindleStatus)
	require.NoError(t, err)
	assert.True(t, ss.Running)

	_, err = Lookup[LaserStatus](b, GetSpindleStatus)
	assert.ErrorIs(t, err, ErrPayloadType)

	var got []SwitchState
	b.HandleSet(SetSwitchState, Setter(func(s SwitchState) error {
		got = append(got, s)
		return nil
	}))
	require.NoError(t, b.Set(SetSwitchState, SwitchState{Name: "detector", On: true}))
	assert.Equal(t, []SwitchState{{Name: "detector", On: true}}, got)
	assert.ErrorIs(t, b.Set(SetSwitchState, 5), ErrPayloadType)

	boom := errors.New("boom")
	b.HandleSet(AbortATC, func(any) error { return boom })
	assert.ErrorIs(t, b.Set(AbortATC, nil), boom)
}
