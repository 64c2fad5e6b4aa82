package spjs

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, data string) (any, error) {
	t.Helper()
	var msg map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(data), &msg))
	return parseSPJSMessage([]byte(data), msg)
}

func TestParseSPJSMessage(t *testing.T) {
	v, err := parse(t, `{"P":"/dev/ttyUSB0","D":"<Idle|MPos:0.000,0.000,0.000>"}`)
	require.NoError(t, err)
	assert.Equal(t, &DataFrame{Port: "/dev/ttyUSB0", Data: "<Idle|MPos:0.000,0.000,0.000>"}, v)

	v, err = parse(t, `{"Cmd":"Complete","Id":"cmd_1","P":"/dev/ttyUSB0","Type":["Buf"],"D":["G0"]}`)
	require.NoError(t, err)
	cs, ok := v.(*CmdStatus)
	require.True(t, ok)
	assert.Equal(t, "Complete", cs.Cmd)
	assert.Equal(t, "cmd_1", cs.ID)

	v, err = parse(t, `{"SerialPorts":[{"Name":"/dev/ttyUSB0","IsOpen":true,"Baud":115200}]}`)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", v.(*SerialPortList).SerialPorts[0].Name)

	v, err = parse(t, `{"Error":"port busy"}`)
	require.NoError(t, err)
	assert.Equal(t, &ErrorMessage{Error: "port busy"}, v)

	_, err = parse(t, `{"Version":"1.96"}`)
	assert.Error(t, err)
}
