package atc

import (
	"testing"

	"github.com/mastercactapus/gatc/config"
	"github.com/mastercactapus/gatc/script"
	"github.com/mastercactapus/gatc/toolrack"
	"github.com/stretchr/testify/assert"
)

func lines(cmds []script.Command) []string {
	res := make([]string, len(cmds))
	for i, c := range cmds {
		res[i] = c.String()
	}
	return res
}

func TestValidTool(t *testing.T) {
	m := toolrack.New(config.Default())

	for _, n := range []int{ToolNone, ToolProbe, 1, 6, 99, ToolLaser, ToolProbe3D} {
		assert.True(t, validTool(m, n), "T%d", n)
	}
	for _, n := range []int{-2, 100, 150, 8887} {
		assert.False(t, validTool(m, n), "T%d", n)
	}
}

func TestPlan(t *testing.T) {
	m := toolrack.New(config.Default())

	res := lines(Plan(m, -1, 3))
	assert.NotContains(t, res, "M491")
	assert.Equal(t, []string{
		"M493.2T3",
		"M497.3",
		"G53G0Z-10",
		"G53G0X-3Y-54",
		"G91G38.2Z-135F300",
		"G91G38.2Z-3F60",
		"M493.1",
		"G53G0Z-10",
	}, res[len(res)-8:])

	// drop then pick, the pick travels at the empty spindle height
	res = lines(Plan(m, 2, 3))
	assert.Equal(t, "M497.1", res[0])
	assert.Contains(t, res, "M497.2")
	assert.Contains(t, res, "G53G0Z-20")

	// the laser is never calibrated
	res = lines(Plan(m, 2, ToolLaser))
	assert.Equal(t, []string{"(change_position)", "(wait_manual)", "M493.2T8888"}, res[len(res)-3:])
	assert.NotContains(t, res, "M497.3")

	cfg := config.Default()
	cfg.Machine.ATC = false
	res = lines(Plan(toolrack.New(cfg), 2, 5))
	assert.Equal(t, []string{"(change_position)", "(wait_manual)", "M493.2T5", "M497.3"}, res[:4])
}
