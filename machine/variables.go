package machine

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"sync"
)

var (
	ErrUndefinedVariable = errors.New("undefined variable")

	rxVariable = regexp.MustCompile(`#([0-9]+)`)
)

// Variables are the numbered values referenced as #n in job lines.
type Variables struct {
	mx   sync.RWMutex
	vals map[int]float64
}

func NewVariables() *Variables {
	return &Variables{vals: make(map[int]float64)}
}

func (v *Variables) SetVariable(n int, val float64) {
	v.mx.Lock()
	defer v.mx.Unlock()
	v.vals[n] = val
}

func (v *Variables) Variable(n int) (float64, bool) {
	v.mx.RLock()
	defer v.mx.RUnlock()
	val, ok := v.vals[n]
	return val, ok
}

// All returns a copy of every defined variable.
func (v *Variables) All() map[int]float64 {
	v.mx.RLock()
	defer v.mx.RUnlock()
	res := make(map[int]float64, len(v.vals))
	for k, val := range v.vals {
		res[k] = val
	}
	return res
}

// Expand substitutes every #n in line with its value.
func (v *Variables) Expand(line string) (string, error) {
	var err error
	res := rxVariable.ReplaceAllStringFunc(line, func(s string) string {
		n, _ := strconv.Atoi(s[1:])
		val, ok := v.Variable(n)
		if !ok {
			if err == nil {
				err = fmt.Errorf("%w: %s", ErrUndefinedVariable, s)
			}
			return s
		}
		return strconv.FormatFloat(val, 'f', 4, 64)
	})
	return res, err
}
