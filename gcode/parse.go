package gcode

import (
	"fmt"
	"strings"
)

// Parse parses every line of data, skipping blank lines and comments.
func Parse(data string) ([]Block, error) {
	var res []Block
	for i, line := range strings.Split(data, "\n") {
		b, err := ParseLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		if b == nil {
			continue
		}
		res = append(res, b)
	}
	return res, nil
}

func MustParse(data string) []Block {
	b, err := Parse(data)
	if err != nil {
		panic(err)
	}
	return b
}
