package grbl

import (
	"errors"
	"strconv"
	"strings"

	"github.com/mastercactapus/gatc/coord"
	"github.com/mastercactapus/gatc/machine"
)

// parseCoords reads X,Y,Z from a report field. Extra axes are ignored.
func parseCoords(data string) (p coord.Point, err error) {
	parts := strings.Split(data, ",")
	if len(parts) < 3 {
		return p, errors.New("invalid number of elements")
	}
	p.X, err = strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return p, err
	}
	p.Y, err = strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return p, err
	}
	p.Z, err = strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return p, err
	}
	return p, nil
}

func parseProbe(data string) (*machine.ProbeResult, error) {
	data = strings.TrimSpace(data)
	data = strings.TrimPrefix(data, "[")
	data = strings.TrimSuffix(data, "]")
	parts := strings.Split(data, ":")
	switch parts[0] {
	case "PRB":
		if len(parts) != 3 {
			return nil, errors.New("invalid probe report: " + data)
		}
		var res machine.ProbeResult
		var err error
		res.Valid = parts[2] == "1"
		res.Point, err = parseCoords(parts[1])
		if err != nil {
			return nil, err
		}
		return &res, nil
	}

	return nil, errors.New("unknown PUSH message: " + data)
}

// parseStatus applies a `<...>` report to the previous state. WCO is only
// reported periodically and carries over; Pn is absent when no pin is
// asserted.
func parseStatus(stat machine.State, data string) (*machine.State, error) {
	data = strings.TrimSpace(data)
	data = strings.TrimPrefix(data, "<")
	data = strings.TrimSuffix(data, ">")
	parts := strings.Split(data, "|")
	stat.Status = parts[0]
	stat.Pins = ""

	var wpos *coord.Point
	var err error
	for _, s := range parts[1:] {
		sParts := strings.SplitN(s, ":", 2)
		if len(sParts) != 2 {
			continue
		}
		switch sParts[0] {
		case "MPos":
			stat.MPos, err = parseCoords(sParts[1])
		case "WPos":
			var p coord.Point
			p, err = parseCoords(sParts[1])
			wpos = &p
		case "WCO":
			stat.WCO, err = parseCoords(sParts[1])
		case "Pn":
			stat.Pins = sParts[1]
		}
		if err != nil {
			return nil, err
		}
	}
	if wpos != nil {
		stat.MPos = wpos.Add(stat.WCO)
	}
	return &stat, nil
}
