package grbl

import (
	"errors"
	"strconv"
	"strings"

	"github.com/mastercactapus/glaser/coord"
	"github.com/mastercactapus/glaser/machine"
)

// parseCoords reads the X and Y of a comma separated axis list. Further
// axes are ignored.
func parseCoords(data string) (p coord.Point, err error) {
	parts := strings.Split(data, ",")
	if len(parts) < 2 {
		return p, errors.New("invalid number of elements")
	}
	p.X, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return p, err
	}
	p.Y, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return p, err
	}
	return p, nil
}

// status is a decoded `<...>` report.
type status struct {
	machine.State
	hasMPos, hasWCO bool
}

// parseStatus updates stat from a status report. Unknown fields are
// ignored; a malformed MPos or WCO fails the whole report.
func parseStatus(stat machine.State, data string) (*status, error) {
	data = strings.TrimSpace(data)
	if !strings.HasPrefix(data, "<") || !strings.HasSuffix(data, ">") {
		return nil, errors.New("not a status report: " + data)
	}
	data = strings.TrimSuffix(strings.TrimPrefix(data, "<"), ">")
	parts := strings.Split(data, "|")
	res := &status{State: stat}
	res.Status = parts[0]
	var err error
	for _, s := range parts[1:] {
		sParts := strings.SplitN(s, ":", 2)
		if len(sParts) != 2 {
			continue
		}
		switch sParts[0] {
		case "MPos":
			res.MPos, err = parseCoords(sParts[1])
			res.hasMPos = true
		case "WCO":
			res.WCO, err = parseCoords(sParts[1])
			res.hasWCO = true
		}
		if err != nil {
			return nil, errors.New("parse " + sParts[0] + ": " + err.Error())
		}
	}
	return res, nil
}
