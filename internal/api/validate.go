package api

import (
	"errors"
	"fmt"
	"math"

	"scanbrain/internal/geo"
)

const (
	controlerInit       = "init"
	controlerHeartbeat  = "heartbeat"
	controlerJob        = "job"
	controlerGetAccount = "get_account"
)

func validateControlerRequest(req *controlerRequest) error {
	if req.UUID == "" {
		return errors.New("uuid is required")
	}
	switch req.Type {
	case controlerInit, controlerHeartbeat, controlerJob, controlerGetAccount:
		return nil
	case "":
		return errors.New("type is required")
	}
	return fmt.Errorf("unknown type %q", req.Type)
}

func validateCoords(coords []geo.Coord) error {
	if len(coords) == 0 {
		return errors.New("at least one coordinate is required")
	}
	for i, c := range coords {
		if math.IsNaN(c.Lat) || math.IsNaN(c.Lon) || c.Lat < -90 || c.Lat > 90 || c.Lon < -180 || c.Lon > 180 {
			return fmt.Errorf("coordinate %d out of range", i)
		}
	}
	return nil
}
