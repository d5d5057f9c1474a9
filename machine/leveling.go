// Copyright 2026 The MachineRancher Authors
// SPDX-License-Identifier: Apache-2.0

package machine

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
)

// The four named bed corners reported by the tilt calculation.
const (
	CornerFrontLeft  = "front left"
	CornerFrontRight = "front right"
	CornerRearLeft   = "rear left"
	CornerRearRight  = "rear right"
)

// CornerCount is the number of corners a complete leveling result
// covers.
const CornerCount = 4

// screwLinePattern matches tilt-calculation progress lines such as
//
//	// front right screw : x=190.0, y=30.0 : adjust CCW 00:45
//
// The base screw line carries no adjustment and does not match.
var screwLinePattern = regexp.MustCompile(
	`(front left|front right|rear left|rear right) screw.*adjust (CW|CCW) (\d+):(\d+)`)

// parseScrewLine extracts a corner name and its signed adjustment
// rotation from one free-text progress line. The adjustment encodes
// whole degrees and minutes ("02:30" is 2 degrees 30 minutes = 2.5);
// counter-clockwise flips the sign.
func parseScrewLine(line string) (corner string, rotation float64, ok bool) {
	match := screwLinePattern.FindStringSubmatch(line)
	if match == nil {
		return "", 0, false
	}

	degrees, err := strconv.Atoi(match[3])
	if err != nil {
		return "", 0, false
	}
	minutes, err := strconv.Atoi(match[4])
	if err != nil {
		return "", 0, false
	}

	rotation = float64(degrees) + float64(minutes)/60
	if match[2] == "CCW" {
		rotation = -rotation
	}
	return match[1], rotation, true
}

// Level homes the axes, triggers the screw tilt calculation, and
// incrementally parses progress lines into per-corner adjustments.
// Completes when all four corners are observed or the leveling timeout
// elapses; on timeout the partial map is returned with a logged
// warning and no error, so the caller can decide whether it is usable.
func (p *Printer) Level(ctx context.Context) (map[string]float64, error) {
	opCtx, cancel := context.WithTimeout(ctx, p.opts.LevelingTimeout)
	defer cancel()

	conn, err := dialDevice(opCtx, p.rpcAddress(), p.logger)
	if err != nil {
		return nil, err
	}
	defer conn.close()

	if _, err := conn.call(opCtx, "printer.gcode.script", map[string]string{"script": "G28"}); err != nil {
		return nil, fmt.Errorf("homing axes: %w", err)
	}

	// The tilt calculation emits progress lines while the script
	// runs, so the response is not awaited; corners come from the
	// gcode response stream.
	if _, err := conn.send("printer.gcode.script", map[string]string{"script": "SCREWS_TILT_CALCULATE"}); err != nil {
		return nil, fmt.Errorf("triggering tilt calculation: %w", err)
	}

	corners := make(map[string]float64)
	for len(corners) < CornerCount {
		line, err := conn.nextLine(opCtx)
		if err != nil {
			p.logger.Warn("leveling ended early",
				"corners_observed", len(corners),
				"error", err,
			)
			return corners, nil
		}
		if corner, rotation, ok := parseScrewLine(line); ok {
			corners[corner] = rotation
		}
	}

	p.logger.Info("leveling complete", "corners", len(corners))
	return corners, nil
}
