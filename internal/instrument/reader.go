package instrument

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Measurement holds a reduced reflectivity measurement read from disk.
type Measurement struct {
	Q  []float64
	R  []float64
	DR []float64
	DQ []float64
}

// ReadDataFile reads a whitespace-delimited reflectivity file with at least
// four numeric columns interpreted as (Q, R, dR, dQ). Blank lines and lines
// starting with '#' are skipped.
func ReadDataFile(path string) (*Measurement, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open data file %s: %w", path, err)
	}
	defer f.Close()

	meas := &Measurement{}
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 4 {
			return nil, fmt.Errorf("%s:%d: expected at least 4 columns, got %d", path, lineNo, len(fields))
		}

		values := make([]float64, 4)
		for i := 0; i < 4; i++ {
			v, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: column %d is not numeric: %w", path, lineNo, i+1, err)
			}
			values[i] = v
		}

		meas.Q = append(meas.Q, values[0])
		meas.R = append(meas.R, values[1])
		meas.DR = append(meas.DR, values[2])
		meas.DQ = append(meas.DQ, values[3])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read data file %s: %w", path, err)
	}
	if len(meas.Q) == 0 {
		return nil, fmt.Errorf("data file %s contains no data points", path)
	}
	return meas, nil
}
