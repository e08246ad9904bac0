package metrics

import "time"

// Window accumulates timing and accuracy stats across multiple steps.
type Window struct {
	samples int
	correct int
	data    time.Duration
	compute time.Duration
	steps   int
}

// Record adds a new measurement to the window.
func (w *Window) Record(batchSize, correct int, dataTime, computeTime time.Duration) {
	w.samples += batchSize
	w.correct += correct
	w.data += dataTime
	w.compute += computeTime
	w.steps++
}

// Snapshot returns aggregated metrics and resets the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{}
	total := w.data + w.compute
	if total > 0 {
		snap.ImagesPerSec = float64(w.samples) / total.Seconds()
	}
	if w.steps > 0 {
		snap.AvgDataMS = (w.data.Seconds() * 1000) / float64(w.steps)
		snap.AvgComputeMS = (w.compute.Seconds() * 1000) / float64(w.steps)
	}
	if w.samples > 0 {
		snap.Accuracy = float64(w.correct) / float64(w.samples)
	}

	w.samples = 0
	w.correct = 0
	w.data = 0
	w.compute = 0
	w.steps = 0
	return snap
}

// Snapshot represents loggable metrics.
type Snapshot struct {
	ImagesPerSec float64
	AvgDataMS    float64
	AvgComputeMS float64
	Accuracy     float64
}
