package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Observer publishes training progress as Prometheus metrics.
type Observer struct {
	trainAccuracy prometheus.Gauge
	valAccuracy   prometheus.Gauge
	testAccuracy  prometheus.Gauge
	learningRate  prometheus.Gauge
	imagesPerSec  prometheus.Gauge
	epochsTotal   prometheus.Counter
}

// NewObserver registers the training metrics on reg.
func NewObserver(reg prometheus.Registerer) *Observer {
	o := &Observer{
		trainAccuracy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pba",
			Name:      "train_accuracy",
			Help:      "Training accuracy of the most recent epoch.",
		}),
		valAccuracy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pba",
			Name:      "val_accuracy",
			Help:      "Validation accuracy after the most recent epoch.",
		}),
		testAccuracy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pba",
			Name:      "test_accuracy",
			Help:      "Test accuracy of the finished run.",
		}),
		learningRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pba",
			Name:      "learning_rate",
			Help:      "Learning rate at the start of the most recent epoch.",
		}),
		imagesPerSec: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pba",
			Name:      "images_per_second",
			Help:      "Training throughput over the most recent epoch.",
		}),
		epochsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pba",
			Name:      "epochs_total",
			Help:      "Number of completed training epochs.",
		}),
	}
	reg.MustRegister(
		o.trainAccuracy,
		o.valAccuracy,
		o.testAccuracy,
		o.learningRate,
		o.imagesPerSec,
		o.epochsTotal,
	)
	return o
}

// ObserveEpoch records the outcome of one completed training epoch.
func (o *Observer) ObserveEpoch(trainAccuracy, valAccuracy, lr, imagesPerSec float64) {
	o.trainAccuracy.Set(trainAccuracy)
	o.valAccuracy.Set(valAccuracy)
	o.learningRate.Set(lr)
	o.imagesPerSec.Set(imagesPerSec)
	o.epochsTotal.Inc()
}

// ObserveTest records the final test accuracy.
func (o *Observer) ObserveTest(accuracy float64) {
	o.testAccuracy.Set(accuracy)
}
