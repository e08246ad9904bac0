package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tobyclh/pba/internal/data"
	"github.com/tobyclh/pba/internal/engine"
	"github.com/tobyclh/pba/internal/hparams"
	"github.com/tobyclh/pba/internal/metrics"
	"github.com/tobyclh/pba/internal/model"
	"github.com/tobyclh/pba/internal/schedule"
	"github.com/tobyclh/pba/internal/trainer"
)

var rootCmd = &cobra.Command{
	Use:   "pba-train",
	Short: "Train an image classifier over WebDataset shards",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runRoot()
	},
}

func runRoot() error {
	hp, err := resolveHparams()
	if err != nil {
		return err
	}
	if err := hp.Validate(); err != nil {
		return errors.Wrap(err, "invalid hparams")
	}
	if hp.TrainRoot == "" {
		return errors.New("train-root must be set")
	}

	runLog := log.WithField("run_id", uuid.New().String())
	runLog.WithFields(log.Fields{
		"dataset": hp.Dataset,
		"model":   hp.ModelName,
		"epochs":  hp.NumEpochs,
	}).Info("starting training run")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shards, err := data.Discover(hp.TrainRoot)
	if err != nil {
		return err
	}
	if len(shards) == 0 {
		return errors.Errorf("no shards discovered under %s", hp.TrainRoot)
	}
	runLog.WithField("shards", len(shards)).Info("discovered shards")

	loader, err := data.LoadShards(ctx, shards, data.ShardOptions{
		NumClasses:   hp.NumClasses,
		BatchSize:    hp.BatchSize,
		Seed:         hp.Seed,
		NumWorkers:   hp.NumWorkers,
		ValFraction:  hp.ValFraction,
		TestFraction: hp.TestFraction,
	})
	if err != nil {
		return err
	}
	if hp.TrainSize == 0 || hp.TrainSize > loader.TrainSize() {
		hp.TrainSize = loader.TrainSize()
	}
	runLog.WithFields(log.Fields{
		"train": hp.TrainSize,
		"val":   len(loader.ValImages()),
		"test":  len(loader.TestImages()),
	}).Info("loaded dataset")

	registry := prometheus.NewRegistry()
	observer := metrics.NewObserver(registry)
	if hp.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(hp.MetricsAddr, mux); err != nil {
				runLog.WithError(err).Error("metrics listener failed")
			}
		}()
		runLog.WithField("addr", hp.MetricsAddr).Info("serving metrics")
	}

	m := model.NewSoftmaxClassifier(hp, data.FeatureSize, hp.NumClasses, hp.Seed)
	sess := engine.NewSession(m.Graph())

	for epoch := 0; epoch < hp.NumEpochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		trainAccuracy, err := trainer.RunEpoch(sess, m, loader, epoch)
		if err != nil {
			return errors.Wrapf(err, "epoch %d", epoch)
		}
		elapsed := time.Since(start)

		valAccuracy := 0.0
		if len(loader.ValImages()) > 0 {
			valAccuracy, err = trainer.Evaluate(sess, m, loader, trainer.ModeVal)
			if err != nil {
				return errors.Wrapf(err, "validate epoch %d", epoch)
			}
		}

		imagesPerSec := 0.0
		if elapsed > 0 {
			imagesPerSec = float64(hp.BatchesPerEpoch()*hp.BatchSize) / elapsed.Seconds()
		}
		observer.ObserveEpoch(trainAccuracy, valAccuracy, schedule.ForEpoch(epoch, hp, 0), imagesPerSec)
		runLog.WithFields(log.Fields{
			"epoch":          epoch,
			"train_accuracy": trainAccuracy,
			"val_accuracy":   valAccuracy,
			"images_per_sec": imagesPerSec,
		}).Info("epoch complete")
	}

	if len(loader.TestImages()) > 0 {
		testAccuracy, err := trainer.Evaluate(sess, m, loader, trainer.ModeTest)
		if err != nil {
			return errors.Wrap(err, "final test evaluation")
		}
		observer.ObserveTest(testAccuracy)
		runLog.WithField("test_accuracy", testAccuracy).Info("training run finished")
	}
	return nil
}

// resolveHparams builds the run configuration from the optional config
// file with environment and flag values layered on top.
func resolveHparams() (*hparams.Hparams, error) {
	var hp *hparams.Hparams
	if path := v.GetString("config"); path != "" {
		loaded, err := hparams.Load(path)
		if err != nil {
			return nil, err
		}
		hp = loaded
	} else {
		hp = &hparams.Hparams{
			Seed:         hparams.DefaultSeed,
			NumClasses:   hparams.DefaultNumClasses,
			NumWorkers:   hparams.DefaultNumWorkers,
			LogEvery:     hparams.DefaultLogEvery,
			ValFraction:  hparams.DefaultValFraction,
			TestFraction: hparams.DefaultTestFraction,
		}
	}

	hp.ApplyOverrides(hparams.Overrides{
		Dataset:     v.GetString("dataset"),
		ModelName:   v.GetString("model_name"),
		LR:          v.GetFloat64("lr"),
		NumEpochs:   v.GetInt("num_epochs"),
		TrainSize:   v.GetInt("train_size"),
		BatchSize:   v.GetInt("batch_size"),
		NumClasses:  v.GetInt("num_classes"),
		Seed:        v.GetInt64("seed"),
		NumWorkers:  v.GetInt("num_workers"),
		LogEvery:    v.GetInt("log_every"),
		TrainRoot:   v.GetString("train_root"),
		MetricsAddr: v.GetString("metrics_addr"),
	})
	return hp, nil
}
