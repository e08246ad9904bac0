package main

import (
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var v *viper.Viper

type configKey string

func (c configKey) EnvName() string {
	return "PBA_" + strings.ReplaceAll(strings.ToUpper(string(c)), "-", "_")
}

func (c configKey) AccessPath() string {
	return strings.ReplaceAll(string(c), "-", "_")
}

func registerString(flags *pflag.FlagSet, name configKey, value, usage string) {
	flags.String(string(name), value, usage)
	_ = v.BindEnv(name.AccessPath(), name.EnvName())
	_ = v.BindPFlag(name.AccessPath(), flags.Lookup(string(name)))
	v.SetDefault(name.AccessPath(), value)
}

func registerInt(flags *pflag.FlagSet, name configKey, value int, usage string) {
	flags.Int(string(name), value, usage)
	_ = v.BindEnv(name.AccessPath(), name.EnvName())
	_ = v.BindPFlag(name.AccessPath(), flags.Lookup(string(name)))
	v.SetDefault(name.AccessPath(), value)
}

func registerInt64(flags *pflag.FlagSet, name configKey, value int64, usage string) {
	flags.Int64(string(name), value, usage)
	_ = v.BindEnv(name.AccessPath(), name.EnvName())
	_ = v.BindPFlag(name.AccessPath(), flags.Lookup(string(name)))
	v.SetDefault(name.AccessPath(), value)
}

func registerFloat64(flags *pflag.FlagSet, name configKey, value float64, usage string) {
	flags.Float64(string(name), value, usage)
	_ = v.BindEnv(name.AccessPath(), name.EnvName())
	_ = v.BindPFlag(name.AccessPath(), flags.Lookup(string(name)))
	v.SetDefault(name.AccessPath(), value)
}

//nolint:gochecknoinit
func init() {
	v = viper.New()

	flags := rootCmd.Flags()
	registerString(flags, "config", "", "path to a YAML hparams file")
	registerString(flags, "dataset", "", "dataset name (e.g. cifar10, svhn)")
	registerString(flags, "model-name", "", "model name (e.g. wrn, shake_shake)")
	registerFloat64(flags, "lr", 0, "base learning rate")
	registerInt(flags, "num-epochs", 0, "total number of training epochs")
	registerInt(flags, "train-size", 0, "number of training samples (0: use all loaded)")
	registerInt(flags, "batch-size", 0, "batch size")
	registerInt(flags, "num-classes", 0, "number of label classes")
	registerInt64(flags, "seed", 0, "PRNG seed")
	registerInt(flags, "num-workers", 0, "shard loader workers")
	registerInt(flags, "log-every", 0, "log every N training steps")
	registerString(flags, "train-root", "", "root directory holding WebDataset shards")
	registerString(flags, "metrics-addr", "", "listen address for Prometheus metrics (empty: disabled)")
}
