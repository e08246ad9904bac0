package data

import (
	"archive/tar"
	"bufio"
	"context"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Sample is a paired record from a WebDataset shard.
type Sample struct {
	Key   string
	Image []byte
	Label int
}

// ErrPendingOverflow indicates a shard's pairing buffer exceeded the
// configured bound.
var ErrPendingOverflow = errors.New("data: pending pair buffer exceeded")

const defaultPendingCap = 1024

// ShardOptions configures LoadShards.
type ShardOptions struct {
	NumClasses   int
	BatchSize    int
	Seed         int64
	NumWorkers   int
	PendingCap   int
	ValFraction  float64
	TestFraction float64
}

type encoded struct {
	key      string
	features []float64
	label    int
}

// LoadShards reads every shard with a bounded worker pool, decodes the
// images into feature vectors, and splits the result into an InMemory
// loader by the configured fractions. The split is a deterministic
// function of the seed.
func LoadShards(ctx context.Context, shards []string, opts ShardOptions) (*InMemory, error) {
	if len(shards) == 0 {
		return nil, errors.New("data: no shards to load")
	}
	if opts.NumClasses <= 0 {
		return nil, errors.Errorf("data: num classes must be > 0 (got %d)", opts.NumClasses)
	}
	if opts.ValFraction < 0 || opts.TestFraction < 0 || opts.ValFraction+opts.TestFraction >= 1 {
		return nil, errors.Errorf("data: bad split fractions val=%g test=%g",
			opts.ValFraction, opts.TestFraction)
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 1
	}
	if opts.PendingCap <= 0 {
		opts.PendingCap = defaultPendingCap
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan string)
	go func() {
		defer close(jobs)
		for _, path := range shards {
			select {
			case <-ctx.Done():
				return
			case jobs <- path:
			}
		}
	}()

	var (
		mu      sync.Mutex
		samples []encoded
		skipped int
	)
	errCh := make(chan error, opts.NumWorkers)
	var wg sync.WaitGroup
	for i := 0; i < opts.NumWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				err := readShard(ctx, path, opts.PendingCap, func(s Sample) error {
					features, err := ExtractFeatures(s.Image)
					if err != nil {
						mu.Lock()
						skipped++
						mu.Unlock()
						return nil
					}
					// Sample keys may collide across shards, so the
					// sort key is qualified by the shard path.
					mu.Lock()
					samples = append(samples, encoded{
						key:      path + "/" + s.Key,
						features: features,
						label:    s.Label,
					})
					mu.Unlock()
					return nil
				})
				if err != nil {
					select {
					case errCh <- errors.Wrapf(err, "shard %s", filepath.Base(path)):
					default:
					}
					cancel()
					return
				}
			}
		}()
	}
	wg.Wait()

	select {
	case err := <-errCh:
		return nil, err
	default:
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if skipped > 0 {
		log.WithField("skipped", skipped).Warn("skipped undecodable images")
	}
	if len(samples) == 0 {
		return nil, errors.New("data: shards contained no usable samples")
	}

	// Worker completion order is nondeterministic; restore a total
	// order before the seeded shuffle.
	sort.SliceStable(samples, func(i, j int) bool { return samples[i].key < samples[j].key })
	rng := rand.New(rand.NewSource(opts.Seed))
	rng.Shuffle(len(samples), func(i, j int) { samples[i], samples[j] = samples[j], samples[i] })

	n := len(samples)
	valN := int(opts.ValFraction * float64(n))
	testN := int(opts.TestFraction * float64(n))

	cfg := InMemoryConfig{BatchSize: opts.BatchSize, Seed: opts.Seed}
	cfg.ValImages, cfg.ValLabels = split(samples[:valN], opts.NumClasses)
	cfg.TestImages, cfg.TestLabels = split(samples[valN:valN+testN], opts.NumClasses)
	cfg.TrainImages, cfg.TrainLabels = split(samples[valN+testN:], opts.NumClasses)
	return NewInMemory(cfg)
}

func split(samples []encoded, numClasses int) (images, labels [][]float64) {
	images = make([][]float64, 0, len(samples))
	labels = make([][]float64, 0, len(samples))
	for _, s := range samples {
		images = append(images, s.features)
		labels = append(labels, OneHot(s.label, numClasses))
	}
	return images, labels
}

// readShard streams paired image/label entries from the tar at path,
// invoking emit once per completed pair.
func readShard(ctx context.Context, path string, pendingCap int, emit func(Sample) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open shard")
	}
	defer f.Close()

	tr := tar.NewReader(bufio.NewReader(f))
	pending := make(map[string]*partial)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return errors.Wrap(err, "read tar")
		}
		if hdr.FileInfo().IsDir() {
			continue
		}
		name := filepath.Base(hdr.Name)
		ext := strings.ToLower(filepath.Ext(name))
		key := strings.TrimSuffix(name, ext)

		switch ext {
		case ".jpg", ".jpeg", ".png":
			payload, err := io.ReadAll(tr)
			if err != nil {
				return errors.Wrapf(err, "read image %s", name)
			}
			part := pending[key]
			if part == nil {
				part = &partial{}
				pending[key] = part
			}
			part.image = payload
		case ".cls":
			payload, err := io.ReadAll(tr)
			if err != nil {
				return errors.Wrapf(err, "read label %s", name)
			}
			label, err := strconv.Atoi(strings.TrimSpace(string(payload)))
			if err != nil {
				return errors.Wrapf(err, "parse label %s", name)
			}
			part := pending[key]
			if part == nil {
				part = &partial{}
				pending[key] = part
			}
			part.label = &label
		default:
			continue
		}

		if len(pending) > pendingCap {
			return ErrPendingOverflow
		}

		if part := pending[key]; part != nil && part.ready() {
			delete(pending, key)
			if err := emit(Sample{Key: key, Image: part.image, Label: *part.label}); err != nil {
				return err
			}
		}
	}

	if len(pending) > 0 {
		return errors.Errorf("%d samples incomplete", len(pending))
	}
	return nil
}

type partial struct {
	image []byte
	label *int
}

func (p *partial) ready() bool {
	return len(p.image) > 0 && p.label != nil
}
