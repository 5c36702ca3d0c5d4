// Command latentlens renders latent traversals of a trained contractive
// autoencoder along the top singular directions of its Jacobian.
//
// Usage:
//
//	latentlens [flags]        analyze num_samples images and write figures
//	latentlens init [flags]   write a randomly initialised checkpoint
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/openfluke/latentlens/analysis"
	"github.com/openfluke/latentlens/checkpoint"
	"github.com/openfluke/latentlens/config"
	"github.com/openfluke/latentlens/dataset"
	"github.com/openfluke/latentlens/gpu"
	"github.com/openfluke/latentlens/model"
	"github.com/openfluke/latentlens/render"
)

func main() {
	args := os.Args[1:]
	cmd := "run"
	if len(args) > 0 && args[0] == "init" {
		cmd, args = "init", args[1:]
	}

	cfg, seed, err := parseFlags(cmd, args)
	if err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "init":
		err = initCheckpoint(cfg, seed)
	default:
		err = run(ctx, cfg)
	}
	if err != nil {
		log.Fatalf("%s failed: %v", cmd, err)
	}
}

func parseFlags(name string, args []string) (*config.Config, int64, error) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	cfgPath := fs.String("config", "", "Path to YAML config")
	var o config.Overrides
	fs.IntVar(&o.LatentDim, "Z", 0, "Dimension of latent space")
	fs.IntVar(&o.LatentDim, "latent_dim", 0, "Dimension of latent space")
	fs.StringVar(&o.Dataset, "d", "", "Dataset to use "+fmt.Sprint(dataset.Names()))
	fs.StringVar(&o.Dataset, "dataset", "", "Dataset to use")
	fs.IntVar(&o.TrainSamples, "N", 0, "Number of training samples used")
	fs.IntVar(&o.TrainSamples, "train_samples", 0, "Number of training samples used")
	fs.Float64Var(&o.Lambda, "L", 0, "Contractive penalty weighting")
	fs.Float64Var(&o.Lambda, "Lambda", 0, "Contractive penalty weighting")
	fs.StringVar(&o.DataPath, "data", "", "Directory holding one folder per dataset")
	fs.StringVar(&o.ResultsRoot, "results", "", "Results root")
	fs.StringVar(&o.Checkpoint, "checkpoint", "", "Checkpoint file (default derived from results root)")
	fs.IntVar(&o.Workers, "workers", 0, "Concurrent samples and Jacobian passes")
	fs.BoolVar(&o.GPU, "gpu", false, "Run linear layers on the GPU")
	fs.BoolVar(&o.Spectrum, "spectrum", false, "Also plot singular value spectra")
	seed := fs.Int64("seed", 1, "PRNG seed for init")
	if err := fs.Parse(args); err != nil {
		return nil, 0, err
	}

	cfg := config.Default()
	if *cfgPath != "" {
		var err error
		if cfg, err = config.Load(*cfgPath); err != nil {
			return nil, 0, err
		}
	}
	cfg.ApplyOverrides(o)
	if err := cfg.Validate(); err != nil {
		return nil, 0, err
	}
	return cfg, *seed, nil
}

func buildModel(cfg *config.Config) (*model.Autoencoder, dataset.Spec, error) {
	spec, err := dataset.Lookup(cfg.Dataset)
	if err != nil {
		return nil, spec, err
	}
	ae, err := model.New(cfg.Family, model.ArchConfig{
		LatentDim:       cfg.LatentDim,
		Channels:        spec.Channels,
		ImageSize:       spec.ImageSize,
		Filters:         spec.Filters,
		NormalizeLatent: cfg.NormalizeLatent,
	})
	return ae, spec, err
}

func initCheckpoint(cfg *config.Config, seed int64) error {
	ae, _, err := buildModel(cfg)
	if err != nil {
		return err
	}
	rng := rand.New(rand.NewSource(seed))
	model.InitWeights(ae.Encoder, rng)
	model.InitWeights(ae.Decoder, rng)

	path := cfg.CheckpointPath()
	if err := checkpoint.Save(path, ae); err != nil {
		return err
	}
	log.Printf("checkpoint=%s arch=%s params=%d", path, ae.Arch.Name(),
		ae.Encoder.Blueprint("encoder").TotalParams+ae.Decoder.Blueprint("decoder").TotalParams)
	return nil
}

func run(ctx context.Context, cfg *config.Config) error {
	ae, spec, err := buildModel(cfg)
	if err != nil {
		return err
	}
	ckpt := cfg.CheckpointPath()
	if err := checkpoint.LoadInto(ckpt, ae); err != nil {
		return err
	}
	log.Printf("checkpoint=%s arch=%s latent_dim=%d", ckpt, ae.Arch.Name(), cfg.LatentDim)

	if cfg.GPU {
		kernel, err := gpu.NewAffineKernel()
		if err != nil {
			log.Printf("gpu=unavailable err=%v fallback=cpu", err)
		} else {
			defer kernel.Release()
			ae.SetAccelerator(kernel)
		}
	}

	batch, err := dataset.Load(spec, cfg.DatasetPath(), cfg.SampleLimit())
	if err != nil {
		return fmt.Errorf("load %s: %w", spec.Name, err)
	}
	log.Printf("dataset=%s samples=%d shape=%v", spec.Name, batch.N, batch.Shape)

	params, err := cfg.AnalysisParams()
	if err != nil {
		return err
	}
	start := time.Now()
	results, err := analysis.Analyze(ctx, ae, batch.Data, batch.N, params)
	if err != nil {
		return err
	}
	log.Printf("analyzed=%d mode=%s elapsed=%s", len(results), params.Mode, time.Since(start).Round(time.Millisecond))

	cmap, err := render.ColorMapByName(cfg.ColorMap)
	if err != nil {
		return err
	}
	opts := render.DefaultOptions
	opts.Scale = cfg.CellScale
	opts.ColorMap = cmap

	outDir := checkpoint.ResultsDir(cfg.ResultsRoot, cfg.Dataset, cfg.LatentDim)
	for _, r := range results {
		path := filepath.Join(outDir, render.GridName(r.Index, cfg.Lambda))
		if err := render.SaveGrid(path, r.Grid, opts); err != nil {
			return fmt.Errorf("sample %d: %w", r.Index, err)
		}
		log.Printf("sample=%d label=%d grid=%s top_singular=%.4g", r.Index, batch.Label(r.Index), path, r.Directions.Values[0])
		if cfg.Spectrum {
			spath := filepath.Join(outDir, render.SpectrumName(r.Index))
			if err := render.SaveSpectrum(spath, r.Directions.Values, fmt.Sprintf("sample %d", r.Index)); err != nil {
				return fmt.Errorf("sample %d spectrum: %w", r.Index, err)
			}
		}
	}
	return nil
}
