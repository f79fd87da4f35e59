package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"coco/internal/architectures"
	"coco/internal/config"
	"coco/internal/dataset"
	"coco/internal/job"
	"coco/internal/metrics"
	"coco/internal/nn"
	"coco/internal/scaffold"
	"coco/internal/trainer"
)

func main() {
	cfgPath := flag.String("config", "configs/coco.yaml", "Path to YAML config")
	folder := flag.String("folder", "", "Override folder of class subdirectories")
	dbPrefix := flag.String("db", "", "Override database path prefix")
	epochs := flag.Int("epochs", 0, "Number of epochs")
	batchSize := flag.Int("batch-size", 0, "Batch size")
	numWorkers := flag.Int("workers", 0, "Number of data loader workers")
	seed := flag.Int64("seed", 0, "PRNG seed")
	logEvery := flag.Int("log-every", 0, "Log every N training steps")
	force := flag.Bool("force", false, "Rebuild existing databases")

	flag.Parse()

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	cfg.ApplyOverrides(config.Overrides{
		Folder:     *folder,
		DBPrefix:   *dbPrefix,
		Epochs:     *epochs,
		BatchSize:  *batchSize,
		NumWorkers: *numWorkers,
		Seed:       *seed,
		LogEvery:   *logEvery,
		Force:      *force,
	})

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("building database folder=%s prefix=%s", cfg.Folder, cfg.DBPrefix)
	trainDB, valDB, err := dataset.BuildClassDatabase(cfg.DBPrefix, cfg.Folder, dataset.Options{
		Width:       cfg.Width,
		Height:      cfg.Height,
		ValFraction: cfg.ValFraction,
		Seed:        cfg.Seed,
		Force:       cfg.Force,
	})
	if err != nil {
		log.Fatalf("build database: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	trainReader := &dataset.Reader{Seed: cfg.Seed}
	if err := trainReader.SetupRead(trainDB, true); err != nil {
		log.Fatalf("open training data: %v", err)
	}
	defer trainReader.Close()
	process := dataset.SubtractChannelMeans(dataset.ImageMeans)
	trainLoader := &dataset.Loader{Reader: trainReader, Process: process, BatchSize: cfg.BatchSize, Workers: cfg.NumWorkers}
	if err := trainLoader.StartDaemons(ctx); err != nil {
		log.Fatalf("start loader: %v", err)
	}
	defer trainLoader.Stop()

	// Validation is small enough to decode without daemons.
	valReader := &dataset.Reader{}
	if err := valReader.SetupRead(valDB, false); err != nil {
		log.Fatalf("open validation data: %v", err)
	}
	defer valReader.Close()
	valLoader := &dataset.Loader{Reader: valReader, Process: process, BatchSize: cfg.BatchSize}

	classes := trainReader.Classes()
	log.Printf("building network classes=%d train=%d val=%d", len(classes), trainReader.Len(), valReader.Len())
	factory := func(inputs []*nn.Placeholder) (scaffold.Network, error) {
		return architectures.NewResNet50(inputs, architectures.ResNet50Options{
			Classes: len(classes),
			Height:  cfg.Height,
			Width:   cfg.Width,
		})
	}
	mdl, err := scaffold.NewClassificationScaffolder(factory, scaffold.Options{LearningRate: cfg.LearningRate, Seed: cfg.Seed})
	if err != nil {
		log.Fatalf("build network: %v", err)
	}

	record, err := openJob(cfg, classes)
	if err != nil {
		log.Fatalf("job: %v", err)
	}
	log.Printf("job=%s path=%s", record.Name, record.Path())

	runCfg := trainer.RunConfig{
		Model:    mdl,
		Train:    trainLoader,
		Val:      valLoader,
		Epochs:   cfg.Epochs,
		LogEvery: cfg.LogEvery,
		OnEpoch: func(s metrics.EpochSummary) error {
			return recordEpoch(record, s)
		},
	}

	log.Printf("starting training epochs=%d batch_size=%d", cfg.Epochs, cfg.BatchSize)
	if _, err := trainer.Run(ctx, runCfg); err != nil {
		log.Fatalf("training failed: %v", err)
	}
}

// loadConfig reads path, falling back to the defaults when the default path
// does not exist so that flags alone can drive a run.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) && path == "configs/coco.yaml" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func openJob(cfg *config.Config, classes []string) (*job.Job, error) {
	store, err := job.NewStore(cfg.JobDir, cfg.Compression)
	if err != nil {
		return nil, err
	}
	j := store.New(cfg.JobName)
	names := make([]interface{}, len(classes))
	for i, c := range classes {
		names[i] = c
	}
	if err := j.Set("arch", "resnet50"); err != nil {
		return nil, err
	}
	if err := j.Set("classes", names); err != nil {
		return nil, err
	}
	return j, nil
}

func recordEpoch(j *job.Job, s metrics.EpochSummary) error {
	return j.Set("last_epoch", map[string]interface{}{
		"epoch":        s.Epoch,
		"seconds":      s.Duration.Seconds(),
		"train_loss":   s.TrainLoss,
		"val_loss":     s.ValLoss,
		"val_accuracy": s.ValAccuracy,
	})
}
