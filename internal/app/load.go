package app

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/url"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/agbru/imgloader/internal/cache"
	"github.com/agbru/imgloader/internal/cli"
	apperrors "github.com/agbru/imgloader/internal/errors"
	"github.com/agbru/imgloader/internal/imaging"
	"github.com/agbru/imgloader/internal/loader"
	"github.com/agbru/imgloader/internal/logging"
	"github.com/agbru/imgloader/internal/metrics"
	"github.com/agbru/imgloader/internal/sysmon"
	"github.com/agbru/imgloader/internal/transport"
)

// memoryPollInterval is how often the pressure monitor samples system memory.
const memoryPollInterval = 5 * time.Second

// runLoad orchestrates the execution of the CLI load command.
func (a *Application) runLoad(ctx context.Context, out io.Writer, mets *metrics.Metrics) int {
	cfg := a.Config

	// Lifecycle (signals); per-fetch timeouts are owned by the transport.
	ctx, stopSignals := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	var lg logging.Logger = logging.NewNopLogger()
	if cfg.Verbose {
		lg = logging.NewLogger(a.ErrWriter, "imgloader")
	}

	tr := transport.New(transport.Options{Timeout: cfg.Timeout})
	tr.SetLogger(lg)

	var diskCache loader.Cache
	if cfg.CacheDir != "" {
		disk, err := cache.OpenDisk(cache.DiskOptions{Dir: cfg.CacheDir, Logger: lg})
		if err != nil {
			fmt.Fprintf(a.ErrWriter, "opening disk cache: %v\n", err)
			return apperrors.ExitErrorConfig
		}
		defer disk.Close()
		diskCache = disk
	}

	var memCache loader.ImageCache
	if cfg.MemCacheBytes >= 0 {
		mem, err := cache.NewMemory(cfg.MemCacheBytes)
		if err != nil {
			fmt.Fprintf(a.ErrWriter, "creating memory cache: %v\n", err)
			return apperrors.ExitErrorConfig
		}
		memCache = mem
	}

	mgr, err := loader.New(loader.Config{
		Transport:                 tr,
		Decoder:                   imaging.NewDecoder(),
		Delegate:                  imaging.Delegate{},
		Cache:                     diskCache,
		MemoryCache:               memCache,
		Metrics:                   mets,
		MaxConcurrentFetches:      cfg.MaxFetches,
		MaxConcurrentCacheLookups: cfg.MaxLookups,
		MaxConcurrentDecodes:      cfg.MaxDecodes,
		MaxConcurrentProcesses:    cfg.MaxProcesses,
		DisableCongestionControl:  cfg.NoCongestion,
	})
	if err != nil {
		fmt.Fprintf(a.ErrWriter, "creating loader: %v\n", err)
		return apperrors.ExitErrorConfig
	}

	// Purge the decoded-image cache under system memory pressure.
	if memCache != nil {
		monitor := sysmon.NewMonitor(memoryPollInterval, 0, memCache.Clear, lg)
		go monitor.Run(ctx)
	}

	if !cfg.Quiet {
		cli.PrintRunConfig(cfg, out)
	}

	results := a.submitAndWait(ctx, mgr, out)

	if !cfg.Quiet {
		cli.PrintSummaryTable(results, out)
	}
	return cli.ExitCodeFor(results)
}

// submitAndWait submits every configured URL, renders progress, and blocks
// until each load reaches a terminal state.
func (a *Application) submitAndWait(ctx context.Context, mgr *loader.Manager, out io.Writer) []cli.LoadResult {
	cfg := a.Config
	numLoads := len(cfg.URLs)

	results := make([]cli.LoadResult, numLoads)
	progressChan := make(chan cli.ProgressUpdate, numLoads*4)

	progressOut := out
	if cfg.Quiet {
		progressOut = io.Discard
	}
	var displayWG sync.WaitGroup
	displayWG.Add(1)
	go cli.DisplayProgress(&displayWG, progressChan, numLoads, progressOut)

	var loadWG sync.WaitGroup
	tasks := make([]*loader.Task, numLoads)
	// terminal arbitrates between the completion callback and the cancel
	// path below; whoever wins the swap settles the result exactly once.
	terminal := make([]atomic.Bool, numLoads)
	starts := make([]time.Time, numLoads)

	for i, rawURL := range cfg.URLs {
		i, rawURL := i, rawURL
		results[i] = cli.LoadResult{URL: rawURL}
		starts[i] = time.Now()

		req := loader.Request{
			URL:      rawURL,
			Priority: loader.PriorityNormal,
		}
		if cfg.TargetWidth > 0 {
			req.TargetSize = loader.Size{Width: cfg.TargetWidth, Height: cfg.TargetHeight}
			if cfg.Fill {
				req.Mode = loader.ContentModeAspectFill
			}
		}

		loadWG.Add(1)
		tasks[i] = loader.NewTask(req, loader.Handlers{
			OnProgress: func(_ *loader.Task, completed, total int64) {
				var fraction float64
				if total > 0 {
					fraction = float64(completed) / float64(total)
				}
				select {
				case progressChan <- cli.ProgressUpdate{Index: i, Fraction: fraction}:
				default:
					// Display lag never blocks the pipeline.
				}
			},
			OnCompletion: func(_ *loader.Task, img image.Image, err error) {
				if !terminal[i].CompareAndSwap(false, true) {
					return
				}
				defer loadWG.Done()
				results[i].Duration = time.Since(starts[i])
				if err != nil {
					results[i].Err = err
					return
				}
				bounds := img.Bounds()
				results[i].Width = bounds.Dx()
				results[i].Height = bounds.Dy()
				outPath, saveErr := saveImage(cfg.OutputDir, i, rawURL, img)
				if saveErr != nil {
					results[i].Err = saveErr
					return
				}
				results[i].OutputPath = outPath
			},
		})
		mgr.Submit(tasks[i])
	}

	// Interrupt cancels every outstanding load. Cancelled tasks never receive
	// a completion callback, so the cancel path settles them here; tasks that
	// already reached a terminal state ignore the cancel.
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			for i, t := range tasks {
				mgr.Cancel(t)
				if terminal[i].CompareAndSwap(false, true) {
					results[i].Duration = time.Since(starts[i])
					results[i].Err = ctx.Err()
					loadWG.Done()
				}
			}
		case <-done:
		}
	}()

	loadWG.Wait()
	close(done)
	close(progressChan)
	displayWG.Wait()

	return results
}

// saveImage encodes img as PNG into outputDir with a name derived from the
// source URL, prefixed with the load index to keep batch output ordered.
func saveImage(outputDir string, index int, rawURL string, img image.Image) (string, error) {
	name := "image"
	if u, err := url.Parse(rawURL); err == nil {
		base := path.Base(u.Path)
		base = strings.TrimSuffix(base, path.Ext(base))
		if base != "" && base != "." && base != "/" {
			name = sanitizeFileName(base)
		}
	}

	outPath := filepath.Join(outputDir, fmt.Sprintf("%03d_%s.png", index+1, name))
	f, err := os.Create(outPath)
	if err != nil {
		return "", fmt.Errorf("creating output file: %w", err)
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		return "", fmt.Errorf("encoding %s: %w", outPath, err)
	}
	return outPath, nil
}

// sanitizeFileName replaces path-hostile characters with underscores.
func sanitizeFileName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, s)
}
