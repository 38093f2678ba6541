package tasks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/desertthunder/murmur/internal/formatter"
)

// ExportOpts contains configuration for snapshot exports.
type ExportOpts struct {
	Formats    []formatter.Format // Formats to write (default: json)
	OutputDir  string             // Output directory (default: murmur_export_{epoch})
	NumWorkers int                // Concurrent writers (default: 3)
}

// ExportFile is one written file.
type ExportFile struct {
	Format formatter.Format
	Part   string
	Path   string
	Error  error
}

// ExportResult summarizes an export.
type ExportResult struct {
	OutputDirectory string
	Files           []ExportFile
	Failed          int
	ManifestPath    string
}

type exportJob struct {
	format formatter.Format
	part   string
	path   string
}

// ExportSnapshots writes snap in each requested format with a small worker pool and a manifest.
//
// CSV is written once per collection (posts.csv, items.csv, dead.csv); the other formats produce one file each.
func ExportSnapshots(ctx context.Context, prog chan<- ProgressUpdate, snap formatter.Snapshot, opts ExportOpts) (*ExportResult, error) {
	if len(opts.Formats) == 0 {
		opts.Formats = []formatter.Format{formatter.FormatJSON}
	}
	if opts.OutputDir == "" {
		opts.OutputDir = fmt.Sprintf("murmur_export_%d", time.Now().Unix())
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 3
	}

	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	var plan []exportJob
	for _, f := range opts.Formats {
		if f == formatter.FormatCSV {
			for _, part := range []string{"posts", "items", "dead"} {
				plan = append(plan, exportJob{format: f, part: part, path: filepath.Join(opts.OutputDir, part+".csv")})
			}
			continue
		}
		plan = append(plan, exportJob{format: f, path: filepath.Join(opts.OutputDir, "queue."+f.Extension())})
	}

	jobs := make(chan exportJob, len(plan))
	results := make(chan ExportFile, len(plan))

	var wg sync.WaitGroup
	for range opts.NumWorkers {
		wg.Add(1)
		go exportWorker(ctx, &wg, snap, jobs, results)
	}

	for _, j := range plan {
		jobs <- j
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	result := &ExportResult{OutputDirectory: opts.OutputDir}
	completed := 0
	for res := range results {
		completed++
		result.Files = append(result.Files, res)
		if res.Error != nil {
			result.Failed++
			continue
		}
		sendProgress(prog, exportUpdate(completed, len(plan), res.Path))
	}
	sort.Slice(result.Files, func(i, j int) bool { return result.Files[i].Path < result.Files[j].Path })

	if err := ctx.Err(); err != nil {
		return result, err
	}

	manifest := struct {
		ExportedAt time.Time `json:"exported_at"`
		Files      []string  `json:"files"`
		Failed     int       `json:"failed"`
	}{ExportedAt: snap.ExportedAt, Failed: result.Failed}
	for _, f := range result.Files {
		if f.Error == nil {
			manifest.Files = append(manifest.Files, filepath.Base(f.Path))
		}
	}

	data, err := formatter.ToJSON(manifest)
	if err != nil {
		return result, err
	}
	manifestPath := filepath.Join(opts.OutputDir, "export_manifest.json")
	if err := os.WriteFile(manifestPath, data, 0644); err != nil {
		return result, fmt.Errorf("export completed but failed to write manifest: %w", err)
	}
	result.ManifestPath = manifestPath

	if result.Failed > 0 {
		return result, fmt.Errorf("%d of %d exports failed", result.Failed, len(plan))
	}
	return result, nil
}

// exportWorker writes files from the jobs channel until it is drained or ctx is done.
func exportWorker(ctx context.Context, wg *sync.WaitGroup, snap formatter.Snapshot, jobs <-chan exportJob, results chan<- ExportFile) {
	defer wg.Done()

	for job := range jobs {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := formatter.WriteFile(snap, job.format, job.part, job.path)
		results <- ExportFile{Format: job.format, Part: job.part, Path: job.path, Error: err}
	}
}
