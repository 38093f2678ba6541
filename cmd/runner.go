package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/murmur/internal/connectivity"
	"github.com/desertthunder/murmur/internal/queue"
	"github.com/desertthunder/murmur/internal/repositories"
	"github.com/desertthunder/murmur/internal/services"
	"github.com/desertthunder/murmur/internal/shared"
	"github.com/desertthunder/murmur/internal/tasks"
	"github.com/urfave/cli/v3"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// The database, queue and backend are opened on first use so that commands like setup work without them.
type Runner struct {
	config     *shared.Config
	configPath string
	db         *sql.DB
	queue      *queue.Queue
	remote     services.Remote
	api        *services.APIService
	httpClient *http.Client
	logger     *log.Logger
	output     io.Writer
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	DB         *sql.DB
	Remote     services.Remote
	API        *services.APIService
	HTTPClient *http.Client
	Logger     *log.Logger
	Output     io.Writer
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		db:         opts.DB,
		remote:     opts.Remote,
		api:        opts.API,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		output:     opts.Output,
	}
}

// SetLogger replaces the logger used by the runner and the components it creates afterwards.
func (r *Runner) SetLogger(l *log.Logger) {
	r.logger = l
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, postCommand, queueCommand, syncCommand, authCommand, apiCommand, serveCommand, tuiCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// database opens the configured database once, applying migrations.
func (r *Runner) database() (*sql.DB, error) {
	if r.db != nil {
		return r.db, nil
	}

	db, err := shared.OpenDatabase(r.config.Database)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database %s: %v", shared.ErrStorage, r.config.Database.Path, err)
	}
	r.db = db
	return db, nil
}

// openQueue returns the offline queue, creating it on first use.
func (r *Runner) openQueue() (*queue.Queue, error) {
	if r.queue != nil {
		return r.queue, nil
	}

	db, err := r.database()
	if err != nil {
		return nil, err
	}

	store := repositories.NewCollectionStore(db, repositories.WithLogger(shared.WithLogger(r.logger, "component", "store")))
	q, err := queue.New(store, queue.Options{
		ConflictRetries: r.config.Queue.ConflictRetries,
		Logger:          shared.WithLogger(r.logger, "component", "queue"),
	})
	if err != nil {
		return nil, err
	}
	r.queue = q
	return q, nil
}

// backend returns the remote the queue drains into, creating the REST client on first use.
func (r *Runner) backend() services.Remote {
	if r.remote == nil {
		b := services.NewBackend(r.config.Backend, r.config.Connectivity.ProbePath, r.httpClient)
		r.remote = b
		if r.api == nil {
			r.api = services.NewAPIServiceFromBackend(b)
		}
	}
	return r.remote
}

// apiService returns the raw API client.
func (r *Runner) apiService() *services.APIService {
	if r.api == nil {
		if b, ok := r.backend().(*services.Backend); ok {
			r.api = services.NewAPIServiceFromBackend(b)
		} else {
			r.api = services.NewAPIService(r.config.Backend.URL, r.httpClient, nil)
		}
	}
	return r.api
}

// drainer builds a drain engine from the [queue] config section.
func (r *Runner) drainer(cmd *cli.Command) (*tasks.Drainer, error) {
	q, err := r.openQueue()
	if err != nil {
		return nil, err
	}

	opts := tasks.Options{
		Policy:            tasks.PolicyFromConfig(r.config.Queue),
		RateLimit:         r.config.Queue.RateLimit,
		ContinueOnFailure: r.config.Queue.ContinueOnFailure,
		Runs:              repositories.NewDrainRunRepository(r.db),
		Logger:            shared.WithLogger(r.logger, "component", "drain"),
	}
	if cmd != nil {
		if cmd.Bool("continue") {
			opts.ContinueOnFailure = true
		}
		opts.KeepSynced = cmd.Bool("keep-synced")
	}
	return tasks.NewDrainer(q, r.backend(), opts), nil
}

// prober builds a connectivity prober against the backend health endpoint.
func (r *Runner) prober(observer *connectivity.Observer) *connectivity.Prober {
	cfg := r.config.Connectivity
	return connectivity.NewProber(r.backend().Health, observer, cfg.ProbeInterval.Duration, cfg.ProbeTimeout.Duration,
		shared.WithLogger(r.logger, "component", "connectivity"))
}

// Close releases the queue and the database.
func (r *Runner) Close() error {
	var errs []error
	if r.queue != nil {
		errs = append(errs, r.queue.Close())
		r.queue = nil
	}
	if r.db != nil {
		errs = append(errs, r.db.Close())
		r.db = nil
	}
	return errors.Join(errs...)
}

// saveToken stores token in the runner's config and writes the config file when a path is set.
func (r *Runner) saveToken(token string) error {
	if r.config == nil {
		return fmt.Errorf("%w: config is nil", shared.ErrMissingConfig)
	}
	if token == "" {
		return fmt.Errorf("%w: token cannot be empty", shared.ErrMissingArgument)
	}

	r.config.Backend.AccessToken = token
	r.remote, r.api = nil, nil

	if r.configPath == "" {
		return nil
	}
	if err := shared.SaveConfig(r.configPath, r.config); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}
