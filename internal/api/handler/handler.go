package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/openreel/publisher-be/internal/credits"
	"github.com/openreel/publisher-be/internal/queue"
	"github.com/openreel/publisher-be/internal/video"
)

// JobQueue is the slice of the job queue the API drives.
type JobQueue interface {
	Enqueue(ctx context.Context, jobType string, payload json.RawMessage, maxRetries int) (string, error)
	Job(ctx context.Context, id string) (*queue.Job, error)
	Retry(ctx context.Context, id string) (string, error)
	Stats(ctx context.Context, jobType string) (queue.Stats, error)
}

// VideoStore is the video persistence the API reads and writes.
type VideoStore interface {
	Create(ctx context.Context, v *video.Video, destinations []video.Destination) error
	Get(ctx context.Context, id string) (*video.Video, error)
	ListPage(ctx context.Context, filter video.ListFilter) ([]*video.Video, error)
	ListDestinationConfigs(ctx context.Context, owner int64) ([]video.DestinationConfig, error)
	SetDestinationEnabled(ctx context.Context, owner int64, dest video.Destination, enabled bool) error
}

// VideoControl exposes the orchestrator's manual operations.
type VideoControl interface {
	Cancel(ctx context.Context, videoID string) (*video.Video, error)
	RetryDestination(ctx context.Context, videoID string, dest video.Destination) (*video.Video, error)
}

// CreditLedger is the read side of the credit ledger.
type CreditLedger interface {
	Balance(ctx context.Context, owner int64) (*credits.Balance, error)
	Transactions(ctx context.Context, owner int64, limit int) ([]credits.Transaction, error)
}

// StatusProber queries a platform for the processing state of an accepted
// upload.
type StatusProber interface {
	RemoteStatus(ctx context.Context, owner int64, externalID string) (string, error)
}

// HealthChecker reports whether a backing service is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds everything the handlers need.
type Dependencies struct {
	Logger  *slog.Logger
	Queue   JobQueue
	Videos  VideoStore
	Control VideoControl
	Ledger  CreditLedger
	Probers map[video.Destination]StatusProber
	Checks  map[string]HealthChecker

	Pricing credits.Pricing
	// Schedule supplies slot defaults when a batch request carries a
	// schedule block without its own interval or daily time.
	Schedule video.Plan
	// MaxRetries is the retry budget for enqueued jobs unless the request
	// overrides it.
	MaxRetries int
}

const (
	defaultPageSize = 20
	maxPageSize     = 100

	defaultTxLimit = 50
	maxTxLimit     = 200
)

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger  *slog.Logger
	queue   JobQueue
	retries int
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:  deps.Logger,
		queue:   deps.Queue,
		retries: deps.MaxRetries,
	}
}

// VideoHandler handles video-related HTTP requests
type VideoHandler struct {
	logger   *slog.Logger
	store    VideoStore
	control  VideoControl
	probers  map[video.Destination]StatusProber
	pricing  credits.Pricing
	schedule video.Plan
}

// NewVideoHandler creates a new VideoHandler instance
func NewVideoHandler(deps *Dependencies) *VideoHandler {
	return &VideoHandler{
		logger:   deps.Logger,
		store:    deps.Videos,
		control:  deps.Control,
		probers:  deps.Probers,
		pricing:  deps.Pricing,
		schedule: deps.Schedule,
	}
}

// CreditHandler handles credit-related HTTP requests
type CreditHandler struct {
	logger *slog.Logger
	ledger CreditLedger
}

// NewCreditHandler creates a new CreditHandler instance
func NewCreditHandler(deps *Dependencies) *CreditHandler {
	return &CreditHandler{
		logger: deps.Logger,
		ledger: deps.Ledger,
	}
}

// SystemHandler serves the health endpoint.
type SystemHandler struct {
	logger *slog.Logger
	queue  JobQueue
	checks map[string]HealthChecker
}

// NewSystemHandler creates a new SystemHandler instance
func NewSystemHandler(deps *Dependencies) *SystemHandler {
	return &SystemHandler{
		logger: deps.Logger,
		queue:  deps.Queue,
		checks: deps.Checks,
	}
}

const healthCheckTimeout = 2 * time.Second
