package task

import (
	"sync"
	"time"
)

// Status is a task lifecycle state.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusProcessing  Status = "processing"
	StatusGettingInfo Status = "getting_info"
	StatusDownloading Status = "downloading"
	StatusCompleted   Status = "completed"
	StatusPaused      Status = "paused"
	StatusError       Status = "error"
	StatusRemoved     Status = "removed"
)

// transitions is the lifecycle graph. Error -> Queued is not listed: it is
// only reachable through Manager.Retry.
var transitions = map[Status][]Status{
	StatusQueued:      {StatusProcessing, StatusPaused, StatusError, StatusRemoved},
	StatusProcessing:  {StatusGettingInfo, StatusDownloading, StatusPaused, StatusError, StatusRemoved},
	StatusGettingInfo: {StatusDownloading, StatusPaused, StatusError, StatusRemoved},
	StatusDownloading: {StatusCompleted, StatusPaused, StatusError, StatusRemoved},
	StatusPaused:      {StatusQueued, StatusError, StatusRemoved},
	StatusCompleted:   {StatusRemoved},
	StatusError:       {StatusRemoved},
	StatusRemoved:     nil,
}

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusQueued, StatusProcessing, StatusGettingInfo, StatusDownloading,
	StatusCompleted, StatusPaused, StatusError, StatusRemoved,
}

// CanTransition reports whether from -> to is an edge of the lifecycle graph.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no worker may touch a task in this status again.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusRemoved
}

// active reports whether a worker owns the task in this status.
func (s Status) active() bool {
	return s == StatusProcessing || s == StatusGettingInfo || s == StatusDownloading
}

// Snapshot is a point-in-time copy of a task's fields. It is also the persisted form.
type Snapshot struct {
	ID              string    `json:"id"`
	URL             string    `json:"url"`
	Title           string    `json:"title"`
	Adapter         string    `json:"adapter,omitempty"`
	Status          Status    `json:"status"`
	Progress        int       `json:"progress"`
	ChapterCount    int       `json:"chapter_count"`
	PageCount       int       `json:"page_count"`
	TotalPages      int       `json:"total_pages"`
	CurrentPage     int       `json:"current_page"`
	DownloadedBytes int64     `json:"downloaded_bytes"`
	Error           string    `json:"error,omitempty"`
	RetryCount      int       `json:"retry_count"`
	MaxRetries      int       `json:"max_retries"`
	CoverURL        string    `json:"cover_url,omitempty"`
	CoverBytes      int       `json:"cover_bytes,omitempty"`
	InfoFetched     bool      `json:"info_fetched"`
	Enqueued        bool      `json:"enqueued"`
	Dir             string    `json:"dir,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Task is one submitted entry URL. All mutable state sits behind mu.
type Task struct {
	mu    sync.Mutex
	seq   uint64
	state Snapshot
	cover []byte
	// owned is set while a worker runs the task.
	owned bool
	// requeue asks the owning worker to put the task back on release.
	requeue bool
}

// ID never changes after creation.
func (t *Task) ID() string { return t.state.ID }

// Snapshot returns a copy of the task's fields.
func (t *Task) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Settings are read by a worker when it picks a task up.
type Settings struct {
	DownloadRoot string
	RetryLimit   int
	PageDelay    time.Duration
}

// Options configures a Manager.
type Options struct {
	DataDir                string
	MaxConcurrentDownloads int
	Settings               Settings

	Resolver  Resolver
	Metadata  MetadataExtractor
	Discovery Discoverer
	Assets    AssetFetcher
	// Store defaults to a file store under DataDir.
	Store TaskStore
	// OnTaskChanged runs synchronously after every mutation. It must not block.
	OnTaskChanged func(Snapshot)
}

const (
	defaultMaxConcurrent = 10
	defaultDownloadRoot  = "Downloads"
	defaultRetryLimit    = 3
	maxReasonRunes       = 100
	maxPersistErrors     = 3

	progressProcessing  = 0
	progressGettingInfo = 5
	progressDownloading = 10
	progressAssetsBase  = 20
	progressDone        = 100
)
