package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "gamebot/pkg/logx"
)

// Config controls the trigger service.
type Config struct {
	Timezone string // IANA TZ, e.g. "Asia/Jakarta"; empty means local time
}

type scheduleDef struct {
	name          string
	spec          string // cron spec or @every
	timeout       time.Duration
	job           func(ctx context.Context) error
	entryID       cron.EntryID
	startupSpread time.Duration // initial delay added to @every schedules
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	// ctx is the parent of every job context; cancelled by Stop.
	ctx    context.Context
	cancel context.CancelFunc

	stats sync.Map // name -> *runStats
}

type runStats struct {
	mu      sync.Mutex
	runs    uint64
	lastErr string
	lastRun time.Time
	lastDur time.Duration
}

type ScheduleInfo struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Next    time.Time
	Prev    time.Time
	Runs    uint64
	LastErr string
	LastDur time.Duration
}

type Snapshot struct {
	Timezone  string
	Running   bool
	Schedules []ScheduleInfo
}
