// Package scheduler runs the agent CLI headlessly on cron presets,
// records per-run logs, and reports run outcomes for broadcast.
package scheduler

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/agentdeck/agentdeck/log"
)

// LastRun summarizes a schedule's most recent completed execution.
type LastRun struct {
	Timestamp  string `json:"timestamp"`
	ExitCode   int    `json:"exitCode"`
	DurationMs int64  `json:"durationMs"`
}

// Schedule is one recurring headless run of the agent CLI.
type Schedule struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Prompt         string    `json:"prompt"`
	Cwd            string    `json:"cwd"`
	PresetLabel    string    `json:"presetLabel"`
	CronExpression string    `json:"cronExpression"`
	Enabled        bool      `json:"enabled"`
	CreatedAt      time.Time `json:"createdAt"`
	LastRun        *LastRun  `json:"lastRun,omitempty"`
}

// RunCompleteFunc is invoked exactly once per finished run, after the
// footer is written and the schedule persisted.
type RunCompleteFunc func(scheduleID, name string, exitCode int, timestamp string)

// Scheduler owns the schedules file, the cron registrations, and the
// run-log tree. One cron registration exists iff the schedule is enabled.
type Scheduler struct {
	dataDir       string
	binPath       string
	onRunComplete RunCompleteFunc

	mu        sync.Mutex
	schedules map[string]*Schedule
	entries   map[string]cron.EntryID
	cron      *cron.Cron

	stop     chan struct{}
	stopOnce sync.Once
}

// New loads persisted schedules from dataDir, registers cron jobs for the
// enabled ones, runs an initial retention sweep, and starts the engine.
func New(dataDir, binPath string, onRunComplete RunCompleteFunc) (*Scheduler, error) {
	if err := os.MkdirAll(filepath.Join(dataDir, "runs"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	s := &Scheduler{
		dataDir:       dataDir,
		binPath:       binPath,
		onRunComplete: onRunComplete,
		schedules:     make(map[string]*Schedule),
		entries:       make(map[string]cron.EntryID),
		cron:          cron.New(),
		stop:          make(chan struct{}),
	}

	if err := s.load(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	for _, sched := range s.schedules {
		if sched.Enabled {
			if err := s.register(sched); err != nil {
				log.Error().Str("scheduleId", sched.ID).Err(err).Msg("failed to register cron job")
			}
		}
	}
	s.mu.Unlock()

	sweepRuns(s.runsDir(), time.Now().Add(-retentionAge))
	s.cron.Start()
	go s.retentionLoop()

	return s, nil
}

// Stop halts cron firing and the retention loop. In-flight runs finish
// and still finalize.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.cron.Stop()
		close(s.stop)
	})
}

func (s *Scheduler) schedulesFile() string { return filepath.Join(s.dataDir, "schedules.json") }
func (s *Scheduler) runsDir() string       { return filepath.Join(s.dataDir, "runs") }

func (s *Scheduler) load() error {
	data, err := os.ReadFile(s.schedulesFile())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read schedules file: %w", err)
	}

	var list []*Schedule
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("failed to parse schedules file: %w", err)
	}
	for _, sched := range list {
		s.schedules[sched.ID] = sched
	}
	return nil
}

// persist writes the full schedule set atomically. Caller holds s.mu.
func (s *Scheduler) persist() error {
	list := make([]*Schedule, 0, len(s.schedules))
	for _, sched := range s.schedules {
		list = append(list, sched)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.schedulesFile() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write schedules file: %w", err)
	}
	return os.Rename(tmp, s.schedulesFile())
}

// register adds a cron job for the schedule. Caller holds s.mu.
func (s *Scheduler) register(sched *Schedule) error {
	id := sched.ID
	entryID, err := s.cron.AddFunc(sched.CronExpression, func() {
		s.fire(id)
	})
	if err != nil {
		return err
	}
	s.entries[id] = entryID
	return nil
}

// deregister removes the cron job if one exists. Caller holds s.mu.
func (s *Scheduler) deregister(id string) {
	if entryID, ok := s.entries[id]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, id)
	}
}

func newScheduleID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		panic("scheduler: cannot read random bytes: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// Create adds a new enabled schedule from a preset and persists it.
func (s *Scheduler) Create(name, prompt, cwd, presetLabel string) (Schedule, error) {
	preset, ok := LookupPreset(presetLabel)
	if !ok {
		return Schedule{}, fmt.Errorf("unknown preset %q", presetLabel)
	}
	if name == "" || prompt == "" || cwd == "" {
		return Schedule{}, fmt.Errorf("schedule requires a name, a prompt and a cwd")
	}

	sched := &Schedule{
		ID:             newScheduleID(),
		Name:           name,
		Prompt:         prompt,
		Cwd:            cwd,
		PresetLabel:    preset.Label,
		CronExpression: preset.Cron,
		Enabled:        true,
		CreatedAt:      time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.register(sched); err != nil {
		return Schedule{}, fmt.Errorf("failed to register cron job: %w", err)
	}
	s.schedules[sched.ID] = sched
	if err := s.persist(); err != nil {
		s.deregister(sched.ID)
		delete(s.schedules, sched.ID)
		return Schedule{}, err
	}
	return *sched, nil
}

// Update toggles a schedule's enabled flag, keeping the cron registration
// in step, and persists.
func (s *Scheduler) Update(id string, enabled bool) (Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sched, ok := s.schedules[id]
	if !ok {
		return Schedule{}, fmt.Errorf("unknown schedule %q", id)
	}

	if enabled && !sched.Enabled {
		if err := s.register(sched); err != nil {
			return Schedule{}, fmt.Errorf("failed to register cron job: %w", err)
		}
	} else if !enabled && sched.Enabled {
		s.deregister(id)
	}
	sched.Enabled = enabled

	if err := s.persist(); err != nil {
		return Schedule{}, err
	}
	return *sched, nil
}

// Delete removes the schedule, its cron registration, and its run-log
// directory.
func (s *Scheduler) Delete(id string) error {
	s.mu.Lock()
	if _, ok := s.schedules[id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("unknown schedule %q", id)
	}
	s.deregister(id)
	delete(s.schedules, id)
	err := s.persist()
	s.mu.Unlock()

	if rmErr := os.RemoveAll(filepath.Join(s.runsDir(), id)); rmErr != nil {
		log.Warn().Str("scheduleId", id).Err(rmErr).Msg("failed to remove runs directory")
	}
	return err
}

// Trigger executes the schedule immediately, bypassing the random delay.
func (s *Scheduler) Trigger(id string) error {
	s.mu.Lock()
	sched, ok := s.schedules[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("unknown schedule %q", id)
	}
	snapshot := *sched
	s.mu.Unlock()

	go s.execute(snapshot)
	return nil
}

// List returns a point-in-time snapshot of all schedules, oldest first.
func (s *Scheduler) List() []Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := make([]Schedule, 0, len(s.schedules))
	for _, sched := range s.schedules {
		list = append(list, *sched)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	return list
}

// Get returns a copy of one schedule.
func (s *Scheduler) Get(id string) (Schedule, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[id]
	if !ok {
		return Schedule{}, false
	}
	return *sched, true
}

// ListRuns returns the recorded runs for a schedule, newest first.
func (s *Scheduler) ListRuns(id string) ([]Run, error) {
	return listRuns(s.runsDir(), id)
}

// RunLog returns the full text of one run log.
func (s *Scheduler) RunLog(id, timestamp string) (string, error) {
	if filepath.Base(id) != id || filepath.Base(timestamp) != timestamp {
		return "", fmt.Errorf("invalid run log reference")
	}
	data, err := os.ReadFile(filepath.Join(s.runsDir(), id, timestamp+".log"))
	if err != nil {
		return "", fmt.Errorf("run log not found: %w", err)
	}
	return string(data), nil
}

// fire handles one cron firing: sleep a uniform random delay in
// [0, maxDelay), then execute, unless the schedule was deleted or
// disabled in the meantime.
func (s *Scheduler) fire(id string) {
	s.mu.Lock()
	sched, ok := s.schedules[id]
	if !ok || !sched.Enabled {
		s.mu.Unlock()
		return
	}
	snapshot := *sched
	s.mu.Unlock()

	preset, ok := LookupPreset(snapshot.PresetLabel)
	if !ok {
		preset.MaxDelay = 0
	}
	delay := randomDelay(preset.MaxDelay)
	log.Info().
		Str("scheduleId", id).
		Dur("delay", delay).
		Msg("schedule fired, sleeping before run")

	select {
	case <-time.After(delay):
	case <-s.stop:
		return
	}

	// Re-check: the schedule may have been deleted or disabled during
	// the delay window.
	s.mu.Lock()
	sched, ok = s.schedules[id]
	if !ok || !sched.Enabled {
		s.mu.Unlock()
		return
	}
	snapshot = *sched
	s.mu.Unlock()

	s.execute(snapshot)
}

// randomDelay picks a uniform duration in [0, max).
func randomDelay(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0
	}
	return time.Duration(n.Int64())
}

// execute runs the agent CLI once for a schedule snapshot, streaming
// stdout and stderr into a headered log file. Finalization (footer,
// lastRun, persistence, broadcast) happens exactly once whether the
// child spawns, fails to spawn, or exits abnormally.
func (s *Scheduler) execute(sched Schedule) {
	startedAt := time.Now()
	timestamp := SafeTimestamp(startedAt)

	logDir := filepath.Join(s.runsDir(), sched.ID)
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		log.Error().Str("scheduleId", sched.ID).Err(err).Msg("failed to create run log directory")
		return
	}
	logPath := filepath.Join(logDir, timestamp+".log")
	f, err := os.Create(logPath)
	if err != nil {
		log.Error().Str("scheduleId", sched.ID).Err(err).Msg("failed to create run log")
		return
	}
	if err := writeHeader(f, startedAt, sched.Name, sched.Prompt, sched.Cwd); err != nil {
		log.Error().Str("scheduleId", sched.ID).Err(err).Msg("failed to write run log header")
	}

	var once sync.Once
	finalize := func(exitCode int) {
		once.Do(func() {
			duration := time.Since(startedAt)
			if err := writeFooter(f, time.Now(), exitCode, duration); err != nil {
				log.Error().Str("scheduleId", sched.ID).Err(err).Msg("failed to write run log footer")
			}
			f.Close()

			s.mu.Lock()
			if live, ok := s.schedules[sched.ID]; ok {
				live.LastRun = &LastRun{
					Timestamp:  timestamp,
					ExitCode:   exitCode,
					DurationMs: duration.Milliseconds(),
				}
				if err := s.persist(); err != nil {
					log.Error().Str("scheduleId", sched.ID).Err(err).Msg("failed to persist schedules")
				}
			} else {
				// Deleted while running: no lastRun, no broadcast.
				s.mu.Unlock()
				return
			}
			s.mu.Unlock()

			log.Info().
				Str("scheduleId", sched.ID).
				Int("exitCode", exitCode).
				Dur("duration", duration).
				Msg("schedule run complete")
			if s.onRunComplete != nil {
				s.onRunComplete(sched.ID, sched.Name, exitCode, timestamp)
			}
		})
	}

	cmd := exec.Command(s.binPath, "-p", sched.Prompt)
	cmd.Dir = expandHome(sched.Cwd)
	cmd.Env = append(os.Environ(), "FORCE_COLOR=0")
	cmd.Stdout = f
	cmd.Stderr = f

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(f, "failed to start %s: %v\n", s.binPath, err)
		finalize(-1)
		return
	}

	code := 0
	if err := cmd.Wait(); err != nil {
		code = 1
		if cmd.ProcessState != nil && cmd.ProcessState.ExitCode() >= 0 {
			code = cmd.ProcessState.ExitCode()
		}
	}
	finalize(code)
}

// retentionLoop sweeps expired run logs hourly.
func (s *Scheduler) retentionLoop() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sweepRuns(s.runsDir(), time.Now().Add(-retentionAge))
		case <-s.stop:
			return
		}
	}
}
