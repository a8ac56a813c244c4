// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

package smm

import (
	"io"
	"os"
	"runtime"
	"strconv"
)

// Verbosity levels of Config.Verbosity. Library code is mute by default; a
// negative verbosity enables every message.
const (
	VerbosityMute  = 0
	VerbosityWarn  = 1
	VerbosityHigh  = 2
	VerbosityDebug = 3
)

// DefaultMaxMNK is the largest m·n·k still considered a small multiplication.
const DefaultMaxMNK = 64 * 64 * 64

// DefaultTaskScale is the tasks-per-thread factor used by external
// parallelism when Config.TaskScale is zero.
const DefaultTaskScale = 2

// Config holds the tunables shared by the batch scheduler, the recorder and
// the transpose driver.
type Config struct {
	// Verbosity gates diagnostics, see VerbosityMute and friends.
	Verbosity int

	// MaxMNK bounds the problem size routed to specialized kernels.
	MaxMNK int

	// TaskScale selects task-based execution when positive: each thread
	// gets TaskScale interleaved tasks.
	TaskScale int

	// TaskGrain is the number of batch members per chunk.
	TaskGrain int

	// Tasks enables task-based execution inside an externally parallel region.
	Tasks bool

	// NoSync skips the wait at the end of externally parallel tasks.
	// Scheduler.Sync must be called before the results are read.
	NoSync bool

	// BatchCapacity is the ring capacity of a Recorder. A statistics frame
	// holds as many distinct (shape, caller) counters and prints a report
	// each time they fill up, so End only reports what was counted since.
	BatchCapacity int

	// MaxDepth bounds nested Recorder.Begin calls.
	MaxDepth int

	// StatisticsLimit is the number of shapes reported by a statistics flush.
	StatisticsLimit int

	// Threads caps the workers used for one batch.
	Threads int

	// Writer receives statistics reports. Nil means os.Stderr.
	Writer io.Writer
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Verbosity:       VerbosityMute,
		MaxMNK:          DefaultMaxMNK,
		TaskGrain:       128,
		BatchCapacity:   1024,
		MaxDepth:        8,
		StatisticsLimit: 7,
		Threads:         runtime.GOMAXPROCS(0),
	}
}

// ConfigFromEnv returns DefaultConfig overridden by SMM_VERBOSE,
// SMM_TASKSCALE, SMM_TASKGRAIN, SMM_NOSYNC, SMM_TASKS, SMM_MMBATCH,
// SMM_MAX_MNK and SMM_THREADS. Malformed values are ignored.
func ConfigFromEnv() Config {
	c := DefaultConfig()
	envInt("SMM_VERBOSE", &c.Verbosity, false)
	envInt("SMM_TASKSCALE", &c.TaskScale, false)
	envInt("SMM_TASKGRAIN", &c.TaskGrain, true)
	envInt("SMM_MMBATCH", &c.BatchCapacity, true)
	envInt("SMM_MAX_MNK", &c.MaxMNK, true)
	envInt("SMM_THREADS", &c.Threads, true)
	envBool("SMM_NOSYNC", &c.NoSync)
	envBool("SMM_TASKS", &c.Tasks)
	return c
}

func envInt(name string, dst *int, positive bool) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || (positive && n <= 0) {
		return
	}
	*dst = n
}

func envBool(name string, dst *bool) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return
	}
	if b, err := strconv.ParseBool(v); err == nil {
		*dst = b
		return
	}
	// Any other non-empty value, e.g. "yes", switches the option on.
	*dst = true
}

// Enabled reports whether messages of the given level are printed.
func (c *Config) Enabled(level int) bool {
	return c.Verbosity < 0 || (c.Verbosity != VerbosityMute && c.Verbosity >= level)
}

// Output returns the statistics writer.
func (c *Config) Output() io.Writer {
	if c.Writer == nil {
		return os.Stderr
	}
	return c.Writer
}

// Normalize fills zero fields with defaults.
func (c Config) Normalize() Config {
	d := DefaultConfig()
	if c.MaxMNK <= 0 {
		c.MaxMNK = d.MaxMNK
	}
	if c.TaskGrain <= 0 {
		c.TaskGrain = d.TaskGrain
	}
	if c.BatchCapacity <= 0 {
		c.BatchCapacity = d.BatchCapacity
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = d.MaxDepth
	}
	if c.StatisticsLimit <= 0 {
		c.StatisticsLimit = d.StatisticsLimit
	}
	if c.Threads <= 0 {
		c.Threads = d.Threads
	}
	return c
}
