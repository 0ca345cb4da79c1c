package config

import (
	"os"
	"strconv"
	"time"
)

// Limits is the per-deployment tuning surface consumed by the chat core.
// Parsed once at startup and injected; services never read env directly.
type Limits struct {
	MaxDailyQuestions   int // questions per user per calendar day
	MaxSessionQuestions int // questions per chat session
	MemoryCap           int // conversation memory entries kept for LLM context

	TaskWorkers     int           // worker goroutines draining the queue
	TaskQueueSize   int           // buffered submissions before Submit rejects
	TaskMaxAttempts int           // attempts per work item (1 initial + retries)
	TaskBackoffBase time.Duration // linear backoff step between attempts
	TaskTimeout     time.Duration // wall-clock budget covering all attempts
	TaskResultTTL   time.Duration // how long task status stays pollable
}

func DefaultLimits() Limits {
	return Limits{
		MaxDailyQuestions:   10,
		MaxSessionQuestions: 10,
		MemoryCap:           20,
		TaskWorkers:         5,
		TaskQueueSize:       256,
		TaskMaxAttempts:     3,
		TaskBackoffBase:     2 * time.Second,
		TaskTimeout:         90 * time.Second,
		TaskResultTTL:       1 * time.Hour,
	}
}

func LoadLimits() Limits {
	l := DefaultLimits()
	l.MaxDailyQuestions = envInt("MAX_DAILY_QUESTIONS", l.MaxDailyQuestions)
	l.MaxSessionQuestions = envInt("MAX_SESSION_QUESTIONS", l.MaxSessionQuestions)
	l.MemoryCap = envInt("MEMORY_CAP", l.MemoryCap)
	l.TaskWorkers = envInt("TASK_WORKERS", l.TaskWorkers)
	l.TaskQueueSize = envInt("TASK_QUEUE_SIZE", l.TaskQueueSize)
	l.TaskMaxAttempts = envInt("TASK_MAX_ATTEMPTS", l.TaskMaxAttempts)
	l.TaskBackoffBase = envDuration("TASK_BACKOFF_BASE", l.TaskBackoffBase)
	l.TaskTimeout = envDuration("TASK_TIMEOUT", l.TaskTimeout)
	l.TaskResultTTL = envDuration("TASK_RESULT_TTL", l.TaskResultTTL)
	return l
}

func envInt(key string, def int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if s := os.Getenv(key); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			return d
		}
	}
	return def
}
