package logger

import (
	"fmt"
	"sync"
	"time"
)

// ProgressTracker logs coarse progress of a long-running pass at a fixed
// interval. Report has the processed/total callback shape the matchers use.
type ProgressTracker struct {
	logger      Logger
	operation   string
	total       int64
	current     int64
	startTime   time.Time
	lastLogTime time.Time
	logInterval time.Duration
	mutex       sync.Mutex
}

// ProgressConfig configures progress tracking behavior
type ProgressConfig struct {
	Operation   string
	LogInterval time.Duration
	Logger      Logger
}

// NewProgressTracker creates a new progress tracker
func NewProgressTracker(config ProgressConfig) *ProgressTracker {
	if config.Logger == nil {
		config.Logger = GetGlobalLogger()
	}
	if config.LogInterval == 0 {
		config.LogInterval = 2 * time.Second
	}

	now := time.Now()
	return &ProgressTracker{
		logger:      config.Logger.WithComponent("progress"),
		operation:   config.Operation,
		startTime:   now,
		lastLogTime: now,
		logInterval: config.LogInterval,
	}
}

// Report records the latest processed/total pair. The total may grow between
// calls when several passes share one tracker.
func (p *ProgressTracker) Report(processed, total int) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.current = int64(processed)
	p.total = int64(total)

	now := time.Now()
	if now.Sub(p.lastLogTime) >= p.logInterval || (p.total > 0 && p.current == p.total) {
		p.logProgress(now)
		p.lastLogTime = now
	}
}

// Complete logs final statistics
func (p *ProgressTracker) Complete() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	duration := time.Since(p.startTime)
	p.logger.WithFields(Fields{
		"operation": p.operation,
		"processed": p.current,
		"total":     p.total,
		"duration":  duration.String(),
	}).Info("Operation completed")
}

// Stats returns a snapshot of the current counters
func (p *ProgressTracker) Stats() ProgressStats {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	stats := ProgressStats{
		Operation: p.operation,
		Total:     p.total,
		Current:   p.current,
		Duration:  time.Since(p.startTime),
	}
	if p.total > 0 {
		stats.Percentage = float64(p.current) / float64(p.total) * 100
	}
	return stats
}

func (p *ProgressTracker) logProgress(now time.Time) {
	fields := Fields{
		"operation": p.operation,
		"processed": p.current,
		"elapsed":   now.Sub(p.startTime).Round(time.Millisecond).String(),
	}
	if p.total > 0 {
		fields["total"] = p.total
		fields["percentage"] = fmt.Sprintf("%.1f%%", float64(p.current)/float64(p.total)*100)
	}

	p.logger.WithFields(fields).Info("Progress update")
}

// ProgressStats contains progress statistics
type ProgressStats struct {
	Operation  string        `json:"operation"`
	Total      int64         `json:"total"`
	Current    int64         `json:"current"`
	Percentage float64       `json:"percentage"`
	Duration   time.Duration `json:"duration"`
}

func (ps ProgressStats) String() string {
	if ps.Total > 0 {
		return fmt.Sprintf("%s: %d/%d (%.1f%%), elapsed %v", ps.Operation, ps.Current, ps.Total, ps.Percentage, ps.Duration)
	}
	return fmt.Sprintf("%s: %d processed, elapsed %v", ps.Operation, ps.Current, ps.Duration)
}

// OperationLogger logs the start, steps and outcome of one operation with
// a shared set of fields
type OperationLogger struct {
	logger    Logger
	operation string
	fields    Fields
	startTime time.Time
}

// NewOperationLogger creates a new operation logger and logs the start
func NewOperationLogger(operation string, logger Logger, fields Fields) *OperationLogger {
	if logger == nil {
		logger = GetGlobalLogger()
	}

	ol := &OperationLogger{
		logger:    logger,
		operation: operation,
		fields:    Fields{"operation": operation},
		startTime: time.Now(),
	}
	for k, v := range fields {
		ol.fields[k] = v
	}

	ol.logger.WithFields(ol.fields).Info("Starting operation")
	return ol
}

// Step logs a named step with extra fields
func (ol *OperationLogger) Step(step string, fields Fields) {
	merged := Fields{"step": step}
	for k, v := range ol.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	ol.logger.WithFields(merged).Debug("Operation step")
}

// Success completes the operation successfully
func (ol *OperationLogger) Success(fields Fields) {
	merged := Fields{
		"duration": time.Since(ol.startTime).String(),
		"status":   "success",
	}
	for k, v := range ol.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	ol.logger.WithFields(merged).Info("Operation completed")
}

// Error completes the operation with an error
func (ol *OperationLogger) Error(err error) {
	merged := Fields{
		"duration": time.Since(ol.startTime).String(),
		"status":   "error",
	}
	for k, v := range ol.fields {
		merged[k] = v
	}
	ol.logger.WithError(err).WithFields(merged).Error("Operation failed")
}
