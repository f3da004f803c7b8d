package base

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ProgressReporter tracks and logs progress of reads and write batches.
// Updates are logged at most once per report interval, plus once when an
// operation completes.
type ProgressReporter struct {
	logger *zap.Logger

	totalRecords     int64
	processedRecords int64
	startTime        time.Time

	mu             sync.Mutex
	lastReportTime time.Time
	reportInterval time.Duration
}

// NewProgressReporter creates a new progress reporter
func NewProgressReporter(logger *zap.Logger) *ProgressReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := time.Now()
	return &ProgressReporter{
		logger:         logger,
		startTime:      now,
		lastReportTime: now,
		reportInterval: 10 * time.Second,
	}
}

// Reset starts a new operation.
func (pr *ProgressReporter) Reset() {
	atomic.StoreInt64(&pr.processedRecords, 0)
	atomic.StoreInt64(&pr.totalRecords, 0)
	pr.mu.Lock()
	pr.startTime = time.Now()
	pr.lastReportTime = pr.startTime
	pr.mu.Unlock()
}

// ReportProgress updates the progress. total may be zero when unknown.
func (pr *ProgressReporter) ReportProgress(processed, total int64) {
	atomic.StoreInt64(&pr.processedRecords, processed)
	if total > 0 {
		atomic.StoreInt64(&pr.totalRecords, total)
	}

	pr.mu.Lock()
	due := time.Since(pr.lastReportTime) >= pr.reportInterval
	if due {
		pr.lastReportTime = time.Now()
	}
	pr.mu.Unlock()

	switch {
	case total > 0 && processed >= total:
		pr.reportFinalProgress()
	case due:
		pr.reportCurrentProgress()
	}
}

// IncrementProcessed increments the processed count
func (pr *ProgressReporter) IncrementProcessed(count int64) {
	pr.ReportProgress(atomic.AddInt64(&pr.processedRecords, count), 0)
}

// GetProgress returns current progress
func (pr *ProgressReporter) GetProgress() (processed, total int64) {
	return atomic.LoadInt64(&pr.processedRecords), atomic.LoadInt64(&pr.totalRecords)
}

// GetElapsedTime returns time since start
func (pr *ProgressReporter) GetElapsedTime() time.Duration {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return time.Since(pr.startTime)
}

// GetETA estimates time remaining
func (pr *ProgressReporter) GetETA() time.Duration {
	processed, total := pr.GetProgress()
	if processed == 0 || total == 0 || processed >= total {
		return 0
	}

	rate := float64(processed) / pr.GetElapsedTime().Seconds()
	if rate == 0 {
		return 0
	}
	return time.Duration(float64(total-processed)/rate) * time.Second
}

// GetThroughput returns records per second since the operation started.
func (pr *ProgressReporter) GetThroughput() float64 {
	processed, _ := pr.GetProgress()
	elapsed := pr.GetElapsedTime().Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(processed) / elapsed
}

func (pr *ProgressReporter) reportCurrentProgress() {
	processed, total := pr.GetProgress()

	fields := []zap.Field{
		zap.Int64("processed", processed),
		zap.Float64("throughput", pr.GetThroughput()),
		zap.Duration("elapsed", pr.GetElapsedTime()),
	}
	if total > 0 {
		fields = append(fields,
			zap.Int64("total", total),
			zap.Float64("percentage", float64(processed)/float64(total)*100),
			zap.Duration("eta", pr.GetETA()),
		)
	}
	pr.logger.Info("progress update", fields...)
}

func (pr *ProgressReporter) reportFinalProgress() {
	processed, total := pr.GetProgress()
	pr.logger.Info("processing completed",
		zap.Int64("total_processed", processed),
		zap.Int64("expected_total", total),
		zap.Duration("total_time", pr.GetElapsedTime()),
		zap.Float64("avg_throughput", pr.GetThroughput()))
}

// ProgressSnapshot represents a point-in-time progress snapshot
type ProgressSnapshot struct {
	Timestamp        time.Time
	ProcessedRecords int64
	TotalRecords     int64
	Percentage       float64
	Throughput       float64
	ElapsedTime      time.Duration
	ETA              time.Duration
}

// GetSnapshot returns a progress snapshot
func (pr *ProgressReporter) GetSnapshot() *ProgressSnapshot {
	processed, total := pr.GetProgress()

	snapshot := &ProgressSnapshot{
		Timestamp:        time.Now(),
		ProcessedRecords: processed,
		TotalRecords:     total,
		Throughput:       pr.GetThroughput(),
		ElapsedTime:      pr.GetElapsedTime(),
		ETA:              pr.GetETA(),
	}
	if total > 0 {
		snapshot.Percentage = float64(processed) / float64(total) * 100
	}
	return snapshot
}

// SetReportInterval sets the progress reporting interval
func (pr *ProgressReporter) SetReportInterval(interval time.Duration) {
	pr.mu.Lock()
	pr.reportInterval = interval
	pr.mu.Unlock()
}
