package metrics

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Metrics collects performance and usage metrics for archive operations
type Metrics struct {
	mu sync.RWMutex

	// Entry read metrics
	EntryReadBytesTotal map[string]int64 // by extension
	EntryReadCountTotal map[string]int64 // by extension
	EntryReadDurationNs map[string]int64 // by extension

	// Block decode metrics
	InflateCPUNs      int64
	InflateCountTotal int64
	RawCopyCountTotal int64
	DecodedBytesTotal int64

	// Pack timing metrics
	PackStartTime  map[string]time.Time // by archive path
	PackDurationMs map[string]int64     // by archive path

	// Cache metrics
	CacheHitsTotal   int64
	CacheMissesTotal int64
	CacheSizeBytes   int64
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	return &Metrics{
		EntryReadBytesTotal: make(map[string]int64),
		EntryReadCountTotal: make(map[string]int64),
		EntryReadDurationNs: make(map[string]int64),
		PackStartTime:       make(map[string]time.Time),
		PackDurationMs:      make(map[string]int64),
	}
}

// RecordEntryRead records a full entry read, grouped by file extension
func (m *Metrics) RecordEntryRead(ext string, bytes int64, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.EntryReadBytesTotal[ext] += bytes
	m.EntryReadCountTotal[ext]++
	m.EntryReadDurationNs[ext] += duration.Nanoseconds()

	log.Debug().
		Str("ext", ext).
		Int64("bytes", bytes).
		Dur("duration", duration).
		Msg("entry read completed")
}

// RecordInflation records zlib block inflation metrics
func (m *Metrics) RecordInflation(bytes int64, cpuTime time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.InflateCPUNs += cpuTime.Nanoseconds()
	m.InflateCountTotal++
	m.DecodedBytesTotal += bytes

	log.Debug().
		Dur("cpu_time", cpuTime).
		Int64("total_inflations", m.InflateCountTotal).
		Msg("inflation completed")
}

// RecordRawCopy records a block that was stored verbatim and copied through
func (m *Metrics) RecordRawCopy(bytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.RawCopyCountTotal++
	m.DecodedBytesTotal += bytes
}

// RecordPackStart records the start of packing an archive
func (m *Metrics) RecordPackStart(archivePath string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.PackStartTime[archivePath] = time.Now()

	log.Info().
		Str("archive", archivePath).
		Msg("pack started")
}

// RecordPackEnd records the completion of packing an archive
func (m *Metrics) RecordPackEnd(archivePath string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if startTime, exists := m.PackStartTime[archivePath]; exists {
		duration := time.Since(startTime)
		m.PackDurationMs[archivePath] = duration.Milliseconds()
		delete(m.PackStartTime, archivePath)

		log.Info().
			Str("archive", archivePath).
			Int64("duration_ms", duration.Milliseconds()).
			Msg("pack completed")
	}
}

// RecordCacheOperation records block cache hit/miss
func (m *Metrics) RecordCacheOperation(hit bool, sizeBytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if hit {
		m.CacheHitsTotal++
	} else {
		m.CacheMissesTotal++
	}

	if sizeBytes > 0 {
		m.CacheSizeBytes += sizeBytes
	}
}

// LogSummary logs a summary of current metrics
func (m *Metrics) LogSummary() {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var totalReadBytes, totalReadCount int64
	for _, bytes := range m.EntryReadBytesTotal {
		totalReadBytes += bytes
	}
	for _, count := range m.EntryReadCountTotal {
		totalReadCount += count
	}

	cacheHitRate := float64(0)
	if m.CacheHitsTotal+m.CacheMissesTotal > 0 {
		cacheHitRate = float64(m.CacheHitsTotal) / float64(m.CacheHitsTotal+m.CacheMissesTotal)
	}

	log.Info().
		Int64("entry_read_bytes", totalReadBytes).
		Int64("entry_read_count", totalReadCount).
		Int64("inflate_count", m.InflateCountTotal).
		Float64("inflate_cpu_seconds", float64(m.InflateCPUNs)/1e9).
		Int64("raw_copy_count", m.RawCopyCountTotal).
		Int64("decoded_bytes", m.DecodedBytesTotal).
		Float64("cache_hit_rate", cacheHitRate).
		Int64("cache_size_bytes", m.CacheSizeBytes).
		Msg("metrics summary")
}

// Global metrics instance
var GlobalMetrics = NewMetrics()

// Convenience functions for global metrics
func RecordEntryRead(ext string, bytes int64, duration time.Duration) {
	GlobalMetrics.RecordEntryRead(ext, bytes, duration)
}

func RecordInflation(bytes int64, cpuTime time.Duration) {
	GlobalMetrics.RecordInflation(bytes, cpuTime)
}

func RecordRawCopy(bytes int64) {
	GlobalMetrics.RecordRawCopy(bytes)
}

func RecordPackStart(archivePath string) {
	GlobalMetrics.RecordPackStart(archivePath)
}

func RecordPackEnd(archivePath string) {
	GlobalMetrics.RecordPackEnd(archivePath)
}

func RecordCacheOperation(hit bool, sizeBytes int64) {
	GlobalMetrics.RecordCacheOperation(hit, sizeBytes)
}

func LogMetricsSummary() {
	GlobalMetrics.LogSummary()
}
