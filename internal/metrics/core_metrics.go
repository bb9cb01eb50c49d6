package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// Target identifies the process to sample. PID <= 0 means nothing runs.
type Target struct {
	Name string
	PID  int32
}

// Sample is one resource reading of the core.
type Sample struct {
	Name       string    `json:"name"`
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryRSS  uint64    `json:"memory_rss"`
	MemoryVMS  uint64    `json:"memory_vms"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// SamplerConfig configures the core resource sampler.
type SamplerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// Sampler periodically reads CPU and memory usage of the running core with
// gopsutil and exports it as gauges.
type Sampler struct {
	enabled  bool
	interval time.Duration

	mu     sync.RWMutex
	last   *Sample
	handle *process.Process

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	cpuPercent *prometheus.GaugeVec
	memoryRSS  *prometheus.GaugeVec
	numThreads *prometheus.GaugeVec
	numFDs     *prometheus.GaugeVec
}

func NewSampler(cfg SamplerConfig) *Sampler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "core",
			Name:      name,
			Help:      help,
		}, []string{"name"})
	}
	return &Sampler{
		enabled:    cfg.Enabled,
		interval:   interval,
		stopCh:     make(chan struct{}),
		cpuPercent: gauge("cpu_percent", "CPU usage of the proxy core."),
		memoryRSS:  gauge("memory_rss_bytes", "Resident memory of the proxy core."),
		numThreads: gauge("num_threads", "Threads of the proxy core."),
		numFDs:     gauge("num_fds", "Open file descriptors of the proxy core (Unix only)."),
	}
}

// RegisterMetrics registers the sampler gauges with r.
func (s *Sampler) RegisterMetrics(r prometheus.Registerer) error {
	if !s.enabled {
		return nil
	}
	cs := []prometheus.Collector{s.cpuPercent, s.memoryRSS, s.numThreads}
	if runtime.GOOS != "windows" {
		cs = append(cs, s.numFDs)
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Start samples target() every interval until ctx is done or Stop is called.
func (s *Sampler) Start(ctx context.Context, target func() Target) {
	if !s.enabled {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t := time.NewTicker(s.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-t.C:
				s.Collect(target())
			}
		}
	}()
}

func (s *Sampler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// Collect takes one sample of tgt and updates the gauges. A target without
// a PID resets them.
func (s *Sampler) Collect(tgt Target) {
	if tgt.PID <= 0 {
		s.reset()
		return
	}
	sample, err := s.read(tgt)
	if err != nil {
		slog.Debug("core sample failed", "name", tgt.Name, "pid", tgt.PID, "error", err)
		s.reset()
		return
	}
	s.mu.Lock()
	s.last = &sample
	s.mu.Unlock()
	s.cpuPercent.Reset()
	s.memoryRSS.Reset()
	s.numThreads.Reset()
	s.numFDs.Reset()
	s.cpuPercent.WithLabelValues(tgt.Name).Set(sample.CPUPercent)
	s.memoryRSS.WithLabelValues(tgt.Name).Set(float64(sample.MemoryRSS))
	s.numThreads.WithLabelValues(tgt.Name).Set(float64(sample.NumThreads))
	if runtime.GOOS != "windows" && sample.NumFDs > 0 {
		s.numFDs.WithLabelValues(tgt.Name).Set(float64(sample.NumFDs))
	}
}

// Last returns the latest sample, if any.
func (s *Sampler) Last() (Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return Sample{}, false
	}
	return *s.last, true
}

func (s *Sampler) reset() {
	s.mu.Lock()
	s.last = nil
	s.handle = nil
	s.mu.Unlock()
	s.cpuPercent.Reset()
	s.memoryRSS.Reset()
	s.numThreads.Reset()
	s.numFDs.Reset()
}

// read keeps the gopsutil handle between ticks so CPUPercent is measured
// over the interval rather than the whole lifetime.
func (s *Sampler) read(tgt Target) (Sample, error) {
	s.mu.Lock()
	h := s.handle
	if h == nil || h.Pid != tgt.PID {
		var err error
		h, err = process.NewProcess(tgt.PID)
		if err != nil {
			s.mu.Unlock()
			return Sample{}, fmt.Errorf("open process: %w", err)
		}
		s.handle = h
	}
	s.mu.Unlock()

	cpu, err := h.Percent(0)
	if err != nil {
		cpu = 0
	}
	mem, err := h.MemoryInfo()
	if err != nil {
		return Sample{}, fmt.Errorf("memory info: %w", err)
	}
	threads, _ := h.NumThreads()
	sample := Sample{
		Name:       tgt.Name,
		PID:        tgt.PID,
		CPUPercent: cpu,
		MemoryRSS:  mem.RSS,
		MemoryVMS:  mem.VMS,
		NumThreads: threads,
		Timestamp:  time.Now(),
	}
	if runtime.GOOS != "windows" {
		if fds, err := h.NumFDs(); err == nil {
			sample.NumFDs = fds
		}
	}
	return sample, nil
}
