package linekit

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
)

const (
	sampleCollectorName   = "sample-collector"
	defaultSampleInterval = 10 * time.Second
)

// systemProbe isolates the host readings so tests can substitute their own.
type systemProbe interface {
	CPUTemperature() (float64, error)
	LoadAverage() (float64, error)
}

type gopsutilProbe struct{}

func (gopsutilProbe) CPUTemperature() (float64, error) {
	sensors, err := host.SensorsTemperatures()
	if len(sensors) == 0 {
		if err != nil {
			return 0, errors.Wrap(err, "failed to read temperature sensors")
		}
		return 0, errors.New("no temperature sensors found")
	}

	for _, sensor := range sensors {
		key := strings.ToLower(sensor.SensorKey)
		if strings.Contains(key, "cpu") || strings.Contains(key, "soc") || strings.Contains(key, "thermal") {
			return sensor.Temperature, nil
		}
	}

	return sensors[0].Temperature, nil
}

func (gopsutilProbe) LoadAverage() (float64, error) {
	avg, err := load.Avg()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read load average")
	}

	return avg.Load1, nil
}

// SampleSink receives a copy of every collected sample. Sinks must not block.
type SampleSink interface {
	PublishSample(sample Sample)
}

// SampleCollector periodically reads CPU temperature and load and appends a
// sample to the history. A failing probe reading logs a warning and records
// zero; the collection cycle itself never stops over it.
type SampleCollector struct {
	history  *SampleHistory
	probe    systemProbe
	interval time.Duration
	logger   *log.Logger
	sinks    []SampleSink
}

func newSampleCollector(history *SampleHistory, probe systemProbe, interval time.Duration, logger *log.Logger) *SampleCollector {
	if probe == nil {
		probe = gopsutilProbe{}
	}
	if interval <= 0 {
		interval = defaultSampleInterval
	}
	if logger == nil {
		logger = log.Default()
	}

	return &SampleCollector{
		history:  history,
		probe:    probe,
		interval: interval,
		logger:   logger,
	}
}

// AddSink registers a sample sink. Call before the collector starts running.
func (c *SampleCollector) AddSink(sink SampleSink) {
	c.sinks = append(c.sinks, sink)
}

func (c *SampleCollector) Name() string {
	return sampleCollectorName
}

func (c *SampleCollector) Run(ctx context.Context) error {
	c.logger.Info("sample collector starting", "interval", c.interval)
	c.collect()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("sample collector stopped")
			return ctx.Err()
		case <-ticker.C:
			c.collect()
		}
	}
}

func (c *SampleCollector) collect() {
	sample := Sample{Time: time.Now()}

	temperature, err := c.probe.CPUTemperature()
	if err != nil {
		c.logger.Warn("cpu temperature unavailable", "err", err)
	} else {
		sample.CPUTempC = temperature
	}

	loadAvg, err := c.probe.LoadAverage()
	if err != nil {
		c.logger.Warn("load average unavailable", "err", err)
	} else {
		sample.Load1 = loadAvg
	}

	c.history.Append(sample)
	for _, sink := range c.sinks {
		sink.PublishSample(sample)
	}
}
