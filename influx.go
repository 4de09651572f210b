package linekit

import (
	"github.com/charmbracelet/log"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/pkg/errors"
)

const defaultInfluxMeasurement = "linekit"

// InfluxPublisher pushes collected samples to an InfluxDB bucket through the
// non blocking write API. The public fields are its configuration block.
type InfluxPublisher struct {
	Host         string
	Organization string
	Bucket       string
	Measurement  string
	Token        string

	client influxdb2.Client
	write  api.WriteAPI
	host   string
	logger *log.Logger
}

func (p *InfluxPublisher) setup(host string, logger *log.Logger) error {
	if len(p.Host) == 0 {
		return errors.New("influx host not set")
	}
	if len(p.Measurement) == 0 {
		p.Measurement = defaultInfluxMeasurement
	}
	p.host = host
	p.logger = logger

	p.client = influxdb2.NewClient(p.Host, p.Token)
	p.write = p.client.WriteAPI(p.Organization, p.Bucket)

	go func() {
		for err := range p.write.Errors() {
			p.logger.Warn("influx write failed", "err", err)
		}
	}()

	return nil
}

func (p *InfluxPublisher) PublishSample(sample Sample) {
	point := influxdb2.NewPoint(p.Measurement,
		map[string]string{"host": p.host},
		map[string]interface{}{
			"cpu_temp_c": sample.CPUTempC,
			"load_1m":    sample.Load1,
		},
		sample.Time)
	p.write.WritePoint(point)
}

func (p *InfluxPublisher) close() {
	if p.client == nil {
		return
	}
	p.write.Flush()
	p.client.Close()
}
