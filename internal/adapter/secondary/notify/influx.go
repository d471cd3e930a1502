package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"tinnicap/internal/logging"
	"tinnicap/internal/usecase"
)

var (
	// ErrInfluxConnectionFailed is returned when the server cannot be reached or is unhealthy.
	ErrInfluxConnectionFailed = errors.New("influxdb: connection failed")
	// ErrInfluxDisabled is returned when no URL is configured.
	ErrInfluxDisabled = errors.New("influxdb: disabled in configuration")
)

const (
	influxConnectTimeout = 5 * time.Second
	defaultInfluxBatch   = 100
	defaultInfluxFlush   = 10 * time.Second

	measurementViolation = "volume_violation"
	measurementTopology  = "device_topology"
)

// InfluxConfig selects the InfluxDB v2 server and bucket.
type InfluxConfig struct {
	URL           string
	Token         string
	Org           string
	Bucket        string
	BatchSize     int
	FlushInterval time.Duration
}

// InfluxWriter records engine events as points. Writes are batched by the client
// and never block the forwarding goroutine.
type InfluxWriter struct {
	write func(*write.Point)
	flush func()
	close func()
}

// ConnectInflux pings the server and returns a writer for cfg.Bucket.
func ConnectInflux(cfg InfluxConfig) (*InfluxWriter, error) {
	if cfg.URL == "" {
		return nil, ErrInfluxDisabled
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultInfluxBatch
	}
	flush := cfg.FlushInterval
	if flush <= 0 {
		flush = defaultInfluxFlush
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batch)).
			SetFlushInterval(uint(flush.Milliseconds())))

	ctx, cancel := context.WithTimeout(context.Background(), influxConnectTimeout)
	defer cancel()
	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrInfluxConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrInfluxConnectionFailed)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	go func() {
		for err := range writeAPI.Errors() {
			logging.Warnf("influxdb: write: %v", err)
		}
	}()

	return &InfluxWriter{
		write: func(p *write.Point) { writeAPI.WritePoint(p) },
		flush: writeAPI.Flush,
		close: client.Close,
	}, nil
}

func (w *InfluxWriter) Name() string { return "influxdb" }

func (w *InfluxWriter) Handle(_ context.Context, ev usecase.Event) error {
	p := eventPoint(ev)
	if p == nil {
		return nil
	}
	w.write(p)
	return nil
}

// Close flushes pending points and releases the client.
func (w *InfluxWriter) Close() error {
	w.flush()
	w.close()
	return nil
}

// eventPoint maps an event to its point; unknown kinds map to nil.
func eventPoint(ev usecase.Event) *write.Point {
	switch ev.Kind {
	case usecase.EventLimitViolation:
		if ev.Violation == nil {
			return nil
		}
		v := ev.Violation
		return write.NewPoint(measurementViolation,
			map[string]string{
				"device_id": v.Device.StableID,
				"device":    v.Device.Name,
				"transport": string(v.Device.Transport),
				"mode":      string(v.Mode),
			},
			map[string]interface{}{
				"attempted": v.Attempted,
				"limit":     v.Limit,
				"event_id":  ev.ID,
			},
			ev.At)
	case usecase.EventDevicesChanged:
		return write.NewPoint(measurementTopology,
			map[string]string{"kind": string(ev.Kind)},
			map[string]interface{}{"event_id": ev.ID},
			ev.At)
	default:
		return nil
	}
}
