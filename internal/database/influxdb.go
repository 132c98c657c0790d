package database

import (
	"context"
	"os"
	"strconv"
	"time"

	"qsnet-switch/internal/capability"
	"qsnet-switch/internal/config"
	"qsnet-switch/internal/logging"

	"github.com/cockroachdb/errors"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"
)

const allocationMeasurement = "qsw_allocation"

// AllocationRecord describes one job allocation made by the CLI.
type AllocationRecord struct {
	LaunchID       string              `json:"launch_id"`
	ConfigChecksum string              `json:"config_checksum"`
	Layout         string              `json:"layout"`
	Hosts          []string            `json:"hosts,omitempty"`
	Job            *capability.JobInfo `json:"job"`
	CreatedAt      time.Time           `json:"created_at"`
}

// Recorder receives allocation records.
type Recorder interface {
	RecordAllocation(ctx context.Context, rec *AllocationRecord) error
	Close()
}

type NopRecorder struct{}

func (NopRecorder) RecordAllocation(context.Context, *AllocationRecord) error { return nil }
func (NopRecorder) Close()                                                    {}

type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

type InfluxRecorder struct {
	client   influxdb2.Client
	writeAPI pointWriter
	bucket   string
	host     string
	spoolDir string
	logger   logrus.FieldLogger
}

// NewInfluxRecorder connects to InfluxDB and checks its health. Records that
// fail to write are spooled to spoolDir instead (DefaultSpoolDir when empty).
func NewInfluxRecorder(ctx context.Context, cfg config.DatabaseConfig, spoolDir string) (*InfluxRecorder, error) {
	logger := logging.GetLogger()

	client := influxdb2.NewClient(cfg.Host, cfg.Token)

	hctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	health, err := client.Health(hctx)
	if err != nil {
		logger.WithField("host", cfg.Host).WithError(err).Error("Failed to connect to InfluxDB")
		client.Close()
		return nil, errors.Wrapf(err, "connect %s", cfg.Host)
	}
	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		logger.WithFields(logrus.Fields{
			"host":    cfg.Host,
			"status":  health.Status,
			"message": msg,
		}).Error("InfluxDB health check failed")
		client.Close()
		return nil, errors.Newf("influxdb %s unhealthy: %s", cfg.Host, health.Status)
	}

	logger.WithFields(logrus.Fields{
		"host":   cfg.Host,
		"bucket": cfg.Name,
		"org":    cfg.Org,
	}).Info("Connected to InfluxDB")

	r := newInfluxRecorder(client.WriteAPIBlocking(cfg.Org, cfg.Name), cfg.Name, spoolDir, logger)
	r.client = client
	return r, nil
}

func newInfluxRecorder(w pointWriter, bucket, spoolDir string, logger logrus.FieldLogger) *InfluxRecorder {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return &InfluxRecorder{
		writeAPI: w,
		bucket:   bucket,
		host:     host,
		spoolDir: spoolDir,
		logger:   logging.OrDefault(logger),
	}
}

func (r *InfluxRecorder) RecordAllocation(ctx context.Context, rec *AllocationRecord) error {
	if rec == nil || rec.Job == nil {
		return errors.New("allocation record has no job")
	}
	if err := r.writeAPI.WritePoint(ctx, r.allocationPoint(rec)); err != nil {
		path, serr := WriteSpoolArtifact(r.spoolDir, BuildSpoolArtifact(rec))
		if serr != nil {
			return errors.CombineErrors(errors.Wrap(err, "write allocation point"), serr)
		}
		r.logger.WithError(err).WithField("spool", path).Warn("InfluxDB write failed, allocation spooled")
		return nil
	}
	r.logger.WithFields(logrus.Fields{
		"program_id": rec.Job.ProgramID,
		"bucket":     r.bucket,
	}).Debug("Allocation recorded")
	return nil
}

func (r *InfluxRecorder) allocationPoint(rec *AllocationRecord) *write.Point {
	c := &rec.Job.Capability
	ts := rec.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return influxdb2.NewPoint(allocationMeasurement,
		map[string]string{
			"launch_id":       rec.LaunchID,
			"config_checksum": rec.ConfigChecksum,
			"layout":          rec.Layout,
			"host":            r.host,
		},
		map[string]interface{}{
			"program_id":   int64(rec.Job.ProgramID),
			"context_low":  int64(c.LowContext),
			"context_high": int64(c.HighContext),
			"node_low":     int64(c.LowNode),
			"node_high":    int64(c.HighNode),
			"entries":      int64(c.Entries),
			"rail_mask":    int64(c.RailMask),
			"type_flags":   strconv.FormatUint(uint64(c.Type), 16),
			"slots":        config.FormatNodeSpec(c.Bitmap.Indices()),
		},
		ts)
}

func (r *InfluxRecorder) Close() {
	if r.client != nil {
		r.client.Close()
	}
}
