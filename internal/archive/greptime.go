package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"

	gpb "github.com/GreptimeTeam/greptime-proto/go/greptime/v1"
	greptime "github.com/GreptimeTeam/greptimedb-ingester-go"
	ingesterContext "github.com/GreptimeTeam/greptimedb-ingester-go/context"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table/types"

	"github.com/signalsfoundry/missionctl/internal/logging"
	"github.com/signalsfoundry/missionctl/model"
)

const telemetryTable = "telemetry_samples"

// greptimeClient is the slice of the ingester client the writer needs;
// narrow so tests can fake it.
type greptimeClient interface {
	Write(ctx context.Context, tables ...*table.Table) (*gpb.GreptimeResponse, error)
}

// GreptimeWriter archives telemetry samples to GreptimeDB.
type GreptimeWriter struct {
	client greptimeClient
	db     string
	log    logging.Logger
}

// NewGreptimeWriter connects to a GreptimeDB endpoint; the telemetry
// table is auto-created by GreptimeDB on first write.
func NewGreptimeWriter(endpoint, database string, log logging.Logger) (*GreptimeWriter, error) {
	if log == nil {
		log = logging.Noop()
	}
	cfg := greptime.NewConfig(endpoint).WithDatabase(database)
	if host, port, err := net.SplitHostPort(endpoint); err == nil {
		cfg = greptime.NewConfig(host).WithDatabase(database)
		if p, err := strconv.Atoi(port); err == nil {
			cfg = cfg.WithPort(p)
		}
	}
	client, err := greptime.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("greptime client: %w", err)
	}

	return &GreptimeWriter{client: client, db: database, log: log}, nil
}

// Append archives one sample.
func (w *GreptimeWriter) Append(ctx context.Context, sample model.TelemetrySample) error {
	channels, err := json.Marshal(sample.Channels)
	if err != nil {
		return fmt.Errorf("encode channels: %w", err)
	}

	tbl, err := table.New(telemetryTable)
	if err != nil {
		return fmt.Errorf("build archive row: %w", err)
	}
	if err := tbl.AddTagColumn("satellite_id", types.STRING); err != nil {
		return fmt.Errorf("build archive row: %w", err)
	}
	if err := tbl.AddFieldColumn("channels", types.STRING); err != nil {
		return fmt.Errorf("build archive row: %w", err)
	}
	if err := tbl.AddFieldColumn("anomaly_score", types.FLOAT64); err != nil {
		return fmt.Errorf("build archive row: %w", err)
	}
	if err := tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND); err != nil {
		return fmt.Errorf("build archive row: %w", err)
	}

	score := 0.0
	if sample.AnomalyScore != nil {
		score = *sample.AnomalyScore
	}
	if err := tbl.AddRow(sample.SatelliteID, string(channels), score, sample.Timestamp); err != nil {
		return fmt.Errorf("build archive row: %w", err)
	}

	wctx := ingesterContext.New(ctx)
	if _, err := w.client.Write(wctx, tbl); err != nil {
		w.log.Error(ctx, "telemetry archive write failed",
			logging.String("satellite_id", sample.SatelliteID),
			logging.String("error", err.Error()))
		return err
	}
	return nil
}
