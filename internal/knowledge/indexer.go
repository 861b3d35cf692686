package knowledge

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/floatchat/floatchat/internal/log"
)

// Upserter is the write capability the indexer depends on.
type Upserter interface {
	Upsert(ctx context.Context, doc Document) error
}

// Indexer rebuilds the vector store from the relational schema: one
// document per cycle, aggregating its measurements.
type Indexer struct {
	db     DBTX
	store  Upserter
	logger log.Logger
}

// NewIndexer creates an Indexer reading from db and writing through store.
func NewIndexer(db DBTX, store Upserter, logger log.Logger) *Indexer {
	return &Indexer{db: db, store: store, logger: logger}
}

const cycleSummariesSQL = `
SELECT c.cycle_id, f.float_id, COALESCE(f.wmo_id, ''), COALESCE(f.project_name, 'ARGO'),
       COALESCE(f.pi_name, 'unknown'), COALESCE(f.platform_type, 'unknown'),
       f.deployment_date,
       c.cycle_number, c.profile_date, COALESCE(c.profile_type, ''),
       COALESCE(c.latitude, 0), COALESCE(c.longitude, 0),
       min(p.temperature), max(p.temperature),
       min(p.salinity), max(p.salinity),
       min(p.pressure), max(p.pressure),
       count(p.profile_id)
FROM cycles c
JOIN floats f ON f.float_id = c.float_id
LEFT JOIN profiles p ON p.cycle_id = c.cycle_id
GROUP BY c.cycle_id, f.float_id, f.wmo_id, f.project_name, f.pi_name,
         f.platform_type, f.deployment_date, c.cycle_number, c.profile_date,
         c.profile_type, c.latitude, c.longitude
ORDER BY c.cycle_id`

// Reindex composes and upserts a document for every cycle. It returns the
// number of documents written; a failing cycle is logged and skipped so one
// bad row cannot abort a full rebuild.
func (ix *Indexer) Reindex(ctx context.Context) (int, error) {
	rows, err := ix.db.Query(ctx, cycleSummariesSQL)
	if err != nil {
		return 0, fmt.Errorf("loading cycle summaries: %w", err)
	}
	defer rows.Close()

	indexed := 0
	for rows.Next() {
		var (
			c              CycleSummary
			deploymentDate pgtype.Timestamptz
			profileDate    pgtype.Timestamptz
			count          int64
		)
		err := rows.Scan(&c.CycleID, &c.FloatID, &c.WMOID, &c.ProjectName,
			&c.PIName, &c.PlatformType, &deploymentDate,
			&c.CycleNumber, &profileDate, &c.ProfileType,
			&c.Latitude, &c.Longitude,
			&c.MinTemperature, &c.MaxTemperature,
			&c.MinSalinity, &c.MaxSalinity,
			&c.MinPressure, &c.MaxPressure,
			&count)
		if err != nil {
			return indexed, fmt.Errorf("scanning cycle summary: %w", err)
		}
		if deploymentDate.Valid {
			c.DeploymentDate = deploymentDate.Time
		}
		if profileDate.Valid {
			c.ProfileDate = profileDate.Time
		}
		c.MeasurementCount = int(count)

		if err := ix.store.Upsert(ctx, ComposeCycleDocument(c)); err != nil {
			ix.logger.Warn("skipping cycle during reindex", "cycle_id", c.CycleID, "error", err)
			continue
		}
		indexed++
	}
	if err := rows.Err(); err != nil {
		return indexed, fmt.Errorf("iterating cycle summaries: %w", err)
	}

	ix.logger.Info("reindex complete", "documents", indexed)
	return indexed, nil
}
