// workers/ledger_archive_worker.go
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"reward-engine/models"
	"reward-engine/utils"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// LedgerArchiveWorker exports each day's ledger entries to object storage
// as a JSON document. The export is an audit copy; the database remains the
// source of truth for replay and verification.
type LedgerArchiveWorker struct {
	DB  *gorm.DB
	Log *logrus.Logger
	R2  *utils.R2Client
}

func NewLedgerArchiveWorker(db *gorm.DB, log *logrus.Logger, r2 *utils.R2Client) *LedgerArchiveWorker {
	return &LedgerArchiveWorker{DB: db, Log: log, R2: r2}
}

// ArchivePreviousDay uploads all entries created during the previous local
// day under ledger/YYYY/MM/DD.json. Re-running overwrites the same key, so
// the job is safe to repeat.
func (w *LedgerArchiveWorker) ArchivePreviousDay(ctx context.Context) error {
	now := time.Now()
	dayEnd := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	dayStart := dayEnd.AddDate(0, 0, -1)
	return w.ArchiveRange(ctx, dayStart, dayEnd)
}

// ArchiveRange exports entries with created_at in [from, to).
func (w *LedgerArchiveWorker) ArchiveRange(ctx context.Context, from, to time.Time) error {
	var entries []models.LedgerEntry
	if err := w.DB.WithContext(ctx).
		Where("created_at >= ? AND created_at < ?", from, to).
		Order("id ASC").
		Find(&entries).Error; err != nil {
		return fmt.Errorf("failed to load ledger entries: %w", err)
	}

	if len(entries) == 0 {
		w.Log.WithField("day", from.Format("2006-01-02")).Info("no ledger entries to archive")
		return nil
	}

	doc := struct {
		From    time.Time            `json:"from"`
		To      time.Time            `json:"to"`
		Count   int                  `json:"count"`
		Entries []models.LedgerEntry `json:"entries"`
	}{From: from, To: to, Count: len(entries), Entries: entries}

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode archive: %w", err)
	}

	key := fmt.Sprintf("ledger/%s.json", from.Format("2006/01/02"))
	if err := w.R2.UploadBytes(ctx, key, "application/json", body); err != nil {
		return err
	}

	w.Log.WithFields(logrus.Fields{
		"key":     key,
		"entries": len(entries),
	}).Info("ledger archive uploaded")
	return nil
}
