package synclite

import (
	"context"
	"log/slog"
	"sort"
	"time"
)

// RetentionConfig bounds local cache growth for the high-churn,
// time-windowed resource types. The local store is a bounded cache of a
// remote source of truth, not a replica: retention keeps storage
// proportional to what the UI is likely to need soon.
type RetentionConfig struct {
	AppointmentsTable string
	PatientsTable     string

	// DateField holds the appointment's scheduled date.
	DateField string
	// PatientField is the appointment's foreign reference to its patient.
	PatientField string

	// WindowDays keeps appointments dated within [today, today+WindowDays].
	WindowDays int
	// MaxAppointments caps in-window appointments by recency of update.
	MaxAppointments int
	// MaxPatients caps patients; those referenced by a retained
	// appointment are always kept and count against the cap.
	MaxPatients int
}

// DefaultRetentionConfig returns the production retention bounds.
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		AppointmentsTable: "appointments",
		PatientsTable:     "patients",
		DateField:         "date",
		PatientField:      "patientId",
		WindowDays:        21,
		MaxAppointments:   300,
		MaxPatients:       60,
	}
}

// Retention prunes stale and excess cached records. Run is invoked after
// every WebSocket-driven mutation; failures are housekeeping-only and are
// logged by the caller.
type Retention struct {
	store  *Store
	cfg    RetentionConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewRetention creates a retention policy over the store.
func NewRetention(store *Store, cfg RetentionConfig) *Retention {
	return &Retention{
		store:  store,
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
	}
}

// SetLogger overrides the default logger.
func (r *Retention) SetLogger(logger *slog.Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Run executes both prunes unconditionally: appointments first (the
// retained set determines which patients are mandatory), then patients.
func (r *Retention) Run(ctx context.Context) error {
	retained, err := r.pruneAppointments(ctx)
	if err != nil {
		return err
	}
	return r.prunePatients(ctx, retained)
}

// pruneAppointments drops appointments outside [today 00:00,
// today+WindowDays 23:59:59], then caps the survivors at MaxAppointments
// by most-recently-updated. It returns the retained set.
func (r *Retention) pruneAppointments(ctx context.Context) ([]Document, error) {
	docs, err := r.store.List(ctx, r.cfg.AppointmentsTable)
	if err != nil {
		return nil, err
	}

	now := r.now()
	windowStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	windowEnd := windowStart.AddDate(0, 0, r.cfg.WindowDays+1) // exclusive

	var keep []Document
	var drop []string
	for _, doc := range docs {
		date, ok := parseTime(doc.str(r.cfg.DateField))
		inWindow := ok && !date.Before(windowStart) && date.Before(windowEnd)
		if inWindow {
			keep = append(keep, doc)
		} else if key := doc.Key(); key != "" {
			drop = append(drop, key)
		}
	}

	if r.cfg.MaxAppointments > 0 && len(keep) > r.cfg.MaxAppointments {
		sortByRecency(keep)
		for _, doc := range keep[r.cfg.MaxAppointments:] {
			if key := doc.Key(); key != "" {
				drop = append(drop, key)
			}
		}
		keep = keep[:r.cfg.MaxAppointments]
	}

	if len(drop) > 0 {
		r.logger.Debug("Pruning appointments", "count", len(drop))
		if err := r.store.DeleteAll(ctx, r.cfg.AppointmentsTable, drop); err != nil {
			return nil, err
		}
	}
	return keep, nil
}

// prunePatients always keeps patients referenced by a retained appointment,
// fills the remaining budget with the most recently updated others, and
// drops the rest.
func (r *Retention) prunePatients(ctx context.Context, appointments []Document) error {
	docs, err := r.store.List(ctx, r.cfg.PatientsTable)
	if err != nil {
		return err
	}

	mandatory := make(map[string]bool)
	for _, appt := range appointments {
		if pid := appt.str(r.cfg.PatientField); pid != "" {
			mandatory[pid] = true
		}
	}

	budget := r.cfg.MaxPatients - len(mandatory)
	if budget < 0 {
		budget = 0
	}

	var optional []Document
	var drop []string
	for _, doc := range docs {
		if mandatory[doc.Key()] {
			continue
		}
		optional = append(optional, doc)
	}
	sortByRecency(optional)
	if len(optional) > budget {
		for _, doc := range optional[budget:] {
			if key := doc.Key(); key != "" {
				drop = append(drop, key)
			}
		}
	}

	if len(drop) > 0 {
		r.logger.Debug("Pruning patients", "count", len(drop))
		return r.store.DeleteAll(ctx, r.cfg.PatientsTable, drop)
	}
	return nil
}

// sortByRecency orders documents by coalesced mutation time, newest first.
func sortByRecency(docs []Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].UpdatedAt().After(docs[j].UpdatedAt())
	})
}
