package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/mantonx/streamforge/internal/database"
	"github.com/mantonx/streamforge/internal/session"
)

// Scheduler persists deferred stream starts and fires them through the
// same admission path as manual starts. All times are UTC inside the
// system; conversion happens at the HTTP boundary.
type Scheduler struct {
	db       *gorm.DB
	manager  *session.Manager
	resolver session.ContentResolver
	wheel    TimerWheel
	logger   hclog.Logger
}

// ScheduleInput is one schedule create or update request.
type ScheduleInput struct {
	StreamKeyID      uint
	Content          session.Content
	ScheduledAt      time.Time
	Recurrence       string
	Loop             bool
	MaxDurationHours float64
}

// New builds a scheduler. The caller wires the wheel's fire callback
// to Fire before starting the wheel.
func New(db *gorm.DB, manager *session.Manager, resolver session.ContentResolver, logger hclog.Logger) *Scheduler {
	return &Scheduler{
		db:       db,
		manager:  manager,
		resolver: resolver,
		logger:   logger.Named("scheduler"),
	}
}

// SetWheel attaches the timer wheel. Split from New because the
// wheel's fire callback needs the scheduler first.
func (s *Scheduler) SetWheel(w TimerWheel) {
	s.wheel = w
}

func validRecurrence(r string) bool {
	switch r {
	case database.RecurrenceNone, database.RecurrenceDaily, database.RecurrenceWeekly:
		return true
	}
	return false
}

// Schedule validates the request, persists a pending row, and
// registers its timer.
func (s *Scheduler) Schedule(in ScheduleInput) (*database.ScheduledLive, error) {
	if !validRecurrence(in.Recurrence) {
		return nil, session.ErrBadRecurrence
	}
	at := in.ScheduledAt.UTC()
	if !at.After(time.Now().UTC()) {
		return nil, session.ErrPastScheduledTime
	}
	resolved, err := s.resolver.Resolve(in.Content)
	if err != nil {
		return nil, err
	}

	row := &database.ScheduledLive{
		StreamKeyID:      in.StreamKeyID,
		ContentKind:      in.Content.Kind,
		ContentID:        in.Content.ID,
		ContentName:      resolved.Name,
		ScheduledAt:      at,
		Recurrence:       in.Recurrence,
		Loop:             in.Loop,
		MaxDurationHours: in.MaxDurationHours,
		Status:           database.SchedulePending,
	}
	if err := s.db.Create(row).Error; err != nil {
		return nil, fmt.Errorf("failed to create schedule: %w", err)
	}
	if err := s.register(row); err != nil {
		// Without a job id the row would sit pending with no timer
		// until the next boot recovery. Take it back out.
		s.db.Delete(row)
		return nil, err
	}

	s.logger.Info("stream scheduled",
		"schedule_id", row.ID,
		"scheduled_at", at.Format(time.RFC3339),
		"recurrence", in.Recurrence)
	return row, nil
}

// register binds a timer to the row and stores the resulting job id.
// The timer is cancelled again if the job id cannot be persisted, so a
// failed registration never leaves a live timer the row does not know
// about.
func (s *Scheduler) register(row *database.ScheduledLive) error {
	handle := s.wheel.RegisterOnce(row.ScheduledAt, row.ID)
	if err := s.db.Model(row).Update("job_id", handle).Error; err != nil {
		s.wheel.Cancel(handle)
		return fmt.Errorf("failed to store job id: %w", err)
	}
	row.JobID = handle
	return nil
}

// Fire runs one trigger. It is the wheel's callback and is also called
// directly for overdue triggers at boot. Firing anything not pending
// is a no-op, which makes duplicate timers and races with Cancel
// harmless.
func (s *Scheduler) Fire(scheduleID uint) {
	var row database.ScheduledLive
	if err := s.db.First(&row, scheduleID).Error; err != nil {
		s.logger.Error("fired unknown schedule", "schedule_id", scheduleID, "error", err)
		return
	}
	if row.Status != database.SchedulePending {
		return
	}

	res := s.db.Model(&database.ScheduledLive{}).
		Where("id = ? AND status = ?", scheduleID, database.SchedulePending).
		Update("status", database.ScheduleRunning)
	if res.Error != nil || res.RowsAffected == 0 {
		return
	}

	sess, err := s.manager.StartManual(session.StartInput{
		StreamKeyID:      row.StreamKeyID,
		Content:          session.Content{Kind: row.ContentKind, ID: row.ContentID},
		Loop:             row.Loop,
		MaxDurationHours: row.MaxDurationHours,
	})
	if err != nil {
		s.logger.Warn("scheduled start failed", "schedule_id", scheduleID, "error", err)
		s.db.Model(&database.ScheduledLive{}).Where("id = ?", scheduleID).Updates(map[string]any{
			"status":        database.ScheduleFailed,
			"error_message": err.Error(),
		})
	} else {
		s.logger.Info("scheduled start fired", "schedule_id", scheduleID, "session_id", sess.ID)
		s.db.Model(&database.ScheduledLive{}).Where("id = ?", scheduleID).Updates(map[string]any{
			"status":          database.ScheduleCompleted,
			"live_session_id": sess.ID,
		})
	}

	s.scheduleRecurrence(&row)
}

// scheduleRecurrence queues the next occurrence of a recurring
// trigger. Occurrences missed while the host was down are skipped, not
// backfilled; only the next future one is registered.
func (s *Scheduler) scheduleRecurrence(row *database.ScheduledLive) {
	var step time.Duration
	switch row.Recurrence {
	case database.RecurrenceDaily:
		step = 24 * time.Hour
	case database.RecurrenceWeekly:
		step = 7 * 24 * time.Hour
	default:
		return
	}
	next := row.ScheduledAt.Add(step)
	now := time.Now().UTC()
	for !next.After(now) {
		next = next.Add(step)
	}

	fresh := &database.ScheduledLive{
		StreamKeyID:      row.StreamKeyID,
		ContentKind:      row.ContentKind,
		ContentID:        row.ContentID,
		ContentName:      row.ContentName,
		ScheduledAt:      next,
		Recurrence:       row.Recurrence,
		Loop:             row.Loop,
		MaxDurationHours: row.MaxDurationHours,
		Status:           database.SchedulePending,
	}
	if err := s.db.Create(fresh).Error; err != nil {
		s.logger.Error("failed to create recurrence", "schedule_id", row.ID, "error", err)
		return
	}
	if err := s.register(fresh); err != nil {
		s.logger.Error("failed to register recurrence", "schedule_id", fresh.ID, "error", err)
		return
	}
	s.logger.Info("recurrence queued",
		"schedule_id", fresh.ID,
		"parent_id", row.ID,
		"scheduled_at", next.Format(time.RFC3339))
}

// Update replaces a pending trigger's parameters and re-registers its
// timer under a fresh job id.
func (s *Scheduler) Update(id uint, in ScheduleInput) (*database.ScheduledLive, error) {
	if !validRecurrence(in.Recurrence) {
		return nil, session.ErrBadRecurrence
	}
	at := in.ScheduledAt.UTC()
	if !at.After(time.Now().UTC()) {
		return nil, session.ErrPastScheduledTime
	}
	resolved, err := s.resolver.Resolve(in.Content)
	if err != nil {
		return nil, err
	}

	row, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if row.Status != database.SchedulePending {
		return nil, session.ErrNotPending
	}

	// The old timer stays live until the new parameters are persisted;
	// if the write fails the trigger still fires at its original time.
	updates := map[string]any{
		"stream_key_id":      in.StreamKeyID,
		"content_kind":       in.Content.Kind,
		"content_id":         in.Content.ID,
		"content_name":       resolved.Name,
		"scheduled_at":       at,
		"recurrence":         in.Recurrence,
		"loop":               in.Loop,
		"max_duration_hours": in.MaxDurationHours,
	}
	if err := s.db.Model(&database.ScheduledLive{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update schedule: %w", err)
	}
	s.wheel.Cancel(row.JobID)

	row, err = s.Get(id)
	if err != nil {
		return nil, err
	}
	if err := s.register(row); err != nil {
		return nil, err
	}
	return row, nil
}

// Cancel deregisters a pending trigger's timer and finalizes it as
// cancelled. The timer is gone before the status write returns.
func (s *Scheduler) Cancel(id uint) error {
	row, err := s.Get(id)
	if err != nil {
		return err
	}
	if row.Status != database.SchedulePending {
		return session.ErrNotPending
	}
	s.wheel.Cancel(row.JobID)

	res := s.db.Model(&database.ScheduledLive{}).
		Where("id = ? AND status = ?", id, database.SchedulePending).
		Update("status", database.ScheduleCancelled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return session.ErrNotPending
	}
	s.logger.Info("schedule cancelled", "schedule_id", id)
	return nil
}

// Get loads one trigger.
func (s *Scheduler) Get(id uint) (*database.ScheduledLive, error) {
	var row database.ScheduledLive
	if err := s.db.First(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, session.ErrMissingTrigger
		}
		return nil, err
	}
	return &row, nil
}

// List returns triggers, optionally filtered by status and stream key.
func (s *Scheduler) List(status string, streamKeyID uint) ([]database.ScheduledLive, error) {
	q := s.db.Order("scheduled_at")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if streamKeyID != 0 {
		q = q.Where("stream_key_id = ?", streamKeyID)
	}
	var rows []database.ScheduledLive
	err := q.Find(&rows).Error
	return rows, err
}

// RecoverOnBoot rebuilds timer state after a host restart: overdue
// pending triggers fire immediately, future ones get fresh timers, and
// rows stuck in running are reconciled against their spawned session.
func (s *Scheduler) RecoverOnBoot() error {
	var pending []database.ScheduledLive
	if err := s.db.Where("status = ?", database.SchedulePending).Find(&pending).Error; err != nil {
		return err
	}
	now := time.Now().UTC()
	for i := range pending {
		row := &pending[i]
		if row.ScheduledAt.After(now) {
			if err := s.register(row); err != nil {
				s.logger.Error("failed to re-register schedule", "schedule_id", row.ID, "error", err)
			}
			continue
		}
		s.logger.Warn("firing overdue schedule", "schedule_id", row.ID,
			"scheduled_at", row.ScheduledAt.Format(time.RFC3339))
		s.Fire(row.ID)
	}

	// A row in running means the host died between fire and finalize.
	var stuck []database.ScheduledLive
	if err := s.db.Where("status = ?", database.ScheduleRunning).Find(&stuck).Error; err != nil {
		return err
	}
	for i := range stuck {
		row := &stuck[i]
		completed := false
		if row.LiveSessionID != nil {
			if sess, err := s.manager.Store().GetByID(*row.LiveSessionID); err == nil && sess.IsActive() {
				completed = true
			}
		}
		if completed {
			s.db.Model(row).Update("status", database.ScheduleCompleted)
		} else {
			s.db.Model(row).Updates(map[string]any{
				"status":        database.ScheduleFailed,
				"error_message": "host restarted before the scheduled start finished",
			})
		}
	}
	return nil
}
