package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crewdesk.io/internal/ids"
	"crewdesk.io/internal/notify"
	"crewdesk.io/internal/obs"
	"crewdesk.io/internal/qrtoken"
	"crewdesk.io/internal/schedule"
)

const operativeDayFormat = "2006-01-02"

// Recorder applies the per-user, per-day check-in/check-out state machine.
// A user is in an open session iff their most recent checkin has no later
// checkout; checkins deduplicate per operative day.
type Recorder struct {
	tokens    qrtoken.Service
	directory schedule.Directory
	notifier  notify.Notifier
	store     Store

	// loc anchors the operative-day boundary. One timezone for dedupe,
	// lateness and the absence sweep; see CREWDESK_BUSINESS_TZ.
	loc *time.Location

	// nightShift permits a checkout to close a checkin from a previous
	// operative day (cross-midnight shifts).
	nightShift bool

	now func() time.Time
}

// Option configures the Recorder.
type Option func(*Recorder)

// WithBusinessLocation sets the timezone anchoring the operative day.
func WithBusinessLocation(loc *time.Location) Option {
	return func(r *Recorder) {
		if loc != nil {
			r.loc = loc
		}
	}
}

// WithNightShift toggles cross-midnight checkout pairing.
func WithNightShift(enabled bool) Option {
	return func(r *Recorder) { r.nightShift = enabled }
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRecorder wires the recorder with its collaborators.
func NewRecorder(tokens qrtoken.Service, directory schedule.Directory, notifier notify.Notifier, store Store, opts ...Option) *Recorder {
	r := &Recorder{
		tokens:    tokens,
		directory: directory,
		notifier:  notifier,
		store:     store,
		loc:       time.UTC,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RequestMeta carries provenance captured at the HTTP edge.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// Record validates the presented token and applies one state transition.
// On success the created log is returned; business-rule rejections come
// back as the typed sentinels in types.go.
func (r *Recorder) Record(ctx context.Context, userID, tokenValue string, action Action, meta RequestMeta) (*Log, error) {
	tok, err := r.tokens.Validate(ctx, tokenValue)
	if err != nil {
		if errors.Is(err, qrtoken.ErrNotFound) || errors.Is(err, qrtoken.ErrExpired) {
			obs.IncAttendance(string(action), "invalid_token")
			return nil, ErrInvalidToken
		}
		return nil, err
	}

	member, err := r.directory.Find(ctx, userID)
	if err != nil {
		if errors.Is(err, schedule.ErrNotFound) {
			return nil, ErrUnknownUser
		}
		return nil, err
	}

	now := r.now().In(r.loc)
	dayStart, dayEnd := r.operativeWindow(now)

	switch action {
	case ActionCheckin:
		if err := r.checkinAllowed(ctx, userID, dayStart, dayEnd); err != nil {
			obs.IncAttendance(string(action), "rejected")
			return nil, err
		}
	case ActionCheckout:
		if err := r.checkoutAllowed(ctx, userID, dayStart); err != nil {
			obs.IncAttendance(string(action), "rejected")
			return nil, err
		}
	default:
		return nil, fmt.Errorf("attendance: unknown action %q", action)
	}

	log := &Log{
		ID:            ids.New(),
		UserID:        userID,
		Action:        action,
		Timestamp:     now,
		OperativeDay:  dayStart.Format(operativeDayFormat),
		Method:        MethodQR,
		TokenValue:    tok.Value,
		TokenSequence: tok.SequenceNumber,
	}
	if meta.IP != "" || meta.UserAgent != "" {
		log.Metadata = map[string]string{}
		if meta.IP != "" {
			log.Metadata["ip"] = meta.IP
		}
		if meta.UserAgent != "" {
			log.Metadata["user_agent"] = meta.UserAgent
		}
	}

	if err := r.store.Insert(ctx, log); err != nil {
		if errors.Is(err, ErrAlreadyCheckedIn) {
			// Unique (user, operative day) checkin constraint caught a
			// concurrent double scan.
			obs.IncAttendance(string(action), "rejected")
			return nil, ErrAlreadyCheckedIn
		}
		return nil, err
	}
	obs.IncAttendance(string(action), "ok")

	if err := r.tokens.MarkUsed(ctx, tok.Value); err != nil {
		// Usage accounting is advisory; the attendance record stands.
		obs.LogRequest(map[string]any{
			"ts":    time.Now().UTC().Format(time.RFC3339Nano),
			"level": "warn",
			"msg":   "mark token used failed",
			"error": err.Error(),
		})
	}

	if action == ActionCheckin {
		r.notifyIfLate(ctx, member, now)
	}
	return log, nil
}

// checkinAllowed enforces the same-day dedupe, independent of session state.
func (r *Recorder) checkinAllowed(ctx context.Context, userID string, dayStart, dayEnd time.Time) error {
	exists, err := r.store.HasCheckinBetween(ctx, userID, dayStart, dayEnd)
	if err != nil {
		return err
	}
	if exists {
		return ErrAlreadyCheckedIn
	}
	return nil
}

// checkoutAllowed walks the user's log order: a checkout needs an open
// checkin, closed sessions from today reject as double checkout, and an
// open checkin from a previous day only pairs when night shifts are on.
func (r *Recorder) checkoutAllowed(ctx context.Context, userID string, dayStart time.Time) error {
	last, err := r.store.LastCheckin(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrLogNotFound) {
			return ErrNoOpenSession
		}
		return err
	}
	closed, err := r.store.HasCheckoutSince(ctx, userID, last.Timestamp)
	if err != nil {
		return err
	}
	sameDay := !last.Timestamp.In(r.loc).Before(dayStart)
	if closed {
		if sameDay {
			return ErrAlreadyCheckedOut
		}
		return ErrNoOpenSession
	}
	if !sameDay && !r.nightShift {
		return ErrNoOpenSession
	}
	return nil
}

func (r *Recorder) notifyIfLate(ctx context.Context, member *schedule.Member, at time.Time) {
	start, ok := member.StartFor(at.Weekday())
	if !ok {
		return
	}
	minuteOfDay := at.Hour()*60 + at.Minute()
	late := minuteOfDay - int(start)
	if late <= 0 {
		return
	}
	err := r.notifier.NotifyLateArrival(ctx, notify.LateArrival{
		UserID:      member.ID,
		Name:        member.Name,
		LateMinutes: late,
		ExpectedAt:  start.Clock(),
		CheckedInAt: at,
	})
	if err != nil {
		// Never fail the check-in over a notification.
		obs.LogRequest(map[string]any{
			"ts":    time.Now().UTC().Format(time.RFC3339Nano),
			"level": "warn",
			"msg":   "late arrival notification failed",
			"error": err.Error(),
		})
	}
}

// SweepAbsent notifies for every active member scheduled today without a
// checkin. The absence marker makes re-runs within the same operative day
// no-ops per user. Returns the number of notifications emitted.
func (r *Recorder) SweepAbsent(ctx context.Context) (int, error) {
	members, err := r.directory.ListActive(ctx)
	if err != nil {
		return 0, err
	}
	now := r.now().In(r.loc)
	dayStart, dayEnd := r.operativeWindow(now)
	day := dayStart.Format(operativeDayFormat)

	notified := 0
	for _, m := range members {
		if !m.WorksOn(now.Weekday()) {
			continue
		}
		present, err := r.store.HasCheckinBetween(ctx, m.ID, dayStart, dayEnd)
		if err != nil {
			return notified, err
		}
		if present {
			continue
		}
		fresh, err := r.store.MarkAbsent(ctx, m.ID, day)
		if err != nil {
			return notified, err
		}
		if !fresh {
			continue
		}
		if err := r.notifier.NotifyAbsence(ctx, notify.Absence{UserID: m.ID, Name: m.Name, Day: day}); err != nil {
			obs.LogRequest(map[string]any{
				"ts":      time.Now().UTC().Format(time.RFC3339Nano),
				"level":   "warn",
				"msg":     "absence notification failed",
				"user_id": m.ID,
				"error":   err.Error(),
			})
			continue
		}
		notified++
	}
	return notified, nil
}

// Correct applies an administrator timestamp/notes correction. The record's
// method becomes manual and the original timestamp is preserved in metadata.
func (r *Recorder) Correct(ctx context.Context, logID string, newTimestamp time.Time, note, actorID string) (*Log, error) {
	log, err := r.store.Find(ctx, logID)
	if err != nil {
		return nil, err
	}
	if log.Metadata == nil {
		log.Metadata = map[string]string{}
	}
	log.Metadata["corrected_by"] = actorID
	log.Metadata["original_timestamp"] = log.Timestamp.Format(time.RFC3339)
	if note != "" {
		log.Metadata["note"] = note
	}
	if !newTimestamp.IsZero() {
		ts := newTimestamp.In(r.loc)
		log.Timestamp = ts
		dayStart, _ := r.operativeWindow(ts)
		log.OperativeDay = dayStart.Format(operativeDayFormat)
	}
	log.Method = MethodManual
	if err := r.store.Update(ctx, log); err != nil {
		return nil, err
	}
	return log, nil
}

// History lists a user's logs, most recent first.
func (r *Recorder) History(ctx context.Context, userID string, limit int) ([]Log, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return r.store.History(ctx, userID, limit)
}

// operativeWindow returns [start, end) of the operative day containing t,
// anchored at midnight in the business timezone.
func (r *Recorder) operativeWindow(t time.Time) (time.Time, time.Time) {
	local := t.In(r.loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, r.loc)
	return start, start.AddDate(0, 0, 1)
}
