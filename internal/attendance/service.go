// Package attendance ties liveness, recognition and storage together into the
// attendance workflows exposed over HTTP and the CLI.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/kozaktomas/smart-attendance/internal/config"
	"github.com/kozaktomas/smart-attendance/internal/constants"
	"github.com/kozaktomas/smart-attendance/internal/database"
	"github.com/kozaktomas/smart-attendance/internal/facematch"
	"github.com/kozaktomas/smart-attendance/internal/imaging"
	"github.com/kozaktomas/smart-attendance/internal/liveness"
	"github.com/kozaktomas/smart-attendance/internal/notify"
)

// FaceEncoder turns a frame into an encoding of its most prominent face.
type FaceEncoder interface {
	Encode(img image.Image) (facematch.Encoding, bool)
}

// BlinkAssessor judges a burst of frames.
type BlinkAssessor interface {
	AssessLiveness(frames []image.Image) liveness.Verdict
	MinFrames() int
}

// Options holds the policy knobs of the service.
type Options struct {
	MatchThreshold           float64
	LateHour                 int
	LateMinute               int
	MinRegistrationImages    int
	MaxRegistrationImages    int // 0 means unlimited
	MinRegistrationEncodings int
	HistoryWindowDays        int
	ListLimit                int
	FacesDir                 string // empty disables saving registration images
}

// DefaultOptions mirrors the shipped configuration.
func DefaultOptions() Options {
	return Options{
		MatchThreshold:           constants.DefaultMatchThreshold,
		LateHour:                 9,
		LateMinute:               30,
		MinRegistrationImages:    constants.MinRegistrationImages,
		MaxRegistrationImages:    constants.MaxRegistrationImages,
		MinRegistrationEncodings: constants.MinRegistrationEncodings,
		HistoryWindowDays:        constants.HistoryWindowDays,
		ListLimit:                constants.DefaultAttendanceListLimit,
	}
}

// OptionsFromConfig builds Options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	hour, minute, err := cfg.Attendance.LateCutoff()
	if err != nil {
		return Options{}, err
	}
	return Options{
		MatchThreshold:           cfg.Recognition.MatchThreshold,
		LateHour:                 hour,
		LateMinute:               minute,
		MinRegistrationImages:    cfg.Attendance.MinRegistrationImages,
		MaxRegistrationImages:    cfg.Attendance.MaxRegistrationImages,
		MinRegistrationEncodings: cfg.Attendance.MinRegistrationEncodings,
		HistoryWindowDays:        cfg.Attendance.HistoryWindowDays,
		ListLimit:                cfg.Attendance.ListLimit,
		FacesDir:                 cfg.Web.FacesDir,
	}, nil
}

// Service runs the attendance workflows. It holds no per-request state.
type Service struct {
	encoder    FaceEncoder
	blink      BlinkAssessor
	identities database.IdentityStore
	records    database.AttendanceStore
	notifier   notify.Notifier
	opts       Options
	now        func() time.Time
	logger     *slog.Logger
}

// NewService creates a Service. A nil notifier disables notifications.
func NewService(
	encoder FaceEncoder,
	blink BlinkAssessor,
	identities database.IdentityStore,
	records database.AttendanceStore,
	notifier notify.Notifier,
	opts Options,
	logger *slog.Logger,
) *Service {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.MatchThreshold <= 0 {
		opts.MatchThreshold = constants.DefaultMatchThreshold
	}
	if opts.HistoryWindowDays <= 0 {
		opts.HistoryWindowDays = constants.HistoryWindowDays
	}
	return &Service{
		encoder:    encoder,
		blink:      blink,
		identities: identities,
		records:    records,
		notifier:   notifier,
		opts:       opts,
		now:        time.Now,
		logger:     logger,
	}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// MinFrames returns the shortest accepted blink sequence.
func (s *Service) MinFrames() int {
	return s.blink.MinFrames()
}

// Scope selects which classes a query covers.
type Scope struct {
	ClassCode string
	All       bool // admin view across every class
}

func (sc Scope) classFilter() string {
	if sc.All {
		return ""
	}
	return sc.ClassCode
}

// Mark is the outcome of a recognized attendance attempt.
type Mark struct {
	Identity      database.Identity
	Record        database.AttendanceRecord
	AlreadyMarked bool
	Distance      float64
	Confidence    float64 // (1 - distance) * 100, two decimals
	Late          bool
	Liveness      *liveness.Verdict // set in blink mode
}

// MarkBlink gates recognition on a blink sequence and recognizes the middle
// frame of the burst.
func (s *Service) MarkBlink(ctx context.Context, classCode string, frames []image.Image) (*Mark, error) {
	if len(frames) == 0 {
		return nil, ErrInsufficientFrames
	}
	verdict := s.blink.AssessLiveness(frames)
	if !verdict.IsLive {
		s.logger.Info("liveness rejected", "class", classCode, "frames", len(frames),
			"outcome", verdict.Outcome.String(), "reason", verdict.Reason)
		return nil, &LivenessError{Verdict: verdict}
	}

	mark, err := s.recognize(ctx, classCode, frames[len(frames)/2])
	if err != nil {
		return nil, err
	}
	mark.Liveness = &verdict
	return mark, nil
}

// MarkSingle recognizes one frame without a liveness gate.
func (s *Service) MarkSingle(ctx context.Context, classCode string, img image.Image) (*Mark, error) {
	return s.recognize(ctx, classCode, img)
}

func (s *Service) recognize(ctx context.Context, classCode string, img image.Image) (*Mark, error) {
	if imaging.IsEmpty(img) {
		return nil, ErrDegenerateInput
	}

	probe, ok := s.encoder.Encode(img)
	if !ok {
		return nil, ErrNoFaceDetected
	}

	owners, err := s.identities.ListEncodingOwners(ctx, classCode)
	if err != nil {
		return nil, fmt.Errorf("load enrolled identities: %w", err)
	}
	if len(owners) == 0 {
		return nil, fmt.Errorf("%w %s", ErrNoIdentities, classCode)
	}

	candidates := make([]facematch.Candidate, len(owners))
	for i, o := range owners {
		candidates[i] = facematch.Candidate{ID: strconv.Itoa(i), Encodings: o.Encodings}
	}
	match, ok := facematch.MatchIdentities(probe, candidates, s.opts.MatchThreshold)
	if !ok {
		s.logger.Info("face not recognized", "class", classCode, "identities", len(owners))
		return nil, ErrNoMatch
	}
	pos, _ := strconv.Atoi(match.IdentityID)
	ident := owners[pos]
	ident.Encodings = nil

	now := s.now()
	res, err := s.records.RecordAttendanceOnce(ctx, database.AttendanceRecord{
		UserID:    ident.UserID,
		Name:      ident.Name,
		ClassCode: classCode,
		Date:      now.Format(constants.DateLayout),
		Time:      now.Format(constants.TimeLayout),
		Timestamp: now,
	})
	if err != nil {
		return nil, fmt.Errorf("record attendance: %w", err)
	}

	mark := &Mark{
		Identity:      ident,
		Record:        res.Record,
		AlreadyMarked: res.AlreadyMarked,
		Distance:      match.Distance,
		Confidence:    match.Confidence(),
	}
	if res.AlreadyMarked {
		s.logger.Info("attendance already marked", "user_id", ident.UserID, "class", classCode, "time", res.Record.Time)
		return mark, nil
	}

	mark.Late = s.IsLate(res.Record.Time)
	s.logger.Info("attendance marked", "user_id", ident.UserID, "class", classCode,
		"distance", match.Distance, "late", mark.Late)
	s.notify(ctx, ident, now, mark.Late)
	return mark, nil
}

// notify never fails the request.
func (s *Service) notify(ctx context.Context, ident database.Identity, at time.Time, late bool) {
	if ident.Email != "" {
		if err := s.notifier.AttendanceMarked(ctx, ident, at); err != nil {
			s.logger.Warn("attendance notification failed", "user_id", ident.UserID, "error", err)
		}
	}
	if late {
		if err := s.notifier.LateArrival(ctx, ident, at); err != nil {
			s.logger.Warn("late arrival alert failed", "user_id", ident.UserID, "error", err)
		}
	}
}

// IsLate reports whether an HH:MM[:SS] time is after the late cutoff.
// Seconds are ignored, so 09:30:59 is on time with a 09:30 cutoff.
func (s *Service) IsLate(clock string) bool {
	t, err := time.Parse(constants.TimeLayout, clock)
	if err != nil {
		if t, err = time.Parse("15:04", clock); err != nil {
			return false
		}
	}
	return t.Hour() > s.opts.LateHour || (t.Hour() == s.opts.LateHour && t.Minute() > s.opts.LateMinute)
}

// IsLateRecord adapts IsLate for report.WriteCSV.
func (s *Service) IsLateRecord(rec database.AttendanceRecord) bool {
	return s.IsLate(rec.Time)
}

// Users lists active identities of a class with their encoding counts. A
// non-empty query keeps users whose name or id contains it, ignoring case and
// diacritics.
func (s *Service) Users(ctx context.Context, classCode, query string) ([]database.Identity, error) {
	users, err := s.identities.ListIdentities(ctx, classCode)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	if strings.TrimSpace(query) == "" {
		return users, nil
	}
	matched := make([]database.Identity, 0, len(users))
	for _, u := range users {
		if facematch.NameMatches(u.Name, u.UserID, query) {
			matched = append(matched, u)
		}
	}
	return matched, nil
}

// DeleteUser soft-deletes a user of the class. Returns false when not found.
func (s *Service) DeleteUser(ctx context.Context, classCode, userID string) (bool, error) {
	ok, err := s.identities.DeactivateIdentity(ctx, classCode, userID)
	if err != nil {
		return false, fmt.Errorf("delete user: %w", err)
	}
	if ok {
		s.logger.Info("user deactivated", "user_id", userID, "class", classCode)
	}
	return ok, nil
}

// List returns records for one day ordered by time, or the most recent
// records when date is empty.
func (s *Service) List(ctx context.Context, scope Scope, date, userID string) ([]database.AttendanceRecord, error) {
	filter := database.AttendanceFilter{ClassCode: scope.classFilter(), UserID: userID}
	if date != "" {
		if err := validateDate(date); err != nil {
			return nil, err
		}
		filter.Date = date
	} else {
		filter.Limit = s.opts.ListLimit
	}
	records, err := s.records.ListAttendance(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	return records, nil
}

// Stats summarizes today's attendance.
type Stats struct {
	Date           string  `json:"-"`
	TotalUsers     int     `json:"total_users"`
	PresentToday   int     `json:"present_today"`
	AbsentToday    int     `json:"absent_today"`
	AttendanceRate float64 `json:"attendance_rate"`
	LateArrivals   int     `json:"late_arrivals"`
	OnTime         int     `json:"on_time"`
}

// Stats computes today's figures for the scope.
func (s *Service) Stats(ctx context.Context, scope Scope) (*Stats, error) {
	today := s.now().Format(constants.DateLayout)
	records, err := s.records.ListAttendance(ctx, database.AttendanceFilter{ClassCode: scope.classFilter(), Date: today})
	if err != nil {
		return nil, fmt.Errorf("list today's attendance: %w", err)
	}
	total, err := s.identities.CountIdentities(ctx, scope.classFilter())
	if err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}

	st := &Stats{Date: today, TotalUsers: total, PresentToday: len(records)}
	st.AbsentToday = max(total-st.PresentToday, 0)
	if total > 0 {
		st.AttendanceRate = round2(float64(st.PresentToday) / float64(total) * 100)
	}
	for _, r := range records {
		if s.IsLate(r.Time) {
			st.LateArrivals++
		}
	}
	st.OnTime = st.PresentToday - st.LateArrivals
	return st, nil
}

// HistoryStats summarizes a user's records.
type HistoryStats struct {
	TotalDays      int     `json:"total_days"`
	LateDays       int     `json:"late_days"`
	OnTimeDays     int     `json:"on_time_days"`
	AttendanceRate float64 `json:"attendance_rate"`
}

// History returns a user's recent records and statistics. The rate is the
// number of attended days over the history window.
func (s *Service) History(ctx context.Context, scope Scope, userID string) ([]database.AttendanceRecord, *HistoryStats, error) {
	records, err := s.records.ListAttendance(ctx, database.AttendanceFilter{
		ClassCode: scope.classFilter(),
		UserID:    userID,
		Limit:     s.opts.ListLimit,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("list user attendance: %w", err)
	}

	st := &HistoryStats{TotalDays: len(records)}
	for _, r := range records {
		if s.IsLate(r.Time) {
			st.LateDays++
		}
	}
	st.OnTimeDays = st.TotalDays - st.LateDays
	st.AttendanceRate = round2(float64(st.TotalDays) / float64(s.opts.HistoryWindowDays) * 100)
	return records, st, nil
}

// Export returns the records to put in a CSV export. Either bound of the
// inclusive date range may be empty.
func (s *Service) Export(ctx context.Context, scope Scope, startDate, endDate string) ([]database.AttendanceRecord, error) {
	for _, d := range []string{startDate, endDate} {
		if d != "" {
			if err := validateDate(d); err != nil {
				return nil, err
			}
		}
	}
	if startDate != "" && endDate != "" && startDate > endDate {
		return nil, fmt.Errorf("%w: start_date %s is after end_date %s", ErrInvalidDate, startDate, endDate)
	}

	records, err := s.records.ListAttendance(ctx, database.AttendanceFilter{
		ClassCode: scope.classFilter(),
		StartDate: startDate,
		EndDate:   endDate,
	})
	if err != nil {
		return nil, fmt.Errorf("list attendance for export: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrNoRecords
	}
	return records, nil
}

func validateDate(d string) error {
	if _, err := time.Parse(constants.DateLayout, d); err != nil {
		return fmt.Errorf("%w %q, expected YYYY-MM-DD", ErrInvalidDate, d)
	}
	return nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// IsRegistrationError reports whether err is a client-side registration problem.
func IsRegistrationError(err error) bool {
	return errors.Is(err, ErrTooFewImages) || errors.Is(err, ErrTooManyImages) || errors.Is(err, ErrTooFewEncodings)
}
