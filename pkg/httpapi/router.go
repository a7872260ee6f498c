package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/smith3v/tg-med-reminder/pkg/alarm"
	"github.com/smith3v/tg-med-reminder/pkg/db"
	"github.com/smith3v/tg-med-reminder/pkg/logger"
	"github.com/smith3v/tg-med-reminder/pkg/medications"
	"gorm.io/datatypes"
)

type AlarmLister interface {
	Pending(ctx context.Context, userID int64) ([]db.PendingAlarm, error)
}

type MedicationService interface {
	List(ctx context.Context, userID int64) ([]db.Medication, error)
	RearmUser(ctx context.Context, userID int64) (alarm.Outcome, error)
	UpdateSchedules(ctx context.Context, userID int64, id uuid.UUID, schedules []db.Schedule) (alarm.Outcome, error)
}

type Recoverer interface {
	RecoverAll(ctx context.Context) (alarm.RecoveryReport, error)
}

type Options struct {
	Alarms      AlarmLister
	Medications MedicationService
	Recovery    Recoverer
}

func NewRouter(opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger)
	r.Use(chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/users/{userID}", func(ur chi.Router) {
		ur.Get("/alarms", listAlarmsHandler(opts.Alarms))
		ur.Get("/medications", listMedicationsHandler(opts.Medications))
		ur.Put("/medications/{medicationID}/schedules", updateSchedulesHandler(opts.Medications))
		ur.Post("/rearm", rearmHandler(opts.Medications))
	})
	r.Post("/recover", recoverHandler(opts.Recovery))

	return r
}

type alarmResponse struct {
	RequestCode    int32     `json:"request_code"`
	FireAt         time.Time `json:"fire_at"`
	MedicationID   string    `json:"medication_id"`
	MedicationName string    `json:"medication_name"`
	Dosage         string    `json:"dosage"`
	DosageUnit     string    `json:"dosage_unit"`
	ScheduleIndex  int       `json:"schedule_index"`
	SlotTime       string    `json:"slot_time"`
}

type scheduleResponse struct {
	WeekDays []int    `json:"week_days"`
	Times    []string `json:"times"`
	Amounts  []string `json:"amounts"`
	AsNeeded bool     `json:"as_needed"`
}

type medicationResponse struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Dosage       string             `json:"dosage"`
	DosageUnit   string             `json:"dosage_unit"`
	Type         string             `json:"type,omitempty"`
	Stock        *int               `json:"stock,omitempty"`
	Instructions *string            `json:"instructions,omitempty"`
	Color        *string            `json:"color,omitempty"`
	Schedules    []scheduleResponse `json:"schedules"`
}

type outcomeResponse struct {
	Deferred   bool    `json:"deferred"`
	Registered int     `json:"registered"`
	Codes      []int32 `json:"codes"`
}

func listAlarmsHandler(alarms AlarmLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userIDParam(w, r)
		if !ok {
			return
		}
		items, err := alarms.Pending(r.Context(), userID)
		if err != nil {
			logger.Error("failed to list pending alarms", "user_id", userID, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		out := make([]alarmResponse, 0, len(items))
		for _, a := range items {
			out = append(out, alarmResponse{
				RequestCode:    a.RequestCode,
				FireAt:         a.FireAt.UTC(),
				MedicationID:   a.MedicationID.String(),
				MedicationName: a.MedicationName,
				Dosage:         a.Dosage,
				DosageUnit:     a.DosageUnit,
				ScheduleIndex:  a.ScheduleIndex,
				SlotTime:       a.SlotTime,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func listMedicationsHandler(svc MedicationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userIDParam(w, r)
		if !ok {
			return
		}
		meds, err := svc.List(r.Context(), userID)
		if err != nil {
			logger.Error("failed to list medications", "user_id", userID, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		out := make([]medicationResponse, 0, len(meds))
		for _, m := range meds {
			resp := medicationResponse{
				ID:           m.Key(),
				Name:         m.Name,
				Dosage:       m.Dosage,
				DosageUnit:   m.DosageUnit,
				Type:         m.Type,
				Stock:        m.Stock,
				Instructions: m.Instructions,
				Color:        m.Color,
				Schedules:    make([]scheduleResponse, 0, len(m.Schedules)),
			}
			for _, s := range m.Schedules {
				resp.Schedules = append(resp.Schedules, scheduleResponse{
					WeekDays: s.WeekDays,
					Times:    s.Times,
					Amounts:  s.Amounts,
					AsNeeded: s.AsNeeded,
				})
			}
			out = append(out, resp)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// updateSchedulesHandler takes the full new schedule list as a JSON array.
func updateSchedulesHandler(svc MedicationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userIDParam(w, r)
		if !ok {
			return
		}
		id, err := uuid.Parse(chi.URLParam(r, "medicationID"))
		if err != nil {
			http.Error(w, "invalid medication id", http.StatusBadRequest)
			return
		}
		var body []scheduleResponse
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		schedules, err := toSchedules(body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		outcome, err := svc.UpdateSchedules(r.Context(), userID, id, schedules)
		if err != nil {
			if errors.Is(err, medications.ErrMedicationNotFound) {
				http.Error(w, "medication not found", http.StatusNotFound)
				return
			}
			logger.Error("failed to update schedules", "user_id", userID, "medication_id", id.String(), "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeOutcome(w, outcome)
	}
}

func toSchedules(in []scheduleResponse) ([]db.Schedule, error) {
	out := make([]db.Schedule, 0, len(in))
	for i, s := range in {
		for _, t := range s.Times {
			if _, err := time.Parse("15:04", t); err != nil {
				return nil, fmt.Errorf("schedule %d: invalid time %q", i, t)
			}
		}
		for _, d := range s.WeekDays {
			if d < 0 || d > 6 {
				return nil, fmt.Errorf("schedule %d: invalid week day %d", i, d)
			}
		}
		if !s.AsNeeded && len(s.Times) == 0 {
			return nil, fmt.Errorf("schedule %d: times are required", i)
		}
		out = append(out, db.Schedule{
			WeekDays: datatypes.JSONSlice[int](s.WeekDays),
			Times:    datatypes.JSONSlice[string](s.Times),
			Amounts:  datatypes.JSONSlice[string](s.Amounts),
			AsNeeded: s.AsNeeded,
		})
	}
	return out, nil
}

func writeOutcome(w http.ResponseWriter, outcome alarm.Outcome) {
	codes := outcome.Codes
	if codes == nil {
		codes = []int32{}
	}
	writeJSON(w, http.StatusOK, outcomeResponse{
		Deferred:   outcome.Deferred,
		Registered: outcome.Registered(),
		Codes:      codes,
	})
}

func rearmHandler(svc MedicationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userIDParam(w, r)
		if !ok {
			return
		}
		outcome, err := svc.RearmUser(r.Context(), userID)
		if err != nil {
			logger.Error("failed to re-arm user", "user_id", userID, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeOutcome(w, outcome)
	}
}

func recoverHandler(recovery Recoverer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := recovery.RecoverAll(r.Context())
		status := http.StatusOK
		if err != nil {
			logger.Error("manual recovery incomplete", "error", err)
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, map[string]int{
			"medications": report.Medications,
			"registered":  report.Registered,
			"deferred":    report.Deferred,
			"failed":      report.Failed,
		})
	}
}

func userIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID == 0 {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return 0, false
	}
	return userID, true
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"elapsed", time.Since(start),
			"request_id", chimw.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Serve runs the ops server until ctx is done.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
