package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling-engine/internal/api"
	"github.com/hackgods/clinic-scheduling-engine/internal/logging"
)

// simulate hammers one practitioner's calendar with concurrent bookings over
// a small window, then reads the calendar back and checks no two active
// appointments overlap.

type SimConfig struct {
	APIBaseURL     string
	PractitionerID uuid.UUID
	WindowStart    time.Time
	WindowMinutes  int
	StepMinutes    int
	Duration       int
	Workers        int
	Requests       int
	CancelRatio    float64
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95 time.Duration) {
	om.mu.Lock()
	latencies := append([]time.Duration(nil), om.Latencies...)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	at := func(pct int) time.Duration {
		return latencies[min(len(latencies)*pct/100, len(latencies)-1)]
	}
	return sum / time.Duration(len(latencies)), at(50), at(95)
}

type Report struct {
	Booking  *OperationMetrics
	Cancel   *OperationMetrics
	Active   int
	Overlaps [][2]api.AppointmentResponse
}

type Simulator struct {
	config SimConfig
	client *http.Client
	logger zerolog.Logger

	mu      sync.Mutex
	booked  []uuid.UUID
	booking OperationMetrics
	cancel  OperationMetrics
}

func NewSimulator(cfg SimConfig, client *http.Client, logger zerolog.Logger) *Simulator {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Simulator{config: cfg, client: client, logger: logger}
}

func (s *Simulator) Run(ctx context.Context) (Report, error) {
	jobs := make(chan int)
	var wg sync.WaitGroup

	for w := range s.config.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(w)))
			for range jobs {
				if rng.Float64() < s.config.CancelRatio {
					s.doCancel(ctx, rng)
					continue
				}
				s.doBooking(ctx, rng)
			}
		}()
	}

	for i := range s.config.Requests {
		select {
		case jobs <- i:
		case <-ctx.Done():
		}
	}
	close(jobs)
	wg.Wait()

	appts, err := s.listWindow(ctx)
	if err != nil {
		return Report{}, err
	}
	active := activeOnly(appts)
	return Report{
		Booking:  &s.booking,
		Cancel:   &s.cancel,
		Active:   len(active),
		Overlaps: findOverlaps(active),
	}, nil
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	steps := s.config.WindowMinutes / s.config.StepMinutes
	start := s.config.WindowStart.Add(time.Duration(rng.IntN(steps)*s.config.StepMinutes) * time.Minute)

	body := map[string]any{
		"practitioner_id":  s.config.PractitionerID.String(),
		"patient_id":       uuid.NewString(),
		"start_at":         start.Format(time.RFC3339),
		"duration_minutes": s.config.Duration,
	}

	began := time.Now()
	status, payload, err := s.post(ctx, "/appointments", body)
	latency := time.Since(began)
	if err != nil {
		s.booking.Record(latency, false, false)
		s.logger.Debug().Err(err).Msg("booking request failed")
		return
	}

	switch status {
	case http.StatusCreated:
		var a api.AppointmentResponse
		if err := json.Unmarshal(payload, &a); err == nil {
			s.mu.Lock()
			s.booked = append(s.booked, a.ID)
			s.mu.Unlock()
		}
		s.booking.Record(latency, true, false)
	case http.StatusConflict, http.StatusServiceUnavailable:
		s.booking.Record(latency, false, true)
	default:
		s.booking.Record(latency, false, false)
		s.logger.Warn().Int("status", status).Bytes("body", payload).Msg("unexpected booking response")
	}
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	s.mu.Lock()
	if len(s.booked) == 0 {
		s.mu.Unlock()
		return
	}
	idx := rng.IntN(len(s.booked))
	id := s.booked[idx]
	s.booked = append(s.booked[:idx], s.booked[idx+1:]...)
	s.mu.Unlock()

	began := time.Now()
	status, _, err := s.post(ctx, "/appointments/"+id.String()+"/cancel", map[string]string{"reason": "simulated"})
	s.cancel.Record(time.Since(began), err == nil && status == http.StatusOK, status == http.StatusConflict)
}

func (s *Simulator) post(ctx context.Context, path string, body any) (int, []byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	return resp.StatusCode, payload, err
}

func (s *Simulator) listWindow(ctx context.Context) ([]api.AppointmentResponse, error) {
	from := s.config.WindowStart.Add(-time.Duration(s.config.Duration) * time.Minute)
	to := s.config.WindowStart.Add(time.Duration(s.config.WindowMinutes) * time.Minute)
	url := fmt.Sprintf("%s/practitioners/%s/appointments?from=%s&to=%s", s.config.APIBaseURL, s.config.PractitionerID,
		from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list appointments: status %d", resp.StatusCode)
	}

	var out api.ListAppointmentsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode appointments: %w", err)
	}
	return out.Appointments, nil
}

func activeOnly(appts []api.AppointmentResponse) []api.AppointmentResponse {
	out := appts[:0:0]
	for _, a := range appts {
		if a.Status == "scheduled" || a.Status == "confirmed" {
			out = append(out, a)
		}
	}
	return out
}

// findOverlaps returns every pair of appointments whose half-open intervals
// intersect.
func findOverlaps(appts []api.AppointmentResponse) [][2]api.AppointmentResponse {
	sorted := append([]api.AppointmentResponse(nil), appts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartAt.Before(sorted[j].StartAt) })

	var out [][2]api.AppointmentResponse
	for i := range sorted {
		for j := i + 1; j < len(sorted) && sorted[j].StartAt.Before(sorted[i].EndAt); j++ {
			out = append(out, [2]api.AppointmentResponse{sorted[i], sorted[j]})
		}
	}
	return out
}

func loadConfig() (SimConfig, error) {
	cfg := SimConfig{
		APIBaseURL:    strings.TrimRight(getEnv("API_BASE_URL", "http://localhost:8080"), "/"),
		WindowMinutes: getInt("SIM_WINDOW_MINUTES", 240),
		StepMinutes:   getInt("SIM_STEP_MINUTES", 15),
		Duration:      getInt("SIM_DURATION_MINUTES", 30),
		Workers:       getInt("SIM_WORKERS", 20),
		Requests:      getInt("SIM_REQUESTS", 500),
		CancelRatio:   getFloat("SIM_CANCEL_RATIO", 0.1),
	}

	if raw := os.Getenv("SIM_PRACTITIONER_ID"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return SimConfig{}, fmt.Errorf("SIM_PRACTITIONER_ID: %w", err)
		}
		cfg.PractitionerID = id
	} else {
		cfg.PractitionerID = uuid.New()
	}

	if raw := os.Getenv("SIM_WINDOW_START"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return SimConfig{}, fmt.Errorf("SIM_WINDOW_START: %w", err)
		}
		cfg.WindowStart = t
	} else {
		cfg.WindowStart = time.Now().Add(72 * time.Hour).Truncate(time.Hour)
	}

	if cfg.Workers <= 0 || cfg.Requests <= 0 || cfg.StepMinutes <= 0 || cfg.WindowMinutes < cfg.StepMinutes {
		return SimConfig{}, fmt.Errorf("workers, requests and step must be positive and the window at least one step")
	}
	return cfg, nil
}

func main() {
	logger := logging.New("simulate", getEnv("APP_ENV", "dev"), getEnv("LOG_LEVEL", "info"))

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	logger.Info().
		Str("practitioner_id", cfg.PractitionerID.String()).
		Time("window_start", cfg.WindowStart).
		Int("workers", cfg.Workers).
		Int("requests", cfg.Requests).
		Msg("simulation starting")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	report, err := NewSimulator(cfg, nil, logger).Run(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("simulation failed")
	}

	for name, om := range map[string]*OperationMetrics{"booking": report.Booking, "cancel": report.Cancel} {
		avg, p50, p95 := om.Stats()
		logger.Info().
			Str("operation", name).
			Int64("total", om.Total).
			Int64("success", om.Success).
			Int64("conflict", om.Conflict).
			Int64("error", om.Error).
			Dur("avg", avg).Dur("p50", p50).Dur("p95", p95).
			Msg("operation summary")
	}

	if len(report.Overlaps) > 0 {
		for _, pair := range report.Overlaps {
			logger.Error().
				Str("first", pair[0].ID.String()).
				Str("second", pair[1].ID.String()).
				Msg("overlapping active appointments")
		}
		logger.Fatal().Int("overlaps", len(report.Overlaps)).Msg("double booking detected")
	}
	logger.Info().Int("active", report.Active).Msg("no overlapping appointments")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
