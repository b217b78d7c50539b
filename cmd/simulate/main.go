package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medilink/telemed-booking/internal/config"
	"github.com/medilink/telemed-booking/internal/db"
)

// The simulator hammers the booking API with concurrent workers that
// deliberately race for the same slots, then reports how many requests
// won, lost the race (409) or failed outright. A healthy run shows
// exactly one winner per slot and zero errors.

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	DoctorLimit  int
	PatientLimit int
	BookingRatio float64
	CancelRatio  float64
	PostgresDSN  string
}

type slotRef struct {
	DoctorID uuid.UUID
	Start    time.Time
	End      time.Time
}

type DataPool struct {
	Doctors  []uuid.UUID
	Patients []uuid.UUID

	mu       sync.RWMutex
	slots    []slotRef
	bookings []uuid.UUID
}

func (dp *DataPool) SetSlots(slots []slotRef) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.slots = slots
}

func (dp *DataPool) RandomSlot(rng *rand.Rand) (slotRef, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.slots) == 0 {
		return slotRef{}, false
	}
	return dp.slots[rng.Intn(len(dp.slots))], true
}

func (dp *DataPool) AddBooking(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.bookings = append(dp.bookings, id)
}

func (dp *DataPool) RandomBooking(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.bookings) == 0 {
		return uuid.Nil, false
	}
	return dp.bookings[rng.Intn(len(dp.bookings))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	mu        sync.Mutex
	latencies []time.Duration
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
	om.latencies = append(om.latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.latencies) == 0 {
		return 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.latencies))
	copy(latencies, om.latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg = sum / time.Duration(len(latencies))
	p50 = latencies[len(latencies)*50/100]
	p95 = latencies[min(len(latencies)*95/100, len(latencies)-1)]
	return avg, p50, p95
}

type Metrics struct {
	Booking OperationMetrics
	Cancel  OperationMetrics
	Slots   OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadSimConfig()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}

	log.Printf("loaded: %d doctors, %d patients", len(dataPool.Doctors), len(dataPool.Patients))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
	}

	if err := sim.refreshSlots(ctx); err != nil {
		log.Fatalf("initial slot fetch: %v", err)
	}

	sim.Run()
	sim.PrintReport()
}

func loadSimConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDurationEnv("SIM_DURATION", 30*time.Second),
		Workers:      getIntEnv("SIM_WORKERS", 10),
		DoctorLimit:  getIntEnv("SIM_DOCTOR_LIMIT", 5),
		PatientLimit: getIntEnv("SIM_PATIENT_LIMIT", 500),
		BookingRatio: 0.7,
		CancelRatio:  0.15,
		PostgresDSN:  baseCfg.PostgresDSN,
	}

	if cfg.Workers <= 0 || cfg.Duration <= 0 {
		log.Fatal("SIM_WORKERS and SIM_DURATION must be positive")
	}
	return cfg
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	rows, err := pool.Query(ctx, `SELECT id FROM doctors LIMIT $1`, cfg.DoctorLimit)
	if err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		dataPool.Doctors = append(dataPool.Doctors, id)
	}

	rows, err = pool.Query(ctx, `SELECT id FROM patients LIMIT $1`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		dataPool.Patients = append(dataPool.Patients, id)
	}

	if len(dataPool.Doctors) == 0 {
		return nil, fmt.Errorf("no doctors loaded, run the seed first")
	}
	if len(dataPool.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded, run the seed first")
	}

	return dataPool, nil
}

type slotJSON struct {
	DoctorID uuid.UUID `json:"doctor_id"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
}

// refreshSlots pulls next week's available slots for every doctor in
// the pool. Keeping the pool small and stale is intentional: workers
// then pile onto the same slots and exercise the conflict path.
func (s *Simulator) refreshSlots(ctx context.Context) error {
	from := time.Now().Format("2006-01-02")
	to := time.Now().AddDate(0, 0, 7).Format("2006-01-02")

	var all []slotRef
	for _, doctorID := range s.pool.Doctors {
		url := fmt.Sprintf("%s/doctors/%s/slots?from=%s&to=%s", s.config.APIBaseURL, doctorID, from, to)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}

		start := time.Now()
		resp, err := s.client.Do(req)
		if err != nil {
			s.metrics.Slots.Record(time.Since(start), false, false)
			return err
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		s.metrics.Slots.Record(time.Since(start), resp.StatusCode == http.StatusOK, false)

		if resp.StatusCode != http.StatusOK {
			continue
		}

		var slots []slotJSON
		if err := json.Unmarshal(body, &slots); err != nil {
			return fmt.Errorf("decode slots: %w", err)
		}
		for _, sl := range slots {
			all = append(all, slotRef{DoctorID: sl.DoctorID, Start: sl.Start, End: sl.End})
		}
	}

	if len(all) == 0 {
		return fmt.Errorf("no available slots, seed availability first")
	}

	s.pool.SetSlots(all)
	return nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Printf("running for %s with %d workers", s.config.Duration, s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	log.Println("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.BookingRatio:
				s.doBooking(ctx, rng)
			case r < s.config.BookingRatio+s.config.CancelRatio:
				s.doCancel(ctx, rng)
			default:
				_ = s.refreshSlots(ctx)
			}
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	slot, ok := s.pool.RandomSlot(rng)
	if !ok {
		return
	}
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	payload, _ := json.Marshal(map[string]any{
		"doctor_id":  slot.DoctorID.String(),
		"patient_id": patientID.String(),
		"start":      slot.Start,
		"end":        slot.End,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.config.APIBaseURL+"/bookings", bytes.NewReader(payload))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		s.metrics.Booking.Record(time.Since(start), false, false)
		return
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	success := resp.StatusCode == http.StatusCreated
	conflict := resp.StatusCode == http.StatusConflict
	s.metrics.Booking.Record(time.Since(start), success, conflict)

	if success {
		var created struct {
			ID uuid.UUID `json:"id"`
		}
		if err := json.Unmarshal(body, &created); err == nil {
			s.pool.AddBooking(created.ID)
		}
	}
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.RandomBooking(rng)
	if !ok {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/bookings/%s/cancel", s.config.APIBaseURL, id), nil)
	if err != nil {
		return
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		s.metrics.Cancel.Record(time.Since(start), false, false)
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	s.metrics.Cancel.Record(time.Since(start),
		resp.StatusCode == http.StatusOK,
		resp.StatusCode == http.StatusConflict)
}

func (s *Simulator) PrintReport() {
	report := func(name string, om *OperationMetrics) {
		avg, p50, p95 := om.Stats()
		log.Printf("%-10s total=%d success=%d conflict=%d error=%d avg=%s p50=%s p95=%s",
			name, om.Total, om.Success, om.Conflict, om.Error, avg, p50, p95)
	}
	report("booking", &s.metrics.Booking)
	report("cancel", &s.metrics.Cancel)
	report("slots", &s.metrics.Slots)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getIntEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
