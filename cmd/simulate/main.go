package main

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
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

	"github.com/carelink/scheduling/internal/config"
	"github.com/carelink/scheduling/internal/db"
)

type SimConfig struct {
	APIBaseURL    string
	Duration      time.Duration
	Workers       int
	FreeRatio     float64
	PaidRatio     float64
	CancelRatio   float64
	ReadRatio     float64
	PatientLimit  int
	DoctorLimit   int
	HorizonDays   int
	PostgresDSN   string
	PaymentSecret string
}

type simAppointment struct {
	ID        uuid.UUID
	PatientID uuid.UUID
}

type DataPool struct {
	Patients []uuid.UUID
	Doctors  []uuid.UUID

	mu           sync.RWMutex
	appointments []simAppointment
}

func (dp *DataPool) AddAppointment(a simAppointment) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, a)
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (simAppointment, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return simAppointment{}, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]

	p50Idx := len(latencies) * 50 / 100
	if p50Idx >= len(latencies) {
		p50Idx = len(latencies) - 1
	}
	p50 = latencies[p50Idx]

	p95Idx := len(latencies) * 95 / 100
	if p95Idx >= len(latencies) {
		p95Idx = len(latencies) - 1
	}
	p95 = latencies[p95Idx]

	return avg, min, max, p50, p95
}

type Metrics struct {
	FreeBooking   OperationMetrics
	PaidFlow      OperationMetrics
	Cancel        OperationMetrics
	ReadSlots     OperationMetrics
	ReadByID      OperationMetrics
	ListByPatient OperationMetrics
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

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("config: duration=%s workers=%d free=%.2f paid=%.2f cancel=%.2f read=%.2f",
		cfg.Duration, cfg.Workers, cfg.FreeRatio, cfg.PaidRatio, cfg.CancelRatio, cfg.ReadRatio)

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

	log.Printf("loaded: %d patients, %d doctors", len(dataPool.Patients), len(dataPool.Doctors))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	sim.Run()
	sim.PrintReport()
}

func loadConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	cfg := SimConfig{
		APIBaseURL:    getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:      getDurationEnv("SIM_DURATION", 30*time.Second),
		Workers:       getInt("SIM_WORKERS", 10),
		FreeRatio:     getFloat("SIM_FREE_RATIO", 0.35),
		PaidRatio:     getFloat("SIM_PAID_RATIO", 0.2),
		CancelRatio:   getFloat("SIM_CANCEL_RATIO", 0.1),
		ReadRatio:     getFloat("SIM_READ_RATIO", 0.35),
		PatientLimit:  getInt("SIM_PATIENT_LIMIT", 4000),
		DoctorLimit:   getInt("SIM_DOCTOR_LIMIT", 100),
		HorizonDays:   getInt("SIM_HORIZON_DAYS", 14),
		PostgresDSN:   baseCfg.PostgresDSN,
		PaymentSecret: baseCfg.PaymentSecret,
	}

	// Normalize ratios
	total := cfg.FreeRatio + cfg.PaidRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.FreeRatio /= total
		cfg.PaidRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.HorizonDays <= 1 {
		return fmt.Errorf("SIM_HORIZON_DAYS must be > 1")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	rows, err := pool.Query(ctx, `
		SELECT id FROM patients LIMIT $1
	`, cfg.PatientLimit)
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

	// Only doctors with an active rule can ever offer a slot.
	rows, err = pool.Query(ctx, `
		SELECT DISTINCT doctor_id FROM weekly_rules WHERE active LIMIT $1
	`, cfg.DoctorLimit)
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

	if len(dataPool.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded")
	}
	if len(dataPool.Doctors) == 0 {
		return nil, fmt.Errorf("no doctors with active rules loaded")
	}

	return dataPool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Printf("starting simulation for %s with %d workers", s.config.Duration, s.config.Workers)

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
			case r < s.config.FreeRatio:
				s.doFreeBooking(ctx, rng)
			case r < s.config.FreeRatio+s.config.PaidRatio:
				s.doPaidFlow(ctx, rng)
			case r < s.config.FreeRatio+s.config.PaidRatio+s.config.CancelRatio:
				s.doCancel(ctx, rng)
			default:
				if rng.Intn(2) == 0 {
					s.doReadByID(ctx, rng)
				} else {
					s.doListByPatient(ctx, rng)
				}
			}
		}
	}
}

// pickOpenSlot fetches the live slot list for a random doctor and day and
// returns one free start time. The GET itself is recorded as a read op.
func (s *Simulator) pickOpenSlot(ctx context.Context, rng *rand.Rand) (doctorID uuid.UUID, date, startTime string, ok bool) {
	doctorID = s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	// Tomorrow at the earliest so slots are never rejected as past.
	day := time.Now().AddDate(0, 0, 1+rng.Intn(s.config.HorizonDays-1))
	date = day.Format("2006-01-02")

	start := time.Now()

	req, _ := http.NewRequestWithContext(ctx, "GET",
		fmt.Sprintf("%s/doctors/%s/slots?date=%s", s.config.APIBaseURL, doctorID, date), nil)

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	if err != nil {
		s.metrics.ReadSlots.Record(latency, false, false)
		return uuid.Nil, "", "", false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.metrics.ReadSlots.Record(latency, false, false)
		return uuid.Nil, "", "", false
	}

	var slotsResp struct {
		Slots []struct {
			StartTime string `json:"start_time"`
		} `json:"slots"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&slotsResp); err != nil || len(slotsResp.Slots) == 0 {
		s.metrics.ReadSlots.Record(latency, err == nil, false)
		return uuid.Nil, "", "", false
	}
	s.metrics.ReadSlots.Record(latency, true, false)

	startTime = slotsResp.Slots[rng.Intn(len(slotsResp.Slots))].StartTime
	return doctorID, date, startTime, true
}

func (s *Simulator) doFreeBooking(ctx context.Context, rng *rand.Rand) {
	doctorID, date, startTime, ok := s.pickOpenSlot(ctx, rng)
	if !ok {
		return
	}
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	body, _ := json.Marshal(map[string]string{
		"doctor_id":         doctorID.String(),
		"date":              date,
		"start_time":        startTime,
		"consultation_type": "free",
	})

	start := time.Now()
	resp, err := s.post(ctx, "/appointments/book", patientID, body)
	latency := time.Since(start)

	success := false
	conflict := false

	if err == nil {
		defer resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusCreated:
			success = true
			if id, ok := decodeAppointmentID(resp.Body); ok {
				s.pool.AddAppointment(simAppointment{ID: id, PatientID: patientID})
			}
		case http.StatusConflict:
			conflict = true
		}
	}

	s.metrics.FreeBooking.Record(latency, success, conflict)
}

// doPaidFlow runs the full paid path: hold, book against the hold, then the
// signed payment callback the provider would send.
func (s *Simulator) doPaidFlow(ctx context.Context, rng *rand.Rand) {
	doctorID, date, startTime, ok := s.pickOpenSlot(ctx, rng)
	if !ok {
		return
	}
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	start := time.Now()

	holdBody, _ := json.Marshal(map[string]string{
		"doctor_id":  doctorID.String(),
		"date":       date,
		"start_time": startTime,
	})
	resp, err := s.post(ctx, "/appointments/hold", patientID, holdBody)
	if err != nil {
		s.metrics.PaidFlow.Record(time.Since(start), false, false)
		return
	}
	if resp.StatusCode != http.StatusCreated {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		s.metrics.PaidFlow.Record(time.Since(start), false, resp.StatusCode == http.StatusConflict)
		return
	}
	var holdResp struct {
		HoldID uuid.UUID `json:"hold_id"`
	}
	err = json.NewDecoder(resp.Body).Decode(&holdResp)
	resp.Body.Close()
	if err != nil {
		s.metrics.PaidFlow.Record(time.Since(start), false, false)
		return
	}

	holdID := holdResp.HoldID.String()
	bookBody, _ := json.Marshal(map[string]any{
		"doctor_id":         doctorID.String(),
		"date":              date,
		"start_time":        startTime,
		"consultation_type": "paid",
		"hold_id":           holdID,
	})
	resp, err = s.post(ctx, "/appointments/book", patientID, bookBody)
	if err != nil {
		s.metrics.PaidFlow.Record(time.Since(start), false, false)
		return
	}
	if resp.StatusCode != http.StatusCreated {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		s.metrics.PaidFlow.Record(time.Since(start), false, resp.StatusCode == http.StatusConflict)
		return
	}
	var apptResp struct {
		ID         uuid.UUID `json:"id"`
		PaymentRef *string   `json:"payment_ref"`
	}
	err = json.NewDecoder(resp.Body).Decode(&apptResp)
	resp.Body.Close()
	if err != nil || apptResp.PaymentRef == nil {
		s.metrics.PaidFlow.Record(time.Since(start), false, false)
		return
	}

	webhookBody, _ := json.Marshal(map[string]string{
		"order_ref": *apptResp.PaymentRef,
		"signature": signOrder(s.config.PaymentSecret, *apptResp.PaymentRef),
	})
	req, _ := http.NewRequestWithContext(ctx, "POST", s.config.APIBaseURL+"/payments/webhook", bytes.NewReader(webhookBody))
	req.Header.Set("Content-Type", "application/json")
	resp, err = s.client.Do(req)
	latency := time.Since(start)

	success := false
	if err == nil {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}
	if success {
		s.pool.AddAppointment(simAppointment{ID: apptResp.ID, PatientID: patientID})
	}

	s.metrics.PaidFlow.Record(latency, success, false)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	appt, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	body, _ := json.Marshal(map[string]string{"reason": "simulated cancellation"})

	start := time.Now()

	req, _ := http.NewRequestWithContext(ctx, "PUT",
		fmt.Sprintf("%s/appointments/%s/cancel", s.config.APIBaseURL, appt.ID), bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", appt.PatientID.String())

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	conflict := false

	if err == nil {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusOK:
			success = true
		case http.StatusConflict, http.StatusForbidden:
			// Already terminal, or inside the cancellation window.
			conflict = true
		}
	}

	s.metrics.Cancel.Record(latency, success, conflict)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	appt, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()

	req, _ := http.NewRequestWithContext(ctx, "GET",
		fmt.Sprintf("%s/appointments/%s", s.config.APIBaseURL, appt.ID), nil)
	req.Header.Set("X-User-ID", appt.PatientID.String())

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	if err == nil {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}

	s.metrics.ReadByID.Record(latency, success, false)
}

func (s *Simulator) doListByPatient(ctx context.Context, rng *rand.Rand) {
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	start := time.Now()

	req, _ := http.NewRequestWithContext(ctx, "GET",
		fmt.Sprintf("%s/patients/%s/appointments?limit=20&offset=0", s.config.APIBaseURL, patientID), nil)
	req.Header.Set("X-User-ID", patientID.String())

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	if err == nil {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}

	s.metrics.ListByPatient.Record(latency, success, false)
}

func (s *Simulator) post(ctx context.Context, path string, userID uuid.UUID, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", s.config.APIBaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", userID.String())
	return s.client.Do(req)
}

func decodeAppointmentID(r io.Reader) (uuid.UUID, bool) {
	var apptResp struct {
		ID uuid.UUID `json:"id"`
	}
	if err := json.NewDecoder(r).Decode(&apptResp); err != nil || apptResp.ID == uuid.Nil {
		return uuid.Nil, false
	}
	return apptResp.ID, true
}

func signOrder(secret, orderRef string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderRef))
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n================================================================================")
	fmt.Println("SIMULATION REPORT")
	fmt.Println("================================================================================")
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Free booking", &s.metrics.FreeBooking)
	printOperationReport("Paid flow (hold+book+pay)", &s.metrics.PaidFlow)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Read slots", &s.metrics.ReadSlots)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("List by patient", &s.metrics.ListByPatient)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	errCount := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if errCount > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", errCount, float64(errCount)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

// Helper functions

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
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
