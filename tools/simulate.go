package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Usage: go run tools/simulate.go -url http://localhost:8080/reading -beacons 4 -interval 50ms -duration 30s
type stats struct {
	requests atomic.Int64
	failed   atomic.Int64
	pulses   atomic.Int64
	admitted atomic.Int64

	mu        sync.Mutex
	latencies []time.Duration
}

type response struct {
	Admitted bool `json:"admitted"`
	Command  struct {
		Kind      string `json:"kind"`
		Intensity int    `json:"intensity"`
	} `json:"command"`
}

func main() {
	url := flag.String("url", "http://localhost:8080/reading", "reading endpoint")
	beacons := flag.Int("beacons", 4, "number of simulated beacons")
	interval := flag.Duration("interval", 50*time.Millisecond, "scan interval per beacon")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	baseline := flag.Int("baseline", -75, "baseline RSSI in dBm")
	flag.Parse()

	if *beacons < 1 || *interval <= 0 {
		fmt.Fprintln(os.Stderr, "beacons must be >= 1 and interval > 0")
		os.Exit(1)
	}

	fmt.Printf("Beacon Simulation:\n")
	fmt.Printf("  URL:      %s\n", *url)
	fmt.Printf("  Beacons:  %d\n", *beacons)
	fmt.Printf("  Interval: %v\n", *interval)
	fmt.Printf("  Duration: %v\n\n", *duration)

	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	st := &stats{latencies: make([]time.Duration, 0, 10000)}
	start := time.Now()
	end := start.Add(*duration)

	var wg sync.WaitGroup
	for i := 0; i < *beacons; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			simulateBeacon(client, *url, fmt.Sprintf("beacon-%d", id), *baseline, *interval, end, st)
		}(i)
	}
	wg.Wait()

	st.print(time.Since(start))
}

// simulateBeacon sends one beacon's readings in timestamp order. The signal
// wanders around the baseline and now and then jumps as if the beacon
// came close.
func simulateBeacon(client *http.Client, url, target string, baseline int, interval time.Duration, end time.Time, st *stats) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for now := range ticker.C {
		if now.After(end) {
			return
		}

		rssi := baseline + rng.Intn(7) - 3
		if rng.Intn(40) == 0 {
			rssi += 8 + rng.Intn(15)
		}
		send(client, url, target, rssi, now, st)
	}
}

func send(client *http.Client, url, target string, rssi int, at time.Time, st *stats) {
	body, _ := json.Marshal(map[string]interface{}{
		"target_id": target,
		"rssi":      rssi,
		"timestamp": at.UTC().Format(time.RFC3339Nano),
	})

	req, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(started)
	st.requests.Add(1)

	if err != nil {
		st.failed.Add(1)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		st.failed.Add(1)
		return
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err == nil {
		if out.Admitted {
			st.admitted.Add(1)
		}
		if out.Command.Kind == "pulse" {
			st.pulses.Add(1)
			fmt.Printf("%s  %-10s rssi=%4d  pulse=%3d\n", at.Format("15:04:05.000"), target, rssi, out.Command.Intensity)
		}
	}

	st.mu.Lock()
	st.latencies = append(st.latencies, latency)
	st.mu.Unlock()
}

func (st *stats) print(duration time.Duration) {
	total := st.requests.Load()

	st.mu.Lock()
	lat := append([]time.Duration(nil), st.latencies...)
	st.mu.Unlock()
	sort.Slice(lat, func(i, j int) bool { return lat[i] < lat[j] })

	percentile := func(p int) time.Duration {
		if len(lat) == 0 {
			return 0
		}
		idx := len(lat) * p / 100
		if idx >= len(lat) {
			idx = len(lat) - 1
		}
		return lat[idx]
	}

	fmt.Println("\n==========================================")
	fmt.Println("Simulation Results")
	fmt.Println("==========================================")
	fmt.Printf("Duration:       %v\n", duration)
	fmt.Printf("Readings:       %d\n", total)
	fmt.Printf("Failed:         %d\n", st.failed.Load())
	fmt.Printf("Admitted:       %d\n", st.admitted.Load())
	fmt.Printf("Pulses:         %d\n", st.pulses.Load())
	fmt.Printf("Readings/sec:   %.2f\n", float64(total)/duration.Seconds())
	if len(lat) > 0 {
		fmt.Println("\nLatency:")
		fmt.Printf("  Min:          %v\n", lat[0])
		fmt.Printf("  Max:          %v\n", lat[len(lat)-1])
		fmt.Printf("  p50:          %v\n", percentile(50))
		fmt.Printf("  p95:          %v\n", percentile(95))
		fmt.Printf("  p99:          %v\n", percentile(99))
	}
	fmt.Println("==========================================")
}
