// webhook-receiver is a local stand-in for a lead destination. It accepts
// form-urlencoded lead payloads on /hook, remembers the last ones for
// inspection on /stats, and can simulate failures to exercise the retry
// queue: FAIL_EVERY=3 rejects every third delivery with FAIL_STATUS.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"
)

type delivery struct {
	Timestamp string            `json:"timestamp"`
	Referer   string            `json:"referer,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	Fields    map[string]string `json:"fields"`
}

type stats struct {
	Count          int64      `json:"count"`
	Rejected       int64      `json:"rejected"`
	LastDeliveries []delivery `json:"last_deliveries"`
	Since          string     `json:"since"`
}

var (
	mu             sync.Mutex
	count          int64
	rejected       int64
	lastDeliveries []delivery
	since          time.Time
	maxStored      = 50

	failEvery  int
	failStatus = http.StatusInternalServerError
)

func main() {
	since = time.Now().UTC()

	addr := ":8080"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}
	if v := os.Getenv("FAIL_EVERY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			log.Fatalf("invalid FAIL_EVERY: %q", v)
		}
		failEvery = n
	}
	if v := os.Getenv("FAIL_STATUS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 400 || n > 599 {
			log.Fatalf("invalid FAIL_STATUS: %q", v)
		}
		failStatus = n
	}

	http.HandleFunc("/hook", hookHandler)
	http.HandleFunc("/stats", statsHandler)
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	http.HandleFunc("/reset", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		count = 0
		rejected = 0
		lastDeliveries = nil
		since = time.Now().UTC()
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "reset")
	})

	if failEvery > 0 {
		log.Printf("webhook-receiver: rejecting every %d deliveries with HTTP %d", failEvery, failStatus)
	}
	log.Printf("webhook-receiver listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}

func hookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintln(w, "bad form body")
		return
	}

	fields := make(map[string]string, len(r.PostForm))
	for k := range r.PostForm {
		fields[k] = r.PostForm.Get(k)
	}

	del := delivery{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Referer:   r.Header.Get("Referer"),
		UserAgent: r.Header.Get("User-Agent"),
		Fields:    fields,
	}

	mu.Lock()
	count++
	current := count
	if failEvery > 0 && current%int64(failEvery) == 0 {
		rejected++
		mu.Unlock()
		log.Printf("hook rejected #%d (simulated failure)", current)
		w.WriteHeader(failStatus)
		fmt.Fprintln(w, "simulated failure")
		return
	}
	lastDeliveries = append(lastDeliveries, del)
	if len(lastDeliveries) > maxStored {
		lastDeliveries = lastDeliveries[len(lastDeliveries)-maxStored:]
	}
	mu.Unlock()

	log.Printf("hook received #%d: %d fields", current, len(fields))
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"received":%d}`, current)
}

func statsHandler(w http.ResponseWriter, _ *http.Request) {
	mu.Lock()
	s := stats{
		Count:          count,
		Rejected:       rejected,
		LastDeliveries: lastDeliveries,
		Since:          since.Format(time.RFC3339),
	}
	mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}
