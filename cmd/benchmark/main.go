// Benchmark tool for replaying labeled transaction data against Kestrel.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/transactional-sample.csv -url http://localhost:8090
//
// This tool:
//   1. Reads labeled transaction data (with has_cbk chargeback labels)
//   2. Sends each transaction to Kestrel for evaluation
//   3. Compares Kestrel's verdict (deny/approve) with the chargeback labels
//   4. Calculates precision, recall, F1-score, and confusion matrix
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LabeledTransaction represents a row from the transactional sample.
type LabeledTransaction struct {
	TransactionID string
	MerchantID    int64
	UserID        int64
	CardNumber    string
	Date          string
	Amount        float64
	DeviceID      int64
	HasCbk        bool
}

// EvaluateResponse is the Kestrel API response format.
type EvaluateResponse struct {
	TransactionID  json.RawMessage `json:"transaction_id"`
	Recommendation string          `json:"recommendation"`
	Reason         string          `json:"reason"`
	Rule           string          `json:"rule,omitempty"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	TruePositives  int64 // Chargeback denied
	FalsePositives int64 // Clean transaction denied
	TrueNegatives  int64 // Clean transaction approved
	FalseNegatives int64 // Chargeback approved (missed!)

	TotalProcessed int64
	TotalCbk       int64
	TotalClean     int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func main() {
	// Parse flags
	csvPath := flag.String("csv", "", "Path to the labeled transaction CSV file")
	baseURL := flag.String("url", "http://localhost:8090", "Kestrel base URL")
	limit := flag.Int("limit", 10000, "Maximum transactions to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	cbkOnly := flag.Bool("cbk-only", false, "Only replay chargeback transactions")
	sampleRate := flag.Float64("sample", 1.0, "Sample rate for clean transactions (0.0-1.0)")
	verbose := flag.Bool("verbose", false, "Print each transaction result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/transactional-sample.csv [-url http://localhost:8090]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║        KESTREL BENCHMARK - Chargeback Label Replay            ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Kestrel URL: %s\n", *baseURL)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Printf("Cbk Only:    %v\n", *cbkOnly)
	fmt.Printf("Sample Rate: %.2f\n", *sampleRate)
	fmt.Println()

	// Check Kestrel is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	// Read labeled data
	fmt.Printf("\nReading labeled transactions from %s...\n", *csvPath)
	transactions, err := readLabeledCSV(*csvPath, *limit, *cbkOnly, *sampleRate)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d transactions\n", len(transactions))

	// Count chargebacks vs clean
	cbkCount := 0
	for _, tx := range transactions {
		if tx.HasCbk {
			cbkCount++
		}
	}
	fmt.Printf("  - Chargebacks: %d (%.2f%%)\n", cbkCount, 100*float64(cbkCount)/float64(len(transactions)))
	fmt.Printf("  - Clean:       %d (%.2f%%)\n", len(transactions)-cbkCount, 100*float64(len(transactions)-cbkCount)/float64(len(transactions)))

	// Run benchmark
	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(transactions, *baseURL, *workers, *verbose)
	duration := time.Since(startTime)

	// Print results
	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func readLabeledCSV(path string, limit int, cbkOnly bool, sampleRate float64) ([]LabeledTransaction, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	// Read header
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	// Map column indices
	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}

	for _, required := range []string{"transaction_id", "user_id", "transaction_amount", "has_cbk"} {
		if _, ok := colIndex[required]; !ok {
			return nil, fmt.Errorf("missing required column: %s", required)
		}
	}

	var transactions []LabeledTransaction
	sampleCounter := 0

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		hasCbk := strings.EqualFold(record[colIndex["has_cbk"]], "true") || record[colIndex["has_cbk"]] == "1"

		// Apply filters
		if cbkOnly && !hasCbk {
			continue
		}

		// Sample clean transactions
		if !hasCbk && sampleRate < 1.0 {
			sampleCounter++
			if float64(sampleCounter%100)/100.0 >= sampleRate {
				continue
			}
		}

		merchantID, _ := strconv.ParseInt(record[colIndex["merchant_id"]], 10, 64)
		userID, _ := strconv.ParseInt(record[colIndex["user_id"]], 10, 64)
		amount, _ := strconv.ParseFloat(record[colIndex["transaction_amount"]], 64)
		deviceID, _ := strconv.ParseInt(record[colIndex["device_id"]], 10, 64)

		tx := LabeledTransaction{
			TransactionID: record[colIndex["transaction_id"]],
			MerchantID:    merchantID,
			UserID:        userID,
			CardNumber:    record[colIndex["card_number"]],
			Date:          record[colIndex["transaction_date"]],
			Amount:        amount,
			DeviceID:      deviceID,
			HasCbk:        hasCbk,
		}

		transactions = append(transactions, tx)

		if limit > 0 && len(transactions) >= limit {
			break
		}
	}

	return transactions, nil
}

func runBenchmark(transactions []LabeledTransaction, baseURL string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	// Create work channel
	work := make(chan LabeledTransaction, 100)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for tx := range work {
				start := time.Now()
				result, err := evaluateTransaction(client, baseURL, tx)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: tx %s -> %v\n", tx.TransactionID, err)
					}
					continue
				}

				// Track actual labels
				if tx.HasCbk {
					atomic.AddInt64(&metrics.TotalCbk, 1)
				} else {
					atomic.AddInt64(&metrics.TotalClean, 1)
				}

				// Calculate confusion matrix
				predicted := result.Recommendation == "deny"
				actual := tx.HasCbk

				if predicted && actual {
					atomic.AddInt64(&metrics.TruePositives, 1)
				} else if predicted && !actual {
					atomic.AddInt64(&metrics.FalsePositives, 1)
				} else if !predicted && !actual {
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				} else { // !predicted && actual
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose {
					status := "✓"
					if (predicted && !actual) || (!predicted && actual) {
						status = "✗"
					}
					fmt.Printf("%s tx %-12s | User: %8d | Amount: $%12.2f | Cbk: %-5v | Kestrel: %-7s | Rule: %s\n",
						status,
						tx.TransactionID,
						tx.UserID,
						tx.Amount,
						tx.HasCbk,
						result.Recommendation,
						result.Rule,
					)
				}
			}
		}()
	}

	// Send work
	for _, tx := range transactions {
		work <- tx
	}
	close(work)

	// Wait for completion
	wg.Wait()

	return metrics
}

func evaluateTransaction(client *http.Client, baseURL string, tx LabeledTransaction) (*EvaluateResponse, error) {
	req := map[string]any{
		"transaction_id":     tx.TransactionID,
		"merchant_id":        tx.MerchantID,
		"user_id":            tx.UserID,
		"card_number":        tx.CardNumber,
		"transaction_date":   tx.Date,
		"transaction_amount": tx.Amount,
		"device_id":          tx.DeviceID,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/transaction/evaluate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result EvaluateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:   %d\n", m.TotalProcessed)
	fmt.Printf("   Total Chargebacks: %d\n", m.TotalCbk)
	fmt.Printf("   Total Clean:       %d\n", m.TotalClean)
	fmt.Printf("   Errors:            %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                    DENY      APPROVE")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual Cbk │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("        Clean │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	// Calculate metrics
	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\n🎯 DETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of denials, how many were actual chargebacks)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of chargebacks, how many did we deny)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct predictions)\n", accuracy)

	// Detection rate analysis
	fmt.Printf("\n🔍 DETECTION ANALYSIS\n")
	if m.TotalCbk > 0 {
		detectionRate := float64(m.TruePositives) / float64(m.TotalCbk) * 100
		missRate := float64(m.FalseNegatives) / float64(m.TotalCbk) * 100
		fmt.Printf("   Chargebacks Denied:   %d / %d (%.2f%%)\n", m.TruePositives, m.TotalCbk, detectionRate)
		fmt.Printf("   Chargebacks Missed:   %d / %d (%.2f%%) ⚠️\n", m.FalseNegatives, m.TotalCbk, missRate)
	}
	if m.TotalClean > 0 {
		falseAlarmRate := float64(m.FalsePositives) / float64(m.TotalClean) * 100
		fmt.Printf("   Clean Denied:         %d / %d (%.2f%%)\n", m.FalsePositives, m.TotalClean, falseAlarmRate)
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f tx/sec\n", tps)
	}

	// Interpretation
	fmt.Printf("\n💡 INTERPRETATION\n")
	if recall >= 0.9 {
		fmt.Println("   ✅ Excellent recall - denying most chargeback traffic")
	} else if recall >= 0.7 {
		fmt.Println("   ⚠️  Good recall - but some chargebacks slip through")
	} else if recall >= 0.5 {
		fmt.Println("   ⚠️  Moderate recall - significant chargebacks approved")
	} else {
		fmt.Println("   ❌ Poor recall - most chargebacks are being approved!")
	}

	if precision >= 0.5 {
		fmt.Println("   ✅ Good precision - denials are meaningful")
	} else if precision >= 0.2 {
		fmt.Println("   ⚠️  Low precision - many clean transactions denied")
	} else {
		fmt.Println("   ❌ Very low precision - mostly false denials")
	}

	fmt.Println()
}
