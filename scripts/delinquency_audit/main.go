// Command delinquency_audit pulls the overdue-charges report from a running
// API instance and prints it as a plain-text summary. It exits non-zero when
// the outstanding total crosses the given threshold, so it can gate a cron
// alert or a CI smoke check against a staging environment.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

type loginResponse struct {
	Data struct {
		AccessToken string `json:"access_token"`
	} `json:"data"`
}

type reportRow struct {
	StudentName string `json:"student_name"`
	StudentRA   string `json:"student_ra"`
	ChargeCount int    `json:"charge_count"`
	TotalDue    string `json:"total_due"`
}

type reportResponse struct {
	Data struct {
		GeneratedAt  time.Time   `json:"generated_at"`
		TotalDue     string      `json:"total_due"`
		TotalCharges int         `json:"total_charges"`
		Rows         []reportRow `json:"rows"`
	} `json:"data"`
}

func main() {
	var (
		base      string
		username  string
		password  string
		threshold float64
		timeout   time.Duration
	)

	flag.StringVar(&base, "base", "http://localhost:8080", "API base URL")
	flag.StringVar(&username, "username", os.Getenv("AUDIT_USERNAME"), "staff username")
	flag.StringVar(&password, "password", os.Getenv("AUDIT_PASSWORD"), "staff password")
	flag.Float64Var(&threshold, "threshold", 0, "fail when total due exceeds this amount (0 disables)")
	flag.DurationVar(&timeout, "timeout", 10*time.Second, "HTTP client timeout")
	flag.Parse()

	if username == "" || password == "" {
		log.Fatal("username and password are required (flags or AUDIT_USERNAME/AUDIT_PASSWORD)")
	}

	client := &http.Client{Timeout: timeout}
	base = strings.TrimRight(base, "/")

	token, err := login(client, base, username, password)
	if err != nil {
		log.Fatalf("login failed: %v", err)
	}

	report, err := fetchReport(client, base, token)
	if err != nil {
		log.Fatalf("report fetch failed: %v", err)
	}

	printReport(report)

	if threshold > 0 {
		total, err := strconv.ParseFloat(report.Data.TotalDue, 64)
		if err != nil {
			log.Fatalf("unparseable total due %q: %v", report.Data.TotalDue, err)
		}
		if total > threshold {
			fmt.Printf("total due %.2f exceeds threshold %.2f\n", total, threshold)
			os.Exit(1)
		}
	}
}

func login(client *http.Client, base, username, password string) (string, error) {
	body, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return "", err
	}
	resp, err := client.Post(base+"/api/v1/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	var parsed loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	if parsed.Data.AccessToken == "" {
		return "", fmt.Errorf("login response carried no access token")
	}
	return parsed.Data.AccessToken, nil
}

func fetchReport(client *http.Client, base, token string) (*reportResponse, error) {
	req, err := http.NewRequest(http.MethodGet, base+"/api/v1/reports/delinquency", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	var parsed reportResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	return &parsed, nil
}

func printReport(report *reportResponse) {
	fmt.Println("Delinquency Audit")
	fmt.Println("=================")
	fmt.Printf("Generated at: %s\n", report.Data.GeneratedAt.Format(time.RFC3339))
	fmt.Printf("Overdue charges: %d | Total due: %s\n\n", report.Data.TotalCharges, report.Data.TotalDue)
	for _, row := range report.Data.Rows {
		fmt.Printf("%-30s %-12s charges=%-3d due=%s\n", row.StudentName, row.StudentRA, row.ChargeCount, row.TotalDue)
	}
}
