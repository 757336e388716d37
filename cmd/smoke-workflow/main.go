package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"
)

// Drives the end-to-end happy paths against a running rasd-api started with
// the in-memory engine (no RASD_PG_DSN): the three-member approval quorum and
// the forward-then-close-bottom-up directive ordering.
func main() {
	base := os.Getenv("RASD_API_ADDR")
	if base == "" {
		base = "http://localhost:8080"
	}
	client := &http.Client{Timeout: 5 * time.Second}

	report := struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}{}
	post(client, base+"/v1/reports",
		`{"title":"Smoke Quarterly Report","author_id":"u-member-1","committee_id":"cmte-ops"}`, &report)
	if report.Status != "draft" {
		log.Fatalf("new report status: %s", report.Status)
	}

	post(client, base+"/v1/reports/"+report.ID+"/transitions",
		`{"from":"draft","to":"submitted","actor":"u-member-1"}`, nil)

	// Approvals by all three members; the last one fires the auto-approval.
	for _, u := range []string{"u-head-ops", "u-member-1", "u-member-2"} {
		post(client, base+"/v1/reports/"+report.ID+"/approvals", `{"user_id":"`+u+`"}`, nil)
	}
	get(client, base+"/v1/reports/"+report.ID, &report)
	if report.Status != "approved" {
		log.Fatalf("quorum did not fire: report is %s", report.Status)
	}

	directive := struct {
		ID string `json:"id"`
	}{}
	post(client, base+"/v1/directives",
		`{"title":"Smoke corrective action","issuer_id":"u-head-ops","target_committee_id":"cmte-ops","type":"corrective_action"}`, &directive)

	child := struct {
		ID string `json:"id"`
	}{}
	post(client, base+"/v1/directives/"+directive.ID+"/forward",
		`{"title":"Smoke corrective action","issuer_id":"u-head-maint","target_committee_id":"cmte-maint"}`, &child)

	// Parent closure must be rejected while the child is open.
	if code := postCode(client, base+"/v1/directives/"+directive.ID+"/transitions",
		`{"from":"issued","to":"closed","actor":"u-head-ops"}`); code != http.StatusUnprocessableEntity {
		log.Fatalf("expected 422 closing parent early, got %d", code)
	}

	post(client, base+"/v1/directives/"+child.ID+"/transitions",
		`{"from":"issued","to":"closed","actor":"u-head-maint"}`, nil)
	post(client, base+"/v1/directives/"+directive.ID+"/transitions",
		`{"from":"issued","to":"closed","actor":"u-head-ops"}`, nil)

	fmt.Printf("✅ workflow smoke test passed: report=%s directive=%s\n", report.ID, directive.ID)
}

func post(client *http.Client, url, body string, dst any) {
	resp, err := client.Post(url, "application/json", bytes.NewReader([]byte(body)))
	if err != nil {
		log.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		log.Fatalf("POST %s: %d %s", url, resp.StatusCode, data)
	}
	if dst != nil {
		if err := json.Unmarshal(data, dst); err != nil {
			log.Fatalf("POST %s: decode: %v", url, err)
		}
	}
}

func postCode(client *http.Client, url, body string) int {
	resp, err := client.Post(url, "application/json", bytes.NewReader([]byte(body)))
	if err != nil {
		log.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode
}

func get(client *http.Client, url string, dst any) {
	resp, err := client.Get(url)
	if err != nil {
		log.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		log.Fatalf("GET %s: %d %s", url, resp.StatusCode, data)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		log.Fatalf("GET %s: decode: %v", url, err)
	}
}
