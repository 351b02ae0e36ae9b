package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	var (
		baseURL     = flag.String("base-url", getenv("BASE_URL", "http://localhost:8080"), "feedback-service base url")
		secret      = flag.String("secret", getenv("ASHBY_WEBHOOK_SECRET", ""), "webhook signing secret")
		action      = flag.String("action", "schedule", "schedule, cancel or ping")
		scheduleID  = flag.String("schedule-id", "schedule_sim", "interview schedule id")
		eventID     = flag.String("event-id", "event_sim", "interview event id")
		email       = flag.String("email", getenv("INTERVIEWER_EMAIL", "john.doe@company.com"), "interviewer email")
		interviewID = flag.String("interview-id", "", "interview definition id")
		startIn     = flag.Duration("start-in", 10*time.Minute, "event start relative to now")
	)
	flag.Parse()

	if strings.TrimSpace(*secret) == "" {
		fatal("ASHBY_WEBHOOK_SECRET is required")
	}

	now := time.Now().UTC()
	var payload []byte
	var err error
	switch *action {
	case "ping":
		payload, err = json.Marshal(map[string]any{"action": "ping", "data": map[string]any{}})
	case "schedule", "cancel":
		status := "Scheduled"
		if *action == "cancel" {
			status = "Cancelled"
		}
		payload, err = buildScheduleJSON(status, *scheduleID, *eventID, *email, *interviewID, now, now.Add(*startIn))
	default:
		err = fmt.Errorf("unsupported action: %s", *action)
	}
	if err != nil {
		fatal(err.Error())
	}

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(*baseURL, "/")+"/webhooks/ashby", bytes.NewReader(payload))
	if err != nil {
		fatal(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Ashby-Signature", sign(*secret, payload))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatal(err.Error())
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	fmt.Printf("status=%d %s\n", resp.StatusCode, strings.TrimSpace(string(body)))
}

func buildScheduleJSON(status, scheduleID, eventID, email, interviewID string, now, start time.Time) ([]byte, error) {
	ts := func(t time.Time) string { return t.Format("2006-01-02T15:04:05.000Z") }
	event := map[string]any{
		"id":                   eventID,
		"startTime":            ts(start),
		"endTime":              ts(start.Add(time.Hour)),
		"feedbackLink":         "https://app.ashbyhq.com/feedback/" + eventID,
		"hasSubmittedFeedback": false,
		"createdAt":            ts(now),
		"updatedAt":            ts(now),
		"interviewers": []map[string]any{{
			"id":        "interviewer_sim",
			"firstName": "Sim",
			"lastName":  "Interviewer",
			"email":     email,
			"isEnabled": true,
		}},
	}
	if interviewID != "" {
		event["interview"] = map[string]any{"id": interviewID}
	}
	return json.Marshal(map[string]any{
		"action": "interviewScheduleUpdate",
		"data": map[string]any{
			"interviewSchedule": map[string]any{
				"id":               scheduleID,
				"status":           status,
				"applicationId":    "app_sim",
				"interviewStageId": "stage_sim",
				"candidateId":      "cand_sim",
				"updatedAt":        ts(now),
				"interviewEvents":  []map[string]any{event},
			},
		},
	})
}

// sign matches the Ashby-Signature scheme: hex HMAC-SHA256 of the raw body.
func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
