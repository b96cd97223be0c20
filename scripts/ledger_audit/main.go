package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ledger_audit re-derives every student's ledger totals from raw payment and
// refund history over the HTTP API and reports drift against the stored
// columns. Run it after bulk imports or manual database surgery.

type student struct {
	ID            string          `json:"id"`
	FullName      string          `json:"full_name"`
	FinalPrice    decimal.Decimal `json:"final_price"`
	TotalPaid     decimal.Decimal `json:"total_paid"`
	Balance       decimal.Decimal `json:"balance"`
	PaymentStatus string          `json:"payment_status"`
}

type payment struct {
	ID     string          `json:"id"`
	Amount decimal.Decimal `json:"amount"`
	Status string          `json:"status"`
}

type refund struct {
	PaymentID    *string         `json:"payment_id"`
	RefundAmount decimal.Decimal `json:"refund_amount"`
}

type studentLedger struct {
	Student  student   `json:"student"`
	Payments []payment `json:"payments"`
	Refunds  []refund  `json:"refunds"`
}

type pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}

type listEnvelope struct {
	Data       []student   `json:"data"`
	Pagination *pagination `json:"pagination"`
}

type ledgerEnvelope struct {
	Data studentLedger `json:"data"`
}

type finding struct {
	StudentID       string
	FullName        string
	StoredPaid      decimal.Decimal
	ExpectedPaid    decimal.Decimal
	StoredBalance   decimal.Decimal
	ExpectedBalance decimal.Decimal
	Detail          string
}

func main() {
	var (
		base    string
		token   string
		limit   int
		timeout time.Duration
	)

	flag.StringVar(&base, "base", "http://localhost:8080", "API base URL")
	flag.StringVar(&token, "token", os.Getenv("LEDGER_AUDIT_TOKEN"), "Bearer token for the API")
	flag.IntVar(&limit, "limit", 100, "Page size when listing students")
	flag.DurationVar(&timeout, "timeout", 10*time.Second, "HTTP client timeout")
	flag.Parse()

	client := &http.Client{Timeout: timeout}

	students, err := fetchStudents(client, base, token, limit)
	if err != nil {
		log.Fatalf("failed to list students: %v", err)
	}

	var findings []finding
	checked := 0
	for _, st := range students {
		ledger, err := fetchLedger(client, base, token, st.ID)
		if err != nil {
			findings = append(findings, finding{
				StudentID: st.ID,
				FullName:  st.FullName,
				Detail:    fmt.Sprintf("ledger fetch failed: %v", err),
			})
			continue
		}
		checked++
		if f, drifted := audit(ledger); drifted {
			findings = append(findings, f)
		}
	}

	printReport(checked, findings)
	if len(findings) > 0 {
		os.Exit(1)
	}
}

// audit replays the server-side derivation: total paid is the sum of COMPLETED
// payments minus refunds not already realised as a REFUNDED payment.
func audit(ledger studentLedger) (finding, bool) {
	statusByPayment := make(map[string]string, len(ledger.Payments))
	completed := decimal.Zero
	for _, p := range ledger.Payments {
		statusByPayment[p.ID] = p.Status
		if p.Status == "COMPLETED" {
			completed = completed.Add(p.Amount)
		}
	}

	outstanding := decimal.Zero
	for _, r := range ledger.Refunds {
		if r.PaymentID != nil && statusByPayment[*r.PaymentID] == "REFUNDED" {
			continue
		}
		outstanding = outstanding.Add(r.RefundAmount)
	}

	st := ledger.Student
	expectedPaid := completed.Sub(outstanding)
	expectedBalance := st.FinalPrice.Sub(expectedPaid)

	f := finding{
		StudentID:       st.ID,
		FullName:        st.FullName,
		StoredPaid:      st.TotalPaid,
		ExpectedPaid:    expectedPaid,
		StoredBalance:   st.Balance,
		ExpectedBalance: expectedBalance,
	}

	switch {
	case expectedPaid.IsNegative():
		f.Detail = "refunds exceed completed payments"
		return f, true
	case !st.TotalPaid.Equal(expectedPaid):
		f.Detail = "total_paid drifted from payment history"
		return f, true
	case !st.Balance.Equal(expectedBalance):
		f.Detail = "balance drifted from payment history"
		return f, true
	}
	return finding{}, false
}

func fetchStudents(client *http.Client, base, token string, limit int) ([]student, error) {
	var all []student
	for page := 1; ; page++ {
		url := fmt.Sprintf("%s/api/v1/students?page=%d&limit=%d", strings.TrimRight(base, "/"), page, limit)
		var envelope listEnvelope
		if err := getJSON(client, url, token, &envelope); err != nil {
			return nil, err
		}
		all = append(all, envelope.Data...)
		if envelope.Pagination == nil || len(all) >= envelope.Pagination.TotalCount || len(envelope.Data) == 0 {
			return all, nil
		}
	}
}

func fetchLedger(client *http.Client, base, token, studentID string) (studentLedger, error) {
	url := fmt.Sprintf("%s/api/v1/students/%s/ledger", strings.TrimRight(base, "/"), studentID)
	var envelope ledgerEnvelope
	if err := getJSON(client, url, token, &envelope); err != nil {
		return studentLedger{}, err
	}
	return envelope.Data, nil
}

func getJSON(client *http.Client, url, token string, dest interface{}) error {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.Unmarshal(body, dest)
}

func printReport(checked int, findings []finding) {
	fmt.Println("Ledger Audit Report")
	fmt.Println("===================")
	fmt.Printf("Students checked: %d, drifted: %d\n", checked, len(findings))
	for _, f := range findings {
		fmt.Printf("[DRIFT] %s (%s): %s\n", f.FullName, f.StudentID, f.Detail)
		fmt.Printf("  total_paid: stored=%s expected=%s\n", f.StoredPaid, f.ExpectedPaid)
		fmt.Printf("  balance:    stored=%s expected=%s\n", f.StoredBalance, f.ExpectedBalance)
	}
}
