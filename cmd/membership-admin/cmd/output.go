package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openctemio/membership/internal/app"
	"github.com/openctemio/membership/pkg/domain/organization"
)

// Output format constants.
const (
	outputJSON  = "json"
	outputYAML  = "yaml"
	outputTable = "table"
)

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: marshal JSON: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

func printYAML(v any) {
	data, err := yaml.Marshal(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: marshal YAML: %v\n", err)
		return
	}
	fmt.Print(string(data))
}

// printStructured prints v as JSON or YAML and reports whether it did.
func printStructured(v any) bool {
	switch flagOutput {
	case outputJSON:
		printJSON(v)
		return true
	case outputYAML:
		printYAML(v)
		return true
	default:
		return false
	}
}

type tableWriter struct {
	w *tabwriter.Writer
}

func newTable(headers ...string) *tableWriter {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(headers, "\t"))
	return &tableWriter{w: w}
}

func (t *tableWriter) AddRow(values ...string) {
	fmt.Fprintln(t.w, strings.Join(values, "\t"))
}

func (t *tableWriter) Flush() {
	t.w.Flush()
}

func ptrStr(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func ptrInt(n *int) string {
	if n == nil {
		return "-"
	}
	return strconv.Itoa(*n)
}

func shortTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

// memberView is the printable form of a membership.
type memberView struct {
	ID                   string `json:"id" yaml:"id"`
	UserID               string `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	Email                string `json:"email,omitempty" yaml:"email,omitempty"`
	Role                 string `json:"role" yaml:"role"`
	Status               string `json:"status" yaml:"status"`
	AccessSecretsManager bool   `json:"access_secrets_manager" yaml:"access_secrets_manager"`
	ExternalID           string `json:"external_id,omitempty" yaml:"external_id,omitempty"`
	RevisionDate         string `json:"revision_date" yaml:"revision_date"`
}

func newMemberView(m *organization.Membership) memberView {
	v := memberView{
		ID:                   m.ID().String(),
		Email:                m.EmailOrEmpty(),
		Role:                 string(m.Role()),
		Status:               string(m.Status()),
		AccessSecretsManager: m.AccessSecretsManager(),
		ExternalID:           m.ExternalID(),
		RevisionDate:         shortTime(m.RevisionDate()),
	}
	if m.UserID() != nil {
		v.UserID = m.UserID().String()
	}
	return v
}

func printMembers(members []*organization.Membership) {
	views := make([]memberView, len(members))
	for i, m := range members {
		views[i] = newMemberView(m)
	}
	if printStructured(views) {
		return
	}
	if len(views) == 0 {
		fmt.Println("No memberships found.")
		return
	}
	t := newTable("ID", "EMAIL", "USER", "ROLE", "STATUS", "SM", "UPDATED")
	for _, v := range views {
		t.AddRow(v.ID, orDash(v.Email), orDash(v.UserID), v.Role, v.Status, strconv.FormatBool(v.AccessSecretsManager), v.RevisionDate)
	}
	t.Flush()
}

// batchView is the printable form of one batch item outcome.
type batchView struct {
	MembershipID string `json:"membership_id" yaml:"membership_id"`
	Status       string `json:"status,omitempty" yaml:"status,omitempty"`
	Error        string `json:"error,omitempty" yaml:"error,omitempty"`
}

func printBatch(results []app.BatchResult) {
	views := make([]batchView, len(results))
	for i, r := range results {
		views[i] = batchView{MembershipID: r.MembershipID.String(), Error: r.Message()}
		if r.Succeeded() {
			views[i].Status = string(r.Status)
		}
	}
	if printStructured(views) {
		return
	}
	t := newTable("MEMBERSHIP", "RESULT", "DETAIL")
	for _, v := range views {
		if v.Error == "" {
			t.AddRow(v.MembershipID, "OK", v.Status)
			continue
		}
		t.AddRow(v.MembershipID, "FAIL", v.Error)
	}
	t.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
