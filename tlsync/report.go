package tlsync

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Status is the outcome of synchronising one list.
type Status string

const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
)

// ListResult records the outcome of synchronising one list.
type ListResult struct {
	URL            string   `json:"url"`
	Stage          Stage    `json:"stage"`
	Territory      string   `json:"territory,omitempty"`
	SequenceNumber int      `json:"sequenceNumber,omitempty"`
	Status         Status   `json:"status"`
	ErrorKind      string   `json:"errorKind,omitempty"`
	Error          string   `json:"error,omitempty"`
	Certificates   int      `json:"certificates"`
	Expired        bool     `json:"expired,omitempty"`
	Warnings       []string `json:"warnings,omitempty"`

	// Err is the failure cause; it is not serialised.
	Err error `json:"-"`
}

func (r *ListResult) fail(err error) {
	r.Status = StatusFailed
	r.Err = err
	r.Error = err.Error()
	r.ErrorKind = Kind(err)
}

// Report summarises one synchronisation run.
type Report struct {
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`

	// LOTL is nil when explicit lists were synchronised.
	LOTL *ListResult `json:"lotl,omitempty"`

	// Pivots are the verified historical LOTL versions, oldest first.
	Pivots []string `json:"pivots,omitempty"`

	// Lists holds one result per trusted list, ordered by URL.
	Lists []ListResult `json:"lists"`

	// Certificates is the number of distinct certificates collected.
	Certificates int `json:"certificates"`
}

// Duration returns the run time.
func (r *Report) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// Failed returns the number of trusted lists that failed.
func (r *Report) Failed() int {
	n := 0
	for _, l := range r.Lists {
		if l.Status == StatusFailed {
			n++
		}
	}
	return n
}

// Succeeded returns the number of trusted lists that were synchronised.
func (r *Report) Succeeded() int {
	return len(r.Lists) - r.Failed()
}

// Summary returns a one-line description of the run.
func (r *Report) Summary() string {
	return fmt.Sprintf("%d of %d trusted lists synchronised, %d failed, %d certificates collected in %s",
		r.Succeeded(), len(r.Lists), r.Failed(), r.Certificates, r.Duration().Round(time.Millisecond))
}

// WriteFile writes the report as indented JSON.
func (r *Report) WriteFile(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
