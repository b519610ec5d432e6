package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"
)

// Maintenance runs the periodic store upkeep jobs: LLM recompression of
// oversized summaries and the optional stale-record sweep. Scheduling lives
// with the caller; these are one-shot passes.
type Maintenance struct {
	store  *Store
	client CompletionClient
}

func NewMaintenance(store *Store, client CompletionClient) *Maintenance {
	return &Maintenance{store: store, client: client}
}

// RecompressOversized asks the completion capability to condense summaries
// that outgrew the length bound. Failures skip the record; the sentence-drop
// bound in the store still applies on the next merge.
func (m *Maintenance) RecompressOversized(ctx context.Context, limit int) (int, error) {
	records, err := m.store.OversizedRecords(ctx, limit)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	done := 0
	for _, r := range records {
		condensed, err := m.condense(ctx, r.Summary)
		if err != nil {
			log.Printf("[memory] warning: condense record %d (%s/%s): %v", r.ID, r.UserID, r.Topic, err)
			continue
		}
		if err := m.store.SetSummary(ctx, r.ID, condensed); err != nil {
			log.Printf("[memory] warning: save condensed record %d: %v", r.ID, err)
			continue
		}
		done++
	}
	if done > 0 {
		log.Printf("[memory] recompressed %d oversized record(s)", done)
	}
	return done, nil
}

func (m *Maintenance) condense(ctx context.Context, summary string) (string, error) {
	raw, err := m.client.Complete(ctx, fmt.Sprintf(condensePrompt, m.store.maxSummaryLen, summary))
	if err != nil {
		return "", err
	}
	var out struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &out); err != nil {
		return "", fmt.Errorf("%w: parse condense result: %v", ErrCompletionUnavailable, err)
	}
	if strings.TrimSpace(out.Summary) == "" {
		return "", fmt.Errorf("%w: empty condensed summary", ErrCompletionUnavailable)
	}
	return out.Summary, nil
}

// SweepStale archives low-weight records untouched for longer than maxAge.
func (m *Maintenance) SweepStale(ctx context.Context, maxAge time.Duration, minWeight float64) (int64, error) {
	n, err := m.store.SweepStale(ctx, maxAge, minWeight)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Printf("[memory] archived %d stale record(s)", n)
	}
	return n, nil
}
