package simulate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/okian/soccer-tracker/internal/domain/model"
)

// Convergence failures.
var (
	ErrNotSettled     = errors.New("analytics view still has a fetch outstanding")
	ErrDigestMismatch = errors.New("analytics view digest differs from stored statistics")
)

const pollInterval = 20 * time.Millisecond

// awaitConvergence polls until an idle view is derived from exactly the
// stored statistics, or timeout passes.
func awaitConvergence(ctx context.Context, client *httpClient, playerID string, timeout time.Duration) (model.View, []model.StatRecord, error) {
	var (
		view    model.View
		records []model.StatRecord
	)
	check := func() error {
		records = nil
		status, err := client.do(ctx, http.MethodGet, "/players/"+playerID+"/stats", nil, &records)
		if err != nil {
			return err
		}
		if status != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("list stats: unexpected status %d", status))
		}
		status, err = client.do(ctx, http.MethodGet, "/players/"+playerID+"/analytics?wait=true", nil, &view)
		if err != nil {
			return err
		}
		if status != http.StatusOK {
			return fmt.Errorf("analytics: unexpected status %d", status)
		}
		return verifyView(view, records)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = pollInterval
	policy.MaxElapsedTime = timeout
	if err := backoff.Retry(check, backoff.WithContext(policy, ctx)); err != nil {
		return view, records, fmt.Errorf("view did not converge: %w", err)
	}
	return view, records, nil
}

// verifyView checks that view is settled on records.
func verifyView(view model.View, records []model.StatRecord) error {
	if view.State != model.StateIdle {
		return fmt.Errorf("%w: state %s", ErrNotSettled, view.State)
	}
	if want := model.DigestRecords(records); view.StatsDigest != want {
		return fmt.Errorf("%w: view %s, store %s", ErrDigestMismatch, view.StatsDigest, want)
	}
	if view.StatCount != len(records) {
		return fmt.Errorf("%w: view has %d records, store %d", ErrDigestMismatch, view.StatCount, len(records))
	}
	return nil
}
