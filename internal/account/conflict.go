package account

import (
	"context"
	"fmt"
)

// FileCounter reports how many files an account holds.
type FileCounter interface {
	CountByAccount(ctx context.Context, accountID string) (int64, error)
}

// SyncConflict describes a default switch that needs explicit confirmation.
// Stale is set when the caller's expected default is not the current one,
// including a caller that named no default while one exists.
type SyncConflict struct {
	CurrentDefault string `json:"currentDefault"`
	NewDefault     string `json:"newDefault"`
	FileCount      int64  `json:"fileCount"`
	Stale          bool   `json:"stale,omitempty"`
}

// Detect compares a proposed default change against the file ledger. It
// returns nil when the switch is safe.
func Detect(ctx context.Context, counter FileCounter, currentID, proposedID string) (*SyncConflict, error) {
	if currentID == "" || currentID == proposedID {
		return nil, nil
	}
	count, err := counter.CountByAccount(ctx, currentID)
	if err != nil {
		return nil, fmt.Errorf("detect sync conflict: %w", err)
	}
	if count == 0 {
		return nil, nil
	}
	return &SyncConflict{
		CurrentDefault: currentID,
		NewDefault:     proposedID,
		FileCount:      count,
	}, nil
}
