package ledger

import (
	"context"
	"fmt"

	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/oplog"
)

// ListEntries lists entries newest first below beforeSequence (0 lists from the tail).
func (service *Service) ListEntries(ctx context.Context, account Account, beforeSequence int64, limit int) ([]Entry, error) {
	if limit <= 0 || limit > maxListLimit {
		return nil, fmt.Errorf("%w: %d", ErrInvalidListLimit, limit)
	}
	return service.store.ListEntries(ctx, account, beforeSequence, limit)
}

// AccountState returns the control record for an account; unknown accounts are reported as not frozen.
func (service *Service) AccountState(ctx context.Context, account Account) (AccountState, error) {
	state, found, err := service.store.GetAccountState(ctx, account)
	if err != nil {
		return AccountState{}, err
	}
	if !found {
		return AccountState{Account: account}, nil
	}
	return state, nil
}

// Accounts lists every account that has a control record.
func (service *Service) Accounts(ctx context.Context) ([]Account, error) {
	return service.store.ListAccounts(ctx)
}

// RecomputeBalance folds every confirmed entry from genesis.
func (service *Service) RecomputeBalance(ctx context.Context, account Account) (Balance, error) {
	var (
		total         int64
		afterSequence int64
	)
	for {
		page, err := service.store.ScanEntries(ctx, account, afterSequence, verifyPageSize)
		if err != nil {
			return 0, err
		}
		for _, entry := range page {
			afterSequence = entry.Sequence
			if entry.Status != EntryStatusConfirmed {
				continue
			}
			if entry.Type == EntryCredit {
				total += entry.Amount.Int64()
			} else {
				total -= entry.Amount.Int64()
			}
		}
		if len(page) < verifyPageSize {
			break
		}
	}
	return NewBalance(total)
}

// VerifyChain walks the chain from genesis and reports whether every hash matches.
func (service *Service) VerifyChain(ctx context.Context, account Account) (bool, error) {
	report, err := service.VerifyChainReport(ctx, account)
	if err != nil {
		return false, err
	}
	return report.Valid, nil
}

// VerifyChainReport walks the chain from genesis and describes the first break, if any.
// A broken chain freezes the account.
func (service *Service) VerifyChainReport(ctx context.Context, account Account) (ChainReport, error) {
	report := ChainReport{Account: account, Valid: true}
	prevHash := GenesisHash
	var (
		expectedSequence int64 = 1
		balance          Balance
		afterSequence    int64
	)
walk:
	for {
		page, err := service.store.ScanEntries(ctx, account, afterSequence, verifyPageSize)
		if err != nil {
			return ChainReport{}, err
		}
		for _, entry := range page {
			report.EntriesChecked++
			afterSequence = entry.Sequence
			reason := checkLink(entry, expectedSequence, prevHash, balance)
			if reason != "" {
				report.Valid = false
				report.BrokenAtSequence = entry.Sequence
				report.Reason = reason
				break walk
			}
			balance = entry.RunningBalance
			prevHash = entry.EntryHash
			expectedSequence++
		}
		if len(page) < verifyPageSize {
			break
		}
	}
	report.TailBalance = balance

	var verifyErr error
	if !report.Valid {
		verifyErr = ChainBrokenError{Account: account, Sequence: report.BrokenAtSequence, Reason: report.Reason}
		service.FreezeOnIntegrityFailure(ctx, verifyErr)
	}
	oplog.Emit(ctx, service.logger, oplog.Record{
		Component: componentName,
		Operation: operationVerify,
		Subject:   account.String(),
		Error:     verifyErr,
		Fields: map[string]string{
			"entries_checked": fmt.Sprintf("%d", report.EntriesChecked),
		},
	})
	return report, nil
}

// Reverse appends an entry offsetting entryID. The original entry is never modified,
// and reversing the same entry twice returns the first reversal.
func (service *Service) Reverse(ctx context.Context, account Account, entryID string) (Entry, error) {
	original, err := service.store.GetEntry(ctx, account, entryID)
	if err != nil {
		return Entry{}, err
	}
	key, err := DeriveIdempotencyKey(reversalKeyPrefix, original.EntryID)
	if err != nil {
		return Entry{}, err
	}
	entry, err := service.AppendEntry(ctx, AppendRequest{
		Account:         account,
		Type:            original.Type.Opposite(),
		Amount:          original.Amount,
		TransactionType: TransactionReversal,
		IdempotencyKey:  key,
		ReferenceID:     original.EntryID,
	})
	oplog.Emit(ctx, service.logger, oplog.Record{
		Component:      componentName,
		Operation:      operationReverse,
		Subject:        account.String(),
		Amount:         original.Amount.Int64(),
		IdempotencyKey: key.String(),
		Error:          err,
		Fields:         map[string]string{"reversed_entry_id": original.EntryID},
	})
	return entry, err
}

func checkLink(entry Entry, expectedSequence int64, prevHash string, balance Balance) string {
	if entry.Sequence != expectedSequence {
		return fmt.Sprintf("sequence gap: expected %d", expectedSequence)
	}
	if entry.PrevHash != prevHash {
		return "prev hash does not match predecessor"
	}
	if !entry.Verify() {
		return "entry hash mismatch"
	}
	expectedBalance, err := applyEntry(balance, entry.Type, entry.Amount)
	if err != nil || expectedBalance != entry.RunningBalance {
		return "running balance mismatch"
	}
	return ""
}
