// Package audit walks ledger accounts, verifying hash chains and checking that the cached
// tail balance matches a fold over the confirmed entries.
package audit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/ledger"
	"go.uber.org/zap"
)

// Finding is the audit result for one account.
type Finding struct {
	Account    ledger.Account
	Report     ledger.ChainReport
	Cached     ledger.Balance
	Recomputed ledger.Balance
	Problem    string
}

// Healthy reports whether the chain is intact and both balances agree.
func (finding Finding) Healthy() bool {
	return finding.Problem == ""
}

// Summary aggregates one audit run.
type Summary struct {
	Findings []Finding
}

// Failed counts the unhealthy accounts.
func (summary Summary) Failed() int {
	failed := 0
	for _, finding := range summary.Findings {
		if !finding.Healthy() {
			failed++
		}
	}
	return failed
}

// Auditor runs integrity checks through the ledger service, so broken chains freeze their
// account exactly as they would during normal traffic.
type Auditor struct {
	ledger *ledger.Service
	logger *zap.Logger
}

// New builds an Auditor.
func New(service *ledger.Service, logger *zap.Logger) (*Auditor, error) {
	if service == nil {
		return nil, errors.New("audit: ledger service is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Auditor{ledger: service, logger: logger}, nil
}

// Accounts resolves the accounts to audit: a single account when ownerType is set,
// otherwise every account the store knows.
func (auditor *Auditor) Accounts(ctx context.Context, ownerType string, ownerID string) ([]ledger.Account, error) {
	if strings.TrimSpace(ownerType) == "" && strings.TrimSpace(ownerID) == "" {
		return auditor.ledger.Accounts(ctx)
	}
	parsed, err := ledger.ParseOwnerType(ownerType)
	if err != nil {
		return nil, err
	}
	account, err := ledger.NewAccount(parsed, ownerID)
	if err != nil {
		return nil, err
	}
	return []ledger.Account{account}, nil
}

// Run audits every account. Storage errors abort the run; integrity problems are
// collected as findings.
func (auditor *Auditor) Run(ctx context.Context, accounts []ledger.Account) (Summary, error) {
	summary := Summary{Findings: make([]Finding, 0, len(accounts))}
	for _, account := range accounts {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		finding, err := auditor.audit(ctx, account)
		if err != nil {
			return summary, fmt.Errorf("audit %s: %w", account, err)
		}
		if !finding.Healthy() {
			auditor.logger.Error("ledger audit failed",
				zap.String("account", account.String()),
				zap.String("problem", finding.Problem),
				zap.Int64("broken_at_sequence", finding.Report.BrokenAtSequence),
			)
		}
		summary.Findings = append(summary.Findings, finding)
	}
	auditor.logger.Info("ledger audit complete",
		zap.Int("accounts", len(summary.Findings)),
		zap.Int("failed", summary.Failed()),
	)
	return summary, nil
}

func (auditor *Auditor) audit(ctx context.Context, account ledger.Account) (Finding, error) {
	finding := Finding{Account: account}
	report, err := auditor.ledger.VerifyChainReport(ctx, account)
	if err != nil {
		return Finding{}, err
	}
	finding.Report = report
	if !report.Valid {
		finding.Problem = fmt.Sprintf("chain broken at sequence %d: %s", report.BrokenAtSequence, report.Reason)
		return finding, nil
	}
	cached, err := auditor.ledger.Balance(ctx, account)
	if err != nil {
		return Finding{}, err
	}
	finding.Cached = cached
	recomputed, err := auditor.ledger.RecomputeBalance(ctx, account)
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidBalance) {
			finding.Problem = err.Error()
			return finding, nil
		}
		return Finding{}, err
	}
	finding.Recomputed = recomputed
	if cached != recomputed {
		finding.Problem = fmt.Sprintf("cached balance %d differs from recomputed %d", cached.Int64(), recomputed.Int64())
	}
	return finding, nil
}

// Reverse offsets a single entry. Retrying returns the first reversal.
func (auditor *Auditor) Reverse(ctx context.Context, account ledger.Account, entryID string) (ledger.Entry, error) {
	entry, err := auditor.ledger.Reverse(ctx, account, entryID)
	if err != nil {
		return ledger.Entry{}, err
	}
	auditor.logger.Info("entry reversed",
		zap.String("account", account.String()),
		zap.String("reversed_entry_id", entryID),
		zap.String("entry_id", entry.EntryID),
	)
	return entry, nil
}

// WriteReport prints one line per account.
func WriteReport(writer io.Writer, summary Summary) error {
	for _, finding := range summary.Findings {
		status := "ok"
		detail := fmt.Sprintf("entries=%d balance=%d", finding.Report.EntriesChecked, finding.Recomputed.Int64())
		if !finding.Healthy() {
			status = "FAIL"
			detail = finding.Problem
		}
		if _, err := fmt.Fprintf(writer, "%-4s %s %s\n", status, finding.Account, detail); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(writer, "%d accounts, %d failed\n", len(summary.Findings), summary.Failed())
	return err
}
