package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"
)

type memoryState struct {
	accounts map[string]AccountState
	entries  map[string][]Entry
}

func (state *memoryState) clone() *memoryState {
	copied := &memoryState{
		accounts: make(map[string]AccountState, len(state.accounts)),
		entries:  make(map[string][]Entry, len(state.entries)),
	}
	for key, value := range state.accounts {
		copied.accounts[key] = value
	}
	for key, value := range state.entries {
		copied.entries[key] = append([]Entry(nil), value...)
	}
	return copied
}

// memoryStore serializes every transaction behind one mutex and rolls back on error.
type memoryStore struct {
	mutex     *sync.Mutex
	state     *memoryState
	inTx      bool
	insertErr error
	tailErr   error
}

func newMemoryStore(test *testing.T) *memoryStore {
	test.Helper()
	return &memoryStore{
		mutex: &sync.Mutex{},
		state: &memoryState{accounts: map[string]AccountState{}, entries: map[string][]Entry{}},
	}
}

func (store *memoryStore) guard() func() {
	if store.inTx {
		return func() {}
	}
	store.mutex.Lock()
	return store.mutex.Unlock
}

func (store *memoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	snapshot := store.state.clone()
	txStore := &memoryStore{mutex: store.mutex, state: store.state, inTx: true, insertErr: store.insertErr, tailErr: store.tailErr}
	if err := fn(ctx, txStore); err != nil {
		*store.state = *snapshot
		return err
	}
	return nil
}

func (store *memoryStore) LockAccount(_ context.Context, account Account) (AccountState, error) {
	defer store.guard()()
	state, found := store.state.accounts[account.String()]
	if !found {
		state = AccountState{Account: account}
		store.state.accounts[account.String()] = state
	}
	return state, nil
}

func (store *memoryStore) GetAccountState(_ context.Context, account Account) (AccountState, bool, error) {
	defer store.guard()()
	state, found := store.state.accounts[account.String()]
	return state, found, nil
}

func (store *memoryStore) TailEntry(_ context.Context, account Account) (Entry, bool, error) {
	defer store.guard()()
	if store.tailErr != nil {
		return Entry{}, false, store.tailErr
	}
	chain := store.state.entries[account.String()]
	if len(chain) == 0 {
		return Entry{}, false, nil
	}
	return chain[len(chain)-1], true, nil
}

func (store *memoryStore) FindEntryByIdempotencyKey(_ context.Context, account Account, key IdempotencyKey) (Entry, bool, error) {
	defer store.guard()()
	for _, entry := range store.state.entries[account.String()] {
		if entry.IdempotencyKey == key {
			return entry, true, nil
		}
	}
	return Entry{}, false, nil
}

func (store *memoryStore) GetEntry(_ context.Context, account Account, entryID string) (Entry, error) {
	defer store.guard()()
	for _, entry := range store.state.entries[account.String()] {
		if entry.EntryID == entryID {
			return entry, nil
		}
	}
	return Entry{}, fmt.Errorf("%w: %s", ErrUnknownEntry, entryID)
}

func (store *memoryStore) InsertEntry(_ context.Context, entry Entry) error {
	defer store.guard()()
	if store.insertErr != nil {
		return store.insertErr
	}
	key := entry.Account.String()
	for _, existing := range store.state.entries[key] {
		if existing.IdempotencyKey == entry.IdempotencyKey {
			return ErrDuplicateIdempotencyKey
		}
	}
	store.state.entries[key] = append(store.state.entries[key], entry)
	return nil
}

func (store *memoryStore) ListEntries(_ context.Context, account Account, beforeSequence int64, limit int) ([]Entry, error) {
	defer store.guard()()
	chain := store.state.entries[account.String()]
	var listed []Entry
	for index := len(chain) - 1; index >= 0 && len(listed) < limit; index-- {
		if beforeSequence > 0 && chain[index].Sequence >= beforeSequence {
			continue
		}
		listed = append(listed, chain[index])
	}
	return listed, nil
}

func (store *memoryStore) ScanEntries(_ context.Context, account Account, afterSequence int64, limit int) ([]Entry, error) {
	defer store.guard()()
	var scanned []Entry
	for _, entry := range store.state.entries[account.String()] {
		if entry.Sequence > afterSequence && len(scanned) < limit {
			scanned = append(scanned, entry)
		}
	}
	return scanned, nil
}

func (store *memoryStore) FreezeAccount(_ context.Context, account Account, reason string, at time.Time) error {
	defer store.guard()()
	state := store.state.accounts[account.String()]
	state.Account = account
	frozenAt := at
	state.FrozenAt = &frozenAt
	state.FrozenReason = reason
	store.state.accounts[account.String()] = state
	return nil
}

func (store *memoryStore) ListAccounts(_ context.Context) ([]Account, error) {
	defer store.guard()()
	accounts := make([]Account, 0, len(store.state.accounts))
	for _, state := range store.state.accounts {
		accounts = append(accounts, state.Account)
	}
	sort.Slice(accounts, func(left, right int) bool { return accounts[left].String() < accounts[right].String() })
	return accounts, nil
}

func (store *memoryStore) tamper(account Account, sequence int64, mutate func(entry *Entry)) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	chain := store.state.entries[account.String()]
	for index := range chain {
		if chain[index].Sequence == sequence {
			mutate(&chain[index])
		}
	}
}

func (store *memoryStore) entryCount(account Account) int {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return len(store.state.entries[account.String()])
}

var fixedNow = time.Date(2026, time.March, 4, 10, 30, 0, 0, time.UTC)

func fixedClock() time.Time {
	return fixedNow
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, fixedClock, options...)
	if err != nil {
		test.Fatalf("service init failed: %v", err)
	}
	return service
}

func mustAccount(test *testing.T, ownerType OwnerType, ownerID string) Account {
	test.Helper()
	account, err := NewAccount(ownerType, ownerID)
	if err != nil {
		test.Fatalf("account init failed: %v", err)
	}
	return account
}

func mustAmount(test *testing.T, raw int64) Amount {
	test.Helper()
	amount, err := NewAmount(raw)
	if err != nil {
		test.Fatalf("amount init failed: %v", err)
	}
	return amount
}

func mustIdempotencyKey(test *testing.T, raw string) IdempotencyKey {
	test.Helper()
	key, err := NewIdempotencyKey(raw)
	if err != nil {
		test.Fatalf("idempotency key init failed: %v", err)
	}
	return key
}

func appendRequest(test *testing.T, account Account, entryType EntryType, amount int64, key string) AppendRequest {
	test.Helper()
	return AppendRequest{
		Account:         account,
		Type:            entryType,
		Amount:          mustAmount(test, amount),
		TransactionType: TransactionTopUp,
		IdempotencyKey:  mustIdempotencyKey(test, key),
	}
}

func mustAppend(test *testing.T, service *Service, request AppendRequest) Entry {
	test.Helper()
	entry, err := service.AppendEntry(context.Background(), request)
	if err != nil {
		test.Fatalf("append failed: %v", err)
	}
	return entry
}
