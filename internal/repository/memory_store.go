package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/attendman/internal/model"
)

type memoryTxKey struct{}

// MemoryStore はプロセス内メモリに Identity と出席記録を保持するストア。
// PostgreSQLと同じ一意制約と外部キー制約を検査する。
// トランザクションは直列化され、エラー時は開始時点のスナップショットに戻す。
// トランザクション外の書き込みも実行中のトランザクションの終了を待ってから適用する。
type MemoryStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	identities     map[int64]*model.Identity
	records        map[int64]*model.AttendanceRecord
	nextIdentityID int64
	nextRecordID   int64
}

// NewMemoryStore は空のMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		identities: make(map[int64]*model.Identity),
		records:    make(map[int64]*model.AttendanceRecord),
	}
}

// Identities はIdentityRepositoryとしてのビューを返す。
func (s *MemoryStore) Identities() *MemoryIdentityRepo {
	return &MemoryIdentityRepo{store: s}
}

// Attendance はAttendanceRepositoryとしてのビューを返す。
func (s *MemoryStore) Attendance() *MemoryAttendanceRepo {
	return &MemoryAttendanceRepo{store: s}
}

type memorySnapshot struct {
	identities     map[int64]*model.Identity
	records        map[int64]*model.AttendanceRecord
	nextIdentityID int64
	nextRecordID   int64
}

func (s *MemoryStore) snapshot() memorySnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := memorySnapshot{
		identities:     make(map[int64]*model.Identity, len(s.identities)),
		records:        make(map[int64]*model.AttendanceRecord, len(s.records)),
		nextIdentityID: s.nextIdentityID,
		nextRecordID:   s.nextRecordID,
	}
	for id, v := range s.identities {
		snap.identities[id] = cloneIdentity(v)
	}
	for id, v := range s.records {
		snap.records[id] = cloneRecord(v)
	}
	return snap
}

func (s *MemoryStore) restore(snap memorySnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.identities = snap.identities
	s.records = snap.records
	s.nextIdentityID = snap.nextIdentityID
	s.nextRecordID = snap.nextRecordID
}

// lockWrite は書き込み用のロックを取得し、解放関数を返す。
// トランザクション外ではtxMuも取得し、実行中のトランザクションと直列化する。
func (s *MemoryStore) lockWrite(ctx context.Context) func() {
	if ctx.Value(memoryTxKey{}) != nil {
		s.mu.Lock()
		return s.mu.Unlock
	}
	s.txMu.Lock()
	s.mu.Lock()
	return func() {
		s.mu.Unlock()
		s.txMu.Unlock()
	}
}

// WithinTx はfnを直列化されたトランザクション内で実行する。
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memoryTxKey{}) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	defer func() {
		if p := recover(); p != nil {
			s.restore(snap)
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, memoryTxKey{}, true)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// MemoryIdentityRepo はMemoryStore上のIdentityRepository実装。
type MemoryIdentityRepo struct {
	store *MemoryStore
}

func cloneIdentity(v *model.Identity) *model.Identity {
	c := *v
	if v.Phone != nil {
		phone := *v.Phone
		c.Phone = &phone
	}
	return &c
}

// uniqueIdentity はemailとexternal_idの一意制約を検査する。呼び出し側でmuを保持すること。
func (s *MemoryStore) uniqueIdentity(identity *model.Identity) error {
	for id, v := range s.identities {
		if id == identity.ID {
			continue
		}
		if v.Email == identity.Email {
			return &UniqueViolationError{Constraint: ConstraintIdentityEmail, Err: fmt.Errorf("email %q already exists", identity.Email)}
		}
		if v.ExternalID == identity.ExternalID {
			return &UniqueViolationError{Constraint: ConstraintIdentityExternalID, Err: fmt.Errorf("external_id %q already exists", identity.ExternalID)}
		}
	}
	return nil
}

func (r *MemoryIdentityRepo) findBy(match func(*model.Identity) bool) *model.Identity {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for _, v := range r.store.identities {
		if match(v) {
			return cloneIdentity(v)
		}
	}
	return nil
}

// FindByID は指定IDのIdentityを取得する。
func (r *MemoryIdentityRepo) FindByID(_ context.Context, id int64) (*model.Identity, error) {
	return r.findBy(func(v *model.Identity) bool { return v.ID == id }), nil
}

// FindByEmail はメールアドレスでIdentityを検索する。
func (r *MemoryIdentityRepo) FindByEmail(_ context.Context, email string) (*model.Identity, error) {
	return r.findBy(func(v *model.Identity) bool { return v.Email == email }), nil
}

// FindByExternalID は社員番号でIdentityを検索する。
func (r *MemoryIdentityRepo) FindByExternalID(_ context.Context, externalID string) (*model.Identity, error) {
	return r.findBy(func(v *model.Identity) bool { return v.ExternalID == externalID }), nil
}

// List はID昇順でIdentityを取得する。
func (r *MemoryIdentityRepo) List(_ context.Context, activeOnly bool, page model.Page) ([]*model.Identity, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	all := make([]*model.Identity, 0, len(r.store.identities))
	for _, v := range r.store.identities {
		if activeOnly && !v.Active {
			continue
		}
		all = append(all, cloneIdentity(v))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return paginate(all, page), nil
}

// Create はIdentityを作成する。
func (r *MemoryIdentityRepo) Create(ctx context.Context, identity *model.Identity) error {
	defer r.store.lockWrite(ctx)()

	candidate := cloneIdentity(identity)
	candidate.ID = 0
	if err := r.store.uniqueIdentity(candidate); err != nil {
		return err
	}
	r.store.nextIdentityID++
	candidate.ID = r.store.nextIdentityID
	r.store.identities[candidate.ID] = candidate
	identity.ID = candidate.ID
	return nil
}

// Update はIdentityを更新する。
func (r *MemoryIdentityRepo) Update(ctx context.Context, identity *model.Identity) error {
	defer r.store.lockWrite(ctx)()

	current, ok := r.store.identities[identity.ID]
	if !ok {
		return fmt.Errorf("id %d: %w", identity.ID, ErrNotFound)
	}
	if err := r.store.uniqueIdentity(identity); err != nil {
		return err
	}
	updated := cloneIdentity(identity)
	updated.CreatedAt = current.CreatedAt
	r.store.identities[identity.ID] = updated
	return nil
}

// DeleteByID はIdentityを削除する。出席記録が残っている場合は外部キー違反になる。
func (r *MemoryIdentityRepo) DeleteByID(ctx context.Context, id int64) error {
	defer r.store.lockWrite(ctx)()

	if _, ok := r.store.identities[id]; !ok {
		return fmt.Errorf("id %d: %w", id, ErrNotFound)
	}
	for _, rec := range r.store.records {
		if rec.IdentityID == id {
			return fmt.Errorf("identity %d is referenced by attendance records: %w", id, ErrForeignKeyViolation)
		}
	}
	delete(r.store.identities, id)
	return nil
}

// MemoryAttendanceRepo はMemoryStore上のAttendanceRepository実装。
type MemoryAttendanceRepo struct {
	store *MemoryStore
}

func cloneRecord(v *model.AttendanceRecord) *model.AttendanceRecord {
	c := *v
	if v.CheckIn != nil {
		t := *v.CheckIn
		c.CheckIn = &t
	}
	if v.CheckOut != nil {
		t := *v.CheckOut
		c.CheckOut = &t
	}
	return &c
}

func (r *MemoryAttendanceRepo) filter(match func(*model.AttendanceRecord) bool) []*model.AttendanceRecord {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var out []*model.AttendanceRecord
	for _, v := range r.store.records {
		if match(v) {
			out = append(out, cloneRecord(v))
		}
	}
	return out
}

// FindByID は指定IDの出席記録を取得する。
func (r *MemoryAttendanceRepo) FindByID(_ context.Context, id int64) (*model.AttendanceRecord, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	v, ok := r.store.records[id]
	if !ok {
		return nil, nil
	}
	return cloneRecord(v), nil
}

// FindByIdentityAndDate はIdentityと日付で出席記録を取得する。
func (r *MemoryAttendanceRepo) FindByIdentityAndDate(_ context.Context, identityID int64, date time.Time) (*model.AttendanceRecord, error) {
	day := model.DateOf(date)
	found := r.filter(func(v *model.AttendanceRecord) bool {
		return v.IdentityID == identityID && v.Date.Equal(day)
	})
	if len(found) == 0 {
		return nil, nil
	}
	return found[0], nil
}

// ListByIdentity はIdentityの出席記録を日付降順で取得する。
func (r *MemoryAttendanceRepo) ListByIdentity(_ context.Context, identityID int64, page model.Page) ([]*model.AttendanceRecord, error) {
	found := r.filter(func(v *model.AttendanceRecord) bool { return v.IdentityID == identityID })
	sort.Slice(found, func(i, j int) bool { return found[i].Date.After(found[j].Date) })
	return paginate(found, page), nil
}

// ListByDate は指定日の全出席記録をidentity_id昇順で取得する。
func (r *MemoryAttendanceRepo) ListByDate(_ context.Context, date time.Time) ([]*model.AttendanceRecord, error) {
	day := model.DateOf(date)
	found := r.filter(func(v *model.AttendanceRecord) bool { return v.Date.Equal(day) })
	sort.Slice(found, func(i, j int) bool { return found[i].IdentityID < found[j].IdentityID })
	return found, nil
}

// ListByIdentityAndDateRange はstart以上end以下の出席記録を日付昇順で取得する。
func (r *MemoryAttendanceRepo) ListByIdentityAndDateRange(_ context.Context, identityID int64, start, end time.Time) ([]*model.AttendanceRecord, error) {
	from, to := model.DateOf(start), model.DateOf(end)
	found := r.filter(func(v *model.AttendanceRecord) bool {
		return v.IdentityID == identityID && !v.Date.Before(from) && !v.Date.After(to)
	})
	sort.Slice(found, func(i, j int) bool { return found[i].Date.Before(found[j].Date) })
	return found, nil
}

// Create は出席記録を作成する。
func (r *MemoryAttendanceRepo) Create(ctx context.Context, record *model.AttendanceRecord) error {
	defer r.store.lockWrite(ctx)()

	if _, ok := r.store.identities[record.IdentityID]; !ok {
		return fmt.Errorf("identity %d does not exist: %w", record.IdentityID, ErrForeignKeyViolation)
	}
	candidate := cloneRecord(record)
	candidate.Date = model.DateOf(record.Date)
	for _, v := range r.store.records {
		if v.IdentityID == candidate.IdentityID && v.Date.Equal(candidate.Date) {
			return &UniqueViolationError{
				Constraint: ConstraintAttendanceDaily,
				Err:        fmt.Errorf("identity %d already has a record on %s", candidate.IdentityID, candidate.Date.Format(model.DateLayout)),
			}
		}
	}
	r.store.nextRecordID++
	candidate.ID = r.store.nextRecordID
	r.store.records[candidate.ID] = candidate
	record.ID = candidate.ID
	return nil
}

// Update は出席記録の状態と打刻時刻を更新する。
func (r *MemoryAttendanceRepo) Update(ctx context.Context, record *model.AttendanceRecord) error {
	defer r.store.lockWrite(ctx)()

	current, ok := r.store.records[record.ID]
	if !ok {
		return fmt.Errorf("id %d: %w", record.ID, ErrNotFound)
	}
	updated := cloneRecord(current)
	updated.Status = record.Status
	updated.CheckIn = cloneRecord(record).CheckIn
	updated.CheckOut = cloneRecord(record).CheckOut
	updated.UpdatedAt = record.UpdatedAt
	r.store.records[record.ID] = updated
	return nil
}

// DeleteByID は出席記録を削除する。
func (r *MemoryAttendanceRepo) DeleteByID(ctx context.Context, id int64) error {
	defer r.store.lockWrite(ctx)()

	if _, ok := r.store.records[id]; !ok {
		return fmt.Errorf("id %d: %w", id, ErrNotFound)
	}
	delete(r.store.records, id)
	return nil
}

// DeleteByIdentityID はIdentityの出席記録を全て削除する。
func (r *MemoryAttendanceRepo) DeleteByIdentityID(ctx context.Context, identityID int64) (int64, error) {
	defer r.store.lockWrite(ctx)()

	var n int64
	for id, v := range r.store.records {
		if v.IdentityID == identityID {
			delete(r.store.records, id)
			n++
		}
	}
	return n, nil
}

func paginate[T any](items []T, page model.Page) []T {
	if page.Skip >= len(items) {
		return []T{}
	}
	items = items[page.Skip:]
	if page.Limit > 0 && page.Limit < len(items) {
		items = items[:page.Limit]
	}
	return items
}

// compile-time interface checks
var (
	_ Transactor           = (*MemoryStore)(nil)
	_ IdentityRepository   = (*MemoryIdentityRepo)(nil)
	_ AttendanceRepository = (*MemoryAttendanceRepo)(nil)
)
