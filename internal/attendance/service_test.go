package attendance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/attendman/internal/metrics"
	"github.com/hitoshi/attendman/internal/model"
	"github.com/hitoshi/attendman/internal/repository"
)

type spyMetrics struct {
	events    map[string]int
	conflicts []string
}

func newSpyMetrics() *spyMetrics { return &spyMetrics{events: map[string]int{}} }

func (m *spyMetrics) RecordAttendanceEvent(kind string) { m.events[kind]++ }
func (m *spyMetrics) RecordConflict(code string)        { m.conflicts = append(m.conflicts, code) }

type fixture struct {
	svc     *Service
	store   *repository.MemoryStore
	metrics *spyMetrics
	alice   *model.Identity
	bob     *model.Identity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := repository.NewMemoryStore()

	alice := &model.Identity{Name: "Alice", Email: "alice@example.com", ExternalID: "E001", Active: true}
	bob := &model.Identity{Name: "Bob", Email: "bob@example.com", ExternalID: "E002", Active: true}
	require.NoError(t, store.Identities().Create(ctx, alice))
	require.NoError(t, store.Identities().Create(ctx, bob))

	spy := newSpyMetrics()
	svc := NewService(store.Identities(), store.Attendance(), store, spy)
	svc.now = func() time.Time { return time.Date(2024, 4, 1, 20, 0, 0, 0, time.UTC) }
	return &fixture{svc: svc, store: store, metrics: spy, alice: alice, bob: bob}
}

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := model.ParseDate(s)
	require.NoError(t, err)
	return d
}

func at(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}

func TestCheckInThenCheckOut_EightHours(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	date := day(t, "2024-04-01")
	in := at(t, "2024-04-01T09:00:00Z")

	record, err := f.svc.CheckIn(ctx, f.alice.ID, date, in)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPresent, record.Status)
	assert.Nil(t, record.HoursWorked())

	record, err = f.svc.CheckOut(ctx, f.alice.ID, date, in.Add(8*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, record.HoursWorked())
	assert.Equal(t, 8.0, *record.HoursWorked())
	assert.Equal(t, model.StatusPresent, record.Status)

	assert.Equal(t, 1, f.metrics.events[metrics.EventCheckIn])
	assert.Equal(t, 1, f.metrics.events[metrics.EventCheckOut])
}

func TestCheckIn_OverwritesAndForcesPresent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	date := day(t, "2024-04-01")

	_, err := f.svc.MarkStatus(ctx, f.alice.ID, date, "Leave")
	require.NoError(t, err)

	first, err := f.svc.CheckIn(ctx, f.alice.ID, date, at(t, "2024-04-01T09:00:00Z"))
	require.NoError(t, err)
	assert.Equal(t, model.StatusPresent, first.Status)

	second, err := f.svc.CheckIn(ctx, f.alice.ID, date, at(t, "2024-04-01T09:30:00Z"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, at(t, "2024-04-01T09:30:00Z").Equal(*second.CheckIn))

	records, err := f.svc.GetByDate(ctx, date)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestCheckIn_AfterCheckOutReopensRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	date := day(t, "2024-04-01")

	_, err := f.svc.CheckIn(ctx, f.alice.ID, date, at(t, "2024-04-01T09:00:00Z"))
	require.NoError(t, err)
	_, err = f.svc.CheckOut(ctx, f.alice.ID, date, at(t, "2024-04-01T11:00:00Z"))
	require.NoError(t, err)

	record, err := f.svc.CheckIn(ctx, f.alice.ID, date, at(t, "2024-04-01T14:00:00Z"))
	require.NoError(t, err)
	require.NotNil(t, record.CheckIn)
	assert.True(t, at(t, "2024-04-01T14:00:00Z").Equal(*record.CheckIn))
	assert.Nil(t, record.CheckOut)
	assert.Nil(t, record.HoursWorked())

	stored, err := f.svc.GetByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.CheckOut)

	record, err = f.svc.CheckOut(ctx, f.alice.ID, date, at(t, "2024-04-01T17:00:00Z"))
	require.NoError(t, err)
	require.NotNil(t, record.HoursWorked())
	assert.Equal(t, 3.0, *record.HoursWorked())
}

func TestCheckIn_BeforeCheckOutKeepsCheckOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	date := day(t, "2024-04-01")

	_, err := f.svc.CheckIn(ctx, f.alice.ID, date, at(t, "2024-04-01T09:00:00Z"))
	require.NoError(t, err)
	_, err = f.svc.CheckOut(ctx, f.alice.ID, date, at(t, "2024-04-01T17:00:00Z"))
	require.NoError(t, err)

	record, err := f.svc.CheckIn(ctx, f.alice.ID, date, at(t, "2024-04-01T09:30:00Z"))
	require.NoError(t, err)
	require.NotNil(t, record.CheckOut)
	require.NotNil(t, record.HoursWorked())
	assert.Equal(t, 7.5, *record.HoursWorked())
}

func TestCheckIn_UsesCalendarDayOfDate(t *testing.T) {
	f := newFixture(t)
	jst := time.FixedZone("JST", 9*60*60)

	record, err := f.svc.CheckIn(context.Background(), f.alice.ID,
		time.Date(2024, 4, 2, 8, 0, 0, 0, jst), time.Date(2024, 4, 2, 8, 0, 0, 0, jst))
	require.NoError(t, err)
	assert.Equal(t, day(t, "2024-04-02"), record.Date)
}

func TestCheckOut_RequiresCheckIn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	date := day(t, "2024-04-01")
	ts := at(t, "2024-04-01T18:00:00Z")

	_, err := f.svc.CheckOut(ctx, f.alice.ID, date, ts)
	assert.True(t, model.IsPrecondition(err), "expected precondition, got %v", err)

	records, err := f.svc.GetByDate(ctx, date)
	require.NoError(t, err)
	assert.Empty(t, records, "failed check-out must not create a record")

	// 状態だけの記録にはチェックインが無い
	_, err = f.svc.MarkStatus(ctx, f.alice.ID, date, "Late")
	require.NoError(t, err)
	_, err = f.svc.CheckOut(ctx, f.alice.ID, date, ts)
	assert.True(t, model.IsPrecondition(err), "expected precondition, got %v", err)
}

func TestCheckOut_BeforeCheckInIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	date := day(t, "2024-04-01")

	_, err := f.svc.CheckIn(ctx, f.alice.ID, date, at(t, "2024-04-01T09:00:00Z"))
	require.NoError(t, err)

	_, err = f.svc.CheckOut(ctx, f.alice.ID, date, at(t, "2024-04-01T08:00:00Z"))
	var apiErr *model.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, model.ErrCodeCheckOutBefore, apiErr.Code)
}

func TestCheckOut_KeepsStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	date := day(t, "2024-04-01")

	_, err := f.svc.CheckIn(ctx, f.alice.ID, date, at(t, "2024-04-01T10:00:00Z"))
	require.NoError(t, err)
	_, err = f.svc.MarkStatus(ctx, f.alice.ID, date, "late")
	require.NoError(t, err)

	record, err := f.svc.CheckOut(ctx, f.alice.ID, date, at(t, "2024-04-01T17:20:00Z"))
	require.NoError(t, err)
	assert.Equal(t, model.StatusLate, record.Status)
	assert.Equal(t, 7.33, *record.HoursWorked())
}

func TestMarkStatus_UpsertsSingleRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	date := day(t, "2024-04-01")

	first, err := f.svc.MarkStatus(ctx, f.alice.ID, date, "Present")
	require.NoError(t, err)
	assert.Nil(t, first.CheckIn)
	assert.Nil(t, first.CheckOut)

	second, err := f.svc.MarkStatus(ctx, f.alice.ID, date, "Leave")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	records, err := f.svc.GetByIdentity(ctx, f.alice.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, model.StatusLeave, records[0].Status)
}

func TestMarkStatus_LeavesTimestampsUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	date := day(t, "2024-04-01")
	in := at(t, "2024-04-01T09:00:00Z")

	_, err := f.svc.CheckIn(ctx, f.alice.ID, date, in)
	require.NoError(t, err)
	_, err = f.svc.CheckOut(ctx, f.alice.ID, date, in.Add(4*time.Hour))
	require.NoError(t, err)

	record, err := f.svc.MarkStatus(ctx, f.alice.ID, date, "Other")
	require.NoError(t, err)
	assert.Equal(t, model.StatusOther, record.Status)
	assert.True(t, in.Equal(*record.CheckIn))
	assert.Equal(t, 4.0, *record.HoursWorked())
}

func TestMarkStatus_RejectsUnknownStatusBeforeStore(t *testing.T) {
	svc := NewService(nil, nil, nil, nil)

	_, err := svc.MarkStatus(context.Background(), 1, time.Now(), "Holiday")
	var apiErr *model.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, model.ErrCodeInvalidStatus, apiErr.Code)
}

func TestWrites_UnknownIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	date := day(t, "2024-04-01")
	ts := at(t, "2024-04-01T09:00:00Z")

	_, err := f.svc.CheckIn(ctx, 999, date, ts)
	assert.True(t, model.IsNotFound(err), "check-in: %v", err)
	_, err = f.svc.CheckOut(ctx, 999, date, ts)
	assert.True(t, model.IsNotFound(err), "check-out: %v", err)
	_, err = f.svc.MarkStatus(ctx, 999, date, "Present")
	assert.True(t, model.IsNotFound(err), "mark status: %v", err)
	_, err = f.svc.Create(ctx, 999, date, "Present")
	assert.True(t, model.IsNotFound(err), "create: %v", err)
}

func TestCheckIn_AllowedForInactiveIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inactive := *f.bob
	inactive.Active = false
	require.NoError(t, f.store.Identities().Update(ctx, &inactive))

	_, err := f.svc.CheckIn(ctx, f.bob.ID, day(t, "2024-04-01"), at(t, "2024-04-01T09:00:00Z"))
	assert.NoError(t, err)
}

func TestCreate_DuplicateIsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	date := day(t, "2024-04-01")

	record, err := f.svc.Create(ctx, f.alice.ID, date, "absent")
	require.NoError(t, err)
	assert.Equal(t, model.StatusAbsent, record.Status)

	_, err = f.svc.Create(ctx, f.alice.ID, date, "Present")
	var apiErr *model.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, model.ErrCodeDuplicateRecord, apiErr.Code)
	assert.Equal(t, []string{model.ErrCodeDuplicateRecord}, f.metrics.conflicts)
}

func TestGetByDateRange_InclusiveBounds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	yesterday, today, tomorrow := day(t, "2024-03-31"), day(t, "2024-04-01"), day(t, "2024-04-02")

	for _, d := range []time.Time{tomorrow, yesterday, today} {
		_, err := f.svc.MarkStatus(ctx, f.alice.ID, d, "Present")
		require.NoError(t, err)
	}
	_, err := f.svc.MarkStatus(ctx, f.bob.ID, today, "Present")
	require.NoError(t, err)

	records, err := f.svc.GetByDateRange(ctx, f.alice.ID, yesterday, today)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, yesterday, records[0].Date)
	assert.Equal(t, today, records[1].Date)

	_, err = f.svc.GetByDateRange(ctx, f.alice.ID, tomorrow, yesterday)
	assert.True(t, model.IsValidation(err))
}

func TestGetByIdentity_NewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, d := range []string{"2024-04-02", "2024-04-03", "2024-04-01"} {
		_, err := f.svc.MarkStatus(ctx, f.alice.ID, day(t, d), "Present")
		require.NoError(t, err)
	}

	records, err := f.svc.GetByIdentity(ctx, f.alice.ID, 0, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, day(t, "2024-04-03"), records[0].Date)
	assert.Equal(t, day(t, "2024-04-02"), records[1].Date)

	none, err := f.svc.GetByIdentity(ctx, f.bob.ID, 0, 0)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestUpdateStatusAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	record, err := f.svc.MarkStatus(ctx, f.alice.ID, day(t, "2024-04-01"), "Present")
	require.NoError(t, err)

	updated, err := f.svc.UpdateStatus(ctx, record.ID, "LEAVE")
	require.NoError(t, err)
	assert.Equal(t, model.StatusLeave, updated.Status)

	got, err := f.svc.GetByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusLeave, got.Status)

	_, err = f.svc.UpdateStatus(ctx, 999, "Present")
	assert.True(t, model.IsNotFound(err))

	ok, err := f.svc.Delete(ctx, record.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	missing, err := f.svc.GetByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Nil(t, missing)

	ok, err = f.svc.Delete(ctx, record.ID)
	assert.False(t, ok)
	assert.True(t, model.IsNotFound(err))
}

// --- 同時書き込みの再現 ---

type passthroughTx struct{}

func (passthroughTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// racingRepo は最初のCreateの直前に別の書き込みが同じ (identity, date) を作成した状況を再現する。
type racingRepo struct {
	repository.AttendanceRepository
	raced       bool
	createCalls int
}

func (r *racingRepo) Create(ctx context.Context, record *model.AttendanceRecord) error {
	r.createCalls++
	if !r.raced {
		r.raced = true
		competitor := &model.AttendanceRecord{IdentityID: record.IdentityID, Date: record.Date, Status: model.StatusAbsent}
		if err := r.AttendanceRepository.Create(ctx, competitor); err != nil {
			return err
		}
	}
	return r.AttendanceRepository.Create(ctx, record)
}

func TestUpsert_RetriesOnceAfterRacingInsert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	repo := &racingRepo{AttendanceRepository: f.store.Attendance()}
	svc := NewService(f.store.Identities(), repo, passthroughTx{}, f.metrics)

	record, err := svc.MarkStatus(ctx, f.alice.ID, day(t, "2024-04-01"), "Late")
	require.NoError(t, err)
	assert.Equal(t, model.StatusLate, record.Status)
	assert.Equal(t, 1, repo.createCalls, "retry should update the competing record")

	records, err := f.store.Attendance().ListByDate(ctx, day(t, "2024-04-01"))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, model.StatusLate, records[0].Status)
}

// alwaysConflictingRepo は記録を見つけられないまま一意制約違反を返し続ける。
type alwaysConflictingRepo struct {
	repository.AttendanceRepository
	createCalls int
}

func (r *alwaysConflictingRepo) FindByIdentityAndDate(context.Context, int64, time.Time) (*model.AttendanceRecord, error) {
	return nil, nil
}

func (r *alwaysConflictingRepo) Create(context.Context, *model.AttendanceRecord) error {
	r.createCalls++
	return &repository.UniqueViolationError{Constraint: repository.ConstraintAttendanceDaily}
}

func TestUpsert_SurfacesConflictAfterRetry(t *testing.T) {
	f := newFixture(t)
	repo := &alwaysConflictingRepo{AttendanceRepository: f.store.Attendance()}
	svc := NewService(f.store.Identities(), repo, f.store, f.metrics)

	_, err := svc.CheckIn(context.Background(), f.alice.ID, day(t, "2024-04-01"), at(t, "2024-04-01T09:00:00Z"))
	var apiErr *model.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, model.ErrCodeWriteConflict, apiErr.Code)
	assert.True(t, model.IsConflict(err))
	assert.Equal(t, maxUpsertAttempts, repo.createCalls)
	assert.Equal(t, []string{model.ErrCodeWriteConflict}, f.metrics.conflicts)
}

func TestUpsert_NoRetryInsideCallerTransaction(t *testing.T) {
	f := newFixture(t)
	repo := &alwaysConflictingRepo{AttendanceRepository: f.store.Attendance()}
	svc := NewService(f.store.Identities(), repo, f.store, f.metrics)

	err := f.store.WithinTx(context.Background(), func(ctx context.Context) error {
		_, err := svc.CheckIn(ctx, f.alice.ID, day(t, "2024-04-01"), at(t, "2024-04-01T09:00:00Z"))
		return err
	})
	var apiErr *model.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, model.ErrCodeWriteConflict, apiErr.Code)
	assert.Equal(t, 1, repo.createCalls, "an enclosing transaction must not be retried")
	assert.Equal(t, []string{model.ErrCodeWriteConflict}, f.metrics.conflicts)
}
