package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"finpulse/internal/types"
)

// --- Mock DBTX ---

type mockDBTX struct {
	mock.Mock
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDBTX) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if r := args.Get(0); r != nil {
		return r.(pgx.Rows), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// --- Mock Row ---

type mockRow struct {
	scanErr error
	scanFn  func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.scanFn != nil {
		return r.scanFn(dest...)
	}
	return r.scanErr
}

// --- Mock Rows for rule queries ---

// ruleMockRows implements pgx.Rows for the standard rule column set.
type ruleMockRows struct {
	data    []*types.RecurringRule
	idx     int
	closed  bool
	scanErr error
	errVal  error
}

func newRuleMockRows(rules ...*types.RecurringRule) *ruleMockRows {
	return &ruleMockRows{data: rules, idx: -1}
}

func (r *ruleMockRows) Next() bool {
	if r.closed {
		return false
	}
	r.idx++
	return r.idx < len(r.data)
}

func (r *ruleMockRows) Scan(dest ...any) error {
	if r.scanErr != nil {
		return r.scanErr
	}
	row := r.data[r.idx]
	*dest[0].(*string) = row.ID
	*dest[1].(*string) = row.UserID
	*dest[2].(*string) = row.Name
	*dest[3].(*types.TransactionKind) = row.Kind
	*dest[4].(*decimal.Decimal) = row.Amount
	*dest[5].(*string) = row.Currency
	*dest[6].(*decimal.Decimal) = row.BaseAmount
	*dest[7].(*string) = row.BaseCurrency
	*dest[8].(*string) = row.Category
	*dest[9].(*types.Frequency) = row.Frequency
	*dest[10].(*time.Time) = row.AnchorDate
	*dest[11].(**time.Time) = row.EndDate
	*dest[12].(*bool) = row.IsActive
	*dest[13].(**time.Time) = row.LastProcessedDate
	*dest[14].(*time.Time) = row.NextDueDate
	*dest[15].(*int) = row.ConfigVersion
	*dest[16].(*time.Time) = row.CreatedAt
	*dest[17].(*time.Time) = row.UpdatedAt
	return nil
}

func (r *ruleMockRows) Close()                                       { r.closed = true }
func (r *ruleMockRows) Err() error                                   { return r.errVal }
func (r *ruleMockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *ruleMockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *ruleMockRows) RawValues() [][]byte                          { return nil }
func (r *ruleMockRows) Values() ([]any, error)                       { return nil, nil }
func (r *ruleMockRows) Conn() *pgx.Conn                              { return nil }

func testRule() *types.RecurringRule {
	return &types.RecurringRule{
		ID:           "rule_1",
		UserID:       "user_1",
		Name:         "Rent",
		Kind:         types.KindExpense,
		Amount:       decimal.NewFromInt(1200),
		Currency:     "USD",
		BaseAmount:   decimal.NewFromInt(1200),
		BaseCurrency: "USD",
		Category:     "housing",
		Frequency:    types.FreqMonthly,
		AnchorDate:   time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		IsActive:     true,
		NextDueDate:  time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
}

// --- RuleRepository Tests ---

func TestRuleRepository_Create_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRuleRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	err := repo.Create(context.Background(), testRule())
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestRuleRepository_Create_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRuleRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection refused"))

	err := repo.Create(context.Background(), testRule())
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestRuleRepository_GetByID_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRuleRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.GetByID(context.Background(), "missing")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundRule, appErr.Code)
}

func TestRuleRepository_GetByID_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRuleRepository(db)
	want := testRule()

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFn: func(dest ...any) error {
			rows := newRuleMockRows(want)
			rows.idx = 0
			return rows.Scan(dest...)
		}})

	got, err := repo.GetByID(context.Background(), "rule_1")
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Frequency, got.Frequency)
	assert.True(t, want.Amount.Equal(got.Amount))
}

func TestRuleRepository_ListDue(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRuleRepository(db)

	due := testRule()
	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(newRuleMockRows(due), nil)

	rules, err := repo.ListDue(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "rule_1", rules[0].ID)
}

func TestRuleRepository_ListDue_IterationError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRuleRepository(db)

	rows := newRuleMockRows()
	rows.errVal = errors.New("broken stream")
	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(rows, nil)

	_, err := repo.ListDue(context.Background(), time.Now().UTC())
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestRuleRepository_UpdateSchedule_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRuleRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.UpdateSchedule(context.Background(), "missing", nil, time.Now(), true)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundRule, appErr.Code)
}

func TestRuleRepository_UpdateSchedule_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRuleRepository(db)

	lastProcessed := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.UpdateSchedule(context.Background(), "rule_1", &lastProcessed,
		time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC), true)
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestRuleRepository_Update_ConcurrentConflict(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRuleRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.Update(context.Background(), testRule())
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeConflictConcurrent, appErr.Code)
}

func TestRuleRepository_Update_BumpsConfigVersion(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRuleRepository(db)
	rule := testRule()
	rule.ConfigVersion = 3

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	require.NoError(t, repo.Update(context.Background(), rule))
	assert.Equal(t, 4, rule.ConfigVersion)
}

func TestRuleRepository_EarliestDue_NoActiveRules(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRuleRepository(db)

	// MIN() over an empty set returns a NULL row, not ErrNoRows.
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*dest[0].(**time.Time) = nil
			return nil
		}})

	_, ok, err := repo.EarliestDue(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRuleRepository_EarliestDueForUser(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRuleRepository(db)

	due := time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC)
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*dest[0].(**time.Time) = &due
			return nil
		}})

	got, ok, err := repo.EarliestDueForUser(context.Background(), "user_1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Equal(due))
}
