package catchup

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"finpulse/internal/types"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type nopLogger struct{}

func (nopLogger) Info(string, ...any)      {}
func (nopLogger) Error(string, ...any)     {}
func (nopLogger) Warn(string, ...any)      {}
func (nopLogger) With(...any) types.Logger { return nopLogger{} }

// scheduleUpdate records one UpdateSchedule call.
type scheduleUpdate struct {
	ruleID        string
	lastProcessed *time.Time
	nextDue       time.Time
	active        bool
}

// fakeRuleStore holds rules in memory and applies schedule updates to them,
// so a second Run observes the state the first one persisted.
type fakeRuleStore struct {
	rules   map[string]*types.RecurringRule
	updates []scheduleUpdate

	getErr    error
	listErr   error
	updateErr error

	earliest    time.Time
	hasEarliest bool
	earliestErr error
}

func (f *fakeRuleStore) GetByID(_ context.Context, id string) (*types.RecurringRule, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	rule, ok := f.rules[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundRule, "rule not found", nil)
	}
	copied := *rule
	return &copied, nil
}

func (f *fakeRuleStore) ListByUser(_ context.Context, userID string, includeInactive bool) ([]*types.RecurringRule, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*types.RecurringRule
	for _, rule := range f.rules {
		if rule.UserID != userID {
			continue
		}
		if !rule.IsActive && !includeInactive {
			continue
		}
		copied := *rule
		out = append(out, &copied)
	}
	return out, nil
}

func (f *fakeRuleStore) UpdateSchedule(_ context.Context, ruleID string, lastProcessed *time.Time, nextDue time.Time, isActive bool) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, scheduleUpdate{ruleID, lastProcessed, nextDue, isActive})
	if rule, ok := f.rules[ruleID]; ok {
		rule.LastProcessedDate = lastProcessed
		rule.NextDueDate = nextDue
		rule.IsActive = isActive
	}
	return nil
}

func (f *fakeRuleStore) EarliestDueForUser(_ context.Context, _ string) (time.Time, bool, error) {
	if f.earliestErr != nil {
		return time.Time{}, false, f.earliestErr
	}
	return f.earliest, f.hasEarliest, nil
}

// fakeOccurrenceStore simulates the unique-constraint insert: dates seeded
// into existing conflict, everything else inserts and then conflicts on
// re-walk.
type fakeOccurrenceStore struct {
	inserted  []types.Occurrence
	existing  map[string]bool
	insertErr map[string]error
}

func occKey(ruleID string, on time.Time) string {
	return ruleID + "|" + on.Format("2006-01-02")
}

func (f *fakeOccurrenceStore) InsertIfAbsent(_ context.Context, o *types.Occurrence) (bool, error) {
	if err := f.insertErr[o.OccurredOn.Format("2006-01-02")]; err != nil {
		return false, err
	}
	if f.existing == nil {
		f.existing = make(map[string]bool)
	}
	key := occKey(o.RuleID, o.OccurredOn)
	if f.existing[key] {
		return false, nil
	}
	f.existing[key] = true
	f.inserted = append(f.inserted, *o)
	return true, nil
}

type fakeUserStore struct {
	user *types.User
	err  error
}

func (f *fakeUserStore) GetByID(_ context.Context, id string) (*types.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.user, nil
}

type dispatchCall struct {
	user *types.User
	rule *types.RecurringRule
	occs []types.Occurrence
}

type fakeDispatcher struct {
	calls []dispatchCall
	err   error
}

func (f *fakeDispatcher) DispatchOccurrences(_ context.Context, user *types.User, rule *types.RecurringRule, occs []types.Occurrence) error {
	f.calls = append(f.calls, dispatchCall{user, rule, occs})
	return f.err
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func monthlyRule() *types.RecurringRule {
	anchor := day(2024, time.January, 31)
	return &types.RecurringRule{
		ID:          "rule_rent",
		UserID:      "usr_1",
		Name:        "Rent",
		Kind:        types.KindExpense,
		Amount:      decimal.RequireFromString("850.00"),
		Currency:    "EUR",
		Category:    "housing",
		Frequency:   types.FreqMonthly,
		AnchorDate:  anchor,
		IsActive:    true,
		NextDueDate: anchor,
	}
}

type processorFixture struct {
	rules *fakeRuleStore
	occs  *fakeOccurrenceStore
	users *fakeUserStore
	disp  *fakeDispatcher
	now   time.Time
	proc  *Processor
}

func newProcessorFixture(rule *types.RecurringRule) *processorFixture {
	f := &processorFixture{
		rules: &fakeRuleStore{rules: map[string]*types.RecurringRule{rule.ID: rule}},
		occs:  &fakeOccurrenceStore{insertErr: map[string]error{}},
		users: &fakeUserStore{user: &types.User{ID: rule.UserID, Currency: "EUR", Timezone: "UTC"}},
		disp:  &fakeDispatcher{},
		now:   time.Date(2024, 4, 15, 10, 30, 0, 0, time.UTC),
	}
	f.proc = NewProcessor(f.rules, f.occs, f.users, f.disp, fixedClock{f.now}, nopLogger{})
	return f
}

func insertedDates(f *processorFixture) []string {
	var dates []string
	for _, o := range f.occs.inserted {
		dates = append(dates, o.OccurredOn.Format("2006-01-02"))
	}
	return dates
}

func lastUpdate(t *testing.T, f *processorFixture) scheduleUpdate {
	t.Helper()
	if len(f.rules.updates) == 0 {
		t.Fatal("expected a schedule update")
	}
	return f.rules.updates[len(f.rules.updates)-1]
}

func TestProcessor_BackfillsMonthlyWithClampedAnchor(t *testing.T) {
	f := newProcessorFixture(monthlyRule())

	result := f.proc.Run(context.Background(), "rule_rent")

	if result.Failed() {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}
	if result.MaterializedCount != 3 {
		t.Fatalf("expected 3 materialized, got %d", result.MaterializedCount)
	}

	// Jan 31 anchor clamps to Feb 29 (leap) and returns to the 31st in March.
	want := []string{"2024-01-31", "2024-02-29", "2024-03-31"}
	got := insertedDates(f)
	if len(got) != len(want) {
		t.Fatalf("expected dates %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("occurrence %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	up := lastUpdate(t, f)
	if up.lastProcessed == nil || !up.lastProcessed.Equal(day(2024, time.March, 31)) {
		t.Errorf("expected last processed 2024-03-31, got %v", up.lastProcessed)
	}
	if !up.nextDue.Equal(day(2024, time.April, 30)) {
		t.Errorf("expected next due 2024-04-30, got %s", up.nextDue.Format("2006-01-02"))
	}
	if !up.active {
		t.Error("expected rule to stay active")
	}

	if len(f.disp.calls) != 1 {
		t.Fatalf("expected one dispatch batch, got %d", len(f.disp.calls))
	}
	if len(f.disp.calls[0].occs) != 3 {
		t.Errorf("expected 3 occurrences dispatched, got %d", len(f.disp.calls[0].occs))
	}
}

func TestProcessor_OccurrenceFieldsCopyFromRule(t *testing.T) {
	f := newProcessorFixture(monthlyRule())

	f.proc.Run(context.Background(), "rule_rent")

	if len(f.occs.inserted) == 0 {
		t.Fatal("expected inserted occurrences")
	}
	o := f.occs.inserted[0]
	if !strings.HasPrefix(o.ID, "occ_") {
		t.Errorf("expected occ_ ID prefix, got %q", o.ID)
	}
	if o.RuleID != "rule_rent" || o.UserID != "usr_1" {
		t.Errorf("unexpected identity: rule=%q user=%q", o.RuleID, o.UserID)
	}
	if !o.Amount.Equal(decimal.RequireFromString("850.00")) || o.Currency != "EUR" {
		t.Errorf("unexpected amount: %s %s", o.Amount, o.Currency)
	}
	if o.Kind != types.KindExpense || o.Category != "housing" {
		t.Errorf("unexpected kind/category: %s/%s", o.Kind, o.Category)
	}
	if !o.OccurredOn.Equal(day(2024, time.January, 31)) {
		t.Errorf("expected UTC-midnight occurred_on, got %s", o.OccurredOn)
	}
	if !o.CreatedAt.Equal(f.now) {
		t.Errorf("expected created_at from clock, got %s", o.CreatedAt)
	}
}

func TestProcessor_EndDateDeactivatesRule(t *testing.T) {
	end := day(2024, time.February, 10)
	rule := &types.RecurringRule{
		ID:          "rule_trial",
		UserID:      "usr_1",
		Name:        "Trial",
		Kind:        types.KindExpense,
		Amount:      decimal.RequireFromString("4.99"),
		Currency:    "EUR",
		Frequency:   types.FreqWeekly,
		AnchorDate:  day(2024, time.February, 1),
		EndDate:     &end,
		IsActive:    true,
		NextDueDate: day(2024, time.February, 1),
	}
	f := newProcessorFixture(rule)
	f.now = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	f.proc = NewProcessor(f.rules, f.occs, f.users, f.disp, fixedClock{f.now}, nopLogger{})

	result := f.proc.Run(context.Background(), "rule_trial")

	if result.Failed() {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}
	want := []string{"2024-02-01", "2024-02-08"}
	got := insertedDates(f)
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("expected %v, got %v", want, got)
	}

	up := lastUpdate(t, f)
	if up.active {
		t.Error("expected rule deactivated once the next occurrence passed the end date")
	}
	if !up.nextDue.Equal(day(2024, time.February, 15)) {
		t.Errorf("expected next due 2024-02-15, got %s", up.nextDue.Format("2006-01-02"))
	}
	if up.lastProcessed == nil || !up.lastProcessed.Equal(day(2024, time.February, 8)) {
		t.Errorf("expected last processed 2024-02-08, got %v", up.lastProcessed)
	}
}

func TestProcessor_InactiveRuleIsNoOp(t *testing.T) {
	rule := monthlyRule()
	rule.IsActive = false
	f := newProcessorFixture(rule)

	result := f.proc.Run(context.Background(), "rule_rent")

	if result.Failed() || result.MaterializedCount != 0 {
		t.Fatalf("expected clean zero result, got %+v", result)
	}
	if len(f.occs.inserted) != 0 || len(f.rules.updates) != 0 {
		t.Error("expected no writes for an inactive rule")
	}
}

func TestProcessor_NotYetDueIsNoOp(t *testing.T) {
	rule := monthlyRule()
	rule.NextDueDate = day(2024, time.May, 1)
	f := newProcessorFixture(rule)

	result := f.proc.Run(context.Background(), "rule_rent")

	if result.Failed() || result.MaterializedCount != 0 {
		t.Fatalf("expected clean zero result, got %+v", result)
	}
	if len(f.rules.updates) != 0 {
		t.Error("expected schedule untouched when the rule is not due")
	}
}

func TestProcessor_DueTodayMaterializes(t *testing.T) {
	rule := monthlyRule()
	rule.AnchorDate = day(2024, time.April, 15)
	rule.NextDueDate = day(2024, time.April, 15)
	f := newProcessorFixture(rule)

	// Now is 10:30 on the due day; the midnight-normalized candidate counts.
	result := f.proc.Run(context.Background(), "rule_rent")

	if result.MaterializedCount != 1 {
		t.Fatalf("expected today's occurrence, got %d", result.MaterializedCount)
	}
	if got := insertedDates(f); got[0] != "2024-04-15" {
		t.Errorf("expected 2024-04-15, got %s", got[0])
	}
	if up := lastUpdate(t, f); !up.nextDue.Equal(day(2024, time.May, 15)) {
		t.Errorf("expected next due 2024-05-15, got %s", up.nextDue.Format("2006-01-02"))
	}
}

func TestProcessor_RuleLoadErrorReported(t *testing.T) {
	f := newProcessorFixture(monthlyRule())
	f.rules.getErr = types.NewAppError(types.ErrCodeInternalDB, "connection refused", nil)

	result := f.proc.Run(context.Background(), "rule_rent")

	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], "load rule") {
		t.Fatalf("expected load rule error, got %v", result.Errors)
	}
}

func TestProcessor_MissingUserFatalForRuleOnly(t *testing.T) {
	f := newProcessorFixture(monthlyRule())
	f.users.err = types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)

	result := f.proc.Run(context.Background(), "rule_rent")

	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], "load user") {
		t.Fatalf("expected load user error, got %v", result.Errors)
	}
	if len(f.occs.inserted) != 0 {
		t.Error("expected no occurrences without an owner")
	}
	if len(f.rules.updates) != 0 {
		t.Error("expected schedule untouched so the next run retries")
	}
}

func TestProcessor_ExistingOccurrencesSkippedButAccounted(t *testing.T) {
	f := newProcessorFixture(monthlyRule())
	f.occs.existing = map[string]bool{
		occKey("rule_rent", day(2024, time.January, 31)):  true,
		occKey("rule_rent", day(2024, time.February, 29)): true,
	}

	result := f.proc.Run(context.Background(), "rule_rent")

	if result.MaterializedCount != 1 {
		t.Fatalf("expected 1 new occurrence, got %d", result.MaterializedCount)
	}
	if got := insertedDates(f); len(got) != 1 || got[0] != "2024-03-31" {
		t.Fatalf("expected only 2024-03-31 inserted, got %v", got)
	}

	// Conflicting dates still advance the schedule past them.
	up := lastUpdate(t, f)
	if up.lastProcessed == nil || !up.lastProcessed.Equal(day(2024, time.March, 31)) {
		t.Errorf("expected last processed 2024-03-31, got %v", up.lastProcessed)
	}

	// Only the created occurrence reaches the dispatcher.
	if len(f.disp.calls) != 1 || len(f.disp.calls[0].occs) != 1 {
		t.Fatalf("expected one dispatched occurrence, got %+v", f.disp.calls)
	}
}

func TestProcessor_RerunIsIdempotent(t *testing.T) {
	f := newProcessorFixture(monthlyRule())

	first := f.proc.Run(context.Background(), "rule_rent")
	second := f.proc.Run(context.Background(), "rule_rent")

	if first.MaterializedCount != 3 {
		t.Fatalf("expected 3 on first run, got %d", first.MaterializedCount)
	}
	if second.MaterializedCount != 0 || second.Failed() {
		t.Fatalf("expected clean zero second run, got %+v", second)
	}
	if len(f.occs.inserted) != 3 {
		t.Errorf("expected occurrence set unchanged, got %d rows", len(f.occs.inserted))
	}
	// The second run no-ops at the not-yet-due guard.
	if len(f.rules.updates) != 1 {
		t.Errorf("expected one schedule update, got %d", len(f.rules.updates))
	}
}

func TestProcessor_InsertErrorStopsWalk(t *testing.T) {
	f := newProcessorFixture(monthlyRule())
	f.occs.insertErr["2024-02-29"] = types.NewAppError(types.ErrCodeInternalDB, "write timeout", nil)

	result := f.proc.Run(context.Background(), "rule_rent")

	if result.MaterializedCount != 1 {
		t.Fatalf("expected walk stopped after first insert, got %d", result.MaterializedCount)
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], "materialize 2024-02-29") {
		t.Fatalf("expected materialize error for the failed date, got %v", result.Errors)
	}

	// The failed date stays next due; the following run retries it.
	up := lastUpdate(t, f)
	if !up.nextDue.Equal(day(2024, time.February, 29)) {
		t.Errorf("expected next due on the failed date, got %s", up.nextDue.Format("2006-01-02"))
	}
	if up.lastProcessed == nil || !up.lastProcessed.Equal(day(2024, time.January, 31)) {
		t.Errorf("expected last processed 2024-01-31, got %v", up.lastProcessed)
	}
	if !up.active {
		t.Error("expected rule to stay active")
	}

	// What was created still gets dispatched.
	if len(f.disp.calls) != 1 || len(f.disp.calls[0].occs) != 1 {
		t.Fatalf("expected the created occurrence dispatched, got %+v", f.disp.calls)
	}
}

func TestProcessor_PersistErrorReportedButDispatchProceeds(t *testing.T) {
	f := newProcessorFixture(monthlyRule())
	f.rules.updateErr = types.NewAppError(types.ErrCodeInternalDB, "deadlock", nil)

	result := f.proc.Run(context.Background(), "rule_rent")

	if result.MaterializedCount != 3 {
		t.Fatalf("expected 3 materialized, got %d", result.MaterializedCount)
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], "persist schedule") {
		t.Fatalf("expected persist error, got %v", result.Errors)
	}
	// The rows exist; the user still hears about them.
	if len(f.disp.calls) != 1 {
		t.Error("expected dispatch despite the schedule persist failure")
	}
}

func TestProcessor_DispatchErrorReported(t *testing.T) {
	f := newProcessorFixture(monthlyRule())
	f.disp.err = types.NewAppError(types.ErrCodeInternalQueue, "queue shut down", nil)

	result := f.proc.Run(context.Background(), "rule_rent")

	if result.MaterializedCount != 3 {
		t.Fatalf("expected materialization unaffected, got %d", result.MaterializedCount)
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], "dispatch notifications") {
		t.Fatalf("expected dispatch error, got %v", result.Errors)
	}
	// Schedule advanced regardless; delivery is best-effort.
	up := lastUpdate(t, f)
	if !up.nextDue.Equal(day(2024, time.April, 30)) {
		t.Errorf("expected next due 2024-04-30, got %s", up.nextDue.Format("2006-01-02"))
	}
}

func TestProcessor_MonthlyGuardSkipsSamePeriod(t *testing.T) {
	rule := monthlyRule()
	// An edit left last_processed mid-March; the next computed candidate
	// (Mar 31) lands in the same calendar month and must not double-fire.
	last := day(2024, time.March, 5)
	rule.LastProcessedDate = &last
	rule.NextDueDate = day(2024, time.March, 31)
	f := newProcessorFixture(rule)

	result := f.proc.Run(context.Background(), "rule_rent")

	if result.MaterializedCount != 0 || result.Failed() {
		t.Fatalf("expected clean zero result, got %+v", result)
	}
	if len(f.occs.inserted) != 0 {
		t.Errorf("expected no inserts in an already-fired period, got %v", insertedDates(f))
	}

	up := lastUpdate(t, f)
	if up.lastProcessed == nil || !up.lastProcessed.Equal(last) {
		t.Errorf("expected last processed unchanged, got %v", up.lastProcessed)
	}
	if !up.nextDue.Equal(day(2024, time.April, 30)) {
		t.Errorf("expected next due 2024-04-30, got %s", up.nextDue.Format("2006-01-02"))
	}
}

func TestProcessor_ResumesFromLastProcessed(t *testing.T) {
	rule := monthlyRule()
	last := day(2024, time.February, 29)
	rule.LastProcessedDate = &last
	rule.NextDueDate = day(2024, time.March, 31)
	f := newProcessorFixture(rule)

	result := f.proc.Run(context.Background(), "rule_rent")

	if result.MaterializedCount != 1 {
		t.Fatalf("expected only March materialized, got %d", result.MaterializedCount)
	}
	if got := insertedDates(f); got[0] != "2024-03-31" {
		t.Errorf("expected resume at 2024-03-31, got %s", got[0])
	}
}

func TestProcessor_EndBeforeAnchorDeactivatesWithoutInserts(t *testing.T) {
	end := day(2024, time.February, 1)
	rule := monthlyRule()
	rule.AnchorDate = day(2024, time.March, 1)
	rule.NextDueDate = day(2024, time.March, 1)
	rule.EndDate = &end
	f := newProcessorFixture(rule)

	result := f.proc.Run(context.Background(), "rule_rent")

	if result.Failed() || result.MaterializedCount != 0 {
		t.Fatalf("expected clean zero result, got %+v", result)
	}
	up := lastUpdate(t, f)
	if up.active {
		t.Error("expected rule deactivated when every candidate is past the end date")
	}
	if up.lastProcessed != nil {
		t.Errorf("expected last processed to stay unset, got %v", up.lastProcessed)
	}
}

func TestProcessor_YearlyLeapAnchorClamps(t *testing.T) {
	anchor := day(2024, time.February, 29)
	last := anchor
	rule := &types.RecurringRule{
		ID:                "rule_insurance",
		UserID:            "usr_1",
		Name:              "Insurance",
		Kind:              types.KindExpense,
		Amount:            decimal.RequireFromString("320.00"),
		Currency:          "EUR",
		Frequency:         types.FreqYearly,
		AnchorDate:        anchor,
		IsActive:          true,
		LastProcessedDate: &last,
		NextDueDate:       day(2025, time.February, 28),
	}
	f := newProcessorFixture(rule)
	f.now = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	f.proc = NewProcessor(f.rules, f.occs, f.users, f.disp, fixedClock{f.now}, nopLogger{})

	result := f.proc.Run(context.Background(), "rule_insurance")

	if result.MaterializedCount != 1 {
		t.Fatalf("expected one yearly occurrence, got %d", result.MaterializedCount)
	}
	if got := insertedDates(f); got[0] != "2025-02-28" {
		t.Errorf("expected clamped 2025-02-28, got %s", got[0])
	}
	if up := lastUpdate(t, f); !up.nextDue.Equal(day(2026, time.February, 28)) {
		t.Errorf("expected next due 2026-02-28, got %s", up.nextDue.Format("2006-01-02"))
	}
}

func TestProcessor_NoOpWalkStillPersistsSchedule(t *testing.T) {
	rule := monthlyRule()
	last := day(2024, time.March, 31)
	rule.LastProcessedDate = &last
	// Stale next_due_date pointing at an already-processed span; the walk
	// materializes nothing but must leave the column on a meaningful date.
	rule.NextDueDate = day(2024, time.April, 10)
	f := newProcessorFixture(rule)

	result := f.proc.Run(context.Background(), "rule_rent")

	if result.MaterializedCount != 0 || result.Failed() {
		t.Fatalf("expected clean zero result, got %+v", result)
	}
	up := lastUpdate(t, f)
	if !up.nextDue.Equal(day(2024, time.April, 30)) {
		t.Errorf("expected recomputed next due 2024-04-30, got %s", up.nextDue.Format("2006-01-02"))
	}
	if len(f.disp.calls) != 0 {
		t.Error("expected no dispatch for an empty walk")
	}
}

func TestPeriodElapsed(t *testing.T) {
	feb := day(2024, time.February, 29)
	tests := []struct {
		name      string
		freq      types.Frequency
		last      *time.Time
		candidate time.Time
		want      bool
	}{
		{"nil last always elapses", types.FreqMonthly, nil, day(2024, time.March, 31), true},
		{"monthly same month blocked", types.FreqMonthly, timePtr(day(2024, time.March, 5)), day(2024, time.March, 31), false},
		{"monthly next month allowed", types.FreqMonthly, &feb, day(2024, time.March, 31), true},
		{"monthly year rollover allowed", types.FreqMonthly, timePtr(day(2024, time.December, 31)), day(2025, time.January, 31), true},
		{"monthly earlier month of later year allowed", types.FreqMonthly, timePtr(day(2024, time.December, 31)), day(2025, time.November, 30), true},
		{"yearly same year blocked", types.FreqYearly, &feb, day(2024, time.December, 1), false},
		{"yearly next year allowed", types.FreqYearly, &feb, day(2025, time.February, 28), true},
		{"daily always allowed", types.FreqDaily, timePtr(day(2024, time.April, 14)), day(2024, time.April, 15), true},
		{"weekly always allowed", types.FreqWeekly, timePtr(day(2024, time.April, 8)), day(2024, time.April, 15), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := periodElapsed(tt.freq, tt.last, tt.candidate); got != tt.want {
				t.Errorf("periodElapsed(%s, %v, %s) = %v, want %v",
					tt.freq, tt.last, tt.candidate.Format("2006-01-02"), got, tt.want)
			}
		})
	}
}

func timePtr(t time.Time) *time.Time { return &t }
