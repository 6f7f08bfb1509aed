package escrow

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	coreerrors "finerp/core/errors"
	"finerp/core/events"
	"finerp/core/state"
	"finerp/native/access"
	nativecommon "finerp/native/common"
	"finerp/native/ledger"
	"finerp/storage"
	"finerp/storage/trie"
)

var (
	admin     = [20]byte{0x01}
	employer  = [20]byte{0x02}
	worker1   = [20]byte{0x03}
	worker2   = [20]byte{0x04}
	approver1 = [20]byte{0x05}
	approver2 = [20]byte{0x06}
	attacker  = [20]byte{0x07}

	tokenAddr  = [20]byte{0xf1}
	escrowAddr = [20]byte{0xe1}
)

type fixture struct {
	state  *state.Manager
	token  *ledger.Engine
	escrow *Engine
	events *events.Buffer
	now    int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	tr, err := trie.NewTrie(db, nil)
	require.NoError(t, err)

	f := &fixture{state: state.NewManager(tr), events: &events.Buffer{}, now: 1_700_000_000}

	f.token = ledger.NewEngine(tokenAddr)
	f.token.SetState(f.state)
	require.NoError(t, f.token.Initialize(admin, ledger.FINConfig()))

	f.escrow = NewEngine(escrowAddr)
	f.escrow.SetState(f.state)
	f.escrow.SetEmitter(f.events)
	f.escrow.SetNowFunc(func() int64 { return f.now })
	f.escrow.SetTokenResolver(func(addr [20]byte) (Token, error) {
		require.Equal(t, tokenAddr, addr)
		return f.token, nil
	})
	require.NoError(t, f.escrow.Initialize(tokenAddr, admin))

	roles := f.escrow.Roles()
	require.NoError(t, roles.GrantRole(admin, access.ApproverRole, approver1))
	require.NoError(t, roles.GrantRole(admin, access.ApproverRole, approver2))

	require.NoError(t, f.token.Transfer(admin, employer, ledger.Units(100_000)))
	return f
}

func (f *fixture) fund(t *testing.T, units int64) uint64 {
	t.Helper()
	amount := ledger.Units(units)
	require.NoError(t, f.token.Approve(employer, escrowAddr, amount))
	id, err := f.escrow.FundProject(employer, amount)
	require.NoError(t, err)
	return id
}

func (f *fixture) allocate(t *testing.T, projectID uint64, worker [20]byte, units int64) uint64 {
	t.Helper()
	id, err := f.escrow.AllocateTask(admin, projectID, worker, ledger.Units(units))
	require.NoError(t, err)
	return id
}

func requireBalance(t *testing.T, token *ledger.Engine, account [20]byte, want *big.Int) {
	t.Helper()
	got, err := token.BalanceOf(account)
	require.NoError(t, err)
	require.Equal(t, 0, want.Cmp(got), "want %s got %s", want, got)
}

func requireConservation(t *testing.T, f *fixture, projectIDs ...uint64) {
	t.Helper()
	custody := new(big.Int)
	for _, id := range projectIDs {
		p, err := f.escrow.GetProject(id)
		require.NoError(t, err)
		require.True(t, p.TotalAllocated.Cmp(p.TotalFunded) <= 0)
		require.True(t, p.TotalReleased.Cmp(p.TotalAllocated) <= 0)
		custody.Add(custody, p.Custody())
	}
	requireBalance(t, f.token, escrowAddr, custody)
}

func TestFundProject(t *testing.T) {
	f := newFixture(t)
	id := f.fund(t, 20_000)
	require.Equal(t, uint64(1), id)

	p, err := f.escrow.GetProject(id)
	require.NoError(t, err)
	require.Equal(t, employer, p.Employer)
	require.Equal(t, 0, ledger.Units(20_000).Cmp(p.TotalFunded))
	require.Zero(t, p.TotalAllocated.Sign())
	require.Equal(t, ProjectActive, p.Status)
	require.Equal(t, uint64(f.now), p.CreatedAt)
	require.Zero(t, p.RefundRequestedAt)

	emitted := f.events.Drain()
	require.Equal(t, EventTypeProjectFunded, emitted[0].Type)
	require.Equal(t, EventID("ProjectFunded"), emitted[0].Log.Topics[0])
	require.Equal(t, uint64(1), emitted[0].Log.Topics[1].Big().Uint64())
	requireConservation(t, f, id)
}

func TestFundProjectWithoutAllowanceLeavesNoProject(t *testing.T) {
	f := newFixture(t)
	_, err := f.escrow.FundProject(employer, ledger.Units(5))
	require.ErrorIs(t, err, ledger.ErrInsufficientAllowance)

	_, err = f.escrow.GetProject(1)
	require.ErrorIs(t, err, ErrProjectNotFound)
	projects, _, err := f.escrow.Counts()
	require.NoError(t, err)
	require.Zero(t, projects)

	_, err = f.escrow.FundProject(employer, big.NewInt(0))
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestSmallTaskPaidOnCompletion(t *testing.T) {
	f := newFixture(t)
	projectID := f.fund(t, 20_000)
	taskID := f.allocate(t, projectID, worker1, 3_000)

	require.ErrorIs(t, f.escrow.CompleteTask(worker2, taskID), ErrNotWorker)
	require.NoError(t, f.escrow.CompleteTask(worker1, taskID))

	task, err := f.escrow.GetTask(taskID)
	require.NoError(t, err)
	require.Equal(t, TaskPaid, task.Status)
	require.Zero(t, task.ApprovalCount)
	requireBalance(t, f.token, worker1, ledger.Units(3_000))

	p, err := f.escrow.GetProject(projectID)
	require.NoError(t, err)
	require.Equal(t, 0, ledger.Units(3_000).Cmp(p.TotalReleased))

	err = f.escrow.CompleteTask(worker1, taskID)
	require.ErrorIs(t, err, ErrInvalidTaskStatus)
	require.Equal(t, coreerrors.KindStateMachine, coreerrors.KindOf(err))
	requireConservation(t, f, projectID)
}

func TestThresholdAmountIsReleasedImmediately(t *testing.T) {
	f := newFixture(t)
	projectID := f.fund(t, 20_000)
	taskID := f.allocate(t, projectID, worker1, 10_000)
	require.NoError(t, f.escrow.CompleteTask(worker1, taskID))

	task, err := f.escrow.GetTask(taskID)
	require.NoError(t, err)
	require.Equal(t, TaskPaid, task.Status)
}

func TestLargeTaskNeedsQuorum(t *testing.T) {
	f := newFixture(t)
	projectID := f.fund(t, 20_000)
	taskID := f.allocate(t, projectID, worker2, 15_000)

	err := f.escrow.ApprovePayment(approver1, taskID)
	require.ErrorIs(t, err, ErrTaskNotCompleted)

	require.NoError(t, f.escrow.StartTask(worker2, taskID))
	require.NoError(t, f.escrow.CompleteTask(worker2, taskID))
	task, err := f.escrow.GetTask(taskID)
	require.NoError(t, err)
	require.Equal(t, TaskCompleted, task.Status)
	requireBalance(t, f.token, worker2, big.NewInt(0))

	require.NoError(t, f.escrow.ApprovePayment(approver1, taskID))
	require.ErrorIs(t, f.escrow.ApprovePayment(approver1, taskID), ErrAlreadyApproved)
	task, err = f.escrow.GetTask(taskID)
	require.NoError(t, err)
	require.Equal(t, TaskCompleted, task.Status)
	require.Equal(t, uint64(1), task.ApprovalCount)

	require.NoError(t, f.escrow.ApprovePayment(approver2, taskID))
	task, err = f.escrow.GetTask(taskID)
	require.NoError(t, err)
	require.Equal(t, TaskPaid, task.Status)
	require.Equal(t, uint64(2), task.ApprovalCount)
	requireBalance(t, f.token, worker2, ledger.Units(15_000))

	require.ErrorIs(t, f.escrow.ApprovePayment(admin, taskID), ErrTaskAlreadyPaid)
	ok, err := f.escrow.HasApproved(taskID, approver2)
	require.NoError(t, err)
	require.True(t, ok)
	requireConservation(t, f, projectID)
}

func TestApprovePaymentRequiresRole(t *testing.T) {
	f := newFixture(t)
	projectID := f.fund(t, 20_000)
	taskID := f.allocate(t, projectID, worker2, 15_000)
	require.NoError(t, f.escrow.CompleteTask(worker2, taskID))

	err := f.escrow.ApprovePayment(attacker, taskID)
	require.ErrorIs(t, err, access.ErrUnauthorized)
	require.Equal(t, coreerrors.KindAuthorization, coreerrors.KindOf(err))

	task, err := f.escrow.GetTask(taskID)
	require.NoError(t, err)
	require.Zero(t, task.ApprovalCount)
}

func TestAllocationCannotExceedFunds(t *testing.T) {
	f := newFixture(t)
	projectID := f.fund(t, 20_000)
	f.allocate(t, projectID, worker1, 15_000)

	_, err := f.escrow.AllocateTask(admin, projectID, worker2, ledger.Units(6_000))
	require.ErrorIs(t, err, ErrInsufficientFunds)

	p, err := f.escrow.GetProject(projectID)
	require.NoError(t, err)
	require.Equal(t, 0, ledger.Units(15_000).Cmp(p.TotalAllocated))

	_, err = f.escrow.AllocateTask(attacker, projectID, worker2, ledger.Units(1))
	require.ErrorIs(t, err, access.ErrUnauthorized)
	_, err = f.escrow.AllocateTask(admin, 99, worker2, ledger.Units(1))
	require.ErrorIs(t, err, ErrProjectNotFound)
}

func TestRefundTimelock(t *testing.T) {
	f := newFixture(t)
	projectID := f.fund(t, 20_000)
	t1 := f.allocate(t, projectID, worker1, 3_000)
	t2 := f.allocate(t, projectID, worker2, 15_000)
	require.NoError(t, f.escrow.CompleteTask(worker1, t1))
	require.NoError(t, f.escrow.CompleteTask(worker2, t2))
	require.NoError(t, f.escrow.ApprovePayment(approver1, t2))
	require.NoError(t, f.escrow.ApprovePayment(approver2, t2))

	_, err := f.escrow.ProcessRefund(employer, projectID)
	require.ErrorIs(t, err, ErrRefundNotRequested)
	require.ErrorIs(t, f.escrow.RequestRefund(attacker, projectID), ErrNotEmployer)
	require.NoError(t, f.escrow.RequestRefund(employer, projectID))
	require.ErrorIs(t, f.escrow.RequestRefund(employer, projectID), ErrRefundAlreadyRequested)

	_, err = f.escrow.ProcessRefund(employer, projectID)
	require.ErrorIs(t, err, ErrTimelockNotExpired)
	require.True(t, coreerrors.Retryable(err))

	f.now += int64(RefundTimelock) - 1
	_, err = f.escrow.ProcessRefund(employer, projectID)
	require.ErrorIs(t, err, ErrTimelockNotExpired)

	f.now++
	before, err := f.token.BalanceOf(employer)
	require.NoError(t, err)
	refunded, err := f.escrow.ProcessRefund(employer, projectID)
	require.NoError(t, err)
	require.Equal(t, 0, ledger.Units(2_000).Cmp(refunded))
	requireBalance(t, f.token, employer, new(big.Int).Add(before, ledger.Units(2_000)))

	p, err := f.escrow.GetProject(projectID)
	require.NoError(t, err)
	require.Equal(t, ProjectActive, p.Status, "refund leaves every task paid but must not close the project")
	require.Zero(t, p.RefundRequestedAt)
	require.Equal(t, 0, ledger.Units(18_000).Cmp(p.TotalFunded))
	require.Equal(t, 0, ledger.Units(2_000).Cmp(p.TotalRefunded))
	require.Zero(t, p.Allocatable().Sign())

	_, err = f.escrow.ProcessRefund(employer, projectID)
	require.ErrorIs(t, err, ErrRefundNotRequested)
	requireConservation(t, f, projectID)
}

func TestCancelTaskReturnsFundsToPool(t *testing.T) {
	f := newFixture(t)
	projectID := f.fund(t, 10_000)
	taskID := f.allocate(t, projectID, worker1, 4_000)

	require.ErrorIs(t, f.escrow.CancelTask(attacker, taskID), access.ErrUnauthorized)
	require.NoError(t, f.escrow.CancelTask(admin, taskID))
	require.ErrorIs(t, f.escrow.CancelTask(admin, taskID), ErrInvalidTaskStatus)
	require.ErrorIs(t, f.escrow.CompleteTask(worker1, taskID), ErrInvalidTaskStatus)

	p, err := f.escrow.GetProject(projectID)
	require.NoError(t, err)
	require.Zero(t, p.TotalAllocated.Sign())
	require.Equal(t, 0, ledger.Units(10_000).Cmp(p.Allocatable()))
}

func TestCancelProjectKeepsCompletedTasksPayable(t *testing.T) {
	f := newFixture(t)
	projectID := f.fund(t, 40_000)
	paid := f.allocate(t, projectID, worker1, 1_000)
	pending := f.allocate(t, projectID, worker1, 2_000)
	awaiting := f.allocate(t, projectID, worker2, 20_000)
	require.NoError(t, f.escrow.CompleteTask(worker1, paid))
	require.NoError(t, f.escrow.CompleteTask(worker2, awaiting))

	_, err := f.escrow.CancelProject(attacker, projectID)
	require.ErrorIs(t, err, access.ErrUnauthorized)

	before, err := f.token.BalanceOf(employer)
	require.NoError(t, err)
	refunded, err := f.escrow.CancelProject(admin, projectID)
	require.NoError(t, err)
	require.Equal(t, 0, ledger.Units(19_000).Cmp(refunded))
	requireBalance(t, f.token, employer, new(big.Int).Add(before, ledger.Units(19_000)))

	task, err := f.escrow.GetTask(pending)
	require.NoError(t, err)
	require.Equal(t, TaskCancelled, task.Status)

	p, err := f.escrow.GetProject(projectID)
	require.NoError(t, err)
	require.Equal(t, ProjectCancelled, p.Status)
	require.Equal(t, 0, ledger.Units(1_000).Cmp(p.TotalReleased))

	require.NoError(t, f.escrow.ApprovePayment(approver1, awaiting))
	require.NoError(t, f.escrow.ApprovePayment(approver2, awaiting))
	requireBalance(t, f.token, worker2, ledger.Units(20_000))
	requireConservation(t, f, projectID)

	require.ErrorIs(t, f.escrow.RequestRefund(employer, projectID), ErrProjectNotActive)
	_, err = f.escrow.CancelProject(admin, projectID)
	require.ErrorIs(t, err, ErrProjectNotActive)
}

func TestProjectAutoCompletes(t *testing.T) {
	f := newFixture(t)
	projectID := f.fund(t, 5_000)
	a := f.allocate(t, projectID, worker1, 2_000)
	b := f.allocate(t, projectID, worker2, 3_000)
	require.NoError(t, f.escrow.CompleteTask(worker1, a))

	p, err := f.escrow.GetProject(projectID)
	require.NoError(t, err)
	require.Equal(t, ProjectActive, p.Status)

	require.NoError(t, f.escrow.CompleteTask(worker2, b))
	p, err = f.escrow.GetProject(projectID)
	require.NoError(t, err)
	require.Equal(t, ProjectCompleted, p.Status)

	tasks, err := f.escrow.ProjectTasks(projectID)
	require.NoError(t, err)
	require.Equal(t, []uint64{a, b}, tasks)
}

// reentrantToken forwards to the real ledger but first tries to re-enter the
// escrow, the way a hostile token contract would.
type reentrantToken struct {
	inner  *ledger.Engine
	escrow *Engine
	errs   []error
}

func (r *reentrantToken) Transfer(caller, to [20]byte, amount *big.Int) error {
	r.errs = append(r.errs, r.escrow.CompleteTask(to, 1))
	_, err := r.escrow.AllocateTask(admin, 1, to, amount)
	r.errs = append(r.errs, err)
	return r.inner.Transfer(caller, to, amount)
}

func (r *reentrantToken) TransferFrom(spender, from, to [20]byte, amount *big.Int) error {
	_, err := r.escrow.FundProject(from, amount)
	r.errs = append(r.errs, err)
	return r.inner.TransferFrom(spender, from, to, amount)
}

func TestReentrancyIsBlocked(t *testing.T) {
	f := newFixture(t)
	hostile := &reentrantToken{inner: f.token, escrow: f.escrow}
	f.escrow.SetTokenResolver(func([20]byte) (Token, error) { return hostile, nil })

	require.NoError(t, f.token.Approve(employer, escrowAddr, ledger.Units(20_000)))
	projectID, err := f.escrow.FundProject(employer, ledger.Units(10_000))
	require.NoError(t, err)
	taskID := f.allocate(t, projectID, worker1, 5_000)
	require.NoError(t, f.escrow.CompleteTask(worker1, taskID))

	require.Len(t, hostile.errs, 3)
	for _, err := range hostile.errs {
		require.ErrorIs(t, err, nativecommon.ErrReentrantCall)
	}

	task, err := f.escrow.GetTask(taskID)
	require.NoError(t, err)
	require.Equal(t, TaskPaid, task.Status)
	requireBalance(t, f.token, worker1, ledger.Units(5_000))

	p, err := f.escrow.GetProject(projectID)
	require.NoError(t, err)
	require.Equal(t, 0, ledger.Units(5_000).Cmp(p.TotalAllocated))
	projects, tasks, err := f.escrow.Counts()
	require.NoError(t, err)
	require.Equal(t, uint64(1), projects)
	require.Equal(t, uint64(1), tasks)
	requireConservation(t, f, projectID)
}

func TestInitializeOnce(t *testing.T) {
	f := newFixture(t)
	require.ErrorIs(t, f.escrow.Initialize(tokenAddr, attacker), ErrAlreadyInitialized)
	require.ErrorIs(t, f.escrow.AuthorizeUpgrade(attacker), access.ErrUnauthorized)
	require.NoError(t, f.escrow.AuthorizeUpgrade(admin))
	require.ErrorIs(t, f.escrow.AuthorizeUpgrade(approver1), access.ErrUnauthorized)

	settings, err := f.escrow.Settings()
	require.NoError(t, err)
	require.Equal(t, RequiredApprovals, settings.RequiredApprovals)
	require.Equal(t, RefundTimelock, settings.RefundTimelock)
	require.Equal(t, 0, ApprovalThreshold.Cmp(settings.ApprovalThreshold))
}
