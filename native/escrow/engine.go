package escrow

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"time"

	"finerp/core/events"
	"finerp/core/types"
	"finerp/native/access"
	"finerp/native/approvals"
	nativecommon "finerp/native/common"
)

// ModuleName keys the escrow schema version in state.
const ModuleName = "escrow"

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	KVAppend(key []byte, value []byte) error
	KVRemove(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
	Snapshot() int
	RevertToSnapshot(id int) error
	DiscardSnapshot(id int)
}

// Token is the ledger surface the escrow moves custody through. Calls into a
// Token are outbound calls: the callee may try to re-enter the engine.
type Token interface {
	Transfer(caller, to [20]byte, amount *big.Int) error
	TransferFrom(spender, from, to [20]byte, amount *big.Int) error
}

// TokenResolver maps the configured token address to its implementation.
type TokenResolver func(address [20]byte) (Token, error)

// Engine holds employer deposits per project, carves them into tasks and
// releases task payments either immediately or once the approver quorum is
// reached.
type Engine struct {
	address [20]byte
	state   engineState
	emitter events.Emitter
	tokens  TokenResolver
	nowFn   func() int64
	guard   nativecommon.ReentrancyGuard
}

func NewEngine(address [20]byte) *Engine {
	return &Engine{
		address: address,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

func (e *Engine) Address() [20]byte { return e.address }

func (e *Engine) SetState(state engineState) { e.state = state }

func (e *Engine) SetTokenResolver(resolver TokenResolver) { e.tokens = resolver }

// SetNowFunc overrides the time source. The chain passes its block clock.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(evt *types.Event) {
	if e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(events.Wrap{Evt: evt})
}

func (e *Engine) now() uint64 {
	ts := e.nowFn()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

// Roles exposes the escrow's role table.
func (e *Engine) Roles() *access.Controller {
	return access.NewController(e.state, e.address, e.emitter)
}

func (e *Engine) gate() *approvals.Gate {
	return approvals.New(e.state, fmt.Sprintf("escrow/%x", e.address))
}

// mutate runs fn under the re-entrancy lock and inside a state snapshot.
func (e *Engine) mutate(fn func() error) error {
	if e.state == nil {
		return errNilState
	}
	return e.guard.NonReentrant(func() error {
		return nativecommon.Atomic(e.state, fn)
	})
}

// --- storage ---

func (e *Engine) settingsKey() []byte {
	return []byte(fmt.Sprintf("escrow/%x/settings", e.address))
}

func (e *Engine) projectKey(id uint64) []byte {
	return []byte(fmt.Sprintf("escrow/%x/project/%d", e.address, id))
}

func (e *Engine) taskKey(id uint64) []byte {
	return []byte(fmt.Sprintf("escrow/%x/task/%d", e.address, id))
}

func (e *Engine) projectTasksKey(id uint64) []byte {
	return []byte(fmt.Sprintf("escrow/%x/project/%d/tasks", e.address, id))
}

func (e *Engine) loadSettings() (*Settings, error) {
	if e.state == nil {
		return nil, errNilState
	}
	var settings Settings
	ok, err := e.state.KVGet(e.settingsKey(), &settings)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotInitialized
	}
	return &settings, nil
}

func (e *Engine) loadProject(id uint64) (*Project, error) {
	if e.state == nil {
		return nil, errNilState
	}
	var project Project
	ok, err := e.state.KVGet(e.projectKey(id), &project)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrProjectNotFound, id)
	}
	return &project, nil
}

func (e *Engine) storeProject(p *Project) error {
	return e.state.KVPut(e.projectKey(p.ID), p)
}

func (e *Engine) loadTask(id uint64) (*Task, error) {
	if e.state == nil {
		return nil, errNilState
	}
	var task Task
	ok, err := e.state.KVGet(e.taskKey(id), &task)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrTaskNotFound, id)
	}
	return &task, nil
}

func (e *Engine) storeTask(t *Task) error {
	return e.state.KVPut(e.taskKey(t.ID), t)
}

func (e *Engine) token(settings *Settings) (Token, error) {
	if e.tokens == nil {
		return nil, errNilTokenResolver
	}
	return e.tokens(settings.Token)
}

// --- lifecycle ---

// Initialize binds the escrow to its settlement token and hands admin every
// role. It succeeds exactly once.
func (e *Engine) Initialize(token, admin [20]byte) error {
	return e.mutate(func() error {
		if _, err := e.loadSettings(); err == nil {
			return ErrAlreadyInitialized
		} else if !errors.Is(err, ErrNotInitialized) {
			return err
		}
		if token == ([20]byte{}) || admin == ([20]byte{}) {
			return ErrZeroAddress
		}
		settings := &Settings{
			Token:             token,
			ApprovalThreshold: new(big.Int).Set(ApprovalThreshold),
			RequiredApprovals: RequiredApprovals,
			RefundTimelock:    RefundTimelock,
			NextProjectID:     1,
			NextTaskID:        1,
		}
		if err := e.state.KVPut(e.settingsKey(), settings); err != nil {
			return err
		}
		roles := e.Roles()
		for _, role := range []access.Role{access.DefaultAdminRole, access.ManagerRole, access.ApproverRole} {
			if err := roles.Setup(role, admin, admin); err != nil {
				return err
			}
		}
		return nil
	})
}

// Settings returns the immutable configuration: token, threshold, quorum and
// timelock.
func (e *Engine) Settings() (*Settings, error) { return e.loadSettings() }

// AuthorizeUpgrade gates schema migrations of the escrow state.
func (e *Engine) AuthorizeUpgrade(caller [20]byte) error {
	if _, err := e.loadSettings(); err != nil {
		return err
	}
	return e.Roles().Require(access.DefaultAdminRole, caller)
}

// FundProject pulls amount from the employer and opens a new project.
func (e *Engine) FundProject(employer [20]byte, amount *big.Int) (uint64, error) {
	var projectID uint64
	err := e.mutate(func() error {
		settings, err := e.loadSettings()
		if err != nil {
			return err
		}
		if amount == nil || amount.Sign() <= 0 {
			return ErrInvalidAmount
		}
		if err := nativecommon.CheckAmount(amount); err != nil {
			return err
		}
		project := &Project{
			ID:             settings.NextProjectID,
			Employer:       employer,
			TotalFunded:    new(big.Int).Set(amount),
			TotalAllocated: big.NewInt(0),
			TotalReleased:  big.NewInt(0),
			TotalRefunded:  big.NewInt(0),
			Status:         ProjectActive,
			CreatedAt:      e.now(),
		}
		settings.NextProjectID++
		if err := e.state.KVPut(e.settingsKey(), settings); err != nil {
			return err
		}
		if err := e.storeProject(project); err != nil {
			return err
		}
		if err := e.emitProjectFunded(project); err != nil {
			return err
		}
		token, err := e.token(settings)
		if err != nil {
			return err
		}
		if err := token.TransferFrom(e.address, employer, e.address, amount); err != nil {
			return fmt.Errorf("fund project: %w", err)
		}
		projectID = project.ID
		return nil
	})
	if err != nil {
		return 0, err
	}
	return projectID, nil
}

// AllocateTask reserves amount of a project's allocatable balance for worker.
// Requires MANAGER.
func (e *Engine) AllocateTask(caller [20]byte, projectID uint64, worker [20]byte, amount *big.Int) (uint64, error) {
	var taskID uint64
	err := e.mutate(func() error {
		settings, err := e.loadSettings()
		if err != nil {
			return err
		}
		if err := e.Roles().Require(access.ManagerRole, caller); err != nil {
			return err
		}
		project, err := e.loadProject(projectID)
		if err != nil {
			return err
		}
		if project.Status != ProjectActive {
			return ErrProjectNotActive
		}
		if worker == ([20]byte{}) {
			return ErrZeroAddress
		}
		if amount == nil || amount.Sign() <= 0 {
			return ErrInvalidAmount
		}
		if amount.Cmp(project.Allocatable()) > 0 {
			return ErrInsufficientFunds
		}
		allocated, err := nativecommon.Add(project.TotalAllocated, amount)
		if err != nil {
			return err
		}
		task := &Task{
			ID:        settings.NextTaskID,
			ProjectID: project.ID,
			Worker:    worker,
			Amount:    new(big.Int).Set(amount),
			Status:    TaskPending,
			CreatedAt: e.now(),
		}
		settings.NextTaskID++
		project.TotalAllocated = allocated
		project.OpenTasks++
		if err := e.state.KVPut(e.settingsKey(), settings); err != nil {
			return err
		}
		if err := e.storeProject(project); err != nil {
			return err
		}
		if err := e.storeTask(task); err != nil {
			return err
		}
		var idx [8]byte
		binary.BigEndian.PutUint64(idx[:], task.ID)
		if err := e.state.KVAppend(e.projectTasksKey(project.ID), idx[:]); err != nil {
			return err
		}
		taskID = task.ID
		return e.emitTaskAllocated(task)
	})
	if err != nil {
		return 0, err
	}
	return taskID, nil
}

// StartTask lets the worker signal that work has begun.
func (e *Engine) StartTask(caller [20]byte, taskID uint64) error {
	return e.mutate(func() error {
		task, err := e.loadTask(taskID)
		if err != nil {
			return err
		}
		if task.Worker != caller {
			return ErrNotWorker
		}
		if task.Status != TaskPending {
			return fmt.Errorf("%w: %s", ErrInvalidTaskStatus, task.Status)
		}
		task.Status = TaskInProgress
		if err := e.storeTask(task); err != nil {
			return err
		}
		return e.emitTaskStarted(task)
	})
}

// CompleteTask marks the task done. Amounts at or below the approval
// threshold are paid out in the same call.
func (e *Engine) CompleteTask(caller [20]byte, taskID uint64) error {
	return e.mutate(func() error {
		settings, err := e.loadSettings()
		if err != nil {
			return err
		}
		task, err := e.loadTask(taskID)
		if err != nil {
			return err
		}
		if task.Worker != caller {
			return ErrNotWorker
		}
		if !task.Status.Open() {
			return fmt.Errorf("%w: %s", ErrInvalidTaskStatus, task.Status)
		}
		task.Status = TaskCompleted
		task.CompletedAt = e.now()
		if err := e.storeTask(task); err != nil {
			return err
		}
		if err := e.emitTaskCompleted(task); err != nil {
			return err
		}
		if task.Amount.Cmp(settings.ApprovalThreshold) <= 0 {
			return e.release(settings, task)
		}
		return nil
	})
}

// ApprovePayment records the caller's confirmation for a completed task and
// releases payment once the quorum is reached. Requires APPROVER.
func (e *Engine) ApprovePayment(caller [20]byte, taskID uint64) error {
	return e.mutate(func() error {
		settings, err := e.loadSettings()
		if err != nil {
			return err
		}
		if err := e.Roles().Require(access.ApproverRole, caller); err != nil {
			return err
		}
		task, err := e.loadTask(taskID)
		if err != nil {
			return err
		}
		switch task.Status {
		case TaskPaid:
			return ErrTaskAlreadyPaid
		case TaskCompleted:
		default:
			return fmt.Errorf("%w: %s", ErrTaskNotCompleted, task.Status)
		}
		count, err := e.gate().Confirm(task.ID, caller)
		if err != nil {
			if errors.Is(err, approvals.ErrAlreadyConfirmed) {
				return ErrAlreadyApproved
			}
			return err
		}
		task.ApprovalCount = count
		if err := e.storeTask(task); err != nil {
			return err
		}
		if err := e.emitPaymentApproved(task, caller); err != nil {
			return err
		}
		reached, err := e.gate().Reached(task.ID, settings.RequiredApprovals)
		if err != nil || !reached {
			return err
		}
		return e.release(settings, task)
	})
}

// release pays a completed task. Status and totals are written before the
// token call so a re-entrant callee observes the task as PAID.
func (e *Engine) release(settings *Settings, task *Task) error {
	project, err := e.loadProject(task.ProjectID)
	if err != nil {
		return err
	}
	released, err := nativecommon.Add(project.TotalReleased, task.Amount)
	if err != nil {
		return err
	}
	if released.Cmp(project.TotalAllocated) > 0 {
		return ErrInsufficientFunds
	}
	task.Status = TaskPaid
	project.TotalReleased = released
	if project.OpenTasks > 0 {
		project.OpenTasks--
	}
	if err := e.storeTask(task); err != nil {
		return err
	}
	if err := e.storeProject(project); err != nil {
		return err
	}
	if err := e.emitTaskPaid(task); err != nil {
		return err
	}
	token, err := e.token(settings)
	if err != nil {
		return err
	}
	if err := token.Transfer(e.address, task.Worker, task.Amount); err != nil {
		return fmt.Errorf("release task %d: %w", task.ID, err)
	}
	return e.maybeComplete(project)
}

// maybeComplete closes an ACTIVE project once every task is settled and
// nothing remains to allocate.
func (e *Engine) maybeComplete(project *Project) error {
	if project.Status != ProjectActive || project.OpenTasks > 0 || project.RefundRequestedAt != 0 {
		return nil
	}
	if project.Allocatable().Sign() != 0 {
		return nil
	}
	tasks, err := e.ProjectTasks(project.ID)
	if err != nil {
		return err
	}
	for _, id := range tasks {
		task, err := e.loadTask(id)
		if err != nil {
			return err
		}
		if !task.Status.Terminal() {
			return nil
		}
	}
	project.Status = ProjectCompleted
	if err := e.storeProject(project); err != nil {
		return err
	}
	return e.emitProjectCompleted(project)
}

// RequestRefund starts the refund timelock for the project's unallocated
// remainder.
func (e *Engine) RequestRefund(caller [20]byte, projectID uint64) error {
	return e.mutate(func() error {
		project, err := e.loadProject(projectID)
		if err != nil {
			return err
		}
		if project.Employer != caller {
			return ErrNotEmployer
		}
		if project.Status != ProjectActive {
			return ErrProjectNotActive
		}
		if project.RefundRequestedAt != 0 {
			return ErrRefundAlreadyRequested
		}
		project.RefundRequestedAt = e.now()
		if err := e.storeProject(project); err != nil {
			return err
		}
		return e.emitRefundRequested(project)
	})
}

// ProcessRefund returns totalFunded - totalAllocated to the employer once the
// timelock has elapsed, and returns the refunded amount. A refund never
// changes the project status.
func (e *Engine) ProcessRefund(caller [20]byte, projectID uint64) (*big.Int, error) {
	var refunded *big.Int
	err := e.mutate(func() error {
		settings, err := e.loadSettings()
		if err != nil {
			return err
		}
		project, err := e.loadProject(projectID)
		if err != nil {
			return err
		}
		if project.Employer != caller {
			return ErrNotEmployer
		}
		if project.Status != ProjectActive {
			return ErrProjectNotActive
		}
		if project.RefundRequestedAt == 0 {
			return ErrRefundNotRequested
		}
		unlockAt := project.RefundRequestedAt + settings.RefundTimelock
		if e.now() < unlockAt {
			return fmt.Errorf("%w: unlocks at %d", ErrTimelockNotExpired, unlockAt)
		}
		remainder := project.Allocatable()
		funded, err := nativecommon.Sub(project.TotalFunded, remainder)
		if err != nil {
			return err
		}
		totalRefunded, err := nativecommon.Add(project.TotalRefunded, remainder)
		if err != nil {
			return err
		}
		project.TotalFunded = funded
		project.TotalRefunded = totalRefunded
		project.RefundRequestedAt = 0
		if err := e.storeProject(project); err != nil {
			return err
		}
		if err := e.emitRefundProcessed(project, remainder); err != nil {
			return err
		}
		if remainder.Sign() > 0 {
			token, err := e.token(settings)
			if err != nil {
				return err
			}
			if err := token.Transfer(e.address, project.Employer, remainder); err != nil {
				return fmt.Errorf("process refund %d: %w", project.ID, err)
			}
		}
		refunded = remainder
		return nil
	})
	if err != nil {
		return nil, err
	}
	return refunded, nil
}

// CancelTask returns an unworked task's amount to the allocatable pool.
// Requires MANAGER.
func (e *Engine) CancelTask(caller [20]byte, taskID uint64) error {
	return e.mutate(func() error {
		if err := e.Roles().Require(access.ManagerRole, caller); err != nil {
			return err
		}
		task, err := e.loadTask(taskID)
		if err != nil {
			return err
		}
		project, err := e.loadProject(task.ProjectID)
		if err != nil {
			return err
		}
		if err := e.cancelTask(project, task); err != nil {
			return err
		}
		if err := e.storeProject(project); err != nil {
			return err
		}
		return e.maybeComplete(project)
	})
}

func (e *Engine) cancelTask(project *Project, task *Task) error {
	if !task.Status.Open() {
		return fmt.Errorf("%w: %s", ErrInvalidTaskStatus, task.Status)
	}
	allocated, err := nativecommon.Sub(project.TotalAllocated, task.Amount)
	if err != nil {
		return err
	}
	project.TotalAllocated = allocated
	if project.OpenTasks > 0 {
		project.OpenTasks--
	}
	task.Status = TaskCancelled
	if err := e.storeTask(task); err != nil {
		return err
	}
	return e.emitTaskCancelled(task)
}

// CancelProject cancels every unworked task, refunds the allocatable
// remainder to the employer immediately and closes the project. Completed
// tasks stay payable through the approval gate. Requires DEFAULT_ADMIN or
// MANAGER.
func (e *Engine) CancelProject(caller [20]byte, projectID uint64) (*big.Int, error) {
	var refunded *big.Int
	err := e.mutate(func() error {
		settings, err := e.loadSettings()
		if err != nil {
			return err
		}
		if err := e.Roles().RequireAny(caller, access.DefaultAdminRole, access.ManagerRole); err != nil {
			return err
		}
		project, err := e.loadProject(projectID)
		if err != nil {
			return err
		}
		if project.Status != ProjectActive {
			return ErrProjectNotActive
		}
		tasks, err := e.ProjectTasks(project.ID)
		if err != nil {
			return err
		}
		for _, id := range tasks {
			task, err := e.loadTask(id)
			if err != nil {
				return err
			}
			if !task.Status.Open() {
				continue
			}
			if err := e.cancelTask(project, task); err != nil {
				return err
			}
		}
		remainder := project.Allocatable()
		funded, err := nativecommon.Sub(project.TotalFunded, remainder)
		if err != nil {
			return err
		}
		totalRefunded, err := nativecommon.Add(project.TotalRefunded, remainder)
		if err != nil {
			return err
		}
		project.TotalFunded = funded
		project.TotalRefunded = totalRefunded
		project.RefundRequestedAt = 0
		project.Status = ProjectCancelled
		if err := e.storeProject(project); err != nil {
			return err
		}
		if err := e.emitProjectCancelled(project, remainder); err != nil {
			return err
		}
		if remainder.Sign() > 0 {
			token, err := e.token(settings)
			if err != nil {
				return err
			}
			if err := token.Transfer(e.address, project.Employer, remainder); err != nil {
				return fmt.Errorf("cancel project %d: %w", project.ID, err)
			}
		}
		refunded = remainder
		return nil
	})
	if err != nil {
		return nil, err
	}
	return refunded, nil
}

// --- views ---

func (e *Engine) GetProject(id uint64) (*Project, error) { return e.loadProject(id) }

func (e *Engine) GetTask(id uint64) (*Task, error) { return e.loadTask(id) }

// ProjectTasks lists the task ids allocated against a project in order.
func (e *Engine) ProjectTasks(projectID uint64) ([]uint64, error) {
	if e.state == nil {
		return nil, errNilState
	}
	var raw [][]byte
	if err := e.state.KVGetList(e.projectTasksKey(projectID), &raw); err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(raw))
	for _, entry := range raw {
		if len(entry) != 8 {
			return nil, fmt.Errorf("escrow: corrupt task index for project %d", projectID)
		}
		ids = append(ids, binary.BigEndian.Uint64(entry))
	}
	return ids, nil
}

// HasApproved reports whether approver confirmed payment of taskID.
func (e *Engine) HasApproved(taskID uint64, approver [20]byte) (bool, error) {
	return e.gate().HasConfirmed(taskID, approver)
}

// Counts returns how many projects and tasks have been created.
func (e *Engine) Counts() (projects uint64, tasks uint64, err error) {
	settings, err := e.loadSettings()
	if err != nil {
		return 0, 0, err
	}
	return settings.NextProjectID - 1, settings.NextTaskID - 1, nil
}
