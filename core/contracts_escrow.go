package core

import (
	"encoding/json"

	"finerp/native/access"
	"finerp/native/escrow"
)

type escrowContract struct {
	engine *escrow.Engine
	table  methodTable
}

func newEscrowContract(engine *escrow.Engine) *escrowContract {
	c := &escrowContract{engine: engine, table: methodTable{}}
	c.register()
	return c
}

func (c *escrowContract) Name() string { return ContractEscrow }

func (c *escrowContract) Address() [20]byte { return c.engine.Address() }

func (c *escrowContract) AuthorizeUpgrade(caller [20]byte) error {
	return c.engine.AuthorizeUpgrade(caller)
}

func (c *escrowContract) methods() methodTable { return c.table }

type escrowArgs struct {
	ProjectID uint64  `json:"projectId"`
	TaskID    uint64  `json:"taskId"`
	Worker    Address `json:"worker"`
	Approver  Address `json:"approver"`
	Amount    Amount  `json:"amount"`
}

func (c *escrowContract) register() {
	e := c.engine
	t := c.table
	decode := func(raw json.RawMessage) (escrowArgs, error) {
		var args escrowArgs
		err := decodeArgs(raw, &args)
		return args, err
	}

	t.mutation("fundProject", func(caller [20]byte, raw json.RawMessage) (interface{}, error) {
		args, err := decode(raw)
		if err != nil {
			return nil, err
		}
		id, err := e.FundProject(caller, args.Amount.Big())
		if err != nil {
			return nil, err
		}
		return map[string]uint64{"projectId": id}, nil
	})
	t.mutation("allocateTask", func(caller [20]byte, raw json.RawMessage) (interface{}, error) {
		args, err := decode(raw)
		if err != nil {
			return nil, err
		}
		id, err := e.AllocateTask(caller, args.ProjectID, args.Worker, args.Amount.Big())
		if err != nil {
			return nil, err
		}
		return map[string]uint64{"taskId": id}, nil
	})
	t.mutation("startTask", func(caller [20]byte, raw json.RawMessage) (interface{}, error) {
		args, err := decode(raw)
		if err != nil {
			return nil, err
		}
		return nil, e.StartTask(caller, args.TaskID)
	})
	t.mutation("completeTask", func(caller [20]byte, raw json.RawMessage) (interface{}, error) {
		args, err := decode(raw)
		if err != nil {
			return nil, err
		}
		return nil, e.CompleteTask(caller, args.TaskID)
	})
	t.mutation("approvePayment", func(caller [20]byte, raw json.RawMessage) (interface{}, error) {
		args, err := decode(raw)
		if err != nil {
			return nil, err
		}
		return nil, e.ApprovePayment(caller, args.TaskID)
	})
	t.mutation("cancelTask", func(caller [20]byte, raw json.RawMessage) (interface{}, error) {
		args, err := decode(raw)
		if err != nil {
			return nil, err
		}
		return nil, e.CancelTask(caller, args.TaskID)
	})
	t.mutation("requestRefund", func(caller [20]byte, raw json.RawMessage) (interface{}, error) {
		args, err := decode(raw)
		if err != nil {
			return nil, err
		}
		return nil, e.RequestRefund(caller, args.ProjectID)
	})
	t.mutation("processRefund", func(caller [20]byte, raw json.RawMessage) (interface{}, error) {
		args, err := decode(raw)
		if err != nil {
			return nil, err
		}
		refunded, err := e.ProcessRefund(caller, args.ProjectID)
		if err != nil {
			return nil, err
		}
		return map[string]Amount{"refunded": NewAmount(refunded)}, nil
	})
	t.mutation("cancelProject", func(caller [20]byte, raw json.RawMessage) (interface{}, error) {
		args, err := decode(raw)
		if err != nil {
			return nil, err
		}
		refunded, err := e.CancelProject(caller, args.ProjectID)
		if err != nil {
			return nil, err
		}
		return map[string]Amount{"refunded": NewAmount(refunded)}, nil
	})

	t.view("getProject", func(raw json.RawMessage) (interface{}, error) {
		args, err := decode(raw)
		if err != nil {
			return nil, err
		}
		project, err := e.GetProject(args.ProjectID)
		if err != nil {
			return nil, err
		}
		return projectView(project), nil
	})
	t.view("getTask", func(raw json.RawMessage) (interface{}, error) {
		args, err := decode(raw)
		if err != nil {
			return nil, err
		}
		task, err := e.GetTask(args.TaskID)
		if err != nil {
			return nil, err
		}
		return taskView(task), nil
	})
	t.view("getProjectTasks", func(raw json.RawMessage) (interface{}, error) {
		args, err := decode(raw)
		if err != nil {
			return nil, err
		}
		ids, err := e.ProjectTasks(args.ProjectID)
		if err != nil {
			return nil, err
		}
		tasks := make([]*TaskView, 0, len(ids))
		for _, id := range ids {
			task, err := e.GetTask(id)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, taskView(task))
		}
		return tasks, nil
	})
	t.view("hasApproved", func(raw json.RawMessage) (interface{}, error) {
		args, err := decode(raw)
		if err != nil {
			return nil, err
		}
		return e.HasApproved(args.TaskID, args.Approver)
	})
	t.view("projectCount", func(json.RawMessage) (interface{}, error) {
		projects, _, err := e.Counts()
		return projects, err
	})
	t.view("taskCount", func(json.RawMessage) (interface{}, error) {
		_, tasks, err := e.Counts()
		return tasks, err
	})
	t.view("settings", func(json.RawMessage) (interface{}, error) {
		settings, err := e.Settings()
		if err != nil {
			return nil, err
		}
		return escrowSettingsView(settings), nil
	})
	addRoleMethods(t, e.Roles, access.ManagerRole, access.ApproverRole)
}
