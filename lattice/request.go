// Copyright (c) Skyfleet Robotics
// SPDX-License-Identifier: MPL-2.0

package lattice

// AgentRequest is the tagged variant the task manager long poll
// yields. Exactly one of the request fields is set; a response with
// none set is a keep-alive and is ignored by the agent.
type AgentRequest struct {
	ExecuteRequest  *ExecuteRequest  `json:"executeRequest,omitempty"`
	CancelRequest   *CancelRequest   `json:"cancelRequest,omitempty"`
	CompleteRequest *CompleteRequest `json:"completeRequest,omitempty"`
}

// IsKeepAlive reports whether no variant is populated.
func (r *AgentRequest) IsKeepAlive() bool {
	return r == nil ||
		(r.ExecuteRequest == nil && r.CancelRequest == nil && r.CompleteRequest == nil)
}

// ExecuteRequest asks the agent to run a task.
type ExecuteRequest struct {
	Task *TaskView `json:"task,omitempty"`
}

// CancelRequest asks the agent to cancel a task it is executing.
type CancelRequest struct {
	TaskID string `json:"taskId"`
}

// CompleteRequest tells the agent the task is considered complete.
type CompleteRequest struct {
	TaskID string `json:"taskId"`
}

// TaskView is the slice of the C2 task model the agent consumes.
type TaskView struct {
	Version       *TaskVersion   `json:"version,omitempty"`
	Specification *Specification `json:"specification,omitempty"`
	Relations     *Relations     `json:"relations,omitempty"`
}

// TaskVersion identifies a task and its definition revision.
type TaskVersion struct {
	TaskID            string `json:"taskId"`
	DefinitionVersion int    `json:"definitionVersion,omitempty"`
	StatusVersion     int    `json:"statusVersion,omitempty"`
}

// Specification carries the task's typed payload; Type is the
// specification URL the agent routes on.
type Specification struct {
	Type  string         `json:"type,omitempty"`
	Value map[string]any `json:"value,omitempty"`
}

// Relations names the entities a task is bound to.
type Relations struct {
	Assignee *Principal `json:"assignee,omitempty"`
}

// Principal identifies an agent in the C2.
type Principal struct {
	System *System `json:"system,omitempty"`
}

// System is a machine principal.
type System struct {
	EntityID    string `json:"entityId,omitempty"`
	ServiceName string `json:"serviceName,omitempty"`
}

// TaskID extracts the task id from an execute request, empty when
// absent.
func (r *ExecuteRequest) TaskID() string {
	if r == nil || r.Task == nil || r.Task.Version == nil {
		return ""
	}
	return r.Task.Version.TaskID
}

// SpecificationURL extracts the specification URL, empty when absent.
func (r *ExecuteRequest) SpecificationURL() string {
	if r == nil || r.Task == nil || r.Task.Specification == nil {
		return ""
	}
	return r.Task.Specification.Type
}

// AssigneeEntityID extracts the assigned drone's entity id, empty when
// absent.
func (r *ExecuteRequest) AssigneeEntityID() string {
	if r == nil || r.Task == nil || r.Task.Relations == nil ||
		r.Task.Relations.Assignee == nil || r.Task.Relations.Assignee.System == nil {
		return ""
	}
	return r.Task.Relations.Assignee.System.EntityID
}
