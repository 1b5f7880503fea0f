package domain

import (
	"encoding/json"
	"fmt"
)

// EventKind identifies a broadcast event variant.
type EventKind string

const (
	ProjectCreated EventKind = "project.created"
	ProjectUpdated EventKind = "project.updated"
	ProjectDeleted EventKind = "project.deleted"
	TaskCreated    EventKind = "task.created"
	TaskUpdated    EventKind = "task.updated"
	TaskMoved      EventKind = "task.moved"
	TaskDeleted    EventKind = "task.deleted"
	TaskArchived   EventKind = "task.archived"
)

// EventPayload is implemented by exactly one struct per event kind, so a
// consumer switching on the concrete type covers every variant.
type EventPayload interface {
	Kind() EventKind
}

type ProjectPayload struct {
	Title string `json:"title,omitempty"`
}

type TaskPayload struct {
	Title  string `json:"title,omitempty"`
	Status string `json:"status,omitempty"`
}

type TaskMovePayload struct {
	Status    string `json:"status"`
	TaskOrder int    `json:"task_order"`
}

type ArchivePayload struct {
	ArchivedBy string `json:"archived_by"`
}

type projectCreated struct{ ProjectPayload }
type projectUpdated struct{ ProjectPayload }
type projectDeleted struct{ ProjectPayload }
type taskCreated struct{ TaskPayload }
type taskUpdated struct{ TaskPayload }
type taskMoved struct{ TaskMovePayload }
type taskDeleted struct{ TaskPayload }
type taskArchived struct{ ArchivePayload }

func (projectCreated) Kind() EventKind { return ProjectCreated }
func (projectUpdated) Kind() EventKind { return ProjectUpdated }
func (projectDeleted) Kind() EventKind { return ProjectDeleted }
func (taskCreated) Kind() EventKind    { return TaskCreated }
func (taskUpdated) Kind() EventKind    { return TaskUpdated }
func (taskMoved) Kind() EventKind      { return TaskMoved }
func (taskDeleted) Kind() EventKind    { return TaskDeleted }
func (taskArchived) Kind() EventKind   { return TaskArchived }

// Payload constructors keep the kind and variant paired up.
func NewProjectCreated(p ProjectPayload) EventPayload { return projectCreated{p} }
func NewProjectUpdated(p ProjectPayload) EventPayload { return projectUpdated{p} }
func NewProjectDeleted(p ProjectPayload) EventPayload { return projectDeleted{p} }
func NewTaskCreated(p TaskPayload) EventPayload       { return taskCreated{p} }
func NewTaskUpdated(p TaskPayload) EventPayload       { return taskUpdated{p} }
func NewTaskMoved(p TaskMovePayload) EventPayload     { return taskMoved{p} }
func NewTaskArchived(p ArchivePayload) EventPayload   { return taskArchived{p} }

// Event is a transient broadcast notification. Events are constructed,
// delivered and discarded; they are never persisted.
type Event struct {
	Kind      EventKind    `json:"kind"`
	SubjectID string       `json:"subject_id"`
	ProjectID string       `json:"project_id,omitempty"`
	Actor     string       `json:"actor"`
	TS        string       `json:"ts" format:"date-time"`
	Payload   EventPayload `json:"payload,omitempty"`
}

// Topic returns the broadcast topic an event belongs to. Project events
// share one topic; task events are grouped per owning project.
func (e Event) Topic() string {
	switch e.Kind {
	case ProjectCreated, ProjectUpdated, ProjectDeleted:
		return "projects"
	default:
		return "tasks:" + e.ProjectID
	}
}

type eventWire struct {
	Kind      EventKind       `json:"kind"`
	SubjectID string          `json:"subject_id"`
	ProjectID string          `json:"project_id,omitempty"`
	Actor     string          `json:"actor"`
	TS        string          `json:"ts"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	w := eventWire{Kind: e.Kind, SubjectID: e.SubjectID, ProjectID: e.ProjectID, Actor: e.Actor, TS: e.TS}
	if e.Payload != nil {
		raw, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, err
		}
		w.Payload = raw
	}
	return json.Marshal(w)
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var w eventWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	e.Kind, e.SubjectID, e.ProjectID, e.Actor, e.TS = w.Kind, w.SubjectID, w.ProjectID, w.Actor, w.TS
	if len(w.Payload) == 0 {
		e.Payload = nil
		return nil
	}
	payload, err := decodePayload(w.Kind, w.Payload)
	if err != nil {
		return err
	}
	e.Payload = payload
	return nil
}

func decodePayload(kind EventKind, raw json.RawMessage) (EventPayload, error) {
	switch kind {
	case ProjectCreated, ProjectUpdated, ProjectDeleted:
		var p ProjectPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		switch kind {
		case ProjectCreated:
			return projectCreated{p}, nil
		case ProjectUpdated:
			return projectUpdated{p}, nil
		default:
			return projectDeleted{p}, nil
		}
	case TaskMoved:
		var p TaskMovePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return taskMoved{p}, nil
	case TaskArchived:
		var p ArchivePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return taskArchived{p}, nil
	case TaskCreated, TaskUpdated, TaskDeleted:
		var p TaskPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		switch kind {
		case TaskCreated:
			return taskCreated{p}, nil
		case TaskUpdated:
			return taskUpdated{p}, nil
		default:
			return taskDeleted{p}, nil
		}
	default:
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
}
