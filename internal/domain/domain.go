package domain

type Project struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Prd        string `json:"prd,omitempty"`
	Docs       string `json:"docs,omitempty"`
	GithubRepo string `json:"github_repo,omitempty"`
	Pinned     bool   `json:"pinned"`
	CreatedAt  string `json:"created_at" format:"date-time"`
	UpdatedAt  string `json:"updated_at" format:"date-time"`
	// Progress and Updated are derived at read time and never persisted.
	Progress int    `json:"progress"`
	Updated  string `json:"updated,omitempty"`
}

type Task struct {
	ID           string   `json:"id"`
	ProjectID    string   `json:"project_id"`
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	Status       string   `json:"status" enum:"todo,doing,review,done"`
	Assignee     string   `json:"assignee" enum:"user,agent,reviewer"`
	TaskOrder    int      `json:"task_order"`
	Feature      string   `json:"feature,omitempty"`
	Sources      []string `json:"sources,omitempty"`
	CodeExamples []string `json:"code_examples,omitempty"`
	CreatedAt    string   `json:"created_at" format:"date-time"`
	UpdatedAt    string   `json:"updated_at" format:"date-time"`
	Archived     bool     `json:"archived"`
	ArchivedAt   *string  `json:"archived_at,omitempty" format:"date-time"`
	ArchivedBy   *string  `json:"archived_by,omitempty"`
}

// Assignee roles form a closed set; tasks default to AssigneeUser.
const (
	AssigneeUser     = "user"
	AssigneeAgent    = "agent"
	AssigneeReviewer = "reviewer"
)

func ValidAssignee(a string) bool {
	switch a {
	case AssigneeUser, AssigneeAgent, AssigneeReviewer:
		return true
	}
	return false
}

type DocumentVersion struct {
	EntityID      string `json:"entity_id"`
	FieldName     string `json:"field_name"`
	VersionNumber int    `json:"version_number"`
	Content       string `json:"content,omitempty"`
	CreatedAt     string `json:"created_at" format:"date-time"`
	CreatedBy     string `json:"created_by"`
	ChangeType    string `json:"change_type" enum:"initial,update,restore"`
	ChangeSummary string `json:"change_summary,omitempty"`
}

// Change classifications for ledger rows.
const (
	ChangeInitial = "initial"
	ChangeUpdate  = "update"
	ChangeRestore = "restore"
)
