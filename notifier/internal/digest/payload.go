package digest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"issue-notifications/notifier/internal/issuechange"
	"issue-notifications/notifier/internal/notifications"
	"issue-notifications/notifier/internal/stats"
)

var ErrInvalidAnalysis = errors.New("invalid analysis payload")

type AnalysisNewIssues struct {
	AnalysisID     string          `json:"analysis_id"`
	Project        ProjectRef      `json:"project"`
	AnalysisDate   time.Time       `json:"analysis_date"`
	ProjectVersion string          `json:"project_version,omitempty"`
	Issues         []AnalysisIssue `json:"issues"`
}

type ProjectRef struct {
	UUID   string `json:"uuid"`
	Key    string `json:"key"`
	Name   string `json:"name"`
	Branch string `json:"branch,omitempty"`
}

type AnalysisIssue struct {
	Key           string   `json:"key"`
	IsNew         bool     `json:"is_new"`
	RuleType      string   `json:"rule_type"`
	RuleKey       string   `json:"rule_key"`
	AssigneeUUID  string   `json:"assignee_uuid,omitempty"`
	ComponentUUID string   `json:"component_uuid,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	EffortMinutes *int64   `json:"effort_minutes,omitempty"`
}

func Decode(raw []byte) (AnalysisNewIssues, error) {
	var a AnalysisNewIssues
	if err := json.Unmarshal(raw, &a); err != nil {
		return AnalysisNewIssues{}, fmt.Errorf("%w: %v", ErrInvalidAnalysis, err)
	}
	if err := a.Validate(); err != nil {
		return AnalysisNewIssues{}, err
	}
	return a, nil
}

func (a AnalysisNewIssues) Validate() error {
	switch {
	case strings.TrimSpace(a.AnalysisID) == "":
		return fmt.Errorf("%w: analysis_id is required", ErrInvalidAnalysis)
	case strings.TrimSpace(a.Project.Key) == "":
		return fmt.Errorf("%w: project.key is required", ErrInvalidAnalysis)
	case a.AnalysisDate.IsZero():
		return fmt.Errorf("%w: analysis_date is required", ErrInvalidAnalysis)
	}
	return nil
}

func (a AnalysisNewIssues) Analysis() (notifications.Analysis, error) {
	p, err := issuechange.NewProject(issuechange.ProjectOptions{
		UUID:   a.Project.UUID,
		Key:    a.Project.Key,
		Name:   a.Project.Name,
		Branch: a.Project.Branch,
	})
	if err != nil {
		return notifications.Analysis{}, fmt.Errorf("%w: %v", ErrInvalidAnalysis, err)
	}
	return notifications.Analysis{Project: p, Date: a.AnalysisDate, ProjectVersion: a.ProjectVersion}, nil
}

func (i AnalysisIssue) stat() stats.Issue {
	return stats.Issue{
		IsNew:         i.IsNew,
		RuleType:      i.RuleType,
		AssigneeUUID:  i.AssigneeUUID,
		ComponentUUID: i.ComponentUUID,
		RuleKey:       i.RuleKey,
		Tags:          i.Tags,
		EffortMinutes: i.EffortMinutes,
	}
}
