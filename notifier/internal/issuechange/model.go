package issuechange

import (
	"errors"
	"strings"
	"time"
)

const (
	RuleTypeCodeSmell       = "CODE_SMELL"
	RuleTypeBug             = "BUG"
	RuleTypeVulnerability   = "VULNERABILITY"
	RuleTypeSecurityHotspot = "SECURITY_HOTSPOT"
)

var (
	ErrMissingKey     = errors.New("issue key is required")
	ErrMissingRule    = errors.New("issue rule is required")
	ErrMissingProject = errors.New("issue project is required")
	ErrMissingStatus  = errors.New("issue new status is required")
	ErrMissingLogin   = errors.New("user login is required")

	ErrMissingAssigneeLogin = errors.New("issue assignee login is required")
)

type User struct {
	UUID  string
	Login string
	Name  string
}

func NewUser(uuid string, login string, name string) (User, error) {
	if strings.TrimSpace(login) == "" {
		return User{}, ErrMissingLogin
	}
	return User{UUID: uuid, Login: login, Name: name}, nil
}

func (u User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Login
}

type changeKind int

const (
	kindAnalysis changeKind = iota
	kindUser
)

type Change struct {
	kind      changeKind
	timestamp time.Time
	author    User
}

// Timestamps are kept at millisecond precision, the resolution of the bus encoding.
func NewUserChange(ts time.Time, author User) Change {
	return Change{kind: kindUser, timestamp: ts.Truncate(time.Millisecond), author: author}
}

func NewAnalysisChange(ts time.Time) Change {
	return Change{kind: kindAnalysis, timestamp: ts.Truncate(time.Millisecond)}
}

func (c Change) Timestamp() time.Time { return c.timestamp }

func (c Change) IsUserChange() bool { return c.kind == kindUser }

func (c Change) IsAnalysisChange() bool { return c.kind == kindAnalysis }

func (c Change) Author() (User, bool) {
	if c.kind != kindUser {
		return User{}, false
	}
	return c.author, true
}

func (c Change) IsAuthorLogin(login string) bool {
	return c.kind == kindUser && c.author.Login == login
}

func (c Change) Equal(other Change) bool {
	return c.kind == other.kind && c.timestamp.Equal(other.timestamp) && c.author == other.author
}

type Rule struct {
	Repository string
	RuleID     string
	Type       string
	Name       string
}

func NewRule(repository string, ruleID string, ruleType string, name string) Rule {
	return Rule{Repository: repository, RuleID: ruleID, Type: ruleType, Name: name}
}

func (r Rule) Key() string { return r.Repository + ":" + r.RuleID }

func (r Rule) IsHotspot() bool { return r.Type == RuleTypeSecurityHotspot }

func (r Rule) IsZero() bool { return r.Repository == "" && r.RuleID == "" }

type Project struct {
	UUID   string
	Key    string
	Name   string
	Branch string
}

type ProjectOptions struct {
	UUID   string
	Key    string
	Name   string
	Branch string
}

func NewProject(opts ProjectOptions) (Project, error) {
	if strings.TrimSpace(opts.Key) == "" {
		return Project{}, errors.New("project key is required")
	}
	return Project(opts), nil
}

func (p Project) HasBranch() bool { return p.Branch != "" }

func (p Project) DisplayText() string {
	if p.Branch == "" {
		return p.Name
	}
	return p.Name + ", " + p.Branch
}

// Compare orders projects by name then branch, main line first.
func Compare(a Project, b Project) int {
	if c := strings.Compare(a.Name, b.Name); c != 0 {
		return c
	}
	if a.Branch == b.Branch {
		return strings.Compare(a.Key, b.Key)
	}
	if a.Branch == "" {
		return -1
	}
	if b.Branch == "" {
		return 1
	}
	return strings.Compare(a.Branch, b.Branch)
}

type ChangedIssue struct {
	Key           string
	OldStatus     string
	NewStatus     string
	NewResolution string
	Assignee      *User
	Rule          Rule
	Project       Project
}

type ChangedIssueOptions struct {
	OldStatus     string
	NewStatus     string
	NewResolution string
	Assignee      *User
	Rule          Rule
	Project       Project
}

func NewChangedIssue(key string, opts ChangedIssueOptions) (ChangedIssue, error) {
	if strings.TrimSpace(key) == "" {
		return ChangedIssue{}, ErrMissingKey
	}
	if strings.TrimSpace(opts.NewStatus) == "" {
		return ChangedIssue{}, ErrMissingStatus
	}
	if opts.Rule.IsZero() {
		return ChangedIssue{}, ErrMissingRule
	}
	if strings.TrimSpace(opts.Project.Key) == "" {
		return ChangedIssue{}, ErrMissingProject
	}
	if opts.Assignee != nil && strings.TrimSpace(opts.Assignee.Login) == "" {
		return ChangedIssue{}, ErrMissingAssigneeLogin
	}
	issue := ChangedIssue{
		Key:           key,
		OldStatus:     opts.OldStatus,
		NewStatus:     opts.NewStatus,
		NewResolution: opts.NewResolution,
		Rule:          opts.Rule,
		Project:       opts.Project,
	}
	if opts.Assignee != nil {
		assignee := *opts.Assignee
		issue.Assignee = &assignee
	}
	return issue, nil
}

func (i ChangedIssue) AssigneeLogin() (string, bool) {
	if i.Assignee == nil {
		return "", false
	}
	return i.Assignee.Login, true
}

// StatusChanged reports false only when the previous status is known and equal
// to the new one.
func (i ChangedIssue) StatusChanged() bool {
	if strings.TrimSpace(i.OldStatus) == "" {
		return true
	}
	return !strings.EqualFold(strings.TrimSpace(i.OldStatus), strings.TrimSpace(i.NewStatus))
}

func (i ChangedIssue) Equal(other ChangedIssue) bool {
	if i.Key != other.Key || i.OldStatus != other.OldStatus || i.NewStatus != other.NewStatus || i.NewResolution != other.NewResolution {
		return false
	}
	if i.Rule != other.Rule || i.Project != other.Project {
		return false
	}
	if (i.Assignee == nil) != (other.Assignee == nil) {
		return false
	}
	return i.Assignee == nil || *i.Assignee == *other.Assignee
}
