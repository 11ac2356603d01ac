package codec

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"issue-notifications/notifier/internal/issuechange"
)

const TypeIssuesChanges = "issues-changes"

const (
	fieldType         = "type"
	fieldChangeDate   = "change.date"
	fieldAuthorUUID   = "change.author.uuid"
	fieldAuthorLogin  = "change.author.login"
	fieldAuthorName   = "change.author.name"
	issuesPrefix      = "issues."
	issueKey          = "key"
	issueOldStatus    = "oldStatus"
	issueStatus       = "newStatus"
	issueResolution   = "newResolution"
	issueAssigneeUUID = "assignee.uuid"
	issueAssigneeLog  = "assignee.login"
	issueAssigneeName = "assignee.name"
	issueRuleRepo     = "rule.repository"
	issueRuleID       = "rule.ruleId"
	issueRuleType     = "rule.type"
	issueRuleName     = "rule.name"
	issueProjectUUID  = "project.uuid"
	issueProjectKey   = "project.key"
	issueProjectName  = "project.name"
	issueProjectBr    = "project.branch"
)

var ErrMalformed = errors.New("malformed notification payload")

// Properties is the flat string bag stored and redelivered by the event bus.
type Properties map[string]string

type Codec interface {
	Encode(agg issuechange.Aggregate) Properties
	Decode(props Properties) (issuechange.Aggregate, error)
}

type PropertiesCodec struct{}

func (PropertiesCodec) Encode(agg issuechange.Aggregate) Properties { return Encode(agg) }

func (PropertiesCodec) Decode(props Properties) (issuechange.Aggregate, error) { return Decode(props) }

func Encode(agg issuechange.Aggregate) Properties {
	props := Properties{fieldType: TypeIssuesChanges}
	change := agg.Change()
	props[fieldChangeDate] = strconv.FormatInt(change.Timestamp().UnixMilli(), 10)
	if author, ok := change.Author(); ok {
		putIfSet(props, fieldAuthorUUID, author.UUID)
		putIfSet(props, fieldAuthorLogin, author.Login)
		putIfSet(props, fieldAuthorName, author.Name)
	}
	for i, issue := range agg.Issues() {
		prefix := issuesPrefix + strconv.Itoa(i) + "."
		putIfSet(props, prefix+issueKey, issue.Key)
		putIfSet(props, prefix+issueOldStatus, issue.OldStatus)
		putIfSet(props, prefix+issueStatus, issue.NewStatus)
		putIfSet(props, prefix+issueResolution, issue.NewResolution)
		if issue.Assignee != nil {
			putIfSet(props, prefix+issueAssigneeUUID, issue.Assignee.UUID)
			putIfSet(props, prefix+issueAssigneeLog, issue.Assignee.Login)
			putIfSet(props, prefix+issueAssigneeName, issue.Assignee.Name)
		}
		putIfSet(props, prefix+issueRuleRepo, issue.Rule.Repository)
		putIfSet(props, prefix+issueRuleID, issue.Rule.RuleID)
		putIfSet(props, prefix+issueRuleType, issue.Rule.Type)
		putIfSet(props, prefix+issueRuleName, issue.Rule.Name)
		putIfSet(props, prefix+issueProjectUUID, issue.Project.UUID)
		putIfSet(props, prefix+issueProjectKey, issue.Project.Key)
		putIfSet(props, prefix+issueProjectName, issue.Project.Name)
		putIfSet(props, prefix+issueProjectBr, issue.Project.Branch)
	}
	return props
}

func Decode(props Properties) (issuechange.Aggregate, error) {
	if t := props[fieldType]; t != TypeIssuesChanges {
		return issuechange.Aggregate{}, fmt.Errorf("%w: unexpected type %q", ErrMalformed, t)
	}
	change, err := decodeChange(props)
	if err != nil {
		return issuechange.Aggregate{}, err
	}
	count, err := issueCount(props)
	if err != nil {
		return issuechange.Aggregate{}, err
	}
	issues := make([]issuechange.ChangedIssue, 0, count)
	for i := 0; i < count; i++ {
		issue, err := decodeIssue(props, issuesPrefix+strconv.Itoa(i)+".")
		if err != nil {
			return issuechange.Aggregate{}, fmt.Errorf("issue %d: %w", i, err)
		}
		issues = append(issues, issue)
	}
	agg, err := issuechange.NewAggregate(&change, issues)
	if err != nil {
		return issuechange.Aggregate{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return agg, nil
}

func decodeChange(props Properties) (issuechange.Change, error) {
	raw, ok := props[fieldChangeDate]
	if !ok {
		return issuechange.Change{}, fmt.Errorf("%w: missing %s", ErrMalformed, fieldChangeDate)
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return issuechange.Change{}, fmt.Errorf("%w: invalid %s %q", ErrMalformed, fieldChangeDate, raw)
	}
	ts := time.UnixMilli(ms)

	login, hasLogin := props[fieldAuthorLogin]
	_, hasUUID := props[fieldAuthorUUID]
	_, hasName := props[fieldAuthorName]
	if !hasLogin {
		if hasUUID || hasName {
			return issuechange.Change{}, fmt.Errorf("%w: author without login", ErrMalformed)
		}
		return issuechange.NewAnalysisChange(ts), nil
	}
	author, err := issuechange.NewUser(props[fieldAuthorUUID], login, props[fieldAuthorName])
	if err != nil {
		return issuechange.Change{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return issuechange.NewUserChange(ts, author), nil
}

func decodeIssue(props Properties, prefix string) (issuechange.ChangedIssue, error) {
	opts := issuechange.ChangedIssueOptions{
		OldStatus:     props[prefix+issueOldStatus],
		NewStatus:     props[prefix+issueStatus],
		NewResolution: props[prefix+issueResolution],
		Rule: issuechange.NewRule(
			props[prefix+issueRuleRepo],
			props[prefix+issueRuleID],
			props[prefix+issueRuleType],
			props[prefix+issueRuleName],
		),
	}
	project, err := issuechange.NewProject(issuechange.ProjectOptions{
		UUID:   props[prefix+issueProjectUUID],
		Key:    props[prefix+issueProjectKey],
		Name:   props[prefix+issueProjectName],
		Branch: props[prefix+issueProjectBr],
	})
	if err != nil {
		return issuechange.ChangedIssue{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	opts.Project = project

	_, hasUUID := props[prefix+issueAssigneeUUID]
	_, hasLogin := props[prefix+issueAssigneeLog]
	_, hasName := props[prefix+issueAssigneeName]
	if hasUUID || hasLogin || hasName {
		opts.Assignee = &issuechange.User{
			UUID:  props[prefix+issueAssigneeUUID],
			Login: props[prefix+issueAssigneeLog],
			Name:  props[prefix+issueAssigneeName],
		}
	}

	issue, err := issuechange.NewChangedIssue(props[prefix+issueKey], opts)
	if err != nil {
		return issuechange.ChangedIssue{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return issue, nil
}

// issueCount checks that issue indexes are contiguous from zero.
func issueCount(props Properties) (int, error) {
	indexes := make(map[int]bool)
	for k := range props {
		if !strings.HasPrefix(k, issuesPrefix) {
			continue
		}
		rest := strings.TrimPrefix(k, issuesPrefix)
		dot := strings.IndexByte(rest, '.')
		if dot <= 0 {
			return 0, fmt.Errorf("%w: invalid issue field %q", ErrMalformed, k)
		}
		idx, err := strconv.Atoi(rest[:dot])
		if err != nil || idx < 0 {
			return 0, fmt.Errorf("%w: invalid issue index in %q", ErrMalformed, k)
		}
		indexes[idx] = true
	}
	sorted := make([]int, 0, len(indexes))
	for idx := range indexes {
		sorted = append(sorted, idx)
	}
	sort.Ints(sorted)
	for i, idx := range sorted {
		if i != idx {
			return 0, fmt.Errorf("%w: missing issue index %d", ErrMalformed, i)
		}
	}
	return len(sorted), nil
}

func putIfSet(props Properties, key string, value string) {
	if value != "" {
		props[key] = value
	}
}
