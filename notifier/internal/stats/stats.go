package stats

import (
	"errors"
	"sort"
)

type Metric string

const (
	MetricRuleType  Metric = "RULE_TYPE"
	MetricTag       Metric = "TAG"
	MetricComponent Metric = "COMPONENT"
	MetricAssignee  Metric = "ASSIGNEE"
	MetricRule      Metric = "RULE"
)

var ErrMissingRuleType = errors.New("issue rule type is required")

func Metrics() []Metric {
	return []Metric{MetricRuleType, MetricTag, MetricComponent, MetricAssignee, MetricRule}
}

type MetricStats struct {
	OnCurrentAnalysis  int
	OffCurrentAnalysis int
}

func (m MetricStats) Total() int { return m.OnCurrentAnalysis + m.OffCurrentAnalysis }

func (m *MetricStats) increment(onCurrentAnalysis bool) {
	if onCurrentAnalysis {
		m.OnCurrentAnalysis++
	} else {
		m.OffCurrentAnalysis++
	}
}

func (m *MetricStats) add(other MetricStats) {
	m.OnCurrentAnalysis += other.OnCurrentAnalysis
	m.OffCurrentAnalysis += other.OffCurrentAnalysis
}

type MetricStatsLong struct {
	OnCurrentAnalysis  int64
	OffCurrentAnalysis int64
}

func (m MetricStatsLong) Total() int64 { return m.OnCurrentAnalysis + m.OffCurrentAnalysis }

func (m *MetricStatsLong) add(value int64, onCurrentAnalysis bool) {
	if onCurrentAnalysis {
		m.OnCurrentAnalysis += value
	} else {
		m.OffCurrentAnalysis += value
	}
}

type LabelStats struct {
	Label string
	Stats MetricStats
}

// Labels remember first-insertion order so rankings are stable.
type DistributedStats struct {
	total  MetricStats
	labels map[string]*MetricStats
	order  []string
}

func NewDistributedStats() *DistributedStats {
	return &DistributedStats{labels: make(map[string]*MetricStats)}
}

func (d *DistributedStats) Increment(label string, onCurrentAnalysis bool) {
	d.total.increment(onCurrentAnalysis)
	d.entry(label).increment(onCurrentAnalysis)
}

func (d *DistributedStats) entry(label string) *MetricStats {
	m, ok := d.labels[label]
	if !ok {
		m = &MetricStats{}
		d.labels[label] = m
		d.order = append(d.order, label)
	}
	return m
}

func (d *DistributedStats) Total() int { return d.total.Total() }

func (d *DistributedStats) OnCurrentAnalysis() int { return d.total.OnCurrentAnalysis }

func (d *DistributedStats) ForLabel(label string) (MetricStats, bool) {
	m, ok := d.labels[label]
	if !ok {
		return MetricStats{}, false
	}
	return *m, true
}

func (d *DistributedStats) Labels() []string {
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

func (d *DistributedStats) TopN(n int) []LabelStats {
	return d.rank(n, func(m MetricStats) int { return m.Total() })
}

// TopNOnCurrentAnalysis ranks by on-analysis count and leaves out labels with none.
func (d *DistributedStats) TopNOnCurrentAnalysis(n int) []LabelStats {
	return d.rank(n, func(m MetricStats) int { return m.OnCurrentAnalysis })
}

func (d *DistributedStats) rank(n int, score func(MetricStats) int) []LabelStats {
	if n <= 0 {
		return nil
	}
	ranked := make([]LabelStats, 0, len(d.order))
	for _, label := range d.order {
		m := *d.labels[label]
		if score(m) == 0 {
			continue
		}
		ranked = append(ranked, LabelStats{Label: label, Stats: m})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return score(ranked[i].Stats) > score(ranked[j].Stats) })
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

func (d *DistributedStats) Merge(other *DistributedStats) {
	if other == nil {
		return
	}
	d.total.add(other.total)
	for _, label := range other.order {
		d.entry(label).add(*other.labels[label])
	}
}

type Stats struct {
	distributions map[Metric]*DistributedStats
	effort        MetricStatsLong
}

func NewStats() *Stats {
	s := &Stats{distributions: make(map[Metric]*DistributedStats, len(Metrics()))}
	for _, m := range Metrics() {
		s.distributions[m] = NewDistributedStats()
	}
	return s
}

func (s *Stats) Distribution(m Metric) *DistributedStats {
	d, ok := s.distributions[m]
	if !ok {
		d = NewDistributedStats()
		s.distributions[m] = d
	}
	return d
}

func (s *Stats) Effort() MetricStatsLong { return s.effort }

// IssueCount is read from the rule type distribution, which every issue feeds.
func (s *Stats) IssueCount() MetricStats { return s.Distribution(MetricRuleType).total }

func (s *Stats) HasIssues() bool { return s.IssueCount().Total() > 0 }

func (s *Stats) HasIssuesOnCurrentAnalysis() bool { return s.IssueCount().OnCurrentAnalysis > 0 }

func (s *Stats) add(issue Issue) {
	on := issue.IsNew
	s.Distribution(MetricRuleType).Increment(issue.RuleType, on)
	if issue.AssigneeUUID != "" {
		s.Distribution(MetricAssignee).Increment(issue.AssigneeUUID, on)
	}
	if issue.ComponentUUID != "" {
		s.Distribution(MetricComponent).Increment(issue.ComponentUUID, on)
	}
	if issue.RuleKey != "" {
		s.Distribution(MetricRule).Increment(issue.RuleKey, on)
	}
	for _, tag := range issue.Tags {
		if tag != "" {
			s.Distribution(MetricTag).Increment(tag, on)
		}
	}
	if issue.EffortMinutes != nil {
		s.effort.add(*issue.EffortMinutes, on)
	}
}

func (s *Stats) Merge(other *Stats) {
	if other == nil {
		return
	}
	for m, d := range other.distributions {
		s.Distribution(m).Merge(d)
	}
	s.effort.OnCurrentAnalysis += other.effort.OnCurrentAnalysis
	s.effort.OffCurrentAnalysis += other.effort.OffCurrentAnalysis
}

// Issue carries the fields the accumulator reads. Empty strings and a nil
// effort mean the value is absent.
type Issue struct {
	IsNew         bool
	RuleType      string
	AssigneeUUID  string
	ComponentUUID string
	RuleKey       string
	Tags          []string
	EffortMinutes *int64
}

// Statistics is not safe for concurrent use; shard and Merge instead.
type Statistics struct {
	global    *Stats
	assignees map[string]*Stats
	order     []string
}

func NewStatistics() *Statistics {
	return &Statistics{global: NewStats(), assignees: make(map[string]*Stats)}
}

func (s *Statistics) Add(issue Issue) error {
	if issue.RuleType == "" {
		return ErrMissingRuleType
	}
	s.global.add(issue)
	if issue.AssigneeUUID != "" {
		s.assignee(issue.AssigneeUUID).add(issue)
	}
	return nil
}

func (s *Statistics) assignee(uuid string) *Stats {
	st, ok := s.assignees[uuid]
	if !ok {
		st = NewStats()
		s.assignees[uuid] = st
		s.order = append(s.order, uuid)
	}
	return st
}

func (s *Statistics) Global() *Stats { return s.global }

// Assignee returns nil when the assignee has no issue.
func (s *Statistics) Assignee(uuid string) *Stats { return s.assignees[uuid] }

func (s *Statistics) AssigneeUUIDs() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

func (s *Statistics) HasIssues() bool { return s.global.HasIssues() }

func (s *Statistics) HasIssuesOnCurrentAnalysis() bool { return s.global.HasIssuesOnCurrentAnalysis() }

func (s *Statistics) Merge(other *Statistics) {
	if other == nil {
		return
	}
	s.global.Merge(other.global)
	for _, uuid := range other.order {
		s.assignee(uuid).Merge(other.assignees[uuid])
	}
}
