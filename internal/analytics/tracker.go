package analytics

import (
	"sort"
	"sync"
	"time"
)

const recentRatings = 10

// Feedback is a user's rating of one AI result.
type Feedback struct {
	Rating       int      `json:"rating" validate:"required,min=1,max=5"`
	AnalysisType string   `json:"analysis_type" validate:"omitempty,max=64"`
	Style        string   `json:"style" validate:"omitempty,max=64"`
	Improvements []string `json:"improvements" validate:"omitempty,max=20,dive,required,max=128"`
}

// Count is a labelled counter in a snapshot, ordered by Count descending.
type Count struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Snapshot is a point-in-time copy of the tracker state.
type Snapshot struct {
	TotalFeedback  int       `json:"total_feedback"`
	AverageRating  float64   `json:"average_rating"`
	RecentRatings  []int     `json:"recent_ratings"`
	PopularStyles  []Count   `json:"popular_styles"`
	CommonIssues   []Count   `json:"common_issues"`
	UsageByAction  []Count   `json:"usage_by_action"`
	DeniedByAction []Count   `json:"denied_by_action"`
	Since          time.Time `json:"since"`
}

// Tracker aggregates feedback and observed usage in memory. Counts reset when
// the process restarts; the durable record is the activity log.
type Tracker struct {
	mu        sync.Mutex
	since     time.Time
	ratings   int
	ratingSum int
	recent    [recentRatings]int
	styles    map[string]int
	issues    map[string]int
	usage     map[string]int
	denied    map[string]int
}

func NewTracker() *Tracker {
	return &Tracker{
		since:  time.Now().UTC(),
		styles: make(map[string]int),
		issues: make(map[string]int),
		usage:  make(map[string]int),
		denied: make(map[string]int),
	}
}

// RecordFeedback adds one rating and its style and improvement tags.
func (t *Tracker) RecordFeedback(f Feedback) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.recent[t.ratings%recentRatings] = f.Rating
	t.ratings++
	t.ratingSum += f.Rating
	if f.Style != "" {
		t.styles[f.Style]++
	}
	for _, issue := range f.Improvements {
		t.issues[issue]++
	}
}

// ObserveUsage counts one recorded use of action.
func (t *Tracker) ObserveUsage(action string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.usage[action]++
}

// ObserveDenial counts one quota denial for action.
func (t *Tracker) ObserveDenial(action string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.denied[action]++
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Snapshot{
		TotalFeedback:  t.ratings,
		PopularStyles:  sortedCounts(t.styles, 5),
		CommonIssues:   sortedCounts(t.issues, 5),
		UsageByAction:  sortedCounts(t.usage, 0),
		DeniedByAction: sortedCounts(t.denied, 0),
		Since:          t.since,
	}
	n := min(t.ratings, recentRatings)
	s.RecentRatings = make([]int, 0, n)
	for i := t.ratings - n; i < t.ratings; i++ {
		s.RecentRatings = append(s.RecentRatings, t.recent[i%recentRatings])
	}
	if t.ratings > 0 {
		s.AverageRating = float64(t.ratingSum) / float64(t.ratings)
	}
	return s
}

// sortedCounts orders m by count, then name. A positive limit truncates.
func sortedCounts(m map[string]int, limit int) []Count {
	out := make([]Count, 0, len(m))
	for name, n := range m {
		out = append(out, Count{Name: name, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
