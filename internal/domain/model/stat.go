package model

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// DateLayout is the calendar-date wire format.
const DateLayout = "2006-01-02"

// Date is a calendar date. The zero value is the null date.
type Date struct {
	time.Time
}

// NewDate builds a UTC calendar date.
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate accepts YYYY-MM-DD or an RFC 3339 timestamp.
func ParseDate(s string) (Date, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Date{}, false
	}
	if t, err := time.Parse(DateLayout, s); err == nil {
		return Date{Time: t}, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		y, m, d := t.Date()
		return NewDate(y, m, d), true
	}
	return Date{}, false
}

// IsNull reports whether the date is missing.
func (d Date) IsNull() bool { return d.Time.IsZero() }

func (d Date) String() string {
	if d.IsNull() {
		return ""
	}
	return d.Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsNull() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

// UnmarshalJSON never fails on a bad date; it yields the null date.
func (d *Date) UnmarshalJSON(b []byte) error {
	var s *string
	if err := json.Unmarshal(b, &s); err != nil || s == nil {
		*d = Date{}
		return nil //nolint:nilerr // unparsable dates are null
	}
	parsed, _ := ParseDate(*s)
	*d = parsed
	return nil
}

// StatRecord is the canonical per-match statistic.
type StatRecord struct {
	ID            string `json:"id"`
	PlayerID      string `json:"player_id"`
	MatchDate     Date   `json:"match_date"`
	Goals         int    `json:"goals"`
	Assists       int    `json:"assists"`
	MinutesPlayed int    `json:"minutes_played"`
	Touches       int    `json:"touches"`
	TacklesWon    int    `json:"tackles_won"`
}

// Equal compares field by field, dates by calendar day.
func (r StatRecord) Equal(o StatRecord) bool {
	return r.ID == o.ID && r.PlayerID == o.PlayerID && r.MatchDate.String() == o.MatchDate.String() &&
		r.Goals == o.Goals && r.Assists == o.Assists && r.MinutesPlayed == o.MinutesPlayed &&
		r.Touches == o.Touches && r.TacklesWon == o.TacklesWon
}

// Fields renders the record in the canonical raw shape used for writes.
func (r StatRecord) Fields() map[string]any {
	var date any
	if !r.MatchDate.IsNull() {
		date = r.MatchDate.String()
	}
	return map[string]any{
		"match_date":     date,
		"goals":          r.Goals,
		"assists":        r.Assists,
		"minutes_played": r.MinutesPlayed,
		"touches":        r.Touches,
		"tackles_won":    r.TacklesWon,
	}
}

// ChangeOp names a mutation applied to a collection.
type ChangeOp string

const (
	ChangeAdded   ChangeOp = "added"
	ChangeUpdated ChangeOp = "updated"
	ChangeRemoved ChangeOp = "removed"
)

// Change is one confirmed mutation. Removed changes only need Record.ID.
type Change struct {
	Op     ChangeOp
	Record StatRecord
}

// StatCollection holds a player's records in insertion order, keyed by ID.
// It is not safe for concurrent use; its owner serializes access.
type StatCollection struct {
	records []StatRecord
	index   map[string]int
}

// NewStatCollection seeds a collection, later duplicates of an ID replacing earlier ones.
func NewStatCollection(records ...StatRecord) *StatCollection {
	c := &StatCollection{index: make(map[string]int, len(records))}
	for _, r := range records {
		c.upsert(r)
	}
	return c
}

func (c *StatCollection) Len() int {
	if c == nil {
		return 0
	}
	return len(c.records)
}

// Records returns a copy in insertion order.
func (c *StatCollection) Records() []StatRecord {
	if c == nil {
		return nil
	}
	out := make([]StatRecord, len(c.records))
	copy(out, c.records)
	return out
}

func (c *StatCollection) Get(id string) (StatRecord, bool) {
	i, ok := c.index[id]
	if !ok {
		return StatRecord{}, false
	}
	return c.records[i], true
}

// Apply folds a change in and reports whether the contents changed.
// Re-applying the same change is a no-op.
func (c *StatCollection) Apply(ch Change) bool {
	switch ch.Op {
	case ChangeAdded, ChangeUpdated:
		return c.upsert(ch.Record)
	case ChangeRemoved:
		return c.remove(ch.Record.ID)
	}
	return false
}

func (c *StatCollection) upsert(r StatRecord) bool {
	if r.ID != "" {
		if i, ok := c.index[r.ID]; ok {
			if c.records[i].Equal(r) {
				return false
			}
			c.records[i] = r
			return true
		}
		c.index[r.ID] = len(c.records)
	}
	c.records = append(c.records, r)
	return true
}

func (c *StatCollection) remove(id string) bool {
	i, ok := c.index[id]
	if !ok {
		return false
	}
	c.records = append(c.records[:i], c.records[i+1:]...)
	delete(c.index, id)
	for j := i; j < len(c.records); j++ {
		if c.records[j].ID != "" {
			c.index[c.records[j].ID] = j
		}
	}
	return true
}

// Clone returns an independent copy.
func (c *StatCollection) Clone() *StatCollection {
	return NewStatCollection(c.Records()...)
}

// Dated returns records with a non-null date, in insertion order.
func (c *StatCollection) Dated() []StatRecord {
	return DatedOnly(c.Records())
}

// ByDate returns dated records sorted by match date, ties kept in insertion order.
func (c *StatCollection) ByDate() []StatRecord {
	out := c.Dated()
	sort.SliceStable(out, func(i, j int) bool { return out[i].MatchDate.Before(out[j].MatchDate.Time) })
	return out
}

// DatedOnly drops records whose date is null.
func DatedOnly(records []StatRecord) []StatRecord {
	out := make([]StatRecord, 0, len(records))
	for _, r := range records {
		if !r.MatchDate.IsNull() {
			out = append(out, r)
		}
	}
	return out
}

// Digest fingerprints the collection contents independently of order.
func (c *StatCollection) Digest() string {
	return DigestRecords(c.Records())
}

// DigestRecords fingerprints records as a set keyed by ID.
func DigestRecords(records []StatRecord) string {
	sorted := make([]StatRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	h := xxhash.New()
	var buf [8]byte
	for _, r := range sorted {
		_, _ = h.WriteString(r.ID)
		_, _ = h.WriteString("\x00")
		_, _ = h.WriteString(r.PlayerID)
		_, _ = h.WriteString("\x00")
		_, _ = h.WriteString(r.MatchDate.String())
		_, _ = h.WriteString("\x00")
		for _, n := range [...]int{r.Goals, r.Assists, r.MinutesPlayed, r.Touches, r.TacklesWon} {
			binary.LittleEndian.PutUint64(buf[:], uint64(int64(n)))
			_, _ = h.Write(buf[:])
		}
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
