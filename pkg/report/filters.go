package report

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"p9e.in/takweed/models"
	"p9e.in/takweed/pkg/registry"
)

// Filters narrows a report. A nil slice does not filter its dimension; a
// non-nil empty slice matches nothing.
type Filters struct {
	From         *time.Time
	To           *time.Time
	Crops        []uuid.UUID
	Seasons      []int
	Governorates []uuid.UUID
	Limit        int
	Skip         int
}

// ValidationError lists every problem found in a set of filters.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid report filters: " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

func (e *ValidationError) orNil() error {
	if len(e.Problems) == 0 {
		return nil
	}
	return e
}

// ParseFilters reads filters from query parameters. Repeated parameters
// and comma separated values are both accepted. A parameter given with an
// empty value yields an empty, match-nothing filter.
func ParseFilters(q url.Values) (Filters, error) {
	var f Filters
	verr := &ValidationError{}

	if s := q.Get("from"); s != "" {
		t, err := models.ParseJSONTime(s)
		if err != nil {
			verr.add("from: %q is not a date", s)
		} else {
			from := t.Time()
			f.From = &from
		}
	}
	if s := q.Get("to"); s != "" {
		t, err := models.ParseJSONTime(s)
		if err != nil {
			verr.add("to: %q is not a date", s)
		} else {
			to := t.Time()
			if len(s) == len("2006-01-02") {
				to = to.Add(24*time.Hour - time.Nanosecond)
			}
			f.To = &to
		}
	}

	f.Crops = parseIDs(q, "crop", verr)
	f.Governorates = parseIDs(q, "governorate", verr)
	if values, ok := listParam(q, "season"); ok {
		f.Seasons = []int{}
		for _, v := range values {
			n, err := strconv.Atoi(v)
			if err != nil {
				verr.add("season: %q is not a year", v)
				continue
			}
			f.Seasons = append(f.Seasons, n)
		}
	}

	f.Limit = parseInt(q, "limit", verr)
	f.Skip = parseInt(q, "skip", verr)
	return f, verr.orNil()
}

func listParam(q url.Values, key string) ([]string, bool) {
	raw, ok := q[key]
	if !ok {
		return nil, false
	}
	var out []string
	for _, r := range raw {
		for _, v := range strings.Split(r, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
	}
	return out, true
}

func parseIDs(q url.Values, key string, verr *ValidationError) []uuid.UUID {
	values, ok := listParam(q, key)
	if !ok {
		return nil
	}
	ids := []uuid.UUID{}
	for _, v := range values {
		id, err := uuid.Parse(v)
		if err != nil {
			verr.add("%s: %q is not a valid id", key, v)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func parseInt(q url.Values, key string, verr *ValidationError) int {
	s := q.Get(key)
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		verr.add("%s: %q is not a number", key, s)
	}
	return n
}

// validate checks f against the known crops and governorates.
func (f Filters) validate(crops map[uuid.UUID]models.Crop, locations map[uuid.UUID]models.Location) error {
	verr := &ValidationError{}
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		verr.add("from %s is after to %s", f.From.Format(time.RFC3339), f.To.Format(time.RFC3339))
	}
	if f.Limit < 0 {
		verr.add("limit must not be negative")
	}
	if f.Skip < 0 {
		verr.add("skip must not be negative")
	}
	for _, id := range f.Crops {
		if _, ok := crops[id]; !ok {
			verr.add("unknown crop %s", id)
		}
	}
	for _, id := range f.Governorates {
		if l, ok := locations[id]; !ok || l.Type != models.LocationGovernorate {
			verr.add("unknown governorate %s", id)
		}
	}
	return verr.orNil()
}

// matchesNothing reports whether an explicitly empty dimension rules out
// every row.
func (f Filters) matchesNothing() bool {
	return (f.Crops != nil && len(f.Crops) == 0) ||
		(f.Seasons != nil && len(f.Seasons) == 0) ||
		(f.Governorates != nil && len(f.Governorates) == 0)
}

func (f Filters) query() registry.RequestQuery {
	return registry.RequestQuery{
		From:           f.From,
		To:             f.To,
		CropIDs:        f.Crops,
		GovernorateIDs: f.Governorates,
		Seasons:        f.Seasons,
	}
}

// paginate returns the window [skip, skip+limit) of n items. A zero limit
// means no upper bound.
func paginate(n, skip, limit int) (int, int) {
	if skip > n {
		skip = n
	}
	end := n
	if limit > 0 && skip+limit < n {
		end = skip + limit
	}
	return skip, end
}
