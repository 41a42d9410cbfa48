// Package query translates HTTP query parameters into gorm database
// operations: filtering, sorting, field projection and pagination.
package query

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gorm.io/gorm"
)

const (
	// DefaultLimit is the page size used when the limit parameter is absent or invalid.
	DefaultLimit = 20
	// MaxLimit caps the page size regardless of what the client asks for.
	MaxLimit = 100
)

// reserved keys are consumed by the sort/select/paginate stages and are never
// treated as filter fields.
var reserved = map[string]struct{}{
	"page":   {},
	"sort":   {},
	"limit":  {},
	"fields": {},
}

// operators maps the bracket-style comparison suffixes accepted in query
// strings (price[gte]=10) to SQL comparison operators.
var operators = map[string]string{
	"gte": ">=",
	"gt":  ">",
	"lte": "<=",
	"lt":  "<",
}

// identifier restricts filterable and sortable column names. Fields are
// whitelisted upstream by handlers; this is a second guard so a crafted
// parameter can never reach the SQL text.
var identifier = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Features chains filter, sort, select and pagination stages onto a base
// gorm query. Stages must be applied in Filter, Sort, Select, Paginate order:
// Filter consumes a copy of the parameter map while the later stages read the
// reserved keys untouched.
type Features struct {
	db     *gorm.DB
	params map[string]string
	page   int
	limit  int
}

// New creates a Features chain over the base query. params is the flattened
// query-string map as produced by fiber's Queries(), with bracket keys like
// "price[gte]" left intact.
func New(db *gorm.DB, params map[string]string) *Features {
	return &Features{
		db:     db,
		params: params,
		page:   1,
		limit:  DefaultLimit,
	}
}

// Filter applies every non-reserved parameter as a predicate. Bracket-style
// comparison suffixes become range predicates; anything else is an equality
// filter. Unknown keys pass through by design — callers whitelist allowed
// fields before handing parameters to the engine.
func (f *Features) Filter() *Features {
	for key, value := range f.params {
		if _, ok := reserved[key]; ok {
			continue
		}

		field, op := splitBracketKey(key)
		if !identifier.MatchString(field) {
			continue
		}

		if op == "" {
			f.db = f.db.Where(fmt.Sprintf("%s = ?", field), coerce(value))
			continue
		}

		sqlOp, ok := operators[op]
		if !ok {
			continue
		}
		f.db = f.db.Where(fmt.Sprintf("%s %s ?", field, sqlOp), coerce(value))
	}
	return f
}

// Sort applies the comma-separated sort parameter, honoring a leading '-' for
// descending order per field. Without a sort parameter results come back
// newest first. The primary key is always appended as a tiebreaker so
// paginated walks are stable.
func (f *Features) Sort() *Features {
	raw := strings.TrimSpace(f.params["sort"])
	if raw == "" {
		f.db = f.db.Order("created_at DESC").Order("id")
		return f
	}

	for _, field := range strings.Split(raw, ",") {
		field = strings.TrimSpace(field)
		desc := strings.HasPrefix(field, "-")
		field = strings.TrimPrefix(field, "-")
		if !identifier.MatchString(field) {
			continue
		}
		if desc {
			f.db = f.db.Order(field + " DESC")
		} else {
			f.db = f.db.Order(field)
		}
	}
	f.db = f.db.Order("id")
	return f
}

// Select applies the comma-separated fields parameter as a projection.
// Entries prefixed with '-' are excluded instead. The entity identifier is
// always retained so responses stay addressable.
func (f *Features) Select() *Features {
	raw := strings.TrimSpace(f.params["fields"])
	if raw == "" {
		return f
	}

	var include, exclude []string
	for _, field := range strings.Split(raw, ",") {
		field = strings.TrimSpace(field)
		neg := strings.HasPrefix(field, "-")
		field = strings.TrimPrefix(field, "-")
		if !identifier.MatchString(field) {
			continue
		}
		if neg {
			exclude = append(exclude, field)
		} else {
			include = append(include, field)
		}
	}

	if len(include) > 0 {
		f.db = f.db.Select(append([]string{"id"}, include...))
	} else if len(exclude) > 0 {
		f.db = f.db.Omit(exclude...)
	}
	return f
}

// Paginate applies limit/offset from the page and limit parameters. Values
// are validated explicitly: non-numeric or non-positive input falls back to
// the defaults rather than leaking garbage into the store.
func (f *Features) Paginate() *Features {
	f.page = positiveInt(f.params["page"], 1)
	f.limit = positiveInt(f.params["limit"], DefaultLimit)
	if f.limit > MaxLimit {
		f.limit = MaxLimit
	}

	f.db = f.db.Offset((f.page - 1) * f.limit).Limit(f.limit)
	return f
}

// Find runs the composed query into dest.
func (f *Features) Find(dest interface{}) error {
	return f.db.Find(dest).Error
}

// Page returns the resolved page number after Paginate.
func (f *Features) Page() int { return f.page }

// Limit returns the resolved page size after Paginate.
func (f *Features) Limit() int { return f.limit }

// DB exposes the composed gorm query for callers that need to chain further.
func (f *Features) DB() *gorm.DB { return f.db }

// splitBracketKey splits "price[gte]" into ("price", "gte"). A key without
// brackets returns op == "".
func splitBracketKey(key string) (field, op string) {
	open := strings.IndexByte(key, '[')
	if open <= 0 || !strings.HasSuffix(key, "]") {
		return key, ""
	}
	return key[:open], key[open+1 : len(key)-1]
}

// coerce converts numeric and boolean strings into typed values so
// comparisons bind with the column's native type instead of text.
func coerce(value string) interface{} {
	if n, err := strconv.ParseFloat(value, 64); err == nil {
		return n
	}
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return value
}

// positiveInt parses raw as a positive integer, returning fallback when the
// value is absent, malformed or non-positive.
func positiveInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
