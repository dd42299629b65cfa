package option

import (
	"fmt"
	"strings"

	"creator-booking/pkg/db/pagination"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type QueryOption func(*gorm.DB) *gorm.DB

type Operator string

const (
	EQ     Operator = "="
	NEQ    Operator = "<>"
	GT     Operator = ">"
	GTE    Operator = ">="
	LT     Operator = "<"
	LTE    Operator = "<="
	IN     Operator = "IN"
	IsNull Operator = "IS NULL"
)

type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

// ApplyOperator adds conditions that cannot be expressed by a zero-value
// struct query, such as comparisons or NULL checks.
func ApplyOperator(conds ...Condition) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		for _, c := range conds {
			switch c.Operator {
			case IsNull:
				db = db.Where(fmt.Sprintf("%s IS NULL", c.Field))
			case IN:
				db = db.Where(fmt.Sprintf("%s IN ?", c.Field), c.Value)
			default:
				db = db.Where(fmt.Sprintf("%s %s ?", c.Field, c.Operator), c.Value)
			}
		}
		return db
	}
}

type QuerySortBy struct {
	SortBy  string
	OrderBy string
	Allow   map[string]bool
}

// WithSortBy orders by SortBy when it is allowed; unknown columns fall back
// to created_at.
func WithSortBy(sorts ...QuerySortBy) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		for _, s := range sorts {
			column := s.SortBy
			if column == "" || (s.Allow != nil && !s.Allow[column]) {
				column = "created_at"
			}
			desc := strings.EqualFold(s.OrderBy, "desc")
			db = db.Order(clause.OrderByColumn{Column: clause.Column{Name: column}, Desc: desc})
		}
		return db
	}
}

func WithLimit(limit int) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		return db.Limit(limit)
	}
}

func LockingUpdate(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func WithLockingUpdate() QueryOption {
	return LockingUpdate
}

// ApplyPagination walks newest first by (created_at, id) and fetches one
// extra row so callers can tell whether another page exists.
func ApplyPagination(p pagination.Pagination) QueryOption {
	p = p.Normalize()
	return func(db *gorm.DB) *gorm.DB {
		if p.Cursor != "" {
			if cursor, err := pagination.DecodeCursor(p.Cursor); err == nil {
				if ts, err := cursor.Time(); err == nil {
					db = db.Where("(created_at < ?) OR (created_at = ? AND id < ?)", ts, ts, cursor.ID)
				}
			}
		}
		return db.Order("created_at DESC").Order("id DESC").Limit(p.Limit + 1)
	}
}
