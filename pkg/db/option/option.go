// Package option builds reusable gorm query modifiers.
package option

import (
	"fmt"
	"strings"

	"github.com/smallbiznis/atlas/pkg/db/pagination"
	"gorm.io/gorm"
)

type QueryOption interface {
	Apply(db *gorm.DB) *gorm.DB
}

type QueryOptionFunc func(db *gorm.DB) *gorm.DB

func (f QueryOptionFunc) Apply(db *gorm.DB) *gorm.DB {
	return f(db)
}

type Operator string

const (
	EQ  Operator = "="
	NEQ Operator = "<>"
	GT  Operator = ">"
	GTE Operator = ">="
	LT  Operator = "<"
	LTE Operator = "<="
	IN  Operator = "IN"
)

type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

// ApplyOperator adds a WHERE clause. Field names are validated so callers
// cannot smuggle SQL through them.
func ApplyOperator(c Condition) QueryOption {
	return QueryOptionFunc(func(db *gorm.DB) *gorm.DB {
		if !validIdent(c.Field) {
			_ = db.AddError(fmt.Errorf("option: invalid field %q", c.Field))
			return db
		}
		switch c.Operator {
		case IN:
			return db.Where(fmt.Sprintf("%s IN ?", c.Field), c.Value)
		case EQ, NEQ, GT, GTE, LT, LTE:
			return db.Where(fmt.Sprintf("%s %s ?", c.Field, c.Operator), c.Value)
		default:
			_ = db.AddError(fmt.Errorf("option: unsupported operator %q", c.Operator))
			return db
		}
	})
}

type QuerySortBy struct {
	Field string
	Desc  bool
	Allow map[string]bool
	// Default is used when Field is empty or not allowed.
	Default string
}

func WithSortBy(s QuerySortBy) QueryOption {
	return QueryOptionFunc(func(db *gorm.DB) *gorm.DB {
		field := s.Field
		if field == "" || !s.Allow[field] {
			field = s.Default
		}
		if field == "" {
			for f := range s.Allow {
				if field == "" || f < field {
					field = f
				}
			}
		}
		if field == "" || !validIdent(field) {
			return db
		}
		dir := "asc"
		if s.Desc {
			dir = "desc"
		}
		return db.Order(fmt.Sprintf("%s %s", field, dir))
	})
}

func WithLimit(n int) QueryOption {
	return QueryOptionFunc(func(db *gorm.DB) *gorm.DB {
		if n <= 0 {
			return db
		}
		return db.Limit(n)
	})
}

// ApplyPagination limits the result to one page plus a lookahead row used to
// detect further pages. The cursor itself is applied by the caller.
func ApplyPagination(page pagination.Pagination) QueryOption {
	return QueryOptionFunc(func(db *gorm.DB) *gorm.DB {
		size := page.PageSize
		if size <= 0 {
			size = 10
		}
		return db.Limit(size + 1)
	})
}

func validIdent(s string) bool {
	if s == "" {
		return false
	}
	return strings.IndexFunc(s, func(r rune) bool {
		return !(r == '_' || r == '.' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
	}) < 0
}
