// Package paging parses the page/per_page query parameters shared by every list
// endpoint and shapes the list response.
package paging

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	// DefaultPerPage applies when per_page is absent or below 1
	DefaultPerPage = 20
	// MaxPerPage caps per_page
	MaxPerPage = 100
)

// Params is a parsed page request.
type Params struct {
	Page    int
	PerPage int
}

// Offset is the number of rows preceding the page.
func (p Params) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// Parse reads page (default 1) and per_page (default 20, capped at 100).
func Parse(c *gin.Context) Params {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", strconv.Itoa(DefaultPerPage)))

	if page < 1 {
		page = 1
	}
	switch {
	case perPage < 1:
		perPage = DefaultPerPage
	case perPage > MaxPerPage:
		perPage = MaxPerPage
	}
	return Params{Page: page, PerPage: perPage}
}

// Response is the list body: items under key plus the pagination block.
func Response(key string, items any, p Params, total int) gin.H {
	return gin.H{
		key: items,
		"pagination": gin.H{
			"page":     p.Page,
			"per_page": p.PerPage,
			"total":    total,
		},
	}
}
