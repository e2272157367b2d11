package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	defaultLimit = 50
	maxLimit     = 100
)

// parsePagination читает limit/offset; некорректные значения заменяются умолчаниями.
func parsePagination(c *gin.Context) (limit, offset int) {
	limit = queryInt(c, "limit", defaultLimit)
	if limit <= 0 || limit > maxLimit {
		limit = defaultLimit
	}
	offset = queryInt(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	return
}

// parsePage читает page/page_size для табличных выборок. Нули означают
// значения по умолчанию репозитория.
func parsePage(c *gin.Context) (page, size int) {
	page = queryInt(c, "page", 0)
	size = queryInt(c, "page_size", 0)
	if size > maxLimit {
		size = maxLimit
	}
	return
}

func queryInt(c *gin.Context, key string, def int) int {
	s := c.Query(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
