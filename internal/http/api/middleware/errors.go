package middleware

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// AbortWithError writes the standard error body and stops the chain.
func AbortWithError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": message, "detail": message})
}

// ParseID reads a positive numeric path parameter.
func ParseID(c *gin.Context, name string) (uint64, bool) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param(name)), 10, 64)
	if errParse != nil || id == 0 {
		return 0, false
	}
	return id, true
}
