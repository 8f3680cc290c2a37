package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func Error(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}

// ErrorKind 在错误标识之外附带面向人的描述，供前端按 error 字段分支。
func ErrorKind(c *gin.Context, status int, kind, msg string) {
	c.JSON(status, gin.H{"error": kind, "message": msg})
}

func AbortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}

func BadRequest(c *gin.Context, msg string) { Error(c, http.StatusBadRequest, msg) }
func NotFound(c *gin.Context, msg string)   { Error(c, http.StatusNotFound, msg) }
func Internal(c *gin.Context, msg string)   { Error(c, http.StatusInternalServerError, msg) }
