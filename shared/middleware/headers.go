package middleware

import "github.com/gin-gonic/gin"

// NoSniff stops browsers from second-guessing the Content-Type of served
// files, so an upload can never be rendered as a page.
func NoSniff() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Next()
	}
}
