package ginserver

import (
	"embed"
	"net/http"
	"strings"
	"sync"

	gin "github.com/gin-gonic/gin"
)

const openAPIPath = "/swagger/doc.json"

//go:embed swagger/openapi.json swagger/index.html
var docsFS embed.FS

var (
	docsOnce sync.Once
	docsJSON []byte
	docsPage []byte
)

func loadDocs() {
	docsJSON, _ = docsFS.ReadFile("swagger/openapi.json")
	page, _ := docsFS.ReadFile("swagger/index.html")
	docsPage = []byte(strings.ReplaceAll(string(page), "{{SPEC_URL}}", openAPIPath))
}

// registerDocsRoutes serves the chat API description and a Swagger UI page pointing at it.
func registerDocsRoutes(router gin.IRoutes) {
	docsOnce.Do(loadDocs)
	router.GET(openAPIPath, func(c *gin.Context) {
		c.Header("Cache-Control", "public, max-age=300")
		c.Data(http.StatusOK, "application/json", docsJSON)
	})
	router.GET("/swagger", func(c *gin.Context) {
		c.Header("Cache-Control", "no-cache")
		c.Data(http.StatusOK, "text/html; charset=utf-8", docsPage)
	})
}
