package server

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/text/language"
)

const (
	indexFileName      = "index.html"
	stringsFilePrefix  = "strings.js."
	defaultLanguage    = "en"
	javascriptMimeType = "application/javascript; charset=utf-8"
)

var (
	supportedLanguages = []language.Tag{language.English, language.German}
	languageMatcher    = language.NewMatcher(supportedLanguages)
)

func (h *httpHandler) handleIndexRedirect(c *gin.Context) {
	c.Redirect(http.StatusFound, h.basePath+"/"+indexFileName)
}

func (h *httpHandler) handleIndex(c *gin.Context) {
	h.serveStaticFile(c, indexFileName, "")
}

func (h *httpHandler) handleStrings(c *gin.Context) {
	h.serveStaticFile(c, stringsFilePrefix+selectLanguage(c.GetHeader("Accept-Language")), javascriptMimeType)
}

// serveStaticFile writes a file from the static directory. http.ServeFile is avoided
// because it redirects paths ending in /index.html.
func (h *httpHandler) serveStaticFile(c *gin.Context, name, contentType string) {
	if h.staticDir == "" {
		c.String(http.StatusNotFound, notFoundBody)
		return
	}
	file, err := os.Open(filepath.Join(h.staticDir, name))
	if err != nil {
		h.requestLogger(c).Warn("static file unavailable", zap.String("file", name), zap.Error(err))
		c.String(http.StatusNotFound, notFoundBody)
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil || info.IsDir() {
		c.String(http.StatusNotFound, notFoundBody)
		return
	}
	if contentType != "" {
		c.Header("Content-Type", contentType)
	}
	http.ServeContent(c.Writer, c.Request, name, info.ModTime(), file)
}

// selectLanguage picks the best supported base language for an Accept-Language header.
func selectLanguage(header string) string {
	if header == "" {
		return defaultLanguage
	}
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 {
		return defaultLanguage
	}
	_, index, confidence := languageMatcher.Match(tags...)
	if confidence == language.No {
		return defaultLanguage
	}
	base, _ := supportedLanguages[index].Base()
	return base.String()
}
