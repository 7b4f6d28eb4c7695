package server

import (
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"

	"github.com/loykin/svcmgr/internal/service"
)

// mountPath normalises a configured base path. "" and "/" mount at the root;
// repeated or trailing slashes are dropped and a leading one is added.
func mountPath(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" {
		return ""
	}
	bp = path.Clean("/" + bp)
	if bp == "/" {
		return ""
	}
	return bp
}

// checkName rejects names no registered service can carry through the API.
// Names end up in log file paths (<dir>/<name>.stdout.log), so only
// [A-Za-z0-9._-] is accepted and ".." never is.
func checkName(name string) error {
	if name == "" {
		return fmt.Errorf("service name is required")
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("invalid service name %q: '..' is not allowed", name)
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
		default:
			return fmt.Errorf("invalid service name %q: allowed characters are [A-Za-z0-9._-]", name)
		}
	}
	return nil
}

func respond(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}

// fail reports err with the HTTP code of its error kind.
func fail(c *gin.Context, err error) {
	respond(c, statusFor(err), errorResp{Error: err.Error()})
}

func failWith(c *gin.Context, code int, msg string) {
	respond(c, code, errorResp{Error: msg})
}

// statusFor maps the error taxonomy onto HTTP codes.
func statusFor(err error) int {
	switch service.KindOf(err) {
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindDuplicateName, service.KindDependencyUnready:
		return http.StatusConflict
	case service.KindConfigInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
