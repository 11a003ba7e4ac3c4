package http

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/axiom/internal/api/ws"
	"github.com/GriffinCanCode/axiom/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/axiom/internal/shared/fserr"
	"github.com/GriffinCanCode/axiom/internal/shared/path"
	"github.com/GriffinCanCode/axiom/internal/vfs"
	"github.com/GriffinCanCode/axiom/internal/vfs/archive"
)

// Version is reported by the root endpoint
const Version = "0.1.0"

// Handlers contains all HTTP handlers
type Handlers struct {
	mounts  *vfs.Manager
	ws      *ws.Handler
	metrics *monitoring.Metrics
}

// NewHandlers creates a new handler set
func NewHandlers(mounts *vfs.Manager, wsHandler *ws.Handler, metrics *monitoring.Metrics) *Handlers {
	return &Handlers{
		mounts:  mounts,
		ws:      wsHandler,
		metrics: metrics,
	}
}

// Root handles the service banner
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "axiom",
		"version": Version,
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"mounts":   h.mounts.Names(),
		"sessions": h.ws.Sessions(),
		"metrics":  h.metrics.Snapshot(),
	})
}

// MountInfo describes one mounted filesystem
type MountInfo struct {
	Name  string          `json:"name"`
	Root  string          `json:"root"`
	State string          `json:"state"`
	Stat  *vfs.StatResult `json:"stat,omitempty"`
}

// ListMounts lists the mounted filesystems with their root stat
func (h *Handlers) ListMounts(c *gin.Context) {
	names := h.mounts.Names()
	mounts := make([]MountInfo, 0, len(names))
	for _, name := range names {
		fs, err := h.mounts.Get(name)
		if err != nil {
			continue // unmounted meanwhile
		}
		info := MountInfo{Name: name, Root: fs.RootPath().Spec(), State: fs.State().String()}
		if st, err := fs.Stat(c.Request.Context(), fs.RootPath()); err == nil {
			info.Stat = st
		}
		mounts = append(mounts, info)
	}

	c.JSON(http.StatusOK, gin.H{"mounts": mounts})
}

// Glob expands ?pattern= against the named mount
func (h *Handlers) Glob(c *gin.Context) {
	name := c.Param("name")
	fs, err := h.mounts.Get(name)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fserr.ToWire(err)})
		return
	}

	pattern := c.Query("pattern")
	if pattern == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": fserr.ToWire(fserr.Missing("pattern"))})
		return
	}

	matches, err := vfs.Glob(c.Request.Context(), fs, name+":"+pattern)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": fserr.ToWire(err)})
		return
	}

	specs := make([]string, len(matches))
	for i, m := range matches {
		specs[i] = m.Spec()
	}
	c.JSON(http.StatusOK, gin.H{"matches": specs})
}

// Archive streams ?path= (default the root) of the named mount as a tar,
// compressed per ?compression=.
func (h *Handlers) Archive(c *gin.Context) {
	name := c.Param("name")
	fs, err := h.mounts.Get(name)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fserr.ToWire(err)})
		return
	}

	compression, err := archive.ParseCompression(c.Query("compression"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fserr.ToWire(err)})
		return
	}
	from := path.Parse(name + ":/" + strings.TrimPrefix(c.Query("path"), "/"))
	st, err := fs.Stat(c.Request.Context(), from)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": fserr.ToWire(err)})
		return
	}
	if !st.IsDir() {
		c.JSON(http.StatusBadRequest, gin.H{"error": fserr.ToWire(fserr.TypeMismatch("dir", "file"))})
		return
	}

	base := name
	if !from.IsRoot() {
		base = from.BaseName()
	}
	c.Header("Content-Type", compression.ContentType())
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", base+compression.Ext()))
	c.Status(http.StatusOK)

	// headers are out; a failure can only cut the body short
	if _, err := archive.Create(c.Request.Context(), c.Writer, fs, from, compression); err != nil {
		_ = c.Error(err)
		c.Abort()
	}
}

// statusFor maps an error kind to an HTTP status
func statusFor(err error) int {
	switch fserr.From(err).Kind {
	case fserr.KindNotFound:
		return http.StatusNotFound
	case fserr.KindInvalid, fserr.KindMissing, fserr.KindIncompatible, fserr.KindTypeMismatch:
		return http.StatusBadRequest
	case fserr.KindDuplicate:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
