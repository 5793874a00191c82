package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"probecal/adapters/oracle"
	"probecal/domain/calibration"
	"probecal/domain/core"
	"probecal/internal"
)

// SurfaceInfo describes one surface without its data
type SurfaceInfo struct {
	Variable string           `json:"variable"`
	Comment  string           `json:"comment"`
	X        calibration.Axis `json:"x"`
	Y        calibration.Axis `json:"y"`
}

// SurfaceBody is a surface with its x-major data
type SurfaceBody struct {
	SurfaceInfo
	Data []float64 `json:"data"`
}

// TableInfo is the metadata of the served table
type TableInfo struct {
	Prefix      string        `json:"prefix"`
	Fingerprint string        `json:"fingerprint"`
	Source      string        `json:"source"`
	Surfaces    []SurfaceInfo `json:"surfaces"`
}

// TableHandler serves a calibration table and the firmware lookup over it
type TableHandler struct {
	oracle      *oracle.TableOracle
	source      string
	fingerprint string
	logger      *internal.Logger
}

// NewTableHandler creates a handler for the table read from source
func NewTableHandler(table *calibration.Table, source string, logger *internal.Logger) (*TableHandler, error) {
	o, err := oracle.NewTableOracle(table)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &TableHandler{
		oracle:      o,
		source:      source,
		fingerprint: table.Fingerprint().String(),
		logger:      logger.With("api"),
	}, nil
}

func info(s *calibration.Surface) SurfaceInfo {
	return SurfaceInfo{Variable: s.Variable.String(), Comment: s.Comment, X: s.X, Y: s.Y}
}

// Health reports liveness and the fingerprint being served
func (h *TableHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "fingerprint": h.fingerprint})
}

// GetTable returns prefix, fingerprint and axes of every surface
func (h *TableHandler) GetTable(c *gin.Context) {
	t := h.oracle.Table()
	out := TableInfo{Prefix: t.Prefix, Fingerprint: h.fingerprint, Source: h.source}
	for i := range t.Surfaces {
		out.Surfaces = append(out.Surfaces, info(&t.Surfaces[i]))
	}
	c.JSON(http.StatusOK, out)
}

// GetSurface returns one surface including its data
func (h *TableHandler) GetSurface(c *gin.Context) {
	v, err := calibration.ParseVariable(c.Param("variable"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	s, err := h.oracle.Table().Surface(v)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, SurfaceBody{SurfaceInfo: info(s), Data: s.Data})
}

// GetAirData converts a raw reading given as query parameters
func (h *TableHandler) GetAirData(c *gin.Context) {
	var r calibration.Reading
	for _, p := range []struct {
		name     string
		dst      *float64
		required bool
	}{
		{"dp0", &r.Dp0, true},
		{"dpa", &r.Dpa, true},
		{"dpb", &r.Dpb, true},
		{"baro", &r.Baro, false},
	} {
		raw, ok := c.GetQuery(p.name)
		if !ok {
			if p.required {
				c.JSON(http.StatusBadRequest, gin.H{"error": "missing parameter " + p.name})
				return
			}
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "parameter " + p.name + " is not a number"})
			return
		}
		*p.dst = v
	}

	air, err := h.oracle.AirData(c.Request.Context(), r)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, core.ErrOutOfTable) || errors.Is(err, core.ErrDegenerateSample) {
			status = http.StatusUnprocessableEntity
		}
		h.logger.Debug("lookup %+v: %v", r, err)
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, air)
}
