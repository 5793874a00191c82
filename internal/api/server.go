// Package api exposes a calibration table over HTTP so bench tools can query
// the firmware lookup without flashing a board.
package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"probecal/adapters/artifact"
	"probecal/internal"
	"probecal/ports"
)

// Server wires the lookup routes onto a gin engine
type Server struct {
	router *gin.Engine
	logger *internal.Logger
}

// NewServer creates a server with recovery and request logging
func NewServer(handler *TableHandler, logger *internal.Logger) *Server {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	s := &Server{router: gin.New(), logger: logger.With("api")}
	s.router.Use(gin.Recovery(), s.requestLogger())

	s.router.GET("/healthz", handler.Health)
	s.router.GET("/tables", handler.GetTable)
	s.router.GET("/tables/:variable", handler.GetSurface)
	s.router.GET("/airdata", handler.GetAirData)
	return s
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("%s %s -> %d (%.2fms)", c.Request.Method, c.Request.URL.RequestURI(),
			c.Writer.Status(), float64(time.Since(start).Nanoseconds())/1e6)
	}
}

// Router returns the engine for embedding or testing
func (s *Server) Router() *gin.Engine { return s.router }

// Run listens on addr until the process exits
func (s *Server) Run(addr string) error {
	s.logger.Info("serving calibration lookup on %s", addr)
	return s.router.Run(addr)
}

// Open reads the table artifact at path, choosing the codec by extension,
// and builds a server for it.
func Open(path string, logger *internal.Logger) (*Server, error) {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	var store ports.TableStore = artifact.NewFileStore(artifact.ForPath(path), logger)
	table, err := store.Read(path)
	if err != nil {
		return nil, err
	}
	handler, err := NewTableHandler(table, path, logger)
	if err != nil {
		return nil, err
	}
	return NewServer(handler, logger), nil
}
