// Package server hosts the driver behind HTTP so a platform (or a person with
// curl) can execute shell commands against a reservation.
package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/takehaya/trexshell/pkg/cloudshell"
	"github.com/takehaya/trexshell/pkg/driver"
	"github.com/takehaya/trexshell/pkg/stats"
	"github.com/takehaya/trexshell/pkg/tgn"
	"go.uber.org/zap"
)

const (
	inputConfigFileLocation = "config_file_location"
	inputBlocking           = "blocking"
	inputViewName           = "view_name"
	inputOutputType         = "output_type"
)

type Server struct {
	driver   *driver.Driver
	api      *cloudshell.MemoryAPI
	gatherer prometheus.Gatherer
	logger   *zap.Logger
	service  string
}

type CommandRequest struct {
	ReservationID string            `json:"reservation_id" binding:"required"`
	Inputs        map[string]string `json:"inputs"`
}

type CommandResponse struct {
	Output interface{} `json:"output"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// New returns a server for an initialized driver. service is the service name
// put in the command context of every request.
func New(d *driver.Driver, api *cloudshell.MemoryAPI, gatherer prometheus.Gatherer, service string, logger *zap.Logger) *Server {
	return &Server{driver: d, api: api, gatherer: gatherer, service: service, logger: logger}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "driver": s.driver.State().String()})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	r.POST("/reservations/:id/resources", s.addResources)
	r.GET("/reservations/:id/attachments/:name", s.attachment)
	r.POST("/commands/:name", s.command)
	return r
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

func (s *Server) addResources(c *gin.Context) {
	var resources []cloudshell.Resource
	if err := c.ShouldBindJSON(&resources); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if err := s.api.AddResources(c.Param("id"), resources...); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) attachment(c *gin.Context) {
	data, ok := s.api.Attachment(c.Param("id"), c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "attachment not found"})
		return
	}
	c.Data(http.StatusOK, "text/csv; charset=utf-8", data)
}

func (s *Server) command(c *gin.Context) {
	var req CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	rcc := cloudshell.ResourceCommandContext{ReservationID: req.ReservationID, ServiceName: s.service}
	ctx := c.Request.Context()

	var (
		output interface{}
		err    error
	)
	switch name := c.Param("name"); name {
	case "load_config":
		err = s.driver.LoadConfig(ctx, rcc, req.Inputs[inputConfigFileLocation])
	case "start_traffic":
		err = s.driver.StartTraffic(ctx, rcc, req.Inputs[inputBlocking])
	case "stop_traffic":
		err = s.driver.StopTraffic(ctx, rcc)
	case "get_statistics":
		var res stats.Result
		res, err = s.driver.GetStatistics(ctx, rcc, req.Inputs[inputViewName], req.Inputs[inputOutputType])
		if err == nil {
			output = res.CSV
			if res.Format == stats.FormatJSON {
				output = res.JSON
			}
		}
	case "keep_alive":
		err = s.driver.KeepAlive(ctx, rcc)
	default:
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "unknown command " + name})
		return
	}
	if err != nil {
		c.JSON(statusOf(err), ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, CommandResponse{Output: output})
}

func statusOf(err error) int {
	switch {
	case tgn.IsInvalidArgument(err):
		return http.StatusBadRequest
	case tgn.IsLifecycle(err):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
		// keep_alive requests end with the host
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("command host listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return errors.Wrap(err, "command host failed")
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "failed to shut down command host")
	}
	return nil
}
