package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"voting-ledger/config"
	"voting-ledger/models"
	"voting-ledger/service"
)

var logger = logrus.WithField("module", "api")

const principalKey = "principal"

type Server struct {
	votingService *service.VotingService
	cfg           config.ServerConfig
	server        *http.Server
}

func NewServer(votingService *service.VotingService, cfg config.ServerConfig) *Server {
	srv := &Server{votingService: votingService, cfg: cfg}
	srv.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      srv.NewRouter(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return srv
}

func (s *Server) NewRouter() *gin.Engine {
	router := gin.New()
	router.Use(requestLogger(), gin.RecoveryWithWriter(logrus.StandardLogger().Out))
	return s.addRouter(router)
}

func (s *Server) addRouter(router *gin.Engine) *gin.Engine {
	router.GET("/health", s.health)

	api := router.Group("/api")
	api.GET("/metrics", s.metrics)

	api.GET("/elections", s.listElections)
	api.GET("/elections/:id", s.getElection)
	api.GET("/elections/:id/candidates", s.listCandidates)
	api.GET("/elections/:id/keys", s.getKeyInfo)
	api.GET("/elections/:id/results", s.getResult)
	api.GET("/elections/:id/ledger", s.getLedger)
	api.GET("/elections/:id/ledger/audit", s.auditLedger)
	api.GET("/elections/:id/verify", s.verifyInclusion)
	api.GET("/elections/:id/audit-log", s.auditLog)
	api.GET("/elections/:id/stats", s.stats)
	api.GET("/elections/:id/timeline", s.timeline)

	api.POST("/sessions", s.startSession)
	api.GET("/sessions/:id", s.getSession)
	api.POST("/sessions/:id/violations", s.reportViolation)
	api.POST("/votes", s.castVote)

	api.GET("/receipts/:id", s.getReceipt)
	api.GET("/receipts/:id/verify", s.verifyReceipt)
	api.GET("/receipts/:id/proof", s.inclusionProof)

	admin := api.Group("", s.requireAdmin)
	admin.POST("/elections", s.createElection)
	admin.DELETE("/elections/:id", s.deleteElection)
	admin.POST("/elections/:id/status", s.transitionElection)
	admin.POST("/elections/:id/candidates", s.addCandidate)
	admin.POST("/elections/:id/voters", s.registerVoter)
	admin.GET("/voters/:id", s.getVoter)
	admin.POST("/elections/:id/keys", s.generateKeys)
	admin.POST("/elections/:id/decryption", s.enableDecryption)
	admin.POST("/elections/:id/results", s.publishResults)
	admin.POST("/elections/:id/ledger/export", s.exportLedger)
	admin.GET("/elections/:id/warnings", s.listWarnings)
	admin.POST("/elections/:id/warnings", s.addWarning)
	admin.POST("/elections/:id/warnings/:index/resolve", s.resolveWarning)
	admin.GET("/elections/:id/flagged-voters", s.flaggedVoters)
	return router
}

// requireAdmin maps the admin headers to a principal. The token is compared
// in constant time; an unset token disables admin access entirely.
func (s *Server) requireAdmin(c *gin.Context) {
	token := c.GetHeader("X-Admin-Token")
	id := c.GetHeader("X-Admin-ID")
	if s.cfg.AdminToken == "" || id == "" ||
		subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AdminToken)) != 1 {
		ResponseError(c, models.ErrUnauthorized, nil)
		return
	}
	c.Set(principalKey, models.Principal{ID: id, Admin: true})
	c.Next()
}

func principal(c *gin.Context) models.Principal {
	if p, ok := c.Get(principalKey); ok {
		return p.(models.Principal)
	}
	return models.Principal{}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := logger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("request")
		} else {
			entry.Debug("request")
		}
	}
}

func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) Start() {
	logger.WithField("addr", s.cfg.Addr).Info("listening http")
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("error in http server")
		}
	}()
}

func (s *Server) Stop() {
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("error while shutting down the http server")
	}
	logger.Info("http server stopped")
}
