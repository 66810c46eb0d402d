package logger

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const requestIDHeader = "X-Request-Id"

// MiddlewareConfig tunes the request logging middleware.
type MiddlewareConfig struct {
	// GenID issues request ids. A node is created lazily when nil.
	GenID *snowflake.Node
	// SkipPaths are logged at debug level only (health probes and the like).
	SkipPaths []string
}

// GinMiddleware assigns a request id and emits one structured line per
// request with credential-bearing headers masked.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	node := cfg.GenID
	if node == nil {
		n, err := snowflake.NewNode(1)
		if err != nil {
			panic(err)
		}
		node = n
	}
	skip := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, path := range cfg.SkipPaths {
		skip[path] = struct{}{}
	}

	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = node.Generate().String()
		}
		c.Header(requestIDHeader, requestID)

		start := time.Now()
		c.Next()

		log := FromContext(c.Request.Context()).With(
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.Any("headers", MaskHeaders(c.Request.Header)),
		)
		if _, ok := skip[c.Request.URL.Path]; ok {
			log.Debug("http request")
			return
		}
		log.Info("http request")
	}
}
