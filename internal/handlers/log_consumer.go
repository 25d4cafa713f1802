package handlers

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/levels"
	arbormodels "github.com/ternarybob/arbor/models"

	"github.com/ternarybob/indago/internal/common"
)

const (
	// Buffered log batches pending broadcast. Arbor drops batches when
	// the channel is full rather than blocking the logging call site.
	logChannelCapacity = 100
)

// LogConsumer drains log batches from the arbor channel and broadcasts
// matching entries to WebSocket clients. Register Channel() on the logger
// with SetChannel, then call Start.
type LogConsumer struct {
	handler         *WebSocketHandler
	logger          arbor.ILogger
	channel         chan []arbormodels.LogEvent
	minLevel        levels.LogLevel
	excludePatterns []string
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
}

// NewLogConsumer creates a log consumer broadcasting through the given hub.
// A nil config falls back to info level with the standard exclusions.
func NewLogConsumer(handler *WebSocketHandler, wsConfig *common.WebSocketConfig, logger arbor.ILogger) *LogConsumer {
	minLevel := levels.InfoLevel
	var excludePatterns []string

	if wsConfig != nil {
		minLevel = parseLogLevel(wsConfig.MinLevel)
		excludePatterns = wsConfig.ExcludePatterns
	}
	if len(excludePatterns) == 0 {
		excludePatterns = []string{
			"WebSocket client connected",
			"WebSocket client disconnected",
			"HTTP request",
			"HTTP response",
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &LogConsumer{
		handler:         handler,
		logger:          logger,
		channel:         make(chan []arbormodels.LogEvent, logChannelCapacity),
		minLevel:        minLevel,
		excludePatterns: excludePatterns,
		ctx:             ctx,
		cancel:          cancel,
	}
}

// Channel returns the channel for arbor to send log batches to.
func (c *LogConsumer) Channel() chan []arbormodels.LogEvent {
	return c.channel
}

// Start launches the consumer goroutine.
func (c *LogConsumer) Start() {
	c.wg.Add(1)
	go c.consume()
}

// Stop shuts the consumer down and waits for the goroutine to exit.
// Batches still queued on the channel are dropped.
func (c *LogConsumer) Stop() {
	c.cancel()
	c.wg.Wait()
	c.logger.Info().Msg("Log consumer stopped")
}

// consume processes log batches until Stop is called.
func (c *LogConsumer) consume() {
	defer c.wg.Done()

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("PANIC RECOVERED in log consumer")
		}
	}()

	for {
		select {
		case batch, ok := <-c.channel:
			if !ok {
				return
			}
			for _, event := range batch {
				c.broadcastEvent(event)
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// broadcastEvent applies the level and pattern filters, then hands the
// entry to the hub.
func (c *LogConsumer) broadcastEvent(event arbormodels.LogEvent) {
	level := levels.FromLogLevel(event.Level)
	if level < c.minLevel {
		return
	}
	for _, pattern := range c.excludePatterns {
		if strings.Contains(event.Message, pattern) {
			return
		}
	}

	c.handler.BroadcastLog(LogEntry{
		Timestamp: event.Timestamp.Format("15:04:05"),
		Level:     mapLevel(level),
		Message:   event.Message,
	})
}

// parseLogLevel converts a string log level to an arbor level.
func parseLogLevel(level string) levels.LogLevel {
	switch strings.ToLower(level) {
	case "error":
		return levels.ErrorLevel
	case "warn", "warning":
		return levels.WarnLevel
	case "info":
		return levels.InfoLevel
	case "debug":
		return levels.DebugLevel
	default:
		return levels.InfoLevel
	}
}

// mapLevel maps arbor log levels to client-facing strings.
func mapLevel(level levels.LogLevel) string {
	switch level {
	case levels.ErrorLevel:
		return "error"
	case levels.WarnLevel:
		return "warn"
	case levels.InfoLevel:
		return "info"
	case levels.DebugLevel:
		return "debug"
	default:
		return "info"
	}
}
