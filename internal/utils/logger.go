// internal/utils/logger.go
package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"adc-service/internal/config"
)

// LoggerManager manages application logging
type LoggerManager struct {
	logger *zap.Logger
	config *config.LoggingConfig
}

// NewLogger creates a new logger instance based on configuration
func NewLogger(cfg *config.LoggingConfig) (*zap.Logger, error) {
	manager := &LoggerManager{
		config: cfg,
	}

	logger, err := manager.createLogger()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	manager.logger = logger
	return logger, nil
}

// createLogger creates the zap logger with proper configuration
func (lm *LoggerManager) createLogger() (*zap.Logger, error) {
	// Create encoder configuration
	encoderConfig := lm.getEncoderConfig()

	// Create encoder
	var encoder zapcore.Encoder
	switch lm.config.Format {
	case "json":
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	case "console":
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	// Create write syncer
	writeSyncer, err := lm.getWriteSyncer()
	if err != nil {
		return nil, fmt.Errorf("failed to create write syncer: %w", err)
	}

	// Get log level
	level, err := lm.getLogLevel()
	if err != nil {
		return nil, fmt.Errorf("failed to parse log level: %w", err)
	}

	// Create core
	core := zapcore.NewCore(encoder, writeSyncer, level)

	// Create logger with options
	logger := zap.New(core, lm.getLoggerOptions()...)

	return logger, nil
}

// getEncoderConfig returns encoder configuration based on format
func (lm *LoggerManager) getEncoderConfig() zapcore.EncoderConfig {
	config := zap.NewProductionEncoderConfig()

	// Customize time format
	config.TimeKey = "timestamp"
	config.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)

	// Customize level format
	config.LevelKey = "level"
	config.EncodeLevel = zapcore.LowercaseLevelEncoder

	// Customize caller format
	config.CallerKey = "caller"
	config.EncodeCaller = zapcore.ShortCallerEncoder

	// Message key
	config.MessageKey = "message"

	// Stack trace key
	config.StacktraceKey = "stacktrace"

	// Console format customizations
	if lm.config.Format == "console" {
		config.EncodeLevel = zapcore.CapitalColorLevelEncoder
		config.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	}

	return config
}

// getWriteSyncer returns write syncer based on output configuration
func (lm *LoggerManager) getWriteSyncer() (zapcore.WriteSyncer, error) {
	switch lm.config.Output {
	case "stdout":
		return zapcore.AddSync(os.Stdout), nil
	case "stderr":
		return zapcore.AddSync(os.Stderr), nil
	default:
		// File output with rotation
		if lm.config.Output == "" {
			lm.config.Output = "./logs/adc-service.log"
		}

		// Ensure log directory exists
		logDir := filepath.Dir(lm.config.Output)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		// Create lumberjack logger for rotation
		lumber := &lumberjack.Logger{
			Filename:   lm.config.Output,
			MaxSize:    lm.config.MaxSize, // MB
			MaxBackups: lm.config.MaxBackups,
			MaxAge:     lm.config.MaxAge, // days
			Compress:   lm.config.Compress,
		}

		return zapcore.AddSync(lumber), nil
	}
}

// getLogLevel parses and returns log level
func (lm *LoggerManager) getLogLevel() (zapcore.Level, error) {
	switch lm.config.Level {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info":
		return zapcore.InfoLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	case "fatal":
		return zapcore.FatalLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("invalid log level: %s", lm.config.Level)
	}
}

// getLoggerOptions returns logger options
func (lm *LoggerManager) getLoggerOptions() []zap.Option {
	options := []zap.Option{
		zap.AddCaller(),
		zap.AddCallerSkip(1),
	}

	// Add stack trace for error level and above
	options = append(options, zap.AddStacktrace(zapcore.ErrorLevel))

	return options
}

// DeviceLogger wraps zap.Logger with instrument-specific functionality
type DeviceLogger struct {
	*zap.Logger
	deviceID  string
	model     string
	transport string
}

// NewDeviceLogger creates a device-specific logger
func NewDeviceLogger(baseLogger *zap.Logger, deviceID, model, transport string) *DeviceLogger {
	logger := baseLogger.With(
		zap.String("device_id", deviceID),
		zap.String("model", model),
		zap.String("transport", transport),
		zap.String("component", "device"),
	)

	return &DeviceLogger{
		Logger:    logger,
		deviceID:  deviceID,
		model:     model,
		transport: transport,
	}
}

// LogCommand logs one request/response exchange
func (dl *DeviceLogger) LogCommand(command string, duration time.Duration, err error) {
	fields := []zap.Field{
		zap.String("command", command),
		zap.Duration("duration", duration),
		zap.Bool("success", err == nil),
	}

	if err != nil {
		fields = append(fields, zap.Error(err))
		dl.Error("Device command failed", fields...)
	} else {
		dl.Debug("Device command completed", fields...)
	}
}

// LogConnection logs connection events
func (dl *DeviceLogger) LogConnection(action string, success bool, err error) {
	fields := []zap.Field{
		zap.String("action", action),
		zap.Bool("success", success),
	}

	if err != nil {
		fields = append(fields, zap.Error(err))
		dl.Error("Device connection event", fields...)
	} else {
		dl.Info("Device connection event", fields...)
	}
}

// LogAcquisition logs the outcome of a capture
func (dl *DeviceLogger) LogAcquisition(frames, requested int, duration time.Duration, err error) {
	fields := []zap.Field{
		zap.Int("frames", frames),
		zap.Int("requested_frames", requested),
		zap.Duration("duration", duration),
	}

	if err != nil {
		fields = append(fields, zap.Error(err))
		dl.Error("Acquisition failed", fields...)
	} else {
		dl.Info("Acquisition completed", fields...)
	}
}

// OperationLogger provides structured logging for operations
type OperationLogger struct {
	logger      *zap.Logger
	operationID string
	startTime   time.Time
}

// NewOperationLogger creates an operation-specific logger
func NewOperationLogger(baseLogger *zap.Logger, operationType, operationID string) *OperationLogger {
	logger := baseLogger.With(
		zap.String("operation_type", operationType),
		zap.String("operation_id", operationID),
		zap.String("component", "operation"),
	)

	return &OperationLogger{
		logger:      logger,
		operationID: operationID,
		startTime:   time.Now(),
	}
}

// Start logs operation start
func (ol *OperationLogger) Start(fields ...zap.Field) {
	allFields := append([]zap.Field{
		zap.Time("start_time", ol.startTime),
	}, fields...)

	ol.logger.Info("Operation started", allFields...)
}

// Success logs successful operation completion
func (ol *OperationLogger) Success(fields ...zap.Field) {
	duration := time.Since(ol.startTime)
	allFields := append([]zap.Field{
		zap.Duration("duration", duration),
		zap.Bool("success", true),
	}, fields...)

	ol.logger.Info("Operation completed successfully", allFields...)
}

// Error logs operation failure
func (ol *OperationLogger) Error(err error, fields ...zap.Field) {
	duration := time.Since(ol.startTime)
	allFields := append([]zap.Field{
		zap.Duration("duration", duration),
		zap.Bool("success", false),
		zap.Error(err),
	}, fields...)

	ol.logger.Error("Operation failed", allFields...)
}

// Progress logs operation progress
func (ol *OperationLogger) Progress(message string, progress float64, fields ...zap.Field) {
	allFields := append([]zap.Field{
		zap.Float64("progress", progress),
		zap.Duration("elapsed", time.Since(ol.startTime)),
	}, fields...)

	ol.logger.Info(message, allFields...)
}

// ServiceLogger provides service-level logging functionality
type ServiceLogger struct {
	*zap.Logger
	serviceName string
}

// NewServiceLogger creates a service-specific logger
func NewServiceLogger(baseLogger *zap.Logger, serviceName string) *ServiceLogger {
	logger := baseLogger.With(
		zap.String("service", serviceName),
		zap.String("component", "service"),
	)

	return &ServiceLogger{
		Logger:      logger,
		serviceName: serviceName,
	}
}

// LogServiceStart logs service startup
func (sl *ServiceLogger) LogServiceStart(version string, config interface{}) {
	sl.Info("Service starting",
		zap.String("version", version),
		zap.Any("config", config),
	)
}

// LogServiceStop logs service shutdown
func (sl *ServiceLogger) LogServiceStop(reason string) {
	sl.Info("Service stopping",
		zap.String("reason", reason),
	)
}

// LogAPIRequest logs HTTP API requests
func (sl *ServiceLogger) LogAPIRequest(requestID, method, path, clientIP string, statusCode int, duration time.Duration, size int) {
	level := zapcore.InfoLevel
	if statusCode >= 400 {
		level = zapcore.WarnLevel
	}
	if statusCode >= 500 {
		level = zapcore.ErrorLevel
	}

	if ce := sl.Check(level, "API request"); ce != nil {
		ce.Write(
			zap.String("request_id", requestID),
			zap.String("method", method),
			zap.String("path", path),
			zap.String("client_ip", clientIP),
			zap.Int("status_code", statusCode),
			zap.Duration("duration", duration),
			zap.Int("response_size", size),
		)
	}
}

// AuditLogger records changes made to instrument state
type AuditLogger struct {
	logger *zap.Logger
}

// NewAuditLogger creates an audit-specific logger
func NewAuditLogger(baseLogger *zap.Logger) *AuditLogger {
	logger := baseLogger.With(
		zap.String("component", "audit"),
	)

	return &AuditLogger{
		logger: logger,
	}
}

// LogDeviceConfiguration logs a configuration write to an instrument
func (al *AuditLogger) LogDeviceConfiguration(deviceID, requestID, action string, oldConfig, newConfig interface{}, err error) {
	fields := []zap.Field{
		zap.String("device_id", deviceID),
		zap.String("request_id", requestID),
		zap.String("action", action),
		zap.Any("old_config", oldConfig),
		zap.Any("new_config", newConfig),
		zap.Bool("success", err == nil),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	al.logger.Info("Device configuration changed", fields...)
}

// LogReboot logs a reboot request
func (al *AuditLogger) LogReboot(deviceID, requestID string, err error) {
	al.logger.Info("Device reboot requested",
		zap.String("device_id", deviceID),
		zap.String("request_id", requestID),
		zap.Bool("success", err == nil),
		zap.String("action", "reboot_device"),
	)
}

// CloseLogger flushes buffered entries
func CloseLogger(logger *zap.Logger) error {
	return logger.Sync()
}
