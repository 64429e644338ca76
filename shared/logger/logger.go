// Copyright 2025 DocFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logger

import (
	"encoding/json"
	"log"
	"os"
	"time"
)

// LogLevel represents the severity of a log entry
type LogLevel string

const (
	DEBUG LogLevel = "DEBUG"
	INFO  LogLevel = "INFO"
	WARN  LogLevel = "WARN"
	ERROR LogLevel = "ERROR"
)

// Logger provides structured logging with per-operation correlation
type Logger struct {
	Component  string
	InstanceID string
	Host       string
}

// LogEntry is the JSON shape written for every log line. Operation IDs
// correlate all entries produced while routing a single request.
type LogEntry struct {
	Timestamp   string                 `json:"timestamp"`
	Level       LogLevel               `json:"level"`
	Component   string                 `json:"component"`
	InstanceID  string                 `json:"instance_id"`
	Host        string                 `json:"host"`
	OperationID string                 `json:"operation_id,omitempty"`
	Message     string                 `json:"message"`
	Fields      map[string]interface{} `json:"fields,omitempty"`
}

// New creates a new Logger for the specified component
func New(component string) *Logger {
	instanceID := os.Getenv("INSTANCE_ID")
	if instanceID == "" {
		instanceID = "unknown"
	}

	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}

	return &Logger{
		Component:  component,
		InstanceID: instanceID,
		Host:       host,
	}
}

// Log creates a structured log entry and writes it to stdout
func (l *Logger) Log(level LogLevel, operationID, message string, fields map[string]interface{}) {
	entry := LogEntry{
		Timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
		Level:       level,
		Component:   l.Component,
		InstanceID:  l.InstanceID,
		Host:        l.Host,
		OperationID: operationID,
		Message:     message,
		Fields:      fields,
	}

	jsonBytes, err := json.Marshal(entry)
	if err != nil {
		// Fallback to plain text if JSON marshaling fails
		log.Printf("ERROR: Failed to marshal log entry: %v", err)
		return
	}

	log.Println(string(jsonBytes))
}

// Info logs an informational message
func (l *Logger) Info(operationID, message string, fields map[string]interface{}) {
	l.Log(INFO, operationID, message, fields)
}

// Error logs an error message
func (l *Logger) Error(operationID, message string, fields map[string]interface{}) {
	l.Log(ERROR, operationID, message, fields)
}

// Warn logs a warning message
func (l *Logger) Warn(operationID, message string, fields map[string]interface{}) {
	l.Log(WARN, operationID, message, fields)
}

// Debug logs a debug message
func (l *Logger) Debug(operationID, message string, fields map[string]interface{}) {
	l.Log(DEBUG, operationID, message, fields)
}

// InfoWithDuration logs an info message with a duration_ms field attached
func (l *Logger) InfoWithDuration(operationID, message string, durationMS float64, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["duration_ms"] = durationMS
	l.Info(operationID, message, fields)
}

// ErrorWithErr logs an error message with the error string attached
func (l *Logger) ErrorWithErr(operationID, message string, err error, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	l.Error(operationID, message, fields)
}
