package oc

import (
	"github.com/sirupsen/logrus"
	"go.opencensus.io/trace"

	"github.com/efikit/memmap/internal/logfields"
)

var _ trace.Exporter = &LogrusExporter{}

// LogrusExporter is an OpenCensus trace.Exporter that exports spans to
// logrus output. Tools register it so operation spans land in the same
// stream as the manager's debug logs.
type LogrusExporter struct{}

func (e *LogrusExporter) ExportSpan(s *trace.SpanData) {
	entry := logrus.WithFields(logrus.Fields{
		logfields.TraceID:      s.TraceID.String(),
		logfields.SpanID:       s.SpanID.String(),
		logfields.ParentSpanID: s.ParentSpanID.String(),
		"startTime":            s.StartTime,
		"endTime":              s.EndTime,
		"duration":             s.EndTime.Sub(s.StartTime).String(),
	})
	for k, v := range s.Attributes {
		entry = entry.WithField(k, v)
	}

	level := logrus.InfoLevel
	if s.Status.Code != 0 {
		level = logrus.ErrorLevel
		entry = entry.WithField(logrus.ErrorKey, s.Status.Message)
	}
	entry.Log(level, s.Name)
}
