// Package logging provides a small structured-field builder over logrus so
// every component in the pipeline attaches consistent, greppable fields
// instead of ad-hoc key names.
package logging

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Fields is a chainable builder for structured log fields.
type Fields map[string]interface{}

// NewFields starts an empty field set.
func NewFields() Fields {
	return Fields{}
}

func (f Fields) Component(name string) Fields {
	f["component"] = name
	return f
}

func (f Fields) Operation(name string) Fields {
	f["operation"] = name
	return f
}

func (f Fields) Resource(resourceType, name string) Fields {
	f["resource_type"] = resourceType
	if name != "" {
		f["resource_name"] = name
	}
	return f
}

func (f Fields) Duration(d time.Duration) Fields {
	f["duration_ms"] = d.Milliseconds()
	return f
}

func (f Fields) Error(err error) Fields {
	if err != nil {
		f["error"] = err.Error()
	}
	return f
}

func (f Fields) UserID(id string) Fields {
	if id != "" {
		f["user_id"] = id
	}
	return f
}

func (f Fields) RequestID(id string) Fields {
	f["request_id"] = id
	return f
}

func (f Fields) TraceID(id string) Fields {
	f["trace_id"] = id
	return f
}

func (f Fields) StatusCode(code int) Fields {
	f["status_code"] = code
	return f
}

func (f Fields) Method(method string) Fields {
	f["method"] = method
	return f
}

func (f Fields) URL(url string) Fields {
	f["url"] = url
	return f
}

func (f Fields) Count(n int) Fields {
	f["count"] = n
	return f
}

func (f Fields) Size(bytes int64) Fields {
	f["size_bytes"] = bytes
	return f
}

func (f Fields) Version(v string) Fields {
	f["version"] = v
	return f
}

func (f Fields) Custom(key string, value interface{}) Fields {
	f[key] = value
	return f
}

// ToLogrus adapts Fields to logrus.Fields for use with logrus.WithFields.
func (f Fields) ToLogrus() logrus.Fields {
	lf := make(logrus.Fields, len(f))
	for k, v := range f {
		lf[k] = v
	}
	return lf
}

// DatabaseFields builds the standard field set for a persistence operation.
func DatabaseFields(operation, table string) Fields {
	return NewFields().Component("database").Operation(operation).Resource("table", table)
}

// HTTPFields builds the standard field set for an HTTP request/response.
func HTTPFields(method, url string, statusCode int) Fields {
	return NewFields().Component("http").Method(method).URL(url).StatusCode(statusCode)
}

// WorkflowFields builds the standard field set for a workflow task operation.
func WorkflowFields(operation, taskID string) Fields {
	return NewFields().Component("workflow").Operation(operation).Resource("workflow", taskID)
}

// ResourceFields builds the standard field set for an operation against a
// named, optionally namespaced resource (a chain, an email, a queue...).
func ResourceFields(operation, resourceType, resourceName, namespace string) Fields {
	f := NewFields().Component("pipeline").Operation(operation).Resource(resourceType, resourceName)
	if namespace != "" {
		f["namespace"] = namespace
	}
	return f
}

// AIFields builds the standard field set for a model-backed phase call.
func AIFields(operation, model string) Fields {
	return NewFields().Component("ai").Operation(operation).Custom("model", model)
}

// MetricsFields builds the standard field set for a metrics observation.
func MetricsFields(operation, metricName string, value float64) Fields {
	return NewFields().Component("metrics").Operation(operation).Custom("metric_name", metricName).Custom("value", value)
}

// SecurityFields builds the standard field set for an authn/authz event.
func SecurityFields(operation, subject string) Fields {
	return NewFields().Component("security").Operation(operation).Custom("subject", subject)
}

// PerformanceFields builds the standard field set for a timed operation outcome.
func PerformanceFields(operation string, duration time.Duration, success bool) Fields {
	return NewFields().Component("performance").Operation(operation).Duration(duration).Custom("success", success)
}
