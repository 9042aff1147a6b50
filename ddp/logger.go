package ddp

import (
	"os"

	"github.com/sirupsen/logrus"
)

// FieldLogger is the narrow slice of logrus.FieldLogger this package
// depends on, so callers can inject any structured logger (or logrus
// itself) without this package importing more than it uses.
type FieldLogger interface {
	WithField(key string, value interface{}) *logrus.Entry
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// defaultLogger returns a logrus logger writing to stderr, matching the
// teacher's preference for stderr-only diagnostic output in cmd/rivian-ls.
func defaultLogger() FieldLogger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	return l
}

// redact strips the values of params/fields/result keys from a log field
// payload while keeping the key names, per spec.md §4.3's isPrivate rule.
// It never mutates the input.
func redact(private bool, doc map[string]interface{}) map[string]interface{} {
	if !private || doc == nil {
		return doc
	}
	sensitive := map[string]bool{"params": true, "fields": true, "result": true}
	out := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		if sensitive[k] {
			switch t := v.(type) {
			case map[string]interface{}:
				keys := make([]string, 0, len(t))
				for fk := range t {
					keys = append(keys, fk)
				}
				out[k] = keys
			default:
				out[k] = "<redacted>"
			}
			continue
		}
		out[k] = v
	}
	return out
}
