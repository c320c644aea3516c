package logging

import (
	"time"
)

func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

func Time(key string, value time.Time) Field {
	return Field{Key: key, Value: value.UTC().Format(time.RFC3339Nano)}
}

func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

func Any(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Domain fields

func Component(name string) Field {
	return String("component", name)
}

func Operation(op string) Field {
	return String("operation", op)
}

// SiloAddress takes the parsable form of a silo address.
func SiloAddress(addr string) Field {
	return String("silo_address", addr)
}

func ServiceID(id string) Field {
	return String("service_id", id)
}

func DeploymentID(id string) Field {
	return String("deployment_id", id)
}

func DocumentID(id string) Field {
	return String("document_id", id)
}

func GrainKey(key string) Field {
	return String("grain_key", key)
}

func ChangeToken(token string) Field {
	return String("change_token", token)
}

func TableVersion(version int64) Field {
	return Int64("table_version", version)
}

func Cutoff(t time.Time) Field {
	return Time("cutoff", t)
}

func Backend(name string) Field {
	return String("backend", name)
}

func Latency(d time.Duration) Field {
	return Duration("latency", d)
}

func Count(n int) Field {
	return Int("count", n)
}
