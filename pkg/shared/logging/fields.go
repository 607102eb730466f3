// Package logging provides a small structured-fields builder on top of
// logrus, so every component logs the same vocabulary of keys.
package logging

import "time"

// Fields is a logrus.Fields-compatible map built up via chained setters.
type Fields map[string]interface{}

// NewFields returns an empty field set.
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

// Resource tags a resource type and, if non-empty, its name.
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

func (f Fields) ExecutionID(id string) Fields {
	f["execution_id"] = id
	return f
}

func (f Fields) Module(name, version string) Fields {
	f["module_name"] = name
	f["module_version"] = version
	return f
}

func (f Fields) Environment(env string) Fields {
	f["environment"] = env
	return f
}

func (f Fields) NodeID(id string) Fields {
	f["node_id"] = id
	return f
}

func (f Fields) Err(err error) Fields {
	if err != nil {
		f["error"] = err.Error()
	}
	return f
}
