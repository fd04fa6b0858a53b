package config

import (
	"fmt"
	"reflect"
	"strings"
)

// sensitiveKeys are always masked by Redacted, whether or not they came from the
// secrets file.
var sensitiveKeys = map[string]bool{
	"aws.secret_access_key": true,
	"aws.session_token":     true,
	"lease.redis_url":       true,
}

// Validate checks the configuration with the same rules the loader applies.
func (c *Config) Validate() error {
	return (&ViperLoader{}).Validate(c)
}

// String returns the full configuration as a formatted string
func (c *Config) String() string {
	return formatStruct(reflect.ValueOf(c).Elem(), reflect.Value{}, "", "", false)
}

// Redacted returns the configuration with secrets masked. Values set in secrets, as
// returned by LoadWithSecrets, are masked along with the credential fields.
func (c *Config) Redacted(secrets *Config) string {
	mask := reflect.Value{}
	if secrets != nil {
		mask = reflect.ValueOf(secrets).Elem()
	}
	return formatStruct(reflect.ValueOf(c).Elem(), mask, "", "", true)
}

func formatStruct(v, mask reflect.Value, path, indent string, redact bool) string {
	var sb strings.Builder
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := t.Field(i)
		value := v.Field(i)
		if !value.CanInterface() {
			continue
		}

		name := field.Name
		if tag := field.Tag.Get("mapstructure"); tag != "" && tag != "-" {
			name = tag
		}
		key := name
		if path != "" {
			key = path + "." + name
		}

		var maskValue reflect.Value
		if mask.IsValid() {
			maskValue = mask.Field(i)
		}

		if value.Kind() == reflect.Struct {
			sb.WriteString(fmt.Sprintf("%s%s:\n", indent, name))
			sb.WriteString(formatStruct(value, maskValue, key, indent+"  ", redact))
			continue
		}

		display := value.Interface()
		if redact && (shouldRedact(maskValue) || (sensitiveKeys[key] && !value.IsZero())) {
			display = "***"
		}
		sb.WriteString(fmt.Sprintf("%s%s: %v\n", indent, name, display))
	}

	return sb.String()
}

func shouldRedact(v reflect.Value) bool {
	if !v.IsValid() {
		return false
	}
	switch v.Kind() {
	case reflect.String, reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.Bool:
		return !v.IsZero()
	case reflect.Slice, reflect.Map:
		return v.Len() > 0
	default:
		return false
	}
}
