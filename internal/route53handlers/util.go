package route53handlers

import (
	"database/sql"
	"fmt"

	"github.com/libvirt-aws/libvirt-aws/internal/libvirtx"
)

// network returns the configured libvirt network's typed view.
func (e *Engine) network() (*libvirtx.Network, error) {
	xmlText, err := e.Conn.NetworkXML()
	if err != nil {
		return nil, fmt.Errorf("get network xml: %w", err)
	}
	return libvirtx.ParseNetwork(xmlText)
}

// str reads a scalar string argument, returning "" if absent or not a
// string.
func str(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// requireStr reads a required scalar argument, erroring if absent.
func requireStr(args map[string]any, key string) (string, error) {
	s := str(args, key)
	if s == "" {
		return "", fmt.Errorf("missing required parameter %s", key)
	}
	return s, nil
}

// nullStr reads the string value of a database-nullable column, treating
// NULL as "".
func nullStr(v sql.NullString) string {
	return v.String
}
