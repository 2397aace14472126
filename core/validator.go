package core

import (
	"fmt"
	"regexp"
)

// Keyspace, table, column and index names follow CQL unquoted identifier rules.
var identifierPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,47}$`)

// ValidateIdentifier checks that name can be used as a keyspace, table,
// column or index name, and therefore as a directory name component.
func ValidateIdentifier(field, name string) error {
	if name == "" {
		return &ValidationError{Message: "cannot be empty", Field: field, Value: name}
	}
	if !identifierPattern.MatchString(name) {
		return &ValidationError{Message: fmt.Sprintf("does not match pattern '%s'", identifierPattern.String()), Field: field, Value: name}
	}
	return nil
}
