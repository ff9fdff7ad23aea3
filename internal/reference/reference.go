// Package reference generates order references handed to the payment gateway.
package reference

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const suffixLength = 10

// Generator produces references of the form PREFIX-<unix millis>-<random suffix>.
// Output only contains [A-Z0-9-] so it is safe in a URL query parameter.
type Generator struct {
	prefix string
	now    func() time.Time
}

// NewGenerator creates a reference generator. An empty prefix defaults to "TKT".
func NewGenerator(prefix string) *Generator {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		prefix = "TKT"
	}
	return &Generator{prefix: prefix, now: time.Now}
}

// Next returns a new reference
func (g *Generator) Next() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:suffixLength]
	return fmt.Sprintf("%s-%d-%s", g.prefix, g.now().UnixMilli(), suffix)
}
