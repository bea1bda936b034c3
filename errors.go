package mdns

import (
	"fmt"

	"github.com/miekg/dns"
)

// InvalidQueryTypeError is returned when StartQuery is asked to query for
// dns.TypeNSEC directly. NSEC records only ever arrive as a side effect of
// a positive query for something else; querying for them has no meaning.
type InvalidQueryTypeError struct {
	Name string
	Type uint16
}

func (e InvalidQueryTypeError) Error() string {
	return fmt.Sprintf("cannot query %s for type %s directly", e.Name, dns.Type(e.Type))
}
