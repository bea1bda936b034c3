package mdns

import (
	"expvar"
	"fmt"
)

// getVarInt returns an *expvar.Int with the given path, creating it on
// first use and reusing the same var on subsequent calls.
func getVarInt(base, id, name string) *expvar.Int {
	fullname := fmt.Sprintf("mdnsdisco.%s.%s.%s", base, id, name)
	if v := expvar.Get(fullname); v != nil {
		return v.(*expvar.Int)
	}
	return expvar.NewInt(fullname)
}

// getVarMap returns an *expvar.Map with the given path.
func getVarMap(base, id, name string) *expvar.Map {
	fullname := fmt.Sprintf("mdnsdisco.%s.%s.%s", base, id, name)
	if v := expvar.Get(fullname); v != nil {
		return v.(*expvar.Map)
	}
	return expvar.NewMap(fullname)
}

// getVarString returns an *expvar.String with the given path.
func getVarString(base, id, name string) *expvar.String {
	fullname := fmt.Sprintf("mdnsdisco.%s.%s.%s", base, id, name)
	if v := expvar.Get(fullname); v != nil {
		return v.(*expvar.String)
	}
	return expvar.NewString(fullname)
}
