package main

import (
	"fmt"
	"strings"
)

// filterList is a repeatable flag holding path prefixes, one per use. Commas
// are kept since library paths often contain them.
type filterList []string

func (f *filterList) String() string {
	return strings.Join(*f, ";")
}

func (f *filterList) Set(value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("empty filter prefix")
	}
	*f = append(*f, value)
	return nil
}

func (f *filterList) Type() string {
	return "prefixes"
}
