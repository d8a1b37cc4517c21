package recovery

import (
	"errors"
	"strings"
)

// DefaultMarkers are message fragments that signal a broken signal-protocol session store.
var DefaultMarkers = []string{
	"unsupported state",
	"bad mac",
	"unable to authenticate data",
	"invalid mac",
	"no matching sessions",
}

// Class is the verdict for one fault.
type Class int

const (
	ClassTransient Class = iota
	ClassCorruption
)

func (c Class) String() string {
	if c == ClassCorruption {
		return "corruption"
	}
	return "transient"
}

// Classifier matches fault messages against markers, case-insensitively.
type Classifier struct {
	markers []string
}

// NewClassifier builds a classifier. Empty markers fall back to DefaultMarkers.
func NewClassifier(markers []string) *Classifier {
	out := make([]string, 0, len(markers))
	for _, m := range markers {
		m = strings.ToLower(strings.TrimSpace(m))
		if m != "" {
			out = append(out, m)
		}
	}
	if len(out) == 0 {
		return NewClassifier(DefaultMarkers)
	}
	return &Classifier{markers: out}
}


// Markers returns a copy of the active markers.
func (c *Classifier) Markers() []string {
	return append([]string(nil), c.markers...)
}

// Classify returns the class of err and, for corruption, the marker that matched.
// Errors already wrapping a fault keep their class; everything else is matched
// on its message.
func (c *Classifier) Classify(err error) (Class, string) {
	if err == nil {
		return ClassTransient, ""
	}
	var cf *CorruptionFault
	if errors.As(err, &cf) {
		return ClassCorruption, cf.Marker
	}
	var tf *TransientFault
	if errors.As(err, &tf) {
		return ClassTransient, ""
	}
	return c.ClassifyMessage(err.Error())
}

// ClassifyMessage classifies a raw fault message.
func (c *Classifier) ClassifyMessage(msg string) (Class, string) {
	msg = strings.ToLower(msg)
	for _, m := range c.markers {
		if strings.Contains(msg, m) {
			return ClassCorruption, m
		}
	}
	return ClassTransient, ""
}
