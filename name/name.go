// Package name implements hierarchical named-data names: an ordered list of
// opaque components with marker-number conventions, URI encoding and a
// reversible mapping onto NATS subjects.
package name

import (
	"fmt"
	"strings"

	"github.com/c360/semchannels/errors"
)

// Scheme is the URI scheme accepted for channel names.
const Scheme = "ndn"

// Name is an immutable-by-convention list of components. Methods that extend
// a name always return a copy.
type Name []Component

// Parse parses a name from its URI form. A leading "ndn:" scheme is accepted
// and stripped; any other scheme is rejected.
func Parse(uri string) (Name, error) {
	path := uri
	if i := strings.Index(uri, ":"); i >= 0 && !strings.Contains(uri[:i], "/") {
		if scheme := uri[:i]; scheme != Scheme {
			return nil, errors.WrapFatal(
				fmt.Errorf("%w: %q", errors.ErrSchemeMismatch, scheme),
				"Name", "Parse", "check scheme")
		}
		path = uri[i+1:]
	}
	path = strings.TrimPrefix(path, "//")
	path = strings.Trim(path, "/")
	if path == "" {
		return Name{}, nil
	}

	parts := strings.Split(path, "/")
	n := make(Name, 0, len(parts))
	for _, part := range parts {
		c, err := parseComponent(part)
		if err != nil {
			return nil, err
		}
		n = append(n, c)
	}
	return n, nil
}

// ParseURI parses a channel URI and requires the "ndn" scheme to be present.
func ParseURI(uri string) (Name, error) {
	if !strings.HasPrefix(uri, Scheme+":") {
		return nil, errors.WrapFatal(
			fmt.Errorf("%w: %q must use the %s: scheme", errors.ErrSchemeMismatch, uri, Scheme),
			"Name", "ParseURI", "check scheme")
	}
	n, err := Parse(uri)
	if err != nil {
		return nil, err
	}
	if len(n) == 0 {
		return nil, errors.WrapFatal(
			fmt.Errorf("%w: %q has no components", errors.ErrMalformedName, uri),
			"Name", "ParseURI", "check components")
	}
	return n, nil
}

// MustParse is like Parse but panics on error. Intended for constants and tests.
func MustParse(uri string) Name {
	n, err := Parse(uri)
	if err != nil {
		panic(err)
	}
	return n
}

// Len returns the number of components.
func (n Name) Len() int {
	return len(n)
}

// Get returns component i; negative indexes count from the end.
func (n Name) Get(i int) Component {
	if i < 0 {
		i += len(n)
	}
	if i < 0 || i >= len(n) {
		return nil
	}
	return n[i]
}

// Prefix returns the first k components; negative k drops from the end.
func (n Name) Prefix(k int) Name {
	if k < 0 {
		k += len(n)
	}
	if k < 0 {
		k = 0
	}
	if k > len(n) {
		k = len(n)
	}
	out := make(Name, k)
	copy(out, n[:k])
	return out
}

// Append returns a copy of n extended with comps.
func (n Name) Append(comps ...Component) Name {
	out := make(Name, 0, len(n)+len(comps))
	out = append(out, n...)
	return append(out, comps...)
}

// AppendString appends generic string components.
func (n Name) AppendString(parts ...string) Name {
	comps := make([]Component, len(parts))
	for i, p := range parts {
		comps[i] = FromString(p)
	}
	return n.Append(comps...)
}

// AppendNumber appends a number-with-marker component.
func (n Name) AppendNumber(v uint64, marker byte) Name {
	return n.Append(FromNumberWithMarker(v, marker))
}

// IsPrefixOf reports whether every component of n matches the start of other.
func (n Name) IsPrefixOf(other Name) bool {
	if len(n) > len(other) {
		return false
	}
	for i, c := range n {
		if !c.Equal(other[i]) {
			return false
		}
	}
	return true
}

// Equal reports component-wise equality.
func (n Name) Equal(other Name) bool {
	return len(n) == len(other) && n.IsPrefixOf(other)
}

// Compare orders names canonically, component by component; a proper prefix
// sorts before the longer name.
func (n Name) Compare(other Name) int {
	for i := 0; i < len(n) && i < len(other); i++ {
		if c := n[i].Compare(other[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(n) < len(other):
		return -1
	case len(n) > len(other):
		return 1
	default:
		return 0
	}
}

// String returns the path form, e.g. "/a/b/%FD%01".
func (n Name) String() string {
	if len(n) == 0 {
		return "/"
	}
	var sb strings.Builder
	for _, c := range n {
		sb.WriteByte('/')
		sb.WriteString(c.String())
	}
	return sb.String()
}

// URI returns the name with the "ndn:" scheme.
func (n Name) URI() string {
	return Scheme + ":" + n.String()
}
