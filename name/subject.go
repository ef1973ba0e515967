package name

import (
	"fmt"
	"strings"

	"github.com/c360/semchannels/errors"
)

// DefaultSubjectRoot is the NATS subject token every name is mapped under.
const DefaultSubjectRoot = "ndn"

// emptyToken stands in for a zero-length component; a lone '%' can never be
// produced by escaping so the mapping stays reversible.
const emptyToken = "%"

// Subject maps n onto a NATS subject below root. Bytes outside
// [A-Za-z0-9_-] are written as %XX so that '.', '*', '>' and whitespace
// never leak into the subject grammar.
func (n Name) Subject(root string) string {
	if root == "" {
		root = DefaultSubjectRoot
	}
	var sb strings.Builder
	sb.WriteString(root)
	for _, c := range n {
		sb.WriteByte('.')
		sb.WriteString(subjectToken(c))
	}
	return sb.String()
}

// ParseSubject is the inverse of Name.Subject.
func ParseSubject(root, subject string) (Name, error) {
	if root == "" {
		root = DefaultSubjectRoot
	}
	if subject == root {
		return Name{}, nil
	}
	if !strings.HasPrefix(subject, root+".") {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: subject %q is outside root %q", errors.ErrMalformedName, subject, root),
			"Name", "ParseSubject", "check root")
	}

	tokens := strings.Split(subject[len(root)+1:], ".")
	n := make(Name, 0, len(tokens))
	for _, tok := range tokens {
		if tok == emptyToken {
			n = append(n, Component{})
			continue
		}
		b, err := unescape(tok)
		if err != nil {
			return nil, err
		}
		n = append(n, Component(b))
	}
	return n, nil
}

func subjectToken(c Component) string {
	if len(c) == 0 {
		return emptyToken
	}
	var sb strings.Builder
	for _, b := range c {
		if isAlnum(b) || b == '_' || b == '-' {
			sb.WriteByte(b)
		} else {
			fmt.Fprintf(&sb, "%%%02X", b)
		}
	}
	return sb.String()
}
