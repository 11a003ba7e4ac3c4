package path

import (
	"regexp"
	"strings"
)

var elementPattern = regexp.MustCompile(`^[\w\-.,+~ ]+$`)

// Path is an immutable, normalized "root:/a/b" path.
type Path struct {
	root     string
	elements []string
	valid    bool
}

// Parse normalizes spec into a Path. It never fails; check IsValid.
func Parse(spec string) Path {
	idx := strings.Index(spec, ":")
	if idx < 0 {
		return Path{}
	}

	root := spec[:idx]
	if root == "" || !elementPattern.MatchString(root) {
		return Path{}
	}

	elements := make([]string, 0, strings.Count(spec, "/")+1)
	for _, segment := range strings.Split(spec[idx+1:], "/") {
		switch segment {
		case "", ".":
			continue
		case "..":
			if len(elements) > 0 {
				elements = elements[:len(elements)-1]
			}
			continue
		}
		elements = append(elements, segment)
	}

	// only segments that survive folding must be well formed
	for _, e := range elements {
		if !elementPattern.MatchString(e) {
			return Path{root: root}
		}
	}

	return Path{root: root, elements: elements, valid: true}
}

// Abs resolves spec against pwd. A valid absolute spec is returned unchanged.
// A spec starting with "/" is resolved against pwd's root; anything else is
// resolved against pwd itself, with a leading "./" stripped.
func Abs(pwd Path, spec string) Path {
	if p := Parse(spec); p.valid {
		return p
	}
	if strings.HasPrefix(spec, "/") {
		return Parse(pwd.root + ":" + spec)
	}
	spec = strings.TrimPrefix(spec, "./")
	return Parse(pwd.Spec() + "/" + spec)
}

// Root returns the mount name, the part of the spec before ':'.
func (p Path) Root() string {
	return p.root
}

// Elements returns a copy of the normalized elements.
func (p Path) Elements() []string {
	out := make([]string, len(p.elements))
	copy(out, p.elements)
	return out
}

// Len returns the number of elements.
func (p Path) Len() int {
	return len(p.elements)
}

func (p Path) IsValid() bool {
	return p.valid
}

// IsRoot reports whether p addresses the root of its filesystem.
func (p Path) IsRoot() bool {
	return p.valid && len(p.elements) == 0
}

// Spec renders the canonical "root:/e1/e2" form.
func (p Path) Spec() string {
	return p.root + ":/" + strings.Join(p.elements, "/")
}

func (p Path) String() string {
	return p.Spec()
}

// Combine resolves rel relative to p.
func (p Path) Combine(rel string) Path {
	return Parse(p.Spec() + "/" + rel)
}

// Parent returns the containing path, or false if p is already the root.
func (p Path) Parent() (Path, bool) {
	if len(p.elements) == 0 {
		return Path{}, false
	}
	return Path{
		root:     p.root,
		elements: p.Elements()[:len(p.elements)-1],
		valid:    p.valid,
	}, true
}

// BaseName returns the last element, or "" at the root.
func (p Path) BaseName() string {
	if len(p.elements) == 0 {
		return ""
	}
	return p.elements[len(p.elements)-1]
}

// Equal compares root, elements and validity.
func (p Path) Equal(other Path) bool {
	if p.root != other.root || p.valid != other.valid || len(p.elements) != len(other.elements) {
		return false
	}
	for i := range p.elements {
		if p.elements[i] != other.elements[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether prefix is p or one of its ancestors.
func (p Path) HasPrefix(prefix Path) bool {
	if p.root != prefix.root || len(prefix.elements) > len(p.elements) {
		return false
	}
	for i := range prefix.elements {
		if p.elements[i] != prefix.elements[i] {
			return false
		}
	}
	return true
}

// MarshalText renders the spec so a Path travels as a plain string.
func (p Path) MarshalText() ([]byte, error) {
	return []byte(p.Spec()), nil
}

// UnmarshalText parses a spec produced by MarshalText.
func (p *Path) UnmarshalText(text []byte) error {
	*p = Parse(string(text))
	return nil
}
