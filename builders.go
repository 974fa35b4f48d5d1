package pathacl

// RulesBuilder builds a rule document fluently

type RulesBuilder struct {
	rules Rules
}

func NewRulesBuilder() *RulesBuilder {
	return &RulesBuilder{rules: Rules{}}
}

// Allow appends identity patterns to the given path prefix. Calling it with
// no patterns declares the prefix with an empty list ("no opinion").
func (b *RulesBuilder) Allow(path string, patterns ...string) *RulesBuilder {
	if _, ok := b.rules[path]; !ok {
		b.rules[path] = []string{}
	}
	b.rules[path] = append(b.rules[path], patterns...)
	return b
}

// Root is shorthand for Allow("/", patterns...).
func (b *RulesBuilder) Root(patterns ...string) *RulesBuilder {
	return b.Allow("/", patterns...)
}

// Merge folds another document into the one being built, appending pattern
// lists where prefixes collide.
func (b *RulesBuilder) Merge(other Rules) *RulesBuilder {
	for path, patterns := range other {
		b.Allow(path, patterns...)
	}
	return b
}

func (b *RulesBuilder) Build() Rules { return b.rules }
